package models

import (
	"time"

	"github.com/pkg/errors"
)

type ElectionType string

const (
	ElectionPresidential     ElectionType = "presidential"
	ElectionGubernatorial    ElectionType = "gubernatorial"
	ElectionNationalAssembly ElectionType = "national_assembly"
	ElectionStateAssembly    ElectionType = "state_assembly"
	ElectionLocalGovernment  ElectionType = "local_government"
)

func (t ElectionType) IsValid() bool {
	switch t {
	case ElectionPresidential, ElectionGubernatorial, ElectionNationalAssembly,
		ElectionStateAssembly, ElectionLocalGovernment:
		return true
	default:
		return false
	}
}

type ElectionStatus string

const (
	ElectionDraft     ElectionStatus = "draft"
	ElectionActive    ElectionStatus = "active"
	ElectionCompleted ElectionStatus = "completed"
	ElectionCancelled ElectionStatus = "cancelled"
)

func (s ElectionStatus) IsValid() bool {
	switch s {
	case ElectionDraft, ElectionActive, ElectionCompleted, ElectionCancelled:
		return true
	default:
		return false
	}
}

// CanTransition reports whether an election may move from one status to
// another. Statuses never move backwards.
func CanTransition(from, to ElectionStatus) bool {
	switch from {
	case ElectionDraft:
		return to == ElectionActive || to == ElectionCancelled
	case ElectionActive:
		return to == ElectionCompleted || to == ElectionCancelled
	default:
		return false
	}
}

// GeoScope narrows an election to a region. An empty State means nationwide.
type GeoScope struct {
	State        string `json:"state,omitempty"`
	LGA          string `json:"lga,omitempty"`
	Constituency string `json:"constituency,omitempty"`
}

type Election struct {
	ID        string         `json:"id"`
	Title     string         `json:"title"`
	Type      ElectionType   `json:"type"`
	Scope     GeoScope       `json:"scope"`
	Status    ElectionStatus `json:"status"`
	StartDate time.Time      `json:"start_date"`
	EndDate   time.Time      `json:"end_date"`
	CreatedBy string         `json:"created_by"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

func (e *Election) Validate() error {
	if err := requireField("title", e.Title, MaxNameLength); err != nil {
		return err
	}

	if !e.Type.IsValid() {
		return errors.Wrapf(ErrInvalidInput, "unknown election type %q", e.Type)
	}

	if !e.Status.IsValid() {
		return errors.Wrapf(ErrInvalidInput, "unknown election status %q", e.Status)
	}

	if e.StartDate.IsZero() || e.EndDate.IsZero() {
		return errors.Wrap(ErrInvalidInput, "start and end dates are required")
	}

	if !e.StartDate.Before(e.EndDate) {
		return errors.Wrap(ErrInvalidInput, "start date must be before end date")
	}

	if e.Type != ElectionPresidential && e.Scope.State == "" {
		return errors.Wrapf(ErrInvalidInput, "%s elections require a state", e.Type)
	}

	if e.Scope.LGA != "" && e.Scope.State == "" {
		return errors.Wrap(ErrInvalidInput, "lga requires a state")
	}

	for name, v := range map[string]string{
		"state":        e.Scope.State,
		"lga":          e.Scope.LGA,
		"constituency": e.Scope.Constituency,
	} {
		if err := optionalField(name, v, MaxRegionLength); err != nil {
			return err
		}
	}

	return optionalField("created_by", e.CreatedBy, MaxIDLength)
}

// EffectiveScope drops any geography on presidential elections, which always
// cover every voter.
func (e *Election) EffectiveScope() GeoScope {
	if e.Type == ElectionPresidential {
		return GeoScope{}
	}

	return e.Scope
}
