package service

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"voting-ledger/logging"
	"voting-ledger/models"
	"voting-ledger/registry"
	"voting-ledger/storage"
)

const defaultMinimumAge = 18

type RegisterVoterRequest struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	DateOfBirth  *time.Time `json:"date_of_birth,omitempty"`
	State        string     `json:"state"`
	LGA          string     `json:"lga"`
	IsActive     bool       `json:"is_active"`
	IsVerified   bool       `json:"is_verified"`
	RegisteredBy string     `json:"registered_by"`
}

// VoterRegistrationService brings voters from the external roll into the
// store. Eligibility is granted later by the EligibilityEngine when an
// election is created or activated.
type VoterRegistrationService struct {
	*logging.Logging
	repo       *storage.Repository
	auditor    *Auditor
	minimumAge int
	now        func() time.Time
}

func NewVoterRegistrationService(repo *storage.Repository, auditor *Auditor) *VoterRegistrationService {
	return &VoterRegistrationService{
		Logging:    logging.NewModuleLogging("voters"),
		repo:       repo,
		auditor:    auditor,
		minimumAge: defaultMinimumAge,
		now:        time.Now,
	}
}

// RegisterVoter stores a new voter with an empty eligible set.
func (vrs *VoterRegistrationService) RegisterVoter(ctx context.Context, req RegisterVoterRequest) (*models.Voter, error) {
	voter, err := vrs.register(ctx, req)
	if err != nil {
		return nil, err
	}

	vrs.auditor.Record(ctx, req.RegisteredBy, ActionVoterRegistered,
		"registered voter %s (active=%t, verified=%t)", voter.ID, voter.IsActive, voter.IsVerified)

	return voter, nil
}

func (vrs *VoterRegistrationService) register(ctx context.Context, req RegisterVoterRequest) (*models.Voter, error) {
	if req.DateOfBirth != nil {
		if age := calculateAge(*req.DateOfBirth, vrs.now()); age < vrs.minimumAge {
			return nil, errors.Wrapf(models.ErrInvalidInput, "voter must be at least %d years old (current age: %d)", vrs.minimumAge, age)
		}
	}

	if req.LGA != "" && req.State == "" {
		return nil, errors.Wrap(models.ErrInvalidInput, "lga requires a state")
	}

	now := vrs.now().UTC()
	voter := &models.Voter{
		ID:                req.ID,
		Name:              req.Name,
		IsActive:          req.IsActive,
		IsVerified:        req.IsVerified,
		State:             req.State,
		LGA:               req.LGA,
		EligibleElections: []string{},
		VotingHistory:     map[string]models.VotingHistoryEntry{},
		RegisteredAt:      now,
		UpdatedAt:         now,
	}

	if err := voter.Validate(); err != nil {
		return nil, err
	}

	if err := vrs.repo.InsertVoter(ctx, voter); err != nil {
		if storage.IsDuplicate(err) {
			return nil, errors.Wrapf(models.ErrInvalidInput, "voter %s is already registered", voter.ID)
		}
		return nil, err
	}

	return voter, nil
}

// ImportResult summarises a roll import.
type ImportResult struct {
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
}

// ImportRoll registers every roll entry not yet in the store. Entries that
// are already registered or fail validation are skipped; a store failure
// stops the import.
func (vrs *VoterRegistrationService) ImportRoll(ctx context.Context, roll registry.VoterRegistry, importedBy string) (*ImportResult, error) {
	result := &ImportResult{}

	for _, details := range roll.Voters() {
		dob := details.DateOfBirth
		req := RegisterVoterRequest{
			ID:         details.ID,
			Name:       details.Name,
			State:      details.State,
			LGA:        details.LGA,
			IsActive:   details.IsActive,
			IsVerified: details.IsVerified,
		}
		if !dob.IsZero() {
			req.DateOfBirth = &dob
		}

		_, err := vrs.register(ctx, req)
		switch {
		case err == nil:
			result.Imported++
		case models.IsRejection(err):
			result.Skipped++
			vrs.Log().Debug().Err(err).Str("voter", details.ID).Msg("skipped roll entry")
		default:
			return result, errors.Wrapf(err, "import stopped at voter %s", details.ID)
		}
	}

	vrs.auditor.Record(ctx, importedBy, ActionVoterRegistered,
		"imported voter roll: %d registered, %d skipped", result.Imported, result.Skipped)

	return result, nil
}

func calculateAge(birthDate, now time.Time) int {
	age := now.Year() - birthDate.Year()

	if now.Month() < birthDate.Month() ||
		(now.Month() == birthDate.Month() && now.Day() < birthDate.Day()) {
		age--
	}
	return age
}
