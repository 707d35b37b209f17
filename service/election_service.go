package service

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"voting-ledger/logging"
	"voting-ledger/models"
	"voting-ledger/storage"
)

type CreateElectionRequest struct {
	Title     string              `json:"title"`
	Type      models.ElectionType `json:"type"`
	Scope     models.GeoScope     `json:"scope"`
	StartDate time.Time           `json:"start_date"`
	EndDate   time.Time           `json:"end_date"`
	CreatedBy string              `json:"created_by"`
}

// UpdateElectionRequest carries the fields to change; nil fields are left
// as they are.
type UpdateElectionRequest struct {
	Title     *string                `json:"title,omitempty"`
	Status    *models.ElectionStatus `json:"status,omitempty"`
	StartDate *time.Time             `json:"start_date,omitempty"`
	EndDate   *time.Time             `json:"end_date,omitempty"`
	UpdatedBy string                 `json:"updated_by"`
}

type CreateCandidateRequest struct {
	ElectionID string `json:"election_id"`
	Name       string `json:"name"`
	Party      string `json:"party"`
	Biography  string `json:"biography,omitempty"`
	Manifesto  string `json:"manifesto,omitempty"`
	CreatedBy  string `json:"created_by"`
}

// ElectionService manages elections and their candidate lists. Every change
// is recorded on the ledger before it is stored.
type ElectionService struct {
	*logging.Logging
	repo        *storage.Repository
	writer      *LedgerWriter
	eligibility *EligibilityEngine
	auditor     *Auditor
	now         func() time.Time
}

func NewElectionService(
	repo *storage.Repository,
	writer *LedgerWriter,
	eligibility *EligibilityEngine,
	auditor *Auditor,
) *ElectionService {
	return &ElectionService{
		Logging:     logging.NewModuleLogging("elections"),
		repo:        repo,
		writer:      writer,
		eligibility: eligibility,
		auditor:     auditor,
		now:         time.Now,
	}
}

// CreateElection stores a draft election and assigns its eligible voters.
func (es *ElectionService) CreateElection(ctx context.Context, req CreateElectionRequest) (*models.Election, error) {
	now := es.now().UTC()
	election := &models.Election{
		ID:        uuid.New().String(),
		Title:     req.Title,
		Type:      req.Type,
		Scope:     req.Scope,
		Status:    models.ElectionDraft,
		StartDate: req.StartDate.UTC(),
		EndDate:   req.EndDate.UTC(),
		CreatedBy: req.CreatedBy,
		CreatedAt: now,
		UpdatedAt: now,
	}
	election.Scope = election.EffectiveScope()

	if err := election.Validate(); err != nil {
		return nil, err
	}

	unlock := es.writer.lockElection(election.ID)
	_, err := es.writer.append(ctx, models.ElectionCreatedEvent{
		ElectionID: election.ID,
		Title:      election.Title,
		Type:       election.Type,
		Scope:      election.Scope,
		StartDate:  election.StartDate.UnixMilli(),
		EndDate:    election.EndDate.UnixMilli(),
		CreatedBy:  election.CreatedBy,
	})
	if err == nil {
		err = es.repo.InsertElection(ctx, election)
	}
	unlock()

	if err != nil {
		return nil, errors.Wrap(err, "failed to create election")
	}

	eligible, err := es.eligibility.AssignEligibleVoters(ctx, election)
	if err != nil {
		return nil, errors.Wrapf(err, "election %s created but eligibility assignment failed", election.ID)
	}

	es.Log().Info().
		Str("election", election.ID).
		Str("type", string(election.Type)).
		Int("eligible", eligible).
		Msg("created election")

	es.auditor.Record(ctx, election.CreatedBy, ActionElectionCreated,
		"created %s election %s (%s), %d eligible voters", election.Type, election.ID, election.Title, eligible)

	return election, nil
}

// UpdateElection applies req to the election. Status changes follow
// models.CanTransition; activation re-runs eligibility to pick up voters
// registered after creation.
func (es *ElectionService) UpdateElection(ctx context.Context, id string, req UpdateElectionRequest) (*models.Election, error) {
	unlock := es.writer.lockElection(id)
	election, previous, err := es.applyUpdate(ctx, id, req)
	unlock()

	if err != nil {
		return nil, err
	}

	if previous != election.Status && election.Status == models.ElectionActive {
		scope := election.EffectiveScope()
		eligible, err := es.eligibility.UpdateVoterEligibility(ctx, election.ID, election.Type, scope.State, scope.LGA)
		if err != nil {
			return nil, errors.Wrapf(err, "election %s activated but eligibility update failed", election.ID)
		}

		es.auditor.Record(ctx, req.UpdatedBy, ActionEligibilityUpdate,
			"election %s activated with %d eligible voters", election.ID, eligible)
	}

	es.auditor.Record(ctx, req.UpdatedBy, ActionElectionUpdated,
		"updated election %s, status %s -> %s", election.ID, previous, election.Status)

	return election, nil
}

func (es *ElectionService) applyUpdate(ctx context.Context, id string, req UpdateElectionRequest) (*models.Election, models.ElectionStatus, error) {
	election, err := es.repo.GetElection(ctx, id)
	if err != nil {
		return nil, "", err
	}

	previous := election.Status

	if req.Title != nil {
		election.Title = *req.Title
	}
	if req.StartDate != nil {
		election.StartDate = req.StartDate.UTC()
	}
	if req.EndDate != nil {
		election.EndDate = req.EndDate.UTC()
	}
	if req.Status != nil && *req.Status != previous {
		if !models.CanTransition(previous, *req.Status) {
			return nil, "", errors.Wrapf(models.ErrInvalidTransition, "%s -> %s", previous, *req.Status)
		}
		election.Status = *req.Status
	}

	if err := election.Validate(); err != nil {
		return nil, "", err
	}
	election.UpdatedAt = es.now().UTC()

	if _, err := es.writer.append(ctx, models.ElectionUpdatedEvent{
		ElectionID:     election.ID,
		Title:          election.Title,
		PreviousStatus: previous,
		Status:         election.Status,
		UpdatedBy:      req.UpdatedBy,
	}); err != nil {
		return nil, "", errors.Wrap(err, "failed to record election update")
	}

	if err := es.repo.UpdateElection(ctx, election); err != nil {
		return nil, "", errors.Wrap(err, "failed to update election")
	}

	return election, previous, nil
}

func (es *ElectionService) GetElection(ctx context.Context, id string) (*models.Election, error) {
	return es.repo.GetElection(ctx, id)
}

// ListElections returns every election, newest first.
func (es *ElectionService) ListElections(ctx context.Context) ([]*models.Election, error) {
	elections, err := es.repo.ListElections(ctx)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(elections, func(i, j int) bool {
		return elections[i].CreatedAt.After(elections[j].CreatedAt)
	})

	return elections, nil
}

// CreateCandidate adds a candidate at the next ballot position. Candidates
// can only be added while the election is draft or active.
func (es *ElectionService) CreateCandidate(ctx context.Context, req CreateCandidateRequest) (*models.Candidate, error) {
	unlock := es.writer.lockElection(req.ElectionID)
	defer unlock()

	election, err := es.repo.GetElection(ctx, req.ElectionID)
	if err != nil {
		return nil, err
	}

	if election.Status != models.ElectionDraft && election.Status != models.ElectionActive {
		return nil, errors.Wrapf(models.ErrInvalidTransition, "election %s is %s", election.ID, election.Status)
	}

	existing, err := es.repo.ListCandidates(ctx, election.ID)
	if err != nil {
		return nil, err
	}

	candidate := &models.Candidate{
		ID:         uuid.New().String(),
		ElectionID: election.ID,
		Name:       req.Name,
		Party:      req.Party,
		Position:   len(existing) + 1,
		Biography:  req.Biography,
		Manifesto:  req.Manifesto,
		CreatedAt:  es.now().UTC(),
	}

	if err := candidate.Validate(); err != nil {
		return nil, err
	}

	if _, err := es.writer.append(ctx, models.CandidateAddedEvent{
		CandidateID: candidate.ID,
		ElectionID:  candidate.ElectionID,
		Name:        candidate.Name,
		Party:       candidate.Party,
		Position:    candidate.Position,
	}); err != nil {
		return nil, errors.Wrap(err, "failed to record candidate")
	}

	if err := es.repo.InsertCandidate(ctx, candidate); err != nil {
		return nil, errors.Wrap(err, "failed to create candidate")
	}

	es.auditor.Record(ctx, req.CreatedBy, ActionCandidateAdded,
		"added candidate %s (%s) to election %s at position %d", candidate.ID, candidate.Name, election.ID, candidate.Position)

	return candidate, nil
}

// GetCandidatesByElection returns the election's candidates in ballot order.
func (es *ElectionService) GetCandidatesByElection(ctx context.Context, electionID string) ([]*models.Candidate, error) {
	if _, err := es.repo.GetElection(ctx, electionID); err != nil {
		return nil, err
	}

	candidates, err := es.repo.ListCandidates(ctx, electionID)
	if err != nil {
		return nil, err
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Position < candidates[j].Position
	})

	return candidates, nil
}
