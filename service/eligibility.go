package service

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"voting-ledger/logging"
	"voting-ledger/models"
	"voting-ledger/storage"
)

// EligibilityEngine decides which voters may vote in an election and owns
// the voter's eligible-election set.
type EligibilityEngine struct {
	*logging.Logging
	repo *storage.Repository
	now  func() time.Time
}

func NewEligibilityEngine(repo *storage.Repository) *EligibilityEngine {
	return &EligibilityEngine{
		Logging: logging.NewModuleLogging("eligibility"),
		repo:    repo,
		now:     time.Now,
	}
}

// voterIndex groups candidate voters by state, then lga. Only active and
// verified voters are indexed.
type voterIndex struct {
	all     []string
	byState map[string][]string
	byLGA   map[string]map[string][]string
}

func (e *EligibilityEngine) buildIndex(ctx context.Context) (*voterIndex, error) {
	idx := &voterIndex{
		byState: make(map[string][]string),
		byLGA:   make(map[string]map[string][]string),
	}

	err := e.repo.ScanVoters(ctx, func(v *models.Voter) (bool, error) {
		if !v.CanVote() {
			return true, nil
		}

		idx.all = append(idx.all, v.ID)
		idx.byState[v.State] = append(idx.byState[v.State], v.ID)
		if idx.byLGA[v.State] == nil {
			idx.byLGA[v.State] = make(map[string][]string)
		}
		idx.byLGA[v.State][v.LGA] = append(idx.byLGA[v.State][v.LGA], v.ID)

		return true, nil
	})
	if err != nil {
		return nil, err
	}

	return idx, nil
}

// lookup returns the voters matching scope. An empty state selects everyone;
// an lga narrows the state further.
func (idx *voterIndex) lookup(scope models.GeoScope) []string {
	switch {
	case scope.State == "":
		return idx.all
	case scope.LGA == "":
		return idx.byState[scope.State]
	default:
		return idx.byLGA[scope.State][scope.LGA]
	}
}

// AssignEligibleVoters grants the election to every active, verified voter
// in its scope. It returns the number of voters eligible after the call;
// running it again changes nothing.
func (e *EligibilityEngine) AssignEligibleVoters(ctx context.Context, election *models.Election) (int, error) {
	return e.UpdateVoterEligibility(ctx, election.ID, election.Type, election.Scope.State, election.Scope.LGA)
}

// UpdateVoterEligibility re-runs scope narrowing for an election, picking up
// voters registered since the last run.
func (e *EligibilityEngine) UpdateVoterEligibility(ctx context.Context, electionID string, electionType models.ElectionType, state, lga string) (int, error) {
	if electionID == "" {
		return 0, errors.Wrap(models.ErrInvalidInput, "election id is required")
	}

	scope := models.GeoScope{State: state, LGA: lga}
	if electionType == models.ElectionPresidential {
		scope = models.GeoScope{}
	}

	idx, err := e.buildIndex(ctx)
	if err != nil {
		return 0, err
	}

	matched := idx.lookup(scope)

	var granted int
	for _, voterID := range matched {
		changed := false
		_, err := e.repo.MutateVoter(ctx, voterID, func(v *models.Voter) (bool, error) {
			changed = v.GrantEligibility(electionID)
			if changed {
				v.UpdatedAt = e.now().UTC()
			}
			return changed, nil
		})
		if err != nil {
			return granted, errors.Wrapf(err, "failed to grant eligibility to voter %s", voterID)
		}

		if changed {
			granted++
		}
	}

	e.Log().Info().
		Str("election", electionID).
		Str("type", string(electionType)).
		Int("eligible", len(matched)).
		Int("granted", granted).
		Msg("updated voter eligibility")

	return len(matched), nil
}

// CountEligible counts voters carrying electionID in their eligible set.
func (e *EligibilityEngine) CountEligible(ctx context.Context, electionID string) (int, error) {
	var count int
	err := e.repo.ScanVoters(ctx, func(v *models.Voter) (bool, error) {
		if v.IsEligibleFor(electionID) {
			count++
		}
		return true, nil
	})

	return count, err
}
