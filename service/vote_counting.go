package service

import (
	"context"
	"sort"
	"time"

	"voting-ledger/logging"
	"voting-ledger/models"
	"voting-ledger/storage"
)

// VoteCountingService tallies stored vote records. The ledger is the audit
// trail, not the query path, so counting never reads blocks.
type VoteCountingService struct {
	*logging.Logging
	repo    *storage.Repository
	metrics *MetricsCollector
	now     func() time.Time
}

func NewVoteCountingService(repo *storage.Repository, metrics *MetricsCollector) *VoteCountingService {
	return &VoteCountingService{
		Logging: logging.NewModuleLogging("counting"),
		repo:    repo,
		metrics: metrics,
		now:     time.Now,
	}
}

// ComputeResults counts the election's votes per candidate. Every candidate
// on the ballot is listed, zero-vote ones included, ordered by vote count
// descending and then by ballot position. Votes for candidates not on the
// ballot are not counted.
func (vcs *VoteCountingService) ComputeResults(ctx context.Context, electionID string) (*models.ElectionResult, error) {
	started := vcs.now()

	if _, err := vcs.repo.GetElection(ctx, electionID); err != nil {
		return nil, err
	}

	candidates, err := vcs.repo.ListCandidates(ctx, electionID)
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int, len(candidates))
	for _, c := range candidates {
		counts[c.ID] = 0
	}

	var stray int
	if err := vcs.repo.ScanVotes(ctx, func(v *models.Vote) (bool, error) {
		if v.ElectionID != electionID {
			return true, nil
		}

		if _, ok := counts[v.CandidateID]; !ok {
			stray++
			return true, nil
		}
		counts[v.CandidateID]++

		return true, nil
	}); err != nil {
		return nil, err
	}

	if stray > 0 {
		vcs.Log().Warn().
			Str("election", electionID).
			Int("votes", stray).
			Msg("votes reference candidates outside the ballot")
	}

	var total int
	results := make([]models.CandidateResult, 0, len(candidates))
	for _, c := range candidates {
		total += counts[c.ID]
		results = append(results, models.CandidateResult{
			CandidateID: c.ID,
			Name:        c.Name,
			Party:       c.Party,
			Position:    c.Position,
			VoteCount:   counts[c.ID],
		})
	}

	for i := range results {
		if total > 0 {
			results[i].Percentage = float64(results[i].VoteCount) / float64(total) * 100
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].VoteCount != results[j].VoteCount {
			return results[i].VoteCount > results[j].VoteCount
		}
		return results[i].Position < results[j].Position
	})

	vcs.metrics.RecordCounting(vcs.now().Sub(started))

	return &models.ElectionResult{
		ElectionID:  electionID,
		Results:     results,
		TotalVotes:  total,
		LastUpdated: vcs.now().UTC(),
	}, nil
}

// ApplyTurnout fills the turnout fields of result from an eligible-voter
// count. A zero count leaves the rate unset.
func ApplyTurnout(result *models.ElectionResult, eligible int) {
	result.EligibleVoters = &eligible
	if eligible > 0 {
		rate := float64(result.TotalVotes) / float64(eligible) * 100
		result.TurnoutRate = &rate
	}
}
