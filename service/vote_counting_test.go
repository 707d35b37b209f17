package service

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/suite"

	"voting-ledger/models"
)

type testVoteCounting struct {
	baseServiceSuite
}

func (t *testVoteCounting) TestTally() {
	ids := t.registerVoters("v", 12, "Lagos")
	e, candidates := t.activeElection("Ada", "Bola", "Chidi")

	// Bola's votes come first so ordering is not insertion order
	plan := []int{1, 1, 1, 1, 1, 0, 0, 0, 0, 0, 2, 2}
	for i, id := range ids {
		t.cast(e.ID, candidates[plan[i]].ID, id, i%3 == 0)
	}

	result, err := t.counting.ComputeResults(t.ctx, e.ID)
	t.Require().NoError(err)
	t.Equal(12, result.TotalVotes)
	t.Require().Len(result.Results, 3)

	t.Equal("Ada", result.Results[0].Name)
	t.Equal("Bola", result.Results[1].Name)
	t.Equal("Chidi", result.Results[2].Name)

	t.Equal(5, result.Results[0].VoteCount)
	t.Equal(5, result.Results[1].VoteCount)
	t.Equal(2, result.Results[2].VoteCount)

	t.InDelta(41.67, result.Results[0].Percentage, 0.01)
	t.InDelta(41.67, result.Results[1].Percentage, 0.01)
	t.InDelta(16.67, result.Results[2].Percentage, 0.01)

	var sum float64
	for _, r := range result.Results {
		sum += r.Percentage
	}
	t.InDelta(100, sum, 1e-9)
}

func (t *testVoteCounting) TestPendingVotesAreCounted() {
	ids := t.registerVoters("v", 3, "Lagos")
	e, candidates := t.activeElection("Ada")
	for _, id := range ids {
		t.cast(e.ID, candidates[0].ID, id, true)
	}

	result, err := t.counting.ComputeResults(t.ctx, e.ID)
	t.Require().NoError(err)
	t.Equal(3, result.TotalVotes)
	t.Equal(100.0, result.Results[0].Percentage)
}

func (t *testVoteCounting) TestEmptyElection() {
	e, _ := t.activeElection("Ada", "Bola")

	result, err := t.counting.ComputeResults(t.ctx, e.ID)
	t.Require().NoError(err)
	t.Zero(result.TotalVotes)
	t.Require().Len(result.Results, 2)
	for i, r := range result.Results {
		t.Zero(r.VoteCount)
		t.Zero(r.Percentage)
		t.Equal(i+1, r.Position)
	}

	_, err = t.counting.ComputeResults(t.ctx, "missing")
	t.ErrorIs(err, models.ErrNotFound)
}

func (t *testVoteCounting) TestStrayVotesAreIgnored() {
	t.registerVoters("v", 1, "Lagos")
	e, candidates := t.activeElection("Ada")
	t.cast(e.ID, candidates[0].ID, "v-00", false)

	t.Require().NoError(t.repo.InsertVote(t.ctx, &models.Vote{
		ID:          "stray",
		ElectionID:  e.ID,
		CandidateID: "withdrawn",
		SyncStatus:  models.SyncPending,
	}))

	result, err := t.counting.ComputeResults(t.ctx, e.ID)
	t.Require().NoError(err)
	t.Equal(1, result.TotalVotes)
}

func (t *testVoteCounting) TestElectionsAreCountedSeparately() {
	ids := t.registerVoters("v", 4, "Lagos")
	first, firstCandidates := t.activeElection("Ada")
	second, secondCandidates := t.activeElection("Bola")

	for i, id := range ids {
		t.cast(first.ID, firstCandidates[0].ID, id, false)
		if i%2 == 0 {
			t.cast(second.ID, secondCandidates[0].ID, id, false)
		}
	}

	for _, c := range []struct {
		id   string
		want int
	}{{first.ID, 4}, {second.ID, 2}} {
		result, err := t.counting.ComputeResults(t.ctx, c.id)
		t.Require().NoError(err)
		t.Equal(c.want, result.TotalVotes, fmt.Sprintf("election %s", c.id))
	}
}

func (t *testVoteCounting) TestApplyTurnout() {
	result := &models.ElectionResult{TotalVotes: 3}
	ApplyTurnout(result, 12)
	t.Require().NotNil(result.EligibleVoters)
	t.Equal(12, *result.EligibleVoters)
	t.Require().NotNil(result.TurnoutRate)
	t.InDelta(25.0, *result.TurnoutRate, 1e-9)

	empty := &models.ElectionResult{}
	ApplyTurnout(empty, 0)
	t.Nil(empty.TurnoutRate)
}

func TestVoteCounting(t *testing.T) {
	suite.Run(t, new(testVoteCounting))
}
