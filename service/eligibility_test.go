package service

import (
	"testing"

	"github.com/stretchr/testify/suite"

	"voting-ledger/models"
)

type testEligibility struct {
	baseServiceSuite
}

func (t *testEligibility) TestPresidentialCoversActiveVerifiedVoters() {
	t.registerVoters("ok", 10, "Lagos")
	t.registerVoter("inactive", "Lagos", "", false, true)
	t.registerVoter("unverified", "Kano", "", true, false)

	e := t.createElection(models.ElectionPresidential, models.GeoScope{})

	eligible, err := t.eligibility.CountEligible(t.ctx, e.ID)
	t.Require().NoError(err)
	t.Equal(10, eligible)

	again, err := t.eligibility.AssignEligibleVoters(t.ctx, e)
	t.Require().NoError(err)
	t.Equal(10, again)

	v, err := t.repo.GetVoter(t.ctx, "ok-03")
	t.Require().NoError(err)
	t.Equal([]string{e.ID}, v.EligibleElections)
	t.False(v.HasVoted(e.ID))

	v, err = t.repo.GetVoter(t.ctx, "inactive")
	t.Require().NoError(err)
	t.False(v.IsEligibleFor(e.ID))
}

func (t *testEligibility) TestScopeNarrowing() {
	t.registerVoter("ikeja-1", "Lagos", "Ikeja", true, true)
	t.registerVoter("ikeja-2", "Lagos", "Ikeja", true, true)
	t.registerVoter("epe-1", "Lagos", "Epe", true, true)
	t.registerVoter("kano-1", "Kano", "Nassarawa", true, true)

	state := t.createElection(models.ElectionGubernatorial, models.GeoScope{State: "Lagos"})
	local := t.createElection(models.ElectionLocalGovernment, models.GeoScope{State: "Lagos", LGA: "Ikeja"})
	empty := t.createElection(models.ElectionStateAssembly, models.GeoScope{State: "Ogun"})

	for _, c := range []struct {
		election *models.Election
		want     int
	}{
		{state, 3},
		{local, 2},
		{empty, 0},
	} {
		n, err := t.eligibility.CountEligible(t.ctx, c.election.ID)
		t.Require().NoError(err)
		t.Equal(c.want, n, c.election.Type)
	}

	kano, err := t.repo.GetVoter(t.ctx, "kano-1")
	t.Require().NoError(err)
	t.Empty(kano.EligibleElections)
}

func (t *testEligibility) TestUpdateIgnoresScopeForPresidential() {
	t.registerVoter("a", "Lagos", "", true, true)
	t.registerVoter("b", "Kano", "", true, true)

	n, err := t.eligibility.UpdateVoterEligibility(t.ctx, "e-pres", models.ElectionPresidential, "Lagos", "")
	t.Require().NoError(err)
	t.Equal(2, n)

	_, err = t.eligibility.UpdateVoterEligibility(t.ctx, "", models.ElectionPresidential, "", "")
	t.ErrorIs(err, models.ErrInvalidInput)
}

func (t *testEligibility) TestActivationPicksUpLateRegistrations() {
	t.registerVoter("early", "Lagos", "", true, true)
	e := t.createElection(models.ElectionGubernatorial, models.GeoScope{State: "Lagos"})

	t.registerVoter("late", "Lagos", "", true, true)
	late, err := t.repo.GetVoter(t.ctx, "late")
	t.Require().NoError(err)
	t.False(late.IsEligibleFor(e.ID))

	t.setStatus(e.ID, models.ElectionActive)

	late, err = t.repo.GetVoter(t.ctx, "late")
	t.Require().NoError(err)
	t.True(late.IsEligibleFor(e.ID))
}

func (t *testEligibility) TestReassignKeepsVotingHistory() {
	t.registerVoters("v", 2, "Lagos")
	e, candidates := t.activeElection("Ada")
	t.cast(e.ID, candidates[0].ID, "v-00", false)

	_, err := t.eligibility.AssignEligibleVoters(t.ctx, e)
	t.Require().NoError(err)

	v, err := t.repo.GetVoter(t.ctx, "v-00")
	t.Require().NoError(err)
	t.True(v.HasVoted(e.ID))
	t.Len(v.EligibleElections, 1)
}

func TestEligibility(t *testing.T) {
	suite.Run(t, new(testEligibility))
}
