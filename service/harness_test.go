package service

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/suite"

	"voting-ledger/blockchain"
	"voting-ledger/encryption"
	"voting-ledger/models"
	"voting-ledger/storage"
)

// faultyStore fails inserts whose collection and value match a rule.
type faultyStore struct {
	storage.Store
	mu    sync.Mutex
	rules map[storage.Collection][]byte
}

var errInjected = errors.New("injected store failure")

func newFaultyStore(store storage.Store) *faultyStore {
	return &faultyStore{Store: store, rules: make(map[storage.Collection][]byte)}
}

// failInserts fails every insert into c whose value contains match. An
// empty match fails every insert into c.
func (s *faultyStore) failInserts(c storage.Collection, match string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rules[c] = []byte(match)
}

func (s *faultyStore) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rules = make(map[storage.Collection][]byte)
}

func (s *faultyStore) Insert(ctx context.Context, c storage.Collection, id string, value []byte) error {
	s.mu.Lock()
	match, ok := s.rules[c]
	s.mu.Unlock()

	if ok && bytes.Contains(value, match) {
		return errInjected
	}

	return s.Store.Insert(ctx, c, id, value)
}

type failingSigner struct {
	*encryption.CryptoService
}

func (failingSigner) Sign([]byte) ([]byte, error) {
	return nil, errors.New("hsm offline")
}

type baseServiceSuite struct {
	suite.Suite
	ctx         context.Context
	store       *faultyStore
	repo        *storage.Repository
	metrics     *MetricsCollector
	auditor     *Auditor
	writer      *LedgerWriter
	eligibility *EligibilityEngine
	elections   *ElectionService
	voting      *VotingService
	counting    *VoteCountingService
	voters      *VoterRegistrationService
	crypto      *encryption.CryptoService
}

func (t *baseServiceSuite) SetupTest() {
	t.ctx = context.Background()
	t.store = newFaultyStore(storage.NewMemLevelDBStore())
	t.repo = storage.NewRepository(t.store)
	t.metrics = NewMetricsCollector(nil)

	ledger, err := blockchain.Open(t.ctx, t.repo)
	t.Require().NoError(err)

	t.crypto, err = encryption.NewEphemeralCryptoService()
	t.Require().NoError(err)

	t.auditor = NewAuditor(t.repo, t.metrics)
	t.writer = NewLedgerWriter(ledger, t.metrics)
	t.eligibility = NewEligibilityEngine(t.repo)
	t.elections = NewElectionService(t.repo, t.writer, t.eligibility, t.auditor)
	t.voting = NewVotingService(t.repo, t.writer, t.crypto, t.auditor, t.metrics)
	t.counting = NewVoteCountingService(t.repo, t.metrics)
	t.voters = NewVoterRegistrationService(t.repo, t.auditor)
}

func (t *baseServiceSuite) TearDownTest() {
	_ = t.repo.Close()
}

func (t *baseServiceSuite) registerVoter(id, state, lga string, active, verified bool) *models.Voter {
	v, err := t.voters.RegisterVoter(t.ctx, RegisterVoterRequest{
		ID:         id,
		Name:       "Voter " + id,
		State:      state,
		LGA:        lga,
		IsActive:   active,
		IsVerified: verified,
	})
	t.Require().NoError(err)

	return v
}

func (t *baseServiceSuite) registerVoters(prefix string, n int, state string) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("%s-%02d", prefix, i)
		t.registerVoter(ids[i], state, "", true, true)
	}

	return ids
}

func (t *baseServiceSuite) createElection(typ models.ElectionType, scope models.GeoScope) *models.Election {
	start := time.Now().Add(-time.Hour)
	e, err := t.elections.CreateElection(t.ctx, CreateElectionRequest{
		Title:     "Election " + string(typ),
		Type:      typ,
		Scope:     scope,
		StartDate: start,
		EndDate:   start.Add(12 * time.Hour),
		CreatedBy: "admin",
	})
	t.Require().NoError(err)

	return e
}

func (t *baseServiceSuite) setStatus(electionID string, status models.ElectionStatus) *models.Election {
	e, err := t.elections.UpdateElection(t.ctx, electionID, UpdateElectionRequest{Status: &status, UpdatedBy: "admin"})
	t.Require().NoError(err)

	return e
}

func (t *baseServiceSuite) addCandidates(electionID string, names ...string) []*models.Candidate {
	candidates := make([]*models.Candidate, len(names))
	for i, name := range names {
		c, err := t.elections.CreateCandidate(t.ctx, CreateCandidateRequest{
			ElectionID: electionID,
			Name:       name,
			Party:      "Party " + name,
			CreatedBy:  "admin",
		})
		t.Require().NoError(err)
		candidates[i] = c
	}

	return candidates
}

// activeElection creates an active presidential election with the given
// candidates. Voters must be registered first.
func (t *baseServiceSuite) activeElection(names ...string) (*models.Election, []*models.Candidate) {
	e := t.createElection(models.ElectionPresidential, models.GeoScope{})
	candidates := t.addCandidates(e.ID, names...)
	e = t.setStatus(e.ID, models.ElectionActive)

	return e, candidates
}

func (t *baseServiceSuite) cast(electionID, candidateID, voterID string, offline bool) *CastVoteResult {
	r, err := t.voting.CastVote(t.ctx, CastVoteRequest{
		ElectionID:  electionID,
		CandidateID: candidateID,
		VoterID:     voterID,
		IsOffline:   offline,
	})
	t.Require().NoError(err)

	return r
}
