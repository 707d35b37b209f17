package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/suite"

	"voting-ledger/blockchain"
	"voting-ledger/encryption"
	"voting-ledger/models"
	"voting-ledger/service"
	"voting-ledger/storage"
)

type testServer struct {
	suite.Suite
	ctx     context.Context
	repo    *storage.Repository
	server  *Server
	handler http.Handler
}

func (t *testServer) SetupTest() {
	t.ctx = context.Background()
	t.repo = storage.NewRepository(storage.NewMemLevelDBStore())

	ledger, err := blockchain.Open(t.ctx, t.repo)
	t.Require().NoError(err)
	crypto, err := encryption.NewEphemeralCryptoService()
	t.Require().NoError(err)

	reg := prometheus.NewRegistry()
	metrics := service.NewMetricsCollector(reg)
	auditor := service.NewAuditor(t.repo, metrics)
	writer := service.NewLedgerWriter(ledger, metrics)
	eligibility := service.NewEligibilityEngine(t.repo)

	t.server = NewServer(Services{
		Elections:   service.NewElectionService(t.repo, writer, eligibility, auditor),
		Voting:      service.NewVotingService(t.repo, writer, crypto, auditor, metrics),
		Counting:    service.NewVoteCountingService(t.repo, metrics),
		Eligibility: eligibility,
		Voters:      service.NewVoterRegistrationService(t.repo, auditor),
		Auditor:     auditor,
		Metrics:     metrics,
	}, Config{
		MaxBodySizeBytes: 4096,
		MetricsHandler:   promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	})
	t.handler = t.server.Handler()
}

func (t *testServer) TearDownTest() {
	_ = t.repo.Close()
}

func (t *testServer) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		t.Require().NoError(err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	t.handler.ServeHTTP(rec, req)

	return rec
}

func (t *testServer) decode(rec *httptest.ResponseRecorder, v interface{}) {
	t.Require().NoError(json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func (t *testServer) registerVoter(id string) {
	rec := t.do(http.MethodPost, "/api/voters", map[string]interface{}{
		"id":          id,
		"name":        "Voter " + id,
		"state":       "Lagos",
		"is_active":   true,
		"is_verified": true,
	})
	t.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())
}

// setupElection registers voters, then creates and activates an election
// with two candidates.
func (t *testServer) setupElection(voters ...string) (string, []string) {
	for _, id := range voters {
		t.registerVoter(id)
	}

	start := time.Now().Add(-time.Hour)
	rec := t.do(http.MethodPost, "/api/elections", map[string]interface{}{
		"title":      "General Election",
		"type":       "presidential",
		"start_date": start,
		"end_date":   start.Add(12 * time.Hour),
		"created_by": "admin",
	})
	t.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())

	var election models.Election
	t.decode(rec, &election)

	var candidates []string
	for _, name := range []string{"Ada", "Bola"} {
		rec := t.do(http.MethodPost, "/api/elections/"+election.ID+"/candidates", map[string]interface{}{
			"name":  name,
			"party": "Party " + name,
		})
		t.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())

		var c models.Candidate
		t.decode(rec, &c)
		candidates = append(candidates, c.ID)
	}

	rec = t.do(http.MethodPatch, "/api/elections/"+election.ID, map[string]interface{}{"status": "active"})
	t.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())

	return election.ID, candidates
}

func (t *testServer) TestHealth() {
	rec := t.do(http.MethodGet, "/api/health", nil)
	t.Equal(http.StatusOK, rec.Code)

	var body map[string]interface{}
	t.decode(rec, &body)
	t.Equal("ok", body["status"])
	t.NotEmpty(rec.Header().Get("X-Request-ID"))
}

func (t *testServer) TestRequestIDIsEchoed() {
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	t.handler.ServeHTTP(rec, req)

	t.Equal("req-42", rec.Header().Get("X-Request-ID"))
}

func (t *testServer) TestVoteLifecycle() {
	electionID, candidates := t.setupElection("v1", "v2", "v3")

	rec := t.do(http.MethodPost, "/api/votes", map[string]interface{}{
		"election_id":  electionID,
		"candidate_id": candidates[0],
		"voter_id":     "v1",
	})
	t.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())
	t.NotContains(rec.Body.String(), "v1")

	var cast map[string]interface{}
	t.decode(rec, &cast)
	receipt, _ := cast["receipt_code"].(string)
	t.NotEmpty(receipt)
	t.Equal("synced", cast["sync_status"])

	rec = t.do(http.MethodPost, "/api/votes", map[string]interface{}{
		"election_id":  electionID,
		"candidate_id": candidates[1],
		"voter_id":     "v1",
	})
	t.Equal(http.StatusConflict, rec.Code)

	rec = t.do(http.MethodPost, "/api/votes", map[string]interface{}{
		"election_id":  electionID,
		"candidate_id": candidates[1],
		"voter_id":     "v2",
		"is_offline":   true,
	})
	t.Require().Equal(http.StatusCreated, rec.Code)

	rec = t.do(http.MethodPost, "/api/votes/sync", nil)
	t.Require().Equal(http.StatusOK, rec.Code)
	var sync map[string]int
	t.decode(rec, &sync)
	t.Equal(1, sync["synced"])

	rec = t.do(http.MethodGet, "/api/receipts/"+receipt, nil)
	t.Require().Equal(http.StatusOK, rec.Code)
	var verification service.ReceiptVerification
	t.decode(rec, &verification)
	t.True(verification.Valid)
	t.Equal("Ada", verification.CandidateName)

	rec = t.do(http.MethodGet, "/api/elections/"+electionID+"/results", nil)
	t.Require().Equal(http.StatusOK, rec.Code)
	var result models.ElectionResult
	t.decode(rec, &result)
	t.Equal(2, result.TotalVotes)
	t.Require().NotNil(result.EligibleVoters)
	t.Equal(3, *result.EligibleVoters)
	t.Require().NotNil(result.TurnoutRate)
	t.Equal(66.67, *result.TurnoutRate)
	t.Equal(50.0, result.Results[0].Percentage)

	rec = t.do(http.MethodGet, "/api/ledger/validate", nil)
	t.Require().Equal(http.StatusOK, rec.Code)
	var status service.LedgerStatus
	t.decode(rec, &status)
	t.True(status.Valid)
	t.Equal(uint64(6), status.Height)
}

func (t *testServer) TestVoteRejectionsMapToStatusCodes() {
	electionID, candidates := t.setupElection("v1")

	rec := t.do(http.MethodPost, "/api/votes", map[string]interface{}{
		"election_id":  electionID,
		"candidate_id": candidates[0],
		"voter_id":     "ghost",
	})
	t.Equal(http.StatusNotFound, rec.Code)

	rec = t.do(http.MethodPost, "/api/votes", map[string]interface{}{
		"election_id":  "other",
		"candidate_id": candidates[0],
		"voter_id":     "v1",
	})
	t.Equal(http.StatusForbidden, rec.Code)

	rec = t.do(http.MethodPost, "/api/votes", map[string]interface{}{"election_id": electionID})
	t.Equal(http.StatusBadRequest, rec.Code)

	var body errorResponse
	t.decode(rec, &body)
	t.NotEmpty(body.Error)
	t.NotEmpty(body.RequestID)
}

func (t *testServer) TestUnknownReceiptIsInvalid() {
	rec := t.do(http.MethodGet, "/api/receipts/VR-NOPE", nil)
	t.Require().Equal(http.StatusOK, rec.Code)

	var verification service.ReceiptVerification
	t.decode(rec, &verification)
	t.False(verification.Valid)
}

func (t *testServer) TestElectionErrors() {
	rec := t.do(http.MethodGet, "/api/elections/missing", nil)
	t.Equal(http.StatusNotFound, rec.Code)

	electionID, _ := t.setupElection()
	rec = t.do(http.MethodPatch, "/api/elections/"+electionID, map[string]interface{}{"status": "draft"})
	t.Equal(http.StatusBadRequest, rec.Code)

	rec = t.do(http.MethodPost, "/api/elections", map[string]interface{}{"title": "x", "colour": "red"})
	t.Equal(http.StatusBadRequest, rec.Code)
}

func (t *testServer) TestListEndpoints() {
	electionID, _ := t.setupElection("v1")

	rec := t.do(http.MethodGet, "/api/elections", nil)
	t.Require().Equal(http.StatusOK, rec.Code)
	var elections struct {
		Elections []models.Election `json:"elections"`
	}
	t.decode(rec, &elections)
	t.Len(elections.Elections, 1)

	rec = t.do(http.MethodGet, "/api/elections/"+electionID+"/candidates", nil)
	t.Require().Equal(http.StatusOK, rec.Code)
	var candidates struct {
		Candidates []models.Candidate `json:"candidates"`
	}
	t.decode(rec, &candidates)
	t.Len(candidates.Candidates, 2)

	rec = t.do(http.MethodGet, "/api/ledger/blocks?offset=1&limit=2", nil)
	t.Require().Equal(http.StatusOK, rec.Code)
	var blocks struct {
		Height uint64            `json:"height"`
		Blocks []json.RawMessage `json:"blocks"`
	}
	t.decode(rec, &blocks)
	t.Equal(uint64(4), blocks.Height)
	t.Len(blocks.Blocks, 2)

	rec = t.do(http.MethodGet, "/api/ledger/blocks?limit=-1", nil)
	t.Equal(http.StatusBadRequest, rec.Code)

	rec = t.do(http.MethodGet, "/api/audit?limit=2", nil)
	t.Require().Equal(http.StatusOK, rec.Code)
	var audit struct {
		Entries []models.AuditLogEntry `json:"entries"`
	}
	t.decode(rec, &audit)
	t.Require().Len(audit.Entries, 2)

	rec = t.do(http.MethodGet, "/api/audit?offset=1&limit=1", nil)
	t.Require().Equal(http.StatusOK, rec.Code)
	var page struct {
		Entries []models.AuditLogEntry `json:"entries"`
	}
	t.decode(rec, &page)
	t.Require().Len(page.Entries, 1)
	t.Equal(audit.Entries[1].ID, page.Entries[0].ID)

	rec = t.do(http.MethodGet, "/api/audit?offset=-3", nil)
	t.Equal(http.StatusBadRequest, rec.Code)
}

func (t *testServer) TestRequeueWithoutBody() {
	rec := t.do(http.MethodPost, "/api/votes/requeue", nil)
	t.Require().Equal(http.StatusOK, rec.Code)

	var body map[string]int
	t.decode(rec, &body)
	t.Zero(body["requeued"])
}

func (t *testServer) TestBodySizeLimit() {
	rec := t.do(http.MethodPost, "/api/voters", map[string]interface{}{
		"id":   "big",
		"name": strings.Repeat("x", 8192),
	})
	t.Equal(http.StatusRequestEntityTooLarge, rec.Code)
}

func (t *testServer) TestMetricsEndpoint() {
	t.do(http.MethodGet, "/api/health", nil)

	rec := t.do(http.MethodGet, "/metrics", nil)
	t.Require().Equal(http.StatusOK, rec.Code)
	t.Contains(rec.Body.String(), `ledger_http_requests_total{method="GET",path="/api/health",status="2xx"} 1`)
}

func (t *testServer) TestRateLimit() {
	limited := NewServer(t.server.services, Config{RateLimitPerMinute: 3}).Handler()

	codes := make([]int, 0, 4)
	for i := 0; i < 4; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
		req.RemoteAddr = "198.51.100.7:4000"
		rec := httptest.NewRecorder()
		limited.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}

	t.Equal([]int{http.StatusOK, http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func (t *testServer) TestRateLimitIgnoresForwardedHeadersFromClients() {
	_, proxies, err := net.ParseCIDR("10.0.0.0/8")
	t.Require().NoError(err)
	limited := NewServer(t.server.services, Config{
		RateLimitPerMinute: 2,
		TrustedProxies:     []*net.IPNet{proxies},
	}).Handler()

	send := func(remote, forwardedFor string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
		req.RemoteAddr = remote
		req.Header.Set("X-Forwarded-For", forwardedFor)
		rec := httptest.NewRecorder()
		limited.ServeHTTP(rec, req)
		return rec.Code
	}

	// rotating the header does not buy a direct client a fresh bucket
	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		codes = append(codes, send("198.51.100.7:4000", fmt.Sprintf("203.0.113.%d", i+1)))
	}
	t.Equal([]int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	// behind the proxy each forwarded client has its own bucket
	for i := 0; i < 3; i++ {
		t.Equal(http.StatusOK, send("10.0.0.2:80", fmt.Sprintf("203.0.113.%d", i+1)))
	}
}

func TestServer(t *testing.T) {
	suite.Run(t, new(testServer))
}
