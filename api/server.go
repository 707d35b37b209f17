package api

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"voting-ledger/logging"
	"voting-ledger/models"
	"voting-ledger/service"
)

const (
	defaultPageSize = 100
	maxPageSize     = 1000
)

// Services are the operations the HTTP surface exposes.
type Services struct {
	Elections   *service.ElectionService
	Voting      *service.VotingService
	Counting    *service.VoteCountingService
	Eligibility *service.EligibilityEngine
	Voters      *service.VoterRegistrationService
	Auditor     *service.Auditor
	Metrics     *service.MetricsCollector
}

type Config struct {
	Addr               string
	RateLimitPerMinute int
	MaxBodySizeBytes   int64
	// TrustedProxies are the peers whose X-Forwarded-For and X-Real-IP
	// headers name the client. Headers from anyone else are ignored.
	TrustedProxies []*net.IPNet
	// MetricsHandler serves /metrics when set.
	MetricsHandler http.Handler
}

type Server struct {
	*logging.Logging
	services Services
	metrics  *service.MetricsCollector
	config   Config
	router   *mux.Router
	http     *http.Server
}

func NewServer(services Services, config Config) *Server {
	s := &Server{
		Logging:  logging.NewModuleLogging("api"),
		services: services,
		metrics:  services.Metrics,
		config:   config,
	}
	s.router = s.routes()
	s.http = &http.Server{
		Addr:              config.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

func (s *Server) routes() *mux.Router {
	router := mux.NewRouter()

	router.Use(RequestIDMiddleware)
	router.Use(s.metricsMiddleware)
	if s.config.RateLimitPerMinute > 0 {
		router.Use(RateLimitMiddleware(NewIPRateLimiter(s.config.RateLimitPerMinute), s.config.TrustedProxies))
	}
	if s.config.MaxBodySizeBytes > 0 {
		router.Use(BodySizeLimitMiddleware(s.config.MaxBodySizeBytes))
	}

	api := router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	// Elections and candidates
	api.HandleFunc("/elections", s.handleListElections).Methods(http.MethodGet)
	api.HandleFunc("/elections", s.handleCreateElection).Methods(http.MethodPost)
	api.HandleFunc("/elections/{id}", s.handleGetElection).Methods(http.MethodGet)
	api.HandleFunc("/elections/{id}", s.handleUpdateElection).Methods(http.MethodPatch)
	api.HandleFunc("/elections/{id}/candidates", s.handleListCandidates).Methods(http.MethodGet)
	api.HandleFunc("/elections/{id}/candidates", s.handleCreateCandidate).Methods(http.MethodPost)
	api.HandleFunc("/elections/{id}/results", s.handleGetResults).Methods(http.MethodGet)

	// Votes and receipts
	api.HandleFunc("/votes", s.handleCastVote).Methods(http.MethodPost)
	api.HandleFunc("/votes/sync", s.handleSyncVotes).Methods(http.MethodPost)
	api.HandleFunc("/votes/requeue", s.handleRequeueVotes).Methods(http.MethodPost)
	api.HandleFunc("/receipts/{code}", s.handleVerifyReceipt).Methods(http.MethodGet)

	// Ledger and audit
	api.HandleFunc("/ledger/validate", s.handleValidateLedger).Methods(http.MethodGet)
	api.HandleFunc("/ledger/blocks", s.handleListBlocks).Methods(http.MethodGet)
	api.HandleFunc("/audit", s.handleListAudit).Methods(http.MethodGet)

	api.HandleFunc("/voters", s.handleRegisterVoter).Methods(http.MethodPost)

	if s.config.MetricsHandler != nil {
		router.Handle("/metrics", s.config.MetricsHandler).Methods(http.MethodGet)
	}

	return router
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Shutdown is called. It returns nil on a clean shutdown.
func (s *Server) Start() error {
	s.Log().Info().Str("addr", s.config.Addr).Msg("starting ledger http server")

	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "http server failed")
	}

	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ledger, err := s.services.Voting.ValidateLedger(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	status := "ok"
	if !ledger.Valid {
		status = "degraded"
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":        status,
		"ledger_height": ledger.Height,
		"time":          time.Now().UTC(),
	})
}

func (s *Server) handleListElections(w http.ResponseWriter, r *http.Request) {
	elections, err := s.services.Elections.ListElections(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"elections": elections})
}

func (s *Server) handleCreateElection(w http.ResponseWriter, r *http.Request) {
	var req service.CreateElectionRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	election, err := s.services.Elections.CreateElection(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, election)
}

func (s *Server) handleGetElection(w http.ResponseWriter, r *http.Request) {
	election, err := s.services.Elections.GetElection(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, election)
}

func (s *Server) handleUpdateElection(w http.ResponseWriter, r *http.Request) {
	var req service.UpdateElectionRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	election, err := s.services.Elections.UpdateElection(r.Context(), mux.Vars(r)["id"], req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, election)
}

func (s *Server) handleListCandidates(w http.ResponseWriter, r *http.Request) {
	candidates, err := s.services.Elections.GetCandidatesByElection(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"candidates": candidates})
}

func (s *Server) handleCreateCandidate(w http.ResponseWriter, r *http.Request) {
	var req service.CreateCandidateRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	req.ElectionID = mux.Vars(r)["id"]

	candidate, err := s.services.Elections.CreateCandidate(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, candidate)
}

// handleGetResults fills the turnout placeholder from the eligibility data
// and rounds percentages to two decimals for display.
func (s *Server) handleGetResults(w http.ResponseWriter, r *http.Request) {
	electionID := mux.Vars(r)["id"]

	result, err := s.services.Counting.ComputeResults(r.Context(), electionID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	eligible, err := s.services.Eligibility.CountEligible(r.Context(), electionID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	service.ApplyTurnout(result, eligible)

	for i := range result.Results {
		result.Results[i].Percentage = round2(result.Results[i].Percentage)
	}
	if result.TurnoutRate != nil {
		rate := round2(*result.TurnoutRate)
		result.TurnoutRate = &rate
	}

	writeJSON(w, http.StatusOK, result)
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

func (s *Server) handleCastVote(w http.ResponseWriter, r *http.Request) {
	var req service.CastVoteRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	result, err := s.services.Voting.CastVote(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	// The voter id stays out of the response body.
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"vote_id":         result.Vote.ID,
		"election_id":     result.Vote.ElectionID,
		"receipt_code":    result.ReceiptCode,
		"sync_status":     result.Vote.SyncStatus,
		"blockchain_hash": result.Vote.BlockchainHash,
		"cast_at":         result.Vote.CastAt,
	})
}

func (s *Server) handleSyncVotes(w http.ResponseWriter, r *http.Request) {
	synced, err := s.services.Voting.SyncOfflineVotes(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"synced": synced})
}

type requeueRequest struct {
	VoteIDs []string `json:"vote_ids"`
}

func (s *Server) handleRequeueVotes(w http.ResponseWriter, r *http.Request) {
	var req requeueRequest
	if r.ContentLength != 0 {
		if !decodeJSONBody(w, r, &req) {
			return
		}
	}

	requeued, err := s.services.Voting.RequeueFailedVotes(r.Context(), req.VoteIDs...)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"requeued": requeued})
}

func (s *Server) handleVerifyReceipt(w http.ResponseWriter, r *http.Request) {
	verification, err := s.services.Voting.VerifyReceipt(r.Context(), mux.Vars(r)["code"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, verification)
}

func (s *Server) handleValidateLedger(w http.ResponseWriter, r *http.Request) {
	status, err := s.services.Voting.ValidateLedger(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleListBlocks(w http.ResponseWriter, r *http.Request) {
	offset, limit, err := pagination(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	ledger := s.services.Voting.Ledger()
	blocks, err := ledger.Blocks(r.Context(), uint64(offset), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if blocks == nil {
		blocks = []*models.Block{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"height": ledger.Height(),
		"offset": offset,
		"blocks": blocks,
	})
}

func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	offset, limit, err := pagination(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	entries, err := s.services.Auditor.List(r.Context(), offset, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []*models.AuditLogEntry{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

func (s *Server) handleRegisterVoter(w http.ResponseWriter, r *http.Request) {
	var req service.RegisterVoterRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	voter, err := s.services.Voters.RegisterVoter(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, voter)
}

func pagination(r *http.Request) (int, int, error) {
	offset, limit := 0, defaultPageSize
	q := r.URL.Query()

	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return 0, 0, errors.Wrapf(models.ErrInvalidInput, "invalid offset %q", v)
		}
		offset = n
	}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return 0, 0, errors.Wrapf(models.ErrInvalidInput, "invalid limit %q", v)
		}
		limit = n
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	return offset, limit, nil
}
