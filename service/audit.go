package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"voting-ledger/logging"
	"voting-ledger/models"
	"voting-ledger/storage"
)

// Audit actions written by the services.
const (
	ActionElectionCreated   = "election_created"
	ActionElectionUpdated   = "election_updated"
	ActionCandidateAdded    = "candidate_added"
	ActionVoteCast          = "vote_cast"
	ActionVotesSynced       = "votes_synced"
	ActionVotesRequeued     = "votes_requeued"
	ActionVoterRegistered   = "voter_registered"
	ActionEligibilityUpdate = "eligibility_updated"
)

// Actors that stand in for a person. A cast vote is never attributed to its
// voter: the ledger is public and would link the voter to a candidate.
const (
	ActorSystem    = "system"
	ActorAnonymous = "anonymous"
)

// Auditor appends audit log entries. Recording never fails the caller: a
// store error is logged and counted, then dropped.
type Auditor struct {
	*logging.Logging
	repo    *storage.Repository
	metrics *MetricsCollector
	now     func() time.Time
}

func NewAuditor(repo *storage.Repository, metrics *MetricsCollector) *Auditor {
	return &Auditor{
		Logging: logging.NewModuleLogging("audit"),
		repo:    repo,
		metrics: metrics,
		now:     time.Now,
	}
}

// Record writes one entry. It uses a context detached from ctx's
// cancellation so an aborted request still leaves its trail.
func (a *Auditor) Record(ctx context.Context, actorID, action, format string, args ...interface{}) {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}

	entry := &models.AuditLogEntry{
		ID:        id.String(),
		ActorID:   actorID,
		Action:    action,
		Details:   fmt.Sprintf(format, args...),
		Timestamp: a.now().UTC(),
	}

	if err := a.repo.InsertAuditLog(context.WithoutCancel(ctx), entry); err != nil {
		a.metrics.RecordAuditFailure()
		a.Log().Error().Err(err).
			Str("action", action).
			Str("actor", actorID).
			Msg("failed to write audit log entry")
	}
}

func (a *Auditor) List(ctx context.Context, offset, limit int) ([]*models.AuditLogEntry, error) {
	return a.repo.ListAuditLogs(ctx, offset, limit)
}
