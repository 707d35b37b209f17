package service

import (
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"voting-ledger/models"
)

// MetricsCollector tracks vote intake, reconciliation and ledger activity.
type MetricsCollector struct {
	votesCast       *prometheus.CounterVec
	votesRejected   *prometheus.CounterVec
	votesSynced     prometheus.Counter
	syncFailures    prometheus.Counter
	pendingVotes    prometheus.Gauge
	ledgerAppends   *prometheus.CounterVec
	ledgerHeight    prometheus.Gauge
	castDuration    prometheus.Histogram
	countDuration   prometheus.Histogram
	auditFailures   prometheus.Counter
	httpRequests    *prometheus.CounterVec
	httpRequestTime *prometheus.HistogramVec
}

// NewMetricsCollector registers the collectors on reg. A nil reg leaves them
// unregistered, which is what tests want.
func NewMetricsCollector(reg prometheus.Registerer) *MetricsCollector {
	f := promauto.With(reg)

	return &MetricsCollector{
		votesCast: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_votes_cast_total",
			Help: "Total number of accepted votes",
		}, []string{"mode"}),
		votesRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_votes_rejected_total",
			Help: "Total number of rejected vote attempts",
		}, []string{"reason"}),
		votesSynced: f.NewCounter(prometheus.CounterOpts{
			Name: "ledger_votes_synced_total",
			Help: "Total number of offline votes reconciled into the ledger",
		}),
		syncFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "ledger_vote_sync_failures_total",
			Help: "Total number of offline votes marked failed",
		}),
		pendingVotes: f.NewGauge(prometheus.GaugeOpts{
			Name: "ledger_pending_votes",
			Help: "Pending votes seen by the last reconciliation pass",
		}),
		ledgerAppends: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_blocks_total",
			Help: "Total number of ledger append attempts",
		}, []string{"event_type", "status"}),
		ledgerHeight: f.NewGauge(prometheus.GaugeOpts{
			Name: "ledger_height",
			Help: "Current number of blocks in the ledger",
		}),
		castDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "ledger_vote_cast_duration_seconds",
			Help:    "Duration of vote casting",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 10),
		}),
		countDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "ledger_vote_counting_duration_seconds",
			Help:    "Duration of result computation",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 10),
		}),
		auditFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "ledger_audit_failures_total",
			Help: "Total number of audit log entries that could not be written",
		}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		httpRequestTime: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ledger_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
}

// RecordVoteCast records an accepted vote and how long casting took.
func (mc *MetricsCollector) RecordVoteCast(offline bool, d time.Duration) {
	mode := "online"
	if offline {
		mode = "offline"
	}
	mc.votesCast.WithLabelValues(mode).Inc()
	mc.castDuration.Observe(d.Seconds())
}

// RecordVoteRejected labels a failed cast by its error class.
func (mc *MetricsCollector) RecordVoteRejected(err error) {
	mc.votesRejected.WithLabelValues(rejectionReason(err)).Inc()
}

func (mc *MetricsCollector) RecordSyncPass(pending, synced, failed int) {
	mc.pendingVotes.Set(float64(pending))
	mc.votesSynced.Add(float64(synced))
	mc.syncFailures.Add(float64(failed))
}

func (mc *MetricsCollector) RecordLedgerAppend(eventType models.EventType, height uint64, err error) {
	status := "appended"
	if err != nil {
		status = "failed"
	}
	mc.ledgerAppends.WithLabelValues(string(eventType), status).Inc()
	mc.ledgerHeight.Set(float64(height))
}

func (mc *MetricsCollector) RecordCounting(d time.Duration) {
	mc.countDuration.Observe(d.Seconds())
}

func (mc *MetricsCollector) RecordAuditFailure() {
	mc.auditFailures.Inc()
}

// RecordHTTPRequest records one served request. path is the route template,
// never the raw URL.
func (mc *MetricsCollector) RecordHTTPRequest(method, path string, status int, d time.Duration) {
	mc.httpRequests.WithLabelValues(method, path, statusClass(status)).Inc()
	mc.httpRequestTime.WithLabelValues(method, path).Observe(d.Seconds())
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, models.ErrNotEligible):
		return "not_eligible"
	case errors.Is(err, models.ErrAlreadyVoted):
		return "already_voted"
	case errors.Is(err, models.ErrElectionNotActive):
		return "election_not_active"
	case errors.Is(err, models.ErrNotFound):
		return "not_found"
	case errors.Is(err, models.ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, models.ErrSignatureFailure):
		return "signature_failure"
	case errors.Is(err, models.ErrStoreUnavailable):
		return "store_unavailable"
	default:
		return "other"
	}
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
