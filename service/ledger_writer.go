package service

import (
	"context"

	"voting-ledger/blockchain"
	"voting-ledger/models"
)

// LedgerWriter is the single in-process writer of the ledger. Appends for
// one election are serialized by an election-keyed lock shared by every
// service that writes events.
type LedgerWriter struct {
	ledger  *blockchain.Ledger
	metrics *MetricsCollector
	locks   *keyedMutex
}

func NewLedgerWriter(ledger *blockchain.Ledger, metrics *MetricsCollector) *LedgerWriter {
	return &LedgerWriter{
		ledger:  ledger,
		metrics: metrics,
		locks:   newKeyedMutex(),
	}
}

func (w *LedgerWriter) Ledger() *blockchain.Ledger {
	return w.ledger
}

func (w *LedgerWriter) lockElection(electionID string) func() {
	return w.locks.Lock("election:" + electionID)
}

// append must be called with the election lock held.
func (w *LedgerWriter) append(ctx context.Context, event models.Event) (*models.Block, error) {
	block, err := w.ledger.Append(ctx, event)
	w.metrics.RecordLedgerAppend(event.EventType(), w.ledger.Height(), err)

	return block, err
}

// appendForElection takes the election lock around a single append.
func (w *LedgerWriter) appendForElection(ctx context.Context, electionID string, event models.Event) (*models.Block, error) {
	unlock := w.lockElection(electionID)
	defer unlock()

	return w.append(ctx, event)
}
