package service

import (
	"context"
	"sync"
	"time"

	"voting-ledger/logging"
)

// Syncer is the reconciliation pass a SyncWorker drives.
type Syncer interface {
	SyncOfflineVotes(ctx context.Context) (int, error)
}

// SyncWorker runs offline-vote reconciliation on an interval and whenever
// Trigger is called, e.g. when connectivity returns. Passes never overlap.
type SyncWorker struct {
	*logging.Logging
	syncer     Syncer
	interval   time.Duration
	triggerCh  chan struct{}
	shutdownCh chan struct{}
	wg         sync.WaitGroup
	startOnce  sync.Once
	stopOnce   sync.Once
}

// NewSyncWorker creates a worker. A non-positive interval disables the
// ticker so passes only run on Trigger.
func NewSyncWorker(syncer Syncer, interval time.Duration) *SyncWorker {
	return &SyncWorker{
		Logging:    logging.NewModuleLogging("sync-worker"),
		syncer:     syncer,
		interval:   interval,
		triggerCh:  make(chan struct{}, 1),
		shutdownCh: make(chan struct{}),
	}
}

func (sw *SyncWorker) Start(ctx context.Context) {
	sw.startOnce.Do(func() {
		sw.wg.Add(1)
		go sw.run(ctx)
	})
}

// Trigger requests a pass without blocking. Requests made while one is
// already queued are merged.
func (sw *SyncWorker) Trigger() {
	select {
	case sw.triggerCh <- struct{}{}:
	default:
	}
}

// Stop waits for the running pass, if any, to finish.
func (sw *SyncWorker) Stop() {
	sw.stopOnce.Do(func() {
		close(sw.shutdownCh)
	})
	sw.wg.Wait()
}

func (sw *SyncWorker) run(ctx context.Context) {
	defer sw.wg.Done()

	var tick <-chan time.Time
	if sw.interval > 0 {
		ticker := time.NewTicker(sw.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-sw.shutdownCh:
			return
		case <-tick:
			sw.pass(ctx)
		case <-sw.triggerCh:
			sw.pass(ctx)
		}
	}
}

func (sw *SyncWorker) pass(ctx context.Context) {
	synced, err := sw.syncer.SyncOfflineVotes(ctx)
	if err != nil {
		sw.Log().Error().Err(err).Msg("reconciliation pass failed")
		return
	}

	if synced > 0 {
		sw.Log().Info().Int("synced", synced).Msg("reconciliation pass finished")
	}
}
