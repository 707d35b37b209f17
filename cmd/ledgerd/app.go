package main

import (
	"context"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"voting-ledger/blockchain"
	"voting-ledger/config"
	"voting-ledger/encryption"
	"voting-ledger/service"
	"voting-ledger/storage"
)

// app is the wired set of components every command works with.
type app struct {
	repo        *storage.Repository
	ledger      *blockchain.Ledger
	registry    *prometheus.Registry
	metrics     *service.MetricsCollector
	auditor     *service.Auditor
	eligibility *service.EligibilityEngine
	elections   *service.ElectionService
	voting      *service.VotingService
	counting    *service.VoteCountingService
	voters      *service.VoterRegistrationService
}

func openStore(cfg *config.Config) (storage.Store, error) {
	switch cfg.Store {
	case config.StoreJSON:
		return storage.NewJSONStore(cfg.StorePath())
	default:
		return storage.OpenLevelDBStore(cfg.StorePath())
	}
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	store, err := openStore(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open store")
	}
	repo := storage.NewRepository(store)

	ledger, err := blockchain.Open(ctx, repo)
	if err != nil {
		_ = repo.Close()
		return nil, err
	}
	ledger.SetLogger(log)

	key, err := encryption.LoadOrGenerateKey(cfg.KeyPath())
	if err != nil {
		_ = repo.Close()
		return nil, err
	}
	crypto := encryption.NewCryptoService(key)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := service.NewMetricsCollector(registry)

	auditor := service.NewAuditor(repo, metrics)
	writer := service.NewLedgerWriter(ledger, metrics)
	eligibility := service.NewEligibilityEngine(repo)

	a := &app{
		repo:        repo,
		ledger:      ledger,
		registry:    registry,
		metrics:     metrics,
		auditor:     auditor,
		eligibility: eligibility,
		elections:   service.NewElectionService(repo, writer, eligibility, auditor),
		voting:      service.NewVotingService(repo, writer, crypto, auditor, metrics),
		counting:    service.NewVoteCountingService(repo, metrics),
		voters:      service.NewVoterRegistrationService(repo, auditor),
	}

	a.auditor.SetLogger(log)
	a.eligibility.SetLogger(log)
	a.elections.SetLogger(log)
	a.voting.SetLogger(log)
	a.counting.SetLogger(log)
	a.voters.SetLogger(log)

	log.Info().
		Str("store", cfg.Store).
		Str("path", cfg.StorePath()).
		Uint64("height", ledger.Height()).
		Str("signer", crypto.Address()).
		Msg("ledger opened")

	return a, nil
}

func (a *app) Close() error {
	return a.repo.Close()
}
