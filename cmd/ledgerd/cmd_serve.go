package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"voting-ledger/api"
	"voting-ledger/service"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "serve the HTTP API and run offline vote reconciliation",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		trusted, err := cfg.TrustedNetworks()
		if err != nil {
			return err
		}

		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		server := api.NewServer(api.Services{
			Elections:   a.elections,
			Voting:      a.voting,
			Counting:    a.counting,
			Eligibility: a.eligibility,
			Voters:      a.voters,
			Auditor:     a.auditor,
			Metrics:     a.metrics,
		}, api.Config{
			Addr:               cfg.HTTPAddr,
			RateLimitPerMinute: cfg.RateLimitPerMinute,
			MaxBodySizeBytes:   cfg.MaxBodySizeBytes,
			TrustedProxies:     trusted,
			MetricsHandler:     promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}),
		})
		server.SetLogger(log)

		worker := service.NewSyncWorker(a.voting, cfg.SyncInterval)
		worker.SetLogger(log)

		g, gctx := errgroup.WithContext(ctx)

		g.Go(server.Start)

		g.Go(func() error {
			worker.Start(gctx)
			// reconcile whatever was left pending by the previous run
			worker.Trigger()
			<-gctx.Done()
			worker.Stop()
			return nil
		})

		g.Go(func() error {
			<-gctx.Done()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()

			log.Info().Msg("shutting down")
			return server.Shutdown(shutdownCtx)
		})

		return g.Wait()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
