// Package main implements the palantir registry service. Workers register
// their address here, producers ask for the next target, and a health
// monitor evicts workers that stop answering their liveness probe.
//
// Architecture:
//
//	┌───────────────────────────────────────────┐
//	│                 Registry                  │
//	├───────────────────────────────────────────┤
//	│  HTTP API:                                │
//	│    POST /register    - join / re-address  │
//	│    POST /update      - periodic announce  │
//	│    POST /unregister  - leave              │
//	│    GET  /target      - next worker        │
//	│    GET  /services    - name -> address    │
//	│    GET  /health      - liveness           │
//	│    GET  /metrics     - Prometheus         │
//	├───────────────────────────────────────────┤
//	│  Components:                              │
//	│    coordinator.Registry      - table      │
//	│    coordinator.HealthMonitor - eviction   │
//	└───────────────────────────────────────────┘
//
// Every flag can also be set through a PALANTIR_<FLAG> environment variable:
//
//	PALANTIR_HEALTH_CHECK_SECONDS=30 ./registry --port 5000
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dreamware/palantir/internal/config"
	"github.com/dreamware/palantir/internal/coordinator"
	"github.com/dreamware/palantir/internal/logging"
)

func main() {
	if err := newCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "registry",
		Short:        "Keep track of available workers and hand them out round robin",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadRegistry(cmd.Flags())
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.LogLevel, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, logger)
		},
	}
	config.BindRegistryFlags(cmd.Flags())
	return cmd
}

// run serves the registry API until ctx is canceled.
func run(ctx context.Context, cfg config.Registry, logger *zap.SugaredLogger) error {
	logger.Infow("starting registry",
		"port", cfg.Port,
		"health_check_seconds", cfg.HealthCheckSeconds,
		"probe_timeout", cfg.ProbeTimeout,
		"eviction_threshold", cfg.EvictionThreshold,
		"probe_concurrency", cfg.ProbeConcurrency,
		"dispatch_path", cfg.DispatchPath,
	)

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := coordinator.NewMetrics(promRegistry)

	registry := coordinator.NewRegistry(
		coordinator.WithDispatchPath(cfg.DispatchPath),
		coordinator.WithMetrics(metrics),
		coordinator.WithLogger(logger.Named("registry")),
	)
	monitor := coordinator.NewHealthMonitor(registry, cfg.HealthCheckInterval(),
		coordinator.WithProbeTimeout(cfg.ProbeTimeout),
		coordinator.WithEvictionThreshold(cfg.EvictionThreshold),
		coordinator.WithProbeConcurrency(cfg.ProbeConcurrency),
		coordinator.WithMonitorLogger(logger.Named("health")),
		coordinator.WithMonitorMetrics(metrics),
	)

	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           coordinator.NewHandler(registry, monitor, promRegistry, logger.Named("http")),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infow("registry listening", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("listen: %w", err)
		}
		close(errCh)
	}()

	go monitor.Start(ctx)
	defer monitor.Stop()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warnw("server shutdown", "error", err)
	}
	logger.Info("registry stopped")
	return nil
}
