// Package main implements the palantir reference worker. It announces
// itself to the registry, answers liveness probes, and writes the capture
// files producers send to a spool directory, where a converter picks them up.
//
// Architecture:
//
//	┌──────────────────────────────────────────┐
//	│                  Worker                  │
//	├──────────────────────────────────────────┤
//	│  HTTP API:                               │
//	│    GET  /ping     - liveness probe       │
//	│    POST /convert  - receive a file       │
//	│    GET  /info     - spool contents       │
//	├──────────────────────────────────────────┤
//	│  Components:                             │
//	│    Node       - handlers + spool         │
//	│    announcer  - register / update loop   │
//	└──────────────────────────────────────────┘
//
// Example usage:
//
//	./worker --name w1 --port 7000 \
//	  --registry-service-ip registry --registry-service-port 5000 \
//	  --spool-dir /var/spool/palantir
//
// The worker does not unregister when it stops. The registry's health
// monitor evicts it at the next failed probe.
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

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dreamware/palantir/internal/cluster"
	"github.com/dreamware/palantir/internal/config"
	"github.com/dreamware/palantir/internal/logging"
	"github.com/dreamware/palantir/internal/storage"
)

func main() {
	if err := newCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "worker",
		Short:        "Receive capture files dispatched through the registry",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadWorker(cmd.Flags())
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
			return run(ctx, cfg, afero.NewOsFs(), logger)
		},
	}
	config.BindWorkerFlags(cmd.Flags())
	return cmd
}

// run serves the worker API and keeps the registration alive until ctx is
// canceled.
func run(ctx context.Context, cfg config.Worker, fs afero.Fs, logger *zap.SugaredLogger) error {
	spool, err := storage.NewSpool(fs, cfg.SpoolDir)
	if err != nil {
		return err
	}

	node := NewNode(cfg.Name, spool, logger.Named("node"))
	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           node.routes(cluster.DefaultDispatchPath),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infow("worker listening", "name", cfg.Name, "addr", httpSrv.Addr, "public", cfg.URL(), "spool", spool.Dir())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("listen: %w", err)
		}
		close(errCh)
	}()

	registry := cluster.NewClient(cfg.RegistryAddr(), nil)
	ann := newAnnouncer(registry, cfg.Name, cfg.URL(), cfg.UpdateInterval(), logger.Named("announcer"))
	go func() {
		if err := ann.run(ctx); err != nil && ctx.Err() == nil {
			logger.Errorw("announcer stopped", "error", err)
		}
	}()

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
	logger.Info("worker stopped")
	return nil
}
