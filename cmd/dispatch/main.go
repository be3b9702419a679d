// Package main implements the palantir producer side: it sends one capture
// file to whichever worker the registry hands out, and keeps searching for
// another worker until one acknowledges the file.
//
// Example usage:
//
//	./dispatch --registry-service-ip registry --registry-service-port 5000 \
//	  --file /data/nfcapd.202410151200
//
// With the default --max-attempts 0 the command only returns once the file
// was delivered or it receives SIGINT/SIGTERM.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dreamware/palantir/internal/cluster"
	"github.com/dreamware/palantir/internal/config"
	"github.com/dreamware/palantir/internal/dispatch"
	"github.com/dreamware/palantir/internal/logging"
)

func main() {
	if err := newCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "dispatch",
		Short:        "Send a capture file to an available worker",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadDispatch(cmd.Flags())
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

			receipt, err := run(ctx, cfg, afero.NewOsFs(), logger)
			if err != nil {
				logger.Errorw("dispatch failed", "error", err)
				return err
			}
			cmd.Printf("%s delivered to %s after %d attempt(s)\n", cfg.File, receipt.Target.Name, receipt.Attempts)
			return nil
		},
	}
	config.BindDispatchFlags(cmd.Flags())
	return cmd
}

// run loads the payload and drives the search-and-send loop.
func run(ctx context.Context, cfg config.Dispatch, fs afero.Fs, logger *zap.SugaredLogger) (dispatch.Receipt, error) {
	payload, err := dispatch.LoadPayload(fs, cfg.File, cfg.Filename)
	if err != nil {
		return dispatch.Receipt{}, err
	}

	registry := cluster.NewClient(cfg.RegistryAddr(), nil)
	client := dispatch.New(registry,
		dispatch.WithRetryPolicy(dispatch.RetryPolicy{Interval: cfg.RetryInterval, MaxAttempts: cfg.MaxAttempts}),
		dispatch.WithLogger(logger.Named("dispatch")),
		dispatch.WithObserver(func(s dispatch.State) {
			logger.Debugw("state", "state", s.String())
		}),
	)

	logger.Infow("dispatching file", "file", cfg.File, "filename", payload.Filename, "bytes", len(payload.Body), "registry", registry.BaseURL())
	return client.Send(ctx, payload)
}
