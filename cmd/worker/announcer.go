package main

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// Registrar is the part of the registry API a worker announces itself to.
type Registrar interface {
	Register(ctx context.Context, name, url string) error
	Update(ctx context.Context, name, url string) error
}

// announcer keeps the worker present in the registry: it registers once,
// retrying until the registry accepts, then re-announces every interval.
// A re-announce also brings the worker back after an eviction.
type announcer struct {
	registry   Registrar
	clock      clockwork.Clock
	logger     *zap.SugaredLogger
	newBackOff func() backoff.BackOff
	name       string
	url        string
	interval   time.Duration
}

func newAnnouncer(registry Registrar, name, url string, interval time.Duration, logger *zap.SugaredLogger) *announcer {
	return &announcer{
		registry: registry,
		clock:    clockwork.NewRealClock(),
		logger:   logger,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 400 * time.Millisecond
			b.MaxInterval = 30 * time.Second
			b.MaxElapsedTime = 0
			return b
		},
		name:     name,
		url:      url,
		interval: interval,
	}
}

// register blocks until the registry accepted the worker or ctx is done.
func (a *announcer) register(ctx context.Context) error {
	attempt := 0
	op := func() error {
		attempt++
		return a.registry.Register(ctx, a.name, a.url)
	}
	notify := func(err error, next time.Duration) {
		a.logger.Warnw("register failed, retrying", "attempt", attempt, "retry_in", next, "error", err)
	}

	if err := backoff.RetryNotify(op, backoff.WithContext(a.newBackOff(), ctx), notify); err != nil {
		return err
	}
	a.logger.Infow("registered", "name", a.name, "url", a.url)
	return nil
}

// run registers and then re-announces until ctx is done. A failed update
// is logged and retried at the next tick.
func (a *announcer) run(ctx context.Context) error {
	if err := a.register(ctx); err != nil {
		return err
	}

	ticker := a.clock.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			if err := a.registry.Update(ctx, a.name, a.url); err != nil {
				a.logger.Warnw("update failed", "error", err)
				continue
			}
			a.logger.Debugw("announced", "name", a.name)
		}
	}
}
