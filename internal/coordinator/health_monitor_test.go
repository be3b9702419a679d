// Package coordinator provides the registry service functionality.
// This file contains tests for the health monitoring functionality.
package coordinator

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dreamware/palantir/internal/cluster"
)

// newWorker starts a test worker whose /ping handler is h.
func newWorker(t *testing.T, h http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ping", h)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func pong(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"result":"success","ping":"pong"}`))
}

func register(t *testing.T, reg *Registry, name, url string) {
	t.Helper()
	require.NoError(t, reg.Register(cluster.RegisterRequest{Name: name, URL: url}))
}

// TestNewHealthMonitor verifies the defaults of a new monitor.
func TestNewHealthMonitor(t *testing.T) {
	monitor := NewHealthMonitor(NewRegistry(), 0)
	defer monitor.Stop()

	assert.Equal(t, DefaultCheckInterval, monitor.interval)
	assert.Equal(t, DefaultProbeTimeout, monitor.timeout)
	assert.Equal(t, DefaultEvictionThreshold, monitor.threshold)
	assert.Equal(t, DefaultProbeConcurrency, monitor.concurrency)
	assert.NotNil(t, monitor.http)
	assert.NotNil(t, monitor.checkFunc)
	assert.Len(t, monitor.endpoints, 0)
}

// TestHealthMonitorOptions verifies that options override defaults and
// that non-positive values are ignored.
func TestHealthMonitorOptions(t *testing.T) {
	monitor := NewHealthMonitor(NewRegistry(), time.Second,
		WithProbeTimeout(300*time.Millisecond),
		WithEvictionThreshold(3),
		WithProbeConcurrency(0),
	)
	defer monitor.Stop()

	assert.Equal(t, time.Second, monitor.interval)
	assert.Equal(t, 300*time.Millisecond, monitor.timeout)
	assert.Equal(t, 3, monitor.threshold)
	assert.Equal(t, DefaultProbeConcurrency, monitor.concurrency)
}

// TestDefaultHealthCheckEvictsFailingEndpoints covers every failure mode of
// the liveness probe against real HTTP servers.
func TestDefaultHealthCheckEvictsFailingEndpoints(t *testing.T) {
	healthy := newWorker(t, pong)
	badBody := newWorker(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"result":"success","ping":"ping"}`))
	})
	notJSON := newWorker(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`pong`))
	})
	serverError := newWorker(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"result":"success","ping":"pong"}`))
	})
	hung := newWorker(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(3 * time.Second):
		}
	})
	closed := httptest.NewServer(http.NotFoundHandler())
	closedURL := closed.URL
	closed.Close()

	reg := NewRegistry(WithLogger(zaptest.NewLogger(t).Sugar()))
	register(t, reg, "healthy", healthy.URL)
	register(t, reg, "bad-body", badBody.URL)
	register(t, reg, "not-json", notJSON.URL)
	register(t, reg, "server-error", serverError.URL)
	register(t, reg, "hung", hung.URL)
	register(t, reg, "closed", closedURL)

	monitor := NewHealthMonitor(reg, time.Minute, WithProbeTimeout(200*time.Millisecond))
	defer monitor.Stop()

	start := time.Now()
	monitor.CheckNow(context.Background())

	// The hung endpoint is bounded by its own timeout, not the others'
	assert.Less(t, time.Since(start), 2*time.Second)

	assert.Equal(t, map[string]string{"healthy": healthy.URL}, reg.Services())
	assert.True(t, monitor.IsHealthy("healthy"))
	assert.Nil(t, monitor.GetEndpointHealth("hung"))

	for i := 0; i < 3; i++ {
		target, err := reg.Target()
		require.NoError(t, err)
		assert.Equal(t, "healthy", target.Name)
	}
}

// TestDefaultHealthCheckBareHostPort verifies host:port addresses are probed over http.
func TestDefaultHealthCheckBareHostPort(t *testing.T) {
	worker := newWorker(t, pong)

	monitor := NewHealthMonitor(NewRegistry(), time.Minute)
	defer monitor.Stop()

	err := monitor.defaultHealthCheck(context.Background(), worker.Listener.Addr().String())
	assert.NoError(t, err)
}

// TestProbeErrorDetails verifies the probe error carries url and reason.
func TestProbeErrorDetails(t *testing.T) {
	worker := newWorker(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	monitor := NewHealthMonitor(NewRegistry(), time.Minute)
	defer monitor.Stop()

	err := monitor.defaultHealthCheck(context.Background(), worker.URL)
	var probeErr *ProbeError
	require.ErrorAs(t, err, &probeErr)
	assert.Equal(t, worker.URL+cluster.PingPath, probeErr.URL)
	assert.Equal(t, "status 503", probeErr.Reason)
}

// TestHealthMonitorThreshold verifies that a configurable number of
// consecutive failures is required before eviction and that success resets it.
func TestHealthMonitorThreshold(t *testing.T) {
	reg := NewRegistry()
	register(t, reg, "w1", "http://w1:7000")
	register(t, reg, "w2", "http://w2:7000")

	var mu sync.Mutex
	failing := map[string]bool{"http://w1:7000": true}

	monitor := NewHealthMonitor(reg, time.Minute, WithEvictionThreshold(2))
	defer monitor.Stop()
	monitor.SetCheckFunction(func(_ context.Context, addr string) error {
		mu.Lock()
		defer mu.Unlock()
		if failing[addr] {
			return errors.New("endpoint is down")
		}
		return nil
	})

	ctx := context.Background()

	// First strike keeps the endpoint
	monitor.CheckNow(ctx)
	assert.Len(t, reg.Services(), 2)
	health := monitor.GetEndpointHealth("w1")
	require.NotNil(t, health)
	assert.Equal(t, StatusUnhealthy, health.Status)
	assert.Equal(t, 1, health.ConsecutiveFails)

	// Recovery resets the count
	mu.Lock()
	failing["http://w1:7000"] = false
	mu.Unlock()
	monitor.CheckNow(ctx)
	health = monitor.GetEndpointHealth("w1")
	require.NotNil(t, health)
	assert.Equal(t, StatusHealthy, health.Status)
	assert.Equal(t, 0, health.ConsecutiveFails)

	// Two strikes in a row evict
	mu.Lock()
	failing["http://w1:7000"] = true
	mu.Unlock()
	monitor.CheckNow(ctx)
	assert.Len(t, reg.Services(), 2)
	monitor.CheckNow(ctx)
	assert.Equal(t, map[string]string{"w2": "http://w2:7000"}, reg.Services())
	assert.Nil(t, monitor.GetEndpointHealth("w1"))
}

// TestHealthMonitorSingleStrike verifies the default policy evicts on the
// first failed probe.
func TestHealthMonitorSingleStrike(t *testing.T) {
	reg := NewRegistry()
	register(t, reg, "w1", "http://w1:7000")

	monitor := NewHealthMonitor(reg, time.Minute)
	defer monitor.Stop()
	monitor.SetCheckFunction(func(context.Context, string) error {
		return errors.New("connection refused")
	})

	monitor.CheckNow(context.Background())
	assert.Empty(t, reg.Services())

	_, err := reg.Target()
	assert.ErrorIs(t, err, ErrNotAvailable)
}

// TestHealthMonitorCanceledTickDoesNotEvict verifies that probes aborted by
// shutdown are not treated as failures.
func TestHealthMonitorCanceledTickDoesNotEvict(t *testing.T) {
	reg := NewRegistry()
	register(t, reg, "w1", "http://w1:7000")

	monitor := NewHealthMonitor(reg, time.Minute)
	defer monitor.Stop()
	monitor.SetCheckFunction(func(ctx context.Context, _ string) error {
		<-ctx.Done()
		return ctx.Err()
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	monitor.CheckNow(ctx)

	assert.Len(t, reg.Services(), 1)
}

// TestHealthMonitorForgetsRemovedEndpoints verifies that health records of
// unregistered endpoints are dropped on the next tick.
func TestHealthMonitorForgetsRemovedEndpoints(t *testing.T) {
	reg := NewRegistry()
	register(t, reg, "w1", "http://w1:7000")
	register(t, reg, "w2", "http://w2:7000")

	monitor := NewHealthMonitor(reg, time.Minute)
	defer monitor.Stop()
	monitor.SetCheckFunction(func(context.Context, string) error { return nil })

	monitor.CheckNow(context.Background())
	assert.Len(t, monitor.GetAllEndpointHealth(), 2)

	require.NoError(t, reg.Unregister(cluster.UnregisterRequest{Name: "w2"}))
	monitor.CheckNow(context.Background())

	all := monitor.GetAllEndpointHealth()
	assert.Len(t, all, 1)
	assert.Contains(t, all, "w1")
}

// TestHealthMonitorProbesConcurrently verifies that probes of one tick
// overlap instead of running back to back.
func TestHealthMonitorProbesConcurrently(t *testing.T) {
	reg := NewRegistry()
	for _, name := range []string{"w1", "w2", "w3", "w4"} {
		register(t, reg, name, "http://"+name)
	}

	var inFlight, peak atomic.Int32
	monitor := NewHealthMonitor(reg, time.Minute, WithProbeConcurrency(4))
	defer monitor.Stop()
	monitor.SetCheckFunction(func(context.Context, string) error {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
		inFlight.Add(-1)
		return nil
	})

	monitor.CheckNow(context.Background())
	assert.Greater(t, peak.Load(), int32(1))
	assert.Len(t, reg.Services(), 4)
}

// TestHealthMonitorStartTicks drives the monitoring loop with a fake clock.
func TestHealthMonitorStartTicks(t *testing.T) {
	reg := NewRegistry()
	register(t, reg, "w1", "http://w1:7000")

	clock := clockwork.NewFakeClock()
	var calls atomic.Int32
	monitor := NewHealthMonitor(reg, time.Minute, WithClock(clock))
	monitor.SetCheckFunction(func(context.Context, string) error {
		calls.Add(1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go monitor.Start(ctx)

	// Initial check runs immediately
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, clock.BlockUntilContext(ctx, 1))

	clock.Advance(time.Minute)
	require.Eventually(t, func() bool { return calls.Load() == 2 }, time.Second, 5*time.Millisecond)

	clock.Advance(time.Minute)
	require.Eventually(t, func() bool { return calls.Load() == 3 }, time.Second, 5*time.Millisecond)

	monitor.Stop()
}

// TestHealthMonitorStop verifies that Stop returns once the loop exits.
func TestHealthMonitorStop(t *testing.T) {
	monitor := NewHealthMonitor(NewRegistry(), 10*time.Millisecond)

	started := make(chan struct{})
	go func() {
		close(started)
		monitor.Start(context.Background())
	}()
	<-started
	time.Sleep(30 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		monitor.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return")
	}
}
