// Package coordinator provides the registry service functionality.
// This file implements health monitoring for registered endpoints.
package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dreamware/palantir/internal/cluster"
	"github.com/dreamware/palantir/internal/membership"
)

// Health status values.
const (
	StatusUnknown   = "unknown"
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// Health monitor defaults.
const (
	DefaultCheckInterval     = 60 * time.Second
	DefaultProbeTimeout      = 5 * time.Second
	DefaultEvictionThreshold = 1
	DefaultProbeConcurrency  = 8
)

// EndpointHealth tracks the health of a single endpoint.
// Thread-safe: Protected by HealthMonitor's mutex when accessed.
type EndpointHealth struct {
	LastCheck        time.Time `json:"last_check"`   // Timestamp of the last probe attempt
	LastHealthy      time.Time `json:"last_healthy"` // Timestamp of the last successful probe
	Name             string    `json:"name"`
	URL              string    `json:"url"`
	Status           string    `json:"status"`
	ConsecutiveFails int       `json:"consecutive_fails"`
}

// Membership is the view of the registry the monitor probes and evicts from.
type Membership interface {
	List() []cluster.Endpoint
	Remove(name string, cause membership.EvictionCause) bool
}

// ProbeError describes a failed liveness probe. It is handled by eviction
// and never surfaced to API callers.
type ProbeError struct {
	Err    error
	URL    string
	Reason string
}

func (e *ProbeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("probe %s: %s: %v", e.URL, e.Reason, e.Err)
	}
	return fmt.Sprintf("probe %s: %s", e.URL, e.Reason)
}

func (e *ProbeError) Unwrap() error {
	return e.Err
}

// HealthMonitor probes every registered endpoint on a fixed interval and
// evicts the ones that fail. Each tick works on a snapshot of the table, so
// the table lock is never held during network I/O.
// Thread-safe: All methods are safe for concurrent access.
type HealthMonitor struct {
	members     Membership
	endpoints   map[string]*EndpointHealth                   // Health records per endpoint name
	http        *resty.Client                                // Client for liveness probes
	checkFunc   func(ctx context.Context, addr string) error // Probe implementation
	clock       clockwork.Clock
	logger      *zap.SugaredLogger
	metrics     *Metrics
	ctx         context.Context
	cancel      context.CancelFunc
	interval    time.Duration // How often to probe
	timeout     time.Duration // Per-probe timeout
	mu          sync.RWMutex  // Protects endpoints map
	wg          sync.WaitGroup
	threshold   int // Consecutive failures before eviction
	concurrency int // Probes in flight per tick
}

// MonitorOption configures a HealthMonitor.
type MonitorOption func(*HealthMonitor)

func WithProbeTimeout(d time.Duration) MonitorOption {
	return func(h *HealthMonitor) {
		if d > 0 {
			h.timeout = d
		}
	}
}

// WithEvictionThreshold sets how many consecutive failed probes evict an
// endpoint. The default of 1 evicts on the first failure.
func WithEvictionThreshold(n int) MonitorOption {
	return func(h *HealthMonitor) {
		if n > 0 {
			h.threshold = n
		}
	}
}

func WithProbeConcurrency(n int) MonitorOption {
	return func(h *HealthMonitor) {
		if n > 0 {
			h.concurrency = n
		}
	}
}

func WithClock(c clockwork.Clock) MonitorOption {
	return func(h *HealthMonitor) {
		h.clock = c
	}
}

func WithMonitorLogger(logger *zap.SugaredLogger) MonitorOption {
	return func(h *HealthMonitor) {
		h.logger = logger
	}
}

func WithMonitorMetrics(m *Metrics) MonitorOption {
	return func(h *HealthMonitor) {
		h.metrics = m
	}
}

// NewHealthMonitor creates a monitor that probes the endpoints of members
// every interval. Endpoints are evicted after DefaultEvictionThreshold
// consecutive failures unless configured otherwise.
//
// Example:
//
//	monitor := NewHealthMonitor(reg, time.Minute, WithProbeTimeout(5*time.Second))
//	go monitor.Start(ctx)
//	defer monitor.Stop()
func NewHealthMonitor(members Membership, interval time.Duration, opts ...MonitorOption) *HealthMonitor {
	if interval <= 0 {
		interval = DefaultCheckInterval
	}
	ctx, cancel := context.WithCancel(context.Background())

	h := &HealthMonitor{
		members:     members,
		endpoints:   make(map[string]*EndpointHealth),
		clock:       clockwork.NewRealClock(),
		logger:      zap.NewNop().Sugar(),
		interval:    interval,
		timeout:     DefaultProbeTimeout,
		threshold:   DefaultEvictionThreshold,
		concurrency: DefaultProbeConcurrency,
		ctx:         ctx,
		cancel:      cancel,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.metrics == nil {
		h.metrics = NewMetrics(nil)
	}
	h.http = resty.NewWithClient(&http.Client{Timeout: h.timeout})
	h.checkFunc = h.defaultHealthCheck
	return h
}

// Start runs an immediate check and then one check per interval.
// It blocks until ctx is canceled or Stop is called.
func (h *HealthMonitor) Start(ctx context.Context) {
	h.wg.Add(1)
	defer h.wg.Done()

	ticker := h.clock.NewTicker(h.interval)
	defer ticker.Stop()

	h.logger.Infow("health monitor started", "interval", h.interval, "timeout", h.timeout, "threshold", h.threshold)

	h.CheckNow(ctx)

	for {
		select {
		case <-ticker.Chan():
			h.CheckNow(ctx)
		case <-ctx.Done():
			h.logger.Info("health monitor stopping due to context cancellation")
			return
		case <-h.ctx.Done():
			h.logger.Info("health monitor stopping due to internal cancellation")
			return
		}
	}
}

// Stop cancels the monitoring loop and waits for it to return.
func (h *HealthMonitor) Stop() {
	h.cancel()
	h.wg.Wait()
	h.logger.Info("health monitor stopped")
}

// CheckNow probes every endpoint in a snapshot of the table and evicts the
// ones whose consecutive failures reached the threshold. Probes run
// concurrently, each under its own timeout, so one hung endpoint cannot
// stall the others.
func (h *HealthMonitor) CheckNow(ctx context.Context) {
	snapshot := h.members.List()
	results := make([]error, len(snapshot))

	var g errgroup.Group
	g.SetLimit(h.concurrency)
	for i, ep := range snapshot {
		g.Go(func() error {
			results[i] = h.probe(ctx, ep.URL)
			return nil
		})
	}
	_ = g.Wait()

	// A shutdown in the middle of a tick must not evict anybody.
	if ctx.Err() != nil || h.ctx.Err() != nil {
		return
	}

	for i, ep := range snapshot {
		h.record(ep, results[i])
	}
	h.forgetMissing(snapshot)

	h.logger.Infow("health check finished", "probed", len(snapshot), "running", len(h.members.List()))
}

func (h *HealthMonitor) probe(ctx context.Context, addr string) error {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	start := h.clock.Now()
	err := h.checkFunc(ctx, addr)
	h.metrics.probe(err, h.clock.Since(start))
	return err
}

// record applies a probe result to the endpoint's health record and evicts
// the endpoint once the threshold is reached.
func (h *HealthMonitor) record(ep cluster.Endpoint, err error) {
	now := h.clock.Now()

	h.mu.Lock()
	health, exists := h.endpoints[ep.Name]
	if !exists {
		health = &EndpointHealth{Name: ep.Name, Status: StatusUnknown, LastHealthy: now}
		h.endpoints[ep.Name] = health
	}
	health.URL = ep.URL
	health.LastCheck = now

	if err == nil {
		if health.Status == StatusUnhealthy {
			h.logger.Infow("endpoint recovered", "name", ep.Name)
		}
		health.Status = StatusHealthy
		health.ConsecutiveFails = 0
		health.LastHealthy = now
		h.mu.Unlock()
		return
	}

	health.ConsecutiveFails++
	health.Status = StatusUnhealthy
	fails := health.ConsecutiveFails
	evict := fails >= h.threshold
	if evict {
		delete(h.endpoints, ep.Name)
	}
	h.mu.Unlock()

	h.logger.Warnw("health check failed", "name", ep.Name, "attempt", fails, "threshold", h.threshold, "error", err)

	// Remove takes the table lock, so it runs after ours is released.
	if evict {
		h.members.Remove(ep.Name, membership.CauseHealthCheckFailed)
	}
}

// forgetMissing drops health records of endpoints that left the table.
func (h *HealthMonitor) forgetMissing(snapshot []cluster.Endpoint) {
	current := make(map[string]bool, len(snapshot))
	for _, ep := range snapshot {
		current[ep.Name] = true
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for name := range h.endpoints {
		if !current[name] {
			delete(h.endpoints, name)
		}
	}
}

// defaultHealthCheck sends GET <addr>/ping and expects a 2xx answer whose
// body is {"result":"success","ping":"pong"}.
func (h *HealthMonitor) defaultHealthCheck(ctx context.Context, addr string) error {
	url := cluster.BaseURL(addr) + cluster.PingPath

	resp, err := h.http.R().SetContext(ctx).Get(url)
	if err != nil {
		return &ProbeError{URL: url, Reason: "request failed", Err: err}
	}
	if !resp.IsSuccess() {
		return &ProbeError{URL: url, Reason: fmt.Sprintf("status %d", resp.StatusCode())}
	}

	var body cluster.PingResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return &ProbeError{URL: url, Reason: "invalid body", Err: err}
	}
	if !body.Alive() {
		return &ProbeError{URL: url, Reason: "missing liveness acknowledgment"}
	}
	return nil
}

// GetEndpointHealth returns a copy of the endpoint's health record, or nil
// if it has not been probed yet.
func (h *HealthMonitor) GetEndpointHealth(name string) *EndpointHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()

	health, exists := h.endpoints[name]
	if !exists {
		return nil
	}
	c := *health
	return &c
}

// GetAllEndpointHealth returns copies of all health records keyed by name.
func (h *HealthMonitor) GetAllEndpointHealth() map[string]*EndpointHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()

	result := make(map[string]*EndpointHealth, len(h.endpoints))
	for name, health := range h.endpoints {
		c := *health
		result[name] = &c
	}
	return result
}

// IsHealthy reports whether the last probe of the endpoint succeeded.
func (h *HealthMonitor) IsHealthy(name string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	health, exists := h.endpoints[name]
	return exists && health.Status == StatusHealthy
}

// SetCheckFunction overrides the probe implementation. Must be called
// before Start.
func (h *HealthMonitor) SetCheckFunction(checkFunc func(ctx context.Context, addr string) error) {
	h.checkFunc = checkFunc
}
