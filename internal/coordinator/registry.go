package coordinator

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/dreamware/palantir/internal/cluster"
	"github.com/dreamware/palantir/internal/membership"
	"github.com/dreamware/palantir/internal/validation"
)

var (
	// ErrInvalidRequest marks a structurally invalid register/update/unregister payload.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrNotAvailable is returned by Target when no endpoint is registered.
	// It is an expected condition that drives producer polling.
	ErrNotAvailable = errors.New(cluster.MessageNotAvailable)
)

// Registry is the coordination point over the membership table. It is the
// only writer of the table; the health monitor evicts through Remove.
//
// Thread-safe: all methods may be called concurrently.
type Registry struct {
	table        *membership.Table
	metrics      *Metrics
	logger       *zap.SugaredLogger
	dispatchPath string
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithDispatchPath sets the sub-path appended to an endpoint address by Target.
func WithDispatchPath(path string) RegistryOption {
	return func(r *Registry) {
		if path != "" && !strings.HasPrefix(path, "/") {
			path = "/" + path
		}
		r.dispatchPath = path
	}
}

func WithMetrics(m *Metrics) RegistryOption {
	return func(r *Registry) {
		r.metrics = m
	}
}

func WithLogger(logger *zap.SugaredLogger) RegistryOption {
	return func(r *Registry) {
		r.logger = logger
	}
}

// NewRegistry creates a registry over an empty membership table.
//
// Example:
//
//	reg := NewRegistry(WithDispatchPath("/convert"), WithLogger(logger))
//	_ = reg.Register(cluster.RegisterRequest{Name: "w1", URL: "http://w1:7000"})
//	target, err := reg.Target() // {w1 http://w1:7000/convert}
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		dispatchPath: cluster.DefaultDispatchPath,
		logger:       zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.metrics == nil {
		r.metrics = NewMetrics(nil)
	}
	r.table = membership.NewTable(r.logger.Named("membership"))
	return r
}

// Register adds the endpoint or updates its address in place.
func (r *Registry) Register(req cluster.RegisterRequest) error {
	if err := validation.Struct(req); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	r.table.Upsert(req.Name, req.URL)
	r.metrics.setEndpoints(r.table.Len())
	return nil
}

// Update has the same effect as Register. It exists for workers that
// distinguish a periodic re-announce from the initial join.
func (r *Registry) Update(req cluster.RegisterRequest) error {
	if err := validation.Struct(req); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if created := r.table.Upsert(req.Name, req.URL); created {
		r.logger.Infow("endpoint was not registered, registering it from update", "name", req.Name, "url", req.URL)
	}
	r.metrics.setEndpoints(r.table.Len())
	return nil
}

// Unregister removes the endpoint. Unknown names succeed without effect.
func (r *Registry) Unregister(req cluster.UnregisterRequest) error {
	if err := validation.Struct(req); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	r.Remove(req.Name, membership.CauseUnregisterRequested)
	return nil
}

// Remove evicts the endpoint with the given cause and reports whether it
// was present.
func (r *Registry) Remove(name string, cause membership.EvictionCause) bool {
	removed := r.table.Remove(name, cause)
	if removed {
		r.metrics.evicted(cause)
		r.metrics.setEndpoints(r.table.Len())
	}
	return removed
}

// Target picks the next endpoint round robin. The returned URL is the
// endpoint address plus the dispatch path.
func (r *Registry) Target() (cluster.Endpoint, error) {
	ep, err := r.table.Next()
	if err != nil {
		r.metrics.target(cluster.ResultError)
		return cluster.Endpoint{}, fmt.Errorf("%w: %w", ErrNotAvailable, err)
	}
	r.metrics.target(cluster.ResultSuccess)
	return cluster.Endpoint{
		Name: ep.Name,
		URL:  strings.TrimRight(ep.URL, "/") + r.dispatchPath,
	}, nil
}

// Services returns a name->address snapshot of the table.
func (r *Registry) Services() map[string]string {
	out := make(map[string]string)
	for _, ep := range r.table.List() {
		out[ep.Name] = ep.URL
	}
	return out
}

// List returns the ordered endpoint snapshot the health monitor probes.
func (r *Registry) List() []cluster.Endpoint {
	return r.table.List()
}

func (r *Registry) Len() int {
	return r.table.Len()
}
