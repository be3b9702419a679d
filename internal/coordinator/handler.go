package coordinator

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/dreamware/palantir/internal/cluster"
)

// maxRequestBody caps registration payloads.
const maxRequestBody = 64 << 10

type server struct {
	registry *Registry
	monitor  *HealthMonitor
	gatherer prometheus.Gatherer
	logger   *zap.SugaredLogger
}

// NewHandler exposes the registry over HTTP. Request and response bodies
// are JSON envelopes from package cluster; gatherer backs /metrics.
func NewHandler(registry *Registry, monitor *HealthMonitor, gatherer prometheus.Gatherer, logger *zap.SugaredLogger) http.Handler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	s := &server{
		registry: registry,
		monitor:  monitor,
		gatherer: gatherer,
		logger:   logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /register", s.handleRegister)
	mux.HandleFunc("POST /unregister", s.handleUnregister)
	mux.HandleFunc("POST /update", s.handleUpdate)
	mux.HandleFunc("GET /target", s.handleTarget)
	mux.HandleFunc("GET /services", s.handleServices)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, cluster.Response{Result: cluster.ResultSuccess})
	})
	mux.HandleFunc("GET /health/endpoints", s.handleEndpointHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	return mux
}

func (s *server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req cluster.RegisterRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.reply(w, s.registry.Register(req))
}

func (s *server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var req cluster.RegisterRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.reply(w, s.registry.Update(req))
}

func (s *server) handleUnregister(w http.ResponseWriter, r *http.Request) {
	var req cluster.UnregisterRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.reply(w, s.registry.Unregister(req))
}

func (s *server) handleTarget(w http.ResponseWriter, _ *http.Request) {
	ep, err := s.registry.Target()
	if err != nil {
		s.reply(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cluster.TargetResponse{
		Result: cluster.ResultSuccess,
		Name:   ep.Name,
		URL:    ep.URL,
	})
}

func (s *server) handleServices(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.Services())
}

func (s *server) handleEndpointHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.monitor.GetAllEndpointHealth())
}

// decode reads a JSON request body into out. On failure it writes a 400
// reply and returns false.
func (s *server) decode(w http.ResponseWriter, r *http.Request, out any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(out); err != nil {
		s.logger.Debugw("rejected request body", "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusBadRequest, cluster.Response{
			Result:  cluster.ResultError,
			Message: fmt.Sprintf("invalid JSON body: %v", err),
		})
		return false
	}
	return true
}

// reply maps a registry error to the response envelope and status code.
func (s *server) reply(w http.ResponseWriter, err error) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, cluster.Response{Result: cluster.ResultSuccess})
	case errors.Is(err, ErrNotAvailable):
		writeJSON(w, http.StatusServiceUnavailable, cluster.Response{
			Result:  cluster.ResultError,
			Message: cluster.MessageNotAvailable,
		})
	case errors.Is(err, ErrInvalidRequest):
		writeJSON(w, http.StatusBadRequest, cluster.Response{Result: cluster.ResultError, Message: err.Error()})
	default:
		s.logger.Errorw("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, cluster.Response{Result: cluster.ResultError, Message: err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
