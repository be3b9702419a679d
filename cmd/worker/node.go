package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/dreamware/palantir/internal/cluster"
	"github.com/dreamware/palantir/internal/storage"
)

// maxPayload caps a single received capture file.
const maxPayload = 1 << 30

// Node is the runtime state of a worker: its identity and the spool that
// received files are written to.
//
// Request handling:
//   - GET  /ping        answers the registry's liveness probe
//   - POST /convert     accepts a capture file (?filename=<name>)
//   - GET  /info        reports the spool contents
//
// A payload is acknowledged only after the spool accepted it, so an error
// reply tells the producer to pick another worker.
type Node struct {
	store  storage.Store
	logger *zap.SugaredLogger

	// Name identifies the worker in the registry.
	Name string
}

// NewNode creates a worker named name that stores received files in store.
func NewNode(name string, store storage.Store, logger *zap.SugaredLogger) *Node {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Node{Name: name, store: store, logger: logger}
}

func (n *Node) routes(dispatchPath string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+cluster.PingPath, n.handlePing)
	mux.HandleFunc("POST "+dispatchPath, n.handleReceive)
	mux.HandleFunc("GET /info", n.handleInfo)
	return mux
}

func (n *Node) handlePing(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, cluster.PingResponse{Result: cluster.ResultSuccess, Ping: cluster.PingAck})
}

// handleReceive stores the request body under the name given in the
// filename query parameter.
//
// Response:
//   - 200 {"result":"success"}: file stored
//   - 400 {"result":"error"}: missing or unsafe file name, unreadable body
//   - 500 {"result":"error"}: spool write failed
func (n *Node) handleReceive(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get(cluster.FilenameParam)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPayload))
	if err != nil {
		n.logger.Warnw("failed to read payload", "filename", name, "error", err)
		writeError(w, http.StatusBadRequest, "failed to read body: "+err.Error())
		return
	}

	if err := n.store.Put(name, body); err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, storage.ErrInvalidFilename) {
			code = http.StatusBadRequest
		}
		n.logger.Warnw("rejected payload", "filename", name, "error", err)
		writeError(w, code, err.Error())
		return
	}

	n.logger.Infow("file received", "filename", name, "bytes", len(body))
	writeJSON(w, http.StatusOK, cluster.Response{Result: cluster.ResultSuccess})
}

func (n *Node) handleInfo(w http.ResponseWriter, _ *http.Request) {
	files, err := n.store.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	stats, err := n.store.Stats()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Name  string   `json:"name"`
		Files []string `json:"files"`
		Bytes int64    `json:"bytes"`
	}{
		Name:  n.Name,
		Files: files,
		Bytes: stats.Bytes,
	})
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, cluster.Response{Result: cluster.ResultError, Message: msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
