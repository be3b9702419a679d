// Package membership keeps the registry's live endpoint table.
package membership

import (
	"errors"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/exp/slices"

	"github.com/dreamware/palantir/internal/cluster"
)

// ErrNoAvailable is returned by Next when the table is empty.
var ErrNoAvailable = errors.New("no available endpoint")

// EvictionCause tags why an endpoint left the table.
type EvictionCause int

const (
	CauseUnknown EvictionCause = iota
	CauseUnregisterRequested
	CauseHealthCheckFailed
)

func (c EvictionCause) String() string {
	switch c {
	case CauseUnregisterRequested:
		return "unregister-requested"
	case CauseHealthCheckFailed:
		return "health-check-failed"
	default:
		return "unknown"
	}
}

// Table is an insertion-ordered name->address mapping with a round-robin
// dispatch cursor. One mutex guards keys, addresses and cursor together so
// Next never observes a cursor past the end of a table that just shrank.
//
// Thread-safe: all methods may be called concurrently.
type Table struct {
	logger *zap.SugaredLogger
	addrs  map[string]string
	keys   []string // iteration order
	cursor int
	mu     sync.Mutex
}

// NewTable creates an empty table. A nil logger discards log output.
func NewTable(logger *zap.SugaredLogger) *Table {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Table{
		logger: logger,
		addrs:  make(map[string]string),
	}
}

// Upsert inserts the endpoint at the end of the iteration order, or
// overwrites its address in place if the name is already known.
// It reports whether a new entry was created.
func (t *Table) Upsert(name, addr string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	old, exists := t.addrs[name]
	if !exists {
		t.keys = append(t.keys, name)
		t.addrs[name] = addr
		t.logger.Infow("endpoint registered", "name", name, "url", addr)
		return true
	}

	if old != addr {
		t.addrs[name] = addr
		t.logger.Infow("endpoint address updated", "name", name, "url", addr, "previous", old)
	}
	return false
}

// Remove deletes the endpoint if present. Removing an unknown name is a
// logged no-op. It reports whether an entry was removed.
func (t *Table) Remove(name string, cause EvictionCause) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	addr, exists := t.addrs[name]
	if !exists {
		t.logger.Warnw("endpoint cannot be removed because it is not registered", "name", name, "cause", cause.String())
		return false
	}

	idx := slices.Index(t.keys, name)
	t.keys = slices.Delete(t.keys, idx, idx+1)
	delete(t.addrs, name)
	t.logger.Warnw("endpoint removed", "name", name, "url", addr, "cause", cause.String())

	if t.cursor >= len(t.keys) {
		t.cursor = 0
	}
	return true
}

// Next returns the endpoint under the cursor and advances it, wrapping
// modulo the current size. Mutations between calls shift positions, so an
// entry may be skipped or revisited out of turn; cycling is strict only
// while the table is stable.
func (t *Table) Next() (cluster.Endpoint, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.keys) == 0 {
		t.cursor = 0
		return cluster.Endpoint{}, ErrNoAvailable
	}
	if t.cursor < 0 || t.cursor >= len(t.keys) {
		t.cursor = 0
	}

	name := t.keys[t.cursor]
	t.cursor = (t.cursor + 1) % len(t.keys)
	return cluster.Endpoint{Name: name, URL: t.addrs[name]}, nil
}

// List returns an ordered snapshot of the table.
func (t *Table) List() []cluster.Endpoint {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]cluster.Endpoint, 0, len(t.keys))
	for _, name := range t.keys {
		out = append(out, cluster.Endpoint{Name: name, URL: t.addrs[name]})
	}
	return out
}

// Get returns the address registered under name.
func (t *Table) Get(name string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	addr, ok := t.addrs[name]
	return addr, ok
}

func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.keys)
}
