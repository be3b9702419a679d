package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/spf13/afero"
)

// ErrFileNotFound is returned when a file doesn't exist in the spool
var ErrFileNotFound = errors.New("file not found")

// ErrInvalidFilename is returned for names that are empty or would escape
// the spool directory
var ErrInvalidFilename = errors.New("invalid filename")

// Store defines the interface for the received-file store
// All implementations must be thread-safe for concurrent access
type Store interface {
	// Put stores a file under the given name
	// Overwrites any existing file with the same name
	Put(name string, body []byte) error

	// Get reads a file back
	// Returns ErrFileNotFound if the file doesn't exist
	Get(name string) ([]byte, error)

	// Delete removes a file
	// No error if the file doesn't exist
	Delete(name string) error

	// List returns all file names, sorted
	List() ([]string, error)

	// Stats returns storage statistics
	Stats() (StoreStats, error)
}

// StoreStats contains statistics about the store
type StoreStats struct {
	Files int   // Number of files
	Bytes int64 // Total size of all files in bytes
}

// Spool implements Store on top of an afero filesystem directory
// Writes go through a temporary file and a rename, so readers never see a
// partially written file
type Spool struct {
	fs  afero.Fs
	dir string
	mu  sync.RWMutex // Serializes writes against listings
}

// NewSpool creates the directory if needed and returns a spool rooted there
func NewSpool(fs afero.Fs, dir string) (*Spool, error) {
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create spool dir %s: %w", dir, err)
	}
	return &Spool{fs: fs, dir: dir}, nil
}

// Dir returns the spool directory
func (s *Spool) Dir() string {
	return s.dir
}

func (s *Spool) path(name string) (string, error) {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("%w: %q", ErrInvalidFilename, name)
	}
	return filepath.Join(s.dir, name), nil
}

// Put stores body under name
func (s *Spool) Put(name string, body []byte) error {
	path, err := s.path(name)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp := filepath.Join(s.dir, "."+name+".tmp")
	if err := afero.WriteFile(s.fs, tmp, body, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := s.fs.Rename(tmp, path); err != nil {
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("rename %s: %w", name, err)
	}
	return nil
}

// Get reads a file back
func (s *Spool) Get(name string) ([]byte, error) {
	path, err := s.path(name)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	body, err := afero.ReadFile(s.fs, path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrFileNotFound
	}
	return body, err
}

// Delete removes a file
// No error if the file doesn't exist (idempotent)
func (s *Spool) Delete(name string) error {
	path, err := s.path(name)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fs.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// List returns the names of all complete files, sorted
func (s *Spool) List() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	infos, err := afero.ReadDir(s.fs, s.dir)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(infos))
	for _, info := range infos {
		if info.IsDir() || strings.HasPrefix(info.Name(), ".") {
			continue
		}
		names = append(names, info.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Stats returns storage statistics
func (s *Spool) Stats() (StoreStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	infos, err := afero.ReadDir(s.fs, s.dir)
	if err != nil {
		return StoreStats{}, err
	}

	var stats StoreStats
	for _, info := range infos {
		if info.IsDir() || strings.HasPrefix(info.Name(), ".") {
			continue
		}
		stats.Files++
		stats.Bytes += info.Size()
	}
	return stats, nil
}
