package storage

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/spf13/afero"
)

func newTestSpool(t *testing.T) *Spool {
	t.Helper()
	spool, err := NewSpool(afero.NewMemMapFs(), "/var/spool/palantir")
	if err != nil {
		t.Fatalf("Failed to create spool: %v", err)
	}
	return spool
}

// TestSpool tests the spool implementation
func TestSpool(t *testing.T) {
	t.Run("new spool is empty", func(t *testing.T) {
		spool := newTestSpool(t)

		names, err := spool.List()
		if err != nil {
			t.Fatalf("Failed to list: %v", err)
		}
		if len(names) != 0 {
			t.Errorf("Expected empty spool, got %d files", len(names))
		}

		// Get should return ErrFileNotFound
		_, err = spool.Get("nonexistent")
		if !errors.Is(err, ErrFileNotFound) {
			t.Errorf("Expected ErrFileNotFound, got %v", err)
		}
	})

	t.Run("put and get files", func(t *testing.T) {
		spool := newTestSpool(t)

		if err := spool.Put("nfcapd.202410151200", []byte("capture")); err != nil {
			t.Fatalf("Failed to put file: %v", err)
		}

		body, err := spool.Get("nfcapd.202410151200")
		if err != nil {
			t.Fatalf("Failed to get file: %v", err)
		}
		if !bytes.Equal(body, []byte("capture")) {
			t.Errorf("Expected 'capture', got %s", string(body))
		}
	})

	t.Run("overwrite existing file", func(t *testing.T) {
		spool := newTestSpool(t)

		if err := spool.Put("f1", []byte("value1")); err != nil {
			t.Fatalf("Failed to put initial file: %v", err)
		}
		if err := spool.Put("f1", []byte("value2")); err != nil {
			t.Fatalf("Failed to overwrite file: %v", err)
		}

		body, err := spool.Get("f1")
		if err != nil {
			t.Fatalf("Failed to get file: %v", err)
		}
		if !bytes.Equal(body, []byte("value2")) {
			t.Errorf("Expected 'value2', got %s", string(body))
		}
	})

	t.Run("delete files", func(t *testing.T) {
		spool := newTestSpool(t)

		if err := spool.Put("f1", []byte("value1")); err != nil {
			t.Fatalf("Failed to put file: %v", err)
		}
		if err := spool.Delete("f1"); err != nil {
			t.Fatalf("Failed to delete file: %v", err)
		}
		if _, err := spool.Get("f1"); !errors.Is(err, ErrFileNotFound) {
			t.Errorf("Expected ErrFileNotFound after delete, got %v", err)
		}

		// Deleting again is not an error
		if err := spool.Delete("f1"); err != nil {
			t.Errorf("Expected idempotent delete, got %v", err)
		}
	})

	t.Run("list and stats skip temporary files", func(t *testing.T) {
		spool := newTestSpool(t)

		_ = spool.Put("b", []byte("22"))
		_ = spool.Put("a", []byte("1"))
		if err := afero.WriteFile(spool.fs, spool.Dir()+"/.c.tmp", []byte("partial"), 0o644); err != nil {
			t.Fatalf("Failed to write temp file: %v", err)
		}

		names, err := spool.List()
		if err != nil {
			t.Fatalf("Failed to list: %v", err)
		}
		if fmt.Sprint(names) != "[a b]" {
			t.Errorf("Expected [a b], got %v", names)
		}

		stats, err := spool.Stats()
		if err != nil {
			t.Fatalf("Failed to get stats: %v", err)
		}
		if stats.Files != 2 || stats.Bytes != 3 {
			t.Errorf("Expected 2 files / 3 bytes, got %+v", stats)
		}
	})

	t.Run("reject invalid names", func(t *testing.T) {
		spool := newTestSpool(t)

		for _, name := range []string{"", ".", "..", "../etc/passwd", "a/b", `a\b`, ".hidden"} {
			if err := spool.Put(name, []byte("x")); !errors.Is(err, ErrInvalidFilename) {
				t.Errorf("Put(%q): expected ErrInvalidFilename, got %v", name, err)
			}
		}
	})
}

// TestSpoolConcurrentPuts verifies concurrent writers don't corrupt the spool
func TestSpoolConcurrentPuts(t *testing.T) {
	spool := newTestSpool(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("file-%02d", i)
			if err := spool.Put(name, []byte(name)); err != nil {
				t.Errorf("Put %s: %v", name, err)
			}
		}(i)
	}
	wg.Wait()

	names, err := spool.List()
	if err != nil {
		t.Fatalf("Failed to list: %v", err)
	}
	if len(names) != 20 {
		t.Errorf("Expected 20 files, got %d", len(names))
	}
}
