// Package store implements the Message Store (spec §4.D): a per-target
// append-only JSON log capped at 1000 entries, written atomically via
// write-temp-then-rename so a crash mid-write never corrupts or
// truncates the existing log.
package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/tmuxorc/orcd/internal/envelope"
	"github.com/tmuxorc/orcd/internal/validate"
)

// Store persists per-target envelope logs under a root messages
// directory.
type Store struct {
	dir        string
	maxEntries int

	// Per-file serialization (spec §9: per-target file lock via
	// replace-on-write, not a process-wide store lock). fileLocks holds
	// one mutex per target key, created on first use.
	mu        sync.Mutex
	fileLocks map[string]*sync.Mutex
}

// New creates a Store writing to dir, capping each target's log at
// maxEntries.
func New(dir string, maxEntries int) *Store {
	return &Store{dir: dir, maxEntries: maxEntries, fileLocks: make(map[string]*sync.Mutex)}
}

func (s *Store) lockFor(key string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.fileLocks[key]
	if !ok {
		l = &sync.Mutex{}
		s.fileLocks[key] = l
	}
	return l
}

func (s *Store) path(target validate.Target) string {
	return filepath.Join(s.dir, target.StoreKey()+".json")
}

// Append adds e to target's log, trimming the oldest entries beyond
// maxEntries, and writes the result atomically. A corrupt existing
// file is treated as empty (logged as a warning); the write replaces
// it.
func (s *Store) Append(target validate.Target, e envelope.Envelope) error {
	key := target.StoreKey()
	lock := s.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	path := s.path(target)
	existing, err := s.readLocked(path)
	if err != nil {
		slog.Warn("corrupt store file, treating as empty", "target", target.String(), "error", err)
		existing = nil
	}

	existing = append(existing, e)
	if s.maxEntries > 0 && len(existing) > s.maxEntries {
		existing = existing[len(existing)-s.maxEntries:]
	}

	return writeAtomic(path, existing)
}

// Read returns the stored envelopes for target, or nil if none exist.
func (s *Store) Read(target validate.Target) ([]envelope.Envelope, error) {
	lock := s.lockFor(target.StoreKey())
	lock.Lock()
	defer lock.Unlock()
	return s.readLocked(s.path(target))
}

func (s *Store) readLocked(path string) ([]envelope.Envelope, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read store file: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	var envelopes []envelope.Envelope
	if err := json.Unmarshal(data, &envelopes); err != nil {
		return nil, fmt.Errorf("unmarshal store file: %w", err)
	}
	return envelopes, nil
}

// writeAtomic writes envelopes to path via a temp file in the same
// directory followed by a rename, so readers never observe a partial
// write.
func writeAtomic(path string, envelopes []envelope.Envelope) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create store dir: %w", err)
	}

	data, err := json.Marshal(envelopes)
	if err != nil {
		return fmt.Errorf("marshal store entries: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".store-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp store file: %w", err)
	}
	tmpPath := tmp.Name()

	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp store file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp store file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp store file: %w", err)
	}
	committed = true
	return nil
}
