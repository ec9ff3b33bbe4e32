// Package checkpoint persists the "synced through" timestamp that drives
// incremental sync windows.
package checkpoint

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/qbiolab/scribe/internal/storage"
)

// Store reads and writes a single RFC 3339 timestamp in a flat file.
type Store struct {
	path string
}

// NewStore creates a store backed by the given file path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load returns the persisted timestamp. ok is false when no checkpoint
// exists yet.
func (s *Store) Load() (t time.Time, ok bool, err error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("checkpoint: read %s: %w", s.path, err)
	}
	raw := strings.TrimSpace(string(data))
	if raw == "" {
		return time.Time{}, false, nil
	}
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("checkpoint: parse %q: %w", raw, err)
	}
	return parsed, true, nil
}

// Save atomically replaces the checkpoint. It refuses to move the checkpoint
// backwards so a misconfigured run cannot re-widen the sync window.
func (s *Store) Save(t time.Time) error {
	if current, ok, err := s.Load(); err != nil {
		return err
	} else if ok && t.Before(current) {
		return fmt.Errorf("checkpoint: refusing to move backwards from %s to %s",
			current.Format(time.RFC3339), t.Format(time.RFC3339))
	}
	content := t.Format(time.RFC3339) + "\n"
	if err := storage.WriteAtomic(s.path, []byte(content)); err != nil {
		return fmt.Errorf("checkpoint: save: %w", err)
	}
	return nil
}
