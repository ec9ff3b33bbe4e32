// Package userdir maintains the user ID to display name mapping as a pair of
// TSV files: a generated list refreshed from the workspace and a hand-edited
// override list that always wins.
package userdir

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/qbiolab/scribe/internal/storage"
)

// Entry is one user in the directory.
type Entry struct {
	ID   string
	Name string
}

// FetchFunc retrieves the current user list from the workspace.
type FetchFunc func(ctx context.Context) ([]Entry, error)

// Directory resolves user IDs to names, refreshing the generated list at most
// once per process when an unknown ID shows up.
type Directory struct {
	path         string
	overridePath string
	fetch        FetchFunc
	logger       *slog.Logger

	mu        sync.Mutex
	users     map[string]string
	overrides map[string]string
	loaded    bool
	refreshed bool
}

// New creates a directory backed by the given TSV files. fetch may be nil,
// disabling auto-refresh.
func New(path, overridePath string, fetch FetchFunc, logger *slog.Logger) *Directory {
	return &Directory{
		path:         path,
		overridePath: overridePath,
		fetch:        fetch,
		logger:       logger,
	}
}

// Resolve returns the display name for a user ID, falling back to the raw ID
// when nothing matches even after a refresh.
func (d *Directory) Resolve(ctx context.Context, userID string) string {
	if userID == "" {
		return "Unknown"
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.loadLocked(); err != nil {
		d.logger.Warn("userlist load failed", slog.String("error", err.Error()))
	}
	if name, ok := d.lookupLocked(userID); ok {
		return name
	}

	// One refresh per process; a stream of unknown IDs must not hammer the API.
	if d.fetch != nil && !d.refreshed {
		d.refreshed = true
		if err := d.refreshLocked(ctx); err != nil {
			d.logger.Warn("userlist refresh failed", slog.String("error", err.Error()))
		} else if name, ok := d.lookupLocked(userID); ok {
			return name
		}
	}
	return userID
}

// Refresh replaces the generated userlist wholesale from the workspace.
// Overrides are untouched.
func (d *Directory) Refresh(ctx context.Context) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.refreshed = true
	if err := d.refreshLocked(ctx); err != nil {
		return 0, err
	}
	return len(d.users), nil
}

func (d *Directory) refreshLocked(ctx context.Context) error {
	if d.fetch == nil {
		return fmt.Errorf("userdir: no fetcher configured")
	}
	entries, err := d.fetch(ctx)
	if err != nil {
		return fmt.Errorf("userdir: fetch users: %w", err)
	}

	users := make(map[string]string, len(entries))
	for _, entry := range entries {
		users[entry.ID] = sanitizeName(entry.Name)
	}
	if err := writeTSV(d.path, users); err != nil {
		return err
	}
	d.users = users
	d.loaded = true
	d.logger.Info("userlist refreshed", slog.Int("count", len(users)))
	return nil
}

func (d *Directory) lookupLocked(userID string) (string, bool) {
	if name, ok := d.overrides[userID]; ok {
		return name, true
	}
	if name, ok := d.users[userID]; ok {
		return name, true
	}
	return "", false
}

func (d *Directory) loadLocked() error {
	if d.loaded {
		return nil
	}
	d.loaded = true
	users, err := readTSV(d.path)
	if err != nil {
		return err
	}
	overrides, err := readTSV(d.overridePath)
	if err != nil {
		return err
	}
	d.users = users
	d.overrides = overrides
	return nil
}

// readTSV parses "id<TAB>name" lines. A missing file is an empty list.
func readTSV(path string) (map[string]string, error) {
	out := map[string]string{}
	if path == "" {
		return out, nil
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return out, nil
		}
		return nil, fmt.Errorf("userdir: open %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		id, name, ok := strings.Cut(line, "\t")
		if !ok || id == "" {
			continue
		}
		out[strings.TrimSpace(id)] = strings.TrimSpace(name)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("userdir: read %s: %w", path, err)
	}
	return out, nil
}

func writeTSV(path string, users map[string]string) error {
	ids := make([]string, 0, len(users))
	for id := range users {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var b strings.Builder
	for _, id := range ids {
		b.WriteString(id)
		b.WriteByte('\t')
		b.WriteString(users[id])
		b.WriteByte('\n')
	}
	if err := storage.WriteAtomic(path, []byte(b.String())); err != nil {
		return fmt.Errorf("userdir: write %s: %w", path, err)
	}
	return nil
}

// sanitizeName keeps names TSV-safe: tabs and newlines become spaces.
func sanitizeName(name string) string {
	name = strings.NewReplacer("\t", " ", "\n", " ", "\r", " ").Replace(name)
	name = strings.TrimSpace(name)
	if name == "" {
		return "Unknown"
	}
	return name
}
