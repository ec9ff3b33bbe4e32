// Package ledger records command invocations in a local SQLite database so
// the health checker can report when each stage last ran and how it went.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/qbiolab/scribe/internal/apperr"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	command     TEXT NOT NULL,
	started_at  TIMESTAMP NOT NULL,
	finished_at TIMESTAMP NOT NULL,
	status      TEXT NOT NULL,
	items       INTEGER NOT NULL DEFAULT 0,
	detail      TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_runs_command ON runs(command, finished_at);
`

// Statuses recorded for a run.
const (
	StatusOK      = "ok"
	StatusSkipped = "skipped"
	StatusFailed  = "failed"
)

// Run is one recorded command invocation.
type Run struct {
	Command    string
	StartedAt  time.Time
	FinishedAt time.Time
	Status     string
	Items      int
	Detail     string
}

// Store is the SQLite-backed run ledger.
type Store struct {
	db *sql.DB
}

// Open creates or opens the ledger database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ledger: mkdir: %w", err)
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("ledger: open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ledger: init schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Record appends one run.
func (s *Store) Record(ctx context.Context, run Run) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (command, started_at, finished_at, status, items, detail)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		run.Command, run.StartedAt.UTC(), run.FinishedAt.UTC(), run.Status, run.Items, run.Detail)
	if err != nil {
		return fmt.Errorf("ledger: record run: %w", err)
	}
	return nil
}

// LastRun returns the most recent run of a command, or apperr.ErrNotFound
// when the command never ran.
func (s *Store) LastRun(ctx context.Context, command string) (Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT command, started_at, finished_at, status, items, detail
		 FROM runs WHERE command = ? ORDER BY finished_at DESC, id DESC LIMIT 1`,
		command)
	var run Run
	err := row.Scan(&run.Command, &run.StartedAt, &run.FinishedAt, &run.Status, &run.Items, &run.Detail)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("ledger: no runs for %q: %w", command, apperr.ErrNotFound)
	}
	if err != nil {
		return Run{}, fmt.Errorf("ledger: read last run: %w", err)
	}
	return run, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
