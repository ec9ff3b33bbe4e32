// Package health validates configuration, filesystem state, and external API
// reachability outside the data pipeline.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/qbiolab/scribe/internal/apperr"
	"github.com/qbiolab/scribe/internal/gitrepo"
	"github.com/qbiolab/scribe/internal/ledger"
)

// Severity orders check outcomes; the report carries the worst one.
type Severity int

const (
	SeverityOK Severity = iota
	SeverityDegraded
	SeverityCritical
)

// String returns the lowercase severity name.
func (s Severity) String() string {
	switch s {
	case SeverityOK:
		return "ok"
	case SeverityDegraded:
		return "degraded"
	default:
		return "critical"
	}
}

// MarshalJSON encodes the severity as its name.
func (s Severity) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a severity name.
func (s *Severity) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	switch name {
	case "ok":
		*s = SeverityOK
	case "degraded":
		*s = SeverityDegraded
	case "critical":
		*s = SeverityCritical
	default:
		return fmt.Errorf("health: unknown severity %q", name)
	}
	return nil
}

// Check is one probe's outcome.
type Check struct {
	Name     string   `json:"name"`
	Severity Severity `json:"severity"`
	Detail   string   `json:"detail,omitempty"`
}

// Report is a full health check run.
type Report struct {
	Status      Severity  `json:"status"`
	Checks      []Check   `json:"checks"`
	GeneratedAt time.Time `json:"generated_at"`
}

// ExitCode maps the overall status to the process exit code.
func (r Report) ExitCode() int { return int(r.Status) }

// Pinger is a remote API reachability probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options configures the checker.
type Options struct {
	RepositoryPath string
	// WritePaths are directories each stage must be able to write to.
	WritePaths []string
	Notion     Pinger
	LLM        Pinger
	Slack      Pinger // nil when posting is not configured
	Ledger     *ledger.Store
	// LedgerCommands are the commands whose last run is reported.
	LedgerCommands []string
}

// Checker runs the health probes.
type Checker struct {
	opts   Options
	logger *slog.Logger
}

// NewChecker creates a health checker.
func NewChecker(opts Options, logger *slog.Logger) *Checker {
	return &Checker{opts: opts, logger: logger}
}

// Run executes every probe. With quick true the network probes are skipped.
// Local checks run sequentially; network probes fan out.
func (c *Checker) Run(ctx context.Context, quick bool) Report {
	var checks []Check
	checks = append(checks, c.checkRepository())
	checks = append(checks, c.checkWritePaths()...)
	checks = append(checks, c.checkLedger(ctx)...)
	if !quick {
		checks = append(checks, c.probeAPIs(ctx)...)
	}

	report := Report{Checks: checks, GeneratedAt: time.Now()}
	for _, check := range checks {
		if check.Severity > report.Status {
			report.Status = check.Severity
		}
	}
	return report
}

func (c *Checker) checkRepository() Check {
	check := Check{Name: "notes_repository"}
	if _, err := gitrepo.Open(c.opts.RepositoryPath); err != nil {
		check.Severity = SeverityCritical
		check.Detail = err.Error()
		return check
	}
	check.Detail = c.opts.RepositoryPath
	return check
}

func (c *Checker) checkWritePaths() []Check {
	var checks []Check
	for _, dir := range c.opts.WritePaths {
		check := Check{Name: "writable:" + dir}
		if err := probeWrite(dir); err != nil {
			check.Severity = SeverityCritical
			check.Detail = err.Error()
		}
		checks = append(checks, check)
	}
	return checks
}

// probeWrite verifies a directory exists (creating it if needed) and accepts
// a file write.
func probeWrite(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".scribe-health-*")
	if err != nil {
		return err
	}
	name := f.Name()
	f.Close()
	return os.Remove(filepath.Clean(name))
}

func (c *Checker) checkLedger(ctx context.Context) []Check {
	if c.opts.Ledger == nil {
		return nil
	}
	var checks []Check
	for _, command := range c.opts.LedgerCommands {
		check := Check{Name: "last_run:" + command}
		run, err := c.opts.Ledger.LastRun(ctx, command)
		switch {
		case errors.Is(err, apperr.ErrNotFound):
			check.Detail = "never ran"
		case err != nil:
			check.Severity = SeverityDegraded
			check.Detail = err.Error()
		case run.Status == ledger.StatusFailed:
			check.Severity = SeverityDegraded
			check.Detail = fmt.Sprintf("last run failed at %s: %s",
				run.FinishedAt.Format(time.RFC3339), run.Detail)
		default:
			check.Detail = fmt.Sprintf("%s at %s", run.Status, run.FinishedAt.Format(time.RFC3339))
		}
		checks = append(checks, check)
	}
	return checks
}

// probeAPIs pings each configured external API concurrently. The workspace
// and LLM are load-bearing for the pipeline; posting is not, so an
// unreachable Slack only degrades.
func (c *Checker) probeAPIs(ctx context.Context) []Check {
	type probe struct {
		name     string
		pinger   Pinger
		severity Severity
	}
	probes := []probe{
		{"notion_api", c.opts.Notion, SeverityCritical},
		{"llm_api", c.opts.LLM, SeverityCritical},
		{"slack_api", c.opts.Slack, SeverityDegraded},
	}

	probeCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	var mu sync.Mutex
	checks := make([]Check, 0, len(probes))
	g, gCtx := errgroup.WithContext(probeCtx)
	for _, p := range probes {
		if p.pinger == nil {
			continue
		}
		p := p
		g.Go(func() error {
			check := Check{Name: p.name}
			if err := p.pinger.Ping(gCtx); err != nil {
				check.Severity = p.severity
				check.Detail = err.Error()
			} else {
				check.Detail = "reachable"
			}
			mu.Lock()
			checks = append(checks, check)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait() // probes report through their checks, never as errors

	// Deterministic order for output and tests.
	ordered := make([]Check, 0, len(checks))
	for _, p := range probes {
		for _, check := range checks {
			if check.Name == p.name {
				ordered = append(ordered, check)
			}
		}
	}
	return ordered
}
