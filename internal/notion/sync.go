package notion

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/qbiolab/scribe/internal/checkpoint"
	"github.com/qbiolab/scribe/internal/gitrepo"
	"github.com/qbiolab/scribe/internal/storage"
)

// Workspace is the remote document workspace the sync engine reads from.
type Workspace interface {
	ChangedPagesSince(ctx context.Context, since time.Time) ([]Page, error)
	RenderPage(ctx context.Context, page Page) (string, error)
	PagePath(ctx context.Context, pageID string) (string, error)
}

// Resolver maps an opaque user ID to a display name.
type Resolver interface {
	Resolve(ctx context.Context, userID string) string
}

// EngineOptions holds the sync templates and window settings.
type EngineOptions struct {
	LookbackDays      int
	DumpPathTemplate  string
	HeaderTemplate    string
	CommitTemplate    string
	BlacklistFile     string
	CommitAuthorName  string
	CommitAuthorEmail string
	Location          *time.Location
}

// Engine synchronizes changed workspace pages into the notes repository.
type Engine struct {
	workspace Workspace
	repo      *gitrepo.Service
	store     *storage.Dir
	ckpt      *checkpoint.Store
	users     Resolver
	opts      EngineOptions
	logger    *slog.Logger
}

// NewEngine wires a sync engine. The storage dir must be rooted at the
// repository worktree.
func NewEngine(workspace Workspace, repo *gitrepo.Service, store *storage.Dir, ckpt *checkpoint.Store, users Resolver, opts EngineOptions, logger *slog.Logger) *Engine {
	if opts.CommitAuthorName == "" {
		opts.CommitAuthorName = "Scribe Sync"
	}
	if opts.CommitAuthorEmail == "" {
		opts.CommitAuthorEmail = "scribe@localhost"
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Engine{
		workspace: workspace,
		repo:      repo,
		store:     store,
		ckpt:      ckpt,
		users:     users,
		opts:      opts,
		logger:    logger,
	}
}

// Result summarizes one sync pass.
type Result struct {
	WindowStart time.Time
	Fetched     int
	Exported    int
	Skipped     int
	Committed   bool
	CommitHash  string
}

// Run performs one sync pass. The checkpoint is advanced to this run's start
// time only after the commit succeeds, so edits landing between fetch and
// commit are retried next run. Per-page failures are logged and skipped; a
// workspace-level failure aborts before any checkpoint update.
func (e *Engine) Run(ctx context.Context) (Result, error) {
	start := time.Now().In(e.opts.Location)

	since, ok, err := e.ckpt.Load()
	if err != nil {
		return Result{}, err
	}
	if !ok {
		since = start.AddDate(0, 0, -e.opts.LookbackDays)
		e.logger.Info("no checkpoint found, using lookback window",
			slog.Int("lookback_days", e.opts.LookbackDays),
			slog.Time("since", since))
	} else {
		e.logger.Info("resuming from checkpoint", slog.Time("since", since))
	}

	blacklist, err := LoadBlacklist(e.opts.BlacklistFile)
	if err != nil {
		return Result{}, err
	}

	pages, err := e.workspace.ChangedPagesSince(ctx, since)
	if err != nil {
		return Result{}, fmt.Errorf("sync: list changed pages: %w", err)
	}
	result := Result{WindowStart: since, Fetched: len(pages)}
	if len(pages) == 0 {
		e.logger.Info("no updates found")
		return result, nil
	}

	for _, page := range pages {
		if _, banned := blacklist[NormalizeID(page.ID)]; banned {
			result.Skipped++
			continue
		}
		if err := e.exportPage(ctx, page); err != nil {
			e.logger.Error("page export failed",
				slog.String("page_id", page.ID),
				slog.String("title", page.Title),
				slog.String("error", err.Error()))
			result.Skipped++
			continue
		}
		result.Exported++
	}

	if result.Exported == 0 {
		e.logger.Warn("no pages were successfully exported")
		return result, nil
	}
	e.logger.Info("pages exported", slog.Int("count", result.Exported))

	message := strings.ReplaceAll(e.opts.CommitTemplate, "{datetime}",
		start.Format("2006-01-02 15:04:05"))
	hash, committed, err := e.repo.CommitAll(message, e.opts.CommitAuthorName, e.opts.CommitAuthorEmail, start)
	if err != nil {
		return result, fmt.Errorf("sync: commit: %w", err)
	}
	result.Committed = committed
	result.CommitHash = hash
	if committed {
		e.logger.Info("changes committed", slog.String("hash", hash))
	} else {
		e.logger.Info("worktree already up to date")
	}

	if err := e.ckpt.Save(start); err != nil {
		return result, err
	}
	e.logger.Info("checkpoint saved", slog.Time("checkpoint", start))
	return result, nil
}

func (e *Engine) exportPage(ctx context.Context, page Page) error {
	path, err := e.workspace.PagePath(ctx, page.ID)
	if err != nil {
		// Location is decorative; the body is what matters.
		e.logger.Warn("page path lookup failed", slog.String("page_id", page.ID))
		path = page.Title
	}

	body, err := e.workspace.RenderPage(ctx, page)
	if err != nil {
		return fmt.Errorf("render: %w", err)
	}

	editor := page.LastEditedBy
	if e.users != nil {
		editor = e.users.Resolve(ctx, page.LastEditedBy)
	}

	content := RenderHeader(e.opts.HeaderTemplate, page, path, editor) + body
	relPath := NotePath(e.opts.DumpPathTemplate, page.ID)
	if _, err := e.store.WriteIfChanged(relPath, []byte(content)); err != nil {
		return fmt.Errorf("write %s: %w", relPath, err)
	}
	return nil
}

// LoadBlacklist reads newline-delimited page IDs. Missing file means an
// empty blacklist; anything after the first whitespace on a line is a
// comment.
func LoadBlacklist(path string) (map[string]struct{}, error) {
	out := map[string]struct{}{}
	if path == "" {
		return out, nil
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return out, nil
		}
		return nil, fmt.Errorf("sync: open blacklist: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
			continue
		}
		out[NormalizeID(fields[0])] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("sync: read blacklist: %w", err)
	}
	return out, nil
}
