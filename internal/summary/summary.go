// Package summary turns the day's commit diffs into an individual change
// summary file, one LLM-written paragraph per commit.
package summary

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/qbiolab/scribe/internal/gitrepo"
	"github.com/qbiolab/scribe/internal/llm"
	"github.com/qbiolab/scribe/internal/storage"
	"github.com/qbiolab/scribe/internal/timeutil"
)

const defaultPrompt = "You are a concise technical writer for a research team. " +
	"Summarize the following document changes in one short paragraph of plain prose. " +
	"Mention what was added, changed, or removed, but not file paths or diff syntax. " +
	"Do not use Markdown formatting."

// Resolver maps a commit author to a display name.
type Resolver interface {
	Resolve(ctx context.Context, userID string) string
}

// Options tunes the summarization stage.
type Options struct {
	Model          string
	PromptTemplate string
	MaxDiffLength  int
	// LookbackDays maps the run weekday to the window size in days, so a
	// Monday run can cover the weekend.
	LookbackDays func(time.Weekday) int
	BoundaryHour int
	Location     *time.Location
}

// Generator produces the daily individual summary.
type Generator struct {
	repo   *gitrepo.Service
	model  llm.Generator
	users  Resolver
	output *storage.Dir
	opts   Options
	logger *slog.Logger
}

// New wires a summary generator. output is the dated summary tree.
func New(repo *gitrepo.Service, model llm.Generator, users Resolver, output *storage.Dir, opts Options, logger *slog.Logger) *Generator {
	if opts.PromptTemplate == "" {
		opts.PromptTemplate = defaultPrompt
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.LookbackDays == nil {
		opts.LookbackDays = func(time.Weekday) int { return 1 }
	}
	return &Generator{repo: repo, model: model, users: users, output: output, opts: opts, logger: logger}
}

// Result describes one summarization pass.
type Result struct {
	Date     time.Time // logical day the summary belongs to
	Path     string    // relative output path, empty when nothing was written
	Content  string
	Commits  int // qualifying commits found
	Written  int // commits successfully summarized
	Skipped  int // commits whose LLM call failed
	DidWrite bool
}

// Run summarizes the commits of the current window. With write false the
// output file is left untouched and the rendered content is only returned.
func (g *Generator) Run(ctx context.Context, now time.Time, write bool) (Result, error) {
	now = now.In(g.opts.Location)
	date := timeutil.LogicalDate(now, g.opts.BoundaryHour)
	days := g.opts.LookbackDays(now.Weekday())
	window := timeutil.LookbackWindow(now, days)

	result := Result{Date: date}

	commits, err := g.repo.CommitsBetween(ctx, window.Start, window.End, g.opts.MaxDiffLength)
	if err != nil {
		return result, err
	}
	result.Commits = len(commits)
	if len(commits) == 0 {
		g.logger.Info("no commits in window",
			slog.Time("start", window.Start),
			slog.Time("end", window.End))
		return result, nil
	}
	g.logger.Info("summarizing commits",
		slog.Int("count", len(commits)),
		slog.Int("lookback_days", days))

	var b strings.Builder
	fmt.Fprintf(&b, "# Individual Updates %s\n", date.Format("2006-01-02"))
	for _, commit := range commits {
		text, err := g.model.Generate(ctx, g.opts.Model, g.opts.PromptTemplate, commit.Diff)
		if err != nil {
			g.logger.Error("commit summarization failed",
				slog.String("hash", commit.Hash[:8]),
				slog.String("error", err.Error()))
			result.Skipped++
			continue
		}
		author := commit.Author
		if g.users != nil {
			author = g.users.Resolve(ctx, commit.Author)
		}
		fmt.Fprintf(&b, "\n## %s (%s)\n%s\n",
			author,
			commit.When.In(g.opts.Location).Format("2006-01-02 15:04"),
			strings.TrimSpace(text))
		result.Written++
	}

	if result.Written == 0 {
		return result, fmt.Errorf("summary: all %d commit summaries failed", len(commits))
	}

	result.Content = b.String()
	result.Path = storage.DatedPath(date, "-indiv")
	if !write {
		return result, nil
	}
	if _, err := g.output.WriteIfChanged(result.Path, []byte(result.Content)); err != nil {
		return result, fmt.Errorf("summary: write output: %w", err)
	}
	result.DidWrite = true
	g.logger.Info("individual summary written", slog.String("path", result.Path))
	return result, nil
}
