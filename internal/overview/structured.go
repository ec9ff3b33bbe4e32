package overview

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/qbiolab/scribe/internal/apperr"
	"github.com/qbiolab/scribe/internal/llm"
	"github.com/qbiolab/scribe/internal/storage"
	"github.com/qbiolab/scribe/internal/timeutil"
)

const defaultStructuredPrompt = "You are an automated research note management program for {lab_info}. " +
	"The input holds the individual change summaries covering {summary_range}. " +
	"Transform them into machine-readable logs that downstream databases can ingest. " +
	"Respond only with JSON Lines: one standalone JSON object per line, UTF-8, " +
	"no prose and no Markdown fencing. Each object carries exactly two keys: " +
	"\"authors\", an array with the names responsible for the change, and " +
	"\"summary\", concise factual {language} sentences describing the update " +
	"in active voice. Group closely related changes into one entry and never " +
	"omit experiment outcomes, blockers, or next steps." +
	"{context_information}"

const defaultStructuredContextPrefix = "Use the following context information " +
	"minimally and reference it only when necessary for clarity."

// StructuredOptions tunes the JSONL digest.
type StructuredOptions struct {
	Model          string
	Language       string
	LabInfo        string
	// FileSuffix names the dated .jsonl output file, default "-summary".
	FileSuffix     string
	PromptTemplate string
	ContextPrefix  string
	// StaticContext is the static context plugin's text; the digest takes no
	// other plugin input.
	StaticContext string
	// RangesFor returns nil for weekdays excluded from digest generation.
	RangesFor    func(time.Weekday) *Ranges
	BoundaryHour int
	Location     *time.Location
}

// StructuredLogger turns the day's individual summaries into a JSONL digest
// written alongside the prose overview.
type StructuredLogger struct {
	model  llm.Generator
	output *storage.Dir
	opts   StructuredOptions
	logger *slog.Logger
}

// NewStructuredLogger wires a digest generator over the shared dated output
// tree.
func NewStructuredLogger(model llm.Generator, output *storage.Dir, opts StructuredOptions, logger *slog.Logger) *StructuredLogger {
	if opts.PromptTemplate == "" {
		opts.PromptTemplate = defaultStructuredPrompt
	}
	if opts.Language == "" {
		opts.Language = "English"
	}
	if opts.ContextPrefix == "" {
		opts.ContextPrefix = defaultStructuredContextPrefix
	}
	if opts.FileSuffix == "" {
		opts.FileSuffix = "-summary"
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &StructuredLogger{model: model, output: output, opts: opts, logger: logger}
}

// StructuredResult describes one digest pass.
type StructuredResult struct {
	Date     time.Time
	Path     string
	Content  string
	Entries  int
	DidWrite bool
}

// Run generates the digest for the logical day of now. Excluded weekdays
// return apperr.ErrPolicySkip and a day without individual summaries returns
// apperr.ErrNothingToReport. Model output with no valid JSON lines is not an
// error; nothing is written.
func (s *StructuredLogger) Run(ctx context.Context, now time.Time, write bool) (StructuredResult, error) {
	now = now.In(s.opts.Location)
	date := timeutil.LogicalDate(now, s.opts.BoundaryHour)
	result := StructuredResult{Date: date}

	ranges := s.opts.RangesFor(now.Weekday())
	if ranges == nil {
		return result, fmt.Errorf("structured log: %s: %w",
			strings.ToLower(now.Weekday().String()), apperr.ErrPolicySkip)
	}

	individual, err := readIndividual(s.output, date)
	if err != nil {
		return result, err
	}
	if individual == "" {
		return result, fmt.Errorf("structured log: no summaries for %s: %w",
			date.Format("2006-01-02"), apperr.ErrNothingToReport)
	}

	system := strings.NewReplacer(
		"{lab_info}", s.opts.LabInfo,
		"{language}", s.opts.Language,
		"{summary_range}", ranges.SummaryRange,
		"{context_information}", s.contextSection(),
	).Replace(s.opts.PromptTemplate)

	text, err := s.model.Generate(ctx, s.opts.Model, system, individual)
	if err != nil {
		return result, fmt.Errorf("structured log: generate: %w", err)
	}
	result.Content, result.Entries = CleanJSONL(text)
	if result.Entries == 0 {
		s.logger.Info("structured log produced no entries")
		return result, nil
	}

	result.Path = storage.DatedFile(date, s.opts.FileSuffix, ".jsonl")
	if !write {
		return result, nil
	}
	if _, err := s.output.WriteIfChanged(result.Path, []byte(result.Content+"\n")); err != nil {
		return result, fmt.Errorf("structured log: write output: %w", err)
	}
	result.DidWrite = true
	s.logger.Info("structured log written",
		slog.String("path", result.Path), slog.Int("entries", result.Entries))
	return result, nil
}

func (s *StructuredLogger) contextSection() string {
	if s.opts.StaticContext == "" {
		return ""
	}
	return "\n\n" + s.opts.ContextPrefix + "\n" + s.opts.StaticContext
}

// CleanJSONL strips a wrapping code fence and keeps only the lines that are
// standalone valid JSON objects. It returns the cleaned content and the line
// count.
func CleanJSONL(text string) (string, int) {
	var lines []string
	for _, line := range strings.Split(Sanitize(text), "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "{") || !json.Valid([]byte(line)) {
			continue
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n"), len(lines)
}
