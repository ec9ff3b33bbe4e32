// Package overview assembles the daily team briefing: individual summaries,
// external content, and plugin context folded into one LLM prompt.
package overview

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/qbiolab/scribe/internal/apperr"
	"github.com/qbiolab/scribe/internal/llm"
	"github.com/qbiolab/scribe/internal/overview/plugins"
	"github.com/qbiolab/scribe/internal/storage"
	"github.com/qbiolab/scribe/internal/timeutil"
)

const defaultPrompt = "You write the daily briefing for {lab_info}. " +
	"Using the individual updates covering {summary_range}, write one cohesive " +
	"narrative paragraph in {language} about what the team accomplished, then a " +
	"short note on what matters for {forthcoming_range}. " +
	"Use any context information only as background. Plain prose, no headings, " +
	"no code fences."

// Ranges labels the time spans the prompt talks about for one weekday.
type Ranges struct {
	SummaryRange     string
	ForthcomingRange string
}

// Options tunes overview generation.
type Options struct {
	Model          string
	Language       string
	LabInfo        string
	ContextPrefix  string
	PromptTemplate string
	// RangesFor returns nil for weekdays excluded from overview generation.
	RangesFor    func(time.Weekday) *Ranges
	Sources      []Source
	BoundaryHour int
	Location     *time.Location
}

// Generator produces the daily overview file.
type Generator struct {
	model   llm.Generator
	output  *storage.Dir
	plugins []plugins.Plugin
	opts    Options
	logger  *slog.Logger
}

// New wires an overview generator. output is the dated summary tree shared
// with the individual summaries.
func New(model llm.Generator, output *storage.Dir, contextPlugins []plugins.Plugin, opts Options, logger *slog.Logger) *Generator {
	if opts.PromptTemplate == "" {
		opts.PromptTemplate = defaultPrompt
	}
	if opts.Language == "" {
		opts.Language = "English"
	}
	if opts.ContextPrefix == "" {
		opts.ContextPrefix = "Context Information"
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Generator{model: model, output: output, plugins: contextPlugins, opts: opts, logger: logger}
}

// Result describes one overview pass.
type Result struct {
	Date     time.Time
	Path     string
	Prompt   string
	Content  string
	DidWrite bool
}

// BuildPrompt assembles the full prompt for the logical day of now. It
// returns apperr.ErrPolicySkip on excluded weekdays and
// apperr.ErrNothingToReport when there are neither individual summaries nor
// external content.
func (g *Generator) BuildPrompt(ctx context.Context, now time.Time) (string, time.Time, error) {
	now = now.In(g.opts.Location)
	date := timeutil.LogicalDate(now, g.opts.BoundaryHour)

	ranges := g.opts.RangesFor(now.Weekday())
	if ranges == nil {
		return "", date, fmt.Errorf("overview: %s: %w",
			strings.ToLower(now.Weekday().String()), apperr.ErrPolicySkip)
	}

	individual, err := readIndividual(g.output, date)
	if err != nil {
		return "", date, err
	}
	external, err := collectExternal(g.output, date, g.opts.Sources)
	if err != nil {
		return "", date, err
	}
	if individual == "" && external == "" {
		return "", date, fmt.Errorf("overview: no input for %s: %w",
			date.Format("2006-01-02"), apperr.ErrNothingToReport)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Lab Information\n%s\n", g.opts.LabInfo)
	if individual != "" {
		fmt.Fprintf(&b, "\n# Individual Updates (%s)\n%s\n", ranges.SummaryRange, individual)
	}
	if external != "" {
		b.WriteString("\n## Additional Content\n")
		b.WriteString(external)
	}
	if section := g.pluginContext(ctx); section != "" {
		fmt.Fprintf(&b, "\n# %s\n", g.opts.ContextPrefix)
		b.WriteString(section)
	}
	return b.String(), date, nil
}

// pluginContext renders the enabled plugins' output, each under its own
// heading. No contributions means no section at all.
func (g *Generator) pluginContext(ctx context.Context) string {
	var b strings.Builder
	for _, plugin := range g.plugins {
		if !plugin.Enabled() {
			continue
		}
		text, err := plugin.Context(ctx)
		if err != nil {
			g.logger.Warn("context plugin failed",
				slog.String("plugin", plugin.Name()),
				slog.String("error", err.Error()))
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		fmt.Fprintf(&b, "\n### %s\n%s\n", plugin.Name(), text)
	}
	return b.String()
}

func readIndividual(output *storage.Dir, date time.Time) (string, error) {
	data, err := output.Read(storage.DatedPath(date, "-indiv"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// Run builds the prompt, calls the LLM once, and writes the overview file.
// With write false the content is only returned.
func (g *Generator) Run(ctx context.Context, now time.Time, write bool) (Result, error) {
	prompt, date, err := g.BuildPrompt(ctx, now)
	result := Result{Date: date, Prompt: prompt}
	if err != nil {
		return result, err
	}

	system := g.systemPrompt(now.In(g.opts.Location).Weekday())
	text, err := g.model.Generate(ctx, g.opts.Model, system, prompt)
	if err != nil {
		return result, fmt.Errorf("overview: generate: %w", err)
	}
	result.Content = Sanitize(text)
	result.Path = storage.DatedPath(date, "-overview")
	if !write {
		return result, nil
	}
	if _, err := g.output.WriteIfChanged(result.Path, []byte(result.Content+"\n")); err != nil {
		return result, fmt.Errorf("overview: write output: %w", err)
	}
	result.DidWrite = true
	g.logger.Info("overview written", slog.String("path", result.Path))
	return result, nil
}

func (g *Generator) systemPrompt(weekday time.Weekday) string {
	ranges := g.opts.RangesFor(weekday)
	if ranges == nil {
		ranges = &Ranges{}
	}
	return strings.NewReplacer(
		"{lab_info}", g.opts.LabInfo,
		"{language}", g.opts.Language,
		"{summary_range}", ranges.SummaryRange,
		"{forthcoming_range}", ranges.ForthcomingRange,
	).Replace(g.opts.PromptTemplate)
}

// Sanitize strips a stray Markdown code fence wrapping the whole model
// output, a failure mode some models fall into despite instructions.
func Sanitize(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	lines := strings.Split(text, "\n")
	if len(lines) < 2 || strings.TrimSpace(lines[len(lines)-1]) != "```" {
		return text
	}
	return strings.TrimSpace(strings.Join(lines[1:len(lines)-1], "\n"))
}
