// Package pipeline sequences the daily stages: individual summaries, team
// overview, posting.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/qbiolab/scribe/internal/apperr"
)

// Stage names, also used as ledger command labels.
const (
	StageIndividual = "generate-change-summary"
	StageStructured = "generate-structured-log"
	StageOverview   = "generate-overview"
	StagePost       = "post-summary"
)

// Stages holds the stage entry points. Each stage is responsible for its own
// side effects; the runner only sequences and short-circuits.
type Stages struct {
	// GenerateIndividual returns the number of summarized commits.
	GenerateIndividual func(ctx context.Context) (int, error)
	// GenerateStructured writes the machine-readable digest. Optional; its
	// failures never abort the run.
	GenerateStructured func(ctx context.Context) error
	// GenerateOverview may return apperr.ErrPolicySkip or
	// apperr.ErrNothingToReport, both of which end the pipeline successfully.
	GenerateOverview func(ctx context.Context) error
	Post             func(ctx context.Context) error
}

// Result describes how far a pipeline run got and why it stopped.
type Result struct {
	LastStage string
	Skipped   bool
	Reason    string
	Commits   int
}

// Runner executes the pipeline.
type Runner struct {
	stages Stages
	logger *slog.Logger
}

// NewRunner creates a pipeline runner.
func NewRunner(stages Stages, logger *slog.Logger) *Runner {
	return &Runner{stages: stages, logger: logger}
}

// Run executes the stages in order. Policy skips and empty days end the run
// early without error; any other stage failure aborts.
func (r *Runner) Run(ctx context.Context, noPosting bool) (Result, error) {
	result := Result{LastStage: StageIndividual}
	commits, err := r.stages.GenerateIndividual(ctx)
	if err != nil {
		return result, fmt.Errorf("pipeline: %s: %w", StageIndividual, err)
	}
	result.Commits = commits
	if commits == 0 {
		r.logger.Info("no commits to summarize, overview may still have external input")
	}

	if r.stages.GenerateStructured != nil {
		result.LastStage = StageStructured
		if err := r.stages.GenerateStructured(ctx); err != nil {
			switch {
			case errors.Is(err, apperr.ErrPolicySkip), errors.Is(err, apperr.ErrNothingToReport):
				r.logger.Info("structured log skipped", slog.String("reason", err.Error()))
			default:
				// The digest is a by-product; the prose overview still runs.
				r.logger.Warn("structured log failed", slog.String("error", err.Error()))
			}
		}
	}

	result.LastStage = StageOverview
	if err := r.stages.GenerateOverview(ctx); err != nil {
		switch {
		case errors.Is(err, apperr.ErrPolicySkip):
			r.logger.Info("overview skipped by weekday policy")
			result.Skipped = true
			result.Reason = "policy skip"
			return result, nil
		case errors.Is(err, apperr.ErrNothingToReport):
			r.logger.Info("nothing to report today")
			result.Skipped = true
			result.Reason = "nothing to report"
			return result, nil
		default:
			return result, fmt.Errorf("pipeline: %s: %w", StageOverview, err)
		}
	}

	if noPosting {
		r.logger.Info("posting disabled, stopping after overview")
		result.Reason = "posting disabled"
		return result, nil
	}

	result.LastStage = StagePost
	if err := r.stages.Post(ctx); err != nil {
		// Generation already succeeded and the files are on disk; only the
		// posting step's status is at stake.
		return result, fmt.Errorf("pipeline: %s: %w", StagePost, err)
	}
	return result, nil
}
