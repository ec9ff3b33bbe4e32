package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/qbiolab/scribe/internal/apperr"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type trace struct {
	stages []string
}

func (tr *trace) stagesFunc(commits int, overviewErr, postErr error) Stages {
	return Stages{
		GenerateIndividual: func(ctx context.Context) (int, error) {
			tr.stages = append(tr.stages, StageIndividual)
			return commits, nil
		},
		GenerateOverview: func(ctx context.Context) error {
			tr.stages = append(tr.stages, StageOverview)
			return overviewErr
		},
		Post: func(ctx context.Context) error {
			tr.stages = append(tr.stages, StagePost)
			return postErr
		},
	}
}

func TestFullRun(t *testing.T) {
	tr := &trace{}
	runner := NewRunner(tr.stagesFunc(2, nil, nil), discard())

	result, err := runner.Run(context.Background(), false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Skipped || result.Commits != 2 || result.LastStage != StagePost {
		t.Errorf("result = %+v", result)
	}
	want := []string{StageIndividual, StageOverview, StagePost}
	if fmt.Sprint(tr.stages) != fmt.Sprint(want) {
		t.Errorf("stages = %v", tr.stages)
	}
}

func TestPolicySkipEndsRunSuccessfully(t *testing.T) {
	tr := &trace{}
	runner := NewRunner(tr.stagesFunc(2, fmt.Errorf("sunday: %w", apperr.ErrPolicySkip), nil), discard())

	result, err := runner.Run(context.Background(), false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.Skipped || result.Reason != "policy skip" {
		t.Errorf("result = %+v", result)
	}
	for _, stage := range tr.stages {
		if stage == StagePost {
			t.Error("posting must not run on a skipped day")
		}
	}
}

func TestNothingToReportEndsRunSuccessfully(t *testing.T) {
	tr := &trace{}
	runner := NewRunner(tr.stagesFunc(0, fmt.Errorf("empty: %w", apperr.ErrNothingToReport), nil), discard())

	result, err := runner.Run(context.Background(), false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.Skipped || result.Reason != "nothing to report" {
		t.Errorf("result = %+v", result)
	}
}

func TestNoPostingStopsAfterOverview(t *testing.T) {
	tr := &trace{}
	runner := NewRunner(tr.stagesFunc(1, nil, nil), discard())

	result, err := runner.Run(context.Background(), true)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.LastStage != StageOverview {
		t.Errorf("LastStage = %q", result.LastStage)
	}
	for _, stage := range tr.stages {
		if stage == StagePost {
			t.Error("posting must not run with no-posting")
		}
	}
}

func TestStructuredFailureDoesNotAbort(t *testing.T) {
	tr := &trace{}
	stages := tr.stagesFunc(1, nil, nil)
	stages.GenerateStructured = func(ctx context.Context) error {
		tr.stages = append(tr.stages, StageStructured)
		return errors.New("llm timeout")
	}
	runner := NewRunner(stages, discard())

	result, err := runner.Run(context.Background(), false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.LastStage != StagePost {
		t.Errorf("LastStage = %q", result.LastStage)
	}
	want := []string{StageIndividual, StageStructured, StageOverview, StagePost}
	if fmt.Sprint(tr.stages) != fmt.Sprint(want) {
		t.Errorf("stages = %v", tr.stages)
	}
}

func TestStructuredStageOptional(t *testing.T) {
	tr := &trace{}
	runner := NewRunner(tr.stagesFunc(1, nil, nil), discard())

	if _, err := runner.Run(context.Background(), false); err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, stage := range tr.stages {
		if stage == StageStructured {
			t.Error("structured stage ran without being configured")
		}
	}
}

func TestStageFailureAborts(t *testing.T) {
	tr := &trace{}
	runner := NewRunner(tr.stagesFunc(1, errors.New("llm down"), nil), discard())

	_, err := runner.Run(context.Background(), false)
	if err == nil {
		t.Fatal("overview failure should abort")
	}
}

func TestPostFailurePropagates(t *testing.T) {
	tr := &trace{}
	runner := NewRunner(tr.stagesFunc(1, nil, errors.New("slack down")), discard())

	result, err := runner.Run(context.Background(), false)
	if err == nil {
		t.Fatal("post failure should be the run's error")
	}
	if result.LastStage != StagePost {
		t.Errorf("LastStage = %q", result.LastStage)
	}
}

func TestIndividualFailureSkipsRest(t *testing.T) {
	tr := &trace{}
	stages := tr.stagesFunc(0, nil, nil)
	stages.GenerateIndividual = func(ctx context.Context) (int, error) {
		return 0, errors.New("repo missing")
	}
	runner := NewRunner(stages, discard())

	if _, err := runner.Run(context.Background(), false); err == nil {
		t.Fatal("individual failure should abort")
	}
	if len(tr.stages) != 0 {
		t.Errorf("later stages ran: %v", tr.stages)
	}
}
