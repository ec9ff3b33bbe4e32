package overview

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/qbiolab/scribe/internal/apperr"
	"github.com/qbiolab/scribe/internal/storage"
)

func testStructuredLogger(t *testing.T, model *fakeLLM) (*StructuredLogger, *storage.Dir) {
	t.Helper()
	output, err := storage.NewDir(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	logger := NewStructuredLogger(model, output, StructuredOptions{
		Model:         "test-model",
		Language:      "English",
		LabInfo:       "the QBio lab",
		StaticContext: "seminar every thursday",
		RangesFor:     weekdayRanges,
		BoundaryHour:  4,
		Location:      time.UTC,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return logger, output
}

func TestStructuredRunWritesJSONL(t *testing.T) {
	model := &fakeLLM{reply: "```\n" +
		`{"authors":["Ada"],"summary":"Finished the assay."}` + "\n" +
		"Here are the logs you asked for:\n" +
		`{"authors":["Grace"],"summary":"Started the pipeline rewrite."}` + "\n```"}
	logger, output := testStructuredLogger(t, model)
	writeIndividual(t, output, monday, "# Individual Updates\nAda did things.\n")

	result, err := logger.Run(context.Background(), monday, true)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Entries != 2 || !result.DidWrite {
		t.Errorf("result = %+v", result)
	}
	if result.Path != "2025/07/20250721-summary.jsonl" {
		t.Errorf("path = %q", result.Path)
	}
	data, err := output.Read(result.Path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %q", lines)
	}
	if strings.Contains(string(data), "Here are the logs") {
		t.Error("prose line survived cleaning")
	}
	if !strings.Contains(model.gotSystem, "the QBio lab") ||
		!strings.Contains(model.gotSystem, "the weekend") {
		t.Errorf("system prompt = %q", model.gotSystem)
	}
	if !strings.Contains(model.gotSystem, "seminar every thursday") {
		t.Errorf("static context missing from prompt: %q", model.gotSystem)
	}
}

func TestStructuredRunPolicySkip(t *testing.T) {
	logger, output := testStructuredLogger(t, &fakeLLM{})
	sunday := monday.AddDate(0, 0, -1)
	writeIndividual(t, output, sunday, "updates")

	_, err := logger.Run(context.Background(), sunday, true)
	if !errors.Is(err, apperr.ErrPolicySkip) {
		t.Errorf("err = %v", err)
	}
}

func TestStructuredRunNothingToReport(t *testing.T) {
	logger, _ := testStructuredLogger(t, &fakeLLM{})

	_, err := logger.Run(context.Background(), monday, true)
	if !errors.Is(err, apperr.ErrNothingToReport) {
		t.Errorf("err = %v", err)
	}
}

func TestStructuredRunNoValidLinesWritesNothing(t *testing.T) {
	model := &fakeLLM{reply: "Sorry, I could not produce structured output today."}
	logger, output := testStructuredLogger(t, model)
	writeIndividual(t, output, monday, "updates")

	result, err := logger.Run(context.Background(), monday, true)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Entries != 0 || result.DidWrite || result.Path != "" {
		t.Errorf("result = %+v", result)
	}
	if _, err := output.Read(storage.DatedFile(monday, "-summary", ".jsonl")); err == nil {
		t.Error("no file should exist")
	}
}

func TestStructuredRunNoWrite(t *testing.T) {
	model := &fakeLLM{reply: `{"authors":[],"summary":"One update."}`}
	logger, output := testStructuredLogger(t, model)
	writeIndividual(t, output, monday, "updates")

	result, err := logger.Run(context.Background(), monday, false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Entries != 1 || result.DidWrite {
		t.Errorf("result = %+v", result)
	}
	if _, err := output.Read(result.Path); err == nil {
		t.Error("no-write must leave the disk untouched")
	}
}

func TestCleanJSONL(t *testing.T) {
	cases := []struct {
		name    string
		in      string
		entries int
	}{
		{"plain", `{"a":1}` + "\n" + `{"b":2}`, 2},
		{"fenced", "```json\n" + `{"a":1}` + "\n```", 1},
		{"prose mixed in", "Here you go:\n" + `{"a":1}`, 1},
		{"broken json dropped", `{"a":` + "\n" + `{"b":2}`, 1},
		{"empty", "", 0},
	}
	for _, c := range cases {
		_, entries := CleanJSONL(c.in)
		if entries != c.entries {
			t.Errorf("%s: entries = %d, want %d", c.name, entries, c.entries)
		}
	}
}
