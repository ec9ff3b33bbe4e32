package notion

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/qbiolab/scribe/internal/checkpoint"
	"github.com/qbiolab/scribe/internal/gitrepo"
	"github.com/qbiolab/scribe/internal/storage"
)

type fakeWorkspace struct {
	pages     []Page
	bodies    map[string]string
	failPages map[string]bool
	listErr   error
	gotSince  time.Time
}

func (f *fakeWorkspace) ChangedPagesSince(ctx context.Context, since time.Time) ([]Page, error) {
	f.gotSince = since
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.pages, nil
}

func (f *fakeWorkspace) RenderPage(ctx context.Context, page Page) (string, error) {
	if f.failPages[page.ID] {
		return "", errors.New("render exploded")
	}
	return f.bodies[page.ID], nil
}

func (f *fakeWorkspace) PagePath(ctx context.Context, pageID string) (string, error) {
	return "Projects / " + pageID, nil
}

type fakeResolver struct{}

func (fakeResolver) Resolve(ctx context.Context, userID string) string { return "Ada" }

func testEngine(t *testing.T, workspace *fakeWorkspace, lookback int) (*Engine, *gitrepo.Service, *checkpoint.Store) {
	t.Helper()
	repo, err := gitrepo.Init(t.TempDir())
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	store, err := storage.NewDir(repo.Path())
	if err != nil {
		t.Fatalf("NewDir: %v", err)
	}
	ckpt := checkpoint.NewStore(filepath.Join(t.TempDir(), "checkpoint"))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	engine := NewEngine(workspace, repo, store, ckpt, fakeResolver{}, EngineOptions{
		LookbackDays:     lookback,
		DumpPathTemplate: "{noteid_0}/{noteid}.md",
		HeaderTemplate:   "# {title}\nBy {last_edited_by}\n",
		CommitTemplate:   "Automated commit: {datetime}",
	}, logger)
	return engine, repo, ckpt
}

func page(id, title string) Page {
	return Page{ID: id, Title: title, LastEditedBy: "u1", LastEditedTime: time.Now()}
}

func TestSyncWindowUsesLookbackWithoutCheckpoint(t *testing.T) {
	workspace := &fakeWorkspace{}
	engine, _, _ := testEngine(t, workspace, 7)

	before := time.Now().AddDate(0, 0, -7).Add(-time.Minute)
	if _, err := engine.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	after := time.Now().AddDate(0, 0, -7).Add(time.Minute)
	if workspace.gotSince.Before(before) || workspace.gotSince.After(after) {
		t.Errorf("since = %v, want roughly now-7d", workspace.gotSince)
	}
}

func TestSyncWindowUsesCheckpointWhenPresent(t *testing.T) {
	workspace := &fakeWorkspace{}
	engine, _, ckpt := testEngine(t, workspace, 7)

	saved := time.Now().Add(-2 * time.Hour).Truncate(time.Second)
	if err := ckpt.Save(saved); err != nil {
		t.Fatal(err)
	}
	if _, err := engine.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !workspace.gotSince.Equal(saved) {
		t.Errorf("since = %v, want checkpoint %v", workspace.gotSince, saved)
	}
}

func TestSyncExportsCommitsAndAdvancesCheckpoint(t *testing.T) {
	workspace := &fakeWorkspace{
		pages:  []Page{page("aaaa1111", "Alpha"), page("bbbb2222", "Beta")},
		bodies: map[string]string{"aaaa1111": "body A\n", "bbbb2222": "body B\n"},
	}
	engine, repo, ckpt := testEngine(t, workspace, 7)

	start := time.Now()
	result, err := engine.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Exported != 2 || !result.Committed {
		t.Fatalf("result = %+v", result)
	}

	data, err := os.ReadFile(filepath.Join(repo.Path(), "a", "aaaa1111.md"))
	if err != nil {
		t.Fatalf("exported file missing: %v", err)
	}
	content := string(data)
	if content != "# Alpha\nBy Ada\nbody A\n" {
		t.Errorf("content = %q", content)
	}

	saved, ok, err := ckpt.Load()
	if err != nil || !ok {
		t.Fatalf("checkpoint not saved: ok=%v err=%v", ok, err)
	}
	if saved.Before(start.Truncate(time.Second)) || saved.After(time.Now()) {
		t.Errorf("checkpoint = %v, want this run's start time", saved)
	}

	commits, err := repo.CommitsBetween(context.Background(), start.Add(-time.Minute), time.Now().Add(time.Minute), 0)
	if err != nil {
		t.Fatalf("CommitsBetween: %v", err)
	}
	if len(commits) != 1 {
		t.Fatalf("got %d commits, want 1", len(commits))
	}
}

func TestSyncSkipsFailingPage(t *testing.T) {
	workspace := &fakeWorkspace{
		pages:     []Page{page("aaaa1111", "Alpha"), page("bbbb2222", "Beta")},
		bodies:    map[string]string{"bbbb2222": "body B\n"},
		failPages: map[string]bool{"aaaa1111": true},
	}
	engine, _, ckpt := testEngine(t, workspace, 7)

	result, err := engine.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Exported != 1 || result.Skipped != 1 {
		t.Errorf("result = %+v", result)
	}
	if _, ok, _ := ckpt.Load(); !ok {
		t.Error("partial success should still advance the checkpoint")
	}
}

func TestSyncAbortsOnListFailure(t *testing.T) {
	workspace := &fakeWorkspace{listErr: errors.New("401 unauthorized")}
	engine, _, ckpt := testEngine(t, workspace, 7)

	if _, err := engine.Run(context.Background()); err == nil {
		t.Fatal("client-level failure should abort")
	}
	if _, ok, _ := ckpt.Load(); ok {
		t.Error("checkpoint must not move on an aborted run")
	}
}

func TestSyncNoUpdatesLeavesCheckpointAlone(t *testing.T) {
	workspace := &fakeWorkspace{}
	engine, _, ckpt := testEngine(t, workspace, 7)

	result, err := engine.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Fetched != 0 || result.Committed {
		t.Errorf("result = %+v", result)
	}
	if _, ok, _ := ckpt.Load(); ok {
		t.Error("no-op run should not create a checkpoint")
	}
}

func TestSyncHonorsBlacklist(t *testing.T) {
	workspace := &fakeWorkspace{
		pages:  []Page{page("aaaa1111", "Alpha"), page("bbbb2222", "Beta")},
		bodies: map[string]string{"aaaa1111": "a", "bbbb2222": "b"},
	}
	engine, repo, _ := testEngine(t, workspace, 7)

	blacklist := filepath.Join(t.TempDir(), "blacklist")
	content := "# banned pages\nAAAA1111 old project page\n"
	if err := os.WriteFile(blacklist, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	engine.opts.BlacklistFile = blacklist

	result, err := engine.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Exported != 1 || result.Skipped != 1 {
		t.Errorf("result = %+v", result)
	}
	if _, err := os.Stat(filepath.Join(repo.Path(), "a", "aaaa1111.md")); err == nil {
		t.Error("blacklisted page should not be exported")
	}
}

func TestLoadBlacklistMissingFile(t *testing.T) {
	got, err := LoadBlacklist(filepath.Join(t.TempDir(), "nope"))
	if err != nil {
		t.Fatalf("LoadBlacklist: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("missing file should mean empty blacklist, got %v", got)
	}
}
