package checkpoint

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func tempStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), "checkpoint"))
}

func TestLoadMissingFile(t *testing.T) {
	s := tempStore(t)
	_, ok, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if ok {
		t.Error("missing file should report ok=false")
	}
}

func TestLoadEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint")
	if err := os.WriteFile(path, []byte("\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, ok, err := NewStore(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if ok {
		t.Error("empty file should report ok=false")
	}
}

func TestSaveLoadRoundtrip(t *testing.T) {
	s := tempStore(t)
	want := time.Date(2025, 7, 21, 8, 30, 0, 0, time.UTC)
	if err := s.Save(want); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, ok, err := s.Load()
	if err != nil || !ok {
		t.Fatalf("Load: ok=%v err=%v", ok, err)
	}
	if !got.Equal(want) {
		t.Errorf("Load = %v, want %v", got, want)
	}
}

func TestSaveRefusesBackwards(t *testing.T) {
	s := tempStore(t)
	newer := time.Date(2025, 7, 21, 8, 0, 0, 0, time.UTC)
	if err := s.Save(newer); err != nil {
		t.Fatalf("Save: %v", err)
	}
	err := s.Save(newer.Add(-time.Hour))
	if err == nil {
		t.Fatal("moving the checkpoint backwards should fail")
	}
	if !strings.Contains(err.Error(), "backwards") {
		t.Errorf("unexpected error: %v", err)
	}

	got, _, _ := s.Load()
	if !got.Equal(newer) {
		t.Errorf("checkpoint changed to %v after refused save", got)
	}
}

func TestLoadGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint")
	if err := os.WriteFile(path, []byte("not a timestamp"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, _, err := NewStore(path).Load(); err == nil {
		t.Error("garbage content should fail to parse")
	}
}
