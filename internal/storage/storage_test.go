package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func tempDir(t *testing.T) *Dir {
	t.Helper()
	d, err := NewDir(t.TempDir())
	if err != nil {
		t.Fatalf("NewDir: %v", err)
	}
	return d
}

func TestWriteIfChangedWritesOnce(t *testing.T) {
	d := tempDir(t)
	wrote, err := d.WriteIfChanged("a/b/note.md", []byte("hello"))
	if err != nil {
		t.Fatalf("WriteIfChanged: %v", err)
	}
	if !wrote {
		t.Error("first write should report wrote=true")
	}

	wrote, err = d.WriteIfChanged("a/b/note.md", []byte("hello"))
	if err != nil {
		t.Fatalf("WriteIfChanged: %v", err)
	}
	if wrote {
		t.Error("identical content should not rewrite")
	}

	wrote, _ = d.WriteIfChanged("a/b/note.md", []byte("changed"))
	if !wrote {
		t.Error("changed content should rewrite")
	}
	got, err := d.Read("a/b/note.md")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "changed" {
		t.Errorf("content = %q", got)
	}
}

func TestSafePathRejectsEscape(t *testing.T) {
	d := tempDir(t)
	for _, path := range []string{"../escape.md", "a/../../escape.md", "/abs.md", "", "."} {
		if _, err := d.WriteIfChanged(path, []byte("x")); err == nil {
			t.Errorf("path %q should be rejected", path)
		}
	}
}

func TestWriteAtomicLeavesNoTempFiles(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "sub", "out.txt")
	if err := WriteAtomic(target, []byte("data")); err != nil {
		t.Fatalf("WriteAtomic: %v", err)
	}
	entries, err := os.ReadDir(filepath.Join(root, "sub"))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "out.txt" {
		t.Errorf("unexpected directory contents: %v", entries)
	}
}

func TestDatedPath(t *testing.T) {
	date := time.Date(2025, 7, 21, 0, 0, 0, 0, time.UTC)
	got := DatedPath(date, "-indiv")
	want := filepath.Join("2025", "07", "20250721-indiv.md")
	if got != want {
		t.Errorf("DatedPath = %q, want %q", got, want)
	}

	got = DatedFile(date, "-summary", ".jsonl")
	want = filepath.Join("2025", "07", "20250721-summary.jsonl")
	if got != want {
		t.Errorf("DatedFile = %q, want %q", got, want)
	}
}

func TestChecksumDiffers(t *testing.T) {
	if Checksum([]byte("a")) == Checksum([]byte("b")) {
		t.Error("different content should have different checksums")
	}
	if Checksum([]byte("a")) != Checksum([]byte("a")) {
		t.Error("identical content should have identical checksums")
	}
}
