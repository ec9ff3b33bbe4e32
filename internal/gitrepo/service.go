// Package gitrepo wraps the version-controlled notes repository: staging and
// committing sync output, and extracting per-commit diffs for summarization.
package gitrepo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/utils/merkletrie"
)

// TruncationMarker is appended to diffs cut at the configured length.
const TruncationMarker = "\n[... diff truncated ...]\n"

// Commit is one repository commit with its rendered diff.
type Commit struct {
	Hash    string
	Author  string
	Message string
	When    time.Time
	Diff    string
}

// Service operates on a single existing git repository.
type Service struct {
	path string
	repo *git.Repository
}

// Open opens the repository at path.
func Open(path string) (*Service, error) {
	repo, err := git.PlainOpen(path)
	if err != nil {
		return nil, fmt.Errorf("gitrepo: open %s: %w", path, err)
	}
	return &Service{path: path, repo: repo}, nil
}

// Init creates a new repository at path.
func Init(path string) (*Service, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("gitrepo: create %s: %w", path, err)
	}
	repo, err := git.PlainInit(path, false)
	if err != nil {
		return nil, fmt.Errorf("gitrepo: init %s: %w", path, err)
	}
	return &Service{path: path, repo: repo}, nil
}

// OpenOrInit opens the repository at path, initializing a fresh one when
// none exists yet.
func OpenOrInit(path string) (*Service, error) {
	svc, err := Open(path)
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return Init(path)
		}
		return nil, err
	}
	return svc, nil
}

// Path returns the repository root.
func (s *Service) Path() string { return s.path }

// CommitAll stages every change in the worktree and commits it. It reports
// false without error when the worktree is clean.
func (s *Service) CommitAll(message, authorName, authorEmail string, when time.Time) (string, bool, error) {
	worktree, err := s.repo.Worktree()
	if err != nil {
		return "", false, fmt.Errorf("gitrepo: open worktree: %w", err)
	}
	if err := worktree.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return "", false, fmt.Errorf("gitrepo: stage changes: %w", err)
	}
	status, err := worktree.Status()
	if err != nil {
		return "", false, fmt.Errorf("gitrepo: read status: %w", err)
	}
	if status.IsClean() {
		return "", false, nil
	}
	hash, err := worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  authorName,
			Email: authorEmail,
			When:  when,
		},
	})
	if err != nil {
		return "", false, fmt.Errorf("gitrepo: commit: %w", err)
	}
	return hash.String(), true, nil
}

// CommitsBetween returns commits whose author time falls in [start, end),
// ordered oldest first, each carrying a diff against its sole parent. Diffs
// are truncated to maxDiffLen characters when maxDiffLen > 0.
func (s *Service) CommitsBetween(ctx context.Context, start, end time.Time, maxDiffLen int) ([]Commit, error) {
	head, err := s.repo.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return nil, nil // empty repository
		}
		return nil, fmt.Errorf("gitrepo: resolve HEAD: %w", err)
	}

	iter, err := s.repo.Log(&git.LogOptions{From: head.Hash(), Since: &start})
	if err != nil {
		return nil, fmt.Errorf("gitrepo: read log: %w", err)
	}
	defer iter.Close()

	var commits []Commit
	err = iter.ForEach(func(c *object.Commit) error {
		when := c.Author.When
		if when.Before(start) || !when.Before(end) {
			return nil
		}
		diff, err := s.commitDiff(ctx, c)
		if err != nil {
			return fmt.Errorf("diff for %s: %w", c.Hash.String()[:8], err)
		}
		commits = append(commits, Commit{
			Hash:    c.Hash.String(),
			Author:  c.Author.Name,
			Message: strings.TrimSpace(c.Message),
			When:    when,
			Diff:    Truncate(diff, maxDiffLen),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("gitrepo: iterate log: %w", err)
	}

	// Log yields newest first; the summary reads as a narrative, oldest first.
	for i, j := 0, len(commits)-1; i < j; i, j = i+1, j-1 {
		commits[i], commits[j] = commits[j], commits[i]
	}
	return commits, nil
}

// commitDiff renders the diff between a commit and its sole parent. A root
// commit is diffed against the empty tree.
func (s *Service) commitDiff(ctx context.Context, c *object.Commit) (string, error) {
	var fromTree *object.Tree
	if c.NumParents() > 0 {
		parent, err := c.Parent(0)
		if err != nil {
			return "", fmt.Errorf("load parent: %w", err)
		}
		fromTree, err = parent.Tree()
		if err != nil {
			return "", fmt.Errorf("load parent tree: %w", err)
		}
	}
	toTree, err := c.Tree()
	if err != nil {
		return "", fmt.Errorf("load tree: %w", err)
	}

	changes, err := object.DiffTreeWithOptions(ctx, fromTree, toTree, object.DefaultDiffTreeOptions)
	if err != nil {
		return "", fmt.Errorf("diff trees: %w", err)
	}

	var buf strings.Builder
	for _, change := range changes {
		action, err := change.Action()
		if err != nil {
			return "", fmt.Errorf("change action: %w", err)
		}
		switch action {
		case merkletrie.Insert:
			fmt.Fprintf(&buf, "=== added: %s\n", change.To.Name)
		case merkletrie.Delete:
			fmt.Fprintf(&buf, "=== deleted: %s\n", change.From.Name)
		case merkletrie.Modify:
			if change.From.Name != change.To.Name {
				fmt.Fprintf(&buf, "=== renamed: %s -> %s\n", change.From.Name, change.To.Name)
			} else {
				fmt.Fprintf(&buf, "=== modified: %s\n", change.To.Name)
			}
		}
		patch, err := change.PatchContext(ctx)
		if err != nil {
			return "", fmt.Errorf("render patch: %w", err)
		}
		buf.WriteString(patch.String())
		buf.WriteString("\n")
	}
	return buf.String(), nil
}

// Truncate cuts text to at most max bytes plus a visible marker. The cut
// never splits a UTF-8 sequence and prefers a nearby line boundary.
func Truncate(text string, max int) string {
	if max <= 0 || len(text) <= max {
		return text
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	if nl := strings.LastIndexByte(text[:cut], '\n'); nl > 0 && cut-nl < 512 {
		cut = nl
	}
	return text[:cut] + TruncationMarker
}
