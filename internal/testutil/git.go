package testutil

import (
	"os/exec"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// RequireGit skips the test when the git binary is unavailable. Cloning
// from a local path runs git-upload-pack.
func RequireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
}

// GitRepo is a local repository used as a clone source in tests.
type GitRepo struct {
	Dir  string
	repo *git.Repository
	t    *testing.T
}

// InitRepo creates an empty repository in a temp directory.
func InitRepo(t *testing.T) *GitRepo {
	t.Helper()
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	if err != nil {
		t.Fatalf("init repo: %v", err)
	}
	return &GitRepo{Dir: dir, repo: repo, t: t}
}

// Commit writes files and commits them, returning the commit hash.
func (r *GitRepo) Commit(msg string, files map[string]string) string {
	r.t.Helper()
	wt, err := r.repo.Worktree()
	if err != nil {
		r.t.Fatalf("worktree: %v", err)
	}
	for name, content := range files {
		WriteFile(r.t, r.Dir, name, content)
		if _, err := wt.Add(name); err != nil {
			r.t.Fatalf("add %s: %v", name, err)
		}
	}
	hash, err := wt.Commit(msg, &git.CommitOptions{
		Author: &object.Signature{
			Name:  "fpt",
			Email: "fpt@example.com",
			When:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		},
	})
	if err != nil {
		r.t.Fatalf("commit: %v", err)
	}
	return hash.String()
}

// Tag creates a lightweight tag at HEAD.
func (r *GitRepo) Tag(name string) {
	r.t.Helper()
	head, err := r.repo.Head()
	if err != nil {
		r.t.Fatalf("head: %v", err)
	}
	if _, err := r.repo.CreateTag(name, head.Hash(), nil); err != nil {
		r.t.Fatalf("tag %s: %v", name, err)
	}
}
