// Package build materializes component checkouts and runs their build steps.
//
// Checkouts live under a cache root keyed by the "org/name" source
// coordinate. A checkout that already exists is reused as-is and never
// re-synced to a different revision; a staleness warning is logged when the
// build ledger shows it was made from another revision.
package build

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/roach88/fpt/internal/executor"
	"github.com/roach88/fpt/internal/registry"
	"github.com/roach88/fpt/internal/store"
)

// Orchestrator ensures components are checked out and built.
// Safe for concurrent use.
type Orchestrator struct {
	root   string
	ledger *store.Store
	remote func(repo string) string
	logger *slog.Logger
	stream io.Writer
	diag   io.Writer

	mu    sync.Mutex
	locks map[string]*sync.Mutex
	built map[string]bool
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithRemote overrides how a source coordinate maps to a clone URL.
func WithRemote(fn func(repo string) string) Option {
	return func(o *Orchestrator) { o.remote = fn }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithStream copies build step output to w as it is produced. A failing
// step's output is then not repeated on the diagnostics writer.
func WithStream(w io.Writer) Option {
	return func(o *Orchestrator) { o.stream = w }
}

// WithDiagnostics sets where captured output of a failing step is written.
func WithDiagnostics(w io.Writer) Option {
	return func(o *Orchestrator) { o.diag = w }
}

// GitHubRemote maps "org/name" to its GitHub HTTPS URL.
func GitHubRemote(repo string) string {
	return "https://github.com/" + repo
}

// New creates an orchestrator rooted at root. ledger may be nil, in which
// case build steps always run for checkouts not built in this process.
func New(root string, ledger *store.Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		root:   root,
		ledger: ledger,
		remote: GitHubRemote,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		diag:   os.Stderr,
		locks:  make(map[string]*sync.Mutex),
		built:  make(map[string]bool),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Root returns the checkout cache root.
func (o *Orchestrator) Root() string {
	return o.root
}

// Fingerprint identifies a build spec by its repo, revision, workdir and steps.
func Fingerprint(spec registry.BuildSpec) string {
	h := sha256.New()
	for _, part := range append([]string{spec.Repo, spec.Rev, spec.WorkDir}, spec.Steps...) {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// CheckoutDir returns the checkout root for a source coordinate.
func (o *Orchestrator) CheckoutDir(repo string) string {
	return filepath.Join(o.root, filepath.FromSlash(repo))
}

// Path returns the working directory of a spec inside its checkout.
func (o *Orchestrator) Path(spec registry.BuildSpec) string {
	workdir := spec.WorkDir
	if workdir == "" {
		workdir = "."
	}
	return filepath.Join(o.CheckoutDir(spec.Repo), filepath.FromSlash(workdir))
}

// IsBuilt reports whether the spec was built by this orchestrator.
func (o *Orchestrator) IsBuilt(spec registry.BuildSpec) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.built[Fingerprint(spec)]
}

// EnsureBuilt makes sure a checkout of spec exists and its steps have run.
// Calling it again for a built spec does nothing. name attributes failures.
func (o *Orchestrator) EnsureBuilt(ctx context.Context, name string, spec registry.BuildSpec) error {
	fp := Fingerprint(spec)
	if o.IsBuilt(spec) {
		return nil
	}

	checkout := o.CheckoutDir(spec.Repo)
	unlock := o.lock(checkout)
	defer unlock()

	// Another caller may have finished while we waited.
	if o.IsBuilt(spec) {
		return nil
	}

	logger := o.logger.With("component", name, "repo", spec.Repo, "rev", spec.Rev)

	commit, cloned, err := o.ensureCheckout(ctx, logger, spec)
	if err != nil {
		return &Error{Component: name, Repo: spec.Repo, Err: err}
	}

	// A fresh clone always builds; the ledger only vouches for output
	// that is still on disk.
	var skip bool
	if !cloned {
		if skip, err = o.Recorded(ctx, spec); err != nil {
			logger.Warn("build ledger lookup failed", "error", err)
		}
	}
	if skip {
		logger.Debug("build steps already recorded, skipping")
	} else {
		if err := o.runSteps(ctx, logger, name, spec); err != nil {
			return err
		}
		if o.ledger != nil {
			err := o.ledger.RecordBuild(ctx, store.Build{
				Fingerprint: fp,
				Component:   name,
				Repo:        spec.Repo,
				Rev:         spec.Rev,
				Commit:      commit,
				WorkDir:     spec.WorkDir,
				BuiltAt:     time.Now(),
			})
			if err != nil {
				logger.Warn("failed to record build", "error", err)
			}
		}
	}

	o.mu.Lock()
	o.built[fp] = true
	o.mu.Unlock()
	logger.Info("component ready")
	return nil
}

// Artifact resolves a logical artifact name to an absolute path.
func (o *Orchestrator) Artifact(spec registry.BuildSpec, name string) (string, error) {
	rel, ok := spec.Artifacts[name]
	if !ok {
		return "", fmt.Errorf("%w: %s does not declare %q", ErrArtifactNotFound, spec.Repo, name)
	}
	if !o.IsBuilt(spec) {
		return "", fmt.Errorf("%w: %s has not been built", ErrArtifactNotFound, spec.Repo)
	}

	path, err := filepath.Abs(filepath.Join(o.Path(spec), filepath.FromSlash(rel)))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrArtifactNotFound, err)
	}
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrArtifactNotFound, name, err)
	}
	return path, nil
}

func (o *Orchestrator) lock(path string) func() {
	o.mu.Lock()
	m, ok := o.locks[path]
	if !ok {
		m = &sync.Mutex{}
		o.locks[path] = m
	}
	o.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// Recorded reports whether the ledger holds a successful build of spec
// whose declared artifacts all still exist in the checkout.
func (o *Orchestrator) Recorded(ctx context.Context, spec registry.BuildSpec) (bool, error) {
	if o.ledger == nil {
		return false, nil
	}
	_, ok, err := o.ledger.LookupBuild(ctx, Fingerprint(spec))
	if err != nil || !ok {
		return false, err
	}
	for _, rel := range spec.Artifacts {
		if _, err := os.Stat(filepath.Join(o.Path(spec), filepath.FromSlash(rel))); err != nil {
			return false, nil
		}
	}
	return true, nil
}

// ensureCheckout clones the repository at spec.Rev unless a checkout already
// exists. Returns the commit hash on disk ("" when it cannot be read) and
// whether this call cloned.
func (o *Orchestrator) ensureCheckout(ctx context.Context, logger *slog.Logger, spec registry.BuildSpec) (string, bool, error) {
	dir := o.CheckoutDir(spec.Repo)

	if _, err := os.Stat(dir); err == nil {
		o.warnIfStale(ctx, logger, spec)
		return headCommit(dir), false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", false, err
	}

	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		return "", false, err
	}

	url := o.remote(spec.Repo)
	logger.Info("cloning", "url", url)
	repo, err := git.PlainCloneContext(ctx, dir, false, &git.CloneOptions{
		URL:  url,
		Tags: git.AllTags,
	})
	if err != nil {
		os.RemoveAll(dir)
		return "", false, fmt.Errorf("clone %s: %w", url, err)
	}

	hash, err := resolveRevision(repo, spec.Rev)
	if err != nil {
		os.RemoveAll(dir)
		return "", false, err
	}

	wt, err := repo.Worktree()
	if err != nil {
		os.RemoveAll(dir)
		return "", false, fmt.Errorf("open worktree: %w", err)
	}
	if err := wt.Checkout(&git.CheckoutOptions{Hash: hash, Force: true}); err != nil {
		os.RemoveAll(dir)
		return "", false, fmt.Errorf("checkout %s: %w", spec.Rev, err)
	}

	logger.Debug("checked out", "commit", hash.String())
	return hash.String(), true, nil
}

// TODO: re-checkout when the pinned revision differs from the ledger record
// once it is settled whether reusing a stale checkout is intended.
func (o *Orchestrator) warnIfStale(ctx context.Context, logger *slog.Logger, spec registry.BuildSpec) {
	if o.ledger == nil {
		return
	}
	last, ok, err := o.ledger.LatestCheckout(ctx, spec.Repo)
	if err != nil || !ok {
		return
	}
	if last.Rev != spec.Rev {
		logger.Warn("existing checkout was built from a different revision and will not be re-synced",
			"checkout_rev", last.Rev, "dir", o.CheckoutDir(spec.Repo))
	}
}

// resolveRevision resolves a tag, branch or commit, falling back to the
// remote-tracking branch for branches other than the default.
func resolveRevision(repo *git.Repository, rev string) (plumbing.Hash, error) {
	hash, err := repo.ResolveRevision(plumbing.Revision(rev))
	if err == nil {
		return *hash, nil
	}
	hash, remoteErr := repo.ResolveRevision(plumbing.Revision("origin/" + rev))
	if remoteErr == nil {
		return *hash, nil
	}
	return plumbing.ZeroHash, fmt.Errorf("resolve revision %q: %w", rev, err)
}

func headCommit(dir string) string {
	repo, err := git.PlainOpen(dir)
	if err != nil {
		return ""
	}
	head, err := repo.Head()
	if err != nil {
		return ""
	}
	return head.Hash().String()
}

func (o *Orchestrator) runSteps(ctx context.Context, logger *slog.Logger, name string, spec registry.BuildSpec) error {
	workdir := o.Path(spec)
	for _, step := range spec.Steps {
		logger.Info("running build step", "step", step)
		opts := []executor.Option{executor.WithWorkingDir(workdir)}
		if o.stream != nil {
			opts = append(opts, executor.WithStdoutWriter(o.stream), executor.WithStderrWriter(o.stream))
		}
		result, err := executor.Shell(step).Execute(ctx, opts...)
		if err != nil {
			return &Error{Component: name, Repo: spec.Repo, Step: step, Err: err}
		}
		if !result.Success() {
			if out := result.Output(); out != "" && o.stream == nil {
				fmt.Fprintf(o.diag, "--- output of %q (%s) ---\n%s\n", step, name, out)
			}
			return &Error{
				Component: name,
				Repo:      spec.Repo,
				Step:      step,
				Err:       fmt.Errorf("%w: exit code %d", ErrStepFailed, result.ExitCode),
			}
		}
	}
	return nil
}
