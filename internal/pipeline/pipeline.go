// Package pipeline runs fixtures against a resolved component matrix.
//
// A run moves through three stages, each consuming the handle of the
// previous one:
//
//	p, _ := pipeline.New(matrix, cfg, deps)
//	ready, err := p.Setup(ctx)     // build, discover, expand, unpack
//	ran, err := ready.Run(ctx)     // execute every unit
//	done, err := ran.Teardown(ctx) // remove decompressed fixture data
//
// One permit pool of Config.Workers slots bounds unpacking, execution and
// cleanup alike. Infrastructure failures are returned only after every
// in-flight task has finished; a status mismatch is a failed Result, not
// an error.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/roach88/fpt/internal/backend"
	"github.com/roach88/fpt/internal/fixture"
	"github.com/roach88/fpt/internal/program"
	"github.com/roach88/fpt/internal/registry"
)

// DefaultWorkers is the permit pool size when Config.Workers is unset.
const DefaultWorkers = 4

// Artifact names every unit resolves.
const (
	ArtifactClient = "client"
	ArtifactHost   = "host"
	ArtifactBinary = "binary"
)

// Builder materializes components and resolves their artifacts.
type Builder interface {
	EnsureBuilt(ctx context.Context, name string, spec registry.BuildSpec) error
	Artifact(spec registry.BuildSpec, name string) (string, error)
}

// Unpacker decompresses and removes fixture data.
type Unpacker interface {
	Unpack(ctx context.Context, fx *fixture.Fixture) error
	Clean(fx *fixture.Fixture) error
}

// Reporter receives each result as it is recorded. Calls are serialized.
type Reporter interface {
	Report(Result)
}

// FixtureUnpacker is the Unpacker backed by the fixture package.
type FixtureUnpacker struct{}

func (FixtureUnpacker) Unpack(ctx context.Context, fx *fixture.Fixture) error {
	return fixture.Unpack(ctx, fx)
}

func (FixtureUnpacker) Clean(fx *fixture.Fixture) error {
	return fixture.Clean(fx)
}

// Config selects what a run covers.
type Config struct {
	FixturesDir string
	// Glob filters fixtures by directory name. Empty matches all.
	Glob string
	// Workers sizes the permit pool. Zero means DefaultWorkers.
	Workers int
	// Partition is "k/n"; empty runs every unit.
	Partition string
	// ScratchDir holds per-unit working directories. Empty uses the OS temp dir.
	ScratchDir string
}

// Deps are the collaborators of a pipeline. Builder is required.
type Deps struct {
	Builder     Builder
	Unpacker    Unpacker
	Reporter    Reporter
	Logger      *slog.Logger
	Diagnostics io.Writer
	Now         func() time.Time
	RunID       func() string
}

// Result is the outcome of one unit.
type Result struct {
	Unit     Unit
	Status   uint8
	Pass     bool
	Duration time.Duration
}

// Summary aggregates the results of a run.
type Summary struct {
	RunID   string
	Passed  int
	Failed  int
	Results []Result
}

// OK reports whether every unit passed.
func (s Summary) OK() bool {
	return s.Failed == 0
}

// Failures returns the failed results.
func (s Summary) Failures() []Result {
	var out []Result
	for _, r := range s.Results {
		if !r.Pass {
			out = append(out, r)
		}
	}
	return out
}

// run holds state shared by every phase of one invocation.
type run struct {
	id        string
	matrix    registry.Matrix
	cfg       Config
	partition Partition
	deps      Deps
	logger    *slog.Logger
	permits   *semaphore.Weighted

	mu      sync.Mutex
	summary Summary
}

// Pipeline is the initialized stage.
type Pipeline struct {
	r        *run
	consumed atomic.Bool
}

// Ready is the stage after a successful setup.
type Ready struct {
	r        *run
	units    []Unit
	fixtures []*fixture.Fixture
	consumed atomic.Bool
}

// Ran is the stage after every unit executed.
type Ran struct {
	r        *run
	fixtures []*fixture.Fixture
	summary  Summary
	consumed atomic.Bool
}

// Done is the final stage.
type Done struct {
	summary Summary
}

// New validates cfg and creates a pipeline for matrix.
func New(matrix registry.Matrix, cfg Config, deps Deps) (*Pipeline, error) {
	if deps.Builder == nil {
		return nil, errors.New("pipeline: nil builder")
	}
	if cfg.Workers < 0 {
		return nil, fmt.Errorf("pipeline: invalid worker count %d", cfg.Workers)
	}
	if cfg.Workers == 0 {
		cfg.Workers = DefaultWorkers
	}
	partition, err := ParsePartition(cfg.Partition)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	if deps.Unpacker == nil {
		deps.Unpacker = FixtureUnpacker{}
	}
	if deps.Reporter == nil {
		deps.Reporter = nopReporter{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if deps.Diagnostics == nil {
		deps.Diagnostics = os.Stderr
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.RunID == nil {
		deps.RunID = newRunID
	}

	id := deps.RunID()
	r := &run{
		id:        id,
		matrix:    matrix,
		cfg:       cfg,
		partition: partition,
		deps:      deps,
		logger:    deps.Logger.With("run_id", id),
		permits:   semaphore.NewWeighted(int64(cfg.Workers)),
		summary:   Summary{RunID: id},
	}
	return &Pipeline{r: r}, nil
}

func newRunID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// RunID identifies this invocation in logs.
func (p *Pipeline) RunID() string {
	return p.r.id
}

// Setup builds every component in the matrix, discovers fixtures, expands
// them into units and decompresses each distinct fixture once.
func (p *Pipeline) Setup(ctx context.Context) (*Ready, error) {
	if !p.consumed.CompareAndSwap(false, true) {
		return nil, ErrPhaseConsumed
	}
	r := p.r

	if err := r.buildAll(ctx); err != nil {
		return nil, err
	}

	fixtures, err := fixture.Discover(r.cfg.FixturesDir, r.cfg.Glob, r.logger)
	if err != nil {
		return nil, &Error{Stage: StageSetup, Code: CodeFixtureFailed, Subject: r.cfg.FixturesDir, Err: err}
	}

	units := r.partition.Apply(Expand(r.matrix, fixtures))
	distinct := distinctFixtures(units)
	r.logger.Info("setup expanded units",
		"fixtures", len(fixtures),
		"units", len(units),
		"partition", r.partition.String(),
	)

	if err := r.forEachFixture(ctx, distinct, StageSetup, CodeUnpackFailed, r.deps.Unpacker.Unpack); err != nil {
		r.cleanupAfterFailure(distinct)
		return nil, err
	}

	return &Ready{r: r, units: units, fixtures: distinct}, nil
}

// Units returns the units this run will execute.
func (s *Ready) Units() []Unit {
	return slices.Clone(s.units)
}

// Run executes every unit under the permit pool and waits for all of them.
func (s *Ready) Run(ctx context.Context) (*Ran, error) {
	if !s.consumed.CompareAndSwap(false, true) {
		return nil, ErrPhaseConsumed
	}
	r := s.r

	var g errgroup.Group
	for _, u := range s.units {
		g.Go(func() error {
			if err := r.permits.Acquire(ctx, 1); err != nil {
				return &Error{Stage: StageRun, Code: CodeExecutionFailed, Subject: u.Name(), Err: err}
			}
			defer r.permits.Release(1)
			return r.runUnit(ctx, u)
		})
	}
	if err := g.Wait(); err != nil {
		r.cleanupAfterFailure(s.fixtures)
		return nil, err
	}

	r.mu.Lock()
	summary := r.summary
	summary.Results = slices.Clone(r.summary.Results)
	r.mu.Unlock()
	slices.SortFunc(summary.Results, func(a, b Result) int {
		return strings.Compare(a.Unit.Name(), b.Unit.Name())
	})

	r.logger.Info("run finished", "passed", summary.Passed, "failed", summary.Failed)
	return &Ran{r: r, fixtures: s.fixtures, summary: summary}, nil
}

// Summary returns the results of the run stage.
func (s *Ran) Summary() Summary {
	return s.summary
}

// Teardown removes each distinct fixture's decompressed data once.
func (s *Ran) Teardown(ctx context.Context) (*Done, error) {
	if !s.consumed.CompareAndSwap(false, true) {
		return nil, ErrPhaseConsumed
	}
	r := s.r

	clean := func(_ context.Context, fx *fixture.Fixture) error {
		return r.deps.Unpacker.Clean(fx)
	}
	if err := r.forEachFixture(ctx, s.fixtures, StageTeardown, CodeCleanupFailed, clean); err != nil {
		return nil, err
	}
	return &Done{summary: s.summary}, nil
}

// Summary returns the final results.
func (d *Done) Summary() Summary {
	return d.summary
}

// buildAll builds each backend's programs and then the backend itself.
// Backends build concurrently with each other.
func (r *run) buildAll(ctx context.Context) error {
	var g errgroup.Group
	for _, entry := range r.matrix {
		if len(entry.Programs) == 0 {
			continue
		}
		g.Go(func() error {
			for _, pk := range entry.ProgramKinds() {
				if err := r.build(ctx, string(pk), entry.Programs[pk].Build); err != nil {
					return err
				}
			}
			if entry.Definition.Build != nil {
				return r.build(ctx, string(entry.Backend), *entry.Definition.Build)
			}
			return nil
		})
	}
	return g.Wait()
}

func (r *run) build(ctx context.Context, name string, spec registry.BuildSpec) error {
	r.logger.Debug("ensuring component", "component", name, "repo", spec.Repo, "rev", spec.Rev)
	if err := r.deps.Builder.EnsureBuilt(ctx, name, spec); err != nil {
		return &Error{Stage: StageSetup, Code: CodeBuildFailed, Subject: name, Err: err}
	}
	return nil
}

// forEachFixture applies fn to each fixture under the permit pool.
func (r *run) forEachFixture(ctx context.Context, fixtures []*fixture.Fixture, stage Stage, code ErrorCode,
	fn func(context.Context, *fixture.Fixture) error) error {
	var g errgroup.Group
	for _, fx := range fixtures {
		g.Go(func() error {
			if err := r.permits.Acquire(ctx, 1); err != nil {
				return &Error{Stage: stage, Code: code, Subject: fx.Name, Err: err}
			}
			defer r.permits.Release(1)

			if err := fn(ctx, fx); err != nil {
				return &Error{Stage: stage, Code: code, Subject: fx.Name, Err: err}
			}
			return nil
		})
	}
	return g.Wait()
}

// cleanupAfterFailure removes decompressed data when a run aborts.
func (r *run) cleanupAfterFailure(fixtures []*fixture.Fixture) {
	for _, fx := range fixtures {
		if err := r.deps.Unpacker.Clean(fx); err != nil {
			r.logger.Warn("cleanup after failure", "fixture", fx.Name, "error", err)
		}
	}
}

func (r *run) runUnit(ctx context.Context, u Unit) error {
	fail := func(err error) error {
		return &Error{Stage: StageRun, Code: CodeExecutionFailed, Subject: u.Name(), Err: err}
	}
	start := r.deps.Now()

	scratch, err := os.MkdirTemp(r.cfg.ScratchDir, "fpt-unit-*")
	if err != nil {
		return fail(fmt.Errorf("allocate scratch dir: %w", err))
	}
	defer os.RemoveAll(scratch)

	builder := r.deps.Builder
	client, err := builder.Artifact(u.ProgramDef.Build, ArtifactClient)
	if err != nil {
		return fail(err)
	}
	host, err := builder.Artifact(u.ProgramDef.Build, ArtifactHost)
	if err != nil {
		return fail(err)
	}
	var vm string
	if u.BackendDef.Build != nil {
		if vm, err = builder.Artifact(*u.BackendDef.Build, ArtifactBinary); err != nil {
			return fail(err)
		}
	}

	be, err := backend.New(u.Backend, vm)
	if err != nil {
		return fail(err)
	}
	be.Diagnostics = r.deps.Diagnostics

	adapter, err := program.New(u.Program, host, be.ServerMode())
	if err != nil {
		return fail(err)
	}

	logger := r.logger.With("unit", u.Name())
	logger.Debug("loading program", "image", client, "workdir", scratch)
	if err := be.LoadProgram(ctx, client, scratch); err != nil {
		return fail(err)
	}

	logger.Debug("running unit")
	status, err := be.Run(ctx, u.Inputs, adapter, scratch)
	if err != nil {
		return fail(err)
	}

	r.record(Result{
		Unit:     u,
		Status:   status,
		Pass:     status == u.Fixture.ExpectedStatus,
		Duration: r.deps.Now().Sub(start),
	})
	return nil
}

func (r *run) record(res Result) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if res.Pass {
		r.summary.Passed++
	} else {
		r.summary.Failed++
	}
	r.summary.Results = append(r.summary.Results, res)
	r.deps.Reporter.Report(res)
}

type nopReporter struct{}

func (nopReporter) Report(Result) {}
