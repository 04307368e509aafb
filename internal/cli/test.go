package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/fpt/internal/pipeline"
	"github.com/roach88/fpt/internal/registry"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Test      string   // fixture directory glob
	VMs       []string // backend allow-list
	Programs  []string // program allow-list
	Workers   int
	Partition string
	Fixtures  string
}

// UnitResult is one unit in JSON output.
type UnitResult struct {
	Unit       string `json:"unit"`
	Fixture    string `json:"fixture"`
	Backend    string `json:"backend"`
	Program    string `json:"program"`
	Status     uint8  `json:"status"`
	Expected   uint8  `json:"expected"`
	Pass       bool   `json:"pass"`
	DurationMS int64  `json:"duration_ms"`
}

// TestReport is the JSON payload of the test command.
type TestReport struct {
	Passed  int          `json:"passed"`
	Failed  int          `json:"failed"`
	Total   int          `json:"total"`
	Results []UnitResult `json:"results"`
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test",
		Short: "Run fixtures across the backend/program matrix",
		Long: `Build the selected components, decompress matching fixtures and run every
fixture on every compatible backend/program pair, comparing each exit status
with the fixture's expected status.

Without --vm or --program only default components take part.

Exit codes:
  0 - All units passed
  1 - One or more units reported an unexpected status
  2 - Configuration, build or execution error

Examples:
  fpt test
  fpt test --test "deposit-*" --vm cannon --program op-program-mips
  fpt test --vm native,cannon --workers 8 --partition 1/4`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Test, "test", "t", "", "fixture glob pattern")
	cmd.Flags().StringSliceVar(&opts.VMs, "vm", nil, "backends to run on (comma separated)")
	cmd.Flags().StringSliceVarP(&opts.Programs, "program", "p", nil, "programs to run (comma separated)")
	cmd.Flags().IntVar(&opts.Workers, "workers", 0, fmt.Sprintf("concurrent fixture and unit tasks (default from config, else %d)", pipeline.DefaultWorkers))
	cmd.Flags().StringVar(&opts.Partition, "partition", "", "run share k of n of the units (k/n)")
	cmd.Flags().StringVar(&opts.Fixtures, "fixtures", "", "fixtures directory (overrides config)")

	return cmd
}

func runTests(opts *TestOptions, cmd *cobra.Command) (err error) {
	backends, err := registry.ParseBackendKinds(opts.VMs)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --vm", err)
	}
	programs, err := registry.ParseProgramKinds(opts.Programs)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --program", err)
	}

	a, err := openApp(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer closeApp(a, &err)

	cfg := pipeline.Config{
		FixturesDir: a.cfg.FixturesDir,
		Glob:        opts.Test,
		Workers:     a.cfg.Workers,
		Partition:   opts.Partition,
		ScratchDir:  a.cfg.ScratchDir,
	}
	if opts.Fixtures != "" {
		cfg.FixturesDir = opts.Fixtures
	}
	if cmd.Flags().Changed("workers") {
		if opts.Workers < 1 {
			return NewExitError(ExitCommandError, "--workers must be at least 1")
		}
		cfg.Workers = opts.Workers
	}

	matrix := a.registry.ResolveMatrix(registry.Selection{Backends: backends, Programs: programs})
	f := newFormatter(opts.RootOptions, cmd)

	var reporter *pipeline.TextReporter
	deps := pipeline.Deps{
		Builder:     a.builder,
		Logger:      a.logger,
		Diagnostics: cmd.ErrOrStderr(),
	}
	if !f.JSON() {
		reporter = pipeline.NewTextReporter(f.Writer)
		deps.Reporter = reporter
	}

	p, err := pipeline.New(matrix, cfg, deps)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid test configuration", err)
	}
	a.logger.Info("starting test run", "run_id", p.RunID(), "units_per_fixture", matrix.Units())

	summary, err := execute(contextOf(cmd), p)
	if err != nil {
		if f.JSON() {
			code := pipeline.CodeOf(err)
			if code == "" {
				code = "RUN_FAILED"
			}
			_ = f.Error(string(code), err.Error(), nil)
		}
		return WrapExitError(ExitCommandError, "test run aborted", err)
	}

	if f.JSON() {
		if err := f.SuccessWithRun(summary.RunID, newTestReport(summary)); err != nil {
			return err
		}
	} else {
		reporter.Summarize(summary)
	}

	if !summary.OK() {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d units failed", summary.Failed, summary.Passed+summary.Failed))
	}
	return nil
}

// execute drives p through setup, run and teardown.
func execute(ctx context.Context, p *pipeline.Pipeline) (pipeline.Summary, error) {
	ready, err := p.Setup(ctx)
	if err != nil {
		return pipeline.Summary{}, err
	}
	ran, err := ready.Run(ctx)
	if err != nil {
		return pipeline.Summary{}, err
	}
	done, err := ran.Teardown(ctx)
	if err != nil {
		return pipeline.Summary{}, err
	}
	return done.Summary(), nil
}

func newTestReport(s pipeline.Summary) TestReport {
	report := TestReport{
		Passed:  s.Passed,
		Failed:  s.Failed,
		Total:   len(s.Results),
		Results: make([]UnitResult, 0, len(s.Results)),
	}
	for _, r := range s.Results {
		report.Results = append(report.Results, UnitResult{
			Unit:       r.Unit.Name(),
			Fixture:    r.Unit.Fixture.Name,
			Backend:    string(r.Unit.Backend),
			Program:    string(r.Unit.Program),
			Status:     r.Status,
			Expected:   r.Unit.Fixture.ExpectedStatus,
			Pass:       r.Pass,
			DurationMS: r.Duration.Milliseconds(),
		})
	}
	return report
}

func contextOf(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
