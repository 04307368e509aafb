package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/roach88/fpt/internal/build"
	"github.com/roach88/fpt/internal/config"
	"github.com/roach88/fpt/internal/registry"
	"github.com/roach88/fpt/internal/store"
)

// app is the wiring shared by commands: settings, registry, build ledger
// and orchestrator.
type app struct {
	cfg      config.Config
	registry *registry.Registry
	ledger   *store.Store
	builder  *build.Orchestrator
	logger   *slog.Logger
}

func newLogger(verbose bool, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// loadSettings reads the settings file and the registry. Both failures
// are command errors raised before anything is built.
func loadSettings(opts *RootOptions) (config.Config, *registry.Registry, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return config.Config{}, nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}

	var reg *registry.Registry
	if cfg.Registry != "" {
		reg, err = registry.Load(cfg.Registry)
	} else {
		reg, err = registry.Default()
	}
	if err != nil {
		return config.Config{}, nil, WrapExitError(ExitCommandError, "failed to load registry", err)
	}
	return cfg, reg, nil
}

// openApp loads settings and opens the build ledger. Callers must Close it.
func openApp(opts *RootOptions, cmd *cobra.Command) (*app, error) {
	cfg, reg, err := loadSettings(opts)
	if err != nil {
		return nil, err
	}
	logger := newLogger(opts.Verbose, cmd.ErrOrStderr())

	var ledger *store.Store
	if cfg.Ledger != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Ledger), 0o755); err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to create ledger directory", err)
		}
		if ledger, err = store.Open(cfg.Ledger); err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to open build ledger", err)
		}
	}

	buildOpts := []build.Option{
		build.WithLogger(logger),
		build.WithDiagnostics(cmd.ErrOrStderr()),
	}
	if opts.Verbose {
		// stdout carries reports; build chatter goes to stderr.
		buildOpts = append(buildOpts, build.WithStream(cmd.ErrOrStderr()))
	}
	builder := build.New(cfg.ComponentsDir, ledger, buildOpts...)
	return &app{cfg: cfg, registry: reg, ledger: ledger, builder: builder, logger: logger}, nil
}

func (a *app) Close() error {
	if a.ledger == nil {
		return nil
	}
	return a.ledger.Close()
}

// closeApp folds a Close failure into err without masking it.
func closeApp(a *app, err *error) {
	if cerr := a.Close(); cerr != nil {
		*err = errors.Join(*err, fmt.Errorf("close ledger: %w", cerr))
	}
}
