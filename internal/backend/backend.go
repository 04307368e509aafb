// Package backend runs proof-program hosts on an execution backend.
//
// Backend is a closed variant over the registry's backend kinds:
// native processes, the Cannon MIPS VM, and Asterisc, which is reserved and
// fails every call. The pipeline never branches on kind; all divergence is
// in LoadProgram and Run.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/roach88/fpt/internal/executor"
	"github.com/roach88/fpt/internal/program"
	"github.com/roach88/fpt/internal/registry"
)

var (
	// ErrNotImplemented is returned by every call on a reserved backend.
	ErrNotImplemented = errors.New("backend not implemented")
	// ErrNoExitCode is returned when the host process was terminated by a signal.
	ErrNoExitCode = errors.New("process terminated without an exit code")
	// ErrDidNotExit is returned when a VM reports the guest program never exited.
	ErrDidNotExit = errors.New("guest program did not exit")
	// ErrLoadFailed is returned when a VM fails to convert a program image.
	ErrLoadFailed = errors.New("failed to load program image")
)

// State file names inside a unit's working directory.
const (
	StateFile  = "state.json"
	OutputFile = "out.json"
)

// Backend executes a host program and reports the guest's exit status.
type Backend struct {
	Kind registry.BackendKind
	// Binary is the VM executable; empty for Native.
	Binary string
	// Diagnostics receives captured output of failing processes. Nil discards it.
	Diagnostics io.Writer
}

// New creates a backend of kind. VM kinds require a binary.
func New(kind registry.BackendKind, binary string) (Backend, error) {
	switch kind {
	case registry.Native, registry.Asterisc:
	case registry.Cannon:
		if binary == "" {
			return Backend{}, fmt.Errorf("backend %s: empty binary path", kind)
		}
	default:
		return Backend{}, fmt.Errorf("%w: backend %q", registry.ErrUnknownKind, kind)
	}
	return Backend{Kind: kind, Binary: binary}, nil
}

// ServerMode reports whether hosts must run long-lived under this backend.
func (b Backend) ServerMode() bool {
	return b.Kind != registry.Native
}

// LoadProgram prepares backend state in workDir from a program image.
func (b Backend) LoadProgram(ctx context.Context, image, workDir string) error {
	switch b.Kind {
	case registry.Native:
		return nil
	case registry.Cannon:
		return b.cannonLoad(ctx, image, workDir)
	case registry.Asterisc:
		return fmt.Errorf("%s: load program: %w", b.Kind, ErrNotImplemented)
	default:
		return fmt.Errorf("%w: backend %q", registry.ErrUnknownKind, b.Kind)
	}
}

// Run executes the adapter's host command and returns the exit status.
// A status that differs from what the caller expects is not an error.
func (b Backend) Run(ctx context.Context, in program.HostInputs, adapter program.Adapter, workDir string) (uint8, error) {
	switch b.Kind {
	case registry.Native:
		return b.nativeRun(ctx, in, adapter, workDir)
	case registry.Cannon:
		return b.cannonRun(ctx, in, adapter, workDir)
	case registry.Asterisc:
		return 0, fmt.Errorf("%s: run: %w", b.Kind, ErrNotImplemented)
	default:
		return 0, fmt.Errorf("%w: backend %q", registry.ErrUnknownKind, b.Kind)
	}
}

func (b Backend) nativeRun(ctx context.Context, in program.HostInputs, adapter program.Adapter, workDir string) (uint8, error) {
	argv, err := adapter.HostCmd(in)
	if err != nil {
		return 0, err
	}
	cmd, err := executor.Argv(argv)
	if err != nil {
		return 0, err
	}

	result, err := cmd.Execute(ctx, executor.WithWorkingDir(workDir))
	if err != nil {
		return 0, fmt.Errorf("%s: run host: %w", b.Kind, err)
	}
	b.dumpOnFailure(cmd, result)
	if !result.Exited {
		return 0, fmt.Errorf("%s: %s: %w", b.Kind, argv[0], ErrNoExitCode)
	}
	return uint8(result.ExitCode), nil
}

func (b Backend) cannonLoad(ctx context.Context, image, workDir string) error {
	cmd := executor.New(b.Binary,
		"load-elf",
		"--path", image,
		"--out", filepath.Join(workDir, StateFile),
	)
	result, err := cmd.Execute(ctx, executor.WithWorkingDir(workDir))
	if err != nil {
		return fmt.Errorf("%s: load program: %w", b.Kind, err)
	}
	if !result.Success() {
		b.dumpOnFailure(cmd, result)
		return fmt.Errorf("%s: %w: %s (exit code %d)", b.Kind, ErrLoadFailed, image, result.ExitCode)
	}
	return nil
}

// vmOutput is the subset of the VM's final state that carries the guest status.
type vmOutput struct {
	Exited bool  `json:"exited"`
	Exit   uint8 `json:"exit"`
}

func (b Backend) cannonRun(ctx context.Context, in program.HostInputs, adapter program.Adapter, workDir string) (uint8, error) {
	argv, err := adapter.HostCmd(in)
	if err != nil {
		return 0, err
	}

	args := append([]string{
		"run",
		"--info-at", "%10000000",
		"--proof-at", "never",
		"--input", StateFile,
		"--output", OutputFile,
		"--",
	}, argv...)
	cmd := executor.New(b.Binary, args...)

	result, err := cmd.Execute(ctx, executor.WithWorkingDir(workDir))
	if err != nil {
		return 0, fmt.Errorf("%s: run: %w", b.Kind, err)
	}
	b.dumpOnFailure(cmd, result)

	out, err := readOutput(filepath.Join(workDir, OutputFile))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", b.Kind, err)
	}
	if !out.Exited {
		return 0, fmt.Errorf("%s: %w", b.Kind, ErrDidNotExit)
	}
	return out.Exit, nil
}

func readOutput(path string) (vmOutput, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return vmOutput{}, fmt.Errorf("read vm output: %w", err)
	}
	var out vmOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return vmOutput{}, fmt.Errorf("parse vm output %s: %w", path, err)
	}
	return out, nil
}

func (b Backend) dumpOnFailure(cmd *executor.CommandExecutor, result *executor.Result) {
	if b.Diagnostics == nil || result.Success() {
		return
	}
	if out := result.Output(); out != "" {
		fmt.Fprintf(b.Diagnostics, "--- output of %s ---\n%s\n", cmd, out)
	}
}
