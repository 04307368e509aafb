// Package executor runs external commands, capturing their output and
// optionally teeing it live, and reports how the process terminated.
//
// A non-zero exit is not an error: it is reported in Result and the caller
// decides what it means. Errors are reserved for commands that could not be
// started or waited on.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
)

// Result holds the output and termination state of a command.
type Result struct {
	Stdout string
	Stderr string
	// ExitCode is the process exit code, or -1 when the process did not exit normally.
	ExitCode int
	// Exited is false when the process was terminated by a signal.
	Exited bool
}

// Success reports whether the process exited with code zero.
func (r *Result) Success() bool {
	return r != nil && r.Exited && r.ExitCode == 0
}

// Output returns captured stdout and stderr, stdout first.
func (r *Result) Output() string {
	if r == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString(r.Stdout)
	if r.Stdout != "" && r.Stderr != "" && !strings.HasSuffix(r.Stdout, "\n") {
		b.WriteByte('\n')
	}
	b.WriteString(r.Stderr)
	return b.String()
}

// CommandExecutor runs one program with a fixed argument vector.
type CommandExecutor struct {
	program string
	args    []string
}

// Options configures command execution behavior. Both streams are always
// captured into the Result.
type Options struct {
	WorkingDir string

	// Extra stdout/stderr destinations, written as output arrives.
	StdoutWriter io.Writer
	StderrWriter io.Writer
}

// Option is a function that modifies Options.
type Option func(*Options)

// New creates a new CommandExecutor.
func New(program string, args ...string) *CommandExecutor {
	return &CommandExecutor{program: program, args: args}
}

// Shell creates an executor that runs script with sh -c.
func Shell(script string) *CommandExecutor {
	return New("sh", "-c", script)
}

// Argv creates an executor from a full argument vector, argv[0] being the program.
func Argv(argv []string) (*CommandExecutor, error) {
	if len(argv) == 0 || argv[0] == "" {
		return nil, errors.New("empty argument vector")
	}
	return New(argv[0], argv[1:]...), nil
}

// String renders the command line for logs.
func (c *CommandExecutor) String() string {
	return strings.Join(append([]string{c.program}, c.args...), " ")
}

// Execute runs the command once. It returns an error only if the process
// could not be started or waited on.
func (c *CommandExecutor) Execute(ctx context.Context, opts ...Option) (*Result, error) {
	var options Options
	for _, opt := range opts {
		opt(&options)
	}

	cmd := exec.CommandContext(ctx, c.program, c.args...)
	cmd.Dir = options.WorkingDir
	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = tee(&stdoutBuf, options.StdoutWriter)
	cmd.Stderr = tee(&stderrBuf, options.StderrWriter)

	err := cmd.Run()

	result := &Result{
		Stdout: stdoutBuf.String(),
		Stderr: stderrBuf.String(),
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		result.Exited = true
	case errors.As(err, &exitErr):
		result.Exited = exitErr.Exited()
		result.ExitCode = exitErr.ExitCode()
	default:
		result.ExitCode = -1
		return result, fmt.Errorf("failed to execute %s: %w", c.program, err)
	}

	return result, nil
}

func tee(buf *bytes.Buffer, extra io.Writer) io.Writer {
	if extra == nil {
		return buf
	}
	return io.MultiWriter(buf, extra)
}

// WithWorkingDir sets the working directory.
func WithWorkingDir(dir string) Option {
	return func(o *Options) {
		o.WorkingDir = dir
	}
}

// WithStdoutWriter sets an additional stdout writer.
func WithStdoutWriter(w io.Writer) Option {
	return func(o *Options) {
		o.StdoutWriter = w
	}
}

// WithStderrWriter sets an additional stderr writer.
func WithStderrWriter(w io.Writer) Option {
	return func(o *Options) {
		o.StderrWriter = w
	}
}
