package executor_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fpt/internal/executor"
)

func TestBasicExecution(t *testing.T) {
	result, err := executor.New("echo", "hello", "world").Execute(context.Background())
	require.NoError(t, err)

	assert.Contains(t, result.Stdout, "hello world")
	assert.Equal(t, 0, result.ExitCode)
	assert.True(t, result.Exited)
	assert.True(t, result.Success())
}

func TestNonZeroExitIsNotAnError(t *testing.T) {
	result, err := executor.Shell("echo oops >&2; exit 3").Execute(context.Background())
	require.NoError(t, err)

	assert.True(t, result.Exited)
	assert.Equal(t, 3, result.ExitCode)
	assert.False(t, result.Success())
	assert.Equal(t, "oops\n", result.Stderr)
}

func TestSignalTermination(t *testing.T) {
	result, err := executor.Shell("kill -9 $$").Execute(context.Background())
	require.NoError(t, err)

	assert.False(t, result.Exited)
	assert.Equal(t, -1, result.ExitCode)
	assert.False(t, result.Success())
}

func TestSpawnFailure(t *testing.T) {
	_, err := executor.New(filepath.Join(t.TempDir(), "missing-binary")).Execute(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestWorkingDir(t *testing.T) {
	dir := t.TempDir()
	result, err := executor.Shell("pwd").Execute(context.Background(),
		executor.WithWorkingDir(dir),
	)
	require.NoError(t, err)

	resolved, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	assert.Equal(t, resolved, strings.TrimSpace(result.Stdout))
}

func TestExtraWritersTeeCapturedOutput(t *testing.T) {
	var out, errOut bytes.Buffer
	result, err := executor.Shell("echo out; echo err >&2").Execute(context.Background(),
		executor.WithStdoutWriter(&out),
		executor.WithStderrWriter(&errOut),
	)
	require.NoError(t, err)

	assert.Equal(t, "out\n", result.Stdout)
	assert.Equal(t, "err\n", result.Stderr)
	assert.Equal(t, "out\n", out.String())
	assert.Equal(t, "err\n", errOut.String())
	assert.Equal(t, "out\nerr\n", result.Output())
}

func TestArgv(t *testing.T) {
	_, err := executor.Argv(nil)
	require.Error(t, err)

	cmd, err := executor.Argv([]string{"echo", "a", "b"})
	require.NoError(t, err)
	assert.Equal(t, "echo a b", cmd.String())
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := executor.New("sleep", "5").Execute(ctx)
	if err == nil {
		assert.False(t, result.Success())
	}
}
