package pipeline

import (
	"errors"
	"fmt"
)

// ErrPhaseConsumed is returned when a phase handle is used twice.
var ErrPhaseConsumed = errors.New("pipeline phase already consumed")

// Stage names a pipeline stage.
type Stage string

const (
	StageSetup    Stage = "setup"
	StageRun      Stage = "run"
	StageTeardown Stage = "teardown"
)

// ErrorCode categorizes pipeline failures.
type ErrorCode string

const (
	// CodeBuildFailed indicates a component could not be checked out or built.
	CodeBuildFailed ErrorCode = "BUILD_FAILED"

	// CodeFixtureFailed indicates fixtures could not be discovered.
	CodeFixtureFailed ErrorCode = "FIXTURE_FAILED"

	// CodeUnpackFailed indicates a fixture's archives could not be decompressed.
	CodeUnpackFailed ErrorCode = "UNPACK_FAILED"

	// CodeExecutionFailed indicates a unit could not be executed to a status.
	CodeExecutionFailed ErrorCode = "EXECUTION_FAILED"

	// CodeCleanupFailed indicates decompressed fixture data could not be removed.
	CodeCleanupFailed ErrorCode = "CLEANUP_FAILED"
)

// Error is an infrastructure failure attributed to the component, fixture
// or unit that caused it. A status mismatch is never an Error.
type Error struct {
	Stage   Stage
	Code    ErrorCode
	Subject string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s %s: %v", e.Code, e.Stage, e.Subject, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// CodeOf returns the code of a pipeline error, or "" for other errors.
func CodeOf(err error) ErrorCode {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// IsBuildError returns true if err is a component build failure.
func IsBuildError(err error) bool {
	return CodeOf(err) == CodeBuildFailed
}

// IsExecutionError returns true if err is a run-stage infrastructure failure.
func IsExecutionError(err error) bool {
	return CodeOf(err) == CodeExecutionFailed
}
