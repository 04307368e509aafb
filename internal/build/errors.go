package build

import (
	"errors"
	"fmt"
)

// ErrArtifactNotFound is returned when an artifact is undeclared, its
// component was not built by this orchestrator, or the file is missing.
var ErrArtifactNotFound = errors.New("artifact not found")

// ErrStepFailed is wrapped when a build step exits non-zero.
var ErrStepFailed = errors.New("build step failed")

// Error is a build failure attributed to a component.
type Error struct {
	// Component is the backend or program kind being built.
	Component string
	// Repo is the source coordinate.
	Repo string
	// Step is the failing shell command; empty for checkout failures.
	Step string
	Err  error
}

func (e *Error) Error() string {
	if e.Step == "" {
		return fmt.Sprintf("build %s: checkout %s: %v", e.Component, e.Repo, e.Err)
	}
	return fmt.Sprintf("build %s: step %q in %s: %v", e.Component, e.Step, e.Repo, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsCheckoutError reports whether err is a build failure during clone or checkout.
func IsCheckoutError(err error) bool {
	var be *Error
	if errors.As(err, &be) {
		return be.Step == ""
	}
	return false
}
