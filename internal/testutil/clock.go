package testutil

import (
	"sync"
	"time"
)

// StepClock is a thread-safe fake time source for tests.
//
// Every call to Now advances the clock by a fixed step, so durations
// measured between two calls are deterministic.
type StepClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

// NewStepClock creates a clock starting at start that advances by step.
//
// The first call to Now() returns start.
func NewStepClock(start time.Time, step time.Duration) *StepClock {
	return &StepClock{now: start, step: step}
}

// Now returns the current time and advances the clock.
func (c *StepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

// Peek returns the current time without advancing.
func (c *StepClock) Peek() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// FixedRunID returns a run id generator that always yields id.
//
// If id is empty, the generator returns "test-run-default".
func FixedRunID(id string) func() string {
	if id == "" {
		id = "test-run-default"
	}
	return func() string { return id }
}
