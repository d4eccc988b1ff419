// Package testutil provides deterministic time and key sources for tests
// and the scenario harness.
package testutil

import (
	"sync"
	"time"
)

// StepClock is a wall clock that advances by a fixed step on every call, so
// records stamped in sequence get strictly increasing timestamps.
type StepClock struct {
	mu   sync.Mutex
	base time.Time
	step time.Duration
	n    int64
}

// NewStepClock creates a clock whose first Now returns base+step.
func NewStepClock(base time.Time, step time.Duration) *StepClock {
	return &StepClock{base: base, step: step}
}

// Now returns the next timestamp.
func (c *StepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	return c.base.Add(time.Duration(c.n) * c.step)
}
