package testutil

import (
	"sync"
	"time"
)

// Epoch is the first instant a DeterministicClock reports.
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// DeterministicClock is a thread-safe fake wall clock for tests. Every call
// to Now advances it by a fixed tick, so timestamps in traces and logs are
// reproducible.
type DeterministicClock struct {
	mu   sync.Mutex
	n    int64
	tick time.Duration
}

// NewDeterministicClock creates a clock that starts at Epoch and advances
// one second per call.
func NewDeterministicClock() *DeterministicClock {
	return &DeterministicClock{tick: time.Second}
}

// Now returns the current instant and advances the clock.
func (c *DeterministicClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := Epoch.Add(time.Duration(c.n) * c.tick)
	c.n++
	return t
}

// Calls returns how many times Now was called.
func (c *DeterministicClock) Calls() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

// Reset rewinds the clock to Epoch.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n = 0
}
