package trading

import (
	"sync"
	"time"
)

// Clock interface for time dependency injection.
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock with wall-clock time.
type RealClock struct{}

func (RealClock) Now() time.Time {
	return time.Now()
}

// ManualClock is a settable clock for replays and tests.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewManualClock(t time.Time) *ManualClock {
	return &ManualClock{now: t}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to t.
func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
