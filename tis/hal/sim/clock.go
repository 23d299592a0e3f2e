package sim

import (
	"sync"
	"time"
)

// Epoch is the time at which a new Clock starts.
var Epoch = time.Date(2020, time.January, 1, 0, 0, 0, 0, time.UTC)

// Clock is a virtual clock. After advances the clock by the requested
// duration and returns an already-fired channel, so poll loops driven by a
// Clock run to completion without real sleeping.
//
// Clock satisfies both tis.Clock and retry.Clock.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a Clock set to Epoch.
func NewClock() *Clock {
	return &Clock{now: Epoch}
}

// Now returns the current virtual time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// After advances the clock by d and returns a channel holding the new time.
func (c *Clock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- c.Advance(d)
	return ch
}

// Advance moves the clock forward by d and returns the new time.
func (c *Clock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d > 0 {
		c.now = c.now.Add(d)
	}
	return c.now
}

// Elapsed returns the virtual time passed since Epoch.
func (c *Clock) Elapsed() time.Duration {
	return c.Now().Sub(Epoch)
}
