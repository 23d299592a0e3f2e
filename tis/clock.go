package tis

import (
	"time"

	"github.com/ardnew/softtpm/pkg"
)

// PollInterval is the delay before each register poll.
const PollInterval = 5 * time.Millisecond

// Clock supplies time to the poll loops. It is satisfied by the virtual
// clock of the simulator and by retry.Clock implementations.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time                         { return time.Now() }
func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// SystemClock is the wall clock.
var SystemClock Clock = systemClock{}

// poll sleeps one PollInterval and then calls fn, repeating until fn
// reports done, fn fails, or timeout has elapsed. The worst-case wait is
// timeout rounded up to the next tick.
func (c *Chip) poll(timeout time.Duration, fn func() (bool, error)) error {
	deadline := c.clock.Now().Add(timeout)
	for {
		<-c.clock.After(PollInterval)
		done, err := fn()
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if !c.clock.Now().Before(deadline) {
			return pkg.ErrTimeout
		}
	}
}
