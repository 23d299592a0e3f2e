package tis

import (
	"errors"
	"fmt"

	"github.com/ardnew/softtpm/pkg"
	"github.com/ardnew/softtpm/tis/hal"
)

func validLocality(l int) error {
	if l < 0 || l >= hal.NumLocalities {
		return fmt.Errorf("%w: %d", pkg.ErrInvalidLocality, l)
	}
	return nil
}

// CheckLocality reports whether locality l is active and valid with no
// request still pending. A true result records l as the held locality.
func (c *Chip) CheckLocality(l int) (bool, error) {
	if err := validLocality(l); err != nil {
		return false, err
	}
	var access [1]byte
	if err := c.transport.ReadBytes(hal.Reg(l, hal.RegAccess), access[:]); err != nil {
		return false, err
	}
	const mask = hal.AccessActive | hal.AccessValid | hal.AccessRequestUse
	if access[0]&mask == hal.AccessActive|hal.AccessValid {
		c.locality = l
		return true, nil
	}
	return false, nil
}

// RequestLocality acquires locality l, waiting up to timeout A for the
// chip to grant it. An already active locality is not requested again.
func (c *Chip) RequestLocality(l int) error {
	active, err := c.CheckLocality(l)
	if err != nil || active {
		return err
	}

	if err := c.transport.WriteBytes(hal.Reg(l, hal.RegAccess), []byte{hal.AccessRequestUse}); err != nil {
		return err
	}

	err = c.poll(c.timeouts.A, func() (bool, error) {
		return c.CheckLocality(l)
	})
	if err != nil {
		if errors.Is(err, pkg.ErrTimeout) {
			pkg.LogDebug(pkg.ComponentLocality, "locality not granted", "locality", l, "timeout", c.timeouts.A)
			return fmt.Errorf("locality %d: %w", l, err)
		}
		return err
	}

	pkg.LogDebug(pkg.ComponentLocality, "locality granted", "locality", l)
	return nil
}

// ReleaseLocality relinquishes locality l. It does nothing when no
// locality is held and fails with [pkg.ErrInvalidLocality] when l is not
// the held one. The held locality is cleared only after the release write
// succeeds.
func (c *Chip) ReleaseLocality(l int) error {
	if c.locality < 0 {
		return nil
	}
	if err := validLocality(l); err != nil {
		return err
	}
	if l != c.locality {
		return fmt.Errorf("%w: %d is not held, %d is", pkg.ErrInvalidLocality, l, c.locality)
	}
	if err := c.transport.WriteBytes(hal.Reg(l, hal.RegAccess), []byte{hal.AccessActive}); err != nil {
		return err
	}
	c.locality = LocalityNone
	pkg.LogDebug(pkg.ComponentLocality, "locality released", "locality", l)
	return nil
}

// release relinquishes the held locality, if any.
func (c *Chip) release() error {
	return c.ReleaseLocality(c.locality)
}

// busy reports a failed locality acquisition as contention.
func busy(err error) error {
	if errors.Is(err, pkg.ErrTimeout) {
		return fmt.Errorf("%w: %w", pkg.ErrBusy, err)
	}
	return err
}
