package tis

import (
	"errors"
	"fmt"

	"github.com/ardnew/softtpm/pkg"
	"github.com/ardnew/softtpm/tis/hal"
)

// initInterrupts are the interrupt causes marked during Init. Interrupts
// stay globally disabled; the driver always polls.
const initInterrupts = hal.IntCommandReady | hal.IntLocalityChange | hal.IntDataAvail | hal.IntStatusValid

// Open starts a session by acquiring locality 0. It fails with
// [pkg.ErrBusy] when a session is already open.
func (c *Chip) Open() error {
	if c.open {
		return &Error{Op: "open", Err: fmt.Errorf("%w: already open", pkg.ErrBusy)}
	}
	if err := c.RequestLocality(0); err != nil {
		return &Error{Op: "open", Err: busy(err)}
	}
	c.open = true
	pkg.LogDebug(pkg.ComponentSession, "session opened", "name", c.name)
	return nil
}

// Close ends the session and releases locality 0. The session is closed
// even when the release fails. Closing a closed chip does nothing.
func (c *Chip) Close() error {
	if !c.open {
		return nil
	}
	c.open = false
	if err := c.ReleaseLocality(0); err != nil {
		pkg.LogWarn(pkg.ComponentSession, "release on close failed", "error", err)
		return &Error{Op: "close", Err: err}
	}
	pkg.LogDebug(pkg.ComponentSession, "session closed", "name", c.name)
	return nil
}

// Cleanup returns the chip to an idle state regardless of session
// bookkeeping. When no locality is recorded, the hardware is asked whether
// locality 0 is active and it is released if so. The session is closed.
func (c *Chip) Cleanup() error {
	var errs []error
	if c.locality < 0 {
		if _, err := c.CheckLocality(0); err != nil {
			errs = append(errs, err)
		}
	}
	if err := c.Ready(); err != nil {
		errs = append(errs, err)
	}
	if err := c.release(); err != nil {
		errs = append(errs, err)
	}
	c.open = false

	if err := errors.Join(errs...); err != nil {
		pkg.LogWarn(pkg.ComponentSession, "cleanup incomplete", "error", err)
		return &Error{Op: "cleanup", Err: err}
	}
	pkg.LogDebug(pkg.ComponentSession, "cleanup complete")
	return nil
}

// Init brings the chip up once after binding: it acquires locality 0,
// applies the profile timeouts, masks interrupts, reads the chip identity
// and releases the locality again.
func (c *Chip) Init() error {
	if err := c.RequestLocality(0); err != nil {
		return &Error{Op: "init", Err: busy(err)}
	}

	c.timeouts = c.profileTimeouts()

	err := c.identify()
	if rerr := c.release(); rerr != nil {
		err = errors.Join(err, rerr)
	}
	if err != nil {
		return &Error{Op: "init", Err: err}
	}

	pkg.LogInfo(pkg.ComponentTIS, "chip initialized",
		"name", c.name,
		"vendor", fmt.Sprintf("0x%04x", c.VendorID()),
		"device", fmt.Sprintf("0x%04x", c.DeviceID()),
		"revision", fmt.Sprintf("0x%02x", c.revision))
	return nil
}

func (c *Chip) identify() error {
	intEnable := hal.Reg(0, hal.RegIntEnable)
	v, err := c.transport.Read32(intEnable)
	if err != nil {
		return err
	}
	v |= initInterrupts
	v &^= hal.IntGlobalEnable
	if err := c.transport.Write32(intEnable, v); err != nil {
		return err
	}

	var rid [1]byte
	if err := c.transport.ReadBytes(hal.Reg(0, hal.RegRID), rid[:]); err != nil {
		return err
	}
	c.revision = rid[0]

	vd, err := c.transport.Read32(hal.Reg(0, hal.RegDIDVID))
	if err != nil {
		return err
	}
	c.vendorDevice = vd
	return nil
}
