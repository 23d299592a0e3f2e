package tis

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ardnew/softtpm/pkg"
	"github.com/ardnew/softtpm/tis/hal"
)

// statusLocality is the locality whose STS register the chip uses: the
// held locality, or 0 when none is held.
func (c *Chip) statusLocality() int {
	if c.locality < 0 {
		return 0
	}
	return c.locality
}

// Status reads the status byte. A byte with any read-zero bit set fails
// with [pkg.ErrInvalidStatus] and is never retried.
func (c *Chip) Status() (uint8, error) {
	var sts [1]byte
	if err := c.transport.ReadBytes(hal.Reg(c.statusLocality(), hal.RegStatus), sts[:]); err != nil {
		return 0, err
	}
	if sts[0]&hal.StatusReadZero != 0 {
		return sts[0], fmt.Errorf("%w: 0x%02x", pkg.ErrInvalidStatus, sts[0])
	}
	return sts[0], nil
}

// WaitForStatus polls the status byte until every bit of mask is set or
// timeout elapses. It returns the last status read.
func (c *Chip) WaitForStatus(mask uint8, timeout time.Duration) (uint8, error) {
	var sts uint8
	err := c.poll(timeout, func() (bool, error) {
		s, err := c.Status()
		sts = s
		if err != nil {
			return false, err
		}
		return s&mask == mask, nil
	})
	if errors.Is(err, pkg.ErrTimeout) {
		return sts, fmt.Errorf("%w: status %s, want %s", err, StatusString(sts), StatusString(mask))
	}
	return sts, err
}

var statusNames = []struct {
	bit  uint8
	name string
}{
	{hal.StatusValid, "VALID"},
	{hal.StatusCommandReady, "CMD_READY"},
	{hal.StatusGo, "GO"},
	{hal.StatusDataAvail, "DATA_AVAIL"},
	{hal.StatusDataExpect, "EXPECT"},
	{hal.StatusResponseRetry, "RETRY"},
}

var accessNames = []struct {
	bit  uint8
	name string
}{
	{hal.AccessValid, "VALID"},
	{hal.AccessActive, "ACTIVE"},
	{hal.AccessBeenSeized, "SEIZED"},
	{hal.AccessSeize, "SEIZE"},
	{hal.AccessRequestPend, "PENDING"},
	{hal.AccessRequestUse, "REQUEST_USE"},
	{hal.AccessEstablishment, "ESTABLISHMENT"},
}

// StatusString formats a status byte as its set flags, e.g.
// "0x90<VALID|DATA_AVAIL>".
func StatusString(sts uint8) string {
	var flags []string
	for _, n := range statusNames {
		if sts&n.bit != 0 {
			flags = append(flags, n.name)
		}
	}
	return fmt.Sprintf("0x%02x<%s>", sts, strings.Join(flags, "|"))
}

// AccessString formats an access byte as its set flags.
func AccessString(access uint8) string {
	var flags []string
	for _, n := range accessNames {
		if access&n.bit != 0 {
			flags = append(flags, n.name)
		}
	}
	return fmt.Sprintf("0x%02x<%s>", access, strings.Join(flags, "|"))
}
