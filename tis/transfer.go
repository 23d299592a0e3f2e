package tis

import (
	"errors"
	"fmt"

	"github.com/ardnew/softtpm/pkg"
	"github.com/ardnew/softtpm/tis/hal"
)

// BurstCount returns how many bytes the data FIFO can move without
// re-polling. A zero count is retried until timeout A.
func (c *Chip) BurstCount() (int, error) {
	burst, err := c.readBurstCount()
	if err != nil || burst > 0 {
		return burst, err
	}

	err = c.poll(c.timeouts.A, func() (bool, error) {
		n, err := c.readBurstCount()
		burst = n
		return n > 0, err
	})
	if err != nil {
		if errors.Is(err, pkg.ErrTimeout) {
			return 0, fmt.Errorf("burst count stayed zero: %w", err)
		}
		return 0, err
	}
	return burst, nil
}

func (c *Chip) readBurstCount() (int, error) {
	v, err := c.transport.Read32(hal.Reg(c.statusLocality(), hal.RegStatus))
	if err != nil {
		return 0, err
	}
	if sts := uint8(v); sts&hal.StatusReadZero != 0 {
		return 0, fmt.Errorf("%w: %s", pkg.ErrInvalidStatus, StatusString(sts))
	}
	return int(v>>hal.BurstCountShift) & hal.BurstCountMask, nil
}

// Ready writes commandReady, aborting any exchange in flight and moving
// the chip toward the Ready state.
func (c *Chip) Ready() error {
	return c.transport.WriteBytes(hal.Reg(c.statusLocality(), hal.RegStatus), []byte{hal.StatusCommandReady})
}

// writeFIFO pushes data into the data FIFO in burst-sized chunks and
// verifies the chip expects exactly len(data) bytes.
func (c *Chip) writeFIFO(data []byte) (int, error) {
	fifo := hal.Reg(c.statusLocality(), hal.RegDataFIFO)
	sent := 0
	for sent < len(data) {
		burst, err := c.BurstCount()
		if err != nil {
			return sent, err
		}
		n := min(burst, len(data)-sent)
		if err := c.transport.WriteBytes(fifo, data[sent:sent+n]); err != nil {
			return sent, err
		}
		sent += n
		pkg.LogDebug(pkg.ComponentTransfer, "fifo write", "chunk", n, "sent", sent, "total", len(data))

		sts, err := c.WaitForStatus(hal.StatusValid, c.timeouts.C)
		if err != nil {
			return sent, err
		}
		if sent < len(data) && sts&hal.StatusDataExpect == 0 {
			return sent, fmt.Errorf("%w: chip stopped expecting data after %d of %d bytes",
				pkg.ErrProtocol, sent, len(data))
		}
	}

	sts, err := c.WaitForStatus(hal.StatusValid, c.timeouts.C)
	if err != nil {
		return sent, err
	}
	if sts&hal.StatusDataExpect != 0 {
		return sent, fmt.Errorf("%w: chip expects more than %d bytes", pkg.ErrProtocol, len(data))
	}
	return sent, nil
}

// readFIFO fills buf from the data FIFO in burst-sized chunks. It stops
// early, without error, when the chip stops signalling available data.
func (c *Chip) readFIFO(buf []byte) (int, error) {
	fifo := hal.Reg(c.statusLocality(), hal.RegDataFIFO)
	got := 0
	for got < len(buf) {
		if _, err := c.WaitForStatus(hal.StatusDataAvail|hal.StatusValid, c.timeouts.C); err != nil {
			if errors.Is(err, pkg.ErrTimeout) {
				break
			}
			return got, err
		}
		burst, err := c.BurstCount()
		if err != nil {
			return got, err
		}
		n := min(burst, len(buf)-got)
		if err := c.transport.ReadBytes(fifo, buf[got:got+n]); err != nil {
			return got, err
		}
		got += n
		pkg.LogDebug(pkg.ComponentTransfer, "fifo read", "chunk", n, "received", got, "want", len(buf))
	}
	return got, nil
}
