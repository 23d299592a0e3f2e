package tis

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ardnew/softtpm/pkg"
	"github.com/ardnew/softtpm/tis/hal"
)

// Send transmits a complete command and starts its execution. It returns
// the number of bytes sent.
//
// Send acquires locality 0 for the duration of the transfer and releases
// it after setting tpmGo. On failure the chip is returned to the Ready
// state and the locality is released before Send returns.
func (c *Chip) Send(cmd []byte) (int, error) {
	if len(cmd) == 0 {
		return 0, &Error{Op: "send", Err: fmt.Errorf("%w: empty command", pkg.ErrInvalidParameter)}
	}

	n, err := c.send(cmd)
	if err != nil {
		if qerr := c.quiesce(); qerr != nil {
			pkg.LogWarn(pkg.ComponentTransfer, "quiesce after failed send", "error", qerr)
		}
		pkg.LogDebug(pkg.ComponentTransfer, "send failed", "sent", n, "len", len(cmd), "error", err)
		return 0, &Error{Op: "send", Err: err}
	}

	if err := c.release(); err != nil {
		return n, &Error{Op: "send", Err: err}
	}
	pkg.LogDebug(pkg.ComponentTransfer, "command sent", "len", n)
	return n, nil
}

func (c *Chip) send(cmd []byte) (int, error) {
	if err := c.RequestLocality(0); err != nil {
		return 0, busy(err)
	}

	sts, err := c.Status()
	if err != nil {
		return 0, err
	}
	if sts&hal.StatusCommandReady == 0 {
		if err := c.Ready(); err != nil {
			return 0, err
		}
		if _, err := c.WaitForStatus(hal.StatusCommandReady, c.timeouts.B); err != nil {
			if errors.Is(err, pkg.ErrTimeout) {
				return 0, fmt.Errorf("%w: %w", pkg.ErrNotResponding, err)
			}
			return 0, err
		}
	}

	n, err := c.writeFIFO(cmd)
	if err != nil {
		return n, err
	}

	if err := c.transport.WriteBytes(hal.Reg(c.statusLocality(), hal.RegStatus), []byte{hal.StatusGo}); err != nil {
		return n, err
	}
	return n, nil
}

// Receive reads one complete response into buf and returns its length.
// The declared response length must fit in buf.
//
// Whatever the outcome, the chip is returned to the Ready state and the
// locality is released before Receive returns. A failed Receive returns
// zero bytes.
func (c *Chip) Receive(buf []byte) (int, error) {
	if len(buf) < HeaderSize {
		return 0, &Error{Op: "receive", Err: fmt.Errorf("%w: capacity %d, need %d",
			pkg.ErrBufferTooSmall, len(buf), HeaderSize)}
	}

	n, err := c.receive(buf)
	qerr := c.quiesce()
	if err != nil {
		if qerr != nil {
			pkg.LogWarn(pkg.ComponentTransfer, "quiesce after failed receive", "error", qerr)
		}
		pkg.LogDebug(pkg.ComponentTransfer, "receive failed", "error", err)
		return 0, &Error{Op: "receive", Err: err}
	}
	if qerr != nil {
		return n, &Error{Op: "receive", Err: qerr}
	}
	pkg.LogDebug(pkg.ComponentTransfer, "response received", "len", n)
	return n, nil
}

func (c *Chip) receive(buf []byte) (int, error) {
	if err := c.RequestLocality(0); err != nil {
		return 0, busy(err)
	}

	size, err := c.readFIFO(buf[:HeaderSize])
	if err != nil {
		return 0, err
	}
	if size < HeaderSize {
		return 0, fmt.Errorf("%w: got %d of %d bytes", pkg.ErrShortHeader, size, HeaderSize)
	}

	expected := binary.BigEndian.Uint32(buf[ResponseSizeOffset:])
	if uint64(expected) > uint64(len(buf)) {
		return 0, fmt.Errorf("%w: %w: response is %d bytes, buffer holds %d",
			pkg.ErrProtocol, pkg.ErrTooMuchData, expected, len(buf))
	}
	if expected < HeaderSize {
		return 0, fmt.Errorf("%w: declared response length %d is shorter than its header",
			pkg.ErrProtocol, expected)
	}

	rest, err := c.readFIFO(buf[HeaderSize:expected])
	size += rest
	if err != nil {
		return 0, err
	}
	if size < int(expected) {
		return 0, fmt.Errorf("%w: got %d of %d bytes", pkg.ErrShortRead, size, expected)
	}
	return size, nil
}

// quiesce writes commandReady and releases the held locality. Both steps
// are always attempted.
func (c *Chip) quiesce() error {
	rerr := c.Ready()
	lerr := c.release()
	return errors.Join(rerr, lerr)
}
