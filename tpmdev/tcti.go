package tpmdev

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/canonical/go-tpm2"
	"gopkg.in/retry.v1"

	"github.com/ardnew/softtpm/pkg"
	"github.com/ardnew/softtpm/tis"
)

// MaxResponseSize is the largest response a TCTI accepts.
const MaxResponseSize = 4096

// DefaultRetry is the back-off applied when the TPM reports contention.
var DefaultRetry retry.Strategy = retry.LimitCount(4, retry.Exponential{
	Initial: 20 * time.Millisecond,
	Factor:  2,
})

// Option configures a TCTI.
type Option func(*TCTI)

// WithRetry sets the strategy used to retry busy Send and Receive calls.
func WithRetry(strategy retry.Strategy) Option {
	return func(t *TCTI) {
		t.strategy = strategy
	}
}

// WithClock sets the clock used to pace retries. Nil selects the wall
// clock.
func WithClock(clock retry.Clock) Option {
	return func(t *TCTI) {
		t.clock = clock
	}
}

// TCTI is a go-tpm2 transmission interface over a TIS chip. It holds a
// lock across each Send+Receive pair so that a Chip can be shared.
type TCTI struct {
	mu       sync.Mutex
	chip     *tis.Chip
	strategy retry.Strategy
	clock    retry.Clock
	buf      [MaxResponseSize]byte
	rsp      *bytes.Reader
	closed   bool
}

var _ tpm2.TCTI = (*TCTI)(nil)

// New returns a TCTI over chip, which must already be initialized.
func New(chip *tis.Chip, opts ...Option) *TCTI {
	t := &TCTI{
		chip:     chip,
		strategy: DefaultRetry,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// NewTPMContext returns a go-tpm2 context that talks to chip.
func NewTPMContext(chip *tis.Chip, opts ...Option) *tpm2.TPMContext {
	return tpm2.NewTPMContext(New(chip, opts...))
}

// Write transmits one complete command and collects its response for
// Read. It fails with [pkg.ErrBusy] while a previous response is unread.
func (t *TCTI) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return 0, pkg.ErrClosed
	}
	if t.rsp != nil {
		return 0, fmt.Errorf("%w: %d response bytes unread", pkg.ErrBusy, t.rsp.Len())
	}

	rsp, err := t.exchange(p)
	if err != nil {
		return 0, err
	}
	t.rsp = bytes.NewReader(rsp)
	return len(p), nil
}

// Read returns bytes of the pending response, and io.EOF once it has
// been consumed.
func (t *TCTI) Read(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.rsp == nil {
		return 0, io.EOF
	}
	n, err := t.rsp.Read(p)
	if t.rsp.Len() == 0 {
		t.rsp = nil
	}
	return n, err
}

// Exchange sends cmd and returns the complete response.
func (t *TCTI) Exchange(cmd []byte) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, pkg.ErrClosed
	}
	if t.rsp != nil {
		return nil, fmt.Errorf("%w: %d response bytes unread", pkg.ErrBusy, t.rsp.Len())
	}
	return t.exchange(cmd)
}

// SetLocality implements tpm2.TCTI. Commands are always issued from
// locality 0.
func (t *TCTI) SetLocality(locality uint8) error {
	if locality != 0 {
		return fmt.Errorf("%w: locality %d", pkg.ErrNotSupported, locality)
	}
	return nil
}

// MakeSticky implements tpm2.TCTI. There is no resource manager to pin
// handles in.
func (t *TCTI) MakeSticky(handle tpm2.Handle, sticky bool) error {
	return fmt.Errorf("%w: sticky handle 0x%08x", pkg.ErrNotSupported, uint32(handle))
}

// Close quiesces the chip and closes its session. Further calls fail with
// [pkg.ErrClosed].
func (t *TCTI) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true
	t.rsp = nil
	return errors.Join(t.chip.Cleanup(), t.chip.Close())
}

func (t *TCTI) exchange(cmd []byte) ([]byte, error) {
	err := t.retryBusy("send", func() error {
		_, err := t.chip.Send(cmd)
		return err
	})
	if err != nil {
		return nil, err
	}

	var n int
	err = t.retryBusy("receive", func() (err error) {
		n, err = t.chip.Receive(t.buf[:])
		return err
	})
	if err != nil {
		return nil, err
	}

	pkg.LogDebug(pkg.ComponentTCTI, "exchange complete", "cmdLen", len(cmd), "rspLen", n)
	return bytes.Clone(t.buf[:n]), nil
}

// retryBusy runs op until it succeeds, fails with anything but
// [pkg.ErrBusy], or the retry strategy is exhausted.
func (t *TCTI) retryBusy(name string, op func() error) error {
	var err error
	attempt := 0
	for a := retry.Start(t.strategy, t.clock); a.Next(); {
		attempt++
		if err = op(); err == nil || !errors.Is(err, pkg.ErrBusy) {
			return err
		}
		pkg.LogDebug(pkg.ComponentTCTI, "TPM busy", "op", name, "attempt", attempt, "error", err)
	}
	pkg.LogWarn(pkg.ComponentTCTI, "TPM busy, giving up", "op", name, "attempts", attempt)
	return err
}
