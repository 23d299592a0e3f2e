package tis

import (
	"fmt"
	"time"

	"github.com/ardnew/softtpm/pkg"
	"github.com/ardnew/softtpm/tis/hal"
)

// Protocol constants.
const (
	// HeaderSize is the size of a TPM 2.0 response header.
	HeaderSize = 10

	// ResponseSizeOffset is the offset of the big-endian 32-bit
	// responseSize field within the response header.
	ResponseSizeOffset = 2

	// DescribeMinSize is the smallest buffer Describe accepts.
	DescribeMinSize = 80

	// LocalityNone is the recorded locality when none is held.
	LocalityNone = -1
)

// Timeouts holds the four TIS timeout classes.
type Timeouts struct {
	A time.Duration // Locality acquisition and burst count polling
	B time.Duration // Transition to commandReady
	C time.Duration // Per-chunk status validity
	D time.Duration // Reserved for chip-specific slow paths
}

// DefaultTimeouts are the TIS profile timeouts applied by Init.
var DefaultTimeouts = Timeouts{
	A: 750 * time.Millisecond,
	B: 2000 * time.Millisecond,
	C: 750 * time.Millisecond,
	D: 750 * time.Millisecond,
}

// withDefaults fills zero fields from DefaultTimeouts.
func (t Timeouts) withDefaults() Timeouts {
	if t.A <= 0 {
		t.A = DefaultTimeouts.A
	}
	if t.B <= 0 {
		t.B = DefaultTimeouts.B
	}
	if t.C <= 0 {
		t.C = DefaultTimeouts.C
	}
	if t.D <= 0 {
		t.D = DefaultTimeouts.D
	}
	return t
}

// Variant holds the binding-time data of a chip family.
type Variant struct {
	Name         string
	PCRCount     int // Default number of PCRs
	PCRSelectMin int // Minimum PCR-select size in bytes
}

// DefaultVariant describes a generic TPM 2.0 TIS chip.
var DefaultVariant = Variant{
	Name:         "tpm2-tis",
	PCRCount:     24,
	PCRSelectMin: 3,
}

// DeviceInfo is the identity record copied from a Chip after Init.
type DeviceInfo struct {
	Name       string
	Variant    Variant
	VendorID   uint16
	DeviceID   uint16
	RevisionID uint8
	Timeouts   Timeouts
}

// Error records a failed Chip operation.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return "tis " + e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Option configures a Chip.
type Option func(*Chip)

// WithClock sets the clock driving all poll loops.
func WithClock(clock Clock) Option {
	return func(c *Chip) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithTimeouts overrides the profile timeouts. Zero fields keep their
// defaults.
func WithTimeouts(t Timeouts) Option {
	return func(c *Chip) {
		t = t.withDefaults()
		c.profile = &t
	}
}

// WithVariant sets the chip family.
func WithVariant(v Variant) Option {
	return func(c *Chip) {
		c.variant = v
	}
}

// WithName sets the name reported by Describe. It defaults to the
// variant name.
func WithName(name string) Option {
	return func(c *Chip) {
		c.name = name
	}
}

// Chip is one attached TPM reached through a register transport.
//
// A Chip is not safe for concurrent use. Callers issuing commands from
// several goroutines must serialize whole Send+Receive pairs.
type Chip struct {
	transport hal.Transport
	clock     Clock

	name     string
	variant  Variant
	profile  *Timeouts
	timeouts Timeouts

	locality     int
	vendorDevice uint32
	revision     uint8
	open         bool
}

// New binds a Chip to transport t. The chip is not touched until Init.
func New(t hal.Transport, opts ...Option) (*Chip, error) {
	if t == nil {
		return nil, &Error{Op: "new", Err: pkg.ErrNoTransport}
	}
	c := &Chip{
		transport: t,
		clock:     SystemClock,
		variant:   DefaultVariant,
		locality:  LocalityNone,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.name == "" {
		c.name = c.variant.Name
	}
	c.timeouts = c.profileTimeouts()
	return c, nil
}

func (c *Chip) profileTimeouts() Timeouts {
	if c.profile != nil {
		return *c.profile
	}
	return DefaultTimeouts
}

// Locality returns the held locality, or LocalityNone.
func (c *Chip) Locality() int {
	return c.locality
}

// IsOpen reports whether a session is open.
func (c *Chip) IsOpen() bool {
	return c.open
}

// Timeouts returns the active timeout classes.
func (c *Chip) Timeouts() Timeouts {
	return c.timeouts
}

// Name returns the chip name.
func (c *Chip) Name() string {
	return c.name
}

// Variant returns the chip family.
func (c *Chip) Variant() Variant {
	return c.variant
}

// VendorID returns the TCG vendor ID read by Init.
func (c *Chip) VendorID() uint16 {
	return uint16(c.vendorDevice)
}

// DeviceID returns the vendor-assigned device ID read by Init.
func (c *Chip) DeviceID() uint16 {
	return uint16(c.vendorDevice >> 16)
}

// RevisionID returns the revision read by Init.
func (c *Chip) RevisionID() uint8 {
	return c.revision
}

// Info returns the chip's identity record.
func (c *Chip) Info() DeviceInfo {
	return DeviceInfo{
		Name:       c.name,
		Variant:    c.variant,
		VendorID:   c.VendorID(),
		DeviceID:   c.DeviceID(),
		RevisionID: c.revision,
		Timeouts:   c.timeouts,
	}
}

// String returns the human-readable identity of the chip.
func (c *Chip) String() string {
	state := "closed"
	if c.open {
		state = "open"
	}
	return fmt.Sprintf("%s v2.0: VendorID 0x%04x, DeviceID 0x%04x, RevisionID 0x%02x [%s]",
		c.name, c.VendorID(), c.DeviceID(), c.revision, state)
}

// Describe writes the chip identity into buf, truncated to len(buf).
// It fails with [pkg.ErrNoSpace] when buf is shorter than DescribeMinSize.
func (c *Chip) Describe(buf []byte) (int, error) {
	if len(buf) < DescribeMinSize {
		return 0, &Error{Op: "describe", Err: fmt.Errorf("%w: %d bytes, need %d", pkg.ErrNoSpace, len(buf), DescribeMinSize)}
	}
	return copy(buf, c.String()), nil
}

// RegisterSnapshot holds one locality's registers as read by Registers.
type RegisterSnapshot struct {
	Locality   int
	Access     uint8
	Status     uint8
	BurstCount uint16
	IntEnable  uint32
	IntfCaps   uint32
	VendorID   uint16
	DeviceID   uint16
	RevisionID uint8
}

// Registers reads the registers of locality l without requesting it or
// writing anything.
func (c *Chip) Registers(l int) (RegisterSnapshot, error) {
	s := RegisterSnapshot{Locality: l}
	if err := validLocality(l); err != nil {
		return s, &Error{Op: "registers", Err: err}
	}

	var b [1]byte
	steps := []func() error{
		func() error {
			err := c.transport.ReadBytes(hal.Reg(l, hal.RegAccess), b[:])
			s.Access = b[0]
			return err
		},
		func() error {
			err := c.transport.ReadBytes(hal.Reg(l, hal.RegStatus), b[:])
			s.Status = b[0]
			return err
		},
		func() (err error) {
			s.BurstCount, err = c.transport.Read16(hal.Reg(l, hal.RegStatus+1))
			return err
		},
		func() (err error) {
			s.IntEnable, err = c.transport.Read32(hal.Reg(l, hal.RegIntEnable))
			return err
		},
		func() (err error) {
			s.IntfCaps, err = c.transport.Read32(hal.Reg(l, hal.RegIntfCaps))
			return err
		},
		func() (err error) {
			s.VendorID, err = c.transport.Read16(hal.Reg(l, hal.RegDIDVID))
			return err
		},
		func() (err error) {
			s.DeviceID, err = c.transport.Read16(hal.Reg(l, hal.RegDIDVID+2))
			return err
		},
		func() error {
			err := c.transport.ReadBytes(hal.Reg(l, hal.RegRID), b[:])
			s.RevisionID = b[0]
			return err
		},
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return s, &Error{Op: "registers", Err: err}
		}
	}
	return s, nil
}
