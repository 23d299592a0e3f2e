package sim

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ardnew/softtpm/pkg"
	"github.com/ardnew/softtpm/tis/hal"
)

// Default identity and FIFO parameters of a simulated chip.
const (
	DefaultVendorID = 0x15D1 // Infineon
	DefaultDeviceID = 0x001B
	DefaultRevision = 0x10
	DefaultBurst    = 64

	// DefaultIntfCaps advertises the interrupt sources a typical chip supports.
	DefaultIntfCaps = hal.IntDataAvail | hal.IntStatusValid | hal.IntLocalityChange |
		hal.IntCommandReady | hal.IntLevelLow
)

// commandHeaderSize is the number of command bytes needed to learn the
// command length (tag + commandSize).
const commandHeaderSize = 6

// ErrBusFault is returned by accesses rejected by a fault hook.
var ErrBusFault = errors.New("simulated bus fault")

// OpKind identifies a transport method.
type OpKind uint8

// Transport operations.
const (
	OpReadBytes OpKind = iota
	OpWriteBytes
	OpRead16
	OpRead32
	OpWrite32
)

// String returns the transport method name.
func (k OpKind) String() string {
	switch k {
	case OpReadBytes:
		return "ReadBytes"
	case OpWriteBytes:
		return "WriteBytes"
	case OpRead16:
		return "Read16"
	case OpRead32:
		return "Read32"
	case OpWrite32:
		return "Write32"
	default:
		return "Unknown"
	}
}

// Op records one transport call made against a Chip.
type Op struct {
	Kind  OpKind
	Addr  hal.Address
	Len   int    // Bytes moved
	Value uint32 // Written value; first byte for WriteBytes
}

type chipState uint8

const (
	stateIdle chipState = iota
	stateReadyPending
	stateReady
	stateReception
	stateCompletion
)

// Chip is a register-level model of a TIS TPM that implements hal.Transport.
//
// The exported fields configure the model and must be set before the chip
// is used. Control methods (Hold, SetStatusOverride, QueueResponse, ...)
// may be called at any time.
type Chip struct {
	// Identity registers.
	VendorID uint16
	DeviceID uint16
	Revision uint8
	IntfCaps uint32

	// ActivationDelay is the virtual time between a locality request and
	// the chip granting it.
	ActivationDelay time.Duration

	// ReadyDelay is the virtual time between a commandReady write and the
	// commandReady status bit asserting.
	ReadyDelay time.Duration

	// Bursts lists the burst counts reported by successive burst count
	// reads, cycled. An empty list reports DefaultBurst. During response
	// readout the reported count never exceeds the bytes left to read.
	Bursts []uint16

	// Handler computes the response to a completed command. A nil Handler
	// uses DefaultHandler.
	Handler func(cmd []byte) []byte

	clock *Clock
	mu    sync.Mutex

	active    int
	holder    int
	holdUntil time.Time
	requested [hal.NumLocalities]bool
	requestAt [hal.NumLocalities]time.Time
	intEnable [hal.NumLocalities]uint32

	state    chipState
	readyAt  time.Time
	cmd      []byte
	rsp      []byte
	rpos     int
	burstIdx int

	override *uint8
	queued   [][]byte
	commands [][]byte
	fault    func(Op) error
	ops      []Op
}

// NewChip returns a simulated chip driven by clock. A nil clock gets a
// fresh Clock.
func NewChip(clock *Clock) *Chip {
	if clock == nil {
		clock = NewClock()
	}
	c := &Chip{
		VendorID: DefaultVendorID,
		DeviceID: DefaultDeviceID,
		Revision: DefaultRevision,
		IntfCaps: DefaultIntfCaps,
		clock:    clock,
		active:   -1,
		holder:   -1,
	}
	for l := range c.intEnable {
		c.intEnable[l] = hal.IntGlobalEnable | hal.IntLevelLow
	}
	return c
}

// Clock returns the chip's virtual clock.
func (c *Chip) Clock() *Clock {
	return c.clock
}

// String identifies the simulated chip.
func (c *Chip) String() string {
	return fmt.Sprintf("sim(%04x:%04x)", c.VendorID, c.DeviceID)
}

// =============================================================================
// Test Control
// =============================================================================

// Hold makes another bus master own locality l for d of virtual time.
// A non-positive d holds it until released through the ACCESS register.
func (c *Chip) Hold(l int, d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = l
	c.holder = l
	c.holdUntil = time.Time{}
	if d > 0 {
		c.holdUntil = c.clock.Now().Add(d)
	}
}

// SetStatusOverride forces every status byte read to return v.
func (c *Chip) SetStatusOverride(v uint8) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.override = &v
}

// ClearStatusOverride restores modelled status reads.
func (c *Chip) ClearStatusOverride() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.override = nil
}

// QueueResponse makes the next executed command answer with rsp instead of
// the handler's response. Responses queue in order.
func (c *Chip) QueueResponse(rsp []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queued = append(c.queued, append([]byte(nil), rsp...))
}

// SetFault installs a hook consulted before every transport call. A non-nil
// return fails the call without touching the model.
func (c *Chip) SetFault(fault func(Op) error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fault = fault
}

// Ops returns a copy of the recorded transport calls.
func (c *Chip) Ops() []Op {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Op(nil), c.ops...)
}

// ResetOps clears the recorded transport calls.
func (c *Chip) ResetOps() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ops = c.ops[:0]
}

// Count returns how many recorded calls of kind targeted the register at
// offset, in any locality.
func (c *Chip) Count(kind OpKind, offset uint16) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, op := range c.ops {
		if op.Kind == kind && op.Addr.Offset() == offset {
			n++
		}
	}
	return n
}

// Bytes returns the total bytes moved by recorded calls of kind at offset.
func (c *Chip) Bytes(kind OpKind, offset uint16) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, op := range c.ops {
		if op.Kind == kind && op.Addr.Offset() == offset {
			n += op.Len
		}
	}
	return n
}

// Commands returns every command the chip has executed.
func (c *Chip) Commands() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.commands...)
}

// ActiveLocality returns the granted locality, or -1.
func (c *Chip) ActiveLocality() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.settle()
	return c.active
}

// IntEnable returns the TPM_INT_ENABLE value of locality l.
func (c *Chip) IntEnable(l int) uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.intEnable[l]
}

// CommandReady reports whether the chip is in the Ready state.
func (c *Chip) CommandReady() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.settle()
	return c.state == stateReady
}

// =============================================================================
// hal.Transport
// =============================================================================

// ReadBytes implements hal.Transport.
func (c *Chip) ReadBytes(addr hal.Address, p []byte) error {
	if err := c.begin(Op{Kind: OpReadBytes, Addr: addr, Len: len(p)}); err != nil {
		return err
	}
	defer c.mu.Unlock()
	c.read(addr, p)
	return nil
}

// WriteBytes implements hal.Transport.
func (c *Chip) WriteBytes(addr hal.Address, p []byte) error {
	op := Op{Kind: OpWriteBytes, Addr: addr, Len: len(p)}
	if len(p) > 0 {
		op.Value = uint32(p[0])
	}
	if err := c.begin(op); err != nil {
		return err
	}
	defer c.mu.Unlock()
	c.write(addr, p)
	return nil
}

// Read16 implements hal.Transport.
func (c *Chip) Read16(addr hal.Address) (uint16, error) {
	if err := c.begin(Op{Kind: OpRead16, Addr: addr, Len: 2}); err != nil {
		return 0, err
	}
	defer c.mu.Unlock()
	var b [2]byte
	c.read(addr, b[:])
	return binary.LittleEndian.Uint16(b[:]), nil
}

// Read32 implements hal.Transport.
func (c *Chip) Read32(addr hal.Address) (uint32, error) {
	if err := c.begin(Op{Kind: OpRead32, Addr: addr, Len: 4}); err != nil {
		return 0, err
	}
	defer c.mu.Unlock()
	var b [4]byte
	c.read(addr, b[:])
	return binary.LittleEndian.Uint32(b[:]), nil
}

// Write32 implements hal.Transport.
func (c *Chip) Write32(addr hal.Address, v uint32) error {
	if err := c.begin(Op{Kind: OpWrite32, Addr: addr, Len: 4, Value: v}); err != nil {
		return err
	}
	defer c.mu.Unlock()
	if addr.Offset() == hal.RegIntEnable {
		if addr.Locality() == c.active {
			c.intEnable[addr.Locality()] = v
		}
		return nil
	}
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	c.write(addr, b[:])
	return nil
}

// begin records op, bounds-checks it and consults the fault hook. On
// success it returns with c.mu held and the model settled.
func (c *Chip) begin(op Op) error {
	c.mu.Lock()
	c.ops = append(c.ops, op)
	if err := hal.CheckRange(op.Addr, op.Len); err != nil {
		c.mu.Unlock()
		return err
	}
	if c.fault != nil {
		if err := c.fault(op); err != nil {
			c.mu.Unlock()
			pkg.LogDebug(pkg.ComponentHAL, "injected fault", "op", op.Kind.String(), "addr", op.Addr.String())
			return err
		}
	}
	c.settle()
	return nil
}

// =============================================================================
// Register Model
// =============================================================================

// settle applies every state change that is due at the current virtual time.
func (c *Chip) settle() {
	now := c.clock.Now()
	if c.holder >= 0 && c.active == c.holder && !c.holdUntil.IsZero() && !now.Before(c.holdUntil) {
		c.active = -1
		c.holder = -1
	}
	if c.active < 0 {
		for l := hal.NumLocalities - 1; l >= 0; l-- {
			if c.requested[l] && !now.Before(c.requestAt[l].Add(c.ActivationDelay)) {
				c.active = l
				c.requested[l] = false
				break
			}
		}
	}
	if c.state == stateReadyPending && !now.Before(c.readyAt) {
		c.state = stateReady
	}
}

func (c *Chip) read(addr hal.Address, p []byte) {
	loc, off := addr.Locality(), addr.Offset()
	if off >= hal.RegDataFIFO && off < hal.RegDataFIFO+4 {
		for i := range p {
			p[i] = c.fifoRead(loc)
		}
		return
	}

	base := off &^ 3
	shift := int(off - base)
	withBurst := base == hal.RegStatus && shift <= 2 && shift+len(p) > 1

	var reg [4]byte
	binary.LittleEndian.PutUint32(reg[:], c.register(loc, base, withBurst))
	for i := range p {
		p[i] = 0
		if shift+i < len(reg) {
			p[i] = reg[shift+i]
		}
	}
}

func (c *Chip) register(loc int, base uint16, withBurst bool) uint32 {
	switch base {
	case hal.RegAccess:
		return uint32(c.access(loc))
	case hal.RegIntEnable:
		return c.intEnable[loc]
	case hal.RegIntfCaps:
		return c.IntfCaps
	case hal.RegStatus:
		v := uint32(c.status(loc))
		if withBurst {
			v |= uint32(c.burst(loc)) << hal.BurstCountShift
		}
		return v
	case hal.RegDIDVID:
		return uint32(c.VendorID) | uint32(c.DeviceID)<<16
	case hal.RegRID:
		return uint32(c.Revision)
	default:
		return 0
	}
}

func (c *Chip) access(loc int) uint8 {
	v := hal.AccessValid
	if c.active == loc {
		v |= hal.AccessActive
	} else if c.requested[loc] {
		v |= hal.AccessRequestUse
	}
	for l, pending := range c.requested {
		if pending && l != loc {
			v |= hal.AccessRequestPend
		}
	}
	return v
}

func (c *Chip) status(loc int) uint8 {
	if c.override != nil {
		return *c.override
	}
	if loc != c.active {
		return 0xFF
	}
	s := hal.StatusValid
	switch c.state {
	case stateReady:
		s |= hal.StatusCommandReady
	case stateReception:
		if c.expecting() {
			s |= hal.StatusDataExpect
		}
	case stateCompletion:
		if c.rpos < len(c.rsp) {
			s |= hal.StatusDataAvail
		}
	}
	return s
}

func (c *Chip) burst(loc int) uint16 {
	if loc != c.active {
		return 0xFFFF
	}
	n := uint16(DefaultBurst)
	if len(c.Bursts) > 0 {
		n = c.Bursts[c.burstIdx%len(c.Bursts)]
		c.burstIdx++
	}
	if c.state == stateCompletion {
		left := len(c.rsp) - c.rpos
		if int(n) > left {
			n = uint16(left)
		}
	}
	return n
}

// expecting reports whether the command in the FIFO is still incomplete.
func (c *Chip) expecting() bool {
	if len(c.cmd) < commandHeaderSize {
		return true
	}
	return uint64(len(c.cmd)) < uint64(binary.BigEndian.Uint32(c.cmd[2:6]))
}

func (c *Chip) write(addr hal.Address, p []byte) {
	if len(p) == 0 {
		return
	}
	loc, off := addr.Locality(), addr.Offset()
	switch {
	case off >= hal.RegDataFIFO && off < hal.RegDataFIFO+4:
		for _, b := range p {
			c.fifoWrite(loc, b)
		}
	case off == hal.RegAccess:
		c.accessWrite(loc, p[0])
	case off == hal.RegStatus:
		c.statusWrite(loc, p[0])
	}
}

func (c *Chip) accessWrite(loc int, b uint8) {
	if b&hal.AccessRequestUse != 0 && c.active != loc && !c.requested[loc] {
		c.requested[loc] = true
		c.requestAt[loc] = c.clock.Now()
	}
	if b&hal.AccessActive != 0 {
		if c.active == loc {
			c.active = -1
			if c.holder == loc {
				c.holder = -1
			}
		}
		c.requested[loc] = false
	}
	c.settle()
}

func (c *Chip) statusWrite(loc int, b uint8) {
	if loc != c.active {
		return
	}
	switch {
	case b&hal.StatusCommandReady != 0:
		c.cmd = c.cmd[:0]
		c.rsp = nil
		c.rpos = 0
		if c.state == stateReady {
			return
		}
		c.state = stateReadyPending
		c.readyAt = c.clock.Now().Add(c.ReadyDelay)
		c.settle()
	case b&hal.StatusGo != 0:
		if c.state == stateReception && !c.expecting() {
			c.execute()
		}
	case b&hal.StatusResponseRetry != 0:
		if c.state == stateCompletion {
			c.rpos = 0
		}
	}
}

func (c *Chip) fifoWrite(loc int, b byte) {
	if loc != c.active {
		return
	}
	if c.state == stateReady {
		c.state = stateReception
		c.cmd = c.cmd[:0]
	}
	if c.state == stateReception && c.expecting() {
		c.cmd = append(c.cmd, b)
	}
}

func (c *Chip) fifoRead(loc int) byte {
	if loc != c.active || c.state != stateCompletion || c.rpos >= len(c.rsp) {
		return 0xFF
	}
	b := c.rsp[c.rpos]
	c.rpos++
	return b
}

func (c *Chip) execute() {
	cmd := append([]byte(nil), c.cmd...)
	c.commands = append(c.commands, cmd)

	switch {
	case len(c.queued) > 0:
		c.rsp = c.queued[0]
		c.queued = c.queued[1:]
	case c.Handler != nil:
		c.rsp = c.Handler(cmd)
	default:
		c.rsp = DefaultHandler(cmd)
	}
	c.rpos = 0
	c.state = stateCompletion
	pkg.LogDebug(pkg.ComponentHAL, "simulated command executed", "cmdLen", len(cmd), "rspLen", len(c.rsp))
}
