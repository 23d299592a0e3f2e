package mmio

import (
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/ardnew/softtpm/pkg"
	"github.com/ardnew/softtpm/tis/hal"
)

// DefaultDevice is the physical memory device mapped by Open.
const DefaultDevice = "/dev/mem"

// Transport is a hal.Transport over a memory-mapped TIS register window.
type Transport struct {
	mu     sync.Mutex
	mem    []byte
	base   uint64
	device string
	unmap  func([]byte) error
}

// newTransport wraps an already mapped window.
func newTransport(mem []byte, base uint64, device string, unmap func([]byte) error) *Transport {
	return &Transport{mem: mem, base: base, device: device, unmap: unmap}
}

// Base returns the physical base address of the window.
func (t *Transport) Base() uint64 {
	return t.base
}

// Size returns the mapped window size.
func (t *Transport) Size() int {
	return len(t.mem)
}

// String describes the mapping.
func (t *Transport) String() string {
	return fmt.Sprintf("%s@0x%08x+0x%x", t.device, t.base, len(t.mem))
}

// Close unmaps the window. Further accesses fail with [pkg.ErrClosed].
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.mem == nil {
		return nil
	}
	mem := t.mem
	t.mem = nil
	if t.unmap != nil {
		if err := t.unmap(mem); err != nil {
			return fmt.Errorf("unmap %s: %w", t.device, err)
		}
	}
	pkg.LogDebug(pkg.ComponentHAL, "register window unmapped", "device", t.device)
	return nil
}

// window returns the mapped bytes for an access of width bytes at addr.
// The caller holds t.mu.
func (t *Transport) window(addr hal.Address, width int) ([]byte, error) {
	if t.mem == nil {
		return nil, pkg.ErrClosed
	}
	if err := hal.CheckRange(addr, width); err != nil {
		return nil, err
	}
	end := int(addr) + width
	if end > len(t.mem) {
		return nil, fmt.Errorf("%w: %v beyond %d-byte mapping", pkg.ErrInvalidAddress, addr, len(t.mem))
	}
	return t.mem[int(addr):end], nil
}

// ReadBytes implements hal.Transport. Each byte is a separate load, so
// FIFO reads drain successive bytes.
func (t *Transport) ReadBytes(addr hal.Address, p []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if isFIFO(addr) {
		reg, err := t.window(addr, 1)
		if err != nil {
			return err
		}
		for i := range p {
			p[i] = load8(&reg[0])
		}
		return nil
	}
	reg, err := t.window(addr, len(p))
	if err != nil {
		return err
	}
	for i := range p {
		p[i] = load8(&reg[i])
	}
	return nil
}

// WriteBytes implements hal.Transport.
func (t *Transport) WriteBytes(addr hal.Address, p []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if isFIFO(addr) {
		reg, err := t.window(addr, 1)
		if err != nil {
			return err
		}
		for _, b := range p {
			store8(&reg[0], b)
		}
		return nil
	}
	reg, err := t.window(addr, len(p))
	if err != nil {
		return err
	}
	for i, b := range p {
		store8(&reg[i], b)
	}
	return nil
}

// Read16 implements hal.Transport as two byte loads.
func (t *Transport) Read16(addr hal.Address) (uint16, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	reg, err := t.window(addr, 2)
	if err != nil {
		return 0, err
	}
	return uint16(load8(&reg[0])) | uint16(load8(&reg[1]))<<8, nil
}

// Read32 implements hal.Transport as a single aligned 32-bit load.
func (t *Transport) Read32(addr hal.Address) (uint32, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	reg, err := t.word(addr)
	if err != nil {
		return 0, err
	}
	return atomic.LoadUint32(reg), nil
}

// Write32 implements hal.Transport as a single aligned 32-bit store.
func (t *Transport) Write32(addr hal.Address, v uint32) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	reg, err := t.word(addr)
	if err != nil {
		return err
	}
	atomic.StoreUint32(reg, v)
	return nil
}

func (t *Transport) word(addr hal.Address) (*uint32, error) {
	if addr%4 != 0 {
		return nil, fmt.Errorf("%w: %v is not 32-bit aligned", pkg.ErrInvalidAddress, addr)
	}
	reg, err := t.window(addr, 4)
	if err != nil {
		return nil, err
	}
	return (*uint32)(unsafe.Pointer(&reg[0])), nil
}

func isFIFO(addr hal.Address) bool {
	off := addr.Offset()
	return off >= hal.RegDataFIFO && off < hal.RegDataFIFO+4
}

// load8 and store8 are not inlined so each call is a distinct memory
// access the compiler cannot merge or hoist.
//
//go:noinline
func load8(p *byte) byte {
	return *p
}

//go:noinline
func store8(p *byte, v byte) {
	*p = v
}
