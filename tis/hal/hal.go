package hal

import (
	"fmt"

	"github.com/ardnew/softtpm/pkg"
)

// Address is a locality-qualified register address within a chip's TIS
// register window. The locality occupies bits 12 and up; the low 12 bits
// hold the register offset.
type Address uint32

// Reg returns the address of the register at offset within the given
// locality's 4 KiB page.
func Reg(locality int, offset uint16) Address {
	return Address(uint32(locality)<<LocalityShift | uint32(offset)&offsetMask)
}

// Locality returns the locality encoded in the address.
func (a Address) Locality() int {
	return int(a >> LocalityShift)
}

// Offset returns the register offset within the locality page.
func (a Address) Offset() uint16 {
	return uint16(a & offsetMask)
}

// Valid reports whether the access of width bytes starting at a lies
// entirely within the register window.
func (a Address) Valid(width int) bool {
	return width > 0 && uint64(a)+uint64(width) <= WindowSize
}

// String returns a human-readable address.
func (a Address) String() string {
	return fmt.Sprintf("loc%d+0x%03x", a.Locality(), a.Offset())
}

// CheckRange returns [pkg.ErrInvalidAddress] if the access of width bytes at
// a falls outside the register window. Transport implementations call it
// before every access.
func CheckRange(a Address, width int) error {
	if !a.Valid(width) {
		return fmt.Errorf("%w: %v (%d bytes)", pkg.ErrInvalidAddress, a, width)
	}
	return nil
}

// Transport defines the register access capabilities a bus implementation
// provides to the TIS driver core.
//
// Platform vendors implement this interface for each physical bus (MMIO,
// SPI, I2C, firmware proxies). The core never holds a raw memory handle;
// every register access goes through these methods.
//
// Implementations need not be safe for concurrent use. The core never
// issues overlapping calls, but every call may fail and the error is
// returned to the caller of the core operation unchanged.
type Transport interface {
	// ReadBytes reads len(p) bytes starting at addr into p.
	// Reads from the data FIFO return successive FIFO bytes.
	ReadBytes(addr Address, p []byte) error

	// WriteBytes writes p starting at addr.
	// Writes to the data FIFO push successive FIFO bytes.
	WriteBytes(addr Address, p []byte) error

	// Read16 reads a little-endian 16-bit register.
	Read16(addr Address) (uint16, error)

	// Read32 reads a little-endian 32-bit register.
	Read32(addr Address) (uint32, error)

	// Write32 writes a little-endian 32-bit register.
	Write32(addr Address, v uint32) error
}
