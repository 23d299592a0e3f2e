//go:build linux

package mmio

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/ardnew/softtpm/pkg"
	"github.com/ardnew/softtpm/tis/hal"
)

// Open maps size bytes of device at physical address base. Zero values
// select DefaultDevice, hal.DefaultBaseAddress and hal.WindowSize.
func Open(device string, base uint64, size int) (*Transport, error) {
	if device == "" {
		device = DefaultDevice
	}
	if base == 0 {
		base = hal.DefaultBaseAddress
	}
	if size <= 0 {
		size = hal.WindowSize
	}
	if pageSize := uint64(unix.Getpagesize()); base%pageSize != 0 {
		return nil, fmt.Errorf("%w: base 0x%x is not page aligned", pkg.ErrInvalidParameter, base)
	}

	f, err := os.OpenFile(device, os.O_RDWR|os.O_SYNC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", device, err)
	}
	// The mapping outlives the descriptor.
	defer f.Close()

	mem, err := unix.Mmap(int(f.Fd()), int64(base), size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap %s at 0x%x: %w", device, base, err)
	}

	pkg.LogDebug(pkg.ComponentHAL, "register window mapped",
		"device", device, "base", fmt.Sprintf("0x%08x", base), "size", size)
	return newTransport(mem, base, device, unix.Munmap), nil
}
