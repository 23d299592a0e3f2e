//go:build !linux

package mmio

import (
	"fmt"
	"runtime"

	"github.com/ardnew/softtpm/pkg"
)

// Open fails on platforms without /dev/mem mapping support.
func Open(device string, base uint64, size int) (*Transport, error) {
	return nil, fmt.Errorf("%w: memory-mapped TIS on %s", pkg.ErrNotSupported, runtime.GOOS)
}
