// Package hal defines the register transport interface for the TIS driver core.
//
// A TPM attached through the TPM Interface Specification (TIS) exposes a
// small bank of registers, replicated once per locality in consecutive
// 4 KiB pages. How those registers are physically reached (memory-mapped
// I/O, SPI, I2C, a firmware proxy) is a platform concern; the driver core
// only needs the five capabilities of [Transport].
//
// # Addresses
//
// Every register access is addressed by a locality-qualified [Address]:
//
//	addr := hal.Reg(0, hal.RegStatus) // TPM_STS in locality 0
//	addr := hal.Reg(2, hal.RegAccess) // TPM_ACCESS in locality 2 (0x2000)
//
// Transports must reject accesses outside the [WindowSize] register window
// with [CheckRange]; they never expose raw memory to the core.
//
// # Implementing a Transport
//
// To implement a transport for a new bus:
//  1. Create a type that implements all [Transport] methods
//  2. Bounds-check every access with [CheckRange]
//  3. Move FIFO bytes one at a time for data FIFO accesses
//  4. Return bus errors unchanged; the core does not retry them
//
// An in-memory simulated chip is available in [github.com/ardnew/softtpm/tis/hal/sim]
// and a Linux memory-mapped transport in [github.com/ardnew/softtpm/tis/hal/mmio].
package hal
