// Package mmio provides a memory-mapped [hal.Transport] for TIS chips
// decoded into physical memory, as on most PC-class platforms.
//
// The register window is mapped from /dev/mem with mmap(2):
//
//	t, err := mmio.Open("", 0, 0) // /dev/mem at 0xFED40000, 0x5000 bytes
//	if err != nil {
//	    return err
//	}
//	defer t.Close()
//	chip, err := tis.New(t)
//
// Every access is bounds-checked against both the TIS window and the
// mapping. 32-bit registers are accessed with a single aligned load or
// store; everything else, including the data FIFO, is accessed one byte
// at a time.
//
// Mapping /dev/mem requires CAP_SYS_RAWIO and a kernel that does not
// restrict access to the TPM range (CONFIG_STRICT_DEVMEM). Open returns
// [pkg.ErrNotSupported] on platforms other than Linux.
package mmio
