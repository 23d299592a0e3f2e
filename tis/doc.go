// Package tis implements the TPM 2.0 TIS (TPM Interface Specification)
// driver core.
//
// A [Chip] drives one TPM through a [hal.Transport]. It arbitrates
// localities, polls the status register and moves command and response
// bytes through the burst-limited data FIFO.
//
// # Lifecycle
//
// A Chip is bound to its transport with [New] and brought up once with
// [Chip.Init]:
//
//	c, err := tis.New(transport)
//	if err != nil {
//	    return err
//	}
//	if err := c.Init(); err != nil {
//	    return err
//	}
//	fmt.Println(c) // tpm2-tis v2.0: VendorID 0x15d1, DeviceID 0x001b, ...
//
// # Exchanging Commands
//
// A command exchange is a [Chip.Send] followed by a [Chip.Receive]:
//
//	if _, err := c.Send(cmd); err != nil {
//	    return err
//	}
//	rsp := make([]byte, 4096)
//	n, err := c.Receive(rsp)
//
// Both calls block, polling every [PollInterval]. Every failure path
// writes commandReady and releases the locality before returning, so a
// failed exchange never leaves the chip holding a locality.
//
// # Timeouts
//
// Each wait is bounded by one of four timeout classes ([Timeouts]):
//
//   - A: locality acquisition and burst count polling
//   - B: transition to commandReady
//   - C: status validity between FIFO chunks
//   - D: reserved for chip-specific slow paths
//
// Poll loops read time from a [Clock]; tests substitute a virtual clock
// with [WithClock].
//
// # Errors
//
// Operations return [*Error] values wrapping the sentinel errors of
// [github.com/ardnew/softtpm/pkg]. Use [errors.Is] or [pkg.Classify]:
//
//	if errors.Is(err, pkg.ErrBusy) {
//	    // another master holds the TPM; back off and retry
//	}
//
// # Thread Safety
//
// A Chip is not safe for concurrent use. Callers sharing a chip must hold
// a lock across each Send+Receive pair; [github.com/ardnew/softtpm/tpmdev]
// does this.
package tis
