// Package sim provides a simulated TIS TPM for testing the driver core
// without hardware.
//
// A [Chip] models the register behaviour of a real part: locality
// arbitration through TPM_ACCESS, the Idle/Ready/Reception/Completion
// command state machine behind TPM_STS, burst counts and the data FIFO.
// All timing is expressed against a virtual [Clock], so poll loops that
// would take seconds on hardware complete instantly.
//
// # Basic Usage
//
//	clock := sim.NewClock()
//	chip := sim.NewChip(clock)
//	c, err := tis.New(chip, tis.WithClock(clock))
//
// # Shaping Behaviour
//
// Exported fields and control methods reproduce awkward hardware:
//
//	chip.ActivationDelay = 30 * time.Millisecond // slow locality grant
//	chip.Bursts = []uint16{0, 0, 8}              // burst count stalls
//	chip.Hold(2, 0)                              // another master owns locality 2
//	chip.SetStatusOverride(0xFF)                 // floating bus
//	chip.QueueResponse(rsp)                      // canned response
//	chip.SetFault(func(op sim.Op) error { ... }) // bus errors
//
// Every transport call is recorded; [Chip.Ops], [Chip.Count] and
// [Chip.Bytes] let tests assert on the exact register traffic.
//
// Commands are answered by [DefaultHandler] unless a Handler or queued
// response is supplied.
package sim
