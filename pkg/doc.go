// Package pkg provides shared utilities for the softtpm TIS driver.
//
// This package contains common functionality used by the driver core, the
// register transports and the TCTI adapter, including:
//
//   - Structured logging via [github.com/rs/zerolog]
//   - Sentinel error types for TIS protocol errors
//   - Component identifiers for log filtering
//
// # Logging
//
// The logging subsystem wraps zerolog with driver-specific context:
//
//	pkg.SetLogLevel(zerolog.DebugLevel)
//	pkg.LogInfo(pkg.ComponentTIS, "chip initialized", "vid", 0x15d1)
//
// The level can also be set from the environment with [ConfigureFromEnv].
//
// # Errors
//
// Driver errors are defined as sentinel values:
//
//	if errors.Is(err, pkg.ErrBusy) {
//	    // Back off and retry the command later
//	}
//
// [Classify] maps any returned error to one of the recovery classes.
package pkg
