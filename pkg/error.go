package pkg

import "errors"

// TIS driver errors.
//
// The errors group into the classes a caller needs to tell apart:
// timeouts, protocol violations, invalid device state, resource contention
// and caller misuse. Transport failures are passed through unchanged.
var (
	// ErrTimeout indicates a required status condition never asserted
	// within its timeout class.
	ErrTimeout = errors.New("timeout waiting for TPM")

	// ErrProtocol indicates the chip violated the FIFO handshake.
	ErrProtocol = errors.New("TPM protocol violation")

	// ErrInvalidStatus indicates reserved (read-zero) status bits were set.
	ErrInvalidStatus = errors.New("TPM returned invalid status")

	// ErrBusy indicates the locality or device is already in use.
	ErrBusy = errors.New("TPM busy")

	// ErrNotResponding indicates the chip never became command-ready.
	ErrNotResponding = errors.New("TPM not responding")

	// ErrBufferTooSmall indicates the receive buffer cannot hold a response header.
	ErrBufferTooSmall = errors.New("buffer too small for response header")

	// ErrTooMuchData indicates the declared response length exceeds the buffer.
	ErrTooMuchData = errors.New("response larger than buffer")

	// ErrShortHeader indicates fewer than header-size bytes were received.
	ErrShortHeader = errors.New("unable to read response header")

	// ErrShortRead indicates the response body ended early.
	ErrShortRead = errors.New("unable to read remaining response bytes")

	// ErrNoTransport indicates no register transport is bound.
	ErrNoTransport = errors.New("no register transport bound")

	// ErrInvalidLocality indicates a locality outside 0-4.
	ErrInvalidLocality = errors.New("invalid locality")

	// ErrInvalidAddress indicates a register address outside the chip window.
	ErrInvalidAddress = errors.New("register address out of range")

	// ErrNoSpace indicates a description buffer is too small.
	ErrNoSpace = errors.New("no space for description")

	// ErrNotSupported indicates an unsupported operation or feature.
	ErrNotSupported = errors.New("not supported")

	// ErrClosed indicates the transport or device has been closed.
	ErrClosed = errors.New("closed")

	// ErrInvalidParameter indicates an invalid parameter was provided.
	ErrInvalidParameter = errors.New("invalid parameter")
)

// ErrorClass classifies a driver error for callers choosing a recovery policy.
type ErrorClass int

// Error classes.
const (
	ClassNone       ErrorClass = iota // No error
	ClassTimeout                      // Status condition never asserted
	ClassProtocol                     // Chip contradicted the FIFO handshake
	ClassDevice                       // Invalid device state
	ClassContention                   // Locality or device in use
	ClassMisuse                       // Caller error detected before touching hardware
	ClassTransport                    // Anything else, typically a transport failure
)

// String returns a string representation of the error class.
func (c ErrorClass) String() string {
	switch c {
	case ClassNone:
		return "none"
	case ClassTimeout:
		return "timeout"
	case ClassProtocol:
		return "protocol"
	case ClassDevice:
		return "device"
	case ClassContention:
		return "contention"
	case ClassMisuse:
		return "misuse"
	case ClassTransport:
		return "transport"
	default:
		return "unknown"
	}
}

// Classify returns the error class of err. Contention is checked first so
// that a busy error wrapping a timeout is reported as contention.
func Classify(err error) ErrorClass {
	switch {
	case err == nil:
		return ClassNone
	case errors.Is(err, ErrBusy):
		return ClassContention
	case errors.Is(err, ErrTimeout):
		return ClassTimeout
	case errors.Is(err, ErrProtocol),
		errors.Is(err, ErrShortHeader),
		errors.Is(err, ErrShortRead):
		return ClassProtocol
	case errors.Is(err, ErrInvalidStatus):
		return ClassDevice
	case errors.Is(err, ErrBufferTooSmall),
		errors.Is(err, ErrNoTransport),
		errors.Is(err, ErrInvalidLocality),
		errors.Is(err, ErrInvalidAddress),
		errors.Is(err, ErrNoSpace),
		errors.Is(err, ErrInvalidParameter):
		return ClassMisuse
	default:
		return ClassTransport
	}
}
