package pkg

import "errors"

// USB protocol and scheduler errors.
var (
	// ErrStall indicates an endpoint stall condition.
	ErrStall = errors.New("endpoint stalled")

	// ErrTimeout indicates a transfer was abandoned, typically because the
	// device was disconnected while it was queued.
	ErrTimeout = errors.New("transfer timeout")

	// ErrCancelled indicates a transfer removed by dequeue.
	ErrCancelled = errors.New("transfer cancelled")

	// ErrOverrun indicates a babble or data overrun condition.
	ErrOverrun = errors.New("data overrun")

	// ErrProtocol indicates repeated transaction errors on the bus.
	ErrProtocol = errors.New("protocol error")

	// ErrFrameOverrun indicates a periodic transaction missed its frame.
	ErrFrameOverrun = errors.New("frame overrun")

	// ErrNoDevice indicates the device is not present.
	ErrNoDevice = errors.New("device not present")

	// ErrInvalidParameter indicates an invalid parameter was provided.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrInvalidRequest indicates an invalid or unsupported hub request.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrNoMemory indicates a channel, descriptor or DMA buffer could not
	// be allocated. The condition is retried on the next scheduling pass.
	ErrNoMemory = errors.New("insufficient memory")

	// ErrNoResources indicates no host channel can be reserved for a
	// periodic endpoint.
	ErrNoResources = errors.New("no resources available")

	// ErrBandwidth indicates insufficient periodic bus time.
	ErrBandwidth = errors.New("insufficient bandwidth")

	// ErrBusy indicates the resource is busy.
	ErrBusy = errors.New("resource busy")

	// ErrNotSupported indicates an unsupported operation or feature.
	ErrNotSupported = errors.New("not supported")

	// ErrNotRunning indicates the controller is not running in host mode.
	ErrNotRunning = errors.New("not running")
)

// Negative errno values reported to a generic USB stack.
const (
	errnoSuccess   = 0
	errnoIO        = -5   // EIO
	errnoNoMemory  = -12  // ENOMEM
	errnoBusy      = -16  // EBUSY
	errnoXDev      = -18  // EXDEV
	errnoNoDevice  = -19  // ENODEV
	errnoInvalid   = -22  // EINVAL
	errnoNoSpace   = -28  // ENOSPC
	errnoPipe      = -32  // EPIPE
	errnoProtocol  = -71  // EPROTO
	errnoOverflow  = -75  // EOVERFLOW
	errnoNotSupp   = -95  // EOPNOTSUPP
	errnoConnReset = -104 // ECONNRESET
	errnoShutdown  = -108 // ESHUTDOWN
	errnoTimedOut  = -110 // ETIMEDOUT
)

// Errno returns the negative errno equivalent of err, or 0 for nil.
// Errors outside the known set map to -EIO.
func Errno(err error) int {
	switch {
	case err == nil:
		return errnoSuccess
	case errors.Is(err, ErrNoDevice):
		return errnoNoDevice
	case errors.Is(err, ErrNoMemory):
		return errnoNoMemory
	case errors.Is(err, ErrBusy):
		return errnoBusy
	case errors.Is(err, ErrInvalidParameter), errors.Is(err, ErrInvalidRequest):
		return errnoInvalid
	case errors.Is(err, ErrNoResources), errors.Is(err, ErrBandwidth):
		return errnoNoSpace
	case errors.Is(err, ErrStall):
		return errnoPipe
	case errors.Is(err, ErrProtocol):
		return errnoProtocol
	case errors.Is(err, ErrOverrun):
		return errnoOverflow
	case errors.Is(err, ErrFrameOverrun):
		return errnoXDev
	case errors.Is(err, ErrNotSupported):
		return errnoNotSupp
	case errors.Is(err, ErrCancelled):
		return errnoConnReset
	case errors.Is(err, ErrTimeout):
		return errnoTimedOut
	case errors.Is(err, ErrNotRunning):
		return errnoShutdown
	default:
		return errnoIO
	}
}

// TransferStatus represents the completion status of a USB transfer.
type TransferStatus int

// Transfer status values.
const (
	TransferStatusSuccess   TransferStatus = iota // Transfer completed successfully
	TransferStatusError                           // Transfer failed with error
	TransferStatusStall                           // Endpoint stalled
	TransferStatusTimeout                         // Transfer timed out
	TransferStatusCancelled                       // Transfer was cancelled
	TransferStatusOverrun                         // Babble / data overrun
)

// String returns a string representation of the transfer status.
func (s TransferStatus) String() string {
	switch s {
	case TransferStatusSuccess:
		return "success"
	case TransferStatusError:
		return "error"
	case TransferStatusStall:
		return "stall"
	case TransferStatusTimeout:
		return "timeout"
	case TransferStatusCancelled:
		return "cancelled"
	case TransferStatusOverrun:
		return "overrun"
	default:
		return "unknown"
	}
}

// Error returns the corresponding error for the transfer status.
func (s TransferStatus) Error() error {
	switch s {
	case TransferStatusSuccess:
		return nil
	case TransferStatusStall:
		return ErrStall
	case TransferStatusTimeout:
		return ErrTimeout
	case TransferStatusCancelled:
		return ErrCancelled
	case TransferStatusOverrun:
		return ErrOverrun
	default:
		return ErrProtocol
	}
}

// StatusOf classifies a completion error.
func StatusOf(err error) TransferStatus {
	switch {
	case err == nil:
		return TransferStatusSuccess
	case errors.Is(err, ErrStall):
		return TransferStatusStall
	case errors.Is(err, ErrTimeout):
		return TransferStatusTimeout
	case errors.Is(err, ErrCancelled):
		return TransferStatusCancelled
	case errors.Is(err, ErrOverrun):
		return TransferStatusOverrun
	default:
		return TransferStatusError
	}
}
