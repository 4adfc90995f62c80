package diag

import "errors"

var (
	// ErrNotReady is returned when an operation requires a ready session.
	// EnsureReady must succeed first.
	ErrNotReady = errors.New("session is not ready")

	// ErrClosed is returned for any operation attempted after Dispose.
	ErrClosed = errors.New("session has been disposed")

	// ErrUnsupported is returned by Handle.ResetState when the engine cannot
	// reset state in place for the active configuration. The session recovers
	// from it by replacing the handle; it is never surfaced by AttemptReset.
	ErrUnsupported = errors.New("state reset is unsupported by the engine")

	// ErrShapeMismatch is returned when a caller-supplied buffer does not
	// match the descriptor it was built against. Unreachable when buffers
	// come from Build; surfaced rather than swallowed because it indicates a
	// programming error.
	ErrShapeMismatch = errors.New("buffer structure does not match tensor descriptor")

	// ErrDescriptorMismatch is returned when a replacement handle reports
	// descriptors that disagree with the originals after a reset fallback.
	ErrDescriptorMismatch = errors.New("replacement handle descriptors disagree with original descriptors")

	// ErrNonNumeric is returned by Flatten when a buffer contains a bool or
	// string leaf; only numeric buffers can be hashed.
	ErrNonNumeric = errors.New("buffer contains a non-numeric leaf")
)
