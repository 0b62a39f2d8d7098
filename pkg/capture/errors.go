package capture

import "errors"

// Sentinel errors for common error conditions.
var (
	// ErrAlreadyStarted is returned by Start on a session that left IDLE.
	ErrAlreadyStarted = errors.New("capture: session already started")

	// ErrNotStarted is returned by Stop on a session that never started.
	ErrNotStarted = errors.New("capture: session not started")

	// ErrJoinTimeout is returned when the producer does not exit even
	// after the source was killed.
	ErrJoinTimeout = errors.New("capture: producer did not stop")
)
