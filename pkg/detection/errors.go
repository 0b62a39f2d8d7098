package detection

import "errors"

// Sentinel errors for common error conditions.
var (
	// ErrDetectionUnavailable is returned when no model is loaded.
	ErrDetectionUnavailable = errors.New("detection: detector unavailable")

	// ErrDecode is returned when a frame cannot be decoded.
	ErrDecode = errors.New("detection: cannot decode frame")
)
