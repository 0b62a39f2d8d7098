package video

import (
	"errors"
	"fmt"
)

// Sentinel errors for common error conditions.
var (
	// ErrSourceUnavailable is returned when a video file or camera cannot be opened.
	ErrSourceUnavailable = errors.New("video: source unavailable")

	// ErrEncode is returned when the output writer fails.
	ErrEncode = errors.New("video: encode failed")
)

// SourceError wraps an open failure with the target that failed.
type SourceError struct {
	Target string
	Err    error
}

// Error implements the error interface.
func (e *SourceError) Error() string {
	return fmt.Sprintf("video: cannot open %s: %v", e.Target, e.Err)
}

// Unwrap returns the underlying error.
func (e *SourceError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrSourceUnavailable) match.
func (e *SourceError) Is(target error) bool { return target == ErrSourceUnavailable }

// EncodeError wraps a writer failure.
type EncodeError struct {
	Path  string
	Frame int
	Err   error
}

// Error implements the error interface.
func (e *EncodeError) Error() string {
	return fmt.Sprintf("video: encode %s at frame %d: %v", e.Path, e.Frame, e.Err)
}

// Unwrap returns the underlying error.
func (e *EncodeError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrEncode) match.
func (e *EncodeError) Is(target error) bool { return target == ErrEncode }
