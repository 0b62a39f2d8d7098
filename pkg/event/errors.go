package event

import (
	"errors"
	"fmt"
)

// ErrInvalidEvent is the sentinel behind every InvalidEventError.
var ErrInvalidEvent = errors.New("event: invalid event")

// InvalidEventError describes one dropped event.
type InvalidEventError struct {
	// Index is the event's position in the input batch.
	Index int

	// Source is the event's provenance, if known.
	Source string

	// Reason says what was wrong with it.
	Reason string
}

// Error implements the error interface.
func (e *InvalidEventError) Error() string {
	if e.Source != "" {
		return fmt.Sprintf("event: invalid event %d from %s: %s", e.Index, e.Source, e.Reason)
	}
	return fmt.Sprintf("event: invalid event %d: %s", e.Index, e.Reason)
}

// Is makes errors.Is(err, ErrInvalidEvent) match.
func (e *InvalidEventError) Is(target error) bool {
	return target == ErrInvalidEvent
}
