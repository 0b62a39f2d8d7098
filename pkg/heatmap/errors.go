package heatmap

import (
	"errors"
	"fmt"
)

// Stage names the generation step that failed.
type Stage string

const (
	StageOpen      Stage = "open"
	StageNormalize Stage = "normalize"
	StageDownscale Stage = "downscale"
	StageEncode    Stage = "encode"
	StageSummary   Stage = "summary"
)

// StageError tags a generation failure with the stage it happened in.
type StageError struct {
	Stage Stage
	Err   error
}

// Error implements the error interface.
func (e *StageError) Error() string {
	return fmt.Sprintf("heatmap: %s: %v", e.Stage, e.Err)
}

// Unwrap returns the underlying error.
func (e *StageError) Unwrap() error { return e.Err }

func stageErr(stage Stage, err error) error {
	return &StageError{Stage: stage, Err: err}
}

// StageOf returns the stage carried by err, or "" if it has none.
func StageOf(err error) Stage {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}
