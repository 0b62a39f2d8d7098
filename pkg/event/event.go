// Package event turns raw interaction records (clicks, gaze samples,
// detected objects) into pixel-space events for heatmap rendering, and
// merges logs from several capture sessions into one provenance-tagged
// stream.
package event

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// BoundingBox is a normalized (0-1) box, origin at the top left.
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Center returns the center point of the box.
func (b BoundingBox) Center() (x, y float64) {
	return b.X + b.Width/2, b.Y + b.Height/2
}

// Contains reports whether the normalized point lies inside the box.
func (b BoundingBox) Contains(x, y float64) bool {
	return x >= b.X && x <= b.X+b.Width && y >= b.Y && y <= b.Y+b.Height
}

// InteractionEvent is one raw record as uploaded by a client or produced by
// the live detector. Pointer fields distinguish "absent" from zero.
type InteractionEvent struct {
	X          *float64     `json:"x,omitempty"`
	Y          *float64     `json:"y,omitempty"`
	Timestamp  *float64     `json:"timestamp"`
	Name       string       `json:"name,omitempty"`
	Confidence float64      `json:"confidence,omitempty"`
	BBox       *BoundingBox `json:"bbox,omitempty"`
	Source     string       `json:"source,omitempty"`
}

// NewEvent builds a point event. Use it instead of composing pointers by hand.
func NewEvent(x, y, timestamp float64, source string) InteractionEvent {
	return InteractionEvent{X: &x, Y: &y, Timestamp: &timestamp, Source: source}
}

// NewObjectEvent builds an event positioned by a detected object's box.
func NewObjectEvent(name string, confidence float64, box BoundingBox, timestamp float64, source string) InteractionEvent {
	return InteractionEvent{
		Name:       name,
		Confidence: confidence,
		BBox:       &box,
		Timestamp:  &timestamp,
		Source:     source,
	}
}

// Position returns the raw event position. Explicit coordinates win over
// the bounding box center.
func (e InteractionEvent) Position() (x, y float64, ok bool) {
	if e.X != nil && e.Y != nil {
		return *e.X, *e.Y, true
	}
	if e.BBox != nil {
		x, y = e.BBox.Center()
		return x, y, true
	}
	return 0, 0, false
}

// WithSource returns a copy tagged with the given provenance.
func (e InteractionEvent) WithSource(source string) InteractionEvent {
	e.Source = source
	return e
}

// Pixel is a value-typed grid coordinate, usable as a map key.
type Pixel struct {
	X, Y int
}

// PixelEvent is an event placed on the target frame grid.
type PixelEvent struct {
	Pixel     Pixel
	Timestamp float64
	Source    string
	Name      string
}

// Decode reads a JSON array of events.
func Decode(r io.Reader) ([]InteractionEvent, error) {
	var events []InteractionEvent
	if err := json.NewDecoder(r).Decode(&events); err != nil {
		return nil, fmt.Errorf("event: decode: %w", err)
	}
	return events, nil
}

// Log is a named event batch, typically one JSON file per capture session.
type Log struct {
	Source string
	Events []InteractionEvent
}

// logFile is the on-disk shape accepted by LoadLog: either a bare array
// or an object with an "events" (or "click_data") array.
type logFile struct {
	Events    []InteractionEvent `json:"events"`
	ClickData []InteractionEvent `json:"click_data"`
}

// ParseLog decodes a log from raw JSON bytes.
func ParseLog(source string, data []byte) (Log, error) {
	var events []InteractionEvent
	if err := json.Unmarshal(data, &events); err == nil {
		return Log{Source: source, Events: events}, nil
	}

	var lf logFile
	if err := json.Unmarshal(data, &lf); err != nil {
		return Log{}, fmt.Errorf("event: parse %s: %w", source, err)
	}
	events = lf.Events
	if len(events) == 0 {
		events = lf.ClickData
	}
	return Log{Source: source, Events: events}, nil
}

// LoadLog reads a log file. The file's base name is used as provenance
// unless source is set.
func LoadLog(path, source string) (Log, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Log{}, fmt.Errorf("event: read %s: %w", path, err)
	}
	if source == "" {
		source = baseName(path)
	}
	return ParseLog(source, data)
}
