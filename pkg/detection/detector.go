// Package detection finds objects in camera frames. The live capture
// pipeline treats a Detector as a black box: JPEG in, objects out.
package detection

import (
	"sort"

	"github.com/teslashibe/go-heatmap/pkg/event"
)

// Object is one detected object.
type Object struct {
	Name       string            `json:"name"`
	ClassID    int               `json:"class_id"`
	Confidence float64           `json:"confidence"`
	BBox       event.BoundingBox `json:"bbox"` // normalized, top-left origin
}

// Center returns the center of the bounding box.
func (o Object) Center() (x, y float64) {
	return o.BBox.Center()
}

// Area returns the normalized area of the bounding box.
func (o Object) Area() float64 {
	return o.BBox.Width * o.BBox.Height
}

// Event converts the object into an interaction event at timestamp ts.
func (o Object) Event(ts float64, source string) event.InteractionEvent {
	return event.NewObjectEvent(o.Name, o.Confidence, o.BBox, ts, source)
}

// Detector is the interface for object detection backends.
type Detector interface {
	// Detect finds objects in a JPEG-encoded frame.
	Detect(jpeg []byte) ([]Object, error)

	// Close releases resources
	Close() error
}

// Config holds detector configuration
type Config struct {
	ModelPath        string  // Path to ONNX model
	ConfidenceThresh float32 // Minimum class score (default 0.5)
	NMSThresh        float32 // Overlap threshold for suppression (default 0.45)
	InputWidth       int     // Model input width
	InputHeight      int     // Model input height
}

// DefaultConfig returns production defaults for YOLOv8n
func DefaultConfig() Config {
	return Config{
		ModelPath:        "models/yolov8n.onnx",
		ConfidenceThresh: 0.5,
		NMSThresh:        0.45,
		InputWidth:       640,
		InputHeight:      640,
	}
}

// Containing returns the objects whose box contains the normalized point,
// smallest box first so the most specific hit leads.
func Containing(objs []Object, x, y float64) []Object {
	var hits []Object
	for _, o := range objs {
		if o.BBox.Contains(x, y) {
			hits = append(hits, o)
		}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Area() < hits[j].Area()
	})
	return hits
}

// SelectBest picks the most prominent object.
// Priority: confidence * 0.7 + relative area * 0.3
func SelectBest(objs []Object) *Object {
	if len(objs) == 0 {
		return nil
	}
	if len(objs) == 1 {
		return &objs[0]
	}

	maxArea := 0.0
	for _, o := range objs {
		if o.Area() > maxArea {
			maxArea = o.Area()
		}
	}

	bestScore := -1.0
	var best *Object
	for i := range objs {
		score := objs[i].Confidence * 0.7
		if maxArea > 0 {
			score += (objs[i].Area() / maxArea) * 0.3
		}
		if score > bestScore {
			bestScore = score
			best = &objs[i]
		}
	}
	return best
}

// UniqueNames returns the sorted set of object names.
func UniqueNames(objs []Object) []string {
	seen := make(map[string]struct{}, len(objs))
	var names []string
	for _, o := range objs {
		if _, ok := seen[o.Name]; ok {
			continue
		}
		seen[o.Name] = struct{}{}
		names = append(names, o.Name)
	}
	sort.Strings(names)
	return names
}
