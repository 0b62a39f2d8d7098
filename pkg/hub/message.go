// Package hub provides a thread-safe websocket broadcast hub
// using the idiomatic Go channel-based fan-out pattern.
package hub

import (
	"github.com/teslashibe/go-heatmap/pkg/detection"
)

// Message is a pre-encoded JSON payload broadcast to every client.
type Message struct {
	Data []byte
}

// NewJSONMessage creates a message from pre-encoded JSON
func NewJSONMessage(data []byte) Message {
	return Message{Data: data}
}

// DetectionUpdate is the payload pushed to /ws/detections subscribers.
type DetectionUpdate struct {
	Type      string             `json:"type"`
	SessionID string             `json:"session_id"`
	State     string             `json:"state"`
	Timestamp float64            `json:"timestamp"`
	Objects   []detection.Object `json:"objects"`
}

// NewDetectionUpdate builds a detection batch. Objects is never nil so
// subscribers always see an array.
func NewDetectionUpdate(sessionID, state string, ts float64, objs []detection.Object) DetectionUpdate {
	if objs == nil {
		objs = []detection.Object{}
	}
	return DetectionUpdate{
		Type:      "detections",
		SessionID: sessionID,
		State:     state,
		Timestamp: ts,
		Objects:   objs,
	}
}
