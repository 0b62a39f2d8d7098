// Package capture runs the live recording pipeline: a producer decodes
// camera frames into a bounded queue and tees them to a recording, and a
// consumer drains to the newest frame and runs object detection once the
// session has warmed up.
package capture

import (
	"log/slog"
	"os"
	"time"
)

// Config holds live capture parameters.
type Config struct {
	WarmUp        time.Duration // Delay before detections are anchored (default 8s)
	QueueCapacity int           // FrameQueue size (default 5)
	PollInterval  time.Duration // Consumer sleep on an empty queue (default 10ms)
	JoinTimeout   time.Duration // Wait for goroutines on Stop (default 3s)
	JPEGQuality   int           // Quality of frames handed to the detector (default 85)

	OutputDir string // Where recordings are written (default os.TempDir())
	Source    string // Provenance tag for logged events (default "live")

	// Now is the clock. Defaults to time.Now.
	Now func() time.Time

	Logger *slog.Logger
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		WarmUp:        8 * time.Second,
		QueueCapacity: 5,
		PollInterval:  10 * time.Millisecond,
		JoinTimeout:   3 * time.Second,
		JPEGQuality:   85,
		OutputDir:     os.TempDir(),
		Source:        "live",
		Now:           time.Now,
		Logger:        slog.Default(),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.WarmUp < 0 {
		c.WarmUp = 0
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = d.QueueCapacity
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.JoinTimeout <= 0 {
		c.JoinTimeout = d.JoinTimeout
	}
	if c.JPEGQuality <= 0 || c.JPEGQuality > 100 {
		c.JPEGQuality = d.JPEGQuality
	}
	if c.OutputDir == "" {
		c.OutputDir = d.OutputDir
	}
	if c.Source == "" {
		c.Source = d.Source
	}
	if c.Now == nil {
		c.Now = d.Now
	}
	if c.Logger == nil {
		c.Logger = d.Logger
	}
	return c
}

// State is the session lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateWarmingUp
	StateReady
	StateStopped
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWarmingUp:
		return "warming_up"
	case StateReady:
		return "ready"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
