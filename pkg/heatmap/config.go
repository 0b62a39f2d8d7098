// Package heatmap renders interaction events as a glowing overlay on top of
// a darkened source video and finishes with a static full-session heatmap.
//
// The pipeline is: events are placed on the frame grid (pkg/event), turned
// into per-pixel fade intervals, accumulated into a sparse brightness field,
// and rendered frame by frame through a Gaussian blur and OpenCV's inferno
// colormap. Frames are streamed from a video.Source to a video.Sink; the
// whole video is never held in memory.
package heatmap

import (
	"log/slog"
	"os"
)

// Config holds all tunable parameters for heatmap generation.
type Config struct {
	// Fade
	FadeSeconds float64 // Ramp length on each side of an event (default 0.3s)

	// Blur radius, scaled with working resolution
	BaseSigma      float64 // Sigma at BaseResolution width (default 40)
	BaseResolution float64 // Reference frame width (default 1920)
	FloorSigma     float64 // Never blur narrower than this (default 5)

	// Compositing
	DarkenWeight   float64 // Weight of the source frame vs black (default 0.5)
	OverlayWeight  float64 // Weight of the heatmap overlay (default 0.8)
	SummarySeconds float64 // Hold duration of the final heatmap (default 2s)

	// Resolution cap
	MaxWidth  int     // Downscale above this width (default 1280)
	MaxHeight int     // Downscale above this height (default 720)
	MinScale  float64 // Skip downscaling when scale >= this (default 0.95)

	// Output
	OutputDir string // Where generated videos go
	TempDir   string // Intermediate artifacts (default os.TempDir())

	// Observability
	Logger *slog.Logger
}

// DefaultConfig returns the recommended configuration.
func DefaultConfig() Config {
	return Config{
		FadeSeconds: 0.3,

		BaseSigma:      40,
		BaseResolution: 1920,
		FloorSigma:     5.0,

		DarkenWeight:   0.5,
		OverlayWeight:  0.8,
		SummarySeconds: 2.0,

		MaxWidth:  1280,
		MaxHeight: 720,
		MinScale:  0.95,

		OutputDir: "heatmaps",
		TempDir:   os.TempDir(),

		Logger: slog.Default(),
	}
}

// withDefaults fills zero values so a partially built Config still works.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.FadeSeconds <= 0 {
		c.FadeSeconds = d.FadeSeconds
	}
	if c.BaseSigma <= 0 {
		c.BaseSigma = d.BaseSigma
	}
	if c.BaseResolution <= 0 {
		c.BaseResolution = d.BaseResolution
	}
	if c.FloorSigma <= 0 {
		c.FloorSigma = d.FloorSigma
	}
	if c.DarkenWeight <= 0 {
		c.DarkenWeight = d.DarkenWeight
	}
	if c.OverlayWeight <= 0 {
		c.OverlayWeight = d.OverlayWeight
	}
	if c.SummarySeconds < 0 {
		c.SummarySeconds = d.SummarySeconds
	}
	if c.MaxWidth <= 0 {
		c.MaxWidth = d.MaxWidth
	}
	if c.MaxHeight <= 0 {
		c.MaxHeight = d.MaxHeight
	}
	if c.MinScale <= 0 {
		c.MinScale = d.MinScale
	}
	if c.OutputDir == "" {
		c.OutputDir = d.OutputDir
	}
	if c.TempDir == "" {
		c.TempDir = d.TempDir
	}
	if c.Logger == nil {
		c.Logger = d.Logger
	}
	return c
}
