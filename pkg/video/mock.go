package video

import (
	"errors"
	"image/color"

	"gocv.io/x/gocv"
)

// MockSource generates solid-color frames for testing.
type MockSource struct {
	info   Info
	color  color.RGBA
	served int
	closed bool
}

// NewMockSource creates a mock source with info.FrameCount frames.
func NewMockSource(info Info, c color.RGBA) *MockSource {
	return &MockSource{info: info, color: c}
}

// Info implements Source.
func (m *MockSource) Info() Info { return m.info }

// Next implements Source.
func (m *MockSource) Next(dst *gocv.Mat) bool {
	if m.closed || m.served >= m.info.FrameCount {
		return false
	}
	frame := gocv.NewMatWithSizeFromScalar(
		gocv.NewScalar(float64(m.color.B), float64(m.color.G), float64(m.color.R), 0),
		m.info.Height, m.info.Width, gocv.MatTypeCV8UC3,
	)
	defer frame.Close()
	frame.CopyTo(dst)
	m.served++
	return true
}

// Close implements Source.
func (m *MockSource) Close() error {
	m.closed = true
	return nil
}

// Served returns how many frames were handed out.
func (m *MockSource) Served() int { return m.served }

// MemorySink keeps written frames in memory for inspection.
type MemorySink struct {
	Frames []gocv.Mat

	// FailAt makes the Nth Write (0-based) fail when >= 0.
	FailAt int
	closed bool
}

// NewMemorySink creates an in-memory sink that never fails.
func NewMemorySink() *MemorySink {
	return &MemorySink{FailAt: -1}
}

// Write implements Sink.
func (m *MemorySink) Write(frame gocv.Mat) error {
	if m.FailAt >= 0 && len(m.Frames) == m.FailAt {
		return &EncodeError{Path: "memory", Frame: len(m.Frames), Err: errors.New("injected failure")}
	}
	m.Frames = append(m.Frames, frame.Clone())
	return nil
}

// Close implements Sink. Stored frames stay available until Release.
func (m *MemorySink) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true
	return nil
}

// Release frees every stored frame.
func (m *MemorySink) Release() {
	for _, f := range m.Frames {
		f.Close()
	}
	m.Frames = nil
}
