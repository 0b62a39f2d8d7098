package capture

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-heatmap/pkg/video"
)

// MockCamera is a live source for testing. It paces frames at the
// configured rate and can be told to hang until killed.
type MockCamera struct {
	info     video.Info
	interval time.Duration

	// Hang makes Next block until Kill once it has served this many frames.
	Hang int

	served atomic.Int64
	killed chan struct{}
	once   sync.Once
	closed atomic.Bool
}

// NewMockCamera creates a mock camera.
func NewMockCamera(info video.Info) *MockCamera {
	interval := time.Second / 30
	if info.FPS > 0 {
		interval = time.Duration(float64(time.Second) / info.FPS)
	}
	return &MockCamera{info: info, interval: interval, Hang: -1, killed: make(chan struct{})}
}

// Opener returns an Opener yielding this camera.
func (m *MockCamera) Opener() Opener {
	return func(context.Context) (video.Source, error) { return m, nil }
}

// Info implements video.Source.
func (m *MockCamera) Info() video.Info { return m.info }

// Next implements video.Source.
func (m *MockCamera) Next(dst *gocv.Mat) bool {
	if m.closed.Load() {
		return false
	}
	if m.Hang >= 0 && m.served.Load() >= int64(m.Hang) {
		<-m.killed
		return false
	}
	select {
	case <-m.killed:
		return false
	case <-time.After(m.interval):
	}

	n := m.served.Add(1)
	frame := gocv.NewMatWithSizeFromScalar(
		gocv.NewScalar(float64(n%256), 64, 128, 0),
		m.info.Height, m.info.Width, gocv.MatTypeCV8UC3,
	)
	defer frame.Close()
	frame.CopyTo(dst)
	return true
}

// Kill implements Killer.
func (m *MockCamera) Kill() error {
	m.once.Do(func() { close(m.killed) })
	return nil
}

// Close implements video.Source.
func (m *MockCamera) Close() error {
	m.closed.Store(true)
	return nil
}

// Served returns how many frames were produced.
func (m *MockCamera) Served() int { return int(m.served.Load()) }

// Killed reports whether Kill was called.
func (m *MockCamera) Killed() bool {
	select {
	case <-m.killed:
		return true
	default:
		return false
	}
}
