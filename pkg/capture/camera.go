package capture

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"sync"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-heatmap/pkg/video"
)

// Backends for CameraConfig.Backend.
const (
	BackendOpenCV = "opencv"
	BackendFFmpeg = "ffmpeg"
)

// CameraConfig selects and configures the live decode source.
type CameraConfig struct {
	Backend string  // "opencv" (default) or "ffmpeg"
	Device  string  // Device index, path or URL
	Format  string  // ffmpeg input format, e.g. "avfoundation" or "v4l2"
	Width   int     // Output frame width
	Height  int     // Output frame height
	FPS     float64 // Requested frame rate
}

// DefaultCameraConfig returns defaults matching a 720p desktop capture.
func DefaultCameraConfig() CameraConfig {
	return CameraConfig{
		Backend: BackendOpenCV,
		Device:  "0",
		Width:   1280,
		Height:  720,
		FPS:     20,
	}
}

// Opener returns an Opener for the configured backend.
func (c CameraConfig) Opener(logger *slog.Logger) Opener {
	return func(ctx context.Context) (video.Source, error) {
		switch c.Backend {
		case "", BackendOpenCV:
			return OpenCamera(c)
		case BackendFFmpeg:
			return StartFFmpeg(ctx, c, logger)
		default:
			return nil, fmt.Errorf("capture: unknown backend %q", c.Backend)
		}
	}
}

// CameraSource reads frames from a camera through OpenCV.
type CameraSource struct {
	vc   *gocv.VideoCapture
	info video.Info
}

// OpenCamera opens a device index ("0") or a stream URL.
func OpenCamera(c CameraConfig) (*CameraSource, error) {
	var target any = c.Device
	if id, err := strconv.Atoi(c.Device); err == nil {
		target = id
	}
	vc, err := gocv.OpenVideoCapture(target)
	if err != nil {
		return nil, &video.SourceError{Target: c.Device, Err: err}
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, &video.SourceError{Target: c.Device, Err: fmt.Errorf("device did not open")}
	}

	if c.Width > 0 && c.Height > 0 {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(c.Width))
		vc.Set(gocv.VideoCaptureFrameHeight, float64(c.Height))
	}
	if c.FPS > 0 {
		vc.Set(gocv.VideoCaptureFPS, c.FPS)
	}

	info := video.Info{
		FPS:    vc.Get(gocv.VideoCaptureFPS),
		Width:  int(vc.Get(gocv.VideoCaptureFrameWidth)),
		Height: int(vc.Get(gocv.VideoCaptureFrameHeight)),
	}
	if info.FPS <= 0 {
		info.FPS = c.FPS
	}
	return &CameraSource{vc: vc, info: info}, nil
}

// Info implements video.Source.
func (s *CameraSource) Info() video.Info { return s.info }

// Next implements video.Source.
func (s *CameraSource) Next(dst *gocv.Mat) bool {
	if ok := s.vc.Read(dst); !ok {
		return false
	}
	return !dst.Empty()
}

// Close implements video.Source.
func (s *CameraSource) Close() error { return s.vc.Close() }

// FFmpegSource decodes a capture device with an ffmpeg child process that
// writes raw BGR frames to a pipe. Unlike the OpenCV source it can be
// killed from another goroutine.
type FFmpegSource struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	info   video.Info
	buf    []byte
	logger *slog.Logger

	once sync.Once
}

// StartFFmpeg launches ffmpeg for the configured device.
func StartFFmpeg(ctx context.Context, c CameraConfig, logger *slog.Logger) (*FFmpegSource, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if c.Width <= 0 || c.Height <= 0 {
		return nil, &video.SourceError{Target: c.Device, Err: fmt.Errorf("invalid resolution %dx%d", c.Width, c.Height)}
	}
	if c.FPS <= 0 {
		c.FPS = DefaultCameraConfig().FPS
	}

	cmd := exec.CommandContext(ctx, "ffmpeg", ffmpegArgs(c)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &video.SourceError{Target: c.Device, Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, &video.SourceError{Target: c.Device, Err: err}
	}
	if err := cmd.Start(); err != nil {
		return nil, &video.SourceError{Target: c.Device, Err: fmt.Errorf("start ffmpeg: %w", err)}
	}

	s := &FFmpegSource{
		cmd:    cmd,
		stdout: stdout,
		info:   video.Info{FPS: c.FPS, Width: c.Width, Height: c.Height},
		buf:    make([]byte, c.Width*c.Height*3),
		logger: logger.With("component", "ffmpeg", "device", c.Device),
	}
	go s.readStderr(stderr)
	return s, nil
}

func ffmpegArgs(c CameraConfig) []string {
	args := []string{"-hide_banner", "-loglevel", "warning"}
	if c.Format != "" {
		args = append(args, "-f", c.Format, "-framerate", strconv.FormatFloat(c.FPS, 'f', -1, 64))
	}
	args = append(args,
		"-i", c.Device,
		"-f", "rawvideo",
		"-pix_fmt", "bgr24",
		"-vf", fmt.Sprintf("scale=%d:%d", c.Width, c.Height),
		"-r", strconv.FormatFloat(c.FPS, 'f', -1, 64),
		"pipe:1",
	)
	return args
}

func (s *FFmpegSource) readStderr(r io.Reader) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		s.logger.Debug(sc.Text())
	}
}

// Info implements video.Source.
func (s *FFmpegSource) Info() video.Info { return s.info }

// Next implements video.Source.
func (s *FFmpegSource) Next(dst *gocv.Mat) bool {
	if _, err := io.ReadFull(s.stdout, s.buf); err != nil {
		return false
	}
	m, err := gocv.NewMatFromBytes(s.info.Height, s.info.Width, gocv.MatTypeCV8UC3, s.buf)
	if err != nil {
		return false
	}
	defer m.Close()
	m.CopyTo(dst)
	return true
}

// Kill terminates ffmpeg immediately, unblocking a pending Next.
func (s *FFmpegSource) Kill() error {
	if s.cmd.Process == nil {
		return nil
	}
	return s.cmd.Process.Kill()
}

// Close stops ffmpeg and reaps it.
func (s *FFmpegSource) Close() error {
	s.once.Do(func() {
		s.Kill()
		s.stdout.Close()
		// Exit status is always "killed" here.
		_ = s.cmd.Wait()
	})
	return nil
}
