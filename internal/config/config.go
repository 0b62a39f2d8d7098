// Package config loads go-heatmap settings from an optional TOML file and
// the environment. Environment variables win over the file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/teslashibe/go-heatmap/pkg/capture"
	"github.com/teslashibe/go-heatmap/pkg/detection"
	"github.com/teslashibe/go-heatmap/pkg/heatmap"
)

// Environment variables read by ApplyEnv.
const (
	EnvPort      = "HEATMAP_PORT"
	EnvOutputDir = "HEATMAP_OUTPUT_DIR"
	EnvModel     = "HEATMAP_MODEL"
	EnvCamera    = "HEATMAP_CAMERA"
	EnvLogLevel  = "HEATMAP_LOG_LEVEL"
)

// Duration is a time.Duration written as a string ("8s", "10ms") in TOML.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the complete application configuration.
type Config struct {
	Server    Server    `toml:"server"`
	Render    Render    `toml:"render"`
	Capture   Capture   `toml:"capture"`
	Detection Detection `toml:"detection"`
	Log       Log       `toml:"log"`
}

// Server configures the HTTP layer.
type Server struct {
	Port        int    `toml:"port"`
	OutputDir   string `toml:"output_dir"`
	UploadDir   string `toml:"upload_dir"`
	BodyLimitMB int    `toml:"body_limit_mb"`
	CORSOrigins string `toml:"cors_origins"`
}

// Render tunes heatmap generation.
type Render struct {
	FadeSeconds    float64 `toml:"fade_seconds"`
	BaseSigma      float64 `toml:"base_sigma"`
	BaseResolution float64 `toml:"base_resolution"`
	FloorSigma     float64 `toml:"floor_sigma"`
	DarkenWeight   float64 `toml:"darken_weight"`
	OverlayWeight  float64 `toml:"overlay_weight"`
	SummarySeconds float64 `toml:"summary_seconds"`
	MaxWidth       int     `toml:"max_width"`
	MaxHeight      int     `toml:"max_height"`
	MinScale       float64 `toml:"min_scale"`
}

// Capture configures the live camera pipeline.
type Capture struct {
	Backend       string   `toml:"backend"`
	Device        string   `toml:"device"`
	Format        string   `toml:"format"`
	Width         int      `toml:"width"`
	Height        int      `toml:"height"`
	FPS           float64  `toml:"fps"`
	WarmUp        Duration `toml:"warm_up"`
	QueueCapacity int      `toml:"queue_capacity"`
	PollInterval  Duration `toml:"poll_interval"`
	JoinTimeout   Duration `toml:"join_timeout"`
	JPEGQuality   int      `toml:"jpeg_quality"`
}

// Detection configures the object detector.
type Detection struct {
	Enabled    bool    `toml:"enabled"`
	Model      string  `toml:"model"`
	Confidence float64 `toml:"confidence"`
	NMS        float64 `toml:"nms"`
	InputSize  int     `toml:"input_size"`
}

// Log configures logging.
type Log struct {
	Level string `toml:"level"`
}

// Default returns the built-in configuration.
func Default() Config {
	h := heatmap.DefaultConfig()
	c := capture.DefaultConfig()
	cam := capture.DefaultCameraConfig()
	d := detection.DefaultConfig()

	return Config{
		Server: Server{
			Port:        8080,
			OutputDir:   h.OutputDir,
			UploadDir:   "uploads",
			BodyLimitMB: 1024,
			CORSOrigins: "*",
		},
		Render: Render{
			FadeSeconds:    h.FadeSeconds,
			BaseSigma:      h.BaseSigma,
			BaseResolution: h.BaseResolution,
			FloorSigma:     h.FloorSigma,
			DarkenWeight:   h.DarkenWeight,
			OverlayWeight:  h.OverlayWeight,
			SummarySeconds: h.SummarySeconds,
			MaxWidth:       h.MaxWidth,
			MaxHeight:      h.MaxHeight,
			MinScale:       h.MinScale,
		},
		Capture: Capture{
			Backend:       cam.Backend,
			Device:        cam.Device,
			Width:         cam.Width,
			Height:        cam.Height,
			FPS:           cam.FPS,
			WarmUp:        Duration{c.WarmUp},
			QueueCapacity: c.QueueCapacity,
			PollInterval:  Duration{c.PollInterval},
			JoinTimeout:   Duration{c.JoinTimeout},
			JPEGQuality:   c.JPEGQuality,
		},
		Detection: Detection{
			Enabled:    true,
			Model:      d.ModelPath,
			Confidence: float64(d.ConfidenceThresh),
			NMS:        float64(d.NMSThresh),
			InputSize:  d.InputWidth,
		},
		Log: Log{Level: "info"},
	}
}

// Load reads path over the defaults and applies the environment. An empty
// path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := Parse(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// Parse decodes TOML into cfg, leaving unset keys untouched. Unknown keys
// are rejected so typos surface.
func Parse(data []byte, cfg *Config) error {
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return fmt.Errorf("unknown keys:\n%s", strict.String())
		}
		return err
	}
	return nil
}

// ApplyEnv overrides fields from HEATMAP_* variables.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv(EnvPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return &ConfigError{Problems: []string{fmt.Sprintf("%s: %q is not a port", EnvPort, v)}}
		}
		c.Server.Port = port
	}
	if v := os.Getenv(EnvOutputDir); v != "" {
		c.Server.OutputDir = v
	}
	if v := os.Getenv(EnvModel); v != "" {
		c.Detection.Model = v
	}
	if v := os.Getenv(EnvCamera); v != "" {
		c.Capture.Device = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
	return nil
}

// ConfigError lists every invalid setting.
type ConfigError struct {
	Problems []string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return "config: " + strings.Join(e.Problems, "; ")
}

// Validate checks ranges. It returns a *ConfigError or nil.
func (c Config) Validate() error {
	var problems []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		problems = append(problems, "server.port must be between 1 and 65535")
	}
	if c.Server.OutputDir == "" {
		problems = append(problems, "server.output_dir is required")
	}
	if c.Server.BodyLimitMB < 1 {
		problems = append(problems, "server.body_limit_mb must be positive")
	}

	r := c.Render
	if r.FadeSeconds <= 0 {
		problems = append(problems, "render.fade_seconds must be positive")
	}
	if r.BaseSigma <= 0 || r.BaseResolution <= 0 || r.FloorSigma <= 0 {
		problems = append(problems, "render sigma settings must be positive")
	}
	if r.DarkenWeight <= 0 || r.DarkenWeight > 1 {
		problems = append(problems, "render.darken_weight must be in (0, 1]")
	}
	if r.OverlayWeight <= 0 || r.OverlayWeight > 1 {
		problems = append(problems, "render.overlay_weight must be in (0, 1]")
	}
	if r.SummarySeconds < 0 {
		problems = append(problems, "render.summary_seconds must not be negative")
	}
	if r.MaxWidth < 2 || r.MaxHeight < 2 {
		problems = append(problems, "render.max_width and render.max_height must be at least 2")
	}
	if r.MinScale <= 0 || r.MinScale > 1 {
		problems = append(problems, "render.min_scale must be in (0, 1]")
	}

	cp := c.Capture
	switch cp.Backend {
	case capture.BackendOpenCV, capture.BackendFFmpeg:
	default:
		problems = append(problems, "capture.backend must be opencv or ffmpeg")
	}
	if cp.QueueCapacity < 1 {
		problems = append(problems, "capture.queue_capacity must be at least 1")
	}
	if cp.WarmUp.Duration < 0 {
		problems = append(problems, "capture.warm_up must not be negative")
	}
	if cp.JPEGQuality < 1 || cp.JPEGQuality > 100 {
		problems = append(problems, "capture.jpeg_quality must be between 1 and 100")
	}

	if c.Detection.Confidence <= 0 || c.Detection.Confidence > 1 {
		problems = append(problems, "detection.confidence must be in (0, 1]")
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		problems = append(problems, "log.level must be debug, info, warn or error")
	}

	if len(problems) > 0 {
		return &ConfigError{Problems: problems}
	}
	return nil
}

// HeatmapConfig converts the render section.
func (c Config) HeatmapConfig(logger *slog.Logger) heatmap.Config {
	r := c.Render
	return heatmap.Config{
		FadeSeconds:    r.FadeSeconds,
		BaseSigma:      r.BaseSigma,
		BaseResolution: r.BaseResolution,
		FloorSigma:     r.FloorSigma,
		DarkenWeight:   r.DarkenWeight,
		OverlayWeight:  r.OverlayWeight,
		SummarySeconds: r.SummarySeconds,
		MaxWidth:       r.MaxWidth,
		MaxHeight:      r.MaxHeight,
		MinScale:       r.MinScale,
		OutputDir:      c.Server.OutputDir,
		TempDir:        os.TempDir(),
		Logger:         logger,
	}
}

// CaptureConfig converts the capture section.
func (c Config) CaptureConfig(logger *slog.Logger) capture.Config {
	cp := c.Capture
	return capture.Config{
		WarmUp:        cp.WarmUp.Duration,
		QueueCapacity: cp.QueueCapacity,
		PollInterval:  cp.PollInterval.Duration,
		JoinTimeout:   cp.JoinTimeout.Duration,
		JPEGQuality:   cp.JPEGQuality,
		OutputDir:     c.Server.UploadDir,
		Source:        "live",
		Logger:        logger,
	}
}

// CameraConfig returns the camera selection.
func (c Config) CameraConfig() capture.CameraConfig {
	cp := c.Capture
	return capture.CameraConfig{
		Backend: cp.Backend,
		Device:  cp.Device,
		Format:  cp.Format,
		Width:   cp.Width,
		Height:  cp.Height,
		FPS:     cp.FPS,
	}
}

// DetectionConfig converts the detection section.
func (c Config) DetectionConfig() detection.Config {
	d := detection.DefaultConfig()
	d.ModelPath = c.Detection.Model
	d.ConfidenceThresh = float32(c.Detection.Confidence)
	if c.Detection.NMS > 0 {
		d.NMSThresh = float32(c.Detection.NMS)
	}
	if c.Detection.InputSize > 0 {
		d.InputWidth, d.InputHeight = c.Detection.InputSize, c.Detection.InputSize
	}
	return d
}
