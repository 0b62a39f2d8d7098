package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault_Valid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestParse_Overrides(t *testing.T) {
	cfg := Default()
	err := Parse([]byte(`
[server]
port = 9090

[render]
fade_seconds = 0.5
max_width = 640

[capture]
warm_up = "2s"
backend = "ffmpeg"
format = "avfoundation"
device = "1"
`), &cfg)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Render.FadeSeconds != 0.5 || cfg.Render.MaxWidth != 640 {
		t.Errorf("render = %+v", cfg.Render)
	}
	// Untouched keys keep their defaults.
	if cfg.Render.MaxHeight != 720 {
		t.Errorf("max_height = %d, want default 720", cfg.Render.MaxHeight)
	}
	if cfg.Capture.WarmUp.Duration != 2*time.Second {
		t.Errorf("warm_up = %v, want 2s", cfg.Capture.WarmUp)
	}

	cam := cfg.CameraConfig()
	if cam.Backend != "ffmpeg" || cam.Format != "avfoundation" || cam.Device != "1" {
		t.Errorf("camera = %+v", cam)
	}
}

func TestParse_UnknownKey(t *testing.T) {
	cfg := Default()
	err := Parse([]byte("[render]\nfade_secs = 1\n"), &cfg)
	if err == nil || !strings.Contains(err.Error(), "unknown keys") {
		t.Errorf("err = %v, want unknown keys error", err)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv(EnvPort, "7000")
	t.Setenv(EnvOutputDir, "/tmp/out")
	t.Setenv(EnvModel, "models/custom.onnx")
	t.Setenv(EnvCamera, "rtsp://cam")
	t.Setenv(EnvLogLevel, "debug")

	cfg := Default()
	if err := cfg.ApplyEnv(); err != nil {
		t.Fatalf("ApplyEnv failed: %v", err)
	}
	if cfg.Server.Port != 7000 || cfg.Server.OutputDir != "/tmp/out" {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Detection.Model != "models/custom.onnx" || cfg.Capture.Device != "rtsp://cam" || cfg.Log.Level != "debug" {
		t.Errorf("env overrides not applied: %+v", cfg)
	}

	t.Setenv(EnvPort, "http")
	if err := cfg.ApplyEnv(); err == nil {
		t.Error("expected error for non-numeric port")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"bad overlay", func(c *Config) { c.Render.OverlayWeight = 2 }, "render.overlay_weight"},
		{"bad backend", func(c *Config) { c.Capture.Backend = "gstreamer" }, "capture.backend"},
		{"bad queue", func(c *Config) { c.Capture.QueueCapacity = 0 }, "capture.queue_capacity"},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			var ce *ConfigError
			if !errors.As(err, &ce) {
				t.Fatalf("err = %v, want *ConfigError", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "heatmap.toml")
	if err := os.WriteFile(path, []byte("[render]\nsummary_seconds = 3.0\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got := cfg.HeatmapConfig(nil).SummarySeconds; got != 3.0 {
		t.Errorf("SummarySeconds = %v, want 3", got)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestConversions(t *testing.T) {
	cfg := Default()
	cfg.Detection.Confidence = 0.3
	cfg.Detection.InputSize = 320

	d := cfg.DetectionConfig()
	if d.ConfidenceThresh != float32(0.3) || d.InputWidth != 320 || d.InputHeight != 320 {
		t.Errorf("detection = %+v", d)
	}

	c := cfg.CaptureConfig(nil)
	if c.WarmUp != 8*time.Second || c.QueueCapacity != 5 {
		t.Errorf("capture = %+v", c)
	}
}

func TestWatch_Reloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "heatmap.toml")
	if err := os.WriteFile(path, []byte("[render]\nfade_seconds = 0.3\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan Config, 4)
	go Watch(ctx, path, nil, func(c Config) { changes <- c })

	// Give the watcher time to register.
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(path, []byte("[render]\nfade_seconds = 0.6\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case c := <-changes:
		if c.Render.FadeSeconds != 0.6 {
			t.Errorf("reloaded fade = %v, want 0.6", c.Render.FadeSeconds)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no reload after write")
	}
}
