package heatmap

import (
	"bytes"
	"context"
	"errors"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/teslashibe/go-heatmap/pkg/event"
	"github.com/teslashibe/go-heatmap/pkg/video"
)

func mockGenerator(t *testing.T, info video.Info, sink *video.MemorySink) *Generator {
	t.Helper()
	cfg := DefaultConfig()
	cfg.OutputDir = t.TempDir()
	cfg.TempDir = t.TempDir()
	return New(cfg).WithIO(
		func(string) (video.Source, error) {
			return video.NewMockSource(info, color.RGBA{R: 80, G: 80, B: 80}), nil
		},
		func(string, float64, int, int) (video.Sink, error) {
			return sink, nil
		},
	)
}

func TestGenerate(t *testing.T) {
	info := testInfo()
	sink := video.NewMemorySink()
	defer sink.Release()
	gen := mockGenerator(t, info, sink)

	events := []event.InteractionEvent{
		event.NewEvent(0.5, 0.5, 5.0, "test"),
		event.NewEvent(0.25, 0.25, 1.0, "test"),
		{X: floatPtr(0.1), Y: floatPtr(0.1)}, // no timestamp
	}

	res, err := gen.Generate(context.Background(), Request{
		VideoPath:   "session.mp4",
		Events:      events,
		Coordinates: event.Options{Normalized: true},
	})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if res.Events != 2 || res.Skipped != 1 {
		t.Errorf("events = %d skipped = %d, want 2 and 1", res.Events, res.Skipped)
	}
	if res.Stats.FramesWritten() != 360 || len(sink.Frames) != 360 {
		t.Errorf("wrote %d frames, want 360", len(sink.Frames))
	}
	if res.Plan.Resize {
		t.Error("small source should not be downscaled")
	}
	name := filepath.Base(res.OutputPath)
	if !strings.HasPrefix(name, "heatmap_") || !strings.HasSuffix(name, ".mp4") {
		t.Errorf("unexpected output name %q", name)
	}
}

func TestGenerate_OpenFailure(t *testing.T) {
	cfg := DefaultConfig()
	gen := New(cfg).WithIO(
		func(path string) (video.Source, error) {
			return nil, &video.SourceError{Target: path, Err: errors.New("missing")}
		},
		nil,
	)

	_, err := gen.Generate(context.Background(), Request{VideoPath: "missing.mp4"})
	if StageOf(err) != StageOpen {
		t.Errorf("stage = %q, want %q", StageOf(err), StageOpen)
	}
	if !errors.Is(err, video.ErrSourceUnavailable) {
		t.Errorf("error %v does not match ErrSourceUnavailable", err)
	}
}

func TestGenerate_AllEventsInvalid(t *testing.T) {
	sink := video.NewMemorySink()
	defer sink.Release()
	gen := mockGenerator(t, testInfo(), sink)

	neg := -1.0
	_, err := gen.Generate(context.Background(), Request{
		VideoPath: "session.mp4",
		Events:    []event.InteractionEvent{{X: floatPtr(1), Y: floatPtr(1), Timestamp: &neg}},
	})
	if StageOf(err) != StageNormalize {
		t.Errorf("stage = %q, want %q", StageOf(err), StageNormalize)
	}
	if len(sink.Frames) != 0 {
		t.Errorf("sink received %d frames after a failed normalize", len(sink.Frames))
	}
}

func TestGenerate_EncodeFailure(t *testing.T) {
	sink := video.NewMemorySink()
	sink.FailAt = 3
	defer sink.Release()
	gen := mockGenerator(t, testInfo(), sink)

	_, err := gen.Generate(context.Background(), Request{
		VideoPath:   "session.mp4",
		Events:      []event.InteractionEvent{event.NewEvent(0.5, 0.5, 1.0, "")},
		Coordinates: event.Options{Normalized: true},
	})
	if StageOf(err) != StageEncode || !errors.Is(err, video.ErrEncode) {
		t.Errorf("err = %v, want encode stage failure", err)
	}
}

// fileBackedSink records frames in memory and leaves a file at path once
// closed, so artifact cleanup can be observed on disk.
type fileBackedSink struct {
	*video.MemorySink
	path string
}

func (s *fileBackedSink) Close() error {
	if err := s.MemorySink.Close(); err != nil {
		return err
	}
	return os.WriteFile(s.path, []byte("mp4"), 0o644)
}

// largeSourceIO serves a 1080p source and, once a downscaled copy has been
// written, serves that copy at the working size.
type largeSourceIO struct {
	t          *testing.T
	native     video.Info
	failResize bool

	resized     string
	resizedSize video.Info
	output      *video.MemorySink
}

func (vio *largeSourceIO) open(path string) (video.Source, error) {
	info := vio.native
	if path == vio.resized {
		info = vio.resizedSize
	}
	return video.NewMockSource(info, color.RGBA{R: 80, G: 80, B: 80}), nil
}

func (vio *largeSourceIO) create(path string, fps float64, w, h int) (video.Sink, error) {
	sink := video.NewMemorySink()
	vio.t.Cleanup(sink.Release)
	if !strings.HasPrefix(filepath.Base(path), "downscaled_") {
		vio.output = sink
		return sink, nil
	}
	if vio.failResize {
		return nil, &video.EncodeError{Path: path, Err: errors.New("no encoder")}
	}
	vio.resized = path
	vio.resizedSize = video.Info{FPS: fps, Width: w, Height: h, FrameCount: vio.native.FrameCount}
	return &fileBackedSink{MemorySink: sink, path: path}, nil
}

func largeSourceGenerator(t *testing.T, vio *largeSourceIO) *Generator {
	t.Helper()
	cfg := DefaultConfig()
	cfg.OutputDir = t.TempDir()
	cfg.TempDir = t.TempDir()
	cfg.SummarySeconds = 0
	return New(cfg).WithIO(vio.open, vio.create)
}

func TestGenerate_DownscalesLargeSource(t *testing.T) {
	vio := &largeSourceIO{t: t, native: video.Info{FPS: 30, Width: 1920, Height: 1080, FrameCount: 6}}
	gen := largeSourceGenerator(t, vio)

	res, err := gen.Generate(context.Background(), Request{
		VideoPath:   "session.mp4",
		Events:      []event.InteractionEvent{event.NewEvent(0.5, 0.5, 0.1, "tap")},
		Coordinates: event.Options{Normalized: true},
	})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if !res.Plan.Resize || res.Plan.Width != 1280 || res.Plan.Height != 720 {
		t.Errorf("plan = %+v, want a 1280x720 resize", res.Plan)
	}
	if vio.resized == "" {
		t.Fatal("no downscaled copy was written")
	}
	if len(vio.output.Frames) != 6 {
		t.Fatalf("wrote %d frames, want 6", len(vio.output.Frames))
	}
	for i, f := range vio.output.Frames {
		if f.Cols() != 1280 || f.Rows() != 720 {
			t.Fatalf("frame %d is %dx%d, want 1280x720", i, f.Cols(), f.Rows())
		}
	}
	if _, err := os.Stat(vio.resized); !os.IsNotExist(err) {
		t.Errorf("downscaled copy %s was not removed", vio.resized)
	}
}

func TestGenerate_DownscaleFailureFallsBack(t *testing.T) {
	vio := &largeSourceIO{t: t, native: video.Info{FPS: 30, Width: 1920, Height: 1080, FrameCount: 3}, failResize: true}
	gen := largeSourceGenerator(t, vio)

	res, err := gen.Generate(context.Background(), Request{
		VideoPath:   "session.mp4",
		Events:      []event.InteractionEvent{event.NewEvent(0.5, 0.5, 0.05, "tap")},
		Coordinates: event.Options{Normalized: true},
	})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if res.Plan.Resize || res.Plan.Width != 1920 || res.Plan.Height != 1080 {
		t.Errorf("plan = %+v, want native 1920x1080", res.Plan)
	}
	if len(vio.output.Frames) != 3 {
		t.Fatalf("wrote %d frames, want 3", len(vio.output.Frames))
	}
	if f := vio.output.Frames[0]; f.Cols() != 1920 || f.Rows() != 1080 {
		t.Errorf("frame is %dx%d, want 1920x1080", f.Cols(), f.Rows())
	}
}

func TestGenerate_Idempotent(t *testing.T) {
	events := []event.InteractionEvent{
		event.NewEvent(0.5, 0.5, 2.0, "tap"),
		event.NewEvent(0.2, 0.7, 2.1, "tap"),
		event.NewEvent(0.8, 0.3, 6.0, "swipe"),
	}
	run := func() *video.MemorySink {
		sink := video.NewMemorySink()
		t.Cleanup(sink.Release)
		_, err := mockGenerator(t, testInfo(), sink).Generate(context.Background(), Request{
			VideoPath:   "session.mp4",
			Events:      events,
			Coordinates: event.Options{Normalized: true},
		})
		if err != nil {
			t.Fatalf("Generate failed: %v", err)
		}
		return sink
	}

	first, second := run(), run()
	if len(first.Frames) != len(second.Frames) {
		t.Fatalf("frame counts differ: %d vs %d", len(first.Frames), len(second.Frames))
	}
	for i := range first.Frames {
		if !bytes.Equal(first.Frames[i].ToBytes(), second.Frames[i].ToBytes()) {
			t.Fatalf("frame %d differs between runs", i)
		}
	}
}

func TestOutputName(t *testing.T) {
	ts := time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)
	if got := OutputName(ts, "ab12cd34"); got != "heatmap_20240309_140507_ab12cd34.mp4" {
		t.Errorf("OutputName = %q", got)
	}
}

func floatPtr(v float64) *float64 { return &v }
