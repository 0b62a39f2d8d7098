package heatmap

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gocv.io/x/gocv"

	"github.com/teslashibe/go-heatmap/pkg/event"
	"github.com/teslashibe/go-heatmap/pkg/video"
)

// Request describes one heatmap generation.
type Request struct {
	VideoPath string
	Events    []event.InteractionEvent

	// Coordinates describes how event positions were recorded. Pixel
	// coordinates with no reference size are taken to be native video
	// pixels.
	Coordinates event.Options

	// OutputPath overrides the generated name in Config.OutputDir.
	OutputPath string
}

// Result describes a finished generation.
type Result struct {
	OutputPath string        `json:"output_path"`
	Source     video.Info    `json:"source"`
	Plan       Plan          `json:"plan"`
	Sigma      float64       `json:"sigma"`
	Events     int           `json:"events"`
	Skipped    int           `json:"skipped"`
	Stats      Stats         `json:"stats"`
	Duration   time.Duration `json:"duration"`
}

// SourceOpener opens a decoded video.
type SourceOpener func(path string) (video.Source, error)

// SinkCreator opens an encoder. The returned sink is closed by the caller.
type SinkCreator func(path string, fps float64, width, height int) (video.Sink, error)

// Generator runs the batch pipeline from a source video and an event
// batch to an annotated output video.
type Generator struct {
	cfg    Config
	logger *slog.Logger

	open   SourceOpener
	create SinkCreator
	now    func() time.Time
}

// New creates a generator backed by OpenCV file I/O.
func New(cfg Config) *Generator {
	cfg = cfg.withDefaults()
	return &Generator{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "heatmap"),
		open: func(path string) (video.Source, error) {
			return video.OpenFile(path)
		},
		create: func(path string, fps float64, w, h int) (video.Sink, error) {
			return video.CreateFile(path, fps, w, h)
		},
		now: time.Now,
	}
}

// WithIO replaces the video backends. Intended for tests.
func (g *Generator) WithIO(open SourceOpener, create SinkCreator) *Generator {
	g.open = open
	g.create = create
	return g
}

// Config returns the active configuration.
func (g *Generator) Config() Config { return g.cfg }

// OutputName returns the default file name for a run started at t.
func OutputName(t time.Time, id string) string {
	return fmt.Sprintf("heatmap_%s_%s.mp4", t.Format("20060102_150405"), id)
}

// Generate produces the annotated video. Failures are *StageError values
// naming the failing step; a partial output file is never left behind.
func (g *Generator) Generate(ctx context.Context, req Request) (*Result, error) {
	start := g.now()

	native, err := g.sourceInfo(req.VideoPath)
	if err != nil {
		return nil, stageErr(StageOpen, err)
	}

	plan := PlanScale(native.Width, native.Height, g.cfg.MaxWidth, g.cfg.MaxHeight, g.cfg.MinScale)
	workPath := req.VideoPath
	if plan.Resize {
		art, err := Downscale(ctx, req.VideoPath, g.cfg.TempDir, plan, g.open, g.create)
		if err != nil {
			if ctx.Err() != nil {
				return nil, stageErr(StageDownscale, err)
			}
			g.logger.Warn("downscale failed, continuing at native resolution",
				"video", req.VideoPath, "error", err)
			plan = Plan{Width: native.Width, Height: native.Height, Scale: 1}
		} else {
			workPath = art.Path
			defer func() {
				if err := art.Cleanup(); err != nil {
					g.logger.Warn("failed to remove intermediate video", "path", art.Path, "error", err)
				}
			}()
		}
	}

	opts := req.Coordinates
	if !opts.Normalized && opts.ReferenceWidth == 0 && opts.ReferenceHeight == 0 {
		opts.ReferenceWidth, opts.ReferenceHeight = native.Width, native.Height
	}
	norm := event.NewNormalizer(plan.Width, plan.Height, opts, g.logger).Normalize(req.Events)
	if norm.Skipped > 0 {
		g.logger.Warn("dropped invalid events", "skipped", norm.Skipped, "valid", norm.Valid())
	}
	if len(req.Events) > 0 && norm.Valid() == 0 {
		return nil, stageErr(StageNormalize, fmt.Errorf("all %d events invalid", len(req.Events)))
	}

	src, err := g.open(workPath)
	if err != nil {
		return nil, stageErr(StageOpen, err)
	}
	defer src.Close()

	info := src.Info()
	if info.FPS <= 0 {
		return nil, stageErr(StageOpen, fmt.Errorf("invalid frame rate %v", info.FPS))
	}
	frameCount := info.FrameCount
	if frameCount <= 0 {
		if frameCount, err = g.countFrames(workPath); err != nil {
			return nil, stageErr(StageOpen, err)
		}
	}

	fade := FadeFrames(info.FPS, g.cfg.FadeSeconds)
	sets := BuildIntervals(norm.Events, info.FPS, fade, frameCount)
	field := BuildField(sets, plan.Width, plan.Height, frameCount, fade)
	summary := SummaryGrid(norm.Events, plan.Width, plan.Height)

	outPath := req.OutputPath
	if outPath == "" {
		outPath = filepath.Join(g.cfg.OutputDir, OutputName(start, uuid.NewString()[:8]))
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return nil, stageErr(StageEncode, err)
	}

	sink, err := g.create(outPath, info.FPS, info.Width, info.Height)
	if err != nil {
		return nil, stageErr(StageEncode, err)
	}

	renderer := NewRenderer(g.cfg, plan.Width, info.Width, info.Height)
	comp := NewCompositor(g.cfg, field, summary, renderer)

	stats, err := comp.Run(ctx, src, sink)
	if cerr := sink.Close(); err == nil && cerr != nil {
		err = stageErr(StageEncode, cerr)
	}
	if err != nil {
		os.Remove(outPath)
		return nil, err
	}

	res := &Result{
		OutputPath: outPath,
		Source:     native,
		Plan:       plan,
		Sigma:      renderer.Sigma(),
		Events:     norm.Valid(),
		Skipped:    norm.Skipped,
		Stats:      stats,
		Duration:   g.now().Sub(start),
	}
	g.logger.Info("heatmap generated",
		"output", outPath,
		"frames", stats.FramesWritten(),
		"events", res.Events,
		"width", plan.Width,
		"height", plan.Height,
		"duration", res.Duration)
	return res, nil
}

func (g *Generator) sourceInfo(path string) (video.Info, error) {
	src, err := g.open(path)
	if err != nil {
		return video.Info{}, err
	}
	defer src.Close()
	return src.Info(), nil
}

// countFrames decodes the whole file for containers that do not report a
// frame count.
func (g *Generator) countFrames(path string) (int, error) {
	src, err := g.open(path)
	if err != nil {
		return 0, err
	}
	defer src.Close()

	frame := gocv.NewMat()
	defer frame.Close()
	n := 0
	for src.Next(&frame) {
		n++
	}
	if n == 0 {
		return 0, fmt.Errorf("no frames in %s", path)
	}
	return n, nil
}
