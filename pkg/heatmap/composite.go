package heatmap

import (
	"context"
	"errors"
	"log/slog"
	"math"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-heatmap/pkg/video"
)

// Stats summarizes one compositing run.
type Stats struct {
	FramesRead    int `json:"frames_read"`
	FramesLit     int `json:"frames_lit"`
	SummaryFrames int `json:"summary_frames"`
}

// FramesWritten returns the total number of output frames.
func (s Stats) FramesWritten() int { return s.FramesRead + s.SummaryFrames }

// Compositor streams a source through darkening and overlay blending into
// a sink, then appends the summary hold.
type Compositor struct {
	cfg      Config
	field    *Field
	summary  *Grid
	renderer *Renderer
	logger   *slog.Logger

	black *gocv.Mat
}

// NewCompositor creates a compositor. summary may be nil, in which case
// the hold shows only the darkened last frame.
func NewCompositor(cfg Config, field *Field, summary *Grid, renderer *Renderer) *Compositor {
	cfg = cfg.withDefaults()
	return &Compositor{
		cfg:      cfg,
		field:    field,
		summary:  summary,
		renderer: renderer,
		logger:   cfg.Logger,
	}
}

// SummaryFrameCount returns how many hold frames follow the last source frame.
func SummaryFrameCount(fps, seconds float64) int {
	if fps <= 0 || seconds <= 0 {
		return 0
	}
	return int(math.Round(fps * seconds))
}

// Run composites every frame of src into dst. Frames past the end of the
// field are written darkened with no overlay.
func (c *Compositor) Run(ctx context.Context, src video.Source, dst video.Sink) (Stats, error) {
	var stats Stats

	frame := gocv.NewMat()
	defer frame.Close()
	dark := gocv.NewMat()
	defer dark.Close()
	out := gocv.NewMat()
	defer out.Close()
	lastDark := gocv.NewMat()
	defer lastDark.Close()
	defer func() {
		if c.black != nil {
			c.black.Close()
			c.black = nil
		}
	}()

	var grid *Grid
	if c.field != nil {
		grid = NewGrid(c.field.width, c.field.height)
	}

	for src.Next(&frame) {
		if err := ctx.Err(); err != nil {
			return stats, stageErr(StageEncode, err)
		}

		c.darken(frame, &dark)

		written := dark
		if c.field != nil && c.field.Lit(stats.FramesRead) {
			c.field.FrameInto(stats.FramesRead, grid)
			overlay, ok, err := c.renderer.Render(grid)
			if err != nil {
				return stats, stageErr(StageEncode, err)
			}
			if ok {
				c.blend(dark, overlay, &out)
				overlay.Close()
				written = out
				stats.FramesLit++
			}
		}

		if err := dst.Write(written); err != nil {
			return stats, stageErr(StageEncode, err)
		}
		stats.FramesRead++
		dark.CopyTo(&lastDark)
	}

	if stats.FramesRead == 0 {
		return stats, stageErr(StageOpen, errors.New("no frames decoded"))
	}

	hold, err := c.summaryFrame(lastDark)
	if err != nil {
		return stats, stageErr(StageSummary, err)
	}
	defer hold.Close()

	n := SummaryFrameCount(src.Info().FPS, c.cfg.SummarySeconds)
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return stats, stageErr(StageSummary, err)
		}
		if err := dst.Write(hold); err != nil {
			return stats, stageErr(StageEncode, err)
		}
		stats.SummaryFrames++
	}

	c.logger.Debug("composited video",
		"frames", stats.FramesRead,
		"lit", stats.FramesLit,
		"summary", stats.SummaryFrames)
	return stats, nil
}

func (c *Compositor) darken(frame gocv.Mat, dst *gocv.Mat) {
	if c.black == nil || c.black.Rows() != frame.Rows() || c.black.Cols() != frame.Cols() || c.black.Type() != frame.Type() {
		if c.black != nil {
			c.black.Close()
		}
		black := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), frame.Rows(), frame.Cols(), frame.Type())
		c.black = &black
	}
	w := c.cfg.DarkenWeight
	gocv.AddWeighted(frame, w, *c.black, 1-w, 0, dst)
}

// blend adds the weighted overlay on top of base; 8-bit arithmetic saturates.
func (c *Compositor) blend(base, overlay gocv.Mat, dst *gocv.Mat) {
	gocv.AddWeighted(base, 1.0, overlay, c.cfg.OverlayWeight, 0, dst)
}

func (c *Compositor) summaryFrame(lastDark gocv.Mat) (gocv.Mat, error) {
	if c.summary == nil || c.renderer == nil {
		return lastDark.Clone(), nil
	}
	overlay, ok, err := c.renderer.Render(c.summary)
	if err != nil {
		return gocv.Mat{}, err
	}
	if !ok {
		return lastDark.Clone(), nil
	}
	defer overlay.Close()

	hold := gocv.NewMat()
	c.blend(lastDark, overlay, &hold)
	return hold, nil
}
