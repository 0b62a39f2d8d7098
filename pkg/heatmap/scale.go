package heatmap

import (
	"context"
	"fmt"
	"image"
	"math"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"gocv.io/x/gocv"
)

// Plan is the working resolution chosen for a source.
type Plan struct {
	Width, Height int
	Scale         float64
	Resize        bool
}

// PlanScale fits w x h inside maxW x maxH without upscaling. Small
// reductions (scale >= minScale) are not worth a re-encode and are skipped.
// Target dimensions are rounded to even numbers for the encoder.
func PlanScale(w, h, maxW, maxH int, minScale float64) Plan {
	native := Plan{Width: w, Height: h, Scale: 1}
	if w <= 0 || h <= 0 {
		return native
	}
	scale := math.Min(math.Min(float64(maxW)/float64(w), float64(maxH)/float64(h)), 1)
	if scale >= minScale {
		return native
	}
	return Plan{
		Width:  even(int(math.Round(float64(w) * scale))),
		Height: even(int(math.Round(float64(h) * scale))),
		Scale:  scale,
		Resize: true,
	}
}

func even(v int) int {
	v -= v % 2
	if v < 2 {
		return 2
	}
	return v
}

// Artifact is a video produced for intermediate use.
type Artifact struct {
	Path      string
	Temporary bool
}

// Cleanup removes the artifact if it is temporary.
func (a Artifact) Cleanup() error {
	if !a.Temporary || a.Path == "" {
		return nil
	}
	if err := os.Remove(a.Path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Downscale re-encodes src at the planned resolution into dir through the
// given video backends. When the plan keeps native size the source itself
// is returned, not a copy.
func Downscale(ctx context.Context, src, dir string, plan Plan, open SourceOpener, create SinkCreator) (Artifact, error) {
	if !plan.Resize {
		return Artifact{Path: src}, nil
	}

	in, err := open(src)
	if err != nil {
		return Artifact{}, err
	}
	defer in.Close()

	dst := filepath.Join(dir, fmt.Sprintf("downscaled_%s.mp4", uuid.NewString()[:8]))
	out, err := create(dst, in.Info().FPS, plan.Width, plan.Height)
	if err != nil {
		return Artifact{}, err
	}
	discard := func(err error) (Artifact, error) {
		out.Close()
		os.Remove(dst)
		return Artifact{}, err
	}

	frame := gocv.NewMat()
	defer frame.Close()
	small := gocv.NewMat()
	defer small.Close()

	size := image.Pt(plan.Width, plan.Height)
	written := 0
	for in.Next(&frame) {
		if err := ctx.Err(); err != nil {
			return discard(err)
		}
		gocv.Resize(frame, &small, size, 0, 0, gocv.InterpolationArea)
		if err := out.Write(small); err != nil {
			return discard(err)
		}
		written++
	}
	if written == 0 {
		return discard(fmt.Errorf("heatmap: downscale produced no frames"))
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return Artifact{}, err
	}
	return Artifact{Path: dst, Temporary: true}, nil
}
