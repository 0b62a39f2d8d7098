package heatmap

import (
	"image"
	"math"

	"gocv.io/x/gocv"
)

// colormapInferno is OpenCV's COLORMAP_INFERNO.
const colormapInferno gocv.ColormapTypes = 14

// Sigma returns the blur radius for a working frame width. The radius
// scales with resolution so the glow keeps its proportions, and never
// drops below the floor on small frames.
func Sigma(frameWidth int, cfg Config) float64 {
	return math.Max(cfg.BaseSigma*float64(frameWidth)/cfg.BaseResolution, cfg.FloorSigma)
}

// Renderer turns one brightness grid into a colored overlay.
type Renderer struct {
	sigma      float64
	outW, outH int
}

// NewRenderer creates a renderer for grids of frameWidth working width
// whose overlays are resized to outW x outH.
func NewRenderer(cfg Config, frameWidth, outW, outH int) *Renderer {
	cfg = cfg.withDefaults()
	return &Renderer{
		sigma: Sigma(frameWidth, cfg),
		outW:  outW,
		outH:  outH,
	}
}

// Sigma returns the blur radius in use.
func (r *Renderer) Sigma() float64 { return r.sigma }

// Render blurs, normalizes and colors g. It returns ok=false without
// allocating anything when the grid is dark. The caller owns the
// returned Mat.
func (r *Renderer) Render(g *Grid) (overlay gocv.Mat, ok bool, err error) {
	if g.Sum() == 0 {
		return gocv.Mat{}, false, nil
	}

	src := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), g.Height, g.Width, gocv.MatTypeCV32F)
	defer src.Close()
	for i, v := range g.Data {
		if v != 0 {
			src.SetFloatAt(i/g.Width, i%g.Width, v)
		}
	}

	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.GaussianBlur(src, &blurred, image.Pt(0, 0), r.sigma, r.sigma, gocv.BorderReflect101)

	// Normalized per frame against its own peak.
	_, peak, _, _ := gocv.MinMaxLoc(blurred)
	if peak <= 0 {
		return gocv.Mat{}, false, nil
	}

	levels := gocv.NewMat()
	defer levels.Close()
	blurred.ConvertToWithParams(&levels, gocv.MatTypeCV8U, 255/peak, 0)

	colored := gocv.NewMat()
	gocv.ApplyColorMap(levels, &colored, colormapInferno)

	if g.Width == r.outW && g.Height == r.outH {
		return colored, true, nil
	}
	defer colored.Close()

	resized := gocv.NewMat()
	gocv.Resize(colored, &resized, image.Pt(r.outW, r.outH), 0, 0, gocv.InterpolationLinear)
	return resized, true, nil
}
