package heatmap

import (
	"math"

	"github.com/teslashibe/go-heatmap/pkg/event"
)

// Grid is a dense row-major brightness grid.
type Grid struct {
	Width, Height int
	Data          []float32
}

// NewGrid allocates a zeroed grid.
func NewGrid(width, height int) *Grid {
	return &Grid{Width: width, Height: height, Data: make([]float32, width*height)}
}

// At returns the value at (x, y).
func (g *Grid) At(x, y int) float32 {
	return g.Data[y*g.Width+x]
}

// Sum returns the total brightness.
func (g *Grid) Sum() float64 {
	var s float64
	for _, v := range g.Data {
		s += float64(v)
	}
	return s
}

// Max returns the largest value.
func (g *Grid) Max() float32 {
	var m float32
	for _, v := range g.Data {
		if v > m {
			m = v
		}
	}
	return m
}

// Reset zeroes the grid in place.
func (g *Grid) Reset() {
	clear(g.Data)
}

// Compress applies the global square-root compression: when max > 1 every
// value becomes sqrt(v/max). Ordering is preserved and values end in [0,1].
func (g *Grid) Compress() {
	peak := float64(g.Max())
	if peak <= 1.0 {
		return
	}
	for i, v := range g.Data {
		g.Data[i] = compress(v, peak)
	}
}

func compress(v float32, peak float64) float32 {
	return float32(math.Sqrt(float64(v) / peak))
}

type cell struct {
	idx int32
	v   float32
}

// Field is the per-frame brightness tensor for a whole session. It is
// stored sparsely, one list of lit cells per frame, and materialized one
// frame at a time by FrameInto.
type Field struct {
	width, height int
	frames        [][]cell
	globalMax     float64
}

// BuildField accumulates every merged interval into the field. Values are
// added, not maxed, so repeated interaction at a location intensifies. The
// global maximum is taken once over the whole session.
func BuildField(sets []PixelIntervals, width, height, frameCount, fade int) *Field {
	f := &Field{
		width:  width,
		height: height,
		frames: make([][]cell, frameCount),
	}

	for _, set := range sets {
		idx := int32(set.Pixel.Y*width + set.Pixel.X)
		for _, iv := range set.Intervals {
			end := min(iv.End, frameCount-1)
			for fr := iv.Start; fr <= end; fr++ {
				v := iv.Envelope(fr, fade)
				if v == 0 {
					continue
				}
				f.frames[fr] = append(f.frames[fr], cell{idx: idx, v: float32(v)})
			}
		}
	}

	// Merged windows never overlap at one pixel, so each frame holds at
	// most one cell per pixel and the cell max is the accumulated max.
	for _, cells := range f.frames {
		for _, c := range cells {
			if float64(c.v) > f.globalMax {
				f.globalMax = float64(c.v)
			}
		}
	}
	return f
}

// Frames returns the number of frames in the field.
func (f *Field) Frames() int { return len(f.frames) }

// GlobalMax returns the session-wide maximum before compression.
func (f *Field) GlobalMax() float64 { return f.globalMax }

// Lit reports whether frame i has any brightness. It is the fast path
// that lets the compositor skip rendering.
func (f *Field) Lit(i int) bool {
	return i >= 0 && i < len(f.frames) && len(f.frames[i]) > 0
}

// FrameInto writes frame i into g, which must match the field geometry.
// Out-of-range frames produce an empty grid.
func (f *Field) FrameInto(i int, g *Grid) {
	g.Reset()
	if i < 0 || i >= len(f.frames) {
		return
	}
	for _, c := range f.frames[i] {
		g.Data[c.idx] += c.v
	}
	if f.globalMax > 1.0 {
		for _, c := range f.frames[i] {
			g.Data[c.idx] = compress(g.Data[c.idx], f.globalMax)
		}
	}
}

// Frame returns a freshly allocated grid for frame i.
func (f *Field) Frame(i int) *Grid {
	g := NewGrid(f.width, f.height)
	f.FrameInto(i, g)
	return g
}

// SummaryGrid counts events per pixel, ignoring time, and compresses the
// result so a few dense pixels do not wash out the rest.
func SummaryGrid(events []event.PixelEvent, width, height int) *Grid {
	g := NewGrid(width, height)
	for _, ev := range events {
		g.Data[ev.Pixel.Y*width+ev.Pixel.X]++
	}
	g.Compress()
	return g
}
