package heatmap

import (
	"math"
	"sort"

	"github.com/teslashibe/go-heatmap/pkg/event"
)

// Interval is a closed frame window during which one pixel glows.
type Interval struct {
	Start, End int
}

// Len returns the number of frames covered.
func (iv Interval) Len() int {
	return iv.End - iv.Start + 1
}

// Envelope returns the fade brightness of frame f: a linear ramp up over
// the first fade frames, a plateau at 1, and a linear ramp down over the
// last fade frames. Frames outside the window are dark.
func (iv Interval) Envelope(f, fade int) float64 {
	if f < iv.Start || f > iv.End || fade <= 0 {
		return 0
	}
	var b float64
	switch {
	case f < iv.Start+fade:
		b = float64(f-iv.Start) / float64(fade)
	case f > iv.End-fade:
		b = float64(iv.End-f) / float64(fade)
	default:
		b = 1.0
	}
	return math.Max(0, math.Min(1, b))
}

// PixelIntervals is the merged window list for one pixel.
type PixelIntervals struct {
	Pixel     event.Pixel
	Intervals []Interval
}

// FadeFrames converts the fade duration to frames at the given rate.
func FadeFrames(fps, fadeSeconds float64) int {
	f := int(math.Round(fps * fadeSeconds))
	if f < 1 {
		return 1
	}
	return f
}

// EventInterval returns the window for an event at timestamp ts, or false
// if the event starts after the last frame.
func EventInterval(ts, fps float64, fade, frameCount int) (Interval, bool) {
	start := int(math.Round(ts*fps)) - fade
	if start < 0 {
		start = 0
	}
	if start > frameCount-1 {
		return Interval{}, false
	}
	end := start + 2*fade
	if end > frameCount-1 {
		end = frameCount - 1
	}
	return Interval{Start: start, End: end}, true
}

// MergeIntervals sorts by start and joins windows that overlap or touch
// (next.Start <= prev.End+1). The input slice is reordered.
func MergeIntervals(ivs []Interval) []Interval {
	if len(ivs) == 0 {
		return nil
	}
	sort.Slice(ivs, func(i, j int) bool {
		if ivs[i].Start != ivs[j].Start {
			return ivs[i].Start < ivs[j].Start
		}
		return ivs[i].End < ivs[j].End
	})

	merged := []Interval{ivs[0]}
	for _, iv := range ivs[1:] {
		last := &merged[len(merged)-1]
		if iv.Start <= last.End+1 {
			if iv.End > last.End {
				last.End = iv.End
			}
			continue
		}
		merged = append(merged, iv)
	}
	return merged
}

// BuildIntervals groups events by pixel and merges each pixel's windows.
// The result is sorted by row then column so downstream accumulation is
// deterministic.
func BuildIntervals(events []event.PixelEvent, fps float64, fade, frameCount int) []PixelIntervals {
	groups := make(map[event.Pixel][]Interval)
	for _, ev := range events {
		iv, ok := EventInterval(ev.Timestamp, fps, fade, frameCount)
		if !ok {
			continue
		}
		groups[ev.Pixel] = append(groups[ev.Pixel], iv)
	}

	out := make([]PixelIntervals, 0, len(groups))
	for px, ivs := range groups {
		out = append(out, PixelIntervals{Pixel: px, Intervals: MergeIntervals(ivs)})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Pixel, out[j].Pixel
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		return a.X < b.X
	})
	return out
}
