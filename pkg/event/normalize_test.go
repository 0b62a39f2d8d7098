package event

import (
	"errors"
	"math"
	"strings"
	"testing"

	"pgregory.net/rapid"
)

func ptr(v float64) *float64 { return &v }

func TestNormalize_Normalized(t *testing.T) {
	n := NewNormalizer(1920, 1080, Options{Normalized: true}, nil)
	res := n.Normalize([]InteractionEvent{NewEvent(0.5, 0.5, 5.0, "")})

	if res.Skipped != 0 {
		t.Fatalf("Skipped: got %d, want 0", res.Skipped)
	}
	if got := res.Events[0].Pixel; got != (Pixel{X: 960, Y: 540}) {
		t.Errorf("Pixel: got %+v, want {960 540}", got)
	}
	if res.Events[0].Timestamp != 5.0 {
		t.Errorf("Timestamp: got %v, want 5.0", res.Events[0].Timestamp)
	}
}

func TestNormalize_ReferenceResolution(t *testing.T) {
	tests := []struct {
		name   string
		opts   Options
		x, y   float64
		expect Pixel
	}{
		{
			name:   "same resolution",
			opts:   Options{ReferenceWidth: 1280, ReferenceHeight: 720},
			x:      100,
			y:      200,
			expect: Pixel{X: 100, Y: 200},
		},
		{
			name:   "half resolution",
			opts:   Options{ReferenceWidth: 2560, ReferenceHeight: 1440},
			x:      1000,
			y:      500,
			expect: Pixel{X: 500, Y: 250},
		},
		{
			name:   "flip y",
			opts:   Options{ReferenceWidth: 1280, ReferenceHeight: 720, FlipY: true},
			x:      10,
			y:      0,
			expect: Pixel{X: 10, Y: 719},
		},
		{
			name:   "clamped",
			opts:   Options{ReferenceWidth: 1280, ReferenceHeight: 720},
			x:      5000,
			y:      -30,
			expect: Pixel{X: 1279, Y: 0},
		},
		{
			name:   "far beyond the frame",
			opts:   Options{ReferenceWidth: 1280, ReferenceHeight: 720},
			x:      1e20,
			y:      1e20,
			expect: Pixel{X: 1279, Y: 719},
		},
		{
			name:   "far beyond the frame flipped",
			opts:   Options{ReferenceWidth: 1280, ReferenceHeight: 720, FlipY: true},
			x:      -1e20,
			y:      1e20,
			expect: Pixel{X: 0, Y: 0},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			n := NewNormalizer(1280, 720, tc.opts, nil)
			res := n.Normalize([]InteractionEvent{NewEvent(tc.x, tc.y, 1, "")})
			if len(res.Events) != 1 {
				t.Fatalf("Events: got %d, want 1", len(res.Events))
			}
			if got := res.Events[0].Pixel; got != tc.expect {
				t.Errorf("Pixel: got %+v, want %+v", got, tc.expect)
			}
		})
	}
}

func TestNormalize_BoundingBoxCenter(t *testing.T) {
	n := NewNormalizer(100, 100, Options{ReferenceWidth: 100, ReferenceHeight: 100}, nil)
	ev := NewObjectEvent("cup", 0.9, BoundingBox{X: 0.2, Y: 0.4, Width: 0.2, Height: 0.2}, 2.5, "live")

	res := n.Normalize([]InteractionEvent{ev})
	if len(res.Events) != 1 {
		t.Fatalf("Events: got %d, want 1", len(res.Events))
	}
	got := res.Events[0]
	if got.Pixel != (Pixel{X: 30, Y: 50}) {
		t.Errorf("Pixel: got %+v, want {30 50}", got.Pixel)
	}
	if got.Name != "cup" || got.Source != "live" {
		t.Errorf("metadata lost: %+v", got)
	}
}

func TestNormalize_DropsMalformed(t *testing.T) {
	n := NewNormalizer(640, 480, Options{Normalized: true}, nil)
	events := []InteractionEvent{
		NewEvent(0.1, 0.1, 1, "a"),
		{X: ptr(0.2), Y: ptr(0.2)},                           // missing timestamp
		NewEvent(0.3, 0.3, -0.5, "a"),                        // negative timestamp
		{Timestamp: ptr(3)},                                  // no position
		{X: ptr(math.NaN()), Y: ptr(0.1), Timestamp: ptr(1)}, // NaN
		NewEvent(0.9, 0.9, 4, "a"),
	}

	res := n.Normalize(events)
	if res.Valid() != 2 {
		t.Errorf("Valid: got %d, want 2", res.Valid())
	}
	if res.Skipped != 4 {
		t.Errorf("Skipped: got %d, want 4", res.Skipped)
	}
	for _, err := range res.Errors {
		if !errors.Is(err, ErrInvalidEvent) {
			t.Errorf("error %v does not match ErrInvalidEvent", err)
		}
	}

	var ie *InvalidEventError
	if !errors.As(res.Errors[1], &ie) || ie.Index != 2 || !strings.Contains(ie.Reason, "negative") {
		t.Errorf("second error: got %v", res.Errors[1])
	}
}

func TestNormalize_NegativeTimestampsReduceValidCount(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		count := rapid.IntRange(0, 40).Draw(t, "count")
		events := make([]InteractionEvent, count)
		negatives := 0
		for i := range events {
			ts := rapid.Float64Range(-10, 10).Draw(t, "ts")
			if ts < 0 {
				negatives++
			}
			x := rapid.Float64Range(0, 1).Draw(t, "x")
			y := rapid.Float64Range(0, 1).Draw(t, "y")
			events[i] = NewEvent(x, y, ts, "")
		}

		res := NewNormalizer(320, 240, Options{Normalized: true}, nil).Normalize(events)
		if res.Valid() != count-negatives {
			t.Fatalf("Valid: got %d, want %d", res.Valid(), count-negatives)
		}
		for _, pe := range res.Events {
			if pe.Pixel.X < 0 || pe.Pixel.X > 319 || pe.Pixel.Y < 0 || pe.Pixel.Y > 239 {
				t.Fatalf("pixel out of bounds: %+v", pe.Pixel)
			}
		}
	})
}

func TestNormalize_AnyFiniteCoordinateLandsOnGrid(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		w := rapid.IntRange(1, 4000).Draw(t, "w")
		h := rapid.IntRange(1, 4000).Draw(t, "h")
		opts := Options{
			Normalized:      rapid.Bool().Draw(t, "normalized"),
			ReferenceWidth:  rapid.IntRange(0, 4000).Draw(t, "refW"),
			ReferenceHeight: rapid.IntRange(0, 4000).Draw(t, "refH"),
			FlipY:           rapid.Bool().Draw(t, "flip"),
		}
		x := rapid.Float64().Draw(t, "x")
		y := rapid.Float64().Draw(t, "y")

		res := NewNormalizer(w, h, opts, nil).Normalize([]InteractionEvent{NewEvent(x, y, 1, "")})
		if !finite(x) || !finite(y) {
			if res.Valid() != 0 {
				t.Fatalf("non-finite (%v, %v) accepted", x, y)
			}
			return
		}
		if res.Valid() != 1 {
			t.Fatalf("finite (%v, %v) dropped", x, y)
		}
		p := res.Events[0].Pixel
		if p.X < 0 || p.X >= w || p.Y < 0 || p.Y >= h {
			t.Fatalf("(%v, %v) placed at %+v outside %dx%d", x, y, p, w, h)
		}
		if x >= 1e12 && p.X != w-1 {
			t.Fatalf("huge x %v placed at column %d, want %d", x, p.X, w-1)
		}
	})
}
