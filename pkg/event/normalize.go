package event

import (
	"log/slog"
	"math"
)

// Options control how raw coordinates are mapped onto the frame grid.
// They are fixed for a whole session; nothing here varies per event.
type Options struct {
	// Normalized means coordinates are in [0,1] and scale by the frame size.
	Normalized bool

	// ReferenceWidth/ReferenceHeight are the dimensions the pixel
	// coordinates were recorded against. Zero means "same as target".
	ReferenceWidth  int
	ReferenceHeight int

	// FlipY converts bottom-origin coordinates to top-origin image rows.
	FlipY bool
}

// Result is the outcome of normalizing one batch.
type Result struct {
	Events  []PixelEvent
	Skipped int
	Errors  []error
}

// Valid returns the number of events that survived normalization.
func (r Result) Valid() int {
	return len(r.Events)
}

// Normalizer maps raw events onto a width x height pixel grid.
type Normalizer struct {
	width, height int
	opts          Options
	logger        *slog.Logger
}

// NewNormalizer creates a normalizer for the given target grid.
func NewNormalizer(width, height int, opts Options, logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{width: width, height: height, opts: opts, logger: logger}
}

// Normalize validates, rescales and clamps each event. Malformed events are
// dropped and reported in Result.Errors; they never fail the batch.
func (n *Normalizer) Normalize(events []InteractionEvent) Result {
	res := Result{Events: make([]PixelEvent, 0, len(events))}
	for i, ev := range events {
		pe, err := n.place(i, ev)
		if err != nil {
			res.Skipped++
			res.Errors = append(res.Errors, err)
			continue
		}
		res.Events = append(res.Events, pe)
	}
	if res.Skipped > 0 {
		n.logger.Warn("dropped malformed events",
			"skipped", res.Skipped,
			"valid", len(res.Events),
		)
	}
	return res
}

func (n *Normalizer) place(i int, ev InteractionEvent) (PixelEvent, error) {
	invalid := func(reason string) error {
		return &InvalidEventError{Index: i, Source: ev.Source, Reason: reason}
	}

	if ev.Timestamp == nil {
		return PixelEvent{}, invalid("missing timestamp")
	}
	ts := *ev.Timestamp
	if math.IsNaN(ts) || math.IsInf(ts, 0) {
		return PixelEvent{}, invalid("non-finite timestamp")
	}
	if ts < 0 {
		return PixelEvent{}, invalid("negative timestamp")
	}

	x, y, ok := ev.Position()
	if !ok {
		return PixelEvent{}, invalid("missing coordinates")
	}
	if !finite(x) || !finite(y) {
		return PixelEvent{}, invalid("non-finite coordinates")
	}

	// Detector boxes are always normalized, whatever the session mode.
	normalized := n.opts.Normalized || (ev.X == nil && ev.BBox != nil)
	fx, fy := n.scale(x, y, normalized)

	// Clamp before converting: out-of-range floats do not convert to int.
	px := int(clampf(fx, float64(n.width-1)))
	py := int(clampf(fy, float64(n.height-1)))
	if n.opts.FlipY {
		py = n.height - 1 - py
	}

	return PixelEvent{
		Pixel:     Pixel{X: px, Y: py},
		Timestamp: ts,
		Source:    ev.Source,
		Name:      ev.Name,
	}, nil
}

func (n *Normalizer) scale(x, y float64, normalized bool) (float64, float64) {
	if normalized {
		return x * float64(n.width), y * float64(n.height)
	}
	if n.opts.ReferenceWidth > 0 && n.opts.ReferenceWidth != n.width {
		x = x * float64(n.width) / float64(n.opts.ReferenceWidth)
	}
	if n.opts.ReferenceHeight > 0 && n.opts.ReferenceHeight != n.height {
		y = y * float64(n.height) / float64(n.opts.ReferenceHeight)
	}
	return x, y
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// clampf limits v to [0, hi].
func clampf(v, hi float64) float64 {
	return math.Max(0, math.Min(v, hi))
}
