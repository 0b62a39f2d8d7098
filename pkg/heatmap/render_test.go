package heatmap

import (
	"math"
	"testing"

	"gocv.io/x/gocv"
)

func TestSigma(t *testing.T) {
	cfg := DefaultConfig()
	tests := []struct {
		width int
		want  float64
	}{
		{1920, 40},
		{960, 20},
		{1280, 40.0 * 1280 / 1920},
		{200, 5}, // floor
	}
	for _, tt := range tests {
		if got := Sigma(tt.width, cfg); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("Sigma(%d) = %v, want %v", tt.width, got, tt.want)
		}
	}
}

func TestInfernoColormap(t *testing.T) {
	ramp := make([]byte, 256)
	for i := range ramp {
		ramp[i] = byte(i)
	}
	levels, err := gocv.NewMatFromBytes(1, 256, gocv.MatTypeCV8U, ramp)
	if err != nil {
		t.Fatal(err)
	}
	defer levels.Close()
	colored := gocv.NewMat()
	defer colored.Close()
	gocv.ApplyColorMap(levels, &colored, colormapInferno)

	near := func(got []uint8, want [3]int) bool {
		for i := range want {
			if d := int(got[i]) - want[i]; d < -3 || d > 3 {
				return false
			}
		}
		return true
	}
	// BGR.
	if got := colored.GetVecbAt(0, 0); !near(got, [3]int{4, 0, 0}) {
		t.Errorf("level 0 = %v, want near-black", got)
	}
	if got := colored.GetVecbAt(0, 255); !near(got, [3]int{164, 255, 252}) {
		t.Errorf("level 255 = %v, want pale yellow", got)
	}
	// Red rises through the dark half of the ramp.
	for i := 1; i < 128; i++ {
		if colored.GetVecbAt(0, i)[2] < colored.GetVecbAt(0, i-1)[2] {
			t.Fatalf("red channel drops at %d", i)
		}
	}
}

func TestRender_ZeroGrid(t *testing.T) {
	r := NewRenderer(DefaultConfig(), 64, 64, 48)
	_, ok, err := r.Render(NewGrid(64, 48))
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if ok {
		t.Error("expected no overlay for an empty grid")
	}
}

func TestRender_SinglePoint(t *testing.T) {
	g := NewGrid(64, 48)
	g.Data[24*64+32] = 1.0

	r := NewRenderer(DefaultConfig(), 64, 128, 96)
	overlay, ok, err := r.Render(g)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if !ok {
		t.Fatal("expected an overlay")
	}
	defer overlay.Close()

	if overlay.Cols() != 128 || overlay.Rows() != 96 {
		t.Errorf("overlay size = %dx%d, want 128x96", overlay.Cols(), overlay.Rows())
	}
	if overlay.Type() != gocv.MatTypeCV8UC3 {
		t.Errorf("overlay type = %v, want CV8UC3", overlay.Type())
	}

	// The hottest point is the center, colored from the top of the ramp.
	center := overlay.GetVecbAt(48, 64)
	corner := overlay.GetVecbAt(0, 0)
	if int(center[2]) <= int(corner[2]) {
		t.Errorf("center red %d not brighter than corner %d", center[2], corner[2])
	}
}
