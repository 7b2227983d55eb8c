package probe

import (
	"math"
	"testing"

	"github.com/normanking/gazeprobe/internal/detect"
)

func TestMapToScreen_CenterMapsToCenter(t *testing.T) {
	got := MapToScreen(150, 300, 800)
	if got != 400 {
		t.Errorf("expected center 400, got %v", got)
	}
}

func TestMapToScreen_MirrorsHorizontally(t *testing.T) {
	// A face near x=0 in image space is on the subject's right as seen
	// by the camera, so the pointer should land near the right edge.
	nearZero := MapToScreen(10, 300, 800)
	nearRef := MapToScreen(290, 300, 800)

	if nearZero <= 400 {
		t.Errorf("expected face at x=10 to map right of center, got %v", nearZero)
	}
	if nearRef >= 400 {
		t.Errorf("expected face at x=290 to map left of center, got %v", nearRef)
	}
}

func TestMapToScreen_ScenarioValues(t *testing.T) {
	// faceCenterX=50, ref=300, screen=800 -> (1-50/300)*800 = 666.67
	got := MapToScreen(50, 300, 800)
	if math.Abs(got-666.6666) > 0.001 {
		t.Errorf("expected ~666.667, got %v", got)
	}

	// faceCenterX=280 -> (1-280/300)*800 = 53.33
	got = MapToScreen(280, 300, 800)
	if math.Abs(got-53.3333) > 0.001 {
		t.Errorf("expected ~53.333, got %v", got)
	}
}

func TestMapToScreen_ClampsToScreen(t *testing.T) {
	tests := []struct {
		name        string
		faceCenterX float64
		want        float64
	}{
		{"far left of image maps past right edge", -500, 800},
		{"far right of image maps past left edge", 2000, 0},
		{"exactly at reference width", 300, 0},
		{"exactly at zero", 0, 800},
	}

	for _, tc := range tests {
		got := MapToScreen(tc.faceCenterX, 300, 800)
		if got != tc.want {
			t.Errorf("%s: MapToScreen(%v) = %v, want %v", tc.name, tc.faceCenterX, got, tc.want)
		}
	}
}

func TestMapToScreen_AlwaysWithinBounds(t *testing.T) {
	for _, faceX := range []float64{-1e9, -300, -1, 0, 1, 149, 150, 299, 300, 301, 1e9} {
		for _, screenW := range []float64{0, 1, 800, 1920} {
			got := MapToScreen(faceX, 300, screenW)
			if got < 0 || got > screenW {
				t.Errorf("MapToScreen(%v, 300, %v) = %v, outside [0, %v]", faceX, screenW, got, screenW)
			}
		}
	}
}

func TestMeanCenterX_Empty(t *testing.T) {
	_, ok := MeanCenterX(nil)
	if ok {
		t.Error("expected ok=false for no faces")
	}
	_, ok = MeanCenterX([]detect.FaceBox{})
	if ok {
		t.Error("expected ok=false for empty slice")
	}
}

func TestMeanCenterX_SingleFace(t *testing.T) {
	mean, ok := MeanCenterX([]detect.FaceBox{
		{Center: detect.Point{X: 120, Y: 80}},
	})
	if !ok {
		t.Fatal("expected ok=true")
	}
	if mean != 120 {
		t.Errorf("expected 120, got %v", mean)
	}
}

func TestMeanCenterX_AveragesAllFaces(t *testing.T) {
	mean, ok := MeanCenterX([]detect.FaceBox{
		{Center: detect.Point{X: 100}},
		{Center: detect.Point{X: 200}},
		{Center: detect.Point{X: 300}},
	})
	if !ok {
		t.Fatal("expected ok=true")
	}
	if mean != 200 {
		t.Errorf("expected mean 200, got %v", mean)
	}
}
