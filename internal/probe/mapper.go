// Package probe implements the visual-attention sampling session:
// face position in, left/right verdict out.
package probe

import (
	"github.com/normanking/gazeprobe/internal/detect"
)

// DefaultReferenceWidth is the assumed width of the source-image
// coordinate space. It is a calibration constant, not the actual
// camera resolution; the mapping is directional, not metric.
const DefaultReferenceWidth = 300.0

// MapToScreen converts a face-center x in source-image space to a
// pointer x in screen space. The axis is inverted so the pointer moves
// like a mirror: a face moving to the subject's left moves the pointer
// right. Output is clamped to [0, screenWidth].
func MapToScreen(faceCenterX, referenceWidth, screenWidth float64) float64 {
	x := (1 - faceCenterX/referenceWidth) * screenWidth
	return clamp(x, 0, screenWidth)
}

// MeanCenterX reduces a detection result to a single face-center x by
// averaging all detected faces. The second return is false when the
// result holds no faces.
func MeanCenterX(faces []detect.FaceBox) (float64, bool) {
	if len(faces) == 0 {
		return 0, false
	}
	sum := 0.0
	for _, face := range faces {
		sum += face.Center.X
	}
	return sum / float64(len(faces)), true
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
