// Package detect defines the face-detection boundary for GazeProbe.
package detect

import (
	"context"
	"errors"
	"time"
)

// Common errors
var (
	ErrNoFrame          = errors.New("no camera frame available")
	ErrFrameStale       = errors.New("camera frame too old")
	ErrNotConnected     = errors.New("detector not connected")
	ErrDetectionTimeout = errors.New("detection timed out")
)

// Point is a coordinate in source-image space
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// FaceBox is a single detected face bounding box
type FaceBox struct {
	Center Point   `json:"center"`
	Width  float64 `json:"width,omitempty"`
	Height float64 `json:"height,omitempty"`
}

// Result holds the faces found in one frame, in detector order.
// An empty Faces slice means no face was found; that is not an error.
type Result struct {
	Faces     []FaceBox `json:"faces"`
	LatencyMs int64     `json:"latency_ms,omitempty"`
}

// Frame represents a captured image frame
type Frame struct {
	Data      []byte    `json:"data"` // Image bytes (JPEG)
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	Format    string    `json:"format"` // jpeg, png
	Timestamp time.Time `json:"timestamp"`
}

// Detector runs face detection on a frame. Implementations may be slow
// or fail; callers treat a failed call as "no face seen this tick".
type Detector interface {
	Detect(ctx context.Context, frame *Frame) (Result, error)
}

// FrameSource produces the most recent camera frame on demand
type FrameSource interface {
	Latest(ctx context.Context) (*Frame, error)
}
