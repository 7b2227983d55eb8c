package detect

import (
	"context"
	"encoding/base64"
	"sync"
	"time"

	"github.com/normanking/gazeprobe/internal/bus"
	"github.com/rs/zerolog"
)

// DefaultMaxFrameAge is how old a cached frame may be before Latest
// refuses to serve it. A stalled camera should look like "no frame",
// not like a subject frozen in place.
const DefaultMaxFrameAge = 2 * time.Second

// Frames caches the most recent camera frame pushed by the capture
// surface and serves it to the sampling loop on demand.
// Actual capture happens in the browser; this only manages state.
type Frames struct {
	eventBus *bus.EventBus
	logger   zerolog.Logger
	maxAge   time.Duration

	mu   sync.RWMutex
	last *Frame

	callbackMu sync.RWMutex
	onFrame    func(*Frame)
}

// NewFrames creates a frame cache
func NewFrames(eventBus *bus.EventBus, logger zerolog.Logger) *Frames {
	return &Frames{
		eventBus: eventBus,
		logger:   logger.With().Str("component", "frames").Logger(),
		maxAge:   DefaultMaxFrameAge,
	}
}

// SetMaxAge overrides the staleness cutoff for cached frames
func (f *Frames) SetMaxAge(d time.Duration) {
	if d > 0 {
		f.mu.Lock()
		f.maxAge = d
		f.mu.Unlock()
	}
}

// OnFrame registers a callback invoked for every pushed frame
func (f *Frames) OnFrame(callback func(*Frame)) {
	f.callbackMu.Lock()
	defer f.callbackMu.Unlock()
	f.onFrame = callback
}

// Push handles an incoming camera frame from the capture surface.
// imageBase64 is base64-encoded JPEG image data.
func (f *Frames) Push(imageBase64 string, width, height int) error {
	imageData, err := base64.StdEncoding.DecodeString(imageBase64)
	if err != nil {
		f.logger.Error().Err(err).Msg("Failed to decode camera frame")
		return err
	}

	frame := &Frame{
		Data:      imageData,
		Width:     width,
		Height:    height,
		Format:    "jpeg",
		Timestamp: time.Now(),
	}

	f.mu.Lock()
	f.last = frame
	f.mu.Unlock()

	f.callbackMu.RLock()
	callback := f.onFrame
	f.callbackMu.RUnlock()

	if callback != nil {
		go callback(frame)
	}

	if f.eventBus != nil {
		f.eventBus.Publish(bus.Event{
			Type: bus.EventTypeFrameReceived,
			Data: map[string]any{
				"width":  width,
				"height": height,
				"size":   len(imageData),
			},
		})
	}

	f.logger.Debug().Int("width", width).Int("height", height).Int("bytes", len(imageData)).Msg("Camera frame cached")
	return nil
}

// Latest returns the most recent frame, or an error if none has arrived
// yet or the newest one is older than the staleness cutoff.
func (f *Frames) Latest(_ context.Context) (*Frame, error) {
	f.mu.RLock()
	frame := f.last
	maxAge := f.maxAge
	f.mu.RUnlock()

	if frame == nil {
		return nil, ErrNoFrame
	}
	if time.Since(frame.Timestamp) > maxAge {
		return nil, ErrFrameStale
	}
	return frame, nil
}
