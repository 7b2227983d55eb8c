package probe

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/normanking/gazeprobe/internal/bus"
	"github.com/normanking/gazeprobe/internal/detect"
	"github.com/rs/zerolog"
)

// Phase is the session lifecycle state
type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhaseRunning  Phase = "running"
	PhaseFinished Phase = "finished"
)

// Config holds session parameters
type Config struct {
	// DurationSeconds is how many countdown ticks a session lasts
	DurationSeconds int
	// CountdownInterval is the countdown driver period
	CountdownInterval time.Duration
	// SampleInterval is the sampling driver period
	SampleInterval time.Duration
	// ReferenceWidth is the assumed source-image width fed to MapToScreen
	ReferenceWidth float64
	// ScreenWidth is the rendering surface width in screen units
	ScreenWidth float64
}

// DefaultConfig returns sensible session defaults
func DefaultConfig() *Config {
	return &Config{
		DurationSeconds:   10,
		CountdownInterval: 1 * time.Second,
		SampleInterval:    500 * time.Millisecond,
		ReferenceWidth:    DefaultReferenceWidth,
		ScreenWidth:       800,
	}
}

// Snapshot is a value copy of the session state for readers.
// The rendering surface only ever sees snapshots, never live state.
type Snapshot struct {
	Phase            Phase     `json:"phase"`
	SecondsRemaining int       `json:"secondsRemaining"`
	PointerX         float64   `json:"pointerX"`
	Tally            Tally     `json:"tally"`
	Result           *Result   `json:"result,omitempty"`
	StartedAt        time.Time `json:"startedAt,omitempty"`
}

// Controller owns one session's state and drives its two periodic
// loops: a countdown tick and a faster sampling tick. All state
// mutation happens in short handler bodies under one mutex; the
// sampling tick waits on the detector outside the lock.
type Controller struct {
	cfg      *Config
	detector detect.Detector
	frames   detect.FrameSource
	eventBus *bus.EventBus
	logger   zerolog.Logger

	mu               sync.Mutex
	phase            Phase
	generation       uint64
	secondsRemaining int
	pointerX         float64
	tally            Tally
	result           *Result
	startedAt        time.Time
	cancel           context.CancelFunc
	pendingCfg       *Config

	// Max one detection in flight; overlapping sampling ticks are skipped
	inFlight atomic.Bool

	onChange func(Snapshot)
}

// normalize fills zero config values with defaults
func normalize(cfg *Config) *Config {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.DurationSeconds <= 0 {
		cfg.DurationSeconds = 10
	}
	if cfg.CountdownInterval <= 0 {
		cfg.CountdownInterval = 1 * time.Second
	}
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = 500 * time.Millisecond
	}
	if cfg.ReferenceWidth <= 0 {
		cfg.ReferenceWidth = DefaultReferenceWidth
	}
	return cfg
}

// NewController creates a session controller
func NewController(cfg *Config, detector detect.Detector, frames detect.FrameSource, eventBus *bus.EventBus, logger zerolog.Logger) *Controller {
	cfg = normalize(cfg)

	return &Controller{
		cfg:      cfg,
		detector: detector,
		frames:   frames,
		eventBus: eventBus,
		logger:   logger.With().Str("component", "session").Logger(),
		phase:    PhaseIdle,
		pointerX: cfg.ScreenWidth / 2,
	}
}

// SetChangeHandler sets the callback invoked with a snapshot after
// every state change
func (c *Controller) SetChangeHandler(handler func(Snapshot)) {
	c.onChange = handler
}

// Config returns a copy of the session parameters
func (c *Controller) Config() Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return *c.cfg
}

// UpdateConfig stages new session parameters. A running session keeps
// the parameters it started with; the update applies on the next Start.
func (c *Controller) UpdateConfig(cfg *Config) {
	cfg = normalize(cfg)
	c.mu.Lock()
	if c.phase == PhaseRunning {
		c.pendingCfg = cfg
	} else {
		c.cfg = cfg
	}
	c.mu.Unlock()

	c.logger.Info().
		Int("duration", cfg.DurationSeconds).
		Dur("sample_interval", cfg.SampleInterval).
		Float64("reference_width", cfg.ReferenceWidth).
		Float64("screen_width", cfg.ScreenWidth).
		Msg("Session config updated")
}

// Snapshot returns a value copy of the current session state
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Start begins a new session. Calling Start while a session is already
// running is a no-op; calling it from idle or finished discards any
// prior tally and verdict and starts fresh.
func (c *Controller) Start() {
	c.mu.Lock()
	if c.phase == PhaseRunning {
		c.mu.Unlock()
		c.logger.Debug().Msg("Session already running, start ignored")
		return
	}

	if c.pendingCfg != nil {
		c.cfg = c.pendingCfg
		c.pendingCfg = nil
	}

	c.generation++
	gen := c.generation
	c.phase = PhaseRunning
	c.secondsRemaining = c.cfg.DurationSeconds
	c.tally = Tally{}
	c.result = nil
	c.pointerX = c.cfg.ScreenWidth / 2
	c.startedAt = time.Now()

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	countdownInterval := c.cfg.CountdownInterval
	sampleInterval := c.cfg.SampleInterval
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.logger.Info().
		Int("duration", snap.SecondsRemaining).
		Dur("sample_interval", sampleInterval).
		Msg("Session started")

	c.notify(snap)
	c.publish(bus.EventTypeSessionStarted, map[string]any{
		"secondsRemaining": snap.SecondsRemaining,
	})

	go c.countdownLoop(ctx, gen, countdownInterval)
	go c.samplingLoop(ctx, gen, sampleInterval)
}

// Stop tears the session down without a verdict. Any in-flight
// detection result is discarded when it arrives.
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	wasRunning := c.phase == PhaseRunning
	if wasRunning {
		c.phase = PhaseIdle
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	if wasRunning {
		c.logger.Info().Msg("Session stopped before completion")
		c.notify(snap)
		c.publish(bus.EventTypeSessionStopped, nil)
	}
}

// countdownLoop fires the once-per-interval countdown tick while running
func (c *Controller) countdownLoop(ctx context.Context, gen uint64, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !c.countdownTick(gen) {
				return
			}
		}
	}
}

// countdownTick decrements the remaining time and finishes the session
// when it reaches zero. Returns false once the session is over.
func (c *Controller) countdownTick(gen uint64) bool {
	c.mu.Lock()
	if c.phase != PhaseRunning || c.generation != gen {
		c.mu.Unlock()
		return false
	}

	c.secondsRemaining--
	if c.secondsRemaining > 0 {
		snap := c.snapshotLocked()
		c.mu.Unlock()

		c.notify(snap)
		c.publish(bus.EventTypeCountdownTick, map[string]any{
			"secondsRemaining": snap.SecondsRemaining,
		})
		return true
	}

	// Time is up: settle the verdict and stop both drivers.
	result := &Result{Verdict: c.tally.Verdict(), Tally: c.tally}
	c.result = result
	c.phase = PhaseFinished
	cancel := c.cancel
	c.cancel = nil
	snap := c.snapshotLocked()
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	c.logger.Info().
		Str("verdict", string(result.Verdict)).
		Int("left", result.Tally.Left).
		Int("right", result.Tally.Right).
		Msg("Session finished")

	c.notify(snap)
	c.publish(bus.EventTypeSessionFinished, map[string]any{
		"verdict": string(result.Verdict),
		"left":    result.Tally.Left,
		"right":   result.Tally.Right,
	})
	return false
}

// samplingLoop fires the sampling tick while running. A tick whose
// detection is still pending when the next one fires is skipped rather
// than queued.
func (c *Controller) samplingLoop(ctx context.Context, gen uint64, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !c.inFlight.CompareAndSwap(false, true) {
				c.logger.Debug().Msg("Detection still in flight, sampling tick skipped")
				continue
			}
			go func() {
				defer c.inFlight.Store(false)
				c.sample(ctx, gen)
			}()
		}
	}
}

// sample pulls the latest frame, runs detection, and applies the
// result. Any failure just skips this tick; the session carries on.
func (c *Controller) sample(ctx context.Context, gen uint64) {
	if c.frames == nil || c.detector == nil {
		return
	}

	frame, err := c.frames.Latest(ctx)
	if err != nil {
		c.logger.Debug().Err(err).Msg("No frame for sampling tick")
		return
	}

	result, err := c.detector.Detect(ctx, frame)
	if err != nil {
		c.logger.Debug().Err(err).Msg("Detection failed, sampling tick skipped")
		return
	}

	c.applySample(gen, result)
}

// applySample maps a detection result onto the pointer and tally. A
// result with no faces changes nothing; a result arriving after the
// session left running (or from an earlier session) is discarded.
func (c *Controller) applySample(gen uint64, result detect.Result) {
	mean, ok := MeanCenterX(result.Faces)

	c.mu.Lock()
	if c.phase != PhaseRunning || c.generation != gen {
		c.mu.Unlock()
		c.logger.Debug().Msg("Stale detection result discarded")
		return
	}
	if !ok {
		c.mu.Unlock()
		return
	}

	x := MapToScreen(mean, c.cfg.ReferenceWidth, c.cfg.ScreenWidth)
	c.pointerX = x
	side := c.tally.Record(x, c.cfg.ScreenWidth)
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.notify(snap)
	c.publish(bus.EventTypePointerMoved, map[string]any{"x": x})
	c.publish(bus.EventTypeSampleRecorded, map[string]any{
		"side":  string(side),
		"left":  snap.Tally.Left,
		"right": snap.Tally.Right,
	})
}

// snapshotLocked builds a snapshot. Callers hold mu.
func (c *Controller) snapshotLocked() Snapshot {
	snap := Snapshot{
		Phase:            c.phase,
		SecondsRemaining: c.secondsRemaining,
		PointerX:         c.pointerX,
		Tally:            c.tally,
		StartedAt:        c.startedAt,
	}
	if c.result != nil {
		result := *c.result
		snap.Result = &result
	}
	return snap
}

// notify sends a snapshot to the change handler
func (c *Controller) notify(snap Snapshot) {
	if c.onChange != nil {
		c.onChange(snap)
	}
}

// publish sends an event to the bus if one is attached
func (c *Controller) publish(eventType bus.EventType, data map[string]any) {
	if c.eventBus != nil {
		c.eventBus.Publish(bus.Event{Type: eventType, Data: data})
	}
}
