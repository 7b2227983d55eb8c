package probe

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/normanking/gazeprobe/internal/detect"
	"github.com/rs/zerolog"
)

type fakeSource struct {
	frame *detect.Frame
	err   error
}

func (f *fakeSource) Latest(context.Context) (*detect.Frame, error) {
	return f.frame, f.err
}

type fakeDetector struct {
	mu     sync.Mutex
	result detect.Result
	err    error
	delay  time.Duration
	calls  int
}

func (f *fakeDetector) Detect(ctx context.Context, _ *detect.Frame) (detect.Result, error) {
	f.mu.Lock()
	f.calls++
	result, err, delay := f.result, f.err, f.delay
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return detect.Result{}, ctx.Err()
		case <-time.After(delay):
		}
	}
	return result, err
}

func (f *fakeDetector) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func faceAt(x float64) detect.Result {
	return detect.Result{Faces: []detect.FaceBox{{Center: detect.Point{X: x}}}}
}

// inertConfig keeps the background drivers from ever firing so tests
// can drive ticks by hand.
func inertConfig() *Config {
	return &Config{
		DurationSeconds:   10,
		CountdownInterval: time.Hour,
		SampleInterval:    time.Hour,
		ReferenceWidth:    300,
		ScreenWidth:       800,
	}
}

func (c *Controller) currentGeneration() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

func TestController_IdleBeforeStart(t *testing.T) {
	c := NewController(inertConfig(), nil, nil, nil, zerolog.Nop())

	snap := c.Snapshot()
	if snap.Phase != PhaseIdle {
		t.Errorf("expected idle, got %s", snap.Phase)
	}
	if snap.PointerX != 400 {
		t.Errorf("expected pointer at center 400, got %v", snap.PointerX)
	}
}

func TestController_StartInitializesSession(t *testing.T) {
	c := NewController(inertConfig(), nil, nil, nil, zerolog.Nop())
	defer c.Stop()

	c.Start()

	snap := c.Snapshot()
	if snap.Phase != PhaseRunning {
		t.Errorf("expected running, got %s", snap.Phase)
	}
	if snap.SecondsRemaining != 10 {
		t.Errorf("expected 10 seconds remaining, got %d", snap.SecondsRemaining)
	}
	if snap.Tally.Left != 0 || snap.Tally.Right != 0 {
		t.Errorf("expected zero tally, got {%d,%d}", snap.Tally.Left, snap.Tally.Right)
	}
	if snap.Result != nil {
		t.Error("expected no result on a fresh session")
	}
	if snap.StartedAt.IsZero() {
		t.Error("expected startedAt to be set")
	}
}

func TestController_StartIsIdempotentWhileRunning(t *testing.T) {
	c := NewController(inertConfig(), nil, nil, nil, zerolog.Nop())
	defer c.Stop()

	c.Start()
	gen := c.currentGeneration()

	// One sample and one countdown tick, then a second Start must
	// change nothing.
	c.applySample(gen, faceAt(50))
	c.countdownTick(gen)

	c.Start()

	snap := c.Snapshot()
	if snap.SecondsRemaining != 9 {
		t.Errorf("expected 9 seconds remaining after ignored restart, got %d", snap.SecondsRemaining)
	}
	if snap.Tally.Right != 1 {
		t.Errorf("expected tally preserved, got {%d,%d}", snap.Tally.Left, snap.Tally.Right)
	}
	if got := c.currentGeneration(); got != gen {
		t.Errorf("expected generation unchanged, got %d want %d", got, gen)
	}
}

func TestController_CountdownMonotonic(t *testing.T) {
	c := NewController(inertConfig(), nil, nil, nil, zerolog.Nop())
	defer c.Stop()

	c.Start()
	gen := c.currentGeneration()

	for k := 1; k <= 9; k++ {
		if !c.countdownTick(gen) {
			t.Fatalf("countdown ended early at tick %d", k)
		}
		snap := c.Snapshot()
		if snap.Phase != PhaseRunning {
			t.Fatalf("expected running at tick %d, got %s", k, snap.Phase)
		}
		if snap.SecondsRemaining != 10-k {
			t.Errorf("after %d ticks expected %d remaining, got %d", k, 10-k, snap.SecondsRemaining)
		}
	}

	if c.countdownTick(gen) {
		t.Error("expected final tick to report session over")
	}

	snap := c.Snapshot()
	if snap.Phase != PhaseFinished {
		t.Errorf("expected finished after 10 ticks, got %s", snap.Phase)
	}
	if snap.Result == nil {
		t.Fatal("expected a result")
	}
	if snap.Result.Verdict != VerdictTie {
		t.Errorf("expected tie with no samples, got %s", snap.Result.Verdict)
	}
}

func TestController_ScenarioTwoSamplesTie(t *testing.T) {
	c := NewController(inertConfig(), nil, nil, nil, zerolog.Nop())
	defer c.Stop()

	c.Start()
	gen := c.currentGeneration()

	c.applySample(gen, faceAt(50))
	snap := c.Snapshot()
	if math.Abs(snap.PointerX-666.6666) > 0.001 {
		t.Errorf("expected pointer ~666.667, got %v", snap.PointerX)
	}
	if snap.Tally.Right != 1 || snap.Tally.Left != 0 {
		t.Errorf("expected {0,1}, got {%d,%d}", snap.Tally.Left, snap.Tally.Right)
	}

	c.applySample(gen, faceAt(280))
	snap = c.Snapshot()
	if math.Abs(snap.PointerX-53.3333) > 0.001 {
		t.Errorf("expected pointer ~53.333, got %v", snap.PointerX)
	}
	if snap.Tally.Left != 1 || snap.Tally.Right != 1 {
		t.Errorf("expected {1,1}, got {%d,%d}", snap.Tally.Left, snap.Tally.Right)
	}

	for i := 0; i < 10; i++ {
		c.countdownTick(gen)
	}

	snap = c.Snapshot()
	if snap.Phase != PhaseFinished {
		t.Fatalf("expected finished, got %s", snap.Phase)
	}
	if snap.Result.Verdict != VerdictTie {
		t.Errorf("expected tie at 1-1, got %s", snap.Result.Verdict)
	}
	if snap.Result.Tally != (Tally{Left: 1, Right: 1}) {
		t.Errorf("expected final tally {1,1}, got %+v", snap.Result.Tally)
	}
}

func TestController_NoFaceTickChangesNothing(t *testing.T) {
	c := NewController(inertConfig(), nil, nil, nil, zerolog.Nop())
	defer c.Stop()

	c.Start()
	gen := c.currentGeneration()

	c.applySample(gen, faceAt(50))
	before := c.Snapshot()

	c.applySample(gen, detect.Result{})

	after := c.Snapshot()
	if after.PointerX != before.PointerX {
		t.Errorf("expected pointer unchanged at %v, got %v", before.PointerX, after.PointerX)
	}
	if after.Tally != before.Tally {
		t.Errorf("expected tally unchanged at %+v, got %+v", before.Tally, after.Tally)
	}
}

func TestController_SampleFailuresAreSwallowed(t *testing.T) {
	source := &fakeSource{err: detect.ErrNoFrame}
	detector := &fakeDetector{err: detect.ErrDetectionTimeout}
	c := NewController(inertConfig(), detector, source, nil, zerolog.Nop())
	defer c.Stop()

	c.Start()
	gen := c.currentGeneration()

	// Frame source failing
	c.sample(context.Background(), gen)

	// Detector failing
	source.err = nil
	source.frame = &detect.Frame{Timestamp: time.Now()}
	c.sample(context.Background(), gen)

	snap := c.Snapshot()
	if snap.Phase != PhaseRunning {
		t.Errorf("expected session to survive failed ticks, got %s", snap.Phase)
	}
	if snap.Tally.Left != 0 || snap.Tally.Right != 0 {
		t.Errorf("expected no samples counted, got {%d,%d}", snap.Tally.Left, snap.Tally.Right)
	}
}

func TestController_StaleResultDiscarded(t *testing.T) {
	c := NewController(inertConfig(), nil, nil, nil, zerolog.Nop())
	defer c.Stop()

	c.Start()
	staleGen := c.currentGeneration()
	c.Stop()

	// Result arriving after teardown
	c.applySample(staleGen, faceAt(50))
	if snap := c.Snapshot(); snap.Tally.Right != 0 {
		t.Errorf("expected stale sample discarded after stop, got tally %+v", snap.Tally)
	}

	// Result from a previous session arriving into the next one
	c.Start()
	c.applySample(staleGen, faceAt(50))
	snap := c.Snapshot()
	if snap.Tally.Left != 0 || snap.Tally.Right != 0 {
		t.Errorf("expected cross-session sample discarded, got tally %+v", snap.Tally)
	}
}

func TestController_NoSamplesWhileIdle(t *testing.T) {
	c := NewController(inertConfig(), nil, nil, nil, zerolog.Nop())

	c.applySample(0, faceAt(50))

	snap := c.Snapshot()
	if snap.Tally.Left != 0 || snap.Tally.Right != 0 {
		t.Errorf("expected no tally change while idle, got %+v", snap.Tally)
	}
}

func TestController_RestartAfterFinishResets(t *testing.T) {
	c := NewController(inertConfig(), nil, nil, nil, zerolog.Nop())
	defer c.Stop()

	c.Start()
	gen := c.currentGeneration()
	c.applySample(gen, faceAt(50))
	for i := 0; i < 10; i++ {
		c.countdownTick(gen)
	}
	if snap := c.Snapshot(); snap.Phase != PhaseFinished {
		t.Fatalf("expected finished, got %s", snap.Phase)
	}

	c.Start()

	snap := c.Snapshot()
	if snap.Phase != PhaseRunning {
		t.Errorf("expected running after restart, got %s", snap.Phase)
	}
	if snap.SecondsRemaining != 10 {
		t.Errorf("expected fresh countdown, got %d", snap.SecondsRemaining)
	}
	if snap.Tally != (Tally{}) {
		t.Errorf("expected tally reset, got %+v", snap.Tally)
	}
	if snap.Result != nil {
		t.Error("expected prior verdict discarded")
	}
}

func TestController_StopWithoutStart(t *testing.T) {
	c := NewController(inertConfig(), nil, nil, nil, zerolog.Nop())
	c.Stop()

	if snap := c.Snapshot(); snap.Phase != PhaseIdle {
		t.Errorf("expected idle, got %s", snap.Phase)
	}
}

func TestController_ChangeHandlerSeesLifecycle(t *testing.T) {
	c := NewController(inertConfig(), nil, nil, nil, zerolog.Nop())
	defer c.Stop()

	var mu sync.Mutex
	var phases []Phase
	c.SetChangeHandler(func(snap Snapshot) {
		mu.Lock()
		phases = append(phases, snap.Phase)
		mu.Unlock()
	})

	c.Start()
	gen := c.currentGeneration()
	for i := 0; i < 10; i++ {
		c.countdownTick(gen)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(phases) == 0 || phases[0] != PhaseRunning {
		t.Fatalf("expected first notification to be running, got %v", phases)
	}
	if phases[len(phases)-1] != PhaseFinished {
		t.Errorf("expected last notification to be finished, got %v", phases)
	}
}

func TestController_UpdateConfigDefersWhileRunning(t *testing.T) {
	c := NewController(inertConfig(), nil, nil, nil, zerolog.Nop())
	defer c.Stop()

	c.Start()
	c.UpdateConfig(&Config{
		DurationSeconds:   5,
		CountdownInterval: time.Hour,
		SampleInterval:    time.Hour,
		ReferenceWidth:    300,
		ScreenWidth:       800,
	})

	if got := c.Config().DurationSeconds; got != 10 {
		t.Errorf("expected running session to keep its duration, got %d", got)
	}

	c.Stop()
	c.Start()

	if snap := c.Snapshot(); snap.SecondsRemaining != 5 {
		t.Errorf("expected staged duration on next session, got %d", snap.SecondsRemaining)
	}
}

func TestController_EndToEndWithDrivers(t *testing.T) {
	source := &fakeSource{frame: &detect.Frame{Timestamp: time.Now()}}
	detector := &fakeDetector{result: faceAt(50)}

	c := NewController(&Config{
		DurationSeconds:   3,
		CountdownInterval: 20 * time.Millisecond,
		SampleInterval:    5 * time.Millisecond,
		ReferenceWidth:    300,
		ScreenWidth:       800,
	}, detector, source, nil, zerolog.Nop())
	defer c.Stop()

	c.Start()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.Snapshot().Phase == PhaseFinished {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	snap := c.Snapshot()
	if snap.Phase != PhaseFinished {
		t.Fatalf("expected session to finish, got %s", snap.Phase)
	}
	if snap.Result.Verdict != VerdictRight {
		t.Errorf("expected right verdict for face at x=50, got %s", snap.Result.Verdict)
	}
	if snap.Result.Tally.Right == 0 {
		t.Error("expected at least one right sample")
	}
	if snap.Result.Tally.Left != 0 {
		t.Errorf("expected no left samples, got %d", snap.Result.Tally.Left)
	}
	if snap.PointerX < 0 || snap.PointerX > 800 {
		t.Errorf("pointer out of bounds: %v", snap.PointerX)
	}
}

func TestController_SlowDetectorSkipsOverlappingTicks(t *testing.T) {
	source := &fakeSource{frame: &detect.Frame{Timestamp: time.Now()}}
	detector := &fakeDetector{result: faceAt(50), delay: 30 * time.Millisecond}

	c := NewController(&Config{
		DurationSeconds:   2,
		CountdownInterval: 50 * time.Millisecond,
		SampleInterval:    5 * time.Millisecond,
		ReferenceWidth:    300,
		ScreenWidth:       800,
	}, detector, source, nil, zerolog.Nop())
	defer c.Stop()

	c.Start()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.Snapshot().Phase == PhaseFinished {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	// The session ran ~100ms with a 5ms sampling period but a 30ms
	// detector; with the single-flight guard only a handful of ticks
	// may actually reach the detector.
	if calls := detector.callCount(); calls > 8 {
		t.Errorf("expected overlapping ticks to be skipped, detector saw %d calls", calls)
	}
}
