package playback

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/spotcast/spotcast/pkg/types"
)

type fakeEngine struct {
	mu            sync.Mutex
	openCalls     int
	concurrent    int
	maxConcurrent int
	source        string
	openDelay     time.Duration
	blockOpen     bool
	// advance makes Position creep forward on every read, mirroring
	// buffered to it, the way the real engine reports HTTP sources.
	advance        time.Duration
	mirrorBuffered bool
	openErr        error
	playErr        error
	playing        bool
	position       time.Duration
	buffered       time.Duration
	volume         float64
	stopCalls      int
	errCb          func(error)
	finCb          func()
}

func (e *fakeEngine) Open(ctx context.Context, source string) error {
	e.mu.Lock()
	e.openCalls++
	e.concurrent++
	if e.concurrent > e.maxConcurrent {
		e.maxConcurrent = e.concurrent
	}
	delay := e.openDelay
	block := e.blockOpen
	err := e.openErr
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.concurrent--
		e.mu.Unlock()
	}()

	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.source = source
	e.mu.Unlock()
	return nil
}

func (e *fakeEngine) Play(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.playErr != nil {
		return e.playErr
	}
	e.playing = true
	return nil
}

func (e *fakeEngine) Pause() error  { e.setPlaying(false); return nil }
func (e *fakeEngine) Resume() error { e.setPlaying(true); return nil }

func (e *fakeEngine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopCalls++
	e.playing = false
	return nil
}

func (e *fakeEngine) SetVolume(volume float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.volume = volume
	return nil
}

func (e *fakeEngine) Position() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.advance > 0 {
		e.position += e.advance
	}
	if e.mirrorBuffered {
		e.buffered = e.position
	}
	return e.position
}

func (e *fakeEngine) BufferedPosition() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.buffered
}

func (e *fakeEngine) IsPlaying() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.playing
}

func (e *fakeEngine) OnError(cb func(error)) { e.errCb = cb }
func (e *fakeEngine) OnFinished(cb func())   { e.finCb = cb }
func (e *fakeEngine) Close() error           { return nil }

func (e *fakeEngine) setPlaying(playing bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.playing = playing
}

func (e *fakeEngine) opens() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.openCalls
}

func fastConfig() Config {
	return Config{
		LoadingCeiling:    300 * time.Millisecond,
		SweepInterval:     100 * time.Millisecond,
		SweepCeiling:      500 * time.Millisecond,
		StaleBufferLimit:  400 * time.Millisecond,
		ZeroBufferCeiling: 200 * time.Millisecond,
		OpenTimeout:       time.Second,
		PlayTimeout:       time.Second,
		PollInterval:      25 * time.Millisecond,
	}
}

func startWatchdog(t *testing.T, engine *fakeEngine, cfg Config) *Watchdog {
	t.Helper()

	w := NewWatchdog(engine, cfg, false)
	if err := w.Initialize(); err != nil {
		t.Fatalf("initialize watchdog: %v", err)
	}
	t.Cleanup(func() { w.Close() })
	return w
}

func streamConfig(url string) *types.StreamConfig {
	return &types.StreamConfig{StreamURL: url, Volume: 0.8}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, message string) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(message)
}

func TestPlayStreamIdempotent(t *testing.T) {
	engine := &fakeEngine{}
	w := startWatchdog(t, engine, fastConfig())

	cfg := streamConfig("http://s/x")
	if err := w.PlayStream(cfg); err != nil {
		t.Fatalf("first PlayStream: %v", err)
	}
	waitFor(t, time.Second, func() bool { return engine.opens() == 1 }, "engine never opened")

	if err := w.PlayStream(cfg); err != nil {
		t.Fatalf("second PlayStream: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	if got := engine.opens(); got != 1 {
		t.Errorf("expected exactly one open call for an unchanged URL, got %d", got)
	}
}

func TestPlayStreamSerializesURLChange(t *testing.T) {
	engine := &fakeEngine{openDelay: 150 * time.Millisecond}
	w := startWatchdog(t, engine, fastConfig())

	if err := w.PlayStream(streamConfig("http://s/old")); err != nil {
		t.Fatalf("PlayStream old: %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	if err := w.PlayStream(streamConfig("http://s/new")); err != nil {
		t.Fatalf("PlayStream new: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		engine.mu.Lock()
		defer engine.mu.Unlock()
		return engine.source == "http://s/new"
	}, "new URL never established")

	engine.mu.Lock()
	maxConcurrent := engine.maxConcurrent
	engine.mu.Unlock()
	if maxConcurrent > 1 {
		t.Errorf("engine opens overlapped: max concurrency %d", maxConcurrent)
	}
}

func TestLoadingTimeoutEmitsRetryableError(t *testing.T) {
	engine := &fakeEngine{blockOpen: true}
	cfg := fastConfig()
	cfg.OpenTimeout = 5 * time.Second // let the loading ceiling fire first
	w := startWatchdog(t, engine, cfg)

	if err := w.PlayStream(streamConfig("http://s/x")); err != nil {
		t.Fatalf("PlayStream: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		return w.State().Kind == types.PlaybackFailed
	}, "loading never timed out")

	state := w.State()
	if !state.Retryable {
		t.Error("loading timeout must be retryable")
	}
}

func TestHealthyLiveStreamIsNotAHang(t *testing.T) {
	// The real engine mirrors bufferedPosition to position for HTTP sources
	// and the position keeps advancing while audio flows. That must read as
	// healthy well past the zero-buffer ceiling.
	engine := &fakeEngine{advance: 120 * time.Millisecond, mirrorBuffered: true}
	w := startWatchdog(t, engine, fastConfig())

	states, cancel := w.States()
	defer cancel()

	if err := w.PlayStream(streamConfig("http://s/live")); err != nil {
		t.Fatalf("PlayStream: %v", err)
	}

	sawPlaying := false
	deadline := time.After(800 * time.Millisecond) // 4x the zero-buffer ceiling
	for {
		select {
		case s := <-states:
			if s.Kind == types.PlaybackPlaying && s.BufferDepth > 0 {
				sawPlaying = true
			}
			if s.Kind == types.PlaybackFailed {
				t.Fatalf("healthy live stream flagged as failed: %s", s.Message)
			}
		case <-deadline:
			if !sawPlaying {
				t.Fatal("never saw a healthy playing state")
			}
			return
		}
	}
}

func TestZeroBufferWhilePlayingIsAHang(t *testing.T) {
	// A live position frozen past the startup window means the decoder is
	// starved; the synthesized depth drops to zero and the hang fires.
	engine := &fakeEngine{position: 10 * time.Second, buffered: 10 * time.Second}
	w := startWatchdog(t, engine, fastConfig())

	if err := w.PlayStream(streamConfig("http://s/x")); err != nil {
		t.Fatalf("PlayStream: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		return w.State().Kind == types.PlaybackFailed
	}, "zero-buffer hang never detected")

	if !w.State().Retryable {
		t.Error("hang must be retryable")
	}
}

func TestLiveStreamReportsSynthesizedBuffer(t *testing.T) {
	// Live streams sit at position ~0; the watchdog must synthesize a depth
	// instead of reading bufferedPosition - position.
	engine := &fakeEngine{position: 0, buffered: 0}
	w := startWatchdog(t, engine, fastConfig())

	states, cancel := w.States()
	defer cancel()

	if err := w.PlayStream(streamConfig("http://s/live")); err != nil {
		t.Fatalf("PlayStream: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case s := <-states:
			if s.Kind == types.PlaybackPlaying && s.BufferDepth > 0 {
				return
			}
			if s.Kind == types.PlaybackFailed {
				t.Fatalf("live stream flagged as failed: %s", s.Message)
			}
		case <-deadline:
			t.Fatal("never saw a playing state with synthesized buffer depth")
		}
	}
}

func TestEngineErrorClassified(t *testing.T) {
	engine := &fakeEngine{}
	w := startWatchdog(t, engine, fastConfig())

	if err := w.PlayStream(streamConfig("http://s/x")); err != nil {
		t.Fatalf("PlayStream: %v", err)
	}
	waitFor(t, time.Second, func() bool { return engine.opens() == 1 }, "engine never opened")

	engine.errCb(errors.New("unsupported codec profile"))

	waitFor(t, time.Second, func() bool {
		return w.State().Kind == types.PlaybackFailed
	}, "engine error never surfaced")

	if w.State().Retryable {
		t.Error("format errors must not be auto-retried")
	}
}

func TestLocalTrackBoundaryCallback(t *testing.T) {
	engine := &fakeEngine{}
	w := startWatchdog(t, engine, fastConfig())

	finished := make(chan bool, 1)
	w.OnTrackFinished(func(local bool) { finished <- local })

	if err := w.PlayLocalFile("/tmp/u-1.mp3", streamConfig("http://s/x")); err != nil {
		t.Fatalf("PlayLocalFile: %v", err)
	}
	waitFor(t, time.Second, func() bool { return engine.opens() == 1 }, "engine never opened")

	engine.finCb()

	select {
	case local := <-finished:
		if !local {
			t.Error("expected local=true at a cached-track boundary")
		}
	case <-time.After(time.Second):
		t.Fatal("track-finished callback never fired")
	}
}

func TestLiveStreamFinishingIsAFailure(t *testing.T) {
	engine := &fakeEngine{}
	w := startWatchdog(t, engine, fastConfig())

	if err := w.PlayStream(streamConfig("http://s/x")); err != nil {
		t.Fatalf("PlayStream: %v", err)
	}
	waitFor(t, time.Second, func() bool { return engine.opens() == 1 }, "engine never opened")

	engine.finCb()

	waitFor(t, time.Second, func() bool {
		return w.State().Kind == types.PlaybackFailed
	}, "live stream completion must surface as a retryable failure")
	if !w.State().Retryable {
		t.Error("unexpected stream end must be retryable")
	}
}

func TestRetryAfterFailureIsNotIgnored(t *testing.T) {
	engine := &fakeEngine{openErr: errors.New("connection refused")}
	w := startWatchdog(t, engine, fastConfig())

	if err := w.PlayStream(streamConfig("http://s/x")); err != nil {
		t.Fatalf("PlayStream: %v", err)
	}
	waitFor(t, time.Second, func() bool {
		return w.State().Kind == types.PlaybackFailed
	}, "open failure never surfaced")

	engine.mu.Lock()
	engine.openErr = nil
	engine.mu.Unlock()

	if err := w.PlayStream(streamConfig("http://s/x")); err != nil {
		t.Fatalf("retry PlayStream: %v", err)
	}
	waitFor(t, time.Second, func() bool { return engine.opens() == 2 }, "retry after failure was ignored")
}

func TestPauseResume(t *testing.T) {
	engine := &fakeEngine{}
	w := startWatchdog(t, engine, fastConfig())

	if err := w.PlayStream(streamConfig("http://s/x")); err != nil {
		t.Fatalf("PlayStream: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool {
		return w.State().Kind == types.PlaybackPlaying
	}, "never reached playing")

	if err := w.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if w.State().Kind != types.PlaybackPaused {
		t.Errorf("expected paused, got %v", w.State().Kind)
	}

	if err := w.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if w.State().Kind != types.PlaybackPlaying {
		t.Errorf("expected playing after resume, got %v", w.State().Kind)
	}
}
