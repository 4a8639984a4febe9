// Package playback wraps the opaque audio engine and turns its raw signals
// into health-annotated playback states, detecting the hang classes a live
// stream can fall into.
package playback

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/spotcast/spotcast/internal/config"
	"github.com/spotcast/spotcast/internal/events"
	"github.com/spotcast/spotcast/pkg/types"
)

type Config struct {
	LoadingCeiling    time.Duration
	SweepInterval     time.Duration
	SweepCeiling      time.Duration
	StaleBufferLimit  time.Duration
	ZeroBufferCeiling time.Duration
	OpenTimeout       time.Duration
	PlayTimeout       time.Duration
	PollInterval      time.Duration
}

func ConfigFrom(cfg *config.Config) Config {
	return Config{
		LoadingCeiling:    time.Duration(cfg.Playback.LoadingCeilingSeconds) * time.Second,
		SweepInterval:     time.Duration(cfg.Playback.SweepIntervalSeconds) * time.Second,
		SweepCeiling:      time.Duration(cfg.Playback.SweepCeilingSeconds) * time.Second,
		StaleBufferLimit:  time.Duration(cfg.Playback.StaleBufferMinutes) * time.Minute,
		ZeroBufferCeiling: time.Duration(cfg.Playback.ZeroBufferCeilingSeconds) * time.Second,
		OpenTimeout:       time.Duration(cfg.Playback.OpenTimeoutSeconds) * time.Second,
		PlayTimeout:       time.Duration(cfg.Playback.PlayTimeoutSeconds) * time.Second,
	}
}

func (c Config) withDefaults() Config {
	if c.LoadingCeiling <= 0 {
		c.LoadingCeiling = 20 * time.Second
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 12 * time.Second
	}
	if c.SweepCeiling <= 0 {
		c.SweepCeiling = 30 * time.Second
	}
	if c.StaleBufferLimit <= 0 {
		c.StaleBufferLimit = 2 * time.Minute
	}
	if c.ZeroBufferCeiling <= 0 {
		c.ZeroBufferCeiling = 30 * time.Second
	}
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = 15 * time.Second
	}
	if c.PlayTimeout <= 0 {
		c.PlayTimeout = 10 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	return c
}

// Watchdog owns the engine. PlayStream/PlayLocalFile are idempotent against
// duplicate calls for the same source and serialize against a different
// source arriving mid-establish; no two engine opens ever overlap.
type Watchdog struct {
	engine types.Engine
	cfg    Config
	debug  bool

	// openMu serializes the engine open/play sequence across establish
	// goroutines.
	openMu sync.Mutex

	mu              sync.Mutex
	running         bool
	stop            chan struct{}
	establishing    bool
	establishCancel context.CancelFunc
	currentSource   string
	currentConfig   *types.StreamConfig
	local           bool
	paused          bool
	lastVolume      float64

	state          types.PlaybackState
	stateEnteredAt time.Time
	playStartedAt  time.Time

	lastBufferDepth time.Duration
	lastBufferAt    time.Time
	lastPosition    time.Duration
	zeroBufferSince time.Time

	trackFinished func(local bool)

	states *events.Stream[types.PlaybackState]
}

func NewWatchdog(engine types.Engine, cfg Config, debug bool) *Watchdog {
	return &Watchdog{
		engine:     engine,
		cfg:        cfg.withDefaults(),
		debug:      debug,
		state:      types.PlaybackIdleState(),
		lastVolume: 1.0,
		states:     events.NewStream[types.PlaybackState](),
	}
}

func (w *Watchdog) debugLog(format string, args ...interface{}) {
	if w.debug {
		log.Printf("[PLAYBACK] "+format, args...)
	}
}

// Initialize hooks the engine callbacks and starts the poll and sweep loops.
func (w *Watchdog) Initialize() error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.stop = make(chan struct{})
	stop := w.stop
	w.mu.Unlock()

	w.engine.OnError(w.handleEngineError)
	w.engine.OnFinished(w.handleEngineFinished)

	go w.run(stop)
	w.debugLog("Watchdog initialized (poll: %v, sweep: %v)", w.cfg.PollInterval, w.cfg.SweepInterval)
	return nil
}

func (w *Watchdog) run(stop chan struct{}) {
	poll := time.NewTicker(w.cfg.PollInterval)
	sweep := time.NewTicker(w.cfg.SweepInterval)
	defer poll.Stop()
	defer sweep.Stop()

	for {
		select {
		case <-poll.C:
			w.poll()
		case <-sweep.C:
			w.sweep()
		case <-stop:
			return
		}
	}
}

// PlayStream starts live playback for a stream configuration. Duplicate
// calls for the URL already establishing or playing are ignored silently.
func (w *Watchdog) PlayStream(cfg *types.StreamConfig) error {
	if cfg == nil || cfg.StreamURL == "" {
		return fmt.Errorf("stream config missing URL")
	}
	return w.playSource(cfg.StreamURL, false, cfg, cfg.Volume)
}

// PlayLocalFile plays a cached track. originalConfig carries the last known
// live configuration (volume, metadata) and may be nil.
func (w *Watchdog) PlayLocalFile(path string, originalConfig *types.StreamConfig) error {
	if path == "" {
		return fmt.Errorf("local file path is empty")
	}
	volume := w.volume()
	if originalConfig != nil {
		volume = originalConfig.Volume
	}
	return w.playSource(path, true, originalConfig, volume)
}

func (w *Watchdog) volume() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastVolume
}

func (w *Watchdog) playSource(source string, local bool, cfg *types.StreamConfig, volume float64) error {
	w.mu.Lock()

	if w.currentSource == source && w.activeLocked() {
		w.mu.Unlock()
		w.debugLog("Ignoring duplicate play request: %s", source)
		return nil
	}

	// A different source while a previous establish is in flight: cancel it;
	// the establish goroutine below waits on openMu, so opens never overlap.
	if w.establishCancel != nil {
		w.establishCancel()
		w.establishCancel = nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	w.establishing = true
	w.establishCancel = cancel
	w.currentSource = source
	w.currentConfig = cfg
	w.local = local
	w.paused = false
	w.lastVolume = volume
	w.setStateLocked(types.PlaybackLoadingState(0))
	w.mu.Unlock()

	w.debugLog("Establishing playback: %s (local: %v)", source, local)
	go w.establish(ctx, source, volume)
	return nil
}

// activeLocked reports whether the current source is establishing or audible.
func (w *Watchdog) activeLocked() bool {
	if w.establishing {
		return true
	}
	switch w.state.Kind {
	case types.PlaybackLoading, types.PlaybackBuffering, types.PlaybackPlaying, types.PlaybackPaused:
		return true
	default:
		return false
	}
}

func (w *Watchdog) establish(ctx context.Context, source string, volume float64) {
	w.openMu.Lock()
	defer w.openMu.Unlock()

	if ctx.Err() != nil {
		return // superseded before it started
	}

	if err := w.engine.Stop(); err != nil {
		w.debugLog("Stop before open failed: %v", err)
	}

	openCtx, cancelOpen := context.WithTimeout(ctx, w.cfg.OpenTimeout)
	err := w.engine.Open(openCtx, source)
	cancelOpen()
	if err != nil {
		w.establishFailed(ctx, source, fmt.Errorf("open source: %w", err))
		return
	}

	playCtx, cancelPlay := context.WithTimeout(ctx, w.cfg.PlayTimeout)
	err = w.engine.Play(playCtx)
	cancelPlay()
	if err != nil {
		w.establishFailed(ctx, source, fmt.Errorf("start playback: %w", err))
		return
	}

	if err := w.engine.SetVolume(volume); err != nil {
		w.debugLog("SetVolume failed: %v", err)
	}

	w.mu.Lock()
	if ctx.Err() != nil {
		w.mu.Unlock()
		return
	}
	now := time.Now()
	w.establishing = false
	w.playStartedAt = now
	w.lastBufferDepth = 0
	w.lastBufferAt = now
	w.lastPosition = 0
	w.zeroBufferSince = time.Time{}
	w.mu.Unlock()

	w.debugLog("Playback established: %s", source)
}

func (w *Watchdog) establishFailed(ctx context.Context, source string, err error) {
	if ctx.Err() != nil {
		w.debugLog("Establish superseded for %s: %v", source, err)
		return
	}

	classified := classifyEngineError(err)
	log.Printf("[PLAYBACK] Establish failed for %s: %v (category: %s, retryable: %v)",
		source, err, classified.Category, classified.Retryable)

	w.mu.Lock()
	if w.currentSource != source {
		w.mu.Unlock()
		return
	}
	w.establishing = false
	w.setStateLocked(types.PlaybackFailedState(classified.Message, classified.Retryable))
	w.mu.Unlock()
}

func (w *Watchdog) handleEngineError(err error) {
	classified := classifyEngineError(err)
	log.Printf("[PLAYBACK] Engine error: %v (category: %s, retryable: %v)",
		err, classified.Category, classified.Retryable)

	w.mu.Lock()
	w.establishing = false
	w.setStateLocked(types.PlaybackFailedState(classified.Message, classified.Retryable))
	w.mu.Unlock()
}

func (w *Watchdog) handleEngineFinished() {
	w.mu.Lock()
	local := w.local
	callback := w.trackFinished
	if local {
		w.setStateLocked(types.PlaybackIdleState())
		w.currentSource = ""
	} else {
		// A live stream never completes on its own; the server closed it.
		w.setStateLocked(types.PlaybackFailedState("stream ended unexpectedly", true))
	}
	w.mu.Unlock()

	if callback != nil {
		callback(local)
	}
}

// OnTrackFinished registers the callback fired when playback of a source
// completes (for local files this is the track boundary).
func (w *Watchdog) OnTrackFinished(callback func(local bool)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.trackFinished = callback
}

func (w *Watchdog) poll() {
	now := time.Now()

	w.mu.Lock()
	defer w.mu.Unlock()

	switch {
	case w.state.Kind == types.PlaybackIdle || w.state.Kind == types.PlaybackFailed:
		return

	case w.paused:
		w.setStateLocked(types.PlaybackPausedState(w.engine.Position(), w.lastBufferDepth))

	case w.establishing:
		// setStateLocked resets stateEnteredAt, so the time already spent
		// loading is carried in the state payload.
		elapsed := now.Sub(w.stateEnteredAt)
		if w.state.Kind == types.PlaybackLoading {
			elapsed += w.state.Elapsed
		}
		if elapsed > w.cfg.LoadingCeiling {
			w.failLocked(types.HangLoading, fmt.Sprintf("loading exceeded %v", w.cfg.LoadingCeiling))
			return
		}
		w.setStateLocked(types.PlaybackLoadingState(elapsed))

	case w.engine.IsPlaying():
		position := w.engine.Position()
		buffered := w.engine.BufferedPosition()
		depth := estimateBufferDepth(w.local, position, w.lastPosition, buffered, now.Sub(w.playStartedAt))
		w.lastPosition = position

		if depth != w.lastBufferDepth {
			w.lastBufferDepth = depth
			w.lastBufferAt = now
		}

		if depth == 0 {
			if w.zeroBufferSince.IsZero() {
				w.zeroBufferSince = now
			} else if now.Sub(w.zeroBufferSince) > w.cfg.ZeroBufferCeiling {
				w.failLocked(types.HangPlaying,
					fmt.Sprintf("buffer empty for over %v while playing", w.cfg.ZeroBufferCeiling))
				return
			}
		} else {
			w.zeroBufferSince = time.Time{}
		}

		w.setStateLocked(types.PlaybackPlayingState(position, depth))

	default:
		// Engine established but reports not playing: data flow stalled.
		var elapsed time.Duration
		if w.state.Kind == types.PlaybackBuffering {
			elapsed = now.Sub(w.stateEnteredAt) + w.state.Elapsed
		}
		if elapsed > w.cfg.LoadingCeiling {
			w.failLocked(types.HangBuffering, fmt.Sprintf("buffering exceeded %v", w.cfg.LoadingCeiling))
			return
		}
		w.setStateLocked(types.PlaybackBufferingState(w.lastBufferDepth, elapsed))
	}
}

// sweep re-validates stuck states on a slower cadence with stricter ceilings
// and catches the silent hang where the engine claims to play but neither
// the buffer nor the position ever moves.
func (w *Watchdog) sweep() {
	now := time.Now()

	w.mu.Lock()
	defer w.mu.Unlock()

	switch w.state.Kind {
	case types.PlaybackLoading, types.PlaybackBuffering:
		elapsed := now.Sub(w.stateEnteredAt) + w.state.Elapsed
		if elapsed > w.cfg.SweepCeiling {
			stage := types.HangLoading
			if w.state.Kind == types.PlaybackBuffering {
				stage = types.HangBuffering
			}
			w.failLocked(stage, fmt.Sprintf("stuck in %s for %v", w.state.Kind, elapsed.Round(time.Second)))
		}

	case types.PlaybackPlaying:
		if now.Sub(w.lastBufferAt) > w.cfg.StaleBufferLimit && w.engine.Position() == 0 {
			w.failLocked(types.HangPlaying,
				fmt.Sprintf("no buffer update for %v and position stuck at zero", w.cfg.StaleBufferLimit))
		}
	}
}

// failLocked manufactures a retryable failure state for a detected hang and
// tears the engine down so stale audio I/O cannot linger.
func (w *Watchdog) failLocked(stage types.HangStage, message string) {
	hang := &types.HangError{Stage: stage, Message: message}
	log.Printf("[PLAYBACK] %v", hang)

	if w.establishCancel != nil {
		w.establishCancel()
		w.establishCancel = nil
	}
	w.establishing = false
	w.setStateLocked(types.PlaybackFailedState(hang.Error(), true))

	go func() {
		if err := w.engine.Stop(); err != nil {
			w.debugLog("Engine stop after hang failed: %v", err)
		}
	}()
}

func (w *Watchdog) setStateLocked(state types.PlaybackState) {
	w.state = state
	w.stateEnteredAt = time.Now()
	w.states.Publish(state)
}

func (w *Watchdog) Pause() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state.Kind != types.PlaybackPlaying {
		return nil
	}
	if err := w.engine.Pause(); err != nil {
		return fmt.Errorf("pause engine: %w", err)
	}
	w.paused = true
	w.setStateLocked(types.PlaybackPausedState(w.state.Position, w.state.BufferDepth))
	return nil
}

func (w *Watchdog) Resume() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.paused {
		return nil
	}
	if err := w.engine.Resume(); err != nil {
		return fmt.Errorf("resume engine: %w", err)
	}
	w.paused = false
	w.playStartedAt = time.Now()
	w.setStateLocked(types.PlaybackPlayingState(w.state.Position, w.state.BufferDepth))
	return nil
}

func (w *Watchdog) Stop() error {
	w.mu.Lock()
	if w.establishCancel != nil {
		w.establishCancel()
		w.establishCancel = nil
	}
	w.establishing = false
	w.paused = false
	w.currentSource = ""
	w.currentConfig = nil
	w.setStateLocked(types.PlaybackIdleState())
	w.mu.Unlock()

	if err := w.engine.Stop(); err != nil {
		return fmt.Errorf("stop engine: %w", err)
	}
	return nil
}

func (w *Watchdog) SetVolume(volume float64) error {
	w.mu.Lock()
	w.lastVolume = volume
	w.mu.Unlock()

	if err := w.engine.SetVolume(volume); err != nil {
		return fmt.Errorf("set engine volume: %w", err)
	}
	return nil
}

func (w *Watchdog) State() types.PlaybackState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// States exposes the playback state stream (replay-none).
func (w *Watchdog) States() (<-chan types.PlaybackState, func()) {
	return w.states.Subscribe()
}

// Close stops the loops and the engine. The watchdog is not reusable after
// Close.
func (w *Watchdog) Close() error {
	w.mu.Lock()
	if w.running {
		w.running = false
		close(w.stop)
	}
	if w.establishCancel != nil {
		w.establishCancel()
		w.establishCancel = nil
	}
	w.mu.Unlock()

	w.states.Close()
	return w.engine.Close()
}
