// Package session owns the canonical connection state. All transitions run
// on a single event loop; collaborators feed events in through one-way
// streams and never mutate session state directly.
package session

import (
	"context"
	"log"
	"time"

	"github.com/spotcast/spotcast/internal/config"
	"github.com/spotcast/spotcast/internal/events"
	"github.com/spotcast/spotcast/internal/retry"
	"github.com/spotcast/spotcast/pkg/types"
)

type Config struct {
	PollInterval        time.Duration
	RetryDebounce       time.Duration
	ConnectingWarn      time.Duration
	ConnectingRecover   time.Duration
	ConnectingSweep     time.Duration
	LiveProbeInterval   time.Duration
	ConnectTimeout      time.Duration
	FailoverRetryBudget int
	RetryBase           time.Duration
	RetryMax            time.Duration
}

func ConfigFrom(cfg *config.Config) Config {
	return Config{
		PollInterval:        time.Duration(cfg.Session.PollIntervalSeconds) * time.Second,
		RetryDebounce:       time.Duration(cfg.Session.RetryDebounceSeconds) * time.Second,
		ConnectingWarn:      time.Duration(cfg.Session.ConnectingWarnSeconds) * time.Second,
		ConnectingRecover:   time.Duration(cfg.Session.ConnectingRecoverSeconds) * time.Second,
		ConnectingSweep:     time.Duration(cfg.Session.ConnectingSweepSeconds) * time.Second,
		LiveProbeInterval:   time.Duration(cfg.Session.LiveProbeIntervalSeconds) * time.Second,
		ConnectTimeout:      time.Duration(cfg.API.Timeout) * time.Second,
		FailoverRetryBudget: cfg.Session.FailoverRetryBudget,
		RetryBase:           time.Duration(cfg.Session.RetryBaseSeconds) * time.Second,
		RetryMax:            time.Duration(cfg.Session.RetryMaxSeconds) * time.Second,
	}
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 45 * time.Second
	}
	if c.RetryDebounce <= 0 {
		c.RetryDebounce = 5 * time.Second
	}
	if c.ConnectingWarn <= 0 {
		c.ConnectingWarn = 15 * time.Second
	}
	if c.ConnectingRecover <= 0 {
		c.ConnectingRecover = 30 * time.Second
	}
	if c.ConnectingSweep <= 0 {
		c.ConnectingSweep = 10 * time.Second
	}
	if c.LiveProbeInterval <= 0 {
		c.LiveProbeInterval = 30 * time.Second
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 15 * time.Second
	}
	if c.FailoverRetryBudget <= 0 {
		c.FailoverRetryBudget = 3
	}
	if c.RetryBase <= 0 {
		c.RetryBase = retry.DefaultBase
	}
	if c.RetryMax <= 0 {
		c.RetryMax = retry.DefaultMax
	}
	return c
}

// Player is the watchdog surface the session drives.
type Player interface {
	Initialize() error
	PlayStream(cfg *types.StreamConfig) error
	PlayLocalFile(path string, originalConfig *types.StreamConfig) error
	Pause() error
	Resume() error
	Stop() error
	SetVolume(volume float64) error
	State() types.PlaybackState
	States() (<-chan types.PlaybackState, func())
	OnTrackFinished(callback func(local bool))
}

// NetWatcher is the network monitor surface the session drives.
type NetWatcher interface {
	Start()
	Stop()
	SetStreamHost(rawURL string) error
	State() types.NetworkState
	States() (<-chan types.NetworkState, func())
}

type Machine struct {
	cfg    Config
	api    types.ConfigAPI
	store  types.SettingsStore
	player Player
	cache  types.TrackCache
	netmon NetWatcher
	policy *retry.Policy
	debug  bool

	commands chan func()
	stopLoop chan struct{}
	loopDone chan struct{}

	// Everything below is owned by the loop goroutine.
	state            types.SessionState
	token            string
	attempt          int
	generation       int
	connectingSince  time.Time
	lastConfig       *types.StreamConfig
	liveRequested    bool
	liveConfirmed    bool
	playbackFailures int
	lastFailureAt    time.Time

	retryTimer *time.Timer
	pollTimer  *time.Timer
	probeTimer *time.Timer

	subCancels []func()

	states *events.Stream[types.SessionState]
}

func NewMachine(cfg Config, api types.ConfigAPI, store types.SettingsStore,
	player Player, cache types.TrackCache, netmon NetWatcher, debug bool) *Machine {

	c := cfg.withDefaults()
	return &Machine{
		cfg:      c,
		api:      api,
		store:    store,
		player:   player,
		cache:    cache,
		netmon:   netmon,
		policy:   retry.NewPolicy(c.RetryBase, c.RetryMax),
		debug:    debug,
		commands: make(chan func(), 64),
		stopLoop: make(chan struct{}),
		loopDone: make(chan struct{}),
		state:    types.Disconnected(""),
		states:   events.NewStream[types.SessionState](),
	}
}

func (m *Machine) debugLog(format string, args ...interface{}) {
	if m.debug {
		log.Printf("[SESSION] "+format, args...)
	}
}

// Start brings up the event loop, the playback and network subscriptions and
// the network monitor. It does not connect; Connect is explicit.
func (m *Machine) Start() error {
	if err := m.player.Initialize(); err != nil {
		return err
	}

	playbackStates, cancelPlayback := m.player.States()
	networkStates, cancelNetwork := m.netmon.States()
	m.subCancels = append(m.subCancels, cancelPlayback, cancelNetwork)

	go m.loop()

	go func() {
		for state := range playbackStates {
			s := state
			m.post(func() { m.handlePlaybackState(s) })
		}
	}()
	go func() {
		for state := range networkStates {
			s := state
			m.post(func() { m.handleNetworkState(s) })
		}
	}()

	m.player.OnTrackFinished(func(local bool) {
		m.post(func() { m.handleTrackFinished(local) })
	})

	m.netmon.Start()
	m.debugLog("Session machine started")
	return nil
}

func (m *Machine) loop() {
	defer close(m.loopDone)

	sweep := time.NewTicker(m.cfg.ConnectingSweep)
	defer sweep.Stop()

	for {
		select {
		case fn := <-m.commands:
			fn()
		case <-sweep.C:
			m.sweepConnecting()
		case <-m.stopLoop:
			return
		}
	}
}

// post hands a closure to the loop goroutine. Loop-internal code must call
// handlers directly instead of posting, so the loop can never block on its
// own queue.
func (m *Machine) post(fn func()) {
	select {
	case m.commands <- fn:
	case <-m.stopLoop:
	}
}

func (m *Machine) setState(state types.SessionState) {
	if m.state.Kind != state.Kind {
		log.Printf("[SESSION] %s -> %s (%s)", m.state.Kind, state.Kind, state.Status())
	}
	m.state = state
	m.states.Publish(state)
}

// Connect starts a session for the given pin and persists it as the stored
// token. The session only becomes Connected once audio actually plays.
func (m *Machine) Connect(pin string) {
	m.post(func() {
		m.cancelTimers()
		m.token = pin
		m.attempt = 1
		m.playbackFailures = 0
		m.liveConfirmed = false

		if err := m.store.SetToken(pin); err != nil {
			log.Printf("[SESSION] Failed to persist token: %v", err)
		}

		m.setState(types.Connecting(m.token, "", m.attempt))
		m.connectingSince = time.Now()
		m.startAttempt()
	})
}

// Disconnect is the only path that clears the stored token and stops all
// retrying and monitoring.
func (m *Machine) Disconnect() {
	m.post(func() {
		m.cancelTimers()
		m.generation++
		m.token = ""
		m.lastConfig = nil

		if err := m.store.ClearToken(); err != nil {
			log.Printf("[SESSION] Failed to clear token: %v", err)
		}

		m.netmon.Stop()
		if err := m.player.Stop(); err != nil {
			m.debugLog("Player stop on disconnect: %v", err)
		}
		m.setState(types.Disconnected("Disconnected"))
	})
}

// PlayPause toggles between playing and paused.
func (m *Machine) PlayPause() {
	m.post(func() {
		switch m.player.State().Kind {
		case types.PlaybackPlaying:
			if err := m.player.Pause(); err != nil {
				log.Printf("[SESSION] Pause failed: %v", err)
			}
		case types.PlaybackPaused:
			if err := m.player.Resume(); err != nil {
				log.Printf("[SESSION] Resume failed: %v", err)
			}
		}
	})
}

// SetVolume applies and persists the volume.
func (m *Machine) SetVolume(volume float64) {
	m.post(func() {
		if err := m.player.SetVolume(volume); err != nil {
			log.Printf("[SESSION] Set volume failed: %v", err)
		}
		if err := m.store.SetLastVolume(volume); err != nil {
			log.Printf("[SESSION] Failed to persist volume: %v", err)
		}
	})
}

func (m *Machine) State() types.SessionState {
	result := make(chan types.SessionState, 1)
	m.post(func() { result <- m.state })
	select {
	case s := <-result:
		return s
	case <-m.loopDone:
		return types.Disconnected("")
	}
}

// States exposes the session state stream (replay-none).
func (m *Machine) States() (<-chan types.SessionState, func()) {
	return m.states.Subscribe()
}

// Close tears the session down without clearing the token: timers first,
// then the monitor, then the engine, so no callback fires into a disposed
// machine.
func (m *Machine) Close() {
	done := make(chan struct{})
	m.post(func() {
		m.cancelTimers()
		m.generation++
		close(done)
	})
	select {
	case <-done:
	case <-time.After(time.Second):
	}

	close(m.stopLoop)
	<-m.loopDone

	for _, cancel := range m.subCancels {
		cancel()
	}
	m.netmon.Stop()
	if err := m.player.Stop(); err != nil {
		m.debugLog("Player stop on close: %v", err)
	}
	m.states.Close()
	m.debugLog("Session machine closed")
}

func (m *Machine) cancelTimers() {
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
	if m.pollTimer != nil {
		m.pollTimer.Stop()
		m.pollTimer = nil
	}
	if m.probeTimer != nil {
		m.probeTimer.Stop()
		m.probeTimer = nil
	}
}

// sweepConnecting is the hung-connecting watchdog: a stuck attempt emits no
// failure signal, so nothing else would ever notice it.
func (m *Machine) sweepConnecting() {
	if m.state.Kind != types.SessionConnecting {
		return
	}

	stuck := time.Since(m.connectingSince)
	switch {
	case stuck > m.cfg.ConnectingRecover:
		log.Printf("[SESSION] Connecting for %v, force-recovering", stuck.Round(time.Second))
		m.forceRecover()
	case stuck > m.cfg.ConnectingWarn:
		log.Printf("[SESSION] Still connecting after %v", stuck.Round(time.Second))
	}
}

// forceRecover abandons a hung connection attempt: all timers cancelled, the
// engine stopped, backoff reset, and a fresh attempt started immediately.
func (m *Machine) forceRecover() {
	m.cancelTimers()
	m.generation++
	if err := m.player.Stop(); err != nil {
		m.debugLog("Player stop during force recovery: %v", err)
	}

	m.attempt = 1
	m.playbackFailures = 0
	m.setState(types.Connecting(m.token, "", m.attempt))
	m.connectingSince = time.Now()
	m.startAttempt()
}

func (m *Machine) fetchConfig(ctx context.Context) (*types.StreamConfig, error) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	defer cancel()
	return m.api.GetSpot(ctx, m.token)
}
