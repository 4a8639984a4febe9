package session

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/spotcast/spotcast/internal/cache"
	"github.com/spotcast/spotcast/pkg/types"
)

// startAttempt kicks off one connection attempt: fetch the spot config off
// the loop, then hand the result back in. The generation stamp invalidates
// results from attempts that were cancelled or superseded meanwhile.
func (m *Machine) startAttempt() {
	m.generation++
	gen := m.generation
	token := m.token

	m.debugLog("Connection attempt %d for token %s", m.attempt, token)

	go func() {
		cfg, err := m.fetchConfig(context.Background())
		m.post(func() { m.finishAttempt(gen, cfg, err) })
	}()
}

func (m *Machine) finishAttempt(gen int, cfg *types.StreamConfig, err error) {
	if gen != m.generation {
		m.debugLog("Dropping stale connection attempt result")
		return
	}

	if err != nil {
		log.Printf("[SESSION] Config fetch failed: %v", err)
		if !m.netmon.State().Connected {
			// No network at all; cached music beats silence while we wait.
			m.engageFailover("No internet connection")
			return
		}
		m.handleFailure(describeFetchError(err))
		return
	}

	m.applyConfig(cfg)

	if err := m.netmon.SetStreamHost(cfg.StreamURL); err != nil {
		m.debugLog("Stream host not usable for ping: %v", err)
	}
	if err := m.store.SetLastVolume(cfg.Volume); err != nil {
		m.debugLog("Failed to persist volume: %v", err)
	}

	if err := m.player.PlayStream(cfg); err != nil {
		m.handleFailure("Failed to start playback: " + err.Error())
		return
	}
	// Still Connecting. The transition to Connected happens when the
	// watchdog reports actual audio.
	m.liveRequested = true
}

func describeFetchError(err error) string {
	var apiErr *types.ApiError
	if errors.As(err, &apiErr) && apiErr.FromBackend {
		return apiErr.Message
	}
	return "Failed to reach server"
}

// applyConfig records a fetched config and opportunistically caches the
// current track for failover.
func (m *Machine) applyConfig(cfg *types.StreamConfig) {
	m.lastConfig = cfg

	if cfg.Current != nil {
		track := cfg.Current
		go func() {
			if err := m.cache.DownloadTrack(context.Background(), track); err != nil {
				log.Printf("[CACHE] Failed to cache track %s: %v", track.UUID, err)
			}
		}()
	}
}

// schedulePoll arms the periodic config re-fetch that runs while Connected.
func (m *Machine) schedulePoll() {
	if m.pollTimer != nil {
		m.pollTimer.Stop()
	}
	m.pollTimer = time.AfterFunc(m.cfg.PollInterval, func() {
		m.post(m.pollConfig)
	})
}

func (m *Machine) pollConfig() {
	if m.state.Kind != types.SessionConnected {
		return
	}
	gen := m.generation

	go func() {
		cfg, err := m.fetchConfig(context.Background())
		m.post(func() { m.finishPoll(gen, cfg, err) })
	}()
}

func (m *Machine) finishPoll(gen int, cfg *types.StreamConfig, err error) {
	if gen != m.generation || m.state.Kind != types.SessionConnected {
		return
	}

	if err != nil {
		// A poll miss while audio still flows is not an outage.
		if m.player.State().Kind == types.PlaybackPlaying {
			m.debugLog("Config poll failed while playing, will retry: %v", err)
			m.schedulePoll()
			return
		}
		log.Printf("[SESSION] Config poll failed with playback down: %v", err)
		m.handleFailure(describeFetchError(err))
		return
	}

	previous := m.lastConfig
	m.applyConfig(cfg)

	switch {
	case previous == nil || !previous.SameStream(cfg):
		log.Printf("[SESSION] Stream URL changed, restarting playback")
		m.liveRequested = true
		if err := m.player.PlayStream(cfg); err != nil {
			m.handleFailure("Failed to restart playback: " + err.Error())
			return
		}
		if previous == nil || cfg.Volume != previous.Volume {
			if err := m.store.SetLastVolume(cfg.Volume); err != nil {
				m.debugLog("Failed to persist volume: %v", err)
			}
		}
	case cfg.Volume != previous.Volume:
		// Same URL: a restart would be deduplicated by the player, so the
		// volume has to be applied directly.
		log.Printf("[SESSION] Stream volume changed to %.2f", cfg.Volume)
		if err := m.player.SetVolume(cfg.Volume); err != nil {
			log.Printf("[SESSION] Set volume failed: %v", err)
		}
		if err := m.store.SetLastVolume(cfg.Volume); err != nil {
			m.debugLog("Failed to persist volume: %v", err)
		}
		m.setState(types.Connected(m.token, cfg, m.player.State()))
	default:
		// Metadata-only change; update in place without touching audio.
		m.setState(types.Connected(m.token, cfg, m.player.State()))
	}

	m.schedulePoll()
}

// handleFailure records a failure and schedules a retry. Failures that land
// while a retry is already pending only replace the displayed reason, so a
// burst of near-simultaneous errors collapses into a single attempt.
func (m *Machine) handleFailure(reason string) {
	now := time.Now()
	if m.retryTimer != nil && now.Sub(m.lastFailureAt) < m.cfg.RetryDebounce {
		m.debugLog("Coalescing failure into pending retry: %s", reason)
		m.setState(types.SessionFailed(reason, m.attempt))
		return
	}
	m.lastFailureAt = now

	if m.retryTimer != nil {
		m.retryTimer.Stop()
	}

	m.setState(types.SessionFailed(reason, m.attempt))

	delay := m.policy.NextDelay(m.attempt)
	log.Printf("[SESSION] Retrying in %v (attempt %d)", delay.Round(time.Millisecond), m.attempt)
	m.retryTimer = time.AfterFunc(delay, func() {
		m.post(m.fireRetry)
	})
}

func (m *Machine) fireRetry() {
	if m.retryTimer == nil {
		return
	}
	m.retryTimer = nil
	if m.token == "" {
		return
	}

	m.attempt++
	m.setState(types.Connecting(m.token, "", m.attempt))
	m.connectingSince = time.Now()
	m.startAttempt()
}

func (m *Machine) handlePlaybackState(pb types.PlaybackState) {
	switch pb.Kind {
	case types.PlaybackPlaying:
		m.handlePlaying(pb)
	case types.PlaybackFailed:
		m.handlePlaybackFailure(pb)
	case types.PlaybackPaused, types.PlaybackBuffering, types.PlaybackLoading:
		// Keep the embedded snapshot current for subscribers.
		switch m.state.Kind {
		case types.SessionConnected:
			m.setState(types.Connected(m.token, m.lastConfig, pb))
		case types.SessionFailover:
			m.setState(types.Failover(m.token, m.lastConfig, pb, m.state.CachedTrackPath, m.state.Attempt))
		}
	}
}

func (m *Machine) handlePlaying(pb types.PlaybackState) {
	switch m.state.Kind {
	case types.SessionConnecting, types.SessionError:
		if !m.liveRequested {
			return
		}
		log.Printf("[SESSION] Live audio confirmed")
		m.attempt = 1
		m.playbackFailures = 0
		m.setState(types.Connected(m.token, m.lastConfig, pb))
		m.schedulePoll()
	case types.SessionConnected:
		m.setState(types.Connected(m.token, m.lastConfig, pb))
	case types.SessionFailover:
		if m.liveRequested {
			// Back on the live stream after a failover interlude.
			log.Printf("[SESSION] Live stream restored")
			m.attempt = 1
			m.playbackFailures = 0
			m.liveConfirmed = false
			if m.probeTimer != nil {
				m.probeTimer.Stop()
				m.probeTimer = nil
			}
			m.setState(types.Connected(m.token, m.lastConfig, pb))
			m.schedulePoll()
			return
		}
		m.setState(types.Failover(m.token, m.lastConfig, pb, m.state.CachedTrackPath, m.state.Attempt))
	}
}

func (m *Machine) handlePlaybackFailure(pb types.PlaybackState) {
	if m.state.Kind == types.SessionDisconnected {
		return
	}

	if m.state.Kind == types.SessionFailover && !m.liveRequested {
		// The cached file itself failed; move on to another one.
		log.Printf("[SESSION] Cached track failed: %s", pb.Message)
		m.playNextCachedTrack(m.state.Attempt + 1)
		return
	}

	log.Printf("[SESSION] Playback failed: %s (retryable=%v)", pb.Message, pb.Retryable)
	m.playbackFailures++

	if !pb.Retryable || m.playbackFailures > m.cfg.FailoverRetryBudget {
		m.engageFailover(pb.Message)
		return
	}
	m.handleFailure(pb.Message)
}

func (m *Machine) handleNetworkState(ns types.NetworkState) {
	if !ns.Connected {
		m.debugLog("Network down")
		return
	}

	// Restored connectivity cuts through any pending backoff.
	switch m.state.Kind {
	case types.SessionError:
		log.Printf("[SESSION] Network restored, reconnecting immediately")
		m.reconnectNow()
	case types.SessionConnecting:
		if time.Since(m.connectingSince) > m.cfg.ConnectingRecover {
			log.Printf("[SESSION] Network restored during stuck attempt, restarting it")
			m.forceRecover()
		}
	case types.SessionDisconnected:
		if m.token != "" {
			log.Printf("[SESSION] Network available, connecting with stored token")
			m.reconnectNow()
		}
	}
}

func (m *Machine) reconnectNow() {
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
	m.attempt++
	m.setState(types.Connecting(m.token, "", m.attempt))
	m.connectingSince = time.Now()
	m.startAttempt()
}

// engageFailover switches to cached local playback. An empty cache leaves
// the session in Error with retries still running; it never gives up.
func (m *Machine) engageFailover(reason string) {
	if m.pollTimer != nil {
		m.pollTimer.Stop()
		m.pollTimer = nil
	}
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}

	path, err := m.cache.RandomTrack()
	if err != nil {
		if errors.Is(err, cache.ErrCacheEmpty) {
			m.debugLog("No cached tracks for failover")
		} else {
			log.Printf("[CACHE] Failed to pick failover track: %v", err)
		}
		m.handleFailure(reason)
		return
	}

	log.Printf("[SESSION] Entering failover with cached track %s", path)
	m.liveRequested = false
	m.liveConfirmed = false
	m.generation++

	if err := m.player.PlayLocalFile(path, m.lastConfig); err != nil {
		log.Printf("[SESSION] Failover playback failed to start: %v", err)
		m.handleFailure(reason)
		return
	}

	m.setState(types.Failover(m.token, m.lastConfig, types.PlaybackLoadingState(0), path, 1))
	m.scheduleLiveProbe()
}

// scheduleLiveProbe periodically checks whether the live stream is back
// while cached music plays. A confirmed probe does not interrupt the
// current track; the switch happens at the track boundary.
func (m *Machine) scheduleLiveProbe() {
	if m.probeTimer != nil {
		m.probeTimer.Stop()
	}
	m.probeTimer = time.AfterFunc(m.cfg.LiveProbeInterval, func() {
		m.post(m.probeLive)
	})
}

func (m *Machine) probeLive() {
	if m.state.Kind != types.SessionFailover {
		return
	}
	gen := m.generation

	go func() {
		cfg, err := m.fetchConfig(context.Background())
		m.post(func() {
			if gen != m.generation || m.state.Kind != types.SessionFailover {
				return
			}
			if err != nil {
				m.debugLog("Live probe failed: %v", err)
				m.scheduleLiveProbe()
				return
			}
			log.Printf("[SESSION] Live stream reachable again, switching at track boundary")
			m.lastConfig = cfg
			m.liveConfirmed = true
		})
	}()
}

// handleTrackFinished fires at local track boundaries. Live stream endings
// arrive as playback failures instead, so only local matters here.
func (m *Machine) handleTrackFinished(local bool) {
	if !local || m.state.Kind != types.SessionFailover {
		return
	}

	if m.liveConfirmed && m.lastConfig != nil {
		log.Printf("[SESSION] Track boundary reached, returning to live stream")
		m.liveRequested = true
		m.playbackFailures = 0
		if err := m.player.PlayStream(m.lastConfig); err != nil {
			m.liveRequested = false
			m.liveConfirmed = false
			m.playNextCachedTrack(m.state.Attempt + 1)
			m.scheduleLiveProbe()
		}
		return
	}

	m.playNextCachedTrack(m.state.Attempt + 1)
}

func (m *Machine) playNextCachedTrack(attempt int) {
	path, err := m.cache.RandomTrack()
	if err != nil {
		log.Printf("[SESSION] No cached track to continue failover: %v", err)
		m.handleFailure("Cache exhausted")
		return
	}

	m.liveRequested = false
	if err := m.player.PlayLocalFile(path, m.lastConfig); err != nil {
		m.handleFailure("Failed to play cached track: " + err.Error())
		return
	}
	m.setState(types.Failover(m.token, m.lastConfig, types.PlaybackLoadingState(0), path, attempt))
	if m.probeTimer == nil {
		m.scheduleLiveProbe()
	}
}
