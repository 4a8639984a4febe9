package types

import (
	"fmt"
	"time"
)

// StreamConfig is an immutable snapshot of the stream configuration returned
// by the spot API. It is replaced wholesale on every poll, never mutated.
type StreamConfig struct {
	StreamURL   string        `json:"stream_url"`
	Volume      float64       `json:"volume"`
	Title       *string       `json:"title"`
	Description *string       `json:"description"`
	Current     *CurrentTrack `json:"current"`
}

// SameStream reports whether two configurations describe the same playback
// target. Only the URL participates; volume is applied live and metadata
// changes never force a restart.
func (c *StreamConfig) SameStream(other *StreamConfig) bool {
	if c == nil || other == nil {
		return c == other
	}
	return c.StreamURL == other.StreamURL
}

type CurrentTrack struct {
	Artist          string `json:"artist"`
	Title           string `json:"title"`
	UUID            string `json:"uuid"`
	DurationSeconds int    `json:"duration"`
	IsMusic         bool   `json:"is_music"`
	DownloadURL     string `json:"download_url"`
}

// CacheFilename derives the failover cache file name for the track. The name
// depends only on the UUID so re-downloads land on the same file.
func (t *CurrentTrack) CacheFilename() string {
	return t.UUID + ".mp3"
}

type SessionKind int

const (
	SessionDisconnected SessionKind = iota
	SessionConnecting
	SessionConnected
	SessionFailover
	SessionError
)

func (k SessionKind) String() string {
	switch k {
	case SessionDisconnected:
		return "Disconnected"
	case SessionConnecting:
		return "Connecting"
	case SessionConnected:
		return "Connected"
	case SessionFailover:
		return "Failover"
	case SessionError:
		return "Error"
	default:
		return "Unknown"
	}
}

// SessionState is a tagged union; Kind selects which payload fields are
// meaningful. Only the session machine constructs values of this type.
type SessionState struct {
	Kind SessionKind

	Message string // Disconnected, Error
	Attempt int    // Connecting, Failover, Error

	Token    string        // Connecting, Connected, Failover
	Config   *StreamConfig // Connected; last known config in Failover
	Playback PlaybackState // Connected, Failover

	CachedTrackPath string // Failover

	CanRetry bool // Error
}

func Disconnected(message string) SessionState {
	return SessionState{Kind: SessionDisconnected, Message: message}
}

func Connecting(token, message string, attempt int) SessionState {
	return SessionState{Kind: SessionConnecting, Token: token, Message: message, Attempt: attempt}
}

func Connected(token string, config *StreamConfig, playback PlaybackState) SessionState {
	return SessionState{Kind: SessionConnected, Token: token, Config: config, Playback: playback}
}

func Failover(token string, lastKnown *StreamConfig, playback PlaybackState, trackPath string, attempt int) SessionState {
	return SessionState{
		Kind:            SessionFailover,
		Token:           token,
		Config:          lastKnown,
		Playback:        playback,
		CachedTrackPath: trackPath,
		Attempt:         attempt,
	}
}

func SessionFailed(message string, attempt int) SessionState {
	return SessionState{Kind: SessionError, Message: message, Attempt: attempt, CanRetry: true}
}

// Status returns the short human-readable line shown for the state.
func (s SessionState) Status() string {
	switch s.Kind {
	case SessionDisconnected:
		if s.Message != "" {
			return s.Message
		}
		return "Not connected"
	case SessionConnecting:
		if s.Attempt > 1 {
			return fmt.Sprintf("Connecting (attempt %d)...", s.Attempt)
		}
		return "Connecting..."
	case SessionConnected:
		return "Live"
	case SessionFailover:
		return "Offline - playing cached music"
	case SessionError:
		if s.Message != "" {
			return s.Message
		}
		return "Connection error"
	default:
		return "Unknown"
	}
}

type PlaybackKind int

const (
	PlaybackIdle PlaybackKind = iota
	PlaybackLoading
	PlaybackBuffering
	PlaybackPlaying
	PlaybackPaused
	PlaybackFailed
)

func (k PlaybackKind) String() string {
	switch k {
	case PlaybackIdle:
		return "Idle"
	case PlaybackLoading:
		return "Loading"
	case PlaybackBuffering:
		return "Buffering"
	case PlaybackPlaying:
		return "Playing"
	case PlaybackPaused:
		return "Paused"
	case PlaybackFailed:
		return "Error"
	default:
		return "Unknown"
	}
}

// BufferQuality grades the buffer depth on fixed thresholds.
type BufferQuality int

const (
	QualityPoor BufferQuality = iota
	QualityFair
	QualityGood
	QualityExcellent
)

func (q BufferQuality) String() string {
	switch q {
	case QualityPoor:
		return "poor"
	case QualityFair:
		return "fair"
	case QualityGood:
		return "good"
	default:
		return "excellent"
	}
}

func QualityFor(depth time.Duration) BufferQuality {
	switch {
	case depth <= 2*time.Second:
		return QualityPoor
	case depth <= 5*time.Second:
		return QualityFair
	case depth <= 10*time.Second:
		return QualityGood
	default:
		return QualityExcellent
	}
}

// PlaybackState is a tagged union describing the health-annotated playback
// status derived from the raw engine signals.
type PlaybackState struct {
	Kind PlaybackKind

	Elapsed     time.Duration // Loading, Buffering: time spent in the state
	BufferDepth time.Duration // Buffering, Playing, Paused
	Position    time.Duration // Playing, Paused
	Quality     BufferQuality // Playing

	Message   string // Failed
	Retryable bool   // Failed
}

func PlaybackIdleState() PlaybackState {
	return PlaybackState{Kind: PlaybackIdle}
}

func PlaybackLoadingState(elapsed time.Duration) PlaybackState {
	return PlaybackState{Kind: PlaybackLoading, Elapsed: elapsed}
}

func PlaybackBufferingState(depth, elapsed time.Duration) PlaybackState {
	return PlaybackState{Kind: PlaybackBuffering, BufferDepth: depth, Elapsed: elapsed}
}

func PlaybackPlayingState(position, depth time.Duration) PlaybackState {
	return PlaybackState{Kind: PlaybackPlaying, Position: position, BufferDepth: depth, Quality: QualityFor(depth)}
}

func PlaybackPausedState(position, depth time.Duration) PlaybackState {
	return PlaybackState{Kind: PlaybackPaused, Position: position, BufferDepth: depth}
}

func PlaybackFailedState(message string, retryable bool) PlaybackState {
	return PlaybackState{Kind: PlaybackFailed, Message: message, Retryable: retryable}
}

type NetworkType string

const (
	NetworkWifi     NetworkType = "wifi"
	NetworkMobile   NetworkType = "mobile"
	NetworkEthernet NetworkType = "ethernet"
	NetworkUnknown  NetworkType = "unknown"
)

// NetworkState is written only by the network monitor and read by everyone
// else. PingMs is nil when no measurement is available; absent ping must not
// be read as lost connectivity.
type NetworkState struct {
	Connected         bool
	Type              NetworkType
	PingMs            *int
	LastDisconnection *time.Time
}

func (n NetworkState) Equal(other NetworkState) bool {
	if n.Connected != other.Connected || n.Type != other.Type {
		return false
	}
	if (n.PingMs == nil) != (other.PingMs == nil) {
		return false
	}
	if n.PingMs != nil && *n.PingMs != *other.PingMs {
		return false
	}
	return true
}
