package types

import (
	"context"
	"time"
)

// Engine is the opaque audio decode/render primitive. Implementations own the
// actual audio pipeline; the rest of the system only ever talks to this
// surface. Open and Play take contexts because both can block on I/O.
type Engine interface {
	Open(ctx context.Context, source string) error
	Play(ctx context.Context) error
	Pause() error
	Resume() error
	Stop() error
	SetVolume(volume float64) error
	Position() time.Duration
	BufferedPosition() time.Duration
	IsPlaying() bool
	OnError(callback func(error))
	OnFinished(callback func())
	Close() error
}

// ConfigAPI fetches the stream configuration for a spot pin.
type ConfigAPI interface {
	GetSpot(ctx context.Context, pin string) (*StreamConfig, error)
}

// SettingsStore is the flat key-value persistence collaborator.
type SettingsStore interface {
	Token() (string, error)
	SetToken(token string) error
	ClearToken() error
	LastVolume() (float64, error)
	SetLastVolume(volume float64) error
	AutoStartEnabled() (bool, error)
	SetAutoStartEnabled(enabled bool) error
}

// TrackCache is the failover cache collaborator used by the session machine.
type TrackCache interface {
	DownloadTrack(ctx context.Context, track *CurrentTrack) error
	AvailableTracks() ([]string, error)
	RandomTrack() (string, error)
	Count() int
	Clear() error
}
