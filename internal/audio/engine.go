// Package audio is the production playback engine: an mp3 pipeline over the
// beep speaker. The rest of the system only sees the types.Engine surface.
package audio

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/effects"
	"github.com/gopxl/beep/mp3"
	"github.com/gopxl/beep/speaker"

	"github.com/spotcast/spotcast/internal/config"
)

var (
	speakerInitialized = false
	speakerMutex       sync.Mutex
)

type Engine struct {
	mu sync.Mutex

	sampleRate beep.SampleRate
	httpClient *http.Client
	userAgent  string
	debug      bool

	reader   io.ReadCloser
	streamer beep.StreamSeekCloser
	format   beep.Format
	ctrl     *beep.Ctrl
	volume   *effects.Volume
	local    bool
	playing  bool
	paused   bool

	lastVolume float64

	errCb func(error)
	finCb func()
}

func NewEngine(cfg *config.Config) (*Engine, error) {
	e := &Engine{
		sampleRate: beep.SampleRate(cfg.Audio.SampleRate),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		userAgent:  cfg.API.UserAgent,
		debug:      cfg.Debug,
		lastVolume: cfg.Audio.DefaultVolume,
	}

	if err := e.initializeSpeaker(); err != nil {
		return nil, fmt.Errorf("initialize speaker: %w", err)
	}

	e.debugLog("Engine initialized with sample rate %d", e.sampleRate)
	return e, nil
}

func (e *Engine) debugLog(format string, args ...interface{}) {
	if e.debug {
		log.Printf("[AUDIO] "+format, args...)
	}
}

func (e *Engine) initializeSpeaker() error {
	speakerMutex.Lock()
	defer speakerMutex.Unlock()

	if speakerInitialized {
		e.debugLog("Speaker already initialized")
		return nil
	}

	bufferSize := e.sampleRate.N(time.Second / 5)
	if err := speaker.Init(e.sampleRate, bufferSize); err != nil {
		return fmt.Errorf("speaker initialization failed: %w", err)
	}

	speakerInitialized = true
	return nil
}

// Open prepares a source for playback. A path that exists on disk is opened
// as a local file; anything else is fetched over HTTP. Decoding the stream
// header happens here, so a dead source fails Open rather than Play.
func (e *Engine) Open(ctx context.Context, source string) error {
	e.mu.Lock()
	e.stopInternal()
	e.mu.Unlock()

	var reader io.ReadCloser
	var local bool

	if _, statErr := os.Stat(source); statErr == nil {
		file, err := os.Open(source)
		if err != nil {
			return fmt.Errorf("open local file: %w", err)
		}
		reader = file
		local = true
		e.debugLog("Opened local file: %s", source)
	} else {
		body, err := e.openHTTP(ctx, source)
		if err != nil {
			return err
		}
		reader = body
		e.debugLog("Opened HTTP stream: %s", source)
	}

	streamer, format, err := mp3.Decode(reader)
	if err != nil {
		if closeErr := reader.Close(); closeErr != nil {
			e.debugLog("Failed to close reader after decode error: %v", closeErr)
		}
		return fmt.Errorf("decode mp3: %w", err)
	}

	e.mu.Lock()
	e.reader = reader
	e.streamer = streamer
	e.format = format
	e.local = local
	e.playing = false
	e.paused = false
	e.mu.Unlock()

	return nil
}

func (e *Engine) openHTTP(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", e.userAgent)
	req.Header.Set("Accept", "audio/mpeg, audio/*")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if closeErr := resp.Body.Close(); closeErr != nil {
			e.debugLog("Failed to close error response: %v", closeErr)
		}
		return nil, fmt.Errorf("bad status: %s", resp.Status)
	}

	return resp.Body, nil
}

// Play wires the decoded streamer into the speaker. The completion callback
// fires only when the streamer drains on its own; speaker.Clear does not
// trigger it, so explicit stops stay silent.
func (e *Engine) Play(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.streamer == nil {
		return fmt.Errorf("no source opened")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	resampled := beep.Resample(4, e.format.SampleRate, e.sampleRate, e.streamer)
	e.ctrl = &beep.Ctrl{Streamer: resampled, Paused: false}
	e.volume = &effects.Volume{
		Streamer: e.ctrl,
		Base:     2,
		Volume:   (e.lastVolume - 1) * 5,
		Silent:   e.lastVolume == 0,
	}

	streamer := e.streamer
	sequence := beep.Seq(e.volume, beep.Callback(func() {
		go e.handleDrained(streamer)
	}))

	speaker.Clear()
	speaker.Play(sequence)
	e.playing = true
	e.paused = false

	e.debugLog("Playback started (local: %v)", e.local)
	return nil
}

// handleDrained distinguishes a natural end of stream from a mid-stream read
// failure: beep surfaces both by draining the streamer.
func (e *Engine) handleDrained(streamer beep.StreamSeekCloser) {
	e.mu.Lock()
	if e.streamer != streamer {
		e.mu.Unlock()
		return // stale callback from a replaced source
	}
	e.playing = false
	e.paused = false
	streamErr := streamer.Err()
	errCb := e.errCb
	finCb := e.finCb
	e.mu.Unlock()

	if streamErr != nil {
		e.debugLog("Stream drained with error: %v", streamErr)
		if errCb != nil {
			errCb(streamErr)
		}
		return
	}

	e.debugLog("Stream finished")
	if finCb != nil {
		finCb()
	}
}

func (e *Engine) stopInternal() {
	if e.playing || e.paused {
		speaker.Clear()
	}

	if e.streamer != nil {
		if closeErr := e.streamer.Close(); closeErr != nil {
			e.debugLog("Error closing streamer: %v", closeErr)
		}
		e.streamer = nil
	}
	if e.reader != nil {
		if closeErr := e.reader.Close(); closeErr != nil {
			e.debugLog("Error closing reader: %v", closeErr)
		}
		e.reader = nil
	}

	e.ctrl = nil
	e.volume = nil
	e.playing = false
	e.paused = false
}

func (e *Engine) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ctrl != nil && e.playing && !e.paused {
		speaker.Lock()
		e.ctrl.Paused = true
		speaker.Unlock()
		e.paused = true
	}
	return nil
}

func (e *Engine) Resume() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ctrl != nil && e.playing && e.paused {
		speaker.Lock()
		e.ctrl.Paused = false
		speaker.Unlock()
		e.paused = false
	}
	return nil
}

func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.stopInternal()
	return nil
}

func (e *Engine) SetVolume(volume float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.lastVolume = volume
	if e.volume != nil {
		speaker.Lock()
		e.volume.Volume = (volume - 1) * 5
		e.volume.Silent = volume == 0
		speaker.Unlock()
	}
	return nil
}

func (e *Engine) Position() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.streamer == nil {
		return 0
	}
	return e.format.SampleRate.D(e.streamer.Position())
}

// BufferedPosition reports how far ahead of the play position decoded data
// is known to extend. Local files are fully available, so the whole length
// counts; for HTTP streams nothing beyond the current position is guaranteed
// and the caller's live heuristic takes over.
func (e *Engine) BufferedPosition() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.streamer == nil {
		return 0
	}
	if e.local {
		return e.format.SampleRate.D(e.streamer.Len())
	}
	return e.format.SampleRate.D(e.streamer.Position())
}

func (e *Engine) IsPlaying() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.playing && !e.paused && e.ctrl != nil
}

func (e *Engine) OnError(callback func(error)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.errCb = callback
}

func (e *Engine) OnFinished(callback func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.finCb = callback
}

func (e *Engine) Close() error {
	e.debugLog("Closing engine")
	return e.Stop()
}
