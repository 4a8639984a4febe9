// Package cache maintains the bounded, time-limited local library of
// music-only tracks used for failover playback.
package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spotcast/spotcast/internal/config"
	"github.com/spotcast/spotcast/internal/events"
	"github.com/spotcast/spotcast/pkg/types"
)

// ErrCacheEmpty means the failover path has nothing to play. Callers must
// treat this as a hard failure of failover, not something to retry against
// the cache.
var ErrCacheEmpty = errors.New("failover cache is empty")

type entry struct {
	path    string
	modTime time.Time
}

type Manager struct {
	dir        string
	maxTracks  int
	ttl        time.Duration
	httpClient *http.Client
	userAgent  string
	debug      bool

	inflightsMu sync.Mutex
	inflight    map[string]struct{}

	counts *events.Stream[int]
}

func NewManager(cfg *config.Config) (*Manager, error) {
	if err := os.MkdirAll(cfg.Storage.CacheDir, 0755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}

	m := &Manager{
		dir:       cfg.Storage.CacheDir,
		maxTracks: cfg.Cache.MaxTracks,
		ttl:       time.Duration(cfg.Cache.TTLHours) * time.Hour,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.Cache.DownloadTimeout) * time.Second,
		},
		userAgent: cfg.API.UserAgent,
		debug:     cfg.Debug,
		inflight:  make(map[string]struct{}),
		counts:    events.NewStream[int](),
	}

	if err := m.Evict(); err != nil {
		return nil, fmt.Errorf("initial eviction: %w", err)
	}

	m.debugLog("Cache manager initialized - dir: %s, max: %d, ttl: %v",
		m.dir, m.maxTracks, m.ttl)
	return m, nil
}

func (m *Manager) debugLog(format string, args ...interface{}) {
	if m.debug {
		log.Printf("[CACHE] "+format, args...)
	}
}

// DownloadTrack fetches a track into the cache. It is a no-op for non-music
// tracks, for UUIDs already being downloaded, for fresh copies already on
// disk, and when the cache is at capacity with no existing file to refresh -
// a download never pushes the collection over capacity.
func (m *Manager) DownloadTrack(ctx context.Context, track *types.CurrentTrack) error {
	if track == nil || track.UUID == "" || track.DownloadURL == "" {
		return nil
	}
	if !track.IsMusic {
		m.debugLog("Skipping non-music track: %s - %s", track.Artist, track.Title)
		return nil
	}

	destination := filepath.Join(m.dir, track.CacheFilename())

	m.inflightsMu.Lock()
	if _, busy := m.inflight[track.UUID]; busy {
		m.inflightsMu.Unlock()
		m.debugLog("Download already in progress: %s", track.UUID)
		return nil
	}

	if stat, err := os.Stat(destination); err == nil && stat.Size() > 0 {
		if time.Since(stat.ModTime()) < m.ttl {
			m.inflightsMu.Unlock()
			m.debugLog("Fresh copy already cached: %s", track.UUID)
			return nil
		}
	} else if m.countLocked() >= m.maxTracks {
		// New file and no room for it.
		m.inflightsMu.Unlock()
		m.debugLog("Cache at capacity (%d), skipping download: %s", m.maxTracks, track.UUID)
		return nil
	}

	m.inflight[track.UUID] = struct{}{}
	m.inflightsMu.Unlock()

	defer func() {
		m.inflightsMu.Lock()
		delete(m.inflight, track.UUID)
		m.inflightsMu.Unlock()
	}()

	if err := m.fetch(ctx, track.DownloadURL, destination); err != nil {
		return fmt.Errorf("download track %s: %w", track.UUID, err)
	}

	m.debugLog("Cached track: %s (%s - %s)", track.UUID, track.Artist, track.Title)
	m.publishCount()
	return nil
}

// fetch writes the payload atomically: to a temp file first, renamed into
// place only on full success, deleted on any partial failure.
func (m *Manager) fetch(ctx context.Context, url, destination string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", m.userAgent)
	req.Header.Set("Accept", "audio/mpeg, audio/*")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			m.debugLog("Failed to close response body: %v", closeErr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bad status: %s", resp.Status)
	}

	tempPath := destination + ".part"
	file, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	written, copyErr := io.Copy(file, resp.Body)
	closeErr := file.Close()

	if copyErr != nil || closeErr != nil || written == 0 {
		if removeErr := os.Remove(tempPath); removeErr != nil {
			m.debugLog("Failed to remove partial file: %v", removeErr)
		}
		if copyErr != nil {
			return fmt.Errorf("write payload: %w", copyErr)
		}
		if closeErr != nil {
			return fmt.Errorf("close temp file: %w", closeErr)
		}
		return fmt.Errorf("empty payload")
	}

	if err := os.Rename(tempPath, destination); err != nil {
		if removeErr := os.Remove(tempPath); removeErr != nil {
			m.debugLog("Failed to remove temp file: %v", removeErr)
		}
		return fmt.Errorf("move into cache: %w", err)
	}

	return nil
}

func (m *Manager) entries() ([]entry, error) {
	dirEntries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("read cache directory: %w", err)
	}

	var out []entry
	for _, de := range dirEntries {
		if de.IsDir() || strings.HasSuffix(de.Name(), ".part") {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		out = append(out, entry{
			path:    filepath.Join(m.dir, de.Name()),
			modTime: info.ModTime(),
		})
	}
	return out, nil
}

func (m *Manager) freshEntries() ([]entry, error) {
	all, err := m.entries()
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().Add(-m.ttl)
	fresh := all[:0]
	for _, e := range all {
		if e.modTime.After(cutoff) {
			fresh = append(fresh, e)
		}
	}
	return fresh, nil
}

// AvailableTracks lists cached files newest-first, excluding expired entries.
func (m *Manager) AvailableTracks() ([]string, error) {
	fresh, err := m.freshEntries()
	if err != nil {
		return nil, err
	}

	sort.Slice(fresh, func(i, j int) bool {
		return fresh[i].modTime.After(fresh[j].modTime)
	})

	paths := make([]string, len(fresh))
	for i, e := range fresh {
		paths[i] = e.path
	}
	return paths, nil
}

// RandomTrack picks uniformly among the currently available tracks.
func (m *Manager) RandomTrack() (string, error) {
	tracks, err := m.AvailableTracks()
	if err != nil {
		return "", err
	}
	if len(tracks) == 0 {
		return "", ErrCacheEmpty
	}
	return tracks[rand.Intn(len(tracks))], nil
}

func (m *Manager) Count() int {
	m.inflightsMu.Lock()
	defer m.inflightsMu.Unlock()
	return m.countLocked()
}

func (m *Manager) countLocked() int {
	fresh, err := m.freshEntries()
	if err != nil {
		return 0
	}
	return len(fresh)
}

// Evict deletes all entries older than the TTL, then deletes oldest-first
// until the count is at or under the cap.
func (m *Manager) Evict() error {
	all, err := m.entries()
	if err != nil {
		return err
	}

	cutoff := time.Now().Add(-m.ttl)
	var kept []entry
	removed := 0

	for _, e := range all {
		if e.modTime.Before(cutoff) || e.modTime.Equal(cutoff) {
			if err := os.Remove(e.path); err != nil {
				m.debugLog("Failed to remove expired entry %s: %v", e.path, err)
				kept = append(kept, e)
				continue
			}
			removed++
		} else {
			kept = append(kept, e)
		}
	}

	if len(kept) > m.maxTracks {
		sort.Slice(kept, func(i, j int) bool {
			return kept[i].modTime.Before(kept[j].modTime)
		})
		for _, e := range kept[:len(kept)-m.maxTracks] {
			if err := os.Remove(e.path); err != nil {
				m.debugLog("Failed to remove over-capacity entry %s: %v", e.path, err)
				continue
			}
			removed++
		}
	}

	if removed > 0 {
		m.debugLog("Evicted %d entries", removed)
		m.publishCount()
	}
	return nil
}

// Clear wipes the cache unconditionally. Manual reset only; never triggered
// automatically.
func (m *Manager) Clear() error {
	all, err := m.entries()
	if err != nil {
		return err
	}

	for _, e := range all {
		if err := os.Remove(e.path); err != nil {
			return fmt.Errorf("remove %s: %w", e.path, err)
		}
	}

	m.debugLog("Cache cleared (%d entries)", len(all))
	m.publishCount()
	return nil
}

func (m *Manager) publishCount() {
	m.counts.Publish(m.Count())
}

// Counts exposes the cached-track-count stream.
func (m *Manager) Counts() (<-chan int, func()) {
	return m.counts.Subscribe()
}

func (m *Manager) Close() {
	m.counts.Close()
}
