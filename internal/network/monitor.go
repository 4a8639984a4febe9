// Package network answers "do we have usable internet" and measures the
// round-trip time to the stream host.
package network

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/spotcast/spotcast/internal/config"
	"github.com/spotcast/spotcast/internal/events"
	"github.com/spotcast/spotcast/pkg/types"
)

type connectionProbe func(ctx context.Context) bool
type pingProbe func(ctx context.Context, hostPort string) (time.Duration, error)

type Monitor struct {
	interval     time.Duration
	probeHost    string
	probeTimeout time.Duration
	defaultPort  string
	debug        bool

	checkConnection connectionProbe
	ping            pingProbe

	mu         sync.Mutex
	state      types.NetworkState
	streamHost string
	running    bool
	stop       chan struct{}

	states *events.Stream[types.NetworkState]
	pings  *events.Stream[int]
}

func NewMonitor(cfg *config.Config) *Monitor {
	m := &Monitor{
		interval:     time.Duration(cfg.Network.CheckIntervalSeconds) * time.Second,
		probeHost:    cfg.Network.ProbeHost,
		probeTimeout: time.Duration(cfg.Network.ProbeTimeoutSeconds) * time.Second,
		defaultPort:  cfg.Network.DefaultStreamPort,
		debug:        cfg.Debug,
		state:        types.NetworkState{Connected: false, Type: types.NetworkUnknown},
		states:       events.NewStream[types.NetworkState](),
		pings:        events.NewStream[int](),
	}
	m.checkConnection = m.resolveProbe
	m.ping = dialPing
	return m
}

func (m *Monitor) debugLog(format string, args ...interface{}) {
	if m.debug {
		log.Printf("[NET] "+format, args...)
	}
}

// resolveProbe treats successful DNS resolution of a well-known host as
// proof of usable internet. Resolution errors and timeouts both mean no.
func (m *Monitor) resolveProbe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	defer cancel()

	_, err := net.DefaultResolver.LookupHost(ctx, m.probeHost)
	return err == nil
}

// dialPing measures the time to establish a TCP connection to the host. The
// connection is thrown away immediately; only the elapsed time matters.
func dialPing(ctx context.Context, hostPort string) (time.Duration, error) {
	start := time.Now()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", hostPort)
	if err != nil {
		return 0, fmt.Errorf("dial %s: %w", hostPort, err)
	}
	elapsed := time.Since(start)

	if closeErr := conn.Close(); closeErr != nil {
		return elapsed, nil
	}
	return elapsed, nil
}

func (m *Monitor) Start() {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.stop = make(chan struct{})
	stop := m.stop
	m.mu.Unlock()

	m.debugLog("Monitoring started (interval: %v)", m.interval)
	go m.run(stop)
}

func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}
	m.running = false
	close(m.stop)
	m.debugLog("Monitoring stopped")
}

func (m *Monitor) run(stop chan struct{}) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.check()

	for {
		select {
		case <-ticker.C:
			m.check()
		case <-stop:
			return
		}
	}
}

// CheckInternetConnection runs the reachability probe on demand and folds
// the result into the published state.
func (m *Monitor) CheckInternetConnection(ctx context.Context) bool {
	connected := m.checkConnection(ctx)
	m.update(connected, m.measurePing(ctx, connected))
	return connected
}

func (m *Monitor) check() {
	ctx, cancel := context.WithTimeout(context.Background(), m.probeTimeout+time.Second)
	defer cancel()

	connected := m.checkConnection(ctx)
	m.update(connected, m.measurePing(ctx, connected))
}

// measurePing returns nil when no measurement is available. A failed ping is
// not an error: absence of ping must never be conflated with lost
// connectivity.
func (m *Monitor) measurePing(ctx context.Context, connected bool) *int {
	m.mu.Lock()
	hostPort := m.streamHost
	m.mu.Unlock()

	if !connected || hostPort == "" {
		return nil
	}

	pingCtx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	defer cancel()

	elapsed, err := m.ping(pingCtx, hostPort)
	if err != nil {
		m.debugLog("Ping to %s failed: %v", hostPort, err)
		return nil
	}

	ms := int(elapsed.Milliseconds())
	m.pings.Publish(ms)
	return &ms
}

func (m *Monitor) update(connected bool, pingMs *int) {
	m.mu.Lock()

	next := types.NetworkState{
		Connected:         connected,
		Type:              m.state.Type,
		PingMs:            pingMs,
		LastDisconnection: m.state.LastDisconnection,
	}
	if next.Type == "" {
		next.Type = types.NetworkUnknown
	}
	if m.state.Connected && !connected {
		now := time.Now()
		next.LastDisconnection = &now
	}

	changed := !m.state.Equal(next)
	m.state = next
	m.mu.Unlock()

	if changed {
		m.debugLog("State changed - connected: %v, ping: %v", connected, pingMs)
		m.states.Publish(next)
	}
}

// SetStreamHost extracts the host from a stream URL; subsequent ping
// measurements target it on the stream's port.
func (m *Monitor) SetStreamHost(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse stream url: %w", err)
	}
	if parsed.Host == "" {
		return fmt.Errorf("stream url %q has no host", rawURL)
	}

	host := parsed.Hostname()
	port := parsed.Port()
	if port == "" {
		switch strings.ToLower(parsed.Scheme) {
		case "https":
			port = "443"
		default:
			port = m.defaultPort
		}
	}

	m.mu.Lock()
	m.streamHost = net.JoinHostPort(host, port)
	m.mu.Unlock()

	m.debugLog("Stream host set to %s", net.JoinHostPort(host, port))
	return nil
}

func (m *Monitor) State() types.NetworkState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Monitor) States() (<-chan types.NetworkState, func()) {
	return m.states.Subscribe()
}

func (m *Monitor) Pings() (<-chan int, func()) {
	return m.pings.Subscribe()
}

func (m *Monitor) Close() {
	m.Stop()
	m.states.Close()
	m.pings.Close()
}
