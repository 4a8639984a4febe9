package network

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/spotcast/spotcast/internal/config"
)

func testMonitor() *Monitor {
	cfg := &config.Config{}
	cfg.Network.CheckIntervalSeconds = 1
	cfg.Network.ProbeHost = "example.invalid"
	cfg.Network.ProbeTimeoutSeconds = 1
	cfg.Network.DefaultStreamPort = "80"
	return NewMonitor(cfg)
}

func TestSetStreamHost(t *testing.T) {
	cases := []struct {
		name    string
		url     string
		want    string
		wantErr bool
	}{
		{"PlainHTTP", "http://stream.example.com/live", "stream.example.com:80", false},
		{"ExplicitPort", "http://stream.example.com:8000/live.mp3", "stream.example.com:8000", false},
		{"HTTPSDefaultsTo443", "https://stream.example.com/live", "stream.example.com:443", false},
		{"NoHost", "not-a-url", "", true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := testMonitor()
			err := m.SetStreamHost(tc.url)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tc.url)
				}
				return
			}
			if err != nil {
				t.Fatalf("SetStreamHost(%q) failed: %v", tc.url, err)
			}
			m.mu.Lock()
			got := m.streamHost
			m.mu.Unlock()
			if got != tc.want {
				t.Errorf("expected host %q, got %q", tc.want, got)
			}
		})
	}
}

func TestPublishesOnlyOnChange(t *testing.T) {
	m := testMonitor()
	connected := true
	m.checkConnection = func(ctx context.Context) bool { return connected }

	states, cancel := m.States()
	defer cancel()

	m.check()
	select {
	case s := <-states:
		if !s.Connected {
			t.Error("expected connected state")
		}
	case <-time.After(time.Second):
		t.Fatal("no state published on first change")
	}

	// Same result again: nothing new may be published.
	m.check()
	select {
	case s := <-states:
		t.Fatalf("duplicate state published: %+v", s)
	case <-time.After(100 * time.Millisecond):
	}

	connected = false
	m.check()
	select {
	case s := <-states:
		if s.Connected {
			t.Error("expected disconnected state")
		}
		if s.LastDisconnection == nil {
			t.Error("expected LastDisconnection to be recorded")
		}
	case <-time.After(time.Second):
		t.Fatal("no state published on disconnect")
	}
}

func TestPingFailureIsNotDisconnection(t *testing.T) {
	m := testMonitor()
	m.checkConnection = func(ctx context.Context) bool { return true }
	m.ping = func(ctx context.Context, hostPort string) (time.Duration, error) {
		return 0, fmt.Errorf("connection refused")
	}
	if err := m.SetStreamHost("http://stream.example.com/live"); err != nil {
		t.Fatalf("SetStreamHost: %v", err)
	}

	m.check()

	state := m.State()
	if !state.Connected {
		t.Error("ping failure must not mark the network disconnected")
	}
	if state.PingMs != nil {
		t.Errorf("expected no ping value, got %d", *state.PingMs)
	}
}

func TestPingPublishedOnStream(t *testing.T) {
	m := testMonitor()
	m.checkConnection = func(ctx context.Context) bool { return true }
	m.ping = func(ctx context.Context, hostPort string) (time.Duration, error) {
		return 42 * time.Millisecond, nil
	}
	if err := m.SetStreamHost("http://stream.example.com/live"); err != nil {
		t.Fatalf("SetStreamHost: %v", err)
	}

	pings, cancel := m.Pings()
	defer cancel()

	m.check()

	select {
	case ms := <-pings:
		if ms != 42 {
			t.Errorf("expected 42ms ping, got %d", ms)
		}
	case <-time.After(time.Second):
		t.Fatal("no ping published")
	}

	state := m.State()
	if state.PingMs == nil || *state.PingMs != 42 {
		t.Errorf("expected state ping 42, got %v", state.PingMs)
	}
}

func TestStartStopIdempotent(t *testing.T) {
	m := testMonitor()
	m.checkConnection = func(ctx context.Context) bool { return false }

	m.Start()
	m.Start()
	m.Stop()
	m.Stop()
}
