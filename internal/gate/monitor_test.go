package gate

import (
	"context"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
)

// startLivenessServer runs a websocket endpoint that accepts connections
// and holds them open until the client or the server goes away.
func startLivenessServer(t *testing.T) (*httptest.Server, string) {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		for {
			if _, _, err := conn.Read(r.Context()); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	return srv, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestProbe(t *testing.T) {
	_, url := startLivenessServer(t)

	if !Probe(context.Background(), url, time.Second) {
		t.Error("Probe() = false against a live endpoint")
	}
	if Probe(context.Background(), "ws://127.0.0.1:1/ws", 200*time.Millisecond) {
		t.Error("Probe() = true against a dead endpoint")
	}
}

func TestMonitor_RequiresURL(t *testing.T) {
	if _, err := NewMonitor(MonitorConfig{}); err == nil {
		t.Error("NewMonitor() with no URL should fail")
	}
}

func TestMonitor_TracksConnection(t *testing.T) {
	srv, url := startLivenessServer(t)

	m, err := NewMonitor(MonitorConfig{
		URL:           url,
		RetryInterval: 50 * time.Millisecond,
		Logger:        log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("NewMonitor() failed: %v", err)
	}

	if m.Online() {
		t.Error("monitor should start offline")
	}

	transitions, cancel := m.Subscribe()
	defer cancel()

	m.Start(context.Background())
	defer m.Stop()

	waitFor := func(want bool, what string) {
		t.Helper()
		deadline := time.After(5 * time.Second)
		for {
			select {
			case got := <-transitions:
				if got == want {
					return
				}
			case <-deadline:
				t.Fatalf("timed out waiting for %s", what)
			}
		}
	}

	waitFor(true, "online after connect")
	if !m.Online() {
		t.Error("Online() = false while connected")
	}

	// Kill the server; the monitor must notice the drop.
	srv.CloseClientConnections()
	srv.Close()
	waitFor(false, "offline after disconnect")
}
