package gate

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// Probe dials the liveness endpoint once and reports whether it answered.
// Used by one-shot commands that don't hold a monitor.
func Probe(ctx context.Context, url string, timeout time.Duration) bool {
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return false
	}
	_ = conn.Close(websocket.StatusNormalClosure, "")
	return true
}

// MonitorConfig configures the websocket connectivity monitor.
type MonitorConfig struct {
	// URL of the backend's liveness websocket endpoint (ws:// or wss://).
	URL string

	// DialTimeout bounds each connection attempt. Default: 5s.
	DialTimeout time.Duration

	// RetryInterval is how long to wait after losing the connection
	// before dialing again. Default: 3s.
	RetryInterval time.Duration

	// Logger for monitor activity. Default: stderr.
	Logger *log.Logger
}

// Monitor derives connectivity from a held websocket connection to the
// backend: connected means online, anything else means offline. It owns its
// goroutine; use Start and Stop for lifecycle.
type Monitor struct {
	*broadcaster

	config MonitorConfig

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMonitor creates a Monitor. The device is considered offline until the
// first successful dial.
func NewMonitor(config MonitorConfig) (*Monitor, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("monitor URL cannot be empty")
	}
	if config.DialTimeout == 0 {
		config.DialTimeout = 5 * time.Second
	}
	if config.RetryInterval == 0 {
		config.RetryInterval = 3 * time.Second
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[gate] ", log.LstdFlags)
	}

	return &Monitor{
		broadcaster: newBroadcaster(false),
		config:      config,
	}, nil
}

// Start launches the connect loop. It returns immediately.
func (m *Monitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.run(ctx)
	}()
}

// Stop tears down the monitor and waits for its goroutine.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	m.set(false)
}

func (m *Monitor) run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		m.holdConnection(ctx)
		m.set(false)

		select {
		case <-ctx.Done():
			return
		case <-time.After(m.config.RetryInterval):
		}
	}
}

// holdConnection dials the liveness endpoint and blocks until the
// connection drops or ctx is cancelled.
func (m *Monitor) holdConnection(ctx context.Context) {
	dialCtx, cancel := context.WithTimeout(ctx, m.config.DialTimeout)
	conn, _, err := websocket.Dial(dialCtx, m.config.URL, nil)
	cancel()
	if err != nil {
		if ctx.Err() == nil {
			m.config.Logger.Printf("dial %s failed: %v", m.config.URL, err)
		}
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	m.config.Logger.Printf("connected to %s", m.config.URL)
	m.set(true)

	// The read loop only exists to observe disconnection; liveness frames
	// are discarded.
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			if ctx.Err() == nil {
				m.config.Logger.Printf("connection lost: %v", err)
			}
			return
		}
	}
}
