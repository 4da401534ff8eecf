// Package gate reports device connectivity to the reconciler.
//
// A Gate exposes the current online/offline status and a stream of
// transitions. The reconciler consults the status before every remote
// attempt and subscribes to transitions to trigger drains when the device
// comes back online.
package gate

import "sync"

// Gate is the connectivity signal consumed by the reconciler.
type Gate interface {
	// Online reports the current connectivity status.
	Online() bool

	// Subscribe returns a channel receiving the new status on every
	// transition, and a cancel function that releases the subscription.
	// The channel is buffered; when a slow consumer falls behind, older
	// values are evicted so the latest status always gets through.
	Subscribe() (<-chan bool, func())
}

// broadcaster is the shared subscription bookkeeping for gate
// implementations.
type broadcaster struct {
	mu     sync.Mutex
	online bool
	subs   map[chan bool]struct{}
}

func newBroadcaster(online bool) *broadcaster {
	return &broadcaster{
		online: online,
		subs:   make(map[chan bool]struct{}),
	}
}

func (b *broadcaster) Online() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.online
}

func (b *broadcaster) Subscribe() (<-chan bool, func()) {
	ch := make(chan bool, 4)

	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, ch)
	}
	return ch, cancel
}

// set updates the status and notifies subscribers on transition.
func (b *broadcaster) set(online bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.online == online {
		return
	}
	b.online = online

	for ch := range b.subs {
		select {
		case ch <- online:
		default:
			// Slow consumer: evict the oldest queued value so the latest
			// state is always delivered. An offline-to-online edge must
			// never be lost to a full buffer.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- online:
			default:
			}
		}
	}
}

// Manual is a Gate toggled by hand. Useful for tests and for forcing
// offline operation.
type Manual struct {
	*broadcaster
}

// NewManual creates a Manual gate with the given initial status.
func NewManual(online bool) *Manual {
	return &Manual{broadcaster: newBroadcaster(online)}
}

// Set flips the status, notifying subscribers if it changed.
func (m *Manual) Set(online bool) {
	m.set(online)
}
