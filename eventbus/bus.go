// Package eventbus turns the wallet module's named events into an actual
// fan-out mechanism: in-process subscriber channels, plus an optional
// websocket transport for out-of-process subscribers.
package eventbus

import (
	"sync"

	"github.com/decred/projwallet/wallet"
)

// subscriberBuffer is the per-subscriber channel depth. A slow subscriber
// that falls this far behind has each new event dropped, while its buffer
// stays full, rather than blocking the publisher.
const subscriberBuffer = 64

// Bus fans wallet.Event out to every subscribed channel. It implements
// wallet.EventSink.
type Bus struct {
	mu          sync.Mutex
	subscribers map[int]chan wallet.Event
	nextID      int
}

// New returns an empty Bus.
func New() *Bus {
	return &Bus{subscribers: make(map[int]chan wallet.Event)}
}

// Subscribe registers a new subscriber and returns its channel along with
// an unsubscribe func. The channel is closed once Unsubscribe is called.
func (b *Bus) Subscribe() (<-chan wallet.Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan wallet.Event, subscriberBuffer)
	b.subscribers[id] = ch

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subscribers[id]; ok {
			delete(b.subscribers, id)
			close(c)
		}
	}
	return ch, unsubscribe
}

// Publish implements wallet.EventSink: it fans ev out to every current
// subscriber, dropping the event for any subscriber whose channel is full
// rather than blocking.
func (b *Bus) Publish(ev wallet.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.subscribers {
		select {
		case ch <- ev:
		default:
			log.Warnf("subscriber %d dropped event %s: buffer full", id, ev.Kind)
		}
	}
}

// Count returns the number of active subscribers, for metrics.
func (b *Bus) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}
