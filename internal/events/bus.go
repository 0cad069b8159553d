package events

import (
	"log"
	"sync"
)

// Bus is the in-process pub/sub channel between the orchestrator and its
// consumers. Delivery is non-blocking: a subscriber that cannot keep up has
// events dropped rather than stalling a download worker.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string][]chan Event // event kind -> channels
	allSubs     []chan Event
	closed      bool
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[string][]chan Event),
	}
}

// Publish sends an event to all subscribers of its kind. The read lock is
// held across the sends so a concurrent Close cannot close a channel
// mid-send; sends never block, so holding it is cheap.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	for _, ch := range b.subscribers[e.Kind] {
		select {
		case ch <- e:
		default:
			log.Printf("event subscriber full, dropping %s for request %s", e.Kind, e.RequestID)
		}
	}
	for _, ch := range b.allSubs {
		select {
		case ch <- e:
		default:
			log.Printf("event subscriber full, dropping %s for request %s", e.Kind, e.RequestID)
		}
	}
}

// Subscribe returns a channel receiving events of one kind.
func (b *Bus) Subscribe(kind string, bufferSize int) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, bufferSize)
	b.subscribers[kind] = append(b.subscribers[kind], ch)
	return ch
}

// SubscribeAll returns a channel receiving every event.
func (b *Bus) SubscribeAll(bufferSize int) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, bufferSize)
	b.allSubs = append(b.allSubs, ch)
	return ch
}

// Close shuts down the bus and closes all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for _, subs := range b.subscribers {
		for _, ch := range subs {
			close(ch)
		}
	}
	b.subscribers = nil
	for _, ch := range b.allSubs {
		close(ch)
	}
	b.allSubs = nil
}
