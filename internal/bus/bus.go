package bus

import (
	"strings"
	"sync"
)

// Bus is the in-process change bus: a single broadcast stream fanned out to
// any number of independent subscribers. Publishers call Publish after their
// write has committed, so subscribers observe events in commit order.
//
// Delivery is non-blocking: each subscriber has its own buffered channel and
// a slow subscriber drops events rather than stalling the publisher. Durable
// state lives in the store; a dropped event only costs the notification.
type Bus struct {
	mu   sync.RWMutex
	subs map[int]*subscription
	next int
}

type subscription struct {
	namespace string
	ch        chan Event
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{
		subs: make(map[int]*subscription),
	}
}

// Publish delivers evt to every subscriber whose namespace is a prefix of
// evt.Kind. Subscribers with a full buffer are skipped.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if strings.HasPrefix(evt.Kind, sub.namespace) {
			select {
			case sub.ch <- evt:
			default:
			}
		}
	}
}

// Subscribe registers a subscriber for all events whose Kind starts with
// namespace. bufSize controls the subscriber's channel buffer. The returned
// cancel func removes the subscription; it is safe to call more than once.
func (b *Bus) Subscribe(namespace string, bufSize int) (<-chan Event, func()) {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = &subscription{namespace: namespace, ch: ch}
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}
