package bus

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Bus fans domain events out to subscribers by kind prefix. Delivery never
// blocks the publisher: a subscriber whose buffer is full misses the event
// and the miss is counted. A nil *Bus discards everything.
type Bus struct {
	mu      sync.RWMutex
	subs    map[uint64]*subscriber
	nextID  uint64
	dropped atomic.Uint64
}

type subscriber struct {
	prefix  string
	ch      chan Event
	dropped atomic.Uint64
}

func New() *Bus {
	return &Bus{subs: make(map[uint64]*subscriber)}
}

// Publish delivers evt to every subscriber whose prefix matches evt.Kind.
// A zero Timestamp is set to now.
func (b *Bus) Publish(evt Event) {
	if b == nil {
		return
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if !strings.HasPrefix(evt.Kind, s.prefix) {
			continue
		}
		select {
		case s.ch <- evt:
		default:
			s.dropped.Add(1)
			b.dropped.Add(1)
		}
	}
}

// Emit publishes kind with payload, stamped now.
func (b *Bus) Emit(kind string, payload any) {
	b.Publish(Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}

// Subscribe registers for every kind starting with prefix ("" for all).
// The returned func unsubscribes; it is safe to call more than once.
func (b *Bus) Subscribe(prefix string, buffer int) (<-chan Event, func()) {
	s := &subscriber{prefix: prefix, ch: make(chan Event, buffer)}
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = s
	b.mu.Unlock()

	return s.ch, func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// Stats is a snapshot of bus health.
type Stats struct {
	Subscribers int
	Dropped     uint64
}

func (b *Bus) Stats() Stats {
	if b == nil {
		return Stats{}
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return Stats{Subscribers: len(b.subs), Dropped: b.dropped.Load()}
}
