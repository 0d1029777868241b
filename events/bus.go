package events

import (
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// DefaultBufferSize is the channel capacity used when NewBus gets zero.
const DefaultBufferSize = 64

// Publisher is the narrow interface services depend on.
type Publisher interface {
	Publish(ev Event)
}

// Bus fans events out to subscribers.
type Bus struct {
	subscribers map[*Subscription]struct{}
	bufferSize  int
	mu          sync.RWMutex
	closed      bool
}

// Subscription is one consumer of a Bus.
type Subscription struct {
	bus     *Bus
	ch      chan Event
	dropped atomic.Uint64
	once    sync.Once
}

// NewBus creates a bus whose subscriptions buffer up to bufferSize events.
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Bus{
		subscribers: make(map[*Subscription]struct{}),
		bufferSize:  bufferSize,
	}
}

// Subscribe registers a new consumer. The returned subscription must be
// closed when no longer needed.
func (b *Bus) Subscribe() *Subscription {
	sub := &Subscription{
		bus: b,
		ch:  make(chan Event, b.bufferSize),
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		sub.once.Do(func() { close(sub.ch) })
		return sub
	}
	b.subscribers[sub] = struct{}{}

	logrus.WithFields(logrus.Fields{
		"function":    "Subscribe",
		"subscribers": len(b.subscribers),
	}).Debug("Event subscriber added")

	return sub
}

// Publish delivers ev to every subscriber without blocking. Subscribers whose
// buffer is full miss the event. Publish holds the read lock for the whole
// fan-out so that a publisher's events stay ordered for each subscriber.
func (b *Bus) Publish(ev Event) {
	if b == nil {
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for sub := range b.subscribers {
		select {
		case sub.ch <- ev:
		default:
			dropped := sub.dropped.Add(1)
			logrus.WithFields(logrus.Fields{
				"function": "Publish",
				"kind":     ev.Kind(),
				"dropped":  dropped,
			}).Warn("Event subscriber is full, dropping event")
		}
	}
}

// Subscribers returns the number of active subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close closes every subscription channel. Later publishes are ignored.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subscribers {
		sub.once.Do(func() { close(sub.ch) })
		delete(b.subscribers, sub)
	}
}

// C returns the channel events are delivered on. It is closed when the
// subscription or the bus is closed.
func (s *Subscription) C() <-chan Event {
	return s.ch
}

// Dropped returns how many events this subscription missed.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Close unsubscribes and closes the channel.
func (s *Subscription) Close() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()

	delete(s.bus.subscribers, s)
	s.once.Do(func() { close(s.ch) })
}
