// Package events fans coordinator state changes out to dashboard observers.
package events

import (
	"sync"

	"github.com/nemanja-m/scrapegrid/internal/coordinator/core"
	"github.com/nemanja-m/scrapegrid/internal/shared/logging"
	"github.com/nemanja-m/scrapegrid/internal/shared/metrics"
)

const DefaultBufferSize = 64

// Subscription is one observer's view of the bus. C is closed when the
// observer unsubscribes, is dropped for falling behind, or the bus closes.
type Subscription struct {
	C <-chan Message

	bus *Bus
	ch  chan Message
}

// Close unsubscribes. It is safe to call more than once.
func (s *Subscription) Close() {
	s.bus.remove(s)
}

// Bus delivers each published event to every current observer without
// blocking the publisher. An observer whose buffer is full is dropped.
type Bus struct {
	mu         sync.Mutex
	subs       map[*Subscription]struct{}
	bufferSize int
	closed     bool
	logger     logging.Logger
}

func NewBus(bufferSize int, logger logging.Logger) *Bus {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Bus{
		subs:       make(map[*Subscription]struct{}),
		bufferSize: bufferSize,
		logger:     logger,
	}
}

func (b *Bus) Subscribe() *Subscription {
	ch := make(chan Message, b.bufferSize)
	sub := &Subscription{C: ch, bus: b, ch: ch}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return sub
	}
	b.subs[sub] = struct{}{}
	metrics.Observers.Inc()
	return sub
}

// Publish serializes event once and offers it to every observer.
func (b *Bus) Publish(event core.Event) {
	msg, err := Encode(event)
	if err != nil {
		b.logger.Error("Failed to encode event", "type", event.Type(), "error", err)
		return
	}
	metrics.EventsPublished.WithLabelValues(string(msg.Type)).Inc()

	// Sends happen under the lock so per-observer order matches publish
	// order and no send races a close.
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs {
		select {
		case sub.ch <- msg:
		default:
			b.dropLocked(sub)
			metrics.ObserversDropped.Inc()
			b.logger.Warn("Dropping slow event observer", "type", msg.Type)
		}
	}
}

// Observers returns the number of connected observers.
func (b *Bus) Observers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close disconnects all observers.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for sub := range b.subs {
		b.dropLocked(sub)
	}
}

func (b *Bus) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dropLocked(sub)
}

func (b *Bus) dropLocked(sub *Subscription) {
	if _, ok := b.subs[sub]; !ok {
		return
	}
	delete(b.subs, sub)
	close(sub.ch)
	metrics.Observers.Dec()
}
