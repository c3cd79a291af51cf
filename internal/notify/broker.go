// Package notify distributes write events to in-process subscribers and
// bridges them to WebSocket clients. Publishing never blocks: a slow
// subscriber drops its oldest buffered event instead of stalling the
// append path.
package notify

import (
	"sync"
	"sync/atomic"

	"github.com/aispark/pdmcore/internal/logging"
	"github.com/aispark/pdmcore/internal/storage/types"
)

// DefaultSubscriberBuffer is the per-subscriber channel capacity.
const DefaultSubscriberBuffer = 256

// Subscription is one registered event consumer.
type Subscription struct {
	broker *Broker
	id     int64

	// machineID filters events; empty receives everything.
	machineID string

	events chan types.WriteEvent
	once   sync.Once
}

// Events returns the subscriber's event channel.
func (s *Subscription) Events() <-chan types.WriteEvent {
	return s.events
}

// Close unregisters the subscription and closes its channel.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.broker.unsubscribe(s.id)
		close(s.events)
	})
}

// Broker fans write events out to subscribers.
type Broker struct {
	mu     sync.RWMutex
	subs   map[int64]*Subscription
	nextID int64
	closed bool

	published atomic.Int64
	dropped   atomic.Int64
}

// NewBroker creates an event broker.
func NewBroker() *Broker {
	return &Broker{
		subs: make(map[int64]*Subscription),
	}
}

// Subscribe registers a consumer. machineID filters to one machine;
// empty subscribes to all machines. bufferSize <= 0 uses the default.
func (b *Broker) Subscribe(machineID string, bufferSize int) *Subscription {
	if bufferSize <= 0 {
		bufferSize = DefaultSubscriberBuffer
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{
		broker:    b,
		id:        b.nextID,
		machineID: machineID,
		events:    make(chan types.WriteEvent, bufferSize),
	}

	if b.closed {
		close(sub.events)
		sub.once.Do(func() {})
		return sub
	}

	b.subs[sub.id] = sub
	return sub
}

func (b *Broker) unsubscribe(id int64) {
	b.mu.Lock()
	delete(b.subs, id)
	b.mu.Unlock()
}

// Publish delivers an event to every matching subscriber. When a
// subscriber's buffer is full the oldest buffered event is dropped to
// make room, so the publisher never waits.
func (b *Broker) Publish(event types.WriteEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	b.published.Add(1)

	for _, sub := range b.subs {
		if sub.machineID != "" && sub.machineID != event.MachineID {
			continue
		}

		select {
		case sub.events <- event:
		default:
			// Drop oldest, then retry once
			select {
			case <-sub.events:
				b.dropped.Add(1)
			default:
			}
			select {
			case sub.events <- event:
			default:
				b.dropped.Add(1)
			}
		}
	}
}

// Close shuts the broker down and closes all subscriber channels.
func (b *Broker) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true

	subs := make([]*Subscription, 0, len(b.subs))
	for id, sub := range b.subs {
		delete(b.subs, id)
		subs = append(subs, sub)
	}
	b.mu.Unlock()

	// Outside the lock: a racing Subscription.Close takes the broker
	// lock inside its once
	for _, sub := range subs {
		sub.once.Do(func() { close(sub.events) })
	}

	logging.Component("notify").Debug("broker closed",
		"published", b.published.Load(),
		"dropped", b.dropped.Load())
}

// Stats holds broker statistics.
type Stats struct {
	Subscribers int
	Published   int64
	Dropped     int64
}

// Stats returns current broker statistics.
func (b *Broker) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return Stats{
		Subscribers: len(b.subs),
		Published:   b.published.Load(),
		Dropped:     b.dropped.Load(),
	}
}
