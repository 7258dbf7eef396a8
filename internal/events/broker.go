// Package events carries change notifications for stored collections. Writers
// publish an Event after a successful commit; readers subscribe per
// collection (or to every collection with AllCollections) and receive events
// on a buffered channel.
//
// Two brokers are provided: MemoryBroker for a single process, and
// RedisBroker for fan-out across replicas through Redis pub/sub.
package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Collections published by the store.
const (
	Declarations  = "declarations"
	Payments      = "payments"
	Companies     = "companies"
	Chauffeurs    = "chauffeurs"
	Notifications = "notifications"

	// AllCollections subscribes to every collection.
	AllCollections = "*"
)

// Operations carried by Event.Op.
const (
	OpCreated = "created"
	OpUpdated = "updated"
	OpDeleted = "deleted"
)

// Event describes one committed change.
type Event struct {
	Collection string    `json:"collection"`
	Op         string    `json:"op"`
	ID         string    `json:"id"`
	At         time.Time `json:"at"`
}

// Publisher emits change events. Publish never blocks on slow subscribers.
type Publisher interface {
	Publish(ctx context.Context, e Event)
}

// Broker is a Publisher that can also be subscribed to.
type Broker interface {
	Publisher
	// Subscribe returns a channel of events for collection and a cancel
	// function that unsubscribes and closes the channel.
	Subscribe(ctx context.Context, collection string) (<-chan Event, func())
	Close() error
}

// Nop discards every event.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, Event) {}

const subscriberBuffer = 64

// MemoryBroker fans events out to in-process subscribers. Events for a
// subscriber whose buffer is full are dropped and counted.
type MemoryBroker struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]*memSub
	closed bool

	dropped atomic.Uint64
}

type memSub struct {
	collection string
	ch         chan Event
}

// NewMemoryBroker returns an empty broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{subs: make(map[int]*memSub)}
}

// Publish implements Publisher.
func (b *MemoryBroker) Publish(_ context.Context, e Event) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, s := range b.subs {
		if s.collection != AllCollections && s.collection != e.Collection {
			continue
		}
		select {
		case s.ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

// Subscribe implements Broker. The subscription also ends when ctx is done.
func (b *MemoryBroker) Subscribe(ctx context.Context, collection string) (<-chan Event, func()) {
	s := &memSub{collection: collection, ch: make(chan Event, subscriberBuffer)}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(s.ch)
		return s.ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = s
	b.mu.Unlock()

	done := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			b.mu.Lock()
			if _, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(s.ch)
			}
			b.mu.Unlock()
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-done:
		}
	}()
	return s.ch, cancel
}

// Dropped reports how many events were discarded for full subscribers.
func (b *MemoryBroker) Dropped() uint64 { return b.dropped.Load() }

// Close ends every subscription.
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for id, s := range b.subs {
		delete(b.subs, id)
		close(s.ch)
	}
	return nil
}
