// Package changefeed tells interested readers that a collection changed.
//
// Events carry no data: a listener that hears "questions changed" re-reads
// the collection. That keeps delivery cheap and lets bursts coalesce; a
// listener that is behind only ever has one pending wake-up.
package changefeed

import (
	"context"
	"sync"

	"github.com/rs/xid"
)

// Collection names.
const (
	Questions = "questions"
	Profiles  = "profiles"
)

// Event says a document in Collection changed. Origin identifies the process
// that made the change so a relay doesn't echo its own writes.
type Event struct {
	Collection string `json:"collection"`
	DocumentID string `json:"documentId"`
	Origin     string `json:"origin"`
}

// Notifier is implemented by Broker and RedisRelay.
type Notifier interface {
	Notify(ctx context.Context, ev Event)
	Listen() (<-chan Event, func())
}

var (
	_ Notifier = (*Broker)(nil)
	_ Notifier = (*RedisRelay)(nil)
)

// Broker is the in-process fan-out.
type Broker struct {
	origin string

	mu        sync.Mutex
	nextID    int
	listeners map[int]chan Event
}

// NewBroker creates a broker with a fresh origin ID.
func NewBroker() *Broker {
	return &Broker{
		origin:    xid.New().String(),
		listeners: make(map[int]chan Event),
	}
}

// Origin is this process's ID as stamped on outgoing events.
func (b *Broker) Origin() string {
	return b.origin
}

// Notify wakes every listener. It never blocks: a listener whose buffer is
// already full has a wake-up pending and will re-read anyway.
func (b *Broker) Notify(_ context.Context, ev Event) {
	if ev.Origin == "" {
		ev.Origin = b.origin
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.listeners {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Listen registers a listener. The returned stop function unregisters it and
// closes the channel; it is safe to call more than once.
func (b *Broker) Listen() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Event, 1)
	b.listeners[id] = ch

	var once sync.Once
	stop := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.listeners, id)
			close(ch)
		})
	}
	return ch, stop
}
