// Package bus implements the typed in-process publish/subscribe bus that
// replaces ad hoc window events for cross-component notifications.
//
// Delivery is synchronous: Publish calls every matching handler on the
// caller's goroutine, in subscription order, before returning. Handlers
// must not block. Each event is stamped with a monotonic sequence number.
package bus

import (
	"sort"
	"sync"

	"github.com/roach88/progsync/internal/clock"
)

// Event is a published payload stamped with its sequence number.
type Event struct {
	Seq     int64
	Payload Payload
}

// Kind returns the payload's kind.
func (e Event) Kind() Kind {
	if e.Payload == nil {
		return ""
	}
	return e.Payload.Kind()
}

// Handler receives events.
type Handler func(Event)

type subscription struct {
	id      int
	handler Handler
	kinds   map[Kind]bool // nil means every kind
}

// Bus fans events out to subscribers.
//
// Thread-safety: Subscribe, Publish and unsubscribe may be called from any
// goroutine. Handlers run outside the lock, so a handler may publish or
// unsubscribe.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]subscription
	nextID int
	seq    *clock.Sequence
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{
		subs: make(map[int]subscription),
		seq:  clock.NewSequence(),
	}
}

// Subscribe registers h for the given kinds, or for every kind when none
// are given. The returned function removes the subscription; calling it more
// than once is a no-op.
func (b *Bus) Subscribe(h Handler, kinds ...Kind) (unsubscribe func()) {
	if b == nil || h == nil {
		return func() {}
	}
	var filter map[Kind]bool
	if len(kinds) > 0 {
		filter = make(map[Kind]bool, len(kinds))
		for _, k := range kinds {
			filter[k] = true
		}
	}

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[id] = subscription{id: id, handler: h, kinds: filter}
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// Publish stamps p and delivers it. Publishing on a nil bus is a no-op so
// components can run without observers.
func (b *Bus) Publish(p Payload) Event {
	if b == nil || p == nil {
		return Event{Payload: p}
	}
	ev := Event{Seq: b.seq.Next(), Payload: p}

	b.mu.RLock()
	matching := make([]subscription, 0, len(b.subs))
	for _, s := range b.subs {
		if s.kinds == nil || s.kinds[p.Kind()] {
			matching = append(matching, s)
		}
	}
	b.mu.RUnlock()

	sort.Slice(matching, func(i, j int) bool { return matching[i].id < matching[j].id })
	for _, s := range matching {
		s.handler(ev)
	}
	return ev
}

// Len returns the number of active subscriptions.
func (b *Bus) Len() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
