// Package eventbus is an in-process publish/subscribe bus for session
// lifecycle transitions (spawned, paused, exited, crashed), consumed by
// the session manager's own bookkeeping as well as by metrics and
// logging sinks that must not be on the critical path of a transition.
package eventbus

import "sync"

// Transition describes one session lifecycle change.
type Transition struct {
	SessionID string
	Status    string // mirrors types.SessionStatus, kept as string to avoid an import cycle
	Reason    string
}

// Bus fans a Transition out to every current subscriber. Publish never
// blocks on a slow or stalled subscriber: a subscriber whose buffer is
// full simply misses that transition rather than stalling the
// publisher, since a dropped lifecycle notification to a metrics sink
// is far cheaper than stalling the session manager mid-transition.
type Bus struct {
	mu   sync.Mutex
	subs map[int]chan Transition
	next int
}

// New returns an empty Bus.
func New() *Bus {
	return &Bus{subs: make(map[int]chan Transition)}
}

// Subscribe registers a new listener with the given buffer depth and
// returns its channel plus an unsubscribe function.
func (b *Bus) Subscribe(buffer int) (<-chan Transition, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	ch := make(chan Transition, buffer)
	b.subs[id] = ch

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
	}
	return ch, unsubscribe
}

// Publish fans t out to every current subscriber, dropping it for any
// subscriber whose buffer is currently full.
func (b *Bus) Publish(t Transition) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- t:
		default:
		}
	}
}
