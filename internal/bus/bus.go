// Package bus is the process-wide broadcast registry for chat rooms. It is
// the single point of truth for which connections are live in a room right
// now. All mutation goes through Join, Leave and Publish; the room mapping is
// never exposed.
package bus

import (
	"log/slog"
	"sync"
)

// Subscriber is one live connection's receiving end. Deliver must not block;
// it returns false when the subscriber cannot keep up, which removes it from
// the room.
type Subscriber interface {
	Deliver(data []byte) bool
}

type Bus struct {
	logger *slog.Logger

	mu    sync.Mutex
	rooms map[string]*room
}

// room holds the live subscriber set. Its lock is held for the whole of a
// publish, so a join mid-publish never observes a partial broadcast and two
// publishes never interleave their delivery within the room.
type room struct {
	mu   sync.Mutex
	subs map[Subscriber]struct{}
}

func New(logger *slog.Logger) *Bus {
	return &Bus{
		logger: logger.With("component", "bus"),
		rooms:  make(map[string]*room),
	}
}

// Join registers the subscriber in the room. Joining twice is one membership.
// The room lock is taken before the registry lock is released, so a concurrent
// Leave of the last member cannot evict the room between lookup and insert.
func (b *Bus) Join(roomID string, sub Subscriber) {
	b.mu.Lock()
	r, ok := b.rooms[roomID]
	if !ok {
		r = &room{subs: make(map[Subscriber]struct{})}
		b.rooms[roomID] = r
	}
	r.mu.Lock()
	b.mu.Unlock()

	r.subs[sub] = struct{}{}
	r.mu.Unlock()
}

// Leave removes the subscriber; a no-op when it is not a member. Empty rooms
// are dropped from the registry.
func (b *Bus) Leave(roomID string, sub Subscriber) {
	b.mu.Lock()
	r, ok := b.rooms[roomID]
	b.mu.Unlock()
	if !ok {
		return
	}

	r.mu.Lock()
	delete(r.subs, sub)
	empty := len(r.subs) == 0
	r.mu.Unlock()

	if empty {
		b.mu.Lock()
		if r2, ok := b.rooms[roomID]; ok && r2 == r {
			r.mu.Lock()
			if len(r.subs) == 0 {
				delete(b.rooms, roomID)
			}
			r.mu.Unlock()
		}
		b.mu.Unlock()
	}
}

// Publish delivers data to every current subscriber of the room, the sender
// included. Publishing to a room with no subscribers is a silent no-op.
func (b *Bus) Publish(roomID string, data []byte) {
	b.mu.Lock()
	r, ok := b.rooms[roomID]
	b.mu.Unlock()
	if !ok {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var dropped []Subscriber
	for sub := range r.subs {
		if !sub.Deliver(data) {
			dropped = append(dropped, sub)
		}
	}
	for _, sub := range dropped {
		delete(r.subs, sub)
		b.logger.Warn("slow subscriber dropped", "roomID", roomID)
	}
}

// Subscribers reports the current membership count of a room.
func (b *Bus) Subscribers(roomID string) int {
	b.mu.Lock()
	r, ok := b.rooms[roomID]
	b.mu.Unlock()
	if !ok {
		return 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}
