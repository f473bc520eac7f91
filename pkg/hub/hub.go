// Package hub is the room-based broadcast primitive. Rooms are keyed by
// session code; a broadcast reaches every member except the emitter. The hub
// never looks inside event payloads.
package hub

import (
	"sync"

	"github.com/harshalgadre/file-share/pkg/protocol"
)

// Member is a connection's receive side. Deliver must preserve the order of
// calls made from a single broadcasting goroutine (each relay connection
// drains a FIFO queue into its endpoint, which satisfies this).
type Member interface {
	ID() string
	Deliver(ev protocol.Event)
}

type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[string]Member
}

func New() *Hub { return &Hub{rooms: make(map[string]map[string]Member)} }

// Join adds m to room, creating the room as needed. Re-joining replaces the
// previous membership entry for the same id.
func (h *Hub) Join(room string, m Member) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r := h.rooms[room]
	if r == nil {
		r = make(map[string]Member)
		h.rooms[room] = r
	}
	r[m.ID()] = m
}

// Leave removes the member with id from room. Empty rooms are dropped.
func (h *Hub) Leave(room, id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if r := h.rooms[room]; r != nil {
		delete(r, id)
		if len(r) == 0 {
			delete(h.rooms, room)
		}
	}
}

// LeaveAll removes id from every room and returns the rooms it occupied.
func (h *Hub) LeaveAll(id string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []string
	for room, r := range h.rooms {
		if _, ok := r[id]; ok {
			delete(r, id)
			out = append(out, room)
			if len(r) == 0 {
				delete(h.rooms, room)
			}
		}
	}
	return out
}

// Broadcast delivers ev to every member of room except from. Broadcasting to
// an unknown or empty room is a silent no-op. Returns the number of members
// reached.
func (h *Hub) Broadcast(room, from string, ev protocol.Event) int {
	h.mu.RLock()
	r := h.rooms[room]
	members := make([]Member, 0, len(r))
	for id, m := range r {
		if id != from {
			members = append(members, m)
		}
	}
	h.mu.RUnlock()

	for _, m := range members {
		m.Deliver(ev)
	}
	return len(members)
}

// MemberCount reports the current size of room.
func (h *Hub) MemberCount(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}
