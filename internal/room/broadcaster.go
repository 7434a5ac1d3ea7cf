package room

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/mattfrayser/whiteboard-backend/internal/logging"
	"github.com/mattfrayser/whiteboard-backend/internal/metrics"
)

// Peer is one connection as seen by the fan-out.
type Peer interface {
	ID() string
	// Send queues msg without blocking. It reports false when the peer
	// cannot keep up or is already closed.
	Send(msg []byte) bool
	// Close disconnects the peer. Must not block.
	Close()
}

// Hub tracks room membership by room name and delivers frames to members.
// Membership is independent of whether the room's state is loaded.
type Hub struct {
	rooms  map[string]map[string]Peer     // room -> peer id -> peer
	joined map[string]map[string]struct{} // peer id -> rooms
	log    zerolog.Logger
	mu     sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		rooms:  make(map[string]map[string]Peer),
		joined: make(map[string]map[string]struct{}),
		log:    logging.WithComponent("hub"),
	}
}

// Join adds p to the room. Joining twice is a no-op.
func (h *Hub) Join(room string, p Peer) {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.rooms[room]
	if !ok {
		members = make(map[string]Peer)
		h.rooms[room] = members
	}
	members[p.ID()] = p

	rooms, ok := h.joined[p.ID()]
	if !ok {
		rooms = make(map[string]struct{})
		h.joined[p.ID()] = rooms
	}
	rooms[room] = struct{}{}
}

// Leave removes p from one room.
func (h *Hub) Leave(room string, p Peer) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.leaveLocked(room, p.ID())
}

// LeaveAll removes p from every room it joined.
func (h *Hub) LeaveAll(p Peer) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.leaveAllLocked(p.ID())
}

func (h *Hub) leaveLocked(room, id string) {
	if members, ok := h.rooms[room]; ok {
		delete(members, id)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	if rooms, ok := h.joined[id]; ok {
		delete(rooms, room)
		if len(rooms) == 0 {
			delete(h.joined, id)
		}
	}
}

func (h *Hub) leaveAllLocked(id string) {
	for room := range h.joined[id] {
		if members, ok := h.rooms[room]; ok {
			delete(members, id)
			if len(members) == 0 {
				delete(h.rooms, room)
			}
		}
	}
	delete(h.joined, id)
}

// BroadcastOthers sends msg to every member of room except sender and
// returns the number of peers it was queued for.
func (h *Hub) BroadcastOthers(room string, msg []byte, sender Peer) int {
	skip := ""
	if sender != nil {
		skip = sender.ID()
	}
	return h.broadcast(room, msg, skip)
}

// BroadcastAll sends msg to every member of room, sender included.
func (h *Hub) BroadcastAll(room string, msg []byte) int {
	return h.broadcast(room, msg, "")
}

func (h *Hub) broadcast(room string, msg []byte, skip string) int {
	h.mu.RLock()
	members := make([]Peer, 0, len(h.rooms[room]))
	for id, p := range h.rooms[room] {
		if id != skip {
			members = append(members, p)
		}
	}
	h.mu.RUnlock()

	sent := 0
	var slow []Peer
	for _, p := range members {
		if p.Send(msg) {
			sent++
			continue
		}
		slow = append(slow, p)
	}

	if len(slow) > 0 {
		h.evict(room, slow)
	}
	return sent
}

// evict drops peers that could not take a frame. A peer that misses a frame
// has diverged from the room, so it is disconnected rather than skipped.
func (h *Hub) evict(room string, peers []Peer) {
	h.mu.Lock()
	for _, p := range peers {
		h.leaveAllLocked(p.ID())
	}
	h.mu.Unlock()

	for _, p := range peers {
		metrics.SlowPeersEvicted.Inc()
		h.log.Warn().Str("room", room).Str("peer", p.ID()).Msg("evicting peer with full send queue")
		p.Close()
	}
}

// Members returns the ids of the peers in room.
func (h *Hub) Members(room string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ids := make([]string, 0, len(h.rooms[room]))
	for id := range h.rooms[room] {
		ids = append(ids, id)
	}
	return ids
}

// PeerCount: number of distinct peers in at least one room
func (h *Hub) PeerCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.joined)
}
