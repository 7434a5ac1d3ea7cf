package handlers

import (
	"context"

	"github.com/mattfrayser/whiteboard-backend/internal/room"
	"github.com/mattfrayser/whiteboard-backend/internal/user"
)

// Conn is the connection an event arrived on.
type Conn interface {
	room.Peer
	User() *user.User
}

// Registry resolves room names to resident rooms.
type Registry interface {
	GetOrLoad(ctx context.Context, name string) *room.Room
	Get(name string) (*room.Room, bool)
}

// Broadcaster delivers frames to room members.
type Broadcaster interface {
	Join(room string, p room.Peer)
	BroadcastOthers(room string, msg []byte, sender room.Peer) int
	BroadcastAll(room string, msg []byte) int
}

// WriteBack schedules persistence of a room.
type WriteBack interface {
	Schedule(name string)
}
