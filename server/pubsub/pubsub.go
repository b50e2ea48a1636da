// Package pubsub carries room events between collaboration server instances.
package pubsub

import "context"

// Listener represents a pubsub handler.
type Listener func(ctx context.Context, message []byte)

// Pubsub is a generic interface for broadcasting and receiving messages.
// Implementors should assume high-availability with the backing implementation.
type Pubsub interface {
	Subscribe(event string, listener Listener) (cancel func(), err error)
	Publish(event string, message []byte) error
	Close() error
}

// RoomEvent is the channel name that carries events of one room.
func RoomEvent(roomID string) string {
	return "collab:room:" + roomID
}
