package adaptor

import (
	"context"

	"github.com/ponyo877/collab/server/domain"
)

type Usecase interface {
	// HandleStreamSession serves one connection until frames is closed or
	// ctx ends. Every frame is a JSON envelope.
	HandleStreamSession(ctx context.Context, frames <-chan []byte, responses chan<- domain.StreamResponse, session domain.StreamSession) error

	ListParticipants(roomID string) ([]domain.Participant, error)
	ListActiveRooms() []domain.RoomSummary
	ListRegisteredRooms(ctx context.Context) ([]domain.RegisteredRoom, error)
	RegisterRoom(ctx context.Context, roomID string) error
	UnregisterRoom(ctx context.Context, roomID string) error
	SearchAudit(ctx context.Context, roomID, pattern string, limit int) ([]domain.AuditEvent, error)
	Stats() domain.StreamStats
}
