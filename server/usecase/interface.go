package usecase

import (
	"context"

	"github.com/ponyo877/collab/server/domain"
)

// Repository is the persistent side of the engine: the directory of
// registered diagrams and the join/leave audit trail.
type Repository interface {
	// Room directory
	CreateRoom(ctx context.Context, roomID string) error
	DeleteRoom(ctx context.Context, roomID string) error
	RoomExists(ctx context.Context, roomID string) (bool, error)
	ListRooms(ctx context.Context) ([]domain.RegisteredRoom, error)

	// Audit
	CreateAuditEvent(ctx context.Context, event domain.AuditEvent) error
	SearchAuditEvents(ctx context.Context, roomID, pattern string, limit int) ([]domain.AuditEvent, error)
}
