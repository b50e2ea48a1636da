package usecase

import (
	"context"
	"regexp"

	"golang.org/x/xerrors"

	"github.com/ponyo877/collab/server/adaptor"
	"github.com/ponyo877/collab/server/domain"
)

const auditLimit = 1000

type Usecase struct {
	*StreamUsecase
	repo Repository
}

func NewUsecase(repo Repository, stream *StreamUsecase) adaptor.Usecase {
	return &Usecase{
		StreamUsecase: stream,
		repo:          repo,
	}
}

func (u *Usecase) ListParticipants(roomID string) ([]domain.Participant, error) {
	if !domain.ValidRoomID(roomID) {
		return nil, xerrors.Errorf("invalid room id %q: %w", roomID, domain.ErrMalformedRequest)
	}
	return u.streamManager.Participants(roomID), nil
}

func (u *Usecase) ListActiveRooms() []domain.RoomSummary {
	return u.streamManager.Rooms()
}

func (u *Usecase) ListRegisteredRooms(ctx context.Context) ([]domain.RegisteredRoom, error) {
	rooms, err := u.repo.ListRooms(ctx)
	if err != nil {
		return nil, xerrors.Errorf("error listing rooms: %w", err)
	}
	return rooms, nil
}

func (u *Usecase) RegisterRoom(ctx context.Context, roomID string) error {
	if !domain.ValidRoomID(roomID) {
		return xerrors.Errorf("invalid room id %q: %w", roomID, domain.ErrMalformedRequest)
	}
	if err := u.repo.CreateRoom(ctx, roomID); err != nil {
		return xerrors.Errorf("error creating room: %w", err)
	}
	return nil
}

// UnregisterRoom removes the room from the directory. Participants already
// in the room stay; only new joins are refused.
func (u *Usecase) UnregisterRoom(ctx context.Context, roomID string) error {
	if err := u.repo.DeleteRoom(ctx, roomID); err != nil {
		return xerrors.Errorf("error deleting room: %w", err)
	}
	return nil
}

// SearchAudit returns the room's audit events whose user or action matches
// pattern. An empty pattern matches everything.
func (u *Usecase) SearchAudit(ctx context.Context, roomID, pattern string, limit int) ([]domain.AuditEvent, error) {
	if _, err := regexp.Compile(pattern); err != nil {
		return nil, xerrors.Errorf("invalid pattern %q: %w", pattern, domain.ErrMalformedRequest)
	}
	if limit <= 0 || limit > auditLimit {
		limit = auditLimit
	}
	events, err := u.repo.SearchAuditEvents(ctx, roomID, pattern, limit)
	if err != nil {
		return nil, xerrors.Errorf("error searching audit events: %w", err)
	}
	return events, nil
}
