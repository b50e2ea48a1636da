package usecase

import (
	"context"
	"time"

	"github.com/coder/quartz"
	"github.com/tidwall/gjson"
	"golang.org/x/xerrors"

	"cdr.dev/slog/v3"

	"github.com/ponyo877/collab/server/domain"
	"github.com/ponyo877/collab/server/metrics"
)

// StreamUsecase drives one connection's requests into the stream manager.
type StreamUsecase struct {
	logger        slog.Logger
	repo          Repository
	streamManager domain.StreamManager
	clock         quartz.Clock
	metrics       *metrics.Metrics

	// requireRegistered limits joins to rooms in the directory.
	requireRegistered bool
}

type StreamOption func(*StreamUsecase)

// WithRegisteredRooms makes join_room fail with unknown_room for diagram ids
// that are not in the room directory.
func WithRegisteredRooms(require bool) StreamOption {
	return func(u *StreamUsecase) {
		u.requireRegistered = require
	}
}

func WithStreamMetrics(m *metrics.Metrics) StreamOption {
	return func(u *StreamUsecase) {
		u.metrics = m
	}
}

func NewStreamUsecase(logger slog.Logger, repo Repository, streamManager domain.StreamManager, clock quartz.Clock, opts ...StreamOption) *StreamUsecase {
	u := &StreamUsecase{
		logger:        logger.Named("stream"),
		repo:          repo,
		streamManager: streamManager,
		clock:         clock,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// HandleStreamSession processes frames of one connection. When frames is
// closed or ctx ends the connection counts as dropped, and the participant
// stays visible for the grace period before it is removed.
func (u *StreamUsecase) HandleStreamSession(
	ctx context.Context,
	frames <-chan []byte,
	responses chan<- domain.StreamResponse,
	session domain.StreamSession,
) error {
	if err := u.streamManager.RegisterSession(session.ID, responses); err != nil {
		return xerrors.Errorf("register session: %w", err)
	}
	defer u.streamManager.UnregisterSession(session.ID)
	defer u.streamManager.Disconnect(session.ID)

	logger := u.logger.With(slog.F("session_id", session.ID), slog.F("transport", session.Transport))
	logger.Debug(ctx, "session started", slog.F("remote", session.Remote))
	defer logger.Debug(ctx, "session ended")

	for {
		select {
		case <-ctx.Done():
			return nil
		case frame, ok := <-frames:
			if !ok {
				return nil
			}
			if err := u.HandleFrame(ctx, session, frame); err != nil {
				u.reject(ctx, logger, session, frame, err)
			}
		}
	}
}

// HandleFrame decodes and applies one inbound envelope.
func (u *StreamUsecase) HandleFrame(ctx context.Context, session domain.StreamSession, frame []byte) error {
	request, err := domain.DecodeRequest(frame)
	if err != nil {
		return err
	}
	return u.HandleRequest(ctx, session, request)
}

func (u *StreamUsecase) HandleRequest(ctx context.Context, session domain.StreamSession, request domain.StreamRequest) error {
	switch request.Type {
	case domain.RequestJoin:
		request = session.Authenticate(request)
		if err := u.validateRoom(ctx, request.RoomID); err != nil {
			return err
		}
		_, err := u.streamManager.Join(session, request)
		return err
	case domain.RequestLeave:
		current, ok := u.streamManager.RoomOf(session.ID)
		if !ok || (request.RoomID != "" && request.RoomID != current) {
			return xerrors.Errorf("leave %q: %w", request.RoomID, domain.ErrNotJoined)
		}
		return u.streamManager.Leave(session.ID)
	case domain.RequestHeartbeat:
		_, err := u.streamManager.Heartbeat(session.ID, request.Timestamp)
		return err
	case domain.RequestCursor:
		return u.streamManager.MoveCursor(session.ID, request.X, request.Y)
	case domain.RequestUpdate:
		return u.streamManager.PublishUpdate("", session.ID, request.Payload)
	case domain.RequestElementEdit:
		return u.streamManager.ElementEdit(session.ID, request.ElementID)
	case domain.RequestTyping:
		return u.streamManager.Typing(session.ID, request.IsTyping)
	default:
		return xerrors.Errorf("unhandled request %s: %w", request.Type, domain.ErrMalformedRequest)
	}
}

// reject answers the sender with an error event. Nobody else sees it.
func (u *StreamUsecase) reject(ctx context.Context, logger slog.Logger, session domain.StreamSession, frame []byte, err error) {
	code := domain.ErrorCode(err)
	u.metrics.Rejected(code)
	request := gjson.GetBytes(frame, "event").String()
	if code == domain.CodeInternal {
		logger.Error(ctx, "request failed", slog.F("request", request), slog.Error(err))
	} else {
		logger.Debug(ctx, "request rejected", slog.F("request", request), slog.F("code", code), slog.Error(err))
	}
	if err := u.streamManager.SendToSession(session.ID, domain.NewErrorEvent(err, request, u.clock.Now())); err != nil {
		logger.Warn(ctx, "send error event", slog.Error(err))
	}
}

func (u *StreamUsecase) validateRoom(ctx context.Context, roomID string) error {
	if !u.requireRegistered {
		return nil
	}
	exists, err := u.repo.RoomExists(ctx, roomID)
	if err != nil {
		return xerrors.Errorf("look up room %q: %w", roomID, err)
	}
	if !exists {
		return xerrors.Errorf("room %q: %w", roomID, domain.ErrUnknownRoom)
	}
	return nil
}

// RunSweeper moves idle participants to away every interval until ctx ends.
func (u *StreamUsecase) RunSweeper(ctx context.Context, interval time.Duration) error {
	logger := u.logger.Named("sweeper")
	w := u.clock.TickerFunc(ctx, interval, func() error {
		if moved := u.streamManager.SweepIdle(); moved > 0 {
			logger.Debug(ctx, "participants went away", slog.F("count", moved))
		}
		return nil
	}, "sweeper")
	if err := w.Wait(); err != nil && ctx.Err() == nil {
		return xerrors.Errorf("sweeper: %w", err)
	}
	return nil
}

func (u *StreamUsecase) Stats() domain.StreamStats {
	return u.streamManager.Stats()
}
