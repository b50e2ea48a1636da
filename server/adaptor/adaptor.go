package adaptor

import (
	"context"
	"encoding/json"
	"io"

	"github.com/coder/quartz"
	"golang.org/x/xerrors"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"cdr.dev/slog/v3"

	"github.com/ponyo877/collab/server/adaptor/collabpb"
	"github.com/ponyo877/collab/server/domain"
)

// Adaptor serves the collab.v1.Collab gRPC service.
type Adaptor struct {
	logger slog.Logger
	uc     Usecase
	clock  quartz.Clock
}

var _ collabpb.CollabServer = (*Adaptor)(nil)

func NewAdaptor(logger slog.Logger, uc Usecase, clock quartz.Clock) *Adaptor {
	return &Adaptor{logger: logger.Named("grpc"), uc: uc, clock: clock}
}

// toStatus maps engine errors to gRPC status codes.
func toStatus(err error) error {
	switch {
	case err == nil:
		return nil
	case xerrors.Is(err, domain.ErrMalformedRequest), xerrors.Is(err, domain.ErrMalformedPayload):
		return status.Error(codes.InvalidArgument, err.Error())
	case xerrors.Is(err, domain.ErrRoomNotFound), xerrors.Is(err, domain.ErrUnknownRoom):
		return status.Error(codes.NotFound, err.Error())
	case xerrors.Is(err, domain.ErrRoomExists):
		return status.Error(codes.AlreadyExists, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// toStruct converts v to a Struct through its JSON form.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	s, err := collabpb.EncodeFrame(data)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return s, nil
}

func stringArg(in *structpb.Struct, name string) string {
	return in.GetFields()[name].GetStringValue()
}

func (a *Adaptor) ListParticipants(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	participants, err := a.uc.ListParticipants(stringArg(in, "room_id"))
	if err != nil {
		a.logger.Debug(ctx, "list participants", slog.Error(err))
		return nil, toStatus(err)
	}
	return toStruct(map[string]any{"participants": participants})
}

func (a *Adaptor) ListRooms(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	registered, err := a.uc.ListRegisteredRooms(ctx)
	if err != nil {
		a.logger.Error(ctx, "list registered rooms", slog.Error(err))
		return nil, toStatus(err)
	}
	return toStruct(map[string]any{
		"active":     a.uc.ListActiveRooms(),
		"registered": registered,
	})
}

func (a *Adaptor) SearchAudit(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	limit := int(in.GetFields()["limit"].GetNumberValue())
	events, err := a.uc.SearchAudit(ctx, stringArg(in, "room_id"), stringArg(in, "pattern"), limit)
	if err != nil {
		a.logger.Debug(ctx, "search audit", slog.Error(err))
		return nil, toStatus(err)
	}
	return toStruct(map[string]any{"events": events})
}

func (a *Adaptor) RegisterRoom(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := a.uc.RegisterRoom(ctx, stringArg(in, "room_id")); err != nil {
		a.logger.Debug(ctx, "register room", slog.Error(err))
		return nil, toStatus(err)
	}
	return toStruct(map[string]any{"ok": true})
}

func (a *Adaptor) UnregisterRoom(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := a.uc.UnregisterRoom(ctx, stringArg(in, "room_id")); err != nil {
		a.logger.Debug(ctx, "unregister room", slog.Error(err))
		return nil, toStatus(err)
	}
	return toStruct(map[string]any{"ok": true})
}

func (a *Adaptor) Connect(stream collabpb.Collab_ConnectServer) error {
	ctx := stream.Context()

	remote := "unknown"
	if p, ok := peer.FromContext(ctx); ok {
		remote = p.Addr.String()
	}
	session := domain.NewStreamSession(domain.NewSessionID(), remote, "grpc", a.clock.Now())
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if ids := md.Get(collabpb.UserIDMetadata); len(ids) > 0 && ids[0] != "" {
			var name string
			if names := md.Get(collabpb.UserNameMetadata); len(names) > 0 {
				name = names[0]
			}
			session = session.WithIdentity(ids[0], name)
		}
	}
	logger := a.logger.With(slog.F("session_id", session.ID), slog.F("remote", remote))

	requestChan := make(chan []byte, 32)
	responseChan := make(chan domain.StreamResponse, 256)

	usecaseErr := make(chan error, 1)
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		defer close(responseChan)
		usecaseErr <- a.uc.HandleStreamSession(ctx, requestChan, responseChan, session)
	}()

	responseErr := make(chan error, 1)
	go func() {
		var sendErr error
		for response := range responseChan {
			if sendErr != nil {
				continue
			}
			msg, err := collabpb.EncodeFrame(response.Payload)
			if err != nil {
				logger.Error(ctx, "encode response", slog.F("event", response.Event.String()), slog.Error(err))
				continue
			}
			if err := stream.Send(msg); err != nil {
				sendErr = xerrors.Errorf("failed to send response: %w", err)
			}
		}
		responseErr <- sendErr
	}()

	recvErr := a.receive(ctx, stream, requestChan, stopped)
	close(requestChan)
	ucErr := <-usecaseErr
	sendErr := <-responseErr

	switch {
	case recvErr == nil || xerrors.Is(recvErr, io.EOF):
		logger.Debug(ctx, "client disconnected")
	case ctx.Err() != nil:
		logger.Debug(ctx, "client stream canceled")
	default:
		logger.Info(ctx, "client disconnected with error", slog.Error(recvErr))
	}
	if ucErr != nil {
		return status.Error(codes.Internal, ucErr.Error())
	}
	if sendErr != nil && ctx.Err() == nil {
		logger.Warn(ctx, "send failed", slog.Error(sendErr))
	}
	return nil
}

func (a *Adaptor) receive(ctx context.Context, stream collabpb.Collab_ConnectServer, requestChan chan<- []byte, stopped <-chan struct{}) error {
	for {
		in, err := stream.Recv()
		if err != nil {
			return err
		}
		frame, err := collabpb.DecodeFrame(in)
		if err != nil {
			a.logger.Warn(ctx, "decode frame", slog.Error(err))
			continue
		}
		select {
		case requestChan <- frame:
		case <-stopped:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
