package cmd

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/c-bata/go-prompt"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/xerrors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ponyo877/collab/server/adaptor/collabpb"
	"github.com/ponyo877/collab/server/domain"
)

var errNoRoom = xerrors.New("no room given and no current room, use cd <room> first")

func withIdentity(ctx context.Context) context.Context {
	return metadata.AppendToOutgoingContext(ctx,
		collabpb.UserIDMetadata, viper.GetString(userIDKey),
		collabpb.UserNameMetadata, viper.GetString(displayNameKey),
	)
}

// targetRoom returns the room named by args[i], falling back to the current room.
func targetRoom(args []string, i int) (string, error) {
	room := viper.GetString(currentRoomKey)
	if len(args) > i {
		room = args[i]
	}
	if room == "" {
		return "", errNoRoom
	}
	if !domain.ValidRoomID(room) {
		return "", xerrors.Errorf("invalid room id %q", room)
	}
	return room, nil
}

func structArgs(v map[string]any) *structpb.Struct {
	s, err := structpb.NewStruct(v)
	if err != nil {
		// Only strings and numbers are ever passed.
		panic(err)
	}
	return s
}

func decodeStruct(s *structpb.Struct, v any) error {
	data, err := collabpb.DecodeFrame(s)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

type roomsReply struct {
	Active     []domain.RoomSummary    `json:"active"`
	Registered []domain.RegisteredRoom `json:"registered"`
}

func listRooms(ctx context.Context, client collabpb.CollabClient) (roomsReply, error) {
	var reply roomsReply
	out, err := client.ListRooms(ctx, structArgs(nil))
	if err != nil {
		return reply, err
	}
	err = decodeStruct(out, &reply)
	return reply, err
}

// roomStream is one Connect stream joined to a room.
type roomStream struct {
	roomID string
	stream collabpb.Collab_ConnectClient

	sendMu sync.Mutex
}

func joinRoom(ctx context.Context, client collabpb.CollabClient, roomID string, role domain.Role) (*roomStream, error) {
	stream, err := client.Connect(withIdentity(ctx))
	if err != nil {
		return nil, xerrors.Errorf("connect: %w", err)
	}
	s := &roomStream{roomID: roomID, stream: stream}
	err = s.send(domain.RequestJoin, map[string]any{
		"room_id":      roomID,
		"user_id":      viper.GetString(userIDKey),
		"display_name": viper.GetString(displayNameKey),
		"role":         string(role),
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (s *roomStream) send(request domain.StreamRequestType, data any) error {
	frame, err := json.Marshal(map[string]any{"event": request.String(), "data": data})
	if err != nil {
		return err
	}
	return s.sendFrame(frame)
}

func (s *roomStream) sendFrame(frame []byte) error {
	msg, err := collabpb.EncodeFrame(frame)
	if err != nil {
		return err
	}
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return s.stream.Send(msg)
}

// recv returns the next event and its raw frame.
func (s *roomStream) recv() (domain.DecodedResponse, []byte, error) {
	msg, err := s.stream.Recv()
	if err != nil {
		return domain.DecodedResponse{}, nil, err
	}
	frame, err := collabpb.DecodeFrame(msg)
	if err != nil {
		return domain.DecodedResponse{}, nil, err
	}
	response, err := domain.DecodeResponse(frame)
	return response, frame, err
}

// heartbeat sends a heartbeat stamped with the local clock.
func (s *roomStream) heartbeat() error {
	return s.send(domain.RequestHeartbeat, map[string]any{"timestamp": time.Now().UnixMilli()})
}

func (s *roomStream) close() error {
	if err := s.send(domain.RequestLeave, map[string]any{"room_id": s.roomID}); err != nil {
		return err
	}
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return s.stream.CloseSend()
}

// roomCache feeds room ids to the REPL completer.
type roomCache struct {
	mu      sync.Mutex
	fetched bool
	ids     []string
}

func newRoomCache() *roomCache {
	return &roomCache{}
}

func (c *roomCache) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fetched = false
}

func (c *roomCache) get() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fetched {
		return c.ids
	}
	c.fetched = true
	c.ids = nil

	conn, err := grpc.NewClient(grpcServerAddress, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil
	}
	defer conn.Close()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	reply, err := listRooms(ctx, collabpb.NewCollabClient(conn))
	if err != nil {
		return nil
	}
	seen := map[string]bool{}
	for _, room := range reply.Active {
		seen[room.RoomID] = true
	}
	for _, room := range reply.Registered {
		seen[room.ID] = true
	}
	for id := range seen {
		c.ids = append(c.ids, id)
	}
	sort.Strings(c.ids)
	return c.ids
}

// completer suggests sub-commands for the first word and room ids after it.
func completer(root *cobra.Command, rooms interface{ get() []string }) prompt.Completer {
	return func(d prompt.Document) []prompt.Suggest {
		word := d.GetWordBeforeCursor()
		if !strings.Contains(strings.TrimLeft(d.TextBeforeCursor(), " "), " ") {
			var suggestions []prompt.Suggest
			for _, c := range root.Commands() {
				if c.Hidden || !c.IsAvailableCommand() {
					continue
				}
				suggestions = append(suggestions, prompt.Suggest{Text: c.Name(), Description: c.Short})
			}
			return prompt.FilterHasPrefix(suggestions, word, true)
		}
		if strings.HasPrefix(word, "-") {
			return nil
		}
		var suggestions []prompt.Suggest
		for _, id := range rooms.get() {
			suggestions = append(suggestions, prompt.Suggest{Text: id})
		}
		return prompt.FilterHasPrefix(suggestions, word, false)
	}
}
