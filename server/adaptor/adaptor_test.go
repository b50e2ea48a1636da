package adaptor_test

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"cdr.dev/slog/v3"
	"cdr.dev/slog/v3/sloggers/slogtest"

	"github.com/ponyo877/collab/server/adaptor"
	"github.com/ponyo877/collab/server/adaptor/collabpb"
	"github.com/ponyo877/collab/server/audit"
	"github.com/ponyo877/collab/server/domain"
	"github.com/ponyo877/collab/server/metrics"
	"github.com/ponyo877/collab/server/repository"
	"github.com/ponyo877/collab/server/usecase"
)

const testTimeout = 10 * time.Second

type stack struct {
	cfg      domain.Config
	clock    *quartz.Mock
	registry *prometheus.Registry
	uc       adaptor.Usecase
	logger   slog.Logger
}

func newStack(t *testing.T) *stack {
	t.Helper()
	return newStackWithConfig(t, domain.DefaultConfig())
}

func newStackWithConfig(t *testing.T, cfg domain.Config) *stack {
	t.Helper()
	ctx := context.Background()
	logger := slogtest.Make(t, &slogtest.Options{IgnoreErrors: true}).Leveled(slog.LevelDebug)
	clock := quartz.NewMock(t)
	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	db, err := repository.Open(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	repo := repository.NewRepository(db)

	auditor := audit.New(logger.Named("audit"), 0, audit.NewStore(repo))
	t.Cleanup(func() { _ = auditor.Close() })

	manager := domain.NewStreamManager(logger, clock, cfg,
		domain.WithAuditor(auditor), domain.WithMetrics(m))
	t.Cleanup(func() { _ = manager.Close() })

	stream := usecase.NewStreamUsecase(logger, repo, manager, clock, usecase.WithStreamMetrics(m))
	return &stack{
		cfg:      cfg,
		clock:    clock,
		registry: registry,
		uc:       usecase.NewUsecase(repo, stream),
		logger:   logger,
	}
}

func (s *stack) httpServer(t *testing.T) *httptest.Server {
	t.Helper()
	ws := adaptor.NewWebSocketHandler(s.logger, s.uc, s.clock, s.cfg.MaxPayloadBytes)
	srv := httptest.NewServer(adaptor.NewHTTPHandler(s.logger, s.uc, ws, s.registry))
	t.Cleanup(srv.Close)
	return srv
}

type wsClient struct {
	t    *testing.T
	conn *websocket.Conn
}

func dial(t *testing.T, srv *httptest.Server, header http.Header) *wsClient {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })
	return &wsClient{t: t, conn: conn}
}

func (c *wsClient) send(event string, data any) {
	c.t.Helper()
	require.NoError(c.t, c.conn.WriteJSON(map[string]any{"event": event, "data": data}))
}

func (c *wsClient) next() domain.DecodedResponse {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(testTimeout)))
	_, data, err := c.conn.ReadMessage()
	require.NoError(c.t, err)
	d, err := domain.DecodeResponse(data)
	require.NoError(c.t, err)
	return d
}

func (c *wsClient) expect(event string) domain.DecodedResponse {
	c.t.Helper()
	d := c.next()
	require.Equal(c.t, event, d.Event, string(d.Data))
	return d
}

func TestWebSocket_DiagramSession(t *testing.T) {
	t.Parallel()
	s := newStack(t)
	srv := s.httpServer(t)

	alice := dial(t, srv, nil)
	alice.send("join_room", map[string]any{"room_id": "file:42", "user_id": "alice", "display_name": "Alice"})
	snapshot := alice.expect("room_snapshot")
	require.Equal(t, domain.ColorFor("file:42", "alice"), gjson.GetBytes(snapshot.Data, "color").String())

	bob := dial(t, srv, http.Header{adaptor.UserIDHeader: {"bob"}, adaptor.UserNameHeader: {"Bob"}})
	bob.send("join_room", map[string]any{"room_id": "file:42", "user_id": "mallory"})
	snapshot = bob.expect("room_snapshot")
	require.Equal(t, "bob", gjson.GetBytes(snapshot.Data, "self.user_id").String())
	require.Equal(t, "Alice", gjson.GetBytes(snapshot.Data, "participants.0.display_name").String())

	joined := alice.expect("participant_joined")
	require.Equal(t, "Bob", gjson.GetBytes(joined.Data, "participant.display_name").String())

	for i := 1; i <= 5; i++ {
		alice.send("diagram_update", map[string]any{"payload": map[string]any{
			"type": "shape_moved", "shape_id": "s1", "x": 10 * i, "y": 20,
		}})
	}
	bob.send("cursor_move", map[string]any{"x": 5, "y": 6})

	for i := 1; i <= 5; i++ {
		update := bob.expect("update")
		require.EqualValues(t, 10*i, gjson.GetBytes(update.Data, "payload.x").Int())
	}
	cursor := alice.expect("update")
	require.Equal(t, "bob", gjson.GetBytes(cursor.Data, "user_id").String())
	require.Equal(t, "cursor", gjson.GetBytes(cursor.Data, "payload.type").String())

	alice.send("heartbeat", map[string]any{"timestamp": s.clock.Now().UnixMilli() - 20})
	ack := alice.expect("heartbeat_ack")
	require.Equal(t, "excellent", gjson.GetBytes(ack.Data, "quality").String())

	alice.send("diagram_update", map[string]any{"payload": map[string]any{"type": "shape_moved"}})
	e := alice.expect("error")
	require.Equal(t, domain.CodeMalformedPayload, gjson.GetBytes(e.Data, "code").String())

	alice.send("leave_room", map[string]any{"room_id": "file:42"})
	require.Equal(t, "offline", gjson.GetBytes(bob.expect("presence_changed").Data, "status").String())
	require.Equal(t, "alice", gjson.GetBytes(bob.expect("participant_left").Data, "user_id").String())
}

func TestWebSocket_ReadLimitFollowsPayloadCap(t *testing.T) {
	t.Parallel()
	require.EqualValues(t, 4096, adaptor.ReadLimit(domain.DefaultConfig().MaxPayloadBytes))

	cfg := domain.DefaultConfig()
	cfg.MaxPayloadBytes = 16 << 10
	s := newStackWithConfig(t, cfg)
	srv := s.httpServer(t)

	alice := dial(t, srv, nil)
	alice.send("join_room", map[string]any{"room_id": "file:42", "user_id": "alice"})
	alice.expect("room_snapshot")
	bob := dial(t, srv, nil)
	bob.send("join_room", map[string]any{"room_id": "file:42", "user_id": "bob"})
	bob.expect("room_snapshot")
	alice.expect("participant_joined")

	// Well above the default frame limit but inside the raised payload cap.
	text := strings.Repeat("a", 8<<10)
	alice.send("diagram_update", map[string]any{"payload": map[string]any{
		"type": "text_changed", "shape_id": "s1", "text": text,
	}})
	update := bob.expect("update")
	require.Equal(t, text, gjson.GetBytes(update.Data, "payload.text").String())

	// Over the payload cap but inside the frame limit: rejected, still connected.
	alice.send("diagram_update", map[string]any{"payload": map[string]any{
		"type": "text_changed", "shape_id": "s1", "text": strings.Repeat("a", 17<<10),
	}})
	e := alice.expect("error")
	require.Equal(t, domain.CodeMalformedPayload, gjson.GetBytes(e.Data, "code").String())

	alice.send("heartbeat", map[string]any{"timestamp": s.clock.Now().UnixMilli()})
	alice.expect("heartbeat_ack")
}

func TestHTTP_Queries(t *testing.T) {
	t.Parallel()
	s := newStack(t)
	srv := s.httpServer(t)

	alice := dial(t, srv, nil)
	alice.send("join_room", map[string]any{"room_id": "file:42", "user_id": "alice"})
	alice.expect("room_snapshot")

	get := func(path string) (int, []byte) {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return resp.StatusCode, body
	}

	code, body := get("/rooms")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "file:42", gjson.GetBytes(body, "rooms.0.room_id").String())
	require.EqualValues(t, 1, gjson.GetBytes(body, "rooms.0.participants").Int())

	code, body = get("/rooms/file:42/participants")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "alice", gjson.GetBytes(body, "participants.0.user_id").String())
	require.Equal(t, "online", gjson.GetBytes(body, "participants.0.status").String())

	code, body = get("/rooms/-bad/participants")
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, domain.CodeMalformedPayload, gjson.GetBytes(body, "code").String())

	code, body = get("/healthz")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "ok", gjson.GetBytes(body, "status").String())
	require.EqualValues(t, 1, gjson.GetBytes(body, "stats.active_rooms").Int())

	code, body = get("/metrics")
	require.Equal(t, http.StatusOK, code)
	require.Contains(t, string(body), "collab_rooms_active 1")
}

func TestGRPC(t *testing.T) {
	t.Parallel()
	s := newStack(t)
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	server := grpc.NewServer()
	collabpb.RegisterCollabServer(server, adaptor.NewAdaptor(s.logger, s.uc, s.clock))
	go func() { _ = server.Serve(lis) }()
	t.Cleanup(server.Stop)

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()
	client := collabpb.NewCollabClient(conn)

	args := func(v map[string]any) *structpb.Struct {
		st, err := structpb.NewStruct(v)
		require.NoError(t, err)
		return st
	}

	_, err = client.RegisterRoom(ctx, args(map[string]any{"room_id": "file:42"}))
	require.NoError(t, err)
	_, err = client.RegisterRoom(ctx, args(map[string]any{"room_id": "file:42"}))
	require.Equal(t, codes.AlreadyExists, status.Code(err))
	_, err = client.RegisterRoom(ctx, args(map[string]any{"room_id": ""}))
	require.Equal(t, codes.InvalidArgument, status.Code(err))

	streamCtx := metadata.AppendToOutgoingContext(ctx, collabpb.UserIDMetadata, "u-7", collabpb.UserNameMetadata, "Seven")
	stream, err := client.Connect(streamCtx)
	require.NoError(t, err)
	frame, err := collabpb.EncodeFrame([]byte(`{"event":"join_room","data":{"room_id":"file:42","user_id":"ignored"}}`))
	require.NoError(t, err)
	require.NoError(t, stream.Send(frame))

	msg, err := stream.Recv()
	require.NoError(t, err)
	data, err := collabpb.DecodeFrame(msg)
	require.NoError(t, err)
	require.Equal(t, "room_snapshot", gjson.GetBytes(data, "event").String())
	require.Equal(t, "u-7", gjson.GetBytes(data, "data.self.user_id").String())
	require.Equal(t, "Seven", gjson.GetBytes(data, "data.self.display_name").String())

	out, err := client.ListParticipants(ctx, args(map[string]any{"room_id": "file:42"}))
	require.NoError(t, err)
	participants := out.GetFields()["participants"].GetListValue().GetValues()
	require.Len(t, participants, 1)
	require.Equal(t, "u-7", participants[0].GetStructValue().GetFields()["user_id"].GetStringValue())

	out, err = client.ListRooms(ctx, args(nil))
	require.NoError(t, err)
	raw, err := collabpb.DecodeFrame(out)
	require.NoError(t, err)
	require.Equal(t, "file:42", gjson.GetBytes(raw, "active.0.room_id").String())
	require.Equal(t, "file:42", gjson.GetBytes(raw, "registered.0.id").String())

	// Audit export is asynchronous.
	require.Eventually(t, func() bool {
		out, err := client.SearchAudit(ctx, args(map[string]any{"room_id": "file:42", "pattern": "^join$"}))
		if err != nil {
			return false
		}
		events := out.GetFields()["events"].GetListValue().GetValues()
		return len(events) == 1 && events[0].GetStructValue().GetFields()["user_id"].GetStringValue() == "u-7"
	}, testTimeout, 20*time.Millisecond)

	require.NoError(t, stream.CloseSend())
	_, err = stream.Recv()
	require.Error(t, err)

	_, err = client.UnregisterRoom(ctx, args(map[string]any{"room_id": "file:42"}))
	require.NoError(t, err)
	_, err = client.UnregisterRoom(ctx, args(map[string]any{"room_id": "file:42"}))
	require.Equal(t, codes.NotFound, status.Code(err))
}

func TestCollabpb_FrameRoundTrip(t *testing.T) {
	t.Parallel()

	in := []byte(`{"event":"heartbeat","data":{"timestamp":1700000000000}}`)
	st, err := collabpb.EncodeFrame(in)
	require.NoError(t, err)
	out, err := collabpb.DecodeFrame(st)
	require.NoError(t, err)
	req, err := domain.DecodeRequest(out)
	require.NoError(t, err)
	require.Equal(t, domain.RequestHeartbeat, req.Type)
	require.EqualValues(t, 1700000000000, req.Timestamp)

	var v map[string]any
	require.NoError(t, json.Unmarshal(out, &v))
	require.Equal(t, "heartbeat", v["event"])
}
