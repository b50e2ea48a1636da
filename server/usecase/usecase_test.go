package usecase_test

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"go.uber.org/goleak"
	"golang.org/x/xerrors"

	"cdr.dev/slog/v3"
	"cdr.dev/slog/v3/sloggers/slogtest"

	"github.com/ponyo877/collab/server/domain"
	"github.com/ponyo877/collab/server/usecase"
)

const testTimeout = 5 * time.Second

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeRepo struct {
	mu     sync.Mutex
	rooms  map[string]time.Time
	audits []domain.AuditEvent
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{rooms: map[string]time.Time{}}
}

func (f *fakeRepo) CreateRoom(_ context.Context, roomID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rooms[roomID]; ok {
		return domain.ErrRoomExists
	}
	f.rooms[roomID] = time.Now()
	return nil
}

func (f *fakeRepo) DeleteRoom(_ context.Context, roomID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rooms[roomID]; !ok {
		return domain.ErrRoomNotFound
	}
	delete(f.rooms, roomID)
	return nil
}

func (f *fakeRepo) RoomExists(_ context.Context, roomID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.rooms[roomID]
	return ok, nil
}

func (f *fakeRepo) ListRooms(context.Context) ([]domain.RegisteredRoom, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rooms := make([]domain.RegisteredRoom, 0, len(f.rooms))
	for id, at := range f.rooms {
		rooms = append(rooms, domain.RegisteredRoom{ID: id, CreatedAt: at})
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].ID < rooms[j].ID })
	return rooms, nil
}

func (f *fakeRepo) CreateAuditEvent(_ context.Context, event domain.AuditEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audits = append(f.audits, event)
	return nil
}

func (f *fakeRepo) SearchAuditEvents(_ context.Context, roomID, _ string, limit int) ([]domain.AuditEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var events []domain.AuditEvent
	for _, e := range f.audits {
		if e.RoomID == roomID && len(events) < limit {
			events = append(events, e)
		}
	}
	return events, nil
}

type fixture struct {
	t       *testing.T
	ctx     context.Context
	clock   *quartz.Mock
	repo    *fakeRepo
	manager domain.StreamManager
	stream  *usecase.StreamUsecase
}

func newFixture(t *testing.T, opts ...usecase.StreamOption) *fixture {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	t.Cleanup(cancel)

	logger := slogtest.Make(t, &slogtest.Options{IgnoreErrors: true}).Leveled(slog.LevelDebug)
	clock := quartz.NewMock(t)
	cfg := domain.DefaultConfig()
	cfg.IdleThreshold = time.Minute
	manager := domain.NewStreamManager(logger, clock, cfg)
	t.Cleanup(func() { _ = manager.Close() })
	repo := newFakeRepo()
	return &fixture{
		t:       t,
		ctx:     ctx,
		clock:   clock,
		repo:    repo,
		manager: manager,
		stream:  usecase.NewStreamUsecase(logger, repo, manager, clock, opts...),
	}
}

type conn struct {
	t         *testing.T
	session   domain.StreamSession
	frames    chan []byte
	responses chan domain.StreamResponse
	done      chan error
	closed    bool
	err       error
}

// open serves a connection until close is called.
func (f *fixture) open(session domain.StreamSession) *conn {
	c := &conn{
		t:         f.t,
		session:   session,
		frames:    make(chan []byte),
		responses: make(chan domain.StreamResponse, 64),
		done:      make(chan error, 1),
	}
	go func() {
		c.done <- f.stream.HandleStreamSession(f.ctx, c.frames, c.responses, session)
	}()
	f.t.Cleanup(func() { _ = c.close() })
	return c
}

func (f *fixture) session() domain.StreamSession {
	return domain.NewStreamSession(domain.NewSessionID(), "10.0.0.1:4000", "test", f.clock.Now())
}

func (c *conn) send(frame string) {
	c.t.Helper()
	select {
	case c.frames <- []byte(frame):
	case <-time.After(testTimeout):
		require.FailNow(c.t, "timed out sending frame")
	}
}

func (c *conn) next() domain.DecodedResponse {
	c.t.Helper()
	select {
	case resp := <-c.responses:
		d, err := domain.DecodeResponse(resp.Payload)
		require.NoError(c.t, err)
		return d
	case <-time.After(testTimeout):
		require.FailNow(c.t, "timed out waiting for event")
		return domain.DecodedResponse{}
	}
}

// close ends the connection the way a dropped transport does.
func (c *conn) close() error {
	if !c.closed {
		c.closed = true
		close(c.frames)
		c.err = <-c.done
	}
	return c.err
}

func (c *conn) expectError(code, request string) {
	c.t.Helper()
	d := c.next()
	require.Equal(c.t, "error", d.Event)
	require.Equal(c.t, code, gjson.GetBytes(d.Data, "code").String())
	require.Equal(c.t, request, gjson.GetBytes(d.Data, "request").String())
}

func TestHandleStreamSession(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	alice := f.open(f.session())
	alice.send(`{"event":"join_room","data":{"room_id":"file:42","user_id":"alice"}}`)
	snapshot := alice.next()
	require.Equal(t, "room_snapshot", snapshot.Event)
	require.Equal(t, "alice", gjson.GetBytes(snapshot.Data, "self.user_id").String())

	bob := f.open(f.session())
	bob.send(`{"event":"join_room","data":{"room_id":"file:42","user_id":"bob","role":"viewer"}}`)
	require.Equal(t, "room_snapshot", bob.next().Event)
	require.Equal(t, "participant_joined", alice.next().Event)

	alice.send(`{"event":"diagram_update","data":{"payload":{"type":"shape_added","shape_id":"s9","kind":"ellipse","x":1,"y":2}}}`)
	update := bob.next()
	require.Equal(t, "update", update.Event)
	require.Equal(t, "ellipse", gjson.GetBytes(update.Data, "payload.kind").String())

	bob.send(`{"event":"diagram_update","data":{"payload":{"type":"shape_deleted","shape_id":"s9"}}}`)
	bob.expectError(domain.CodeForbidden, "diagram_update")

	alice.send(`{"event":"diagram_update","data":{"payload":{"type":"document","body":"<svg/>"}}}`)
	alice.expectError(domain.CodeMalformedPayload, "diagram_update")
	alice.send(`{not json`)
	alice.expectError(domain.CodeMalformedPayload, "")
	alice.send(`{"event":"leave_room","data":{"room_id":"file:7"}}`)
	alice.expectError(domain.CodeNotJoined, "leave_room")

	// Closing the transport is a disconnect, not a leave: bob hears nothing
	// until the grace period runs out.
	require.NoError(t, alice.close())
	require.Len(t, f.manager.Participants("file:42"), 1)

	f.clock.Advance(domain.DefaultConfig().GracePeriod).MustWait(f.ctx)
	require.Equal(t, "presence_changed", bob.next().Event)
	left := bob.next()
	require.Equal(t, "participant_left", left.Event)
	require.Equal(t, "alice", gjson.GetBytes(left.Data, "user_id").String())
}

func TestHandleStreamSession_NotJoined(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	c := f.open(f.session())
	c.send(`{"event":"cursor_move","data":{"x":1,"y":2}}`)
	c.expectError(domain.CodeNotJoined, "cursor_move")
	c.send(`{"event":"heartbeat","data":{"timestamp":1}}`)
	c.expectError(domain.CodeNotJoined, "heartbeat")
}

func TestHandleStreamSession_RegisteredRooms(t *testing.T) {
	t.Parallel()
	f := newFixture(t, usecase.WithRegisteredRooms(true))
	uc := usecase.NewUsecase(f.repo, f.stream)

	c := f.open(f.session())
	c.send(`{"event":"join_room","data":{"room_id":"file:42","user_id":"alice"}}`)
	c.expectError(domain.CodeUnknownRoom, "join_room")

	require.NoError(t, uc.RegisterRoom(f.ctx, "file:42"))
	c.send(`{"event":"join_room","data":{"room_id":"file:42","user_id":"alice"}}`)
	require.Equal(t, "room_snapshot", c.next().Event)

	err := uc.RegisterRoom(f.ctx, "file:42")
	require.True(t, xerrors.Is(err, domain.ErrRoomExists))
	err = uc.RegisterRoom(f.ctx, "bad room")
	require.True(t, xerrors.Is(err, domain.ErrMalformedRequest))

	rooms, err := uc.ListRegisteredRooms(f.ctx)
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	require.Equal(t, "file:42", rooms[0].ID)

	require.NoError(t, uc.UnregisterRoom(f.ctx, "file:42"))
	err = uc.UnregisterRoom(f.ctx, "file:42")
	require.True(t, xerrors.Is(err, domain.ErrRoomNotFound))
}

func TestHandleStreamSession_TrustedIdentity(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	c := f.open(f.session().WithIdentity("u-1001", "Verified"))
	c.send(`{"event":"join_room","data":{"room_id":"file:42","user_id":"someone-else"}}`)
	snapshot := c.next()
	require.Equal(t, "u-1001", gjson.GetBytes(snapshot.Data, "self.user_id").String())
	require.Equal(t, "Verified", gjson.GetBytes(snapshot.Data, "self.display_name").String())
}

func TestRunSweeper(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	trap := f.clock.Trap().TickerFunc("sweeper")
	defer trap.Close()

	c := f.open(f.session())
	c.send(`{"event":"join_room","data":{"room_id":"file:42","user_id":"alice"}}`)
	require.Equal(t, "room_snapshot", c.next().Event)

	ctx, cancel := context.WithCancel(f.ctx)
	done := make(chan error, 1)
	go func() {
		done <- f.stream.RunSweeper(ctx, time.Minute)
	}()
	trap.MustWait(f.ctx).MustRelease(f.ctx)

	f.clock.Advance(time.Minute).MustWait(f.ctx)
	participants := f.manager.Participants("file:42")
	require.Len(t, participants, 1)
	require.Equal(t, domain.StatusAway, participants[0].Status)

	// Any activity brings the participant back.
	c.send(`{"event":"typing_status","data":{"is_typing":true}}`)
	require.Eventually(t, func() bool {
		return f.manager.Participants("file:42")[0].Status == domain.StatusOnline
	}, testTimeout, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestUsecase_Queries(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	uc := usecase.NewUsecase(f.repo, f.stream)

	c := f.open(f.session())
	c.send(`{"event":"join_room","data":{"room_id":"file:42","user_id":"alice"}}`)
	require.Equal(t, "room_snapshot", c.next().Event)

	participants, err := uc.ListParticipants("file:42")
	require.NoError(t, err)
	require.Len(t, participants, 1)
	_, err = uc.ListParticipants("")
	require.True(t, xerrors.Is(err, domain.ErrMalformedRequest))

	rooms := uc.ListActiveRooms()
	require.Len(t, rooms, 1)
	require.Equal(t, 1, rooms[0].Participants)
	require.Equal(t, 1, uc.Stats().ActiveSessions)

	require.NoError(t, f.repo.CreateAuditEvent(f.ctx, domain.NewAuditEvent(participants[0], domain.AuditJoin, "", f.clock.Now())))
	events, err := uc.SearchAudit(f.ctx, "file:42", "alice", 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	_, err = uc.SearchAudit(f.ctx, "file:42", "(", 0)
	require.True(t, xerrors.Is(err, domain.ErrMalformedRequest))
}
