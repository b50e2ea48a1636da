package cmd

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/c-bata/go-prompt"
	"github.com/coder/quartz"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"cdr.dev/slog/v3"
	"cdr.dev/slog/v3/sloggers/slogtest"

	"github.com/ponyo877/collab/server/adaptor"
	"github.com/ponyo877/collab/server/adaptor/collabpb"
	"github.com/ponyo877/collab/server/audit"
	"github.com/ponyo877/collab/server/domain"
	"github.com/ponyo877/collab/server/repository"
	"github.com/ponyo877/collab/server/usecase"
)

const testTimeout = 10 * time.Second

// startServer runs a collab gRPC server on a loopback port and points the
// CLI at it.
func startServer(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	logger := slogtest.Make(t, &slogtest.Options{IgnoreErrors: true}).Leveled(slog.LevelDebug)
	clock := quartz.NewReal()

	db, err := repository.Open(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	repo := repository.NewRepository(db)

	auditor := audit.New(logger, 0, audit.NewStore(repo))
	t.Cleanup(func() { _ = auditor.Close() })
	manager := domain.NewStreamManager(logger, clock, domain.DefaultConfig(), domain.WithAuditor(auditor))
	t.Cleanup(func() { _ = manager.Close() })
	stream := usecase.NewStreamUsecase(logger, repo, manager, clock, usecase.WithRegisteredRooms(true))

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	server := grpc.NewServer()
	collabpb.RegisterCollabServer(server, adaptor.NewAdaptor(logger, usecase.NewUsecase(repo, stream), clock))
	go func() { _ = server.Serve(lis) }()
	t.Cleanup(server.Stop)

	t.Setenv("HOME", t.TempDir())
	viper.Set(grpcServerAddressKey, lis.Addr().String())
	viper.Set(userIDKey, "tester")
	viper.Set(displayNameKey, "Tester")
	viper.Set(currentRoomKey, "")
}

func run(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.ExecuteContext(context.Background()))
	resetFlags(rootCmd)
	return out.String()
}

func TestCommands(t *testing.T) {
	startServer(t)

	require.Contains(t, run(t, "who"), errNoRoom.Error())
	require.Contains(t, run(t, "mkroom", "file:1"), "Room registered: file:1")
	require.Contains(t, run(t, "mkroom", "file:1"), "AlreadyExists")

	run(t, "cd", "file:1")
	require.Equal(t, "file:1\n", run(t, "pwd"))
	require.Contains(t, run(t, "id"), "uid=tester name=Tester room=file:1 color=#")

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	conn, err := grpc.NewClient(grpcServerAddress, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()
	watcher, err := joinRoom(ctx, collabpb.NewCollabClient(conn), "file:1", domain.RoleViewer)
	require.NoError(t, err)
	require.NoError(t, waitFor(watcher, domain.EventRoomSnapshot))

	who := run(t, "who")
	require.Contains(t, who, "tester")
	require.Contains(t, who, "viewing")
	require.Contains(t, run(t, "ls"), "LIVE   1")

	out := run(t, "echo", `{"type":"shape_moved","shape_id":"s1","x":1,"y":2}`)
	require.Contains(t, out, "Published shape_moved to file:1")
	for {
		response, _, err := watcher.recv()
		require.NoError(t, err)
		if response.Event == domain.EventUpdate.String() {
			require.EqualValues(t, 1, gjson.GetBytes(response.Data, "payload.x").Int())
			break
		}
	}

	require.Contains(t, run(t, "echo", `{"type":"shape_moved"}`), domain.CodeMalformedPayload)
	require.Contains(t, run(t, "echo", `not json`), "not valid JSON")
	require.Contains(t, run(t, "tail"), `"event":"room_snapshot"`)

	require.Eventually(t, func() bool {
		return bytes.Contains([]byte(run(t, "grep", "^join$")), []byte("tester"))
	}, testTimeout, 50*time.Millisecond)

	require.NoError(t, watcher.close())
	require.Contains(t, run(t, "rmroom", "file:1"), "Removed: file:1")
	require.Empty(t, viper.GetString(currentRoomKey))
	require.Contains(t, run(t, "echo", `{"type":"cursor","x":1,"y":1}`, "file:1"), domain.CodeUnknownRoom)
}

func TestBoard(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	alice := domain.NewParticipant("c1", "file:1", "alice", "Alice", domain.RoleEditor, now)
	bob := domain.NewParticipant("c2", "file:1", "bob", "Bob", domain.RoleEditor, now.Add(time.Second))

	apply := func(b *board, event domain.StreamEvent) string {
		t.Helper()
		response, err := domain.NewStreamResponse(event)
		require.NoError(t, err)
		decoded, err := domain.DecodeResponse(response.Payload)
		require.NoError(t, err)
		line, err := b.apply(decoded)
		require.NoError(t, err)
		return line
	}

	b := newBoard()
	line := apply(b, domain.NewRoomSnapshotEvent(bob, []domain.Participant{alice}, now))
	require.Equal(t, "joined file:1 with 1 others", line)
	rows := b.rows()
	require.Len(t, rows, 2)
	require.Equal(t, "alice", rows[0].UserID)

	apply(b, domain.NewUpdateEvent(alice, domain.NewCursorDelta(3, 4), now))
	require.Equal(t, &domain.Cursor{X: 3, Y: 4}, b.rows()[0].Cursor)

	alice.Status = domain.StatusAway
	apply(b, domain.NewPresenceChangedEvent(alice, now))
	require.Equal(t, domain.StatusAway, b.rows()[0].Status)

	require.Equal(t, "alice left", apply(b, domain.NewParticipantLeftEvent(alice, now)))
	require.Len(t, b.rows(), 1)
}

type staticRooms []string

func (r staticRooms) get() []string { return r }

func TestCompleter(t *testing.T) {
	t.Parallel()

	complete := completer(rootCmd, staticRooms{"file:1", "file:2", "other"})
	texts := func(text string) []string {
		buf := prompt.NewBuffer()
		buf.InsertText(text, false, true)
		var out []string
		for _, s := range complete(*buf.Document()) {
			out = append(out, s.Text)
		}
		return out
	}

	require.Contains(t, texts("wh"), "who")
	require.NotContains(t, texts("wh"), "tail")
	require.Equal(t, []string{"file:1", "file:2"}, texts("who fi"))
	require.Empty(t, texts("tail -"))
}

func TestTargetRoom(t *testing.T) {
	viper.Set(currentRoomKey, "file:9")
	t.Cleanup(func() { viper.Set(currentRoomKey, "") })

	room, err := targetRoom(nil, 0)
	require.NoError(t, err)
	require.Equal(t, "file:9", room)

	room, err = targetRoom([]string{"payload", "file:3"}, 1)
	require.NoError(t, err)
	require.Equal(t, "file:3", room)

	_, err = targetRoom([]string{"bad room"}, 0)
	require.Error(t, err)
}
