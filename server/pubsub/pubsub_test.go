package pubsub_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"cdr.dev/slog/v3/sloggers/slogtest"

	"github.com/ponyo877/collab/server/pubsub"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recorder struct {
	mu       sync.Mutex
	messages []string
}

func (r *recorder) listener(_ context.Context, message []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, string(message))
}

func (r *recorder) got() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.messages...)
}

func TestRoomEvent(t *testing.T) {
	t.Parallel()
	require.Equal(t, "collab:room:file:42", pubsub.RoomEvent("file:42"))
}

func TestMemory(t *testing.T) {
	t.Parallel()

	ps := pubsub.NewInMemory()
	defer ps.Close()

	event := pubsub.RoomEvent("file:42")
	var first, second recorder
	cancelFirst, err := ps.Subscribe(event, first.listener)
	require.NoError(t, err)
	cancelSecond, err := ps.Subscribe(event, second.listener)
	require.NoError(t, err)
	require.Equal(t, 2, ps.Subscribers(event))

	// Publish waits for listeners, so the messages are visible right away.
	require.NoError(t, ps.Publish(event, []byte("one")))
	require.NoError(t, ps.Publish(pubsub.RoomEvent("other"), []byte("ignored")))
	require.Equal(t, []string{"one"}, first.got())
	require.Equal(t, []string{"one"}, second.got())

	cancelFirst()
	require.NoError(t, ps.Publish(event, []byte("two")))
	require.Equal(t, []string{"one"}, first.got())
	require.Equal(t, []string{"one", "two"}, second.got())

	cancelSecond()
	require.Zero(t, ps.Subscribers(event))
}

func TestRedis(t *testing.T) {
	t.Parallel()

	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	defer client.Close()

	ctx := context.Background()
	ps, err := pubsub.NewRedis(ctx, slogtest.Make(t, nil), client)
	require.NoError(t, err)
	defer ps.Close()

	event := pubsub.RoomEvent("file:42")
	var rec recorder
	cancel, err := ps.Subscribe(event, rec.listener)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return srv.PubSubNumSub(event)[event] == 1
	}, 5*time.Second, 10*time.Millisecond)

	for _, msg := range []string{"a", "b", "c"} {
		require.NoError(t, ps.Publish(event, []byte(msg)))
	}
	require.Eventually(t, func() bool {
		return len(rec.got()) == 3
	}, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, []string{"a", "b", "c"}, rec.got())

	cancel()
	require.Eventually(t, func() bool {
		return srv.PubSubNumSub(event)[event] == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestRedis_Unreachable(t *testing.T) {
	t.Parallel()

	srv := miniredis.RunT(t)
	addr := srv.Addr()
	srv.Close()

	client := redis.NewClient(&redis.Options{Addr: addr, MaxRetries: -1})
	defer client.Close()
	_, err := pubsub.NewRedis(context.Background(), slogtest.Make(t, nil), client)
	require.Error(t, err)
}
