package cmd

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"cdr.dev/slog/v3/sloggers/slogtest"

	"github.com/ponyo877/collab/server/domain"
	"github.com/ponyo877/collab/server/repository"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRoomsAndAudit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "collab.db")

	out, err := run(t, "--db", path, "rooms", "add", "file:1", "file:2")
	require.NoError(t, err)
	require.Contains(t, out, "Registered: file:2")

	_, err = run(t, "--db", path, "rooms", "add", "file:1")
	require.ErrorIs(t, err, domain.ErrRoomExists)

	_, err = run(t, "--db", path, "rooms", "add", "bad id")
	require.Error(t, err)

	out, err = run(t, "--db", path, "rooms", "rm", "file:2")
	require.NoError(t, err)
	require.Contains(t, out, "Removed: file:2")

	out, err = run(t, "--db", path, "rooms", "ls")
	require.NoError(t, err)
	require.Contains(t, out, "file:1")
	require.NotContains(t, out, "file:2")

	ctx := context.Background()
	db, err := repository.Open(ctx, path)
	require.NoError(t, err)
	repo := repository.NewRepository(db)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for _, user := range []string{"alice", "bob"} {
		p := domain.NewParticipant("c-"+user, "file:1", user, user, domain.RoleEditor, now)
		require.NoError(t, repo.CreateAuditEvent(ctx, domain.NewAuditEvent(p, domain.AuditJoin, "127.0.0.1", now)))
	}
	require.NoError(t, db.Close())

	out, err = run(t, "--db", path, "audit", "file:1", "^bob$")
	require.NoError(t, err)
	require.Contains(t, out, "bob")
	require.NotContains(t, out, "alice")

	_, err = run(t, "--db", path, "audit", "file:1", "(")
	require.Error(t, err)
}

func TestEngineConfig(t *testing.T) {
	viper.Set(gracePeriodKey, "2s")
	viper.Set(maxPayloadBytesKey, 512)
	t.Cleanup(func() {
		viper.Set(gracePeriodKey, domain.DefaultConfig().GracePeriod)
		viper.Set(maxPayloadBytesKey, domain.DefaultConfig().MaxPayloadBytes)
	})

	cfg := engineConfig()
	require.Equal(t, 2*time.Second, cfg.GracePeriod)
	require.Equal(t, 512, cfg.MaxPayloadBytes)
	require.Equal(t, domain.DefaultConfig().IdleThreshold, cfg.IdleThreshold)
}

func TestNewPubsub(t *testing.T) {
	ctx := context.Background()
	logger := slogtest.Make(t, nil)
	t.Cleanup(func() {
		viper.Set(pubsubKey, "memory")
		viper.Set(redisAddrKey, "localhost:6379")
	})

	// A single instance has nobody to relay to.
	viper.Set(pubsubKey, "memory")
	ps, err := newPubsub(ctx, logger)
	require.NoError(t, err)
	require.Nil(t, ps)

	viper.Set(pubsubKey, "kafka")
	_, err = newPubsub(ctx, logger)
	require.Error(t, err)

	srv := miniredis.RunT(t)
	viper.Set(pubsubKey, "redis")
	viper.Set(redisAddrKey, srv.Addr())
	ps, err = newPubsub(ctx, logger)
	require.NoError(t, err)
	require.NotNil(t, ps)
	require.NoError(t, ps.Close())
}
