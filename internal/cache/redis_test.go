package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goatkit/tickettransfer/internal/config"
	"github.com/goatkit/tickettransfer/internal/runner"
)

func TestNewClient_Disabled(t *testing.T) {
	client, err := NewClient(context.Background(), config.RedisConfig{})
	require.NoError(t, err)
	assert.Nil(t, client)
}

func TestNewClient_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := NewClient(ctx, config.RedisConfig{Addr: "127.0.0.1:1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ping redis")
}

func TestRedisStatusStore_RoundTrip(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	ctx := context.Background()
	client, err := NewClient(ctx, config.RedisConfig{Addr: addr})
	require.NoError(t, err)
	defer client.Close()

	prefix := "tickettransfer:test:" + t.Name() + ":"
	store := NewRedisStatusStore(client, prefix, time.Minute)
	t.Cleanup(func() { client.Del(ctx, prefix+"timeout_log_cleanup") })

	missing, err := store.LoadStatus(ctx, "timeout_log_cleanup")
	require.NoError(t, err)
	assert.Nil(t, missing)

	want := runner.Status{
		Task:         "timeout_log_cleanup",
		Schedule:     "0 30 3 * * *",
		LastRun:      time.Date(2026, 3, 1, 3, 30, 0, 0, time.UTC),
		LastDuration: 1500 * time.Millisecond,
		LastError:    "1 of 3 entries could not be deleted",
		Runs:         4,
		Failures:     1,
	}
	require.NoError(t, store.SaveStatus(ctx, want))

	got, err := store.LoadStatus(ctx, want.Task)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, want.Runs, got.Runs)
	assert.Equal(t, want.LastError, got.LastError)
	assert.True(t, want.LastRun.Equal(got.LastRun))

	ttl, err := client.TTL(ctx, prefix+want.Task).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}

func TestNewRedisStatusStore_Defaults(t *testing.T) {
	s := NewRedisStatusStore(nil, "", 0)
	assert.Equal(t, DefaultKeyPrefix, s.prefix)
	assert.Equal(t, DefaultStatusTTL, s.ttl)
	assert.Equal(t, DefaultKeyPrefix+"x", s.key("x"))
}
