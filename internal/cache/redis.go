// Package cache holds redis-backed stores shared between processes.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/goatkit/tickettransfer/internal/config"
	"github.com/goatkit/tickettransfer/internal/runner"
)

const (
	DefaultKeyPrefix = "tickettransfer:runner:"
	DefaultStatusTTL = 7 * 24 * time.Hour
)

// NewClient opens a redis client from cfg and pings it. Returns nil, nil
// when no address is configured.
func NewClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// RedisStatusStore keeps runner task status in redis so every instance
// reports the same last run.
type RedisStatusStore struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

// NewRedisStatusStore creates a store on client. Empty prefix and zero ttl
// fall back to the defaults.
func NewRedisStatusStore(client redis.Cmdable, prefix string, ttl time.Duration) *RedisStatusStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	if ttl <= 0 {
		ttl = DefaultStatusTTL
	}
	return &RedisStatusStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisStatusStore) key(task string) string {
	return s.prefix + task
}

// SaveStatus stores the status as JSON.
func (s *RedisStatusStore) SaveStatus(ctx context.Context, st runner.Status) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode status %s: %w", st.Task, err)
	}
	if err := s.client.Set(ctx, s.key(st.Task), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("save status %s: %w", st.Task, err)
	}
	return nil
}

// LoadStatus returns nil when nothing is stored for task.
func (s *RedisStatusStore) LoadStatus(ctx context.Context, task string) (*runner.Status, error) {
	data, err := s.client.Get(ctx, s.key(task)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load status %s: %w", task, err)
	}
	var st runner.Status
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("decode status %s: %w", task, err)
	}
	return &st, nil
}

var _ runner.StatusStore = (*RedisStatusStore)(nil)
