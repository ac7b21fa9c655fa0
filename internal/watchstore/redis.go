// SPDX-License-Identifier: MIT

package watchstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vidmember/watchtrack/internal/clock"
	wtlog "github.com/vidmember/watchtrack/internal/log"
)

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"keyPrefix"`
	// MaxEvents caps the history kept per (user, video). Older events are trimmed.
	MaxEvents int `yaml:"maxEvents"`
}

const (
	defaultKeyPrefix = "watchtrack"
	defaultMaxEvents = 500
)

// RedisStore keeps each (user, video) history as a Redis list, newest first.
type RedisStore struct {
	client    *redis.Client
	clk       clock.Clock
	prefix    string
	maxEvents int64
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(cfg RedisConfig, clk clock.Clock) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, errors.New("watchstore: redis backend requires an address")
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("watchstore: redis connection failed: %w", err)
	}

	logger := wtlog.WithComponent("watchstore")
	logger.Info().
		Str("addr", cfg.Addr).
		Int("db", cfg.DB).
		Msg("connected to redis")

	return newRedisStore(client, cfg, clk), nil
}

func newRedisStore(client *redis.Client, cfg RedisConfig, clk clock.Clock) *RedisStore {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	maxEvents := cfg.MaxEvents
	if maxEvents <= 0 {
		maxEvents = defaultMaxEvents
	}
	return &RedisStore{client: client, clk: clk, prefix: prefix, maxEvents: int64(maxEvents)}
}

func (s *RedisStore) key(userID, hostID string) string {
	return fmt.Sprintf("%s:events:{%s}:%s", s.prefix, userID, hostID)
}

func (s *RedisStore) Create(ctx context.Context, ev Event) (Event, error) {
	ev, err := prepare(ev, s.clk)
	if err != nil {
		return Event{}, err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return Event{}, fmt.Errorf("watchstore: encode event: %w", err)
	}

	key := s.key(ev.UserID, ev.HostID)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, key, data)
		pipe.LTrim(ctx, key, 0, s.maxEvents-1)
		return nil
	})
	if err != nil {
		return Event{}, fmt.Errorf("watchstore: redis push: %w", err)
	}
	return ev, nil
}

func (s *RedisStore) Latest(ctx context.Context, userID, hostID string) (*Event, error) {
	data, err := s.client.LIndex(ctx, s.key(userID, hostID), 0).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("watchstore: redis latest: %w", err)
	}
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("watchstore: decode event: %w", err)
	}
	return &ev, nil
}

func (s *RedisStore) List(ctx context.Context, userID, hostID string, limit int) ([]Event, error) {
	raw, err := s.client.LRange(ctx, s.key(userID, hostID), 0, int64(clampLimit(limit))-1).Result()
	if err != nil {
		return nil, fmt.Errorf("watchstore: redis list: %w", err)
	}
	out := make([]Event, 0, len(raw))
	for _, item := range raw {
		var ev Event
		if err := json.Unmarshal([]byte(item), &ev); err != nil {
			return nil, fmt.Errorf("watchstore: decode event: %w", err)
		}
		out = append(out, ev)
	}
	return out, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
