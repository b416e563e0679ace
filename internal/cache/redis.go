package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	goredis "github.com/go-redis/redis/v8"
)

const (
	defaultKeyPrefix = "marketdash:cache:"
	// Redis expiry is a retention bound, not the freshness TTL. Entries
	// outlive their TTL so the websocket hub can still replay them.
	defaultRetention = 24 * time.Hour
)

// RedisConfig configures the Redis store.
type RedisConfig struct {
	Addr      string // Redis address, e.g. "localhost:6379"
	Password  string
	DB        int
	KeyPrefix string
	Retention time.Duration
}

// RedisStore shares cached payloads between service replicas.
type RedisStore struct {
	client    *goredis.Client
	prefix    string
	retention time.Duration
}

// envelope is the JSON stored under each key.
type envelope struct {
	Payload    json.RawMessage `json:"payload"`
	ComputedAt int64           `json:"computedAt"` // epoch ms
}

// NewRedisStore connects and pings the server.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	retention := cfg.Retention
	if retention <= 0 {
		retention = defaultRetention
	}

	log.Printf("[redis] connected to %s (prefix=%s, retention=%s)", cfg.Addr, prefix, retention)
	return &RedisStore{client: client, prefix: prefix, retention: retention}, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (Entry, bool, error) {
	data, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Entry{}, false, fmt.Errorf("redis decode %s: %w", key, err)
	}
	return Entry{Payload: env.Payload, ComputedAt: time.UnixMilli(env.ComputedAt).UTC()}, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, e Entry) error {
	data, err := json.Marshal(envelope{Payload: e.Payload, ComputedAt: e.ComputedAt.UnixMilli()})
	if err != nil {
		return fmt.Errorf("redis encode %s: %w", key, err)
	}
	if err := s.client.Set(ctx, s.prefix+key, data, s.retention).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Ping checks the connection (health checks).
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Client exposes the underlying connection for PubSub.
func (s *RedisStore) Client() *goredis.Client { return s.client }

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
