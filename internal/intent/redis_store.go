// Package intent stores armed resolution intents in Redis. Intents are
// ephemeral session state: a TTL bounds how long an armed resolution stays
// consumable, and consumption is a single GETDEL so concurrent mutation
// attempts (two tabs on the same form) yield exactly one bypass.
package intent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"mercato/api/internal/locks"
)

type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client), nil
}

func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "lockintent:",
	}
}

func (s *RedisStore) key(tenantID, conflictID string) string {
	return s.prefix + tenantID + ":" + conflictID
}

func (s *RedisStore) Arm(ctx context.Context, tenantID, conflictID string, armed locks.Intent, ttl time.Duration) error {
	data, err := json.Marshal(armed)
	if err != nil {
		return fmt.Errorf("marshal intent: %w", err)
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	if err := s.client.Set(ctx, s.key(tenantID, conflictID), data, ttl).Err(); err != nil {
		return fmt.Errorf("arm intent: %w", err)
	}
	return nil
}

// Consume removes and returns the armed intent in one atomic step. The
// second of two racing consumers sees (zero, false, nil).
func (s *RedisStore) Consume(ctx context.Context, tenantID, conflictID string) (locks.Intent, bool, error) {
	data, err := s.client.GetDel(ctx, s.key(tenantID, conflictID)).Result()
	if errors.Is(err, redis.Nil) {
		return locks.Intent{}, false, nil
	}
	if err != nil {
		return locks.Intent{}, false, fmt.Errorf("consume intent: %w", err)
	}

	var armed locks.Intent
	if err := json.Unmarshal([]byte(data), &armed); err != nil {
		return locks.Intent{}, false, fmt.Errorf("unmarshal intent: %w", err)
	}
	return armed, true, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
