package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps entries as JSON strings whose Redis TTL matches ExpiresAt, so Purge has
// nothing to do.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) Claim(ctx context.Context, id string, pending Entry, now time.Time) (Entry, bool, error) {
	payload, err := json.Marshal(pending)
	if err != nil {
		return Entry{}, false, err
	}
	key := s.prefix + id
	// A key can expire between SETNX and GET, so retry once more before giving up.
	for attempt := 0; attempt < 3; attempt++ {
		ok, err := s.client.SetNX(ctx, key, payload, ttlUntil(pending.ExpiresAt, now)).Result()
		if err != nil {
			return Entry{}, false, fmt.Errorf("idempotency: redis claim: %w", err)
		}
		if ok {
			return Entry{}, true, nil
		}
		raw, err := s.client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return Entry{}, false, fmt.Errorf("idempotency: redis read: %w", err)
		}
		var existing Entry
		if err := json.Unmarshal(raw, &existing); err != nil {
			return Entry{}, false, fmt.Errorf("idempotency: decode %s: %w", key, err)
		}
		return existing, false, nil
	}
	return Entry{}, false, fmt.Errorf("idempotency: redis claim: %s kept expiring", key)
}

func (s *RedisStore) Finish(ctx context.Context, id string, done Entry) error {
	payload, err := json.Marshal(done)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.prefix+id, payload, ttlUntil(done.ExpiresAt, time.Now())).Err()
}

func (s *RedisStore) Drop(ctx context.Context, id string) error {
	return s.client.Del(ctx, s.prefix+id).Err()
}

func (s *RedisStore) Purge(context.Context, time.Time, int) (int, error) { return 0, nil }

// Ping backs the redis health check.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func ttlUntil(expires, now time.Time) time.Duration {
	if ttl := expires.Sub(now); ttl > time.Second {
		return ttl
	}
	return time.Second
}
