package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// windowTTL keeps stale windows from accumulating in Redis. Two days covers
// any in-flight day rollover; an expired key is indistinguishable from a
// fresh one because a day-key mismatch resets the window anyway.
const windowTTL = 48 * time.Hour

// RedisWindowStore persists rate windows in Redis so multiple gateway
// instances can share counters. Per-key serialization still comes from the
// limiter's actors; Redis only provides durability and sharing.
type RedisWindowStore struct {
	client *redis.Client
	prefix string
}

// NewRedisWindowStore creates a store over the given client. prefix defaults
// to "rate_window:" when empty.
func NewRedisWindowStore(client *redis.Client, prefix string) *RedisWindowStore {
	if prefix == "" {
		prefix = "rate_window:"
	}
	return &RedisWindowStore{client: client, prefix: prefix}
}

func (s *RedisWindowStore) key(k string) string { return s.prefix + k }

// GetWindow retrieves the window for a key.
func (s *RedisWindowStore) GetWindow(ctx context.Context, key string) (Window, bool, error) {
	val, err := s.client.Get(ctx, s.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return Window{}, false, nil
	}
	if err != nil {
		return Window{}, false, fmt.Errorf("redis get failed: %w", err)
	}
	var w Window
	if err := json.Unmarshal([]byte(val), &w); err != nil {
		return Window{}, false, fmt.Errorf("corrupt rate window for key %q: %w", key, err)
	}
	return w, true, nil
}

// PutWindow persists the window for a key.
func (s *RedisWindowStore) PutWindow(ctx context.Context, key string, w Window) error {
	data, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("failed to marshal rate window: %w", err)
	}
	if err := s.client.Set(ctx, s.key(key), data, windowTTL).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}
