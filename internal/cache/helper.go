package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// GetJSON attempts to get the key from Redis and unmarshal into dest.
// Returns (true, nil) if found and unmarshaled, (false, nil) if not found.
func GetJSON(ctx context.Context, client *redis.Client, key string, dest any) (bool, error) {
	if client == nil {
		return false, nil
	}
	s, err := client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(s), dest); err != nil {
		return false, err
	}
	return true, nil
}

// SetJSON marshals v and sets the key with TTL.
func SetJSON(ctx context.Context, client *redis.Client, key string, v any, ttl time.Duration) error {
	if client == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return client.Set(ctx, key, b, ttl).Err()
}

// Invalidate removes keys, ignoring a nil client.
func Invalidate(ctx context.Context, client *redis.Client, keys ...string) error {
	if client == nil || len(keys) == 0 {
		return nil
	}
	return client.Del(ctx, keys...).Err()
}

// CacheAside tries Redis first, on miss it calls fetch (which should populate dest),
// then stores the result in Redis with ttl. fetch must write into dest.
// A failing Redis read degrades to fetch.
func CacheAside(ctx context.Context, client *redis.Client, key string, dest any, ttl time.Duration, fetch func() error) error {
	found, err := GetJSON(ctx, client, key, dest)
	if err == nil && found {
		return nil
	}

	if err := fetch(); err != nil {
		return err
	}

	// best-effort
	_ = SetJSON(ctx, client, key, dest, ttl)
	return nil
}
