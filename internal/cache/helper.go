package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/AndreasThinks/nodeice-board/internal/events"
	"github.com/AndreasThinks/nodeice-board/internal/observability"

	"github.com/redis/go-redis/v9"
)

const (
	StatsKey = "board:stats"
	StatsTTL = 15 * time.Second
)

// GetJSON reads key into dest. It reports false on a miss or when Redis is
// unavailable.
func GetJSON(ctx context.Context, key string, dest any) (bool, error) {
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

// SetJSON stores v under key with ttl.
func SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	if client == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return client.Set(ctx, key, b, ttl).Err()
}

// Aside returns the cached value for key, or calls fetch and caches its
// result. Cache errors never fail the read.
func Aside[T any](ctx context.Context, key string, ttl time.Duration, fetch func(context.Context) (T, error)) (T, error) {
	var cached T
	found, err := GetJSON(ctx, key, &cached)
	if err != nil {
		observability.Logger.WarnContext(ctx, "Cache read failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
	if found {
		return cached, nil
	}

	v, err := fetch(ctx)
	if err != nil {
		return v, err
	}
	if err := SetJSON(ctx, key, v, ttl); err != nil {
		observability.Logger.WarnContext(ctx, "Cache write failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
	return v, nil
}

// Invalidate removes key.
func Invalidate(ctx context.Context, key string) {
	if client == nil {
		return
	}
	if err := client.Del(ctx, key).Err(); err != nil {
		observability.Logger.WarnContext(ctx, "Cache invalidation failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
}

// StatsInvalidator drops the cached board stats on every board event.
func StatsInvalidator() events.Listener {
	return events.ListenerFunc(func(ctx context.Context, _ events.Event) {
		Invalidate(ctx, StatsKey)
	})
}
