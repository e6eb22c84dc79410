package redis

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// ViewCache is a generic JSON-backed Redis cache for read model projections.
// A nil *ViewCache is valid and behaves as an always-empty cache.
type ViewCache[T any] struct {
	client *goredis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewViewCache creates a ViewCache; pass ttl 0 for keys that should not expire.
func NewViewCache[T any](client *goredis.Client, ttl time.Duration, logger *slog.Logger) *ViewCache[T] {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &ViewCache[T]{client: client, ttl: ttl, logger: logger}
}

// Get returns (nil, false) on a miss, a Redis error or a value that no longer decodes.
func (c *ViewCache[T]) Get(ctx context.Context, key string) (*T, bool) {
	if c == nil {
		return nil, false
	}
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, goredis.Nil) {
			c.logger.Warn("view cache read failed", "key", key, "error", err)
		}
		return nil, false
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		c.logger.Warn("view cache entry is corrupt", "key", key, "error", err)
		return nil, false
	}
	return &v, true
}

// Set stores value under every key in one pipeline. Errors are logged, not returned.
func (c *ViewCache[T]) Set(ctx context.Context, value *T, keys ...string) {
	if c == nil || len(keys) == 0 {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		c.logger.Error("view cache marshal failed", "keys", keys, "error", err)
		return
	}
	_, err = c.client.Pipelined(ctx, func(p goredis.Pipeliner) error {
		for _, key := range keys {
			p.Set(ctx, key, data, c.ttl)
		}
		return nil
	})
	if err != nil {
		c.logger.Warn("view cache write failed", "keys", keys, "error", err)
	}
}

func (c *ViewCache[T]) Delete(ctx context.Context, keys ...string) {
	if c == nil || len(keys) == 0 {
		return
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.logger.Warn("view cache delete failed", "keys", keys, "error", err)
	}
}
