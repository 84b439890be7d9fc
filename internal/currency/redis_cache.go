package currency

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache is a RateCache shared between processes. Keys live under Prefix
// and expire after TTL.
type RedisCache struct {
	Redis  *redis.Client
	Prefix string
	TTL    time.Duration
	Logger *slog.Logger
}

func NewRedisCache(client *redis.Client, prefix string, ttl time.Duration, logger *slog.Logger) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisCache{Redis: client, Prefix: prefix, TTL: ttl, Logger: logger}
}

func (c *RedisCache) key(raw string) string {
	if c.Prefix == "" {
		return raw
	}
	return c.Prefix + ":" + raw
}

func (c *RedisCache) Get(ctx context.Context, key string) (*CurrencyPair, bool) {
	raw, err := c.Redis.Get(ctx, c.key(key)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.Logger.Warn("rate cache read failed", "key", key, "error", err)
		}
		return nil, false
	}
	var pair CurrencyPair
	if err := json.Unmarshal(raw, &pair); err != nil {
		c.Logger.Warn("rate cache entry is malformed", "key", key, "error", err)
		return nil, false
	}
	return &pair, true
}

func (c *RedisCache) Set(ctx context.Context, key string, pair *CurrencyPair) {
	if pair == nil {
		return
	}
	raw, err := json.Marshal(pair)
	if err != nil {
		c.Logger.Warn("failed to encode rate for cache", "key", key, "error", err)
		return
	}
	if err := c.Redis.Set(ctx, c.key(key), raw, c.TTL).Err(); err != nil {
		c.Logger.Warn("rate cache write failed", "key", key, "error", err)
	}
}

// Clear deletes every key under Prefix.
func (c *RedisCache) Clear(ctx context.Context) {
	iter := c.Redis.Scan(ctx, 0, c.key("*"), 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		c.Logger.Warn("rate cache scan failed", "error", err)
		return
	}
	if len(keys) == 0 {
		return
	}
	if err := c.Redis.Del(ctx, keys...).Err(); err != nil {
		c.Logger.Warn("rate cache clear failed", "error", err)
	}
}
