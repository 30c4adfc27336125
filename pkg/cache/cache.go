// Package cache stores JSON encoded read results with a TTL.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/ticketgraph/pkg/logger"

	"github.com/redis/go-redis/v9"
)

// Cache is a JSON key/value cache. Get reports false on a miss.
type Cache interface {
	Get(ctx context.Context, key string, out any) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Close() error
}

// RedisCache implements Cache on top of a Redis server. All keys are
// stored below prefix.
type RedisCache struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisCache connects to the Redis server at url, e.g.
// "redis://localhost:6379/0", and verifies the connection.
func NewRedisCache(ctx context.Context, url string, prefix string) (*RedisCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	rdb := redis.NewClient(opts)

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", opts.Addr, err)
	}

	logger.Info("[Cache] Connected to Redis", "addr", opts.Addr)
	return &RedisCache{rdb: rdb, prefix: prefix}, nil
}

// Client exposes the connection for other Redis users such as lease
// locks.
func (c *RedisCache) Client() *redis.Client {
	return c.rdb
}

func (c *RedisCache) key(k string) string {
	return c.prefix + k
}

func (c *RedisCache) Get(ctx context.Context, key string, out any) (bool, error) {
	raw, err := c.rdb.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("corrupt cache entry %s: %w", key, err)
	}
	return true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, c.key(key), raw, ttl).Err()
}

func (c *RedisCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.key(k)
	}
	return c.rdb.Del(ctx, full...).Err()
}

func (c *RedisCache) Close() error {
	return c.rdb.Close()
}
