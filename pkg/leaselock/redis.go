package leaselock

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisBackend keeps each lock as a key holding the owner token with a
// PX expiry. It serves deployments whose graph is not in PostgreSQL.
type RedisBackend struct {
	rdb    redis.UniversalClient
	prefix string
}

func NewRedis(rdb redis.UniversalClient, prefix string) *Client {
	return New(&RedisBackend{rdb: rdb, prefix: prefix})
}

func (b *RedisBackend) key(k string) string {
	return b.prefix + "lock:" + k
}

func (b *RedisBackend) TryAcquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	return b.rdb.SetNX(ctx, b.key(key), token, ttl).Result()
}

func (b *RedisBackend) Renew(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	n, err := renewScript.Run(ctx, b.rdb, []string{b.key(key)}, token, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (b *RedisBackend) Release(ctx context.Context, key, token string) error {
	return releaseScript.Run(ctx, b.rdb, []string{b.key(key)}, token).Err()
}
