package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// windowScript increments a counter and sets its expiry only on the increment
// that created it, as one atomic server-side step.
var windowScript = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n
`)

// RedisOptions configures NewRedisBackend.
type RedisOptions struct {
	// URL is a redis:// or rediss:// connection URL.
	URL string
	// Timeout applies to dial, read and write. Keep it short so a sick cache
	// never dominates request latency.
	Timeout time.Duration
	// PoolSize overrides go-redis' default when positive.
	PoolSize int
}

// RedisBackend implements Backend on a shared go-redis client. The client
// dials lazily and pools connections, so construction never touches the
// network and an unreachable server only surfaces as per-call errors.
type RedisBackend struct {
	client *redis.Client
}

// NewRedisBackend parses opts.URL and builds the client.
func NewRedisBackend(opts RedisOptions) (*RedisBackend, error) {
	o, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if opts.Timeout > 0 {
		o.DialTimeout = opts.Timeout
		o.ReadTimeout = opts.Timeout
		o.WriteTimeout = opts.Timeout
	}
	if opts.PoolSize > 0 {
		o.PoolSize = opts.PoolSize
	}
	return &RedisBackend{client: redis.NewClient(o)}, nil
}

// NewRedisBackendFromClient wraps an existing client. Close closes it.
func NewRedisBackendFromClient(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client}
}

// Get implements Backend.Get.
func (b *RedisBackend) Get(ctx context.Context, key string) ([]byte, error) {
	raw, err := b.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return raw, nil
}

// Set implements Backend.Set.
func (b *RedisBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return errInvalidTTL
	}
	return b.client.Set(ctx, key, value, ttl).Err()
}

// Delete implements Backend.Delete.
func (b *RedisBackend) Delete(ctx context.Context, key string) error {
	return b.client.Del(ctx, key).Err()
}

// IncrWindow implements Backend.IncrWindow with windowScript.
func (b *RedisBackend) IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error) {
	ms := window.Milliseconds()
	if ms <= 0 {
		return 0, errInvalidTTL
	}
	return windowScript.Run(ctx, b.client, []string{key}, ms).Int64()
}

// Ping implements Backend.Ping.
func (b *RedisBackend) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Close implements Backend.Close.
func (b *RedisBackend) Close() error {
	return b.client.Close()
}
