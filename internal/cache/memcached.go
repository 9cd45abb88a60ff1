package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
)

const (
	// maxRelativeExp is the largest expiration memcached reads as relative;
	// anything above is taken as a unix timestamp.
	maxRelativeExp = 30 * 24 * 60 * 60
	maxKeyLen      = 250
)

var errWindowContention = errors.New("memcached: counter expired during increment")

// MemcachedBackend implements Backend on memcached.
type MemcachedBackend struct {
	client *memcache.Client
}

// NewMemcachedBackend creates a MemcachedBackend. addrs is a comma-separated list
// (e.g. "localhost:11211" or "host1:11211,host2:11211"). timeout and maxIdleConns
// configure the client; both use package defaults if zero.
func NewMemcachedBackend(addrs string, timeout time.Duration, maxIdleConns int) *MemcachedBackend {
	servers := parseAddrs(addrs)
	if len(servers) == 0 {
		servers = []string{"localhost:11211"}
	}
	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	if maxIdleConns > 0 {
		client.MaxIdleConns = maxIdleConns
	}
	return &MemcachedBackend{client: client}
}

func parseAddrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

// memcacheKey maps a logical key onto memcached's key alphabet: no whitespace
// or control bytes and at most 250 bytes. Escaping is injective, so distinct
// locations keep distinct keys.
func memcacheKey(k string) string {
	esc := url.PathEscape(k)
	if len(esc) <= maxKeyLen {
		return esc
	}
	sum := sha256.Sum256([]byte(k))
	return "sha256:" + hex.EncodeToString(sum[:])
}

// expiration converts ttl to memcached's expiration field, rounding up to
// whole seconds and switching to an absolute timestamp past 30 days.
func expiration(ttl time.Duration) int32 {
	secs := int64((ttl + time.Second - 1) / time.Second)
	if secs <= maxRelativeExp {
		return int32(secs)
	}
	return int32(time.Now().Add(ttl).Unix())
}

// Get implements Backend.Get.
func (b *MemcachedBackend) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	item, err := b.client.Get(memcacheKey(key))
	if err != nil {
		if errors.Is(err, memcache.ErrCacheMiss) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return item.Value, nil
}

// Set implements Backend.Set.
func (b *MemcachedBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ttl <= 0 {
		return errInvalidTTL
	}
	return b.client.Set(&memcache.Item{
		Key:        memcacheKey(key),
		Value:      value,
		Expiration: expiration(ttl),
	})
}

// Delete implements Backend.Delete.
func (b *MemcachedBackend) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := b.client.Delete(memcacheKey(key))
	if err != nil && !errors.Is(err, memcache.ErrCacheMiss) {
		return err
	}
	return nil
}

// IncrWindow implements Backend.IncrWindow. Add creates the counter with its
// expiry atomically and fails if it already exists; Increment never touches
// the expiry. If the counter expires between the two calls the create is
// retried once.
func (b *MemcachedBackend) IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if window <= 0 {
		return 0, errInvalidTTL
	}
	k := memcacheKey(key)
	for attempt := 0; attempt < 2; attempt++ {
		err := b.client.Add(&memcache.Item{Key: k, Value: []byte("1"), Expiration: expiration(window)})
		if err == nil {
			return 1, nil
		}
		if !errors.Is(err, memcache.ErrNotStored) {
			return 0, err
		}
		n, err := b.client.Increment(k, 1)
		if err == nil {
			return int64(n), nil
		}
		if !errors.Is(err, memcache.ErrCacheMiss) {
			return 0, err
		}
	}
	return 0, errWindowContention
}

// Ping implements Backend.Ping.
func (b *MemcachedBackend) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.client.Ping()
}

// Close implements Backend.Close.
func (b *MemcachedBackend) Close() error {
	return b.client.Close()
}

