package cache

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// InMemoryBackend implements Backend with a mutex-guarded map and per-entry
// expiry. Expired entries are dropped on access and by Sweep.
type InMemoryBackend struct {
	mu   sync.Mutex
	data map[string]memEntry
	now  func() time.Time
}

type memEntry struct {
	value     []byte
	expiresAt time.Time
}

// NewInMemoryBackend creates an empty in-process backend.
func NewInMemoryBackend() *InMemoryBackend {
	return &InMemoryBackend{
		data: make(map[string]memEntry),
		now:  time.Now,
	}
}

// getLocked returns the live entry for key, deleting it if expired. Caller holds mu.
func (b *InMemoryBackend) getLocked(key string) (memEntry, bool) {
	e, ok := b.data[key]
	if !ok {
		return memEntry{}, false
	}
	if !b.now().Before(e.expiresAt) {
		delete(b.data, key)
		return memEntry{}, false
	}
	return e, true
}

// Get implements Backend.Get.
func (b *InMemoryBackend) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.getLocked(key)
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, nil
}

// Set implements Backend.Set.
func (b *InMemoryBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ttl <= 0 {
		return errInvalidTTL
	}
	v := make([]byte, len(value))
	copy(v, value)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[key] = memEntry{value: v, expiresAt: b.now().Add(ttl)}
	return nil
}

// Delete implements Backend.Delete.
func (b *InMemoryBackend) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.data, key)
	return nil
}

// IncrWindow implements Backend.IncrWindow. Create-with-expiry and increment
// happen under one lock, so concurrent first increments cannot race.
func (b *InMemoryBackend) IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if window <= 0 {
		return 0, errInvalidTTL
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.getLocked(key)
	if !ok {
		b.data[key] = memEntry{value: []byte("1"), expiresAt: b.now().Add(window)}
		return 1, nil
	}
	n, err := strconv.ParseInt(string(e.value), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("incr %s: value is not an integer", key)
	}
	n++
	e.value = []byte(strconv.FormatInt(n, 10))
	b.data[key] = e
	return n, nil
}

// Ping implements Backend.Ping. The in-process map is always reachable.
func (b *InMemoryBackend) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Close implements Backend.Close.
func (b *InMemoryBackend) Close() error {
	return nil
}

// Len returns the number of stored entries, expired or not.
func (b *InMemoryBackend) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// Sweep removes every expired entry and returns how many were removed.
func (b *InMemoryBackend) Sweep() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	n := 0
	for k, e := range b.data {
		if !now.Before(e.expiresAt) {
			delete(b.data, k)
			n++
		}
	}
	return n
}

// StartJanitor sweeps expired entries every interval until ctx is done.
// Rate-limit counters for one-off identities are never read again, so without
// it they would only leave the map when the same key is touched.
func (b *InMemoryBackend) StartJanitor(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}
	t := time.NewTicker(every)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				b.Sweep()
			}
		}
	}()
}
