//go:build integration
// +build integration

package cache

import (
	"context"
	"testing"
	"time"
)

func newIntegrationMemcached(t *testing.T) *MemcachedBackend {
	t.Helper()
	b := NewMemcachedBackend("localhost:11211", 500*time.Millisecond, 2)
	if err := b.Ping(context.Background()); err != nil {
		t.Skipf("memcached not available: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b
}

// TestMemcachedBackend_GetSetDelete_Integration verifies the round trip
// against a live memcached.
func TestMemcachedBackend_GetSetDelete_Integration(t *testing.T) {
	b := newIntegrationMemcached(t)
	ctx := context.Background()

	if err := b.Set(ctx, "weather:new york", []byte(`{"t":1}`), time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	got, err := b.Get(ctx, "weather:new york")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got) != `{"t":1}` {
		t.Errorf("Get() = %s, want {\"t\":1}", got)
	}
	if err := b.Delete(ctx, "weather:new york"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := b.Delete(ctx, "weather:new york"); err != nil {
		t.Fatalf("Delete() of missing key error = %v, want nil", err)
	}
	if _, err := b.Get(ctx, "weather:new york"); err != ErrNotFound {
		t.Errorf("Get() after Delete error = %v, want ErrNotFound", err)
	}
}

// TestMemcachedBackend_IncrWindow_Integration verifies the Add/Increment
// counter and its window expiry against a live memcached.
func TestMemcachedBackend_IncrWindow_Integration(t *testing.T) {
	b := newIntegrationMemcached(t)
	ctx := context.Background()
	key := "ratelimit:weather:integration-" + time.Now().Format("150405.000")

	for want := int64(1); want <= 3; want++ {
		n, err := b.IncrWindow(ctx, key, time.Second)
		if err != nil {
			t.Fatalf("IncrWindow() error = %v", err)
		}
		if n != want {
			t.Fatalf("IncrWindow() = %d, want %d", n, want)
		}
	}

	time.Sleep(2100 * time.Millisecond)
	n, err := b.IncrWindow(ctx, key, time.Second)
	if err != nil {
		t.Fatalf("IncrWindow() after window error = %v", err)
	}
	if n != 1 {
		t.Errorf("IncrWindow() after window = %d, want 1", n)
	}
}
