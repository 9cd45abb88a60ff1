package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock lets tests move time without sleeping.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestInMemory() (*InMemoryBackend, *fakeClock) {
	clock := newFakeClock()
	b := NewInMemoryBackend()
	b.now = clock.Now
	return b, clock
}

func TestInMemoryBackend(t *testing.T) {
	ctx := context.Background()

	t.Run("set then get returns value", func(t *testing.T) {
		b, _ := newTestInMemory()

		require.NoError(t, b.Set(ctx, "weather:london", []byte(`{"t":1}`), time.Minute))

		got, err := b.Get(ctx, "weather:london")

		require.NoError(t, err)
		assert.Equal(t, []byte(`{"t":1}`), got)
	})

	t.Run("missing key is ErrNotFound", func(t *testing.T) {
		b, _ := newTestInMemory()

		_, err := b.Get(ctx, "nope")

		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("entry expires after ttl", func(t *testing.T) {
		b, clock := newTestInMemory()
		require.NoError(t, b.Set(ctx, "k", []byte("v"), time.Second))

		clock.Advance(2 * time.Second)
		_, err := b.Get(ctx, "k")

		assert.ErrorIs(t, err, ErrNotFound)
		assert.Equal(t, 0, b.Len(), "expired entry should be removed on access")
	})

	t.Run("non-positive ttl stores nothing", func(t *testing.T) {
		b, _ := newTestInMemory()

		assert.Error(t, b.Set(ctx, "k", []byte("v"), 0))
		assert.Equal(t, 0, b.Len())
	})

	t.Run("delete removes entry and tolerates missing key", func(t *testing.T) {
		b, _ := newTestInMemory()
		require.NoError(t, b.Set(ctx, "k", []byte("v"), time.Minute))

		require.NoError(t, b.Delete(ctx, "k"))
		require.NoError(t, b.Delete(ctx, "k"))

		_, err := b.Get(ctx, "k")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("returned value is a copy", func(t *testing.T) {
		b, _ := newTestInMemory()
		require.NoError(t, b.Set(ctx, "k", []byte("abc"), time.Minute))

		got, _ := b.Get(ctx, "k")
		got[0] = 'z'

		again, _ := b.Get(ctx, "k")
		assert.Equal(t, []byte("abc"), again)
	})

	t.Run("canceled context fails", func(t *testing.T) {
		b, _ := newTestInMemory()
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		_, err := b.Get(cctx, "k")

		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestInMemoryBackend_IncrWindow(t *testing.T) {
	ctx := context.Background()

	t.Run("counts up within the window", func(t *testing.T) {
		b, _ := newTestInMemory()

		for want := int64(1); want <= 3; want++ {
			n, err := b.IncrWindow(ctx, "ratelimit:weather:a", time.Hour)

			require.NoError(t, err)
			assert.Equal(t, want, n)
		}
	})

	t.Run("later increments do not extend the window", func(t *testing.T) {
		b, clock := newTestInMemory()

		_, _ = b.IncrWindow(ctx, "k", time.Minute)
		clock.Advance(50 * time.Second)
		n, _ := b.IncrWindow(ctx, "k", time.Minute)
		require.Equal(t, int64(2), n)

		clock.Advance(11 * time.Second)
		n, err := b.IncrWindow(ctx, "k", time.Minute)

		require.NoError(t, err)
		assert.Equal(t, int64(1), n, "window opened by the first increment should have closed")
	})

	t.Run("concurrent increments are all counted", func(t *testing.T) {
		b, _ := newTestInMemory()
		var wg sync.WaitGroup
		for range 50 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _ = b.IncrWindow(ctx, "k", time.Minute)
			}()
		}
		wg.Wait()

		n, err := b.IncrWindow(ctx, "k", time.Minute)

		require.NoError(t, err)
		assert.Equal(t, int64(51), n)
	})

	t.Run("non-integer value is an error", func(t *testing.T) {
		b, _ := newTestInMemory()
		require.NoError(t, b.Set(ctx, "k", []byte("abc"), time.Minute))

		_, err := b.IncrWindow(ctx, "k", time.Minute)

		assert.Error(t, err)
	})

	t.Run("zero window is rejected", func(t *testing.T) {
		b, _ := newTestInMemory()

		_, err := b.IncrWindow(ctx, "k", 0)

		assert.Error(t, err)
	})
}

func TestInMemoryBackend_Sweep(t *testing.T) {
	ctx := context.Background()
	b, clock := newTestInMemory()
	require.NoError(t, b.Set(ctx, "short", []byte("v"), time.Second))
	require.NoError(t, b.Set(ctx, "long", []byte("v"), time.Hour))

	clock.Advance(time.Minute)

	assert.Equal(t, 1, b.Sweep())
	assert.Equal(t, 1, b.Len())
}

func TestInMemoryBackend_StartJanitor(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b := NewInMemoryBackend()
	require.NoError(t, b.Set(ctx, "k", []byte("v"), time.Millisecond))

	b.StartJanitor(ctx, 5*time.Millisecond)

	assert.Eventually(t, func() bool { return b.Len() == 0 }, time.Second, 5*time.Millisecond)
}
