package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kjstillabower/weather-rpc-service/internal/models"
	"github.com/kjstillabower/weather-rpc-service/internal/observability"
)

// failingBackend simulates an unreachable cache server.
type failingBackend struct {
	err error
}

func (f failingBackend) Get(context.Context, string) ([]byte, error) { return nil, f.err }
func (f failingBackend) Set(context.Context, string, []byte, time.Duration) error {
	return f.err
}
func (f failingBackend) Delete(context.Context, string) error { return f.err }
func (f failingBackend) IncrWindow(context.Context, string, time.Duration) (int64, error) {
	return 0, f.err
}
func (f failingBackend) Ping(context.Context) error { return f.err }
func (f failingBackend) Close() error               { return nil }

func TestStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewStore(NewInMemoryBackend(), nil)

	t.Run("weather data", func(t *testing.T) {
		in := models.WeatherData{
			Location:    "London, England, United Kingdom",
			Temperature: 11.4,
			Conditions:  "Partially cloudy",
			Humidity:    81.2,
			WindSpeed:   14.8,
			Description: "Cloudy skies throughout the day.",
			Coordinates: models.Coordinates{Latitude: 51.5064, Longitude: -0.12721},
			QueryCost:   1,
			Timestamp:   time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		}
		s.Set(ctx, "weather:london", in, time.Minute)

		var out models.WeatherData
		require.True(t, s.Get(ctx, "weather:london", &out))
		assert.Equal(t, in, out)
	})

	t.Run("arbitrary json values", func(t *testing.T) {
		values := []any{"text", 42.5, true, []any{"a", 1.0}, map[string]any{"k": "v"}}
		for _, v := range values {
			s.Set(ctx, "any", v, time.Minute)

			var out any
			require.True(t, s.Get(ctx, "any", &out))
			assert.Equal(t, v, out)
		}
	})
}

func TestStore_Get_Miss(t *testing.T) {
	s := NewStore(NewInMemoryBackend(), nil)

	var out models.WeatherData
	assert.False(t, s.Get(context.Background(), "weather:nowhere", &out))
}

func TestStore_Get_ExpiredAfterTTL(t *testing.T) {
	b, clock := newTestInMemory()
	s := NewStore(b, nil)
	ctx := context.Background()

	s.Set(ctx, "weather:paris", models.WeatherData{Location: "paris"}, time.Second)
	clock.Advance(2 * time.Second)

	var out models.WeatherData
	assert.False(t, s.Get(ctx, "weather:paris", &out))
}

func TestStore_Get_UndecodableIsMiss(t *testing.T) {
	b := NewInMemoryBackend()
	ctx := context.Background()
	require.NoError(t, b.Set(ctx, "weather:london", []byte("{not json"), time.Minute))
	s := NewStore(b, nil)

	var out models.WeatherData
	assert.False(t, s.Get(ctx, "weather:london", &out))
}

func TestStore_BackendDown_AbsorbsGetAndSet(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	s := NewStore(failingBackend{err: errors.New("dial tcp: connection refused")}, zap.New(core))
	ctx := context.Background()

	s.Set(ctx, "weather:london", models.WeatherData{Location: "london"}, time.Minute)
	var out models.WeatherData
	found := s.Get(ctx, "weather:london", &out)

	assert.False(t, found)
	assert.Equal(t, 1, logs.FilterMessage("cache set failed, write dropped").Len())
	assert.Equal(t, 1, logs.FilterMessage("cache get failed, treating as miss").Len())
}

func TestStore_Set_UnencodableDropped(t *testing.T) {
	b := NewInMemoryBackend()
	s := NewStore(b, nil)

	s.Set(context.Background(), "k", make(chan int), time.Minute)

	assert.Equal(t, 0, b.Len())
}

func TestStore_Delete(t *testing.T) {
	ctx := context.Background()

	t.Run("removes entry", func(t *testing.T) {
		s := NewStore(NewInMemoryBackend(), nil)
		s.Set(ctx, "weather:paris", "x", time.Minute)

		require.NoError(t, s.Delete(ctx, "weather:paris"))

		var out string
		assert.False(t, s.Get(ctx, "weather:paris", &out))
	})

	t.Run("missing key is success", func(t *testing.T) {
		s := NewStore(failingBackend{err: ErrNotFound}, nil)

		assert.NoError(t, s.Delete(ctx, "weather:paris"))
	})

	t.Run("backend failure is reported", func(t *testing.T) {
		down := errors.New("connection refused")
		s := NewStore(failingBackend{err: down}, nil)

		err := s.Delete(ctx, "weather:paris")

		require.Error(t, err)
		assert.ErrorIs(t, err, down)
		assert.Contains(t, err.Error(), "weather:paris")
	})
}

func TestStore_UsesContextLogger(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	s := NewStore(failingBackend{err: errors.New("timeout")}, zap.NewNop())
	ctx := observability.ContextWithLogger(context.Background(), zap.New(core))

	var out string
	s.Get(ctx, "k", &out)

	assert.Equal(t, 1, logs.Len())
}
