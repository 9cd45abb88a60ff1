//go:build integration
// +build integration

// Package testhelpers builds live-dependency stacks for integration tests.
package testhelpers

import (
	"context"
	"os"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-rpc-service/internal/cache"
	"github.com/kjstillabower/weather-rpc-service/internal/client"
	"github.com/kjstillabower/weather-rpc-service/internal/ratelimit"
	"github.com/kjstillabower/weather-rpc-service/internal/service"
)

// IntegrationTestConfig holds configuration for integration tests.
type IntegrationTestConfig struct {
	APIKey        string
	APIURL        string
	CacheBackend  string // "redis", "memcached" or "in_memory"
	RedisURL      string
	MemcachedAddr string
}

// GetIntegrationConfig loads integration test configuration from environment.
// Skips test if WEATHER_API_KEY is not set.
func GetIntegrationConfig(t *testing.T) IntegrationTestConfig {
	t.Helper()
	apiKey := os.Getenv("WEATHER_API_KEY")
	if apiKey == "" {
		t.Skip("WEATHER_API_KEY not set, skipping integration test")
	}
	cfg := IntegrationTestConfig{
		APIKey:        apiKey,
		APIURL:        envOr("WEATHER_API_URL", "https://weather.visualcrossing.com/VisualCrossingWebServices/rest/services/timeline"),
		CacheBackend:  envOr("INTEGRATION_CACHE_BACKEND", "redis"),
		RedisURL:      envOr("REDIS_URL", "redis://localhost:6379/0"),
		MemcachedAddr: envOr("MEMCACHED_ADDRS", "localhost:11211"),
	}
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// SetupIntegrationBackend connects the configured backend, falling back to
// in-memory when the server is unreachable. Closed on test cleanup.
func SetupIntegrationBackend(t *testing.T, cfg IntegrationTestConfig) cache.Backend {
	t.Helper()
	var backend cache.Backend
	switch cfg.CacheBackend {
	case "redis":
		rb, err := cache.NewRedisBackend(cache.RedisOptions{URL: cfg.RedisURL, Timeout: 500 * time.Millisecond})
		if err == nil {
			backend = rb
		} else {
			t.Logf("redis options invalid (%v)", err)
		}
	case "memcached":
		backend = cache.NewMemcachedBackend(cfg.MemcachedAddr, 500*time.Millisecond, 2)
	}
	if backend != nil {
		if err := backend.Ping(context.Background()); err != nil {
			t.Logf("%s not available (%v), using in-memory backend", cfg.CacheBackend, err)
			_ = backend.Close()
			backend = nil
		}
	}
	if backend == nil {
		backend = cache.NewInMemoryBackend()
	}
	t.Cleanup(func() { _ = backend.Close() })
	return backend
}

// SetupIntegrationClient creates a live weather client for integration tests.
func SetupIntegrationClient(t *testing.T, cfg IntegrationTestConfig) *client.VisualCrossingClient {
	t.Helper()
	c, err := client.NewVisualCrossingClient(cfg.APIKey, cfg.APIURL, 10*time.Second)
	if err != nil {
		t.Fatalf("NewVisualCrossingClient() error = %v", err)
	}
	return c
}

// SetupIntegrationService wires the full read path over live dependencies.
// limit <= 0 disables rate limiting.
func SetupIntegrationService(t *testing.T, cfg IntegrationTestConfig, limit int64, window time.Duration) (*service.WeatherService, *client.VisualCrossingClient, cache.Backend) {
	t.Helper()
	logger := zap.NewNop()
	backend := SetupIntegrationBackend(t, cfg)
	c := SetupIntegrationClient(t, cfg)

	var limiter service.Admitter
	if limit > 0 {
		// Namespace per test so reruns against a shared redis start from zero.
		limiter = ratelimit.NewFixedWindowLimiter(backend, "it-"+t.Name()+"-"+time.Now().Format("150405.000"), limit, window, logger)
	}
	svc := service.NewWeatherService(service.Options{
		Client:  c,
		Store:   cache.NewStore(backend, logger),
		Limiter: limiter,
		Logger:  logger,
	})
	t.Cleanup(svc.Wait)
	return svc, c, backend
}
