package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-rpc-service/internal/cache"
	"github.com/kjstillabower/weather-rpc-service/internal/client"
	"github.com/kjstillabower/weather-rpc-service/internal/config"
	httphandler "github.com/kjstillabower/weather-rpc-service/internal/http"
	"github.com/kjstillabower/weather-rpc-service/internal/lifecycle"
	"github.com/kjstillabower/weather-rpc-service/internal/observability"
	"github.com/kjstillabower/weather-rpc-service/internal/ratelimit"
	"github.com/kjstillabower/weather-rpc-service/internal/service"
)

func main() {
	// .env must be applied before the logger reads LOG_LEVEL.
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "dotenv: %v\n", err)
		os.Exit(1)
	}
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = observability.SyncLogger(logger) }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	rootCtx, cancelRoot := context.WithCancel(context.Background())
	defer cancelRoot()

	backend, err := newBackend(rootCtx, cfg, logger)
	if err != nil {
		logger.Fatal("cache backend", zap.Error(err))
	}
	pingCtx, pingCancel := context.WithTimeout(rootCtx, time.Second)
	if err := backend.Ping(pingCtx); err != nil {
		// The cache is best-effort; start anyway and let requests fall through.
		logger.Warn("cache backend unreachable at startup", zap.String("backend", cfg.CacheBackend), zap.Error(err))
	}
	pingCancel()

	weatherClient, err := client.NewVisualCrossingClient(cfg.WeatherAPIKey, cfg.WeatherAPIURL, cfg.WeatherAPITimeout)
	if err != nil {
		logger.Fatal("weather client", zap.Error(err))
	}
	if cfg.CircuitBreakerEnabled {
		weatherClient.EnableBreaker(client.BreakerSettings{
			FailureThreshold: uint32(cfg.CircuitBreakerFailureThreshold),
			OpenTimeout:      cfg.CircuitBreakerTimeout,
			HalfOpenRequests: 1,
		})
		logger.Info("circuit breaker enabled",
			zap.Int("failure_threshold", cfg.CircuitBreakerFailureThreshold),
			zap.Duration("timeout", cfg.CircuitBreakerTimeout))
	}

	store := cache.NewStore(backend, logger)
	limiter := ratelimit.NewFixedWindowLimiter(backend, "weather", cfg.RateLimit, cfg.RateLimitWindow, logger)
	weatherService := service.NewWeatherService(service.Options{
		Client:       weatherClient,
		Store:        store,
		Limiter:      limiter,
		TTL:          cfg.CacheTTL,
		WriteTimeout: cfg.CacheWriteTimeout,
		Coalesce:     cfg.CoalesceEnabled,
		Logger:       logger,
	})

	observability.RegisterTrafficGauges(cfg.HealthWindow)
	if len(cfg.TrackedLocations) > 0 {
		observability.SetTrackedLocations(cfg.TrackedLocations)
	}

	var warmer *cache.CacheWarmer
	if cfg.WarmCache && len(cfg.TrackedLocations) > 0 {
		warmer = cache.NewCacheWarmer(weatherService, logger, 30*time.Second)
		if err := warmer.Warm(rootCtx, cfg.TrackedLocations); err != nil {
			logger.Warn("cache warming failed", zap.Error(err))
		}
		if cfg.WarmInterval > 0 {
			if err := warmer.StartPeriodic(cfg.TrackedLocations, cfg.WarmInterval); err != nil {
				logger.Error("periodic cache warming not started", zap.Error(err))
			}
		}
	}

	handler := httphandler.NewHandler(weatherService, weatherClient, &httphandler.HealthConfig{
		Window:           cfg.HealthWindow,
		DegradedErrorPct: cfg.DegradedErrorPct,
		CachePing:        store.Ping,
	}, logger, httphandler.RequestLimits{
		MinLocationLength: cfg.LocationMinLength,
		MaxLocationLength: cfg.LocationMaxLength,
		RetryAfter:        cfg.RateLimitWindow,
	})

	var overload *rate.Limiter
	if cfg.OverloadRPS > 0 {
		overload = rate.NewLimiter(rate.Limit(cfg.OverloadRPS), cfg.OverloadBurst)
	}
	router := httphandler.NewRouter(handler, logger, httphandler.RouterOptions{
		RequestTimeout: cfg.RequestTimeout,
		Overload:       overload,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      cfg.RequestTimeout + 5*time.Second,
	}

	go func() {
		logger.Info("server starting",
			zap.String("addr", srv.Addr),
			zap.String("cache_backend", cfg.CacheBackend),
			zap.Int64("rate_limit", cfg.RateLimit),
			zap.Duration("rate_limit_window", cfg.RateLimitWindow))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered", zap.Int64("in_flight", httphandler.InFlightCount()))
	steps := []lifecycle.Step{
		{Name: "http server", Run: srv.Shutdown},
		{Name: "in-flight requests", Run: func(ctx context.Context) error {
			return httphandler.WaitForInFlight(ctx, 50*time.Millisecond)
		}},
		{Name: "background cache writes", Run: lifecycle.WaitFunc(weatherService.Wait)},
	}
	if warmer != nil {
		steps = append(steps, lifecycle.Step{Name: "cache warmer", Run: func(context.Context) error {
			warmer.Stop()
			return nil
		}})
	}
	steps = append(steps,
		lifecycle.Step{Name: "background tasks", Run: func(context.Context) error {
			cancelRoot()
			return nil
		}},
		lifecycle.Step{Name: "cache backend", Run: lifecycle.CloseFunc(backend.Close)},
	)
	if err := lifecycle.Shutdown(cfg.ShutdownTimeout, logger, steps...); err != nil {
		logger.Error("shutdown completed with errors", zap.Error(err))
		return
	}
	logger.Info("shutdown complete")
}

// newBackend builds the configured cache backend. The same backend holds
// weather entries and rate-limit counters.
func newBackend(ctx context.Context, cfg *config.Config, logger *zap.Logger) (cache.Backend, error) {
	switch cfg.CacheBackend {
	case config.BackendRedis:
		logger.Info("cache backend: redis")
		return cache.NewRedisBackend(cache.RedisOptions{
			URL:      cfg.RedisURL,
			Timeout:  cfg.CacheOpTimeout,
			PoolSize: cfg.RedisPoolSize,
		})
	case config.BackendMemcached:
		logger.Info("cache backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
		return cache.NewMemcachedBackend(cfg.MemcachedAddrs, cfg.CacheOpTimeout, cfg.MemcachedMaxIdleConns), nil
	case config.BackendInMemory:
		logger.Warn("cache backend: in_memory; rate limits and cache are per instance")
		b := cache.NewInMemoryBackend()
		b.StartJanitor(ctx, cfg.InMemorySweepInterval)
		return b, nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.CacheBackend)
	}
}
