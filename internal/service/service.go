package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/kjstillabower/weather-rpc-service/internal/cache"
	"github.com/kjstillabower/weather-rpc-service/internal/client"
	"github.com/kjstillabower/weather-rpc-service/internal/models"
	"github.com/kjstillabower/weather-rpc-service/internal/observability"
	"github.com/kjstillabower/weather-rpc-service/internal/ratelimit"
)

// KeyPrefix namespaces weather entries in the shared cache.
const KeyPrefix = "weather:"

// Defaults applied by NewWeatherService for zero option values.
const (
	DefaultTTL          = 12 * time.Hour
	DefaultWriteTimeout = 2 * time.Second
)

// ErrCacheInvalidation is returned by ClearCache when the cache backend could
// not delete the entry.
var ErrCacheInvalidation = errors.New("cache invalidation failed")

// Admitter decides whether a caller may proceed. *ratelimit.FixedWindowLimiter implements it.
type Admitter interface {
	Admit(ctx context.Context, identity string) (ratelimit.Decision, error)
}

// Options configures a WeatherService.
type Options struct {
	Client client.WeatherClient
	Store  *cache.Store
	// Limiter is optional; nil admits every caller.
	Limiter Admitter
	TTL     time.Duration
	// WriteTimeout bounds the detached cache write that follows a fetch.
	WriteTimeout time.Duration
	// Coalesce collapses concurrent misses for the same key into one upstream call.
	Coalesce bool
	Logger   *zap.Logger
}

// WeatherService serves current weather cache-aside: admission check, cache
// lookup, fetch on miss, then a background cache write.
type WeatherService struct {
	client       client.WeatherClient
	store        *cache.Store
	limiter      Admitter
	ttl          time.Duration
	writeTimeout time.Duration
	logger       *zap.Logger

	coalesce bool
	group    singleflight.Group

	pending sync.WaitGroup
}

// NewWeatherService builds the service from opts.
func NewWeatherService(opts Options) *WeatherService {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &WeatherService{
		client:       opts.Client,
		store:        opts.Store,
		limiter:      opts.Limiter,
		ttl:          opts.TTL,
		writeTimeout: opts.WriteTimeout,
		logger:       opts.Logger,
		coalesce:     opts.Coalesce,
	}
}

// NormalizeKey returns the cache key for location. Locations differing only in
// case or surrounding whitespace share a key.
func NormalizeKey(location string) string {
	return KeyPrefix + strings.ToLower(strings.TrimSpace(location))
}

// GetCurrent returns current weather for location on behalf of identity.
//
// Errors wrap client.ErrInvalidInput, ratelimit.ErrLimitExceeded,
// client.ErrUpstreamAuth or client.ErrUpstreamUnavailable. Cache failures
// never surface here.
func (s *WeatherService) GetCurrent(ctx context.Context, location, identity string) (models.CurrentWeather, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return models.CurrentWeather{}, fmt.Errorf("%w: location is required", client.ErrInvalidInput)
	}
	logger := s.log(ctx)
	start := time.Now()

	if s.limiter != nil {
		if _, err := s.limiter.Admit(ctx, identity); err != nil {
			return models.CurrentWeather{}, err
		}
	}

	observability.RecordWeatherQuery(location)
	key := NormalizeKey(location)

	var cached models.WeatherData
	if s.store.Get(ctx, key, &cached) {
		observability.CacheHitsTotal.Inc()
		logger.Debug("weather served", zap.String("key", key), zap.Bool("fromCache", true), zap.Duration("duration", time.Since(start)))
		return models.CurrentWeather{WeatherData: cached, FromCache: true}, nil
	}
	observability.CacheMissesTotal.Inc()
	logger.Debug("cache miss, fetching upstream", zap.String("key", key))

	data, err := s.fetch(ctx, key, location)
	if err != nil {
		return models.CurrentWeather{}, fmt.Errorf("fetch weather for %q: %w", location, err)
	}
	s.writeAsync(ctx, key, data)

	logger.Debug("weather served", zap.String("key", key), zap.Bool("fromCache", false), zap.Duration("duration", time.Since(start)))
	return models.CurrentWeather{WeatherData: data, FromCache: false}, nil
}

// ClearCache deletes the cached entry for location. Unlike reads, a backend
// failure is reported as ErrCacheInvalidation.
func (s *WeatherService) ClearCache(ctx context.Context, location string) error {
	location = strings.TrimSpace(location)
	if location == "" {
		return fmt.Errorf("%w: location is required", client.ErrInvalidInput)
	}
	key := NormalizeKey(location)
	if err := s.store.Delete(ctx, key); err != nil {
		s.log(ctx).Warn("cache invalidation failed", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("%w: %w", ErrCacheInvalidation, err)
	}
	s.log(ctx).Info("cache entry cleared", zap.String("key", key))
	return nil
}

// Refresh fetches location from upstream and stores it synchronously,
// bypassing the limiter. Used by cache warming.
func (s *WeatherService) Refresh(ctx context.Context, location string) (models.WeatherData, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return models.WeatherData{}, fmt.Errorf("%w: location is required", client.ErrInvalidInput)
	}
	key := NormalizeKey(location)
	data, err := s.fetch(ctx, key, location)
	if err != nil {
		return models.WeatherData{}, fmt.Errorf("refresh %q: %w", location, err)
	}
	s.store.Set(ctx, key, data, s.ttl)
	return data, nil
}

// Wait blocks until every background cache write has finished.
func (s *WeatherService) Wait() {
	s.pending.Wait()
}

func (s *WeatherService) fetch(ctx context.Context, key, location string) (models.WeatherData, error) {
	if !s.coalesce {
		return s.client.Fetch(ctx, location)
	}
	// The shared call outlives any single waiter; the client's own timeout bounds it.
	shared := context.WithoutCancel(ctx)
	v, err, _ := s.group.Do(key, func() (interface{}, error) {
		return s.client.Fetch(shared, location)
	})
	if err != nil {
		return models.WeatherData{}, err
	}
	return v.(models.WeatherData), nil
}

// writeAsync stores data without holding up the response. The write keeps
// the request's values (logger, correlation id) but not its cancellation.
func (s *WeatherService) writeAsync(ctx context.Context, key string, data models.WeatherData) {
	bg := context.WithoutCancel(ctx)
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		defer func() {
			if r := recover(); r != nil {
				s.log(bg).Error("background cache write panicked", zap.String("key", key), zap.Any("panic", r))
			}
		}()
		wctx, cancel := context.WithTimeout(bg, s.writeTimeout)
		defer cancel()
		s.store.Set(wctx, key, data, s.ttl)
	}()
}

func (s *WeatherService) log(ctx context.Context) *zap.Logger {
	return observability.LoggerFromContext(ctx, s.logger)
}
