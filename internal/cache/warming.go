package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-rpc-service/internal/models"
	"github.com/kjstillabower/weather-rpc-service/internal/observability"
)

// Refresher is implemented by the service layer: fetch upstream and write the
// result to the cache. Declared here to avoid an import cycle.
type Refresher interface {
	Refresh(ctx context.Context, location string) (models.WeatherData, error)
}

// CacheWarmer keeps a fixed set of locations hot in the cache.
type CacheWarmer struct {
	refresher Refresher
	logger    *zap.Logger
	timeout   time.Duration

	mu        sync.Mutex
	scheduler *gocron.Scheduler
}

// NewCacheWarmer creates a CacheWarmer. timeout bounds each Warm run; zero means 30s.
func NewCacheWarmer(refresher Refresher, logger *zap.Logger, timeout time.Duration) *CacheWarmer {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &CacheWarmer{refresher: refresher, logger: logger, timeout: timeout}
}

// Warm refreshes every location concurrently. It returns the joined per-location
// errors; a failed location does not stop the others.
func (w *CacheWarmer) Warm(ctx context.Context, locations []string) error {
	if len(locations) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	start := time.Now()
	observability.CacheWarmingTotal.Inc()
	if w.logger != nil {
		w.logger.Info("warming cache", zap.Int("locations", len(locations)))
	}
	var wg sync.WaitGroup
	errCh := make(chan error, len(locations))
	for _, loc := range locations {
		wg.Add(1)
		go func(loc string) {
			defer wg.Done()
			if _, err := w.refresher.Refresh(ctx, loc); err != nil {
				errCh <- fmt.Errorf("warm %s: %w", loc, err)
			}
		}(loc)
	}
	wg.Wait()
	close(errCh)
	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	duration := time.Since(start).Seconds()
	observability.CacheWarmingDurationSeconds.Observe(duration)
	if w.logger != nil {
		w.logger.Info("cache warming complete", zap.Int("locations", len(locations)), zap.Int("errors", len(errs)), zap.Float64("duration_seconds", duration))
	}
	if len(errs) > 0 {
		observability.CacheWarmingErrorsTotal.Inc()
		return errors.Join(errs...)
	}
	return nil
}

// StartPeriodic schedules Warm every interval, first run one interval from now.
// Runs never overlap. Call Stop to end the schedule.
func (w *CacheWarmer) StartPeriodic(locations []string, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("warm interval must be positive, got %s", interval)
	}
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	_, err := s.Every(interval).WaitForSchedule().Do(func() {
		if err := w.Warm(context.Background(), locations); err != nil && w.logger != nil {
			w.logger.Warn("periodic cache warm failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("schedule cache warming: %w", err)
	}
	w.mu.Lock()
	w.scheduler = s
	w.mu.Unlock()
	s.StartAsync()
	return nil
}

// Stop ends the periodic schedule, if any.
func (w *CacheWarmer) Stop() {
	w.mu.Lock()
	s := w.scheduler
	w.scheduler = nil
	w.mu.Unlock()
	if s != nil {
		s.Stop()
	}
}
