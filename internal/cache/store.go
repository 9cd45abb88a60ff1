package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-rpc-service/internal/observability"
)

// Store is the best-effort cache in front of a Backend. Reads and writes
// never fail from the caller's point of view: any backend or codec error is
// logged, counted, and turned into a miss or a dropped write. Only Delete
// reports errors, because invalidation is an explicit request whose outcome
// the caller must know.
type Store struct {
	backend Backend
	logger  *zap.Logger
}

// NewStore wraps backend. logger may be nil.
func NewStore(backend Backend, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{backend: backend, logger: logger}
}

// Get decodes the value at key into dest and reports whether it was present.
// dest must be a pointer, as for json.Unmarshal.
func (s *Store) Get(ctx context.Context, key string, dest any) bool {
	start := time.Now()
	raw, err := s.backend.Get(ctx, key)
	switch {
	case errors.Is(err, ErrNotFound):
		observability.RecordCacheOperation("get", "miss", time.Since(start))
		return false
	case err != nil:
		observability.RecordCacheOperation("get", "error", time.Since(start))
		s.log(ctx).Warn("cache get failed, treating as miss", zap.String("key", key), zap.Error(err))
		return false
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		observability.RecordCacheOperation("get", "error", time.Since(start))
		s.log(ctx).Warn("cache entry undecodable, treating as miss", zap.String("key", key), zap.Error(err))
		return false
	}
	observability.RecordCacheOperation("get", "hit", time.Since(start))
	return true
}

// Set encodes value as JSON and stores it for ttl. Failures are dropped.
func (s *Store) Set(ctx context.Context, key string, value any, ttl time.Duration) {
	start := time.Now()
	raw, err := json.Marshal(value)
	if err != nil {
		observability.RecordCacheOperation("set", "error", time.Since(start))
		s.log(ctx).Warn("cache value unencodable, write dropped", zap.String("key", key), zap.Error(err))
		return
	}
	if err := s.backend.Set(ctx, key, raw, ttl); err != nil {
		observability.RecordCacheOperation("set", "error", time.Since(start))
		s.log(ctx).Warn("cache set failed, write dropped", zap.String("key", key), zap.Error(err))
		return
	}
	observability.RecordCacheOperation("set", "success", time.Since(start))
}

// Delete removes key. A missing key is success; a backend failure is returned.
func (s *Store) Delete(ctx context.Context, key string) error {
	start := time.Now()
	if err := s.backend.Delete(ctx, key); err != nil && !errors.Is(err, ErrNotFound) {
		observability.RecordCacheOperation("delete", "error", time.Since(start))
		return fmt.Errorf("cache delete %s: %w", key, err)
	}
	observability.RecordCacheOperation("delete", "success", time.Since(start))
	return nil
}

// Ping reports backend reachability for health checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.backend.Ping(ctx)
}

func (s *Store) log(ctx context.Context) *zap.Logger {
	return observability.LoggerFromContext(ctx, s.logger)
}
