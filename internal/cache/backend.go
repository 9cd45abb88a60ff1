package cache

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by a Backend when the key is absent or expired.
var ErrNotFound = errors.New("cache: key not found")

// errInvalidTTL is returned for non-positive TTLs and windows; backends never
// store an entry that would live forever.
var errInvalidTTL = errors.New("cache: ttl must be positive")

// Backend is a key/value store with expiration. Implementations must be safe
// for concurrent use and report failures as errors; Store decides which of
// those reach callers.
type Backend interface {
	// Get returns the raw value or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores value for ttl, replacing any previous value and expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// IncrWindow increments the counter at key and returns the new value.
	// The expiry is set to window only by the increment that creates the
	// counter; later increments never extend it.
	IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error)
	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error
	// Close releases connections.
	Close() error
}
