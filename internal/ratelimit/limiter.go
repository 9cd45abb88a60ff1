// Package ratelimit enforces a fixed-window request quota per caller identity
// on top of the shared cache backend.
package ratelimit

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-rpc-service/internal/observability"
)

// ErrLimitExceeded is returned by Admit when the identity has used its quota
// for the current window.
var ErrLimitExceeded = errors.New("rate limit exceeded")

// DefaultIdentity is the shared bucket for callers without an identity.
const DefaultIdentity = "default"

// Counter is the store primitive the limiter needs. IncrWindow must set the
// key's expiry to window only when it creates the counter.
type Counter interface {
	IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error)
}

// Decision describes one admission check.
type Decision struct {
	Allowed   bool
	Key       string
	Count     int64
	Limit     int64
	Remaining int64
	Window    time.Duration
	// Degraded is set when the counter store failed and the request was let
	// through without being counted.
	Degraded bool
}

// FixedWindowLimiter admits at most limit requests per identity per window.
type FixedWindowLimiter struct {
	counter   Counter
	namespace string
	limit     int64
	window    time.Duration
	logger    *zap.Logger
}

// NewFixedWindowLimiter returns a limiter whose keys are
// "ratelimit:<namespace>:<identity>". logger may be nil.
func NewFixedWindowLimiter(counter Counter, namespace string, limit int64, window time.Duration, logger *zap.Logger) *FixedWindowLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FixedWindowLimiter{
		counter:   counter,
		namespace: namespace,
		limit:     limit,
		window:    window,
		logger:    logger,
	}
}

// Key builds the counter key for identity; blank identities share DefaultIdentity.
func Key(namespace, identity string) string {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		identity = DefaultIdentity
	}
	return "ratelimit:" + namespace + ":" + identity
}

// Admit counts one request for identity. It returns ErrLimitExceeded once the
// post-increment count passes the limit. If the counter store is unavailable
// the request is admitted (fail open) and the decision is marked Degraded;
// serving weather matters more than enforcing the quota exactly.
func (l *FixedWindowLimiter) Admit(ctx context.Context, identity string) (Decision, error) {
	key := Key(l.namespace, identity)
	d := Decision{Key: key, Limit: l.limit, Window: l.window}

	n, err := l.counter.IncrWindow(ctx, key, l.window)
	if err != nil {
		observability.RateLimitDecisionsTotal.WithLabelValues("fail_open").Inc()
		observability.LoggerFromContext(ctx, l.logger).Warn("rate limiter unavailable, admitting request",
			zap.String("key", key), zap.Error(err))
		d.Allowed = true
		d.Degraded = true
		d.Remaining = l.limit
		return d, nil
	}

	d.Count = n
	if n > l.limit {
		observability.RateLimitDecisionsTotal.WithLabelValues("denied").Inc()
		return d, ErrLimitExceeded
	}
	observability.RateLimitDecisionsTotal.WithLabelValues("allowed").Inc()
	d.Allowed = true
	d.Remaining = l.limit - n
	return d, nil
}

// Window is the configured window length.
func (l *FixedWindowLimiter) Window() time.Duration { return l.window }
