// Package lifecycle tracks process draining and runs the ordered shutdown
// sequence.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var shuttingDown atomic.Bool

// SetShuttingDown sets the shutdown flag. Health reports shutting-down while true.
func SetShuttingDown(v bool) {
	shuttingDown.Store(v)
}

// IsShuttingDown returns true if the process is draining and should not receive new traffic.
func IsShuttingDown() bool {
	return shuttingDown.Load()
}

// Step is one stage of the shutdown sequence.
type Step struct {
	Name string
	Run  func(ctx context.Context) error
}

// Shutdown marks the process as draining, then runs steps in order within
// timeout. A failing step is logged and does not stop later steps, so
// resources are still released. The returned error joins every step failure.
func Shutdown(timeout time.Duration, logger *zap.Logger, steps ...Step) error {
	SetShuttingDown(true)
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	for _, s := range steps {
		start := time.Now()
		if err := s.Run(ctx); err != nil {
			logger.Error("shutdown step failed", zap.String("step", s.Name), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", s.Name, err))
			continue
		}
		logger.Info("shutdown step done", zap.String("step", s.Name), zap.Duration("duration", time.Since(start)))
	}
	return errors.Join(errs...)
}

// WaitFunc adapts a blocking wait (such as sync.WaitGroup.Wait) into a Step
// body that gives up when ctx expires.
func WaitFunc(wait func()) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		done := make(chan struct{})
		go func() {
			wait()
			close(done)
		}()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// CloseFunc adapts a Close method into a Step body.
func CloseFunc(closeFn func() error) func(ctx context.Context) error {
	return func(context.Context) error { return closeFn() }
}
