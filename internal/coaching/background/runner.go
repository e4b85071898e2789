// Package background runs deferred coaching work on goroutines detached
// from the request that scheduled them. Every job gets its own deadline and
// a recover boundary; a failed or panicked job is logged and dropped, never
// propagated to the caller.
package background

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Runner schedules fire-and-forget jobs. The zero value is not usable; use
// NewRunner.
type Runner struct {
	logger  *zap.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewRunner creates a runner whose jobs all share the given per-job timeout.
func NewRunner(logger *zap.Logger, timeout time.Duration) *Runner {
	return &Runner{
		logger:  logger,
		timeout: timeout,
	}
}

// Go runs fn on its own goroutine with a fresh context. The name only
// appears in logs.
func (r *Runner) Go(name string, fn func(ctx context.Context) error) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				r.logger.Error("Background job panicked",
					zap.String("job", name),
					zap.Any("panic", rec))
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()

		started := time.Now()
		if err := fn(ctx); err != nil {
			r.logger.Warn("Background job failed",
				zap.String("job", name),
				zap.Duration("elapsed", time.Since(started)),
				zap.Error(err))
			return
		}
		r.logger.Debug("Background job finished",
			zap.String("job", name),
			zap.Duration("elapsed", time.Since(started)))
	}()
}

// Wait blocks until every scheduled job has returned. Used by graceful
// shutdown and tests.
func (r *Runner) Wait() {
	r.wg.Wait()
}
