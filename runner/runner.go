// Package runner drives the risk engine: one goroutine, one tick at a time.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

// TickFunc runs one pass of the engine.
type TickFunc func(ctx context.Context) error

// Runner calls Tick immediately and then on every Interval. A tick that
// overruns the interval delays the next one; missed fires are dropped.
type Runner struct {
	Interval time.Duration
	// Backoff is slept after a failed or panicking tick before the loop
	// resumes. Zero disables it.
	Backoff time.Duration
	Tick    TickFunc
	Logger  *slog.Logger

	mu          sync.Mutex
	lastSuccess time.Time
	failures    int
}

var ErrNoTick = errors.New("runner: Tick is nil")

// Run loops until ctx is canceled. It returns ctx.Err() on shutdown.
func (r *Runner) Run(ctx context.Context) error {
	if r.Tick == nil {
		return ErrNoTick
	}
	if r.Interval <= 0 {
		return fmt.Errorf("runner: interval must be positive, got %s", r.Interval)
	}
	log := r.logger()
	log.Info("runner started", slog.Duration("interval", r.Interval), slog.Duration("backoff", r.Backoff))

	if err := r.step(ctx); err != nil && !r.wait(ctx, r.Backoff) {
		log.Info("runner stopped")
		return ctx.Err()
	}

	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("runner stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := r.step(ctx); err != nil && !r.wait(ctx, r.Backoff) {
				log.Info("runner stopped")
				return ctx.Err()
			}
		}
	}
}

// RunOnce runs a single tick with the same panic containment as Run and
// returns its error.
func (r *Runner) RunOnce(ctx context.Context) error {
	if r.Tick == nil {
		return ErrNoTick
	}
	return r.step(ctx)
}

// LastSuccess reports when a tick last completed without error.
func (r *Runner) LastSuccess() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastSuccess
}

// Failures is the number of consecutive failed ticks.
func (r *Runner) Failures() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failures
}

func (r *Runner) step(ctx context.Context) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("tick panic: %v", rec)
			r.logger().Error("tick panicked", slog.Any("panic", rec), slog.String("stack", string(debug.Stack())))
		}
		r.mu.Lock()
		if err == nil {
			r.lastSuccess = time.Now()
			r.failures = 0
		} else {
			r.failures++
		}
		r.mu.Unlock()
	}()

	if err = r.Tick(ctx); err != nil && ctx.Err() == nil {
		r.logger().Error("tick failed", slog.String("error", err.Error()), slog.Duration("backoff", r.Backoff))
	}
	return err
}

// wait sleeps d and reports false if ctx ended first.
func (r *Runner) wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}
