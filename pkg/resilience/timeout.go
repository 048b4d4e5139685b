// Package resilience holds the execution guards used by the job worker.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"
)

var (
	// ErrTimeout is returned when an attempt exceeds its timeout.
	ErrTimeout = errors.New("operation timed out")
	// ErrPanic is returned when the guarded function panics.
	ErrPanic = errors.New("operation panicked")
)

// WithTimeout runs fn with a deadline derived from ctx.
//
// A panic inside fn is recovered and returned as ErrPanic with the stack attached.
// When the deadline elapses first, WithTimeout returns ErrTimeout without waiting
// for fn, which keeps running until it observes its context.
func WithTimeout(ctx context.Context, timeout time.Duration, fn func(context.Context) error) error {
	if timeout <= 0 {
		return guard(ctx, fn)
	}
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- guard(timeoutCtx, fn)
	}()

	select {
	case err := <-done:
		return err
	case <-timeoutCtx.Done():
		if errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return ErrTimeout
		}
		return timeoutCtx.Err()
	}
}

func guard(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: %v; stack=%s", ErrPanic, rec, debug.Stack())
		}
	}()
	return fn(ctx)
}
