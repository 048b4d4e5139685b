package health

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultCheckTimeout bounds a single probe when the caller passes none.
const DefaultCheckTimeout = 5 * time.Second

// Checkable is implemented by components that can probe their backend:
// queues, offset stores and the jobs manager.
type Checkable interface {
	HealthCheck(ctx context.Context) error
}

// AdapterChecker turns a Checkable into a named Checker with its own timeout.
type AdapterChecker struct {
	name    string
	target  Checkable
	timeout time.Duration
}

// NewAdapterChecker wraps target. A non-positive timeout uses DefaultCheckTimeout.
func NewAdapterChecker(name string, target Checkable, timeout time.Duration) *AdapterChecker {
	if timeout <= 0 {
		timeout = DefaultCheckTimeout
	}
	return &AdapterChecker{
		name:    name,
		target:  target,
		timeout: timeout,
	}
}

// Check probes the target. A probe that outlives the timeout is unhealthy.
func (c *AdapterChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{Name: c.name}

	if c.target == nil {
		result.Status = StatusUnhealthy
		result.Error = "no component to check"
		result.Timestamp = time.Now()
		return result
	}

	checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := c.target.HealthCheck(checkCtx)
	result.Duration = time.Since(start)
	result.Timestamp = time.Now()

	switch {
	case err == nil:
		result.Status = StatusHealthy
		result.Message = "OK"
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(checkCtx.Err(), context.DeadlineExceeded):
		result.Status = StatusUnhealthy
		result.Error = fmt.Sprintf("timed out after %s: %v", c.timeout, err)
	default:
		result.Status = StatusUnhealthy
		result.Error = err.Error()
	}
	return result
}

// Name returns the check name.
func (c *AdapterChecker) Name() string {
	return c.name
}
