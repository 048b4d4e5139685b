package scheduler

import (
	"strings"
	"time"

	"github.com/nimburion/rabbitqueue/pkg/health"
)

// NewLockHealthChecker exposes a lock provider to the health registry.
// An empty name defaults to "scheduler-locks".
func NewLockHealthChecker(name string, locks LockProvider, timeout time.Duration) health.Checker {
	if strings.TrimSpace(name) == "" {
		name = "scheduler-locks"
	}
	return health.NewAdapterChecker(name, locks, timeout)
}
