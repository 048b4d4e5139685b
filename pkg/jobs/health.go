package jobs

import (
	"strings"
	"time"

	"github.com/nimburion/rabbitqueue/pkg/health"
)

const defaultManagerHealthCheckName = "jobs-queues"

// NewHealthChecker creates a standard health checker over every queue the manager knows.
func NewHealthChecker(name string, manager *Manager, timeout time.Duration) health.Checker {
	checkName := normalizeHealthCheckName(name, defaultManagerHealthCheckName)
	return health.NewAdapterChecker(checkName, manager, timeout)
}

func normalizeHealthCheckName(name, fallback string) string {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return fallback
	}
	return trimmed
}
