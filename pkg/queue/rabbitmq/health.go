package rabbitmq

import (
	"strings"
	"time"

	"github.com/nimburion/rabbitqueue/pkg/health"
)

// NewHealthChecker creates a standard health checker for a RabbitMQ queue.
// An empty name defaults to "rabbitmq-<queue>".
func NewHealthChecker(name string, q *Queue, timeout time.Duration) health.Checker {
	checkName := strings.TrimSpace(name)
	if checkName == "" {
		checkName = "rabbitmq-" + q.Name()
	}
	return health.NewAdapterChecker(checkName, q, timeout)
}
