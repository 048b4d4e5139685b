package offsetstore

import (
	"strings"
	"time"

	"github.com/nimburion/rabbitqueue/pkg/health"
)

const defaultHealthCheckName = "offset-store"

// NewHealthChecker creates a standard health checker for an offset store.
func NewHealthChecker(name string, store Store, timeout time.Duration) health.Checker {
	checkName := strings.TrimSpace(name)
	if checkName == "" {
		checkName = defaultHealthCheckName
	}
	return health.NewAdapterChecker(checkName, store, timeout)
}
