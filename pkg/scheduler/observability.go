package scheduler

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	dispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rabbitqueue_scheduler_dispatch_total",
			Help: "Scheduled runs by outcome (success, skipped, error, lock_error)",
		},
		[]string{"task", "status"},
	)

	dispatchInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rabbitqueue_scheduler_dispatch_inflight",
			Help: "Scheduled submissions currently in progress",
		},
		[]string{"task"},
	)
)

func recordDispatch(task, status string) {
	dispatchTotal.WithLabelValues(metricLabel(task), metricLabel(status)).Inc()
}

func incrementDispatchInFlight(task string) {
	dispatchInFlight.WithLabelValues(metricLabel(task)).Inc()
}

func decrementDispatchInFlight(task string) {
	dispatchInFlight.WithLabelValues(metricLabel(task)).Dec()
}

func metricLabel(value string) string {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		return trimmed
	}
	return "unknown"
}
