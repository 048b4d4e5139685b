package jobs

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsEnqueuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rabbitqueue_jobs_enqueued_total",
			Help: "Total number of jobs submitted through the jobs manager",
		},
		[]string{"queue", "job_name"},
	)

	jobsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rabbitqueue_jobs_processed_total",
			Help: "Total number of job executions by outcome",
		},
		[]string{"queue", "job_name", "status"},
	)

	jobsReleasedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rabbitqueue_jobs_released_total",
			Help: "Total number of failed jobs released for another attempt",
		},
		[]string{"queue", "job_name"},
	)

	jobsAbortedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rabbitqueue_jobs_aborted_total",
			Help: "Total number of jobs aborted after exhausting their releases",
		},
		[]string{"queue", "job_name"},
	)

	jobsInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rabbitqueue_jobs_inflight",
			Help: "Current number of jobs being executed",
		},
		[]string{"queue"},
	)
)

func recordJobEnqueued(queue, jobName string) {
	jobsEnqueuedTotal.WithLabelValues(
		normalizeMetricLabel(queue, "unknown"),
		normalizeMetricLabel(jobName, "unknown"),
	).Inc()
}

func recordJobProcessed(queue, jobName, status string) {
	jobsProcessedTotal.WithLabelValues(
		normalizeMetricLabel(queue, "unknown"),
		normalizeMetricLabel(jobName, "unknown"),
		normalizeMetricLabel(status, "unknown"),
	).Inc()
}

func recordJobReleased(queue, jobName string) {
	jobsReleasedTotal.WithLabelValues(
		normalizeMetricLabel(queue, "unknown"),
		normalizeMetricLabel(jobName, "unknown"),
	).Inc()
}

func recordJobAborted(queue, jobName string) {
	jobsAbortedTotal.WithLabelValues(
		normalizeMetricLabel(queue, "unknown"),
		normalizeMetricLabel(jobName, "unknown"),
	).Inc()
}

func incrementJobInFlight(queue string) {
	jobsInFlight.WithLabelValues(normalizeMetricLabel(queue, "unknown")).Inc()
}

func decrementJobInFlight(queue string) {
	jobsInFlight.WithLabelValues(normalizeMetricLabel(queue, "unknown")).Dec()
}

func normalizeMetricLabel(value, fallback string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	return trimmed
}
