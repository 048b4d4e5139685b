package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// adminRequestDuration tracks admin endpoint latency in seconds.
	// Labels: method, path, status
	adminRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rabbitqueue_admin_http_request_duration_seconds",
			Help:    "Admin endpoint request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	adminRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rabbitqueue_admin_http_requests_total",
			Help: "Total number of admin endpoint requests",
		},
		[]string{"method", "path", "status"},
	)

	adminRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "rabbitqueue_admin_http_requests_in_flight",
			Help: "Current number of admin endpoint requests being served",
		},
	)
)

// RecordHTTPMetrics records one admin endpoint request.
func RecordHTTPMetrics(method, path string, status int, duration time.Duration) {
	statusStr := strconv.Itoa(status)
	adminRequestDuration.WithLabelValues(method, path, statusStr).Observe(duration.Seconds())
	adminRequestsTotal.WithLabelValues(method, path, statusStr).Inc()
}

// IncrementInFlight increments the in-flight requests gauge.
func IncrementInFlight() {
	adminRequestsInFlight.Inc()
}

// DecrementInFlight decrements the in-flight requests gauge.
func DecrementInFlight() {
	adminRequestsInFlight.Dec()
}
