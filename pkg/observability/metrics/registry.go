// Package metrics exposes the process metrics over Prometheus.
//
// The queue, offset store and jobs packages register their counters on the
// default Prometheus registerer through promauto; Registry merges those with the
// admin endpoint metrics and any collector registered on it.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry manages Prometheus metrics registration and exposure.
type Registry struct {
	registry *prometheus.Registry
	gatherer prometheus.Gatherer
}

// NewRegistry creates a registry that serves the default Prometheus metrics
// (Go runtime, process, rabbitqueue_*) plus the admin HTTP metrics.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(adminRequestDuration, adminRequestsTotal, adminRequestsInFlight)

	return &Registry{
		registry: reg,
		gatherer: prometheus.Gatherers{prometheus.DefaultGatherer, reg},
	}
}

// Register registers a custom Prometheus collector.
func (r *Registry) Register(collector prometheus.Collector) error {
	return r.registry.Register(collector)
}

// MustRegister registers collectors and panics on error.
func (r *Registry) MustRegister(collectors ...prometheus.Collector) {
	r.registry.MustRegister(collectors...)
}

// Unregister removes a collector from the registry.
// This is primarily useful for testing.
func (r *Registry) Unregister(collector prometheus.Collector) bool {
	return r.registry.Unregister(collector)
}

// Handler returns an HTTP handler that exposes metrics in Prometheus format.
//
// Example:
//
//	router.Handle("/metrics", registry.Handler())
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Gatherer returns the merged gatherer.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.gatherer
}
