// Package server runs the admin HTTP endpoint of the jobs worker.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/nimburion/rabbitqueue/pkg/health"
	"github.com/nimburion/rabbitqueue/pkg/observability/logger"
	"github.com/nimburion/rabbitqueue/pkg/observability/metrics"
)

const defaultShutdownTimeout = 10 * time.Second

// ManagementServer serves liveness, readiness and Prometheus metrics.
//
// Routes:
// - GET /health: liveness, always 200
// - GET /ready: runs the health registry, 503 when any check is unhealthy
// - GET /metrics: Prometheus exposition
type ManagementServer struct {
	addr            string
	router          *mux.Router
	log             logger.Logger
	healthRegistry  *health.Registry
	metricsRegistry *metrics.Registry

	mu         sync.Mutex
	httpServer *http.Server
	listener   net.Listener
}

// NewManagementServer builds the admin server bound to addr (for example ":9090").
func NewManagementServer(addr string, log logger.Logger, healthRegistry *health.Registry, metricsRegistry *metrics.Registry) (*ManagementServer, error) {
	if addr == "" {
		return nil, errors.New("management address is required")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}
	if healthRegistry == nil {
		healthRegistry = health.NewRegistry()
	}
	if metricsRegistry == nil {
		metricsRegistry = metrics.NewRegistry()
	}

	s := &ManagementServer{
		addr:            addr,
		router:          mux.NewRouter(),
		log:             log,
		healthRegistry:  healthRegistry,
		metricsRegistry: metricsRegistry,
	}
	s.router.Use(s.recoverer, s.instrument)
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/ready", s.handleReady).Methods(http.MethodGet)
	s.router.Handle("/metrics", metricsRegistry.Handler()).Methods(http.MethodGet)
	return s, nil
}

// Handler exposes the router, mostly for tests.
func (s *ManagementServer) Handler() http.Handler {
	return s.router
}

// Start listens on the configured address and serves until ctx is cancelled,
// then shuts down gracefully.
func (s *ManagementServer) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("management server failed to listen on %s: %w", s.addr, err)
	}
	httpServer := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	s.mu.Lock()
	s.listener = listener
	s.httpServer = httpServer
	s.mu.Unlock()

	s.log.Info("starting management server", "address", listener.Addr().String())

	errChan := make(chan error, 1)
	go func() {
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return fmt.Errorf("management server failed: %w", err)
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	}
}

// Addr returns the bound address once Start is listening.
func (s *ManagementServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *ManagementServer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	httpServer := s.httpServer
	s.mu.Unlock()
	if httpServer == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, defaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("management server shutdown failed: %w", err)
	}
	s.log.Info("management server stopped", "address", s.Addr())
	return nil
}

func (s *ManagementServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": health.StatusHealthy})
}

func (s *ManagementServer) handleReady(w http.ResponseWriter, r *http.Request) {
	result := s.healthRegistry.Check(r.Context())
	if !result.IsHealthy() {
		writeJSON(w, http.StatusServiceUnavailable, result)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *ManagementServer) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		metrics.IncrementInFlight()
		defer metrics.DecrementInFlight()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		path := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				path = tpl
			}
		}
		metrics.RecordHTTPMetrics(r.Method, path, rec.status, time.Since(start))
	})
}

func (s *ManagementServer) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.log.Error("management handler panicked", "path", r.URL.Path, "panic", rec)
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
