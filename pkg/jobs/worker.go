package jobs

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/nimburion/rabbitqueue/pkg/config"
	"github.com/nimburion/rabbitqueue/pkg/observability/logger"
	"github.com/nimburion/rabbitqueue/pkg/queue"
	"github.com/nimburion/rabbitqueue/pkg/resilience"
)

const (
	DefaultWorkerWaitTimeout  = 5 * time.Second
	DefaultWorkerStopTimeout  = 10 * time.Second
	DefaultWorkerErrorBackoff = time.Second

	DefaultBreakerFailures = 5
	DefaultBreakerCoolDown = 30 * time.Second
)

// WorkerConfig configures the worker loops.
type WorkerConfig struct {
	Queues []string
	// WaitTimeout bounds each WaitAndExecute call; WaitTimeouts overrides it per queue.
	WaitTimeout  time.Duration
	WaitTimeouts map[string]time.Duration
	IdleBackoff  time.Duration
	ErrorBackoff time.Duration
	StopTimeout  time.Duration
	// BreakerFailures consecutive connection failures pause a queue loop for BreakerCoolDown.
	BreakerFailures int
	BreakerCoolDown time.Duration
}

func (c *WorkerConfig) normalize() {
	if c.WaitTimeout <= 0 {
		c.WaitTimeout = DefaultWorkerWaitTimeout
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = DefaultWorkerStopTimeout
	}
	if c.ErrorBackoff <= 0 {
		c.ErrorBackoff = DefaultWorkerErrorBackoff
	}
	if c.IdleBackoff < 0 {
		c.IdleBackoff = 0
	}
	if c.BreakerFailures <= 0 {
		c.BreakerFailures = DefaultBreakerFailures
	}
	if c.BreakerCoolDown <= 0 {
		c.BreakerCoolDown = DefaultBreakerCoolDown
	}
}

// WorkerConfigFromRoot selects the queues the worker serves and their wait timeouts.
// Queues whose jobs section is disabled are skipped.
func WorkerConfigFromRoot(cfg *config.Config) WorkerConfig {
	out := WorkerConfig{WaitTimeouts: map[string]time.Duration{}}
	if cfg == nil {
		return out
	}
	out.WaitTimeout = cfg.Jobs.WaitTimeout
	out.IdleBackoff = cfg.Jobs.IdleBackoff
	out.ErrorBackoff = cfg.Jobs.ErrorBackoff
	out.StopTimeout = cfg.Jobs.StopTimeout
	for _, qc := range cfg.Queues {
		if qc.Jobs != nil && qc.Jobs.Disabled {
			continue
		}
		out.Queues = append(out.Queues, qc.Name)
		if qc.Jobs != nil && qc.Jobs.WaitTimeout > 0 {
			out.WaitTimeouts[qc.Name] = qc.Jobs.WaitTimeout
		}
	}
	return out
}

// Worker runs one WaitAndExecute loop per queue until stopped.
type Worker struct {
	manager *Manager
	log     logger.Logger
	config  WorkerConfig

	lifecycleMu sync.Mutex
	running     bool
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// NewWorker creates a worker over manager's queues.
func NewWorker(manager *Manager, log logger.Logger, cfg WorkerConfig) (*Worker, error) {
	if manager == nil {
		return nil, jobsError(ErrNotInitialized, "manager is required")
	}
	if log == nil {
		return nil, jobsError(ErrNotInitialized, "logger is required")
	}
	cfg.normalize()

	queues := make([]string, 0, len(cfg.Queues))
	seen := map[string]struct{}{}
	for _, name := range cfg.Queues {
		trimmed := strings.TrimSpace(name)
		if trimmed == "" {
			continue
		}
		if _, dup := seen[trimmed]; dup {
			continue
		}
		seen[trimmed] = struct{}{}
		queues = append(queues, trimmed)
	}
	if len(queues) == 0 {
		return nil, jobsError(ErrValidation, "at least one queue is required")
	}
	cfg.Queues = queues

	return &Worker{
		manager: manager,
		log:     log,
		config:  cfg,
	}, nil
}

// Start launches the queue loops and blocks until ctx is cancelled, then stops
// within StopTimeout.
func (w *Worker) Start(ctx context.Context) error {
	if w == nil {
		return jobsError(ErrNotInitialized, "worker is not initialized")
	}
	if ctx == nil {
		return jobsError(ErrValidation, "context is required")
	}

	w.lifecycleMu.Lock()
	if w.running {
		w.lifecycleMu.Unlock()
		return jobsError(ErrConflict, "worker already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.running = true
	w.lifecycleMu.Unlock()

	for _, name := range w.config.Queues {
		w.wg.Add(1)
		go w.runQueueLoop(runCtx, name)
	}
	w.log.Info("jobs worker started", "queues", w.config.Queues)

	<-runCtx.Done()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), w.config.StopTimeout)
	defer stopCancel()
	return w.Stop(stopCtx)
}

// Stop cancels the loops and waits for the in-flight jobs to settle.
func (w *Worker) Stop(ctx context.Context) error {
	if w == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	w.lifecycleMu.Lock()
	if !w.running {
		w.lifecycleMu.Unlock()
		return nil
	}
	cancel := w.cancel
	w.cancel = nil
	w.running = false
	w.lifecycleMu.Unlock()

	if cancel != nil {
		cancel()
	}

	waitCh := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(waitCh)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-waitCh:
		w.log.Info("jobs worker stopped")
		return nil
	}
}

func (w *Worker) waitTimeout(name string) time.Duration {
	if timeout, ok := w.config.WaitTimeouts[name]; ok && timeout > 0 {
		return timeout
	}
	return w.config.WaitTimeout
}

func (w *Worker) runQueueLoop(ctx context.Context, name string) {
	defer w.wg.Done()

	log := w.log.With("queue", name)
	breaker := resilience.NewCircuitBreaker(w.config.BreakerFailures, w.config.BreakerCoolDown, isConnectionFailure)
	timeout := w.waitTimeout(name)

	for {
		if ctx.Err() != nil {
			return
		}
		if !breaker.Allow() {
			log.Warn("queue paused after repeated connection failures", "cool_down", breaker.RemainingCoolDown())
			if !sleep(ctx, breaker.RemainingCoolDown()) {
				return
			}
			continue
		}

		msg, err := w.manager.WaitAndExecute(ctx, name, timeout)
		breaker.Record(err)

		switch {
		case err == nil && msg == nil:
			if !sleep(ctx, w.config.IdleBackoff) {
				return
			}
		case err == nil:
		case ctx.Err() != nil:
			return
		case isJobError(err):
			// Already settled and logged by the manager.
		default:
			log.Warn("jobs wait failed", "error", err)
			if !sleep(ctx, w.config.ErrorBackoff) {
				return
			}
		}
	}
}

func isConnectionFailure(err error) bool {
	return errors.Is(err, queue.ErrConnectionFailure)
}

func isJobError(err error) bool {
	return errors.Is(err, ErrJobFailed) || errors.Is(err, ErrValidation) || errors.Is(err, ErrHandlerNotFound)
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
