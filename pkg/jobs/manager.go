package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/nimburion/rabbitqueue/pkg/config"
	"github.com/nimburion/rabbitqueue/pkg/health"
	"github.com/nimburion/rabbitqueue/pkg/observability/logger"
	"github.com/nimburion/rabbitqueue/pkg/observability/tracing"
	"github.com/nimburion/rabbitqueue/pkg/queue"
	"github.com/nimburion/rabbitqueue/pkg/resilience"
)

// DefaultAttemptTimeout bounds a single handler execution when none is configured.
const DefaultAttemptTimeout = 30 * time.Second

// Handler executes one job. A returned error (or a panic) counts as a failed attempt.
type Handler func(ctx context.Context, job *Job) error

// QueueResolver resolves queue names. *queue.Manager satisfies it.
type QueueResolver interface {
	Queue(ctx context.Context, name string) (queue.Queue, error)
	Names() []string
}

// QueueSettings carries the retry limits of one queue.
type QueueSettings struct {
	// MaxReleases is the number of times a failed job is released before it is aborted.
	MaxReleases  int
	ReleaseDelay time.Duration
}

// Config configures a Manager.
type Config struct {
	AttemptTimeout time.Duration
	Queues         map[string]QueueSettings
}

func (c *Config) normalize() {
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = DefaultAttemptTimeout
	}
	if c.Queues == nil {
		c.Queues = map[string]QueueSettings{}
	}
}

// ConfigFromRoot extracts the manager configuration from the application config.
func ConfigFromRoot(cfg *config.Config) Config {
	out := Config{Queues: map[string]QueueSettings{}}
	if cfg == nil {
		return out
	}
	out.AttemptTimeout = cfg.Jobs.AttemptTimeout
	for _, qc := range cfg.Queues {
		out.Queues[qc.Name] = QueueSettings{
			MaxReleases:  qc.MaxReleases,
			ReleaseDelay: qc.ReleaseDelay,
		}
	}
	return out
}

// Manager submits jobs and executes them with the registered handlers.
type Manager struct {
	resolver QueueResolver
	notifier queue.ReleaseNotifier
	log      logger.Logger
	config   Config

	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewManager crea l'orchestratore dei job sopra un insieme di code.
//
// Cosa fa:
// - pubblica job come envelope JSON {"name", "payload"} sulla coda richiesta
// - riserva un messaggio, esegue l'handler registrato con timeout e recupero dei panic
// - in caso di errore rilascia il messaggio (notificando notifier) finché i rilasci sono sotto MaxReleases, altrimenti lo abortisce
//
// Cosa NON fa:
// - non avvia loop di consumo: per quello usa NewWorker
// - non chiude le code risolte: il resolver resta di proprietà del chiamante
//
// Esempio minimo:
//
//	mgr, _ := jobs.NewManager(queues.Manager, queues.Bridge, log, jobs.ConfigFromRoot(cfg))
//	_ = mgr.Register("mail.send", sendMail)
//	_, _ = mgr.Queue(ctx, "mail", "mail.send", payload, queue.SubmitOptions{})
func NewManager(resolver QueueResolver, notifier queue.ReleaseNotifier, log logger.Logger, cfg Config) (*Manager, error) {
	if resolver == nil {
		return nil, jobsError(ErrNotInitialized, "queue resolver is required")
	}
	if log == nil {
		return nil, jobsError(ErrNotInitialized, "logger is required")
	}
	cfg.normalize()
	return &Manager{
		resolver: resolver,
		notifier: notifier,
		log:      log,
		config:   cfg,
		handlers: map[string]Handler{},
	}, nil
}

// Register binds a handler to a job name, replacing any previous binding.
func (m *Manager) Register(jobName string, handler Handler) error {
	if m == nil {
		return jobsError(ErrNotInitialized, "manager is not initialized")
	}
	jobName = strings.TrimSpace(jobName)
	if jobName == "" {
		return jobsError(ErrValidation, "job name is required")
	}
	if handler == nil {
		return jobsError(ErrValidation, "handler is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[jobName] = handler
	return nil
}

// Registered lists the registered job names in order.
func (m *Manager) Registered() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.handlers))
	for name := range m.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Queue publishes a job to queueName and returns the broker correlation id.
func (m *Manager) Queue(ctx context.Context, queueName, jobName string, payload any, opts queue.SubmitOptions) (string, error) {
	if m == nil {
		return "", jobsError(ErrNotInitialized, "manager is not initialized")
	}
	env, err := NewEnvelope(jobName, payload)
	if err != nil {
		return "", err
	}
	q, err := m.resolver.Queue(ctx, queueName)
	if err != nil {
		return "", err
	}
	id, err := q.Submit(ctx, env, opts)
	if err != nil {
		return "", err
	}
	recordJobEnqueued(queueName, env.Name)
	m.log.WithContext(logger.ContextWithCorrelationID(ctx, id)).Debug("job queued", "queue", queueName, "job_name", env.Name)
	return id, nil
}

// WaitAndExecute reserves one message from queueName and runs its job.
//
// It returns (nil, nil) when no message arrived within timeout. When a message was
// processed the message is always returned; a failed job yields an error wrapping
// ErrJobFailed after the message was released or aborted.
func (m *Manager) WaitAndExecute(ctx context.Context, queueName string, timeout time.Duration) (*queue.Message, error) {
	if m == nil {
		return nil, jobsError(ErrNotInitialized, "manager is not initialized")
	}
	q, err := m.resolver.Queue(ctx, queueName)
	if err != nil {
		return nil, err
	}
	msg, err := q.WaitAndReserve(ctx, timeout)
	if err != nil || msg == nil {
		return nil, err
	}

	incrementJobInFlight(queueName)
	defer decrementJobInFlight(queueName)
	return msg, m.execute(ctx, q, msg)
}

func (m *Manager) execute(ctx context.Context, q queue.Queue, msg *queue.Message) error {
	queueName := q.Name()
	traceCtx, span := tracing.StartMessagingSpan(
		ctx,
		tracing.SpanOperationMsgProcess,
		tracing.WithMessagingSystem("rabbitmq"),
		tracing.WithMessagingDestination(queueName),
		tracing.WithMessagingMessageID(msg.ID),
		tracing.WithMessagingPayloadSize(len(msg.Payload)),
	)
	span.SetAttributes(attribute.Int("jobs.releases", msg.NumberOfReleases))
	defer span.End()

	// Settlement must reach the broker even when the worker is being stopped.
	settleCtx := context.WithoutCancel(traceCtx)

	env, err := DecodeEnvelope(msg.Payload)
	if err != nil {
		tracing.RecordError(span, err)
		recordJobProcessed(queueName, "", "invalid")
		if abortErr := q.Abort(settleCtx, msg.ID); abortErr != nil {
			return errors.Join(err, fmt.Errorf("abort malformed message: %w", abortErr))
		}
		recordJobAborted(queueName, "")
		return err
	}
	span.SetAttributes(attribute.String("jobs.job_name", env.Name))
	log := m.log.WithContext(traceCtx).With("queue", queueName, "job_name", env.Name, "message_id", msg.ID)

	var execErr error
	handler, found := m.lookupHandler(env.Name)
	if !found {
		execErr = jobsError(ErrHandlerNotFound, fmt.Sprintf("no handler registered for job %q", env.Name))
	} else {
		job := newJob(queueName, env, msg)
		execErr = resilience.WithTimeout(traceCtx, m.config.AttemptTimeout, func(runCtx context.Context) error {
			return handler(runCtx, job)
		})
	}

	if execErr == nil {
		if _, err := q.Finish(settleCtx, msg.ID); err != nil {
			tracing.RecordError(span, err)
			return fmt.Errorf("finish job: %w", err)
		}
		recordJobProcessed(queueName, env.Name, "success")
		tracing.RecordSuccess(span)
		log.Debug("job finished")
		return nil
	}

	tracing.RecordError(span, execErr)
	return m.handleFailure(settleCtx, q, msg, env.Name, execErr, log)
}

func (m *Manager) handleFailure(ctx context.Context, q queue.Queue, msg *queue.Message, jobName string, failure error, log logger.Logger) error {
	queueName := q.Name()
	settings := m.config.Queues[queueName]

	if msg.NumberOfReleases < settings.MaxReleases {
		opts := queue.ReleaseOptions{Delay: settings.ReleaseDelay}
		if err := q.Release(ctx, msg.ID, opts); err != nil {
			return errors.Join(jobsError(ErrJobFailed, failure.Error()), fmt.Errorf("release job: %w", err))
		}
		if m.notifier != nil {
			if err := m.notifier.NotifyReleased(ctx, q, msg, opts); err != nil {
				return errors.Join(jobsError(ErrJobFailed, failure.Error()), fmt.Errorf("notify release: %w", err))
			}
		}
		recordJobReleased(queueName, jobName)
		recordJobProcessed(queueName, jobName, "released")
		log.Warn("job failed, released for retry", "releases", msg.NumberOfReleases+1, "max_releases", settings.MaxReleases, "error", failure)
		return fmt.Errorf("%w: %w", ErrJobFailed, failure)
	}

	if err := q.Abort(ctx, msg.ID); err != nil {
		return errors.Join(jobsError(ErrJobFailed, failure.Error()), fmt.Errorf("abort job: %w", err))
	}
	recordJobAborted(queueName, jobName)
	recordJobProcessed(queueName, jobName, "aborted")
	log.Error("job failed, aborted", "releases", msg.NumberOfReleases, "error", failure)
	return fmt.Errorf("%w: %w", ErrJobFailed, failure)
}

func (m *Manager) lookupHandler(jobName string) (Handler, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	handler, ok := m.handlers[strings.TrimSpace(jobName)]
	return handler, ok
}

// HealthCheck checks every known queue that exposes a health probe.
func (m *Manager) HealthCheck(ctx context.Context) error {
	if m == nil {
		return jobsError(ErrNotInitialized, "manager is not initialized")
	}
	var errs []error
	for _, name := range m.resolver.Names() {
		q, err := m.resolver.Queue(ctx, name)
		if err != nil {
			errs = append(errs, fmt.Errorf("queue %s: %w", name, err))
			continue
		}
		checkable, ok := q.(health.Checkable)
		if !ok {
			continue
		}
		if err := checkable.HealthCheck(ctx); err != nil {
			errs = append(errs, fmt.Errorf("queue %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
