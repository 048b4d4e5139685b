// Package scheduler submits jobs to queues on a schedule. A lock keyed by task
// and run time makes sure only one of several scheduler instances submits each run.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nimburion/rabbitqueue/pkg/config"
	"github.com/nimburion/rabbitqueue/pkg/observability/logger"
	"github.com/nimburion/rabbitqueue/pkg/queue"
)

const (
	DefaultDispatchTimeout = 10 * time.Second
	DefaultLockTTL         = 30 * time.Second
)

// Submitter publishes a job. *jobs.Manager satisfies it.
type Submitter interface {
	Queue(ctx context.Context, queueName, jobName string, payload any, opts queue.SubmitOptions) (string, error)
}

// Config configures a Scheduler.
type Config struct {
	DispatchTimeout time.Duration
	LockTTL         time.Duration
}

func (c *Config) normalize() {
	if c.DispatchTimeout <= 0 {
		c.DispatchTimeout = DefaultDispatchTimeout
	}
	if c.LockTTL <= 0 {
		c.LockTTL = DefaultLockTTL
	}
}

// ConfigFromRoot extracts the scheduler timings from the application config.
func ConfigFromRoot(cfg *config.Config) Config {
	if cfg == nil {
		return Config{}
	}
	return Config{
		DispatchTimeout: cfg.Scheduler.DispatchTimeout,
		LockTTL:         cfg.Scheduler.LockTTL,
	}
}

type scheduledTask struct {
	Task
	schedule Schedule
}

// Scheduler runs one timer loop per registered task.
type Scheduler struct {
	submitter Submitter
	locks     LockProvider
	log       logger.Logger
	config    Config
	now       func() time.Time

	mu      sync.Mutex
	tasks   map[string]scheduledTask
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New crea uno scheduler che pubblica job sulle code secondo calendario.
//
// Cosa fa:
// - per ogni task registrato calcola la prossima esecuzione (@every o cron a 5 campi)
// - a ogni scadenza acquisisce il lock "<task>:<unix-ms>" e, se lo ottiene, pubblica il job con submitter
// - se la pubblicazione fallisce rilascia il lock, così un'altra istanza può riprovare
//
// Cosa NON fa:
// - non recupera le esecuzioni perse mentre il processo era fermo
// - non esegue i job: li consuma il worker di pkg/jobs
//
// Esempio minimo:
//
//	locks, _ := scheduler.NewLockProvider(cfg.Scheduler, log)
//	s, _ := scheduler.New(jobsManager, locks, log, scheduler.ConfigFromRoot(cfg))
//	_ = s.Register(scheduler.Task{Name: "close-day", Schedule: "0 23 * * *", Queue: "billing", JobName: "billing.close_day"})
//	_ = s.Start(ctx)
func New(submitter Submitter, locks LockProvider, log logger.Logger, cfg Config) (*Scheduler, error) {
	if submitter == nil {
		return nil, schedulerError(ErrNotInitialized, "submitter is required")
	}
	if locks == nil {
		return nil, schedulerError(ErrNotInitialized, "lock provider is required")
	}
	if log == nil {
		return nil, schedulerError(ErrNotInitialized, "logger is required")
	}
	cfg.normalize()
	return &Scheduler{
		submitter: submitter,
		locks:     locks,
		log:       log,
		config:    cfg,
		now:       time.Now,
		tasks:     map[string]scheduledTask{},
	}, nil
}

// Register validates and adds a task. Names must be unique.
func (s *Scheduler) Register(task Task) error {
	if err := task.Validate(); err != nil {
		return err
	}
	schedule, err := ParseSchedule(task.Schedule, task.Timezone)
	if err != nil {
		return err
	}
	task.Name = strings.TrimSpace(task.Name)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[task.Name]; exists {
		return schedulerError(ErrConflict, fmt.Sprintf("task %q is already registered", task.Name))
	}
	s.tasks[task.Name] = scheduledTask{Task: task, schedule: schedule}
	return nil
}

// Tasks lists the registered task names in order.
func (s *Scheduler) Tasks() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.tasks))
	for name := range s.tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Start blocks running every task loop until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	if s == nil {
		return schedulerError(ErrNotInitialized, "scheduler is not initialized")
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return schedulerError(ErrConflict, "scheduler already running")
	}
	if len(s.tasks) == 0 {
		s.mu.Unlock()
		return schedulerError(ErrValidation, "no tasks registered")
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	tasks := make([]scheduledTask, 0, len(s.tasks))
	for _, task := range s.tasks {
		tasks = append(tasks, task)
	}
	s.mu.Unlock()

	for _, task := range tasks {
		s.wg.Add(1)
		go s.runTaskLoop(runCtx, task)
	}
	s.log.Info("scheduler started", "tasks", len(tasks))

	<-runCtx.Done()
	return s.Stop(context.Background())
}

// Stop cancels the loops and waits for in-flight submissions.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	cancel := s.cancel
	s.cancel = nil
	s.running = false
	s.mu.Unlock()

	cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		s.log.Info("scheduler stopped")
		return nil
	}
}

// Trigger submits taskName immediately, outside its schedule.
func (s *Scheduler) Trigger(ctx context.Context, taskName string) (string, error) {
	s.mu.Lock()
	task, ok := s.tasks[strings.TrimSpace(taskName)]
	s.mu.Unlock()
	if !ok {
		return "", schedulerError(ErrNotFound, taskName)
	}
	return s.dispatch(ctx, task, s.now().UTC())
}

func (s *Scheduler) runTaskLoop(ctx context.Context, task scheduledTask) {
	defer s.wg.Done()
	log := s.log.With("task", task.Name)

	last := s.now()
	for {
		next, err := task.schedule.Next(last)
		if err != nil {
			log.Error("task schedule stopped", "error", err)
			return
		}

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if _, err := s.dispatch(ctx, task, next); err != nil {
			log.Error("scheduled submit failed", "run_at", next, "error", err)
		}
		last = next
	}
}

// dispatch returns ("", nil) when another instance holds the run lock.
func (s *Scheduler) dispatch(ctx context.Context, task scheduledTask, runAt time.Time) (string, error) {
	ttl := task.LockTTL
	if ttl <= 0 {
		ttl = s.config.LockTTL
	}
	key := fmt.Sprintf("%s:%d", task.Name, runAt.UnixMilli())

	lease, acquired, err := s.locks.Acquire(ctx, key, ttl)
	if err != nil {
		recordDispatch(task.Name, "lock_error")
		return "", err
	}
	if !acquired {
		recordDispatch(task.Name, "skipped")
		s.log.Debug("scheduled run owned by another instance", "task", task.Name, "run_at", runAt)
		return "", nil
	}

	incrementDispatchInFlight(task.Name)
	defer decrementDispatchInFlight(task.Name)

	submitCtx, cancel := context.WithTimeout(ctx, s.config.DispatchTimeout)
	defer cancel()
	id, err := s.submitter.Queue(submitCtx, task.Queue, task.JobName, task.Payload, queue.SubmitOptions{Delay: task.Delay})
	if err != nil {
		recordDispatch(task.Name, "error")
		// Free the run so another instance may still submit it before the lease expires.
		if releaseErr := s.locks.Release(context.WithoutCancel(ctx), lease); releaseErr != nil {
			return "", errors.Join(err, releaseErr)
		}
		return "", err
	}

	recordDispatch(task.Name, "success")
	s.log.Info("scheduled job submitted", "task", task.Name, "queue", task.Queue, "job_name", task.JobName, "correlation_id", id)
	return id, nil
}
