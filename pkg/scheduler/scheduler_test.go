package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nimburion/rabbitqueue/pkg/config"
	"github.com/nimburion/rabbitqueue/pkg/health"
	"github.com/nimburion/rabbitqueue/pkg/observability/logger"
	"github.com/nimburion/rabbitqueue/pkg/queue"
)

type schedulerTestLogger struct{}

func (l *schedulerTestLogger) Debug(string, ...any)                      {}
func (l *schedulerTestLogger) Info(string, ...any)                       {}
func (l *schedulerTestLogger) Warn(string, ...any)                       {}
func (l *schedulerTestLogger) Error(string, ...any)                      {}
func (l *schedulerTestLogger) With(...any) logger.Logger                 { return l }
func (l *schedulerTestLogger) WithContext(context.Context) logger.Logger { return l }

type submission struct {
	queue, job string
	payload    any
	opts       queue.SubmitOptions
}

type fakeSubmitter struct {
	mu    sync.Mutex
	calls []submission
	err   error
}

func (f *fakeSubmitter) Queue(_ context.Context, queueName, jobName string, payload any, opts queue.SubmitOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.calls = append(f.calls, submission{queue: queueName, job: jobName, payload: payload, opts: opts})
	return "corr-1", nil
}

func (f *fakeSubmitter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// countingLocks wraps LocalLockProvider and counts releases.
type countingLocks struct {
	*LocalLockProvider
	mu       sync.Mutex
	releases int
	deny     bool
}

func (c *countingLocks) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lease, bool, error) {
	if c.deny {
		return nil, false, nil
	}
	return c.LocalLockProvider.Acquire(ctx, key, ttl)
}

func (c *countingLocks) Release(ctx context.Context, lease *Lease) error {
	c.mu.Lock()
	c.releases++
	c.mu.Unlock()
	return c.LocalLockProvider.Release(ctx, lease)
}

func billingTask(schedule string) Task {
	return Task{
		Name:     "close-day",
		Schedule: schedule,
		Queue:    "billing",
		JobName:  "billing.close_day",
		Payload:  map[string]any{"source": "scheduler"},
		Delay:    time.Second,
	}
}

func newTestScheduler(t *testing.T, sub Submitter, locks LockProvider) *Scheduler {
	t.Helper()
	s, err := New(sub, locks, &schedulerTestLogger{}, Config{})
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	return s
}

func TestNew_RequiresCollaborators(t *testing.T) {
	if _, err := New(nil, NewLocalLockProvider(), &schedulerTestLogger{}, Config{}); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
	if _, err := New(&fakeSubmitter{}, nil, &schedulerTestLogger{}, Config{}); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
}

func TestRegister_ValidatesAndRejectsDuplicates(t *testing.T) {
	s := newTestScheduler(t, &fakeSubmitter{}, NewLocalLockProvider())

	if err := s.Register(Task{Name: "x", Schedule: "@every 1m", Queue: "billing"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected missing job name to fail, got %v", err)
	}
	if err := s.Register(billingTask("not a schedule")); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected bad schedule to fail, got %v", err)
	}
	if err := s.Register(billingTask("@every 1m")); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := s.Register(billingTask("@every 2m")); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if got := s.Tasks(); len(got) != 1 || got[0] != "close-day" {
		t.Fatalf("unexpected tasks %v", got)
	}
}

func TestStart_SubmitsOnSchedule(t *testing.T) {
	sub := &fakeSubmitter{}
	s := newTestScheduler(t, sub, NewLocalLockProvider())
	if err := s.Register(billingTask("@every 20ms")); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if sub.count() == 0 {
		t.Fatal("expected at least one submission")
	}
	call := sub.calls[0]
	if call.queue != "billing" || call.job != "billing.close_day" || call.opts.Delay != time.Second {
		t.Fatalf("unexpected submission %+v", call)
	}
}

func TestStart_RequiresTasks(t *testing.T) {
	s := newTestScheduler(t, &fakeSubmitter{}, NewLocalLockProvider())
	if err := s.Start(context.Background()); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestDispatch_SkipsWhenLockHeldElsewhere(t *testing.T) {
	sub := &fakeSubmitter{}
	locks := &countingLocks{LocalLockProvider: NewLocalLockProvider(), deny: true}
	s := newTestScheduler(t, sub, locks)
	if err := s.Register(billingTask("@every 1h")); err != nil {
		t.Fatal(err)
	}

	id, err := s.Trigger(context.Background(), "close-day")
	if err != nil || id != "" {
		t.Fatalf("expected silent skip, got %q %v", id, err)
	}
	if sub.count() != 0 {
		t.Fatal("expected no submission")
	}
}

func TestDispatch_SameRunSubmittedOnce(t *testing.T) {
	sub := &fakeSubmitter{}
	locks := NewLocalLockProvider()
	a := newTestScheduler(t, sub, locks)
	b := newTestScheduler(t, sub, locks)
	for _, s := range []*Scheduler{a, b} {
		if err := s.Register(billingTask("@every 1h")); err != nil {
			t.Fatal(err)
		}
	}

	runAt := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	if _, err := a.dispatch(context.Background(), a.tasks["close-day"], runAt); err != nil {
		t.Fatal(err)
	}
	if _, err := b.dispatch(context.Background(), b.tasks["close-day"], runAt); err != nil {
		t.Fatal(err)
	}
	if got := sub.count(); got != 1 {
		t.Fatalf("expected exactly one submission for the run, got %d", got)
	}
}

func TestDispatch_ReleasesLockOnSubmitFailure(t *testing.T) {
	sub := &fakeSubmitter{err: queue.Error(queue.ErrConnectionFailure, "broker down")}
	locks := &countingLocks{LocalLockProvider: NewLocalLockProvider()}
	s := newTestScheduler(t, sub, locks)
	if err := s.Register(billingTask("@every 1h")); err != nil {
		t.Fatal(err)
	}

	_, err := s.Trigger(context.Background(), "close-day")
	if !errors.Is(err, queue.ErrConnectionFailure) {
		t.Fatalf("expected connection failure, got %v", err)
	}
	if locks.releases != 1 {
		t.Fatalf("expected the lock to be released, got %d releases", locks.releases)
	}
}

func TestTrigger_UnknownTask(t *testing.T) {
	s := newTestScheduler(t, &fakeSubmitter{}, NewLocalLockProvider())
	if _, err := s.Trigger(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTasksFromRoot(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Scheduler.Tasks = []config.ScheduledTaskConfig{{
		Name:     " close-day ",
		Schedule: "@daily",
		Queue:    "billing",
		JobName:  "billing.close_day",
		Payload:  map[string]any{"source": "config"},
		Delay:    time.Minute,
	}}
	tasks := TasksFromRoot(cfg)
	if len(tasks) != 1 || tasks[0].Name != "close-day" || tasks[0].Delay != time.Minute {
		t.Fatalf("unexpected tasks %+v", tasks)
	}
	if err := tasks[0].Validate(); err != nil {
		t.Fatalf("expected valid task, got %v", err)
	}
	if got := ConfigFromRoot(cfg); got.LockTTL != 30*time.Second {
		t.Fatalf("unexpected config %+v", got)
	}
}

func TestNewLockHealthChecker(t *testing.T) {
	checker := NewLockHealthChecker("", NewLocalLockProvider(), time.Second)
	if checker.Name() != "scheduler-locks" {
		t.Fatalf("unexpected name %s", checker.Name())
	}
	if result := checker.Check(context.Background()); result.Status != health.StatusHealthy {
		t.Fatalf("expected healthy, got %s", result.Status)
	}
}
