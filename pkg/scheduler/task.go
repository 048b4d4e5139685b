package scheduler

import (
	"strings"
	"time"

	"github.com/nimburion/rabbitqueue/pkg/config"
)

// Task submits JobName with Payload to Queue every time Schedule fires.
type Task struct {
	Name     string
	Schedule string
	Timezone string
	Queue    string
	JobName  string
	Payload  any
	// Delay is forwarded as the submit delay of every run.
	Delay time.Duration
	// LockTTL overrides the scheduler-wide lock TTL for this task.
	LockTTL time.Duration
}

// Validate checks required fields and parses the schedule.
func (t Task) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return schedulerError(ErrValidation, "task name is required")
	}
	if strings.TrimSpace(t.Queue) == "" {
		return schedulerError(ErrValidation, "task queue is required")
	}
	if strings.TrimSpace(t.JobName) == "" {
		return schedulerError(ErrValidation, "task job name is required")
	}
	if t.Delay < 0 || t.LockTTL < 0 {
		return schedulerError(ErrValidation, "task delay and lock ttl must be >= 0")
	}
	_, err := ParseSchedule(t.Schedule, t.Timezone)
	return err
}

// TasksFromRoot converts the configured scheduler tasks.
func TasksFromRoot(cfg *config.Config) []Task {
	if cfg == nil {
		return nil
	}
	tasks := make([]Task, 0, len(cfg.Scheduler.Tasks))
	for _, tc := range cfg.Scheduler.Tasks {
		tasks = append(tasks, Task{
			Name:     strings.TrimSpace(tc.Name),
			Schedule: tc.Schedule,
			Timezone: tc.Timezone,
			Queue:    strings.TrimSpace(tc.Queue),
			JobName:  strings.TrimSpace(tc.JobName),
			Payload:  tc.Payload,
			Delay:    tc.Delay,
			LockTTL:  tc.LockTTL,
		})
	}
	return tasks
}
