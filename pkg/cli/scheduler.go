package cli

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nimburion/rabbitqueue/pkg/config"
	"github.com/nimburion/rabbitqueue/pkg/jobs"
	"github.com/nimburion/rabbitqueue/pkg/observability/logger"
	queuefactory "github.com/nimburion/rabbitqueue/pkg/queue/factory"
	"github.com/nimburion/rabbitqueue/pkg/scheduler"
)

func newSchedulerCommand(state *rootState) *cobra.Command {
	schedulerCmd := &cobra.Command{
		Use:   "scheduler",
		Short: "Scheduled job submission commands",
	}
	SetCommandPolicies(schedulerCmd, map[string]CommandPolicy{defaultPolicyContext: PolicyRun})

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List configured tasks and their next run",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := state.loadConfig()
			if err != nil {
				return err
			}
			defer closeLogger(log)

			now := time.Now()
			out := cmd.OutOrStdout()
			for _, task := range scheduler.TasksFromRoot(cfg) {
				schedule, err := scheduler.ParseSchedule(task.Schedule, task.Timezone)
				if err != nil {
					return fmt.Errorf("task %s: %w", task.Name, err)
				}
				next, err := schedule.Next(now)
				if err != nil {
					return fmt.Errorf("task %s: %w", task.Name, err)
				}
				printf(out, "%s\t%s\t%s/%s\tnext %s\n", task.Name, task.Schedule, task.Queue, task.JobName, next.Format(time.RFC3339))
			}
			return nil
		},
	}
	SetCommandPolicies(listCmd, map[string]CommandPolicy{defaultPolicyContext: PolicyAlways})
	schedulerCmd.AddCommand(listCmd)

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Submit configured tasks on schedule until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, qs, cleanup, err := state.openQueues()
			if err != nil {
				return err
			}
			defer cleanup()

			sched, locks, err := buildScheduler(cfg, log, qs)
			if err != nil {
				return err
			}
			defer closeLocks(locks, log)

			runCtx, stop := signal.NotifyContext(contextOrBackground(cmd.Context()), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return sched.Start(runCtx)
		},
	}
	SetCommandPolicies(runCmd, map[string]CommandPolicy{defaultPolicyContext: PolicyScheduled})
	schedulerCmd.AddCommand(runCmd)

	var taskName string
	triggerCmd := &cobra.Command{
		Use:   "trigger",
		Short: "Submit one task now, outside its schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			name := strings.TrimSpace(taskName)
			if name == "" {
				return fmt.Errorf("--task is required")
			}
			cfg, log, qs, cleanup, err := state.openQueues()
			if err != nil {
				return err
			}
			defer cleanup()

			sched, locks, err := buildScheduler(cfg, log, qs)
			if err != nil {
				return err
			}
			defer closeLocks(locks, log)

			id, err := sched.Trigger(contextOrBackground(cmd.Context()), name)
			if err != nil {
				return err
			}
			if id == "" {
				printf(cmd.OutOrStdout(), "task %s is already being submitted by another instance\n", name)
				return nil
			}
			printf(cmd.OutOrStdout(), "%s\n", id)
			return nil
		},
	}
	triggerCmd.Flags().StringVar(&taskName, "task", "", "task name")
	SetCommandPolicies(triggerCmd, map[string]CommandPolicy{defaultPolicyContext: PolicyManual})
	schedulerCmd.AddCommand(triggerCmd)

	return schedulerCmd
}

func buildScheduler(cfg *config.Config, log logger.Logger, qs *queuefactory.Queues) (*scheduler.Scheduler, scheduler.LockProvider, error) {
	manager, err := jobs.NewManager(qs.Manager, qs.Bridge, log, jobs.ConfigFromRoot(cfg))
	if err != nil {
		return nil, nil, fmt.Errorf("create jobs manager: %w", err)
	}
	locks, err := scheduler.NewLockProvider(cfg.Scheduler, log)
	if err != nil {
		return nil, nil, fmt.Errorf("create scheduler locks: %w", err)
	}
	sched, err := scheduler.New(manager, locks, log, scheduler.ConfigFromRoot(cfg))
	if err != nil {
		_ = locks.Close()
		return nil, nil, err
	}
	for _, task := range scheduler.TasksFromRoot(cfg) {
		if err := sched.Register(task); err != nil {
			_ = locks.Close()
			return nil, nil, fmt.Errorf("register task %s: %w", task.Name, err)
		}
	}
	return sched, locks, nil
}

func closeLocks(locks scheduler.LockProvider, log logger.Logger) {
	if err := locks.Close(); err != nil {
		log.Error("failed to close scheduler locks", "error", err)
	}
}
