package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nimburion/rabbitqueue/pkg/jobs"
	"github.com/nimburion/rabbitqueue/pkg/queue"
)

func newQueueCommand(state *rootState) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Queue administration commands",
	}
	SetCommandPolicies(queueCmd, map[string]CommandPolicy{defaultPolicyContext: PolicyOnDemand})

	var queueName string
	queueCmd.PersistentFlags().StringVarP(&queueName, "queue", "q", "", "queue name")

	var (
		payload string
		jobName string
		delay   time.Duration
	)
	submitCmd := &cobra.Command{
		Use:   "submit",
		Short: "Publish a JSON message, or a job envelope when --job is set",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := requireQueueFlag(queueName)
			if err != nil {
				return err
			}
			raw := json.RawMessage(strings.TrimSpace(payload))
			if len(raw) == 0 {
				raw = json.RawMessage("null")
			}
			if !json.Valid(raw) {
				return queue.Error(queue.ErrInvalidArgument, "--payload must be valid JSON")
			}

			cfg, log, qs, cleanup, err := state.openQueues()
			if err != nil {
				return err
			}
			defer cleanup()

			ctx := contextOrBackground(cmd.Context())
			opts := queue.SubmitOptions{Delay: delay}
			var id string
			if strings.TrimSpace(jobName) != "" {
				manager, err := jobs.NewManager(qs.Manager, qs.Bridge, log, jobs.ConfigFromRoot(cfg))
				if err != nil {
					return err
				}
				id, err = manager.Queue(ctx, name, jobName, raw, opts)
				if err != nil {
					return err
				}
			} else {
				q, err := qs.Manager.Queue(ctx, name)
				if err != nil {
					return err
				}
				id, err = q.Submit(ctx, raw, opts)
				if err != nil {
					return err
				}
			}
			printf(cmd.OutOrStdout(), "%s\n", id)
			return nil
		},
	}
	submitCmd.Flags().StringVar(&payload, "payload", "", "JSON payload")
	submitCmd.Flags().StringVar(&jobName, "job", "", "wrap the payload in a job envelope with this name")
	submitCmd.Flags().DurationVar(&delay, "delay", 0, "delivery delay (requires a delayed-message exchange)")
	queueCmd.AddCommand(submitCmd)

	countCmd := &cobra.Command{
		Use:   "count",
		Short: "Print the number of ready messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := requireQueueFlag(queueName)
			if err != nil {
				return err
			}
			_, _, qs, cleanup, err := state.openQueues()
			if err != nil {
				return err
			}
			defer cleanup()

			ctx := contextOrBackground(cmd.Context())
			q, err := qs.Manager.Queue(ctx, name)
			if err != nil {
				return err
			}
			count, err := q.Count(ctx)
			if err != nil {
				return err
			}
			printf(cmd.OutOrStdout(), "%d\n", count)
			return nil
		},
	}
	queueCmd.AddCommand(countCmd)

	var confirmed bool
	flushCmd := &cobra.Command{
		Use:   "flush",
		Short: "Purge every ready message of a queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := requireQueueFlag(queueName)
			if err != nil {
				return err
			}
			if !confirmed {
				return errors.New("flush cannot be undone, pass --yes to confirm")
			}
			_, _, qs, cleanup, err := state.openQueues()
			if err != nil {
				return err
			}
			defer cleanup()

			ctx := contextOrBackground(cmd.Context())
			q, err := qs.Manager.Queue(ctx, name)
			if err != nil {
				return err
			}
			if err := q.Flush(ctx); err != nil {
				return err
			}
			printf(cmd.OutOrStdout(), "queue %s flushed\n", name)
			return nil
		},
	}
	flushCmd.Flags().BoolVar(&confirmed, "yes", false, "confirm the purge")
	SetCommandPolicies(flushCmd, map[string]CommandPolicy{defaultPolicyContext: PolicyManual})
	queueCmd.AddCommand(flushCmd)

	setupCmd := &cobra.Command{
		Use:   "setup",
		Short: "Declare exchanges, queues and bindings (all queues unless --queue is set)",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, log, qs, cleanup, err := state.openQueues()
			if err != nil {
				return err
			}
			defer cleanup()

			names := qs.Manager.Names()
			if trimmed := strings.TrimSpace(queueName); trimmed != "" {
				names = []string{trimmed}
			}
			ctx := contextOrBackground(cmd.Context())
			var errs []error
			for _, name := range names {
				q, err := qs.Manager.Queue(ctx, name)
				if err == nil {
					err = q.SetUp(ctx)
				}
				if err != nil {
					errs = append(errs, fmt.Errorf("set up %s: %w", name, err))
					continue
				}
				log.Info("queue set up", "queue", name)
				printf(cmd.OutOrStdout(), "%s ready\n", name)
			}
			return errors.Join(errs...)
		},
	}
	queueCmd.AddCommand(setupCmd)

	for _, sub := range queueCmd.Commands() {
		ensureDefaultPolicy(sub)
	}
	return queueCmd
}
