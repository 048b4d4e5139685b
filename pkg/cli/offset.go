package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nimburion/rabbitqueue/pkg/config"
	"github.com/nimburion/rabbitqueue/pkg/queue"
	queuefactory "github.com/nimburion/rabbitqueue/pkg/queue/factory"
	"github.com/nimburion/rabbitqueue/pkg/queue/rabbitmq"
)

func newOffsetCommand(state *rootState) *cobra.Command {
	offsetCmd := &cobra.Command{
		Use:   "offset",
		Short: "Stream queue offset administration",
	}
	SetCommandPolicies(offsetCmd, map[string]CommandPolicy{defaultPolicyContext: PolicyManual})

	var queueName string
	offsetCmd.PersistentFlags().StringVarP(&queueName, "queue", "q", "", "stream queue name")

	getCmd := &cobra.Command{
		Use:   "get",
		Short: "Print the current offset of a stream queue",
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

			rq, err := resolveStreamQueue(cmd, qs, name)
			if err != nil {
				return err
			}
			offset, err := rq.GetOffset(contextOrBackground(cmd.Context()))
			if err != nil {
				return err
			}
			printf(cmd.OutOrStdout(), "%s (%s)\n", offset.String(), offset.Type())
			return nil
		},
	}
	SetCommandPolicies(getCmd, map[string]CommandPolicy{defaultPolicyContext: PolicyOnDemand})
	offsetCmd.AddCommand(getCmd)

	var (
		offsetValue string
		offsetType  string
	)
	setCmd := &cobra.Command{
		Use:   "set",
		Short: "Store a new offset for a stream queue",
		Long: "Store a new offset for a stream queue. With --type int the value must be an exact integer;\n" +
			"use --type string for relative positions such as first, last, next or a timestamp.",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := requireQueueFlag(queueName)
			if err != nil {
				return err
			}
			offset, err := queue.ParseOffset(offsetValue, offsetType)
			if err != nil {
				return err
			}
			_, log, qs, cleanup, err := state.openQueues()
			if err != nil {
				return err
			}
			defer cleanup()

			rq, err := resolveStreamQueue(cmd, qs, name)
			if err != nil {
				return err
			}
			if err := rq.SetOffset(contextOrBackground(cmd.Context()), offset); err != nil {
				return err
			}
			log.Info("stream offset stored", "queue", name, "offset", offset.String(), "type", offset.Type())
			printf(cmd.OutOrStdout(), "offset of %s set to %s (%s)\n", name, offset.String(), offset.Type())
			return nil
		},
	}
	setCmd.Flags().StringVar(&offsetValue, "offset", "", "offset value")
	setCmd.Flags().StringVar(&offsetType, "type", queue.OffsetTypeInt, "offset type: int or string")
	_ = setCmd.MarkFlagRequired("offset")
	SetCommandPolicies(setCmd, map[string]CommandPolicy{defaultPolicyContext: PolicyManual})
	offsetCmd.AddCommand(setCmd)

	resetCmd := &cobra.Command{
		Use:   "reset",
		Short: "Forget the stored offset so the queue resumes from the default",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := requireQueueFlag(queueName)
			if err != nil {
				return err
			}
			_, log, qs, cleanup, err := state.openQueues()
			if err != nil {
				return err
			}
			defer cleanup()

			rq, err := resolveStreamQueue(cmd, qs, name)
			if err != nil {
				return err
			}
			if err := rq.ResetOffset(contextOrBackground(cmd.Context())); err != nil {
				return err
			}
			log.Info("stream offset reset", "queue", name)
			printf(cmd.OutOrStdout(), "offset of %s reset\n", name)
			return nil
		},
	}
	SetCommandPolicies(resetCmd, map[string]CommandPolicy{defaultPolicyContext: PolicyManual})
	offsetCmd.AddCommand(resetCmd)

	return offsetCmd
}

// resolveStreamQueue rejects unknown and non-stream queues before anything is written.
func resolveStreamQueue(cmd *cobra.Command, qs *queuefactory.Queues, name string) (*rabbitmq.Queue, error) {
	rq, err := qs.RabbitMQ(contextOrBackground(cmd.Context()), name)
	if err != nil {
		return nil, err
	}
	if rq.Variant() != rabbitmq.VariantStream {
		return nil, queue.Error(queue.ErrUnsupportedOperation,
			fmt.Sprintf("queue %q has variant %q, offsets exist only for %q queues", name, rq.Variant(), config.VariantStream))
	}
	return rq, nil
}
