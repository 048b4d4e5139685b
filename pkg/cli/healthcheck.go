package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nimburion/rabbitqueue/pkg/health"
	"github.com/nimburion/rabbitqueue/pkg/offsetstore"
	"github.com/nimburion/rabbitqueue/pkg/queue/rabbitmq"
)

func newHealthcheckCommand(state *rootState) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "healthcheck",
		Short: "Check broker connectivity for every queue and the offset store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, qs, cleanup, err := state.openQueues()
			if err != nil {
				return err
			}
			defer cleanup()

			ctx := contextOrBackground(cmd.Context())
			reg := health.NewRegistry()
			for _, name := range qs.Manager.Names() {
				q, err := qs.RabbitMQ(ctx, name)
				if err != nil {
					return err
				}
				reg.Register(rabbitmq.NewHealthChecker("", q, timeout))
			}
			if cfg.HasStreamQueues() && qs.OffsetStore != nil {
				reg.Register(offsetstore.NewHealthChecker("", qs.OffsetStore, timeout))
			}

			result := reg.Check(ctx)
			out := cmd.OutOrStdout()
			for _, check := range result.Checks {
				name := check.Name
				if check.Error != "" {
					printf(out, "%-28s %s (%s)\n", name, check.Status, check.Error)
					continue
				}
				printf(out, "%-28s %s\n", name, check.Status)
			}
			if !result.IsHealthy() {
				return errors.New(fmt.Sprint("unhealthy: ", result.Status))
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "per-check timeout")
	SetCommandPolicies(cmd, map[string]CommandPolicy{defaultPolicyContext: PolicyOnDemand})
	return cmd
}
