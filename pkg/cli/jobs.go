package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nimburion/rabbitqueue/pkg/config"
	"github.com/nimburion/rabbitqueue/pkg/health"
	"github.com/nimburion/rabbitqueue/pkg/jobs"
	"github.com/nimburion/rabbitqueue/pkg/observability/metrics"
	"github.com/nimburion/rabbitqueue/pkg/observability/tracing"
	"github.com/nimburion/rabbitqueue/pkg/offsetstore"
	"github.com/nimburion/rabbitqueue/pkg/server"
	"github.com/nimburion/rabbitqueue/pkg/version"
)

func newJobsCommand(state *rootState) *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Job worker commands",
	}
	SetCommandPolicies(jobsCmd, map[string]CommandPolicy{defaultPolicyContext: PolicyRun})

	var (
		queues      []string
		waitTO      time.Duration
		stopTO      time.Duration
		metricsAddr string
	)
	workerCmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the jobs worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, qs, cleanup, err := state.openQueues()
			if err != nil {
				return err
			}
			defer cleanup()

			runCtx, stop := signal.NotifyContext(contextOrBackground(cmd.Context()), os.Interrupt, syscall.SIGTERM)
			defer stop()

			tp, err := startTracing(runCtx, cfg)
			if err != nil {
				return err
			}
			defer func() {
				if shutdownErr := tp.Shutdown(context.Background()); shutdownErr != nil {
					log.Error("failed to shut down tracer provider", "error", shutdownErr)
				}
			}()

			manager, err := jobs.NewManager(qs.Manager, qs.Bridge, log, jobs.ConfigFromRoot(cfg))
			if err != nil {
				return fmt.Errorf("create jobs manager: %w", err)
			}
			if state.opts.ConfigureJobs != nil {
				if err := state.opts.ConfigureJobs(cfg, log, manager); err != nil {
					return fmt.Errorf("configure jobs: %w", err)
				}
			}

			workerCfg := jobs.WorkerConfigFromRoot(cfg)
			if selected := trimmedNonEmpty(queues); len(selected) > 0 {
				workerCfg.Queues = selected
			}
			if waitTO > 0 {
				workerCfg.WaitTimeout = waitTO
			}
			if stopTO > 0 {
				workerCfg.StopTimeout = stopTO
			}
			worker, err := jobs.NewWorker(manager, log, workerCfg)
			if err != nil {
				return fmt.Errorf("create worker: %w", err)
			}

			addr := strings.TrimSpace(metricsAddr)
			if addr == "" {
				addr = strings.TrimSpace(cfg.Observability.MetricsAddress)
			}
			if addr == "" {
				return worker.Start(runCtx)
			}

			mgmt, err := server.NewManagementServer(addr, log, buildHealthRegistry(manager, qs.OffsetStore), metrics.NewRegistry())
			if err != nil {
				return err
			}
			return runWithManagement(runCtx, worker.Start, mgmt.Start)
		},
	}
	SetCommandPolicies(workerCmd, map[string]CommandPolicy{defaultPolicyContext: PolicyScheduled})
	workerCmd.Flags().StringSliceVar(&queues, "queue", []string{}, "queue names to consume (repeatable, default: every queue with jobs enabled)")
	workerCmd.Flags().DurationVar(&waitTO, "wait-timeout", 0, "override jobs.wait_timeout")
	workerCmd.Flags().DurationVar(&stopTO, "stop-timeout", 0, "override jobs.stop_timeout")
	workerCmd.Flags().StringVar(&metricsAddr, "metrics-address", "", "serve /metrics, /health and /ready on this address (default: observability.metrics_address)")
	jobsCmd.AddCommand(workerCmd)

	return jobsCmd
}

func buildHealthRegistry(manager *jobs.Manager, store offsetstore.Store) *health.Registry {
	reg := health.NewRegistry()
	reg.Register(jobs.NewHealthChecker("", manager, 5*time.Second))
	if store != nil {
		reg.Register(offsetstore.NewHealthChecker("", store, 5*time.Second))
	}
	return reg
}

func startTracing(ctx context.Context, cfg *config.Config) (*tracing.TracerProvider, error) {
	serviceName := strings.TrimSpace(cfg.Observability.ServiceName)
	if serviceName == "" {
		serviceName = cfg.Service.Name
	}
	tp, err := tracing.NewTracerProvider(ctx, tracing.TracerConfig{
		ServiceName:    serviceName,
		ServiceVersion: version.Current(serviceName).Version,
		Environment:    cfg.Service.Environment,
		Endpoint:       cfg.Observability.TracingEndpoint,
		SampleRate:     cfg.Observability.TracingSampleRate,
		Enabled:        cfg.Observability.TracingEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("create tracer provider: %w", err)
	}
	return tp, nil
}

// runWithManagement runs the worker and the management server until either
// returns, then stops the other one.
func runWithManagement(ctx context.Context, runWorker, runServer func(context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var g errgroup.Group
	g.Go(func() error {
		defer cancel()
		return runWorker(ctx)
	})
	g.Go(func() error {
		defer cancel()
		if err := runServer(ctx); err != nil {
			return fmt.Errorf("management server: %w", err)
		}
		return nil
	})
	return g.Wait()
}

func trimmedNonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
