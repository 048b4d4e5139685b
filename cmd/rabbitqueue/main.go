// Command rabbitqueue submits, inspects and works RabbitMQ job queues
// configured in a YAML file.
package main

import (
	"context"

	"github.com/nimburion/rabbitqueue/pkg/cli"
	"github.com/nimburion/rabbitqueue/pkg/config"
	"github.com/nimburion/rabbitqueue/pkg/jobs"
	"github.com/nimburion/rabbitqueue/pkg/observability/logger"
)

// logJobName is handled by every worker started from this binary. It only logs
// the payload and is meant for smoke tests of a deployment.
const logJobName = "rabbitqueue.log"

func main() {
	cli.Execute(cli.NewServiceCommand(cli.ServiceCommandOptions{
		Name:          "rabbitqueue",
		Description:   "RabbitMQ job queues with plain, dead-letter and stream retry strategies",
		ConfigureJobs: registerBuiltinJobs,
	}))
}

func registerBuiltinJobs(_ *config.Config, log logger.Logger, manager *jobs.Manager) error {
	return manager.Register(logJobName, func(ctx context.Context, job *jobs.Job) error {
		log.WithContext(ctx).Info("log job received", "queue", job.Queue, "payload", string(job.Payload))
		return nil
	})
}
