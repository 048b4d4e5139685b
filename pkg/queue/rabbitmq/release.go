package rabbitmq

import (
	"context"
	"fmt"

	"github.com/nimburion/rabbitqueue/pkg/observability/logger"
	"github.com/nimburion/rabbitqueue/pkg/queue"
)

// ReleaseBridge turns "message released" notifications from the job
// orchestrator into the RabbitMQ requeue of the released message.
type ReleaseBridge struct {
	manager *queue.Manager
	logger  logger.Logger
}

var _ queue.ReleaseNotifier = (*ReleaseBridge)(nil)

// Cosa fa: collega le notifiche di release dell'orchestratore al requeue delle code RabbitMQ.
// Cosa NON fa: non gestisce code di altri broker (vengono ignorate).
// Esempio minimo: bridge := rabbitmq.NewReleaseBridge(manager, log)
func NewReleaseBridge(manager *queue.Manager, log logger.Logger) *ReleaseBridge {
	return &ReleaseBridge{manager: manager, logger: log}
}

// NotifyReleased requeues msg when q is a RabbitMQ queue and ignores any other queue.
func (b *ReleaseBridge) NotifyReleased(ctx context.Context, q queue.Queue, msg *queue.Message, opts queue.ReleaseOptions) error {
	if q == nil || msg == nil {
		return queue.Error(queue.ErrInvalidArgument, "queue and message are required")
	}
	rq, ok := q.(*Queue)
	if !ok {
		if b.logger != nil {
			b.logger.Debug("release notification ignored for non-rabbitmq queue", "queue", q.Name(), "message_id", msg.ID)
		}
		return nil
	}
	return rq.ReQueueMessage(ctx, msg, opts)
}

// NotifyReleasedByName resolves queueName through the manager before forwarding.
func (b *ReleaseBridge) NotifyReleasedByName(ctx context.Context, queueName string, msg *queue.Message, opts queue.ReleaseOptions) error {
	if b.manager == nil {
		return queue.Error(queue.ErrInvalidArgument, "release bridge has no queue manager")
	}
	q, err := b.manager.Queue(ctx, queueName)
	if err != nil {
		return fmt.Errorf("resolve released message queue: %w", err)
	}
	return b.NotifyReleased(ctx, q, msg, opts)
}
