package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/nimburion/rabbitqueue/pkg/observability/tracing"
	"github.com/nimburion/rabbitqueue/pkg/queue"
)

func (q *Queue) dequeue(ctx context.Context, timeout time.Duration, take bool) (*queue.Message, error) {
	if timeout < 0 {
		return nil, queue.Error(queue.ErrInvalidArgument, "timeout must be >= 0")
	}
	deliveries, err := q.consumer(ctx)
	if err != nil {
		return nil, err
	}

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}
	heartbeat := time.NewTicker(q.config.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case d, ok := <-deliveries:
			if !ok {
				if err := q.checkOpen(); err != nil {
					return nil, err
				}
				q.dropConsumer(deliveries)
				return nil, queue.Error(queue.ErrConnectionFailure, "delivery channel closed")
			}
			msg := q.receive(ctx, d)
			if take {
				if _, err := q.Finish(ctx, msg.ID); err != nil {
					return nil, err
				}
			}
			return msg, nil
		case <-heartbeat.C:
			if err := q.probe(); err != nil {
				q.dropConsumer(deliveries)
				return nil, err
			}
		case <-deadline:
			recordConsumeTimeout(q.config.Name)
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// consumer registers the consumer once per channel session.
func (q *Queue) consumer(ctx context.Context) (<-chan amqp.Delivery, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, queue.ErrClosed
	}
	ch, session, err := q.conn.connect(ctx)
	if err != nil {
		return nil, err
	}
	if q.deliveries != nil && q.consumerSession == session {
		return q.deliveries, nil
	}

	args, err := q.policy.OnConsumeStart(ctx, q)
	if err != nil {
		return nil, err
	}
	deliveries, err := ch.Consume(q.config.QueueName(), q.config.ConsumerTag, false, false, false, false, args)
	if err != nil {
		q.conn.reset()
		return nil, fmt.Errorf("%w: consume %s: %v", queue.ErrConnectionFailure, q.config.QueueName(), err)
	}
	q.deliveries = deliveries
	q.consumerSession = session
	q.logger.Debug("consumer registered", "consumer_tag", q.config.ConsumerTag, "session", session)
	return deliveries, nil
}

func (q *Queue) dropConsumer(deliveries <-chan amqp.Delivery) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.deliveries == deliveries {
		q.deliveries = nil
	}
	q.conn.reset()
}

// probe checks connection liveness between waits.
func (q *Queue) probe() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return queue.ErrClosed
	}
	if !q.conn.alive() {
		return queue.Error(queue.ErrConnectionFailure, "connection lost while waiting for messages")
	}
	return nil
}

func (q *Queue) receive(ctx context.Context, d amqp.Delivery) *queue.Message {
	q.mu.Lock()
	q.policy.OnDelivery(q, d)
	retries := q.policy.DecodeRetryCount(d.Headers)
	q.mu.Unlock()

	msg := &queue.Message{
		ID:               strconv.FormatUint(d.DeliveryTag, 10),
		Payload:          json.RawMessage(append([]byte(nil), d.Body...)),
		NumberOfReleases: retries,
	}

	_, span := tracing.StartMessagingSpan(ctx, tracing.SpanOperationMsgConsume,
		tracing.WithMessagingSystem(messagingSystem),
		tracing.WithMessagingDestination(q.config.Name),
		tracing.WithMessagingMessageID(d.CorrelationId),
		tracing.WithMessagingPayloadSize(len(d.Body)),
	)
	if !json.Valid(d.Body) {
		q.logger.Warn("received message with non-JSON body", "message_id", msg.ID, "correlation_id", d.CorrelationId)
	}
	tracing.RecordSuccess(span)
	span.End()

	recordConsumed(q.config.Name, string(q.config.Variant))
	return msg
}
