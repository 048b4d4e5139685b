package rabbitmq

import (
	"context"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/nimburion/rabbitqueue/pkg/queue"
)

// RetryPolicy is the variant-specific part of a Queue.
//
// OnDelivery and DecodeRetryCount run with the queue mutex held and must not
// call back into locking Queue methods. The remaining hooks run unlocked.
type RetryPolicy interface {
	// OnRequeue puts a released message back for another attempt.
	OnRequeue(ctx context.Context, q *Queue, msg *queue.Message, opts queue.ReleaseOptions) error
	OnAbort(ctx context.Context, q *Queue, tag uint64) error
	OnRelease(ctx context.Context, q *Queue, id string, opts queue.ReleaseOptions) error
	DecodeRetryCount(headers amqp.Table) int
	// OnConsumeStart returns the consumer arguments. Runs with the queue mutex held.
	OnConsumeStart(ctx context.Context, q *Queue) (amqp.Table, error)
	OnDelivery(q *Queue, d amqp.Delivery)
	OnFinish(ctx context.Context, q *Queue) error
	// OnClose runs once during Close with the queue mutex held.
	OnClose(ctx context.Context, q *Queue) error
}

// requeuePolicy acks the original delivery and republishes it with an incremented release count.
type requeuePolicy struct{}

func (requeuePolicy) OnRequeue(ctx context.Context, q *Queue, msg *queue.Message, opts queue.ReleaseOptions) error {
	tag, err := parseDeliveryTag(msg.ID)
	if err != nil {
		return err
	}
	// The body goes back verbatim; it was accepted once and is not re-validated.
	body := append([]byte(nil), msg.Payload...)
	if err := q.ack(tag); err != nil {
		return err
	}
	return q.publish(ctx, body, uuid.NewString(), releaseHeaders(msg.NumberOfReleases+1, opts.Delay))
}

// OnAbort rejects without requeue; a dead-letter exchange on the queue, if any, receives it.
func (requeuePolicy) OnAbort(_ context.Context, q *Queue, tag uint64) error {
	return q.nack(tag, false)
}

func (requeuePolicy) OnRelease(context.Context, *Queue, string, queue.ReleaseOptions) error {
	return nil
}

func (requeuePolicy) DecodeRetryCount(headers amqp.Table) int { return releaseCount(headers) }

func (requeuePolicy) OnConsumeStart(context.Context, *Queue) (amqp.Table, error) { return nil, nil }

func (requeuePolicy) OnDelivery(*Queue, amqp.Delivery) {}

func (requeuePolicy) OnFinish(context.Context, *Queue) error { return nil }

func (requeuePolicy) OnClose(context.Context, *Queue) error { return nil }

// dlxPolicy leaves redelivery to the broker's dead-letter exchange.
type dlxPolicy struct {
	requeuePolicy
}

// OnRequeue nacks without requeue so the broker dead-letters the message. It never republishes.
func (dlxPolicy) OnRequeue(_ context.Context, q *Queue, msg *queue.Message, _ queue.ReleaseOptions) error {
	tag, err := parseDeliveryTag(msg.ID)
	if err != nil {
		return err
	}
	return q.nack(tag, false)
}

// OnAbort acks: a nack would dead-letter the message into the retry path.
func (dlxPolicy) OnAbort(_ context.Context, q *Queue, tag uint64) error {
	return q.ack(tag)
}

func (dlxPolicy) DecodeRetryCount(headers amqp.Table) int { return deathCount(headers) }
