// Package rabbitmq adapts the queue.Queue contract onto a RabbitMQ broker.
//
// One Queue owns one connection and one channel with prefetch 1. The retry
// behavior (plain republish, dead-letter exchange, or stream offsets) is a
// RetryPolicy chosen from Config.Variant at construction.
package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/nimburion/rabbitqueue/pkg/observability/logger"
	"github.com/nimburion/rabbitqueue/pkg/observability/tracing"
	"github.com/nimburion/rabbitqueue/pkg/offsetstore"
	"github.com/nimburion/rabbitqueue/pkg/queue"
)

const messagingSystem = "rabbitmq"

// Queue implements queue.Queue and queue.Requeuer for one RabbitMQ queue.
type Queue struct {
	config Config
	policy RetryPolicy
	logger logger.Logger

	mu              sync.Mutex
	conn            *connectionManager
	deliveries      <-chan amqp.Delivery
	consumerSession uint64
	closed          bool
}

var (
	_ queue.Queue    = (*Queue)(nil)
	_ queue.Requeuer = (*Queue)(nil)
)

// Option customizes a Queue.
type Option func(*options)

type options struct {
	dialer Dialer
	store  offsetstore.Store
}

// WithDialer replaces the AMQP dialer.
func WithDialer(d Dialer) Option {
	return func(o *options) { o.dialer = d }
}

// WithOffsetStore sets the checkpoint store used by stream queues.
func WithOffsetStore(s offsetstore.Store) Option {
	return func(o *options) { o.store = s }
}

// Cosa fa: costruisce l'adapter per una coda RabbitMQ scegliendo la retry policy dalla variante.
// Cosa NON fa: non apre la connessione (è lazy, alla prima operazione o con SetUp).
// Esempio minimo: q, err := rabbitmq.New(rabbitmq.DefaultConfig("orders"), log)
func New(cfg Config, log logger.Logger, opts ...Option) (*Queue, error) {
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	o := options{dialer: DialAMQP}
	for _, opt := range opts {
		opt(&o)
	}
	if o.dialer == nil {
		return nil, queue.Error(queue.ErrInvalidArgument, "dialer is required")
	}
	if cfg.ConsumerTag == "" {
		cfg.ConsumerTag = "rabbitqueue-" + uuid.NewString()
	}

	q := &Queue{
		config: cfg,
		logger: log.With("queue", cfg.Name, "variant", string(cfg.Variant)),
	}
	switch cfg.Variant {
	case VariantDLX:
		q.policy = dlxPolicy{}
	case VariantStream:
		if o.store == nil {
			return nil, queue.Error(queue.ErrInvalidArgument, fmt.Sprintf("stream queue %q requires an offset store", cfg.Name))
		}
		q.policy = newStreamPolicy(o.store, cfg.ConsumerTag, cfg.CheckpointEvery)
	default:
		q.policy = requeuePolicy{}
	}
	q.conn = newConnectionManager(cfg, o.dialer, q.logger)
	return q, nil
}

func (q *Queue) Name() string { return q.config.Name }

// Variant reports the retry policy variant.
func (q *Queue) Variant() Variant { return q.config.Variant }

// Config returns the normalized configuration.
func (q *Queue) Config() Config { return q.config }

// Submit publishes payload as JSON and returns the generated correlation id.
func (q *Queue) Submit(ctx context.Context, payload any, opts queue.SubmitOptions) (string, error) {
	body, err := encodePayload(payload)
	if err != nil {
		return "", err
	}
	id := uuid.NewString()

	ctx, span := tracing.StartMessagingSpan(ctx, tracing.SpanOperationMsgPublish,
		tracing.WithMessagingSystem(messagingSystem),
		tracing.WithMessagingDestination(q.config.Name),
		tracing.WithMessagingMessageID(id),
		tracing.WithMessagingPayloadSize(len(body)),
	)
	defer span.End()

	if err := q.publish(ctx, body, id, releaseHeaders(0, opts.Delay)); err != nil {
		tracing.RecordError(span, err)
		return "", err
	}
	tracing.RecordSuccess(span)
	return id, nil
}

// WaitAndTake waits for a message and finishes it before returning.
// It returns (nil, nil) when nothing arrives within timeout; zero waits forever.
func (q *Queue) WaitAndTake(ctx context.Context, timeout time.Duration) (*queue.Message, error) {
	return q.dequeue(ctx, timeout, true)
}

// WaitAndReserve waits for a message and leaves it unacknowledged until
// Finish, Abort or ReQueueMessage is called with its id.
func (q *Queue) WaitAndReserve(ctx context.Context, timeout time.Duration) (*queue.Message, error) {
	return q.dequeue(ctx, timeout, false)
}

// Release is handled by the variant: plain and dlx do nothing here because the
// actual requeue needs the whole message (see ReQueueMessage); streams refuse.
func (q *Queue) Release(ctx context.Context, id string, opts queue.ReleaseOptions) error {
	if err := q.checkOpen(); err != nil {
		return err
	}
	return q.policy.OnRelease(ctx, q, id, opts)
}

// ReQueueMessage performs the variant-specific requeue of a released message.
func (q *Queue) ReQueueMessage(ctx context.Context, msg *queue.Message, opts queue.ReleaseOptions) error {
	if msg == nil {
		return queue.Error(queue.ErrInvalidArgument, "message is required")
	}
	if err := q.checkOpen(); err != nil {
		return err
	}
	if err := q.policy.OnRequeue(ctx, q, msg, opts); err != nil {
		return err
	}
	recordRequeued(q.config.Name, string(q.config.Variant))
	return nil
}

func (q *Queue) Abort(ctx context.Context, id string) error {
	tag, err := parseDeliveryTag(id)
	if err != nil {
		return err
	}
	if err := q.checkOpen(); err != nil {
		return err
	}
	return q.policy.OnAbort(ctx, q, tag)
}

// Finish acknowledges the message and runs the variant's finish hook.
func (q *Queue) Finish(ctx context.Context, id string) (bool, error) {
	tag, err := parseDeliveryTag(id)
	if err != nil {
		return false, err
	}
	if err := q.ack(tag); err != nil {
		return false, err
	}
	if err := q.policy.OnFinish(ctx, q); err != nil {
		return true, err
	}
	return true, nil
}

// Peek is not supported by AMQP without consuming.
func (q *Queue) Peek(context.Context, int) ([]*queue.Message, error) {
	return nil, queue.Error(queue.ErrNotImplemented, "peek is not supported by rabbitmq queues")
}

// Count returns the number of ready messages.
func (q *Queue) Count(ctx context.Context) (int, error) {
	return q.CountReady(ctx)
}

func (q *Queue) CountReady(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	ch, err := q.channelLocked(ctx)
	if err != nil {
		return 0, err
	}
	cfg := q.config
	state, err := ch.QueueDeclarePassive(cfg.QueueName(), cfg.Queue.Durable, cfg.Queue.AutoDelete, cfg.Queue.Exclusive, false, cfg.Queue.Arguments)
	if err != nil {
		q.conn.reset()
		return 0, fmt.Errorf("%w: inspect queue %s: %v", queue.ErrConnectionFailure, cfg.QueueName(), err)
	}
	return state.Messages, nil
}

// CountReserved is always 0: the broker does not expose unacked counts per queue here.
func (q *Queue) CountReserved(context.Context) (int, error) { return 0, nil }

// CountFailed is always 0.
func (q *Queue) CountFailed(context.Context) (int, error) { return 0, nil }

// Flush purges every ready message. It cannot be undone.
func (q *Queue) Flush(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	ch, err := q.channelLocked(ctx)
	if err != nil {
		return err
	}
	purged, err := ch.QueuePurge(q.config.QueueName(), false)
	if err != nil {
		q.conn.reset()
		return fmt.Errorf("%w: purge queue %s: %v", queue.ErrConnectionFailure, q.config.QueueName(), err)
	}
	q.logger.Info("queue flushed", "purged", purged)
	return nil
}

// SetUp connects and declares topology.
func (q *Queue) SetUp(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, err := q.channelLocked(ctx)
	return err
}

// HealthCheck connects if needed and reports whether the channel is usable.
func (q *Queue) HealthCheck(ctx context.Context) error {
	hcCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, err := q.channelLocked(hcCtx); err != nil {
		return fmt.Errorf("rabbitmq health check failed: %w", err)
	}
	return nil
}

// Close cancels the consumer, runs the variant's shutdown hook and closes the
// channel and connection. Only a failed offset flush is reported.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true

	if q.deliveries != nil && q.conn.alive() {
		if err := q.conn.channel.Cancel(q.config.ConsumerTag, false); err != nil {
			q.logger.Debug("consumer cancel failed", "error", err)
		}
	}
	q.deliveries = nil

	ctx, cancel := context.WithTimeout(context.Background(), q.config.OperationTimeout)
	defer cancel()
	err := q.policy.OnClose(ctx, q)
	q.conn.closeQuietly()
	return err
}

func (q *Queue) checkOpen() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return queue.ErrClosed
	}
	return nil
}

// channelLocked returns a live channel, connecting if needed. q.mu must be held.
func (q *Queue) channelLocked(ctx context.Context) (Channel, error) {
	if q.closed {
		return nil, queue.ErrClosed
	}
	ch, _, err := q.conn.connect(ctx)
	return ch, err
}

// currentChannelLocked returns the channel the pending deliveries belong to.
// Delivery tags are only valid on that channel, so it never reconnects.
func (q *Queue) currentChannelLocked() (Channel, error) {
	if q.closed {
		return nil, queue.ErrClosed
	}
	if !q.conn.alive() {
		return nil, queue.Error(queue.ErrConnectionFailure, "channel closed before acknowledgement")
	}
	return q.conn.channel, nil
}

func (q *Queue) ack(tag uint64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	ch, err := q.currentChannelLocked()
	if err != nil {
		return err
	}
	if err := ch.Ack(tag, false); err != nil {
		q.conn.reset()
		return fmt.Errorf("%w: ack %d: %v", queue.ErrConnectionFailure, tag, err)
	}
	recordAcked(q.config.Name, string(q.config.Variant))
	return nil
}

func (q *Queue) nack(tag uint64, requeue bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	ch, err := q.currentChannelLocked()
	if err != nil {
		return err
	}
	if err := ch.Nack(tag, false, requeue); err != nil {
		q.conn.reset()
		return fmt.Errorf("%w: nack %d: %v", queue.ErrConnectionFailure, tag, err)
	}
	recordNacked(q.config.Name, string(q.config.Variant))
	return nil
}

func (q *Queue) publish(ctx context.Context, body []byte, id string, headers amqp.Table) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	ch, err := q.channelLocked(ctx)
	if err != nil {
		return err
	}

	exchange := q.config.Exchange.Name
	routingKey := q.config.RoutingKey
	if exchange == "" {
		routingKey = q.config.QueueName()
	}
	deliveryMode := amqp.Transient
	if q.config.Queue.Durable {
		deliveryMode = amqp.Persistent
	}

	pubCtx, cancel := context.WithTimeout(ctx, q.config.OperationTimeout)
	defer cancel()
	err = ch.PublishWithContext(pubCtx, exchange, routingKey, false, false, amqp.Publishing{
		Headers:       headers,
		ContentType:   "application/json",
		DeliveryMode:  deliveryMode,
		CorrelationId: id,
		MessageId:     id,
		Timestamp:     time.Now().UTC(),
		Body:          body,
	})
	if err != nil {
		q.conn.reset()
		return fmt.Errorf("%w: publish to %s: %v", queue.ErrConnectionFailure, q.config.Name, err)
	}
	recordPublished(q.config.Name, string(q.config.Variant))
	return nil
}

func encodePayload(payload any) ([]byte, error) {
	switch p := payload.(type) {
	case json.RawMessage:
		if !json.Valid(p) {
			return nil, queue.Error(queue.ErrInvalidArgument, "payload is not valid JSON")
		}
		return append([]byte(nil), p...), nil
	default:
		body, err := json.Marshal(payload)
		if err != nil {
			return nil, queue.Error(queue.ErrInvalidArgument, fmt.Sprintf("encode payload: %v", err))
		}
		return body, nil
	}
}

// releaseHeaders builds the headers of a published message. The delay is sent in milliseconds.
func releaseHeaders(releases int, delay time.Duration) amqp.Table {
	headers := amqp.Table{headerNumberOfReleases: int32(releases)}
	if delay > 0 {
		headers[headerDelay] = delay.Milliseconds()
	}
	return headers
}

func parseDeliveryTag(id string) (uint64, error) {
	tag, err := strconv.ParseUint(id, 10, 64)
	if err != nil || tag == 0 {
		return 0, queue.Error(queue.ErrInvalidArgument, fmt.Sprintf("invalid message id %q", id))
	}
	return tag, nil
}
