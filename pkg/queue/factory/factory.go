// Package factory builds the queue manager and its RabbitMQ queues from configuration.
package factory

import (
	"context"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/nimburion/rabbitqueue/pkg/config"
	"github.com/nimburion/rabbitqueue/pkg/observability/logger"
	"github.com/nimburion/rabbitqueue/pkg/offsetstore"
	offsetstorefactory "github.com/nimburion/rabbitqueue/pkg/offsetstore/factory"
	"github.com/nimburion/rabbitqueue/pkg/queue"
	"github.com/nimburion/rabbitqueue/pkg/queue/rabbitmq"
)

// Queues bundles the queue manager with the collaborators built alongside it.
type Queues struct {
	Manager *queue.Manager
	// OffsetStore is nil when no stream queue is configured.
	OffsetStore offsetstore.Store
	Bridge      *rabbitmq.ReleaseBridge

	ownsStore bool
}

// Option customizes queue construction.
type Option func(*options)

type options struct {
	dialer rabbitmq.Dialer
	store  offsetstore.Store
}

// WithDialer replaces the AMQP dialer of every queue.
func WithDialer(d rabbitmq.Dialer) Option {
	return func(o *options) { o.dialer = d }
}

// WithOffsetStore injects the offset store instead of building it from config.
// The caller keeps ownership and must close it.
func WithOffsetStore(s offsetstore.Store) Option {
	return func(o *options) { o.store = s }
}

// Cosa fa: costruisce il queue.Manager con una coda RabbitMQ per ogni voce di cfg.Queues.
// Cosa NON fa: non si connette al broker; le code sono create alla prima richiesta.
// Esempio minimo: qs, err := factory.New(cfg, log); q, err := qs.Manager.Queue(ctx, "orders")
func New(cfg *config.Config, log logger.Logger, opts ...Option) (*Queues, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	qs := &Queues{OffsetStore: o.store}
	if qs.OffsetStore == nil && cfg.HasStreamQueues() {
		store, err := offsetstorefactory.NewStore(cfg.OffsetStore, log)
		if err != nil {
			return nil, fmt.Errorf("create offset store: %w", err)
		}
		qs.OffsetStore = store
		qs.ownsStore = true
	}

	build := func(_ context.Context, name string) (queue.Queue, error) {
		rc, err := QueueConfig(cfg, name)
		if err != nil {
			return nil, err
		}
		var queueOpts []rabbitmq.Option
		if o.dialer != nil {
			queueOpts = append(queueOpts, rabbitmq.WithDialer(o.dialer))
		}
		if qs.OffsetStore != nil {
			queueOpts = append(queueOpts, rabbitmq.WithOffsetStore(qs.OffsetStore))
		}
		q, err := rabbitmq.New(rc, log, queueOpts...)
		if err != nil {
			return nil, err
		}
		return q, nil
	}

	manager, err := queue.NewManager(build, cfg.QueueNames()...)
	if err != nil {
		return nil, err
	}
	qs.Manager = manager
	qs.Bridge = rabbitmq.NewReleaseBridge(manager, log)
	return qs, nil
}

// RabbitMQ resolves name to the concrete adapter, for stream offset administration.
func (qs *Queues) RabbitMQ(ctx context.Context, name string) (*rabbitmq.Queue, error) {
	q, err := qs.Manager.Queue(ctx, name)
	if err != nil {
		return nil, err
	}
	rq, ok := q.(*rabbitmq.Queue)
	if !ok {
		return nil, queue.Error(queue.ErrUnsupportedOperation, fmt.Sprintf("queue %q is not a rabbitmq queue", name))
	}
	return rq, nil
}

// Close closes every queue first, so stream offsets are flushed, then the offset store if owned.
func (qs *Queues) Close() error {
	var errs []error
	if qs.Manager != nil {
		if err := qs.Manager.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if qs.ownsStore && qs.OffsetStore != nil {
		if err := qs.OffsetStore.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close offset store: %w", err))
		}
	}
	return errors.Join(errs...)
}

// QueueConfig overlays the configured values for name onto the adapter defaults.
func QueueConfig(cfg *config.Config, name string) (rabbitmq.Config, error) {
	qc, ok := cfg.Queue(name)
	if !ok {
		return rabbitmq.Config{}, queue.Error(queue.ErrNotFound, fmt.Sprintf("queue %q is not configured", name))
	}

	rc := rabbitmq.DefaultConfig(qc.Name)
	rc.Variant = rabbitmq.Variant(qc.Variant)
	conn := cfg.Connection
	if qc.Connection != nil {
		conn = overlayConnection(conn, *qc.Connection)
	}
	rc.Client = rabbitmq.ClientConfig{
		URL:               conn.URL,
		Host:              conn.Host,
		Port:              conn.Port,
		User:              conn.User,
		Password:          conn.Password,
		VHost:             conn.VHost,
		Heartbeat:         conn.Heartbeat,
		ConnectionTimeout: conn.ConnectionTimeout,
		Locale:            conn.Locale,
		ReconnectInterval: conn.ReconnectInterval,
		ReconnectBurst:    conn.ReconnectBurst,
	}

	rc.Exchange.Name = qc.Exchange.Name
	if qc.Exchange.Type != "" {
		rc.Exchange.Type = qc.Exchange.Type
	}
	setBool(&rc.Exchange.Durable, qc.Exchange.Durable)
	setBool(&rc.Exchange.AutoDelete, qc.Exchange.AutoDelete)
	rc.Exchange.Internal = qc.Exchange.Internal
	rc.Exchange.Delayed = qc.Exchange.Delayed

	rc.Queue.Name = qc.Queue.Name
	setBool(&rc.Queue.Durable, qc.Queue.Durable)
	setBool(&rc.Queue.Exclusive, qc.Queue.Exclusive)
	setBool(&rc.Queue.AutoDelete, qc.Queue.AutoDelete)
	setBool(&rc.Queue.Declare, qc.Queue.Declare)
	rc.Queue.Passive = qc.Queue.Passive
	rc.Queue.Arguments = toTable(qc.Queue.Arguments)

	rc.RoutingKey = qc.RoutingKey
	rc.ConsumerTag = qc.ConsumerTag
	if qc.HeartbeatInterval > 0 {
		rc.HeartbeatInterval = qc.HeartbeatInterval
	}
	if qc.OperationTimeout > 0 {
		rc.OperationTimeout = qc.OperationTimeout
	}
	rc.CheckpointEvery = qc.CheckpointEvery
	return rc, nil
}

func overlayConnection(base, override config.ConnectionConfig) config.ConnectionConfig {
	if override.URL != "" {
		base.URL = override.URL
	}
	if override.Host != "" {
		base.Host = override.Host
	}
	if override.Port != 0 {
		base.Port = override.Port
	}
	if override.User != "" {
		base.User = override.User
	}
	if override.Password != "" {
		base.Password = override.Password
	}
	if override.VHost != "" {
		base.VHost = override.VHost
	}
	if override.Heartbeat != 0 {
		base.Heartbeat = override.Heartbeat
	}
	if override.ConnectionTimeout != 0 {
		base.ConnectionTimeout = override.ConnectionTimeout
	}
	if override.Locale != "" {
		base.Locale = override.Locale
	}
	if override.ReconnectInterval != 0 {
		base.ReconnectInterval = override.ReconnectInterval
	}
	if override.ReconnectBurst != 0 {
		base.ReconnectBurst = override.ReconnectBurst
	}
	return base
}

func setBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}

// toTable converts decoded config values into AMQP field values.
func toTable(in map[string]any) amqp.Table {
	if len(in) == 0 {
		return nil
	}
	out := make(amqp.Table, len(in))
	for k, v := range in {
		out[k] = toFieldValue(v)
	}
	return out
}

func toFieldValue(v any) any {
	switch t := v.(type) {
	case int:
		return int64(t)
	case int8:
		return int64(t)
	case int16:
		return int64(t)
	case int32:
		return int64(t)
	case uint:
		return int64(t)
	case uint16:
		return int64(t)
	case uint32:
		return int64(t)
	case uint64:
		return int64(t)
	case map[string]any:
		return toTable(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = toFieldValue(item)
		}
		return out
	default:
		return v
	}
}
