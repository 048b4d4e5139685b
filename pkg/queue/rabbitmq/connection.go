package rabbitmq

import (
	"context"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/time/rate"

	"github.com/nimburion/rabbitqueue/pkg/observability/logger"
	"github.com/nimburion/rabbitqueue/pkg/queue"
	"github.com/nimburion/rabbitqueue/pkg/version"
)

// MinStreamBrokerVersion is the first RabbitMQ release with stream queues.
var MinStreamBrokerVersion = version.MustParse("3.9.0")

// Channel is the subset of *amqp.Channel used by the adapter.
type Channel interface {
	Qos(prefetchCount, prefetchSize int, global bool) error
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueDeclarePassive(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	QueuePurge(name string, noWait bool) (int, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Cancel(consumer string, noWait bool) error
	Ack(tag uint64, multiple bool) error
	Nack(tag uint64, multiple, requeue bool) error
	IsClosed() bool
	Close() error
}

// Connection is the subset of *amqp.Connection used by the adapter.
type Connection interface {
	Channel() (Channel, error)
	IsClosed() bool
	Close() error
}

// serverVersioner is implemented by connections that know the broker version.
type serverVersioner interface {
	ServerVersion() string
}

// Dialer opens a broker connection.
type Dialer func(uri string, cfg amqp.Config) (Connection, error)

// DialAMQP dials a real broker through amqp091-go.
func DialAMQP(uri string, cfg amqp.Config) (Connection, error) {
	conn, err := amqp.DialConfig(uri, cfg)
	if err != nil {
		return nil, err
	}
	return &amqpConnection{conn: conn}, nil
}

type amqpConnection struct {
	conn *amqp.Connection
}

func (c *amqpConnection) Channel() (Channel, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}

func (c *amqpConnection) IsClosed() bool { return c.conn.IsClosed() }

// ServerVersion returns the version the broker announced in connection.start.
func (c *amqpConnection) ServerVersion() string {
	v, _ := c.conn.Properties["version"].(string)
	return v
}
func (c *amqpConnection) Close() error { return c.conn.Close() }

// connectionManager owns one connection/channel pair and declares topology once.
// Callers hold the adapter mutex; connectionManager itself is not synchronized.
type connectionManager struct {
	config  Config
	dial    Dialer
	logger  logger.Logger
	limiter *rate.Limiter

	conn     Connection
	channel  Channel
	session  uint64
	declared bool
}

func newConnectionManager(cfg Config, dial Dialer, log logger.Logger) *connectionManager {
	limit := rate.Inf
	if cfg.Client.ReconnectInterval > 0 {
		limit = rate.Every(cfg.Client.ReconnectInterval)
	}
	return &connectionManager{
		config:  cfg,
		dial:    dial,
		logger:  log,
		limiter: rate.NewLimiter(limit, cfg.Client.ReconnectBurst),
	}
}

func (m *connectionManager) alive() bool {
	return m.conn != nil && !m.conn.IsClosed() && m.channel != nil && !m.channel.IsClosed()
}

// connect ensures a live connection and channel. It returns the channel and
// the session number, which changes whenever a new channel is opened.
func (m *connectionManager) connect(ctx context.Context) (Channel, uint64, error) {
	if m.alive() {
		return m.channel, m.session, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	if m.conn == nil || m.conn.IsClosed() {
		if m.session > 0 {
			m.logger.Warn("rabbitmq connection lost, reconnecting", "queue", m.config.Name)
		}
		m.closeQuietly()
		if !m.limiter.Allow() {
			return nil, 0, queue.Error(queue.ErrConnectionFailure, "reconnect attempts throttled")
		}
		conn, err := m.dial(m.config.Client.URI(), amqp.Config{
			Heartbeat: m.config.Client.Heartbeat,
			Locale:    m.config.Client.Locale,
			Dial:      amqp.DefaultDial(m.config.Client.ConnectionTimeout),
		})
		if err != nil {
			return nil, 0, fmt.Errorf("%w: dial broker for %s: %v", queue.ErrConnectionFailure, m.config.Name, err)
		}
		if err := m.checkBrokerVersion(conn); err != nil {
			_ = conn.Close()
			return nil, 0, err
		}
		if m.session > 0 {
			recordReconnect(m.config.Name)
		}
		m.conn = conn
	}

	ch, err := m.conn.Channel()
	if err != nil {
		return nil, 0, fmt.Errorf("%w: open channel: %v", queue.ErrConnectionFailure, err)
	}
	if err := ch.Qos(1, 0, false); err != nil {
		_ = ch.Close()
		return nil, 0, fmt.Errorf("%w: set qos: %v", queue.ErrConnectionFailure, err)
	}
	if !m.declared {
		if err := m.declare(ch); err != nil {
			_ = ch.Close()
			return nil, 0, err
		}
		m.declared = true
	}
	m.channel = ch
	m.session++
	return ch, m.session, nil
}

// checkBrokerVersion refuses stream queues on brokers older than
// MinStreamBrokerVersion. Unknown or unparsable versions pass.
func (m *connectionManager) checkBrokerVersion(conn Connection) error {
	if m.config.Variant != VariantStream {
		return nil
	}
	sv, ok := conn.(serverVersioner)
	if !ok || sv.ServerVersion() == "" {
		return nil
	}
	v, err := version.Parse(sv.ServerVersion())
	if err != nil {
		m.logger.Debug("cannot parse broker version", "queue", m.config.Name, "version", sv.ServerVersion(), "error", err)
		return nil
	}
	if !v.AtLeast(MinStreamBrokerVersion) {
		return queue.Error(queue.ErrUnsupportedOperation,
			fmt.Sprintf("stream queue %s needs RabbitMQ %s or later, broker is %s", m.config.Name, MinStreamBrokerVersion, v))
	}
	return nil
}

func (m *connectionManager) declare(ch Channel) error {
	cfg := m.config
	if !cfg.Queue.Declare {
		return nil
	}
	name := cfg.QueueName()

	if cfg.Exchange.Name != "" {
		if err := ch.ExchangeDeclare(cfg.Exchange.Name, cfg.Exchange.Type, cfg.Exchange.Durable, cfg.Exchange.AutoDelete, cfg.Exchange.Internal, false, cfg.Exchange.Arguments); err != nil {
			return fmt.Errorf("%w: declare exchange %s: %v", queue.ErrConnectionFailure, cfg.Exchange.Name, err)
		}
	}

	declareQueue := ch.QueueDeclare
	if cfg.Queue.Passive {
		declareQueue = ch.QueueDeclarePassive
	}
	if _, err := declareQueue(name, cfg.Queue.Durable, cfg.Queue.AutoDelete, cfg.Queue.Exclusive, false, cfg.Queue.Arguments); err != nil {
		return fmt.Errorf("%w: declare queue %s: %v", queue.ErrConnectionFailure, name, err)
	}

	if cfg.Exchange.Name != "" {
		if err := ch.QueueBind(name, cfg.RoutingKey, cfg.Exchange.Name, false, nil); err != nil {
			return fmt.Errorf("%w: bind queue %s: %v", queue.ErrConnectionFailure, name, err)
		}
	}
	m.logger.Debug("rabbitmq topology declared", "queue", name, "exchange", cfg.Exchange.Name, "routing_key", cfg.RoutingKey)
	return nil
}

// reset drops the channel so the next connect opens a new one.
func (m *connectionManager) reset() {
	if m.channel != nil {
		_ = m.channel.Close()
		m.channel = nil
	}
}

func (m *connectionManager) closeQuietly() {
	if m.channel != nil {
		if err := m.channel.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			m.logger.Debug("rabbitmq channel close failed", "queue", m.config.Name, "error", err)
		}
		m.channel = nil
	}
	if m.conn != nil {
		if err := m.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			m.logger.Debug("rabbitmq connection close failed", "queue", m.config.Name, "error", err)
		}
		m.conn = nil
	}
}
