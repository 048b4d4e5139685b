package rabbitmq

import (
	"fmt"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/nimburion/rabbitqueue/pkg/queue"
)

// Variant selects the retry policy of a queue.
type Variant string

const (
	// VariantPlain retries by acking and republishing with an incremented release counter.
	VariantPlain Variant = "plain"
	// VariantDLX retries by nacking into a broker-side dead-letter exchange.
	VariantDLX Variant = "dlx"
	// VariantStream consumes a stream queue and tracks offsets instead of redelivering.
	VariantStream Variant = "stream"
)

const (
	headerNumberOfReleases       = "numberOfReleases"
	headerLegacyNumberOfReleases = "x-numberOfReleases"
	headerDelay                  = "x-delay"
	headerDeath                  = "x-death"
	argStreamOffset              = "x-stream-offset"
	argQueueType                 = "x-queue-type"
	argDelayedType               = "x-delayed-type"

	defaultCheckpointEvery   = 200
	defaultHeartbeatInterval = time.Second
	defaultOperationTimeout  = 10 * time.Second
)

// ClientConfig describes how to reach the broker.
type ClientConfig struct {
	URL               string
	Host              string
	Port              int
	User              string
	Password          string
	VHost             string
	Heartbeat         time.Duration
	ConnectionTimeout time.Duration
	Locale            string
	// ReconnectInterval and ReconnectBurst throttle dial attempts. A zero interval disables throttling.
	ReconnectInterval time.Duration
	ReconnectBurst    int
}

// URI returns the AMQP URI to dial. URL wins over the discrete fields.
func (c ClientConfig) URI() string {
	if strings.TrimSpace(c.URL) != "" {
		return c.URL
	}
	return amqp.URI{
		Scheme:   "amqp",
		Host:     c.Host,
		Port:     c.Port,
		Username: c.User,
		Password: c.Password,
		Vhost:    c.VHost,
	}.String()
}

// ExchangeConfig configures the exchange messages are published to. An empty
// name publishes through the default exchange with the queue name as routing key.
type ExchangeConfig struct {
	Name       string
	Type       string
	Durable    bool
	AutoDelete bool
	Internal   bool
	// Delayed declares an x-delayed-message exchange routing like Type.
	Delayed   bool
	Arguments amqp.Table
}

// QueueOptions configures queue declaration.
type QueueOptions struct {
	// Name overrides Config.Name as the broker-side queue name.
	Name       string
	Durable    bool
	Exclusive  bool
	AutoDelete bool
	// Declare turns topology declaration on first connect on or off.
	Declare bool
	// Passive only checks that the queue exists.
	Passive   bool
	Arguments amqp.Table
}

// Config is the immutable configuration of one queue adapter.
type Config struct {
	Name        string
	Variant     Variant
	Client      ClientConfig
	Exchange    ExchangeConfig
	Queue       QueueOptions
	RoutingKey  string
	ConsumerTag string
	// HeartbeatInterval is the liveness probe period of the consume loop.
	HeartbeatInterval time.Duration
	OperationTimeout  time.Duration
	// CheckpointEvery is the number of finished stream messages between offset checkpoints.
	CheckpointEvery int
}

// DefaultConfig returns a configuration for name with the broker defaults
// (localhost:5672, guest/guest, non-durable auto-delete queue, direct exchange).
func DefaultConfig(name string) Config {
	return Config{
		Name:    name,
		Variant: VariantPlain,
		Client: ClientConfig{
			Host:              "localhost",
			Port:              5672,
			User:              "guest",
			Password:          "guest",
			VHost:             "/",
			ConnectionTimeout: 3 * time.Second,
			Locale:            "en_US",
		},
		Exchange: ExchangeConfig{
			Type:       amqp.ExchangeDirect,
			AutoDelete: true,
		},
		Queue: QueueOptions{
			AutoDelete: true,
			Declare:    true,
		},
		HeartbeatInterval: defaultHeartbeatInterval,
		OperationTimeout:  defaultOperationTimeout,
	}
}

// QueueName is the broker-side queue name.
func (c Config) QueueName() string {
	if c.Queue.Name != "" {
		return c.Queue.Name
	}
	return c.Name
}

func (c *Config) normalize() error {
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		return queue.Error(queue.ErrInvalidArgument, "queue name is required")
	}
	c.Variant = Variant(strings.ToLower(strings.TrimSpace(string(c.Variant))))
	switch c.Variant {
	case "":
		c.Variant = VariantPlain
	case VariantPlain, VariantDLX, VariantStream:
	default:
		return queue.Error(queue.ErrInvalidArgument, fmt.Sprintf("unsupported queue variant %q", c.Variant))
	}
	if c.Client.ConnectionTimeout <= 0 {
		c.Client.ConnectionTimeout = 3 * time.Second
	}
	if c.Client.ReconnectBurst <= 0 {
		c.Client.ReconnectBurst = 1
	}
	if c.Exchange.Type == "" {
		c.Exchange.Type = amqp.ExchangeDirect
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = defaultHeartbeatInterval
	}
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = defaultOperationTimeout
	}
	if c.CheckpointEvery <= 0 {
		c.CheckpointEvery = defaultCheckpointEvery
	}

	c.Queue.Arguments = cloneTable(c.Queue.Arguments)
	c.Exchange.Arguments = cloneTable(c.Exchange.Arguments)
	if c.Exchange.Delayed {
		if c.Exchange.Arguments == nil {
			c.Exchange.Arguments = amqp.Table{}
		}
		if c.Exchange.Type != "x-delayed-message" {
			c.Exchange.Arguments[argDelayedType] = c.Exchange.Type
			c.Exchange.Type = "x-delayed-message"
		}
	}

	if c.Variant == VariantStream {
		if c.Queue.Arguments == nil {
			c.Queue.Arguments = amqp.Table{}
		}
		c.Queue.Arguments[argQueueType] = "stream"
		c.Queue.Durable = true
		c.Queue.AutoDelete = false
		c.Queue.Exclusive = false
		if c.ConsumerTag == "" {
			c.ConsumerTag = c.QueueName()
		}
	}
	return nil
}

func cloneTable(in amqp.Table) amqp.Table {
	if in == nil {
		return nil
	}
	out := make(amqp.Table, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
