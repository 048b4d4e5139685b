package config

import "time"

// Queue variant constants
const (
	// VariantPlain retries by acking and republishing with an incremented release counter
	VariantPlain = "plain"
	// VariantDLX retries through a dead-letter exchange configured on the broker
	VariantDLX = "dlx"
	// VariantStream reads a RabbitMQ stream and tracks the read position in an offset store
	VariantStream = "stream"
)

// Offset store backend constants
const (
	OffsetStoreMemory   = "memory"
	OffsetStoreRedis    = "redis"
	OffsetStorePostgres = "postgres"
	OffsetStoreMySQL    = "mysql"
	OffsetStoreMongoDB  = "mongodb"
	OffsetStoreDynamoDB = "dynamodb"
	OffsetStorePebble   = "pebble"
)

// Scheduler lock backend constants
const (
	SchedulerLockLocal    = "local"
	SchedulerLockRedis    = "redis"
	SchedulerLockPostgres = "postgres"
)

// Config is the root configuration structure for rabbitqueue
type Config struct {
	Service       ServiceConfig       `mapstructure:"service"`
	Connection    ConnectionConfig    `mapstructure:"connection"`
	Queues        []QueueConfig       `mapstructure:"queues"`
	OffsetStore   OffsetStoreConfig   `mapstructure:"offset_store"`
	Jobs          JobsConfig          `mapstructure:"jobs"`
	Scheduler     SchedulerConfig     `mapstructure:"scheduler"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

// ServiceConfig configures service identity metadata.
type ServiceConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// ConnectionConfig configures the broker connection shared by every queue.
// URL takes precedence over the discrete host/port/credential fields.
type ConnectionConfig struct {
	URL               string        `mapstructure:"url"`
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	User              string        `mapstructure:"user"`
	Password          string        `mapstructure:"password"`
	VHost             string        `mapstructure:"vhost"`
	Heartbeat         time.Duration `mapstructure:"heartbeat"`
	ConnectionTimeout time.Duration `mapstructure:"connection_timeout"`
	Locale            string        `mapstructure:"locale"`
	ReconnectInterval time.Duration `mapstructure:"reconnect_interval"`
	ReconnectBurst    int           `mapstructure:"reconnect_burst"`
}

// QueueConfig describes one named queue.
// Pointer booleans distinguish "unset" from false so broker defaults survive partial config.
type QueueConfig struct {
	Name              string              `mapstructure:"name"`
	Variant           string              `mapstructure:"variant"` // plain, dlx, stream
	Exchange          ExchangeConfig      `mapstructure:"exchange"`
	Queue             QueueDeclareConfig  `mapstructure:"queue"`
	RoutingKey        string              `mapstructure:"routing_key"`
	ConsumerTag       string              `mapstructure:"consumer_tag"`
	HeartbeatInterval time.Duration       `mapstructure:"heartbeat_interval"`
	OperationTimeout  time.Duration       `mapstructure:"operation_timeout"`
	MaxReleases       int                 `mapstructure:"max_releases"`
	ReleaseDelay      time.Duration       `mapstructure:"release_delay"`
	CheckpointEvery   int                 `mapstructure:"checkpoint_every"`
	Connection        *ConnectionConfig   `mapstructure:"connection"`
	Jobs              *QueueJobsOverrides `mapstructure:"jobs"`
}

// ExchangeConfig configures the exchange a queue publishes to.
type ExchangeConfig struct {
	Name       string `mapstructure:"name"`
	Type       string `mapstructure:"type"` // direct, fanout, topic, headers, x-delayed-message
	Durable    *bool  `mapstructure:"durable"`
	AutoDelete *bool  `mapstructure:"auto_delete"`
	Internal   bool   `mapstructure:"internal"`
	Delayed    bool   `mapstructure:"delayed"`
}

// QueueDeclareConfig configures queue declaration.
type QueueDeclareConfig struct {
	Name       string `mapstructure:"name"`
	Durable    *bool  `mapstructure:"durable"`
	Exclusive  *bool  `mapstructure:"exclusive"`
	AutoDelete *bool  `mapstructure:"auto_delete"`
	Declare    *bool  `mapstructure:"declare"`
	Passive    bool   `mapstructure:"passive"`
	// Arguments are passed to queue.declare as-is (x-message-ttl, x-dead-letter-exchange, ...).
	Arguments map[string]any `mapstructure:"arguments"`
}

// QueueJobsOverrides lets a queue opt out of the jobs worker or tune its wait timeout.
type QueueJobsOverrides struct {
	Disabled    bool          `mapstructure:"disabled"`
	WaitTimeout time.Duration `mapstructure:"wait_timeout"`
}

// OffsetStoreConfig selects and configures the stream offset store backend.
type OffsetStoreConfig struct {
	Backend  string                    `mapstructure:"backend"` // memory, redis, postgres, mysql, mongodb, dynamodb, pebble
	Redis    OffsetStoreRedisConfig    `mapstructure:"redis"`
	SQL      OffsetStoreSQLConfig      `mapstructure:"sql"`
	MongoDB  OffsetStoreMongoDBConfig  `mapstructure:"mongodb"`
	DynamoDB OffsetStoreDynamoDBConfig `mapstructure:"dynamodb"`
	Pebble   OffsetStorePebbleConfig   `mapstructure:"pebble"`
}

// OffsetStoreRedisConfig configures the Redis offset store.
type OffsetStoreRedisConfig struct {
	URL              string        `mapstructure:"url"`
	Prefix           string        `mapstructure:"prefix"`
	MaxConns         int           `mapstructure:"max_conns"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
}

// OffsetStoreSQLConfig configures the PostgreSQL/MySQL offset store.
type OffsetStoreSQLConfig struct {
	URL             string        `mapstructure:"url"`
	Table           string        `mapstructure:"table"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	QueryTimeout    time.Duration `mapstructure:"query_timeout"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// OffsetStoreMongoDBConfig configures the MongoDB offset store.
type OffsetStoreMongoDBConfig struct {
	URL              string        `mapstructure:"url"`
	Database         string        `mapstructure:"database"`
	Collection       string        `mapstructure:"collection"`
	ConnectTimeout   time.Duration `mapstructure:"connect_timeout"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
}

// OffsetStoreDynamoDBConfig configures the DynamoDB offset store.
type OffsetStoreDynamoDBConfig struct {
	Region           string        `mapstructure:"region"`
	Endpoint         string        `mapstructure:"endpoint"`
	AccessKeyID      string        `mapstructure:"access_key_id"`
	SecretAccessKey  string        `mapstructure:"secret_access_key"`
	SessionToken     string        `mapstructure:"session_token"`
	Table            string        `mapstructure:"table"`
	KeyAttribute     string        `mapstructure:"key_attribute"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
}

// OffsetStorePebbleConfig configures the embedded Pebble offset store.
type OffsetStorePebbleConfig struct {
	DataDir string `mapstructure:"data_dir"`
	Sync    bool   `mapstructure:"sync"`
}

// JobsConfig configures the job worker.
type JobsConfig struct {
	WaitTimeout    time.Duration `mapstructure:"wait_timeout"`
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout"`
	StopTimeout    time.Duration `mapstructure:"stop_timeout"`
	IdleBackoff    time.Duration `mapstructure:"idle_backoff"`
	ErrorBackoff   time.Duration `mapstructure:"error_backoff"`
}

// SchedulerConfig configures periodic job submission.
// With more than one scheduler instance running, use a shared lock backend so each run is submitted once.
type SchedulerConfig struct {
	LockBackend     string                      `mapstructure:"lock_backend"` // local, redis, postgres
	LockTTL         time.Duration               `mapstructure:"lock_ttl"`
	DispatchTimeout time.Duration               `mapstructure:"dispatch_timeout"`
	Redis           SchedulerRedisLockConfig    `mapstructure:"redis"`
	Postgres        SchedulerPostgresLockConfig `mapstructure:"postgres"`
	Tasks           []ScheduledTaskConfig       `mapstructure:"tasks"`
}

// SchedulerRedisLockConfig configures the Redis lock backend.
type SchedulerRedisLockConfig struct {
	URL              string        `mapstructure:"url"`
	Prefix           string        `mapstructure:"prefix"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
}

// SchedulerPostgresLockConfig configures the PostgreSQL lock backend.
type SchedulerPostgresLockConfig struct {
	URL              string        `mapstructure:"url"`
	Table            string        `mapstructure:"table"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
}

// ScheduledTaskConfig submits JobName to Queue on Schedule ("@every 30s" or a five-field cron line).
type ScheduledTaskConfig struct {
	Name     string        `mapstructure:"name"`
	Schedule string        `mapstructure:"schedule"`
	Queue    string        `mapstructure:"queue"`
	JobName  string        `mapstructure:"job_name"`
	Payload  any           `mapstructure:"payload"`
	Timezone string        `mapstructure:"timezone"`
	Delay    time.Duration `mapstructure:"delay"`
	LockTTL  time.Duration `mapstructure:"lock_ttl"`
}

// ObservabilityConfig configures logging, metrics, and tracing
type ObservabilityConfig struct {
	LogLevel          string             `mapstructure:"log_level"`
	LogFormat         string             `mapstructure:"log_format"` // json, text
	ServiceName       string             `mapstructure:"service_name"`
	TracingEnabled    bool               `mapstructure:"tracing_enabled"`
	TracingSampleRate float64            `mapstructure:"tracing_sample_rate"`
	TracingEndpoint   string             `mapstructure:"tracing_endpoint"`
	MetricsAddress    string             `mapstructure:"metrics_address"`
	AsyncLogging      AsyncLoggingConfig `mapstructure:"async_logging"`
}

// AsyncLoggingConfig configures optional asynchronous logger dispatching.
type AsyncLoggingConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	QueueSize    int  `mapstructure:"queue_size"`
	WorkerCount  int  `mapstructure:"worker_count"`
	DropWhenFull bool `mapstructure:"drop_when_full"`
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:        "rabbitqueue",
			Environment: "production",
		},
		Connection: ConnectionConfig{
			Host:              "localhost",
			Port:              5672,
			User:              "guest",
			Password:          "guest",
			VHost:             "/",
			Heartbeat:         0,
			ConnectionTimeout: 3 * time.Second,
			Locale:            "en_US",
			ReconnectInterval: time.Second,
			ReconnectBurst:    3,
		},
		OffsetStore: OffsetStoreConfig{
			Backend: OffsetStoreRedis,
			Redis: OffsetStoreRedisConfig{
				URL:              "redis://localhost:6379/0",
				Prefix:           "rabbitqueue:stream-offset",
				MaxConns:         10,
				OperationTimeout: 3 * time.Second,
			},
			SQL: OffsetStoreSQLConfig{
				Table:           "rabbitqueue_stream_offsets",
				MaxOpenConns:    5,
				MaxIdleConns:    2,
				ConnMaxLifetime: 5 * time.Minute,
				QueryTimeout:    5 * time.Second,
				AutoMigrate:     true,
			},
			MongoDB: OffsetStoreMongoDBConfig{
				Collection:       "stream_offsets",
				ConnectTimeout:   5 * time.Second,
				OperationTimeout: 5 * time.Second,
			},
			DynamoDB: OffsetStoreDynamoDBConfig{
				KeyAttribute:     "entry_key",
				OperationTimeout: 5 * time.Second,
			},
			Pebble: OffsetStorePebbleConfig{
				DataDir: "data/offsets",
			},
		},
		Jobs: JobsConfig{
			WaitTimeout:    5 * time.Second,
			AttemptTimeout: 5 * time.Minute,
			StopTimeout:    30 * time.Second,
			IdleBackoff:    100 * time.Millisecond,
			ErrorBackoff:   time.Second,
		},
		Scheduler: SchedulerConfig{
			LockBackend:     SchedulerLockLocal,
			LockTTL:         30 * time.Second,
			DispatchTimeout: 10 * time.Second,
			Redis: SchedulerRedisLockConfig{
				URL:              "redis://localhost:6379/0",
				Prefix:           "rabbitqueue:scheduler:lock",
				OperationTimeout: 3 * time.Second,
			},
			Postgres: SchedulerPostgresLockConfig{
				Table:            "rabbitqueue_scheduler_locks",
				OperationTimeout: 3 * time.Second,
			},
		},
		Observability: ObservabilityConfig{
			LogLevel:          "info",
			LogFormat:         "json",
			ServiceName:       "rabbitqueue",
			TracingEnabled:    false,
			TracingSampleRate: 0.1,
			TracingEndpoint:   "localhost:4317",
			AsyncLogging: AsyncLoggingConfig{
				QueueSize:   1024,
				WorkerCount: 1,
			},
		},
	}
}

// Queue returns the queue configuration registered under name.
func (c *Config) Queue(name string) (QueueConfig, bool) {
	for _, q := range c.Queues {
		if q.Name == name {
			return q, true
		}
	}
	return QueueConfig{}, false
}

// QueueNames returns configured queue names in declaration order.
func (c *Config) QueueNames() []string {
	names := make([]string, 0, len(c.Queues))
	for _, q := range c.Queues {
		names = append(names, q.Name)
	}
	return names
}

// HasStreamQueues reports whether any configured queue uses the stream variant.
func (c *Config) HasStreamQueues() bool {
	for _, q := range c.Queues {
		if q.Variant == VariantStream {
			return true
		}
	}
	return false
}
