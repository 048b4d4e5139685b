package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// DefaultEnvPrefix is used when the loader is built without an explicit prefix.
const DefaultEnvPrefix = "RABBITQUEUE"

// Loader defines the interface for loading configuration
type Loader interface {
	Load() (*Config, error)
	Validate(*Config) error
}

// ViperLoader implements Loader using Viper for configuration management
type ViperLoader struct {
	configFile string
	envPrefix  string
}

// NewViperLoader creates a new ViperLoader
// configFile: path to configuration file (optional, can be empty)
// envPrefix: prefix for environment variables (e.g., "RABBITQUEUE")
func NewViperLoader(configFile, envPrefix string) *ViperLoader {
	return &ViperLoader{
		configFile: configFile,
		envPrefix:  envPrefix,
	}
}

// Load loads configuration with precedence: ENV > secrets file > file > defaults
func (l *ViperLoader) Load() (*Config, error) {
	v, err := l.build()
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := l.Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Settings returns the merged settings tree without validating it.
func (l *ViperLoader) Settings() (map[string]any, error) {
	v, err := l.build()
	if err != nil {
		return nil, err
	}
	return v.AllSettings(), nil
}

func (l *ViperLoader) build() (*viper.Viper, error) {
	v := viper.New()

	l.setDefaults(v, DefaultConfig())

	if l.configFile != "" {
		v.SetConfigFile(l.configFile)
		if err := v.ReadInConfig(); err != nil {
			// Only return error if file was explicitly specified but couldn't be read
			return nil, fmt.Errorf("failed to read config file %s: %w", l.configFile, err)
		}
	}

	if err := l.mergeSecrets(v); err != nil {
		return nil, err
	}

	// Environment variables override file config through explicit bindings.
	v.SetEnvPrefix(l.envPrefix)
	l.bindEnvVars(v)
	return v, nil
}

// bindEnvVars explicitly binds environment variables for nested structs
func (l *ViperLoader) bindEnvVars(v *viper.Viper) {
	v.BindEnv("service.name", l.prefixedEnv("SERVICE_NAME"))
	v.BindEnv("service.environment", l.prefixedEnv("SERVICE_ENVIRONMENT"), l.prefixedEnv("ENVIRONMENT"))

	// Connection
	v.BindEnv("connection.url", l.prefixedEnv("AMQP_URL"), l.prefixedEnv("CONNECTION_URL"))
	v.BindEnv("connection.host", l.prefixedEnv("CONNECTION_HOST"))
	v.BindEnv("connection.port", l.prefixedEnv("CONNECTION_PORT"))
	v.BindEnv("connection.user", l.prefixedEnv("CONNECTION_USER"))
	v.BindEnv("connection.password", l.prefixedEnv("CONNECTION_PASSWORD"))
	v.BindEnv("connection.vhost", l.prefixedEnv("CONNECTION_VHOST"))
	v.BindEnv("connection.heartbeat", l.prefixedEnv("CONNECTION_HEARTBEAT"))
	v.BindEnv("connection.connection_timeout", l.prefixedEnv("CONNECTION_TIMEOUT"))
	v.BindEnv("connection.locale", l.prefixedEnv("CONNECTION_LOCALE"))
	v.BindEnv("connection.reconnect_interval", l.prefixedEnv("CONNECTION_RECONNECT_INTERVAL"))
	v.BindEnv("connection.reconnect_burst", l.prefixedEnv("CONNECTION_RECONNECT_BURST"))

	// Offset store
	v.BindEnv("offset_store.backend", l.prefixedEnv("OFFSET_STORE_BACKEND"))
	v.BindEnv("offset_store.redis.url", l.prefixedEnv("OFFSET_STORE_REDIS_URL"))
	v.BindEnv("offset_store.redis.prefix", l.prefixedEnv("OFFSET_STORE_REDIS_PREFIX"))
	v.BindEnv("offset_store.redis.max_conns", l.prefixedEnv("OFFSET_STORE_REDIS_MAX_CONNS"))
	v.BindEnv("offset_store.redis.operation_timeout", l.prefixedEnv("OFFSET_STORE_REDIS_OPERATION_TIMEOUT"))
	v.BindEnv("offset_store.sql.url", l.prefixedEnv("OFFSET_STORE_SQL_URL"))
	v.BindEnv("offset_store.sql.table", l.prefixedEnv("OFFSET_STORE_SQL_TABLE"))
	v.BindEnv("offset_store.sql.max_open_conns", l.prefixedEnv("OFFSET_STORE_SQL_MAX_OPEN_CONNS"))
	v.BindEnv("offset_store.sql.max_idle_conns", l.prefixedEnv("OFFSET_STORE_SQL_MAX_IDLE_CONNS"))
	v.BindEnv("offset_store.sql.conn_max_lifetime", l.prefixedEnv("OFFSET_STORE_SQL_CONN_MAX_LIFETIME"))
	v.BindEnv("offset_store.sql.query_timeout", l.prefixedEnv("OFFSET_STORE_SQL_QUERY_TIMEOUT"))
	v.BindEnv("offset_store.sql.auto_migrate", l.prefixedEnv("OFFSET_STORE_SQL_AUTO_MIGRATE"))
	v.BindEnv("offset_store.mongodb.url", l.prefixedEnv("OFFSET_STORE_MONGODB_URL"))
	v.BindEnv("offset_store.mongodb.database", l.prefixedEnv("OFFSET_STORE_MONGODB_DATABASE"))
	v.BindEnv("offset_store.mongodb.collection", l.prefixedEnv("OFFSET_STORE_MONGODB_COLLECTION"))
	v.BindEnv("offset_store.mongodb.connect_timeout", l.prefixedEnv("OFFSET_STORE_MONGODB_CONNECT_TIMEOUT"))
	v.BindEnv("offset_store.mongodb.operation_timeout", l.prefixedEnv("OFFSET_STORE_MONGODB_OPERATION_TIMEOUT"))
	v.BindEnv("offset_store.dynamodb.region", l.prefixedEnv("OFFSET_STORE_DYNAMODB_REGION"), "AWS_REGION")
	v.BindEnv("offset_store.dynamodb.endpoint", l.prefixedEnv("OFFSET_STORE_DYNAMODB_ENDPOINT"))
	v.BindEnv("offset_store.dynamodb.access_key_id", l.prefixedEnv("OFFSET_STORE_DYNAMODB_ACCESS_KEY_ID"))
	v.BindEnv("offset_store.dynamodb.secret_access_key", l.prefixedEnv("OFFSET_STORE_DYNAMODB_SECRET_ACCESS_KEY"))
	v.BindEnv("offset_store.dynamodb.session_token", l.prefixedEnv("OFFSET_STORE_DYNAMODB_SESSION_TOKEN"))
	v.BindEnv("offset_store.dynamodb.table", l.prefixedEnv("OFFSET_STORE_DYNAMODB_TABLE"))
	v.BindEnv("offset_store.dynamodb.key_attribute", l.prefixedEnv("OFFSET_STORE_DYNAMODB_KEY_ATTRIBUTE"))
	v.BindEnv("offset_store.dynamodb.operation_timeout", l.prefixedEnv("OFFSET_STORE_DYNAMODB_OPERATION_TIMEOUT"))
	v.BindEnv("offset_store.pebble.data_dir", l.prefixedEnv("OFFSET_STORE_PEBBLE_DATA_DIR"))
	v.BindEnv("offset_store.pebble.sync", l.prefixedEnv("OFFSET_STORE_PEBBLE_SYNC"))

	// Jobs
	v.BindEnv("jobs.wait_timeout", l.prefixedEnv("JOBS_WAIT_TIMEOUT"))
	v.BindEnv("jobs.attempt_timeout", l.prefixedEnv("JOBS_ATTEMPT_TIMEOUT"))
	v.BindEnv("jobs.stop_timeout", l.prefixedEnv("JOBS_STOP_TIMEOUT"))
	v.BindEnv("jobs.idle_backoff", l.prefixedEnv("JOBS_IDLE_BACKOFF"))
	v.BindEnv("jobs.error_backoff", l.prefixedEnv("JOBS_ERROR_BACKOFF"))

	// Observability
	v.BindEnv("scheduler.lock_backend", l.prefixedEnv("SCHEDULER_LOCK_BACKEND"))
	v.BindEnv("scheduler.lock_ttl", l.prefixedEnv("SCHEDULER_LOCK_TTL"))
	v.BindEnv("scheduler.dispatch_timeout", l.prefixedEnv("SCHEDULER_DISPATCH_TIMEOUT"))
	v.BindEnv("scheduler.redis.url", l.prefixedEnv("SCHEDULER_REDIS_URL"))
	v.BindEnv("scheduler.redis.prefix", l.prefixedEnv("SCHEDULER_REDIS_PREFIX"))
	v.BindEnv("scheduler.redis.operation_timeout", l.prefixedEnv("SCHEDULER_REDIS_OPERATION_TIMEOUT"))
	v.BindEnv("scheduler.postgres.url", l.prefixedEnv("SCHEDULER_POSTGRES_URL"))
	v.BindEnv("scheduler.postgres.table", l.prefixedEnv("SCHEDULER_POSTGRES_TABLE"))
	v.BindEnv("scheduler.postgres.operation_timeout", l.prefixedEnv("SCHEDULER_POSTGRES_OPERATION_TIMEOUT"))

	v.BindEnv("observability.log_level", l.prefixedEnv("OBSERVABILITY_LOG_LEVEL"), l.prefixedEnv("LOG_LEVEL"))
	v.BindEnv("observability.log_format", l.prefixedEnv("OBSERVABILITY_LOG_FORMAT"))
	v.BindEnv("observability.service_name", l.prefixedEnv("OBSERVABILITY_SERVICE_NAME"))
	v.BindEnv("observability.tracing_enabled", l.prefixedEnv("OBSERVABILITY_TRACING_ENABLED"))
	v.BindEnv("observability.tracing_sample_rate", l.prefixedEnv("OBSERVABILITY_TRACING_SAMPLE_RATE"))
	v.BindEnv("observability.tracing_endpoint", l.prefixedEnv("OBSERVABILITY_TRACING_ENDPOINT"))
	v.BindEnv("observability.metrics_address", l.prefixedEnv("OBSERVABILITY_METRICS_ADDRESS"))
	v.BindEnv("observability.async_logging.enabled", l.prefixedEnv("OBSERVABILITY_ASYNC_LOGGING_ENABLED"))
	v.BindEnv("observability.async_logging.queue_size", l.prefixedEnv("OBSERVABILITY_ASYNC_LOGGING_QUEUE_SIZE"))
	v.BindEnv("observability.async_logging.worker_count", l.prefixedEnv("OBSERVABILITY_ASYNC_LOGGING_WORKER_COUNT"))
	v.BindEnv("observability.async_logging.drop_when_full", l.prefixedEnv("OBSERVABILITY_ASYNC_LOGGING_DROP_WHEN_FULL"))
}

func (l *ViperLoader) prefixedEnv(suffix string) string {
	prefix := strings.TrimSpace(l.envPrefix)
	if prefix == "" {
		prefix = DefaultEnvPrefix
	}
	return fmt.Sprintf("%s_%s", strings.ToUpper(prefix), suffix)
}

// setDefaults sets default values in Viper from the default config
func (l *ViperLoader) setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("service.name", cfg.Service.Name)
	v.SetDefault("service.environment", cfg.Service.Environment)

	v.SetDefault("connection.url", cfg.Connection.URL)
	v.SetDefault("connection.host", cfg.Connection.Host)
	v.SetDefault("connection.port", cfg.Connection.Port)
	v.SetDefault("connection.user", cfg.Connection.User)
	v.SetDefault("connection.password", cfg.Connection.Password)
	v.SetDefault("connection.vhost", cfg.Connection.VHost)
	v.SetDefault("connection.heartbeat", cfg.Connection.Heartbeat)
	v.SetDefault("connection.connection_timeout", cfg.Connection.ConnectionTimeout)
	v.SetDefault("connection.locale", cfg.Connection.Locale)
	v.SetDefault("connection.reconnect_interval", cfg.Connection.ReconnectInterval)
	v.SetDefault("connection.reconnect_burst", cfg.Connection.ReconnectBurst)

	v.SetDefault("queues", cfg.Queues)

	v.SetDefault("offset_store.backend", cfg.OffsetStore.Backend)
	v.SetDefault("offset_store.redis.url", cfg.OffsetStore.Redis.URL)
	v.SetDefault("offset_store.redis.prefix", cfg.OffsetStore.Redis.Prefix)
	v.SetDefault("offset_store.redis.max_conns", cfg.OffsetStore.Redis.MaxConns)
	v.SetDefault("offset_store.redis.operation_timeout", cfg.OffsetStore.Redis.OperationTimeout)
	v.SetDefault("offset_store.sql.url", cfg.OffsetStore.SQL.URL)
	v.SetDefault("offset_store.sql.table", cfg.OffsetStore.SQL.Table)
	v.SetDefault("offset_store.sql.max_open_conns", cfg.OffsetStore.SQL.MaxOpenConns)
	v.SetDefault("offset_store.sql.max_idle_conns", cfg.OffsetStore.SQL.MaxIdleConns)
	v.SetDefault("offset_store.sql.conn_max_lifetime", cfg.OffsetStore.SQL.ConnMaxLifetime)
	v.SetDefault("offset_store.sql.query_timeout", cfg.OffsetStore.SQL.QueryTimeout)
	v.SetDefault("offset_store.sql.auto_migrate", cfg.OffsetStore.SQL.AutoMigrate)
	v.SetDefault("offset_store.mongodb.url", cfg.OffsetStore.MongoDB.URL)
	v.SetDefault("offset_store.mongodb.database", cfg.OffsetStore.MongoDB.Database)
	v.SetDefault("offset_store.mongodb.collection", cfg.OffsetStore.MongoDB.Collection)
	v.SetDefault("offset_store.mongodb.connect_timeout", cfg.OffsetStore.MongoDB.ConnectTimeout)
	v.SetDefault("offset_store.mongodb.operation_timeout", cfg.OffsetStore.MongoDB.OperationTimeout)
	v.SetDefault("offset_store.dynamodb.region", cfg.OffsetStore.DynamoDB.Region)
	v.SetDefault("offset_store.dynamodb.endpoint", cfg.OffsetStore.DynamoDB.Endpoint)
	v.SetDefault("offset_store.dynamodb.table", cfg.OffsetStore.DynamoDB.Table)
	v.SetDefault("offset_store.dynamodb.key_attribute", cfg.OffsetStore.DynamoDB.KeyAttribute)
	v.SetDefault("offset_store.dynamodb.operation_timeout", cfg.OffsetStore.DynamoDB.OperationTimeout)
	v.SetDefault("offset_store.pebble.data_dir", cfg.OffsetStore.Pebble.DataDir)
	v.SetDefault("offset_store.pebble.sync", cfg.OffsetStore.Pebble.Sync)

	v.SetDefault("jobs.wait_timeout", cfg.Jobs.WaitTimeout)
	v.SetDefault("jobs.attempt_timeout", cfg.Jobs.AttemptTimeout)
	v.SetDefault("jobs.stop_timeout", cfg.Jobs.StopTimeout)
	v.SetDefault("jobs.idle_backoff", cfg.Jobs.IdleBackoff)
	v.SetDefault("jobs.error_backoff", cfg.Jobs.ErrorBackoff)

	v.SetDefault("scheduler.lock_backend", cfg.Scheduler.LockBackend)
	v.SetDefault("scheduler.lock_ttl", cfg.Scheduler.LockTTL)
	v.SetDefault("scheduler.dispatch_timeout", cfg.Scheduler.DispatchTimeout)
	v.SetDefault("scheduler.redis.url", cfg.Scheduler.Redis.URL)
	v.SetDefault("scheduler.redis.prefix", cfg.Scheduler.Redis.Prefix)
	v.SetDefault("scheduler.redis.operation_timeout", cfg.Scheduler.Redis.OperationTimeout)
	v.SetDefault("scheduler.postgres.url", cfg.Scheduler.Postgres.URL)
	v.SetDefault("scheduler.postgres.table", cfg.Scheduler.Postgres.Table)
	v.SetDefault("scheduler.postgres.operation_timeout", cfg.Scheduler.Postgres.OperationTimeout)
	v.SetDefault("scheduler.tasks", cfg.Scheduler.Tasks)

	v.SetDefault("observability.log_level", cfg.Observability.LogLevel)
	v.SetDefault("observability.log_format", cfg.Observability.LogFormat)
	v.SetDefault("observability.service_name", cfg.Observability.ServiceName)
	v.SetDefault("observability.tracing_enabled", cfg.Observability.TracingEnabled)
	v.SetDefault("observability.tracing_sample_rate", cfg.Observability.TracingSampleRate)
	v.SetDefault("observability.tracing_endpoint", cfg.Observability.TracingEndpoint)
	v.SetDefault("observability.metrics_address", cfg.Observability.MetricsAddress)
	v.SetDefault("observability.async_logging.enabled", cfg.Observability.AsyncLogging.Enabled)
	v.SetDefault("observability.async_logging.queue_size", cfg.Observability.AsyncLogging.QueueSize)
	v.SetDefault("observability.async_logging.worker_count", cfg.Observability.AsyncLogging.WorkerCount)
	v.SetDefault("observability.async_logging.drop_when_full", cfg.Observability.AsyncLogging.DropWhenFull)
}
