package config

import (
	"errors"
	"fmt"
	"strings"
)

var (
	validVariants      = []string{VariantPlain, VariantDLX, VariantStream}
	validExchangeTypes = []string{"direct", "fanout", "topic", "headers", "x-delayed-message"}
	validBackends      = []string{OffsetStoreMemory, OffsetStoreRedis, OffsetStorePostgres, OffsetStoreMySQL, OffsetStoreMongoDB, OffsetStoreDynamoDB, OffsetStorePebble}
	validLockBackends  = []string{SchedulerLockLocal, SchedulerLockRedis, SchedulerLockPostgres}
	validLogLevels     = []string{"debug", "info", "warn", "error"}
	validLogFormats    = []string{"json", "text"}
)

// Validate normalizes and validates the configuration, reporting every problem at once.
func (l *ViperLoader) Validate(cfg *Config) error {
	var errs []error

	if strings.TrimSpace(cfg.Service.Name) == "" {
		errs = append(errs, errors.New("service.name is required"))
	}

	errs = append(errs, validateConnection("connection", cfg.Connection, true)...)

	seen := make(map[string]struct{}, len(cfg.Queues))
	for i := range cfg.Queues {
		q := &cfg.Queues[i]
		q.Name = strings.TrimSpace(q.Name)
		q.Variant = strings.ToLower(strings.TrimSpace(q.Variant))
		if q.Variant == "" {
			q.Variant = VariantPlain
		}
		field := fmt.Sprintf("queues[%d]", i)
		if q.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", field))
		} else {
			field = fmt.Sprintf("queues[%s]", q.Name)
			if _, dup := seen[q.Name]; dup {
				errs = append(errs, fmt.Errorf("queue %q is declared more than once", q.Name))
			}
			seen[q.Name] = struct{}{}
		}
		errs = append(errs, validateQueue(field, q)...)
	}

	cfg.OffsetStore.Backend = strings.ToLower(strings.TrimSpace(cfg.OffsetStore.Backend))
	if cfg.OffsetStore.Backend == "postgresql" {
		cfg.OffsetStore.Backend = OffsetStorePostgres
	}
	if !contains(validBackends, cfg.OffsetStore.Backend) {
		errs = append(errs, fmt.Errorf("invalid offset_store.backend: %s (must be one of: %v)", cfg.OffsetStore.Backend, validBackends))
	} else if cfg.HasStreamQueues() {
		errs = append(errs, validateOffsetStore(cfg.OffsetStore)...)
	}

	if cfg.Jobs.WaitTimeout < 0 {
		errs = append(errs, errors.New("jobs.wait_timeout must be >= 0"))
	}
	if cfg.Jobs.AttemptTimeout <= 0 {
		errs = append(errs, errors.New("jobs.attempt_timeout must be greater than 0"))
	}
	if cfg.Jobs.StopTimeout <= 0 {
		errs = append(errs, errors.New("jobs.stop_timeout must be greater than 0"))
	}
	if cfg.Jobs.IdleBackoff < 0 || cfg.Jobs.ErrorBackoff < 0 {
		errs = append(errs, errors.New("jobs.idle_backoff and jobs.error_backoff must be >= 0"))
	}

	errs = append(errs, validateScheduler(cfg, seen)...)

	if !contains(validLogLevels, strings.ToLower(cfg.Observability.LogLevel)) {
		errs = append(errs, fmt.Errorf("invalid observability.log_level: %s (must be one of: %v)", cfg.Observability.LogLevel, validLogLevels))
	}
	if !contains(validLogFormats, strings.ToLower(cfg.Observability.LogFormat)) {
		errs = append(errs, fmt.Errorf("invalid observability.log_format: %s (must be one of: %v)", cfg.Observability.LogFormat, validLogFormats))
	}
	if cfg.Observability.TracingSampleRate < 0 || cfg.Observability.TracingSampleRate > 1 {
		errs = append(errs, errors.New("observability.tracing_sample_rate must be between 0 and 1"))
	}
	if cfg.Observability.TracingEnabled && strings.TrimSpace(cfg.Observability.TracingEndpoint) == "" {
		errs = append(errs, errors.New("observability.tracing_endpoint is required when tracing is enabled"))
	}
	if cfg.Observability.AsyncLogging.Enabled {
		if cfg.Observability.AsyncLogging.QueueSize <= 0 {
			errs = append(errs, errors.New("observability.async_logging.queue_size must be greater than 0 when async logging is enabled"))
		}
		if cfg.Observability.AsyncLogging.WorkerCount <= 0 {
			errs = append(errs, errors.New("observability.async_logging.worker_count must be greater than 0 when async logging is enabled"))
		}
	}

	return errors.Join(errs...)
}

func validateConnection(field string, c ConnectionConfig, root bool) []error {
	var errs []error
	if strings.TrimSpace(c.URL) == "" {
		if root && strings.TrimSpace(c.Host) == "" {
			errs = append(errs, fmt.Errorf("%s.host is required when %s.url is empty", field, field))
		}
		if c.Port < 0 || c.Port > 65535 || (root && c.Port == 0) {
			errs = append(errs, fmt.Errorf("%s.port must be between 1 and 65535", field))
		}
	} else if !strings.HasPrefix(c.URL, "amqp://") && !strings.HasPrefix(c.URL, "amqps://") {
		errs = append(errs, fmt.Errorf("%s.url must use the amqp:// or amqps:// scheme", field))
	}
	if c.Heartbeat < 0 {
		errs = append(errs, fmt.Errorf("%s.heartbeat must be >= 0", field))
	}
	if c.ConnectionTimeout < 0 || (root && c.ConnectionTimeout == 0) {
		errs = append(errs, fmt.Errorf("%s.connection_timeout must be greater than 0", field))
	}
	if c.ReconnectInterval < 0 || c.ReconnectBurst < 0 {
		errs = append(errs, fmt.Errorf("%s.reconnect_interval and %s.reconnect_burst must be >= 0", field, field))
	}
	return errs
}

func validateQueue(field string, q *QueueConfig) []error {
	var errs []error
	if !contains(validVariants, q.Variant) {
		errs = append(errs, fmt.Errorf("invalid %s.variant: %s (must be one of: %v)", field, q.Variant, validVariants))
	}
	if q.MaxReleases < 0 {
		errs = append(errs, fmt.Errorf("%s.max_releases must be >= 0", field))
	}
	if q.ReleaseDelay < 0 {
		errs = append(errs, fmt.Errorf("%s.release_delay must be >= 0", field))
	}
	if q.HeartbeatInterval < 0 {
		errs = append(errs, fmt.Errorf("%s.heartbeat_interval must be >= 0", field))
	}
	if q.OperationTimeout < 0 {
		errs = append(errs, fmt.Errorf("%s.operation_timeout must be >= 0", field))
	}
	if q.CheckpointEvery < 0 {
		errs = append(errs, fmt.Errorf("%s.checkpoint_every must be >= 0", field))
	}
	if t := strings.ToLower(strings.TrimSpace(q.Exchange.Type)); t != "" && !contains(validExchangeTypes, t) {
		errs = append(errs, fmt.Errorf("invalid %s.exchange.type: %s (must be one of: %v)", field, q.Exchange.Type, validExchangeTypes))
	}
	if q.Exchange.Delayed && strings.TrimSpace(q.Exchange.Name) == "" {
		errs = append(errs, fmt.Errorf("%s.exchange.name is required when exchange.delayed is set", field))
	}
	if q.Connection != nil {
		errs = append(errs, validateConnection(field+".connection", *q.Connection, false)...)
	}

	if q.Variant == VariantStream {
		if q.MaxReleases != 0 {
			errs = append(errs, fmt.Errorf("%s.max_releases must be 0 for stream queues (streams cannot release messages)", field))
		}
		if isTrue(q.Queue.AutoDelete) {
			errs = append(errs, fmt.Errorf("%s.queue.auto_delete cannot be enabled for stream queues", field))
		}
		if isTrue(q.Queue.Exclusive) {
			errs = append(errs, fmt.Errorf("%s.queue.exclusive cannot be enabled for stream queues", field))
		}
		if q.Queue.Durable != nil && !*q.Queue.Durable {
			errs = append(errs, fmt.Errorf("%s.queue.durable cannot be disabled for stream queues", field))
		}
	} else if q.CheckpointEvery != 0 {
		errs = append(errs, fmt.Errorf("%s.checkpoint_every only applies to stream queues", field))
	}
	return errs
}

func validateOffsetStore(c OffsetStoreConfig) []error {
	var errs []error
	switch c.Backend {
	case OffsetStoreRedis:
		if strings.TrimSpace(c.Redis.URL) == "" {
			errs = append(errs, errors.New("offset_store.redis.url is required for the redis backend"))
		}
	case OffsetStorePostgres, OffsetStoreMySQL:
		if strings.TrimSpace(c.SQL.URL) == "" {
			errs = append(errs, fmt.Errorf("offset_store.sql.url is required for the %s backend", c.Backend))
		}
	case OffsetStoreMongoDB:
		if strings.TrimSpace(c.MongoDB.URL) == "" {
			errs = append(errs, errors.New("offset_store.mongodb.url is required for the mongodb backend"))
		}
		if strings.TrimSpace(c.MongoDB.Database) == "" {
			errs = append(errs, errors.New("offset_store.mongodb.database is required for the mongodb backend"))
		}
	case OffsetStoreDynamoDB:
		if strings.TrimSpace(c.DynamoDB.Region) == "" {
			errs = append(errs, errors.New("offset_store.dynamodb.region is required for the dynamodb backend"))
		}
		if strings.TrimSpace(c.DynamoDB.Table) == "" {
			errs = append(errs, errors.New("offset_store.dynamodb.table is required for the dynamodb backend"))
		}
	case OffsetStorePebble:
		if strings.TrimSpace(c.Pebble.DataDir) == "" {
			errs = append(errs, errors.New("offset_store.pebble.data_dir is required for the pebble backend"))
		}
	}
	return errs
}

func validateScheduler(cfg *Config, queues map[string]struct{}) []error {
	var errs []error
	s := &cfg.Scheduler
	s.LockBackend = strings.ToLower(strings.TrimSpace(s.LockBackend))
	if s.LockBackend == "" {
		s.LockBackend = SchedulerLockLocal
	}
	if !contains(validLockBackends, s.LockBackend) {
		errs = append(errs, fmt.Errorf("invalid scheduler.lock_backend: %s (must be one of: %v)", s.LockBackend, validLockBackends))
	}
	if len(s.Tasks) == 0 {
		return errs
	}
	switch s.LockBackend {
	case SchedulerLockRedis:
		if strings.TrimSpace(s.Redis.URL) == "" {
			errs = append(errs, errors.New("scheduler.redis.url is required when scheduler.lock_backend is redis"))
		}
	case SchedulerLockPostgres:
		if strings.TrimSpace(s.Postgres.URL) == "" {
			errs = append(errs, errors.New("scheduler.postgres.url is required when scheduler.lock_backend is postgres"))
		}
	}
	if s.LockTTL < 0 || s.DispatchTimeout < 0 {
		errs = append(errs, errors.New("scheduler.lock_ttl and scheduler.dispatch_timeout must be >= 0"))
	}

	names := make(map[string]struct{}, len(s.Tasks))
	for i := range s.Tasks {
		t := &s.Tasks[i]
		t.Name = strings.TrimSpace(t.Name)
		t.Queue = strings.TrimSpace(t.Queue)
		field := fmt.Sprintf("scheduler.tasks[%d]", i)
		if t.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", field))
		} else {
			if _, dup := names[t.Name]; dup {
				errs = append(errs, fmt.Errorf("scheduled task %q is declared more than once", t.Name))
			}
			names[t.Name] = struct{}{}
			field = fmt.Sprintf("scheduler.tasks[%s]", t.Name)
		}
		if strings.TrimSpace(t.Schedule) == "" {
			errs = append(errs, fmt.Errorf("%s.schedule is required", field))
		}
		if strings.TrimSpace(t.JobName) == "" {
			errs = append(errs, fmt.Errorf("%s.job_name is required", field))
		}
		if _, ok := queues[t.Queue]; !ok {
			errs = append(errs, fmt.Errorf("%s.queue %q is not a configured queue", field, t.Queue))
		}
		if t.Delay < 0 || t.LockTTL < 0 {
			errs = append(errs, fmt.Errorf("%s.delay and %s.lock_ttl must be >= 0", field, field))
		}
	}
	return errs
}

func isTrue(b *bool) bool {
	return b != nil && *b
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
