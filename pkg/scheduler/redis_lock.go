package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nimburion/rabbitqueue/pkg/observability/logger"
)

const (
	defaultRedisLockPrefix  = "rabbitqueue:scheduler:lock"
	defaultRedisLockTimeout = 3 * time.Second
)

// Deletes the key only while it still carries the caller's token.
var redisReleaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLockProviderConfig configures RedisLockProvider.
type RedisLockProviderConfig struct {
	URL              string
	Prefix           string
	OperationTimeout time.Duration
}

func (c *RedisLockProviderConfig) normalize() {
	if strings.TrimSpace(c.Prefix) == "" {
		c.Prefix = defaultRedisLockPrefix
	}
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = defaultRedisLockTimeout
	}
}

// RedisLockProvider implements LockProvider with SET NX PX.
type RedisLockProvider struct {
	client redis.UniversalClient
	log    logger.Logger
	config RedisLockProviderConfig
}

// NewRedisLockProvider connects to cfg.URL and pings it once.
func NewRedisLockProvider(cfg RedisLockProviderConfig, log logger.Logger) (*RedisLockProvider, error) {
	if log == nil {
		return nil, schedulerError(ErrNotInitialized, "logger is required")
	}
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, schedulerError(ErrValidation, "redis url is required")
	}
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: parse redis url: %w", ErrValidation, err)
	}
	cfg.normalize()

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), cfg.OperationTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: ping redis: %w", ErrLockBackend, err)
	}
	return newRedisLockProviderWithClient(client, cfg, log), nil
}

func newRedisLockProviderWithClient(client redis.UniversalClient, cfg RedisLockProviderConfig, log logger.Logger) *RedisLockProvider {
	cfg.normalize()
	return &RedisLockProvider{client: client, log: log, config: cfg}
}

func (p *RedisLockProvider) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lease, bool, error) {
	if p == nil || p.client == nil {
		return nil, false, schedulerError(ErrNotInitialized, "redis lock provider is not initialized")
	}
	if strings.TrimSpace(key) == "" || ttl <= 0 {
		return nil, false, schedulerError(ErrValidation, "lock key and a positive ttl are required")
	}

	token := newLeaseToken()
	opCtx, cancel := context.WithTimeout(ctx, p.config.OperationTimeout)
	defer cancel()
	acquired, err := p.client.SetNX(opCtx, p.fullKey(key), token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("%w: acquire %s: %w", ErrLockBackend, key, err)
	}
	if !acquired {
		return nil, false, nil
	}
	return &Lease{Key: key, Token: token, ExpireAt: time.Now().Add(ttl)}, true, nil
}

func (p *RedisLockProvider) Release(ctx context.Context, lease *Lease) error {
	if p == nil || p.client == nil {
		return schedulerError(ErrNotInitialized, "redis lock provider is not initialized")
	}
	if lease == nil || lease.Key == "" || lease.Token == "" {
		return schedulerError(ErrValidation, "lease key and token are required")
	}

	opCtx, cancel := context.WithTimeout(ctx, p.config.OperationTimeout)
	defer cancel()
	deleted, err := redisReleaseScript.Run(opCtx, p.client, []string{p.fullKey(lease.Key)}, lease.Token).Int64()
	if err != nil {
		return fmt.Errorf("%w: release %s: %w", ErrLockBackend, lease.Key, err)
	}
	if deleted == 0 {
		return schedulerError(ErrConflict, "lock release rejected")
	}
	return nil
}

// HealthCheck pings Redis.
func (p *RedisLockProvider) HealthCheck(ctx context.Context) error {
	if p == nil || p.client == nil {
		return schedulerError(ErrNotInitialized, "redis lock provider is not initialized")
	}
	opCtx, cancel := context.WithTimeout(ctx, p.config.OperationTimeout)
	defer cancel()
	if err := p.client.Ping(opCtx).Err(); err != nil {
		return fmt.Errorf("%w: ping redis: %w", ErrLockBackend, err)
	}
	return nil
}

func (p *RedisLockProvider) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}

func (p *RedisLockProvider) fullKey(key string) string {
	return strings.TrimRight(p.config.Prefix, ":") + ":" + key
}
