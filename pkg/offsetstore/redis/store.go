package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nimburion/rabbitqueue/pkg/observability/logger"
	"github.com/nimburion/rabbitqueue/pkg/offsetstore"
	"github.com/nimburion/rabbitqueue/pkg/queue"
)

const defaultKeyPrefix = "rabbitqueue:stream-offset"

// Store keeps stream offsets in Redis, one string key per (queue, consumer tag).
type Store struct {
	client redis.UniversalClient
	logger logger.Logger
	config Config
	owned  bool
}

// Config holds Redis offset store configuration.
type Config struct {
	URL              string
	Prefix           string
	MaxConns         int
	OperationTimeout time.Duration
}

func (c *Config) normalize() {
	c.Prefix = strings.TrimRight(strings.TrimSpace(c.Prefix), ":")
	if c.Prefix == "" {
		c.Prefix = defaultKeyPrefix
	}
	if c.MaxConns <= 0 {
		c.MaxConns = 10
	}
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = 3 * time.Second
	}
}

// Cosa fa: apre un client Redis dedicato e verifica la connessione con un ping.
// Cosa NON fa: non imposta TTL sugli offset, che restano finché non si chiama Reset.
// Esempio minimo: store, err := redis.NewStore(cfg, log)
func NewStore(cfg Config, log logger.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, offsetstore.Error(offsetstore.ErrInvalidArgument, "redis URL is required")
	}
	cfg.normalize()

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	opts.PoolSize = cfg.MaxConns
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = cfg.OperationTimeout
	opts.WriteTimeout = cfg.OperationTimeout

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	log.Info("Redis offset store connected", "prefix", cfg.Prefix, "max_conns", cfg.MaxConns)
	return &Store{client: client, logger: log, config: cfg, owned: true}, nil
}

// NewStoreWithClient wraps an existing client. Close leaves the client open.
func NewStoreWithClient(client redis.UniversalClient, cfg Config, log logger.Logger) (*Store, error) {
	if client == nil {
		return nil, offsetstore.Error(offsetstore.ErrInvalidArgument, "redis client is required")
	}
	cfg.normalize()
	return &Store{client: client, logger: log, config: cfg}, nil
}

func (s *Store) key(name, consumerTag string) string {
	return s.config.Prefix + ":" + offsetstore.EntryKey(name, consumerTag)
}

// Store writes the offset without expiration.
func (s *Store) Store(ctx context.Context, name, consumerTag string, offset queue.Offset) error {
	if err := offsetstore.ValidateKey(name); err != nil {
		return err
	}
	value, err := offsetstore.EncodeOffset(offset)
	if err != nil {
		return err
	}
	opCtx, cancel := s.withOperationTimeout(ctx)
	defer cancel()
	if err := s.client.Set(opCtx, s.key(name, consumerTag), value, 0).Err(); err != nil {
		return fmt.Errorf("%w: redis set offset for %s: %v", offsetstore.ErrBackend, name, err)
	}
	return nil
}

// Fetch returns the stored offset or the default offset when the key is missing.
func (s *Store) Fetch(ctx context.Context, name, consumerTag string) (queue.Offset, error) {
	if err := offsetstore.ValidateKey(name); err != nil {
		return queue.Offset{}, err
	}
	opCtx, cancel := s.withOperationTimeout(ctx)
	defer cancel()
	value, err := s.client.Get(opCtx, s.key(name, consumerTag)).Result()
	if errors.Is(err, redis.Nil) {
		return offsetstore.DefaultOffset(), nil
	}
	if err != nil {
		return queue.Offset{}, fmt.Errorf("%w: redis get offset for %s: %v", offsetstore.ErrBackend, name, err)
	}
	return offsetstore.DecodeOffset(value)
}

// Reset deletes the stored offset.
func (s *Store) Reset(ctx context.Context, name, consumerTag string) error {
	if err := offsetstore.ValidateKey(name); err != nil {
		return err
	}
	opCtx, cancel := s.withOperationTimeout(ctx)
	defer cancel()
	if err := s.client.Del(opCtx, s.key(name, consumerTag)).Err(); err != nil {
		return fmt.Errorf("%w: redis delete offset for %s: %v", offsetstore.ErrBackend, name, err)
	}
	return nil
}

// HealthCheck pings Redis.
func (s *Store) HealthCheck(ctx context.Context) error {
	hcCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.client.Ping(hcCtx).Err(); err != nil {
		s.logger.Error("Redis offset store health check failed", "error", err)
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}

// Close closes the client when the store created it.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	s.logger.Info("Closing Redis offset store")
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("failed to close redis client: %w", err)
	}
	return nil
}

func (s *Store) withOperationTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.config.OperationTimeout)
}
