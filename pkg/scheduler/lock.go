package scheduler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nimburion/rabbitqueue/pkg/config"
	"github.com/nimburion/rabbitqueue/pkg/observability/logger"
)

// Lease is a held lock. Token proves ownership on Release.
type Lease struct {
	Key      string
	Token    string
	ExpireAt time.Time
}

// LockProvider makes sure one scheduler instance submits a given run.
type LockProvider interface {
	// Acquire returns (nil, false, nil) when another holder owns key.
	Acquire(ctx context.Context, key string, ttl time.Duration) (*Lease, bool, error)
	Release(ctx context.Context, lease *Lease) error
	HealthCheck(ctx context.Context) error
	Close() error
}

// NewLockProvider builds the lock backend selected by cfg.LockBackend.
func NewLockProvider(cfg config.SchedulerConfig, log logger.Logger) (LockProvider, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.LockBackend)) {
	case "", config.SchedulerLockLocal:
		return NewLocalLockProvider(), nil
	case config.SchedulerLockRedis:
		return NewRedisLockProvider(RedisLockProviderConfig{
			URL:              cfg.Redis.URL,
			Prefix:           cfg.Redis.Prefix,
			OperationTimeout: cfg.Redis.OperationTimeout,
		}, log)
	case config.SchedulerLockPostgres:
		return NewPostgresLockProvider(PostgresLockProviderConfig{
			URL:              cfg.Postgres.URL,
			Table:            cfg.Postgres.Table,
			OperationTimeout: cfg.Postgres.OperationTimeout,
		}, log)
	default:
		return nil, schedulerError(ErrValidation, fmt.Sprintf("unsupported lock backend %q", cfg.LockBackend))
	}
}

// LocalLockProvider keeps leases in process memory. It only deduplicates runs
// inside a single scheduler instance.
type LocalLockProvider struct {
	mu     sync.Mutex
	leases map[string]Lease
	now    func() time.Time
}

// NewLocalLockProvider creates an in-memory lock provider.
func NewLocalLockProvider() *LocalLockProvider {
	return &LocalLockProvider{
		leases: map[string]Lease{},
		now:    time.Now,
	}
}

func (p *LocalLockProvider) Acquire(_ context.Context, key string, ttl time.Duration) (*Lease, bool, error) {
	if strings.TrimSpace(key) == "" || ttl <= 0 {
		return nil, false, schedulerError(ErrValidation, "lock key and a positive ttl are required")
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if held, ok := p.leases[key]; ok && now.Before(held.ExpireAt) {
		return nil, false, nil
	}
	lease := Lease{Key: key, Token: newLeaseToken(), ExpireAt: now.Add(ttl)}
	p.leases[key] = lease
	p.evictExpired(now)
	return &lease, true, nil
}

func (p *LocalLockProvider) Release(_ context.Context, lease *Lease) error {
	if lease == nil {
		return schedulerError(ErrValidation, "lease is required")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	held, ok := p.leases[lease.Key]
	if !ok || held.Token != lease.Token {
		return schedulerError(ErrConflict, "lock release rejected")
	}
	delete(p.leases, lease.Key)
	return nil
}

func (p *LocalLockProvider) HealthCheck(context.Context) error { return nil }

func (p *LocalLockProvider) Close() error { return nil }

func (p *LocalLockProvider) evictExpired(now time.Time) {
	for key, lease := range p.leases {
		if !now.Before(lease.ExpireAt) {
			delete(p.leases, key)
		}
	}
}

func newLeaseToken() string {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return fmt.Sprintf("%x", time.Now().UnixNano())
	}
	return hex.EncodeToString(raw)
}
