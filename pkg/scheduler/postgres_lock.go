package scheduler

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/nimburion/rabbitqueue/pkg/observability/logger"
)

const (
	defaultPostgresLockTable   = "rabbitqueue_scheduler_locks"
	defaultPostgresLockTimeout = 3 * time.Second
)

var validLockTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// PostgresLockProviderConfig configures PostgresLockProvider.
type PostgresLockProviderConfig struct {
	URL              string
	Table            string
	OperationTimeout time.Duration
}

func (c *PostgresLockProviderConfig) normalize() error {
	if strings.TrimSpace(c.Table) == "" {
		c.Table = defaultPostgresLockTable
	}
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = defaultPostgresLockTimeout
	}
	if !validLockTableName.MatchString(c.Table) {
		return schedulerError(ErrValidation, fmt.Sprintf("invalid lock table name %q", c.Table))
	}
	return nil
}

// PostgresLockProvider keeps one row per held lock. An expired row can be taken over.
type PostgresLockProvider struct {
	db     *sql.DB
	log    logger.Logger
	config PostgresLockProviderConfig
}

// NewPostgresLockProvider opens cfg.URL and creates the lock table when missing.
func NewPostgresLockProvider(cfg PostgresLockProviderConfig, log logger.Logger) (*PostgresLockProvider, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, schedulerError(ErrValidation, "postgres url is required")
	}
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: open postgres: %w", ErrLockBackend, err)
	}
	provider, err := newPostgresLockProviderWithDB(db, cfg, log)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), provider.config.OperationTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: ping postgres: %w", ErrLockBackend, err)
	}
	if err := provider.ensureTable(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return provider, nil
}

func newPostgresLockProviderWithDB(db *sql.DB, cfg PostgresLockProviderConfig, log logger.Logger) (*PostgresLockProvider, error) {
	if db == nil {
		return nil, schedulerError(ErrNotInitialized, "db is required")
	}
	if log == nil {
		return nil, schedulerError(ErrNotInitialized, "logger is required")
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &PostgresLockProvider{db: db, log: log, config: cfg}, nil
}

func (p *PostgresLockProvider) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lease, bool, error) {
	if p == nil || p.db == nil {
		return nil, false, schedulerError(ErrNotInitialized, "postgres lock provider is not initialized")
	}
	if strings.TrimSpace(key) == "" || ttl <= 0 {
		return nil, false, schedulerError(ErrValidation, "lock key and a positive ttl are required")
	}

	token := newLeaseToken()
	expiresAt := time.Now().UTC().Add(ttl)
	query := fmt.Sprintf(`
WITH taken AS (
	INSERT INTO %[1]s (lock_key, token, expires_at)
	VALUES ($1, $2, $3)
	ON CONFLICT (lock_key) DO UPDATE
	SET token = EXCLUDED.token, expires_at = EXCLUDED.expires_at
	WHERE %[1]s.expires_at <= NOW()
	RETURNING 1
)
SELECT EXISTS (SELECT 1 FROM taken)`, p.config.Table)

	opCtx, cancel := context.WithTimeout(ctx, p.config.OperationTimeout)
	defer cancel()
	var acquired bool
	if err := p.db.QueryRowContext(opCtx, query, key, token, expiresAt).Scan(&acquired); err != nil {
		return nil, false, fmt.Errorf("%w: acquire %s: %w", ErrLockBackend, key, err)
	}
	if !acquired {
		return nil, false, nil
	}
	return &Lease{Key: key, Token: token, ExpireAt: expiresAt}, true, nil
}

func (p *PostgresLockProvider) Release(ctx context.Context, lease *Lease) error {
	if p == nil || p.db == nil {
		return schedulerError(ErrNotInitialized, "postgres lock provider is not initialized")
	}
	if lease == nil || lease.Key == "" || lease.Token == "" {
		return schedulerError(ErrValidation, "lease key and token are required")
	}

	opCtx, cancel := context.WithTimeout(ctx, p.config.OperationTimeout)
	defer cancel()
	result, err := p.db.ExecContext(opCtx, fmt.Sprintf(`DELETE FROM %s WHERE lock_key = $1 AND token = $2`, p.config.Table), lease.Key, lease.Token)
	if err != nil {
		return fmt.Errorf("%w: release %s: %w", ErrLockBackend, lease.Key, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: release %s: %w", ErrLockBackend, lease.Key, err)
	}
	if affected == 0 {
		return schedulerError(ErrConflict, "lock release rejected")
	}
	return nil
}

// HealthCheck pings the database.
func (p *PostgresLockProvider) HealthCheck(ctx context.Context) error {
	if p == nil || p.db == nil {
		return schedulerError(ErrNotInitialized, "postgres lock provider is not initialized")
	}
	opCtx, cancel := context.WithTimeout(ctx, p.config.OperationTimeout)
	defer cancel()
	if err := p.db.PingContext(opCtx); err != nil {
		return fmt.Errorf("%w: ping postgres: %w", ErrLockBackend, err)
	}
	return nil
}

func (p *PostgresLockProvider) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	return p.db.Close()
}

func (p *PostgresLockProvider) ensureTable(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	lock_key TEXT PRIMARY KEY,
	token TEXT NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL
)`, p.config.Table))
	if err != nil {
		return fmt.Errorf("%w: create lock table: %w", ErrLockBackend, err)
	}
	return nil
}
