// Package sqlstore keeps stream offsets in a relational table (PostgreSQL or MySQL).
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"

	"github.com/nimburion/rabbitqueue/pkg/observability/logger"
	"github.com/nimburion/rabbitqueue/pkg/offsetstore"
	"github.com/nimburion/rabbitqueue/pkg/queue"
)

// Supported dialects.
const (
	DialectPostgres = "postgres"
	DialectMySQL    = "mysql"
)

const defaultTable = "rabbitqueue_stream_offsets"

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// Config holds SQL offset store configuration.
type Config struct {
	Dialect         string
	URL             string
	Table           string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	QueryTimeout    time.Duration
	// AutoMigrate creates the offsets table when missing.
	AutoMigrate bool
}

func (c *Config) normalize() error {
	c.Dialect = strings.ToLower(strings.TrimSpace(c.Dialect))
	switch c.Dialect {
	case "postgresql":
		c.Dialect = DialectPostgres
	case DialectPostgres, DialectMySQL:
	default:
		return offsetstore.Error(offsetstore.ErrInvalidArgument, fmt.Sprintf("unsupported sql dialect %q", c.Dialect))
	}
	c.Table = strings.TrimSpace(c.Table)
	if c.Table == "" {
		c.Table = defaultTable
	}
	if !tableNamePattern.MatchString(c.Table) {
		return offsetstore.Error(offsetstore.ErrInvalidArgument, fmt.Sprintf("invalid table name %q", c.Table))
	}
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = 5 * time.Second
	}
	return nil
}

// Store implements offsetstore.Store on database/sql.
type Store struct {
	db      *sql.DB
	logger  logger.Logger
	config  Config
	queries queries

	mu     sync.RWMutex
	closed bool
}

type queries struct {
	create string
	upsert string
	fetch  string
	delete string
}

func buildQueries(dialect, table string) queries {
	if dialect == DialectMySQL {
		return queries{
			create: fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (entry_key CHAR(64) NOT NULL PRIMARY KEY, offset_value VARCHAR(255) NOT NULL, updated_at TIMESTAMP(6) NOT NULL)", table),
			upsert: fmt.Sprintf("INSERT INTO %s (entry_key, offset_value, updated_at) VALUES (?, ?, ?) ON DUPLICATE KEY UPDATE offset_value = VALUES(offset_value), updated_at = VALUES(updated_at)", table),
			fetch:  fmt.Sprintf("SELECT offset_value FROM %s WHERE entry_key = ?", table),
			delete: fmt.Sprintf("DELETE FROM %s WHERE entry_key = ?", table),
		}
	}
	return queries{
		create: fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (entry_key CHAR(64) PRIMARY KEY, offset_value TEXT NOT NULL, updated_at TIMESTAMPTZ NOT NULL)", table),
		upsert: fmt.Sprintf("INSERT INTO %s (entry_key, offset_value, updated_at) VALUES ($1, $2, $3) ON CONFLICT (entry_key) DO UPDATE SET offset_value = EXCLUDED.offset_value, updated_at = EXCLUDED.updated_at", table),
		fetch:  fmt.Sprintf("SELECT offset_value FROM %s WHERE entry_key = $1", table),
		delete: fmt.Sprintf("DELETE FROM %s WHERE entry_key = $1", table),
	}
}

// Cosa fa: apre il pool database/sql per il dialetto scelto e verifica la connessione.
// Cosa NON fa: non gestisce migrazioni oltre alla singola tabella degli offset (AutoMigrate).
// Esempio minimo: store, err := sqlstore.NewStore(sqlstore.Config{Dialect: "postgres", URL: url}, log)
func NewStore(cfg Config, log logger.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, offsetstore.Error(offsetstore.ErrInvalidArgument, "database URL is required")
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}

	db, err := sql.Open(cfg.Dialect, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", cfg.Dialect, err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping %s database: %w", cfg.Dialect, err)
	}

	store, err := NewStoreWithDB(db, cfg, log)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Info("SQL offset store connected", "dialect", cfg.Dialect, "table", store.config.Table)
	return store, nil
}

// NewStoreWithDB builds a store on an existing pool. The store owns db afterwards.
func NewStoreWithDB(db *sql.DB, cfg Config, log logger.Logger) (*Store, error) {
	if db == nil {
		return nil, offsetstore.Error(offsetstore.ErrInvalidArgument, "database handle is required")
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	store := &Store{
		db:      db,
		logger:  log,
		config:  cfg,
		queries: buildQueries(cfg.Dialect, cfg.Table),
	}
	if cfg.AutoMigrate {
		if err := store.EnsureSchema(context.Background()); err != nil {
			return nil, err
		}
	}
	return store, nil
}

// EnsureSchema creates the offsets table when it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	qctx, cancel := s.withQueryTimeout(ctx)
	defer cancel()
	if _, err := s.db.ExecContext(qctx, s.queries.create); err != nil {
		return fmt.Errorf("%w: create offsets table: %v", offsetstore.ErrBackend, err)
	}
	return nil
}

func (s *Store) Store(ctx context.Context, name, consumerTag string, offset queue.Offset) error {
	if err := s.checkOpen(name); err != nil {
		return err
	}
	value, err := offsetstore.EncodeOffset(offset)
	if err != nil {
		return err
	}
	qctx, cancel := s.withQueryTimeout(ctx)
	defer cancel()
	if _, err := s.db.ExecContext(qctx, s.queries.upsert, offsetstore.EntryKey(name, consumerTag), value, time.Now().UTC()); err != nil {
		return fmt.Errorf("%w: store offset for %s: %v", offsetstore.ErrBackend, name, err)
	}
	return nil
}

func (s *Store) Fetch(ctx context.Context, name, consumerTag string) (queue.Offset, error) {
	if err := s.checkOpen(name); err != nil {
		return queue.Offset{}, err
	}
	qctx, cancel := s.withQueryTimeout(ctx)
	defer cancel()

	var value string
	err := s.db.QueryRowContext(qctx, s.queries.fetch, offsetstore.EntryKey(name, consumerTag)).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return offsetstore.DefaultOffset(), nil
	}
	if err != nil {
		return queue.Offset{}, fmt.Errorf("%w: fetch offset for %s: %v", offsetstore.ErrBackend, name, err)
	}
	return offsetstore.DecodeOffset(value)
}

func (s *Store) Reset(ctx context.Context, name, consumerTag string) error {
	if err := s.checkOpen(name); err != nil {
		return err
	}
	qctx, cancel := s.withQueryTimeout(ctx)
	defer cancel()
	if _, err := s.db.ExecContext(qctx, s.queries.delete, offsetstore.EntryKey(name, consumerTag)); err != nil {
		return fmt.Errorf("%w: reset offset for %s: %v", offsetstore.ErrBackend, name, err)
	}
	return nil
}

func (s *Store) HealthCheck(ctx context.Context) error {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return offsetstore.ErrClosed
	}
	hcCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.db.PingContext(hcCtx); err != nil {
		s.logger.Error("SQL offset store health check failed", "dialect", s.config.Dialect, "error", err)
		return fmt.Errorf("%s health check failed: %w", s.config.Dialect, err)
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close %s database: %w", s.config.Dialect, err)
	}
	return nil
}

func (s *Store) checkOpen(name string) error {
	if err := offsetstore.ValidateKey(name); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return offsetstore.ErrClosed
	}
	return nil
}

func (s *Store) withQueryTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.config.QueryTimeout)
}
