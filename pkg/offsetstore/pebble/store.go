// Package pebble keeps stream offsets in an embedded Pebble key-value database.
// It suits single-node deployments where no shared backend is available.
package pebble

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/cockroachdb/pebble"

	"github.com/nimburion/rabbitqueue/pkg/observability/logger"
	"github.com/nimburion/rabbitqueue/pkg/offsetstore"
	"github.com/nimburion/rabbitqueue/pkg/queue"
)

const keyPrefix = "stream-offset/"

// Config holds embedded store configuration.
type Config struct {
	DataDir string
	// Sync forces a WAL fsync on every write.
	Sync bool
}

// Store implements offsetstore.Store on Pebble.
type Store struct {
	db        *pebble.DB
	writeOpts *pebble.WriteOptions
	logger    logger.Logger

	mu     sync.RWMutex
	closed bool
}

// Cosa fa: apre (o crea) un database Pebble nella directory indicata.
// Cosa NON fa: non replica i dati; più processi non possono condividere la stessa directory.
// Esempio minimo: store, err := pebble.NewStore(pebble.Config{DataDir: "/var/lib/rabbitqueue"}, log)
func NewStore(cfg Config, log logger.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.DataDir) == "" {
		return nil, offsetstore.Error(offsetstore.ErrInvalidArgument, "pebble data dir is required")
	}
	db, err := pebble.Open(cfg.DataDir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble database: %w", err)
	}
	writeOpts := pebble.NoSync
	if cfg.Sync {
		writeOpts = pebble.Sync
	}
	log.Info("Pebble offset store opened", "dir", cfg.DataDir, "sync", cfg.Sync)
	return &Store{db: db, writeOpts: writeOpts, logger: log}, nil
}

func entryKey(name, consumerTag string) []byte {
	return []byte(keyPrefix + offsetstore.EntryKey(name, consumerTag))
}

func (s *Store) Store(_ context.Context, name, consumerTag string, offset queue.Offset) error {
	value, err := offsetstore.EncodeOffset(offset)
	if err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(name); err != nil {
		return err
	}
	if err := s.db.Set(entryKey(name, consumerTag), []byte(value), s.writeOpts); err != nil {
		return fmt.Errorf("%w: store offset for %s: %v", offsetstore.ErrBackend, name, err)
	}
	return nil
}

func (s *Store) Fetch(_ context.Context, name, consumerTag string) (queue.Offset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(name); err != nil {
		return queue.Offset{}, err
	}
	val, closer, err := s.db.Get(entryKey(name, consumerTag))
	if errors.Is(err, pebble.ErrNotFound) {
		return offsetstore.DefaultOffset(), nil
	}
	if err != nil {
		return queue.Offset{}, fmt.Errorf("%w: fetch offset for %s: %v", offsetstore.ErrBackend, name, err)
	}
	value := string(val)
	_ = closer.Close()
	return offsetstore.DecodeOffset(value)
}

func (s *Store) Reset(_ context.Context, name, consumerTag string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(name); err != nil {
		return err
	}
	if err := s.db.Delete(entryKey(name, consumerTag), s.writeOpts); err != nil {
		return fmt.Errorf("%w: reset offset for %s: %v", offsetstore.ErrBackend, name, err)
	}
	return nil
}

// HealthCheck reports whether the database is open.
func (s *Store) HealthCheck(context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return offsetstore.ErrClosed
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
		return fmt.Errorf("failed to close pebble database: %w", err)
	}
	return nil
}

// checkOpen must be called with s.mu held.
func (s *Store) checkOpen(name string) error {
	if err := offsetstore.ValidateKey(name); err != nil {
		return err
	}
	if s.closed {
		return offsetstore.ErrClosed
	}
	return nil
}
