// Package mongodb keeps stream offsets as documents in a MongoDB collection.
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/nimburion/rabbitqueue/pkg/observability/logger"
	"github.com/nimburion/rabbitqueue/pkg/offsetstore"
	"github.com/nimburion/rabbitqueue/pkg/queue"
)

const defaultCollection = "stream_offsets"

// Config holds MongoDB offset store configuration.
type Config struct {
	URL              string
	Database         string
	Collection       string
	ConnectTimeout   time.Duration
	OperationTimeout time.Duration
}

type offsetDocument struct {
	Key       string    `bson:"_id"`
	Offset    string    `bson:"offset"`
	UpdatedAt time.Time `bson:"updatedAt"`
}

type collection interface {
	ReplaceOne(ctx context.Context, filter interface{}, replacement interface{}, opts ...*options.ReplaceOptions) (*mongo.UpdateResult, error)
	FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) *mongo.SingleResult
	DeleteOne(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) (*mongo.DeleteResult, error)
}

type pinger interface {
	Ping(ctx context.Context, rp *readpref.ReadPref) error
}

// Store implements offsetstore.Store on a MongoDB collection keyed by entry key.
type Store struct {
	coll       collection
	pinger     pinger
	disconnect func(context.Context) error
	logger     logger.Logger
	timeout    time.Duration

	mu     sync.RWMutex
	closed bool
}

// Cosa fa: apre un client MongoDB, verifica il ping e usa una collezione per gli offset.
// Cosa NON fa: non crea indici (la chiave è _id).
// Esempio minimo: store, err := mongodb.NewStore(mongodb.Config{URL: url, Database: "rabbitqueue"}, log)
func NewStore(cfg Config, log logger.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, offsetstore.Error(offsetstore.ErrInvalidArgument, "mongodb URL is required")
	}
	if strings.TrimSpace(cfg.Database) == "" {
		return nil, offsetstore.Error(offsetstore.ErrInvalidArgument, "mongodb database is required")
	}
	if cfg.Collection == "" {
		cfg.Collection = defaultCollection
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URL))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	log.Info("MongoDB offset store connected", "database", cfg.Database, "collection", cfg.Collection)
	return newStore(client.Database(cfg.Database).Collection(cfg.Collection), client, client.Disconnect, cfg.OperationTimeout, log), nil
}

func newStore(coll collection, p pinger, disconnect func(context.Context) error, timeout time.Duration, log logger.Logger) *Store {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Store{coll: coll, pinger: p, disconnect: disconnect, logger: log, timeout: timeout}
}

func (s *Store) Store(ctx context.Context, name, consumerTag string, offset queue.Offset) error {
	if err := s.checkOpen(name); err != nil {
		return err
	}
	value, err := offsetstore.EncodeOffset(offset)
	if err != nil {
		return err
	}
	key := offsetstore.EntryKey(name, consumerTag)
	opCtx, cancel := s.withOperationTimeout(ctx)
	defer cancel()

	doc := offsetDocument{Key: key, Offset: value, UpdatedAt: time.Now().UTC()}
	if _, err := s.coll.ReplaceOne(opCtx, bson.M{"_id": key}, doc, options.Replace().SetUpsert(true)); err != nil {
		return fmt.Errorf("%w: store offset for %s: %v", offsetstore.ErrBackend, name, err)
	}
	return nil
}

func (s *Store) Fetch(ctx context.Context, name, consumerTag string) (queue.Offset, error) {
	if err := s.checkOpen(name); err != nil {
		return queue.Offset{}, err
	}
	opCtx, cancel := s.withOperationTimeout(ctx)
	defer cancel()

	var doc offsetDocument
	err := s.coll.FindOne(opCtx, bson.M{"_id": offsetstore.EntryKey(name, consumerTag)}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return offsetstore.DefaultOffset(), nil
	}
	if err != nil {
		return queue.Offset{}, fmt.Errorf("%w: fetch offset for %s: %v", offsetstore.ErrBackend, name, err)
	}
	return offsetstore.DecodeOffset(doc.Offset)
}

func (s *Store) Reset(ctx context.Context, name, consumerTag string) error {
	if err := s.checkOpen(name); err != nil {
		return err
	}
	opCtx, cancel := s.withOperationTimeout(ctx)
	defer cancel()
	if _, err := s.coll.DeleteOne(opCtx, bson.M{"_id": offsetstore.EntryKey(name, consumerTag)}); err != nil {
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
	if err := s.pinger.Ping(hcCtx, readpref.Primary()); err != nil {
		s.logger.Error("MongoDB health check failed", "error", err)
		return fmt.Errorf("mongodb health check failed: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if s.disconnect == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.disconnect(ctx); err != nil {
		return fmt.Errorf("failed to close mongodb connection: %w", err)
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

func (s *Store) withOperationTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}
