package factory

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/nimburion/rabbitqueue/pkg/config"
	"github.com/nimburion/rabbitqueue/pkg/observability/logger"
	"github.com/nimburion/rabbitqueue/pkg/offsetstore"
	"github.com/nimburion/rabbitqueue/pkg/offsetstore/dynamodb"
	"github.com/nimburion/rabbitqueue/pkg/offsetstore/mongodb"
	"github.com/nimburion/rabbitqueue/pkg/offsetstore/pebble"
	"github.com/nimburion/rabbitqueue/pkg/offsetstore/redis"
	"github.com/nimburion/rabbitqueue/pkg/offsetstore/sqlstore"
	"github.com/nimburion/rabbitqueue/pkg/queue"
)

type testLogger struct{}

func (l *testLogger) Debug(msg string, args ...any) {}
func (l *testLogger) Info(msg string, args ...any)  {}
func (l *testLogger) Warn(msg string, args ...any)  {}
func (l *testLogger) Error(msg string, args ...any) {}
func (l *testLogger) With(args ...any) logger.Logger {
	return l
}
func (l *testLogger) WithContext(ctx context.Context) logger.Logger {
	return l
}

var errStub = errors.New("stub constructor")

type recorder struct {
	redis    *redis.Config
	sql      *sqlstore.Config
	mongodb  *mongodb.Config
	dynamodb *dynamodb.Config
	pebble   *pebble.Config
}

func (r *recorder) constructors() constructors {
	return constructors{
		redis: func(cfg redis.Config, _ logger.Logger) (*redis.Store, error) {
			r.redis = &cfg
			return nil, errStub
		},
		sql: func(cfg sqlstore.Config, _ logger.Logger) (*sqlstore.Store, error) {
			r.sql = &cfg
			return nil, errStub
		},
		mongodb: func(cfg mongodb.Config, _ logger.Logger) (*mongodb.Store, error) {
			r.mongodb = &cfg
			return nil, errStub
		},
		dynamodb: func(cfg dynamodb.Config, _ logger.Logger) (*dynamodb.Store, error) {
			r.dynamodb = &cfg
			return nil, errStub
		},
		pebble: func(cfg pebble.Config, _ logger.Logger) (*pebble.Store, error) {
			r.pebble = &cfg
			return nil, errStub
		},
	}
}

func TestNewStore_DefaultsToMemory(t *testing.T) {
	store, err := NewStore(Config{}, &testLogger{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := store.(*offsetstore.MemoryStore); !ok {
		t.Fatalf("expected memory store, got %T", store)
	}
}

func TestNewStore_UnsupportedBackend(t *testing.T) {
	_, err := NewStore(Config{Backend: "cassandra"}, &testLogger{})
	if err == nil || !strings.Contains(err.Error(), "unsupported offset_store.backend") {
		t.Fatalf("expected unsupported backend error, got %v", err)
	}
}

func TestNewStore_ConstructorErrorReturnsNilStore(t *testing.T) {
	rec := &recorder{}
	store, err := newStore(Config{Backend: BackendRedis}, &testLogger{}, rec.constructors())
	if !errors.Is(err, errStub) {
		t.Fatalf("expected constructor error, got %v", err)
	}
	if store != nil {
		t.Fatalf("expected nil store interface, got %#v", store)
	}
}

func TestNewStore_MapsBackendConfig(t *testing.T) {
	cfg := config.DefaultConfig().OffsetStore
	cfg.Redis.URL = " redis://cache:6379/1 "
	cfg.SQL.URL = "postgres://offsets"
	cfg.MongoDB.URL = "mongodb://mongo:27017"
	cfg.MongoDB.Database = "ops"
	cfg.DynamoDB.Region = "eu-west-1"
	cfg.DynamoDB.Table = "offsets"
	cfg.Pebble.DataDir = "/var/lib/offsets"
	cfg.Pebble.Sync = true

	rec := &recorder{}
	build := rec.constructors()
	for _, backend := range []string{"REDIS", "postgresql", BackendMySQL, BackendMongoDB, BackendDynamoDB, BackendPebble} {
		cfg.Backend = backend
		if _, err := newStore(cfg, &testLogger{}, build); !errors.Is(err, errStub) {
			t.Fatalf("%s: expected stub error, got %v", backend, err)
		}
	}

	if rec.redis == nil || rec.redis.URL != "redis://cache:6379/1" || rec.redis.Prefix != "rabbitqueue:stream-offset" {
		t.Fatalf("unexpected redis config: %+v", rec.redis)
	}
	if rec.sql == nil || rec.sql.Dialect != sqlstore.DialectMySQL || rec.sql.Table != "rabbitqueue_stream_offsets" || !rec.sql.AutoMigrate {
		t.Fatalf("unexpected sql config: %+v", rec.sql)
	}
	if rec.mongodb == nil || rec.mongodb.Database != "ops" || rec.mongodb.Collection != "stream_offsets" {
		t.Fatalf("unexpected mongodb config: %+v", rec.mongodb)
	}
	if rec.dynamodb == nil || rec.dynamodb.Region != "eu-west-1" || rec.dynamodb.KeyAttribute != "entry_key" || rec.dynamodb.OperationTimeout != 5*time.Second {
		t.Fatalf("unexpected dynamodb config: %+v", rec.dynamodb)
	}
	if rec.pebble == nil || rec.pebble.DataDir != "/var/lib/offsets" || !rec.pebble.Sync {
		t.Fatalf("unexpected pebble config: %+v", rec.pebble)
	}
}

func TestNewStore_PostgresDialect(t *testing.T) {
	rec := &recorder{}
	_, _ = newStore(Config{Backend: BackendPostgres}, &testLogger{}, rec.constructors())
	if rec.sql == nil || rec.sql.Dialect != sqlstore.DialectPostgres {
		t.Fatalf("expected postgres dialect, got %+v", rec.sql)
	}
}

func TestNewStore_Pebble(t *testing.T) {
	store, err := NewStore(Config{Backend: BackendPebble, Pebble: config.OffsetStorePebbleConfig{DataDir: t.TempDir()}}, &testLogger{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer store.Close()

	traced, ok := store.(*offsetstore.TracedStore)
	if !ok {
		t.Fatalf("expected traced store, got %T", store)
	}
	if _, ok := traced.Unwrap().(*pebble.Store); !ok {
		t.Fatalf("expected pebble store underneath, got %T", traced.Unwrap())
	}

	ctx := context.Background()
	if err := store.Store(ctx, "events", "c1", queue.PositionOffset(9)); err != nil {
		t.Fatalf("store: %v", err)
	}
	got, err := store.Fetch(ctx, "events", "c1")
	if err != nil || !got.Equal(queue.PositionOffset(9)) {
		t.Fatalf("fetch: %s %v", got, err)
	}
}
