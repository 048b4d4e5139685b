// Package factory selects and builds the stream offset store from configuration.
package factory

import (
	"fmt"
	"strings"

	"github.com/nimburion/rabbitqueue/pkg/config"
	"github.com/nimburion/rabbitqueue/pkg/observability/logger"
	"github.com/nimburion/rabbitqueue/pkg/offsetstore"
	"github.com/nimburion/rabbitqueue/pkg/offsetstore/dynamodb"
	"github.com/nimburion/rabbitqueue/pkg/offsetstore/mongodb"
	"github.com/nimburion/rabbitqueue/pkg/offsetstore/pebble"
	"github.com/nimburion/rabbitqueue/pkg/offsetstore/redis"
	"github.com/nimburion/rabbitqueue/pkg/offsetstore/sqlstore"
)

const (
	BackendMemory   = config.OffsetStoreMemory
	BackendRedis    = config.OffsetStoreRedis
	BackendPostgres = config.OffsetStorePostgres
	BackendMySQL    = config.OffsetStoreMySQL
	BackendMongoDB  = config.OffsetStoreMongoDB
	BackendDynamoDB = config.OffsetStoreDynamoDB
	BackendPebble   = config.OffsetStorePebble
)

// Config configures offset store selection.
type Config = config.OffsetStoreConfig

type constructors struct {
	redis    func(redis.Config, logger.Logger) (*redis.Store, error)
	sql      func(sqlstore.Config, logger.Logger) (*sqlstore.Store, error)
	mongodb  func(mongodb.Config, logger.Logger) (*mongodb.Store, error)
	dynamodb func(dynamodb.Config, logger.Logger) (*dynamodb.Store, error)
	pebble   func(pebble.Config, logger.Logger) (*pebble.Store, error)
}

var defaultConstructors = constructors{
	redis:    redis.NewStore,
	sql:      sqlstore.NewStore,
	mongodb:  mongodb.NewStore,
	dynamodb: dynamodb.NewStore,
	pebble:   pebble.NewStore,
}

// Cosa fa: crea l'offset store configurato (memory, redis, postgres, mysql, mongodb, dynamodb, pebble).
// Cosa NON fa: non crea tabelle o collection fuori da quanto previsto dal backend (es. auto_migrate SQL).
// Esempio minimo: store, err := factory.NewStore(cfg.OffsetStore, log)
func NewStore(cfg Config, log logger.Logger) (offsetstore.Store, error) {
	return newStore(cfg, log, defaultConstructors)
}

func newStore(cfg Config, log logger.Logger, build constructors) (offsetstore.Store, error) {
	backend := strings.ToLower(strings.TrimSpace(cfg.Backend))
	if backend == "" {
		backend = BackendMemory
	}

	switch backend {
	case BackendMemory:
		return offsetstore.NewMemoryStore(), nil
	case BackendRedis:
		return wrap(BackendRedis)(build.redis(redis.Config{
			URL:              strings.TrimSpace(cfg.Redis.URL),
			Prefix:           strings.TrimSpace(cfg.Redis.Prefix),
			MaxConns:         cfg.Redis.MaxConns,
			OperationTimeout: cfg.Redis.OperationTimeout,
		}, log))
	case BackendPostgres, "postgresql", BackendMySQL:
		dialect := sqlstore.DialectPostgres
		if backend == BackendMySQL {
			dialect = sqlstore.DialectMySQL
		}
		return wrap(dialect)(build.sql(sqlstore.Config{
			Dialect:         dialect,
			URL:             strings.TrimSpace(cfg.SQL.URL),
			Table:           strings.TrimSpace(cfg.SQL.Table),
			MaxOpenConns:    cfg.SQL.MaxOpenConns,
			MaxIdleConns:    cfg.SQL.MaxIdleConns,
			ConnMaxLifetime: cfg.SQL.ConnMaxLifetime,
			QueryTimeout:    cfg.SQL.QueryTimeout,
			AutoMigrate:     cfg.SQL.AutoMigrate,
		}, log))
	case BackendMongoDB:
		return wrap(BackendMongoDB)(build.mongodb(mongodb.Config{
			URL:              strings.TrimSpace(cfg.MongoDB.URL),
			Database:         strings.TrimSpace(cfg.MongoDB.Database),
			Collection:       strings.TrimSpace(cfg.MongoDB.Collection),
			ConnectTimeout:   cfg.MongoDB.ConnectTimeout,
			OperationTimeout: cfg.MongoDB.OperationTimeout,
		}, log))
	case BackendDynamoDB:
		return wrap(BackendDynamoDB)(build.dynamodb(dynamodb.Config{
			Region:           strings.TrimSpace(cfg.DynamoDB.Region),
			Endpoint:         strings.TrimSpace(cfg.DynamoDB.Endpoint),
			AccessKeyID:      cfg.DynamoDB.AccessKeyID,
			SecretAccessKey:  cfg.DynamoDB.SecretAccessKey,
			SessionToken:     cfg.DynamoDB.SessionToken,
			Table:            strings.TrimSpace(cfg.DynamoDB.Table),
			KeyAttribute:     strings.TrimSpace(cfg.DynamoDB.KeyAttribute),
			OperationTimeout: cfg.DynamoDB.OperationTimeout,
		}, log))
	case BackendPebble:
		return wrap(BackendPebble)(build.pebble(pebble.Config{
			DataDir: strings.TrimSpace(cfg.Pebble.DataDir),
			Sync:    cfg.Pebble.Sync,
		}, log))
	default:
		return nil, fmt.Errorf("unsupported offset_store.backend %q (supported: %s, %s, %s, %s, %s, %s, %s)",
			cfg.Backend, BackendMemory, BackendRedis, BackendPostgres, BackendMySQL, BackendMongoDB, BackendDynamoDB, BackendPebble)
	}
}

// wrap traces a remote store under backend and keeps a typed nil store from
// escaping as a non-nil interface.
func wrap(backend string) func(offsetstore.Store, error) (offsetstore.Store, error) {
	return func(store offsetstore.Store, err error) (offsetstore.Store, error) {
		if err != nil {
			return nil, err
		}
		return offsetstore.Traced(store, backend), nil
	}
}
