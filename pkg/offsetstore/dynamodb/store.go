// Package dynamodb keeps stream offsets in a DynamoDB table with a string partition key.
package dynamodb

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/nimburion/rabbitqueue/pkg/observability/logger"
	"github.com/nimburion/rabbitqueue/pkg/offsetstore"
	"github.com/nimburion/rabbitqueue/pkg/queue"
)

const (
	defaultKeyAttribute = "entry_key"
	offsetAttribute     = "offset_value"
	updatedAttribute    = "updated_at"
)

// Config holds DynamoDB offset store configuration.
type Config struct {
	Region           string
	Endpoint         string
	AccessKeyID      string
	SecretAccessKey  string
	SessionToken     string
	Table            string
	KeyAttribute     string
	OperationTimeout time.Duration
}

// API is the subset of the DynamoDB client used by the store.
type API interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// Store implements offsetstore.Store on a DynamoDB table.
type Store struct {
	client  API
	table   string
	keyAttr string
	logger  logger.Logger
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
}

// Cosa fa: costruisce un client DynamoDB (AWS SDK v2) e verifica che la tabella degli offset esista.
// Cosa NON fa: non crea la tabella né configura il throughput.
// Esempio minimo: store, err := dynamodb.NewStore(dynamodb.Config{Region: "eu-west-1", Table: "offsets"}, log)
func NewStore(cfg Config, log logger.Logger) (*Store, error) {
	if cfg.Region == "" {
		return nil, offsetstore.Error(offsetstore.ErrInvalidArgument, "aws region is required")
	}
	if strings.TrimSpace(cfg.Table) == "" {
		return nil, offsetstore.Error(offsetstore.ErrInvalidArgument, "dynamodb table is required")
	}

	loadOptions := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" || cfg.SecretAccessKey != "" {
		loadOptions = append(loadOptions, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), loadOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	var opts []func(*dynamodb.Options)
	if cfg.Endpoint != "" {
		opts = append(opts, func(o *dynamodb.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	store, err := NewStoreWithClient(dynamodb.NewFromConfig(awsCfg, opts...), cfg, log)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), store.timeout)
	defer cancel()
	if err := store.HealthCheck(ctx); err != nil {
		return nil, err
	}
	log.Info("DynamoDB offset store initialized", "region", cfg.Region, "endpoint", cfg.Endpoint, "table", cfg.Table)
	return store, nil
}

// NewStoreWithClient builds a store on an existing client.
func NewStoreWithClient(client API, cfg Config, log logger.Logger) (*Store, error) {
	if client == nil {
		return nil, offsetstore.Error(offsetstore.ErrInvalidArgument, "dynamodb client is required")
	}
	if strings.TrimSpace(cfg.Table) == "" {
		return nil, offsetstore.Error(offsetstore.ErrInvalidArgument, "dynamodb table is required")
	}
	if cfg.KeyAttribute == "" {
		cfg.KeyAttribute = defaultKeyAttribute
	}
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = 5 * time.Second
	}
	return &Store{
		client:  client,
		table:   cfg.Table,
		keyAttr: cfg.KeyAttribute,
		logger:  log,
		timeout: cfg.OperationTimeout,
	}, nil
}

func (s *Store) Store(ctx context.Context, name, consumerTag string, offset queue.Offset) error {
	if err := s.checkOpen(name); err != nil {
		return err
	}
	value, err := offsetstore.EncodeOffset(offset)
	if err != nil {
		return err
	}
	opCtx, cancel := s.withOperationTimeout(ctx)
	defer cancel()

	_, err = s.client.PutItem(opCtx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item: map[string]types.AttributeValue{
			s.keyAttr:        &types.AttributeValueMemberS{Value: offsetstore.EntryKey(name, consumerTag)},
			offsetAttribute:  &types.AttributeValueMemberS{Value: value},
			updatedAttribute: &types.AttributeValueMemberN{Value: strconv.FormatInt(time.Now().Unix(), 10)},
		},
	})
	if err != nil {
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

	out, err := s.client.GetItem(opCtx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            s.key(name, consumerTag),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return queue.Offset{}, fmt.Errorf("%w: fetch offset for %s: %v", offsetstore.ErrBackend, name, err)
	}
	if out == nil || len(out.Item) == 0 {
		return offsetstore.DefaultOffset(), nil
	}
	attr, ok := out.Item[offsetAttribute].(*types.AttributeValueMemberS)
	if !ok {
		return queue.Offset{}, offsetstore.Error(offsetstore.ErrBackend, fmt.Sprintf("item for %s has no string %s attribute", name, offsetAttribute))
	}
	return offsetstore.DecodeOffset(attr.Value)
}

func (s *Store) Reset(ctx context.Context, name, consumerTag string) error {
	if err := s.checkOpen(name); err != nil {
		return err
	}
	opCtx, cancel := s.withOperationTimeout(ctx)
	defer cancel()
	if _, err := s.client.DeleteItem(opCtx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.table),
		Key:       s.key(name, consumerTag),
	}); err != nil {
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
	if _, err := s.client.DescribeTable(hcCtx, &dynamodb.DescribeTableInput{TableName: aws.String(s.table)}); err != nil {
		s.logger.Error("DynamoDB health check failed", "table", s.table, "error", err)
		return fmt.Errorf("dynamodb health check failed: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Store) key(name, consumerTag string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		s.keyAttr: &types.AttributeValueMemberS{Value: offsetstore.EntryKey(name, consumerTag)},
	}
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
