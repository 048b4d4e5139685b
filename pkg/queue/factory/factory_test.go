package factory

import (
	"context"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/nimburion/rabbitqueue/pkg/config"
	"github.com/nimburion/rabbitqueue/pkg/observability/logger"
	"github.com/nimburion/rabbitqueue/pkg/offsetstore"
	"github.com/nimburion/rabbitqueue/pkg/queue"
	"github.com/nimburion/rabbitqueue/pkg/queue/rabbitmq"
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

func boolPtr(v bool) *bool { return &v }

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.OffsetStore.Backend = config.OffsetStoreMemory
	cfg.Queues = []config.QueueConfig{
		{Name: "orders", Variant: config.VariantPlain},
		{Name: "retries", Variant: config.VariantDLX, Queue: config.QueueDeclareConfig{
			Durable:    boolPtr(true),
			AutoDelete: boolPtr(false),
			Arguments:  map[string]any{"x-dead-letter-exchange": "retry", "x-message-ttl": 5000},
		}},
		{Name: "events", Variant: config.VariantStream, CheckpointEvery: 50},
	}
	return cfg
}

func TestQueueConfig_AppliesDefaultsAndOverrides(t *testing.T) {
	cfg := testConfig()

	orders, err := QueueConfig(cfg, "orders")
	if err != nil {
		t.Fatalf("orders: %v", err)
	}
	if !orders.Queue.AutoDelete || orders.Queue.Durable || !orders.Queue.Declare {
		t.Fatalf("expected broker defaults to survive, got %+v", orders.Queue)
	}
	if orders.Client.Host != "localhost" || orders.Client.Port != 5672 {
		t.Fatalf("expected shared connection, got %+v", orders.Client)
	}

	retries, err := QueueConfig(cfg, "retries")
	if err != nil {
		t.Fatalf("retries: %v", err)
	}
	if !retries.Queue.Durable || retries.Queue.AutoDelete || retries.Variant != rabbitmq.VariantDLX {
		t.Fatalf("expected overrides applied, got %+v", retries)
	}
	if retries.Queue.Arguments["x-message-ttl"] != int64(5000) || retries.Queue.Arguments["x-dead-letter-exchange"] != "retry" {
		t.Fatalf("unexpected arguments %v", retries.Queue.Arguments)
	}

	if _, err := QueueConfig(cfg, "missing"); !errors.Is(err, queue.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestQueueConfig_PerQueueConnectionOverride(t *testing.T) {
	cfg := testConfig()
	cfg.Queues[0].Connection = &config.ConnectionConfig{Host: "broker-2", Heartbeat: 10 * time.Second}

	rc, err := QueueConfig(cfg, "orders")
	if err != nil {
		t.Fatalf("queue config: %v", err)
	}
	if rc.Client.Host != "broker-2" || rc.Client.Heartbeat != 10*time.Second {
		t.Fatalf("override not applied: %+v", rc.Client)
	}
	if rc.Client.User != "guest" || rc.Client.Port != 5672 {
		t.Fatalf("unset override fields must inherit, got %+v", rc.Client)
	}
}

func TestToTable_NestedValues(t *testing.T) {
	table := toTable(map[string]any{
		"n":      7,
		"nested": map[string]any{"m": int32(2)},
		"list":   []any{1, "a"},
	})
	if table["n"] != int64(7) {
		t.Fatalf("expected int64, got %#v", table["n"])
	}
	nested, ok := table["nested"].(amqp.Table)
	if !ok || nested["m"] != int64(2) {
		t.Fatalf("unexpected nested %#v", table["nested"])
	}
	list, ok := table["list"].([]any)
	if !ok || list[0] != int64(1) || list[1] != "a" {
		t.Fatalf("unexpected list %#v", table["list"])
	}
	if toTable(nil) != nil {
		t.Fatal("expected nil table for empty input")
	}
}

func TestNew_BuildsQueuesLazily(t *testing.T) {
	dials := 0
	dialer := func(string, amqp.Config) (rabbitmq.Connection, error) {
		dials++
		return nil, errors.New("unreachable")
	}

	qs, err := New(testConfig(), &testLogger{}, WithDialer(dialer))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer qs.Close()

	if qs.OffsetStore == nil {
		t.Fatal("expected an offset store for stream queues")
	}
	if got := qs.Manager.Names(); len(got) != 3 {
		t.Fatalf("unexpected names %v", got)
	}

	q, err := qs.Manager.Queue(context.Background(), "events")
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	if dials != 0 {
		t.Fatal("building a queue must not dial")
	}
	rq, err := qs.RabbitMQ(context.Background(), "events")
	if err != nil || rq != q {
		t.Fatalf("expected same cached adapter, got %v %v", rq, err)
	}
	if rq.Variant() != rabbitmq.VariantStream || rq.Config().CheckpointEvery != 50 {
		t.Fatalf("unexpected stream config %+v", rq.Config())
	}

	if err := q.SetUp(context.Background()); !errors.Is(err, queue.ErrConnectionFailure) {
		t.Fatalf("expected connection failure through the injected dialer, got %v", err)
	}
	if dials != 1 {
		t.Fatalf("expected one dial, got %d", dials)
	}
}

func TestNew_SkipsOffsetStoreWithoutStreams(t *testing.T) {
	cfg := testConfig()
	cfg.Queues = cfg.Queues[:2]
	cfg.OffsetStore.Backend = "unsupported"

	qs, err := New(cfg, &testLogger{})
	if err != nil {
		t.Fatalf("offset store must not be built without stream queues: %v", err)
	}
	defer qs.Close()
	if qs.OffsetStore != nil {
		t.Fatalf("expected no offset store, got %T", qs.OffsetStore)
	}
}

func TestNew_InjectedOffsetStoreIsNotClosed(t *testing.T) {
	store := offsetstore.NewMemoryStore()
	qs, err := New(testConfig(), &testLogger{}, WithOffsetStore(store))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := qs.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := store.HealthCheck(context.Background()); err != nil {
		t.Fatalf("injected store must stay open, got %v", err)
	}
}
