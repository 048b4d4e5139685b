package rabbitmq

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/nimburion/rabbitqueue/pkg/observability/logger"
	"github.com/nimburion/rabbitqueue/pkg/offsetstore"
	"github.com/nimburion/rabbitqueue/pkg/queue"
)

type mockLogger struct{}

func (m *mockLogger) Debug(string, ...any)                      {}
func (m *mockLogger) Info(string, ...any)                       {}
func (m *mockLogger) Warn(string, ...any)                       {}
func (m *mockLogger) Error(string, ...any)                      {}
func (m *mockLogger) With(...any) logger.Logger                 { return m }
func (m *mockLogger) WithContext(context.Context) logger.Logger { return m }

type publishCall struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

type nackCall struct {
	tag     uint64
	requeue bool
}

type fakeChannel struct {
	mu          sync.Mutex
	closed      bool
	deliveries  chan amqp.Delivery
	published   []publishCall
	acks        []uint64
	nacks       []nackCall
	consumeArgs []amqp.Table
	declared    []string
	bound       []string
	exchanges   []string
	messages    int
	purged      int
	cancelled   []string

	publishErr error
	consumeErr error
	declareErr error
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{deliveries: make(chan amqp.Delivery, 512)}
}

func (c *fakeChannel) Qos(int, int, bool) error { return nil }

func (c *fakeChannel) ExchangeDeclare(name, _ string, _, _, _, _ bool, _ amqp.Table) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exchanges = append(c.exchanges, name)
	return nil
}

func (c *fakeChannel) QueueDeclare(name string, _, _, _, _ bool, _ amqp.Table) (amqp.Queue, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.declareErr != nil {
		return amqp.Queue{}, c.declareErr
	}
	c.declared = append(c.declared, name)
	return amqp.Queue{Name: name}, nil
}

func (c *fakeChannel) QueueDeclarePassive(name string, _, _, _, _ bool, _ amqp.Table) (amqp.Queue, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return amqp.Queue{Name: name, Messages: c.messages}, nil
}

func (c *fakeChannel) QueueBind(name, key, exchange string, _ bool, _ amqp.Table) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bound = append(c.bound, exchange+"/"+key+"/"+name)
	return nil
}

func (c *fakeChannel) QueuePurge(string, bool) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.messages
	c.purged += n
	c.messages = 0
	return n, nil
}

func (c *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.publishErr != nil {
		return c.publishErr
	}
	c.published = append(c.published, publishCall{exchange: exchange, key: key, msg: msg})
	return nil
}

func (c *fakeChannel) Consume(_, _ string, _, _, _, _ bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.consumeErr != nil {
		return nil, c.consumeErr
	}
	c.consumeArgs = append(c.consumeArgs, args)
	return c.deliveries, nil
}

func (c *fakeChannel) Cancel(consumer string, _ bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelled = append(c.cancelled, consumer)
	return nil
}

func (c *fakeChannel) Ack(tag uint64, _ bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return amqp.ErrClosed
	}
	c.acks = append(c.acks, tag)
	return nil
}

func (c *fakeChannel) Nack(tag uint64, _, requeue bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return amqp.ErrClosed
	}
	c.nacks = append(c.nacks, nackCall{tag: tag, requeue: requeue})
	return nil
}

func (c *fakeChannel) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeChannel) deliver(tag uint64, body string, headers amqp.Table) {
	c.deliveries <- amqp.Delivery{DeliveryTag: tag, Body: []byte(body), Headers: headers, CorrelationId: "corr"}
}

func (c *fakeChannel) snapshot() (published []publishCall, acks []uint64, nacks []nackCall) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]publishCall(nil), c.published...), append([]uint64(nil), c.acks...), append([]nackCall(nil), c.nacks...)
}

// fakeConnection hands out the channels in order; the last one is reused.
type fakeConnection struct {
	mu       sync.Mutex
	channels []*fakeChannel
	opened   int
	closed   bool
	version  string
}

func (c *fakeConnection) ServerVersion() string { return c.version }

func (c *fakeConnection) Channel() (Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, amqp.ErrClosed
	}
	idx := c.opened
	if idx >= len(c.channels) {
		idx = len(c.channels) - 1
	}
	c.opened++
	return c.channels[idx], nil
}

func (c *fakeConnection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConnection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

type fakeBroker struct {
	conn  *fakeConnection
	dials int
	uris  []string
	err   error
}

func newFakeBroker(channels ...*fakeChannel) *fakeBroker {
	if len(channels) == 0 {
		channels = []*fakeChannel{newFakeChannel()}
	}
	return &fakeBroker{conn: &fakeConnection{channels: channels}}
}

func (b *fakeBroker) dial(uri string, _ amqp.Config) (Connection, error) {
	b.dials++
	b.uris = append(b.uris, uri)
	if b.err != nil {
		return nil, b.err
	}
	return b.conn, nil
}

func (b *fakeBroker) channel(i int) *fakeChannel {
	return b.conn.channels[i]
}

func newTestQueue(t *testing.T, cfg Config, broker *fakeBroker, opts ...Option) *Queue {
	t.Helper()
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = 20 * time.Millisecond
	}
	q, err := New(cfg, &mockLogger{}, append([]Option{WithDialer(broker.dial)}, opts...)...)
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func newStreamQueue(t *testing.T, broker *fakeBroker, store offsetstore.Store) *Queue {
	t.Helper()
	cfg := DefaultConfig("events")
	cfg.Variant = VariantStream
	return newTestQueue(t, cfg, broker, WithOffsetStore(store))
}

// failingStore fails Store calls until healed.
type failingStore struct {
	*offsetstore.MemoryStore
	mu      sync.Mutex
	failing bool
	stores  int
}

func (s *failingStore) setFailing(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing = v
}

func (s *failingStore) Store(ctx context.Context, name, tag string, offset queue.Offset) error {
	s.mu.Lock()
	s.stores++
	failing := s.failing
	s.mu.Unlock()
	if failing {
		return errors.New("store unavailable")
	}
	return s.MemoryStore.Store(ctx, name, tag, offset)
}
