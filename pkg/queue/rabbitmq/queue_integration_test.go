package rabbitmq

import (
	"context"
	"testing"
	"time"

	"github.com/nimburion/rabbitqueue/pkg/offsetstore"
	"github.com/nimburion/rabbitqueue/pkg/queue"
	"github.com/nimburion/rabbitqueue/pkg/testutil"
)

func startRabbitMQ(t *testing.T) ClientConfig {
	t.Helper()
	host, port := testutil.StartRabbitMQ(t)
	client := DefaultConfig("").Client
	client.Host = host
	client.Port = port
	return client
}

func TestQueue_Integration_SubmitReserveRequeue(t *testing.T) {
	client := startRabbitMQ(t)
	log := testutil.Logger(t)

	cfg := DefaultConfig("it-jobs")
	cfg.Client = client
	q, err := New(cfg, log)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer q.Close()

	ctx := context.Background()
	if err := q.SetUp(ctx); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if _, err := q.Submit(ctx, map[string]string{"hello": "world"}, queue.SubmitOptions{}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	msg, err := q.WaitAndReserve(ctx, 10*time.Second)
	if err != nil || msg == nil {
		t.Fatalf("reserve: %v %v", msg, err)
	}
	if string(msg.Payload) != `{"hello":"world"}` || msg.NumberOfReleases != 0 {
		t.Fatalf("unexpected message %+v", msg)
	}
	if err := q.ReQueueMessage(ctx, msg, queue.ReleaseOptions{}); err != nil {
		t.Fatalf("requeue: %v", err)
	}

	again, err := q.WaitAndTake(ctx, 10*time.Second)
	if err != nil || again == nil {
		t.Fatalf("take: %v %v", again, err)
	}
	if again.NumberOfReleases != 1 {
		t.Fatalf("expected one release, got %d", again.NumberOfReleases)
	}

	empty, err := q.WaitAndReserve(ctx, 200*time.Millisecond)
	if err != nil || empty != nil {
		t.Fatalf("expected empty queue, got %v %v", empty, err)
	}
}

func TestQueue_Integration_StreamResumesFromStoredOffset(t *testing.T) {
	client := startRabbitMQ(t)
	log := testutil.Logger(t)
	store := offsetstore.NewMemoryStore()
	ctx := context.Background()

	cfg := DefaultConfig("it-events")
	cfg.Variant = VariantStream
	cfg.Client = client

	first, err := New(cfg, log, WithOffsetStore(store))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := first.SetUp(ctx); err != nil {
		t.Fatalf("setup: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := first.Submit(ctx, map[string]int{"n": i}, queue.SubmitOptions{}); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}
	msg, err := first.WaitAndTake(ctx, 10*time.Second)
	if err != nil || msg == nil {
		t.Fatalf("take: %v %v", msg, err)
	}
	if string(msg.Payload) != `{"n":0}` {
		t.Fatalf("unexpected first payload %s", msg.Payload)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	second, err := New(cfg, log, WithOffsetStore(store))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer second.Close()
	next, err := second.WaitAndTake(ctx, 10*time.Second)
	if err != nil || next == nil {
		t.Fatalf("take after restart: %v %v", next, err)
	}
	if string(next.Payload) != `{"n":1}` {
		t.Fatalf("expected to resume at the second message, got %s", next.Payload)
	}
}
