package offsetstore

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/nimburion/rabbitqueue/pkg/queue"
)

type failingStore struct {
	*MemoryStore
	err error
}

func (f failingStore) Store(context.Context, string, string, queue.Offset) error { return f.err }

func installRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	t.Cleanup(func() {
		otel.SetTracerProvider(previous)
		_ = provider.Shutdown(context.Background())
	})
	return recorder
}

func TestTraced_NilStore(t *testing.T) {
	if Traced(nil, "redis") != nil {
		t.Fatal("expected nil")
	}
}

func TestTracedStore_RecordsSpans(t *testing.T) {
	recorder := installRecorder(t)
	store := Traced(NewMemoryStore(), "pebble")
	ctx := context.Background()

	if err := store.Store(ctx, "audit", "worker-1", queue.PositionOffset(12)); err != nil {
		t.Fatalf("store: %v", err)
	}
	got, err := store.Fetch(ctx, "audit", "worker-1")
	if err != nil || !got.Equal(queue.PositionOffset(12)) {
		t.Fatalf("fetch = %s, %v", got, err)
	}
	if err := store.Reset(ctx, "audit", "worker-1"); err != nil {
		t.Fatalf("reset: %v", err)
	}

	spans := recorder.Ended()
	if len(spans) != 3 {
		t.Fatalf("expected 3 spans, got %d", len(spans))
	}
	wantNames := []string{"OFFSET offset.store audit", "OFFSET offset.fetch audit", "OFFSET offset.reset audit"}
	for i, span := range spans {
		if span.Name() != wantNames[i] {
			t.Errorf("span %d name = %q, want %q", i, span.Name(), wantNames[i])
		}
		if span.Status().Code != codes.Ok {
			t.Errorf("span %d status = %v", i, span.Status().Code)
		}
		found := false
		for _, attr := range span.Attributes() {
			if string(attr.Key) == "db.system" && attr.Value.AsString() == "pebble" {
				found = true
			}
		}
		if !found {
			t.Errorf("span %d missing db.system", i)
		}
	}
}

func TestTracedStore_RecordsErrors(t *testing.T) {
	recorder := installRecorder(t)
	boom := errors.New("disk full")
	store := Traced(failingStore{MemoryStore: NewMemoryStore(), err: boom}, "redis")

	if err := store.Store(context.Background(), "audit", "", queue.PositionOffset(1)); !errors.Is(err, boom) {
		t.Fatalf("expected backend error, got %v", err)
	}
	spans := recorder.Ended()
	if len(spans) != 1 || spans[0].Status().Code != codes.Error {
		t.Fatalf("expected one failed span, got %d", len(spans))
	}
}
