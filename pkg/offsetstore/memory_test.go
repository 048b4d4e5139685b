package offsetstore_test

import (
	"context"
	"errors"
	"testing"

	"github.com/nimburion/rabbitqueue/pkg/offsetstore"
	"github.com/nimburion/rabbitqueue/pkg/offsetstore/storetest"
	"github.com/nimburion/rabbitqueue/pkg/queue"
)

func TestMemoryStore(t *testing.T) {
	storetest.Run(t, offsetstore.NewMemoryStore())
}

func TestMemoryStoreClosed(t *testing.T) {
	store := offsetstore.NewMemoryStore()
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := store.Store(context.Background(), "stream", "tag", queue.PositionOffset(1)); !errors.Is(err, offsetstore.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := store.HealthCheck(context.Background()); !errors.Is(err, offsetstore.ErrClosed) {
		t.Fatalf("expected ErrClosed from health check, got %v", err)
	}
}

func TestEntryKey(t *testing.T) {
	key := offsetstore.EntryKey("stream", "consumer")
	if len(key) != 64 {
		t.Fatalf("expected hex sha256, got %q", key)
	}
	if key != offsetstore.EntryKey("stream", "consumer") {
		t.Fatal("expected deterministic key")
	}
	if key == offsetstore.EntryKey("stream", "consumer2") || key == offsetstore.EntryKey("stream2", "consumer") {
		t.Fatal("expected distinct keys for distinct pairs")
	}
}

func TestEncodeDecodeOffset(t *testing.T) {
	for _, offset := range []queue.Offset{queue.PositionOffset(0), queue.PositionOffset(987654321), queue.TokenOffset("next")} {
		encoded, err := offsetstore.EncodeOffset(offset)
		if err != nil {
			t.Fatalf("encode %v: %v", offset, err)
		}
		decoded, err := offsetstore.DecodeOffset(encoded)
		if err != nil {
			t.Fatalf("decode %q: %v", encoded, err)
		}
		if !decoded.Equal(offset) {
			t.Fatalf("expected %v, got %v", offset, decoded)
		}
	}
	if _, err := offsetstore.DecodeOffset("{"); !errors.Is(err, offsetstore.ErrBackend) {
		t.Fatalf("expected ErrBackend for corrupt value, got %v", err)
	}
}
