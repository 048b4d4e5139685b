package mongodb

import (
	"context"
	"errors"
	"sync"
	"testing"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/nimburion/rabbitqueue/pkg/observability/logger"
	"github.com/nimburion/rabbitqueue/pkg/offsetstore"
	"github.com/nimburion/rabbitqueue/pkg/offsetstore/storetest"
	"github.com/nimburion/rabbitqueue/pkg/queue"
)

type mockLogger struct{}

func (m *mockLogger) Debug(string, ...any)                      {}
func (m *mockLogger) Info(string, ...any)                       {}
func (m *mockLogger) Warn(string, ...any)                       {}
func (m *mockLogger) Error(string, ...any)                      {}
func (m *mockLogger) With(...any) logger.Logger                 { return m }
func (m *mockLogger) WithContext(context.Context) logger.Logger { return m }

// fakeCollection keeps documents in memory keyed by _id.
type fakeCollection struct {
	mu      sync.Mutex
	docs    map[string]offsetDocument
	upserts int
	failAll error
}

func newFakeCollection() *fakeCollection {
	return &fakeCollection{docs: map[string]offsetDocument{}}
}

func idOf(filter interface{}) string {
	m, _ := filter.(bson.M)
	id, _ := m["_id"].(string)
	return id
}

func (c *fakeCollection) ReplaceOne(_ context.Context, filter interface{}, replacement interface{}, opts ...*options.ReplaceOptions) (*mongo.UpdateResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failAll != nil {
		return nil, c.failAll
	}
	upsert := false
	for _, opt := range opts {
		if opt != nil && opt.Upsert != nil {
			upsert = *opt.Upsert
		}
	}
	id := idOf(filter)
	if _, ok := c.docs[id]; !ok && !upsert {
		return &mongo.UpdateResult{}, nil
	}
	c.upserts++
	c.docs[id] = replacement.(offsetDocument)
	return &mongo.UpdateResult{MatchedCount: 1, ModifiedCount: 1}, nil
}

func (c *fakeCollection) FindOne(_ context.Context, filter interface{}, _ ...*options.FindOneOptions) *mongo.SingleResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failAll != nil {
		return mongo.NewSingleResultFromDocument(bson.D{}, c.failAll, nil)
	}
	doc, ok := c.docs[idOf(filter)]
	if !ok {
		return mongo.NewSingleResultFromDocument(bson.D{}, mongo.ErrNoDocuments, nil)
	}
	return mongo.NewSingleResultFromDocument(bson.M{"_id": doc.Key, "offset": doc.Offset, "updatedAt": doc.UpdatedAt}, nil, nil)
}

func (c *fakeCollection) DeleteOne(_ context.Context, filter interface{}, _ ...*options.DeleteOptions) (*mongo.DeleteResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failAll != nil {
		return nil, c.failAll
	}
	id := idOf(filter)
	if _, ok := c.docs[id]; !ok {
		return &mongo.DeleteResult{}, nil
	}
	delete(c.docs, id)
	return &mongo.DeleteResult{DeletedCount: 1}, nil
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context, *readpref.ReadPref) error { return p.err }

func TestNewStore_Validation(t *testing.T) {
	if _, err := NewStore(Config{Database: "db"}, &mockLogger{}); !errors.Is(err, offsetstore.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for empty URL, got %v", err)
	}
	if _, err := NewStore(Config{URL: "mongodb://localhost:27017"}, &mockLogger{}); !errors.Is(err, offsetstore.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for empty database, got %v", err)
	}
}

func TestStoreContract(t *testing.T) {
	store := newStore(newFakeCollection(), fakePinger{}, nil, 0, &mockLogger{})
	storetest.Run(t, store)
}

func TestStoreUpsertsByEntryKey(t *testing.T) {
	coll := newFakeCollection()
	store := newStore(coll, fakePinger{}, nil, 0, &mockLogger{})
	ctx := context.Background()

	for _, pos := range []int64{1, 2, 3} {
		if err := store.Store(ctx, "orders", "worker", queue.PositionOffset(pos)); err != nil {
			t.Fatalf("store: %v", err)
		}
	}
	if len(coll.docs) != 1 {
		t.Fatalf("expected one document, got %d", len(coll.docs))
	}
	doc, ok := coll.docs[offsetstore.EntryKey("orders", "worker")]
	if !ok {
		t.Fatal("expected document under entry key")
	}
	if doc.Offset != "3" {
		t.Fatalf("expected encoded offset 3, got %q", doc.Offset)
	}
}

func TestBackendFailuresAreWrapped(t *testing.T) {
	coll := newFakeCollection()
	coll.failAll = errors.New("server selection timeout")
	store := newStore(coll, fakePinger{err: errors.New("no primary")}, nil, 0, &mockLogger{})
	ctx := context.Background()

	if err := store.Store(ctx, "orders", "worker", queue.PositionOffset(1)); !errors.Is(err, offsetstore.ErrBackend) {
		t.Fatalf("expected ErrBackend on store, got %v", err)
	}
	if _, err := store.Fetch(ctx, "orders", "worker"); !errors.Is(err, offsetstore.ErrBackend) {
		t.Fatalf("expected ErrBackend on fetch, got %v", err)
	}
	if err := store.HealthCheck(ctx); err == nil {
		t.Fatal("expected health check failure")
	}
}

func TestCloseDisconnectsOnce(t *testing.T) {
	calls := 0
	store := newStore(newFakeCollection(), fakePinger{}, func(context.Context) error {
		calls++
		return nil
	}, 0, &mockLogger{})

	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected one disconnect, got %d", calls)
	}
	if _, err := store.Fetch(context.Background(), "orders", "worker"); !errors.Is(err, offsetstore.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
