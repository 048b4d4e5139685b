package queue

import (
	"context"
	"errors"
	"testing"
	"time"
)

type stubQueue struct {
	name       string
	closeCalls int
}

func (q *stubQueue) Name() string { return q.name }
func (q *stubQueue) Submit(context.Context, any, SubmitOptions) (string, error) {
	return "", nil
}
func (q *stubQueue) WaitAndTake(context.Context, time.Duration) (*Message, error)    { return nil, nil }
func (q *stubQueue) WaitAndReserve(context.Context, time.Duration) (*Message, error) { return nil, nil }
func (q *stubQueue) Release(context.Context, string, ReleaseOptions) error           { return nil }
func (q *stubQueue) Abort(context.Context, string) error                             { return nil }
func (q *stubQueue) Finish(context.Context, string) (bool, error)                    { return true, nil }
func (q *stubQueue) Peek(context.Context, int) ([]*Message, error)                   { return nil, ErrNotImplemented }
func (q *stubQueue) Count(context.Context) (int, error)                              { return 0, nil }
func (q *stubQueue) CountReady(context.Context) (int, error)                         { return 0, nil }
func (q *stubQueue) CountReserved(context.Context) (int, error)                      { return 0, nil }
func (q *stubQueue) CountFailed(context.Context) (int, error)                        { return 0, nil }
func (q *stubQueue) Flush(context.Context) error                                     { return nil }
func (q *stubQueue) SetUp(context.Context) error                                     { return nil }
func (q *stubQueue) Close() error {
	q.closeCalls++
	return nil
}

func TestManagerBuildsOnceAndCaches(t *testing.T) {
	builds := 0
	built := map[string]*stubQueue{}
	manager, err := NewManager(func(_ context.Context, name string) (Queue, error) {
		builds++
		q := &stubQueue{name: name}
		built[name] = q
		return q, nil
	}, "emails", " ", "reports")
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	first, err := manager.Queue(context.Background(), "emails")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	second, err := manager.Queue(context.Background(), " emails ")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if first != second || builds != 1 {
		t.Fatalf("expected cached queue, builds=%d", builds)
	}

	if names := manager.Names(); len(names) != 2 || names[0] != "emails" || names[1] != "reports" {
		t.Fatalf("unexpected names %v", names)
	}

	if err := manager.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if built["emails"].closeCalls != 1 {
		t.Fatalf("expected queue closed once, got %d", built["emails"].closeCalls)
	}
	if _, err := manager.Queue(context.Background(), "emails"); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after close, got %v", err)
	}
}

func TestManagerUnknownQueue(t *testing.T) {
	manager, err := NewManager(func(context.Context, string) (Queue, error) {
		t.Fatal("factory must not be called for unknown queues")
		return nil, nil
	}, "emails")
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if _, err := manager.Queue(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := manager.Queue(context.Background(), ""); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestManagerFactoryError(t *testing.T) {
	manager, _ := NewManager(func(context.Context, string) (Queue, error) {
		return nil, Error(ErrConnectionFailure, "refused")
	}, "emails")
	if _, err := manager.Queue(context.Background(), "emails"); !errors.Is(err, ErrConnectionFailure) {
		t.Fatalf("expected wrapped connection failure, got %v", err)
	}
}

func TestMessageDecode(t *testing.T) {
	msg := &Message{ID: "1", Payload: []byte(`{"to":"a@example.com"}`)}
	var payload struct {
		To string `json:"to"`
	}
	if err := msg.Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.To != "a@example.com" {
		t.Fatalf("unexpected payload %+v", payload)
	}
	var nilMsg *Message
	if err := nilMsg.Decode(&payload); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}
