package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nimburion/rabbitqueue/pkg/observability/logger"
	"github.com/nimburion/rabbitqueue/pkg/queue"
)

type workerTestLogger struct{}

func (workerTestLogger) Debug(string, ...any)                        {}
func (workerTestLogger) Info(string, ...any)                         {}
func (workerTestLogger) Warn(string, ...any)                         {}
func (workerTestLogger) Error(string, ...any)                        {}
func (l workerTestLogger) With(...any) logger.Logger                 { return l }
func (l workerTestLogger) WithContext(context.Context) logger.Logger { return l }

// fakeQueue serves messages from an in-memory slice and records settlements.
type fakeQueue struct {
	name string

	mu        sync.Mutex
	pending   []*queue.Message
	submitted []json.RawMessage
	finished  []string
	aborted   []string
	released  []string
	delays    []time.Duration
	nextID    int

	reserveErr error
	releaseErr error
	healthErr  error
	reserves   int
}

func newFakeQueue(name string) *fakeQueue {
	return &fakeQueue{name: name}
}

func (q *fakeQueue) push(body string, releases int) *queue.Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.nextID++
	msg := &queue.Message{ID: fmt.Sprintf("%d", q.nextID), Payload: json.RawMessage(body), NumberOfReleases: releases}
	q.pending = append(q.pending, msg)
	return msg
}

func (q *fakeQueue) Name() string { return q.name }

func (q *fakeQueue) Submit(_ context.Context, payload any, _ queue.SubmitOptions) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.submitted = append(q.submitted, data)
	return fmt.Sprintf("corr-%d", len(q.submitted)), nil
}

func (q *fakeQueue) WaitAndTake(ctx context.Context, timeout time.Duration) (*queue.Message, error) {
	return q.WaitAndReserve(ctx, timeout)
}

func (q *fakeQueue) WaitAndReserve(ctx context.Context, timeout time.Duration) (*queue.Message, error) {
	q.mu.Lock()
	q.reserves++
	if q.reserveErr != nil {
		err := q.reserveErr
		q.mu.Unlock()
		return nil, err
	}
	if len(q.pending) > 0 {
		msg := q.pending[0]
		q.pending = q.pending[1:]
		q.mu.Unlock()
		return msg, nil
	}
	q.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, nil
	}
}

func (q *fakeQueue) Release(_ context.Context, id string, opts queue.ReleaseOptions) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.releaseErr != nil {
		return q.releaseErr
	}
	q.released = append(q.released, id)
	q.delays = append(q.delays, opts.Delay)
	return nil
}

func (q *fakeQueue) Abort(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.aborted = append(q.aborted, id)
	return nil
}

func (q *fakeQueue) Finish(_ context.Context, id string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.finished = append(q.finished, id)
	return true, nil
}

func (q *fakeQueue) Peek(context.Context, int) ([]*queue.Message, error) {
	return nil, queue.Error(queue.ErrNotImplemented, "peek")
}
func (q *fakeQueue) Count(context.Context) (int, error)         { return len(q.pending), nil }
func (q *fakeQueue) CountReady(context.Context) (int, error)    { return len(q.pending), nil }
func (q *fakeQueue) CountReserved(context.Context) (int, error) { return 0, nil }
func (q *fakeQueue) CountFailed(context.Context) (int, error)   { return 0, nil }
func (q *fakeQueue) Flush(context.Context) error                { return nil }
func (q *fakeQueue) SetUp(context.Context) error                { return nil }
func (q *fakeQueue) Close() error                               { return nil }
func (q *fakeQueue) HealthCheck(context.Context) error          { return q.healthErr }

type settled struct {
	finished, aborted, released []string
}

func (q *fakeQueue) snapshot() settled {
	q.mu.Lock()
	defer q.mu.Unlock()
	return settled{
		finished: append([]string(nil), q.finished...),
		aborted:  append([]string(nil), q.aborted...),
		released: append([]string(nil), q.released...),
	}
}

type fakeResolver struct {
	queues map[string]queue.Queue
	err    error
}

func newFakeResolver(queues ...queue.Queue) *fakeResolver {
	r := &fakeResolver{queues: map[string]queue.Queue{}}
	for _, q := range queues {
		r.queues[q.Name()] = q
	}
	return r
}

func (r *fakeResolver) Queue(_ context.Context, name string) (queue.Queue, error) {
	if r.err != nil {
		return nil, r.err
	}
	q, ok := r.queues[name]
	if !ok {
		return nil, queue.Error(queue.ErrNotFound, name)
	}
	return q, nil
}

func (r *fakeResolver) Names() []string {
	names := make([]string, 0, len(r.queues))
	for name := range r.queues {
		names = append(names, name)
	}
	return names
}

type fakeNotifier struct {
	mu       sync.Mutex
	messages []*queue.Message
	opts     []queue.ReleaseOptions
	err      error
}

func (n *fakeNotifier) NotifyReleased(_ context.Context, _ queue.Queue, msg *queue.Message, opts queue.ReleaseOptions) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.messages = append(n.messages, msg)
	n.opts = append(n.opts, opts)
	return nil
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.messages)
}
