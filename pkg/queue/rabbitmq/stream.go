package rabbitmq

import (
	"context"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/nimburion/rabbitqueue/pkg/offsetstore"
	"github.com/nimburion/rabbitqueue/pkg/queue"
)

// streamPolicy tracks the read position of a stream consumer.
//
// The cursor is the offset of the next message to read. It advances by one per
// finished or aborted message and is checkpointed to the store every
// checkpointEvery advances and on Close. The locally maintained counter is
// authoritative; the x-stream-offset header only anchors a token cursor.
type streamPolicy struct {
	store           offsetstore.Store
	consumerTag     string
	checkpointEvery int

	mu              sync.Mutex
	cursor          queue.Offset
	active          bool
	sinceCheckpoint int
}

func newStreamPolicy(store offsetstore.Store, consumerTag string, checkpointEvery int) *streamPolicy {
	if checkpointEvery <= 0 {
		checkpointEvery = defaultCheckpointEvery
	}
	return &streamPolicy{store: store, consumerTag: consumerTag, checkpointEvery: checkpointEvery}
}

// OnRequeue does nothing: streams never redeliver.
func (s *streamPolicy) OnRequeue(context.Context, *Queue, *queue.Message, queue.ReleaseOptions) error {
	return nil
}

func (s *streamPolicy) OnRelease(_ context.Context, q *Queue, id string, _ queue.ReleaseOptions) error {
	return queue.Error(queue.ErrUnsupportedOperation, fmt.Sprintf(
		"queue %q is a stream and cannot release message %s; set its maximum number of releases to 0", q.Name(), id))
}

// OnAbort acks and moves past the message.
func (s *streamPolicy) OnAbort(ctx context.Context, q *Queue, tag uint64) error {
	if err := q.ack(tag); err != nil {
		return err
	}
	s.advance(ctx, q)
	return nil
}

func (s *streamPolicy) DecodeRetryCount(headers amqp.Table) int { return releaseCount(headers) }

func (s *streamPolicy) OnConsumeStart(ctx context.Context, q *Queue) (amqp.Table, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		offset, err := s.store.Fetch(ctx, q.Name(), s.consumerTag)
		if err != nil {
			return nil, fmt.Errorf("resolve stream offset for %s: %w", q.Name(), err)
		}
		s.cursor = offset
		s.active = true
		s.sinceCheckpoint = 0
	}
	q.logger.Debug("stream consumer starting", "offset", s.cursor.String(), "offset_type", s.cursor.Type())
	return amqp.Table{argStreamOffset: streamOffsetArgument(s.cursor)}, nil
}

func (s *streamPolicy) OnDelivery(q *Queue, d amqp.Delivery) {
	delivered, ok := headerInt(d.Headers, argStreamOffset)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return
	}
	if !s.cursor.IsPosition() {
		s.cursor = queue.PositionOffset(delivered)
		return
	}
	if s.cursor.Position() != delivered {
		q.logger.Debug("stream offset drift", "expected", s.cursor.Position(), "delivered", delivered)
	}
}

func (s *streamPolicy) OnFinish(ctx context.Context, q *Queue) error {
	s.advance(ctx, q)
	return nil
}

// OnClose flushes the cursor regardless of the checkpoint cadence.
func (s *streamPolicy) OnClose(ctx context.Context, q *Queue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return nil
	}
	if err := s.store.Store(ctx, q.Name(), s.consumerTag, s.cursor); err != nil {
		q.logger.Error("final stream offset flush failed", "offset", s.cursor.String(), "error", err)
		return fmt.Errorf("flush stream offset for %s: %w", q.Name(), err)
	}
	s.sinceCheckpoint = 0
	recordCheckpoint(q.Name())
	return nil
}

// advance moves the cursor past the current message and checkpoints on cadence.
// A failed checkpoint is logged and retried on the next advance.
func (s *streamPolicy) advance(ctx context.Context, q *Queue) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return
	}
	s.cursor = s.cursor.Next()
	s.sinceCheckpoint++
	if s.sinceCheckpoint < s.checkpointEvery {
		return
	}
	if err := s.store.Store(ctx, q.Name(), s.consumerTag, s.cursor); err != nil {
		q.logger.Warn("stream offset checkpoint failed", "offset", s.cursor.String(), "error", err)
		return
	}
	s.sinceCheckpoint = 0
	recordCheckpoint(q.Name())
}

func (s *streamPolicy) current(ctx context.Context, name string) (queue.Offset, error) {
	s.mu.Lock()
	if s.active {
		cursor := s.cursor
		s.mu.Unlock()
		return cursor, nil
	}
	s.mu.Unlock()
	return s.store.Fetch(ctx, name, s.consumerTag)
}

func streamOffsetArgument(offset queue.Offset) any {
	if offset.IsPosition() {
		return offset.Position()
	}
	return offset.Token()
}

func (q *Queue) streamPolicy() (*streamPolicy, error) {
	sp, ok := q.policy.(*streamPolicy)
	if !ok {
		return nil, queue.Error(queue.ErrUnsupportedOperation, fmt.Sprintf("queue %q is not a stream queue", q.Name()))
	}
	return sp, nil
}

// GetOffset returns the live cursor when the queue is consuming, otherwise the stored checkpoint.
func (q *Queue) GetOffset(ctx context.Context) (queue.Offset, error) {
	sp, err := q.streamPolicy()
	if err != nil {
		return queue.Offset{}, err
	}
	return sp.current(ctx, q.Name())
}

// SetOffset writes offset straight to the store. A running consumer keeps its own
// cursor; the new offset applies from the next consumer start.
func (q *Queue) SetOffset(ctx context.Context, offset queue.Offset) error {
	sp, err := q.streamPolicy()
	if err != nil {
		return err
	}
	return sp.store.Store(ctx, q.Name(), sp.consumerTag, offset)
}

// ResetOffset removes the stored checkpoint so the next consumer starts from offset 0.
func (q *Queue) ResetOffset(ctx context.Context) error {
	sp, err := q.streamPolicy()
	if err != nil {
		return err
	}
	return sp.store.Reset(ctx, q.Name(), sp.consumerTag)
}
