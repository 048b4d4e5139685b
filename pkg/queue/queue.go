// Package queue defines the job queue contract shared by the broker adapters,
// the job orchestrator and the administrative commands.
package queue

import (
	"context"
	"encoding/json"
	"time"
)

// Message is one dequeued job message. It is immutable and must be paired with
// exactly one Finish, Abort or Release call.
type Message struct {
	// ID identifies the delivery within the current broker channel session.
	ID string
	// Payload is the JSON body as published.
	Payload json.RawMessage
	// NumberOfReleases counts how often the logical job was returned for retry.
	NumberOfReleases int
}

// Decode unmarshals the payload into v.
func (m *Message) Decode(v any) error {
	if m == nil {
		return Error(ErrInvalidArgument, "message is nil")
	}
	return json.Unmarshal(m.Payload, v)
}

// SubmitOptions controls a single publish.
type SubmitOptions struct {
	// Delay asks a delayed-message exchange to hold the message back.
	Delay time.Duration
}

// ReleaseOptions controls how a released message is scheduled again.
type ReleaseOptions struct {
	Delay time.Duration
}

// Queue is the job queue contract. A zero timeout on the wait operations means
// "no deadline"; a nil message with a nil error means nothing arrived in time.
type Queue interface {
	Name() string
	Submit(ctx context.Context, payload any, opts SubmitOptions) (string, error)
	WaitAndTake(ctx context.Context, timeout time.Duration) (*Message, error)
	WaitAndReserve(ctx context.Context, timeout time.Duration) (*Message, error)
	Release(ctx context.Context, messageID string, opts ReleaseOptions) error
	Abort(ctx context.Context, messageID string) error
	Finish(ctx context.Context, messageID string) (bool, error)
	Peek(ctx context.Context, limit int) ([]*Message, error)
	Count(ctx context.Context) (int, error)
	CountReady(ctx context.Context) (int, error)
	CountReserved(ctx context.Context) (int, error)
	CountFailed(ctx context.Context) (int, error)
	Flush(ctx context.Context) error
	SetUp(ctx context.Context) error
	Close() error
}

// Requeuer is implemented by queues that re-schedule a released message out of
// band, given the full original message rather than its id.
type Requeuer interface {
	ReQueueMessage(ctx context.Context, msg *Message, opts ReleaseOptions) error
}

// ReleaseNotifier receives "message released" notifications from a job orchestrator.
type ReleaseNotifier interface {
	NotifyReleased(ctx context.Context, q Queue, msg *Message, opts ReleaseOptions) error
}
