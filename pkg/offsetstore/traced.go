package offsetstore

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/nimburion/rabbitqueue/pkg/observability/tracing"
	"github.com/nimburion/rabbitqueue/pkg/queue"
)

// TracedStore decorates a Store with one client span per call.
type TracedStore struct {
	next    Store
	backend string
}

// Traced wraps next so every Store, Fetch and Reset is traced under backend.
func Traced(next Store, backend string) Store {
	if next == nil {
		return nil
	}
	return &TracedStore{next: next, backend: backend}
}

// Unwrap returns the decorated store.
func (s *TracedStore) Unwrap() Store {
	return s.next
}

func (s *TracedStore) start(ctx context.Context, op tracing.SpanOperation, name, consumerTag string) (context.Context, trace.Span) {
	return tracing.StartOffsetSpan(ctx, op,
		tracing.WithOffsetBackend(s.backend),
		tracing.WithOffsetQueue(name),
		tracing.WithOffsetConsumerTag(consumerTag),
	)
}

func (s *TracedStore) Store(ctx context.Context, name, consumerTag string, offset queue.Offset) error {
	ctx, span := s.start(ctx, tracing.SpanOperationOffsetStore, name, consumerTag)
	defer span.End()
	span.SetAttributes(attribute.String("offset.value", offset.String()))

	if err := s.next.Store(ctx, name, consumerTag, offset); err != nil {
		tracing.RecordError(span, err)
		return err
	}
	tracing.RecordSuccess(span)
	return nil
}

func (s *TracedStore) Fetch(ctx context.Context, name, consumerTag string) (queue.Offset, error) {
	ctx, span := s.start(ctx, tracing.SpanOperationOffsetFetch, name, consumerTag)
	defer span.End()

	offset, err := s.next.Fetch(ctx, name, consumerTag)
	if err != nil {
		tracing.RecordError(span, err)
		return offset, err
	}
	span.SetAttributes(attribute.String("offset.value", offset.String()))
	tracing.RecordSuccess(span)
	return offset, nil
}

func (s *TracedStore) Reset(ctx context.Context, name, consumerTag string) error {
	ctx, span := s.start(ctx, tracing.SpanOperationOffsetReset, name, consumerTag)
	defer span.End()

	if err := s.next.Reset(ctx, name, consumerTag); err != nil {
		tracing.RecordError(span, err)
		return err
	}
	tracing.RecordSuccess(span)
	return nil
}

func (s *TracedStore) HealthCheck(ctx context.Context) error {
	return s.next.HealthCheck(ctx)
}

func (s *TracedStore) Close() error {
	return s.next.Close()
}
