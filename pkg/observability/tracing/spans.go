package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// SpanOperation names a traced operation.
type SpanOperation string

const (
	SpanOperationMsgPublish SpanOperation = "messaging.publish"
	SpanOperationMsgConsume SpanOperation = "messaging.consume"
	SpanOperationMsgProcess SpanOperation = "messaging.process"

	SpanOperationOffsetFetch SpanOperation = "offset.fetch"
	SpanOperationOffsetStore SpanOperation = "offset.store"
	SpanOperationOffsetReset SpanOperation = "offset.reset"
)

// StartMessagingSpan starts a span for a broker operation. Publish spans are
// producer spans; consume and process spans are consumer spans.
func StartMessagingSpan(ctx context.Context, operation SpanOperation, opts ...MessagingSpanOption) (context.Context, trace.Span) {
	spanOpts := &messagingSpanOptions{
		attributes: []attribute.KeyValue{
			attribute.String("messaging.operation", string(operation)),
		},
	}
	for _, opt := range opts {
		opt(spanOpts)
	}

	spanName := fmt.Sprintf("MSG %s", operation)
	if spanOpts.destination != "" {
		spanName = fmt.Sprintf("MSG %s %s", operation, spanOpts.destination)
	}

	spanKind := trace.SpanKindClient
	switch operation {
	case SpanOperationMsgConsume, SpanOperationMsgProcess:
		spanKind = trace.SpanKindConsumer
	case SpanOperationMsgPublish:
		spanKind = trace.SpanKindProducer
	}

	ctx, span := otel.Tracer("messaging").Start(ctx, spanName, trace.WithSpanKind(spanKind))
	span.SetAttributes(spanOpts.attributes...)
	return ctx, span
}

// MessagingSpanOption configures a messaging span.
type MessagingSpanOption func(*messagingSpanOptions)

type messagingSpanOptions struct {
	destination string
	attributes  []attribute.KeyValue
}

// WithMessagingSystem sets messaging.system, e.g. "rabbitmq".
func WithMessagingSystem(system string) MessagingSpanOption {
	return func(opts *messagingSpanOptions) {
		opts.attributes = append(opts.attributes, attribute.String("messaging.system", system))
	}
}

// WithMessagingDestination sets the queue name and includes it in the span name.
func WithMessagingDestination(destination string) MessagingSpanOption {
	return func(opts *messagingSpanOptions) {
		opts.destination = destination
		opts.attributes = append(opts.attributes, attribute.String("messaging.destination", destination))
	}
}

func WithMessagingMessageID(messageID string) MessagingSpanOption {
	return func(opts *messagingSpanOptions) {
		opts.attributes = append(opts.attributes, attribute.String("messaging.message_id", messageID))
	}
}

func WithMessagingPayloadSize(size int) MessagingSpanOption {
	return func(opts *messagingSpanOptions) {
		opts.attributes = append(opts.attributes, attribute.Int("messaging.payload_size_bytes", size))
	}
}

// StartOffsetSpan starts a client span around an offset store call.
func StartOffsetSpan(ctx context.Context, operation SpanOperation, opts ...OffsetSpanOption) (context.Context, trace.Span) {
	spanOpts := &offsetSpanOptions{
		attributes: []attribute.KeyValue{
			attribute.String("offset.operation", string(operation)),
		},
	}
	for _, opt := range opts {
		opt(spanOpts)
	}

	spanName := fmt.Sprintf("OFFSET %s", operation)
	if spanOpts.queue != "" {
		spanName = fmt.Sprintf("OFFSET %s %s", operation, spanOpts.queue)
	}

	ctx, span := otel.Tracer("offsetstore").Start(ctx, spanName, trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(spanOpts.attributes...)
	return ctx, span
}

// OffsetSpanOption configures an offset store span.
type OffsetSpanOption func(*offsetSpanOptions)

type offsetSpanOptions struct {
	queue      string
	attributes []attribute.KeyValue
}

// WithOffsetBackend sets db.system to the store backend, e.g. "postgres" or "pebble".
func WithOffsetBackend(backend string) OffsetSpanOption {
	return func(opts *offsetSpanOptions) {
		opts.attributes = append(opts.attributes, attribute.String("db.system", backend))
	}
}

// WithOffsetQueue sets the stream queue the offset belongs to.
func WithOffsetQueue(queue string) OffsetSpanOption {
	return func(opts *offsetSpanOptions) {
		opts.queue = queue
		opts.attributes = append(opts.attributes, attribute.String("offset.queue", queue))
	}
}

func WithOffsetConsumerTag(tag string) OffsetSpanOption {
	return func(opts *offsetSpanOptions) {
		opts.attributes = append(opts.attributes, attribute.String("offset.consumer_tag", tag))
	}
}

// RecordError records err on span and marks it failed. A nil err is ignored.
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// RecordSuccess marks span as OK.
func RecordSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}
