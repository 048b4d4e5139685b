package rabbitmq

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	messagesPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rabbitqueue_messages_published_total",
			Help: "Total number of messages published to RabbitMQ queues",
		},
		[]string{"queue", "variant"},
	)

	messagesConsumedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rabbitqueue_messages_consumed_total",
			Help: "Total number of messages delivered to consumers",
		},
		[]string{"queue", "variant"},
	)

	messagesSettledTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rabbitqueue_messages_settled_total",
			Help: "Total number of deliveries acknowledged or rejected",
		},
		[]string{"queue", "variant", "outcome"},
	)

	messagesRequeuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rabbitqueue_messages_requeued_total",
			Help: "Total number of released messages scheduled again",
		},
		[]string{"queue", "variant"},
	)

	consumeTimeoutsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rabbitqueue_consume_timeouts_total",
			Help: "Total number of waits that ended without a message",
		},
		[]string{"queue"},
	)

	reconnectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rabbitqueue_reconnects_total",
			Help: "Total number of broker reconnections after a lost session",
		},
		[]string{"queue"},
	)

	offsetCheckpointsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rabbitqueue_stream_offset_checkpoints_total",
			Help: "Total number of stream offsets written to the offset store",
		},
		[]string{"queue"},
	)
)

func recordPublished(queue, variant string) {
	messagesPublishedTotal.WithLabelValues(
		normalizeMetricLabel(queue, "unknown"),
		normalizeMetricLabel(variant, "unknown"),
	).Inc()
}

func recordConsumed(queue, variant string) {
	messagesConsumedTotal.WithLabelValues(
		normalizeMetricLabel(queue, "unknown"),
		normalizeMetricLabel(variant, "unknown"),
	).Inc()
}

func recordAcked(queue, variant string) {
	recordSettled(queue, variant, "ack")
}

func recordNacked(queue, variant string) {
	recordSettled(queue, variant, "nack")
}

func recordSettled(queue, variant, outcome string) {
	messagesSettledTotal.WithLabelValues(
		normalizeMetricLabel(queue, "unknown"),
		normalizeMetricLabel(variant, "unknown"),
		outcome,
	).Inc()
}

func recordRequeued(queue, variant string) {
	messagesRequeuedTotal.WithLabelValues(
		normalizeMetricLabel(queue, "unknown"),
		normalizeMetricLabel(variant, "unknown"),
	).Inc()
}

func recordConsumeTimeout(queue string) {
	consumeTimeoutsTotal.WithLabelValues(normalizeMetricLabel(queue, "unknown")).Inc()
}

func recordReconnect(queue string) {
	reconnectsTotal.WithLabelValues(normalizeMetricLabel(queue, "unknown")).Inc()
}

func recordCheckpoint(queue string) {
	offsetCheckpointsTotal.WithLabelValues(normalizeMetricLabel(queue, "unknown")).Inc()
}

func normalizeMetricLabel(value, fallback string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	return trimmed
}
