// Package source delivers raw detection batches from the device-local
// detector to the aggregator.
package source

import (
	"context"
	"log/slog"

	"github.com/02loveslollipop/detection-relay/services/internal/transport"
	"github.com/02loveslollipop/detection-relay/services/publisher/internal/metrics"
)

// Subscriber is the part of the local broker client the source needs.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string, handler transport.Handler) error
}

// Local buffers batches published by the detector on a local broker topic.
// When the aggregator falls behind, new batches are dropped rather than
// stalling the broker client.
type Local struct {
	sub     Subscriber
	topic   string
	events  chan []byte
	metrics *metrics.Metrics
	log     *slog.Logger
}

// NewLocal creates a source with room for buffer pending batches.
func NewLocal(sub Subscriber, topic string, buffer int, m *metrics.Metrics, logger *slog.Logger) *Local {
	return &Local{
		sub:     sub,
		topic:   topic,
		events:  make(chan []byte, buffer),
		metrics: m,
		log:     logger.With("topic", topic),
	}
}

// Start subscribes to the detector topic.
func (l *Local) Start(ctx context.Context) error {
	return l.sub.Subscribe(ctx, l.topic, l.deliver)
}

// Events is the stream consumed by the aggregator.
func (l *Local) Events() <-chan []byte {
	return l.events
}

func (l *Local) deliver(payload []byte) {
	select {
	case l.events <- payload:
	default:
		l.metrics.Dropped.WithLabelValues(metrics.DropOverflow).Inc()
		l.log.Warn("local event buffer full, dropping batch", "capacity", cap(l.events))
	}
}
