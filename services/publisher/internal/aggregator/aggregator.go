// Package aggregator coalesces the noisy local detection stream into one
// snapshot per window and decides which snapshots reach the cloud broker.
package aggregator

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/02loveslollipop/detection-relay/services/internal/detection"
	"github.com/02loveslollipop/detection-relay/services/publisher/internal/metrics"
)

// Publisher is the cloud side of the transport.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Config tunes the aggregation policy.
type Config struct {
	DeviceID  string
	Topic     string
	Window    time.Duration
	KeepAlive time.Duration
	Threshold float64
}

// Aggregator owns the in-progress window and the publish state. It is not
// safe for concurrent use; Run drives it from a single goroutine.
type Aggregator struct {
	cfg     Config
	pub     Publisher
	metrics *metrics.Metrics
	log     *slog.Logger

	current map[string]struct{}
	state   PublishState
}

// New creates an aggregator whose publish state starts as the empty snapshot
// sent at the zero time, so the first window always publishes.
func New(cfg Config, pub Publisher, m *metrics.Metrics, logger *slog.Logger) *Aggregator {
	return &Aggregator{
		cfg:     cfg,
		pub:     pub,
		metrics: m,
		log:     logger.With("device_id", cfg.DeviceID, "topic", cfg.Topic),
		current: make(map[string]struct{}),
		state:   PublishState{LastSent: detection.NewSnapshot(cfg.DeviceID)},
	}
}

// Run consumes raw batches from events and closes a window on every tick
// until ctx is cancelled. The open window is discarded on shutdown.
func (a *Aggregator) Run(ctx context.Context, events <-chan []byte) error {
	ticker := time.NewTicker(a.cfg.Window)
	defer ticker.Stop()

	a.log.Info("aggregator started",
		"window", a.cfg.Window.String(),
		"keepalive", a.cfg.KeepAlive.String(),
		"threshold", a.cfg.Threshold,
	)

	for {
		select {
		case <-ctx.Done():
			a.log.Info("aggregator stopped", "pending_labels", len(a.current))
			return ctx.Err()
		case payload, ok := <-events:
			if !ok {
				a.log.Warn("local event source closed; publishing keep-alives only")
				events = nil
				continue
			}
			a.Ingest(payload)
		case now := <-ticker.C:
			a.closeWindow(ctx, now)
		}
	}
}

// Ingest folds one raw batch into the open window.
func (a *Aggregator) Ingest(payload []byte) {
	a.metrics.Batches.Inc()

	events, errs, err := detection.DecodeBatch(payload)
	if err != nil {
		a.metrics.Dropped.WithLabelValues(metrics.DropMalformed).Inc()
		a.log.Warn("dropping detection batch", "error", err)
		return
	}
	for _, e := range errs {
		a.metrics.Dropped.WithLabelValues(metrics.DropMalformed).Inc()
		a.log.Warn("dropping detection event", "error", e)
	}

	for _, ev := range events {
		if ev.Confidence < a.cfg.Threshold {
			a.metrics.Dropped.WithLabelValues(metrics.DropLowConfidence).Inc()
			continue
		}
		a.current[ev.Label] = struct{}{}
	}
}

// closeWindow runs the publish decision for the window ending at now and
// opens the next one.
func (a *Aggregator) closeWindow(ctx context.Context, now time.Time) {
	labels := make([]string, 0, len(a.current))
	for label := range a.current {
		labels = append(labels, label)
	}
	candidate := detection.NewSnapshot(a.cfg.DeviceID, labels...)

	a.current = make(map[string]struct{})
	a.metrics.Windows.Inc()

	reason := Decide(candidate, a.state, now, a.cfg.KeepAlive, a.cfg.Window)
	if reason == "" {
		return
	}

	a.publish(ctx, candidate, reason)
	if reason == metrics.ReasonChange {
		a.state.LastSent = candidate
	}
	a.state.LastSentAt = now
}

func (a *Aggregator) publish(ctx context.Context, snap detection.Snapshot, reason string) {
	payload, err := json.Marshal(snap)
	if err != nil {
		a.log.Error("encode snapshot", "error", err)
		return
	}

	a.metrics.Publishes.WithLabelValues(reason).Inc()
	a.metrics.LabelsPresent.Set(float64(snap.Len()))

	if err := a.pub.Publish(ctx, a.cfg.Topic, payload); err != nil {
		a.metrics.PublishErrors.Inc()
		a.log.Warn("publish failed", "reason", reason, "error", err)
		return
	}
	a.log.Debug("published snapshot", "reason", reason, "labels", snap.Labels())
}
