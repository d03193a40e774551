package aggregator

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/02loveslollipop/detection-relay/services/internal/detection"
	"github.com/02loveslollipop/detection-relay/services/publisher/internal/metrics"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func TestDebounceOnePublishPerWindow(t *testing.T) {
	agg, pub, _ := newTestAggregator(t, nil)

	agg.Ingest([]byte(`[{"label":"A","confidence":90}]`))
	agg.Ingest([]byte(`[{"label":"B","confidence":70},{"label":"A","confidence":99}]`))
	agg.Ingest([]byte(`[{"label":"B","confidence":88}]`))
	agg.closeWindow(context.Background(), t0.Add(time.Second))

	msgs := pub.messages()
	if len(msgs) != 1 {
		t.Fatalf("expected exactly one publish, got %d", len(msgs))
	}
	assertPayload(t, msgs[0], map[string]any{"device_uuid": "dev-1", "A": 1.0, "B": 1.0})
}

func TestLowConfidenceSuppressed(t *testing.T) {
	agg, pub, m := newTestAggregator(t, nil)

	agg.Ingest([]byte(`[{"label":"cat","confidence":64},{"label":"dog","confidence":65}]`))
	agg.closeWindow(context.Background(), t0.Add(time.Second))

	msgs := pub.messages()
	if len(msgs) != 1 {
		t.Fatalf("expected one publish, got %d", len(msgs))
	}
	assertPayload(t, msgs[0], map[string]any{"device_uuid": "dev-1", "dog": 1.0})

	if got := testutil.ToFloat64(m.Dropped.WithLabelValues(metrics.DropLowConfidence)); got != 1 {
		t.Fatalf("expected one low-confidence drop, got %f", got)
	}
}

func TestMalformedRecordDoesNotSpoilBatch(t *testing.T) {
	agg, pub, m := newTestAggregator(t, nil)

	agg.Ingest([]byte(`[{"label":"cat"},{"label":"dog","confidence":80}]`))
	agg.Ingest([]byte(`not json`))
	agg.closeWindow(context.Background(), t0.Add(time.Second))

	assertPayload(t, pub.messages()[0], map[string]any{"device_uuid": "dev-1", "dog": 1.0})
	if got := testutil.ToFloat64(m.Dropped.WithLabelValues(metrics.DropMalformed)); got != 2 {
		t.Fatalf("expected two malformed drops, got %f", got)
	}
}

func TestNoDuplicatePublishWithinKeepAlive(t *testing.T) {
	agg, pub, _ := newTestAggregator(t, nil)
	ctx := context.Background()

	for i := 1; i <= 9; i++ {
		agg.Ingest([]byte(`[{"label":"cat","confidence":90}]`))
		agg.closeWindow(ctx, t0.Add(time.Duration(i)*time.Second))
	}

	if got := len(pub.messages()); got != 1 {
		t.Fatalf("expected a single publish for an unchanged state, got %d", got)
	}
}

func TestKeepAliveRepublishesUnchangedSnapshot(t *testing.T) {
	agg, pub, m := newTestAggregator(t, nil)
	ctx := context.Background()

	var sentAt []int
	for i := 1; i <= 31; i++ {
		before := len(pub.messages())
		agg.Ingest([]byte(`[{"label":"cat","confidence":90}]`))
		agg.closeWindow(ctx, t0.Add(time.Duration(i)*time.Second))
		if len(pub.messages()) > before {
			sentAt = append(sentAt, i)
		}
	}

	if want := []int{1, 11, 21, 31}; !reflect.DeepEqual(sentAt, want) {
		t.Fatalf("unexpected publish windows %v, want %v", sentAt, want)
	}
	for _, msg := range pub.messages() {
		assertPayload(t, msg, map[string]any{"device_uuid": "dev-1", "cat": 1.0})
	}
	if got := testutil.ToFloat64(m.Publishes.WithLabelValues(metrics.ReasonKeepAlive)); got != 3 {
		t.Fatalf("expected 3 keep-alive publishes, got %f", got)
	}
}

func TestKeepAliveWithUnevenWindow(t *testing.T) {
	pub := &fakePublisher{}
	agg := New(Config{
		DeviceID:  "dev-1",
		Topic:     "iot/object-detection",
		Window:    3 * time.Second,
		KeepAlive: 10 * time.Second,
		Threshold: 65,
	}, pub, metrics.New(prometheus.NewRegistry()), discardLogger())
	ctx := context.Background()

	var sentAt []time.Duration
	for i := 1; i <= 12; i++ {
		before := len(pub.messages())
		at := time.Duration(i) * 3 * time.Second
		agg.Ingest([]byte(`[{"label":"cat","confidence":90}]`))
		agg.closeWindow(ctx, t0.Add(at))
		if len(pub.messages()) > before {
			sentAt = append(sentAt, at)
		}
	}

	want := []time.Duration{3 * time.Second, 15 * time.Second, 27 * time.Second}
	if !reflect.DeepEqual(sentAt, want) {
		t.Fatalf("unexpected publish times %v, want %v", sentAt, want)
	}
}

func TestAllClearIsPublished(t *testing.T) {
	agg, pub, _ := newTestAggregator(t, nil)
	ctx := context.Background()

	agg.Ingest([]byte(`[{"label":"cat","confidence":90}]`))
	agg.closeWindow(ctx, t0.Add(time.Second))
	agg.closeWindow(ctx, t0.Add(2*time.Second))

	msgs := pub.messages()
	if len(msgs) != 2 {
		t.Fatalf("expected detection then all-clear, got %d publishes", len(msgs))
	}
	assertPayload(t, msgs[1], map[string]any{"device_uuid": "dev-1"})

	// The all-clear state is deduplicated and kept alive like any other.
	for i := 3; i <= 11; i++ {
		agg.closeWindow(ctx, t0.Add(time.Duration(i)*time.Second))
	}
	if got := len(pub.messages()); got != 2 {
		t.Fatalf("all-clear should not repeat before keep-alive, got %d publishes", got)
	}
	agg.closeWindow(ctx, t0.Add(12*time.Second))
	if got := len(pub.messages()); got != 3 {
		t.Fatalf("expected all-clear keep-alive, got %d publishes", got)
	}
}

func TestFirstWindowPublishesEvenWhenEmpty(t *testing.T) {
	agg, pub, _ := newTestAggregator(t, nil)

	agg.closeWindow(context.Background(), t0.Add(time.Second))

	msgs := pub.messages()
	if len(msgs) != 1 {
		t.Fatalf("expected initial all-clear publish, got %d", len(msgs))
	}
	assertPayload(t, msgs[0], map[string]any{"device_uuid": "dev-1"})
}

func TestPublishFailureStillAdvancesState(t *testing.T) {
	agg, pub, m := newTestAggregator(t, errors.New("broker down"))
	ctx := context.Background()

	agg.Ingest([]byte(`[{"label":"cat","confidence":90}]`))
	agg.closeWindow(ctx, t0.Add(time.Second))
	agg.Ingest([]byte(`[{"label":"cat","confidence":90}]`))
	agg.closeWindow(ctx, t0.Add(2*time.Second))

	if got := len(pub.messages()); got != 1 {
		t.Fatalf("failed publish must not be retried, got %d attempts", got)
	}
	if got := testutil.ToFloat64(m.PublishErrors); got != 1 {
		t.Fatalf("expected one publish error, got %f", got)
	}
}

func TestRunPublishesFromEvents(t *testing.T) {
	pub := &fakePublisher{notify: make(chan []byte, 64)}
	m := metrics.New(prometheus.NewRegistry())
	agg := New(Config{
		DeviceID:  "dev-1",
		Topic:     "iot/object-detection",
		Window:    20 * time.Millisecond,
		KeepAlive: time.Second,
		Threshold: 65,
	}, pub, m, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	events := make(chan []byte, 1)
	done := make(chan error, 1)
	go func() { done <- agg.Run(ctx, events) }()

	events <- []byte(`[{"label":"cat","confidence":90}]`)

	deadline := time.After(2 * time.Second)
	for found := false; !found; {
		select {
		case payload := <-pub.notify:
			snap, err := detection.ParseSnapshot(payload)
			if err != nil {
				t.Fatalf("bad payload %s: %v", payload, err)
			}
			found = snap.Has("cat")
		case <-deadline:
			t.Fatalf("timed out waiting for a snapshot with cat")
		}
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Run did not stop after cancel")
	}
}

func TestDecide(t *testing.T) {
	cat := detection.NewSnapshot("dev-1", "cat")
	state := PublishState{LastSent: cat, LastSentAt: t0}

	if got := Decide(detection.NewSnapshot("dev-1", "dog"), state, t0.Add(time.Second), 10*time.Second, time.Second); got != metrics.ReasonChange {
		t.Fatalf("expected change, got %q", got)
	}
	if got := Decide(cat, state, t0.Add(9*time.Second), 10*time.Second, time.Second); got != "" {
		t.Fatalf("expected no publish, got %q", got)
	}
	if got := Decide(cat, state, t0.Add(10*time.Second), 10*time.Second, time.Second); got != metrics.ReasonKeepAlive {
		t.Fatalf("expected keepalive, got %q", got)
	}
	if got := Decide(cat, state, t0.Add(10*time.Second-3*time.Millisecond), 10*time.Second, time.Second); got != metrics.ReasonKeepAlive {
		t.Fatalf("a slightly early tick should count as due, got %q", got)
	}
	if got := Decide(cat, state, t0.Add(9*time.Second), 10*time.Second, 3*time.Second); got != "" {
		t.Fatalf("expected no publish 9s after the last send with a 3s window, got %q", got)
	}
	if got := Decide(cat, state, t0.Add(12*time.Second), 10*time.Second, 3*time.Second); got != metrics.ReasonKeepAlive {
		t.Fatalf("expected keepalive with a 3s window, got %q", got)
	}
}

type fakePublisher struct {
	mu     sync.Mutex
	sent   [][]byte
	err    error
	notify chan []byte
}

func (f *fakePublisher) Publish(_ context.Context, topic string, payload []byte) error {
	f.mu.Lock()
	f.sent = append(f.sent, payload)
	f.mu.Unlock()
	if f.notify != nil {
		select {
		case f.notify <- payload:
		default:
		}
	}
	return f.err
}

func (f *fakePublisher) messages() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.sent...)
}

func newTestAggregator(t *testing.T, pubErr error) (*Aggregator, *fakePublisher, *metrics.Metrics) {
	t.Helper()
	pub := &fakePublisher{err: pubErr}
	m := metrics.New(prometheus.NewRegistry())
	agg := New(Config{
		DeviceID:  "dev-1",
		Topic:     "iot/object-detection",
		Window:    time.Second,
		KeepAlive: 10 * time.Second,
		Threshold: 65,
	}, pub, m, discardLogger())
	return agg, pub, m
}

func assertPayload(t *testing.T, payload []byte, want map[string]any) {
	t.Helper()
	var got map[string]any
	if err := json.Unmarshal(payload, &got); err != nil {
		t.Fatalf("decode payload %s: %v", payload, err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected payload %v, want %v", got, want)
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
