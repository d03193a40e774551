package db

import (
	"context"
	"log/slog"
	"time"

	"github.com/02loveslollipop/detection-relay/services/internal/detection"
)

// PayloadSource yields relayed payloads one at a time, blocking when idle.
type PayloadSource interface {
	Next(ctx context.Context, wait time.Duration) ([]byte, error)
}

// DetectionWriter persists one snapshot.
type DetectionWriter interface {
	InsertDetection(ctx context.Context, d Detection) error
}

// Recorder drains its own stream subscription into history so database
// latency never holds up the broker callback or the live clients.
type Recorder struct {
	src          PayloadSource
	store        DetectionWriter
	log          *slog.Logger
	now          func() time.Time
	writeTimeout time.Duration
}

// NewRecorder wires a recorder.
func NewRecorder(store DetectionWriter, src PayloadSource, logger *slog.Logger) *Recorder {
	return &Recorder{
		src:          src,
		store:        store,
		log:          logger,
		now:          func() time.Time { return time.Now().UTC() },
		writeTimeout: 5 * time.Second,
	}
}

// Run records until ctx ends or the source is closed.
func (r *Recorder) Run(ctx context.Context) error {
	for {
		payload, err := r.src.Next(ctx, 0)
		if err != nil {
			return err
		}
		if len(payload) == 0 {
			continue
		}
		r.record(ctx, payload)
	}
}

func (r *Recorder) record(ctx context.Context, payload []byte) {
	snap, err := detection.ParseSnapshot(payload)
	if err != nil {
		r.log.Warn("skipping unrecognised payload", "error", err)
		return
	}

	writeCtx, cancel := context.WithTimeout(ctx, r.writeTimeout)
	defer cancel()

	err = r.store.InsertDetection(writeCtx, Detection{
		DeviceID:   snap.DeviceID(),
		Labels:     snap.Labels(),
		Payload:    payload,
		ReceivedAt: r.now(),
	})
	if err != nil {
		r.log.Error("record detection", "device_id", snap.DeviceID(), "error", err)
	}
}
