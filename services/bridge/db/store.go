package db

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store wraps database access helpers.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a Store backed by a pgx pool.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// Close releases the pool resources.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const schemaSQL = `
CREATE SCHEMA IF NOT EXISTS relay;

CREATE TABLE IF NOT EXISTS relay.detection_events (
    id          BIGSERIAL PRIMARY KEY,
    device_id   TEXT        NOT NULL,
    labels      TEXT[]      NOT NULL DEFAULT '{}',
    payload     JSONB       NOT NULL,
    received_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS detection_events_device_ts_idx
    ON relay.detection_events (device_id, received_at DESC);
`

// EnsureSchema creates the history table when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schemaSQL)
	return err
}

// Detection is one relayed snapshot as stored in history.
type Detection struct {
	ID         int64           `json:"id"`
	DeviceID   string          `json:"device_id"`
	Labels     []string        `json:"labels"`
	Payload    json.RawMessage `json:"payload"`
	ReceivedAt time.Time       `json:"received_at"`
}

const insertDetectionSQL = `
    INSERT INTO relay.detection_events (device_id, labels, payload, received_at)
    VALUES ($1, $2, $3, $4)
`

// InsertDetection appends a relayed snapshot to history.
func (s *Store) InsertDetection(ctx context.Context, d Detection) error {
	labels := d.Labels
	if labels == nil {
		labels = []string{}
	}
	_, err := s.pool.Exec(ctx, insertDetectionSQL, d.DeviceID, labels, []byte(d.Payload), d.ReceivedAt)
	return err
}

const latestDetectionsSQL = `
    SELECT DISTINCT ON (device_id) id, device_id, labels, payload, received_at
    FROM relay.detection_events
    ORDER BY device_id, received_at DESC
`

// LatestDetections returns the most recent snapshot per device.
func (s *Store) LatestDetections(ctx context.Context) ([]Detection, error) {
	rows, err := s.pool.Query(ctx, latestDetectionsSQL)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Detection, 0)
	for rows.Next() {
		var d Detection
		if err := rows.Scan(&d.ID, &d.DeviceID, &d.Labels, &d.Payload, &d.ReceivedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
