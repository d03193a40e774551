package db

import (
	"context"
	"strconv"
	"strings"
	"time"
)

// DetectionQuery holds filters for the history listing.
type DetectionQuery struct {
	DeviceID string
	Since    *time.Time
	Until    *time.Time
	Limit    int
	Offset   int
}

// DetectionPage is one page of history plus the unpaged total.
type DetectionPage struct {
	Detections []Detection `json:"detections"`
	TotalCount int         `json:"total_count"`
}

func (q DetectionQuery) where() (string, []any) {
	conditions := []string{}
	args := []any{}

	if q.DeviceID != "" {
		conditions = append(conditions, "device_id = $"+strconv.Itoa(len(args)+1))
		args = append(args, q.DeviceID)
	}
	if q.Since != nil {
		conditions = append(conditions, "received_at >= $"+strconv.Itoa(len(args)+1))
		args = append(args, *q.Since)
	}
	if q.Until != nil {
		conditions = append(conditions, "received_at <= $"+strconv.Itoa(len(args)+1))
		args = append(args, *q.Until)
	}

	if len(conditions) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(conditions, " AND "), args
}

// ListDetections returns history newest first.
func (s *Store) ListDetections(ctx context.Context, q DetectionQuery) (*DetectionPage, error) {
	whereClause, args := q.where()

	countSQL := "SELECT COUNT(*) FROM relay.detection_events " + whereClause
	var totalCount int
	if err := s.pool.QueryRow(ctx, countSQL, args...).Scan(&totalCount); err != nil {
		return nil, err
	}

	limitPos := len(args) + 1
	offsetPos := len(args) + 2
	args = append(args, q.Limit, q.Offset)

	query := strings.Builder{}
	query.WriteString("SELECT id, device_id, labels, payload, received_at ")
	query.WriteString("FROM relay.detection_events ")
	query.WriteString(whereClause + " ")
	query.WriteString("ORDER BY received_at DESC, id DESC ")
	query.WriteString("LIMIT $" + strconv.Itoa(limitPos) + " OFFSET $" + strconv.Itoa(offsetPos))

	rows, err := s.pool.Query(ctx, query.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	detections := make([]Detection, 0, q.Limit)
	for rows.Next() {
		var d Detection
		if err := rows.Scan(&d.ID, &d.DeviceID, &d.Labels, &d.Payload, &d.ReceivedAt); err != nil {
			return nil, err
		}
		detections = append(detections, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &DetectionPage{Detections: detections, TotalCount: totalCount}, nil
}
