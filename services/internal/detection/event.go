package detection

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// MaxConfidence is the upper bound of the confidence scale reported by the
// local detector.
const MaxConfidence = 100

var (
	// ErrMalformedBatch means the payload is not a JSON array (or object) of
	// detection records at all.
	ErrMalformedBatch = errors.New("malformed detection batch")
	// ErrMalformedEvent means a single record inside an otherwise valid
	// batch could not be used.
	ErrMalformedEvent = errors.New("malformed detection event")
)

// Event is a single raw detection reported by the local detector.
type Event struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

type rawEvent struct {
	Label      *string  `json:"label"`
	Confidence *float64 `json:"confidence"`
}

// DecodeBatch parses a raw payload from the local event source. Records that
// are missing a field, carry the wrong type or fall outside the confidence
// scale are skipped and reported in the returned slice of errors; the rest of
// the batch is still returned. A single JSON object is accepted as a batch of
// one.
func DecodeBatch(payload []byte) ([]Event, []error, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return nil, nil, fmt.Errorf("%w: empty payload", ErrMalformedBatch)
	}

	var records []json.RawMessage
	switch trimmed[0] {
	case '[':
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrMalformedBatch, err)
		}
	case '{':
		records = []json.RawMessage{trimmed}
	default:
		return nil, nil, fmt.Errorf("%w: expected array or object", ErrMalformedBatch)
	}

	events := make([]Event, 0, len(records))
	var errs []error
	for i, record := range records {
		ev, err := decodeEvent(record)
		if err != nil {
			errs = append(errs, fmt.Errorf("record %d: %w", i, err))
			continue
		}
		events = append(events, ev)
	}
	return events, errs, nil
}

func decodeEvent(record json.RawMessage) (Event, error) {
	var raw rawEvent
	if err := json.Unmarshal(record, &raw); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if raw.Label == nil || *raw.Label == "" {
		return Event{}, fmt.Errorf("%w: missing label", ErrMalformedEvent)
	}
	if raw.Confidence == nil {
		return Event{}, fmt.Errorf("%w: missing confidence for %q", ErrMalformedEvent, *raw.Label)
	}
	if *raw.Confidence < 0 || *raw.Confidence > MaxConfidence {
		return Event{}, fmt.Errorf("%w: confidence %v out of range for %q", ErrMalformedEvent, *raw.Confidence, *raw.Label)
	}
	return Event{Label: *raw.Label, Confidence: *raw.Confidence}, nil
}
