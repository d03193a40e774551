// Package detection holds the data model shared by the edge publisher and the
// cloud bridge: raw detector events and the aggregated per-window snapshot
// that travels over the broker.
package detection

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// DeviceField is the wire key carrying the device identifier. Every other key
// in a published snapshot is a detected label mapped to 1.
const DeviceField = "device_uuid"

// ErrMalformedSnapshot is returned when a payload cannot be read back as a
// snapshot.
var ErrMalformedSnapshot = errors.New("malformed snapshot")

// Snapshot is the set of labels seen during one aggregation window for a
// device. It is immutable: every constructor copies its input and no method
// mutates the receiver.
type Snapshot struct {
	deviceID string
	labels   map[string]struct{}
}

// NewSnapshot builds a snapshot for deviceID containing labels. Empty labels
// and labels colliding with DeviceField cannot be encoded and are ignored.
func NewSnapshot(deviceID string, labels ...string) Snapshot {
	set := make(map[string]struct{}, len(labels))
	for _, label := range labels {
		if label == "" || label == DeviceField {
			continue
		}
		set[label] = struct{}{}
	}
	return Snapshot{deviceID: deviceID, labels: set}
}

// DeviceID returns the identifier of the reporting device.
func (s Snapshot) DeviceID() string {
	return s.deviceID
}

// Has reports whether label is present.
func (s Snapshot) Has(label string) bool {
	_, ok := s.labels[label]
	return ok
}

// Len returns the number of present labels.
func (s Snapshot) Len() int {
	return len(s.labels)
}

// Labels returns the present labels in sorted order.
func (s Snapshot) Labels() []string {
	out := make([]string, 0, len(s.labels))
	for label := range s.labels {
		out = append(out, label)
	}
	sort.Strings(out)
	return out
}

// Equal compares two snapshots by value.
func (s Snapshot) Equal(other Snapshot) bool {
	if s.deviceID != other.deviceID || len(s.labels) != len(other.labels) {
		return false
	}
	for label := range s.labels {
		if _, ok := other.labels[label]; !ok {
			return false
		}
	}
	return true
}

// MarshalJSON renders the sparse wire format:
// {"device_uuid":"<id>","cat":1,...}. Absent labels are omitted.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	doc := make(map[string]any, len(s.labels)+1)
	doc[DeviceField] = s.deviceID
	for label := range s.labels {
		doc[label] = 1
	}
	return json.Marshal(doc)
}

// ParseSnapshot reads a published snapshot back. Keys whose value is not the
// number 1 are not treated as present labels.
func ParseSnapshot(payload []byte) (Snapshot, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(payload, &doc); err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrMalformedSnapshot, err)
	}

	rawID, ok := doc[DeviceField]
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: missing %s", ErrMalformedSnapshot, DeviceField)
	}
	var deviceID string
	if err := json.Unmarshal(rawID, &deviceID); err != nil {
		return Snapshot{}, fmt.Errorf("%w: %s is not a string", ErrMalformedSnapshot, DeviceField)
	}

	labels := make([]string, 0, len(doc)-1)
	for key, raw := range doc {
		if key == DeviceField {
			continue
		}
		var flag float64
		if err := json.Unmarshal(raw, &flag); err != nil || flag != 1 {
			continue
		}
		labels = append(labels, key)
	}
	return NewSnapshot(deviceID, labels...), nil
}
