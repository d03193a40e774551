package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Publish reasons used as the "reason" label.
const (
	ReasonChange    = "change"
	ReasonKeepAlive = "keepalive"
)

// Drop reasons used as the "reason" label.
const (
	DropLowConfidence = "low_confidence"
	DropMalformed     = "malformed"
	DropOverflow      = "overflow"
)

// Metrics groups the publisher's Prometheus collectors.
type Metrics struct {
	Batches       prometheus.Counter
	Dropped       *prometheus.CounterVec
	Windows       prometheus.Counter
	Publishes     *prometheus.CounterVec
	PublishErrors prometheus.Counter
	LabelsPresent prometheus.Gauge
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Batches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_publisher_batches_total",
			Help: "Raw detection batches read from the local event source.",
		}),
		Dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_publisher_events_dropped_total",
			Help: "Raw detections discarded before aggregation, by reason.",
		}, []string{"reason"}),
		Windows: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_publisher_windows_total",
			Help: "Aggregation windows closed.",
		}),
		Publishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_publisher_publishes_total",
			Help: "Snapshots handed to the cloud transport, by reason.",
		}, []string{"reason"}),
		PublishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_publisher_publish_errors_total",
			Help: "Snapshots the cloud transport refused.",
		}),
		LabelsPresent: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_publisher_labels_present",
			Help: "Number of labels in the last published snapshot.",
		}),
	}

	reg.MustRegister(m.Batches, m.Dropped, m.Windows, m.Publishes, m.PublishErrors, m.LabelsPresent)
	return m
}
