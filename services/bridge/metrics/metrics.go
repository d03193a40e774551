package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the bridge's Prometheus collectors.
type Metrics struct {
	Payloads    prometheus.Counter
	Frames      prometheus.Counter
	Connections prometheus.Counter
}

// New registers the bridge collectors on reg. clients is sampled at scrape
// time for the connected-clients gauge.
func New(reg prometheus.Registerer, clients func() int) *Metrics {
	m := &Metrics{
		Payloads: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_bridge_payloads_total",
			Help: "Payloads received from the broker subscription.",
		}),
		Frames: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_bridge_frames_sent_total",
			Help: "Event-stream frames written to clients.",
		}),
		Connections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_bridge_connections_total",
			Help: "Stream connections accepted.",
		}),
	}
	connected := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "relay_bridge_clients",
		Help: "Stream clients currently connected.",
	}, func() float64 { return float64(clients()) })

	reg.MustRegister(m.Payloads, m.Frames, m.Connections, connected)
	return m
}
