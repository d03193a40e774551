package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestClientsGaugeSamplesCallback(t *testing.T) {
	reg := prometheus.NewRegistry()
	clients := 3
	m := New(reg, func() int { return clients })

	m.Payloads.Add(2)
	if got := testutil.ToFloat64(m.Payloads); got != 2 {
		t.Fatalf("expected 2 payloads, got %f", got)
	}

	expected := `
# HELP relay_bridge_clients Stream clients currently connected.
# TYPE relay_bridge_clients gauge
relay_bridge_clients 3
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "relay_bridge_clients"); err != nil {
		t.Fatalf("unexpected gauge: %v", err)
	}

	clients = 0
	expected = strings.Replace(expected, "relay_bridge_clients 3", "relay_bridge_clients 0", 1)
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "relay_bridge_clients"); err != nil {
		t.Fatalf("gauge should follow the callback: %v", err)
	}
}
