package aggregator

import (
	"time"

	"github.com/02loveslollipop/detection-relay/services/internal/detection"
	"github.com/02loveslollipop/detection-relay/services/publisher/internal/metrics"
)

const tickSlack = 10 * time.Millisecond

// PublishState is the last snapshot that went out and when.
type PublishState struct {
	LastSent   detection.Snapshot
	LastSentAt time.Time
}

// Decide returns the publish reason for candidate, or "" when nothing should
// be sent. A changed snapshot always goes out; an unchanged one only once the
// keep-alive interval has passed. Window ticks may fire slightly late, so a
// keep-alive due within tickSlack (or half a window, if smaller) counts as due.
func Decide(candidate detection.Snapshot, state PublishState, now time.Time, keepAlive, window time.Duration) string {
	if !candidate.Equal(state.LastSent) {
		return metrics.ReasonChange
	}
	if now.Sub(state.LastSentAt) >= keepAlive-min(window/2, tickSlack) {
		return metrics.ReasonKeepAlive
	}
	return ""
}
