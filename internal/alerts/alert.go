// Package alerts turns scored signals into deduplicated, rate-limited
// notifications across the configured channels.
package alerts

import (
	"context"
	"time"

	"github.com/frictionwatch/frictionwatch/internal/domain"
)

// Alert is one dispatchable notification.
type Alert struct {
	Symbol      string
	Type        domain.SignalType
	Score       float64
	Confidence  float64
	Severity    int
	Explanation string
	Signals     []string
	Annotation  string
	At          time.Time
}

// Channel delivers an alert over one medium. Send returns true only when
// the alert actually went out; rate-limit skips and transport failures
// both return false, with the channel logging the cause.
type Channel interface {
	Name() string
	Send(ctx context.Context, a Alert) bool
}
