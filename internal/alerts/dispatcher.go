package alerts

import (
	"context"

	"github.com/rs/zerolog/log"
)

// AnnotationSource produces an optional one-line note for the alert. An
// empty string means no annotation.
type AnnotationSource interface {
	Annotate(ctx context.Context, symbol, signalType, explanation string) string
}

// Dispatcher runs one alert through the cooldown gate, annotation and
// every channel.
type Dispatcher struct {
	dedup     *Deduper
	annotator AnnotationSource
	channels  []Channel
}

// NewDispatcher assembles the dispatch chain. Nil channels are dropped
// so disabled transports need no special casing downstream.
func NewDispatcher(dedup *Deduper, annotator AnnotationSource, channels ...Channel) *Dispatcher {
	kept := make([]Channel, 0, len(channels))
	for _, ch := range channels {
		if ch != nil {
			kept = append(kept, ch)
		}
	}
	return &Dispatcher{dedup: dedup, annotator: annotator, channels: kept}
}

// Dispatch sends the alert. The cooldown lock is stamped only when at
// least one channel delivered, so a fully-suppressed or fully-failed
// dispatch leaves the next tick free to retry. Returns whether anything
// went out and, if suppressed, the reason.
func (d *Dispatcher) Dispatch(ctx context.Context, a Alert) (bool, string) {
	sigType := string(a.Type)

	if ok, reason := d.dedup.CanSend(ctx, a.Symbol, sigType); !ok {
		log.Info().Str("symbol", a.Symbol).Str("type", sigType).
			Str("reason", reason).Msg("alert suppressed")
		return false, reason
	}

	if d.annotator != nil && a.Annotation == "" {
		a.Annotation = d.annotator.Annotate(ctx, a.Symbol, sigType, a.Explanation)
	}

	delivered := false
	for _, ch := range d.channels {
		if ch.Send(ctx, a) {
			delivered = true
			log.Info().Str("symbol", a.Symbol).Str("type", sigType).
				Str("channel", ch.Name()).Float64("score", a.Score).Msg("alert sent")
		}
	}
	if !delivered {
		return false, "no channel delivered"
	}

	if err := d.dedup.RecordSent(ctx, a.Symbol, sigType); err != nil {
		log.Warn().Err(err).Str("symbol", a.Symbol).Msg("cooldown stamp failed")
	}
	return true, ""
}
