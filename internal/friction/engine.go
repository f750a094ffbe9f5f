// Package friction scores one symbol's snapshot for anomalous trading
// behavior across five independent heuristics and combines them into a
// single [0,1] result.
package friction

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/frictionwatch/frictionwatch/internal/domain"
)

// NoSignalExplanation is the explanation used when no detector fires.
const NoSignalExplanation = "no friction signals detected"

// HeadlineSource supplies recent headlines for a symbol. Implementations
// must degrade to an empty slice on failure; the news detector is then a
// no-op.
type HeadlineSource interface {
	Headlines(ctx context.Context, symbol string, max int) []domain.Headline
}

// Engine runs the detector set. A nil HeadlineSource disables the news
// detector.
type Engine struct {
	news HeadlineSource
}

func NewEngine(news HeadlineSource) *Engine {
	return &Engine{news: news}
}

// Detect computes the combined friction result for one symbol. It never
// returns an error: a failed collaborator degrades to a no-op detector.
func (e *Engine) Detect(ctx context.Context, symbol string, feats domain.FeatureSnapshot) domain.FrictionResult {
	var headlines []domain.Headline
	if e.news != nil {
		headlines = e.news.Headlines(ctx, symbol, 3)
	}
	return Combine(symbol, Detect(feats, headlines))
}

// Detect runs all five detectors against the snapshot and returns the ones
// that fired.
func Detect(feats domain.FeatureSnapshot, headlines []domain.Headline) []domain.Detection {
	all := []domain.Detection{
		panicSelling(feats),
		silentAccumulation(feats),
		sectorLag(feats),
		newsUnderreaction(feats, headlines),
		overreaction(feats),
	}
	fired := all[:0]
	for _, d := range all {
		if d.Fired() {
			fired = append(fired, d)
		}
	}
	return fired
}

// Combine folds fired detections into one FrictionResult. The maximum
// subscore dominates, with a 0.05 bonus per corroborating detector, capped
// at 1. The result type is the dominant (max-score) detection's type, ties
// broken by SignalType priority.
func Combine(symbol string, fired []domain.Detection) domain.FrictionResult {
	if len(fired) == 0 {
		return domain.FrictionResult{
			Symbol:      symbol,
			Score:       0,
			Explanation: NoSignalExplanation,
			Type:        domain.SignalUnknown,
		}
	}

	dominant := fired[0]
	var signals []string
	for _, d := range fired {
		signals = append(signals, d.Rationale...)
		if d.Score > dominant.Score ||
			(d.Score == dominant.Score && d.Type.Priority() < dominant.Type.Priority()) {
			dominant = d
		}
	}

	maxScore := dominant.Score
	for _, d := range fired {
		if d.Score > maxScore {
			maxScore = d.Score
		}
	}
	combined := domain.Clip01(maxScore + 0.05*float64(len(fired)-1))

	result := domain.FrictionResult{
		Symbol:      symbol,
		Score:       domain.Round3(combined),
		Explanation: strings.Join(signals, " | "),
		Signals:     signals,
		Type:        dominant.Type,
	}
	log.Debug().Str("symbol", symbol).Float64("score", result.Score).
		Str("type", string(result.Type)).Int("fired", len(fired)).Msg("friction")
	return result
}
