package domain

// SignalType tags the anomaly category a detector emits. Detectors return
// their own tag directly; nothing re-derives the category from rationale
// text.
type SignalType string

const (
	SignalPanicSelling       SignalType = "panic_selling"
	SignalSilentAccumulation SignalType = "silent_accumulation"
	SignalSectorLag          SignalType = "sector_lag"
	SignalNewsUnderreaction  SignalType = "news_underreaction"
	SignalOverreaction       SignalType = "overreaction"
	SignalUnknown            SignalType = "unknown"
)

// Priority orders signal types for tie-breaking when two detectors fire
// with equal subscores. Lower is stronger.
func (s SignalType) Priority() int {
	switch s {
	case SignalPanicSelling:
		return 0
	case SignalSilentAccumulation:
		return 1
	case SignalSectorLag:
		return 2
	case SignalNewsUnderreaction:
		return 3
	case SignalOverreaction:
		return 4
	default:
		return 5
	}
}

// Detection is the output of a single friction detector: a tagged subscore
// in [0,1] with human-readable rationale lines. A detector whose
// precondition is not met returns a zero Detection.
type Detection struct {
	Type      SignalType
	Score     float64
	Rationale []string
}

// Fired reports whether the detector contributed a signal.
func (d Detection) Fired() bool { return d.Score > 0 }

// FrictionResult is the combined friction verdict for one symbol on one
// tick. Immutable after creation.
type FrictionResult struct {
	Symbol      string
	Score       float64
	Explanation string
	Signals     []string
	Type        SignalType
}

// SeverityFromScore buckets a friction score into 1..4 for alert
// prioritization. Boundaries are exact at 0.85 / 0.75 / 0.65.
func SeverityFromScore(score float64) int {
	switch {
	case score >= 0.85:
		return 4
	case score >= 0.75:
		return 3
	case score >= 0.65:
		return 2
	default:
		return 1
	}
}
