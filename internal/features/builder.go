// Package features derives per-symbol feature snapshots from OHLCV bar
// history. Every derived value is a tri-state Field: a symbol with thin
// history produces absent fields, not zeros.
package features

import (
	"math"

	"github.com/rs/zerolog/log"

	"github.com/frictionwatch/frictionwatch/internal/domain"
)

const (
	volumeWindow     = 20
	volatilityWindow = 10
)

// Bar is the minimal price/volume view the builder needs, oldest first.
type Bar struct {
	Close  float64
	Volume float64
}

// Build derives snapshots for every symbol with at least two bars. The
// sector-relative component compares each symbol's 1-day return against
// the cross-sectional mean of the batch, so it is only present when two
// or more symbols produced a return.
func Build(history map[string][]Bar) map[string]domain.FeatureSnapshot {
	snaps := make(map[string]domain.FeatureSnapshot, len(history))
	returns1d := make(map[string]float64, len(history))

	for symbol, bars := range history {
		snap, ret1d, ok := buildOne(bars)
		if len(bars) > 0 && !snap.PriceChange1dPct.Valid() {
			log.Debug().Str("symbol", symbol).Int("bars", len(bars)).
				Msg("insufficient history for 1d return")
		}
		snaps[symbol] = snap
		if ok {
			returns1d[symbol] = ret1d
		}
	}

	// Cross-sectional mean needs at least one peer.
	if len(returns1d) >= 2 {
		var sum float64
		for _, r := range returns1d {
			sum += r
		}
		mean := sum / float64(len(returns1d))
		for symbol, r := range returns1d {
			snap := snaps[symbol]
			snap.SectorRelative1d = domain.ValidField(r - mean)
			snaps[symbol] = snap
		}
	}
	return snaps
}

func buildOne(bars []Bar) (domain.FeatureSnapshot, float64, bool) {
	var snap domain.FeatureSnapshot
	n := len(bars)
	if n < 2 {
		return snap, 0, false
	}

	last := bars[n-1]
	prev := bars[n-2]

	var ret1d float64
	ret1dOK := false
	if prev.Close > 0 {
		ret1d = (last.Close - prev.Close) / prev.Close * 100.0
		snap.PriceChange1dPct = domain.ValidField(ret1d)
		ret1dOK = snap.PriceChange1dPct.Valid()
	}

	if n >= 6 {
		if base := bars[n-6].Close; base > 0 {
			snap.PriceChange5dPct = domain.ValidField((last.Close - base) / base * 100.0)
		}
	}

	snap.VolumeRatio = volumeRatio(bars)
	snap.VolatilityPct = volatility(bars)
	return snap, ret1d, ret1dOK
}

// volumeRatio compares the latest volume against the mean of up to the
// prior 20 bars.
func volumeRatio(bars []Bar) domain.Field {
	n := len(bars)
	if n < 2 {
		return domain.AbsentField()
	}
	start := n - 1 - volumeWindow
	if start < 0 {
		start = 0
	}
	window := bars[start : n-1]

	var sum float64
	for _, b := range window {
		sum += b.Volume
	}
	mean := sum / float64(len(window))
	if mean <= 0 {
		return domain.AbsentField()
	}
	return domain.ValidField(bars[n-1].Volume / mean)
}

// volatility is the standard deviation of daily returns over up to the
// last 10 return observations, in percent.
func volatility(bars []Bar) domain.Field {
	n := len(bars)
	if n < 3 {
		return domain.AbsentField()
	}
	start := n - volatilityWindow - 1
	if start < 0 {
		start = 0
	}

	var rets []float64
	for i := start + 1; i < n; i++ {
		if bars[i-1].Close <= 0 {
			continue
		}
		rets = append(rets, (bars[i].Close-bars[i-1].Close)/bars[i-1].Close)
	}
	if len(rets) < 2 {
		return domain.AbsentField()
	}

	var sum float64
	for _, r := range rets {
		sum += r
	}
	mean := sum / float64(len(rets))

	var sq float64
	for _, r := range rets {
		sq += (r - mean) * (r - mean)
	}
	std := math.Sqrt(sq / float64(len(rets)))
	return domain.ValidField(std * 100.0)
}
