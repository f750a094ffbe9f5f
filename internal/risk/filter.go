// Package risk narrows the candidate symbol set before scoring. Each stage
// strictly removes symbols and never raises: missing data fails open,
// known-bad data fails closed.
package risk

import (
	"github.com/rs/zerolog/log"

	"github.com/frictionwatch/frictionwatch/internal/domain"
)

// Filter applies blacklist, volatility cap and liquidity sanity checks.
type Filter struct {
	blacklist        map[string]bool
	maxVolatilityPct float64
}

// NewFilter builds a filter from the configured denylist and volatility
// ceiling. The denylist comes from configuration only, never from runtime
// data.
func NewFilter(blacklist []string, maxVolatilityPct float64) *Filter {
	bl := make(map[string]bool, len(blacklist))
	for _, s := range blacklist {
		bl[s] = true
	}
	return &Filter{blacklist: bl, maxVolatilityPct: maxVolatilityPct}
}

// Apply returns the subset of symbols that pass all stages, preserving
// input order. Symbols without a snapshot are dropped: there is nothing to
// score.
func (f *Filter) Apply(symbols []string, features map[string]domain.FeatureSnapshot) []string {
	out := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		if f.blacklist[sym] {
			continue
		}
		feats, ok := features[sym]
		if !ok {
			continue
		}
		if v := feats.VolatilityPct; v.Valid() && v.Value > f.maxVolatilityPct {
			log.Debug().Str("symbol", sym).Float64("volatility_pct", v.Value).
				Float64("cap", f.maxVolatilityPct).Msg("risk: volatility cap")
			continue
		}
		// Known-bad volume data is dropped; a missing volume feature is kept.
		if feats.VolumeRatio.Status == domain.FieldInvalid {
			continue
		}
		out = append(out, sym)
	}
	return out
}
