// Package confidence blends the friction score with liquidity,
// volatility, data-quality and historical win-rate components into a
// single [0,1] confidence value, persisting the decomposition for audit.
package confidence

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/frictionwatch/frictionwatch/internal/domain"
	"github.com/frictionwatch/frictionwatch/internal/persistence"
)

// Component weights. They sum to 1.
const (
	weightFriction    = 0.35
	weightLiquidity   = 0.15
	weightVolatility  = 0.15
	weightDataQuality = 0.15
	weightWinRate     = 0.20
)

const neutral = 0.5

// WinRateSource answers the historical 1-day win rate for a symbol. The
// bool is false when not enough outcomes exist to be meaningful.
type WinRateSource interface {
	WinRate1d(ctx context.Context, symbol string) (float64, bool)
}

// Breakdown is a composed confidence with its components.
type Breakdown struct {
	Confidence  float64
	Friction    float64
	Liquidity   float64
	Volatility  float64
	DataQuality float64
	WinRate     float64
}

// Composer computes and records confidence values. A nil repo disables
// persistence; a nil winRates pins the win-rate component at neutral.
type Composer struct {
	repo     persistence.ConfidenceRepo
	winRates WinRateSource
	now      func() time.Time
}

func NewComposer(repo persistence.ConfidenceRepo, winRates WinRateSource) *Composer {
	return &Composer{repo: repo, winRates: winRates, now: time.Now}
}

// Compose blends the friction score with the snapshot-derived components
// and persists the breakdown. Persistence failure is logged, never fatal:
// the computed value is still returned.
func (c *Composer) Compose(ctx context.Context, symbol string, frictionScore float64, feats domain.FeatureSnapshot) Breakdown {
	b := Breakdown{
		Friction:    domain.Clip01(frictionScore),
		Liquidity:   liquidityScore(feats),
		Volatility:  volatilityScore(feats),
		DataQuality: dataQualityScore(feats),
		WinRate:     neutral,
	}
	if c.winRates != nil {
		if wr, ok := c.winRates.WinRate1d(ctx, symbol); ok {
			b.WinRate = domain.Clip01(wr)
		}
	}

	b.Confidence = domain.Round3(domain.Clip01(
		weightFriction*b.Friction +
			weightLiquidity*b.Liquidity +
			weightVolatility*b.Volatility +
			weightDataQuality*b.DataQuality +
			weightWinRate*b.WinRate))

	if c.repo != nil {
		ts := persistence.Timestamp(c.now())
		err := c.repo.InsertConfidence(ctx, persistence.ConfidenceRecord{
			Symbol:           symbol,
			Dt:               ts,
			Confidence:       b.Confidence,
			FrictionScore:    b.Friction,
			LiquidityScore:   b.Liquidity,
			VolatilityScore:  b.Volatility,
			DataQualityScore: b.DataQuality,
			WinRateComponent: b.WinRate,
			CreatedAt:        ts,
		})
		if err != nil {
			log.Warn().Err(err).Str("symbol", symbol).Msg("confidence record not persisted")
		}
	}
	return b
}

// liquidityScore maps the volume ratio into [0,1]: average volume scores
// 0.5, twice average saturates at 1.
func liquidityScore(feats domain.FeatureSnapshot) float64 {
	vr := feats.VolumeRatio
	if !vr.Valid() {
		return neutral
	}
	if vr.Value <= 0 {
		return 0
	}
	return domain.Clip01(vr.Value / 2.0)
}

// volatilityScore rewards calm symbols: 0% volatility scores 1, 20% or
// more scores 0.
func volatilityScore(feats domain.FeatureSnapshot) float64 {
	v := feats.VolatilityPct
	if !v.Valid() {
		return neutral
	}
	if v.Value <= 0 {
		return 1
	}
	return domain.Clip01(1.0 - v.Value/20.0)
}

// dataQualityScore is the fraction of core features that carry a valid
// value.
func dataQualityScore(feats domain.FeatureSnapshot) float64 {
	core := []domain.Field{
		feats.PriceChange1dPct,
		feats.VolumeRatio,
		feats.VolatilityPct,
	}
	valid := 0
	for _, f := range core {
		if f.Valid() {
			valid++
		}
	}
	return float64(valid) / float64(len(core))
}
