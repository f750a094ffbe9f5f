package friction

import (
	"fmt"
	"math"

	"github.com/frictionwatch/frictionwatch/internal/domain"
)

// Each detector inspects one FeatureSnapshot and returns a tagged
// Detection. A detector whose required feature is absent or invalid is a
// no-op (zero Detection), never an error.

// panicSelling fires on a large down day with heavy volume.
func panicSelling(feats domain.FeatureSnapshot) domain.Detection {
	ret := feats.PriceChange1dPct
	vr := feats.VolumeRatio
	if !ret.Valid() || !vr.Valid() {
		return domain.Detection{Type: domain.SignalPanicSelling}
	}
	if ret.Value < -2.0 && vr.Value > 1.5 {
		score := domain.Clip01(0.3 + math.Abs(ret.Value)/50.0 + (vr.Value-1.0)/4.0)
		return domain.Detection{
			Type:  domain.SignalPanicSelling,
			Score: score,
			Rationale: []string{
				fmt.Sprintf("Panic selling: %.2f%% drop, vol %.2fx avg", ret.Value, vr.Value),
			},
		}
	}
	return domain.Detection{Type: domain.SignalPanicSelling}
}

// silentAccumulation fires on a small up day with below-average (or
// unknown) volume; the 5-day trend scales the score.
func silentAccumulation(feats domain.FeatureSnapshot) domain.Detection {
	ret := feats.PriceChange1dPct
	if !ret.Valid() {
		return domain.Detection{Type: domain.SignalSilentAccumulation}
	}
	vr := feats.VolumeRatio
	if ret.Value > 0 && ret.Value < 1.5 && (!vr.Valid() || vr.Value < 0.8) {
		score := 0.4
		if r5 := feats.PriceChange5dPct; r5.Valid() {
			score = domain.Clip01(0.4 + r5.Value/50.0)
		}
		return domain.Detection{
			Type:  domain.SignalSilentAccumulation,
			Score: score,
			Rationale: []string{
				fmt.Sprintf("Silent accumulation: +%.2f%% on below-avg volume", ret.Value),
			},
		}
	}
	return domain.Detection{Type: domain.SignalSilentAccumulation}
}

// sectorLag fires when the symbol trails its peer group.
func sectorLag(feats domain.FeatureSnapshot) domain.Detection {
	rel := feats.SectorRelative1d
	if !rel.Valid() {
		return domain.Detection{Type: domain.SignalSectorLag}
	}
	if rel.Value < -1.0 {
		return domain.Detection{
			Type:  domain.SignalSectorLag,
			Score: domain.Clip01(0.3 + math.Abs(rel.Value)/30.0),
			Rationale: []string{
				fmt.Sprintf("Sector lag: %.2f%% vs peers", rel.Value),
			},
		}
	}
	return domain.Detection{Type: domain.SignalSectorLag}
}

// newsUnderreaction fires when headlines exist but price barely moved.
// Fixed subscore; rationale quotes up to two headlines.
func newsUnderreaction(feats domain.FeatureSnapshot, headlines []domain.Headline) domain.Detection {
	if len(headlines) == 0 {
		return domain.Detection{Type: domain.SignalNewsUnderreaction}
	}
	ret := feats.PriceChange1dPct
	if !ret.Valid() {
		return domain.Detection{Type: domain.SignalNewsUnderreaction}
	}
	if math.Abs(ret.Value) < 1.0 {
		rationale := []string{"News vs price: limited move despite headlines"}
		for i, h := range headlines {
			if i >= 2 {
				break
			}
			if t := truncate(h.Title, 60); t != "" {
				rationale = append(rationale, "  - "+t)
			}
		}
		return domain.Detection{
			Type:      domain.SignalNewsUnderreaction,
			Score:     0.35,
			Rationale: rationale,
		}
	}
	return domain.Detection{Type: domain.SignalNewsUnderreaction}
}

// overreaction fires on any outsized single-day move, with a volatility
// bonus.
func overreaction(feats domain.FeatureSnapshot) domain.Detection {
	ret := feats.PriceChange1dPct
	if !ret.Valid() {
		return domain.Detection{Type: domain.SignalOverreaction}
	}
	if math.Abs(ret.Value) > 4.0 {
		score := 0.3 + math.Min(math.Abs(ret.Value)/25.0, 0.4)
		if v := feats.VolatilityPct; v.Valid() && v.Value > 2.0 {
			score += 0.1
		}
		return domain.Detection{
			Type:  domain.SignalOverreaction,
			Score: domain.Clip01(score),
			Rationale: []string{
				fmt.Sprintf("Overreaction: %.2f%% in 1d", ret.Value),
			},
		}
	}
	return domain.Detection{Type: domain.SignalOverreaction}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
