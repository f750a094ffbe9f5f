// Package attribution records realized returns for fired signals and
// feeds them back as a per-symbol win rate.
package attribution

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/frictionwatch/frictionwatch/internal/persistence"
)

// Horizons tracked for each signal, in trading-calendar days.
var horizons = []int{1, 3, 5}

const backfillLookback = 30 * 24 * time.Hour

// Tracker resolves signal outcomes from stored prices.
type Tracker struct {
	prices     persistence.PriceRepo
	outcomes   persistence.OutcomeRepo
	signals    persistence.SignalRepo
	minSamples int
	now        func() time.Time
}

func NewTracker(prices persistence.PriceRepo, outcomes persistence.OutcomeRepo, signals persistence.SignalRepo, minSamples int) *Tracker {
	return &Tracker{
		prices:     prices,
		outcomes:   outcomes,
		signals:    signals,
		minSamples: minSamples,
		now:        time.Now,
	}
}

// UpdateOutcome resolves whatever horizons have closed for one signal and
// inserts a single outcome row. Already-resolved signals are skipped.
// Horizons whose close is not available yet stay nil.
func (t *Tracker) UpdateOutcome(ctx context.Context, signalID int64, symbol, signalTs string) error {
	if done, err := t.outcomes.HasOutcome(ctx, signalID); err != nil {
		return fmt.Errorf("failed to check outcome: %w", err)
	} else if done {
		return nil
	}

	signalTime, err := time.Parse(time.RFC3339, signalTs)
	if err != nil {
		return fmt.Errorf("failed to parse signal timestamp %q: %w", signalTs, err)
	}

	base, ok, err := t.prices.LatestCloseAtOrBefore(ctx, symbol, signalTs)
	if err != nil {
		return fmt.Errorf("failed to read base close: %w", err)
	}
	if !ok || base <= 0 {
		// Nothing priced at signal time; try again on a later pass.
		return nil
	}

	o := persistence.Outcome{
		SignalID:      signalID,
		Symbol:        symbol,
		SignalDt:      signalTs,
		PriceAtSignal: base,
		CreatedAt:     persistence.Timestamp(t.now()),
	}

	resolved := 0
	for _, days := range horizons {
		target := persistence.Timestamp(signalTime.AddDate(0, 0, days))
		c, ok, err := t.prices.CloseOnOrAfter(ctx, symbol, target)
		if err != nil {
			return fmt.Errorf("failed to read %dd close: %w", days, err)
		}
		if !ok {
			continue
		}
		ret := (c - base) / base * 100.0
		switch days {
		case 1:
			o.Return1d, o.Outcome1dDt = &ret, &target
		case 3:
			o.Return3d, o.Outcome3dDt = &ret, &target
		case 5:
			o.Return5d, o.Outcome5dDt = &ret, &target
		}
		resolved++
	}
	if resolved == 0 {
		return nil
	}

	if err := t.outcomes.InsertOutcome(ctx, o); err != nil {
		return fmt.Errorf("failed to insert outcome: %w", err)
	}
	log.Debug().Int64("signal_id", signalID).Str("symbol", symbol).
		Int("horizons", resolved).Msg("outcome recorded")
	return nil
}

// Backfill walks recent signals without outcomes and tries to resolve
// each. Per-signal failures are logged and skipped so one bad row cannot
// stall the sweep.
func (t *Tracker) Backfill(ctx context.Context) error {
	since := persistence.Timestamp(t.now().Add(-backfillLookback))
	refs, err := t.signals.SignalsWithoutOutcomes(ctx, since)
	if err != nil {
		return fmt.Errorf("failed to list unresolved signals: %w", err)
	}

	for _, ref := range refs {
		if err := t.UpdateOutcome(ctx, ref.ID, ref.Symbol, ref.CreatedAt); err != nil {
			log.Warn().Err(err).Int64("signal_id", ref.ID).
				Str("symbol", ref.Symbol).Msg("outcome backfill failed")
		}
	}
	log.Info().Int("candidates", len(refs)).Msg("outcome backfill pass done")
	return nil
}

// WinRate1d returns the fraction of resolved 1-day returns that were
// positive for the symbol. The bool is false when fewer than minSamples
// outcomes exist or the query fails; callers then fall back to a neutral
// prior.
func (t *Tracker) WinRate1d(ctx context.Context, symbol string) (float64, bool) {
	returns, err := t.outcomes.Returns1d(ctx, symbol)
	if err != nil {
		log.Warn().Err(err).Str("symbol", symbol).Msg("win rate query failed")
		return 0, false
	}
	if len(returns) < t.minSamples {
		return 0, false
	}
	wins := 0
	for _, r := range returns {
		if r > 0 {
			wins++
		}
	}
	return float64(wins) / float64(len(returns)), true
}
