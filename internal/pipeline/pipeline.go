// Package pipeline wires one scan tick end to end: fetch bars, build
// features, filter risk, score friction and confidence, persist, and
// dispatch alerts.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/frictionwatch/frictionwatch/internal/alerts"
	"github.com/frictionwatch/frictionwatch/internal/confidence"
	"github.com/frictionwatch/frictionwatch/internal/config"
	"github.com/frictionwatch/frictionwatch/internal/domain"
	"github.com/frictionwatch/frictionwatch/internal/features"
	"github.com/frictionwatch/frictionwatch/internal/friction"
	"github.com/frictionwatch/frictionwatch/internal/health"
	"github.com/frictionwatch/frictionwatch/internal/marketdata"
	"github.com/frictionwatch/frictionwatch/internal/metrics"
	"github.com/frictionwatch/frictionwatch/internal/persistence"
	"github.com/frictionwatch/frictionwatch/internal/risk"
)

const historyDays = 30

// BarSource fetches recent daily bars per symbol.
type BarSource interface {
	History(ctx context.Context, symbols []string, days int) (map[string][]marketdata.Bar, error)
}

// ConfidenceSource scores a symbol's composite confidence.
type ConfidenceSource interface {
	Compose(ctx context.Context, symbol string, frictionScore float64, feats domain.FeatureSnapshot) confidence.Breakdown
}

// OutcomeUpdater resolves realized returns for persisted signals.
type OutcomeUpdater interface {
	UpdateOutcome(ctx context.Context, signalID int64, symbol, signalTs string) error
	Backfill(ctx context.Context) error
}

// AlertSink dispatches one alert.
type AlertSink interface {
	Dispatch(ctx context.Context, a alerts.Alert) (bool, string)
}

// Pipeline owns one scan cycle.
type Pipeline struct {
	cfg        *config.Config
	bars       BarSource
	filter     *risk.Filter
	engine     *friction.Engine
	confidence ConfidenceSource
	outcomes   OutcomeUpdater
	signals    persistence.SignalRepo
	prices     persistence.PriceRepo
	dispatcher AlertSink
	heartbeat  *health.Heartbeater

	now func() time.Time
}

func New(
	cfg *config.Config,
	bars BarSource,
	engine *friction.Engine,
	confidence ConfidenceSource,
	outcomes OutcomeUpdater,
	signals persistence.SignalRepo,
	prices persistence.PriceRepo,
	dispatcher AlertSink,
	heartbeat *health.Heartbeater,
) *Pipeline {
	return &Pipeline{
		cfg:        cfg,
		bars:       bars,
		filter:     risk.NewFilter(cfg.NormalizedBlacklist(), cfg.MaxVolatilityPct),
		engine:     engine,
		confidence: confidence,
		outcomes:   outcomes,
		signals:    signals,
		prices:     prices,
		dispatcher: dispatcher,
		heartbeat:  heartbeat,
		now:        time.Now,
	}
}

// Tick runs one full scan. Degraded upstreams end the tick early with a
// heartbeat rather than an error: the scheduler should not treat a quiet
// market data outage as a crash.
func (p *Pipeline) Tick(ctx context.Context) error {
	symbols := p.cfg.NormalizedWatchlist()
	p.heartbeat.Beat(ctx, health.StatusTickStart, fmt.Sprintf("%d symbols", len(symbols)))

	history, err := p.bars.History(ctx, symbols, historyDays)
	if err != nil || len(history) == 0 {
		log.Warn().Err(err).Msg("tick aborted: no market data")
		p.heartbeat.Beat(ctx, health.StatusNoData, "bar fetch failed")
		metrics.TickErrorsTotal.Inc()
		return nil
	}

	p.storeBars(ctx, history)

	snaps := features.Build(toFeatureBars(history))
	if len(snaps) == 0 {
		p.heartbeat.Beat(ctx, health.StatusNoFeatures, "no snapshots built")
		metrics.TickErrorsTotal.Inc()
		return nil
	}

	scannable := p.filter.Apply(symbols, snaps)
	metrics.SymbolsScanned.Set(float64(len(scannable)))

	for _, symbol := range scannable {
		if err := ctx.Err(); err != nil {
			return err
		}
		p.scanOne(ctx, symbol, snaps[symbol])
	}

	p.heartbeat.Beat(ctx, health.StatusOK, fmt.Sprintf("scanned %d", len(scannable)))
	metrics.TicksTotal.Inc()
	return nil
}

func (p *Pipeline) scanOne(ctx context.Context, symbol string, feats domain.FeatureSnapshot) {
	result := p.engine.Detect(ctx, symbol, feats)
	breakdown := p.confidence.Compose(ctx, symbol, result.Score, feats)
	severity := domain.SeverityFromScore(result.Score)

	if result.Score <= 0 {
		return
	}
	metrics.SignalsTotal.WithLabelValues(string(result.Type)).Inc()

	signalsJSON, _ := json.Marshal(result.Signals)
	ts := persistence.Timestamp(p.now())
	signalID, err := p.signals.InsertSignal(ctx, persistence.Signal{
		Symbol:      symbol,
		Score:       result.Score,
		Explanation: result.Explanation,
		SignalsJSON: string(signalsJSON),
		CreatedAt:   ts,
		SignalType:  string(result.Type),
		Confidence:  breakdown.Confidence,
		Severity:    severity,
	})
	if err != nil {
		log.Warn().Err(err).Str("symbol", symbol).Msg("signal not persisted")
	} else if p.outcomes != nil {
		if err := p.outcomes.UpdateOutcome(ctx, signalID, symbol, ts); err != nil {
			log.Debug().Err(err).Str("symbol", symbol).Msg("outcome update failed")
		}
	}

	if result.Score < p.cfg.FrictionAlertThreshold || breakdown.Confidence < p.cfg.ConfidenceAlertThreshold {
		return
	}

	sent, reason := p.dispatcher.Dispatch(ctx, alerts.Alert{
		Symbol:      symbol,
		Type:        result.Type,
		Score:       result.Score,
		Confidence:  breakdown.Confidence,
		Severity:    severity,
		Explanation: result.Explanation,
		Signals:     result.Signals,
		At:          p.now(),
	})
	if sent {
		metrics.AlertsSentTotal.WithLabelValues("any").Inc()
	} else if reason != "" {
		metrics.AlertsSuppressedTotal.WithLabelValues(suppressionLabel(reason)).Inc()
	}
}

func suppressionLabel(reason string) string {
	if len(reason) >= 8 && reason[:8] == "Cooldown" {
		return "cooldown"
	}
	return "delivery"
}

func (p *Pipeline) storeBars(ctx context.Context, history map[string][]marketdata.Bar) {
	createdAt := persistence.Timestamp(p.now())
	var rows []persistence.Bar
	for symbol, bars := range history {
		for _, b := range bars {
			rows = append(rows, persistence.Bar{
				Symbol:    symbol,
				Dt:        persistence.Timestamp(b.Dt),
				Open:      b.Open,
				High:      b.High,
				Low:       b.Low,
				Close:     b.Close,
				Volume:    b.Volume,
				CreatedAt: createdAt,
			})
		}
	}
	if err := p.prices.InsertBars(ctx, rows); err != nil {
		log.Warn().Err(err).Int("rows", len(rows)).Msg("bars not persisted")
	}
}

func toFeatureBars(history map[string][]marketdata.Bar) map[string][]features.Bar {
	out := make(map[string][]features.Bar, len(history))
	for symbol, bars := range history {
		fb := make([]features.Bar, len(bars))
		for i, b := range bars {
			fb[i] = features.Bar{Close: b.Close, Volume: b.Volume}
		}
		out[symbol] = fb
	}
	return out
}

// RunDaily performs the once-a-day maintenance: outcome backfill and the
// operator summary. Called from the loop between ticks.
func (p *Pipeline) RunDaily(ctx context.Context) {
	if p.outcomes != nil {
		if err := p.outcomes.Backfill(ctx); err != nil {
			log.Warn().Err(err).Msg("daily backfill failed")
		}
	}
	p.heartbeat.MaybeDailySummary(ctx)
}
