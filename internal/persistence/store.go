// Package persistence defines the durable store contract the pipeline
// writes through. Timestamps are stored as ISO-8601 UTC text.
package persistence

import (
	"context"
	"time"
)

// Timestamp renders t in the canonical stored form.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// Signal is one persisted friction signal. Append-only; the auto-assigned
// ID is the foreign key outcome records attach to.
type Signal struct {
	ID          int64   `db:"id"`
	Symbol      string  `db:"symbol"`
	Score       float64 `db:"score"`
	Explanation string  `db:"explanation"`
	SignalsJSON string  `db:"signals_json"`
	CreatedAt   string  `db:"created_at"`
	SignalType  string  `db:"signal_type"`
	Confidence  float64 `db:"confidence"`
	Severity    int     `db:"severity"`
}

// SignalRef identifies a signal awaiting outcome backfill.
type SignalRef struct {
	ID        int64  `db:"id"`
	Symbol    string `db:"symbol"`
	CreatedAt string `db:"created_at"`
}

// ConfidenceRecord is the decomposed confidence audit row, one per symbol
// per tick regardless of dispatch.
type ConfidenceRecord struct {
	Symbol           string  `db:"symbol"`
	Dt               string  `db:"dt"`
	Confidence       float64 `db:"confidence"`
	FrictionScore    float64 `db:"friction_score"`
	LiquidityScore   float64 `db:"liquidity_score"`
	VolatilityScore  float64 `db:"volatility_score"`
	DataQualityScore float64 `db:"data_quality_score"`
	WinRateComponent float64 `db:"win_rate_component"`
	CreatedAt        string  `db:"created_at"`
}

// Bar is one stored OHLCV row.
type Bar struct {
	Symbol    string  `db:"symbol"`
	Dt        string  `db:"dt"`
	Open      float64 `db:"open"`
	High      float64 `db:"high"`
	Low       float64 `db:"low"`
	Close     float64 `db:"close"`
	Volume    float64 `db:"volume"`
	CreatedAt string  `db:"created_at"`
}

// Outcome holds realized returns for a signal at +1/+3/+5 days. Nil return
// pointers mean the horizon has not resolved yet.
type Outcome struct {
	SignalID      int64    `db:"signal_id"`
	Symbol        string   `db:"symbol"`
	SignalDt      string   `db:"signal_dt"`
	PriceAtSignal float64  `db:"price_at_signal"`
	Return1d      *float64 `db:"return_1d"`
	Return3d      *float64 `db:"return_3d"`
	Return5d      *float64 `db:"return_5d"`
	Outcome1dDt   *string  `db:"outcome_1d_dt"`
	Outcome3dDt   *string  `db:"outcome_3d_dt"`
	Outcome5dDt   *string  `db:"outcome_5d_dt"`
	CreatedAt     string   `db:"created_at"`
}

// HeartbeatRecord is one liveness row.
type HeartbeatRecord struct {
	Ts      string `db:"ts"`
	Status  string `db:"status"`
	Message string `db:"message"`
}

// SignalRepo persists signals.
type SignalRepo interface {
	InsertSignal(ctx context.Context, s Signal) (int64, error)
	SignalsWithoutOutcomes(ctx context.Context, since string) ([]SignalRef, error)
}

// ConfidenceRepo persists confidence audit rows.
type ConfidenceRepo interface {
	InsertConfidence(ctx context.Context, rec ConfidenceRecord) error
}

// LockRepo owns the alert_lock table. The stored timestamp is returned as
// raw text so the dedup layer can apply its fail-open parse rule.
type LockRepo interface {
	AlertLock(ctx context.Context, symbol, signalType string) (string, bool, error)
	UpsertAlertLock(ctx context.Context, symbol, signalType, ts string) error
}

// PriceRepo persists bars and answers the close lookups attribution needs.
type PriceRepo interface {
	InsertBars(ctx context.Context, bars []Bar) error
	CloseOnOrAfter(ctx context.Context, symbol, date string) (float64, bool, error)
	LatestCloseAtOrBefore(ctx context.Context, symbol, ts string) (float64, bool, error)
}

// OutcomeRepo persists realized outcomes and serves win-rate queries.
// An empty symbol means all symbols.
type OutcomeRepo interface {
	HasOutcome(ctx context.Context, signalID int64) (bool, error)
	InsertOutcome(ctx context.Context, o Outcome) error
	Returns1d(ctx context.Context, symbol string) ([]float64, error)
}

// RestartRepo owns the restarts table; only the watchdog writes it.
type RestartRepo interface {
	InsertRestart(ctx context.Context, ts, reason string, restartCount int) error
	RestartCountSince(ctx context.Context, since string) (int, error)
}

// HeartbeatRepo owns the heartbeats table.
type HeartbeatRepo interface {
	InsertHeartbeat(ctx context.Context, rec HeartbeatRecord) error
	StatusCountsSince(ctx context.Context, since string) (map[string]int, error)
	LastHeartbeat(ctx context.Context) (*HeartbeatRecord, error)
}
