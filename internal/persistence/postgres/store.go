// Package postgres implements the persistence contract on PostgreSQL via
// sqlx. One Store serves every repo interface; access is per-statement,
// no long-held locks.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/frictionwatch/frictionwatch/internal/persistence"
)

const defaultTimeout = 10 * time.Second

// Store is the PostgreSQL-backed durable store.
type Store struct {
	db      *sqlx.DB
	timeout time.Duration
}

// Open connects, pings and ensures the schema exists.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(8)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{db: db, timeout: defaultTimeout}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the connection pool.
func (s *Store) Close() error { return s.db.Close() }

var schema = []string{
	`CREATE TABLE IF NOT EXISTS prices (
		id BIGSERIAL PRIMARY KEY,
		symbol TEXT NOT NULL,
		dt TEXT NOT NULL,
		open DOUBLE PRECISION,
		high DOUBLE PRECISION,
		low DOUBLE PRECISION,
		close DOUBLE PRECISION,
		volume DOUBLE PRECISION,
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_prices_symbol_dt ON prices(symbol, dt)`,
	`CREATE TABLE IF NOT EXISTS signals (
		id BIGSERIAL PRIMARY KEY,
		symbol TEXT NOT NULL,
		score DOUBLE PRECISION NOT NULL,
		explanation TEXT,
		signals_json TEXT,
		created_at TEXT NOT NULL,
		signal_type TEXT,
		confidence DOUBLE PRECISION,
		severity INTEGER
	)`,
	`CREATE INDEX IF NOT EXISTS idx_signals_symbol_created ON signals(symbol, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_signals_created ON signals(created_at)`,
	`CREATE TABLE IF NOT EXISTS confidence_history (
		id BIGSERIAL PRIMARY KEY,
		symbol TEXT NOT NULL,
		dt TEXT NOT NULL,
		confidence DOUBLE PRECISION NOT NULL,
		friction_score DOUBLE PRECISION,
		liquidity_score DOUBLE PRECISION,
		volatility_score DOUBLE PRECISION,
		data_quality_score DOUBLE PRECISION,
		win_rate_component DOUBLE PRECISION,
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_confidence_symbol_dt ON confidence_history(symbol, dt)`,
	`CREATE TABLE IF NOT EXISTS alert_lock (
		symbol TEXT NOT NULL,
		signal_type TEXT NOT NULL,
		last_alert_ts TEXT NOT NULL,
		PRIMARY KEY (symbol, signal_type)
	)`,
	`CREATE TABLE IF NOT EXISTS outcomes (
		id BIGSERIAL PRIMARY KEY,
		signal_id BIGINT NOT NULL REFERENCES signals(id),
		symbol TEXT NOT NULL,
		signal_dt TEXT NOT NULL,
		price_at_signal DOUBLE PRECISION NOT NULL,
		return_1d DOUBLE PRECISION,
		return_3d DOUBLE PRECISION,
		return_5d DOUBLE PRECISION,
		outcome_1d_dt TEXT,
		outcome_3d_dt TEXT,
		outcome_5d_dt TEXT,
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_outcomes_signal_id ON outcomes(signal_id)`,
	`CREATE INDEX IF NOT EXISTS idx_outcomes_symbol ON outcomes(symbol)`,
	`CREATE TABLE IF NOT EXISTS restarts (
		id BIGSERIAL PRIMARY KEY,
		ts TEXT NOT NULL,
		reason TEXT,
		restart_count INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_restarts_ts ON restarts(ts)`,
	`CREATE TABLE IF NOT EXISTS heartbeats (
		id BIGSERIAL PRIMARY KEY,
		ts TEXT NOT NULL,
		status TEXT NOT NULL,
		message TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_heartbeats_ts ON heartbeats(ts)`,
}

func (s *Store) initSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to init schema: %w", err)
		}
	}
	return nil
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// InsertSignal appends one signal and returns its id.
func (s *Store) InsertSignal(ctx context.Context, sig persistence.Signal) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var id int64
	err := s.db.QueryRowxContext(ctx, `
		INSERT INTO signals (symbol, score, explanation, signals_json, created_at, signal_type, confidence, severity)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		sig.Symbol, sig.Score, sig.Explanation, sig.SignalsJSON,
		sig.CreatedAt, sig.SignalType, sig.Confidence, sig.Severity).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert signal: %w", err)
	}
	return id, nil
}

// SignalsWithoutOutcomes lists signals created since the given timestamp
// that have no outcome row yet.
func (s *Store) SignalsWithoutOutcomes(ctx context.Context, since string) ([]persistence.SignalRef, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var refs []persistence.SignalRef
	err := s.db.SelectContext(ctx, &refs, `
		SELECT s.id, s.symbol, s.created_at
		FROM signals s
		LEFT JOIN outcomes o ON o.signal_id = s.id
		WHERE s.created_at >= $1 AND o.id IS NULL`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list signals without outcomes: %w", err)
	}
	return refs, nil
}

// InsertConfidence appends one confidence audit row.
func (s *Store) InsertConfidence(ctx context.Context, rec persistence.ConfidenceRecord) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO confidence_history
			(symbol, dt, confidence, friction_score, liquidity_score, volatility_score, data_quality_score, win_rate_component, created_at)
		VALUES
			(:symbol, :dt, :confidence, :friction_score, :liquidity_score, :volatility_score, :data_quality_score, :win_rate_component, :created_at)`,
		rec)
	if err != nil {
		return fmt.Errorf("failed to insert confidence record: %w", err)
	}
	return nil
}

// AlertLock reads the stored last-alert timestamp for the key.
func (s *Store) AlertLock(ctx context.Context, symbol, signalType string) (string, bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var ts string
	err := s.db.GetContext(ctx, &ts,
		`SELECT last_alert_ts FROM alert_lock WHERE symbol = $1 AND signal_type = $2`,
		symbol, signalType)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read alert lock: %w", err)
	}
	return ts, true, nil
}

// UpsertAlertLock sets the last-alert timestamp for the key, keeping at
// most one row per (symbol, signal_type).
func (s *Store) UpsertAlertLock(ctx context.Context, symbol, signalType, ts string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO alert_lock (symbol, signal_type, last_alert_ts)
		VALUES ($1, $2, $3)
		ON CONFLICT (symbol, signal_type) DO UPDATE SET last_alert_ts = EXCLUDED.last_alert_ts`,
		symbol, signalType, ts)
	if err != nil {
		return fmt.Errorf("failed to upsert alert lock: %w", err)
	}
	return nil
}

// InsertBars appends OHLCV rows in one transaction.
func (s *Store) InsertBars(ctx context.Context, bars []persistence.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO prices (symbol, dt, open, high, low, close, volume, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`)
	if err != nil {
		return fmt.Errorf("failed to prepare bar insert: %w", err)
	}
	defer stmt.Close()

	for _, b := range bars {
		if _, err := stmt.ExecContext(ctx, b.Symbol, b.Dt, b.Open, b.High, b.Low, b.Close, b.Volume, b.CreatedAt); err != nil {
			return fmt.Errorf("failed to insert bar %s %s: %w", b.Symbol, b.Dt, err)
		}
	}
	return tx.Commit()
}

// CloseOnOrAfter returns the first close at or after the given date.
func (s *Store) CloseOnOrAfter(ctx context.Context, symbol, date string) (float64, bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var c float64
	err := s.db.GetContext(ctx, &c, `
		SELECT close FROM prices
		WHERE symbol = $1 AND dt >= $2 AND close IS NOT NULL
		ORDER BY dt ASC LIMIT 1`, symbol, date)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to query close: %w", err)
	}
	return c, true, nil
}

// LatestCloseAtOrBefore returns the most recent close at or before ts.
func (s *Store) LatestCloseAtOrBefore(ctx context.Context, symbol, ts string) (float64, bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var c float64
	err := s.db.GetContext(ctx, &c, `
		SELECT close FROM prices
		WHERE symbol = $1 AND dt <= $2 AND close IS NOT NULL
		ORDER BY dt DESC LIMIT 1`, symbol, ts)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to query latest close: %w", err)
	}
	return c, true, nil
}

// HasOutcome reports whether an outcome row exists for the signal.
func (s *Store) HasOutcome(ctx context.Context, signalID int64) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM outcomes WHERE signal_id = $1`, signalID); err != nil {
		return false, fmt.Errorf("failed to check outcome: %w", err)
	}
	return n > 0, nil
}

// InsertOutcome appends one outcome row.
func (s *Store) InsertOutcome(ctx context.Context, o persistence.Outcome) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO outcomes
			(signal_id, symbol, signal_dt, price_at_signal, return_1d, return_3d, return_5d,
			 outcome_1d_dt, outcome_3d_dt, outcome_5d_dt, created_at)
		VALUES
			(:signal_id, :symbol, :signal_dt, :price_at_signal, :return_1d, :return_3d, :return_5d,
			 :outcome_1d_dt, :outcome_3d_dt, :outcome_5d_dt, :created_at)`, o)
	if err != nil {
		return fmt.Errorf("failed to insert outcome: %w", err)
	}
	return nil
}

// Returns1d lists resolved 1-day returns, optionally filtered by symbol.
func (s *Store) Returns1d(ctx context.Context, symbol string) ([]float64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var rets []float64
	var err error
	if symbol != "" {
		err = s.db.SelectContext(ctx, &rets,
			`SELECT return_1d FROM outcomes WHERE symbol = $1 AND return_1d IS NOT NULL`, symbol)
	} else {
		err = s.db.SelectContext(ctx, &rets,
			`SELECT return_1d FROM outcomes WHERE return_1d IS NOT NULL`)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query returns: %w", err)
	}
	return rets, nil
}

// InsertRestart appends one restart row.
func (s *Store) InsertRestart(ctx context.Context, ts, reason string, restartCount int) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO restarts (ts, reason, restart_count) VALUES ($1, $2, $3)`,
		ts, reason, restartCount)
	if err != nil {
		return fmt.Errorf("failed to insert restart: %w", err)
	}
	return nil
}

// RestartCountSince counts restarts at or after the given timestamp.
func (s *Store) RestartCountSince(ctx context.Context, since string) (int, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM restarts WHERE ts >= $1`, since); err != nil {
		return 0, fmt.Errorf("failed to count restarts: %w", err)
	}
	return n, nil
}

// InsertHeartbeat appends one heartbeat row.
func (s *Store) InsertHeartbeat(ctx context.Context, rec persistence.HeartbeatRecord) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO heartbeats (ts, status, message) VALUES ($1, $2, $3)`,
		rec.Ts, rec.Status, rec.Message)
	if err != nil {
		return fmt.Errorf("failed to insert heartbeat: %w", err)
	}
	return nil
}

// StatusCountsSince aggregates heartbeat statuses since the given
// timestamp.
func (s *Store) StatusCountsSince(ctx context.Context, since string) (map[string]int, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryxContext(ctx,
		`SELECT status, COUNT(*) FROM heartbeats WHERE ts >= $1 GROUP BY status`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate heartbeats: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan heartbeat count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// LastHeartbeat returns the most recent heartbeat, or nil when none exist.
func (s *Store) LastHeartbeat(ctx context.Context) (*persistence.HeartbeatRecord, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var rec persistence.HeartbeatRecord
	err := s.db.GetContext(ctx, &rec,
		`SELECT ts, status, COALESCE(message, '') AS message FROM heartbeats ORDER BY ts DESC LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read last heartbeat: %w", err)
	}
	return &rec, nil
}
