package alerts

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/frictionwatch/frictionwatch/internal/persistence"
)

// Deduper enforces the per-(symbol, signal type) cooldown backed by the
// alert_lock table, so a restart cannot re-fire a fresh alert.
type Deduper struct {
	locks    persistence.LockRepo
	cooldown time.Duration
	now      func() time.Time
}

func NewDeduper(locks persistence.LockRepo, cooldown time.Duration) *Deduper {
	return &Deduper{locks: locks, cooldown: cooldown, now: time.Now}
}

// CanSend reports whether the cooldown allows an alert now. A missing
// lock row allows; a lock row that cannot be parsed also allows, on the
// grounds that a garbled timestamp should not silence alerts. When
// suppressed, reason states the minutes remaining.
func (d *Deduper) CanSend(ctx context.Context, symbol, signalType string) (bool, string) {
	stored, found, err := d.locks.AlertLock(ctx, symbol, signalType)
	if err != nil {
		log.Warn().Err(err).Str("symbol", symbol).Msg("alert lock read failed")
		return true, ""
	}
	if !found {
		return true, ""
	}

	last, err := time.Parse(time.RFC3339, stored)
	if err != nil {
		log.Warn().Str("symbol", symbol).Str("stored", stored).
			Msg("unparseable alert lock timestamp, allowing send")
		return true, ""
	}

	elapsed := d.now().Sub(last)
	if elapsed >= d.cooldown {
		return true, ""
	}
	// Round the remainder up so a suppressed alert never reports zero
	// minutes left.
	left := int(math.Ceil((d.cooldown - elapsed).Minutes()))
	return false, fmt.Sprintf("Cooldown: %d min left", left)
}

// RecordSent stamps the lock with the current time.
func (d *Deduper) RecordSent(ctx context.Context, symbol, signalType string) error {
	ts := persistence.Timestamp(d.now())
	if err := d.locks.UpsertAlertLock(ctx, symbol, signalType, ts); err != nil {
		return fmt.Errorf("failed to record alert lock: %w", err)
	}
	return nil
}
