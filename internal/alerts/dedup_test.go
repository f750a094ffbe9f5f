package alerts

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frictionwatch/frictionwatch/internal/persistence"
)

type memLocks struct {
	rows map[string]string
	err  error
}

func newMemLocks() *memLocks { return &memLocks{rows: make(map[string]string)} }

func (m *memLocks) AlertLock(_ context.Context, symbol, signalType string) (string, bool, error) {
	if m.err != nil {
		return "", false, m.err
	}
	ts, ok := m.rows[symbol+"|"+signalType]
	return ts, ok, nil
}

func (m *memLocks) UpsertAlertLock(_ context.Context, symbol, signalType, ts string) error {
	if m.err != nil {
		return m.err
	}
	m.rows[symbol+"|"+signalType] = ts
	return nil
}

func TestCanSendNoLock(t *testing.T) {
	d := NewDeduper(newMemLocks(), 2*time.Hour)
	ok, reason := d.CanSend(context.Background(), "TCS.NS", "panic_selling")
	assert.True(t, ok)
	assert.Empty(t, reason)
}

func TestCanSendCooldownBoundary(t *testing.T) {
	locks := newMemLocks()
	d := NewDeduper(locks, 120*time.Minute)

	base := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	locks.rows["TCS.NS|panic_selling"] = persistence.Timestamp(base)

	// 119 minutes elapsed: still locked, one minute left.
	d.now = func() time.Time { return base.Add(119 * time.Minute) }
	ok, reason := d.CanSend(context.Background(), "TCS.NS", "panic_selling")
	assert.False(t, ok)
	assert.Equal(t, "Cooldown: 1 min left", reason)

	// A fractional remainder rounds up, never down to zero.
	d.now = func() time.Time { return base.Add(119*time.Minute + 30*time.Second) }
	ok, reason = d.CanSend(context.Background(), "TCS.NS", "panic_selling")
	assert.False(t, ok)
	assert.Equal(t, "Cooldown: 1 min left", reason)

	// 121 minutes elapsed: allowed again.
	d.now = func() time.Time { return base.Add(121 * time.Minute) }
	ok, _ = d.CanSend(context.Background(), "TCS.NS", "panic_selling")
	assert.True(t, ok)
}

func TestCanSendKeysAreIndependent(t *testing.T) {
	locks := newMemLocks()
	d := NewDeduper(locks, 2*time.Hour)
	locks.rows["TCS.NS|panic_selling"] = persistence.Timestamp(time.Now())

	ok, _ := d.CanSend(context.Background(), "TCS.NS", "overreaction")
	assert.True(t, ok)
	ok, _ = d.CanSend(context.Background(), "INFY.NS", "panic_selling")
	assert.True(t, ok)
}

func TestCanSendFailsOpen(t *testing.T) {
	// Garbled timestamp.
	locks := newMemLocks()
	locks.rows["TCS.NS|panic_selling"] = "around lunchtime"
	d := NewDeduper(locks, 2*time.Hour)
	ok, _ := d.CanSend(context.Background(), "TCS.NS", "panic_selling")
	assert.True(t, ok)

	// Store error.
	d = NewDeduper(&memLocks{err: errors.New("db down")}, 2*time.Hour)
	ok, _ = d.CanSend(context.Background(), "TCS.NS", "panic_selling")
	assert.True(t, ok)
}

func TestRecordSentUpserts(t *testing.T) {
	locks := newMemLocks()
	d := NewDeduper(locks, 2*time.Hour)
	d.now = func() time.Time { return time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC) }

	require.NoError(t, d.RecordSent(context.Background(), "TCS.NS", "panic_selling"))
	first := locks.rows["TCS.NS|panic_selling"]
	assert.Equal(t, "2026-08-28T10:00:00Z", first)

	// Second stamp replaces, never duplicates.
	d.now = func() time.Time { return time.Date(2026, 8, 28, 14, 0, 0, 0, time.UTC) }
	require.NoError(t, d.RecordSent(context.Background(), "TCS.NS", "panic_selling"))
	assert.Len(t, locks.rows, 1)
	assert.Equal(t, "2026-08-28T14:00:00Z", locks.rows["TCS.NS|panic_selling"])
}
