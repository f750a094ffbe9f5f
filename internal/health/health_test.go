package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frictionwatch/frictionwatch/internal/persistence"
)

type memRestarts struct {
	ts  []string
	err error
}

func (m *memRestarts) InsertRestart(_ context.Context, ts, _ string, _ int) error {
	if m.err != nil {
		return m.err
	}
	m.ts = append(m.ts, ts)
	return nil
}

func (m *memRestarts) RestartCountSince(_ context.Context, since string) (int, error) {
	if m.err != nil {
		return 0, m.err
	}
	n := 0
	for _, ts := range m.ts {
		if ts >= since {
			n++
		}
	}
	return n, nil
}

type memHeartbeats struct {
	rows []persistence.HeartbeatRecord
	err  error
}

func (m *memHeartbeats) InsertHeartbeat(_ context.Context, rec persistence.HeartbeatRecord) error {
	if m.err != nil {
		return m.err
	}
	m.rows = append(m.rows, rec)
	return nil
}

func (m *memHeartbeats) StatusCountsSince(_ context.Context, since string) (map[string]int, error) {
	if m.err != nil {
		return nil, m.err
	}
	counts := make(map[string]int)
	for _, rec := range m.rows {
		if rec.Ts >= since {
			counts[rec.Status]++
		}
	}
	return counts, nil
}

func (m *memHeartbeats) LastHeartbeat(_ context.Context) (*persistence.HeartbeatRecord, error) {
	if len(m.rows) == 0 {
		return nil, nil
	}
	rec := m.rows[len(m.rows)-1]
	return &rec, nil
}

type memSender struct {
	texts []string
	ok    bool
}

func (m *memSender) SendText(text string) bool {
	m.texts = append(m.texts, text)
	return m.ok
}

func TestWithinMemoryLimit(t *testing.T) {
	w := NewWatchdog(&memRestarts{}, 2048, 5)

	w.rss = func() (uint64, error) { return 1 << 30, nil } // 1 GiB
	assert.True(t, w.WithinMemoryLimit())

	w.rss = func() (uint64, error) { return 3 << 30, nil }
	assert.False(t, w.WithinMemoryLimit())

	// Unreadable RSS passes.
	w.rss = func() (uint64, error) { return 0, errors.New("no procfs") }
	assert.True(t, w.WithinMemoryLimit())
}

func TestWithinRestartLimit(t *testing.T) {
	restarts := &memRestarts{}
	w := NewWatchdog(restarts, 2048, 2)
	base := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return base }

	ctx := context.Background()
	assert.True(t, w.WithinRestartLimit(ctx))

	require.NoError(t, w.RecordRestart(ctx, "crash", 1))
	assert.True(t, w.WithinRestartLimit(ctx))

	require.NoError(t, w.RecordRestart(ctx, "crash", 2))
	assert.False(t, w.WithinRestartLimit(ctx))

	// An hour later the window has slid past both restarts.
	w.now = func() time.Time { return base.Add(61 * time.Minute) }
	assert.True(t, w.WithinRestartLimit(ctx))

	// Unreadable history blocks restarting.
	w = NewWatchdog(&memRestarts{err: errors.New("db down")}, 2048, 5)
	assert.False(t, w.WithinRestartLimit(ctx))
}

func supervisorForTest(restarts *memRestarts, maxRestarts int) *Supervisor {
	w := NewWatchdog(restarts, 1<<20, 100)
	s := NewSupervisor(w, maxRestarts, time.Second)
	s.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return s
}

func TestSupervisorCleanReturn(t *testing.T) {
	restarts := &memRestarts{}
	s := supervisorForTest(restarts, 5)

	err := s.Run(context.Background(), func(context.Context) error { return nil })
	require.NoError(t, err)
	assert.Empty(t, restarts.ts)
}

func TestSupervisorRestartsUntilSuccess(t *testing.T) {
	restarts := &memRestarts{}
	s := supervisorForTest(restarts, 5)

	calls := 0
	err := s.Run(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("crash")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Len(t, restarts.ts, 2)
}

func TestSupervisorWithoutLifetimeCap(t *testing.T) {
	restarts := &memRestarts{}
	w := NewWatchdog(restarts, 1<<20, 5)
	current := time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return current }

	s := NewSupervisor(w, 0, time.Second)
	s.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }

	// Crashes spaced two hours apart never pile up inside the hourly
	// window, so with no lifetime cap the loop survives more failures
	// than the hourly limit would allow in a burst.
	calls := 0
	err := s.Run(context.Background(), func(context.Context) error {
		calls++
		current = current.Add(2 * time.Hour)
		if calls <= 8 {
			return errors.New("crash")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 9, calls)
	assert.Len(t, restarts.ts, 8)
}

func TestSupervisorExhaustsBudget(t *testing.T) {
	restarts := &memRestarts{}
	s := supervisorForTest(restarts, 3)

	err := s.Run(context.Background(), func(context.Context) error {
		return errors.New("always down")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "restart budget exhausted")
	assert.Len(t, restarts.ts, 3)
}

func TestHeartbeatRateLimitsOK(t *testing.T) {
	repo := &memHeartbeats{}
	h := NewHeartbeater(repo, nil, 4)
	current := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	h.now = func() time.Time { return current }

	ctx := context.Background()
	h.Beat(ctx, StatusOK, "")
	h.Beat(ctx, StatusOK, "")
	assert.Len(t, repo.rows, 1)

	// Non-ok statuses always land.
	h.Beat(ctx, StatusNoData, "fetch failed")
	assert.Len(t, repo.rows, 2)

	current = current.Add(3 * time.Minute)
	h.Beat(ctx, StatusOK, "")
	assert.Len(t, repo.rows, 3)
}

func TestDailySummaryOncePerDay(t *testing.T) {
	repo := &memHeartbeats{}
	sender := &memSender{ok: true}
	h := NewHeartbeater(repo, sender, 4)

	current := time.Date(2026, 8, 28, 3, 0, 0, 0, time.UTC)
	h.now = func() time.Time { return current }

	ctx := context.Background()
	h.Beat(ctx, StatusOK, "")
	h.Beat(ctx, StatusError, "boom")

	// Before the configured hour: nothing.
	h.MaybeDailySummary(ctx)
	assert.Empty(t, sender.texts)

	current = time.Date(2026, 8, 28, 5, 0, 0, 0, time.UTC)
	h.MaybeDailySummary(ctx)
	require.Len(t, sender.texts, 1)
	assert.Contains(t, sender.texts[0], "ok: 1")
	assert.Contains(t, sender.texts[0], "error: 1")

	// Same day: no repeat.
	h.MaybeDailySummary(ctx)
	assert.Len(t, sender.texts, 1)

	// Next day fires again.
	current = time.Date(2026, 8, 29, 5, 0, 0, 0, time.UTC)
	h.MaybeDailySummary(ctx)
	assert.Len(t, sender.texts, 2)
}

func TestDailySummaryRetriesAfterFailedSend(t *testing.T) {
	sender := &memSender{ok: false}
	h := NewHeartbeater(&memHeartbeats{}, sender, 4)
	h.now = func() time.Time { return time.Date(2026, 8, 28, 6, 0, 0, 0, time.UTC) }

	ctx := context.Background()
	h.MaybeDailySummary(ctx)
	h.MaybeDailySummary(ctx)
	// Failed sends do not mark the day done.
	assert.Len(t, sender.texts, 2)
}
