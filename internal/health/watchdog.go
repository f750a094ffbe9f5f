// Package health keeps the process alive and honest: restart guardrails,
// memory checks and liveness heartbeats.
package health

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/frictionwatch/frictionwatch/internal/persistence"
)

// Watchdog evaluates the restart guardrails. Restart history lives in
// the store so limits survive the process they are guarding.
type Watchdog struct {
	restarts           persistence.RestartRepo
	maxMemoryMB        int
	maxRestartsPerHour int

	now func() time.Time
	rss func() (uint64, error)
}

func NewWatchdog(restarts persistence.RestartRepo, maxMemoryMB, maxRestartsPerHour int) *Watchdog {
	return &Watchdog{
		restarts:           restarts,
		maxMemoryMB:        maxMemoryMB,
		maxRestartsPerHour: maxRestartsPerHour,
		now:                time.Now,
		rss:                processRSS,
	}
}

func processRSS() (uint64, error) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return 0, fmt.Errorf("failed to inspect process: %w", err)
	}
	info, err := p.MemoryInfo()
	if err != nil {
		return 0, fmt.Errorf("failed to read memory info: %w", err)
	}
	return info.RSS, nil
}

// WithinMemoryLimit reports whether resident memory is under the cap.
// An unreadable RSS passes: the check exists to catch leaks, not to kill
// a process the platform will not measure.
func (w *Watchdog) WithinMemoryLimit() bool {
	rss, err := w.rss()
	if err != nil {
		log.Debug().Err(err).Msg("rss read failed")
		return true
	}
	usedMB := int(rss / (1 << 20))
	if usedMB > w.maxMemoryMB {
		log.Warn().Int("used_mb", usedMB).Int("limit_mb", w.maxMemoryMB).Msg("memory limit exceeded")
		return false
	}
	return true
}

// WithinRestartLimit reports whether the trailing hour has capacity for
// one more restart. A failed query counts against restarting: when the
// store is unreachable a restart cannot be recorded either.
func (w *Watchdog) WithinRestartLimit(ctx context.Context) bool {
	since := persistence.Timestamp(w.now().Add(-time.Hour))
	count, err := w.restarts.RestartCountSince(ctx, since)
	if err != nil {
		log.Error().Err(err).Msg("restart count query failed")
		return false
	}
	return count < w.maxRestartsPerHour
}

// ShouldAllowRestart combines both guardrails.
func (w *Watchdog) ShouldAllowRestart(ctx context.Context) bool {
	return w.WithinRestartLimit(ctx) && w.WithinMemoryLimit()
}

// RecordRestart logs one restart with its running count.
func (w *Watchdog) RecordRestart(ctx context.Context, reason string, count int) error {
	ts := persistence.Timestamp(w.now())
	if err := w.restarts.InsertRestart(ctx, ts, reason, count); err != nil {
		return fmt.Errorf("failed to record restart: %w", err)
	}
	return nil
}
