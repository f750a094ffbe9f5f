// Package scheduler drives the tick loop on an adaptive cadence: a short
// interval while the market trades, a long one outside trading hours.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// MarketHours describes one venue's regular session.
type MarketHours struct {
	Location  *time.Location
	OpenHour  int
	OpenMin   int
	CloseHour int
	CloseMin  int
}

// IsOpen reports whether t falls inside the regular session: weekdays
// only, open inclusive, close exclusive.
func (m MarketHours) IsOpen(t time.Time) bool {
	local := t.In(m.Location)
	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	minutes := local.Hour()*60 + local.Minute()
	open := m.OpenHour*60 + m.OpenMin
	closeAt := m.CloseHour*60 + m.CloseMin
	return minutes >= open && minutes < closeAt
}

// Runner repeats a tick function forever, choosing the interval by
// market state. A panicking or failing tick is reported and the loop
// continues.
type Runner struct {
	hours         MarketHours
	marketIvl     time.Duration
	offHoursIvl   time.Duration
	maxIterations int // 0 means unbounded

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewRunner(hours MarketHours, marketIvl, offHoursIvl time.Duration) *Runner {
	return &Runner{
		hours:       hours,
		marketIvl:   marketIvl,
		offHoursIvl: offHoursIvl,
		now:         time.Now,
		sleep:       sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Interval returns the polling interval appropriate for time t.
func (r *Runner) Interval(t time.Time) time.Duration {
	if r.hours.IsOpen(t) {
		return r.marketIvl
	}
	return r.offHoursIvl
}

// Run loops until the context is canceled or the iteration cap is hit.
// Only successful ticks count toward the cap, so a bounded run always
// represents the requested amount of useful work. onError observes every
// failure exactly once, including recovered panics.
func (r *Runner) Run(ctx context.Context, tick func(ctx context.Context) error, onError func(error)) error {
	completed := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := r.runOne(ctx, tick); err != nil {
			log.Error().Err(err).Msg("tick failed")
			if onError != nil {
				onError(err)
			}
		} else {
			completed++
			if r.maxIterations > 0 && completed >= r.maxIterations {
				return nil
			}
		}

		if err := r.sleep(ctx, r.Interval(r.now())); err != nil {
			return err
		}
	}
}

func (r *Runner) runOne(ctx context.Context, tick func(ctx context.Context) error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("tick panicked: %v", rec)
		}
	}()
	return tick(ctx)
}
