package health

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// Supervisor restarts a failing run function until it returns cleanly or
// the guardrails say stop. maxRestarts caps total restarts over the
// supervisor's lifetime; zero or negative means no lifetime cap, leaving
// the watchdog's sliding-window rate limit as the only restart gate.
type Supervisor struct {
	watchdog    *Watchdog
	maxRestarts int
	delay       time.Duration

	sleep func(ctx context.Context, d time.Duration) error
}

func NewSupervisor(watchdog *Watchdog, maxRestarts int, delay time.Duration) *Supervisor {
	return &Supervisor{
		watchdog:    watchdog,
		maxRestarts: maxRestarts,
		delay:       delay,
		sleep: func(ctx context.Context, d time.Duration) error {
			timer := time.NewTimer(d)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
				return nil
			}
		},
	}
}

// Run invokes run, restarting it after failures. A clean return ends
// supervision with nil. Each failure is recorded before the restart
// decision, so an operator can reconstruct the crash history from the
// store alone.
func (s *Supervisor) Run(ctx context.Context, run func(ctx context.Context) error) error {
	restarts := 0
	for {
		err := run(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		restarts++
		log.Error().Err(err).Int("restart", restarts).Msg("supervised run failed")
		if recErr := s.watchdog.RecordRestart(ctx, err.Error(), restarts); recErr != nil {
			log.Warn().Err(recErr).Msg("restart not recorded")
		}

		if s.maxRestarts > 0 && restarts >= s.maxRestarts {
			return fmt.Errorf("restart budget exhausted after %d failures: %w", restarts, err)
		}
		if !s.watchdog.ShouldAllowRestart(ctx) {
			return fmt.Errorf("restart guardrail tripped after %d failures: %w", restarts, err)
		}

		if sleepErr := s.sleep(ctx, s.delay); sleepErr != nil {
			return sleepErr
		}
	}
}
