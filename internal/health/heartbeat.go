package health

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/frictionwatch/frictionwatch/internal/persistence"
)

// Status values written to the heartbeats table.
const (
	StatusOK         = "ok"
	StatusTickStart  = "tick_start"
	StatusNoData     = "no_data"
	StatusNoFeatures = "no_features"
	StatusError      = "error"
)

// TextSender delivers an operational notice; the daily summary goes out
// through it. Returns whether delivery happened.
type TextSender interface {
	SendText(text string) bool
}

// Heartbeater writes liveness rows and emits the daily summary. "ok"
// beats are rate limited so a fast tick loop does not flood the table;
// every other status is always written.
type Heartbeater struct {
	repo        persistence.HeartbeatRepo
	sender      TextSender
	summaryHour int

	okLimiter *rate.Limiter
	now       func() time.Time

	lastSummaryDay string
}

func NewHeartbeater(repo persistence.HeartbeatRepo, sender TextSender, summaryHourUTC int) *Heartbeater {
	return &Heartbeater{
		repo:        repo,
		sender:      sender,
		summaryHour: summaryHourUTC,
		okLimiter:   rate.NewLimiter(rate.Every(120*time.Second), 1),
		now:         time.Now,
	}
}

// Beat writes one heartbeat row. Failures are logged, never propagated:
// liveness bookkeeping must not take down the loop it observes.
func (h *Heartbeater) Beat(ctx context.Context, status, message string) {
	if status == StatusOK && !h.okLimiter.AllowN(h.now(), 1) {
		return
	}
	err := h.repo.InsertHeartbeat(ctx, persistence.HeartbeatRecord{
		Ts:      persistence.Timestamp(h.now()),
		Status:  status,
		Message: message,
	})
	if err != nil {
		log.Warn().Err(err).Str("status", status).Msg("heartbeat not persisted")
	}
}

// MaybeDailySummary sends the 24h status digest once per UTC day, at or
// after the configured hour.
func (h *Heartbeater) MaybeDailySummary(ctx context.Context) {
	if h.sender == nil {
		return
	}
	now := h.now().UTC()
	today := now.Format("2006-01-02")
	if now.Hour() < h.summaryHour || h.lastSummaryDay == today {
		return
	}

	since := persistence.Timestamp(now.Add(-24 * time.Hour))
	counts, err := h.repo.StatusCountsSince(ctx, since)
	if err != nil {
		log.Warn().Err(err).Msg("daily summary query failed")
		return
	}

	if h.sender.SendText(formatSummary(today, counts)) {
		h.lastSummaryDay = today
	}
}

func formatSummary(day string, counts map[string]int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<b>Daily status %s</b>\n", day)
	total := 0
	for _, status := range []string{StatusOK, StatusTickStart, StatusNoData, StatusNoFeatures, StatusError} {
		if n := counts[status]; n > 0 {
			fmt.Fprintf(&b, "%s: %d\n", status, n)
			total += n
		}
	}
	if total == 0 {
		b.WriteString("no heartbeats in the last 24h\n")
	}
	return b.String()
}
