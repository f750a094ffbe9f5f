package alerts

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
)

const (
	telegramMaxMessage  = 4096
	maxExplanationChars = 500
	maxAnnotationChars  = 200
	maxTitleChars       = 100
)

var severityMarks = map[int]string{4: "🔴", 3: "🟠", 2: "🟡", 1: "🔵"}

// Telegram delivers alerts to one chat. A nil *Telegram is a disabled
// channel whose Send is a no-op.
type Telegram struct {
	bot         *tgbotapi.BotAPI
	chatID      int64
	perSymbol   *SlidingWindow
	minInterval *MinInterval
}

// NewTelegram connects the bot. A missing token or chat ID disables the
// channel by returning (nil, nil).
func NewTelegram(token string, chatID int64, perSymbol *SlidingWindow, minInterval *MinInterval) (*Telegram, error) {
	if token == "" || chatID == 0 {
		return nil, nil
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to connect telegram bot: %w", err)
	}
	log.Info().Str("bot", bot.Self.UserName).Msg("telegram channel ready")
	return &Telegram{bot: bot, chatID: chatID, perSymbol: perSymbol, minInterval: minInterval}, nil
}

func (t *Telegram) Name() string { return "telegram" }

// Send formats and delivers the alert, honoring the per-symbol window
// first and the global min-interval second so a suppressed symbol does
// not burn the global slot.
func (t *Telegram) Send(_ context.Context, a Alert) bool {
	if t == nil {
		return false
	}
	if t.perSymbol != nil && !t.perSymbol.Allow(a.Symbol) {
		log.Info().Str("symbol", a.Symbol).Msg("telegram per-symbol cap hit")
		return false
	}
	if t.minInterval != nil && !t.minInterval.Allow() {
		log.Info().Str("symbol", a.Symbol).Msg("telegram min-interval hit")
		return false
	}
	return t.deliver(formatTelegram(a))
}

// SendText delivers a preformatted HTML message, bypassing the
// per-symbol window. Used for operational notices like the daily
// summary.
func (t *Telegram) SendText(text string) bool {
	if t == nil {
		return false
	}
	return t.deliver(clip(text, telegramMaxMessage))
}

func (t *Telegram) deliver(text string) bool {
	msg := tgbotapi.NewMessage(t.chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	if _, err := t.bot.Send(msg); err != nil {
		log.Error().Err(err).Msg("telegram send failed")
		return false
	}
	return true
}

func formatTelegram(a Alert) string {
	var b strings.Builder

	mark, ok := severityMarks[a.Severity]
	if !ok {
		mark = "⚪"
	}
	fmt.Fprintf(&b, "%s <b>%s</b> — %s\n",
		mark, html.EscapeString(clip(a.Symbol, maxTitleChars)),
		html.EscapeString(strings.ReplaceAll(string(a.Type), "_", " ")))
	fmt.Fprintf(&b, "Score %.2f · Confidence %.2f · Severity %d/4\n\n",
		a.Score, a.Confidence, a.Severity)
	b.WriteString(html.EscapeString(clip(a.Explanation, maxExplanationChars)))

	if a.Annotation != "" {
		b.WriteString("\n\n<i>")
		b.WriteString(html.EscapeString(clip(a.Annotation, maxAnnotationChars)))
		b.WriteString("</i>")
	}
	fmt.Fprintf(&b, "\n\n%s", a.At.UTC().Format(time.RFC3339))

	return clip(b.String(), telegramMaxMessage)
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
