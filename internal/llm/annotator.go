// Package llm adds a one-line natural-language annotation to outgoing
// alerts via an OpenAI-compatible chat endpoint. The annotation is
// decorative: any failure or exhausted budget yields an empty string and
// the alert ships without it.
package llm

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/rs/zerolog/log"
)

const systemPrompt = "You are a terse equity-markets assistant. " +
	"In one short sentence (under 25 words), explain what the described trading anomaly could mean for the stock. " +
	"No advice, no hedging boilerplate."

// Annotator wraps the chat client with a daily call budget.
type Annotator struct {
	client   openai.Client
	model    string
	maxDaily int
	timeout  time.Duration

	mu    sync.Mutex
	day   string
	calls int
	now   func() time.Time
}

// New builds an annotator. An empty apiKey returns nil: callers treat a
// nil annotator as "no annotation".
func New(apiKey, baseURL, model string, maxDailyCalls int) *Annotator {
	if apiKey == "" {
		return nil
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &Annotator{
		client:   openai.NewClient(opts...),
		model:    model,
		maxDaily: maxDailyCalls,
		timeout:  15 * time.Second,
		now:      time.Now,
	}
}

// Annotate returns a one-line note for the alert, or "" when the budget
// is spent or the call fails.
func (a *Annotator) Annotate(ctx context.Context, symbol, signalType, explanation string) string {
	if a == nil {
		return ""
	}
	if !a.spend() {
		return ""
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	resp, err := a.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(a.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(symbol + " flagged " + signalType + ": " + explanation),
		},
		MaxTokens:   openai.Int(60),
		Temperature: openai.Float(0.3),
	})
	if err != nil {
		log.Debug().Err(err).Str("symbol", symbol).Msg("annotation call failed")
		return ""
	}
	if len(resp.Choices) == 0 {
		return ""
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content)
}

// spend consumes one call from today's budget, rolling the counter over
// at UTC midnight.
func (a *Annotator) spend() bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	today := a.now().UTC().Format("2006-01-02")
	if today != a.day {
		a.day = today
		a.calls = 0
	}
	if a.calls >= a.maxDaily {
		return false
	}
	a.calls++
	return true
}
