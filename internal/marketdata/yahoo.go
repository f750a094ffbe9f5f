// Package marketdata fetches daily OHLCV bars from the Yahoo Finance v8
// chart API. Calls are rate limited and wrapped in a circuit breaker so a
// flapping upstream cannot hammer the scheduler.
package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

const (
	baseURL   = "https://query1.finance.yahoo.com/v8/finance/chart/"
	userAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"
)

// Bar is one daily candle. Fields other than Dt may be zero when the
// upstream returned a null for that slot.
type Bar struct {
	Dt     time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// Client talks to the chart endpoint.
type Client struct {
	base    string
	http    *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

// NewClient builds a client limited to roughly two requests per second.
func NewClient() *Client {
	return &Client{
		base:    baseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
		limiter: rate.NewLimiter(rate.Every(500*time.Millisecond), 2),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "yahoo-chart",
			Timeout: 60 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn().Str("breaker", name).
					Str("from", from.String()).Str("to", to.String()).
					Msg("circuit state change")
			},
		}),
	}
}

type chartResponse struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*float64 `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// DailyBars fetches up to the last `days` daily candles for one symbol,
// oldest first. Slots with a null close are dropped.
func (c *Client) DailyBars(ctx context.Context, symbol string, days int) ([]Bar, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	body, err := c.breaker.Execute(func() (interface{}, error) {
		return c.fetch(ctx, symbol, days)
	})
	if err != nil {
		return nil, err
	}

	var parsed chartResponse
	if err := json.Unmarshal(body.([]byte), &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode chart response for %s: %w", symbol, err)
	}
	return barsFromChart(symbol, parsed)
}

func (c *Client) fetch(ctx context.Context, symbol string, days int) ([]byte, error) {
	q := url.Values{}
	q.Set("interval", "1d")
	q.Set("range", fmt.Sprintf("%dd", days))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.base+url.PathEscape(symbol)+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build chart request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chart request failed for %s: %w", symbol, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("chart request for %s returned %d", symbol, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read chart response for %s: %w", symbol, err)
	}
	return body, nil
}

func barsFromChart(symbol string, parsed chartResponse) ([]Bar, error) {
	if e := parsed.Chart.Error; e != nil {
		return nil, fmt.Errorf("chart API error for %s: %s (%s)", symbol, e.Code, e.Description)
	}
	if len(parsed.Chart.Result) == 0 || len(parsed.Chart.Result[0].Indicators.Quote) == 0 {
		return nil, fmt.Errorf("chart response for %s has no result", symbol)
	}

	result := parsed.Chart.Result[0]
	quote := result.Indicators.Quote[0]

	bars := make([]Bar, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		if i >= len(quote.Close) || quote.Close[i] == nil {
			continue
		}
		b := Bar{
			Dt:    time.Unix(ts, 0).UTC(),
			Close: *quote.Close[i],
		}
		if i < len(quote.Open) && quote.Open[i] != nil {
			b.Open = *quote.Open[i]
		}
		if i < len(quote.High) && quote.High[i] != nil {
			b.High = *quote.High[i]
		}
		if i < len(quote.Low) && quote.Low[i] != nil {
			b.Low = *quote.Low[i]
		}
		if i < len(quote.Volume) && quote.Volume[i] != nil {
			b.Volume = *quote.Volume[i]
		}
		bars = append(bars, b)
	}
	return bars, nil
}

// History fetches bars for each symbol, skipping symbols whose fetch
// fails. It returns an error only when every symbol failed.
func (c *Client) History(ctx context.Context, symbols []string, days int) (map[string][]Bar, error) {
	out := make(map[string][]Bar, len(symbols))
	var lastErr error
	for _, symbol := range symbols {
		bars, err := c.DailyBars(ctx, symbol, days)
		if err != nil {
			lastErr = err
			log.Warn().Err(err).Str("symbol", symbol).Msg("bar fetch failed")
			continue
		}
		out[symbol] = bars
	}
	if len(out) == 0 && lastErr != nil {
		return nil, fmt.Errorf("all %d symbols failed: %w", len(symbols), lastErr)
	}
	return out, nil
}
