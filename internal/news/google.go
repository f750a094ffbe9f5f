// Package news fetches recent headlines for a symbol from the Google
// News RSS search feed. The feed is best-effort input to one detector, so
// every failure path degrades to an empty result.
package news

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/frictionwatch/frictionwatch/internal/domain"
)

const feedBase = "https://news.google.com/rss/search"

var htmlTag = regexp.MustCompile(`<[^>]*>`)

// Fetcher pulls and parses the RSS search feed.
type Fetcher struct {
	base    string
	parser  *gofeed.Parser
	breaker *gobreaker.CircuitBreaker
	timeout time.Duration
}

func NewFetcher() *Fetcher {
	parser := gofeed.NewParser()
	parser.UserAgent = "frictionwatch/1.0"
	return &Fetcher{
		base:    feedBase,
		parser:  parser,
		timeout: 10 * time.Second,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "google-news",
			Timeout: 5 * time.Minute,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		}),
	}
}

// Headlines returns up to max recent headlines for the symbol, newest
// first as the feed orders them. Failures log and return nil.
func (f *Fetcher) Headlines(ctx context.Context, symbol string, max int) []domain.Headline {
	feedURL := f.base + "?" + query(symbol)

	result, err := f.breaker.Execute(func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(ctx, f.timeout)
		defer cancel()
		return f.parser.ParseURLWithContext(feedURL, ctx)
	})
	if err != nil {
		log.Debug().Err(err).Str("symbol", symbol).Msg("news fetch failed")
		return nil
	}

	feed := result.(*gofeed.Feed)
	headlines := make([]domain.Headline, 0, max)
	for _, item := range feed.Items {
		if len(headlines) >= max {
			break
		}
		title := strings.TrimSpace(item.Title)
		if title == "" {
			continue
		}
		h := domain.Headline{
			Title:   title,
			Link:    item.Link,
			Summary: stripHTML(item.Description),
		}
		if item.PublishedParsed != nil {
			h.Published = item.PublishedParsed.UTC()
		}
		headlines = append(headlines, h)
	}
	return headlines
}

// query builds the search query for a symbol: the exchange suffix is
// dropped and the Indian market context appended so "TCS" does not match
// unrelated news.
func query(symbol string) string {
	base := strings.TrimPrefix(symbol, "^")
	if i := strings.LastIndex(base, "."); i > 0 {
		base = base[:i]
	}
	q := url.Values{}
	q.Set("q", fmt.Sprintf("%s India stock market", base))
	q.Set("hl", "en-IN")
	q.Set("gl", "IN")
	q.Set("ceid", "IN:en")
	return q.Encode()
}

func stripHTML(s string) string {
	return strings.TrimSpace(htmlTag.ReplaceAllString(s, ""))
}
