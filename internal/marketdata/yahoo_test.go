package marketdata

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const chartFixture = `{
  "chart": {
    "result": [{
      "timestamp": [1755662400, 1755748800, 1755835200],
      "indicators": {
        "quote": [{
          "open":   [100.0, 101.0, null],
          "high":   [102.0, 103.0, 104.0],
          "low":    [99.0, 100.0, 101.0],
          "close":  [101.0, null, 103.0],
          "volume": [500000, 600000, null]
        }]
      }
    }],
    "error": null
  }
}`

func TestDailyBarsParsesChart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/RELIANCE.NS", r.URL.Path)
		assert.Equal(t, "1d", r.URL.Query().Get("interval"))
		assert.Equal(t, "30d", r.URL.Query().Get("range"))
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		w.Write([]byte(chartFixture))
	}))
	defer srv.Close()

	c := NewClient()
	c.base = srv.URL + "/"

	bars, err := c.DailyBars(context.Background(), "RELIANCE.NS", 30)
	require.NoError(t, err)

	// The middle slot has a null close and is dropped.
	require.Len(t, bars, 2)
	assert.Equal(t, 101.0, bars[0].Close)
	assert.Equal(t, 500000.0, bars[0].Volume)
	assert.Equal(t, 103.0, bars[1].Close)
	assert.Equal(t, 0.0, bars[1].Volume)
	assert.True(t, bars[0].Dt.Before(bars[1].Dt))
}

func TestDailyBarsUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"chart":{"result":null,"error":{"code":"Not Found","description":"No data found"}}}`))
	}))
	defer srv.Close()

	c := NewClient()
	c.base = srv.URL + "/"

	_, err := c.DailyBars(context.Background(), "NOPE.NS", 30)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Not Found")
}

func TestDailyBarsHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient()
	c.base = srv.URL + "/"

	_, err := c.DailyBars(context.Background(), "X.NS", 30)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestHistorySkipsFailedSymbols(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/BAD.NS" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(chartFixture))
	}))
	defer srv.Close()

	c := NewClient()
	c.base = srv.URL + "/"

	out, err := c.History(context.Background(), []string{"GOOD.NS", "BAD.NS"}, 30)
	require.NoError(t, err)
	require.Contains(t, out, "GOOD.NS")
	assert.NotContains(t, out, "BAD.NS")
}
