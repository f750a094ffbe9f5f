package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frictionwatch/frictionwatch/internal/alerts"
	"github.com/frictionwatch/frictionwatch/internal/confidence"
	"github.com/frictionwatch/frictionwatch/internal/config"
	"github.com/frictionwatch/frictionwatch/internal/domain"
	"github.com/frictionwatch/frictionwatch/internal/friction"
	"github.com/frictionwatch/frictionwatch/internal/health"
	"github.com/frictionwatch/frictionwatch/internal/marketdata"
	"github.com/frictionwatch/frictionwatch/internal/persistence"
)

type fakeBars struct {
	history map[string][]marketdata.Bar
	err     error
}

func (f *fakeBars) History(_ context.Context, _ []string, _ int) (map[string][]marketdata.Bar, error) {
	return f.history, f.err
}

type fakeConfidence struct {
	value float64
	calls int
}

func (f *fakeConfidence) Compose(_ context.Context, _ string, _ float64, _ domain.FeatureSnapshot) confidence.Breakdown {
	f.calls++
	return confidence.Breakdown{Confidence: f.value}
}

type fakeOutcomes struct {
	updated   []int64
	backfills int
}

func (f *fakeOutcomes) UpdateOutcome(_ context.Context, signalID int64, _, _ string) error {
	f.updated = append(f.updated, signalID)
	return nil
}

func (f *fakeOutcomes) Backfill(context.Context) error {
	f.backfills++
	return nil
}

type fakeSignals struct {
	inserted []persistence.Signal
	err      error
}

func (f *fakeSignals) InsertSignal(_ context.Context, s persistence.Signal) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.inserted = append(f.inserted, s)
	return int64(len(f.inserted)), nil
}

func (f *fakeSignals) SignalsWithoutOutcomes(context.Context, string) ([]persistence.SignalRef, error) {
	return nil, nil
}

type fakePrices struct {
	rows []persistence.Bar
}

func (f *fakePrices) InsertBars(_ context.Context, bars []persistence.Bar) error {
	f.rows = append(f.rows, bars...)
	return nil
}

func (f *fakePrices) CloseOnOrAfter(context.Context, string, string) (float64, bool, error) {
	return 0, false, nil
}

func (f *fakePrices) LatestCloseAtOrBefore(context.Context, string, string) (float64, bool, error) {
	return 0, false, nil
}

type fakeDispatcher struct {
	alerts []alerts.Alert
	sent   bool
	reason string
}

func (f *fakeDispatcher) Dispatch(_ context.Context, a alerts.Alert) (bool, string) {
	f.alerts = append(f.alerts, a)
	return f.sent, f.reason
}

type memHeartbeats struct {
	rows []persistence.HeartbeatRecord
}

func (m *memHeartbeats) InsertHeartbeat(_ context.Context, rec persistence.HeartbeatRecord) error {
	m.rows = append(m.rows, rec)
	return nil
}

func (m *memHeartbeats) StatusCountsSince(context.Context, string) (map[string]int, error) {
	return map[string]int{}, nil
}

func (m *memHeartbeats) LastHeartbeat(context.Context) (*persistence.HeartbeatRecord, error) {
	return nil, nil
}

func (m *memHeartbeats) statuses() []string {
	out := make([]string, len(m.rows))
	for i, rec := range m.rows {
		out[i] = rec.Status
	}
	return out
}

// panicBars produces history where the last day drops 5% on 3x volume.
func panicBars() []marketdata.Bar {
	bars := make([]marketdata.Bar, 25)
	for i := range bars {
		bars[i] = marketdata.Bar{Close: 100, Volume: 1000}
	}
	bars[24].Close = 95
	bars[24].Volume = 3000
	return bars
}

func quietBars() []marketdata.Bar {
	bars := make([]marketdata.Bar, 25)
	for i := range bars {
		bars[i] = marketdata.Bar{Close: 100, Volume: 1000}
	}
	return bars
}

func testConfig(watchlist ...string) *config.Config {
	cfg := &config.Config{
		Watchlist:                watchlist,
		FrictionAlertThreshold:   0.65,
		ConfidenceAlertThreshold: 0.60,
		MaxVolatilityPct:         15.0,
	}
	return cfg
}

type fixture struct {
	pipeline   *Pipeline
	signals    *fakeSignals
	prices     *fakePrices
	outcomes   *fakeOutcomes
	confidence *fakeConfidence
	dispatcher *fakeDispatcher
	heartbeats *memHeartbeats
}

func newFixture(cfg *config.Config, bars *fakeBars, confidenceValue float64) *fixture {
	f := &fixture{
		signals:    &fakeSignals{},
		prices:     &fakePrices{},
		outcomes:   &fakeOutcomes{},
		confidence: &fakeConfidence{value: confidenceValue},
		dispatcher: &fakeDispatcher{sent: true},
		heartbeats: &memHeartbeats{},
	}
	hb := health.NewHeartbeater(f.heartbeats, nil, 4)
	f.pipeline = New(cfg, bars, friction.NewEngine(nil), f.confidence,
		f.outcomes, f.signals, f.prices, f.dispatcher, hb)
	return f
}

func TestTickScoresPersistsAndDispatches(t *testing.T) {
	bars := &fakeBars{history: map[string][]marketdata.Bar{"TCS.NS": panicBars()}}
	f := newFixture(testConfig("TCS.NS"), bars, 0.8)

	require.NoError(t, f.pipeline.Tick(context.Background()))

	// Bars landed in the store.
	assert.Len(t, f.prices.rows, 25)

	// One strong panic-selling signal.
	require.Len(t, f.signals.inserted, 1)
	sig := f.signals.inserted[0]
	assert.Equal(t, "TCS.NS", sig.Symbol)
	assert.Equal(t, string(domain.SignalPanicSelling), sig.SignalType)
	assert.Greater(t, sig.Score, 0.65)
	assert.Equal(t, 0.8, sig.Confidence)
	assert.Contains(t, sig.Explanation, "Panic selling")

	// Outcome attempt follows the insert.
	assert.Equal(t, []int64{1}, f.outcomes.updated)

	// Alert went out with matching fields.
	require.Len(t, f.dispatcher.alerts, 1)
	a := f.dispatcher.alerts[0]
	assert.Equal(t, sig.Score, a.Score)
	assert.Equal(t, domain.SignalPanicSelling, a.Type)

	statuses := f.heartbeats.statuses()
	assert.Contains(t, statuses, health.StatusTickStart)
	assert.Contains(t, statuses, health.StatusOK)
}

func TestTickNoDataIsNotACrash(t *testing.T) {
	bars := &fakeBars{err: errors.New("upstream down")}
	f := newFixture(testConfig("TCS.NS"), bars, 0.8)

	require.NoError(t, f.pipeline.Tick(context.Background()))

	assert.Contains(t, f.heartbeats.statuses(), health.StatusNoData)
	assert.Empty(t, f.signals.inserted)
	assert.Empty(t, f.dispatcher.alerts)
}

func TestTickQuietSymbolComposesButDoesNotPersist(t *testing.T) {
	bars := &fakeBars{history: map[string][]marketdata.Bar{"INFY.NS": quietBars()}}
	f := newFixture(testConfig("INFY.NS"), bars, 0.8)

	require.NoError(t, f.pipeline.Tick(context.Background()))

	// Confidence is audited every tick, signals only when scored.
	assert.Equal(t, 1, f.confidence.calls)
	assert.Empty(t, f.signals.inserted)
	assert.Empty(t, f.dispatcher.alerts)
}

func TestTickConfidenceGateBlocksDispatch(t *testing.T) {
	bars := &fakeBars{history: map[string][]marketdata.Bar{"TCS.NS": panicBars()}}
	f := newFixture(testConfig("TCS.NS"), bars, 0.3)

	require.NoError(t, f.pipeline.Tick(context.Background()))

	// Signal recorded, alert withheld.
	assert.Len(t, f.signals.inserted, 1)
	assert.Empty(t, f.dispatcher.alerts)
}

func TestTickSurvivesSignalInsertFailure(t *testing.T) {
	bars := &fakeBars{history: map[string][]marketdata.Bar{"TCS.NS": panicBars()}}
	f := newFixture(testConfig("TCS.NS"), bars, 0.8)
	f.signals.err = errors.New("db down")

	require.NoError(t, f.pipeline.Tick(context.Background()))

	// No outcome attempt without a signal id, but dispatch still happens.
	assert.Empty(t, f.outcomes.updated)
	assert.Len(t, f.dispatcher.alerts, 1)
}

func TestRunDaily(t *testing.T) {
	bars := &fakeBars{history: map[string][]marketdata.Bar{}}
	f := newFixture(testConfig("TCS.NS"), bars, 0.8)

	f.pipeline.RunDaily(context.Background())
	assert.Equal(t, 1, f.outcomes.backfills)
}
