package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frictionwatch/frictionwatch/internal/persistence"
)

type stubHeartbeats struct {
	last   *persistence.HeartbeatRecord
	counts map[string]int
	err    error
}

func (s *stubHeartbeats) InsertHeartbeat(context.Context, persistence.HeartbeatRecord) error {
	return nil
}

func (s *stubHeartbeats) StatusCountsSince(context.Context, string) (map[string]int, error) {
	return s.counts, s.err
}

func (s *stubHeartbeats) LastHeartbeat(context.Context) (*persistence.HeartbeatRecord, error) {
	return s.last, s.err
}

func getHealth(t *testing.T, s *Server) (int, healthResponse) {
	t.Helper()
	rec := httptest.NewRecorder()
	s.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	var resp healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec.Code, resp
}

func TestHealthFresh(t *testing.T) {
	now := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	hb := &stubHeartbeats{
		last:   &persistence.HeartbeatRecord{Ts: "2026-08-28T09:58:00Z", Status: "ok"},
		counts: map[string]int{"ok": 12},
	}
	s := NewServer(":0", hb)
	s.now = func() time.Time { return now }

	code, resp := getHealth(t, s)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "2026-08-28T09:58:00Z", resp.LastHeartbeat)
	assert.Equal(t, 12, resp.Counts24h["ok"])
}

func TestHealthStale(t *testing.T) {
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	hb := &stubHeartbeats{
		last: &persistence.HeartbeatRecord{Ts: "2026-08-28T09:00:00Z", Status: "ok"},
	}
	s := NewServer(":0", hb)
	s.now = func() time.Time { return now }

	code, resp := getHealth(t, s)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "stale", resp.Status)
}

func TestHealthStarting(t *testing.T) {
	s := NewServer(":0", &stubHeartbeats{})
	code, resp := getHealth(t, s)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "starting", resp.Status)
}

func TestHealthDegradedOnStoreError(t *testing.T) {
	s := NewServer(":0", &stubHeartbeats{err: errors.New("db down")})
	code, resp := getHealth(t, s)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "degraded", resp.Status)
}
