// Package http exposes the operational surface: a liveness endpoint
// backed by the heartbeat table and the Prometheus scrape endpoint.
package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/frictionwatch/frictionwatch/internal/persistence"
)

// staleAfter is how old the newest heartbeat may be before /health
// degrades.
const staleAfter = 45 * time.Minute

// Server serves /health and /metrics.
type Server struct {
	heartbeats persistence.HeartbeatRepo
	httpServer *http.Server
	now        func() time.Time
}

func NewServer(addr string, heartbeats persistence.HeartbeatRepo) *Server {
	s := &Server{heartbeats: heartbeats, now: time.Now}

	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Start serves until Shutdown. It blocks.
func (s *Server) Start() error {
	log.Info().Str("addr", s.httpServer.Addr).Msg("http server listening")
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

type healthResponse struct {
	Status        string         `json:"status"`
	LastHeartbeat string         `json:"last_heartbeat,omitempty"`
	LastStatus    string         `json:"last_status,omitempty"`
	Counts24h     map[string]int `json:"counts_24h,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}
	code := http.StatusOK

	last, err := s.heartbeats.LastHeartbeat(r.Context())
	switch {
	case err != nil:
		resp.Status = "degraded"
		code = http.StatusServiceUnavailable
	case last == nil:
		resp.Status = "starting"
	default:
		resp.LastHeartbeat = last.Ts
		resp.LastStatus = last.Status
		if ts, perr := time.Parse(time.RFC3339, last.Ts); perr == nil && s.now().Sub(ts) > staleAfter {
			resp.Status = "stale"
			code = http.StatusServiceUnavailable
		}
	}

	if counts, cerr := s.heartbeats.StatusCountsSince(r.Context(),
		persistence.Timestamp(s.now().Add(-24*time.Hour))); cerr == nil {
		resp.Counts24h = counts
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(resp)
}
