// Package server exposes read-only health and stats endpoints for the
// engine.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/veyra/listwatch/breaker"
	"github.com/veyra/listwatch/dispatch"
)

// Server serves /healthz and /stats. Queue and pool are nil in loop mode.
type Server struct {
	addr    string
	breaker *breaker.Breaker
	queue   *dispatch.Queue
	pool    *dispatch.WorkerPool
	started time.Time
	httpSrv *http.Server
	logger  *zap.SugaredLogger
}

// New creates the health server.
func New(addr string, brk *breaker.Breaker, queue *dispatch.Queue, pool *dispatch.WorkerPool, logger *zap.SugaredLogger) *Server {
	s := &Server{
		addr:    addr,
		breaker: brk,
		queue:   queue,
		pool:    pool,
		started: time.Now(),
		logger:  logger.Named("server"),
	}
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Routes builds the router. Exposed for tests.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.handleHealth)
	r.Get("/stats", s.handleStats)
	return r
}

// Start begins serving in the background.
func (s *Server) Start() {
	go func() {
		s.logger.Infow("Health server listening", "addr", s.addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Errorw("Health server failed", "error", err)
		}
	}()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

type healthResponse struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status: "ok",
		Uptime: time.Since(s.started).Round(time.Second).String(),
	})
}

type statsResponse struct {
	Mode        string          `json:"mode"`
	Breakers    []breaker.Stats `json:"breakers"`
	Queue       *dispatch.Stats `json:"queue,omitempty"`
	DeadLetters int             `json:"dead_letters"`
	Workers     int             `json:"workers"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := statsResponse{
		Mode:     "loop",
		Breakers: s.breaker.AllStats(),
	}

	if s.queue != nil {
		resp.Mode = "queue"
		stats, err := s.queue.GetStats(r.Context())
		if err != nil {
			s.logger.Errorw("Failed to collect queue stats", "error", err)
			http.Error(w, "failed to collect stats", http.StatusInternalServerError)
			return
		}
		resp.Queue = stats
		resp.DeadLetters = stats.Dead
	}
	if s.pool != nil {
		resp.Workers = s.pool.Workers()
	}

	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
