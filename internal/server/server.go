// Package server предоставляет служебный HTTP-сервер диспетчера: проверку
// работоспособности, метрики Prometheus и итоги последнего прохода по очереди.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"tg-greeter/internal/core/services"
	"tg-greeter/internal/metrics"
	"tg-greeter/internal/pkg/config"
	"tg-greeter/internal/telegram/pool"
)

// PoolReporter сообщает состояние пула отправляющих identity.
type PoolReporter interface {
	Size() int
	Health(ctx context.Context) []pool.IdentityHealth
}

// PassReporter отдает итоги последнего прохода движка доставки.
type PassReporter interface {
	LastPass() (services.Stats, time.Time)
}

// Server представляет HTTP-сервер
type Server struct {
	HTTPServer *http.Server
	cfg        *config.Config
	pool       PoolReporter
	engine     PassReporter
}

// New создает новый экземпляр Server
func New(cfg *config.Config, identities PoolReporter, engine PassReporter) *Server {
	s := &Server{
		cfg:    cfg,
		pool:   identities,
		engine: engine,
	}

	chiRouter := chi.NewRouter()

	// Промежуточное ПО
	chiRouter.Use(middleware.RequestID)
	chiRouter.Use(middleware.Recoverer)

	chiRouter.Get("/health", s.handleHealth)
	chiRouter.Handle("/metrics", metrics.Handler())

	chiRouter.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Logger)
		r.Get("/delivery/last-pass", s.handleLastPass)
		r.Get("/identities", s.handleIdentities)
	})

	s.HTTPServer = &http.Server{
		Addr:         cfg.Address(),
		Handler:      chiRouter,
		ReadTimeout:  config.DefaultReadTimeout,
		WriteTimeout: config.DefaultWriteTimeout,
		IdleTimeout:  config.DefaultIdleTimeout,
	}

	return s
}

// handleHealth отвечает 503, если в пуле не осталось ни одной identity.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	identities := s.pool.Size()
	status, code := "ok", http.StatusOK
	if identities == 0 {
		status, code = "degraded", http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]any{
		"status":     status,
		"identities": identities,
	})
}

// handleIdentities опрашивает каждую identity пула.
func (s *Server) handleIdentities(w http.ResponseWriter, r *http.Request) {
	identities := s.pool.Health(r.Context())
	healthy := 0
	for _, h := range identities {
		if h.Healthy {
			healthy++
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"healthy":    healthy,
		"identities": identities,
	})
}

func (s *Server) handleLastPass(w http.ResponseWriter, r *http.Request) {
	st, at := s.engine.LastPass()
	if at.IsZero() {
		http.Error(w, "Проходов по очереди еще не было", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		FinishedAt time.Time      `json:"finished_at"`
		Stats      services.Stats `json:"stats"`
	}{
		FinishedAt: at.UTC(),
		Stats:      st,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// ListenAndServe запускает HTTP-сервер
func (s *Server) ListenAndServe() error {
	return s.HTTPServer.ListenAndServe()
}

// Shutdown корректно завершает работу HTTP-сервера
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("Shutting down HTTP server")
	return s.HTTPServer.Shutdown(ctx)
}
