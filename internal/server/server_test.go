package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tg-greeter/internal/core/services"
	"tg-greeter/internal/metrics"
	"tg-greeter/internal/pkg/config"
	"tg-greeter/internal/telegram/pool"
)

type stubPool struct {
	size   int
	health []pool.IdentityHealth
}

func (p stubPool) Size() int { return p.size }

func (p stubPool) Health(ctx context.Context) []pool.IdentityHealth { return p.health }

type stubEngine struct {
	stats services.Stats
	at    time.Time
}

func (e stubEngine) LastPass() (services.Stats, time.Time) { return e.stats, e.at }

func serve(srv *Server, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rr := httptest.NewRecorder()
	srv.HTTPServer.Handler.ServeHTTP(rr, req)
	return rr
}

func TestServer(t *testing.T) {
	metrics.Init()
	cfg := &config.Config{
		Server: config.Server{Host: "localhost", Port: 9090},
	}
	finished := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

	t.Run("Health Check", func(t *testing.T) {
		srv := New(cfg, stubPool{size: 3}, stubEngine{})
		rr := serve(srv, "/health")

		assert.Equal(t, http.StatusOK, rr.Code)
		var resp map[string]any
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
		assert.Equal(t, "ok", resp["status"])
		assert.Equal(t, float64(3), resp["identities"])
	})

	t.Run("Health Check with empty pool", func(t *testing.T) {
		srv := New(cfg, stubPool{}, stubEngine{})
		rr := serve(srv, "/health")

		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
		var resp map[string]any
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
		assert.Equal(t, "degraded", resp["status"])
	})

	t.Run("Identities", func(t *testing.T) {
		srv := New(cfg, stubPool{size: 2, health: []pool.IdentityHealth{
			{ID: "a", DisplayName: "Alice", Healthy: true},
			{ID: "b", DisplayName: "Bob", Error: "client is in flood wait"},
		}}, stubEngine{})
		rr := serve(srv, "/api/v1/identities")

		assert.Equal(t, http.StatusOK, rr.Code)
		var resp struct {
			Healthy    int                   `json:"healthy"`
			Identities []pool.IdentityHealth `json:"identities"`
		}
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
		assert.Equal(t, 1, resp.Healthy)
		require.Len(t, resp.Identities, 2)
		assert.Equal(t, "client is in flood wait", resp.Identities[1].Error)
		assert.False(t, resp.Identities[1].Healthy)
	})

	t.Run("Metrics Endpoint", func(t *testing.T) {
		srv := New(cfg, stubPool{size: 1}, stubEngine{})
		rr := serve(srv, "/metrics")

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.True(t, strings.Contains(rr.Body.String(), "greeter_"), "expected greeter metrics in output")
	})

	t.Run("Last Pass before first pass", func(t *testing.T) {
		srv := New(cfg, stubPool{size: 1}, stubEngine{})
		rr := serve(srv, "/api/v1/delivery/last-pass")
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("Last Pass", func(t *testing.T) {
		srv := New(cfg, stubPool{size: 1}, stubEngine{
			stats: services.Stats{Pending: 4, Delivered: 2, Abandoned: 1, SendFailed: 1},
			at:    finished,
		})
		rr := serve(srv, "/api/v1/delivery/last-pass")

		assert.Equal(t, http.StatusOK, rr.Code)
		var resp struct {
			FinishedAt time.Time      `json:"finished_at"`
			Stats      services.Stats `json:"stats"`
		}
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
		assert.True(t, finished.Equal(resp.FinishedAt))
		assert.Equal(t, 4, resp.Stats.Pending)
		assert.Equal(t, 2, resp.Stats.Delivered)
		assert.Equal(t, 1, resp.Stats.SendFailed)
	})

	t.Run("Unknown route", func(t *testing.T) {
		srv := New(cfg, stubPool{size: 1}, stubEngine{})
		rr := serve(srv, "/api/v1/tasks/x")
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}
