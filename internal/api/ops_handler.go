// Package api serves the operational HTTP surface: liveness and readiness
// probes plus a queue statistics endpoint for dashboards. The product API
// lives elsewhere; nothing here requires authentication beyond network
// placement.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/stride-app/stride-api/internal/domain"
	"github.com/stride-app/stride-api/internal/store"
)

// Pinger is the subset of *sql.DB the readiness probe needs.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// OpsHandler handles operational endpoints.
type OpsHandler struct {
	db     Pinger
	jobs   store.JobStore
	logger *slog.Logger
}

// NewOpsHandler creates a new OpsHandler.
func NewOpsHandler(db Pinger, jobs store.JobStore, logger *slog.Logger) *OpsHandler {
	return &OpsHandler{
		db:     db,
		jobs:   jobs,
		logger: logger.With("component", "ops_handler"),
	}
}

// Router builds the chi router for the operational surface.
func (h *OpsHandler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.Health)
	r.Get("/readyz", h.Ready)
	r.Get("/internal/queue/stats", h.QueueStats)

	return r
}

// Health handles GET /healthz: the process is up.
func (h *OpsHandler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready handles GET /readyz: the process can reach its database.
func (h *OpsHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		h.logger.Warn("readiness probe failed", "error", err)
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unavailable",
			"error":  "database unreachable",
		})
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// QueueStatsResponse reports the number of jobs per status.
type QueueStatsResponse struct {
	Counts map[domain.JobStatus]int `json:"counts"`
}

// QueueStats handles GET /internal/queue/stats. The dead count is the
// number to alert on: dead jobs never leave on their own.
func (h *OpsHandler) QueueStats(w http.ResponseWriter, r *http.Request) {
	counts, err := h.jobs.CountByStatus(r.Context())
	if err != nil {
		h.logger.Error("failed to count jobs", "error", err)
		respondJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to collect queue stats",
		})
		return
	}

	respondJSON(w, http.StatusOK, QueueStatsResponse{Counts: counts})
}

// respondJSON writes a JSON response with the given status code.
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}
