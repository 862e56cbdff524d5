// Package api provides HTTP handlers for the retainer API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/artpar/retainer/internal/core/domain"
	"github.com/artpar/retainer/internal/core/retention"
	"github.com/artpar/retainer/internal/engine"
	"github.com/artpar/retainer/internal/shell/metrics"
	"github.com/artpar/retainer/internal/shell/source"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Engine is the part of the retention engine the API serves.
type Engine interface {
	Retained() (*retention.Result, error)
	Refresh(ctx context.Context) (time.Time, error)
	Snapshot() domain.Snapshot
	UpdatedAt() (time.Time, bool)
}

// =============================================================================
// Handler
// =============================================================================

// Handler provides HTTP handlers for the API.
type Handler struct {
	engine   Engine
	logger   *slog.Logger
	apiKey   string
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
	now      func() time.Time
}

// NewHandler creates a new API handler.
func NewHandler(e Engine, l *slog.Logger) *Handler {
	if l == nil {
		l = slog.Default()
	}
	return &Handler{
		engine: e,
		logger: l.With("component", "api"),
		now:    time.Now,
	}
}

// WithMetrics records request metrics to m and serves g on /metrics.
func (h *Handler) WithMetrics(m *metrics.Metrics, g prometheus.Gatherer) *Handler {
	h.metrics = m
	h.gatherer = g
	return h
}

// WithAPIKey requires "Authorization: Bearer <key>" on /api/v1 routes.
// An empty key disables the check.
func (h *Handler) WithAPIKey(key string) *Handler {
	h.apiKey = key
	return h
}

// Routes returns the router with all routes configured.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(h.requestIDHeader)
	if h.metrics != nil {
		r.Use(h.recordMetrics)
	}

	if h.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	}

	r.Group(func(r chi.Router) {
		r.Use(h.jsonContentType)

		// Health endpoints
		r.Get("/health", h.handleHealth)
		r.Get("/ready", h.handleReady)

		// API v1 routes
		r.Route("/api/v1", func(r chi.Router) {
			r.Use(h.requireAPIKey)

			r.Get("/retained-releases", h.handleRetainedReleases)
			r.Post("/refresh", h.handleRefresh)

			r.Get("/projects", collectionHandler(h, func(s domain.Snapshot) []domain.Project { return s.Projects }))
			r.Get("/environments", collectionHandler(h, func(s domain.Snapshot) []domain.Environment { return s.Environments }))
			r.Get("/releases", collectionHandler(h, func(s domain.Snapshot) []domain.Release { return s.Releases }))
			r.Get("/deployments", collectionHandler(h, func(s domain.Snapshot) []domain.Deployment { return s.Deployments }))
		})
	})

	return r
}

// =============================================================================
// Middleware
// =============================================================================

// jsonContentType sets Content-Type header to application/json.
func (h *Handler) jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// requestIDHeader copies the request ID to the response header.
func (h *Handler) requestIDHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if reqID := middleware.GetReqID(r.Context()); reqID != "" {
			w.Header().Set("X-Request-ID", reqID)
		}
		next.ServeHTTP(w, r)
	})
}

// requireAPIKey rejects requests without the configured bearer token.
func (h *Handler) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.apiKey != "" && r.Header.Get("Authorization") != "Bearer "+h.apiKey {
			h.writeError(w, http.StatusUnauthorized, "missing or invalid API key", "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// recordMetrics records status and latency per route pattern.
func (h *Handler) recordMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		path := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		h.metrics.RecordHTTPRequest(r.Method, path, status, time.Since(start))
	})
}

// =============================================================================
// Health Handlers
// =============================================================================

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy"})
}

// handleReady reports ready once a load has succeeded.
func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	updatedAt, loaded := h.engine.UpdatedAt()
	if !loaded {
		h.writeJSON(w, http.StatusServiceUnavailable, ReadyResponse{
			Status: "not_ready",
			Checks: map[string]string{"data": "not_loaded"},
		})
		return
	}

	h.writeJSON(w, http.StatusOK, ReadyResponse{
		Status:    "ready",
		Checks:    map[string]string{"data": "ok"},
		UpdatedAt: &updatedAt,
	})
}

// =============================================================================
// Retention Handlers
// =============================================================================

// handleRetainedReleases serves the retained releases. The optional
// project and environment query parameters narrow the mapping by name.
func (h *Handler) handleRetainedReleases(w http.ResponseWriter, r *http.Request) {
	result, err := h.engine.Retained()
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	updatedAt, _ := h.engine.UpdatedAt()

	releases, ok := filterReleases(result.Releases, r.URL.Query().Get("project"), r.URL.Query().Get("environment"))
	if !ok {
		h.writeError(w, http.StatusNotFound, "project or environment not found", "not_found")
		return
	}

	h.writeJSON(w, http.StatusOK, RetainedReleasesResponse{
		RetainedReleases: releases,
		AmountOfReleases: result.AmountOfReleases,
		UpdatedAt:        updatedAt,
		Stale:            h.now().Sub(updatedAt) > engine.StaleAfter,
		Stats:            result.Stats,
	})
}

// handleRefresh reloads all collections.
func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	updatedAt, err := h.engine.Refresh(r.Context())
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, RefreshResponse{UpdatedAt: updatedAt})
}

// collectionHandler serves one collection of the last loaded snapshot.
func collectionHandler[T any](h *Handler, pick func(domain.Snapshot) []T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, loaded := h.engine.UpdatedAt(); !loaded {
			h.writeEngineError(w, engine.ErrNotLoaded)
			return
		}
		h.writeJSON(w, http.StatusOK, pick(h.engine.Snapshot()))
	}
}

// filterReleases narrows the mapping to one project and/or environment.
func filterReleases(all domain.RetainedReleases, project, environment string) (domain.RetainedReleases, bool) {
	if project == "" && environment == "" {
		return all, true
	}

	out := make(domain.RetainedReleases)
	for name, byEnv := range all {
		if project != "" && name != project {
			continue
		}
		if environment == "" {
			out[name] = byEnv
			continue
		}
		versions, ok := byEnv[environment]
		if !ok {
			continue
		}
		out[name] = map[string][]string{environment: versions}
	}
	return out, len(out) > 0
}

// =============================================================================
// Helpers
// =============================================================================

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode JSON", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message, code string) {
	h.writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

func (h *Handler) writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrNotLoaded):
		h.writeError(w, http.StatusServiceUnavailable, err.Error(), "not_loaded")
	case errors.Is(err, source.ErrUnavailable):
		h.logger.Warn("refresh failed", "error", err, "cause", errors.Unwrap(err))
		h.writeError(w, http.StatusBadGateway, err.Error(), "source_unavailable")
	default:
		h.logger.Error("internal error", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error", "internal_error")
	}
}
