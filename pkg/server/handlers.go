// Package server exposes the retention and funnel calculations over HTTP and
// WebSocket, and hosts the static dashboard.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/cohortview/cohortview/pkg/cache"
	"github.com/cohortview/cohortview/pkg/httpx"
	"github.com/cohortview/cohortview/pkg/retention"
)

const (
	// computeTimeout bounds one full computation: up to 28 sequential
	// aggregation queries for the retention loop plus the histogram.
	computeTimeout = 60 * time.Second

	defaultInterval = 1
)

// Provider is the calculation surface the handlers depend on.
// *retention.Calculator satisfies it.
type Provider interface {
	Series(ctx context.Context, intervalDays int) (*retention.Series, error)
	Funnel(ctx context.Context) ([]retention.FunnelRow, error)
}

// Handler serves the analytics API.
type Handler struct {
	provider  Provider
	cache     cache.Cache
	startTime time.Time
}

// NewHandler creates the API handler.
func NewHandler(provider Provider, c cache.Cache) *Handler {
	return &Handler{
		provider:  provider,
		cache:     c,
		startTime: time.Now(),
	}
}

// FunnelResponse wraps the funnel table.
type FunnelResponse struct {
	Rows []retention.FunnelRow `json:"rows"`
}

// IntervalsResponse lists the selectable retention interval presets.
type IntervalsResponse struct {
	Presets []int `json:"presets"`
	Default int   `json:"default"`
}

// HandleFunnel returns the 14-day signup funnel.
func (h *Handler) HandleFunnel(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), computeTimeout)
	defer cancel()

	rows, err := h.provider.Funnel(ctx)
	if err != nil {
		// Upstream failures surface as a whole-page failure; there is no
		// partial-results mode.
		httpx.RespondError(w, http.StatusBadGateway, fmt.Errorf("compute funnel: %w", err))
		return
	}

	httpx.RespondJSON(w, http.StatusOK, FunnelResponse{Rows: rows})
}

// HandleRetention returns the retention series for ?interval=N (default 1).
func (h *Handler) HandleRetention(w http.ResponseWriter, r *http.Request) {
	interval := defaultInterval
	if raw := r.URL.Query().Get("interval"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			httpx.RespondError(w, http.StatusBadRequest, fmt.Errorf("invalid interval %q: %w", raw, err))
			return
		}
		interval = parsed
	}

	ctx, cancel := context.WithTimeout(r.Context(), computeTimeout)
	defer cancel()

	series, err := h.provider.Series(ctx, interval)
	if err != nil {
		if errors.Is(err, retention.ErrInvalidInterval) {
			httpx.RespondError(w, http.StatusBadRequest, err)
			return
		}
		httpx.RespondError(w, http.StatusBadGateway, fmt.Errorf("compute retention: %w", err))
		return
	}

	httpx.RespondJSON(w, http.StatusOK, series)
}

// HandleIntervals returns the preset interval lengths the dashboard offers.
func (h *Handler) HandleIntervals(w http.ResponseWriter, r *http.Request) {
	httpx.RespondJSON(w, http.StatusOK, IntervalsResponse{
		Presets: retention.PresetIntervals,
		Default: defaultInterval,
	})
}

// HandleCacheStats returns query cache effectiveness counters.
func (h *Handler) HandleCacheStats(w http.ResponseWriter, r *http.Request) {
	httpx.RespondJSON(w, http.StatusOK, h.cache.Stats())
}

// HandleHealth returns service health status.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	httpx.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "healthy",
		"uptime": time.Since(h.startTime).String(),
	})
}
