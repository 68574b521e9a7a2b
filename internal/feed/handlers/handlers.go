// Package handlers provides HTTP handlers for collected venue metrics.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/aristath/coffer/internal/domain"
	"github.com/aristath/coffer/internal/feed"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// FeedHandlers contains HTTP handlers for the metrics API
type FeedHandlers struct {
	service *feed.Service
	log     zerolog.Logger
}

// NewFeedHandlers creates a new feed handlers instance
func NewFeedHandlers(service *feed.Service, log zerolog.Logger) *FeedHandlers {
	return &FeedHandlers{
		service: service,
		log:     log.With().Str("handler", "feed").Logger(),
	}
}

// HandleGetLatest returns the newest observation per venue.
// GET /api/metrics
func (h *FeedHandlers) HandleGetLatest(w http.ResponseWriter, r *http.Request) {
	metrics, err := h.service.Latest()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to get latest metrics")
		http.Error(w, "Failed to get latest metrics", http.StatusInternalServerError)
		return
	}
	if metrics == nil {
		metrics = []domain.VenueMetrics{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"metrics":          metrics,
		"stream_connected": h.service.StreamConnected(),
	})
}

// HandleGetHistory returns one venue's observations, oldest first.
// GET /api/metrics/{venue}/history
func (h *FeedHandlers) HandleGetHistory(w http.ResponseWriter, r *http.Request) {
	venue := chi.URLParam(r, "venue")

	limit := 100
	if limitParam := r.URL.Query().Get("limit"); limitParam != "" {
		if parsed, err := strconv.Atoi(limitParam); err == nil {
			limit = parsed
		}
	}

	history, err := h.service.History(venue, limit)
	if err != nil {
		h.log.Error().Err(err).Str("venue", venue).Msg("Failed to get metrics history")
		http.Error(w, "Failed to get metrics history", http.StatusInternalServerError)
		return
	}
	if history == nil {
		history = []domain.VenueMetrics{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(history)
}

// HandleCollect runs a collection cycle immediately.
// POST /api/metrics/collect
func (h *FeedHandlers) HandleCollect(w http.ResponseWriter, r *http.Request) {
	metrics, err := h.service.Collect(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("On-demand metrics collection failed")
		http.Error(w, "Metrics collection failed", http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(metrics)
}
