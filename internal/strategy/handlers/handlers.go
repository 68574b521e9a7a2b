// Package handlers provides HTTP handlers for venue adapter inspection
// and pause control.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/aristath/coffer/internal/domain"
	"github.com/aristath/coffer/internal/strategy"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// VenueHandlers contains HTTP handlers for the venue API
type VenueHandlers struct {
	registry *strategy.Registry
	log      zerolog.Logger
}

// NewVenueHandlers creates a new venue handlers instance
func NewVenueHandlers(registry *strategy.Registry, log zerolog.Logger) *VenueHandlers {
	return &VenueHandlers{
		registry: registry,
		log:      log.With().Str("handler", "venues").Logger(),
	}
}

type venueStatus struct {
	Name         string `json:"name"`
	State        string `json:"state"`
	Healthy      bool   `json:"healthy"`
	EstimatedAPY int64  `json:"estimated_apy_bps"`
	TotalAssets  uint64 `json:"total_assets"`
}

// HandleList returns every registered venue with its current status.
// GET /api/venues
func (h *VenueHandlers) HandleList(w http.ResponseWriter, r *http.Request) {
	adapters := h.registry.List()

	venues := make([]venueStatus, 0, len(adapters))
	for _, a := range adapters {
		venues = append(venues, venueStatus{
			Name:         a.StrategyName(),
			State:        string(a.State()),
			Healthy:      a.IsHealthy(r.Context()),
			EstimatedAPY: a.EstimatedAPY(),
			TotalAssets:  a.TotalAssets(),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(venues)
}

// HandleGet returns one venue's status.
// GET /api/venues/{name}
func (h *VenueHandlers) HandleGet(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	adapter, err := h.registry.Get(name)
	if err != nil {
		http.Error(w, "Unknown venue", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(venueStatus{
		Name:         adapter.StrategyName(),
		State:        string(adapter.State()),
		Healthy:      adapter.IsHealthy(r.Context()),
		EstimatedAPY: adapter.EstimatedAPY(),
		TotalAssets:  adapter.TotalAssets(),
	})
}

// HandlePause pauses a venue adapter.
// POST /api/venues/{name}/pause
func (h *VenueHandlers) HandlePause(w http.ResponseWriter, r *http.Request) {
	h.setPaused(w, r, true)
}

// HandleUnpause unpauses a venue adapter.
// POST /api/venues/{name}/unpause
func (h *VenueHandlers) HandleUnpause(w http.ResponseWriter, r *http.Request) {
	h.setPaused(w, r, false)
}

func (h *VenueHandlers) setPaused(w http.ResponseWriter, r *http.Request, paused bool) {
	name := chi.URLParam(r, "name")

	adapter, err := h.registry.Get(name)
	if err != nil {
		http.Error(w, "Unknown venue", http.StatusNotFound)
		return
	}

	caller := r.Header.Get("X-API-Key")
	if paused {
		err = adapter.Pause(caller)
	} else {
		err = adapter.Unpause(caller)
	}
	if err != nil {
		h.log.Error().Err(err).Str("venue", name).Bool("paused", paused).Msg("Pause state change failed")
		status := http.StatusInternalServerError
		if domain.CodeOf(err) == domain.CodeNotVault || domain.CodeOf(err) == domain.CodeNotOwner {
			status = http.StatusForbidden
		}
		http.Error(w, err.Error(), status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"name":  name,
		"state": string(adapter.State()),
	})
}
