package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all metrics routes
func (h *FeedHandlers) RegisterRoutes(r chi.Router) {
	r.Route("/metrics", func(r chi.Router) {
		r.Get("/", h.HandleGetLatest)                 // Latest observation per venue
		r.Post("/collect", h.HandleCollect)           // Run a collection cycle now
		r.Get("/{venue}/history", h.HandleGetHistory) // One venue's time series
	})
}
