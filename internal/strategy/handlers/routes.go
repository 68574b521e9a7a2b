package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all venue routes
func (h *VenueHandlers) RegisterRoutes(r chi.Router) {
	r.Route("/venues", func(r chi.Router) {
		r.Get("/", h.HandleList)                   // All registered venues
		r.Get("/{name}", h.HandleGet)              // One venue's status
		r.Post("/{name}/pause", h.HandlePause)     // Pause deposits/withdrawals
		r.Post("/{name}/unpause", h.HandleUnpause) // Resume
	})
}
