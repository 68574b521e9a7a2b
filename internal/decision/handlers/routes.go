package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all decision routes
func (h *DecisionHandlers) RegisterRoutes(r chi.Router) {
	r.Route("/recommendations", func(r chi.Router) {
		r.Get("/", h.HandleGetHistory)        // Recommendation history
		r.Get("/latest", h.HandleGetLatest)   // Most recent recommendation
		r.Post("/evaluate", h.HandleEvaluate) // Run a scoring cycle now
	})
}
