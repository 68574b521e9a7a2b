package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all rebalancing routes
func (h *RebalancingHandlers) RegisterRoutes(r chi.Router) {
	r.Route("/rebalances", func(r chi.Router) {
		r.Get("/", h.HandleGetHistory)              // Rebalance history
		r.Post("/execute", h.HandleExecute)         // Execute rebalance into a target venue
		r.Post("/recover", h.HandleRecover)         // Retry deploying idle funds
		r.Get("/incomplete", h.HandleGetIncomplete) // Idle-funds status
	})
}
