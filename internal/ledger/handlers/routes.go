package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all vault routes
func (h *VaultHandlers) RegisterRoutes(r chi.Router) {
	r.Route("/vault", func(r chi.Router) {
		r.Get("/overview", h.HandleGetOverview)           // Pooled position summary
		r.Get("/quote", h.HandleQuote)                    // Asset/share conversion preview
		r.Get("/balance/{depositor}", h.HandleGetBalance) // One depositor's position
		r.Get("/events", h.HandleGetEvents)               // Append-only event log

		r.Post("/deposit", h.HandleDeposit)                // Pool a deposit
		r.Post("/withdraw", h.HandleWithdraw)              // Redeem an asset amount
		r.Post("/withdraw-shares", h.HandleWithdrawShares) // Redeem a share count
		r.Post("/claim-yield", h.HandleClaimYield)         // Pay out accrued yield

		r.Post("/strategy", h.HandleSetStrategy) // Bind the active venue (owner)
		r.Post("/lock", h.HandleLock)            // Freeze venue binding (owner)
		r.Post("/unlock", h.HandleUnlock)        // Release the freeze (owner)
		r.Post("/agent", h.HandleSetAgent)       // Designate the agent key (owner)
	})
}
