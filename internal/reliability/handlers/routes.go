package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all backup routes
func (h *BackupHandlers) RegisterRoutes(r chi.Router) {
	r.Route("/backups", func(r chi.Router) {
		r.Get("/", h.HandleList)                 // List off-site backups
		r.Post("/run", h.HandleRun)              // Create and upload a backup now
		r.Post("/restore", h.HandleStageRestore) // Stage a restore for next restart
	})
}
