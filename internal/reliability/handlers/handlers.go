// Package handlers provides HTTP handlers for backup and restore
// operations.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/aristath/coffer/internal/access"
	"github.com/aristath/coffer/internal/reliability"
	"github.com/rs/zerolog"
)

// BackupHandlers contains HTTP handlers for the backup API
type BackupHandlers struct {
	backupService  *reliability.BackupService
	restoreService *reliability.RestoreService
	roles          *access.Roles
	log            zerolog.Logger
}

// NewBackupHandlers creates a new backup handlers instance
func NewBackupHandlers(
	backupService *reliability.BackupService,
	restoreService *reliability.RestoreService,
	roles *access.Roles,
	log zerolog.Logger,
) *BackupHandlers {
	return &BackupHandlers{
		backupService:  backupService,
		restoreService: restoreService,
		roles:          roles,
		log:            log.With().Str("handler", "backup").Logger(),
	}
}

// HandleList lists off-site backups, newest first.
// GET /api/backups
func (h *BackupHandlers) HandleList(w http.ResponseWriter, r *http.Request) {
	if h.backupService == nil {
		http.Error(w, "Backups not configured", http.StatusNotImplemented)
		return
	}

	backups, err := h.backupService.ListBackups(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list backups")
		http.Error(w, "Failed to list backups", http.StatusBadGateway)
		return
	}
	if backups == nil {
		backups = []reliability.BackupInfo{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(backups)
}

// HandleRun creates and uploads a backup immediately. Owner-gated.
// POST /api/backups/run
func (h *BackupHandlers) HandleRun(w http.ResponseWriter, r *http.Request) {
	if h.backupService == nil {
		http.Error(w, "Backups not configured", http.StatusNotImplemented)
		return
	}
	if err := h.roles.RequireOwner(r.Header.Get("X-API-Key")); err != nil {
		http.Error(w, "Owner role required", http.StatusForbidden)
		return
	}

	if err := h.backupService.CreateAndUploadBackup(r.Context()); err != nil {
		h.log.Error().Err(err).Msg("On-demand backup failed")
		http.Error(w, "Backup failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

type stageRestoreRequest struct {
	Filename string `json:"filename"`
}

// HandleStageRestore downloads and verifies a backup archive, leaving
// it staged for the next restart. Owner-gated.
// POST /api/backups/restore
func (h *BackupHandlers) HandleStageRestore(w http.ResponseWriter, r *http.Request) {
	if h.restoreService == nil {
		http.Error(w, "Backups not configured", http.StatusNotImplemented)
		return
	}
	if err := h.roles.RequireOwner(r.Header.Get("X-API-Key")); err != nil {
		http.Error(w, "Owner role required", http.StatusForbidden)
		return
	}

	var body stageRestoreRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Filename == "" {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.restoreService.StageRestore(r.Context(), body.Filename); err != nil {
		h.log.Error().Err(err).Str("filename", body.Filename).Msg("Failed to stage restore")
		http.Error(w, "Failed to stage restore", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "staged",
		"message": "restart the service to apply the restore",
	})
}
