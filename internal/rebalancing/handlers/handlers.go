// Package handlers provides HTTP handlers for rebalance execution and history.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/aristath/coffer/internal/domain"
	"github.com/aristath/coffer/internal/rebalancing"
	"github.com/rs/zerolog"
)

// RebalancingHandlers contains HTTP handlers for the rebalancing API
type RebalancingHandlers struct {
	coordinator *rebalancing.Coordinator
	history     *rebalancing.HistoryRepository
	log         zerolog.Logger
}

// NewRebalancingHandlers creates a new rebalancing handlers instance
func NewRebalancingHandlers(
	coordinator *rebalancing.Coordinator,
	history *rebalancing.HistoryRepository,
	log zerolog.Logger,
) *RebalancingHandlers {
	return &RebalancingHandlers{
		coordinator: coordinator,
		history:     history,
		log:         log.With().Str("handler", "rebalancing").Logger(),
	}
}

type rebalanceRequest struct {
	Target string `json:"target"`
}

// HandleExecute triggers a rebalance into the requested target venue.
// POST /api/rebalances/execute
func (h *RebalancingHandlers) HandleExecute(w http.ResponseWriter, r *http.Request) {
	var body rebalanceRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Target == "" {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	req, err := h.coordinator.Execute(r.Context(), apiKey(r), body.Target)
	if err != nil {
		h.log.Error().Err(err).Str("target", body.Target).Msg("Rebalance failed")
		writeDomainError(w, err, req)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(req)
}

// HandleRecover retries deploying idle funds from a failed rebalance.
// POST /api/rebalances/recover
func (h *RebalancingHandlers) HandleRecover(w http.ResponseWriter, r *http.Request) {
	var body rebalanceRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Target == "" {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	req, err := h.coordinator.Recover(r.Context(), apiKey(r), body.Target)
	if err != nil {
		h.log.Error().Err(err).Str("target", body.Target).Msg("Recovery failed")
		writeDomainError(w, err, req)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(req)
}

// HandleGetHistory returns recent rebalance requests, newest first.
// GET /api/rebalances
func (h *RebalancingHandlers) HandleGetHistory(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if limitParam := r.URL.Query().Get("limit"); limitParam != "" {
		if parsed, err := strconv.Atoi(limitParam); err == nil {
			limit = parsed
		}
	}

	requests, err := h.history.List(limit)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to get rebalance history")
		http.Error(w, "Failed to get rebalance history", http.StatusInternalServerError)
		return
	}
	if requests == nil {
		requests = []*rebalancing.Request{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(requests)
}

// HandleGetIncomplete reports whether idle funds are awaiting recovery.
// GET /api/rebalances/incomplete
func (h *RebalancingHandlers) HandleGetIncomplete(w http.ResponseWriter, r *http.Request) {
	req := h.coordinator.Incomplete()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"incomplete": req != nil,
		"request":    req,
	})
}

// apiKey extracts the caller credential used for role checks.
func apiKey(r *http.Request) string {
	return r.Header.Get("X-API-Key")
}

// writeDomainError maps domain error codes to HTTP status codes. A
// non-nil request is included so callers can see the failed state
// machine record.
func writeDomainError(w http.ResponseWriter, err error, req *rebalancing.Request) {
	status := http.StatusInternalServerError
	switch domain.CodeOf(err) {
	case domain.CodeNotOwner, domain.CodeNotAgent:
		status = http.StatusForbidden
	case domain.CodeStrategyLocked, domain.CodeSameStrategy, domain.CodeRebalanceIncomplete:
		status = http.StatusConflict
	case domain.CodeUnknownStrategy:
		status = http.StatusNotFound
	case domain.CodeVenueUnhealthy:
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error":   err.Error(),
		"code":    domain.CodeOf(err),
		"request": req,
	})
}
