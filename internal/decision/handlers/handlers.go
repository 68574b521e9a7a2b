// Package handlers provides HTTP handlers for decision engine output.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/aristath/coffer/internal/decision"
	"github.com/rs/zerolog"
)

// Evaluator runs one on-demand scoring cycle against fresh metrics.
type Evaluator interface {
	EvaluateNow() error
}

// DecisionHandlers contains HTTP handlers for the decision API
type DecisionHandlers struct {
	repo      *decision.Repository
	evaluator Evaluator
	log       zerolog.Logger
}

// NewDecisionHandlers creates a new decision handlers instance
func NewDecisionHandlers(repo *decision.Repository, evaluator Evaluator, log zerolog.Logger) *DecisionHandlers {
	return &DecisionHandlers{
		repo:      repo,
		evaluator: evaluator,
		log:       log.With().Str("handler", "decision").Logger(),
	}
}

// HandleGetLatest returns the most recent recommendation.
// GET /api/recommendations/latest
func (h *DecisionHandlers) HandleGetLatest(w http.ResponseWriter, r *http.Request) {
	rec, err := h.repo.Latest()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to get latest recommendation")
		http.Error(w, "Failed to get latest recommendation", http.StatusInternalServerError)
		return
	}
	if rec == nil {
		http.Error(w, "No recommendation yet", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rec)
}

// HandleGetHistory returns recent recommendations, newest first.
// GET /api/recommendations
func (h *DecisionHandlers) HandleGetHistory(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if limitParam := r.URL.Query().Get("limit"); limitParam != "" {
		if parsed, err := strconv.Atoi(limitParam); err == nil {
			limit = parsed
		}
	}

	recs, err := h.repo.List(limit)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to get recommendation history")
		http.Error(w, "Failed to get recommendation history", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(recs)
}

// HandleEvaluate runs a scoring cycle immediately instead of waiting
// for the next scheduled one.
// POST /api/recommendations/evaluate
func (h *DecisionHandlers) HandleEvaluate(w http.ResponseWriter, r *http.Request) {
	if err := h.evaluator.EvaluateNow(); err != nil {
		h.log.Error().Err(err).Msg("On-demand evaluation failed")
		http.Error(w, "Evaluation failed", http.StatusInternalServerError)
		return
	}

	rec, err := h.repo.Latest()
	if err != nil || rec == nil {
		http.Error(w, "Evaluation produced no recommendation", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rec)
}
