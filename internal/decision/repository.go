package decision

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aristath/coffer/internal/domain"
)

// Repository persists recommendations to the market database.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a recommendation repository.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Save appends one scoring cycle's recommendation.
func (r *Repository) Save(rec domain.Recommendation) error {
	scoresJSON, err := json.Marshal(rec.Scores)
	if err != nil {
		return fmt.Errorf("failed to marshal scores: %w", err)
	}

	_, err = r.db.Exec(`
		INSERT INTO recommendations (should_rebalance, target_venue, active_venue, confidence, scores_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		boolToInt(rec.ShouldRebalance), rec.TargetVenueID, rec.ActiveVenueID,
		rec.Confidence, string(scoresJSON), rec.GeneratedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to save recommendation: %w", err)
	}
	return nil
}

// Latest returns the most recent recommendation, or nil when no scoring
// cycle has run yet.
func (r *Repository) Latest() (*domain.Recommendation, error) {
	row := r.db.QueryRow(`
		SELECT should_rebalance, target_venue, active_venue, confidence, scores_json, created_at
		FROM recommendations ORDER BY created_at DESC, id DESC LIMIT 1`)

	rec, err := scanRecommendation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

// List returns recent recommendations, newest first.
func (r *Repository) List(limit int) ([]*domain.Recommendation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Query(`
		SELECT should_rebalance, target_venue, active_venue, confidence, scores_json, created_at
		FROM recommendations ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recommendations: %w", err)
	}
	defer rows.Close()

	var out []*domain.Recommendation
	for rows.Next() {
		rec, err := scanRecommendation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecommendation(s scanner) (*domain.Recommendation, error) {
	var rec domain.Recommendation
	var shouldRebalance int
	var scoresJSON string
	var createdAt int64
	err := s.Scan(&shouldRebalance, &rec.TargetVenueID, &rec.ActiveVenueID,
		&rec.Confidence, &scoresJSON, &createdAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan recommendation: %w", err)
	}
	rec.ShouldRebalance = shouldRebalance != 0
	rec.GeneratedAt = time.Unix(createdAt, 0)
	if err := json.Unmarshal([]byte(scoresJSON), &rec.Scores); err != nil {
		return nil, fmt.Errorf("failed to unmarshal scores: %w", err)
	}
	return &rec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
