package rebalancing

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// HistoryRepository persists rebalance requests to the ledger database.
type HistoryRepository struct {
	db *sql.DB
}

// NewHistoryRepository creates a repository over the rebalances table.
func NewHistoryRepository(db *sql.DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// Save upserts a request record. Called on every phase transition so
// the table reflects in-flight state, not just terminal outcomes.
func (r *HistoryRepository) Save(req *Request) error {
	snapshot := ""
	if len(req.Snapshot) > 0 {
		data, err := json.Marshal(req.Snapshot)
		if err != nil {
			return fmt.Errorf("failed to marshal snapshot for %s: %w", req.ID, err)
		}
		snapshot = string(data)
	}

	_, err := r.db.Exec(`
		INSERT INTO rebalances (id, source, target, phase, withdrawn, deposited, slippage, error, snapshot, requested_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			phase = excluded.phase,
			withdrawn = excluded.withdrawn,
			deposited = excluded.deposited,
			slippage = excluded.slippage,
			error = excluded.error,
			snapshot = excluded.snapshot,
			updated_at = excluded.updated_at`,
		req.ID, req.Source, req.Target, string(req.Phase),
		req.Withdrawn, req.Deposited, req.Slippage, req.Error, snapshot,
		req.RequestedBy, req.CreatedAt.Unix(), req.UpdatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to save rebalance %s: %w", req.ID, err)
	}
	return nil
}

// Get returns a single request by ID.
func (r *HistoryRepository) Get(id string) (*Request, error) {
	row := r.db.QueryRow(`
		SELECT id, source, target, phase, withdrawn, deposited, slippage, error, snapshot, requested_by, created_at, updated_at
		FROM rebalances WHERE id = ?`, id)
	return scanRequest(row)
}

// LatestFailed returns the newest failed request, or nil when every
// recorded rebalance completed. Consulted at startup: idle funds in
// the ledger plus a failed request on record mean an incomplete
// rebalance survived a restart.
func (r *HistoryRepository) LatestFailed() (*Request, error) {
	row := r.db.QueryRow(`
		SELECT id, source, target, phase, withdrawn, deposited, slippage, error, snapshot, requested_by, created_at, updated_at
		FROM rebalances WHERE phase = ? ORDER BY updated_at DESC, created_at DESC LIMIT 1`,
		string(PhaseFailed))
	return scanRequest(row)
}

// List returns the most recent requests, newest first.
func (r *HistoryRepository) List(limit int) ([]*Request, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Query(`
		SELECT id, source, target, phase, withdrawn, deposited, slippage, error, snapshot, requested_by, created_at, updated_at
		FROM rebalances ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list rebalances: %w", err)
	}
	defer rows.Close()

	var out []*Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRequest(s scanner) (*Request, error) {
	var req Request
	var phase, snapshot string
	var createdAt, updatedAt int64
	err := s.Scan(&req.ID, &req.Source, &req.Target, &phase,
		&req.Withdrawn, &req.Deposited, &req.Slippage, &req.Error, &snapshot,
		&req.RequestedBy, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan rebalance: %w", err)
	}
	req.Phase = Phase(phase)
	req.CreatedAt = time.Unix(createdAt, 0)
	req.UpdatedAt = time.Unix(updatedAt, 0)
	if snapshot != "" {
		if err := json.Unmarshal([]byte(snapshot), &req.Snapshot); err != nil {
			return nil, fmt.Errorf("failed to unmarshal snapshot for %s: %w", req.ID, err)
		}
	}
	return &req, nil
}
