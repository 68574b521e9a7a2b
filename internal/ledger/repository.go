package ledger

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/aristath/coffer/internal/domain"
)

// State is the persistable scalar portion of the ledger.
type State struct {
	TotalAssets   uint64
	TotalShares   uint64
	IdleBalance   uint64
	ActiveAdapter string
	Locked        bool
	Halted        bool
}

// Repository persists ledger state, share balances and the append-only
// event log in the ledger database. Mutations commit in one transaction
// so the durable record can never hold a half-applied operation.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a ledger repository and ensures the singleton
// state row exists.
func NewRepository(db *sql.DB) (*Repository, error) {
	r := &Repository{db: db}
	_, err := db.Exec(
		"INSERT OR IGNORE INTO ledger_state (id, updated_at) VALUES (1, ?)",
		time.Now().Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to seed ledger state row: %w", err)
	}
	return r, nil
}

// LoadState reads the persisted scalar state and all share balances.
func (r *Repository) LoadState() (State, map[string]uint64, error) {
	var s State
	var lockedInt, haltedInt int
	var totalAssets, totalShares, idle int64

	err := r.db.QueryRow(
		`SELECT total_assets, total_shares, idle_balance, active_adapter, locked, halted
		 FROM ledger_state WHERE id = 1`,
	).Scan(&totalAssets, &totalShares, &idle, &s.ActiveAdapter, &lockedInt, &haltedInt)
	if err != nil {
		return State{}, nil, fmt.Errorf("failed to load ledger state: %w", err)
	}
	s.TotalAssets = uint64(totalAssets)
	s.TotalShares = uint64(totalShares)
	s.IdleBalance = uint64(idle)
	s.Locked = lockedInt != 0
	s.Halted = haltedInt != 0

	rows, err := r.db.Query("SELECT depositor, shares FROM share_balances")
	if err != nil {
		return State{}, nil, fmt.Errorf("failed to load share balances: %w", err)
	}
	defer rows.Close()

	shares := make(map[string]uint64)
	for rows.Next() {
		var depositor string
		var held int64
		if err := rows.Scan(&depositor, &held); err != nil {
			return State{}, nil, fmt.Errorf("failed to scan share balance: %w", err)
		}
		if held > 0 {
			shares[depositor] = uint64(held)
		}
	}
	return s, shares, rows.Err()
}

// Commit writes the mutated scalar state, the affected depositor's
// share balance and the event record in one transaction. depositor ""
// means no share balance changed in this mutation.
func (r *Repository) Commit(s State, depositor string, shares uint64, ev domain.Event) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin ledger commit: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`UPDATE ledger_state
		 SET total_assets = ?, total_shares = ?, idle_balance = ?,
		     active_adapter = ?, locked = ?, halted = ?, updated_at = ?
		 WHERE id = 1`,
		int64(s.TotalAssets), int64(s.TotalShares), int64(s.IdleBalance),
		s.ActiveAdapter, boolToInt(s.Locked), boolToInt(s.Halted),
		ev.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to update ledger state: %w", err)
	}

	if depositor != "" {
		if shares == 0 {
			_, err = tx.Exec("DELETE FROM share_balances WHERE depositor = ?", depositor)
		} else {
			_, err = tx.Exec(
				"INSERT OR REPLACE INTO share_balances (depositor, shares) VALUES (?, ?)",
				depositor, int64(shares),
			)
		}
		if err != nil {
			return fmt.Errorf("failed to update share balance: %w", err)
		}
	}

	if err := insertEvent(tx, ev); err != nil {
		return err
	}

	return tx.Commit()
}

// Append writes one event outside a state mutation (coordinator
// records, halt markers).
func (r *Repository) Append(ev domain.Event) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin event append: %w", err)
	}
	defer tx.Rollback()

	if err := insertEvent(tx, ev); err != nil {
		return err
	}
	return tx.Commit()
}

func insertEvent(tx *sql.Tx, ev domain.Event) error {
	_, err := tx.Exec(
		`INSERT INTO ledger_events (event_id, operation, actor, amount, shares, venue, detail, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.EventID, ev.Operation, ev.Actor, int64(ev.Amount), int64(ev.Shares),
		ev.Venue, ev.Detail, ev.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

// ListEvents returns the most recent events, newest first, optionally
// filtered by operation.
func (r *Repository) ListEvents(limit int, operation string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT seq, event_id, operation, actor, amount, shares, venue, detail, created_at
	          FROM ledger_events WHERE 1=1`
	args := []interface{}{}

	if operation != "" {
		query += " AND operation = ?"
		args = append(args, operation)
	}

	query += " ORDER BY seq DESC LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	events := make([]domain.Event, 0)
	for rows.Next() {
		var ev domain.Event
		var amount, shares, createdAt int64
		if err := rows.Scan(&ev.Seq, &ev.EventID, &ev.Operation, &ev.Actor,
			&amount, &shares, &ev.Venue, &ev.Detail, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		ev.Amount = uint64(amount)
		ev.Shares = uint64(shares)
		ev.CreatedAt = time.Unix(createdAt, 0)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// DeleteEventsBefore removes events older than cutoff and reports how
// many were deleted. Used by the retention cleanup job.
func (r *Repository) DeleteEventsBefore(cutoff time.Time) (int64, error) {
	res, err := r.db.Exec("DELETE FROM ledger_events WHERE created_at < ?", cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to delete old events: %w", err)
	}
	return res.RowsAffected()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
