package strategy

import (
	"database/sql"
	"fmt"
	"time"
)

// PrincipalStore persists per-depositor principal and settled yield for
// each adapter, so adapter accounting survives process restarts. Each
// adapter exclusively owns its own rows; no other component writes them.
type PrincipalStore struct {
	db *sql.DB
}

// NewPrincipalStore creates a principal store over the ledger database.
func NewPrincipalStore(db *sql.DB) *PrincipalStore {
	return &PrincipalStore{db: db}
}

// Upsert writes one depositor entry for a venue.
func (s *PrincipalStore) Upsert(venue, depositor string, e *principalEntry) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO adapter_principals (venue, depositor, principal, accrued, deposited_at)
		 VALUES (?, ?, ?, ?, ?)`,
		venue, depositor, int64(e.principal), int64(e.accrued), e.since.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to persist principal for %s/%s: %w", venue, depositor, err)
	}
	return nil
}

// Delete removes one depositor entry for a venue.
func (s *PrincipalStore) Delete(venue, depositor string) error {
	_, err := s.db.Exec(
		"DELETE FROM adapter_principals WHERE venue = ? AND depositor = ?",
		venue, depositor,
	)
	if err != nil {
		return fmt.Errorf("failed to delete principal for %s/%s: %w", venue, depositor, err)
	}
	return nil
}

// DeleteVenue removes all entries for a venue. Used by emergency
// withdrawal, which zeroes the adapter's accounting.
func (s *PrincipalStore) DeleteVenue(venue string) error {
	_, err := s.db.Exec("DELETE FROM adapter_principals WHERE venue = ?", venue)
	if err != nil {
		return fmt.Errorf("failed to delete principals for %s: %w", venue, err)
	}
	return nil
}

// Load reads all persisted entries for a venue.
func (s *PrincipalStore) Load(venue string) (map[string]*principalEntry, error) {
	rows, err := s.db.Query(
		"SELECT depositor, principal, accrued, deposited_at FROM adapter_principals WHERE venue = ?",
		venue,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load principals for %s: %w", venue, err)
	}
	defer rows.Close()

	entries := make(map[string]*principalEntry)
	for rows.Next() {
		var depositor string
		var principal, accrued, depositedAt int64
		if err := rows.Scan(&depositor, &principal, &accrued, &depositedAt); err != nil {
			return nil, fmt.Errorf("failed to scan principal row: %w", err)
		}
		entries[depositor] = &principalEntry{
			principal: uint64(principal),
			accrued:   uint64(accrued),
			since:     time.Unix(depositedAt, 0),
		}
	}
	return entries, rows.Err()
}
