package reliability

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// SnapshotStore keeps msgpack-encoded point-in-time snapshots in the
// cache database, keyed by name. Used to persist the latest ledger
// overview across restarts without touching the accounting tables.
type SnapshotStore struct {
	db *sql.DB
}

// NewSnapshotStore creates a snapshot store.
func NewSnapshotStore(db *sql.DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

// Put encodes v with msgpack and stores it under key.
func (s *SnapshotStore) Put(key string, v interface{}) error {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot %s: %w", key, err)
	}

	_, err = s.db.Exec(`
		INSERT INTO snapshots (key, data, created_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET data = excluded.data, created_at = excluded.created_at`,
		key, data, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to store snapshot %s: %w", key, err)
	}
	return nil
}

// Get decodes the snapshot under key into v. Returns false when no
// snapshot exists.
func (s *SnapshotStore) Get(key string, v interface{}) (bool, error) {
	var data []byte
	err := s.db.QueryRow(`SELECT data FROM snapshots WHERE key = ?`, key).Scan(&data)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load snapshot %s: %w", key, err)
	}

	if err := msgpack.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("failed to decode snapshot %s: %w", key, err)
	}
	return true, nil
}
