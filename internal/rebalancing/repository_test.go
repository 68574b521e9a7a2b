package rebalancing

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/coffer/internal/database"
)

func newTestHistoryRepo(t *testing.T) *HistoryRepository {
	t.Helper()

	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), "ledger.db"),
		Profile: database.ProfileLedger,
		Name:    "ledger",
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { db.Close() })

	return NewHistoryRepository(db.Conn())
}

func sampleRequest(at time.Time) *Request {
	return &Request{
		ID:          uuid.NewString(),
		Source:      "venue-a",
		Target:      "venue-b",
		Phase:       PhaseRequested,
		RequestedBy: "agent-key",
		CreatedAt:   at,
		UpdatedAt:   at,
	}
}

// TestHistoryRepository_GetMissing verifies an unknown ID returns nil
// without an error.
func TestHistoryRepository_GetMissing(t *testing.T) {
	repo := newTestHistoryRepo(t)

	req, err := repo.Get("no-such-id")
	require.NoError(t, err)
	assert.Nil(t, req)
}

// TestHistoryRepository_PhaseUpsert verifies each phase transition
// updates the same row instead of inserting a new one.
func TestHistoryRepository_PhaseUpsert(t *testing.T) {
	repo := newTestHistoryRepo(t)
	at := time.Now().Truncate(time.Second)

	req := sampleRequest(at)
	require.NoError(t, repo.Save(req))

	req.Phase = PhaseCompleted
	req.Withdrawn = 1_000_000
	req.Deposited = 999_000
	req.Slippage = 1_000
	req.UpdatedAt = at.Add(time.Second)
	require.NoError(t, repo.Save(req))

	stored, err := repo.Get(req.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, PhaseCompleted, stored.Phase)
	assert.Equal(t, uint64(1_000_000), stored.Withdrawn)
	assert.Equal(t, uint64(999_000), stored.Deposited)
	assert.Equal(t, uint64(1_000), stored.Slippage)
	assert.Equal(t, "agent-key", stored.RequestedBy)
	assert.True(t, stored.UpdatedAt.After(stored.CreatedAt))

	all, err := repo.List(10)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

// TestHistoryRepository_List verifies newest-first ordering and the
// failure record round-trip.
func TestHistoryRepository_List(t *testing.T) {
	repo := newTestHistoryRepo(t)
	base := time.Now().Add(-time.Hour).Truncate(time.Second)

	old := sampleRequest(base)
	require.NoError(t, repo.Save(old))

	failed := sampleRequest(base.Add(time.Minute))
	failed.Phase = PhaseFailed
	failed.Withdrawn = 500_000
	failed.Error = "target deposit failed: venue offline"
	require.NoError(t, repo.Save(failed))

	list, err := repo.List(10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, failed.ID, list[0].ID)
	assert.Equal(t, "target deposit failed: venue offline", list[0].Error)
	assert.Equal(t, PhaseFailed, list[0].Phase)
	assert.Equal(t, old.ID, list[1].ID)
}

// TestHistoryRepository_SnapshotRoundTrip verifies the per-depositor
// snapshot attached to a failed request survives storage intact.
func TestHistoryRepository_SnapshotRoundTrip(t *testing.T) {
	repo := newTestHistoryRepo(t)

	req := sampleRequest(time.Now().Truncate(time.Second))
	req.Phase = PhaseFailed
	req.Withdrawn = 1_000_000
	req.Snapshot = map[string]uint64{"alice": 600_000, "bob": 400_000}
	require.NoError(t, repo.Save(req))

	stored, err := repo.Get(req.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, req.Snapshot, stored.Snapshot)

	// Requests without a snapshot come back with none.
	plain := sampleRequest(time.Now().Truncate(time.Second))
	require.NoError(t, repo.Save(plain))
	stored, err = repo.Get(plain.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Nil(t, stored.Snapshot)
}

// TestHistoryRepository_LatestFailed verifies the most recent failed
// request is returned and completed requests are ignored.
func TestHistoryRepository_LatestFailed(t *testing.T) {
	repo := newTestHistoryRepo(t)
	base := time.Now().Add(-time.Hour).Truncate(time.Second)

	req, err := repo.LatestFailed()
	require.NoError(t, err)
	assert.Nil(t, req)

	done := sampleRequest(base)
	done.Phase = PhaseCompleted
	require.NoError(t, repo.Save(done))

	older := sampleRequest(base.Add(time.Minute))
	older.Phase = PhaseFailed
	older.Snapshot = map[string]uint64{"alice": 100}
	require.NoError(t, repo.Save(older))

	newer := sampleRequest(base.Add(2 * time.Minute))
	newer.Phase = PhaseFailed
	newer.Snapshot = map[string]uint64{"alice": 200}
	require.NoError(t, repo.Save(newer))

	req, err = repo.LatestFailed()
	require.NoError(t, err)
	require.NotNil(t, req)
	assert.Equal(t, newer.ID, req.ID)
	assert.Equal(t, uint64(200), req.Snapshot["alice"])
}
