package reliability

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/coffer/internal/database"
)

// TestSnapshotStore verifies the msgpack round trip and key overwrite.
func TestSnapshotStore(t *testing.T) {
	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), "cache.db"),
		Profile: database.ProfileCache,
		Name:    "cache",
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { db.Close() })

	store := NewSnapshotStore(db.Conn())

	type overview struct {
		TotalAssets uint64 `msgpack:"total_assets"`
		Venue       string `msgpack:"venue"`
	}

	var missing overview
	found, err := store.Get("vault-overview", &missing)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, store.Put("vault-overview", overview{TotalAssets: 1_000_000, Venue: "venue-a"}))
	require.NoError(t, store.Put("vault-overview", overview{TotalAssets: 2_000_000, Venue: "venue-b"}))

	var got overview
	found, err = store.Get("vault-overview", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, uint64(2_000_000), got.TotalAssets)
	assert.Equal(t, "venue-b", got.Venue)
}
