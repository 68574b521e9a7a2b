package feed

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/coffer/internal/database"
	"github.com/aristath/coffer/internal/domain"
)

// newTestRepo builds a metrics repository over a fresh market database.
func newTestRepo(t *testing.T) *MetricsRepository {
	t.Helper()

	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), "market.db"),
		Profile: database.ProfileStandard,
		Name:    "market",
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { db.Close() })

	return NewMetricsRepository(db.Conn())
}

func observation(venue string, apyBps int64, at time.Time) domain.VenueMetrics {
	return domain.VenueMetrics{
		VenueID:       venue,
		CurrentAPYBps: apyBps,
		RiskScore:     20,
		Confidence:    95,
		CollectedAt:   at,
	}
}

// TestMetricsRepository_History verifies observations come back oldest
// first and the limit keeps the newest rows.
func TestMetricsRepository_History(t *testing.T) {
	repo := newTestRepo(t)
	base := time.Now().Add(-time.Hour).Truncate(time.Second)

	for i, apy := range []int64{400, 450, 500, 550} {
		require.NoError(t, repo.Save(observation("venue-a", apy, base.Add(time.Duration(i)*time.Minute))))
	}
	require.NoError(t, repo.Save(observation("venue-b", 999, base)))

	history, err := repo.History("venue-a", 3)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, int64(450), history[0].CurrentAPYBps)
	assert.Equal(t, int64(550), history[2].CurrentAPYBps)

	history, err = repo.History("venue-z", 10)
	require.NoError(t, err)
	assert.Empty(t, history)
}

// TestMetricsRepository_Latest verifies one newest row per venue.
func TestMetricsRepository_Latest(t *testing.T) {
	repo := newTestRepo(t)
	base := time.Now().Add(-time.Hour).Truncate(time.Second)

	require.NoError(t, repo.Save(observation("venue-a", 400, base)))
	require.NoError(t, repo.Save(observation("venue-a", 500, base.Add(time.Minute))))
	require.NoError(t, repo.Save(observation("venue-b", 700, base)))

	latest, err := repo.Latest()
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, "venue-a", latest[0].VenueID)
	assert.Equal(t, int64(500), latest[0].CurrentAPYBps)
	assert.Equal(t, "venue-b", latest[1].VenueID)
	assert.Equal(t, int64(700), latest[1].CurrentAPYBps)
}

// TestMetricsRepository_DeleteBefore verifies pruning by cutoff.
func TestMetricsRepository_DeleteBefore(t *testing.T) {
	repo := newTestRepo(t)
	base := time.Now().Truncate(time.Second)

	require.NoError(t, repo.Save(observation("venue-a", 400, base.Add(-48*time.Hour))))
	require.NoError(t, repo.Save(observation("venue-a", 500, base)))

	removed, err := repo.DeleteBefore(base.Add(-24 * time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	history, err := repo.History("venue-a", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, int64(500), history[0].CurrentAPYBps)
}
