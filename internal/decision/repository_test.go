package decision

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/coffer/internal/database"
	"github.com/aristath/coffer/internal/domain"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()

	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), "market.db"),
		Profile: database.ProfileStandard,
		Name:    "market",
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { db.Close() })

	return NewRepository(db.Conn())
}

func sampleRecommendation(target string, at time.Time) domain.Recommendation {
	return domain.Recommendation{
		ShouldRebalance: target != "venue-a",
		TargetVenueID:   target,
		ActiveVenueID:   "venue-a",
		Confidence:      10.548,
		Scores: []domain.VenueScore{
			{VenueID: "venue-a", Score: 79, APYComponent: 41.667, RiskComponent: 80},
			{VenueID: target, Score: 70.667, APYComponent: 100, RiskComponent: 30},
		},
		GeneratedAt: at,
	}
}

// TestRepository_LatestEmpty verifies a fresh database has no
// recommendation rather than an error.
func TestRepository_LatestEmpty(t *testing.T) {
	repo := newTestRepo(t)

	rec, err := repo.Latest()
	require.NoError(t, err)
	assert.Nil(t, rec)
}

// TestRepository_SaveAndLatest round-trips one recommendation including
// its per-venue score breakdown.
func TestRepository_SaveAndLatest(t *testing.T) {
	repo := newTestRepo(t)
	at := time.Now().Truncate(time.Second)

	require.NoError(t, repo.Save(sampleRecommendation("venue-b", at)))

	rec, err := repo.Latest()
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.True(t, rec.ShouldRebalance)
	assert.Equal(t, "venue-b", rec.TargetVenueID)
	assert.Equal(t, "venue-a", rec.ActiveVenueID)
	assert.Equal(t, 10.548, rec.Confidence)
	assert.True(t, rec.GeneratedAt.Equal(at))

	require.Len(t, rec.Scores, 2)
	assert.Equal(t, "venue-a", rec.Scores[0].VenueID)
	assert.Equal(t, float64(79), rec.Scores[0].Score)
	assert.Equal(t, 41.667, rec.Scores[0].APYComponent)
}

// TestRepository_List verifies newest-first ordering and the limit.
func TestRepository_List(t *testing.T) {
	repo := newTestRepo(t)
	base := time.Now().Add(-time.Hour).Truncate(time.Second)

	require.NoError(t, repo.Save(sampleRecommendation("venue-a", base)))
	require.NoError(t, repo.Save(sampleRecommendation("venue-b", base.Add(time.Minute))))
	require.NoError(t, repo.Save(sampleRecommendation("venue-c", base.Add(2*time.Minute))))

	recs, err := repo.List(2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "venue-c", recs[0].TargetVenueID)
	assert.Equal(t, "venue-b", recs[1].TargetVenueID)
}
