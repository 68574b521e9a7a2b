package feed

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/aristath/coffer/internal/domain"
)

// MetricsRepository persists venue metrics time series to the market
// database.
type MetricsRepository struct {
	db *sql.DB
}

// NewMetricsRepository creates a metrics repository.
func NewMetricsRepository(db *sql.DB) *MetricsRepository {
	return &MetricsRepository{db: db}
}

// Save appends one metrics observation.
func (r *MetricsRepository) Save(m domain.VenueMetrics) error {
	_, err := r.db.Exec(`
		INSERT INTO venue_metrics (venue, apy_bps, risk_score, volatility_score, tvl, confidence, collected_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.VenueID, m.CurrentAPYBps, m.RiskScore, m.VolatilityScore,
		m.TotalValueLocked, m.Confidence, m.CollectedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to save metrics for %s: %w", m.VenueID, err)
	}
	return nil
}

// History returns the most recent observations for one venue, oldest
// first so callers can feed them straight into the smoothing math.
func (r *MetricsRepository) History(venue string, limit int) ([]domain.VenueMetrics, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Query(`
		SELECT venue, apy_bps, risk_score, volatility_score, tvl, confidence, collected_at
		FROM venue_metrics WHERE venue = ?
		ORDER BY collected_at DESC LIMIT ?`, venue, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query metrics history for %s: %w", venue, err)
	}
	defer rows.Close()

	var out []domain.VenueMetrics
	for rows.Next() {
		m, err := scanMetrics(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse from newest-first query order to chronological.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// Latest returns the newest observation per venue.
func (r *MetricsRepository) Latest() ([]domain.VenueMetrics, error) {
	rows, err := r.db.Query(`
		SELECT venue, apy_bps, risk_score, volatility_score, tvl, confidence, MAX(collected_at)
		FROM venue_metrics GROUP BY venue ORDER BY venue`)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest metrics: %w", err)
	}
	defer rows.Close()

	var out []domain.VenueMetrics
	for rows.Next() {
		m, err := scanMetrics(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// DeleteBefore prunes observations older than the cutoff. Returns the
// number of rows removed.
func (r *MetricsRepository) DeleteBefore(cutoff time.Time) (int64, error) {
	res, err := r.db.Exec(`DELETE FROM venue_metrics WHERE collected_at < ?`, cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to prune metrics: %w", err)
	}
	return res.RowsAffected()
}

func scanMetrics(rows *sql.Rows) (domain.VenueMetrics, error) {
	var m domain.VenueMetrics
	var collectedAt int64
	err := rows.Scan(&m.VenueID, &m.CurrentAPYBps, &m.RiskScore,
		&m.VolatilityScore, &m.TotalValueLocked, &m.Confidence, &collectedAt)
	if err != nil {
		return m, fmt.Errorf("failed to scan metrics: %w", err)
	}
	m.CollectedAt = time.Unix(collectedAt, 0)
	return m, nil
}
