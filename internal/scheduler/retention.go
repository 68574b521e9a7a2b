package scheduler

import (
	"database/sql"
	"time"

	"github.com/aristath/coffer/internal/feed"
	"github.com/aristath/coffer/internal/ledger"
	"github.com/rs/zerolog"
)

// RetentionJob prunes old event log entries, metrics observations and
// job history so the databases stay bounded.
type RetentionJob struct {
	ledgerRepo  *ledger.Repository
	metricsRepo *feed.MetricsRepository
	cacheDB     *sql.DB
	retention   time.Duration
	log         zerolog.Logger
}

// NewRetentionJob creates a new retention job
func NewRetentionJob(
	ledgerRepo *ledger.Repository,
	metricsRepo *feed.MetricsRepository,
	cacheDB *sql.DB,
	retentionDays int,
	log zerolog.Logger,
) *RetentionJob {
	return &RetentionJob{
		ledgerRepo:  ledgerRepo,
		metricsRepo: metricsRepo,
		cacheDB:     cacheDB,
		retention:   time.Duration(retentionDays) * 24 * time.Hour,
		log:         log.With().Str("job", "retention").Logger(),
	}
}

// Name returns the job name
func (j *RetentionJob) Name() string {
	return "retention"
}

// Run prunes expired rows
func (j *RetentionJob) Run() error {
	cutoff := time.Now().Add(-j.retention)

	events, err := j.ledgerRepo.DeleteEventsBefore(cutoff)
	if err != nil {
		return err
	}

	metrics, err := j.metricsRepo.DeleteBefore(cutoff)
	if err != nil {
		return err
	}

	var jobs int64
	if j.cacheDB != nil {
		res, err := j.cacheDB.Exec(`DELETE FROM job_history WHERE ran_at < ?`, cutoff.Unix())
		if err != nil {
			return err
		}
		jobs, _ = res.RowsAffected()
	}

	j.log.Info().
		Int64("events", events).
		Int64("metrics", metrics).
		Int64("job_history", jobs).
		Time("cutoff", cutoff).
		Msg("Retention pass complete")
	return nil
}
