// Package scheduler runs the background jobs: metrics collection, the
// decision cycle, backups, and event log retention.
package scheduler

import (
	"database/sql"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job represents a scheduled job
type Job interface {
	Run() error
	Name() string
}

// Scheduler manages background jobs
type Scheduler struct {
	cron    *cron.Cron
	cacheDB *sql.DB // nil disables job history recording
	log     zerolog.Logger
}

// New creates a new scheduler
func New(cacheDB *sql.DB, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron:    cron.New(cron.WithSeconds()),
		cacheDB: cacheDB,
		log:     log.With().Str("component", "scheduler").Logger(),
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Msg("Scheduler started")
}

// Stop stops the scheduler and waits for running jobs to finish
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("Scheduler stopped")
}

// AddJob registers a new job with cron schedule
// Schedule examples:
//   - "0 */5 * * * *"      - Every 5 minutes
//   - "@hourly"            - Every hour
//   - "@every 30s"         - Every 30 seconds
func (s *Scheduler) AddJob(schedule string, job Job) error {
	_, err := s.cron.AddFunc(schedule, func() {
		s.log.Debug().Str("job", job.Name()).Msg("Running job")
		start := time.Now()

		err := job.Run()
		duration := time.Since(start)

		if err != nil {
			s.log.Error().
				Err(err).
				Str("job", job.Name()).
				Dur("duration", duration).
				Msg("Job failed")
		} else {
			s.log.Debug().
				Str("job", job.Name()).
				Dur("duration", duration).
				Msg("Job completed")
		}

		s.recordRun(job.Name(), err, duration)
	})

	if err != nil {
		return err
	}

	s.log.Info().
		Str("schedule", schedule).
		Str("job", job.Name()).
		Msg("Job registered")

	return nil
}

// RunNow executes a job immediately (outside schedule)
func (s *Scheduler) RunNow(job Job) error {
	s.log.Info().Str("job", job.Name()).Msg("Running job immediately")
	return job.Run()
}

// recordRun appends one run to the job history table.
func (s *Scheduler) recordRun(name string, runErr error, duration time.Duration) {
	if s.cacheDB == nil {
		return
	}

	errText := ""
	success := 1
	if runErr != nil {
		errText = runErr.Error()
		success = 0
	}

	_, err := s.cacheDB.Exec(`
		INSERT INTO job_history (job, success, error, duration_ms, ran_at)
		VALUES (?, ?, ?, ?, ?)`,
		name, success, errText, duration.Milliseconds(), time.Now().Unix())
	if err != nil {
		s.log.Warn().Err(err).Str("job", name).Msg("Failed to record job history")
	}
}
