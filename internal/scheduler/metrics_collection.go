package scheduler

import (
	"context"
	"time"

	"github.com/aristath/coffer/internal/feed"
	"github.com/rs/zerolog"
)

const collectionTimeout = 60 * time.Second

// MetricsCollectionJob polls the data feed and stores enriched venue
// metrics on a fixed cadence.
type MetricsCollectionJob struct {
	service *feed.Service
	log     zerolog.Logger
}

// NewMetricsCollectionJob creates a new metrics collection job
func NewMetricsCollectionJob(service *feed.Service, log zerolog.Logger) *MetricsCollectionJob {
	return &MetricsCollectionJob{
		service: service,
		log:     log.With().Str("job", "metrics_collection").Logger(),
	}
}

// Name returns the job name
func (j *MetricsCollectionJob) Name() string {
	return "metrics_collection"
}

// Run executes one collection cycle
func (j *MetricsCollectionJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), collectionTimeout)
	defer cancel()

	metrics, err := j.service.Collect(ctx)
	if err != nil {
		return err
	}

	j.log.Info().Int("venue_count", len(metrics)).Msg("Metrics collected")
	return nil
}
