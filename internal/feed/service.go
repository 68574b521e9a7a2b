package feed

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/coffer/internal/domain"
	"github.com/aristath/coffer/pkg/formulas"
	"github.com/rs/zerolog"
)

const (
	// EMA period for APY smoothing, in observations.
	smoothingPeriod = 12
	// Observations used for the volatility window.
	volatilityWindow = 30
)

// Service runs the metrics collection cycle: take the freshest feed
// data available, enrich it against stored history, and persist the
// result for the decision engine.
type Service struct {
	client *Client
	stream *StreamClient // nil when no stream URL is configured
	repo   *MetricsRepository
	log    zerolog.Logger
	clock  func() time.Time
}

// NewService creates a feed service.
func NewService(client *Client, stream *StreamClient, repo *MetricsRepository, log zerolog.Logger) *Service {
	return &Service{
		client: client,
		stream: stream,
		repo:   repo,
		log:    log.With().Str("component", "feed").Logger(),
		clock:  time.Now,
	}
}

// Collect gathers one metrics observation per venue and stores it.
// Streamed data is preferred when fresh; otherwise the REST endpoint is
// polled. The stored APY is EMA-smoothed and the volatility score is
// recomputed from history, so a single spiky feed reading cannot flip
// the decision engine on its own.
func (s *Service) Collect(ctx context.Context) ([]domain.VenueMetrics, error) {
	metrics := s.freshMetrics(ctx)
	if metrics == nil {
		polled, err := s.client.FetchMetrics(ctx)
		if err != nil {
			return nil, fmt.Errorf("metrics collection failed: %w", err)
		}
		metrics = polled
	}

	now := s.clock()
	enriched := make([]domain.VenueMetrics, 0, len(metrics))
	for _, m := range metrics {
		m.CollectedAt = now
		m = s.enrich(m)
		if err := s.repo.Save(m); err != nil {
			s.log.Error().Err(err).Str("venue", m.VenueID).Msg("Failed to store metrics observation")
			continue
		}
		enriched = append(enriched, m)
	}

	s.log.Info().Int("venue_count", len(enriched)).Msg("Metrics collection cycle complete")
	return enriched, nil
}

// freshMetrics returns streamed metrics when available and fresh.
func (s *Service) freshMetrics(ctx context.Context) []domain.VenueMetrics {
	if s.stream == nil {
		return nil
	}
	cached := s.stream.CachedMetrics()
	if len(cached) == 0 {
		return nil
	}
	s.log.Debug().Int("venue_count", len(cached)).Msg("Using streamed metrics, skipping poll")
	return cached
}

// enrich smooths the APY and recomputes volatility from stored history.
// The raw observation still contributes: it is appended to the series
// before smoothing.
func (s *Service) enrich(m domain.VenueMetrics) domain.VenueMetrics {
	history, err := s.repo.History(m.VenueID, volatilityWindow)
	if err != nil {
		s.log.Warn().Err(err).Str("venue", m.VenueID).Msg("History unavailable, storing raw metrics")
		return m
	}

	apys := make([]float64, 0, len(history)+1)
	for _, h := range history {
		apys = append(apys, float64(h.CurrentAPYBps))
	}
	apys = append(apys, float64(m.CurrentAPYBps))

	if smoothed := formulas.SmoothedRate(apys, smoothingPeriod); smoothed != nil {
		m.CurrentAPYBps = int64(*smoothed)
	}
	if len(apys) >= 2 {
		m.VolatilityScore = formulas.RateVolatility(apys)
	}
	return m
}

// Latest returns the newest stored observation per venue.
func (s *Service) Latest() ([]domain.VenueMetrics, error) {
	return s.repo.Latest()
}

// History exposes one venue's stored observations, oldest first.
func (s *Service) History(venue string, limit int) ([]domain.VenueMetrics, error) {
	return s.repo.History(venue, limit)
}

// StreamConnected reports whether the websocket stream is live.
func (s *Service) StreamConnected() bool {
	return s.stream != nil && s.stream.IsConnected()
}
