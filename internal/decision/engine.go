// Package decision scores candidate venues from collected metrics and
// produces rebalance recommendations.
package decision

import (
	"math"
	"sort"
	"time"

	"github.com/aristath/coffer/internal/config"
	"github.com/aristath/coffer/internal/domain"
	"github.com/rs/zerolog"
)

// Engine computes weighted venue scores and decides whether moving the
// pooled position is worth it. Scoring is deterministic: the same
// metrics always produce the same recommendation.
type Engine struct {
	weights config.ScoringConfig
	log     zerolog.Logger
	clock   func() time.Time
}

// NewEngine creates a decision engine with the configured weights.
func NewEngine(weights config.ScoringConfig, log zerolog.Logger) *Engine {
	return &Engine{
		weights: weights,
		log:     log.With().Str("component", "decision").Logger(),
		clock:   time.Now,
	}
}

// Evaluate scores every candidate and recommends a target.
//
// Components, all on a 0-100 scale:
//   - APY normalized against the best candidate (best = 100)
//   - inverted risk score (100 - risk)
//   - inverted volatility score (100 - volatility)
//   - feed confidence as-is
//
// The recommendation flips to a non-active venue only when its score
// beats the active venue's by more than the hysteresis margin, so small
// score oscillations never trigger capital movement.
func (e *Engine) Evaluate(metrics []domain.VenueMetrics, activeVenue string) domain.Recommendation {
	rec := domain.Recommendation{
		ActiveVenueID: activeVenue,
		GeneratedAt:   e.clock(),
	}
	if len(metrics) == 0 {
		return rec
	}

	var maxAPY int64
	for _, m := range metrics {
		if m.CurrentAPYBps > maxAPY {
			maxAPY = m.CurrentAPYBps
		}
	}

	scores := make([]domain.VenueScore, 0, len(metrics))
	for _, m := range metrics {
		scores = append(scores, e.scoreVenue(m, maxAPY))
	}

	// Highest score first; ties go to the active venue, then to the
	// lower-risk candidate so a dead heat never favors the riskier one.
	risk := make(map[string]float64, len(metrics))
	for _, m := range metrics {
		risk[m.VenueID] = m.RiskScore
	}
	sort.SliceStable(scores, func(i, j int) bool {
		if scores[i].Score != scores[j].Score {
			return scores[i].Score > scores[j].Score
		}
		if (scores[i].VenueID == activeVenue) != (scores[j].VenueID == activeVenue) {
			return scores[i].VenueID == activeVenue
		}
		return risk[scores[i].VenueID] < risk[scores[j].VenueID]
	})

	rec.Scores = scores
	rec.TargetVenueID = scores[0].VenueID
	rec.Confidence = topTwoGap(scores)

	if rec.TargetVenueID != activeVenue {
		activeScore, found := scoreOf(scores, activeVenue)
		// No metrics for the active venue means we cannot compare;
		// treat the winner as a clear improvement.
		if !found || scores[0].Score > activeScore+e.weights.HysteresisMargin {
			rec.ShouldRebalance = true
		} else {
			// Winner within the hysteresis band: hold position.
			rec.TargetVenueID = activeVenue
		}
	}

	e.log.Debug().
		Str("target", rec.TargetVenueID).
		Str("active", activeVenue).
		Bool("should_rebalance", rec.ShouldRebalance).
		Float64("confidence", rec.Confidence).
		Msg("Scoring cycle evaluated")
	return rec
}

// scoreVenue computes one venue's weighted score.
func (e *Engine) scoreVenue(m domain.VenueMetrics, maxAPY int64) domain.VenueScore {
	apyNorm := 0.0
	if maxAPY > 0 {
		apyNorm = float64(m.CurrentAPYBps) / float64(maxAPY) * 100
	}
	riskInv := clamp100(100 - m.RiskScore)
	volInv := clamp100(100 - m.VolatilityScore)
	conf := clamp100(m.Confidence)

	score := e.weights.APYWeight*apyNorm +
		e.weights.RiskWeight*riskInv +
		e.weights.VolatilityWeight*volInv +
		e.weights.ConfidenceWeight*conf

	return domain.VenueScore{
		VenueID:       m.VenueID,
		Score:         round3(score),
		APYComponent:  round3(apyNorm),
		RiskComponent: round3(riskInv),
		VolComponent:  round3(volInv),
		ConfComponent: round3(conf),
	}
}

// topTwoGap expresses decision confidence as the gap between the two
// best scores, as a percentage of the winner. A lone candidate is full
// confidence.
func topTwoGap(scores []domain.VenueScore) float64 {
	if len(scores) < 2 {
		return 100
	}
	if scores[0].Score <= 0 {
		return 0
	}
	gap := (scores[0].Score - scores[1].Score) / scores[0].Score * 100
	return round3(clamp100(gap))
}

func scoreOf(scores []domain.VenueScore, venueID string) (float64, bool) {
	for _, s := range scores {
		if s.VenueID == venueID {
			return s.Score, true
		}
	}
	return 0, false
}

func clamp100(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
