package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/aristath/coffer/internal/decision"
	"github.com/aristath/coffer/internal/domain"
	"github.com/aristath/coffer/internal/feed"
	"github.com/aristath/coffer/internal/ledger"
	"github.com/aristath/coffer/internal/rebalancing"
	"github.com/rs/zerolog"
)

const rebalanceTimeout = 2 * time.Minute

// DecisionCycleJob scores the latest stored metrics and, when the
// autonomous agent is enabled, acts on the recommendation.
type DecisionCycleJob struct {
	feedService *feed.Service
	engine      *decision.Engine
	repo        *decision.Repository
	led         *ledger.Ledger
	coordinator *rebalancing.Coordinator

	// Acting requires a configured agent credential; an empty key
	// leaves the job in recommend-only mode.
	autoRebalance bool
	agentKey      string

	log zerolog.Logger
}

// DecisionCycleConfig holds configuration for the decision cycle job
type DecisionCycleConfig struct {
	FeedService   *feed.Service
	Engine        *decision.Engine
	Repo          *decision.Repository
	Ledger        *ledger.Ledger
	Coordinator   *rebalancing.Coordinator
	AutoRebalance bool
	AgentKey      string
	Log           zerolog.Logger
}

// NewDecisionCycleJob creates a new decision cycle job
func NewDecisionCycleJob(cfg DecisionCycleConfig) *DecisionCycleJob {
	return &DecisionCycleJob{
		feedService:   cfg.FeedService,
		engine:        cfg.Engine,
		repo:          cfg.Repo,
		led:           cfg.Ledger,
		coordinator:   cfg.Coordinator,
		autoRebalance: cfg.AutoRebalance,
		agentKey:      cfg.AgentKey,
		log:           cfg.Log.With().Str("job", "decision_cycle").Logger(),
	}
}

// Name returns the job name
func (j *DecisionCycleJob) Name() string {
	return "decision_cycle"
}

// Run evaluates and optionally acts
func (j *DecisionCycleJob) Run() error {
	rec, err := j.evaluate()
	if err != nil {
		return err
	}
	if rec == nil {
		return nil
	}

	if !rec.ShouldRebalance {
		return nil
	}
	if !j.autoRebalance || j.agentKey == "" {
		j.log.Info().
			Str("target", rec.TargetVenueID).
			Msg("Rebalance recommended, agent disabled, awaiting operator")
		return nil
	}

	return j.act(rec)
}

// EvaluateNow runs one scoring cycle without acting on the result.
func (j *DecisionCycleJob) EvaluateNow() error {
	_, err := j.evaluate()
	return err
}

// evaluate scores the latest metrics and persists the recommendation.
func (j *DecisionCycleJob) evaluate() (*domain.Recommendation, error) {
	metrics, err := j.feedService.Latest()
	if err != nil {
		return nil, err
	}
	if len(metrics) == 0 {
		j.log.Debug().Msg("No metrics collected yet, skipping decision cycle")
		return nil, nil
	}

	rec := j.engine.Evaluate(metrics, j.led.ActiveStrategy())
	if err := j.repo.Save(rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// act executes the recommended rebalance with the agent credential.
func (j *DecisionCycleJob) act(rec *domain.Recommendation) error {
	ctx, cancel := context.WithTimeout(context.Background(), rebalanceTimeout)
	defer cancel()

	req, err := j.coordinator.Execute(ctx, j.agentKey, rec.TargetVenueID)
	if err != nil {
		// A locked strategy or an unhealthy target are expected
		// operational states, not job failures.
		if errors.Is(err, domain.ErrStrategyLocked) || errors.Is(err, domain.ErrVenueUnhealthy) {
			j.log.Warn().Err(err).Str("target", rec.TargetVenueID).
				Msg("Recommended rebalance skipped")
			return nil
		}
		return err
	}

	j.log.Info().
		Str("request", req.ID).
		Str("target", rec.TargetVenueID).
		Uint64("slippage", req.Slippage).
		Msg("Autonomous rebalance executed")
	return nil
}
