// Package rebalancing migrates the pooled position from one strategy
// adapter to another as a single logical operation, tolerating a target
// that fails mid-flight without losing funds.
package rebalancing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aristath/coffer/internal/access"
	"github.com/aristath/coffer/internal/domain"
	"github.com/aristath/coffer/internal/ledger"
	"github.com/aristath/coffer/internal/strategy"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Phase is one state of the per-request rebalance state machine.
type Phase string

const (
	PhaseRequested         Phase = "requested"
	PhaseWithdrawingSource Phase = "withdrawing_source"
	PhaseDepositingTarget  Phase = "depositing_target"
	PhaseCompleted         Phase = "completed"
	PhaseFailed            Phase = "failed"
)

// Request tracks one rebalance through the state machine. Snapshot is
// the per-depositor principal breakdown captured when capital left the
// source; it rides along on failed requests so a later recovery can
// re-book the funds to their depositors.
type Request struct {
	ID          string            `json:"id"`
	Source      string            `json:"source"`
	Target      string            `json:"target"`
	Phase       Phase             `json:"phase"`
	Withdrawn   uint64            `json:"withdrawn"`
	Deposited   uint64            `json:"deposited"`
	Slippage    uint64            `json:"slippage"`
	Error       string            `json:"error,omitempty"`
	Snapshot    map[string]uint64 `json:"snapshot,omitempty"`
	RequestedBy string            `json:"requested_by"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// Coordinator executes rebalance requests against the ledger and the
// adapter registry. At most one rebalance runs at a time.
type Coordinator struct {
	mu sync.Mutex

	led      *ledger.Ledger
	registry *strategy.Registry
	roles    *access.Roles
	history  *HistoryRepository // nil means in-memory only
	log      zerolog.Logger
	clock    func() time.Time

	// The failed request whose funds sit idle; nil between incidents.
	// Whether funds are actually idle is the ledger's call, this only
	// carries the request's identity and snapshot.
	incomplete *Request
}

// NewCoordinator creates a rebalancing coordinator. When the ledger
// holds idle funds from a failed rebalance in a previous process
// lifetime, the failed request is reloaded from history so recovery
// works across restarts.
func NewCoordinator(
	led *ledger.Ledger,
	registry *strategy.Registry,
	roles *access.Roles,
	history *HistoryRepository,
	log zerolog.Logger,
) *Coordinator {
	c := &Coordinator{
		led:      led,
		registry: registry,
		roles:    roles,
		history:  history,
		log:      log.With().Str("component", "rebalancing").Logger(),
		clock:    time.Now,
	}

	if history != nil && led.IdleBalance() > 0 {
		req, err := history.LatestFailed()
		switch {
		case err != nil:
			c.log.Error().Err(err).Msg("Failed to reload incomplete rebalance from history")
		case req == nil:
			c.log.Warn().Uint64("idle", led.IdleBalance()).
				Msg("Idle funds with no failed rebalance on record")
		default:
			c.incomplete = req
			c.log.Warn().
				Str("request", req.ID).
				Uint64("idle", led.IdleBalance()).
				Msg("Reloaded incomplete rebalance, recovery required")
		}
	}
	return c
}

// Execute runs a full rebalance from the active adapter to the named
// target. Caller must hold the agent (or owner) role.
//
// Step 1 recovers all capital from the source into the ledger's
// custody; a failure there aborts with nothing changed. Step 2 deploys
// the recovered amount into the target; a failure there leaves the
// funds idle - still backing totalAssets - and surfaces the
// RebalanceIncomplete condition rather than retrying into a possibly
// still-unhealthy target.
func (c *Coordinator) Execute(ctx context.Context, caller, targetName string) (*Request, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.roles.RequireAgent(caller); err != nil {
		return nil, err
	}
	if c.led.Locked() {
		return nil, domain.ErrStrategyLocked
	}
	// Idle funds mean a previous rebalance never finished; they must be
	// recovered before new migrations run.
	if c.led.IdleBalance() > 0 {
		if c.incomplete != nil {
			return nil, fmt.Errorf("%w: recover request %s first", domain.ErrRebalanceIncomplete, c.incomplete.ID)
		}
		return nil, fmt.Errorf("%w: %d units idle, recover first", domain.ErrRebalanceIncomplete, c.led.IdleBalance())
	}

	target, err := c.registry.Get(targetName)
	if err != nil {
		return nil, err
	}

	source := c.led.ActiveAdapter()
	if source == nil {
		return nil, domain.ErrNotInitialized
	}
	if source.StrategyName() == targetName {
		return nil, domain.ErrSameStrategy
	}
	if !target.IsHealthy(ctx) {
		return nil, domain.ErrVenueUnhealthy
	}

	req := &Request{
		ID:          uuid.NewString(),
		Source:      source.StrategyName(),
		Target:      targetName,
		Phase:       PhaseRequested,
		RequestedBy: caller,
		CreatedAt:   c.clock(),
	}
	c.transition(req, PhaseRequested)

	c.log.Info().
		Str("request", req.ID).
		Str("source", req.Source).
		Str("target", req.Target).
		Msg("Rebalance requested")

	// Step 1: recover all capital from the source.
	c.transition(req, PhaseWithdrawingSource)
	recovered, snapshot, err := c.led.MigrateOut(ctx)
	if err != nil {
		req.Error = err.Error()
		c.transition(req, PhaseFailed)
		c.log.Error().Err(err).Str("request", req.ID).
			Msg("Source withdrawal failed, rebalance aborted, funds remain in source")
		return req, err
	}
	req.Withdrawn = recovered

	// Step 2: deploy into the target.
	c.transition(req, PhaseDepositingTarget)
	deposited, err := c.led.MigrateIn(ctx, target, snapshot, recovered)
	if err != nil {
		req.Error = err.Error()
		req.Snapshot = snapshot
		c.transition(req, PhaseFailed)
		c.incomplete = req

		c.led.AppendEvent(domain.Event{
			Operation: domain.OpRebalanceIdle,
			Actor:     caller,
			Amount:    recovered,
			Venue:     targetName,
			Detail:    "target deposit failed, funds held idle",
		})
		c.log.Error().Err(err).Str("request", req.ID).Uint64("idle", recovered).
			Msg("Target deposit failed, funds held idle for operator attention")
		return req, fmt.Errorf("%w: %s", domain.ErrRebalanceIncomplete, err)
	}

	req.Deposited = deposited
	if deposited < recovered {
		req.Slippage = recovered - deposited
	}
	c.transition(req, PhaseCompleted)

	c.log.Info().
		Str("request", req.ID).
		Uint64("withdrawn", req.Withdrawn).
		Uint64("deposited", req.Deposited).
		Uint64("slippage", req.Slippage).
		Msg("Rebalance completed")
	return req, nil
}

// Recover retries deploying idle funds left by a failed rebalance into
// the named target (which may differ from the original one). Agent- or
// owner-gated.
func (c *Coordinator) Recover(ctx context.Context, caller, targetName string) (*Request, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.roles.RequireAgent(caller); err != nil {
		return nil, err
	}
	if c.led.IdleBalance() == 0 {
		return nil, fmt.Errorf("no incomplete rebalance to recover")
	}

	target, err := c.registry.Get(targetName)
	if err != nil {
		return nil, err
	}
	if !target.IsHealthy(ctx) {
		return nil, domain.ErrVenueUnhealthy
	}

	// The snapshot travels from the failed request so recovered capital
	// is re-booked per depositor, not pooled under the vault.
	var snapshot map[string]uint64
	source := ""
	if c.incomplete != nil {
		snapshot = c.incomplete.Snapshot
		source = c.incomplete.Target
	}

	req := &Request{
		ID:          uuid.NewString(),
		Source:      source,
		Target:      targetName,
		Phase:       PhaseDepositingTarget,
		Snapshot:    snapshot,
		RequestedBy: caller,
		CreatedAt:   c.clock(),
	}
	c.transition(req, PhaseDepositingTarget)

	deposited, err := c.led.RecoverIdle(ctx, target, snapshot)
	if err != nil {
		req.Error = err.Error()
		c.transition(req, PhaseFailed)
		c.incomplete = req
		return req, fmt.Errorf("%w: %s", domain.ErrRebalanceIncomplete, err)
	}

	req.Deposited = deposited
	c.transition(req, PhaseCompleted)
	c.incomplete = nil

	c.led.AppendEvent(domain.Event{
		Operation: domain.OpRecover,
		Actor:     caller,
		Amount:    deposited,
		Venue:     targetName,
	})
	c.log.Info().Str("request", req.ID).Uint64("deposited", deposited).
		Msg("Idle funds recovered")
	return req, nil
}

// Incomplete returns the failed request whose funds are still idle, or
// nil. Whether funds are idle comes from the ledger, not from the
// request's own counters: a rollback can leave a failed request with
// partial deposit figures while the idle balance is what actually needs
// recovering.
func (c *Coordinator) Incomplete() *Request {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.led.IdleBalance() == 0 {
		return nil
	}
	return c.incomplete
}

// transition advances the request phase and persists it.
func (c *Coordinator) transition(req *Request, phase Phase) {
	req.Phase = phase
	req.UpdatedAt = c.clock()

	if c.history == nil {
		return
	}
	if err := c.history.Save(req); err != nil {
		c.log.Error().Err(err).Str("request", req.ID).Msg("Failed to persist rebalance record")
	}
}
