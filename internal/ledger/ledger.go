// Package ledger implements the pooled-capital share accounting: total
// assets, total shares and per-depositor balances, with conversions
// between asset amounts and shares.
//
// Every mutating operation runs under one mutex per ledger instance, so
// mutations are serialized exactly as the original single-writer
// execution model requires. Adapter calls are the only steps that can
// block; adapters own their timeouts, so each call completes or fails
// within a bounded step.
package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aristath/coffer/internal/access"
	"github.com/aristath/coffer/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Ledger holds pooled capital and per-depositor share balances.
type Ledger struct {
	mu sync.Mutex

	id        string // vault identity presented on adapter calls
	baseAsset string

	totalAssets uint64
	totalShares uint64
	shares      map[string]uint64

	// idle is capital held by the ledger itself rather than an adapter,
	// populated when a rebalance fails after the source withdrawal. It
	// still backs totalAssets.
	idle uint64

	active domain.Adapter // nil before first configuration
	locked bool
	halted bool

	minYieldClaim uint64

	roles *access.Roles
	repo  *Repository // nil means in-memory only
	log   zerolog.Logger
	clock func() time.Time
}

// Config holds ledger construction parameters.
type Config struct {
	VaultID       string
	BaseAsset     string
	MinYieldClaim uint64
	Roles         *access.Roles
	Repo          *Repository
	Clock         func() time.Time
	Log           zerolog.Logger
}

// New creates a ledger with zero assets and shares, then restores any
// persisted state from the repository.
func New(cfg Config) (*Ledger, error) {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	l := &Ledger{
		id:            cfg.VaultID,
		baseAsset:     cfg.BaseAsset,
		shares:        make(map[string]uint64),
		minYieldClaim: cfg.MinYieldClaim,
		roles:         cfg.Roles,
		repo:          cfg.Repo,
		clock:         clock,
		log:           cfg.Log.With().Str("component", "ledger").Logger(),
	}

	if l.repo != nil {
		state, shares, err := l.repo.LoadState()
		if err != nil {
			return nil, fmt.Errorf("failed to restore ledger state: %w", err)
		}
		l.totalAssets = state.TotalAssets
		l.totalShares = state.TotalShares
		l.idle = state.IdleBalance
		l.locked = state.Locked
		l.halted = state.Halted
		l.shares = shares

		if l.totalShares > 0 || l.totalAssets > 0 {
			l.log.Info().
				Uint64("total_assets", l.totalAssets).
				Uint64("total_shares", l.totalShares).
				Uint64("idle", l.idle).
				Msg("Restored ledger state")
		}
	}

	return l, nil
}

// VaultID returns the identity this ledger presents on adapter calls.
func (l *Ledger) VaultID() string { return l.id }

// BaseAsset returns the ledger's base asset identifier.
func (l *Ledger) BaseAsset() string { return l.baseAsset }

// TotalAssets reports the ledger's belief about deployed plus idle value.
func (l *Ledger) TotalAssets() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.totalAssets
}

// TotalShares reports the sum of all depositor share balances.
func (l *Ledger) TotalShares() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.totalShares
}

// IdleBalance reports capital held by the ledger itself after an
// incomplete rebalance.
func (l *Ledger) IdleBalance() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.idle
}

// SharesOf reports the depositor's share balance.
func (l *Ledger) SharesOf(depositor string) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.shares[depositor]
}

// BalanceOf reports the depositor's asset-equivalent balance, rounded
// down.
func (l *Ledger) BalanceOf(depositor string) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.assetsForSharesLocked(l.shares[depositor])
}

// Locked reports whether the active strategy is frozen.
func (l *Ledger) Locked() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.locked
}

// Halted reports whether the ledger has failed closed.
func (l *Ledger) Halted() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.halted
}

// ActiveStrategy returns the active adapter's venue name, or "".
func (l *Ledger) ActiveStrategy() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active == nil {
		return ""
	}
	return l.active.StrategyName()
}

// CalculateSharesForDeposit converts an asset amount to the shares it
// would mint. Pure view; falls back to 1:1 before the first deposit.
func (l *Ledger) CalculateSharesForDeposit(amount uint64) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sharesForDepositLocked(amount)
}

// CalculateAssetsForShares converts shares to their asset value, rounded
// down. Pure view; falls back to 1:1 before the first deposit.
func (l *Ledger) CalculateAssetsForShares(shares uint64) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.assetsForSharesLocked(shares)
}

func (l *Ledger) sharesForDepositLocked(amount uint64) uint64 {
	if l.totalShares == 0 || l.totalAssets == 0 {
		return amount // bootstrap: 1:1
	}
	return mulDiv(amount, l.totalShares, l.totalAssets, false)
}

func (l *Ledger) assetsForSharesLocked(shares uint64) uint64 {
	if l.totalShares == 0 || l.totalAssets == 0 {
		return shares // 1:1 fallback for external callers pre-deposit
	}
	return mulDiv(shares, l.totalAssets, l.totalShares, false)
}

// Deposit pools amount from depositor, forwards it to the active
// adapter and mints proportional shares. Atomic: an adapter rejection
// leaves every ledger field unchanged.
func (l *Ledger) Deposit(ctx context.Context, depositor string, amount uint64) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.checkMutableLocked(); err != nil {
		return 0, err
	}
	if amount == 0 {
		return 0, domain.ErrInvalidAmount
	}
	if depositor == "" {
		return 0, domain.ErrInvalidAmount
	}
	if l.active == nil {
		return 0, domain.ErrNotInitialized
	}

	shares := l.sharesForDepositLocked(amount)
	if shares == 0 {
		// Deposit so small relative to the pool it would mint nothing.
		return 0, domain.ErrInvalidAmount
	}

	// Venue call first: a rejection aborts before any share issuance.
	if err := l.active.Deposit(ctx, l.id, depositor, amount); err != nil {
		return 0, err
	}

	l.totalAssets += amount
	l.totalShares += shares
	l.shares[depositor] += shares

	if err := l.commitLocked(domain.Event{
		Operation: domain.OpDeposit,
		Actor:     depositor,
		Amount:    amount,
		Shares:    shares,
		Venue:     l.active.StrategyName(),
	}, depositor); err != nil {
		return 0, err
	}

	l.log.Info().
		Str("depositor", depositor).
		Uint64("amount", amount).
		Uint64("shares", shares).
		Msg("Deposit")
	return shares, nil
}

// Withdraw pays out amount to depositor, burning the ceiling of the
// proportional shares. The ledger decrements totalAssets by the amount
// the adapter actually returned, which venue rounding may shave.
func (l *Ledger) Withdraw(ctx context.Context, depositor string, amount uint64) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.checkMutableLocked(); err != nil {
		return 0, err
	}
	if amount == 0 {
		return 0, domain.ErrInvalidAmount
	}

	held := l.shares[depositor]
	if held == 0 {
		return 0, domain.ErrInsufficientShares
	}
	if amount > l.assetsForSharesLocked(held) {
		return 0, domain.ErrInsufficientShares
	}

	// Burn rounds up so the pool never pays out more value than the
	// burned shares represent; the cap protects against rounding past
	// the holder's balance.
	burn := mulDiv(amount, l.totalShares, l.totalAssets, true)
	if burn > held {
		burn = held
	}
	if burn == 0 {
		burn = 1
	}

	return l.redeemLocked(ctx, depositor, burn, amount, domain.OpWithdraw)
}

// WithdrawShares burns an explicit number of shares and pays out their
// asset value, rounded down. A conversion that rounds to zero for a
// nonzero share balance pays the minimum nonzero unit instead of
// silently no-opping, so dust shares cannot get stuck.
func (l *Ledger) WithdrawShares(ctx context.Context, depositor string, shares uint64) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.checkMutableLocked(); err != nil {
		return 0, err
	}
	if shares == 0 {
		return 0, domain.ErrInvalidAmount
	}
	if shares > l.shares[depositor] {
		return 0, domain.ErrInsufficientShares
	}

	amount := l.assetsForSharesLocked(shares)
	if amount == 0 {
		amount = 1
	}

	return l.redeemLocked(ctx, depositor, shares, amount, domain.OpWithdrawShares)
}

// redeemLocked executes the common withdrawal path: recover amount into
// the ledger (idle funds first, then the active adapter), then burn the
// shares. Caller must hold l.mu and have validated inputs.
func (l *Ledger) redeemLocked(ctx context.Context, depositor string, burn, amount uint64, op string) (uint64, error) {
	var returned uint64

	if l.idle >= amount {
		// Funds parked after an incomplete rebalance are paid out
		// directly; no venue call needed.
		l.idle -= amount
		returned = amount
	} else {
		if l.active == nil {
			return 0, domain.ErrNotInitialized
		}
		fromAdapter := amount - l.idle
		got, err := l.active.Withdraw(ctx, l.id, depositor, fromAdapter)
		if err != nil {
			return 0, err
		}
		returned = got + l.idle
		l.idle = 0
	}

	if returned > l.totalAssets {
		return 0, l.haltLocked("adapter returned more than totalAssets")
	}

	l.totalShares -= burn
	l.shares[depositor] -= burn
	if l.shares[depositor] == 0 {
		delete(l.shares, depositor)
	}
	l.totalAssets -= returned

	if err := l.commitLocked(domain.Event{
		Operation: op,
		Actor:     depositor,
		Amount:    returned,
		Shares:    burn,
		Venue:     l.activeNameLocked(),
	}, depositor); err != nil {
		return 0, err
	}

	l.log.Info().
		Str("depositor", depositor).
		Uint64("requested", amount).
		Uint64("returned", returned).
		Uint64("burned", burn).
		Msg("Withdrawal")
	return returned, nil
}

// ClaimYield pays out the depositor's accrued yield from the active
// adapter. Fails with YieldTooSmall below the configured minimum.
// Yield leaves the adapter without touching principal, so no ledger
// share fields change.
func (l *Ledger) ClaimYield(ctx context.Context, depositor string) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.checkMutableLocked(); err != nil {
		return 0, err
	}
	if l.active == nil {
		return 0, domain.ErrNotInitialized
	}

	accrued := l.active.GetYield(depositor)
	if accrued < l.minYieldClaim {
		return 0, domain.ErrYieldTooSmall
	}

	paid, err := l.active.WithdrawYield(ctx, l.id, depositor, accrued)
	if err != nil {
		return 0, err
	}

	if err := l.commitLocked(domain.Event{
		Operation: domain.OpClaimYield,
		Actor:     depositor,
		Amount:    paid,
		Venue:     l.active.StrategyName(),
	}, ""); err != nil {
		return 0, err
	}

	l.log.Info().Str("depositor", depositor).Uint64("paid", paid).Msg("Yield claimed")
	return paid, nil
}

// SetStrategy binds the active adapter. Owner-only; fails while locked.
// With capital deployed the binding can only change through the
// rebalancing coordinator, which moves the funds too.
func (l *Ledger) SetStrategy(caller string, adapter domain.Adapter) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.halted {
		return domain.ErrLedgerHalted
	}
	if err := l.roles.RequireOwner(caller); err != nil {
		return err
	}
	if l.locked {
		return domain.ErrStrategyLocked
	}
	if l.active != nil && l.active.TotalAssets() > 0 {
		return fmt.Errorf("%w: capital deployed, use a rebalance", domain.ErrStrategyLocked)
	}

	l.active = adapter

	return l.commitLocked(domain.Event{
		Operation: domain.OpSetStrategy,
		Actor:     caller,
		Venue:     adapter.StrategyName(),
	}, "")
}

// RestoreStrategy re-binds the persisted active adapter at process
// startup, before any operation runs. The binding was already recorded
// when it happened, so no event is written. Fails once an adapter is
// bound.
func (l *Ledger) RestoreStrategy(adapter domain.Adapter) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.active != nil {
		return domain.ErrAlreadyInitialized
	}
	l.active = adapter
	return nil
}

// LockStrategy freezes the active venue binding. Owner-only; used
// during incident response.
func (l *Ledger) LockStrategy(caller string) error {
	return l.setLock(caller, true, domain.OpLock)
}

// UnlockStrategy releases the freeze. Owner-only.
func (l *Ledger) UnlockStrategy(caller string) error {
	return l.setLock(caller, false, domain.OpUnlock)
}

func (l *Ledger) setLock(caller string, locked bool, op string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.roles.RequireOwner(caller); err != nil {
		return err
	}
	l.locked = locked

	return l.commitLocked(domain.Event{
		Operation: op,
		Actor:     caller,
	}, "")
}

// SetAgent designates the rebalance-authorized key. Owner-only.
func (l *Ledger) SetAgent(caller, agentKey string) error {
	return l.roles.SetAgent(caller, agentKey)
}

// activeNameLocked returns the active venue name. Caller must hold l.mu.
func (l *Ledger) activeNameLocked() string {
	if l.active == nil {
		return ""
	}
	return l.active.StrategyName()
}

// checkMutableLocked gates every mutating path: a halted ledger fails
// closed, and the share/asset invariant must hold before we proceed.
// Caller must hold l.mu.
func (l *Ledger) checkMutableLocked() error {
	if l.halted {
		return domain.ErrLedgerHalted
	}
	if (l.totalShares == 0) != (l.totalAssets == 0) {
		return l.haltLocked("totalShares/totalAssets zero-state mismatch")
	}
	return nil
}

// haltLocked fails the ledger closed after an invariant violation. All
// further mutations are rejected until an operator intervenes. Caller
// must hold l.mu.
func (l *Ledger) haltLocked(reason string) error {
	l.halted = true
	l.log.Error().
		Str("reason", reason).
		Uint64("total_assets", l.totalAssets).
		Uint64("total_shares", l.totalShares).
		Msg("INVARIANT VIOLATION - ledger halted")

	if l.repo != nil {
		ev := domain.Event{
			EventID:   uuid.NewString(),
			Operation: domain.OpHalt,
			Actor:     "system",
			Detail:    reason,
			CreatedAt: l.clock(),
		}
		if err := l.repo.Commit(l.stateLocked(), "", 0, ev); err != nil {
			l.log.Error().Err(err).Msg("Failed to persist halt")
		}
	}
	return domain.ErrInvariantViolation
}

// commitLocked persists the mutated state and appends the event in one
// transaction. A persistence failure halts the ledger: continuing with
// unpersisted mutations would let the durable record drift from memory.
// Caller must hold l.mu.
func (l *Ledger) commitLocked(ev domain.Event, depositor string) error {
	// Re-check the invariant after mutation; fail closed on violation.
	if (l.totalShares == 0) != (l.totalAssets == 0) {
		return l.haltLocked("zero-state mismatch after mutation")
	}

	ev.EventID = uuid.NewString()
	ev.CreatedAt = l.clock()

	if l.repo == nil {
		return nil
	}

	if err := l.repo.Commit(l.stateLocked(), depositor, l.shares[depositor], ev); err != nil {
		l.halted = true
		l.log.Error().Err(err).Msg("Persistence failure - ledger halted")
		return fmt.Errorf("%w: %s", domain.ErrLedgerHalted, err)
	}
	return nil
}

// stateLocked snapshots the persistable scalar state. Caller must hold
// l.mu.
func (l *Ledger) stateLocked() State {
	return State{
		TotalAssets:   l.totalAssets,
		TotalShares:   l.totalShares,
		IdleBalance:   l.idle,
		ActiveAdapter: l.activeNameLocked(),
		Locked:        l.locked,
		Halted:        l.halted,
	}
}

// Snapshot returns a JSON-serializable view of the ledger for the API
// and for snapshot encoding.
func (l *Ledger) Snapshot() Overview {
	l.mu.Lock()
	defer l.mu.Unlock()

	return Overview{
		TotalAssets:   l.totalAssets,
		TotalShares:   l.totalShares,
		IdleBalance:   l.idle,
		ActiveAdapter: l.activeNameLocked(),
		Locked:        l.locked,
		Halted:        l.halted,
		Depositors:    len(l.shares),
		SharePrice:    l.sharePriceLocked(),
	}
}

// sharePriceLocked reports assets per share as a float for display
// only; accounting never uses floats. Caller must hold l.mu.
func (l *Ledger) sharePriceLocked() float64 {
	if l.totalShares == 0 {
		return 1.0
	}
	return float64(l.totalAssets) / float64(l.totalShares)
}

// Overview is the API-facing ledger summary.
type Overview struct {
	TotalAssets   uint64  `json:"total_assets"`
	TotalShares   uint64  `json:"total_shares"`
	IdleBalance   uint64  `json:"idle_balance"`
	ActiveAdapter string  `json:"active_adapter"`
	Locked        bool    `json:"locked"`
	Halted        bool    `json:"halted"`
	Depositors    int     `json:"depositors"`
	SharePrice    float64 `json:"share_price"`
}
