// Package strategy implements the adapter framework wrapping external
// yield venues behind a uniform capability set, plus the closed set of
// adapter variants resolved at configuration time.
package strategy

import (
	"math/big"
	"sync"
	"time"

	"github.com/aristath/coffer/internal/access"
	"github.com/aristath/coffer/internal/domain"
	"github.com/rs/zerolog"
)

// Clock supplies the current time. Injected so yield accrual is
// deterministic under test.
type Clock func() time.Time

// principalEntry tracks one depositor's contribution inside an adapter.
// Accrued yield is settled into the accrued bucket whenever the principal
// changes, so the projection formula always runs over a fixed principal.
type principalEntry struct {
	principal uint64
	accrued   uint64
	since     time.Time
}

// BaseAdapter carries the behavior every adapter variant shares:
// one-time initialization, vault-only call gating, pause state, principal
// tracking and the deterministic yield projection. Variants embed it and
// layer venue calls on top.
type BaseAdapter struct {
	mu sync.Mutex

	name     string
	asset    string
	vaultID  string
	deployer string
	state    domain.AdapterState
	rateBps  int64

	principals     map[string]*principalEntry
	totalPrincipal uint64

	roles *access.Roles
	store *PrincipalStore // nil means in-memory only
	clock Clock
	log   zerolog.Logger
}

// BaseConfig holds construction parameters for a BaseAdapter.
type BaseConfig struct {
	Name     string
	RateBps  int64
	Deployer string
	Roles    *access.Roles
	Store    *PrincipalStore
	Clock    Clock
	Log      zerolog.Logger
}

// NewBaseAdapter constructs an uninitialized adapter core.
func NewBaseAdapter(cfg BaseConfig) *BaseAdapter {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &BaseAdapter{
		name:       cfg.Name,
		state:      domain.AdapterUninitialized,
		rateBps:    cfg.RateBps,
		deployer:   cfg.Deployer,
		principals: make(map[string]*principalEntry),
		roles:      cfg.Roles,
		store:      cfg.Store,
		clock:      clock,
		log:        cfg.Log.With().Str("adapter", cfg.Name).Logger(),
	}
}

// StrategyName returns the unique venue identifier.
func (a *BaseAdapter) StrategyName() string { return a.name }

// VaultID returns the bound vault identifier, or "" before initialization.
func (a *BaseAdapter) VaultID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.vaultID
}

// UnderlyingAsset returns the asset this adapter accepts.
func (a *BaseAdapter) UnderlyingAsset() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.asset
}

// EstimatedAPY returns the projected annualized rate in basis points.
func (a *BaseAdapter) EstimatedAPY() int64 { return a.rateBps }

// State returns the adapter lifecycle state.
func (a *BaseAdapter) State() domain.AdapterState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Initialize binds the adapter to a vault and asset, one time only.
// Callable by the owner role or the original deployer.
func (a *BaseAdapter) Initialize(caller, vaultID, asset string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state != domain.AdapterUninitialized {
		return domain.ErrAlreadyInitialized
	}
	if !a.isPrivileged(caller) {
		return domain.ErrNotOwner
	}
	if vaultID == "" {
		return domain.ErrNotVault
	}

	a.vaultID = vaultID
	a.asset = asset
	a.state = domain.AdapterActive

	// Recover durable principal state from a previous process lifetime.
	if a.store != nil {
		entries, err := a.store.Load(a.name)
		if err != nil {
			a.log.Error().Err(err).Msg("Failed to load persisted principals")
			return err
		}
		for depositor, e := range entries {
			a.principals[depositor] = e
			a.totalPrincipal += e.principal
		}
	}

	a.log.Info().Str("vault", vaultID).Str("asset", asset).Msg("Adapter initialized")
	return nil
}

// isPrivileged reports whether caller is the original deployer or holds
// the owner role.
func (a *BaseAdapter) isPrivileged(caller string) bool {
	if a.deployer != "" && caller == a.deployer {
		return true
	}
	return a.roles != nil && a.roles.IsOwner(caller)
}

// requireVault gates the operations only the bound ledger may call.
// Caller must hold a.mu.
func (a *BaseAdapter) requireVault(caller string) error {
	if a.state == domain.AdapterUninitialized {
		return domain.ErrNotInitialized
	}
	if caller != a.vaultID {
		return domain.ErrNotVault
	}
	if a.state == domain.AdapterPaused {
		return domain.ErrStrategyPaused
	}
	return nil
}

// Pause moves the adapter to the paused state. Callable by the bound
// vault or the owner role.
func (a *BaseAdapter) Pause(caller string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state == domain.AdapterUninitialized {
		return domain.ErrNotInitialized
	}
	if caller != a.vaultID && !a.isPrivileged(caller) {
		return domain.ErrNotOwner
	}
	a.state = domain.AdapterPaused
	a.log.Warn().Msg("Adapter paused")
	return nil
}

// Unpause returns a paused adapter to active.
func (a *BaseAdapter) Unpause(caller string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state == domain.AdapterUninitialized {
		return domain.ErrNotInitialized
	}
	if caller != a.vaultID && !a.isPrivileged(caller) {
		return domain.ErrNotOwner
	}
	a.state = domain.AdapterActive
	a.log.Info().Msg("Adapter unpaused")
	return nil
}

// creditPrincipal records a deposit for depositor. Caller must hold a.mu
// and have passed requireVault.
func (a *BaseAdapter) creditPrincipal(depositor string, amount uint64) error {
	now := a.clock()
	e, ok := a.principals[depositor]
	if !ok {
		e = &principalEntry{since: now}
		a.principals[depositor] = e
	} else {
		// Settle accrual at the old principal before it changes.
		e.accrued += projectYield(e.principal, a.rateBps, now.Sub(e.since))
		e.since = now
	}
	e.principal += amount
	a.totalPrincipal += amount

	return a.persist(depositor, e)
}

// debitPrincipal records a withdrawal for depositor, clamped to the
// tracked principal. Caller must hold a.mu.
func (a *BaseAdapter) debitPrincipal(depositor string, amount uint64) (uint64, error) {
	e, ok := a.principals[depositor]
	if !ok {
		return 0, nil
	}

	now := a.clock()
	e.accrued += projectYield(e.principal, a.rateBps, now.Sub(e.since))
	e.since = now

	debited := amount
	if debited > e.principal {
		debited = e.principal
	}
	e.principal -= debited
	a.totalPrincipal -= debited

	if e.principal == 0 && e.accrued == 0 {
		delete(a.principals, depositor)
		if a.store != nil {
			return debited, a.store.Delete(a.name, depositor)
		}
		return debited, nil
	}
	return debited, a.persist(depositor, e)
}

// debitYield settles and reduces the depositor's accrued yield bucket.
// Caller must hold a.mu.
func (a *BaseAdapter) debitYield(depositor string, amount uint64) (uint64, error) {
	e, ok := a.principals[depositor]
	if !ok {
		return 0, nil
	}

	now := a.clock()
	e.accrued += projectYield(e.principal, a.rateBps, now.Sub(e.since))
	e.since = now

	paid := amount
	if paid > e.accrued {
		paid = e.accrued
	}
	e.accrued -= paid
	return paid, a.persist(depositor, e)
}

// GetYield reports accrued yield for depositor: the settled bucket plus
// the projection over the period since the last principal change.
func (a *BaseAdapter) GetYield(depositor string) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	e, ok := a.principals[depositor]
	if !ok {
		return 0
	}
	return e.accrued + projectYield(e.principal, a.rateBps, a.clock().Sub(e.since))
}

// PrincipalOf reports the tracked contribution for depositor.
func (a *BaseAdapter) PrincipalOf(depositor string) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if e, ok := a.principals[depositor]; ok {
		return e.principal
	}
	return 0
}

// PrincipalSnapshot returns a copy of the per-depositor principal map.
func (a *BaseAdapter) PrincipalSnapshot() map[string]uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	snapshot := make(map[string]uint64, len(a.principals))
	for depositor, e := range a.principals {
		if e.principal > 0 {
			snapshot[depositor] = e.principal
		}
	}
	return snapshot
}

// TotalPrincipal reports the sum of all tracked contributions.
func (a *BaseAdapter) TotalPrincipal() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.totalPrincipal
}

// resetAccounting zeroes all principal tracking. Used by emergency
// withdrawal. Caller must hold a.mu.
func (a *BaseAdapter) resetAccounting() error {
	a.principals = make(map[string]*principalEntry)
	a.totalPrincipal = 0
	if a.store != nil {
		return a.store.DeleteVenue(a.name)
	}
	return nil
}

// persist writes one depositor entry through to the durable store.
// Caller must hold a.mu.
func (a *BaseAdapter) persist(depositor string, e *principalEntry) error {
	if a.store == nil {
		return nil
	}
	return a.store.Upsert(a.name, depositor, e)
}

// projectYield computes principal * rateBps * elapsed / (10000 * year)
// in integer math. The multiply runs over big.Int so extreme principals
// cannot overflow; the result truncates toward zero and is never
// negative.
func projectYield(principal uint64, rateBps int64, elapsed time.Duration) uint64 {
	if principal == 0 || rateBps <= 0 || elapsed <= 0 {
		return 0
	}
	seconds := int64(elapsed / time.Second)
	if seconds <= 0 {
		return 0
	}

	n := new(big.Int).SetUint64(principal)
	n.Mul(n, big.NewInt(rateBps))
	n.Mul(n, big.NewInt(seconds))
	n.Div(n, big.NewInt(10000*int64(domain.SecondsPerYear)))

	if !n.IsUint64() {
		// Saturate rather than wrap at absurd magnitudes.
		return ^uint64(0)
	}
	return n.Uint64()
}
