package strategy

import (
	"context"

	"github.com/aristath/coffer/internal/domain"
)

// StaticRateAdapter is the deterministic adapter variant: it holds the
// deposited balance itself and projects yield from a configured static
// rate. Used for simulated venues and as the fallback when no external
// venue integration exists yet.
type StaticRateAdapter struct {
	*BaseAdapter

	// minDeposit rejects dust the venue would not accept.
	minDeposit uint64
}

// NewStaticRateAdapter constructs a static-rate adapter.
func NewStaticRateAdapter(cfg BaseConfig, minDeposit uint64) *StaticRateAdapter {
	return &StaticRateAdapter{
		BaseAdapter: NewBaseAdapter(cfg),
		minDeposit:  minDeposit,
	}
}

// Deposit credits principal. Vault-only; rejected while paused.
func (a *StaticRateAdapter) Deposit(ctx context.Context, caller, depositor string, amount uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.requireVault(caller); err != nil {
		return err
	}
	if amount == 0 {
		return domain.ErrInvalidAmount
	}
	if amount < a.minDeposit {
		return domain.ErrBelowMinimum
	}
	return a.creditPrincipal(depositor, amount)
}

// Withdraw returns up to amount to the vault. The static venue has no
// rounding of its own, so the returned amount equals the debited
// principal.
func (a *StaticRateAdapter) Withdraw(ctx context.Context, caller, depositor string, amount uint64) (uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.requireVault(caller); err != nil {
		return 0, err
	}
	if amount == 0 {
		return 0, domain.ErrInvalidAmount
	}
	return a.debitPrincipal(depositor, amount)
}

// WithdrawYield pays out accrued yield without touching principal.
func (a *StaticRateAdapter) WithdrawYield(ctx context.Context, caller, depositor string, amount uint64) (uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.requireVault(caller); err != nil {
		return 0, err
	}
	if amount == 0 {
		return 0, domain.ErrInvalidAmount
	}
	return a.debitYield(depositor, amount)
}

// EmergencyWithdraw returns the entire held balance to the vault and
// zeroes the adapter's accounting. Bypasses the pause check: it must
// work exactly when the venue is in trouble.
func (a *StaticRateAdapter) EmergencyWithdraw(ctx context.Context, caller string) (uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state == domain.AdapterUninitialized {
		return 0, domain.ErrNotInitialized
	}
	if caller != a.vaultID && !a.isPrivileged(caller) {
		return 0, domain.ErrNotVault
	}

	balance := a.totalPrincipal
	if err := a.resetAccounting(); err != nil {
		return 0, err
	}
	a.log.Warn().Uint64("balance", balance).Msg("Emergency withdrawal executed")
	return balance, nil
}

// TotalAssets reports the balance held by the adapter.
func (a *StaticRateAdapter) TotalAssets() uint64 {
	return a.TotalPrincipal()
}

// IsHealthy always reports true while the adapter is active: there is no
// external venue to fail.
func (a *StaticRateAdapter) IsHealthy(ctx context.Context) bool {
	return a.State() == domain.AdapterActive
}

var _ domain.Adapter = (*StaticRateAdapter)(nil)
