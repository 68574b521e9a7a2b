package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/coffer/internal/access"
	"github.com/aristath/coffer/internal/domain"
)

const (
	testVault = "vault-1"
	testOwner = "owner-key"
	testAgent = "agent-key"
)

// fakeAdapter is a controllable in-memory adapter for ledger tests.
type fakeAdapter struct {
	name       string
	vaultID    string
	principals map[string]uint64
	total      uint64
	yield      map[string]uint64
	healthy    bool

	depositErr  error
	withdrawErr error

	// depositFailAt fails the Nth Deposit call (1-based), used to break
	// a migration partway through its per-depositor portions.
	depositCalls  int
	depositFailAt int

	// withdrawReturn and emergencyReturn override the amounts reported
	// back, used to simulate venue rounding and misbehaving venues.
	withdrawReturn  *uint64
	emergencyReturn *uint64
	emergencyErr    error
}

func newFakeAdapter(name string) *fakeAdapter {
	return &fakeAdapter{
		name:       name,
		vaultID:    testVault,
		principals: make(map[string]uint64),
		yield:      make(map[string]uint64),
		healthy:    true,
	}
}

func (f *fakeAdapter) StrategyName() string { return f.name }

func (f *fakeAdapter) VaultID() string { return f.vaultID }

func (f *fakeAdapter) UnderlyingAsset() string { return "usdc" }

func (f *fakeAdapter) Initialize(caller, vaultID, asset string) error {
	f.vaultID = vaultID
	return nil
}

func (f *fakeAdapter) Deposit(ctx context.Context, caller, depositor string, amount uint64) error {
	f.depositCalls++
	if f.depositErr != nil {
		return f.depositErr
	}
	if f.depositFailAt != 0 && f.depositCalls == f.depositFailAt {
		return errors.New("venue rejected deposit")
	}
	f.principals[depositor] += amount
	f.total += amount
	return nil
}

func (f *fakeAdapter) Withdraw(ctx context.Context, caller, depositor string, amount uint64) (uint64, error) {
	if f.withdrawErr != nil {
		return 0, f.withdrawErr
	}
	if f.withdrawReturn != nil {
		return *f.withdrawReturn, nil
	}
	if amount > f.total {
		amount = f.total
	}
	f.total -= amount
	return amount, nil
}

func (f *fakeAdapter) WithdrawYield(ctx context.Context, caller, depositor string, amount uint64) (uint64, error) {
	f.yield[depositor] = 0
	return amount, nil
}

func (f *fakeAdapter) EmergencyWithdraw(ctx context.Context, caller string) (uint64, error) {
	if f.emergencyErr != nil {
		return 0, f.emergencyErr
	}
	if f.withdrawErr != nil {
		return 0, f.withdrawErr
	}
	balance := f.total
	f.total = 0
	f.principals = make(map[string]uint64)
	if f.emergencyReturn != nil {
		return *f.emergencyReturn, nil
	}
	return balance, nil
}

func (f *fakeAdapter) GetYield(depositor string) uint64 { return f.yield[depositor] }

func (f *fakeAdapter) TotalAssets() uint64 { return f.total }

func (f *fakeAdapter) PrincipalSnapshot() map[string]uint64 {
	out := make(map[string]uint64, len(f.principals))
	for k, v := range f.principals {
		out[k] = v
	}
	return out
}

func (f *fakeAdapter) EstimatedAPY() int64 { return 450 }

func (f *fakeAdapter) IsHealthy(ctx context.Context) bool { return f.healthy }

func (f *fakeAdapter) Pause(caller string) error { return nil }

func (f *fakeAdapter) Unpause(caller string) error { return nil }

func (f *fakeAdapter) State() domain.AdapterState { return domain.AdapterActive }

var _ domain.Adapter = (*fakeAdapter)(nil)

func newTestLedger(t *testing.T) (*Ledger, *fakeAdapter) {
	t.Helper()
	led, err := New(Config{
		VaultID:       testVault,
		BaseAsset:     "usdc",
		MinYieldClaim: 1000,
		Roles:         access.NewRoles(testOwner, testAgent),
	})
	require.NoError(t, err)

	adapter := newFakeAdapter("venue-a")
	require.NoError(t, led.SetStrategy(testOwner, adapter))
	return led, adapter
}

// TestLedger_BootstrapDeposit verifies the first deposit mints shares 1:1.
func TestLedger_BootstrapDeposit(t *testing.T) {
	led, adapter := newTestLedger(t)

	shares, err := led.Deposit(context.Background(), "alice", 1_000_000)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_000), shares)
	assert.Equal(t, uint64(1_000_000), led.TotalAssets())
	assert.Equal(t, uint64(1_000_000), led.TotalShares())
	assert.Equal(t, uint64(1_000_000), led.SharesOf("alice"))
	assert.Equal(t, uint64(1_000_000), adapter.TotalAssets())
}

// TestLedger_ShareConservation walks two depositors through a full
// deposit/withdraw cycle at an unchanged share price.
func TestLedger_ShareConservation(t *testing.T) {
	led, _ := newTestLedger(t)
	ctx := context.Background()

	sharesA, err := led.Deposit(ctx, "alice", 1_000_000)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_000), sharesA)

	// No yield accrued, so the price is still 1:1.
	sharesB, err := led.Deposit(ctx, "bob", 500_000)
	require.NoError(t, err)
	assert.Equal(t, uint64(500_000), sharesB)

	assert.Equal(t, uint64(1_500_000), led.TotalAssets())
	assert.Equal(t, uint64(1_500_000), led.TotalShares())

	returned, err := led.WithdrawShares(ctx, "alice", 1_000_000)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_000), returned)

	assert.Equal(t, uint64(0), led.SharesOf("alice"))
	assert.Equal(t, uint64(500_000), led.TotalShares())
	assert.Equal(t, uint64(500_000), led.TotalAssets())
	assert.Equal(t, uint64(500_000), led.BalanceOf("bob"))
}

// TestLedger_DepositValidation covers rejected deposit inputs.
func TestLedger_DepositValidation(t *testing.T) {
	tests := []struct {
		name      string
		depositor string
		amount    uint64
		wantErr   error
	}{
		{"zero amount", "alice", 0, domain.ErrInvalidAmount},
		{"empty depositor", "", 100, domain.ErrInvalidAmount},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			led, _ := newTestLedger(t)
			_, err := led.Deposit(context.Background(), tt.depositor, tt.amount)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, uint64(0), led.TotalAssets())
		})
	}
}

// TestLedger_DepositWithoutStrategy verifies deposits fail before a
// venue is bound.
func TestLedger_DepositWithoutStrategy(t *testing.T) {
	led, err := New(Config{
		VaultID: testVault,
		Roles:   access.NewRoles(testOwner, testAgent),
	})
	require.NoError(t, err)

	_, err = led.Deposit(context.Background(), "alice", 100)
	assert.ErrorIs(t, err, domain.ErrNotInitialized)
}

// TestLedger_DepositAdapterRejection verifies a venue rejection leaves
// every ledger field untouched.
func TestLedger_DepositAdapterRejection(t *testing.T) {
	led, adapter := newTestLedger(t)
	adapter.depositErr = domain.ErrStrategyPaused

	_, err := led.Deposit(context.Background(), "alice", 100)
	assert.ErrorIs(t, err, domain.ErrStrategyPaused)
	assert.Equal(t, uint64(0), led.TotalAssets())
	assert.Equal(t, uint64(0), led.TotalShares())
	assert.Equal(t, uint64(0), led.SharesOf("alice"))
}

// TestLedger_WithdrawInsufficient covers withdrawals beyond holdings.
func TestLedger_WithdrawInsufficient(t *testing.T) {
	led, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := led.Deposit(ctx, "alice", 1000)
	require.NoError(t, err)

	tests := []struct {
		name      string
		depositor string
		amount    uint64
	}{
		{"no shares at all", "bob", 100},
		{"more than balance", "alice", 1001},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := led.Withdraw(ctx, tt.depositor, tt.amount)
			assert.ErrorIs(t, err, domain.ErrInsufficientShares)
		})
	}
}

// TestLedger_WithdrawPartial verifies a partial withdrawal burns the
// proportional shares and pays the requested amount.
func TestLedger_WithdrawPartial(t *testing.T) {
	led, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := led.Deposit(ctx, "alice", 1000)
	require.NoError(t, err)

	returned, err := led.Withdraw(ctx, "alice", 400)
	require.NoError(t, err)
	assert.Equal(t, uint64(400), returned)
	assert.Equal(t, uint64(600), led.SharesOf("alice"))
	assert.Equal(t, uint64(600), led.TotalAssets())
}

// TestLedger_WithdrawSharesMoreThanHeld verifies burning more shares
// than held is rejected.
func TestLedger_WithdrawSharesMoreThanHeld(t *testing.T) {
	led, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := led.Deposit(ctx, "alice", 1000)
	require.NoError(t, err)

	_, err = led.WithdrawShares(ctx, "alice", 1001)
	assert.ErrorIs(t, err, domain.ErrInsufficientShares)
}

// TestLedger_HaltOnOverReturn verifies the ledger fails closed when an
// adapter reports returning more than the pool's total value.
func TestLedger_HaltOnOverReturn(t *testing.T) {
	led, adapter := newTestLedger(t)
	ctx := context.Background()

	_, err := led.Deposit(ctx, "alice", 1000)
	require.NoError(t, err)

	over := uint64(5000)
	adapter.withdrawReturn = &over

	_, err = led.Withdraw(ctx, "alice", 100)
	assert.ErrorIs(t, err, domain.ErrInvariantViolation)
	assert.True(t, led.Halted())

	// Every further mutation is rejected.
	_, err = led.Deposit(ctx, "bob", 100)
	assert.ErrorIs(t, err, domain.ErrLedgerHalted)
	_, err = led.Withdraw(ctx, "alice", 100)
	assert.ErrorIs(t, err, domain.ErrLedgerHalted)
	err = led.SetStrategy(testOwner, newFakeAdapter("venue-b"))
	assert.ErrorIs(t, err, domain.ErrLedgerHalted)
}

// TestLedger_ClaimYield covers the minimum-claim gate and a successful
// payout.
func TestLedger_ClaimYield(t *testing.T) {
	led, adapter := newTestLedger(t)
	ctx := context.Background()

	_, err := led.Deposit(ctx, "alice", 1_000_000)
	require.NoError(t, err)

	adapter.yield["alice"] = 999
	_, err = led.ClaimYield(ctx, "alice")
	assert.ErrorIs(t, err, domain.ErrYieldTooSmall)

	adapter.yield["alice"] = 2500
	paid, err := led.ClaimYield(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, uint64(2500), paid)

	// Yield leaves the venue without touching principal accounting.
	assert.Equal(t, uint64(1_000_000), led.TotalAssets())
	assert.Equal(t, uint64(1_000_000), led.TotalShares())
}

// TestLedger_SetStrategy covers the owner gate, the lock and the
// deployed-capital guard.
func TestLedger_SetStrategy(t *testing.T) {
	t.Run("not owner", func(t *testing.T) {
		led, _ := newTestLedger(t)
		err := led.SetStrategy("someone-else", newFakeAdapter("venue-b"))
		assert.ErrorIs(t, err, domain.ErrNotOwner)
	})

	t.Run("locked", func(t *testing.T) {
		led, _ := newTestLedger(t)
		require.NoError(t, led.LockStrategy(testOwner))
		err := led.SetStrategy(testOwner, newFakeAdapter("venue-b"))
		assert.ErrorIs(t, err, domain.ErrStrategyLocked)

		require.NoError(t, led.UnlockStrategy(testOwner))
		assert.NoError(t, led.SetStrategy(testOwner, newFakeAdapter("venue-b")))
	})

	t.Run("capital deployed", func(t *testing.T) {
		led, _ := newTestLedger(t)
		_, err := led.Deposit(context.Background(), "alice", 1000)
		require.NoError(t, err)

		err = led.SetStrategy(testOwner, newFakeAdapter("venue-b"))
		assert.ErrorIs(t, err, domain.ErrStrategyLocked)
	})
}

// TestLedger_RestoreStrategy verifies startup re-binding works once and
// only once.
func TestLedger_RestoreStrategy(t *testing.T) {
	led, err := New(Config{
		VaultID: testVault,
		Roles:   access.NewRoles(testOwner, testAgent),
	})
	require.NoError(t, err)

	require.NoError(t, led.RestoreStrategy(newFakeAdapter("venue-a")))
	assert.Equal(t, "venue-a", led.ActiveStrategy())

	err = led.RestoreStrategy(newFakeAdapter("venue-b"))
	assert.ErrorIs(t, err, domain.ErrAlreadyInitialized)
}

// TestLedger_AdapterWithdrawFailure verifies a venue failure surfaces
// unchanged and leaves the accounting intact.
func TestLedger_AdapterWithdrawFailure(t *testing.T) {
	led, adapter := newTestLedger(t)
	ctx := context.Background()

	_, err := led.Deposit(ctx, "alice", 1000)
	require.NoError(t, err)

	adapter.withdrawErr = errors.New("venue timeout")
	_, err = led.Withdraw(ctx, "alice", 500)
	assert.Error(t, err)
	assert.Equal(t, uint64(1000), led.TotalAssets())
	assert.Equal(t, uint64(1000), led.SharesOf("alice"))
	assert.False(t, led.Halted())
}
