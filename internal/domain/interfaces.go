package domain

import "context"

// Adapter is the uniform capability set every strategy adapter variant
// implements. The set of variants is closed and resolved at configuration
// time; the ledger and coordinator only ever see this interface.
//
// Every call that reaches an external venue must complete within a
// bounded time (success or explicit failure) - adapters own their
// timeouts. The ledger treats each call as an atomic step.
type Adapter interface {
	// StrategyName returns the unique venue identifier.
	StrategyName() string

	// VaultID returns the identifier of the bound vault, or "" before
	// initialization.
	VaultID() string

	// UnderlyingAsset returns the asset this adapter accepts.
	// AssetNative denotes the chain's native currency.
	UnderlyingAsset() string

	// Initialize binds the adapter to a vault and asset. One-time: a
	// second call fails with AlreadyInitialized. Only the owner role or
	// the original deployer may call it.
	Initialize(caller, vaultID, asset string) error

	// Deposit credits amount of principal to depositor. Callable only by
	// the bound vault; fails with StrategyPaused while paused.
	Deposit(ctx context.Context, caller, depositor string, amount uint64) error

	// Withdraw returns up to amount to the vault and reports the amount
	// actually returned, which may differ from the request due to venue
	// rounding. The ledger must trust the reported value.
	Withdraw(ctx context.Context, caller, depositor string, amount uint64) (uint64, error)

	// WithdrawYield pays out accrued yield without touching principal.
	WithdrawYield(ctx context.Context, caller, depositor string, amount uint64) (uint64, error)

	// EmergencyWithdraw returns the adapter's entire balance to the vault
	// and zeroes its internal accounting. Used for migrations and when
	// the venue is deemed unrecoverable.
	EmergencyWithdraw(ctx context.Context, caller string) (uint64, error)

	// GetYield reports the depositor's accrued yield. Monotonically
	// non-decreasing in time for a fixed principal; never negative.
	GetYield(depositor string) uint64

	// TotalAssets reports the value currently held by the adapter.
	TotalAssets() uint64

	// PrincipalSnapshot returns a copy of the per-depositor principal
	// map. The coordinator uses it to re-book contributions in the
	// target adapter during a migration.
	PrincipalSnapshot() map[string]uint64

	// EstimatedAPY returns the projected annualized rate in basis points.
	EstimatedAPY() int64

	// IsHealthy reports whether the venue is reachable and sane. It must
	// degrade gracefully: unreachable or malformed venue responses yield
	// false, never a panic or error.
	IsHealthy(ctx context.Context) bool

	// Pause and Unpause toggle the adapter's paused state. Callable by
	// the bound vault or the owner role.
	Pause(caller string) error
	Unpause(caller string) error

	// State returns the adapter lifecycle state.
	State() AdapterState
}

// EventSink receives append-only ledger log records. Implemented by the
// ledger's event repository; a no-op sink is used in tests.
type EventSink interface {
	Append(event Event) error
}
