// Package domain provides core domain models and types.
package domain

import "time"

// AssetNative is the sentinel asset identifier denoting the chain's
// native currency rather than a token.
const AssetNative = "native"

// SecondsPerYear is the accrual denominator for deterministic yield
// projection.
const SecondsPerYear = 365 * 24 * 60 * 60

// AdapterState is the lifecycle state of a strategy adapter.
type AdapterState string

const (
	// AdapterUninitialized - constructed but not yet bound to a vault.
	AdapterUninitialized AdapterState = "uninitialized"
	// AdapterActive - initialized and accepting vault calls.
	AdapterActive AdapterState = "active"
	// AdapterPaused - rejecting deposits/withdrawals until unpaused.
	AdapterPaused AdapterState = "paused"
)

// VenueMetrics is one candidate venue's market snapshot, supplied by the
// external data feed.
type VenueMetrics struct {
	VenueID          string    `json:"venue_id"`
	CurrentAPYBps    int64     `json:"current_apy_bps"`
	RiskScore        float64   `json:"risk_score"`       // 0-100, higher is riskier
	VolatilityScore  float64   `json:"volatility_score"` // 0-100, higher is choppier
	TotalValueLocked float64   `json:"total_value_locked"`
	Confidence       float64   `json:"confidence"` // 0-100 feed data quality
	CollectedAt      time.Time `json:"collected_at"`
}

// VenueScore is the decision engine's weighted score for one venue,
// with its components retained for auditability.
type VenueScore struct {
	VenueID       string  `json:"venue_id"`
	Score         float64 `json:"score"`
	APYComponent  float64 `json:"apy_component"`
	RiskComponent float64 `json:"risk_component"`
	VolComponent  float64 `json:"vol_component"`
	ConfComponent float64 `json:"conf_component"`
}

// Recommendation is the decision engine's output for one scoring cycle.
type Recommendation struct {
	ShouldRebalance bool         `json:"should_rebalance"`
	TargetVenueID   string       `json:"target_venue_id"`
	ActiveVenueID   string       `json:"active_venue_id"`
	Confidence      float64      `json:"confidence"` // 0-100 normalized top-two gap
	Scores          []VenueScore `json:"scores"`
	GeneratedAt     time.Time    `json:"generated_at"`
}

// Operation names recorded in the ledger event log.
const (
	OpDeposit        = "deposit"
	OpWithdraw       = "withdraw"
	OpWithdrawShares = "withdraw_shares"
	OpClaimYield     = "claim_yield"
	OpSetStrategy    = "set_strategy"
	OpLock           = "lock_strategy"
	OpUnlock         = "unlock_strategy"
	OpRebalance      = "rebalance"
	OpRebalanceIdle  = "rebalance_idle"
	OpRecover        = "recover_idle"
	OpHalt           = "halt"
)

// Event is one append-only ledger log record, written after each
// successful mutation for off-chain observers. Not part of the core
// accounting invariants.
type Event struct {
	Seq       int64     `json:"seq"`
	EventID   string    `json:"event_id"`
	Operation string    `json:"operation"`
	Actor     string    `json:"actor"`
	Amount    uint64    `json:"amount"`
	Shares    uint64    `json:"shares"`
	Venue     string    `json:"venue,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
