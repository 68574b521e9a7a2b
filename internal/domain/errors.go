package domain

import (
	"errors"
	"fmt"
)

// Error is a domain error carrying a stable machine-readable code.
// Codes are part of the API contract: callers (UI, automation) branch on
// the code to decide whether a retry makes sense.
type Error struct {
	Code    string
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches errors by code so wrapped domain errors still compare equal
// to their sentinel values via errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

func newError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Stable error codes. These are part of the API contract.
const (
	CodeInvalidAmount      = "InvalidAmount"
	CodeInsufficientShares = "InsufficientShares"
	CodeBelowMinimum       = "BelowMinimum"
	CodeYieldTooSmall      = "YieldTooSmall"

	CodeNotVault       = "NotVault"
	CodeNotOwner       = "NotOwner"
	CodeNotAgent       = "NotAgent"
	CodeStrategyLocked = "StrategyLocked"

	CodeStrategyPaused     = "StrategyPaused"
	CodeVenueUnhealthy     = "VenueUnhealthy"
	CodeVenueCallFailed    = "VenueCallFailed"
	CodeAlreadyInitialized = "AlreadyInitialized"
	CodeNotInitialized     = "NotInitialized"
	CodeUnknownStrategy    = "UnknownStrategy"
	CodeSameStrategy       = "SameStrategy"

	CodeInvariantViolation  = "InvariantViolation"
	CodeLedgerHalted        = "LedgerHalted"
	CodeRebalanceIncomplete = "RebalanceIncomplete"
)

// Input errors. Rejected before any state mutation; safe to retry with
// corrected input.
var (
	ErrInvalidAmount      = newError(CodeInvalidAmount, "amount must be greater than zero")
	ErrInsufficientShares = newError(CodeInsufficientShares, "amount exceeds depositor balance")
	ErrBelowMinimum       = newError(CodeBelowMinimum, "amount below venue minimum")
	ErrYieldTooSmall      = newError(CodeYieldTooSmall, "accrued yield below configured minimum")
)

// Authorization errors. Not retryable without a role or config change.
var (
	ErrNotVault       = newError(CodeNotVault, "caller is not the bound vault")
	ErrNotOwner       = newError(CodeNotOwner, "caller does not hold the owner role")
	ErrNotAgent       = newError(CodeNotAgent, "caller does not hold the rebalance role")
	ErrStrategyLocked = newError(CodeStrategyLocked, "active strategy is locked")
)

// Venue errors. The depositor's funds are safe; the venue is unavailable.
var (
	ErrStrategyPaused     = newError(CodeStrategyPaused, "strategy adapter is paused")
	ErrVenueUnhealthy     = newError(CodeVenueUnhealthy, "venue failed its health check")
	ErrVenueCallFailed    = newError(CodeVenueCallFailed, "external venue call failed")
	ErrAlreadyInitialized = newError(CodeAlreadyInitialized, "adapter already initialized")
	ErrNotInitialized     = newError(CodeNotInitialized, "adapter not initialized")
	ErrUnknownStrategy    = newError(CodeUnknownStrategy, "no adapter registered under that name")
	ErrSameStrategy       = newError(CodeSameStrategy, "target adapter is already active")
)

// Fatal conditions. Mutations are halted until an operator intervenes.
var (
	ErrInvariantViolation  = newError(CodeInvariantViolation, "share/asset accounting mismatch detected")
	ErrLedgerHalted        = newError(CodeLedgerHalted, "ledger has failed closed after an invariant violation")
	ErrRebalanceIncomplete = newError(CodeRebalanceIncomplete, "funds held idle after failed target deposit")
)

// CodeOf extracts the stable error code from err, or "Internal" when err
// is not a domain error.
func CodeOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return "Internal"
}

// IsVenueError reports whether err indicates a venue problem rather than
// bad input or a logic bug. Callers use this to distinguish "your funds
// are safe but this venue is down" from everything else.
func IsVenueError(err error) bool {
	switch CodeOf(err) {
	case CodeStrategyPaused, CodeVenueUnhealthy, CodeVenueCallFailed:
		return true
	}
	return false
}
