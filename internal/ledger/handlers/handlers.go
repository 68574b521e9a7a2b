// Package handlers provides HTTP handlers for vault deposits,
// withdrawals, yield claims and administration.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/aristath/coffer/internal/domain"
	"github.com/aristath/coffer/internal/ledger"
	"github.com/aristath/coffer/internal/strategy"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// VaultHandlers contains HTTP handlers for the vault API
type VaultHandlers struct {
	led      *ledger.Ledger
	repo     *ledger.Repository
	registry *strategy.Registry
	log      zerolog.Logger
}

// NewVaultHandlers creates a new vault handlers instance
func NewVaultHandlers(
	led *ledger.Ledger,
	repo *ledger.Repository,
	registry *strategy.Registry,
	log zerolog.Logger,
) *VaultHandlers {
	return &VaultHandlers{
		led:      led,
		repo:     repo,
		registry: registry,
		log:      log.With().Str("handler", "vault").Logger(),
	}
}

type amountRequest struct {
	Depositor string `json:"depositor"`
	Amount    uint64 `json:"amount"`
}

type sharesRequest struct {
	Depositor string `json:"depositor"`
	Shares    uint64 `json:"shares"`
}

type depositorRequest struct {
	Depositor string `json:"depositor"`
}

// HandleDeposit pools a deposit and issues shares.
// POST /api/vault/deposit
func (h *VaultHandlers) HandleDeposit(w http.ResponseWriter, r *http.Request) {
	var body amountRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Depositor == "" {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	shares, err := h.led.Deposit(r.Context(), body.Depositor, body.Amount)
	if err != nil {
		h.log.Error().Err(err).Str("depositor", body.Depositor).Msg("Deposit failed")
		writeDomainError(w, err)
		return
	}

	writeJSON(w, map[string]interface{}{
		"shares_issued": shares,
		"share_balance": h.led.SharesOf(body.Depositor),
	})
}

// HandleWithdraw redeems an exact asset amount.
// POST /api/vault/withdraw
func (h *VaultHandlers) HandleWithdraw(w http.ResponseWriter, r *http.Request) {
	var body amountRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Depositor == "" {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	paid, err := h.led.Withdraw(r.Context(), body.Depositor, body.Amount)
	if err != nil {
		h.log.Error().Err(err).Str("depositor", body.Depositor).Msg("Withdrawal failed")
		writeDomainError(w, err)
		return
	}

	writeJSON(w, map[string]interface{}{
		"paid":          paid,
		"share_balance": h.led.SharesOf(body.Depositor),
	})
}

// HandleWithdrawShares redeems an exact share count.
// POST /api/vault/withdraw-shares
func (h *VaultHandlers) HandleWithdrawShares(w http.ResponseWriter, r *http.Request) {
	var body sharesRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Depositor == "" {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	paid, err := h.led.WithdrawShares(r.Context(), body.Depositor, body.Shares)
	if err != nil {
		h.log.Error().Err(err).Str("depositor", body.Depositor).Msg("Share withdrawal failed")
		writeDomainError(w, err)
		return
	}

	writeJSON(w, map[string]interface{}{
		"paid":          paid,
		"share_balance": h.led.SharesOf(body.Depositor),
	})
}

// HandleClaimYield pays out accrued yield.
// POST /api/vault/claim-yield
func (h *VaultHandlers) HandleClaimYield(w http.ResponseWriter, r *http.Request) {
	var body depositorRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Depositor == "" {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	paid, err := h.led.ClaimYield(r.Context(), body.Depositor)
	if err != nil {
		h.log.Error().Err(err).Str("depositor", body.Depositor).Msg("Yield claim failed")
		writeDomainError(w, err)
		return
	}

	writeJSON(w, map[string]interface{}{"paid": paid})
}

// HandleGetBalance returns one depositor's position.
// GET /api/vault/balance/{depositor}
func (h *VaultHandlers) HandleGetBalance(w http.ResponseWriter, r *http.Request) {
	depositor := chi.URLParam(r, "depositor")

	var pendingYield uint64
	if adapter := h.led.ActiveAdapter(); adapter != nil {
		pendingYield = adapter.GetYield(depositor)
	}

	writeJSON(w, map[string]interface{}{
		"depositor":     depositor,
		"shares":        h.led.SharesOf(depositor),
		"assets":        h.led.BalanceOf(depositor),
		"pending_yield": pendingYield,
	})
}

// HandleGetOverview returns the pooled position summary.
// GET /api/vault/overview
func (h *VaultHandlers) HandleGetOverview(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.led.Snapshot())
}

// HandleQuote converts between assets and shares at the current rate
// without mutating anything.
// GET /api/vault/quote?amount=N or ?shares=N
func (h *VaultHandlers) HandleQuote(w http.ResponseWriter, r *http.Request) {
	if amountParam := r.URL.Query().Get("amount"); amountParam != "" {
		amount, err := strconv.ParseUint(amountParam, 10, 64)
		if err != nil {
			http.Error(w, "Invalid amount", http.StatusBadRequest)
			return
		}
		writeJSON(w, map[string]interface{}{
			"amount": amount,
			"shares": h.led.CalculateSharesForDeposit(amount),
		})
		return
	}
	if sharesParam := r.URL.Query().Get("shares"); sharesParam != "" {
		shares, err := strconv.ParseUint(sharesParam, 10, 64)
		if err != nil {
			http.Error(w, "Invalid shares", http.StatusBadRequest)
			return
		}
		writeJSON(w, map[string]interface{}{
			"shares": shares,
			"amount": h.led.CalculateAssetsForShares(shares),
		})
		return
	}
	http.Error(w, "amount or shares query parameter required", http.StatusBadRequest)
}

// HandleGetEvents returns the append-only event log, newest first.
// GET /api/vault/events?limit=N&operation=deposit
func (h *VaultHandlers) HandleGetEvents(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if limitParam := r.URL.Query().Get("limit"); limitParam != "" {
		if parsed, err := strconv.Atoi(limitParam); err == nil {
			limit = parsed
		}
	}

	events, err := h.repo.ListEvents(limit, r.URL.Query().Get("operation"))
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list events")
		http.Error(w, "Failed to list events", http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []domain.Event{}
	}

	writeJSON(w, events)
}

type strategyRequest struct {
	Venue string `json:"venue"`
}

// HandleSetStrategy binds the active venue. Owner-gated; only valid
// while no capital is deployed.
// POST /api/vault/strategy
func (h *VaultHandlers) HandleSetStrategy(w http.ResponseWriter, r *http.Request) {
	var body strategyRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Venue == "" {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	adapter, err := h.registry.Get(body.Venue)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if err := h.led.SetStrategy(apiKey(r), adapter); err != nil {
		h.log.Error().Err(err).Str("venue", body.Venue).Msg("Failed to set strategy")
		writeDomainError(w, err)
		return
	}

	writeJSON(w, map[string]string{"active_adapter": body.Venue})
}

// HandleLock freezes the venue binding. Owner-gated.
// POST /api/vault/lock
func (h *VaultHandlers) HandleLock(w http.ResponseWriter, r *http.Request) {
	if err := h.led.LockStrategy(apiKey(r)); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, map[string]bool{"locked": true})
}

// HandleUnlock releases the freeze. Owner-gated.
// POST /api/vault/unlock
func (h *VaultHandlers) HandleUnlock(w http.ResponseWriter, r *http.Request) {
	if err := h.led.UnlockStrategy(apiKey(r)); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, map[string]bool{"locked": false})
}

type agentRequest struct {
	AgentKey string `json:"agent_key"`
}

// HandleSetAgent designates the rebalance-authorized key. Owner-gated.
// POST /api/vault/agent
func (h *VaultHandlers) HandleSetAgent(w http.ResponseWriter, r *http.Request) {
	var body agentRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.led.SetAgent(apiKey(r), body.AgentKey); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

// apiKey extracts the caller credential used for role checks.
func apiKey(r *http.Request) string {
	return r.Header.Get("X-API-Key")
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// writeDomainError maps domain error codes to HTTP status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch domain.CodeOf(err) {
	case domain.CodeInvalidAmount, domain.CodeInsufficientShares, domain.CodeBelowMinimum, domain.CodeYieldTooSmall:
		status = http.StatusBadRequest
	case domain.CodeNotOwner, domain.CodeNotAgent, domain.CodeNotVault:
		status = http.StatusForbidden
	case domain.CodeStrategyLocked, domain.CodeSameStrategy, domain.CodeAlreadyInitialized, domain.CodeRebalanceIncomplete:
		status = http.StatusConflict
	case domain.CodeUnknownStrategy:
		status = http.StatusNotFound
	case domain.CodeStrategyPaused, domain.CodeVenueUnhealthy, domain.CodeVenueCallFailed, domain.CodeNotInitialized:
		status = http.StatusServiceUnavailable
	case domain.CodeLedgerHalted, domain.CodeInvariantViolation:
		status = http.StatusLocked
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error": err.Error(),
		"code":  domain.CodeOf(err),
	})
}
