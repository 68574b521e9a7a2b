package strategy

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aristath/coffer/internal/domain"
	"github.com/rs/zerolog"
)

// VenueClient is the venue-specific client library a RESTAdapter wraps.
// The production implementation talks HTTP; tests substitute a fake.
// Every method must return within a bounded time - the adapter relies on
// the client owning its timeouts.
type VenueClient interface {
	// Supply deploys amount into the venue.
	Supply(ctx context.Context, amount uint64) error
	// Redeem recovers up to amount and reports the amount actually
	// returned (venue rounding may shave it).
	Redeem(ctx context.Context, amount uint64) (uint64, error)
	// RedeemAll recovers the venue's entire position.
	RedeemAll(ctx context.Context) (uint64, error)
	// Balance reports the current position value held at the venue.
	Balance(ctx context.Context) (uint64, error)
	// RateBps reports the venue's current supply rate in basis points.
	RateBps(ctx context.Context) (int64, error)
}

// RESTAdapter wraps an external venue reachable through a VenueClient.
// Principal bookkeeping comes from the embedded BaseAdapter; balances and
// rates are read from the venue itself when available, with the
// projection as fallback.
type RESTAdapter struct {
	*BaseAdapter

	client VenueClient

	// Last balance observed from the venue, so the synchronous
	// TotalAssets view does not need a network round trip.
	lastBalance   uint64
	lastBalanceAt time.Time
}

// balanceFreshness bounds how long an observed venue balance is trusted
// before TotalAssets falls back to tracked principal.
const balanceFreshness = 5 * time.Minute

// NewRESTAdapter constructs an adapter over a venue client.
func NewRESTAdapter(cfg BaseConfig, client VenueClient) *RESTAdapter {
	return &RESTAdapter{
		BaseAdapter: NewBaseAdapter(cfg),
		client:      client,
	}
}

// Deposit supplies amount to the venue, then credits principal. The
// venue call happens first so a venue rejection leaves the bookkeeping
// untouched.
func (a *RESTAdapter) Deposit(ctx context.Context, caller, depositor string, amount uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.requireVault(caller); err != nil {
		return err
	}
	if amount == 0 {
		return domain.ErrInvalidAmount
	}

	if err := a.client.Supply(ctx, amount); err != nil {
		a.log.Error().Err(err).Uint64("amount", amount).Msg("Venue supply failed")
		return fmt.Errorf("%w: %s", domain.ErrVenueCallFailed, err)
	}

	if err := a.creditPrincipal(depositor, amount); err != nil {
		return err
	}
	a.observeBalance(a.totalPrincipal)
	return nil
}

// Withdraw redeems from the venue and debits principal by the amount the
// venue actually returned.
func (a *RESTAdapter) Withdraw(ctx context.Context, caller, depositor string, amount uint64) (uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.requireVault(caller); err != nil {
		return 0, err
	}
	if amount == 0 {
		return 0, domain.ErrInvalidAmount
	}

	returned, err := a.client.Redeem(ctx, amount)
	if err != nil {
		a.log.Error().Err(err).Uint64("amount", amount).Msg("Venue redeem failed")
		return 0, fmt.Errorf("%w: %s", domain.ErrVenueCallFailed, err)
	}

	if _, err := a.debitPrincipal(depositor, returned); err != nil {
		return 0, err
	}
	a.observeBalance(a.totalPrincipal)
	return returned, nil
}

// WithdrawYield redeems accrued yield from the venue.
func (a *RESTAdapter) WithdrawYield(ctx context.Context, caller, depositor string, amount uint64) (uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.requireVault(caller); err != nil {
		return 0, err
	}
	if amount == 0 {
		return 0, domain.ErrInvalidAmount
	}

	returned, err := a.client.Redeem(ctx, amount)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", domain.ErrVenueCallFailed, err)
	}
	return a.debitYield(depositor, returned)
}

// EmergencyWithdraw recovers everything the venue will give back and
// zeroes the adapter's accounting. Bypasses the pause check.
func (a *RESTAdapter) EmergencyWithdraw(ctx context.Context, caller string) (uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state == domain.AdapterUninitialized {
		return 0, domain.ErrNotInitialized
	}
	if caller != a.vaultID && !a.isPrivileged(caller) {
		return 0, domain.ErrNotVault
	}

	returned, err := a.client.RedeemAll(ctx)
	if err != nil {
		a.log.Error().Err(err).Msg("Venue redeem-all failed")
		return 0, fmt.Errorf("%w: %s", domain.ErrVenueCallFailed, err)
	}

	if err := a.resetAccounting(); err != nil {
		return 0, err
	}
	a.observeBalance(0)
	a.log.Warn().Uint64("returned", returned).Msg("Emergency withdrawal executed")
	return returned, nil
}

// TotalAssets prefers the venue's observed balance over the projection
// when the observation is fresh.
func (a *RESTAdapter) TotalAssets() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	if time.Since(a.lastBalanceAt) < balanceFreshness {
		return a.lastBalance
	}
	return a.totalPrincipal
}

// GetYield prefers real venue value over the projection: when the venue
// reports a balance above tracked principal, the excess is observed
// yield pro-rated to the depositor's share of principal. Never negative.
func (a *RESTAdapter) GetYield(depositor string) uint64 {
	a.mu.Lock()
	projected := uint64(0)
	if e, ok := a.principals[depositor]; ok {
		projected = e.accrued + projectYield(e.principal, a.rateBps, a.clock().Sub(e.since))
	}
	principal := uint64(0)
	if e, ok := a.principals[depositor]; ok {
		principal = e.principal
	}
	total := a.totalPrincipal
	balance := a.lastBalance
	fresh := time.Since(a.lastBalanceAt) < balanceFreshness
	a.mu.Unlock()

	if !fresh || total == 0 || balance <= total {
		return projected
	}
	// Observed excess over principal, pro-rated by contribution.
	excess := balance - total
	observed := uint64(float64(excess) * (float64(principal) / float64(total)))
	if observed > projected {
		return observed
	}
	return projected
}

// IsHealthy probes the venue. Any transport error, timeout or malformed
// response degrades to false - it never panics or returns an error.
func (a *RESTAdapter) IsHealthy(ctx context.Context) (healthy bool) {
	defer func() {
		if r := recover(); r != nil {
			a.log.Error().Interface("panic", r).Msg("Health probe panicked")
			healthy = false
		}
	}()

	if a.State() != domain.AdapterActive {
		return false
	}

	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	balance, err := a.client.Balance(probeCtx)
	if err != nil {
		a.log.Warn().Err(err).Msg("Health probe failed")
		return false
	}

	rate, err := a.client.RateBps(probeCtx)
	if err != nil || rate < 0 {
		a.log.Warn().Err(err).Int64("rate", rate).Msg("Venue reported malformed rate")
		return false
	}

	a.mu.Lock()
	a.observeBalance(balance)
	a.mu.Unlock()
	return true
}

// observeBalance records a venue balance observation. Caller must hold
// a.mu.
func (a *RESTAdapter) observeBalance(balance uint64) {
	a.lastBalance = balance
	a.lastBalanceAt = a.clock()
}

var _ domain.Adapter = (*RESTAdapter)(nil)

// HTTPVenueClient is the production VenueClient speaking JSON over HTTP
// to a venue gateway.
type HTTPVenueClient struct {
	baseURL string
	client  *http.Client
	log     zerolog.Logger
}

// NewHTTPVenueClient creates a venue client for the given base URL.
func NewHTTPVenueClient(baseURL string, log zerolog.Logger) *HTTPVenueClient {
	return &HTTPVenueClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
		log:     log.With().Str("client", "venue").Str("base_url", baseURL).Logger(),
	}
}

type venueAmountRequest struct {
	Amount uint64 `json:"amount"`
}

type venueAmountResponse struct {
	Amount uint64 `json:"amount"`
}

type venueRateResponse struct {
	RateBps int64 `json:"rate_bps"`
}

// Supply deploys amount into the venue.
func (c *HTTPVenueClient) Supply(ctx context.Context, amount uint64) error {
	_, err := c.post(ctx, "/supply", venueAmountRequest{Amount: amount})
	return err
}

// Redeem recovers up to amount from the venue.
func (c *HTTPVenueClient) Redeem(ctx context.Context, amount uint64) (uint64, error) {
	body, err := c.post(ctx, "/redeem", venueAmountRequest{Amount: amount})
	if err != nil {
		return 0, err
	}
	var resp venueAmountResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("malformed redeem response: %w", err)
	}
	return resp.Amount, nil
}

// RedeemAll recovers the venue's entire position.
func (c *HTTPVenueClient) RedeemAll(ctx context.Context) (uint64, error) {
	body, err := c.post(ctx, "/redeem-all", struct{}{})
	if err != nil {
		return 0, err
	}
	var resp venueAmountResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("malformed redeem-all response: %w", err)
	}
	return resp.Amount, nil
}

// Balance reports the current position value held at the venue.
func (c *HTTPVenueClient) Balance(ctx context.Context) (uint64, error) {
	body, err := c.get(ctx, "/balance")
	if err != nil {
		return 0, err
	}
	var resp venueAmountResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("malformed balance response: %w", err)
	}
	return resp.Amount, nil
}

// RateBps reports the venue's current supply rate.
func (c *HTTPVenueClient) RateBps(ctx context.Context) (int64, error) {
	body, err := c.get(ctx, "/rate")
	if err != nil {
		return 0, err
	}
	var resp venueRateResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("malformed rate response: %w", err)
	}
	return resp.RateBps, nil
}

func (c *HTTPVenueClient) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

func (c *HTTPVenueClient) post(ctx context.Context, path string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(string(data)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *HTTPVenueClient) do(req *http.Request) ([]byte, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("venue request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("venue returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read venue response: %w", err)
	}
	return body, nil
}
