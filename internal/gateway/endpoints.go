package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"copytrade-engine/internal/domain"
	"copytrade-engine/internal/idhash"
)

var (
	_ EventSource       = (*Client)(nil)
	_ PriceOracle       = (*Client)(nil)
	_ Executor          = (*Client)(nil)
	_ RegimeProvider    = (*Client)(nil)
	_ ArchetypeProvider = (*Client)(nil)
	_ EquityProvider    = (*Client)(nil)
	_ PositionChecker   = (*Client)(nil)
	_ TraderDirectory   = (*Client)(nil)
)

type tradeEventsResponse struct {
	Events []domain.TradeEvent `json:"events"`
}

// StreamTradeEvents fetches GET /v1/leaders/{address}/trades?since=.
func (c *Client) StreamTradeEvents(ctx context.Context, leaderAddress string, since time.Time) ([]domain.TradeEvent, error) {
	q := url.Values{}
	q.Set("since", since.UTC().Format(time.RFC3339Nano))

	var resp tradeEventsResponse
	path := "/v1/leaders/" + url.PathEscape(leaderAddress) + "/trades"
	if err := c.do(ctx, http.MethodGet, path, q, nil, &resp, nil, true); err != nil {
		return nil, fmt.Errorf("stream trade events %s: %w", leaderAddress, err)
	}
	idhash.FillEventIDs(resp.Events)
	return resp.Events, nil
}

type priceResponse struct {
	Pair  string          `json:"pair"`
	Price decimal.Decimal `json:"price"`
}

// GetCurrentPrice fetches GET /v1/prices?pair=.
func (c *Client) GetCurrentPrice(ctx context.Context, pair string) (decimal.Decimal, error) {
	q := url.Values{}
	q.Set("pair", pair)

	var resp priceResponse
	if err := c.do(ctx, http.MethodGet, "/v1/prices", q, nil, &resp, nil, true); err != nil {
		return decimal.Zero, fmt.Errorf("get price %s: %w", pair, err)
	}
	if !resp.Price.IsPositive() {
		return decimal.Zero, fmt.Errorf("get price %s: non-positive price %s", pair, resp.Price)
	}
	return resp.Price, nil
}

// ExecuteOrder submits POST /v1/orders once. The worker owns retries, so a
// failure here is classified instead: transport errors, 429 and 5xx become
// *domain.TransientExecutionError, other 4xx answers become an unsuccessful
// OrderResult.
func (c *Client) ExecuteOrder(ctx context.Context, req domain.OrderRequest) (*domain.OrderResult, error) {
	headers := map[string]string{"Idempotency-Key": req.RequestID}

	var result domain.OrderResult
	err := c.do(ctx, http.MethodPost, "/v1/orders", nil, req, &result, headers, false)
	if err == nil {
		return &result, nil
	}

	var serr *StatusError
	if errors.As(err, &serr) && !serr.Temporary() {
		return &domain.OrderResult{Success: false, Error: serr.Body}, nil
	}
	if errors.Is(err, context.Canceled) {
		return nil, err
	}
	return nil, &domain.TransientExecutionError{Op: "submit order", Err: err}
}

// GetCopyTimingSignal fetches GET /v1/regime?symbol=.
func (c *Client) GetCopyTimingSignal(ctx context.Context, symbol string) (*domain.RegimeSignal, error) {
	q := url.Values{}
	q.Set("symbol", symbol)

	var sig domain.RegimeSignal
	if err := c.do(ctx, http.MethodGet, "/v1/regime", q, nil, &sig, nil, true); err != nil {
		return nil, fmt.Errorf("regime %s: %w", symbol, err)
	}
	if !sig.Signal.IsValid() {
		return nil, fmt.Errorf("regime %s: unknown signal %q", symbol, sig.Signal)
	}
	return &sig, nil
}

// GetArchetype fetches GET /v1/traders/{address}/archetype.
// Unknown addresses return nil, nil.
func (c *Client) GetArchetype(ctx context.Context, address string) (*domain.Archetype, error) {
	var a domain.Archetype
	path := "/v1/traders/" + url.PathEscape(address) + "/archetype"
	err := c.do(ctx, http.MethodGet, path, nil, nil, &a, nil, true)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("archetype %s: %w", address, err)
	}
	return &a, nil
}

type equityResponse struct {
	Equity decimal.Decimal `json:"equity"`
}

// GetEquity fetches GET /v1/accounts/{user}/equity.
func (c *Client) GetEquity(ctx context.Context, userID string) (decimal.Decimal, error) {
	var resp equityResponse
	path := "/v1/accounts/" + url.PathEscape(userID) + "/equity"
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &resp, nil, true); err != nil {
		return decimal.Zero, fmt.Errorf("equity %s: %w", userID, err)
	}
	return resp.Equity, nil
}

type openResponse struct {
	Open bool `json:"open"`
}

// IsOpen fetches GET /v1/accounts/{user}/positions/open?pair=&is_long=.
func (c *Client) IsOpen(ctx context.Context, userID, pair string, isLong bool) (bool, error) {
	q := url.Values{}
	q.Set("pair", pair)
	q.Set("is_long", strconv.FormatBool(isLong))

	var resp openResponse
	path := "/v1/accounts/" + url.PathEscape(userID) + "/positions/open"
	if err := c.do(ctx, http.MethodGet, path, q, nil, &resp, nil, true); err != nil {
		return false, fmt.Errorf("position check %s %s: %w", userID, pair, err)
	}
	return resp.Open, nil
}

type tradersResponse struct {
	Addresses []string `json:"addresses"`
}

// ListTraders fetches GET /v1/traders?active_since=.
func (c *Client) ListTraders(ctx context.Context, activeSince time.Time) ([]string, error) {
	q := url.Values{}
	q.Set("active_since", activeSince.UTC().Format(time.RFC3339))

	var resp tradersResponse
	if err := c.do(ctx, http.MethodGet, "/v1/traders", q, nil, &resp, nil, true); err != nil {
		return nil, fmt.Errorf("list traders: %w", err)
	}
	return resp.Addresses, nil
}
