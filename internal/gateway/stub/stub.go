// Package stub provides in-memory gateway collaborators for tests and for
// running the engine without external services.
package stub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"copytrade-engine/internal/domain"
	"copytrade-engine/internal/gateway"
)

// ErrNoPrice is returned when a pair has no configured price.
var ErrNoPrice = errors.New("stub: no price")

// EventSource serves events registered per leader.
type EventSource struct {
	mu     sync.Mutex
	events map[string][]domain.TradeEvent
	errs   map[string]error
	calls  map[string]int
}

// NewEventSource creates an empty EventSource.
func NewEventSource() *EventSource {
	return &EventSource{
		events: make(map[string][]domain.TradeEvent),
		errs:   make(map[string]error),
		calls:  make(map[string]int),
	}
}

// AddEvents appends events for a leader, in source order.
func (s *EventSource) AddEvents(leader string, events ...domain.TradeEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[leader] = append(s.events[leader], events...)
}

// SetError makes every fetch for leader fail with err. Nil clears it.
func (s *EventSource) SetError(leader string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.errs, leader)
		return
	}
	s.errs[leader] = err
}

// Calls returns how many times leader was fetched.
func (s *EventSource) Calls(leader string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[leader]
}

// StreamTradeEvents implements gateway.EventSource.
func (s *EventSource) StreamTradeEvents(_ context.Context, leader string, since time.Time) ([]domain.TradeEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls[leader]++
	if err := s.errs[leader]; err != nil {
		return nil, err
	}

	var out []domain.TradeEvent
	for _, e := range s.events[leader] {
		if !e.Timestamp.Before(since) {
			out = append(out, e)
		}
	}
	return out, nil
}

// PriceOracle returns configured prices.
type PriceOracle struct {
	mu     sync.Mutex
	prices map[string]decimal.Decimal
	errs   []error // consumed one per call before prices are served
}

// NewPriceOracle creates an empty PriceOracle.
func NewPriceOracle() *PriceOracle {
	return &PriceOracle{prices: make(map[string]decimal.Decimal)}
}

// SetPrice sets the price of pair.
func (o *PriceOracle) SetPrice(pair string, price decimal.Decimal) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.prices[pair] = price
}

// FailNext queues errors returned by the next calls.
func (o *PriceOracle) FailNext(errs ...error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.errs = append(o.errs, errs...)
}

// GetCurrentPrice implements gateway.PriceOracle.
func (o *PriceOracle) GetCurrentPrice(_ context.Context, pair string) (decimal.Decimal, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if len(o.errs) > 0 {
		err := o.errs[0]
		o.errs = o.errs[1:]
		return decimal.Zero, err
	}
	p, ok := o.prices[pair]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrNoPrice, pair)
	}
	return p, nil
}

// ExecuteResponse is one scripted executor answer.
type ExecuteResponse struct {
	Result *domain.OrderResult
	Err    error
}

// Executor records submitted orders. Scripted responses are consumed first;
// afterwards every order fills at its limit price, or at Price for market
// orders.
type Executor struct {
	mu        sync.Mutex
	Price     decimal.Decimal
	responses []ExecuteResponse
	orders    []domain.OrderRequest
}

// NewExecutor creates an Executor that fills market orders at price.
func NewExecutor(price decimal.Decimal) *Executor {
	return &Executor{Price: price}
}

// Script queues responses for the next calls.
func (x *Executor) Script(responses ...ExecuteResponse) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.responses = append(x.responses, responses...)
}

// Orders returns every submitted order.
func (x *Executor) Orders() []domain.OrderRequest {
	x.mu.Lock()
	defer x.mu.Unlock()
	return append([]domain.OrderRequest(nil), x.orders...)
}

// ExecuteOrder implements gateway.Executor.
func (x *Executor) ExecuteOrder(_ context.Context, req domain.OrderRequest) (*domain.OrderResult, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	x.orders = append(x.orders, req)
	if len(x.responses) > 0 {
		r := x.responses[0]
		x.responses = x.responses[1:]
		return r.Result, r.Err
	}

	price := x.Price
	if req.OrderType == domain.OrderTypeLimit && req.LimitPrice != nil {
		price = *req.LimitPrice
	}
	return &domain.OrderResult{
		TxRef:         fmt.Sprintf("0xstub%04d", len(x.orders)),
		Success:       true,
		ExecutedPrice: price,
		ExecutedSize:  req.Size,
	}, nil
}

// RegimeProvider returns a fixed signal per symbol.
type RegimeProvider struct {
	mu      sync.Mutex
	signals map[string]domain.RegimeSignal
	Err     error
}

// NewRegimeProvider creates a provider answering green for unknown symbols.
func NewRegimeProvider() *RegimeProvider {
	return &RegimeProvider{signals: make(map[string]domain.RegimeSignal)}
}

// SetSignal sets the signal for symbol.
func (r *RegimeProvider) SetSignal(symbol string, color domain.RegimeColor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signals[symbol] = domain.RegimeSignal{Signal: color, Confidence: 1}
}

// GetCopyTimingSignal implements gateway.RegimeProvider.
func (r *RegimeProvider) GetCopyTimingSignal(_ context.Context, symbol string) (*domain.RegimeSignal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.Err != nil {
		return nil, r.Err
	}
	sig, ok := r.signals[symbol]
	if !ok {
		sig = domain.RegimeSignal{Signal: domain.RegimeGreen, Confidence: 0.5}
	}
	return &sig, nil
}

// ArchetypeProvider serves registered archetypes.
type ArchetypeProvider struct {
	mu         sync.Mutex
	archetypes map[string]domain.Archetype
	Err        error
}

// NewArchetypeProvider creates an empty provider.
func NewArchetypeProvider() *ArchetypeProvider {
	return &ArchetypeProvider{archetypes: make(map[string]domain.Archetype)}
}

// Set registers the archetype of address.
func (a *ArchetypeProvider) Set(address string, arch domain.Archetype) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.archetypes[address] = arch
}

// GetArchetype implements gateway.ArchetypeProvider.
func (a *ArchetypeProvider) GetArchetype(_ context.Context, address string) (*domain.Archetype, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.Err != nil {
		return nil, a.Err
	}
	arch, ok := a.archetypes[address]
	if !ok {
		return nil, nil
	}
	return &arch, nil
}

// EquityProvider returns the same equity for every follower unless
// overridden.
type EquityProvider struct {
	mu      sync.Mutex
	Default decimal.Decimal
	equity  map[string]decimal.Decimal
}

// NewEquityProvider creates a provider answering def by default.
func NewEquityProvider(def decimal.Decimal) *EquityProvider {
	return &EquityProvider{Default: def, equity: make(map[string]decimal.Decimal)}
}

// Set overrides the equity of userID.
func (e *EquityProvider) Set(userID string, equity decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.equity[userID] = equity
}

// GetEquity implements gateway.EquityProvider.
func (e *EquityProvider) GetEquity(_ context.Context, userID string) (decimal.Decimal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if v, ok := e.equity[userID]; ok {
		return v, nil
	}
	return e.Default, nil
}

// PositionChecker reports positions open until Close is called.
type PositionChecker struct {
	mu     sync.Mutex
	closed map[string]bool
}

// NewPositionChecker creates a checker where every position is open.
func NewPositionChecker() *PositionChecker {
	return &PositionChecker{closed: make(map[string]bool)}
}

func positionKey(userID, pair string, isLong bool) string {
	return fmt.Sprintf("%s|%s|%t", userID, pair, isLong)
}

// Close marks the follower position as closed.
func (p *PositionChecker) Close(userID, pair string, isLong bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed[positionKey(userID, pair, isLong)] = true
}

// IsOpen implements gateway.PositionChecker.
func (p *PositionChecker) IsOpen(_ context.Context, userID, pair string, isLong bool) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.closed[positionKey(userID, pair, isLong)], nil
}

// Notifier records notifications.
type Notifier struct {
	mu   sync.Mutex
	sent []domain.Notification
	Err  error
}

// NewNotifier creates a recording notifier.
func NewNotifier() *Notifier {
	return &Notifier{}
}

// Notify implements gateway.Notifier.
func (n *Notifier) Notify(_ context.Context, userID string, msg domain.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	msg.UserID = userID
	n.sent = append(n.sent, msg)
	return n.Err
}

// Sent returns every recorded notification.
func (n *Notifier) Sent() []domain.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]domain.Notification(nil), n.sent...)
}

var (
	_ gateway.EventSource       = (*EventSource)(nil)
	_ gateway.PriceOracle       = (*PriceOracle)(nil)
	_ gateway.Executor          = (*Executor)(nil)
	_ gateway.RegimeProvider    = (*RegimeProvider)(nil)
	_ gateway.ArchetypeProvider = (*ArchetypeProvider)(nil)
	_ gateway.EquityProvider    = (*EquityProvider)(nil)
	_ gateway.PositionChecker   = (*PositionChecker)(nil)
	_ gateway.Notifier          = (*Notifier)(nil)
)
