// Package gateway holds the engine's view of its external collaborators:
// the trade indexer, the price oracle, the order executor, the regime and
// trader-analysis services, and follower notifications.
//
// Client talks to all of them over one REST base URL. WSPriceFeed streams
// prices over a websocket. Package stub provides in-memory versions.
package gateway

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"copytrade-engine/internal/domain"
)

// EventSource delivers normalized leader trades.
type EventSource interface {
	// StreamTradeEvents returns the leader's events with timestamp >= since,
	// in source order.
	StreamTradeEvents(ctx context.Context, leaderAddress string, since time.Time) ([]domain.TradeEvent, error)
}

// PriceOracle returns the current mark price of a pair.
type PriceOracle interface {
	GetCurrentPrice(ctx context.Context, pair string) (decimal.Decimal, error)
}

// Executor submits follower orders. RequestID is the idempotency key.
type Executor interface {
	ExecuteOrder(ctx context.Context, req domain.OrderRequest) (*domain.OrderResult, error)
}

// RegimeProvider returns the copy timing signal for a symbol.
type RegimeProvider interface {
	GetCopyTimingSignal(ctx context.Context, symbol string) (*domain.RegimeSignal, error)
}

// ArchetypeProvider returns trader-analysis attributes.
// A nil archetype with nil error means the address is unknown.
type ArchetypeProvider interface {
	GetArchetype(ctx context.Context, address string) (*domain.Archetype, error)
}

// EquityProvider returns a follower's account equity in USD.
type EquityProvider interface {
	GetEquity(ctx context.Context, userID string) (decimal.Decimal, error)
}

// PositionChecker reports whether a follower still holds a position.
type PositionChecker interface {
	IsOpen(ctx context.Context, userID, pair string, isLong bool) (bool, error)
}

// TraderDirectory lists addresses with recent activity, used to seed the
// stats refresh with traders nobody follows yet.
type TraderDirectory interface {
	ListTraders(ctx context.Context, activeSince time.Time) ([]string, error)
}

// Notifier delivers follower notifications. Failures are reported to the
// caller, which logs them and moves on.
type Notifier interface {
	Notify(ctx context.Context, userID string, n domain.Notification) error
}
