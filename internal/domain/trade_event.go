package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventType is the kind of leader trade event delivered by the indexer.
type EventType string

const (
	EventTypeOpened EventType = "OPENED"
	EventTypeClosed EventType = "CLOSED"
)

// String returns the string representation of EventType.
func (t EventType) String() string {
	return string(t)
}

// IsValid checks if the event type is a known value.
func (t EventType) IsValid() bool {
	return t == EventTypeOpened || t == EventTypeClosed
}

// TradeEvent is a normalized, immutable trade produced by the external indexer.
// Events of one leader are ordered by (Timestamp, BlockNumber, TxHash).
type TradeEvent struct {
	EventID       string          `json:"event_id"` // deterministic hash, see idhash.ComputeEventID
	LeaderAddress string          `json:"leader_address"`
	Pair          string          `json:"pair"` // e.g. "BTC/USD"
	IsLong        bool            `json:"is_long"`
	Size          decimal.Decimal `json:"size"`  // base units
	Price         decimal.Decimal `json:"price"` // quote per base unit
	Leverage      decimal.Decimal `json:"leverage"`
	EventType     EventType       `json:"event_type"`
	BlockNumber   uint64          `json:"block_number"`
	TxHash        string          `json:"tx_hash"`
	Timestamp     time.Time       `json:"timestamp"`
	Fee           decimal.Decimal `json:"fee"` // quote units, charged on this event
}

// Notional returns size * price.
func (e *TradeEvent) Notional() decimal.Decimal {
	return e.Size.Mul(e.Price)
}

// Side returns "long" or "short".
func (e *TradeEvent) Side() Side {
	if e.IsLong {
		return SideLong
	}
	return SideShort
}

// Side is the direction of a position.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// String returns the string representation of Side.
func (s Side) String() string {
	return string(s)
}

// Lot is an open position fragment inside a FIFO queue.
type Lot struct {
	Size       decimal.Decimal
	EntryPrice decimal.Decimal
	Leverage   decimal.Decimal
	Timestamp  time.Time
}

// CompareTradeEvents orders events by (Timestamp, BlockNumber, TxHash) and
// returns -1, 0 or 1.
func CompareTradeEvents(a, b *TradeEvent) int {
	if !a.Timestamp.Equal(b.Timestamp) {
		if a.Timestamp.Before(b.Timestamp) {
			return -1
		}
		return 1
	}
	if a.BlockNumber != b.BlockNumber {
		if a.BlockNumber < b.BlockNumber {
			return -1
		}
		return 1
	}
	if a.TxHash != b.TxHash {
		if a.TxHash < b.TxHash {
			return -1
		}
		return 1
	}
	return 0
}
