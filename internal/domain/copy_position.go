package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PositionStatus is the lifecycle state of a CopyPosition.
type PositionStatus string

const (
	PositionStatusPending   PositionStatus = "PENDING"
	PositionStatusOpen      PositionStatus = "OPEN"
	PositionStatusClosed    PositionStatus = "CLOSED"
	PositionStatusFailed    PositionStatus = "FAILED"
	PositionStatusCancelled PositionStatus = "CANCELLED"
)

// String returns the string representation of PositionStatus.
func (s PositionStatus) String() string {
	return string(s)
}

// IsValid checks if the status is a valid value.
func (s PositionStatus) IsValid() bool {
	switch s {
	case PositionStatusPending, PositionStatusOpen, PositionStatusClosed,
		PositionStatusFailed, PositionStatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (s PositionStatus) IsTerminal() bool {
	return s == PositionStatusClosed || s == PositionStatusFailed || s == PositionStatusCancelled
}

// CanTransition reports whether s -> to is a legal lifecycle move.
//
//	PENDING -> OPEN | FAILED | CANCELLED
//	OPEN    -> CLOSED
func (s PositionStatus) CanTransition(to PositionStatus) bool {
	switch s {
	case PositionStatusPending:
		return to == PositionStatusOpen || to == PositionStatusFailed || to == PositionStatusCancelled
	case PositionStatusOpen:
		return to == PositionStatusClosed
	}
	return false
}

// OrderType is the order kind submitted to the execution collaborator.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// String returns the string representation of OrderType.
func (t OrderType) String() string {
	return string(t)
}

// CopyPosition is the follower-side record of one copy attempt.
// Created PENDING before the order is submitted.
type CopyPosition struct {
	ID            string           `json:"id"`
	CopytraderID  string           `json:"copytrader_id"`
	UserID        string           `json:"user_id"`
	LeaderAddress string           `json:"leader_address"`
	RequestID     string           `json:"request_id"` // unique
	Pair          string           `json:"pair"`
	IsLong        bool             `json:"is_long"`
	Status        PositionStatus   `json:"status"`
	OrderType     OrderType        `json:"order_type"`
	TargetSize    decimal.Decimal  `json:"target_size"`
	Leverage      decimal.Decimal  `json:"leverage"`
	TxHash        *string          `json:"tx_hash,omitempty"`
	ExecutedPrice *decimal.Decimal `json:"executed_price,omitempty"`
	ExecutedSize  *decimal.Decimal `json:"executed_size,omitempty"`
	PnlUsd        *decimal.Decimal `json:"pnl_usd,omitempty"`
	FailureReason *string          `json:"failure_reason,omitempty"`
	Attempts      int              `json:"attempts"`
	OpenedAt      time.Time        `json:"opened_at"`
	ClosedAt      *time.Time       `json:"closed_at,omitempty"`
}

// Clone returns a deep copy.
func (p *CopyPosition) Clone() *CopyPosition {
	cp := *p
	cp.TxHash = clonePtr(p.TxHash)
	cp.ExecutedPrice = clonePtr(p.ExecutedPrice)
	cp.ExecutedSize = clonePtr(p.ExecutedSize)
	cp.PnlUsd = clonePtr(p.PnlUsd)
	cp.FailureReason = clonePtr(p.FailureReason)
	cp.ClosedAt = clonePtr(p.ClosedAt)
	return &cp
}

func clonePtr[T any](v *T) *T {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
