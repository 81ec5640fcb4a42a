package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// RegimeColor is the external market-regime classification.
type RegimeColor string

const (
	RegimeGreen  RegimeColor = "green"
	RegimeYellow RegimeColor = "yellow"
	RegimeRed    RegimeColor = "red"
)

// IsValid checks if the color is a known value.
func (c RegimeColor) IsValid() bool {
	return c == RegimeGreen || c == RegimeYellow || c == RegimeRed
}

// RegimeSignal is the copy timing signal for one symbol.
type RegimeSignal struct {
	Signal     RegimeColor `json:"signal"`
	Confidence float64     `json:"confidence"`
}

// RiskLevel is the risk bucket reported by trader analysis.
type RiskLevel string

const (
	RiskUnknown RiskLevel = ""
	RiskLow     RiskLevel = "low"
	RiskMedium  RiskLevel = "medium"
	RiskHigh    RiskLevel = "high"
)

// Archetype is the optional trader-analysis result for an address.
type Archetype struct {
	Archetype   string    `json:"archetype"`
	RiskLevel   RiskLevel `json:"risk_level"`
	Consistency *float64  `json:"consistency,omitempty"` // 0..1
}

// OrderRequest is what the worker submits to the execution collaborator.
type OrderRequest struct {
	RequestID  string           `json:"request_id"` // idempotency key
	UserID     string           `json:"user_id"`
	Pair       string           `json:"pair"`
	IsLong     bool             `json:"is_long"`
	Size       decimal.Decimal  `json:"size"`
	Leverage   decimal.Decimal  `json:"leverage"`
	OrderType  OrderType        `json:"order_type"`
	LimitPrice *decimal.Decimal `json:"limit_price,omitempty"`
}

// OrderResult is the execution collaborator's answer.
type OrderResult struct {
	TxRef         string          `json:"tx_ref"`
	Success       bool            `json:"success"`
	ExecutedPrice decimal.Decimal `json:"executed_price"`
	ExecutedSize  decimal.Decimal `json:"executed_size"`
	Error         string          `json:"error,omitempty"`
}

// ExecutionMode selects live or simulated order execution.
type ExecutionMode string

const (
	ExecutionModeLive   ExecutionMode = "LIVE"
	ExecutionModeDryRun ExecutionMode = "DRY_RUN"
)

// String returns the string representation of ExecutionMode.
func (m ExecutionMode) String() string {
	return string(m)
}

// IsValid checks if the mode is a valid value.
func (m ExecutionMode) IsValid() bool {
	return m == ExecutionModeLive || m == ExecutionModeDryRun
}

// NotificationKind classifies follower notifications.
type NotificationKind string

const (
	NotificationOpened NotificationKind = "COPY_OPENED"
	NotificationFailed NotificationKind = "COPY_FAILED"
	NotificationClosed NotificationKind = "COPY_CLOSED"
)

// Notification is a user-visible message about one CopyPosition.
type Notification struct {
	Kind       NotificationKind `json:"kind"`
	UserID     string           `json:"user_id"`
	PositionID string           `json:"position_id"`
	RequestID  string           `json:"request_id"`
	Pair       string           `json:"pair"`
	Message    string           `json:"message"`
	At         time.Time        `json:"at"`
}
