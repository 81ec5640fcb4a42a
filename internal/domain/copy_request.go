package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CopyTradeRequest is a filtered, sized instruction to copy one leader trade.
// RequestID is unique and maps to at most one CopyPosition.
type CopyTradeRequest struct {
	RequestID      string          `json:"request_id"`
	CopytraderID   string          `json:"copytrader_id"`
	UserID         string          `json:"user_id"`
	LeaderAddress  string          `json:"leader_address"`
	SourceTrade    TradeEvent      `json:"source_trade"`
	OriginalSize   decimal.Decimal `json:"original_size"`
	TargetSize     decimal.Decimal `json:"target_size"`
	MaxSlippageBps int             `json:"max_slippage_bps"`
	MaxLeverage    decimal.Decimal `json:"max_leverage"`
	CreatedAt      time.Time       `json:"created_at"`
}
