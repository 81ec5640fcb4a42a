package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TraderStats are aggregated 30-day metrics for one address.
// Recomputed periodically from the trade event history.
type TraderStats struct {
	Address            string          `json:"address"`
	VolumeUsd          decimal.Decimal `json:"volume_usd"`
	MedianTradeSizeUsd decimal.Decimal `json:"median_trade_size_usd"`
	TradeCount         int             `json:"trade_count"`
	ClosedTrades       int             `json:"closed_trades"`
	RealizedPnlUsd     decimal.Decimal `json:"realized_pnl_usd"`
	LastTradeAt        time.Time       `json:"last_trade_at"`
	UniqueSymbols      int             `json:"unique_symbols"`
	WinRate            float64         `json:"win_rate"`
	MakerRatio         *float64        `json:"maker_ratio,omitempty"` // nil when unknown
	ComputedAt         time.Time       `json:"computed_at"`
}

// RankingScore is a derived, cached score for one leader.
// Always reconstructible from TraderStats and optional archetype attributes.
type RankingScore struct {
	Address          string  `json:"address"`
	Rank             int     `json:"rank"`
	RankingScore     float64 `json:"ranking_score"`
	VolumeScore      float64 `json:"volume_score"`
	PnlScore         float64 `json:"pnl_score"`
	ConsistencyScore float64 `json:"consistency_score"`
	RecencyScore     float64 `json:"recency_score"`
	CopyabilityScore float64 `json:"copyability_score"`
}
