package ranking

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"copytrade-engine/internal/domain"
	"copytrade-engine/internal/idhash"
	"copytrade-engine/internal/storage"
)

const (
	strengthThreshold = 0.7
	strongWinRate     = 0.55
	weakWinRate       = 0.4
)

var (
	baseCopySize = decimal.NewFromInt(100)
	minCopySize  = decimal.NewFromInt(10)
)

// TraderCard is the explainable profile of one leader.
type TraderCard struct {
	Address           string               `json:"address"`
	Stats             domain.TraderStats   `json:"stats"`
	Score             *domain.RankingScore `json:"ranking_score"` // nil when gated out
	Archetype         *domain.Archetype    `json:"archetype,omitempty"`
	Strengths         []string             `json:"strengths"`
	Warnings          []string             `json:"warnings"`
	SuggestedCopySize decimal.Decimal      `json:"suggested_copy_size"` // USD notional
}

// TraderCard builds the card of address from the current snapshot. Traders
// with stats newer than the snapshot are evaluated on the spot. Unknown
// addresses return an error wrapping storage.ErrNotFound.
func (e *Engine) TraderCard(ctx context.Context, address string) (*TraderCard, error) {
	snap, err := e.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	ev, ok := snap.Evaluation(address)
	if !ok {
		st, err := e.stats.Get(ctx, idhash.NormalizeAddress(address))
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("trader %s: %w", address, storage.ErrNotFound)
		}
		if err != nil {
			return nil, fmt.Errorf("load stats %s: %w", address, err)
		}
		ev = e.evaluate(ctx, st, e.now())
	}

	return buildCard(ev), nil
}

func buildCard(ev *Evaluation) *TraderCard {
	card := &TraderCard{
		Address:           ev.Stats.Address,
		Stats:             ev.Stats,
		Archetype:         ev.Archetype,
		Strengths:         []string{},
		Warnings:          []string{},
		SuggestedCopySize: decimal.Zero,
	}

	if ev.Ranked() {
		score := ev.Score
		card.Score = &score
		card.SuggestedCopySize = suggestedCopySize(score.CopyabilityScore)
	}

	c := ev.Components
	if c.Volume >= strengthThreshold {
		card.Strengths = append(card.Strengths, "high trading volume")
	}
	if c.Pnl >= strengthThreshold {
		card.Strengths = append(card.Strengths, "strong return on volume")
	}
	if c.Consistency >= strengthThreshold {
		card.Strengths = append(card.Strengths, "consistent across symbols")
	}
	if c.Recency >= strengthThreshold {
		card.Strengths = append(card.Strengths, "recently active")
	}
	if ev.Stats.ClosedTrades > 0 && ev.Stats.WinRate >= strongWinRate {
		card.Strengths = append(card.Strengths, fmt.Sprintf("win rate %.0f%%", ev.Stats.WinRate*100))
	}

	for _, g := range ev.FailedGates {
		card.Warnings = append(card.Warnings, fmt.Sprintf("%s not met: %s (need %s)", g.Name, g.Actual, g.Threshold))
	}
	if ev.Archetype != nil && ev.Archetype.RiskLevel == domain.RiskHigh {
		card.Warnings = append(card.Warnings, "high risk profile")
	}
	if ev.Stats.ClosedTrades > 0 && ev.Stats.WinRate < weakWinRate {
		card.Warnings = append(card.Warnings, fmt.Sprintf("low win rate %.0f%%", ev.Stats.WinRate*100))
	}
	if ev.Stats.RealizedPnlUsd.IsNegative() {
		card.Warnings = append(card.Warnings, "negative realized PnL over 30 days")
	}

	return card
}

// suggestedCopySize scales $100 by copyability/100, floored at $10.
func suggestedCopySize(copyability float64) decimal.Decimal {
	size := baseCopySize.Mul(decimal.NewFromFloat(copyability)).Div(decimal.NewFromInt(100))
	if size.LessThan(minCopySize) {
		size = minCopySize
	}
	return size.Round(2)
}
