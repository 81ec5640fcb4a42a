package ranking

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"copytrade-engine/internal/domain"
)

// Gate names.
const (
	GateMinTrades     = "min_trades"
	GateMinVolume     = "min_volume"
	GateRecency       = "recency"
	GateMaxMakerRatio = "max_maker_ratio"
	GateMinSymbols    = "min_symbols"
)

// Gates are the minimum-quality rules a leader must pass to be ranked.
type Gates struct {
	MinTrades     int
	MinVolumeUsd  decimal.Decimal
	RecencyWindow time.Duration
	MaxMakerRatio float64 // applied only when the ratio is known
	MinSymbols    int
}

// DefaultGates returns 300 trades, $10M volume, 7 days, 95% maker, 3 symbols.
func DefaultGates() Gates {
	return Gates{
		MinTrades:     300,
		MinVolumeUsd:  decimal.NewFromInt(10_000_000),
		RecencyWindow: 7 * 24 * time.Hour,
		MaxMakerRatio: 0.95,
		MinSymbols:    3,
	}
}

// GateResult is the pass/fail outcome of one gate.
type GateResult struct {
	Name      string
	Threshold string
	Actual    string
	Pass      bool
}

// Evaluate runs every gate against st.
func (g Gates) Evaluate(st *domain.TraderStats, now time.Time) []GateResult {
	results := make([]GateResult, 0, 5)

	results = append(results, GateResult{
		Name:      GateMinTrades,
		Threshold: fmt.Sprintf(">= %d", g.MinTrades),
		Actual:    fmt.Sprintf("%d", st.TradeCount),
		Pass:      st.TradeCount >= g.MinTrades,
	})

	results = append(results, GateResult{
		Name:      GateMinVolume,
		Threshold: ">= " + g.MinVolumeUsd.StringFixed(0),
		Actual:    st.VolumeUsd.StringFixed(2),
		Pass:      st.VolumeUsd.GreaterThanOrEqual(g.MinVolumeUsd),
	})

	// Future timestamps count as active.
	active := !st.LastTradeAt.IsZero() && now.Sub(st.LastTradeAt) <= g.RecencyWindow
	results = append(results, GateResult{
		Name:      GateRecency,
		Threshold: "last trade within " + g.RecencyWindow.String(),
		Actual:    formatLastTrade(st.LastTradeAt),
		Pass:      active,
	})

	maker := GateResult{
		Name:      GateMaxMakerRatio,
		Threshold: fmt.Sprintf("<= %.2f", g.MaxMakerRatio),
		Actual:    "unknown",
		Pass:      true,
	}
	if st.MakerRatio != nil {
		maker.Actual = fmt.Sprintf("%.2f", *st.MakerRatio)
		maker.Pass = *st.MakerRatio <= g.MaxMakerRatio
	}
	results = append(results, maker)

	results = append(results, GateResult{
		Name:      GateMinSymbols,
		Threshold: fmt.Sprintf(">= %d", g.MinSymbols),
		Actual:    fmt.Sprintf("%d", st.UniqueSymbols),
		Pass:      st.UniqueSymbols >= g.MinSymbols,
	})

	return results
}

// Check returns the names of failed gates. Empty means the leader is ranked.
func (g Gates) Check(st *domain.TraderStats, now time.Time) []string {
	var failed []string
	for _, r := range g.Evaluate(st, now) {
		if !r.Pass {
			failed = append(failed, r.Name)
		}
	}
	return failed
}

func formatLastTrade(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.UTC().Format(time.RFC3339)
}
