// Package ranking scores leaders from their 30-day TraderStats, applies
// minimum-quality gates and serves a cached leaderboard.
//
// All scores are derived. A snapshot can always be rebuilt from the stats
// store plus the optional trader-analysis attributes.
package ranking

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultVolumeCeiling is the volume whose log1p is 20.
var DefaultVolumeCeiling = math.Exp(20) - 1

// DefaultClockSkew is subtracted from a trade's age before bucketing.
const DefaultClockSkew = time.Minute

const roiCap = 0.05

// Components are the per-leader scores, each in [0,1].
type Components struct {
	Volume      float64
	Pnl         float64
	Consistency float64
	Recency     float64
}

// Weights combine Components into the ranking score.
type Weights struct {
	Volume      float64 `yaml:"volume"`
	Pnl         float64 `yaml:"pnl"`
	Consistency float64 `yaml:"consistency"`
	Recency     float64 `yaml:"recency"`
}

// DefaultWeights returns 0.4/0.3/0.2/0.1.
func DefaultWeights() Weights {
	return Weights{Volume: 0.4, Pnl: 0.3, Consistency: 0.2, Recency: 0.1}
}

// Composite returns the weighted sum of c.
func (w Weights) Composite(c Components) float64 {
	return w.Volume*c.Volume + w.Pnl*c.Pnl + w.Consistency*c.Consistency + w.Recency*c.Recency
}

// VolumeScore = min(1, ln(1+v)/ln(1+ceiling)). A non-positive ceiling uses
// DefaultVolumeCeiling.
func VolumeScore(volumeUsd, ceiling float64) float64 {
	if volumeUsd <= 0 {
		return 0
	}
	if ceiling <= 0 {
		ceiling = DefaultVolumeCeiling
	}
	return math.Min(1, math.Log1p(volumeUsd)/math.Log1p(ceiling))
}

// PnlScore maps ROI = pnl/volume linearly onto [0.5,1] for gains and [0,0.5]
// for losses, saturating at 5%. Zero volume is neutral.
func PnlScore(realizedPnl, volumeUsd decimal.Decimal) float64 {
	if !volumeUsd.IsPositive() {
		return 0.5
	}
	roi := realizedPnl.Div(volumeUsd).InexactFloat64()
	switch {
	case roi > 0:
		return 0.5 + 0.5*math.Min(roi, roiCap)/roiCap
	case roi < 0:
		return 0.5 - 0.5*math.Min(-roi, roiCap)/roiCap
	}
	return 0.5
}

// ConsistencyScore prefers the external metric, clamped to [0,1].
func ConsistencyScore(uniqueSymbols, tradeCount int, external *float64) float64 {
	if external != nil {
		return clamp(*external, 0, 1)
	}
	symbols := math.Min(1, float64(uniqueSymbols)/10)
	trades := math.Min(1, float64(tradeCount)/1000)
	return (symbols + trades) / 2
}

// RecencyScore is a step function of the last trade's age: 1.0 within an
// hour, 0.8 within a day, 0.2 within a week, else 0. Future timestamps count
// as now.
func RecencyScore(lastTradeAt, now time.Time, skew time.Duration) float64 {
	if lastTradeAt.IsZero() {
		return 0
	}
	age := now.Sub(lastTradeAt) - skew
	if age < 0 {
		age = 0
	}
	switch {
	case age <= time.Hour:
		return 1.0
	case age <= 24*time.Hour:
		return 0.8
	case age <= 7*24*time.Hour:
		return 0.2
	}
	return 0
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
