package filter

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"copytrade-engine/internal/domain"
)

// SizePrecision is the number of decimal places kept in a target size.
const SizePrecision = 8

var (
	errNonPositivePrice = errors.New("price must be positive")
	hundred             = decimal.NewFromInt(100)
)

// Size derives the follower's target size in base units.
//
//	FIXED_NOTIONAL: notional = sizingValue
//	PCT_EQUITY:     notional = equity * sizingValue / 100
//
// size = notional / price, capped so size*price <= notionalCap, rounded down
// to SizePrecision places. equity is ignored for FIXED_NOTIONAL.
func Size(cfg *domain.CopyConfiguration, equity, price decimal.Decimal) (decimal.Decimal, error) {
	if !price.IsPositive() {
		return decimal.Zero, errNonPositivePrice
	}

	var notional decimal.Decimal
	switch cfg.SizingMode {
	case domain.SizingModeFixedNotional:
		notional = cfg.SizingValue
	case domain.SizingModePctEquity:
		if equity.IsNegative() {
			return decimal.Zero, fmt.Errorf("negative equity %s", equity)
		}
		notional = equity.Mul(cfg.SizingValue).Div(hundred)
	default:
		return decimal.Zero, fmt.Errorf("unknown sizing mode %q", cfg.SizingMode)
	}

	size := notional.Div(price)
	if cfg.NotionalCap != nil && size.Mul(price).GreaterThan(*cfg.NotionalCap) {
		size = cfg.NotionalCap.Div(price)
	}
	return size.Truncate(SizePrecision), nil
}
