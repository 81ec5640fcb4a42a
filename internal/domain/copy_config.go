package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// SizingMode selects how a follower's target notional is derived.
type SizingMode string

const (
	SizingModeFixedNotional SizingMode = "FIXED_NOTIONAL"
	SizingModePctEquity     SizingMode = "PCT_EQUITY"
)

// String returns the string representation of SizingMode.
func (m SizingMode) String() string {
	return string(m)
}

// IsValid checks if the sizing mode is a valid value.
func (m SizingMode) IsValid() bool {
	return m == SizingModeFixedNotional || m == SizingModePctEquity
}

// Upper bounds accepted at validation time.
const (
	MaxSlippageBpsLimit = 10000
	MaxLeverageLimit    = 500
)

// PairFilters restricts which pairs a copytrader copies.
// An empty Allowed list means every pair not in Blocked is allowed.
type PairFilters struct {
	Allowed []string `json:"allowed,omitempty" yaml:"allowed"`
	Blocked []string `json:"blocked,omitempty" yaml:"blocked"`
}

// Allows reports whether pair passes the filters.
func (f PairFilters) Allows(pair string) bool {
	for _, b := range f.Blocked {
		if strings.EqualFold(b, pair) {
			return false
		}
	}
	if len(f.Allowed) == 0 {
		return true
	}
	for _, a := range f.Allowed {
		if strings.EqualFold(a, pair) {
			return true
		}
	}
	return false
}

// CopyConfiguration holds a follower's sizing and risk rules for one copytrader.
// One active configuration exists per copytrader.
type CopyConfiguration struct {
	CopytraderID   string           `json:"copytrader_id"`
	UserID         string           `json:"user_id"`
	SizingMode     SizingMode       `json:"sizing_mode"`
	SizingValue    decimal.Decimal  `json:"sizing_value"`
	MaxSlippageBps int              `json:"max_slippage_bps"`
	MaxLeverage    decimal.Decimal  `json:"max_leverage"`
	NotionalCap    *decimal.Decimal `json:"notional_cap,omitempty"` // nil = uncapped
	PairFilters    PairFilters      `json:"pair_filters"`
	Enabled        bool             `json:"enabled"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// Validate checks the configuration shape. Returns *ConfigValidationError.
func (c *CopyConfiguration) Validate() error {
	verr := &ConfigValidationError{}

	if strings.TrimSpace(c.UserID) == "" {
		verr.add("user_id", "is required")
	}
	if !c.SizingMode.IsValid() {
		verr.add("sizing_mode", "must be FIXED_NOTIONAL or PCT_EQUITY")
	}
	if !c.SizingValue.IsPositive() {
		verr.add("sizing_value", "must be positive")
	}
	if c.SizingMode == SizingModePctEquity && c.SizingValue.GreaterThan(decimal.NewFromInt(100)) {
		verr.add("sizing_value", "percentage must be within [0, 100]")
	}
	if c.MaxSlippageBps < 0 || c.MaxSlippageBps > MaxSlippageBpsLimit {
		verr.add("max_slippage_bps", "must be within [0, 10000]")
	}
	if !c.MaxLeverage.IsPositive() || c.MaxLeverage.GreaterThan(decimal.NewFromInt(MaxLeverageLimit)) {
		verr.add("max_leverage", "must be within (0, 500]")
	}
	if c.NotionalCap != nil && !c.NotionalCap.IsPositive() {
		verr.add("notional_cap", "must be positive when set")
	}
	for _, a := range c.PairFilters.Allowed {
		for _, b := range c.PairFilters.Blocked {
			if strings.EqualFold(a, b) {
				verr.add("pair_filters", "pair "+a+" is both allowed and blocked")
			}
		}
	}

	if len(verr.Fields) > 0 {
		return verr
	}
	return nil
}

// Clone returns a deep copy.
func (c *CopyConfiguration) Clone() *CopyConfiguration {
	cp := *c
	if c.NotionalCap != nil {
		v := *c.NotionalCap
		cp.NotionalCap = &v
	}
	cp.PairFilters.Allowed = append([]string(nil), c.PairFilters.Allowed...)
	cp.PairFilters.Blocked = append([]string(nil), c.PairFilters.Blocked...)
	return &cp
}
