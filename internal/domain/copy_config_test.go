package domain

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func validConfig() *CopyConfiguration {
	return &CopyConfiguration{
		UserID:         "user-1",
		SizingMode:     SizingModeFixedNotional,
		SizingValue:    decimal.NewFromInt(100),
		MaxSlippageBps: 100,
		MaxLeverage:    decimal.NewFromInt(50),
		Enabled:        true,
	}
}

func TestCopyConfiguration_ValidateOK(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestCopyConfiguration_ValidateErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *CopyConfiguration)
		field  string
	}{
		{"missing user", func(c *CopyConfiguration) { c.UserID = "" }, "user_id"},
		{"bad mode", func(c *CopyConfiguration) { c.SizingMode = "MARTINGALE" }, "sizing_mode"},
		{"zero value", func(c *CopyConfiguration) { c.SizingValue = decimal.Zero }, "sizing_value"},
		{"pct over 100", func(c *CopyConfiguration) {
			c.SizingMode = SizingModePctEquity
			c.SizingValue = decimal.NewFromInt(101)
		}, "sizing_value"},
		{"negative slippage", func(c *CopyConfiguration) { c.MaxSlippageBps = -1 }, "max_slippage_bps"},
		{"zero leverage", func(c *CopyConfiguration) { c.MaxLeverage = decimal.Zero }, "max_leverage"},
		{"zero cap", func(c *CopyConfiguration) {
			cp := decimal.Zero
			c.NotionalCap = &cp
		}, "notional_cap"},
		{"allowed and blocked", func(c *CopyConfiguration) {
			c.PairFilters = PairFilters{Allowed: []string{"BTC/USD"}, Blocked: []string{"btc/usd"}}
		}, "pair_filters"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)

			err := c.Validate()
			var verr *ConfigValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ConfigValidationError, got %v", err)
			}
			found := false
			for _, f := range verr.Fields {
				if f.Field == tt.field {
					found = true
				}
			}
			if !found {
				t.Errorf("expected field %s in %v", tt.field, verr.Fields)
			}
		})
	}
}

func TestPairFilters_Allows(t *testing.T) {
	f := PairFilters{Allowed: []string{"BTC/USD", "ETH/USD"}, Blocked: []string{"ETH/USD"}}

	if !f.Allows("btc/usd") {
		t.Error("BTC/USD should be allowed")
	}
	if f.Allows("ETH/USD") {
		t.Error("blocked wins over allowed")
	}
	if f.Allows("SOL/USD") {
		t.Error("SOL/USD is not in allowed list")
	}
	if !(PairFilters{}).Allows("SOL/USD") {
		t.Error("empty filters allow everything")
	}
}

func TestPositionStatus_CanTransition(t *testing.T) {
	if !PositionStatusPending.CanTransition(PositionStatusOpen) {
		t.Error("PENDING -> OPEN must be legal")
	}
	if !PositionStatusOpen.CanTransition(PositionStatusClosed) {
		t.Error("OPEN -> CLOSED must be legal")
	}
	if PositionStatusFailed.CanTransition(PositionStatusOpen) {
		t.Error("FAILED is terminal")
	}
	if PositionStatusPending.CanTransition(PositionStatusClosed) {
		t.Error("PENDING -> CLOSED must be illegal")
	}
}
