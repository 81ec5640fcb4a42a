package filter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"copytrade-engine/internal/domain"
	"copytrade-engine/internal/gateway/stub"
	"copytrade-engine/internal/queue"
	"copytrade-engine/internal/ratelimit"
	"copytrade-engine/internal/storage/memory"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func baseConfig() *domain.CopyConfiguration {
	return &domain.CopyConfiguration{
		CopytraderID:   "ct1",
		UserID:         "user-1",
		SizingMode:     domain.SizingModeFixedNotional,
		SizingValue:    dec("100"),
		MaxSlippageBps: 100,
		MaxLeverage:    dec("50"),
		Enabled:        true,
	}
}

func btcOpen() *domain.TradeEvent {
	return &domain.TradeEvent{
		EventID:       "evt-1",
		LeaderAddress: "0xleader",
		Pair:          "BTC/USD",
		IsLong:        true,
		Size:          dec("1.0"),
		Price:         dec("50000"),
		Leverage:      dec("10"),
		EventType:     domain.EventTypeOpened,
		TxHash:        "0x1",
		Timestamp:     time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC),
	}
}

var testFollow = &domain.LeaderFollow{CopytraderID: "ct1", UserID: "user-1", LeaderAddress: "0xleader", Active: true}

type countingRegime struct {
	signal domain.RegimeColor
	err    error
	calls  int
}

func (r *countingRegime) GetCopyTimingSignal(_ context.Context, _ string) (*domain.RegimeSignal, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	return &domain.RegimeSignal{Signal: r.signal, Confidence: 0.9}, nil
}

func TestSize(t *testing.T) {
	tests := []struct {
		name   string
		mode   domain.SizingMode
		value  string
		equity string
		price  string
		cap    *decimal.Decimal
		want   string
	}{
		{"fixed notional", domain.SizingModeFixedNotional, "100", "0", "50000", nil, "0.002"},
		{"pct equity", domain.SizingModePctEquity, "5", "1000", "50000", nil, "0.001"},
		{"capped by notional cap", domain.SizingModeFixedNotional, "1000", "0", "50000", decPtr("250"), "0.005"},
		{"rounded down to 8 places", domain.SizingModeFixedNotional, "100", "0", "30000", nil, "0.00333333"},
		{"pct equity with zero equity", domain.SizingModePctEquity, "5", "0", "50000", nil, "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := baseConfig()
			cfg.SizingMode = tt.mode
			cfg.SizingValue = dec(tt.value)
			cfg.NotionalCap = tt.cap

			got, err := Size(cfg, dec(tt.equity), dec(tt.price))
			if err != nil {
				t.Fatalf("Size: %v", err)
			}
			if !got.Equal(dec(tt.want)) {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}

	if _, err := Size(baseConfig(), decimal.Zero, decimal.Zero); err == nil {
		t.Error("expected error for zero price")
	}
}

func TestEvaluate_Accepted(t *testing.T) {
	f := New(Options{
		Regime:          stub.NewRegimeProvider(),
		Limiter:         ratelimit.NewMemoryLimiter(10, time.Hour),
		RejectRedRegime: true,
	})
	f.newID = func() string { return "req-1" }

	req, err := f.Evaluate(context.Background(), baseConfig(), testFollow, btcOpen())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if req.RequestID != "req-1" || req.CopytraderID != "ct1" || req.UserID != "user-1" {
		t.Errorf("unexpected identity fields %+v", req)
	}
	if !req.TargetSize.Equal(dec("0.002")) {
		t.Errorf("expected target size 0.002, got %s", req.TargetSize)
	}
	if !req.OriginalSize.Equal(dec("1.0")) {
		t.Errorf("expected original size 1.0, got %s", req.OriginalSize)
	}
	if req.MaxSlippageBps != 100 || req.SourceTrade.EventID != "evt-1" {
		t.Errorf("unexpected request %+v", req)
	}
}

func TestEvaluate_FreshRequestIDs(t *testing.T) {
	f := New(Options{})
	a, err := f.Evaluate(context.Background(), baseConfig(), testFollow, btcOpen())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	b, err := f.Evaluate(context.Background(), baseConfig(), testFollow, btcOpen())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if a.RequestID == "" || a.RequestID == b.RequestID {
		t.Errorf("expected distinct request ids, got %q and %q", a.RequestID, b.RequestID)
	}
}

func TestEvaluate_DecisionOrder(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(cfg *domain.CopyConfiguration, e *domain.TradeEvent)
		regime      domain.RegimeColor
		wantReason  string
		wantRegime  bool
		regimeCalls int
	}{
		{
			name: "disabled wins over blocked pair",
			mutate: func(cfg *domain.CopyConfiguration, e *domain.TradeEvent) {
				cfg.Enabled = false
				cfg.PairFilters.Blocked = []string{"BTC/USD"}
			},
			regime:     domain.RegimeRed,
			wantReason: ReasonDisabled,
		},
		{
			name: "blocked pair wins over red regime",
			mutate: func(cfg *domain.CopyConfiguration, e *domain.TradeEvent) {
				cfg.PairFilters.Blocked = []string{"btc/usd"}
			},
			regime:     domain.RegimeRed,
			wantReason: ReasonPairBlocked,
		},
		{
			name: "pair outside allow list",
			mutate: func(cfg *domain.CopyConfiguration, e *domain.TradeEvent) {
				cfg.PairFilters.Allowed = []string{"ETH/USD"}
			},
			regime:     domain.RegimeGreen,
			wantReason: ReasonPairNotAllow,
		},
		{
			name: "red regime wins over leverage",
			mutate: func(cfg *domain.CopyConfiguration, e *domain.TradeEvent) {
				e.Leverage = dec("100")
			},
			regime:      domain.RegimeRed,
			wantRegime:  true,
			regimeCalls: 1,
		},
		{
			name: "leverage wins over notional cap",
			mutate: func(cfg *domain.CopyConfiguration, e *domain.TradeEvent) {
				e.Leverage = dec("51")
				cfg.NotionalCap = decPtr("1000")
			},
			regime:      domain.RegimeYellow,
			wantReason:  ReasonLeverage,
			regimeCalls: 1,
		},
		{
			name: "notional cap",
			mutate: func(cfg *domain.CopyConfiguration, e *domain.TradeEvent) {
				cfg.NotionalCap = decPtr("49999.99")
			},
			regime:      domain.RegimeGreen,
			wantReason:  ReasonNotionalCap,
			regimeCalls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			regime := &countingRegime{signal: tt.regime}
			limiter := ratelimit.NewMemoryLimiter(1, time.Hour)
			f := New(Options{Regime: regime, Limiter: limiter, RejectRedRegime: true})

			cfg, e := baseConfig(), btcOpen()
			tt.mutate(cfg, e)

			_, err := f.Evaluate(context.Background(), cfg, testFollow, e)
			if !domain.IsSilentSkip(err) {
				t.Fatalf("expected silent skip, got %v", err)
			}

			if tt.wantRegime {
				var rr *domain.RegimeRejected
				if !errors.As(err, &rr) {
					t.Fatalf("expected RegimeRejected, got %v", err)
				}
				if rr.Symbol != "BTC" {
					t.Errorf("expected symbol BTC, got %s", rr.Symbol)
				}
			} else {
				var fr *domain.FilterRejected
				if !errors.As(err, &fr) {
					t.Fatalf("expected FilterRejected, got %v", err)
				}
				if fr.Reason != tt.wantReason {
					t.Errorf("expected reason %s, got %s", tt.wantReason, fr.Reason)
				}
			}

			if regime.calls != tt.regimeCalls {
				t.Errorf("expected %d regime calls, got %d", tt.regimeCalls, regime.calls)
			}

			// Earlier rejections never consume rate limit budget.
			allowed, _ := limiter.Allow(context.Background(), "ct1", "BTC/USD")
			if !allowed {
				t.Error("rate limit budget consumed by a rejected trade")
			}
		})
	}
}

func TestEvaluate_RateLimited(t *testing.T) {
	f := New(Options{Limiter: ratelimit.NewMemoryLimiter(2, time.Hour)})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := f.Evaluate(ctx, baseConfig(), testFollow, btcOpen()); err != nil {
			t.Fatalf("request %d: %v", i+1, err)
		}
	}
	_, err := f.Evaluate(ctx, baseConfig(), testFollow, btcOpen())
	if !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}

	eth := btcOpen()
	eth.Pair = "ETH/USD"
	if _, err := f.Evaluate(ctx, baseConfig(), testFollow, eth); err != nil {
		t.Errorf("other pairs keep their own budget: %v", err)
	}
}

func TestEvaluate_RegimeOutageIsNotRed(t *testing.T) {
	regime := &countingRegime{err: errors.New("signal service down")}
	f := New(Options{Regime: regime, RejectRedRegime: true})

	if _, err := f.Evaluate(context.Background(), baseConfig(), testFollow, btcOpen()); err != nil {
		t.Fatalf("regime outage must not block copying: %v", err)
	}
}

func TestEvaluate_RedAllowedWhenDisabled(t *testing.T) {
	regime := &countingRegime{signal: domain.RegimeRed}
	f := New(Options{Regime: regime, RejectRedRegime: false})

	if _, err := f.Evaluate(context.Background(), baseConfig(), testFollow, btcOpen()); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if regime.calls != 0 {
		t.Errorf("regime should not be queried when red is allowed")
	}
}

func TestEvaluate_PctEquity(t *testing.T) {
	equity := stub.NewEquityProvider(dec("1000"))
	f := New(Options{Equity: equity})

	cfg := baseConfig()
	cfg.SizingMode = domain.SizingModePctEquity
	cfg.SizingValue = dec("5")

	req, err := f.Evaluate(context.Background(), cfg, testFollow, btcOpen())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !req.TargetSize.Equal(dec("0.001")) {
		t.Errorf("expected 0.001, got %s", req.TargetSize)
	}

	equity.Set("user-1", decimal.Zero)
	_, err = f.Evaluate(context.Background(), cfg, testFollow, btcOpen())
	var fr *domain.FilterRejected
	if !errors.As(err, &fr) || fr.Reason != ReasonZeroSize {
		t.Errorf("expected zero size rejection, got %v", err)
	}
}

func TestSymbolOf(t *testing.T) {
	cases := map[string]string{
		"BTC/USD":  "BTC",
		"eth-usdc": "ETH",
		"SOL":      "SOL",
	}
	for pair, want := range cases {
		if got := SymbolOf(pair); got != want {
			t.Errorf("SymbolOf(%q) = %q, want %q", pair, got, want)
		}
	}
}

func TestStage_PublishesAcceptedRequests(t *testing.T) {
	ctx := context.Background()
	configs := memory.NewCopyConfigStore()
	if err := configs.Upsert(ctx, baseConfig()); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	q := queue.NewMemoryQueue(4)
	stage := NewStage(New(Options{}), configs, q, nil)

	if err := stage.HandleLeaderEvent(ctx, testFollow, btcOpen()); err != nil {
		t.Fatalf("HandleLeaderEvent: %v", err)
	}
	if q.Len() != 1 {
		t.Fatalf("expected 1 queued request, got %d", q.Len())
	}

	blocked := btcOpen()
	blocked.Leverage = dec("75")
	if err := stage.HandleLeaderEvent(ctx, testFollow, blocked); !domain.IsSilentSkip(err) {
		t.Errorf("expected silent skip, got %v", err)
	}
	if q.Len() != 1 {
		t.Errorf("rejected trade must not be queued")
	}

	unknown := &domain.LeaderFollow{CopytraderID: "missing", LeaderAddress: "0xleader"}
	if err := stage.HandleLeaderEvent(ctx, unknown, btcOpen()); !domain.IsSilentSkip(err) {
		t.Errorf("expected silent skip for missing configuration, got %v", err)
	}
}
