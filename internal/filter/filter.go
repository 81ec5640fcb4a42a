// Package filter decides whether a leader trade is copied for one
// copytrader and sizes the resulting CopyTradeRequest.
//
// Checks run cheapest first and the first failing check wins:
//
//	enabled -> pair filters -> regime -> leverage -> notional cap -> rate limit
//
// Rejections are silent skips: *domain.FilterRejected,
// *domain.RegimeRejected or domain.ErrRateLimited.
package filter

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"copytrade-engine/internal/domain"
	"copytrade-engine/internal/gateway"
	"copytrade-engine/internal/observability"
	"copytrade-engine/internal/ratelimit"
)

// DefaultSignalTimeout bounds regime and equity lookups.
const DefaultSignalTimeout = 3 * time.Second

// Rejection reasons.
const (
	ReasonDisabled     = "disabled"
	ReasonPairBlocked  = "pair_blocked"
	ReasonPairNotAllow = "pair_not_allowed"
	ReasonLeverage     = "leverage_exceeded"
	ReasonNotionalCap  = "notional_cap_exceeded"
	ReasonZeroSize     = "zero_size"
	ReasonRegime       = "regime_red"
	ReasonRateLimited  = "rate_limited"
)

// Options contains configuration for creating a Filter.
type Options struct {
	// Regime may be nil, in which case the regime check is skipped.
	Regime gateway.RegimeProvider
	// Equity is required only for PCT_EQUITY configurations.
	Equity  gateway.EquityProvider
	Limiter ratelimit.Limiter

	RejectRedRegime bool
	SignalTimeout   time.Duration
	Logger          *zap.Logger
}

// Filter evaluates leader trades against copy configurations.
type Filter struct {
	regime        gateway.RegimeProvider
	equity        gateway.EquityProvider
	limiter       ratelimit.Limiter
	rejectRed     bool
	signalTimeout time.Duration
	log           *zap.Logger

	now   func() time.Time
	newID func() string
}

// New creates a Filter.
func New(opts Options) *Filter {
	f := &Filter{
		regime:        opts.Regime,
		equity:        opts.Equity,
		limiter:       opts.Limiter,
		rejectRed:     opts.RejectRedRegime,
		signalTimeout: opts.SignalTimeout,
		log:           opts.Logger,
		now:           time.Now,
		newID:         func() string { return uuid.New().String() },
	}
	if f.signalTimeout <= 0 {
		f.signalTimeout = DefaultSignalTimeout
	}
	if f.log == nil {
		f.log = zap.NewNop()
	}
	f.log = f.log.Named("filter")
	return f
}

// Evaluate runs the checks and, when all pass, sizes the request.
func (f *Filter) Evaluate(ctx context.Context, cfg *domain.CopyConfiguration, follow *domain.LeaderFollow, e *domain.TradeEvent) (*domain.CopyTradeRequest, error) {
	if err := f.check(ctx, cfg, e); err != nil {
		return nil, err
	}

	equity := decimal.Zero
	if cfg.SizingMode == domain.SizingModePctEquity {
		if f.equity == nil {
			return nil, fmt.Errorf("equity provider required for %s", cfg.SizingMode)
		}
		eqCtx, cancel := context.WithTimeout(ctx, f.signalTimeout)
		eq, err := f.equity.GetEquity(eqCtx, cfg.UserID)
		cancel()
		if err != nil {
			observability.RecordFilterDecision("error", "equity")
			return nil, fmt.Errorf("follower equity: %w", err)
		}
		equity = eq
	}

	size, err := Size(cfg, equity, e.Price)
	if err != nil {
		observability.RecordFilterDecision("error", "sizing")
		return nil, fmt.Errorf("size %s: %w", e.EventID, err)
	}
	if !size.IsPositive() {
		return nil, f.reject(ReasonZeroSize)
	}

	observability.RecordFilterDecision("accepted", "")
	return &domain.CopyTradeRequest{
		RequestID:      f.newID(),
		CopytraderID:   cfg.CopytraderID,
		UserID:         cfg.UserID,
		LeaderAddress:  follow.LeaderAddress,
		SourceTrade:    *e,
		OriginalSize:   e.Size,
		TargetSize:     size,
		MaxSlippageBps: cfg.MaxSlippageBps,
		MaxLeverage:    cfg.MaxLeverage,
		CreatedAt:      f.now(),
	}, nil
}

func (f *Filter) check(ctx context.Context, cfg *domain.CopyConfiguration, e *domain.TradeEvent) error {
	if !cfg.Enabled {
		return f.reject(ReasonDisabled)
	}

	if reason := pairRejection(cfg.PairFilters, e.Pair); reason != "" {
		return f.reject(reason)
	}

	if err := f.checkRegime(ctx, e.Pair); err != nil {
		return err
	}

	if e.Leverage.GreaterThan(cfg.MaxLeverage) {
		return f.reject(ReasonLeverage)
	}

	if cfg.NotionalCap != nil && e.Notional().GreaterThan(*cfg.NotionalCap) {
		return f.reject(ReasonNotionalCap)
	}

	if f.limiter != nil {
		allowed, err := f.limiter.Allow(ctx, cfg.CopytraderID, e.Pair)
		switch {
		case err != nil:
			observability.RecordRateLimitCheck("fail_open")
			f.log.Warn("rate limiter unavailable, allowing copy",
				zap.String("copytrader_id", cfg.CopytraderID),
				zap.Error(err),
			)
		case !allowed:
			observability.RecordRateLimitCheck("limited")
			observability.RecordFilterDecision("rejected", ReasonRateLimited)
			return domain.ErrRateLimited
		default:
			observability.RecordRateLimitCheck("allowed")
		}
	}
	return nil
}

// checkRegime rejects red symbols. Provider failures count as not red.
func (f *Filter) checkRegime(ctx context.Context, pair string) error {
	if f.regime == nil || !f.rejectRed {
		return nil
	}

	symbol := SymbolOf(pair)
	sigCtx, cancel := context.WithTimeout(ctx, f.signalTimeout)
	sig, err := f.regime.GetCopyTimingSignal(sigCtx, symbol)
	cancel()
	if err != nil {
		f.log.Warn("regime signal unavailable, treating as not red",
			zap.String("symbol", symbol),
			zap.Error(err),
		)
		return nil
	}
	if sig != nil && sig.Signal == domain.RegimeRed {
		observability.RecordFilterDecision("rejected", ReasonRegime)
		return &domain.RegimeRejected{Symbol: symbol, Signal: sig.Signal}
	}
	return nil
}

func (f *Filter) reject(reason string) error {
	observability.RecordFilterDecision("rejected", reason)
	return &domain.FilterRejected{Reason: reason}
}

func pairRejection(pf domain.PairFilters, pair string) string {
	for _, b := range pf.Blocked {
		if strings.EqualFold(b, pair) {
			return ReasonPairBlocked
		}
	}
	if !pf.Allows(pair) {
		return ReasonPairNotAllow
	}
	return ""
}

// SymbolOf returns the base asset of a pair: "BTC/USD" -> "BTC".
func SymbolOf(pair string) string {
	if i := strings.IndexAny(pair, "/-_"); i > 0 {
		return strings.ToUpper(pair[:i])
	}
	return strings.ToUpper(pair)
}
