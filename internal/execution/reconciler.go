package execution

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"copytrade-engine/internal/domain"
	"copytrade-engine/internal/gateway"
	"copytrade-engine/internal/idhash"
	"copytrade-engine/internal/ledger"
	"copytrade-engine/internal/observability"
	"copytrade-engine/internal/storage"
)

// Reconciler defaults.
const (
	DefaultReconcileInterval    = time.Minute
	DefaultReconcileConcurrency = 8
	DefaultReconcileTimeout     = 10 * time.Second
)

// closeTxPrefix marks closing fills booked by reconciliation.
const closeTxPrefix = "reconcile-"

// ReconcilerOptions contains configuration for creating a Reconciler.
type ReconcilerOptions struct {
	Positions   storage.CopyPositionStore
	Fills       storage.FillStore
	Checker     gateway.PositionChecker
	Oracle      gateway.PriceOracle
	Notifier    gateway.Notifier
	Concurrency int
	Timeout     time.Duration
	Logger      *zap.Logger
}

// Reconciler closes OPEN positions the follower no longer holds.
type Reconciler struct {
	positions   storage.CopyPositionStore
	fills       storage.FillStore
	checker     gateway.PositionChecker
	oracle      gateway.PriceOracle
	notifier    gateway.Notifier
	books       *ledger.Books
	concurrency int
	timeout     time.Duration
	log         *zap.Logger

	now func() time.Time
}

// PassResult summarizes one reconciliation pass.
type PassResult struct {
	Checked int
	Closed  int
	Errors  int
}

// NewReconciler creates a Reconciler.
func NewReconciler(opts ReconcilerOptions) *Reconciler {
	r := &Reconciler{
		positions:   opts.Positions,
		fills:       opts.Fills,
		checker:     opts.Checker,
		oracle:      opts.Oracle,
		notifier:    opts.Notifier,
		books:       ledger.NewBooks(),
		concurrency: opts.Concurrency,
		timeout:     opts.Timeout,
		log:         opts.Logger,
		now:         time.Now,
	}
	if r.concurrency <= 0 {
		r.concurrency = DefaultReconcileConcurrency
	}
	if r.timeout <= 0 {
		r.timeout = DefaultReconcileTimeout
	}
	if r.log == nil {
		r.log = zap.NewNop()
	}
	r.log = r.log.Named("reconciler")
	return r
}

// Run executes a pass every interval until ctx is done.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultReconcileInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			res, err := r.Pass(ctx)
			if err != nil {
				r.log.Error("reconcile pass failed", zap.Error(err))
				continue
			}
			if res.Closed > 0 || res.Errors > 0 {
				r.log.Info("reconcile pass",
					zap.Int("checked", res.Checked),
					zap.Int("closed", res.Closed),
					zap.Int("errors", res.Errors),
				)
			}
		}
	}
}

// Pass checks every OPEN position once. Positions of one copytrader are
// handled in order; copytraders proceed in parallel. Per-position failures
// are counted and retried on the next pass.
func (r *Reconciler) Pass(ctx context.Context) (*PassResult, error) {
	open, err := r.positions.ListOpen(ctx)
	if err != nil {
		return nil, fmt.Errorf("list open positions: %w", err)
	}

	groups := make(map[string][]*domain.CopyPosition)
	var order []string
	for _, p := range open {
		if _, ok := groups[p.CopytraderID]; !ok {
			order = append(order, p.CopytraderID)
		}
		groups[p.CopytraderID] = append(groups[p.CopytraderID], p)
	}

	var closed, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)

	for _, ct := range order {
		positions := groups[ct]
		g.Go(func() error {
			for _, p := range positions {
				ok, err := r.reconcile(gctx, p)
				switch {
				case err != nil:
					failed.Add(1)
					observability.RecordReconcileError()
					r.log.Warn("reconcile position failed",
						zap.String("request_id", p.RequestID),
						zap.String("copytrader_id", p.CopytraderID),
						zap.Error(err),
					)
				case ok:
					closed.Add(1)
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	return &PassResult{
		Checked: len(open),
		Closed:  int(closed.Load()),
		Errors:  int(failed.Load()),
	}, nil
}

// reconcile closes p when the follower no longer holds it. Returns true if
// the position was closed.
func (r *Reconciler) reconcile(ctx context.Context, p *domain.CopyPosition) (bool, error) {
	checkCtx, cancel := context.WithTimeout(ctx, r.timeout)
	stillOpen, err := r.checker.IsOpen(checkCtx, p.UserID, p.Pair, p.IsLong)
	cancel()
	if err != nil {
		return false, fmt.Errorf("check position: %w", err)
	}
	if stillOpen {
		observability.RecordReconciled("still_open")
		return false, nil
	}

	priceCtx, cancel := context.WithTimeout(ctx, r.timeout)
	exit, err := r.oracle.GetCurrentPrice(priceCtx, p.Pair)
	cancel()
	if err != nil {
		return false, fmt.Errorf("exit price: %w", err)
	}

	size := p.TargetSize
	if p.ExecutedSize != nil && p.ExecutedSize.IsPositive() {
		size = *p.ExecutedSize
	}

	txRef := closeTxPrefix + p.RequestID
	closing := &domain.TradeEvent{
		EventID:       idhash.ComputeEventID(p.UserID, txRef, 0, p.Pair, domain.EventTypeClosed.String(), p.IsLong),
		LeaderAddress: p.UserID,
		Pair:          p.Pair,
		IsLong:        p.IsLong,
		Size:          size,
		Price:         exit,
		Leverage:      p.Leverage,
		EventType:     domain.EventTypeClosed,
		TxHash:        txRef,
		Timestamp:     r.now(),
	}
	// A duplicate means an earlier pass booked the fill but did not finish.
	if err := r.fills.Append(ctx, p.CopytraderID, closing); err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
		return false, fmt.Errorf("record closing fill: %w", err)
	}

	pnl, err := r.realizedPnL(ctx, p, closing.EventID)
	if err != nil {
		return false, err
	}

	closedAt := r.now()
	p.Status = domain.PositionStatusClosed
	p.PnlUsd = &pnl
	p.ClosedAt = &closedAt
	if err := r.positions.Update(ctx, p); err != nil {
		return false, fmt.Errorf("mark position closed: %w", err)
	}
	observability.RecordReconciled("closed")

	r.log.Info("copy position closed",
		zap.String("request_id", p.RequestID),
		zap.String("copytrader_id", p.CopytraderID),
		zap.String("exit_price", exit.String()),
		zap.String("pnl_usd", pnl.String()),
	)

	if r.notifier != nil {
		n := domain.Notification{
			Kind:       domain.NotificationClosed,
			PositionID: p.ID,
			RequestID:  p.RequestID,
			Pair:       p.Pair,
			Message:    fmt.Sprintf("Closed %s %s @ %s, PnL %s", p.Pair, sideLabel(p.IsLong), exit, pnl.StringFixed(2)),
			At:         closedAt,
		}
		if err := r.notifier.Notify(ctx, p.UserID, n); err != nil {
			r.log.Warn("notify failed", zap.String("user_id", p.UserID), zap.Error(err))
		}
	}
	return true, nil
}

// realizedPnL replays the copytrader's fills for the position's pair and
// returns the PnL booked by the closing fill.
func (r *Reconciler) realizedPnL(ctx context.Context, p *domain.CopyPosition, closingID string) (decimal.Decimal, error) {
	fills, err := r.fills.ListByCopytrader(ctx, p.CopytraderID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("list fills: %w", err)
	}
	ledger.SortEventPtrs(fills)

	pnl := decimal.Zero
	err = r.books.Do(p.CopytraderID, func(book *ledger.Book) error {
		book.Reset()
		for _, f := range fills {
			if f.Pair != p.Pair {
				continue
			}
			fill, err := book.Apply(f)
			if err != nil {
				return fmt.Errorf("replay fill %s: %w", f.EventID, err)
			}
			if fill.Warning != nil && f.EventID == closingID {
				observability.RecordConsistencyWarnings(1)
				r.log.Warn("closing fill exceeds open lots", zap.Error(fill.Warning))
			}
			if f.EventID == closingID {
				pnl = fill.RealizedPnL
			}
		}
		return nil
	})
	return pnl, err
}
