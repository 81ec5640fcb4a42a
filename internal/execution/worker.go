// Package execution turns queued copy requests into follower positions.
//
// A request is handled at most once: the PENDING position keyed by the
// request id is written before anything is submitted, so a redelivered
// request finds the row and stops. The worker then checks slippage
// against the leader's fill price, picks the order type and submits with
// bounded retries. The Reconciler later closes positions the follower no
// longer holds and books their realized PnL through the ledger.
package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"copytrade-engine/internal/domain"
	"copytrade-engine/internal/gateway"
	"copytrade-engine/internal/idhash"
	"copytrade-engine/internal/observability"
	"copytrade-engine/internal/queue"
	"copytrade-engine/internal/storage"
)

var (
	bpsFactor = decimal.NewFromInt(10000)
	half      = decimal.NewFromFloat(0.5)
)

// Options contains configuration for creating a Worker.
type Options struct {
	Positions storage.CopyPositionStore
	Fills     storage.FillStore
	Oracle    gateway.PriceOracle
	// Live receives orders in LIVE mode.
	Live gateway.Executor
	// Simulated receives orders in DRY_RUN mode. Defaults to a
	// SimulatedExecutor over Oracle.
	Simulated gateway.Executor
	Notifier  gateway.Notifier
	Mode      *ModeSwitch

	PriceTimeout time.Duration
	OrderTimeout time.Duration
	Retry        RetryPolicy
	Logger       *zap.Logger
}

// Worker executes copy requests.
type Worker struct {
	positions storage.CopyPositionStore
	fills     storage.FillStore
	oracle    gateway.PriceOracle
	live      gateway.Executor
	simulated gateway.Executor
	notifier  gateway.Notifier
	mode      *ModeSwitch

	priceTimeout time.Duration
	orderTimeout time.Duration
	retry        RetryPolicy
	log          *zap.Logger

	now   func() time.Time
	newID func() string
}

// NewWorker creates a Worker.
func NewWorker(opts Options) *Worker {
	w := &Worker{
		positions:    opts.Positions,
		fills:        opts.Fills,
		oracle:       opts.Oracle,
		live:         opts.Live,
		simulated:    opts.Simulated,
		notifier:     opts.Notifier,
		mode:         opts.Mode,
		priceTimeout: opts.PriceTimeout,
		orderTimeout: opts.OrderTimeout,
		retry:        opts.Retry.withDefaults(),
		log:          opts.Logger,
		now:          time.Now,
		newID:        func() string { return uuid.New().String() },
	}
	if w.simulated == nil {
		w.simulated = NewSimulatedExecutor(opts.Oracle)
	}
	if w.mode == nil {
		w.mode = NewModeSwitch(domain.ExecutionModeDryRun)
	}
	if w.priceTimeout <= 0 {
		w.priceTimeout = DefaultPriceTimeout
	}
	if w.orderTimeout <= 0 {
		w.orderTimeout = DefaultOrderTimeout
	}
	if w.log == nil {
		w.log = zap.NewNop()
	}
	w.log = w.log.Named("worker")
	return w
}

// PriceImpactBps returns |current-source| / source * 10000.
func PriceImpactBps(source, current decimal.Decimal) decimal.Decimal {
	if !source.IsPositive() {
		return decimal.Zero
	}
	return current.Sub(source).Abs().Div(source).Mul(bpsFactor)
}

// ChooseOrderType uses a LIMIT order at the leader's price when the impact
// already consumed at least half of the tolerance, MARKET otherwise.
func ChooseOrderType(impactBps decimal.Decimal, maxSlippageBps int) domain.OrderType {
	if maxSlippageBps <= 0 {
		return domain.OrderTypeMarket
	}
	limit := decimal.NewFromInt(int64(maxSlippageBps))
	if impactBps.GreaterThanOrEqual(limit.Mul(half)) && impactBps.LessThanOrEqual(limit) {
		return domain.OrderTypeLimit
	}
	return domain.OrderTypeMarket
}

// Handle executes one request. A request that already has a position is
// acknowledged without side effects. Returned errors are terminal for this
// request only: *domain.SlippageExceeded or *domain.ExecutionError.
func (w *Worker) Handle(ctx context.Context, req *domain.CopyTradeRequest) error {
	src := req.SourceTrade
	pos := &domain.CopyPosition{
		ID:            w.newID(),
		CopytraderID:  req.CopytraderID,
		UserID:        req.UserID,
		LeaderAddress: req.LeaderAddress,
		RequestID:     req.RequestID,
		Pair:          src.Pair,
		IsLong:        src.IsLong,
		Status:        domain.PositionStatusPending,
		OrderType:     domain.OrderTypeMarket,
		TargetSize:    req.TargetSize,
		Leverage:      decimal.Min(src.Leverage, req.MaxLeverage),
		OpenedAt:      w.now(),
	}

	if err := w.positions.CreatePending(ctx, pos); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			observability.RecordDuplicateRequest()
			w.log.Debug("request already handled", zap.String("request_id", req.RequestID))
			return nil
		}
		return fmt.Errorf("create pending position %s: %w", req.RequestID, err)
	}

	observability.AddInFlight(1)
	defer observability.AddInFlight(-1)

	log := w.log.With(
		zap.String("request_id", req.RequestID),
		zap.String("copytrader_id", req.CopytraderID),
		zap.String("pair", src.Pair),
	)

	var current decimal.Decimal
	attempts, err := w.retry.Do(ctx, func(ctx context.Context) error {
		priceCtx, cancel := context.WithTimeout(ctx, w.priceTimeout)
		defer cancel()
		p, err := w.oracle.GetCurrentPrice(priceCtx, src.Pair)
		if err != nil {
			return &domain.TransientExecutionError{Op: "price", Err: err}
		}
		current = p
		return nil
	})
	if err != nil {
		return w.fail(ctx, log, pos, &domain.ExecutionError{Reason: "price unavailable", Attempts: attempts, Err: err})
	}

	impact := PriceImpactBps(src.Price, current)
	impactF, _ := impact.Float64()
	observability.RecordPriceImpact(impactF)

	if impact.GreaterThan(decimal.NewFromInt(int64(req.MaxSlippageBps))) {
		return w.fail(ctx, log, pos, &domain.SlippageExceeded{ImpactBps: impact, MaxBps: req.MaxSlippageBps})
	}

	pos.OrderType = ChooseOrderType(impact, req.MaxSlippageBps)
	order := domain.OrderRequest{
		RequestID: req.RequestID,
		UserID:    req.UserID,
		Pair:      src.Pair,
		IsLong:    src.IsLong,
		Size:      req.TargetSize,
		Leverage:  pos.Leverage,
		OrderType: pos.OrderType,
	}
	if pos.OrderType == domain.OrderTypeLimit {
		limit := src.Price
		order.LimitPrice = &limit
	}

	mode := w.mode.Mode()
	executor := w.simulated
	if mode == domain.ExecutionModeLive {
		executor = w.live
	}
	if executor == nil {
		return w.fail(ctx, log, pos, &domain.ExecutionError{Reason: "no executor for mode " + mode.String()})
	}

	var result *domain.OrderResult
	attempts, err = w.retry.Do(ctx, func(ctx context.Context) error {
		orderCtx, cancel := context.WithTimeout(ctx, w.orderTimeout)
		defer cancel()

		start := time.Now()
		res, err := executor.ExecuteOrder(orderCtx, order)
		elapsed := time.Since(start).Seconds()
		switch {
		case err != nil && IsRetryable(err):
			observability.RecordExecutionAttempt("transient", mode.String(), elapsed)
			log.Warn("order attempt failed", zap.Error(err))
			return err
		case err != nil:
			observability.RecordExecutionAttempt("permanent", mode.String(), elapsed)
			return err
		case res == nil || !res.Success:
			observability.RecordExecutionAttempt("permanent", mode.String(), elapsed)
			reason := "order rejected"
			if res != nil && res.Error != "" {
				reason = res.Error
			}
			return errors.New(reason)
		}
		observability.RecordExecutionAttempt("success", mode.String(), elapsed)
		result = res
		return nil
	})
	pos.Attempts = attempts
	if err != nil {
		reason := "order rejected"
		if IsRetryable(err) {
			reason = "retries exhausted"
		}
		return w.fail(ctx, log, pos, &domain.ExecutionError{Reason: reason, Attempts: attempts, Err: err})
	}

	return w.open(ctx, log, pos, result)
}

func (w *Worker) open(ctx context.Context, log *zap.Logger, pos *domain.CopyPosition, res *domain.OrderResult) error {
	txRef := res.TxRef
	price := res.ExecutedPrice
	size := res.ExecutedSize
	if !size.IsPositive() {
		size = pos.TargetSize
	}

	pos.Status = domain.PositionStatusOpen
	pos.TxHash = &txRef
	pos.ExecutedPrice = &price
	pos.ExecutedSize = &size
	if err := w.positions.Update(ctx, pos); err != nil {
		return fmt.Errorf("mark position %s open: %w", pos.RequestID, err)
	}
	observability.RecordExecution(string(domain.PositionStatusOpen), pos.OrderType.String())

	fill := &domain.TradeEvent{
		EventID:       idhash.ComputeEventID(pos.UserID, txRef, 0, pos.Pair, domain.EventTypeOpened.String(), pos.IsLong),
		LeaderAddress: pos.UserID,
		Pair:          pos.Pair,
		IsLong:        pos.IsLong,
		Size:          size,
		Price:         price,
		Leverage:      pos.Leverage,
		EventType:     domain.EventTypeOpened,
		TxHash:        txRef,
		Timestamp:     w.now(),
	}
	if err := w.fills.Append(ctx, pos.CopytraderID, fill); err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
		log.Error("record follower fill failed", zap.String("tx_ref", txRef), zap.Error(err))
	}

	log.Info("copy position opened",
		zap.String("tx_ref", txRef),
		zap.String("order_type", pos.OrderType.String()),
		zap.String("executed_price", price.String()),
		zap.String("executed_size", size.String()),
		zap.Int("attempts", pos.Attempts),
	)

	w.notify(ctx, pos, domain.NotificationOpened,
		fmt.Sprintf("Copied %s %s: %s @ %s", pos.Pair, sideLabel(pos.IsLong), size, price))
	return nil
}

// fail moves the position to FAILED, notifies the follower and returns
// cause.
func (w *Worker) fail(ctx context.Context, log *zap.Logger, pos *domain.CopyPosition, cause error) error {
	reason := cause.Error()
	pos.Status = domain.PositionStatusFailed
	pos.FailureReason = &reason
	if err := w.positions.Update(ctx, pos); err != nil {
		log.Error("mark position failed", zap.Error(err))
	}
	observability.RecordExecution(string(domain.PositionStatusFailed), pos.OrderType.String())

	log.Warn("copy failed", zap.Int("attempts", pos.Attempts), zap.Error(cause))
	w.notify(ctx, pos, domain.NotificationFailed, reason)
	return cause
}

func (w *Worker) notify(ctx context.Context, pos *domain.CopyPosition, kind domain.NotificationKind, msg string) {
	if w.notifier == nil {
		return
	}
	n := domain.Notification{
		Kind:       kind,
		PositionID: pos.ID,
		RequestID:  pos.RequestID,
		Pair:       pos.Pair,
		Message:    msg,
		At:         w.now(),
	}
	if err := w.notifier.Notify(ctx, pos.UserID, n); err != nil {
		w.log.Warn("notify failed",
			zap.String("user_id", pos.UserID),
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
	}
}

// Run consumes requests until ctx is done. Each request runs under a
// context detached from ctx so cancellation lets in-flight executions
// finish. Request errors are logged and never stop the loop.
func (w *Worker) Run(ctx context.Context, consumer queue.Consumer) error {
	return consumer.Consume(ctx, func(ctx context.Context, req *domain.CopyTradeRequest) error {
		if err := w.Handle(context.WithoutCancel(ctx), req); err != nil {
			w.log.Debug("request finished with error",
				zap.String("request_id", req.RequestID),
				zap.Error(err),
			)
		}
		return nil
	})
}

func sideLabel(isLong bool) string {
	if isLong {
		return "long"
	}
	return "short"
}
