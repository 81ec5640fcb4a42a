package execution

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"copytrade-engine/internal/domain"
	"copytrade-engine/internal/gateway/stub"
)

type failingChecker struct{}

func (failingChecker) IsOpen(context.Context, string, string, bool) (bool, error) {
	return false, errors.New("account service down")
}

func newReconciler(h *harness, checker *stub.PositionChecker) *Reconciler {
	r := NewReconciler(ReconcilerOptions{
		Positions: h.positions,
		Fills:     h.fills,
		Checker:   checker,
		Oracle:    h.oracle,
		Notifier:  h.notifier,
	})
	r.now = func() time.Time { return t0.Add(time.Hour) }
	return r
}

func TestReconciler_ClosesPositionAndBooksPnL(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "50000")
	require.NoError(t, h.worker.Handle(ctx, copyRequest("req-1")))

	checker := stub.NewPositionChecker()
	r := newReconciler(h, checker)

	res, err := r.Pass(ctx)
	require.NoError(t, err)
	assert.Equal(t, &PassResult{Checked: 1}, res)

	checker.Close("user-1", "BTC/USD", true)
	h.oracle.SetPrice("BTC/USD", dec("55000"))

	res, err = r.Pass(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Closed)

	pos, err := h.positions.GetByRequestID(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusClosed, pos.Status)
	require.NotNil(t, pos.PnlUsd)
	// 0.002 * (55000 - 50000) / 50000
	assert.True(t, pos.PnlUsd.Equal(dec("0.0002")), "pnl %s", pos.PnlUsd)
	require.NotNil(t, pos.ClosedAt)
	assert.Equal(t, t0.Add(time.Hour), *pos.ClosedAt)

	fills, err := h.fills.ListByCopytrader(ctx, "ct1")
	require.NoError(t, err)
	require.Len(t, fills, 2)
	assert.Equal(t, domain.EventTypeClosed, fills[1].EventType)
	assert.True(t, fills[1].Price.Equal(dec("55000")))

	sent := h.notifier.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, domain.NotificationClosed, sent[1].Kind)

	res, err = r.Pass(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Checked)
}

func TestReconciler_FIFOAcrossPositionsOfOneCopytrader(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "50000")
	require.NoError(t, h.worker.Handle(ctx, copyRequest("req-1")))

	h.worker.now = func() time.Time { return t0.Add(time.Minute) }
	h.oracle.SetPrice("BTC/USD", dec("50200"))
	h.executor.Price = dec("50200")
	require.NoError(t, h.worker.Handle(ctx, copyRequest("req-2")))

	checker := stub.NewPositionChecker()
	checker.Close("user-1", "BTC/USD", true)
	h.oracle.SetPrice("BTC/USD", dec("51000"))

	r := newReconciler(h, checker)
	res, err := r.Pass(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Closed)

	first, err := h.positions.GetByRequestID(ctx, "req-1")
	require.NoError(t, err)
	second, err := h.positions.GetByRequestID(ctx, "req-2")
	require.NoError(t, err)

	// 0.002 * 1000 / 50000 and 0.002 * 800 / 50200 (rounded by decimal division).
	assert.True(t, first.PnlUsd.Equal(dec("0.00004")), "first pnl %s", first.PnlUsd)
	assert.True(t, second.PnlUsd.IsPositive())
	assert.True(t, second.PnlUsd.LessThan(*first.PnlUsd))
}

func TestReconciler_CheckerErrorsAreCounted(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "50000")
	require.NoError(t, h.worker.Handle(ctx, copyRequest("req-1")))

	r := NewReconciler(ReconcilerOptions{
		Positions: h.positions,
		Fills:     h.fills,
		Checker:   failingChecker{},
		Oracle:    h.oracle,
	})

	res, err := r.Pass(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Errors)
	assert.Equal(t, 0, res.Closed)

	pos, err := h.positions.GetByRequestID(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusOpen, pos.Status)
}
