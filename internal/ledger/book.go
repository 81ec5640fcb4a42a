// Package ledger implements FIFO lot matching and realized PnL accounting
// over a trader's ordered trade history. It performs no I/O.
package ledger

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"copytrade-engine/internal/domain"
)

// ErrInvalidEvent is returned for malformed trade events.
var ErrInvalidEvent = errors.New("invalid trade event")

// LotKey identifies one FIFO queue.
type LotKey struct {
	Pair string
	Side domain.Side
}

// Fill is the accounting outcome of applying one event.
type Fill struct {
	RealizedPnL decimal.Decimal // zero for OPENED events
	Matched     decimal.Decimal // size matched against open lots
	Warning     *domain.DataConsistencyWarning
}

// Book holds the open lots of one trader. A Book is not safe for concurrent
// use; callers serialize updates per trader.
type Book struct {
	address string
	queues  map[LotKey][]domain.Lot
}

// NewBook creates an empty book for address.
func NewBook(address string) *Book {
	return &Book{
		address: address,
		queues:  make(map[LotKey][]domain.Lot),
	}
}

// Apply books one event. OPENED pushes a lot; CLOSED consumes lots from the
// front of the matching queue. Unmatched close size contributes zero PnL and
// is reported as a warning on the returned Fill.
func (b *Book) Apply(e *domain.TradeEvent) (Fill, error) {
	if err := validateEvent(e); err != nil {
		return Fill{}, err
	}

	key := LotKey{Pair: e.Pair, Side: e.Side()}

	if e.EventType == domain.EventTypeOpened {
		b.queues[key] = append(b.queues[key], domain.Lot{
			Size:       e.Size,
			EntryPrice: e.Price,
			Leverage:   e.Leverage,
			Timestamp:  e.Timestamp,
		})
		return Fill{RealizedPnL: decimal.Zero, Matched: e.Size}, nil
	}

	queue := b.queues[key]
	remaining := e.Size
	pnl := decimal.Zero

	for remaining.IsPositive() && len(queue) > 0 {
		lot := &queue[0]

		consumed := decimal.Min(lot.Size, remaining)
		pnl = pnl.Add(lotPnL(consumed, lot.EntryPrice, e.Price, e.IsLong))

		if lot.Size.LessThanOrEqual(remaining) {
			remaining = remaining.Sub(lot.Size)
			queue = queue[1:]
		} else {
			lot.Size = lot.Size.Sub(remaining)
			remaining = decimal.Zero
		}
	}

	if len(queue) == 0 {
		delete(b.queues, key)
	} else {
		b.queues[key] = queue
	}

	pnl = pnl.Sub(e.Fee)

	fill := Fill{
		RealizedPnL: pnl,
		Matched:     e.Size.Sub(remaining),
	}
	if remaining.IsPositive() {
		fill.Warning = &domain.DataConsistencyWarning{
			Address:   b.address,
			Pair:      e.Pair,
			Side:      e.Side(),
			TxHash:    e.TxHash,
			Unmatched: remaining,
			Message:   "closed size exceeds open lots",
		}
	}
	return fill, nil
}

// OpenLots returns a copy of the open lots for (pair, side), oldest first.
func (b *Book) OpenLots(pair string, side domain.Side) []domain.Lot {
	q := b.queues[LotKey{Pair: pair, Side: side}]
	out := make([]domain.Lot, len(q))
	copy(out, q)
	return out
}

// OpenSize returns the total open size for (pair, side).
func (b *Book) OpenSize(pair string, side domain.Side) decimal.Decimal {
	total := decimal.Zero
	for _, lot := range b.queues[LotKey{Pair: pair, Side: side}] {
		total = total.Add(lot.Size)
	}
	return total
}

// Reset drops every open lot.
func (b *Book) Reset() {
	b.queues = make(map[LotKey][]domain.Lot)
}

// Snapshot returns a copy of every non-empty queue.
func (b *Book) Snapshot() map[LotKey][]domain.Lot {
	out := make(map[LotKey][]domain.Lot, len(b.queues))
	for k, q := range b.queues {
		lots := make([]domain.Lot, len(q))
		copy(lots, q)
		out[k] = lots
	}
	return out
}

// lotPnL: long consumed*(exit-entry)/entry, short consumed*(entry-exit)/entry.
func lotPnL(consumed, entry, exit decimal.Decimal, isLong bool) decimal.Decimal {
	diff := exit.Sub(entry)
	if !isLong {
		diff = diff.Neg()
	}
	return consumed.Mul(diff).Div(entry)
}

func validateEvent(e *domain.TradeEvent) error {
	switch {
	case e == nil:
		return fmt.Errorf("%w: nil event", ErrInvalidEvent)
	case !e.EventType.IsValid():
		return fmt.Errorf("%w: unknown event type %q (tx %s)", ErrInvalidEvent, e.EventType, e.TxHash)
	case strings.TrimSpace(e.Pair) == "":
		return fmt.Errorf("%w: empty pair (tx %s)", ErrInvalidEvent, e.TxHash)
	case !e.Size.IsPositive():
		return fmt.Errorf("%w: size must be positive, got %s (tx %s)", ErrInvalidEvent, e.Size, e.TxHash)
	case !e.Price.IsPositive():
		return fmt.Errorf("%w: price must be positive, got %s (tx %s)", ErrInvalidEvent, e.Price, e.TxHash)
	case e.Fee.IsNegative():
		return fmt.Errorf("%w: negative fee %s (tx %s)", ErrInvalidEvent, e.Fee, e.TxHash)
	case e.Leverage.IsNegative():
		return fmt.Errorf("%w: negative leverage %s (tx %s)", ErrInvalidEvent, e.Leverage, e.TxHash)
	}
	return nil
}
