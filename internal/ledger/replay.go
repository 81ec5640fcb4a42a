package ledger

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"copytrade-engine/internal/domain"
)

// DefaultStatsWindow is the lookback used for trader stats.
const DefaultStatsWindow = 30 * 24 * time.Hour

// Result is the outcome of replaying one trader's history.
type Result struct {
	RealizedPnL        decimal.Decimal
	Volume             decimal.Decimal // sum of size*price over all events
	TradeCount         int             // all events
	ClosedTrades       int             // CLOSED events
	Wins               int             // CLOSED events with positive PnL after fee
	WinRate            float64
	MedianTradeSizeUsd decimal.Decimal
	UniqueSymbols      int
	LastTradeAt        time.Time
	OpenLots           map[LotKey][]domain.Lot
	Warnings           []*domain.DataConsistencyWarning
}

// Replay sorts a copy of events and books them through a fresh Book.
// Returns an error only for malformed events.
func Replay(address string, events []domain.TradeEvent) (*Result, error) {
	return replay(address, events, nil)
}

// replay books every event but only those accepted by counted contribute
// to the result. A nil counted accepts all.
func replay(address string, events []domain.TradeEvent, counted func(*domain.TradeEvent) bool) (*Result, error) {
	sorted := make([]domain.TradeEvent, len(events))
	copy(sorted, events)
	SortEvents(sorted)

	book := NewBook(address)
	res := &Result{
		RealizedPnL: decimal.Zero,
		Volume:      decimal.Zero,
	}

	symbols := make(map[string]struct{})
	notionals := make([]decimal.Decimal, 0, len(sorted))

	for i := range sorted {
		e := &sorted[i]

		fill, err := book.Apply(e)
		if err != nil {
			return nil, fmt.Errorf("replay %s event %d: %w", address, i, err)
		}
		if counted != nil && !counted(e) {
			continue
		}

		notional := e.Notional()
		notionals = append(notionals, notional)
		res.Volume = res.Volume.Add(notional)
		res.TradeCount++
		symbols[e.Pair] = struct{}{}
		if e.Timestamp.After(res.LastTradeAt) {
			res.LastTradeAt = e.Timestamp
		}

		if e.EventType == domain.EventTypeClosed {
			res.ClosedTrades++
			res.RealizedPnL = res.RealizedPnL.Add(fill.RealizedPnL)
			if fill.RealizedPnL.IsPositive() {
				res.Wins++
			}
		}
		if fill.Warning != nil {
			res.Warnings = append(res.Warnings, fill.Warning)
		}
	}

	res.UniqueSymbols = len(symbols)
	res.MedianTradeSizeUsd = median(notionals)
	if res.ClosedTrades > 0 {
		res.WinRate = float64(res.Wins) / float64(res.ClosedTrades)
	}
	res.OpenLots = book.Snapshot()

	return res, nil
}

// ComputeStats builds TraderStats from the events inside (now-window, now].
// Earlier events are booked first so that lots opened before the window
// and closed inside it are matched; they add nothing else to the stats.
// Events after now are ignored. A zero window counts every event.
func ComputeStats(address string, events []domain.TradeEvent, now time.Time, window time.Duration) (*domain.TraderStats, []*domain.DataConsistencyWarning, error) {
	history := make([]domain.TradeEvent, 0, len(events))
	for _, e := range events {
		if !e.Timestamp.After(now) {
			history = append(history, e)
		}
	}

	var counted func(*domain.TradeEvent) bool
	if window > 0 {
		from := now.Add(-window)
		counted = func(e *domain.TradeEvent) bool { return e.Timestamp.After(from) }
	}

	res, err := replay(address, history, counted)
	if err != nil {
		return nil, nil, err
	}

	return &domain.TraderStats{
		Address:            address,
		VolumeUsd:          res.Volume,
		MedianTradeSizeUsd: res.MedianTradeSizeUsd,
		TradeCount:         res.TradeCount,
		ClosedTrades:       res.ClosedTrades,
		RealizedPnlUsd:     res.RealizedPnL,
		LastTradeAt:        res.LastTradeAt,
		UniqueSymbols:      res.UniqueSymbols,
		WinRate:            res.WinRate,
		ComputedAt:         now,
	}, res.Warnings, nil
}

// median returns the order-statistics median; the mean of the two middle
// values for an even count, zero for no values.
func median(values []decimal.Decimal) decimal.Decimal {
	n := len(values)
	if n == 0 {
		return decimal.Zero
	}

	sorted := make([]decimal.Decimal, n)
	copy(sorted, values)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].LessThan(sorted[j])
	})

	if n%2 == 1 {
		return sorted[n/2]
	}
	return sorted[n/2-1].Add(sorted[n/2]).Div(decimal.NewFromInt(2))
}
