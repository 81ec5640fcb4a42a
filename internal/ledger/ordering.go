package ledger

import (
	"sort"

	"copytrade-engine/internal/domain"
)

// SortEvents orders events by (timestamp ASC, block_number ASC, tx_hash ASC).
// The sort is stable so same-transaction events keep their delivery order.
func SortEvents(events []domain.TradeEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		return domain.CompareTradeEvents(&events[i], &events[j]) < 0
	})
}

// SortEventPtrs is SortEvents for pointer slices as returned by the stores.
func SortEventPtrs(events []*domain.TradeEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		return domain.CompareTradeEvents(events[i], events[j]) < 0
	})
}

// Values copies pointer events into a value slice for Replay.
func Values(events []*domain.TradeEvent) []domain.TradeEvent {
	out := make([]domain.TradeEvent, 0, len(events))
	for _, e := range events {
		if e != nil {
			out = append(out, *e)
		}
	}
	return out
}
