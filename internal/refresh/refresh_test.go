package refresh

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"copytrade-engine/internal/domain"
	"copytrade-engine/internal/gateway/stub"
	"copytrade-engine/internal/ranking"
	"copytrade-engine/internal/storage"
	"copytrade-engine/internal/storage/memory"
)

type directory struct {
	traders []string
	err     error
}

func (d directory) ListTraders(context.Context, time.Time) ([]string, error) {
	return d.traders, d.err
}

func trade(leader string, typ domain.EventType, pair string, size, price string, at time.Time, n int) domain.TradeEvent {
	return domain.TradeEvent{
		EventID:       fmt.Sprintf("%s-%d", leader, n),
		LeaderAddress: leader,
		Pair:          pair,
		IsLong:        true,
		Size:          decimal.RequireFromString(size),
		Price:         decimal.RequireFromString(price),
		Leverage:      decimal.NewFromInt(5),
		EventType:     typ,
		BlockNumber:   uint64(n),
		TxHash:        fmt.Sprintf("0xtx%d", n),
		Timestamp:     at,
	}
}

func roundTrip(leader string, at time.Time, n int) []*domain.TradeEvent {
	open := trade(leader, domain.EventTypeOpened, "BTC/USD", "1", "100", at, n)
	closed := trade(leader, domain.EventTypeClosed, "BTC/USD", "1", "110", at.Add(time.Minute), n+1)
	return []*domain.TradeEvent{&open, &closed}
}

func relaxedRanking(stats storage.TraderStatsStore) *ranking.Engine {
	opts := ranking.DefaultOptions()
	opts.Gates = ranking.Gates{
		MinTrades:     1,
		MinVolumeUsd:  decimal.Zero,
		RecencyWindow: 30 * 24 * time.Hour,
		MaxMakerRatio: 1,
		MinSymbols:    1,
	}
	return ranking.NewEngine(stats, nil, opts, nil)
}

func TestRunOnce_ComputesStatsAndRanks(t *testing.T) {
	ctx := context.Background()
	events := memory.NewTradeEventStore()
	stats := memory.NewTraderStatsStore()
	now := time.Now()

	if _, err := events.Append(ctx, roundTrip("0xaaa", now.Add(-2*time.Hour), 1)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	// Outside the window: ignored for discovery and stats.
	if _, err := events.Append(ctx, roundTrip("0xold", now.Add(-40*24*time.Hour), 1)); err != nil {
		t.Fatalf("Append: %v", err)
	}

	job := New(Options{Events: events, Stats: stats, Ranking: relaxedRanking(stats)})
	res, err := job.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	if res.TradersDiscovered != 1 || res.StatsComputed != 1 || res.Ranked != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(res.Errors) != 0 {
		t.Errorf("unexpected errors %v", res.Errors)
	}

	st, err := stats.Get(ctx, "0xaaa")
	if err != nil {
		t.Fatalf("Get stats: %v", err)
	}
	if st.TradeCount != 2 || st.ClosedTrades != 1 {
		t.Errorf("expected 2 trades / 1 closed, got %d / %d", st.TradeCount, st.ClosedTrades)
	}
	// 1 * (110 - 100) / 100
	if !st.RealizedPnlUsd.Equal(decimal.RequireFromString("0.1")) {
		t.Errorf("expected pnl 0.1, got %s", st.RealizedPnlUsd)
	}
	if !st.VolumeUsd.Equal(decimal.NewFromInt(210)) {
		t.Errorf("expected volume 210, got %s", st.VolumeUsd)
	}

	if _, err := stats.Get(ctx, "0xold"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("stale trader should not be recomputed, got %v", err)
	}
	if job.LastRun() != res {
		t.Error("LastRun should return the latest result")
	}
}

func TestRunOnce_BackfillsDirectoryTraders(t *testing.T) {
	ctx := context.Background()
	events := memory.NewTradeEventStore()
	stats := memory.NewTraderStatsStore()
	now := time.Now()

	if _, err := events.Append(ctx, roundTrip("0xaaa", now.Add(-time.Hour), 1)); err != nil {
		t.Fatalf("Append: %v", err)
	}

	source := stub.NewEventSource()
	for _, e := range roundTrip("0xbbb", now.Add(-3*time.Hour), 10) {
		source.AddEvents("0xbbb", *e)
	}

	job := New(Options{
		Events:    events,
		Stats:     stats,
		Directory: directory{traders: []string{"0xAAA", "0xBBB"}},
		Source:    source,
	})
	res, err := job.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	if res.TradersDiscovered != 2 {
		t.Errorf("expected 2 traders, got %d", res.TradersDiscovered)
	}
	if res.EventsBackfilled != 2 {
		t.Errorf("expected 2 backfilled events, got %d", res.EventsBackfilled)
	}
	if source.Calls("0xaaa") != 0 {
		t.Error("traders with stored history must not be backfilled")
	}
	if _, err := stats.Get(ctx, "0xbbb"); err != nil {
		t.Errorf("backfilled trader has no stats: %v", err)
	}
}

func TestRunOnce_BackfillDerivesMissingEventIDs(t *testing.T) {
	ctx := context.Background()
	events := memory.NewTradeEventStore()
	stats := memory.NewTraderStatsStore()

	source := stub.NewEventSource()
	for _, e := range roundTrip("0xccc", time.Now().Add(-time.Hour), 1) {
		e.EventID = ""
		source.AddEvents("0xccc", *e)
	}

	job := New(Options{
		Events:    events,
		Stats:     stats,
		Directory: directory{traders: []string{"0xccc"}},
		Source:    source,
	})
	res, err := job.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if res.EventsBackfilled != 2 || len(res.Errors) != 0 {
		t.Errorf("unexpected result %+v", res)
	}
	if _, err := stats.Get(ctx, "0xccc"); err != nil {
		t.Errorf("trader without indexer ids has no stats: %v", err)
	}
}

func TestRunOnce_DirectoryFailureIsCollected(t *testing.T) {
	ctx := context.Background()
	events := memory.NewTradeEventStore()
	stats := memory.NewTraderStatsStore()
	if _, err := events.Append(ctx, roundTrip("0xaaa", time.Now().Add(-time.Hour), 1)); err != nil {
		t.Fatalf("Append: %v", err)
	}

	job := New(Options{
		Events:    events,
		Stats:     stats,
		Directory: directory{err: errors.New("directory down")},
	})
	res, err := job.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if len(res.Errors) != 1 || res.StatsComputed != 1 {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestRunOnce_KeepsKnownMakerRatio(t *testing.T) {
	ctx := context.Background()
	events := memory.NewTradeEventStore()
	stats := memory.NewTraderStatsStore()
	if _, err := events.Append(ctx, roundTrip("0xaaa", time.Now().Add(-time.Hour), 1)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	ratio := 0.4
	if err := stats.Upsert(ctx, &domain.TraderStats{Address: "0xaaa", MakerRatio: &ratio}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	if _, err := New(Options{Events: events, Stats: stats}).RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	st, err := stats.Get(ctx, "0xaaa")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if st.MakerRatio == nil || *st.MakerRatio != 0.4 {
		t.Errorf("maker ratio lost: %v", st.MakerRatio)
	}
	if st.TradeCount != 2 {
		t.Errorf("stats not recomputed: %+v", st)
	}
}

func TestRun_SingleInstance(t *testing.T) {
	job := New(Options{Events: memory.NewTradeEventStore(), Stats: memory.NewTraderStatsStore()})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- job.Run(ctx, time.Hour) }()

	deadline := time.Now().Add(time.Second)
	for !job.Running() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if err := job.Run(ctx, time.Hour); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("expected ErrAlreadyRunning, got %v", err)
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run: %v", err)
	}
}
