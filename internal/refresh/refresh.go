// Package refresh recomputes trader stats from stored trade history and
// rebuilds the leaderboard.
//
// A run has four phases:
//  1. discover traders active inside the stats window (stored events plus
//     the optional trader directory)
//  2. backfill history for directory traders without stored events
//  3. replay each trader's window through the ledger and upsert TraderStats
//  4. refresh the ranking snapshot
package refresh

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"copytrade-engine/internal/domain"
	"copytrade-engine/internal/gateway"
	"copytrade-engine/internal/idhash"
	"copytrade-engine/internal/ledger"
	"copytrade-engine/internal/observability"
	"copytrade-engine/internal/ranking"
	"copytrade-engine/internal/storage"
)

// Defaults.
const (
	DefaultInterval    = 10 * time.Minute
	DefaultConcurrency = 8
)

// ErrAlreadyRunning is returned when Run is called on a running job.
var ErrAlreadyRunning = errors.New("refresh job already running")

// Options contains configuration for creating a Job.
type Options struct {
	Events storage.TradeEventStore
	Stats  storage.TraderStatsStore
	// Directory lists traders beyond the followed leaders. Optional.
	Directory gateway.TraderDirectory
	// Source backfills history for directory traders. Optional.
	Source gateway.EventSource
	// Ranking is refreshed after stats are stored. Optional.
	Ranking *ranking.Engine

	Window      time.Duration
	Concurrency int
	Logger      *zap.Logger
}

// Job is the stats and ranking refresh job.
type Job struct {
	events      storage.TradeEventStore
	stats       storage.TraderStatsStore
	directory   gateway.TraderDirectory
	source      gateway.EventSource
	ranking     *ranking.Engine
	window      time.Duration
	concurrency int
	log         *zap.Logger

	now     func() time.Time
	running atomic.Bool

	mu   sync.Mutex
	last *RunResult
}

// RunResult contains results from one refresh run.
type RunResult struct {
	StartedAt         time.Time
	Duration          time.Duration
	TradersDiscovered int
	EventsBackfilled  int
	StatsComputed     int
	Ranked            int
	Warnings          int
	Errors            []string
}

// New creates a Job.
func New(opts Options) *Job {
	j := &Job{
		events:      opts.Events,
		stats:       opts.Stats,
		directory:   opts.Directory,
		source:      opts.Source,
		ranking:     opts.Ranking,
		window:      opts.Window,
		concurrency: opts.Concurrency,
		log:         opts.Logger,
		now:         time.Now,
	}
	if j.window <= 0 {
		j.window = ledger.DefaultStatsWindow
	}
	if j.concurrency <= 0 {
		j.concurrency = DefaultConcurrency
	}
	if j.log == nil {
		j.log = zap.NewNop()
	}
	j.log = j.log.Named("refresh")
	return j
}

// LastRun returns the result of the latest completed run, or nil.
func (j *Job) LastRun() *RunResult {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.last
}

// Running reports whether the periodic loop is active.
func (j *Job) Running() bool {
	return j.running.Load()
}

// Run executes one refresh immediately and then every interval until ctx
// is done.
func (j *Job) Run(ctx context.Context, interval time.Duration) error {
	if !j.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer j.running.Store(false)

	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := j.RunOnce(ctx); err != nil && ctx.Err() == nil {
			j.log.Error("refresh failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce executes the four phases. Per-trader failures are collected in
// RunResult.Errors; only discovery failures of the event store abort.
func (j *Job) RunOnce(ctx context.Context) (*RunResult, error) {
	start := j.now()
	since := start.Add(-j.window)
	result := &RunResult{StartedAt: start}

	// Phase 1: discover
	stored, err := j.events.ListLeaders(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("phase 1 (discover) failed: %w", err)
	}
	known := make(map[string]struct{}, len(stored))
	traders := make([]string, 0, len(stored))
	for _, addr := range stored {
		key := idhash.NormalizeAddress(addr)
		if _, ok := known[key]; !ok {
			known[key] = struct{}{}
			traders = append(traders, addr)
		}
	}

	var missing []string
	if j.directory != nil {
		listed, err := j.directory.ListTraders(ctx, since)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("list traders: %v", err))
		}
		for _, addr := range listed {
			addr = idhash.NormalizeAddress(addr)
			if _, ok := known[addr]; ok {
				continue
			}
			known[addr] = struct{}{}
			traders = append(traders, addr)
			missing = append(missing, addr)
		}
	}
	sort.Strings(traders)
	result.TradersDiscovered = len(traders)
	j.log.Debug("phase 1: discovered traders",
		zap.Int("stored", len(stored)),
		zap.Int("directory_only", len(missing)),
	)

	// Phase 2: backfill
	if j.source != nil && len(missing) > 0 {
		n, errs := j.backfill(ctx, missing, since)
		result.EventsBackfilled = n
		result.Errors = append(result.Errors, errs...)
	}

	// Phase 3: stats
	computed, warnings, errs := j.computeStats(ctx, traders, start)
	result.StatsComputed = computed
	result.Warnings = warnings
	result.Errors = append(result.Errors, errs...)
	observability.RecordStatsComputed(computed, start.Unix())
	if warnings > 0 {
		observability.RecordConsistencyWarnings(warnings)
	}

	// Phase 4: ranking
	if j.ranking != nil {
		snap, err := j.ranking.Refresh(ctx)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("ranking refresh: %v", err))
		} else {
			result.Ranked = len(snap.Ranked)
		}
	}

	result.Duration = j.now().Sub(start)
	j.mu.Lock()
	j.last = result
	j.mu.Unlock()

	j.log.Info("refresh completed",
		zap.Int("traders", result.TradersDiscovered),
		zap.Int("backfilled", result.EventsBackfilled),
		zap.Int("stats", result.StatsComputed),
		zap.Int("ranked", result.Ranked),
		zap.Int("warnings", result.Warnings),
		zap.Int("errors", len(result.Errors)),
		zap.Duration("duration", result.Duration),
	)
	return result, nil
}

func (j *Job) backfill(ctx context.Context, traders []string, since time.Time) (int, []string) {
	var (
		mu       sync.Mutex
		inserted int
		errs     []string
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(j.concurrency)
	for _, addr := range traders {
		g.Go(func() error {
			events, err := j.source.StreamTradeEvents(gctx, addr, since)
			if err == nil && len(events) > 0 {
				idhash.FillEventIDs(events)
				ptrs := make([]*domain.TradeEvent, len(events))
				for i := range events {
					ptrs[i] = &events[i]
				}
				var n int
				n, err = j.events.Append(gctx, ptrs)
				mu.Lock()
				inserted += n
				mu.Unlock()
			}
			if err != nil {
				mu.Lock()
				errs = append(errs, fmt.Sprintf("backfill %s: %v", addr, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return inserted, errs
}

func (j *Job) computeStats(ctx context.Context, traders []string, now time.Time) (int, int, []string) {
	var (
		mu       sync.Mutex
		computed int
		warnings int
		errs     []string
	)
	since := now.Add(-j.window)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(j.concurrency)
	for _, addr := range traders {
		g.Go(func() error {
			n, err := j.computeOne(gctx, addr, since, now)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Sprintf("stats %s: %v", addr, err))
				return nil
			}
			computed++
			warnings += n
			return nil
		})
	}
	_ = g.Wait()
	sort.Strings(errs)
	return computed, warnings, errs
}

// computeOne replays one trader and stores the stats. Returns the number
// of consistency warnings.
func (j *Job) computeOne(ctx context.Context, addr string, since, now time.Time) (int, error) {
	// One extra window of history seeds lots opened before the stats window.
	events, err := j.events.GetByLeader(ctx, addr, since.Add(-j.window), now)
	if err != nil {
		return 0, fmt.Errorf("load events: %w", err)
	}

	st, warns, err := ledger.ComputeStats(addr, ledger.Values(events), now, j.window)
	if err != nil {
		return 0, err
	}
	for _, w := range warns {
		j.log.Debug("ledger warning", zap.Error(w))
	}

	// Maker ratio is not derivable from fills; keep a previously stored value.
	if prev, err := j.stats.Get(ctx, addr); err == nil {
		st.MakerRatio = prev.MakerRatio
	}

	if err := j.stats.Upsert(ctx, st); err != nil {
		return 0, fmt.Errorf("store stats: %w", err)
	}
	return len(warns), nil
}
