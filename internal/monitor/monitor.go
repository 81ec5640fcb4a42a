// Package monitor polls the event source for new leader trades on behalf of
// every active follow and hands OPENED events to the filter stage.
//
// Each (copytrader, leader) key has its own checkpoint and its own lock.
// A slow or failing leader never delays the checkpoints of other keys.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"copytrade-engine/internal/domain"
	"copytrade-engine/internal/gateway"
	"copytrade-engine/internal/idhash"
	"copytrade-engine/internal/observability"
	"copytrade-engine/internal/storage"
)

// Defaults.
const (
	DefaultInterval     = 5 * time.Second
	DefaultConcurrency  = 16
	DefaultFetchTimeout = 10 * time.Second
)

// ErrAlreadyRunning is returned by Run when another Run is active.
var ErrAlreadyRunning = errors.New("monitor: already running")

// Sink receives candidate leader trades, one call per OPENED event, in
// source order for a given follow.
type Sink interface {
	HandleLeaderEvent(ctx context.Context, follow *domain.LeaderFollow, event *domain.TradeEvent) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, follow *domain.LeaderFollow, event *domain.TradeEvent) error

// HandleLeaderEvent implements Sink.
func (f SinkFunc) HandleLeaderEvent(ctx context.Context, follow *domain.LeaderFollow, event *domain.TradeEvent) error {
	return f(ctx, follow, event)
}

// Options contains configuration for creating a Monitor.
type Options struct {
	Follows     storage.FollowStore
	Checkpoints storage.CheckpointStore
	Source      gateway.EventSource
	Sink        Sink
	// Events, when set, receives every fetched event for analytics.
	Events storage.TradeEventStore

	Interval     time.Duration
	Concurrency  int
	FetchTimeout time.Duration
	Logger       *zap.Logger
}

// TickResult summarizes one tick.
type TickResult struct {
	Follows  int
	Events   int // OPENED events handed to the sink
	Failures int // follows whose fetch or checkpoint failed
	Duration time.Duration
}

// Monitor detects new leader trades.
type Monitor struct {
	follows     storage.FollowStore
	checkpoints storage.CheckpointStore
	source      gateway.EventSource
	sink        Sink
	events      storage.TradeEventStore

	interval     time.Duration
	concurrency  int
	fetchTimeout time.Duration
	log          *zap.Logger

	locks    keyedLocks
	running  atomic.Bool
	lastTick atomic.Int64 // unix nanos of last successful tick
	now      func() time.Time
}

// New creates a Monitor.
func New(opts Options) *Monitor {
	m := &Monitor{
		follows:      opts.Follows,
		checkpoints:  opts.Checkpoints,
		source:       opts.Source,
		sink:         opts.Sink,
		events:       opts.Events,
		interval:     opts.Interval,
		concurrency:  opts.Concurrency,
		fetchTimeout: opts.FetchTimeout,
		log:          opts.Logger,
		locks:        keyedLocks{m: make(map[string]*sync.Mutex)},
		now:          time.Now,
	}
	if m.interval <= 0 {
		m.interval = DefaultInterval
	}
	if m.concurrency <= 0 {
		m.concurrency = DefaultConcurrency
	}
	if m.fetchTimeout <= 0 {
		m.fetchTimeout = DefaultFetchTimeout
	}
	if m.log == nil {
		m.log = zap.NewNop()
	}
	m.log = m.log.Named("monitor")
	return m
}

// Run ticks every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer m.running.Store(false)

	m.log.Info("monitor started", zap.Duration("interval", m.interval))

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		if _, err := m.Tick(ctx); err != nil && ctx.Err() == nil {
			m.log.Error("tick failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			m.log.Info("monitor stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Running reports whether Run is active.
func (m *Monitor) Running() bool {
	return m.running.Load()
}

// LastTick returns the time of the last successful tick, zero if none.
func (m *Monitor) LastTick() time.Time {
	ns := m.lastTick.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Tick processes every active follow once.
func (m *Monitor) Tick(ctx context.Context) (*TickResult, error) {
	start := m.now()

	follows, err := m.follows.ListActive(ctx)
	if err != nil {
		observability.RecordMonitorTick("error", time.Since(start).Seconds(), start.Unix())
		return nil, fmt.Errorf("list active follows: %w", err)
	}
	observability.SetActiveFollows(len(follows))

	var events, failures atomic.Int64

	g := new(errgroup.Group)
	g.SetLimit(m.concurrency)

	for _, f := range follows {
		g.Go(func() error {
			n, err := m.processFollow(ctx, f, start)
			if err != nil {
				failures.Add(1)
				m.log.Warn("follow skipped this tick",
					zap.String("copytrader_id", f.CopytraderID),
					zap.String("leader", f.LeaderAddress),
					zap.Error(err),
				)
				return nil
			}
			events.Add(int64(n))
			return nil
		})
	}
	_ = g.Wait()

	res := &TickResult{
		Follows:  len(follows),
		Events:   int(events.Load()),
		Failures: int(failures.Load()),
		Duration: time.Since(start),
	}

	m.lastTick.Store(start.UnixNano())
	observability.RecordMonitorTick("success", res.Duration.Seconds(), start.Unix())
	observability.RecordLeaderEvents(res.Events)

	if res.Events > 0 || res.Failures > 0 {
		m.log.Info("tick complete",
			zap.Int("follows", res.Follows),
			zap.Int("events", res.Events),
			zap.Int("failures", res.Failures),
			zap.Duration("took", res.Duration),
		)
	}
	return res, nil
}

// processFollow handles one (copytrader, leader) key under its lock.
// The checkpoint is left untouched when the fetch fails.
func (m *Monitor) processFollow(ctx context.Context, f *domain.LeaderFollow, tickStart time.Time) (int, error) {
	key := f.CopytraderID + "|" + f.LeaderAddress
	unlock := m.locks.lock(key)
	defer unlock()

	since, err := m.checkpoints.Get(ctx, f.CopytraderID, f.LeaderAddress)
	if errors.Is(err, storage.ErrNotFound) {
		since = tickStart.Add(-m.interval)
	} else if err != nil {
		return 0, fmt.Errorf("read checkpoint: %w", err)
	}

	fetchCtx, cancel := context.WithTimeout(ctx, m.fetchTimeout)
	events, err := m.source.StreamTradeEvents(fetchCtx, f.LeaderAddress, since)
	cancel()
	if err != nil {
		observability.RecordEventSourceError()
		return 0, fmt.Errorf("fetch events: %w", err)
	}

	idhash.FillEventIDs(events)
	m.persist(ctx, events)

	// Events stamped after tickStart may already be in this batch; the
	// checkpoint must cover them or the next tick hands them out again.
	next := tickStart
	handled := 0
	for i := range events {
		e := &events[i]
		if e.EventType != domain.EventTypeOpened || !e.Timestamp.After(since) {
			continue
		}
		handled++
		if e.Timestamp.After(next) {
			next = e.Timestamp
		}
		if err := m.sink.HandleLeaderEvent(ctx, f, e); err != nil {
			m.log.Debug("candidate dropped",
				zap.String("copytrader_id", f.CopytraderID),
				zap.String("event_id", e.EventID),
				zap.Error(err),
			)
		}
	}

	if err := m.checkpoints.Advance(ctx, f.CopytraderID, f.LeaderAddress, next); err != nil {
		return handled, fmt.Errorf("advance checkpoint: %w", err)
	}
	observability.RecordCheckpointAdvance()
	return handled, nil
}

func (m *Monitor) persist(ctx context.Context, events []domain.TradeEvent) {
	if m.events == nil || len(events) == 0 {
		return
	}
	ptrs := make([]*domain.TradeEvent, len(events))
	for i := range events {
		ptrs[i] = &events[i]
	}
	if _, err := m.events.Append(ctx, ptrs); err != nil {
		m.log.Warn("persist trade events failed", zap.Error(err))
	}
}

// keyedLocks hands out one mutex per key.
type keyedLocks struct {
	mu sync.Mutex
	m  map[string]*sync.Mutex
}

func (k *keyedLocks) lock(key string) func() {
	k.mu.Lock()
	l, ok := k.m[key]
	if !ok {
		l = &sync.Mutex{}
		k.m[key] = l
	}
	k.mu.Unlock()

	l.Lock()
	return l.Unlock
}
