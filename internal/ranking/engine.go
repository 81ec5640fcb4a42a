package ranking

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"copytrade-engine/internal/domain"
	"copytrade-engine/internal/gateway"
	"copytrade-engine/internal/idhash"
	"copytrade-engine/internal/observability"
	"copytrade-engine/internal/storage"
)

// Defaults.
const (
	DefaultCacheTTL         = 3 * time.Minute
	DefaultLeaderboardLimit = 10
	DefaultArchetypeTimeout = 2 * time.Second
)

const snapshotKey = "leaderboard"

// ErrUnknownCategory is returned for an unsupported leaderboard category.
var ErrUnknownCategory = errors.New("ranking: unknown category")

// Category selects the leaderboard sort key.
type Category string

const (
	CategoryOverall     Category = "overall"
	CategoryVolume      Category = "volume"
	CategoryPnl         Category = "pnl"
	CategoryConsistency Category = "consistency"
	CategoryCopyability Category = "copyability"
)

// ParseCategory maps "" to overall and rejects unknown values.
func ParseCategory(s string) (Category, error) {
	c := Category(s)
	switch c {
	case "":
		return CategoryOverall, nil
	case CategoryOverall, CategoryVolume, CategoryPnl, CategoryConsistency, CategoryCopyability:
		return c, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCategory, s)
}

func (c Category) key(s *domain.RankingScore) float64 {
	switch c {
	case CategoryVolume:
		return s.VolumeScore
	case CategoryPnl:
		return s.PnlScore
	case CategoryConsistency:
		return s.ConsistencyScore
	case CategoryCopyability:
		return s.CopyabilityScore
	}
	return s.RankingScore
}

// Options configures the Engine.
type Options struct {
	Weights          Weights
	Gates            Gates
	VolumeCeiling    float64 // 0 = DefaultVolumeCeiling
	ClockSkew        time.Duration
	ArchetypeBonus   map[string]float64
	CacheTTL         time.Duration
	ArchetypeTimeout time.Duration
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		Weights:          DefaultWeights(),
		Gates:            DefaultGates(),
		ClockSkew:        DefaultClockSkew,
		ArchetypeBonus:   map[string]float64{"steady_scalper": 5},
		CacheTTL:         DefaultCacheTTL,
		ArchetypeTimeout: DefaultArchetypeTimeout,
	}
}

// Evaluation is the scored view of one trader, gated or not.
type Evaluation struct {
	Stats       domain.TraderStats
	Archetype   *domain.Archetype
	Components  Components
	Score       domain.RankingScore
	FailedGates []GateResult
}

// Ranked reports whether every gate passed.
func (e *Evaluation) Ranked() bool {
	return len(e.FailedGates) == 0
}

// Snapshot is one ranking computation.
type Snapshot struct {
	Ranked     []domain.RankingScore // gated set, by rankingScore desc
	ComputedAt time.Time
	traders    map[string]*Evaluation
}

// Evaluation returns the evaluation of address, if it was part of the run.
func (s *Snapshot) Evaluation(address string) (*Evaluation, bool) {
	e, ok := s.traders[idhash.NormalizeAddress(address)]
	return e, ok
}

// Engine computes and caches leader rankings.
type Engine struct {
	stats      storage.TraderStatsStore
	archetypes gateway.ArchetypeProvider
	opts       Options
	log        *zap.Logger

	cache     *expirable.LRU[string, *Snapshot]
	refreshMu sync.Mutex
	now       func() time.Time
}

// NewEngine creates an Engine. archetypes may be nil.
func NewEngine(stats storage.TraderStatsStore, archetypes gateway.ArchetypeProvider, opts Options, log *zap.Logger) *Engine {
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = DefaultCacheTTL
	}
	if opts.ArchetypeTimeout <= 0 {
		opts.ArchetypeTimeout = DefaultArchetypeTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		stats:      stats,
		archetypes: archetypes,
		opts:       opts,
		log:        log.Named("ranking"),
		cache:      expirable.NewLRU[string, *Snapshot](1, nil, opts.CacheTTL),
		now:        time.Now,
	}
}

// Refresh recomputes the ranking from the stats store and caches it.
func (e *Engine) Refresh(ctx context.Context) (*Snapshot, error) {
	e.refreshMu.Lock()
	defer e.refreshMu.Unlock()

	start := time.Now()
	all, err := e.stats.GetAll(ctx)
	if err != nil {
		observability.RecordRankingRefresh("error", time.Since(start).Seconds(), 0)
		return nil, fmt.Errorf("load trader stats: %w", err)
	}

	now := e.now()
	snap := &Snapshot{
		ComputedAt: now,
		traders:    make(map[string]*Evaluation, len(all)),
	}

	for _, st := range all {
		ev := e.evaluate(ctx, st, now)
		snap.traders[idhash.NormalizeAddress(st.Address)] = ev
		if !ev.Ranked() {
			for _, g := range ev.FailedGates {
				observability.RecordGateFailure(g.Name)
			}
			continue
		}
		snap.Ranked = append(snap.Ranked, ev.Score)
	}

	sortScores(snap.Ranked, CategoryOverall)
	for i := range snap.Ranked {
		snap.Ranked[i].Rank = i + 1
		snap.traders[idhash.NormalizeAddress(snap.Ranked[i].Address)].Score.Rank = i + 1
	}

	e.cache.Add(snapshotKey, snap)
	observability.RecordRankingRefresh("success", time.Since(start).Seconds(), len(snap.Ranked))
	e.log.Info("ranking refreshed",
		zap.Int("traders", len(all)),
		zap.Int("ranked", len(snap.Ranked)),
		zap.Duration("took", time.Since(start)),
	)
	return snap, nil
}

// Snapshot returns the cached snapshot, refreshing it when expired.
func (e *Engine) Snapshot(ctx context.Context) (*Snapshot, error) {
	if snap, ok := e.cache.Get(snapshotKey); ok {
		return snap, nil
	}
	return e.Refresh(ctx)
}

// Leaderboard returns up to limit gated leaders sorted by category.
// Rank is the position in the returned list.
func (e *Engine) Leaderboard(ctx context.Context, limit int, category string) ([]domain.RankingScore, error) {
	cat, err := ParseCategory(category)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultLeaderboardLimit
	}

	snap, err := e.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]domain.RankingScore, len(snap.Ranked))
	copy(out, snap.Ranked)
	sortScores(out, cat)

	if len(out) > limit {
		out = out[:limit]
	}
	for i := range out {
		out[i].Rank = i + 1
	}
	return out, nil
}

func (e *Engine) evaluate(ctx context.Context, st *domain.TraderStats, now time.Time) *Evaluation {
	arch := e.archetype(ctx, st.Address)

	var external *float64
	if arch != nil {
		external = arch.Consistency
	}

	c := Components{
		Volume:      VolumeScore(st.VolumeUsd.InexactFloat64(), e.opts.VolumeCeiling),
		Pnl:         PnlScore(st.RealizedPnlUsd, st.VolumeUsd),
		Consistency: ConsistencyScore(st.UniqueSymbols, st.TradeCount, external),
		Recency:     RecencyScore(st.LastTradeAt, now, e.opts.ClockSkew),
	}

	ev := &Evaluation{
		Stats:      *st,
		Archetype:  arch,
		Components: c,
		Score: domain.RankingScore{
			Address:          st.Address,
			RankingScore:     e.opts.Weights.Composite(c),
			VolumeScore:      c.Volume,
			PnlScore:         c.Pnl,
			ConsistencyScore: c.Consistency,
			RecencyScore:     c.Recency,
			CopyabilityScore: CopyabilityScore(c, arch, e.opts.ArchetypeBonus),
		},
	}
	for _, r := range e.opts.Gates.Evaluate(st, now) {
		if !r.Pass {
			ev.FailedGates = append(ev.FailedGates, r)
		}
	}
	return ev
}

// archetype asks the optional provider. Failures degrade to unknown.
func (e *Engine) archetype(ctx context.Context, address string) *domain.Archetype {
	if e.archetypes == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, e.opts.ArchetypeTimeout)
	defer cancel()

	arch, err := e.archetypes.GetArchetype(ctx, address)
	if err != nil {
		e.log.Debug("archetype unavailable", zap.String("address", address), zap.Error(err))
		return nil
	}
	return arch
}

// sortScores orders by the category key desc, then rankingScore desc, then
// address asc.
func sortScores(scores []domain.RankingScore, cat Category) {
	sort.SliceStable(scores, func(i, j int) bool {
		a, b := &scores[i], &scores[j]
		if ka, kb := cat.key(a), cat.key(b); ka != kb {
			return ka > kb
		}
		if a.RankingScore != b.RankingScore {
			return a.RankingScore > b.RankingScore
		}
		return a.Address < b.Address
	})
}
