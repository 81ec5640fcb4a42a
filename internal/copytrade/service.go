// Package copytrade is the entry point used by front-ends: following and
// unfollowing leaders, editing copy configurations, reading a follower's
// status and browsing the leaderboard.
package copytrade

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"copytrade-engine/internal/domain"
	"copytrade-engine/internal/execution"
	"copytrade-engine/internal/idhash"
	"copytrade-engine/internal/ledger"
	"copytrade-engine/internal/ranking"
	"copytrade-engine/internal/storage"
)

// DefaultRecentPositions is the number of positions returned by GetCopyStatus.
const DefaultRecentPositions = 20

// Options contains configuration for creating a Service.
type Options struct {
	Configs   storage.CopyConfigStore
	Follows   storage.FollowStore
	Positions storage.CopyPositionStore
	// Events holds the follower's own trades for manual PnL. Optional.
	Events  storage.TradeEventStore
	Ranking *ranking.Engine
	Mode    *execution.ModeSwitch

	RecentPositions int
	StatsWindow     time.Duration
	Logger          *zap.Logger
}

// Service implements the exposed copy trading operations.
type Service struct {
	configs   storage.CopyConfigStore
	follows   storage.FollowStore
	positions storage.CopyPositionStore
	events    storage.TradeEventStore
	ranking   *ranking.Engine
	mode      *execution.ModeSwitch

	recent int
	window time.Duration
	log    *zap.Logger
	now    func() time.Time
}

// FollowResult is returned by FollowLeader.
type FollowResult struct {
	Success      bool   `json:"success"`
	CopytraderID string `json:"copytrader_id,omitempty"`
}

// UnfollowResult is returned by UnfollowLeader.
type UnfollowResult struct {
	Success bool `json:"success"`
}

// Performance splits a follower's realized PnL into manual and copied.
type Performance struct {
	ManualPnl        decimal.Decimal `json:"manual_pnl"`
	CopyPnl          decimal.Decimal `json:"copy_pnl"`
	TotalPnl         decimal.Decimal `json:"total_pnl"`
	AttributionRatio float64         `json:"attribution_ratio"` // copy / total, 0 when total is 0
}

// CopyStatus is the follower's dashboard.
type CopyStatus struct {
	Configs         []*domain.CopyConfiguration `json:"configs"`
	ActiveFollows   []*domain.LeaderFollow      `json:"active_follows"`
	RecentPositions []*domain.CopyPosition      `json:"recent_positions"`
	Performance     Performance                 `json:"performance"`
}

// NewService creates a Service.
func NewService(opts Options) *Service {
	s := &Service{
		configs:   opts.Configs,
		follows:   opts.Follows,
		positions: opts.Positions,
		events:    opts.Events,
		ranking:   opts.Ranking,
		mode:      opts.Mode,
		recent:    opts.RecentPositions,
		window:    opts.StatsWindow,
		log:       opts.Logger,
		now:       time.Now,
	}
	if s.recent <= 0 {
		s.recent = DefaultRecentPositions
	}
	if s.window <= 0 {
		s.window = ledger.DefaultStatsWindow
	}
	if s.mode == nil {
		s.mode = execution.NewModeSwitch(domain.ExecutionModeDryRun)
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	s.log = s.log.Named("copytrade")
	return s
}

// FollowLeader validates cfg, stores it as the configuration of the
// (follower, leader) copytrader and activates the follow. Following the
// same leader again replaces the configuration and reactivates the follow.
// Invalid input returns *domain.ConfigValidationError.
func (s *Service) FollowLeader(ctx context.Context, followerID, leaderAddress string, cfg domain.CopyConfiguration) (*FollowResult, error) {
	followerID = strings.TrimSpace(followerID)
	leader := idhash.NormalizeAddress(leaderAddress)
	if followerID == "" {
		return nil, domain.NewConfigValidationError("follower_id", "is required")
	}
	if leader == "" {
		return nil, domain.NewConfigValidationError("leader_address", "is required")
	}

	now := s.now()
	cfg.UserID = followerID
	cfg.CopytraderID = idhash.ComputeCopytraderID(followerID, leader)
	cfg.CreatedAt = now
	cfg.UpdatedAt = now
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := s.configs.Upsert(ctx, &cfg); err != nil {
		return nil, fmt.Errorf("store configuration: %w", err)
	}
	follow := &domain.LeaderFollow{
		CopytraderID:  cfg.CopytraderID,
		UserID:        followerID,
		LeaderAddress: leader,
		Active:        true,
		StartedAt:     now,
	}
	if err := s.follows.Upsert(ctx, follow); err != nil {
		return nil, fmt.Errorf("store follow: %w", err)
	}

	s.log.Info("leader followed",
		zap.String("user_id", followerID),
		zap.String("leader", leader),
		zap.String("copytrader_id", cfg.CopytraderID),
		zap.String("sizing_mode", cfg.SizingMode.String()),
	)
	return &FollowResult{Success: true, CopytraderID: cfg.CopytraderID}, nil
}

// UnfollowLeader deactivates the follow. History is kept. An unknown or
// already stopped follow reports Success=false.
func (s *Service) UnfollowLeader(ctx context.Context, followerID, leaderAddress string) (*UnfollowResult, error) {
	ct := idhash.ComputeCopytraderID(strings.TrimSpace(followerID), leaderAddress)
	err := s.follows.Deactivate(ctx, ct, s.now())
	if errors.Is(err, storage.ErrNotFound) {
		return &UnfollowResult{Success: false}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("deactivate follow: %w", err)
	}

	s.log.Info("leader unfollowed",
		zap.String("user_id", followerID),
		zap.String("copytrader_id", ct),
	)
	return &UnfollowResult{Success: true}, nil
}

// UpdateConfig replaces the configuration of one of the follower's
// copytraders. cfg.CopytraderID selects it; a copytrader owned by someone
// else is reported as not found.
func (s *Service) UpdateConfig(ctx context.Context, followerID string, cfg domain.CopyConfiguration) (*domain.CopyConfiguration, error) {
	existing, err := s.configs.Get(ctx, cfg.CopytraderID)
	if err != nil {
		return nil, fmt.Errorf("copytrader %s: %w", cfg.CopytraderID, err)
	}
	if existing.UserID != followerID {
		return nil, fmt.Errorf("copytrader %s: %w", cfg.CopytraderID, storage.ErrNotFound)
	}

	cfg.UserID = followerID
	cfg.CreatedAt = existing.CreatedAt
	cfg.UpdatedAt = s.now()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := s.configs.Upsert(ctx, &cfg); err != nil {
		return nil, fmt.Errorf("store configuration: %w", err)
	}
	return &cfg, nil
}

// GetCopyStatus returns the follower's configurations, active follows,
// recent positions and realized performance.
func (s *Service) GetCopyStatus(ctx context.Context, followerID string) (*CopyStatus, error) {
	configs, err := s.configs.ListByUser(ctx, followerID)
	if err != nil {
		return nil, fmt.Errorf("list configurations: %w", err)
	}
	follows, err := s.follows.ListByUser(ctx, followerID)
	if err != nil {
		return nil, fmt.Errorf("list follows: %w", err)
	}
	all, err := s.positions.ListByUser(ctx, followerID, 0)
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}

	copyPnl := decimal.Zero
	for _, p := range all {
		if p.Status == domain.PositionStatusClosed && p.PnlUsd != nil {
			copyPnl = copyPnl.Add(*p.PnlUsd)
		}
	}

	manualPnl, err := s.manualPnl(ctx, followerID)
	if err != nil {
		return nil, err
	}

	recent := all
	if len(recent) > s.recent {
		recent = recent[:s.recent]
	}

	return &CopyStatus{
		Configs:         nonNil(configs),
		ActiveFollows:   nonNil(follows),
		RecentPositions: nonNil(recent),
		Performance:     performance(manualPnl, copyPnl),
	}, nil
}

// manualPnl replays the follower's own trades inside the stats window.
func (s *Service) manualPnl(ctx context.Context, followerID string) (decimal.Decimal, error) {
	if s.events == nil {
		return decimal.Zero, nil
	}
	now := s.now()
	events, err := s.events.GetByLeader(ctx, idhash.NormalizeAddress(followerID), now.Add(-s.window), now)
	if err != nil {
		return decimal.Zero, fmt.Errorf("load follower trades: %w", err)
	}
	if len(events) == 0 {
		return decimal.Zero, nil
	}
	res, err := ledger.Replay(followerID, ledger.Values(events))
	if err != nil {
		return decimal.Zero, fmt.Errorf("replay follower trades: %w", err)
	}
	return res.RealizedPnL, nil
}

func performance(manual, copied decimal.Decimal) Performance {
	total := manual.Add(copied)
	p := Performance{ManualPnl: manual, CopyPnl: copied, TotalPnl: total}
	if !total.IsZero() {
		p.AttributionRatio, _ = copied.Div(total).Float64()
	}
	return p
}

// GetLeaderboard returns up to limit ranked leaders sorted by category.
func (s *Service) GetLeaderboard(ctx context.Context, limit int, category string) ([]domain.RankingScore, error) {
	return s.ranking.Leaderboard(ctx, limit, category)
}

// GetTraderCard returns the explainable profile of a trader.
func (s *Service) GetTraderCard(ctx context.Context, address string) (*ranking.TraderCard, error) {
	return s.ranking.TraderCard(ctx, address)
}

// SetExecutionMode switches between LIVE and DRY_RUN for new requests.
func (s *Service) SetExecutionMode(mode domain.ExecutionMode) error {
	prev := s.mode.Mode()
	if err := s.mode.Set(mode); err != nil {
		return err
	}
	if prev != mode {
		s.log.Warn("execution mode changed", zap.String("from", prev.String()), zap.String("to", mode.String()))
	}
	return nil
}

// ExecutionMode returns the current execution mode.
func (s *Service) ExecutionMode() domain.ExecutionMode {
	return s.mode.Mode()
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
