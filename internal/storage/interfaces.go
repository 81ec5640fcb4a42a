package storage

import (
	"context"
	"time"

	"copytrade-engine/internal/domain"
)

// CopyConfigStore provides access to copy_configurations storage.
type CopyConfigStore interface {
	// Upsert creates or replaces the configuration of a copytrader.
	// CreatedAt of an existing row is preserved.
	Upsert(ctx context.Context, cfg *domain.CopyConfiguration) error

	// Get retrieves a configuration. Returns ErrNotFound if not exists.
	Get(ctx context.Context, copytraderID string) (*domain.CopyConfiguration, error)

	// ListByUser retrieves every configuration of a follower, ordered by created_at ASC.
	ListByUser(ctx context.Context, userID string) ([]*domain.CopyConfiguration, error)
}

// FollowStore provides access to leader_follows storage. Rows are never deleted.
type FollowStore interface {
	// Upsert creates a follow or reactivates a stopped one (Active=true, StoppedAt=nil).
	Upsert(ctx context.Context, f *domain.LeaderFollow) error

	// Deactivate sets Active=false and StoppedAt=at.
	// Returns ErrNotFound if there is no active follow for copytraderID.
	Deactivate(ctx context.Context, copytraderID string, at time.Time) error

	// Get retrieves a follow. Returns ErrNotFound if not exists.
	Get(ctx context.Context, copytraderID string) (*domain.LeaderFollow, error)

	// ListActive retrieves all active follows, ordered by started_at ASC.
	ListActive(ctx context.Context) ([]*domain.LeaderFollow, error)

	// ListByUser retrieves active follows of a follower.
	ListByUser(ctx context.Context, userID string) ([]*domain.LeaderFollow, error)
}

// CopyPositionStore provides access to copy_positions storage.
type CopyPositionStore interface {
	// CreatePending inserts a PENDING position.
	// Returns ErrDuplicateKey if a position for the same request_id exists.
	CreatePending(ctx context.Context, p *domain.CopyPosition) error

	// GetByRequestID retrieves a position. Returns ErrNotFound if not exists.
	GetByRequestID(ctx context.Context, requestID string) (*domain.CopyPosition, error)

	// Update writes the mutable fields of a position. Returns ErrNotFound if the
	// position does not exist and ErrConflict if the stored status cannot move
	// to p.Status.
	Update(ctx context.Context, p *domain.CopyPosition) error

	// ListOpen retrieves every OPEN position, ordered by opened_at ASC.
	ListOpen(ctx context.Context) ([]*domain.CopyPosition, error)

	// ListByUser retrieves a follower's positions, newest first.
	// limit <= 0 returns all of them.
	ListByUser(ctx context.Context, userID string, limit int) ([]*domain.CopyPosition, error)
}

// TradeEventStore provides access to trade_events storage (append-only).
type TradeEventStore interface {
	// Append inserts events, skipping those whose event_id already exists.
	// Returns the number of inserted events.
	Append(ctx context.Context, events []*domain.TradeEvent) (int, error)

	// GetByLeader retrieves a leader's events within [start, end] (inclusive),
	// ordered by (timestamp, block_number, tx_hash).
	GetByLeader(ctx context.Context, leaderAddress string, start, end time.Time) ([]*domain.TradeEvent, error)

	// ListLeaders returns addresses with at least one event at or after since.
	ListLeaders(ctx context.Context, since time.Time) ([]string, error)
}

// TraderStatsStore provides access to trader_stats storage.
type TraderStatsStore interface {
	// Upsert stores the latest stats for an address.
	Upsert(ctx context.Context, s *domain.TraderStats) error

	// Get retrieves stats. Returns ErrNotFound if not exists.
	Get(ctx context.Context, address string) (*domain.TraderStats, error)

	// GetAll retrieves the latest stats of every address.
	GetAll(ctx context.Context) ([]*domain.TraderStats, error)
}

// FillStore provides access to follower_fills storage: the follower-side
// trade history that copy PnL is replayed from.
type FillStore interface {
	// Append inserts a fill. Returns ErrDuplicateKey if event_id exists.
	Append(ctx context.Context, copytraderID string, e *domain.TradeEvent) error

	// ListByCopytrader retrieves fills ordered by (timestamp, block_number, tx_hash).
	ListByCopytrader(ctx context.Context, copytraderID string) ([]*domain.TradeEvent, error)
}
