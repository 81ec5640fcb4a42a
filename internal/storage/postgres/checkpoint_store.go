package postgres

import (
	"context"
	"fmt"
	"time"

	"copytrade-engine/internal/storage"
)

// CheckpointStore is a PostgreSQL implementation of storage.CheckpointStore.
type CheckpointStore struct {
	pool *Pool
}

// NewCheckpointStore creates a new PostgreSQL checkpoint store.
func NewCheckpointStore(pool *Pool) *CheckpointStore {
	return &CheckpointStore{pool: pool}
}

// Get returns the checkpoint. Returns ErrNotFound if none was saved yet.
func (s *CheckpointStore) Get(ctx context.Context, copytraderID, leaderAddress string) (time.Time, error) {
	var ts time.Time
	err := s.pool.QueryRow(ctx, `
		SELECT last_seen_at
		FROM monitor_checkpoints
		WHERE copytrader_id = $1 AND leader_address = $2
	`, copytraderID, leaderAddress).Scan(&ts)
	if err != nil {
		if isNotFoundError(err) {
			return time.Time{}, storage.ErrNotFound
		}
		return time.Time{}, fmt.Errorf("get checkpoint: %w", err)
	}
	return ts, nil
}

// Advance upserts the checkpoint; GREATEST keeps it from moving backward.
func (s *CheckpointStore) Advance(ctx context.Context, copytraderID, leaderAddress string, ts time.Time) error {
	if copytraderID == "" || leaderAddress == "" {
		return storage.ErrInvalidInput
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO monitor_checkpoints (copytrader_id, leader_address, last_seen_at, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (copytrader_id, leader_address) DO UPDATE
		SET last_seen_at = GREATEST(monitor_checkpoints.last_seen_at, EXCLUDED.last_seen_at),
		    updated_at = NOW()
	`, copytraderID, leaderAddress, ts)
	if err != nil {
		return fmt.Errorf("advance checkpoint: %w", err)
	}
	return nil
}

var _ storage.CheckpointStore = (*CheckpointStore)(nil)
