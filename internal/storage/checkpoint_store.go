package storage

import (
	"context"
	"time"
)

// CheckpointStore persists the last-seen trade timestamp per
// (copytrader, leader) so the monitor resumes after restarts without
// replaying history or copying an event twice.
type CheckpointStore interface {
	// Get returns the checkpoint. Returns ErrNotFound if none was saved yet.
	Get(ctx context.Context, copytraderID, leaderAddress string) (time.Time, error)

	// Advance moves the checkpoint to ts. A ts older than the stored value is
	// ignored, so checkpoints never move backward.
	Advance(ctx context.Context, copytraderID, leaderAddress string, ts time.Time) error
}
