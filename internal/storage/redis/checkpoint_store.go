package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"copytrade-engine/internal/storage"
)

// advanceScript stores ARGV[1] (unix millis) only when it is newer than the
// current value, so concurrent writers can never move a checkpoint backward.
var advanceScript = goredis.NewScript(`
local current = redis.call('GET', KEYS[1])
if current and tonumber(current) >= tonumber(ARGV[1]) then
	return 0
end
redis.call('SET', KEYS[1], ARGV[1])
return 1
`)

// CheckpointStore is a Redis implementation of storage.CheckpointStore.
// Values are unix milliseconds under copytrade:checkpoint:{copytrader}:{leader}.
type CheckpointStore struct {
	client goredis.Cmdable
	prefix string
}

// NewCheckpointStore creates a checkpoint store on client.
func NewCheckpointStore(client goredis.Cmdable) *CheckpointStore {
	return &CheckpointStore{client: client, prefix: "copytrade:checkpoint:"}
}

func (s *CheckpointStore) key(copytraderID, leaderAddress string) string {
	return s.prefix + copytraderID + ":" + leaderAddress
}

// Get returns the checkpoint. Returns ErrNotFound if none was saved yet.
func (s *CheckpointStore) Get(ctx context.Context, copytraderID, leaderAddress string) (time.Time, error) {
	raw, err := s.client.Get(ctx, s.key(copytraderID, leaderAddress)).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return time.Time{}, storage.ErrNotFound
		}
		return time.Time{}, fmt.Errorf("redis GET checkpoint: %w", err)
	}

	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse checkpoint %q: %w", raw, err)
	}
	return time.UnixMilli(ms).UTC(), nil
}

// Advance moves the checkpoint forward atomically; older values are ignored.
func (s *CheckpointStore) Advance(ctx context.Context, copytraderID, leaderAddress string, ts time.Time) error {
	if copytraderID == "" || leaderAddress == "" {
		return storage.ErrInvalidInput
	}

	keys := []string{s.key(copytraderID, leaderAddress)}
	if err := advanceScript.Run(ctx, s.client, keys, ts.UnixMilli()).Err(); err != nil {
		return fmt.Errorf("redis advance checkpoint: %w", err)
	}
	return nil
}

var _ storage.CheckpointStore = (*CheckpointStore)(nil)
