// Package ratelimit bounds how many copies a copytrader may place per pair
// in a rolling window (10 per hour by default). The window starts at the
// first request and resets when it expires.
package ratelimit

import (
	"context"
	"time"
)

// Defaults.
const (
	DefaultLimit  = 10
	DefaultWindow = time.Hour
)

// Limiter decides whether a copytrader may copy another trade on pair.
//
// Implementations fail open: when the backing store errors, Allow returns
// true together with the error so the caller can log it.
type Limiter interface {
	Allow(ctx context.Context, copytraderID, pair string) (bool, error)
}

func key(copytraderID, pair string) string {
	return "copytrade:ratelimit:" + copytraderID + ":" + pair
}
