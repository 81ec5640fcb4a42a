package execution

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"

	"copytrade-engine/internal/domain"
)

// Retry defaults: 3 attempts total, 500ms base delay doubling up to 5s.
const (
	DefaultMaxAttempts  = 3
	DefaultRetryDelay   = 500 * time.Millisecond
	DefaultMaxDelay     = 5 * time.Second
	DefaultBackoffMult  = 2.0
	DefaultPriceTimeout = 3 * time.Second
	DefaultOrderTimeout = 15 * time.Second
)

// RetryPolicy is an exponential backoff schedule.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
}

// DefaultRetryPolicy returns the standard execution schedule.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultRetryDelay,
		MaxDelay:    DefaultMaxDelay,
		Multiplier:  DefaultBackoffMult,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultRetryDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultMaxDelay
	}
	if p.Multiplier < 1 {
		p.Multiplier = DefaultBackoffMult
	}
	return p
}

func (p RetryPolicy) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.MaxInterval = p.MaxDelay
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	return b
}

// Do runs op until it succeeds, fails permanently or the attempts are used
// up. It returns the number of attempts made and the last error. Only
// errors classified by IsRetryable are retried.
func (p RetryPolicy) Do(ctx context.Context, op func(ctx context.Context) error) (int, error) {
	p = p.withDefaults()

	attempts := 0
	b := backoff.WithContext(backoff.WithMaxRetries(p.backOff(), uint64(p.MaxAttempts-1)), ctx)
	err := backoff.Retry(func() error {
		attempts++
		err := op(ctx)
		switch {
		case err == nil:
			return nil
		case ctx.Err() != nil:
			return backoff.Permanent(ctx.Err())
		case !IsRetryable(err):
			return backoff.Permanent(err)
		}
		return err
	}, b)
	return attempts, err
}

// IsRetryable reports whether err is a transient failure: a
// TransientExecutionError, an attempt deadline or a network timeout.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if domain.IsTransient(err) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
