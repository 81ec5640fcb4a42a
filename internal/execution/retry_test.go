package execution

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"copytrade-engine/internal/domain"
)

func fastPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestRetryPolicy_SucceedsAfterTransientErrors(t *testing.T) {
	calls := 0
	attempts, err := fastPolicy().Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return &domain.TransientExecutionError{Op: "submit order", Err: errors.New("503")}
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryPolicy_PermanentErrorStops(t *testing.T) {
	permanent := errors.New("insufficient margin")
	attempts, err := fastPolicy().Do(context.Background(), func(context.Context) error {
		return permanent
	})

	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, attempts)
}

func TestRetryPolicy_Exhausted(t *testing.T) {
	transient := &domain.TransientExecutionError{Op: "get price", Err: errors.New("timeout")}
	attempts, err := fastPolicy().Do(context.Background(), func(context.Context) error {
		return transient
	})

	var te *domain.TransientExecutionError
	assert.ErrorAs(t, err, &te)
	assert.Equal(t, 3, attempts)
}

func TestRetryPolicy_StopsWhenContextEnds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := RetryPolicy{MaxAttempts: 5, BaseDelay: time.Hour, MaxDelay: time.Hour}

	attempts, err := policy.Do(ctx, func(context.Context) error {
		cancel()
		return &domain.TransientExecutionError{Op: "submit order", Err: errors.New("503")}
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}
