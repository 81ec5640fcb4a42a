package execution

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"copytrade-engine/internal/queue"
)

// flakyConsumer fails its first Consume call, panics in the second and
// delegates afterwards.
type flakyConsumer struct {
	calls atomic.Int32
	inner queue.Consumer
}

func (c *flakyConsumer) Consume(ctx context.Context, handler queue.Handler) error {
	switch c.calls.Add(1) {
	case 1:
		return errors.New("broker unreachable")
	case 2:
		panic("decoder bug")
	}
	return c.inner.Consume(ctx, handler)
}

func (c *flakyConsumer) Close() error {
	return c.inner.Close()
}

type closedConsumer struct {
	calls atomic.Int32
}

func (c *closedConsumer) Consume(context.Context, queue.Handler) error {
	c.calls.Add(1)
	return queue.ErrClosed
}

func (c *closedConsumer) Close() error { return nil }

func TestPool_RestartsFailedAndPanickingWorkers(t *testing.T) {
	h := newHarness(t, "50000")
	q := queue.NewMemoryQueue(8)
	consumer := &flakyConsumer{inner: q}
	ctx := context.Background()

	require.NoError(t, q.Publish(ctx, copyRequest("req-1")))

	pool := NewPool(h.worker, consumer, 1, nil)
	pool.restartDelay = time.Millisecond
	pool.maxRestartDelay = 5 * time.Millisecond
	pool.Start(ctx)

	require.Eventually(t, func() bool {
		open, _ := h.positions.ListOpen(context.Background())
		return len(open) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(3), consumer.calls.Load())

	shutdownCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, pool.Shutdown(shutdownCtx))
}

func TestPool_ClosedConsumerStopsWorker(t *testing.T) {
	h := newHarness(t, "50000")
	consumer := &closedConsumer{}

	pool := NewPool(h.worker, consumer, 2, nil)
	pool.restartDelay = time.Millisecond
	pool.Start(context.Background())

	done := make(chan struct{})
	go func() {
		pool.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("workers kept running on a closed consumer")
	}
	assert.Equal(t, int32(2), consumer.calls.Load())
}
