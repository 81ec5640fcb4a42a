package execution

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"copytrade-engine/internal/lifecycle"
	"copytrade-engine/internal/observability"
	"copytrade-engine/internal/queue"
)

// Restart backoff for workers whose consumer failed or panicked.
const (
	DefaultRestartDelay    = 500 * time.Millisecond
	DefaultMaxRestartDelay = 30 * time.Second
)

// Pool runs N workers against one consumer. A worker whose run ends with an
// error or a panic is restarted with backoff; it stops for good only when
// the pool is shut down or the consumer is closed.
type Pool struct {
	worker   *Worker
	consumer queue.Consumer
	size     int
	log      *zap.Logger

	restartDelay    time.Duration
	maxRestartDelay time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// NewPool creates a pool of size workers. size <= 0 runs one worker.
func NewPool(w *Worker, consumer queue.Consumer, size int, log *zap.Logger) *Pool {
	if size <= 0 {
		size = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Pool{
		worker:          w,
		consumer:        consumer,
		size:            size,
		log:             log.Named("pool"),
		restartDelay:    DefaultRestartDelay,
		maxRestartDelay: DefaultMaxRestartDelay,
	}
}

// Start launches the workers. Calling Start twice is a no-op.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go func(id int) {
			defer p.wg.Done()
			p.supervise(runCtx, id)
		}(i)
	}
	p.log.Info("workers started", zap.Int("workers", p.size))
}

// supervise keeps worker id consuming until ctx is done or the consumer is
// closed.
func (p *Pool) supervise(ctx context.Context, id int) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.restartDelay
	b.MaxInterval = p.maxRestartDelay
	b.MaxElapsedTime = 0
	b.Reset()

	for {
		started := time.Now()
		err := p.runOnce(ctx)
		if ctx.Err() != nil || err == nil || errors.Is(err, queue.ErrClosed) {
			return
		}

		// A run that lasted a while starts the schedule over.
		if time.Since(started) > p.maxRestartDelay {
			b.Reset()
		}
		delay := b.NextBackOff()
		observability.RecordWorkerRestart()
		p.log.Error("worker stopped, restarting",
			zap.Int("worker", id),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func (p *Pool) runOnce(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &lifecycle.PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return p.worker.Run(ctx, p.consumer)
}

// Shutdown stops consuming and waits for in-flight requests, or until ctx
// is done.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.log.Info("workers drained")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until every worker returned.
func (p *Pool) Wait() {
	p.wg.Wait()
}
