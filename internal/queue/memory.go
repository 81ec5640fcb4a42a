package queue

import (
	"context"
	"sync"

	"copytrade-engine/internal/domain"
	"copytrade-engine/internal/observability"
)

// DefaultBufferSize is the capacity of the in-memory queue.
const DefaultBufferSize = 1024

// MemoryQueue is a buffered in-process queue. Messages are encoded like on
// the wire so consumers never share memory with producers.
type MemoryQueue struct {
	ch     chan []byte
	done   chan struct{}
	closed sync.Once
}

// NewMemoryQueue creates a queue holding up to size pending requests.
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &MemoryQueue{
		ch:   make(chan []byte, size),
		done: make(chan struct{}),
	}
}

// Publish blocks while the buffer is full.
func (q *MemoryQueue) Publish(ctx context.Context, req *domain.CopyTradeRequest) error {
	b, err := encode(req)
	if err != nil {
		return err
	}

	select {
	case <-q.done:
		return ErrClosed
	default:
	}

	select {
	case q.ch <- b:
		observability.RecordQueuePublished()
		return nil
	case <-q.done:
		return ErrClosed
	case <-ctx.Done():
		observability.RecordQueueError("publish")
		return ctx.Err()
	}
}

// Consume delivers requests until ctx is done or the queue is closed.
// Returns nil on either.
func (q *MemoryQueue) Consume(ctx context.Context, handler Handler) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-q.done:
			return nil
		case b := <-q.ch:
			req, err := decode(b)
			if err != nil {
				observability.RecordQueueError("decode")
				continue
			}
			observability.RecordQueueConsumed()
			if err := handler(ctx, req); err != nil {
				return err
			}
		}
	}
}

// Len returns the number of pending requests.
func (q *MemoryQueue) Len() int {
	return len(q.ch)
}

// Close stops consumers. Pending requests are dropped.
func (q *MemoryQueue) Close() error {
	q.closed.Do(func() { close(q.done) })
	return nil
}

var (
	_ Producer = (*MemoryQueue)(nil)
	_ Consumer = (*MemoryQueue)(nil)
)
