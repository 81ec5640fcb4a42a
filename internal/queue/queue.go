// Package queue carries CopyTradeRequests from the filter stage to the
// execution workers. Requests are JSON encoded and keyed by copytrader so
// one copytrader's requests stay ordered.
//
// Delivery is at least once. Workers deduplicate on RequestID.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"copytrade-engine/internal/domain"
)

// ErrClosed is returned when publishing to or consuming from a closed queue.
var ErrClosed = errors.New("queue: closed")

// Handler processes one request. A non-nil error stops Consume without
// acknowledging the request.
type Handler func(ctx context.Context, req *domain.CopyTradeRequest) error

// Producer publishes requests.
type Producer interface {
	Publish(ctx context.Context, req *domain.CopyTradeRequest) error
	Close() error
}

// Consumer delivers requests to a handler until ctx is done. Consume may be
// called from several goroutines; each call is one independent consumer.
type Consumer interface {
	Consume(ctx context.Context, handler Handler) error
	Close() error
}

func encode(req *domain.CopyTradeRequest) ([]byte, error) {
	b, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal copy request: %w", err)
	}
	return b, nil
}

func decode(b []byte) (*domain.CopyTradeRequest, error) {
	var req domain.CopyTradeRequest
	if err := json.Unmarshal(b, &req); err != nil {
		return nil, fmt.Errorf("unmarshal copy request: %w", err)
	}
	if req.RequestID == "" {
		return nil, errors.New("unmarshal copy request: missing request_id")
	}
	return &req, nil
}
