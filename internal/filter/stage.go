package filter

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"copytrade-engine/internal/domain"
	"copytrade-engine/internal/monitor"
	"copytrade-engine/internal/queue"
	"copytrade-engine/internal/storage"
)

// Stage connects the monitor to the queue: it loads the copytrader's
// configuration, evaluates the event and publishes accepted requests.
type Stage struct {
	filter    *Filter
	configs   storage.CopyConfigStore
	publisher queue.Producer
	log       *zap.Logger
}

var _ monitor.Sink = (*Stage)(nil)

// NewStage creates a Stage.
func NewStage(f *Filter, configs storage.CopyConfigStore, publisher queue.Producer, log *zap.Logger) *Stage {
	if log == nil {
		log = zap.NewNop()
	}
	return &Stage{
		filter:    f,
		configs:   configs,
		publisher: publisher,
		log:       log.Named("stage"),
	}
}

// HandleLeaderEvent implements monitor.Sink. Silent skips are logged at
// debug level and returned unchanged.
func (s *Stage) HandleLeaderEvent(ctx context.Context, follow *domain.LeaderFollow, e *domain.TradeEvent) error {
	cfg, err := s.configs.Get(ctx, follow.CopytraderID)
	if errors.Is(err, storage.ErrNotFound) {
		return s.filter.reject("no_configuration")
	}
	if err != nil {
		return fmt.Errorf("load configuration %s: %w", follow.CopytraderID, err)
	}

	req, err := s.filter.Evaluate(ctx, cfg, follow, e)
	if err != nil {
		if domain.IsSilentSkip(err) {
			s.log.Debug("trade skipped",
				zap.String("copytrader_id", follow.CopytraderID),
				zap.String("event_id", e.EventID),
				zap.String("pair", e.Pair),
				zap.Error(err),
			)
			return err
		}
		s.log.Warn("trade not copied",
			zap.String("copytrader_id", follow.CopytraderID),
			zap.String("event_id", e.EventID),
			zap.Error(err),
		)
		return err
	}

	if err := s.publisher.Publish(ctx, req); err != nil {
		s.log.Error("publish copy request failed",
			zap.String("request_id", req.RequestID),
			zap.Error(err),
		)
		return fmt.Errorf("publish %s: %w", req.RequestID, err)
	}

	s.log.Info("copy request queued",
		zap.String("request_id", req.RequestID),
		zap.String("copytrader_id", req.CopytraderID),
		zap.String("pair", e.Pair),
		zap.Bool("is_long", e.IsLong),
		zap.String("target_size", req.TargetSize.String()),
	)
	return nil
}
