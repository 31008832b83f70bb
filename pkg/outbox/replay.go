package outbox

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"milestonefund/pkg/logger"
	"milestonefund/pkg/trace"
)

// ReplayService 手动重放已失败的 outbox 事件
type ReplayService struct {
	store      Store
	publisher  Publisher
	logger     *zap.Logger
	maxRetries int
}

func NewReplayService(store Store, publisher Publisher, logger *zap.Logger) *ReplayService {
	return &ReplayService{store: store, publisher: publisher, logger: logger, maxRetries: 5}
}

// ReplayEvent 立即重新发布指定事件
func (s *ReplayService) ReplayEvent(ctx context.Context, id int64) error {
	event, err := s.store.GetEventByID(ctx, id)
	if err != nil {
		return err
	}
	if event.TraceID != "" {
		ctx = trace.WithContext(ctx, event.TraceID)
	}
	log := logger.WithTrace(ctx, s.logger).With(zap.Int64("outbox_id", id), zap.String("event_id", event.EventID))

	if err := s.publisher.Publish(ctx, message(event)); err != nil {
		if markErr := s.store.MarkAsFailed(ctx, id, s.maxRetries, err.Error()); markErr != nil {
			return fmt.Errorf("failed to publish and mark as failed: %w (mark error: %v)", err, markErr)
		}
		return fmt.Errorf("failed to publish: %w", err)
	}
	if err := s.store.MarkAsSent(ctx, id); err != nil {
		return fmt.Errorf("failed to mark as sent: %w", err)
	}
	log.Info("Outbox event replayed", zap.String("routing_key", event.RoutingKey))
	return nil
}

// ReplayFailedEvents 重放最多 limit 个失败事件，返回成功数量
func (s *ReplayService) ReplayFailedEvents(ctx context.Context, limit int) (int, error) {
	events, err := s.store.GetFailedEvents(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to get failed events: %w", err)
	}

	replayed := 0
	for _, event := range events {
		if err := s.ReplayEvent(ctx, event.ID); err != nil {
			s.logger.Warn("Replay failed", zap.Int64("outbox_id", event.ID), zap.Error(err))
			continue
		}
		replayed++
	}
	return replayed, nil
}
