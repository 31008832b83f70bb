package outbox

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"milestonefund/pkg/circuitbreaker"
	"milestonefund/pkg/metrics"
	"milestonefund/pkg/mq"
)

// Publisher outbox 事件的发布端
type Publisher interface {
	Publish(ctx context.Context, msg mq.Message) error
}

// Dispatcher 从 outbox 中读取事件并发布到 MQ
// 发布调用经过熔断器，熔断打开时本轮剩余事件留到下一轮，不计入重试次数
type Dispatcher struct {
	store      Store
	publisher  Publisher
	breaker    *circuitbreaker.CircuitBreaker
	logger     *zap.Logger
	maxRetries int
	interval   time.Duration
	batchSize  int
}

// NewDispatcher 创建新的 Dispatcher
func NewDispatcher(store Store, publisher Publisher, logger *zap.Logger) *Dispatcher {
	cfg := circuitbreaker.DefaultConfig()
	cfg.OnStateChange = func(from, to circuitbreaker.State) {
		logger.Warn("Outbox publisher circuit breaker state changed",
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	}
	return &Dispatcher{
		store:      store,
		publisher:  publisher,
		breaker:    circuitbreaker.New(cfg),
		logger:     logger,
		maxRetries: 5,
		interval:   time.Second,
		batchSize:  100,
	}
}

// WithMaxRetries 设置最大重试次数
func (d *Dispatcher) WithMaxRetries(maxRetries int) *Dispatcher {
	if maxRetries > 0 {
		d.maxRetries = maxRetries
	}
	return d
}

// WithInterval 设置扫描间隔
func (d *Dispatcher) WithInterval(interval time.Duration) *Dispatcher {
	if interval > 0 {
		d.interval = interval
	}
	return d
}

// WithBatchSize 设置批次大小
func (d *Dispatcher) WithBatchSize(batchSize int) *Dispatcher {
	if batchSize > 0 {
		d.batchSize = batchSize
	}
	return d
}

// WithBreaker 替换熔断器
func (d *Dispatcher) WithBreaker(cb *circuitbreaker.CircuitBreaker) *Dispatcher {
	d.breaker = cb
	return d
}

// Start 阻塞运行直到 ctx 取消
func (d *Dispatcher) Start(ctx context.Context) {
	d.logger.Info("Starting Outbox Dispatcher",
		zap.Int("max_retries", d.maxRetries),
		zap.Duration("interval", d.interval),
		zap.Int("batch_size", d.batchSize),
	)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("Outbox Dispatcher stopped")
			return
		case <-ticker.C:
			d.ProcessPendingEvents(ctx)
		}
	}
}

// ProcessPendingEvents 处理一批待发送的事件，返回成功发布的数量
func (d *Dispatcher) ProcessPendingEvents(ctx context.Context) int {
	events, err := d.store.GetPendingEvents(ctx, d.batchSize)
	if err != nil {
		d.logger.Error("Failed to get pending events", zap.Error(err))
		return 0
	}

	sent := 0
	for _, event := range events {
		err := d.publish(ctx, event)
		if errors.Is(err, circuitbreaker.ErrOpen) {
			metrics.IncrementOutboxPublish("rejected")
			d.logger.Warn("Outbox publisher unavailable, postponing batch", zap.Int("remaining", len(events)-sent))
			return sent
		}
		if err != nil {
			metrics.IncrementOutboxPublish("failed")
			d.logger.Error("Failed to publish event",
				zap.Int64("outbox_id", event.ID),
				zap.String("event_id", event.EventID),
				zap.String("routing_key", event.RoutingKey),
				zap.Error(err),
			)
			if err := d.store.MarkAsFailed(ctx, event.ID, d.maxRetries, err.Error()); err != nil {
				d.logger.Error("Failed to mark event as failed", zap.Int64("outbox_id", event.ID), zap.Error(err))
			}
			continue
		}

		metrics.IncrementOutboxPublish("sent")
		sent++
		if err := d.store.MarkAsSent(ctx, event.ID); err != nil {
			// 下一轮会再次发布，消费端按 event_id 去重
			d.logger.Error("Failed to mark event as sent", zap.Int64("outbox_id", event.ID), zap.Error(err))
		}
	}
	return sent
}

func (d *Dispatcher) publish(ctx context.Context, event *Event) error {
	return d.breaker.Execute(ctx, func(ctx context.Context) error {
		return d.publisher.Publish(ctx, message(event))
	})
}

func message(event *Event) mq.Message {
	return mq.Message{
		RoutingKey: event.RoutingKey,
		MessageID:  event.EventID,
		TraceID:    event.TraceID,
		Body:       event.Payload,
		Timestamp:  event.CreatedAt,
	}
}
