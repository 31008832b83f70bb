package mqhandler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"milestonefund/internal/model"
	"milestonefund/pkg/logger"
	"milestonefund/pkg/metrics"
	"milestonefund/pkg/mq"
	"milestonefund/pkg/util"
)

const handlerName = "audit_event"

// PayoutRecorder 保存付款指令
type PayoutRecorder interface {
	RecordPayout(ctx context.Context, eventID string, tr model.Transfer) (bool, error)
}

// Deduper 消息去重
type Deduper interface {
	AcquireOnce(ctx context.Context, handler, eventID string) bool
	Release(ctx context.Context, handler, eventID string)
}

// RetryTracker 跨重投统计同一条消息的失败次数
type RetryTracker interface {
	IncrementAndGet(ctx context.Context, key string) (int64, error)
	Reset(ctx context.Context, key string) error
}

// AuditEventHandler 消费审计事件：资金划转类事件转成付款指令，其余事件只记录
type AuditEventHandler struct {
	payouts    PayoutRecorder
	dedup      Deduper
	retries    RetryTracker
	maxRetries int64
	queue      string
	logger     *zap.Logger
}

func NewAuditEventHandler(payouts PayoutRecorder, dedup Deduper, retries RetryTracker, maxRetries int64, queue string, logger *zap.Logger) *AuditEventHandler {
	return &AuditEventHandler{
		payouts:    payouts,
		dedup:      dedup,
		retries:    retries,
		maxRetries: maxRetries,
		queue:      queue,
		logger:     logger,
	}
}

// transferEvents 携带 model.Transfer 的事件
var transferEvents = map[string]bool{
	model.EventEscrowReleased:        true,
	model.EventEscrowRefunded:        true,
	model.EventPlatformFeesWithdrawn: true,
}

// Handle 实现 mq.MessageHandler
// 不可重试的错误或超过重试次数返回 mq.Reject，消息转入死信队列
func (h *AuditEventHandler) Handle(ctx context.Context, msg mq.Message) error {
	start := time.Now()
	defer func() {
		metrics.RecordMQConsumeLatency(msg.RoutingKey, h.queue, time.Since(start))
	}()
	log := logger.WithTrace(ctx, h.logger).With(
		zap.String("routing_key", msg.RoutingKey),
		zap.String("message_id", msg.MessageID),
	)

	var ev model.AuditEvent
	if err := json.Unmarshal(msg.Body, &ev); err != nil {
		metrics.IncrementAuditEventConsumed(msg.RoutingKey, "failed")
		return mq.Reject(fmt.Errorf("decode audit event: %w", err))
	}
	if ev.ID == "" {
		ev.ID = msg.MessageID
	}

	if !h.dedup.AcquireOnce(ctx, handlerName, ev.ID) {
		metrics.IncrementAuditEventConsumed(ev.Type, "duplicate")
		return nil
	}

	err := h.process(ctx, log, ev)
	if err == nil {
		metrics.IncrementAuditEventConsumed(ev.Type, "processed")
		if h.retries != nil {
			_ = h.retries.Reset(ctx, util.FormatRetryKey(handlerName, ev.ID))
		}
		return nil
	}

	metrics.IncrementAuditEventConsumed(ev.Type, "failed")
	h.dedup.Release(ctx, handlerName, ev.ID)
	return h.classify(ctx, log, ev, err)
}

func (h *AuditEventHandler) process(ctx context.Context, log *zap.Logger, ev model.AuditEvent) error {
	if !transferEvents[ev.Type] {
		log.Info("Audit event observed",
			zap.String("event_id", ev.ID),
			zap.String("type", ev.Type),
			zap.Int64("campaign_id", ev.CampaignID),
			zap.String("actor", ev.Actor),
		)
		return nil
	}

	var tr model.Transfer
	if err := json.Unmarshal(ev.Data, &tr); err != nil {
		return fmt.Errorf("decode transfer: %w", err)
	}
	if tr.ID == "" || tr.Amount <= 0 || tr.Recipient == "" {
		return errInvalidTransfer
	}

	created, err := h.payouts.RecordPayout(ctx, ev.ID, tr)
	if err != nil {
		return err
	}
	log.Info("Payout instruction recorded",
		zap.String("transfer_id", tr.ID),
		zap.String("kind", string(tr.Kind)),
		zap.String("recipient", tr.Recipient),
		zap.Int64("amount", tr.Amount),
		zap.Bool("created", created),
	)
	return nil
}

var errInvalidTransfer = errors.New("invalid transfer payload")

// classify 决定重新入队还是转入死信
func (h *AuditEventHandler) classify(ctx context.Context, log *zap.Logger, ev model.AuditEvent, err error) error {
	if errors.Is(err, errInvalidTransfer) {
		log.Warn("Invalid transfer payload, rejecting", zap.String("event_id", ev.ID))
		return mq.Reject(err)
	}
	retryable, errType := util.IsRetryableError(err)
	if !retryable {
		log.Warn("Non-retryable error, rejecting",
			zap.String("event_id", ev.ID),
			zap.String("error_type", errType),
			zap.Error(err),
		)
		return mq.Reject(err)
	}

	var count int64
	if h.retries != nil {
		n, rerr := h.retries.IncrementAndGet(ctx, util.FormatRetryKey(handlerName, ev.ID))
		if rerr != nil {
			log.Warn("Failed to track retry count", zap.Error(rerr))
		}
		count = n
	}
	if !util.ShouldRetry(count, h.maxRetries, true) {
		log.Error("Retries exhausted, rejecting",
			zap.String("event_id", ev.ID),
			zap.Int64("retry_count", count),
			zap.Error(err),
		)
		return mq.Reject(err)
	}
	log.Warn("Retryable error, requeueing",
		zap.String("event_id", ev.ID),
		zap.String("error_type", errType),
		zap.Int64("retry_count", count),
		zap.Error(err),
	)
	return err
}
