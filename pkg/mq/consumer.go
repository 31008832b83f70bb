package mq

import (
	"context"
	"errors"
	"fmt"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"milestonefund/pkg/otel"
	"milestonefund/pkg/trace"
)

// TraceHeader 消息头中的 trace_id
const TraceHeader = "x-trace-id"

// MessageHandler 处理一条消息。返回 Reject 包装的错误时消息转入死信队列，其他错误重新入队
type MessageHandler func(ctx context.Context, msg Message) error

type rejectError struct{ err error }

func (e *rejectError) Error() string { return e.err.Error() }
func (e *rejectError) Unwrap() error { return e.err }

// Reject 标记为不可重试的失败
func Reject(err error) error {
	if err == nil {
		return nil
	}
	return &rejectError{err: err}
}

// IsRejected 是否为 Reject 包装的错误
func IsRejected(err error) bool {
	var r *rejectError
	return errors.As(err, &r)
}

// ConsumerConfig 队列、绑定和预取数量
type ConsumerConfig struct {
	URL         string
	Exchange    string
	Queue       string
	RoutingKeys []string // 为空时绑定 "#"
	Prefetch    int
	Tag         string
}

type Consumer struct {
	cfg     ConsumerConfig
	conn    *amqp091.Connection
	channel *amqp091.Channel
	queue   amqp091.Queue
	handler MessageHandler
	logger  *zap.Logger
}

// NewConsumer 声明 exchange、队列和死信队列并完成绑定
func NewConsumer(cfg ConsumerConfig, logger *zap.Logger) (*Consumer, error) {
	if cfg.Exchange == "" {
		cfg.Exchange = DefaultExchange
	}
	if len(cfg.RoutingKeys) == 0 {
		cfg.RoutingKeys = []string{"#"}
	}
	if cfg.Tag == "" {
		cfg.Tag = "worker"
	}

	conn, err := NewConnection(cfg.URL)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	c := &Consumer{cfg: cfg, conn: conn, channel: ch, logger: logger}

	if err := c.declare(); err != nil {
		c.Close()
		return nil, err
	}

	logger.Info("Consumer initialized",
		zap.Strings("routing_keys", cfg.RoutingKeys),
		zap.String("queue", cfg.Queue),
		zap.String("exchange", cfg.Exchange),
	)
	return c, nil
}

func (c *Consumer) declare() error {
	if err := DeclareExchange(c.channel, c.cfg.Exchange); err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}
	if err := DeclareDLQExchange(c.channel, c.cfg.Exchange); err != nil {
		return fmt.Errorf("failed to declare dlq exchange: %w", err)
	}
	if _, err := DeclareDLQQueue(c.channel, c.cfg.Exchange, c.cfg.Queue); err != nil {
		return err
	}

	q, err := c.channel.QueueDeclare(c.cfg.Queue, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}
	for _, key := range c.cfg.RoutingKeys {
		if err := c.channel.QueueBind(q.Name, key, c.cfg.Exchange, false, nil); err != nil {
			return fmt.Errorf("failed to bind queue to %q: %w", key, err)
		}
	}
	if c.cfg.Prefetch > 0 {
		if err := c.channel.Qos(c.cfg.Prefetch, 0, false); err != nil {
			return fmt.Errorf("failed to set qos: %w", err)
		}
	}
	c.queue = q
	return nil
}

func (c *Consumer) SetHandler(h MessageHandler) {
	c.handler = h
}

func (c *Consumer) Close() {
	if c.channel != nil {
		_ = c.channel.Close()
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

// StartConsuming 阻塞消费直到 ctx 取消或连接断开
// 每条消息都会被 ack、nack 或转入死信
func (c *Consumer) StartConsuming(ctx context.Context) error {
	if c.handler == nil {
		return errors.New("consumer handler not set")
	}

	deliveries, err := c.channel.Consume(
		c.queue.Name,
		c.cfg.Tag,
		false, // 手动ack
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	c.logger.Info("Consumer started consuming messages", zap.String("queue", c.queue.Name))

	for {
		select {
		case <-ctx.Done():
			_ = c.channel.Cancel(c.cfg.Tag, false)
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed")
			}
			c.handle(ctx, d)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, d amqp091.Delivery) {
	msg := Message{
		RoutingKey: d.RoutingKey,
		MessageID:  d.MessageId,
		Body:       d.Body,
		Timestamp:  d.Timestamp,
	}
	if traceID, ok := d.Headers[TraceHeader].(string); ok {
		msg.TraceID = traceID
		ctx = trace.WithContext(ctx, traceID)
	}
	ctx = otel.ExtractHeaders(ctx, d.Headers)
	ctx, span := otel.MQConsumeSpan(ctx, d.RoutingKey, c.queue.Name)
	defer span.End()
	log := c.logger.With(
		zap.String("routing_key", d.RoutingKey),
		zap.String("message_id", d.MessageId),
		zap.String("queue", c.queue.Name),
	)

	defer func() {
		if r := recover(); r != nil {
			log.Error("Handler panic recovered", zap.Any("panic", r))
			c.deadLetter(ctx, log, d, msg, fmt.Sprintf("panic: %v", r))
		}
	}()

	err := c.handler(ctx, msg)
	switch {
	case err == nil:
		if err := d.Ack(false); err != nil {
			log.Error("Failed to ack message", zap.Error(err))
		}
	case IsRejected(err):
		log.Warn("Message rejected", zap.Error(err))
		c.deadLetter(ctx, log, d, msg, err.Error())
	default:
		log.Error("Handler error, requeueing", zap.Error(err))
		if err := d.Nack(false, true); err != nil {
			log.Error("Failed to nack message", zap.Error(err))
		}
	}
}

// deadLetter 转入死信后 ack 原消息；转发失败时重新入队
func (c *Consumer) deadLetter(ctx context.Context, log *zap.Logger, d amqp091.Delivery, msg Message, reason string) {
	headers := dlqHeaders(reason, c.cfg.Tag)
	if msg.TraceID != "" {
		headers[TraceHeader] = msg.TraceID
	}
	err := c.channel.PublishWithContext(ctx, DLQExchange(c.cfg.Exchange), d.RoutingKey, false, false, amqp091.Publishing{
		ContentType:  d.ContentType,
		MessageId:    d.MessageId,
		Timestamp:    d.Timestamp,
		Body:         d.Body,
		DeliveryMode: amqp091.Persistent,
		Headers:      headers,
	})
	if err != nil {
		log.Error("Failed to publish to DLQ, requeueing", zap.Error(err))
		_ = d.Nack(false, true)
		return
	}
	if err := d.Ack(false); err != nil {
		log.Error("Failed to ack dead-lettered message", zap.Error(err))
	}
}
