package mq

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"milestonefund/pkg/otel"
)

// Message 一条待发布的消息
type Message struct {
	RoutingKey string
	MessageID  string
	TraceID    string
	Body       []byte
	Timestamp  time.Time
}

// Publisher 向 exchange 发布持久化 JSON 消息
// amqp channel 不能并发使用，Publish 内部串行化
type Publisher struct {
	exchange string
	conn     *amqp091.Connection
	mu       sync.Mutex
	channel  *amqp091.Channel
}

func NewPublisher(url, exchange string) (*Publisher, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	conn, err := NewConnection(url)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if err := DeclareExchange(ch, exchange); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}
	if err := DeclareDLQExchange(ch, exchange); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare dlq exchange: %w", err)
	}

	return &Publisher{exchange: exchange, conn: conn, channel: ch}, nil
}

func (p *Publisher) Close() {
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
}

// IsConnected 连接和 channel 都未关闭
func (p *Publisher) IsConnected() bool {
	if p.conn == nil || p.channel == nil {
		return false
	}
	return !p.conn.IsClosed() && !p.channel.IsClosed()
}

// Publish 以 routing key 发布消息
func (p *Publisher) Publish(ctx context.Context, msg Message) error {
	return p.publish(ctx, p.exchange, msg, nil)
}

func (p *Publisher) publish(ctx context.Context, exchange string, msg Message, headers amqp091.Table) (err error) {
	ctx, span := otel.MQPublishSpan(ctx, msg.RoutingKey, exchange)
	defer func() { otel.EndSpan(span, err) }()

	if headers == nil {
		headers = amqp091.Table{}
	}
	if msg.TraceID != "" {
		headers[TraceHeader] = msg.TraceID
	}
	otel.InjectHeaders(ctx, headers)
	ts := msg.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.channel.PublishWithContext(ctx,
		exchange,
		msg.RoutingKey,
		false,
		false,
		amqp091.Publishing{
			ContentType:  "application/json",
			MessageId:    msg.MessageID,
			Timestamp:    ts,
			Body:         msg.Body,
			DeliveryMode: amqp091.Persistent,
			Headers:      headers,
		},
	)
}
