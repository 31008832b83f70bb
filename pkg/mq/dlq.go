package mq

import (
	"context"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

// DLQExchange 主 exchange 对应的死信 exchange
func DLQExchange(exchange string) string {
	return exchange + ".dlq"
}

// DeclareDLQExchange declares the dead letter exchange.
func DeclareDLQExchange(ch *amqp091.Channel, exchange string) error {
	return DeclareExchange(ch, DLQExchange(exchange))
}

// DeclareDLQQueue 为队列声明死信队列，接收所有被拒绝的 routing key
func DeclareDLQQueue(ch *amqp091.Channel, exchange, queue string) (amqp091.Queue, error) {
	q, err := ch.QueueDeclare(
		queue+".dlq",
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return amqp091.Queue{}, fmt.Errorf("failed to declare DLQ queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, "#", DLQExchange(exchange), false, nil); err != nil {
		return amqp091.Queue{}, fmt.Errorf("failed to bind DLQ queue: %w", err)
	}
	return q, nil
}

// PublishToDLQ 把处理失败的消息转入死信，附带失败原因
func (p *Publisher) PublishToDLQ(ctx context.Context, msg Message, reason, failedAt string) error {
	return p.publish(ctx, DLQExchange(p.exchange), msg, dlqHeaders(reason, failedAt))
}

func dlqHeaders(reason, failedAt string) amqp091.Table {
	return amqp091.Table{
		"x-original-error": reason,
		"x-failed-by":      failedAt,
		"x-failed-at":      time.Now().UTC().Format(time.RFC3339),
	}
}
