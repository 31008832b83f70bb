package mq

import (
	"fmt"

	"github.com/rabbitmq/amqp091-go"
)

// DefaultExchange 审计事件发布到的 topic exchange
const DefaultExchange = "events"

// NewConnection creates a new RabbitMQ connection.
func NewConnection(url string) (*amqp091.Connection, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	return conn, nil
}

// DeclareExchange 声明持久化的 topic exchange
func DeclareExchange(ch *amqp091.Channel, name string) error {
	return ch.ExchangeDeclare(
		name,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
}
