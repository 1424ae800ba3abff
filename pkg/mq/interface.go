package mq

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ClientInterface is what alert publishers and consumers depend on.
type ClientInterface interface {
	// Push publishes and blocks until the broker confirms.
	Push(ctx context.Context, data []byte) error

	// UnsafePush publishes without waiting for a confirmation.
	UnsafePush(ctx context.Context, data []byte) error

	// Consume streams deliveries; each must be acked or nacked.
	Consume() (<-chan amqp.Delivery, error)

	Close() error
}

var _ ClientInterface = (*Client)(nil)
