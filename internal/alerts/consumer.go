package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	amqp "github.com/rabbitmq/amqp091-go"

	"procodus.dev/irrigation-dashboard/pkg/metrics"
	"procodus.dev/irrigation-dashboard/pkg/mq"
)

// Delivery outcomes, used as the metrics label.
const (
	outcomeHandled  = "handled"
	outcomeRequeued = "requeued"
	outcomeDropped  = "dropped"
)

// Handler processes one alert event. A returned error requeues the message.
type Handler func(ctx context.Context, ev Event) error

// Consumer reads alert events published by monitors from a queue.
type Consumer struct {
	logger   *slog.Logger
	mqClient mq.ClientInterface
	handle   Handler
	metrics  *metrics.MQMetrics
	done     chan struct{}
	started  atomic.Bool
}

// ConsumerConfig holds the configuration for the Consumer.
type ConsumerConfig struct {
	Logger *slog.Logger
	Client mq.ClientInterface
	Handle Handler
	// Metrics is optional.
	Metrics *metrics.MQMetrics
}

// NewConsumer creates a new Consumer instance.
func NewConsumer(cfg *ConsumerConfig) (*Consumer, error) {
	if cfg == nil {
		return nil, errors.New("consumer config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.Client == nil {
		return nil, errors.New("mq client cannot be nil")
	}

	if cfg.Handle == nil {
		return nil, errors.New("handler cannot be nil")
	}

	return &Consumer{
		logger:   cfg.Logger,
		mqClient: cfg.Client,
		handle:   cfg.Handle,
		metrics:  cfg.Metrics,
		done:     make(chan struct{}),
	}, nil
}

// Start begins consuming. Deliveries are processed in the background until
// ctx is done or the delivery channel closes.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("starting alert consumer")

	deliveries, err := c.mqClient.Consume()
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	c.logger.Info("alert consumer started, waiting for messages")
	c.started.Store(true)
	go c.processMessages(ctx, deliveries)
	return nil
}

// Done is closed once processing has stopped.
func (c *Consumer) Done() <-chan struct{} { return c.done }

func (c *Consumer) processMessages(ctx context.Context, deliveries <-chan amqp.Delivery) {
	defer close(c.done)
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("context canceled, stopping alert processing")
			return

		case delivery, ok := <-deliveries:
			if !ok {
				c.logger.Warn("deliveries channel closed")
				return
			}
			c.handleDelivery(ctx, delivery)
		}
	}
}

func (c *Consumer) count(outcome string) {
	if c.metrics != nil {
		c.metrics.MessagesConsumed.WithLabelValues(outcome).Inc()
	}
}

func (c *Consumer) handleDelivery(ctx context.Context, delivery amqp.Delivery) {
	var ev Event
	if err := json.Unmarshal(delivery.Body, &ev); err != nil {
		c.logger.Error("failed to unmarshal alert event", "error", err)
		// Malformed events never become valid; drop them.
		if ackErr := delivery.Ack(false); ackErr != nil {
			c.logger.Error("failed to ack message", "error", ackErr)
		}
		c.count(outcomeDropped)
		return
	}

	var timer *prometheus.Timer
	if c.metrics != nil {
		timer = prometheus.NewTimer(c.metrics.HandleDuration)
	}
	err := c.handle(ctx, ev)
	if timer != nil {
		timer.ObserveDuration()
	}
	if err != nil {
		c.logger.Error("failed to handle alert event",
			"user_id", ev.UserID,
			"crop_id", ev.CropID,
			"error", err,
		)
		if nackErr := delivery.Nack(false, true); nackErr != nil {
			c.logger.Error("failed to nack message", "error", nackErr)
		}
		c.count(outcomeRequeued)
		return
	}

	if err := delivery.Ack(false); err != nil {
		c.logger.Error("failed to ack message", "error", err)
		return
	}
	c.count(outcomeHandled)
	c.logger.Debug("alert event handled", "user_id", ev.UserID, "crop_id", ev.CropID)
}

// Stop closes the queue client and waits for processing to finish. It does
// not wait when Start never succeeded.
func (c *Consumer) Stop() error {
	c.logger.Info("stopping alert consumer")

	if err := c.mqClient.Close(); err != nil {
		return fmt.Errorf("failed to close mq client: %w", err)
	}

	if !c.started.Load() {
		return nil
	}
	<-c.done
	c.logger.Info("alert consumer stopped")
	return nil
}
