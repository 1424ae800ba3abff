package alerts_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus/testutil"
	amqp "github.com/rabbitmq/amqp091-go"

	"procodus.dev/irrigation-dashboard/internal/alerts"
	"procodus.dev/irrigation-dashboard/pkg/logger"
	"procodus.dev/irrigation-dashboard/pkg/metrics"
	"procodus.dev/irrigation-dashboard/pkg/mq/mock"
)

// acknowledger records how each delivery was settled.
type acknowledger struct {
	mu      sync.Mutex
	acks    []uint64
	nacks   []uint64
	requeue []bool
}

func (a *acknowledger) Ack(tag uint64, _ bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acks = append(a.acks, tag)
	return nil
}

func (a *acknowledger) Nack(tag uint64, _ bool, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nacks = append(a.nacks, tag)
	a.requeue = append(a.requeue, requeue)
	return nil
}

func (a *acknowledger) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

func (a *acknowledger) Acked() []uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]uint64(nil), a.acks...)
}

func (a *acknowledger) Nacked() []uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]uint64(nil), a.nacks...)
}

// consumerMetrics is registered once; the global registry rejects duplicates.
var consumerMetrics = sync.OnceValue(func() *metrics.MQMetrics {
	return metrics.NewMQMetrics("alerts_consumer_test")
})

var _ = Describe("Consumer", func() {
	var (
		client *mock.MockClient
		acker  *acknowledger
	)

	BeforeEach(func() {
		client = mock.NewMockClient()
		acker = &acknowledger{}
	})

	deliver := func(tag uint64, body []byte) {
		client.Deliveries <- amqp.Delivery{Acknowledger: acker, DeliveryTag: tag, Body: body}
	}

	event := func(userID int64) []byte {
		data, err := json.Marshal(alerts.Event{
			CreatedAt: time.Now(),
			CropName:  "Tomato",
			Message:   "Soil moisture is low",
			UserID:    userID,
			CropID:    3,
		})
		Expect(err).NotTo(HaveOccurred())
		return data
	}

	Describe("NewConsumer", func() {
		handle := func(context.Context, alerts.Event) error { return nil }

		It("should create a consumer", func() {
			consumer, err := alerts.NewConsumer(&alerts.ConsumerConfig{Logger: logger.Discard(), Client: client, Handle: handle})
			Expect(err).NotTo(HaveOccurred())
			Expect(consumer).NotTo(BeNil())
		})

		DescribeTable("should reject invalid configuration",
			func(cfg *alerts.ConsumerConfig, msg string) {
				consumer, err := alerts.NewConsumer(cfg)
				Expect(err).To(MatchError(msg))
				Expect(consumer).To(BeNil())
			},
			Entry("nil config", nil, "consumer config cannot be nil"),
			Entry("nil logger", &alerts.ConsumerConfig{Client: mock.NewMockClient(), Handle: handle}, "logger cannot be nil"),
			Entry("nil client", &alerts.ConsumerConfig{Logger: logger.Discard(), Handle: handle}, "mq client cannot be nil"),
			Entry("nil handler", &alerts.ConsumerConfig{Logger: logger.Discard(), Client: mock.NewMockClient()}, "handler cannot be nil"),
		)
	})

	Describe("processing", func() {
		var (
			mu       sync.Mutex
			received []alerts.Event
			failNext bool
			consumer *alerts.Consumer
		)

		BeforeEach(func() {
			received, failNext = nil, false
			var err error
			consumer, err = alerts.NewConsumer(&alerts.ConsumerConfig{
				Logger: logger.Discard(),
				Client: client,
				Handle: func(_ context.Context, ev alerts.Event) error {
					mu.Lock()
					defer mu.Unlock()
					if failNext {
						failNext = false
						return errors.New("downstream unavailable")
					}
					received = append(received, ev)
					return nil
				},
			})
			Expect(err).NotTo(HaveOccurred())

			ctx, cancel := context.WithCancel(context.Background())
			DeferCleanup(func() {
				cancel()
				Eventually(consumer.Done()).Should(BeClosed())
			})
			Expect(consumer.Start(ctx)).To(Succeed())
		})

		receivedEvents := func() []alerts.Event {
			mu.Lock()
			defer mu.Unlock()
			return append([]alerts.Event(nil), received...)
		}

		It("should hand decoded events to the handler and ack them", func() {
			deliver(1, event(7))

			Eventually(receivedEvents).Should(HaveLen(1))
			Expect(receivedEvents()[0].UserID).To(Equal(int64(7)))
			Expect(receivedEvents()[0].CropName).To(Equal("Tomato"))
			Eventually(acker.Acked).Should(Equal([]uint64{1}))
		})

		It("should drop malformed messages", func() {
			deliver(1, []byte("not json"))
			deliver(2, event(8))

			Eventually(acker.Acked).Should(Equal([]uint64{1, 2}))
			Expect(receivedEvents()).To(HaveLen(1))
		})

		It("should requeue events the handler fails on", func() {
			mu.Lock()
			failNext = true
			mu.Unlock()

			deliver(5, event(7))

			Eventually(acker.Nacked).Should(Equal([]uint64{5}))
			Expect(acker.requeue).To(Equal([]bool{true}))
			Expect(acker.Acked()).To(BeEmpty())
		})

		It("should stop when the delivery channel closes", func() {
			close(client.Deliveries)
			Eventually(consumer.Done()).Should(BeClosed())
		})
	})

	It("should count delivery outcomes", func() {
		m := consumerMetrics()
		handled := testutil.ToFloat64(m.MessagesConsumed.WithLabelValues("handled"))
		dropped := testutil.ToFloat64(m.MessagesConsumed.WithLabelValues("dropped"))
		requeued := testutil.ToFloat64(m.MessagesConsumed.WithLabelValues("requeued"))

		consumer, err := alerts.NewConsumer(&alerts.ConsumerConfig{
			Logger:  logger.Discard(),
			Client:  client,
			Metrics: m,
			Handle: func(_ context.Context, ev alerts.Event) error {
				if ev.UserID == 9 {
					return errors.New("downstream unavailable")
				}
				return nil
			},
		})
		Expect(err).NotTo(HaveOccurred())
		ctx, cancel := context.WithCancel(context.Background())
		DeferCleanup(cancel)
		Expect(consumer.Start(ctx)).To(Succeed())

		deliver(1, event(7))
		deliver(2, []byte("{"))
		deliver(3, event(9))
		close(client.Deliveries)
		Eventually(consumer.Done()).Should(BeClosed())

		Expect(testutil.ToFloat64(m.MessagesConsumed.WithLabelValues("handled"))).To(Equal(handled + 1))
		Expect(testutil.ToFloat64(m.MessagesConsumed.WithLabelValues("dropped"))).To(Equal(dropped + 1))
		Expect(testutil.ToFloat64(m.MessagesConsumed.WithLabelValues("requeued"))).To(Equal(requeued + 1))
	})

	It("should fail to start when the queue is unavailable", func() {
		client.ConsumeError = errors.New("not connected")
		consumer, err := alerts.NewConsumer(&alerts.ConsumerConfig{
			Logger: logger.Discard(),
			Client: client,
			Handle: func(context.Context, alerts.Event) error { return nil },
		})
		Expect(err).NotTo(HaveOccurred())

		Expect(consumer.Start(context.Background())).To(MatchError(ContainSubstring("not connected")))
	})

	It("should close the client on stop", func() {
		consumer, err := alerts.NewConsumer(&alerts.ConsumerConfig{
			Logger: logger.Discard(),
			Client: client,
			Handle: func(context.Context, alerts.Event) error { return nil },
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(consumer.Start(context.Background())).To(Succeed())

		close(client.Deliveries)
		Expect(consumer.Stop()).To(Succeed())
		Expect(client.CloseCalls()).To(Equal(1))
	})

	It("should stop without waiting when never started", func() {
		consumer, err := alerts.NewConsumer(&alerts.ConsumerConfig{
			Logger: logger.Discard(),
			Client: client,
			Handle: func(context.Context, alerts.Event) error { return nil },
		})
		Expect(err).NotTo(HaveOccurred())

		stopped := make(chan error, 1)
		go func() { stopped <- consumer.Stop() }()
		Eventually(stopped).Should(Receive(BeNil()))
		Expect(client.CloseCalls()).To(Equal(1))
	})

	It("should stop without waiting when start failed", func() {
		client.ConsumeError = errors.New("not connected")
		consumer, err := alerts.NewConsumer(&alerts.ConsumerConfig{
			Logger: logger.Discard(),
			Client: client,
			Handle: func(context.Context, alerts.Event) error { return nil },
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(consumer.Start(context.Background())).NotTo(Succeed())

		stopped := make(chan error, 1)
		go func() { stopped <- consumer.Stop() }()
		Eventually(stopped).Should(Receive(BeNil()))
	})
})
