// Package mq provides end-to-end tests for the RabbitMQ client and the alert
// event round trip.
package mq

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"procodus.dev/irrigation-dashboard/internal/alerts"
	"procodus.dev/irrigation-dashboard/internal/poll"
	"procodus.dev/irrigation-dashboard/pkg/irrigation"
	clientmq "procodus.dev/irrigation-dashboard/pkg/mq"
)

// alertAPI serves one out-of-range reading for a single tomato mapping.
type alertAPI struct{}

func (alertAPI) LatestReading(context.Context) (irrigation.Snapshot, error) {
	return irrigation.Snapshot{}.With(irrigation.SoilMoisture, 12), nil
}

func (alertAPI) UserCrops(context.Context, int64) ([]irrigation.UserCropMapping, error) {
	m := irrigation.DefaultMapping(7, irrigation.Crop{ID: 3, Name: "Tomato", MinSoilMoisture: 30, MaxSoilMoisture: 60})
	m.ID = 1
	return []irrigation.UserCropMapping{m}, nil
}

func (alertAPI) CreateNotification(_ context.Context, n irrigation.Notification) (*irrigation.Notification, error) {
	n.ID = 1
	return &n, nil
}

var _ = Describe("MQ Client E2E", func() {
	var (
		client    *clientmq.Client
		queueName string
		ctx       context.Context
	)

	newClient := func() *clientmq.Client {
		c, err := clientmq.New(&clientmq.Config{Logger: testLogger, URL: rabbitmqURL, Queue: queueName})
		Expect(err).NotTo(HaveOccurred())
		Eventually(c.Ready, 10*time.Second, 100*time.Millisecond).Should(BeTrue())
		return c
	}

	BeforeEach(func() {
		ctx = context.Background()
		queueName = uniqueQueue()
		client = newClient()
	})

	AfterEach(func() {
		if client != nil {
			_ = client.Close()
			client = nil
		}
	})

	Describe("Publishing", func() {
		It("should publish with confirmation", func() {
			Expect(client.Push(ctx, []byte(`{"message":"hello"}`))).To(Succeed())
		})

		It("should publish without waiting", func() {
			Expect(client.UnsafePush(ctx, []byte("unsafe message"))).To(Succeed())
		})
	})

	Describe("Publish and Consume", func() {
		It("should deliver messages in order", func() {
			deliveries, err := client.Consume()
			Expect(err).NotTo(HaveOccurred())

			for _, msg := range []string{"first", "second", "third"} {
				Expect(client.Push(ctx, []byte(msg))).To(Succeed())
			}

			received := make([]string, 0, 3)
			for range 3 {
				select {
				case d := <-deliveries:
					received = append(received, string(d.Body))
					Expect(d.Ack(false)).To(Succeed())
				case <-time.After(5 * time.Second):
					Fail("Did not receive all messages within timeout")
				}
			}
			Expect(received).To(Equal([]string{"first", "second", "third"}))
		})
	})

	Describe("Alert events", func() {
		It("should carry a monitor alert to a consumer", func() {
			var (
				mu  sync.Mutex
				got []alerts.Event
			)

			consumerClient := newClient()
			consumer, err := alerts.NewConsumer(&alerts.ConsumerConfig{
				Logger: testLogger,
				Client: consumerClient,
				Handle: func(_ context.Context, ev alerts.Event) error {
					mu.Lock()
					defer mu.Unlock()
					got = append(got, ev)
					return nil
				},
			})
			Expect(err).NotTo(HaveOccurred())

			runCtx, cancel := context.WithCancel(ctx)
			defer cancel()
			Expect(consumer.Start(runCtx)).To(Succeed())
			defer func() { _ = consumer.Stop() }()

			monitor, err := alerts.NewMonitor(&alerts.MonitorConfig{
				Logger:    testLogger,
				API:       alertAPI{},
				UserID:    7,
				Policy:    poll.Every(time.Hour),
				Publisher: client,
			})
			Expect(err).NotTo(HaveOccurred())

			n, err := monitor.Check(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).NotTo(BeNil())

			Eventually(func() []alerts.Event {
				mu.Lock()
				defer mu.Unlock()
				return append([]alerts.Event(nil), got...)
			}, 10*time.Second).Should(ContainElement(And(
				HaveField("UserID", int64(7)),
				HaveField("CropName", "Tomato"),
			)))

			mu.Lock()
			breaches := got[0].Breaches
			mu.Unlock()
			raw, err := json.Marshal(breaches)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(raw)).To(ContainSubstring("SoilMoisture"))
		})
	})
})
