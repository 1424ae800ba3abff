package alerts_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"procodus.dev/irrigation-dashboard/internal/alerts"
	"procodus.dev/irrigation-dashboard/internal/poll"
	"procodus.dev/irrigation-dashboard/pkg/irrigation"
	"procodus.dev/irrigation-dashboard/pkg/logger"
	"procodus.dev/irrigation-dashboard/pkg/mq/mock"
)

type fakeAPI struct {
	mu        sync.Mutex
	snapshot  irrigation.Snapshot
	mappings  []irrigation.UserCropMapping
	created   []irrigation.Notification
	createErr error
	latestErr error
}

func (f *fakeAPI) LatestReading(context.Context) (irrigation.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshot, f.latestErr
}

func (f *fakeAPI) UserCrops(context.Context, int64) ([]irrigation.UserCropMapping, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]irrigation.UserCropMapping(nil), f.mappings...), nil
}

func (f *fakeAPI) CreateNotification(_ context.Context, n irrigation.Notification) (*irrigation.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	n.ID = int64(len(f.created) + 1)
	f.created = append(f.created, n)
	return &n, nil
}

func (f *fakeAPI) Created() []irrigation.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]irrigation.Notification(nil), f.created...)
}

var _ = Describe("Monitor", func() {
	var (
		api      *fakeAPI
		now      time.Time
		deduper  *alerts.Deduper
		notified []irrigation.Notification
		cfg      *alerts.MonitorConfig
	)

	BeforeEach(func() {
		api = &fakeAPI{
			snapshot: irrigation.Snapshot{}.With(irrigation.Temperature, 35),
			mappings: []irrigation.UserCropMapping{tomatoMapping()},
		}
		now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
		deduper = alerts.NewDeduper(30 * time.Minute).WithClock(func() time.Time { return now })
		notified = nil
		cfg = &alerts.MonitorConfig{
			Logger:   logger.Discard(),
			API:      api,
			UserID:   7,
			Deduper:  deduper,
			OnNotify: func(n irrigation.Notification) { notified = append(notified, n) },
		}
	})

	Describe("NewMonitor", func() {
		It("should require a user id", func() {
			cfg.UserID = 0
			_, err := alerts.NewMonitor(cfg)
			Expect(err).To(MatchError(ContainSubstring("user id cannot be empty")))
		})

		It("should require an API", func() {
			cfg.API = nil
			_, err := alerts.NewMonitor(cfg)
			Expect(err).To(MatchError(ContainSubstring("API cannot be nil")))
		})
	})

	Describe("Check", func() {
		It("should raise exactly one notification per window", func() {
			m, err := alerts.NewMonitor(cfg)
			Expect(err).NotTo(HaveOccurred())

			for range 5 {
				_, err := m.Check(context.Background())
				Expect(err).NotTo(HaveOccurred())
				now = now.Add(30 * time.Second)
			}

			Expect(api.Created()).To(HaveLen(1))
			Expect(api.Created()[0].Message).To(ContainSubstring("Temperature 35.0°C is above the maximum of 30.0°C"))
			Expect(api.Created()[0].UserID).To(Equal(int64(7)))
			Expect(notified).To(HaveLen(1))

			now = now.Add(30 * time.Minute)
			n, err := m.Check(context.Background())
			Expect(err).NotTo(HaveOccurred())
			Expect(n).NotTo(BeNil())
			Expect(api.Created()).To(HaveLen(2))
		})

		It("should stay quiet when readings are in range", func() {
			api.snapshot = irrigation.Snapshot{}.With(irrigation.Temperature, 25)
			m, err := alerts.NewMonitor(cfg)
			Expect(err).NotTo(HaveOccurred())

			n, err := m.Check(context.Background())
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(BeNil())
			Expect(api.Created()).To(BeEmpty())
		})

		It("should report a missing mapping", func() {
			cfg.CropID = 99
			m, err := alerts.NewMonitor(cfg)
			Expect(err).NotTo(HaveOccurred())

			_, err = m.Check(context.Background())
			Expect(err).To(MatchError(alerts.ErrNoMapping))
		})

		It("should retry on the next tick when storing fails", func() {
			api.createErr = errors.New("backend down")
			m, err := alerts.NewMonitor(cfg)
			Expect(err).NotTo(HaveOccurred())

			_, err = m.Check(context.Background())
			Expect(err).To(MatchError(ContainSubstring("backend down")))

			api.createErr = nil
			n, err := m.Check(context.Background())
			Expect(err).NotTo(HaveOccurred())
			Expect(n).NotTo(BeNil())
		})

		It("should publish an event for every notification", func() {
			pub := mock.NewMockClient()
			cfg.Publisher = pub
			m, err := alerts.NewMonitor(cfg)
			Expect(err).NotTo(HaveOccurred())

			_, err = m.Check(context.Background())
			Expect(err).NotTo(HaveOccurred())

			Expect(pub.Pushed()).To(HaveLen(1))
			var ev alerts.Event
			Expect(json.Unmarshal(pub.Pushed()[0], &ev)).To(Succeed())
			Expect(ev.CropID).To(Equal(int64(3)))
			Expect(ev.CropName).To(Equal("Tomato"))
			Expect(ev.Breaches).To(HaveLen(1))
			Expect(ev.Breaches[0].Sensor).To(Equal(irrigation.Temperature))
		})

		It("should publish through an unconfirmed publish function", func() {
			pub := mock.NewMockClient()
			cfg.Publisher = alerts.PublishFunc(pub.UnsafePush)
			m, err := alerts.NewMonitor(cfg)
			Expect(err).NotTo(HaveOccurred())

			_, err = m.Check(context.Background())
			Expect(err).NotTo(HaveOccurred())

			Expect(pub.Pushed()).To(BeEmpty())
			Expect(pub.UnsafePushed()).To(HaveLen(1))
			var ev alerts.Event
			Expect(json.Unmarshal(pub.UnsafePushed()[0], &ev)).To(Succeed())
			Expect(ev.CropName).To(Equal("Tomato"))
		})

		It("should still notify when publishing fails", func() {
			pub := mock.NewMockClient()
			pub.PushError = errors.New("broker down")
			cfg.Publisher = pub
			m, err := alerts.NewMonitor(cfg)
			Expect(err).NotTo(HaveOccurred())

			n, err := m.Check(context.Background())
			Expect(err).NotTo(HaveOccurred())
			Expect(n).NotTo(BeNil())
			Expect(notified).To(HaveLen(1))
		})
	})

	Describe("Run", func() {
		It("should check on every tick and stop with the context", func() {
			var mu sync.Mutex
			count := 0
			cfg.Deduper = alerts.NewDeduper(time.Hour)
			cfg.Policy = poll.Every(10 * time.Millisecond)
			cfg.OnNotify = func(irrigation.Notification) {
				mu.Lock()
				count++
				mu.Unlock()
			}
			m, err := alerts.NewMonitor(cfg)
			Expect(err).NotTo(HaveOccurred())

			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan error, 1)
			go func() { done <- m.Run(ctx) }()

			Eventually(api.Created).Should(HaveLen(1))
			Consistently(api.Created, 100*time.Millisecond).Should(HaveLen(1))

			cancel()
			Eventually(done).Should(Receive(BeNil()))
			mu.Lock()
			Expect(count).To(Equal(1))
			mu.Unlock()
		})
	})
})
