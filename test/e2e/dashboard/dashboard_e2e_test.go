package dashboard

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"procodus.dev/irrigation-dashboard/internal/alerts"
	"procodus.dev/irrigation-dashboard/internal/api"
	"procodus.dev/irrigation-dashboard/internal/dashboard"
	"procodus.dev/irrigation-dashboard/internal/poll"
	"procodus.dev/irrigation-dashboard/internal/session"
	"procodus.dev/irrigation-dashboard/internal/simulator"
	"procodus.dev/irrigation-dashboard/pkg/generator"
	"procodus.dev/irrigation-dashboard/pkg/irrigation"
	"procodus.dev/irrigation-dashboard/pkg/mq"
)

var _ = Describe("Dashboard E2E", func() {
	var (
		ctx       context.Context
		sim       *simulator.Server
		backend   *httptest.Server
		client    *api.Client
		publisher *mq.Client
		queue     string
		browser   *http.Client
	)

	// newDashboard starts a dashboard instance backed by the shared postgres
	// session store.
	newDashboard := func() *httptest.Server {
		store, err := session.Open(ctx, &session.Config{Logger: testLogger, Driver: session.DriverPostgres, DSN: pgDSN})
		Expect(err).NotTo(HaveOccurred())
		sessions, err := session.NewManager(&session.ManagerConfig{Store: store, Logger: testLogger})
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(sessions.Close)

		server, err := dashboard.NewServer(&dashboard.ServerConfig{
			Logger:         testLogger,
			HTTPPort:       8080,
			API:            client,
			Sessions:       sessions,
			FeedURL:        "ws" + strings.TrimPrefix(backend.URL, "http") + "/ws",
			FeedPolicy:     poll.Every(100 * time.Millisecond),
			HandshakeDelay: 10 * time.Millisecond,
			AlertPolicy:    poll.Every(200 * time.Millisecond),
			Publisher:      publisher,
		})
		Expect(err).NotTo(HaveOccurred())

		srv := httptest.NewServer(server.Handler())
		DeferCleanup(srv.Close)
		return srv
	}

	read := func(resp *http.Response, err error) (*http.Response, string) {
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		return resp, string(body)
	}

	BeforeEach(func() {
		ctx = context.Background()

		var err error
		sim, err = simulator.NewServer(&simulator.ServerConfig{
			Logger:   testLogger,
			Interval: time.Hour,
			Backfill: true,
			DemoUser: &generator.Profile{Name: "Demo Farmer", Email: "demo@example.com", Username: "demo", Password: "secret"},
		})
		Expect(err).NotTo(HaveOccurred())
		sim.Tick(time.Now())
		backend = httptest.NewServer(sim.Handler())
		DeferCleanup(backend.Close)

		client, err = api.NewClient(&api.ClientConfig{Logger: testLogger, BaseURL: backend.URL + "/api", Timeout: 5 * time.Second})
		Expect(err).NotTo(HaveOccurred())

		queue = "alerts-e2e-" + time.Now().Format("150405.000000")
		publisher, err = mq.New(&mq.Config{Logger: testLogger, URL: rabbitmqURL, Queue: queue})
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() { _ = publisher.Close() })
		Eventually(publisher.Ready, 10*time.Second, 100*time.Millisecond).Should(BeTrue())

		jar, err := cookiejar.New(nil)
		Expect(err).NotTo(HaveOccurred())
		browser = &http.Client{Jar: jar, Timeout: 10 * time.Second}
	})

	It("should keep the login across dashboard instances", func() {
		first := newDashboard()
		resp, _ := read(browser.PostForm(first.URL+"/login", url.Values{"username": {"demo"}, "password": {"secret"}}))
		Expect(resp.Request.URL.Path).To(Equal("/home"))

		second := newDashboard()
		firstURL, err := url.Parse(first.URL)
		Expect(err).NotTo(HaveOccurred())
		secondURL, err := url.Parse(second.URL)
		Expect(err).NotTo(HaveOccurred())
		browser.Jar.SetCookies(secondURL, browser.Jar.Cookies(firstURL))

		resp, body := read(browser.Get(second.URL + "/home"))
		Expect(resp.Request.URL.Path).To(Equal("/home"))
		Expect(body).To(ContainSubstring("Welcome, demo"))
	})

	It("should raise, stream and publish a threshold alert", func() {
		dash := newDashboard()

		resp, _ := read(browser.PostForm(dash.URL+"/login", url.Values{"username": {"demo"}, "password": {"secret"}}))
		Expect(resp.Request.URL.Path).To(Equal("/home"))

		resp, body := read(browser.PostForm(dash.URL+"/crops/3/select", nil))
		Expect(resp.Request.URL.Path).To(Equal("/control-panel/3"))
		Expect(body).To(ContainSubstring(`data-state="mapping-loaded"`))

		// No simulated soil can satisfy this range.
		_, body = read(browser.PostForm(dash.URL+"/control-panel/3/thresholds", url.Values{
			"customMinTemperature": {"-50"}, "customMaxTemperature": {"100"},
			"customMinHumidity": {"0"}, "customMaxHumidity": {"100"},
			"customMinSoilMoisture": {"101"}, "customMaxSoilMoisture": {"102"},
		}))
		Expect(body).To(ContainSubstring("Thresholds saved."))

		consumerClient, err := mq.New(&mq.Config{Logger: testLogger, URL: rabbitmqURL, Queue: queue})
		Expect(err).NotTo(HaveOccurred())
		Eventually(consumerClient.Ready, 10*time.Second, 100*time.Millisecond).Should(BeTrue())

		var (
			mu        sync.Mutex
			published []alerts.Event
		)
		consumer, err := alerts.NewConsumer(&alerts.ConsumerConfig{
			Logger: testLogger,
			Client: consumerClient,
			Handle: func(_ context.Context, ev alerts.Event) error {
				mu.Lock()
				defer mu.Unlock()
				published = append(published, ev)
				return nil
			},
		})
		Expect(err).NotTo(HaveOccurred())
		runCtx, cancel := context.WithCancel(ctx)
		DeferCleanup(func() {
			cancel()
			_ = consumer.Stop()
		})
		Expect(consumer.Start(runCtx)).To(Succeed())

		streamCtx, stop := context.WithTimeout(ctx, 15*time.Second)
		DeferCleanup(stop)
		req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, dash.URL+"/live/stream?cropId=3", nil)
		Expect(err).NotTo(HaveOccurred())
		stream, err := (&http.Client{Jar: browser.Jar}).Do(req)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(stream.Body.Close)
		Expect(stream.StatusCode).To(Equal(http.StatusOK))

		reader := bufio.NewReader(stream.Body)
		var note irrigation.Notification
		for {
			line, err := reader.ReadString('\n')
			Expect(err).NotTo(HaveOccurred())
			if strings.TrimSpace(line) != "event: notification" {
				continue
			}
			data, err := reader.ReadString('\n')
			Expect(err).NotTo(HaveOccurred())
			Expect(json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(data), "data: ")), &note)).To(Succeed())
			break
		}
		Expect(note.Message).To(ContainSubstring("Tomato"))
		Expect(note.UserID).NotTo(BeZero())

		Eventually(func() []alerts.Event {
			mu.Lock()
			defer mu.Unlock()
			return append([]alerts.Event(nil), published...)
		}, 10*time.Second).Should(ContainElement(HaveField("CropName", "Tomato")))

		_, body = read(browser.Get(dash.URL + "/notifications"))
		Expect(body).To(ContainSubstring("Tomato"))
	})
})
