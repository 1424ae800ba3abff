package simulator_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"procodus.dev/irrigation-dashboard/internal/api"
	"procodus.dev/irrigation-dashboard/internal/feed"
	"procodus.dev/irrigation-dashboard/internal/poll"
	"procodus.dev/irrigation-dashboard/internal/simulator"
	"procodus.dev/irrigation-dashboard/pkg/generator"
	"procodus.dev/irrigation-dashboard/pkg/irrigation"
	"procodus.dev/irrigation-dashboard/pkg/logger"
)

var _ = Describe("Server", func() {
	var (
		sim    *simulator.Server
		srv    *httptest.Server
		client *api.Client
		ctx    context.Context
		demo   *generator.Profile
	)

	BeforeEach(func() {
		ctx = context.Background()
		demo = &generator.Profile{Name: "Demo Farmer", Email: "demo@example.com", Username: "demo", Password: "secret"}

		var err error
		sim, err = simulator.NewServer(&simulator.ServerConfig{
			Logger:   logger.Discard(),
			Interval: time.Hour,
			DemoUser: demo,
		})
		Expect(err).NotTo(HaveOccurred())

		srv = httptest.NewServer(sim.Handler())
		DeferCleanup(srv.Close)

		client, err = api.NewClient(&api.ClientConfig{Logger: logger.Discard(), BaseURL: srv.URL + "/api"})
		Expect(err).NotTo(HaveOccurred())
	})

	login := func() (*api.Client, int64) {
		resp, err := client.Login(ctx, api.Credentials{Username: "demo", Password: "secret"})
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Token).NotTo(BeEmpty())
		return client.WithToken(resp.Token), resp.UserID
	}

	Describe("NewServer", func() {
		It("should require a config", func() {
			_, err := simulator.NewServer(nil)
			Expect(err).To(MatchError(ContainSubstring("server config cannot be nil")))
		})

		It("should require a logger", func() {
			_, err := simulator.NewServer(&simulator.ServerConfig{})
			Expect(err).To(MatchError(ContainSubstring("logger cannot be nil")))
		})

		It("should reject a negative interval", func() {
			_, err := simulator.NewServer(&simulator.ServerConfig{Logger: logger.Discard(), Interval: -time.Second})
			Expect(err).To(MatchError(ContainSubstring("interval must be positive")))
		})

		It("should reject a negative crop count", func() {
			_, err := simulator.NewServer(&simulator.ServerConfig{Logger: logger.Discard(), ExtraCrops: -1})
			Expect(err).To(MatchError(ContainSubstring("extra crops cannot be negative")))
		})

		It("should append generated crops after the catalogue", func() {
			s, err := simulator.NewServer(&simulator.ServerConfig{Logger: logger.Discard(), ExtraCrops: 3})
			Expect(err).NotTo(HaveOccurred())
			crops := s.State().Crops()
			Expect(crops).To(HaveLen(len(generator.Catalogue()) + 3))
			for _, c := range crops[len(generator.Catalogue()):] {
				Expect(c.ID).To(BeNumerically(">", 6))
				Expect(c.Name).NotTo(BeEmpty())
				Expect(c.MinSoilMoisture).To(BeNumerically("<", c.MaxSoilMoisture))
			}
		})

		It("should backfill a month of history", func() {
			s, err := simulator.NewServer(&simulator.ServerConfig{Logger: logger.Discard(), Backfill: true})
			Expect(err).NotTo(HaveOccurred())
			Expect(len(s.State().Series(irrigation.Temperature, "month", time.Now()))).To(BeNumerically(">", 24*29))
			Expect(len(s.State().Series(irrigation.Temperature, "day", time.Now()))).To(BeNumerically("<=", 24))
		})
	})

	It("should report health", func() {
		resp, err := http.Get(srv.URL + "/health")
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(string(body)).To(Equal("OK"))
	})

	Describe("auth", func() {
		It("should log the demo user in", func() {
			resp, err := client.Login(ctx, api.Credentials{Username: "demo", Password: "secret"})
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.Username).To(Equal("demo"))
			Expect(resp.UserID).To(Equal(int64(1)))
		})

		It("should reject a wrong password with the server message", func() {
			_, err := client.Login(ctx, api.Credentials{Username: "demo", Password: "nope"})
			Expect(api.IsUnauthorized(err)).To(BeTrue())
			Expect(api.UserMessage(err, api.GenericFailure)).To(Equal("invalid username or password"))
		})

		It("should register new accounts once", func() {
			reg := api.Registration{Name: "Ada", Email: "ada@example.com", Username: "ada", Password: "pw"}
			msg, err := client.Register(ctx, reg)
			Expect(err).NotTo(HaveOccurred())
			Expect(msg).To(Equal("User registered successfully"))

			_, err = client.Register(ctx, reg)
			var apiErr *api.Error
			Expect(err).To(BeAssignableToTypeOf(apiErr))
			Expect(api.UserMessage(err, "")).To(ContainSubstring("already registered"))
		})

		It("should reset a password through the one-time code", func() {
			_, err := client.ForgotPassword(ctx, demo.Email)
			Expect(err).NotTo(HaveOccurred())
			code, ok := sim.State().PendingOTP(demo.Email)
			Expect(ok).To(BeTrue())
			Expect(code).To(MatchRegexp(`^\d{6}$`))

			_, err = client.VerifyOTP(ctx, api.OTPVerification{Email: demo.Email, OTP: "wrong!"})
			Expect(err).To(HaveOccurred())

			token, err := client.VerifyOTP(ctx, api.OTPVerification{Email: demo.Email, OTP: code})
			Expect(err).NotTo(HaveOccurred())
			Expect(token).NotTo(BeEmpty())

			_, err = client.ResetPassword(ctx, api.PasswordReset{Email: demo.Email, Token: token, NewPassword: "fresh"})
			Expect(err).NotTo(HaveOccurred())

			_, err = client.Login(ctx, api.Credentials{Username: "demo", Password: "fresh"})
			Expect(err).NotTo(HaveOccurred())

			_, err = client.ResetPassword(ctx, api.PasswordReset{Token: token, NewPassword: "again"})
			Expect(err).To(HaveOccurred())
		})

		It("should require a bearer token for user data", func() {
			_, err := client.UserCrops(ctx, 1)
			Expect(api.IsUnauthorized(err)).To(BeTrue())

			_, err = client.WithToken("not-a-token").Notifications(ctx, 1)
			Expect(api.IsUnauthorized(err)).To(BeTrue())
		})

		It("should not expose another user's crops", func() {
			authed, _ := login()
			_, err := authed.UserCrops(ctx, 42)
			var apiErr *api.Error
			Expect(err).To(BeAssignableToTypeOf(apiErr))
			Expect(err.(*api.Error).Status).To(Equal(http.StatusForbidden))
		})
	})

	Describe("crops", func() {
		It("should list the catalogue and fetch by id", func() {
			crops, err := client.Crops(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(crops).To(HaveLen(len(generator.Catalogue())))

			tomato, err := client.Crop(ctx, 3)
			Expect(err).NotTo(HaveOccurred())
			Expect(tomato.Name).To(Equal("Tomato"))

			_, err = client.Crop(ctx, 999)
			Expect(api.IsNotFound(err)).To(BeTrue())
		})

		It("should add a crop with a new id", func() {
			crop := generator.RandomCrop()
			created, err := client.AddCrop(ctx, crop)
			Expect(err).NotTo(HaveOccurred())
			Expect(created.ID).To(BeNumerically(">", 6))
			Expect(created.Name).To(Equal(crop.Name))
		})

		It("should refuse inverted ranges", func() {
			_, err := client.AddCrop(ctx, irrigation.Crop{Name: "Odd", MinTemperature: 30, MaxTemperature: 10})
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("user crops", func() {
		It("should seed a selection with the crop's ranges", func() {
			authed, userID := login()
			Expect(authed.SelectCrop(ctx, userID, 3)).To(Succeed())

			mappings, err := authed.UserCrops(ctx, userID)
			Expect(err).NotTo(HaveOccurred())
			Expect(mappings).To(HaveLen(1))
			Expect(mappings[0].Crop.ID).To(Equal(int64(3)))
			Expect(mappings[0].CustomMinTemperature).To(Equal(18.0))
			Expect(mappings[0].CustomMaxTemperature).To(Equal(30.0))
		})

		It("should keep one mapping per crop", func() {
			authed, userID := login()
			Expect(authed.SelectCrop(ctx, userID, 3)).To(Succeed())
			Expect(authed.SelectCrop(ctx, userID, 3)).To(Succeed())

			mappings, err := authed.UserCrops(ctx, userID)
			Expect(err).NotTo(HaveOccurred())
			Expect(mappings).To(HaveLen(1))
		})

		It("should deselect", func() {
			authed, userID := login()
			Expect(authed.SelectCrop(ctx, userID, 1)).To(Succeed())
			Expect(authed.DeselectCrop(ctx, userID, 1)).To(Succeed())

			mappings, err := authed.UserCrops(ctx, userID)
			Expect(err).NotTo(HaveOccurred())
			Expect(mappings).To(BeEmpty())

			Expect(api.IsNotFound(authed.DeselectCrop(ctx, userID, 1))).To(BeTrue())
		})

		It("should update thresholds without touching the crop", func() {
			authed, userID := login()
			Expect(authed.SelectCrop(ctx, userID, 3)).To(Succeed())
			mappings, err := authed.UserCrops(ctx, userID)
			Expect(err).NotTo(HaveOccurred())

			u := mappings[0].Update()
			u.CustomMaxTemperature = 27
			u.CustomIrrigationStartTime = "06:00"
			u.CustomIrrigationEndTime = "07:30"
			updated, err := authed.UpdateUserCrop(ctx, mappings[0].ID, u)
			Expect(err).NotTo(HaveOccurred())
			Expect(updated.CustomMaxTemperature).To(Equal(27.0))
			Expect(updated.CustomIrrigationStartTime).To(Equal("06:00"))
			Expect(updated.Crop.ID).To(Equal(int64(3)))
		})
	})

	Describe("sensors", func() {
		It("should serve the latest reading after a tick", func() {
			sim.Tick(time.Now())
			snap, err := client.LatestReading(ctx)
			Expect(err).NotTo(HaveOccurred())
			for _, t := range irrigation.SensorTypes {
				_, ok := snap.Value(t)
				Expect(ok).To(BeTrue(), string(t))
			}
		})

		It("should filter history by window", func() {
			now := time.Now()
			sim.State().Record(irrigation.Snapshot{Timestamp: irrigation.At(now.Add(-3 * 24 * time.Hour))}.With(irrigation.Humidity, 40))
			sim.State().Record(irrigation.Snapshot{Timestamp: irrigation.At(now.Add(-2 * time.Hour))}.With(irrigation.Humidity, 55))

			day, err := client.SensorSeries(ctx, irrigation.Humidity, "day")
			Expect(err).NotTo(HaveOccurred())
			Expect(day).To(HaveLen(1))
			Expect(day[0].Value).To(Equal(55.0))
			Expect(day[0].SensorType).To(Equal(irrigation.Humidity))

			week, err := client.SensorSeries(ctx, irrigation.Humidity, "week")
			Expect(err).NotTo(HaveOccurred())
			Expect(week).To(HaveLen(2))
		})

		It("should reject unknown sensors", func() {
			_, err := client.SensorSeries(ctx, "Wind", "day")
			Expect(api.IsNotFound(err)).To(BeTrue())
		})
	})

	Describe("irrigation", func() {
		It("should open and close the valve", func() {
			authed, userID := login()
			msg, err := authed.ManualControl(ctx, true, userID, 3)
			Expect(err).NotTo(HaveOccurred())
			Expect(msg).To(ContainSubstring("opened"))
			Expect(sim.State().Valve()).To(BeTrue())

			_, err = authed.ManualControl(ctx, false, userID, 3)
			Expect(err).NotTo(HaveOccurred())
			Expect(sim.State().Valve()).To(BeFalse())
		})

		It("should analyze soil moisture against the crop", func() {
			authed, _ := login()
			sim.State().Record(irrigation.Snapshot{}.With(irrigation.SoilMoisture, 12))
			msg, err := authed.Analyze(ctx, 3)
			Expect(err).NotTo(HaveOccurred())
			Expect(msg).To(ContainSubstring("Irrigation recommended"))
			Expect(msg).To(ContainSubstring("Tomato"))
		})
	})

	Describe("notifications", func() {
		It("should store, list and mark notifications read", func() {
			authed, userID := login()
			created, err := authed.CreateNotification(ctx, irrigation.Notification{Message: "too hot", UserID: userID})
			Expect(err).NotTo(HaveOccurred())
			Expect(created.ID).NotTo(BeZero())
			Expect(created.CreatedAt.IsZero()).To(BeFalse())

			list, err := authed.Notifications(ctx, userID)
			Expect(err).NotTo(HaveOccurred())
			Expect(list).To(HaveLen(1))
			Expect(list[0].Read).To(BeFalse())

			Expect(authed.MarkNotificationRead(ctx, created.ID)).To(Succeed())
			list, err = authed.Notifications(ctx, userID)
			Expect(err).NotTo(HaveOccurred())
			Expect(list[0].Read).To(BeTrue())
		})
	})

	Describe("profile", func() {
		It("should rename the caller", func() {
			authed, _ := login()
			Expect(authed.UpdateUser(ctx, api.ProfileUpdate{Username: "farmer", Email: "farmer@example.com"})).To(Succeed())

			u, err := authed.User(ctx, "farmer")
			Expect(err).NotTo(HaveOccurred())
			Expect(u.Email).To(Equal("farmer@example.com"))

			_, err = authed.User(ctx, "demo")
			Expect(api.IsNotFound(err)).To(BeTrue())
		})
	})

	Describe("socket", func() {
		wsURL := func() string { return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" }

		It("should answer a data request with one frame per sensor", func() {
			sim.Tick(time.Now())
			conn, _, err := websocket.DefaultDialer.Dial(wsURL(), nil)
			Expect(err).NotTo(HaveOccurred())
			defer conn.Close()

			Expect(conn.WriteMessage(websocket.TextMessage, []byte("Request data"))).To(Succeed())

			seen := map[irrigation.SensorType]bool{}
			for range irrigation.SensorTypes {
				_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
				_, data, err := conn.ReadMessage()
				Expect(err).NotTo(HaveOccurred())
				var frame irrigation.Snapshot
				Expect(json.Unmarshal(data, &frame)).To(Succeed())
				for _, t := range irrigation.SensorTypes {
					if _, ok := frame.Value(t); ok {
						seen[t] = true
					}
				}
			}
			Expect(seen).To(HaveLen(3))
		})

		It("should push new readings to subscribed clients", func() {
			conn, _, err := websocket.DefaultDialer.Dial(wsURL(), nil)
			Expect(err).NotTo(HaveOccurred())
			defer conn.Close()
			Expect(conn.WriteMessage(websocket.TextMessage, []byte("Request data"))).To(Succeed())

			stop := make(chan struct{})
			defer close(stop)
			go func() {
				ticker := time.NewTicker(20 * time.Millisecond)
				defer ticker.Stop()
				for {
					select {
					case <-stop:
						return
					case <-ticker.C:
						sim.Tick(time.Now())
					}
				}
			}()

			_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
			_, data, err := conn.ReadMessage()
			Expect(err).NotTo(HaveOccurred())
			var frame irrigation.Snapshot
			Expect(json.Unmarshal(data, &frame)).To(Succeed())
			Expect(frame.Empty()).To(BeFalse())
		})

		It("should feed the live subscription", func() {
			sim.Tick(time.Now())
			latest := sim.State().Latest()

			f, err := feed.New(&feed.Config{
				Logger:         logger.Discard(),
				URL:            wsURL(),
				Policy:         poll.Every(time.Second),
				HandshakeDelay: 50 * time.Millisecond,
			})
			Expect(err).NotTo(HaveOccurred())

			fctx, cancel := context.WithCancel(ctx)
			done := make(chan error, 1)
			go func() { done <- f.Run(fctx) }()
			DeferCleanup(func() {
				cancel()
				Eventually(done).Should(Receive())
			})

			Eventually(func() *float64 { return f.Snapshot().SoilMoisture }).Should(Equal(latest.SoilMoisture))
		})
	})
})
