package dashboard_test

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"procodus.dev/irrigation-dashboard/internal/api"
	"procodus.dev/irrigation-dashboard/internal/dashboard"
	"procodus.dev/irrigation-dashboard/internal/poll"
	"procodus.dev/irrigation-dashboard/internal/session"
	"procodus.dev/irrigation-dashboard/internal/simulator"
	"procodus.dev/irrigation-dashboard/pkg/generator"
	"procodus.dev/irrigation-dashboard/pkg/irrigation"
	"procodus.dev/irrigation-dashboard/pkg/logger"
)

var _ = Describe("Server", func() {
	var (
		sim      *simulator.Server
		backend  *httptest.Server
		client   *api.Client
		sessions *session.Manager
		feedURL  string
	)

	BeforeEach(func() {
		var err error
		sim, err = simulator.NewServer(&simulator.ServerConfig{
			Logger:   logger.Discard(),
			Interval: time.Hour,
			DemoUser: &generator.Profile{Name: "Demo Farmer", Email: "demo@example.com", Username: "demo", Password: "secret"},
		})
		Expect(err).NotTo(HaveOccurred())
		backend = httptest.NewServer(sim.Handler())
		DeferCleanup(backend.Close)
		feedURL = "ws" + strings.TrimPrefix(backend.URL, "http") + "/ws"

		client, err = api.NewClient(&api.ClientConfig{Logger: logger.Discard(), BaseURL: backend.URL + "/api"})
		Expect(err).NotTo(HaveOccurred())

		sessions, err = session.NewManager(&session.ManagerConfig{Store: session.NewMemoryStore(), Logger: logger.Discard()})
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("NewServer", func() {
		valid := func() *dashboard.ServerConfig {
			return &dashboard.ServerConfig{
				Logger:   logger.Discard(),
				HTTPPort: 8080,
				API:      client,
				Sessions: sessions,
				FeedURL:  feedURL,
			}
		}

		It("should create a server with defaults", func() {
			server, err := dashboard.NewServer(valid())
			Expect(err).NotTo(HaveOccurred())
			Expect(server).NotTo(BeNil())
			Expect(server.Handler()).NotTo(BeNil())
		})

		It("should return error when config is nil", func() {
			server, err := dashboard.NewServer(nil)
			Expect(err).To(MatchError("server config cannot be nil"))
			Expect(server).To(BeNil())
		})

		DescribeTable("should reject invalid configuration",
			func(mutate func(*dashboard.ServerConfig), msg string) {
				cfg := valid()
				mutate(cfg)
				_, err := dashboard.NewServer(cfg)
				Expect(err).To(MatchError(ContainSubstring(msg)))
			},
			Entry("nil logger", func(c *dashboard.ServerConfig) { c.Logger = nil }, "logger cannot be nil"),
			Entry("zero port", func(c *dashboard.ServerConfig) { c.HTTPPort = 0 }, "HTTP port must be positive"),
			Entry("negative port", func(c *dashboard.ServerConfig) { c.HTTPPort = -1 }, "HTTP port must be positive"),
			Entry("nil API", func(c *dashboard.ServerConfig) { c.API = nil }, "API client cannot be nil"),
			Entry("nil sessions", func(c *dashboard.ServerConfig) { c.Sessions = nil }, "session manager cannot be nil"),
			Entry("empty feed URL", func(c *dashboard.ServerConfig) { c.FeedURL = "" }, "feed URL cannot be empty"),
			Entry("negative alert interval", func(c *dashboard.ServerConfig) {
				c.AlertPolicy = poll.Policy{Interval: -time.Second}
			}, "interval"),
		)
	})

	Describe("HTTP", func() {
		var (
			dash    *httptest.Server
			browser *http.Client
		)

		BeforeEach(func() {
			server, err := dashboard.NewServer(&dashboard.ServerConfig{
				Logger:          logger.Discard(),
				HTTPPort:        8080,
				API:             client,
				Sessions:        sessions,
				FeedURL:         feedURL,
				FeedPolicy:      poll.Every(50 * time.Millisecond),
				HandshakeDelay:  10 * time.Millisecond,
				AlertPolicy:     poll.Every(time.Hour),
				LiveGraphPolicy: poll.Every(10 * time.Second),
			})
			Expect(err).NotTo(HaveOccurred())
			dash = httptest.NewServer(server.Handler())
			DeferCleanup(dash.Close)

			jar, err := cookiejar.New(nil)
			Expect(err).NotTo(HaveOccurred())
			browser = &http.Client{Jar: jar, Timeout: 5 * time.Second}
		})

		get := func(path string) (*http.Response, string) {
			resp, err := browser.Get(dash.URL + path)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			return resp, string(body)
		}

		post := func(path string, form url.Values) (*http.Response, string) {
			resp, err := browser.PostForm(dash.URL+path, form)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			return resp, string(body)
		}

		login := func() {
			resp, body := post("/login", url.Values{"username": {"demo"}, "password": {"secret"}})
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Request.URL.Path).To(Equal("/home"))
			Expect(body).To(ContainSubstring("Welcome back, demo!"))
		}

		currentSession := func() *session.Session {
			u, err := url.Parse(dash.URL)
			Expect(err).NotTo(HaveOccurred())
			for _, c := range browser.Jar.Cookies(u) {
				if c.Name == session.CookieName {
					return sessions.Session(c.Value)
				}
			}
			Fail("no session cookie")
			return nil
		}

		It("should answer health checks", func() {
			resp, body := get("/health")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(body).To(Equal("OK"))
		})

		It("should send anonymous visitors to the login page", func() {
			resp, body := get("/crops")
			Expect(resp.Request.URL.Path).To(Equal("/login"))
			Expect(body).To(ContainSubstring("Please log in to continue."))
		})

		It("should reject an anonymous live stream", func() {
			resp, _ := get("/live/stream")
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
		})

		It("should show the backend error for a wrong password", func() {
			resp, body := post("/login", url.Values{"username": {"demo"}, "password": {"wrong"}})
			Expect(resp.Request.URL.Path).To(Equal("/login"))
			Expect(body).To(ContainSubstring(`class="toast toast-error"`))
		})

		It("should log in and out", func() {
			login()

			resp, _ := get("/")
			Expect(resp.Request.URL.Path).To(Equal("/home"))

			resp, body := post("/logout", nil)
			Expect(resp.Request.URL.Path).To(Equal("/login"))
			Expect(body).NotTo(ContainSubstring("Welcome back"))

			resp, _ = get("/home")
			Expect(resp.Request.URL.Path).To(Equal("/login"))
		})

		It("should move the control panel from no mapping to loaded on select", func() {
			login()

			_, body := get("/control-panel/3")
			Expect(body).To(ContainSubstring(`data-state="no-mapping"`))
			Expect(body).To(ContainSubstring("No crop mapping found"))

			resp, body := post("/crops/3/select", nil)
			Expect(resp.Request.URL.Path).To(Equal("/control-panel/3"))
			Expect(body).To(ContainSubstring(`data-state="mapping-loaded"`))
			Expect(body).To(ContainSubstring("Tomato selected."))
			Expect(body).NotTo(ContainSubstring("No crop mapping found"))
		})

		It("should keep only one selected crop", func() {
			login()
			post("/crops/1/select", nil)
			post("/crops/3/select", nil)

			mappings, err := client.WithToken(mustToken(currentSession())).UserCrops(context.Background(), 1)
			Expect(err).NotTo(HaveOccurred())
			Expect(mappings).To(HaveLen(1))
			Expect(mappings[0].Crop.ID).To(Equal(int64(3)))
		})

		It("should save thresholds and validate ranges", func() {
			login()
			post("/crops/3/select", nil)

			form := url.Values{
				"customMinTemperature": {"20"}, "customMaxTemperature": {"28"},
				"customMinHumidity": {"50"}, "customMaxHumidity": {"80"},
				"customMinSoilMoisture": {"35"}, "customMaxSoilMoisture": {"55"},
			}
			_, body := post("/control-panel/3/thresholds", form)
			Expect(body).To(ContainSubstring("Thresholds saved."))

			m, err := currentSession().SelectedMapping(context.Background())
			Expect(err).NotTo(HaveOccurred())
			Expect(m.CustomMinTemperature).To(Equal(20.0))
			Expect(m.CustomMaxSoilMoisture).To(Equal(55.0))

			form.Set("customMinHumidity", "90")
			_, body = post("/control-panel/3/thresholds", form)
			Expect(body).To(ContainSubstring("Minimum values cannot exceed maximum values."))
		})

		It("should toggle the irrigation time edit mode", func() {
			login()
			post("/crops/3/select", nil)

			_, body := get("/control-panel/3?edit=time")
			Expect(body).To(ContainSubstring(`id="irrigation-time"`))

			resp, body := post("/control-panel/3/irrigation-time", url.Values{"start": {"06:00"}, "end": {"07:30"}})
			Expect(resp.Request.URL.RawQuery).To(BeEmpty())
			Expect(body).To(ContainSubstring("Irrigation scheduled from 06:00 to 07:30."))

			resp, body = post("/control-panel/3/irrigation-time", url.Values{"start": {"6am"}, "end": {"07:30"}})
			Expect(resp.Request.URL.RawQuery).To(Equal("edit=time"))
			Expect(body).To(ContainSubstring("HH:MM"))
		})

		It("should drive the valve through manual control", func() {
			login()
			post("/crops/3/select", nil)

			resp, body := post("/control-panel/3/manual", url.Values{"action": {"open"}})
			Expect(resp.Request.URL.RawQuery).To(Equal("manual=open"))
			Expect(body).To(ContainSubstring("Irrigation valve opened"))
			Expect(sim.State().Valve()).To(BeTrue())
		})

		It("should expire the session when the backend rejects the token", func() {
			login()
			sess := currentSession()
			id, err := sess.Identity(context.Background())
			Expect(err).NotTo(HaveOccurred())
			id.Token = "revoked"
			Expect(sess.SetIdentity(context.Background(), id)).To(Succeed())

			resp, body := get("/notifications")
			Expect(resp.Request.URL.Path).To(Equal("/login"))
			Expect(body).To(ContainSubstring("Your session has expired."))

			id, err = sess.Identity(context.Background())
			Expect(err).NotTo(HaveOccurred())
			Expect(id.Authenticated()).To(BeFalse())
		})

		It("should refresh graphs on the live cadence", func() {
			sim.State().Backfill(time.Now())
			login()

			resp, body := get("/graph/soilMoisture?window=day")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Refresh")).To(Equal("10"))
			Expect(body).To(ContainSubstring("<svg"))

			resp, _ = get("/multi-sensor-graph?window=week")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Refresh")).To(Equal("60"))
		})

		It("should fall back to the day window for an unknown range", func() {
			login()

			resp, body := get("/graph/temperature?window=year")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(body).To(ContainSubstring("Unknown time range"))
		})

		// noFollow posts without following the redirect so Location is visible.
		noFollow := func(path string, form url.Values) *http.Response {
			c := *browser
			c.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
			resp, err := c.PostForm(dash.URL+path, form)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.Body.Close()).To(Succeed())
			return resp
		}

		It("should register a new account", func() {
			resp, body := post("/register", url.Values{
				"name": {"Ada Grower"}, "email": {"ada@example.com"}, "username": {"ada"}, "password": {"pw"},
			})
			Expect(resp.Request.URL.Path).To(Equal("/login"))
			Expect(body).To(ContainSubstring(`class="toast toast-success"`))

			resp, body = post("/register", url.Values{
				"name": {"Again"}, "email": {"ada@example.com"}, "username": {"ada"}, "password": {"pw"},
			})
			Expect(resp.Request.URL.Path).To(Equal("/register"))
			Expect(body).To(ContainSubstring(`class="toast toast-error"`))
			Expect(body).To(ContainSubstring("username or email already registered"))
		})

		Describe("password reset", func() {
			It("should walk forgot, verify and reset", func() {
				resp, body := post("/forgot-password", url.Values{"email": {"demo@example.com"}})
				Expect(resp.Request.URL.Path).To(Equal("/verify-otp"))
				Expect(body).To(ContainSubstring(`class="toast toast-info"`))
				code, ok := sim.State().PendingOTP("demo@example.com")
				Expect(ok).To(BeTrue())

				verified := noFollow("/verify-otp", url.Values{"email": {"demo@example.com"}, "otp": {code}})
				Expect(verified.StatusCode).To(Equal(http.StatusSeeOther))
				Expect(verified.Header.Get("Location")).To(Equal("/reset-password"))

				pending, err := currentSession().PendingReset(context.Background())
				Expect(err).NotTo(HaveOccurred())
				Expect(pending.Email).To(Equal("demo@example.com"))
				Expect(pending.Token).NotTo(BeEmpty())

				_, body = get("/reset-password")
				Expect(body).To(ContainSubstring("demo@example.com"))
				Expect(body).NotTo(ContainSubstring(pending.Token))

				resp, body = post("/reset-password", url.Values{"newPassword": {"fresh"}})
				Expect(resp.Request.URL.Path).To(Equal("/login"))
				Expect(body).To(ContainSubstring(`class="toast toast-success"`))

				pending, err = currentSession().PendingReset(context.Background())
				Expect(err).NotTo(HaveOccurred())
				Expect(pending.Token).To(BeEmpty())

				resp, _ = post("/login", url.Values{"username": {"demo"}, "password": {"fresh"}})
				Expect(resp.Request.URL.Path).To(Equal("/home"))
			})

			It("should warn when the email is missing and report unknown emails", func() {
				resp, body := post("/forgot-password", url.Values{"email": {""}})
				Expect(resp.Request.URL.Path).To(Equal("/forgot-password"))
				Expect(body).To(ContainSubstring(`class="toast toast-warning"`))

				_, body = post("/forgot-password", url.Values{"email": {"nobody@example.com"}})
				Expect(body).To(ContainSubstring(`class="toast toast-error"`))
				Expect(body).To(ContainSubstring("no account uses that email"))
			})

			It("should reject a wrong code", func() {
				post("/forgot-password", url.Values{"email": {"demo@example.com"}})

				resp, body := post("/verify-otp", url.Values{"email": {"demo@example.com"}, "otp": {"000000x"}})
				Expect(resp.Request.URL.Path).To(Equal("/verify-otp"))
				Expect(resp.Request.URL.Query().Get("email")).To(Equal("demo@example.com"))
				Expect(body).To(ContainSubstring("invalid or expired code"))
			})

			It("should send the reset page back to forgot without a verified code", func() {
				resp, body := get("/reset-password?token=guessed")
				Expect(resp.Request.URL.Path).To(Equal("/forgot-password"))
				Expect(body).To(ContainSubstring("Request a code before resetting your password."))

				resp, _ = post("/reset-password", url.Values{"token": {"guessed"}, "newPassword": {"x"}})
				Expect(resp.Request.URL.Path).To(Equal("/forgot-password"))
			})
		})

		Describe("crops", func() {
			cropForm := func(name string) url.Values {
				return url.Values{
					"name": {name}, "description": {"Leafy"},
					"minTemperature": {"10"}, "maxTemperature": {"25"},
					"minHumidity": {"40"}, "maxHumidity": {"70"},
					"minSoilMoisture": {"30"}, "maxSoilMoisture": {"60"},
				}
			}

			It("should add a crop to the catalogue", func() {
				login()
				before := len(sim.State().Crops())

				resp, body := post("/crops/add", cropForm("Kale"))
				Expect(resp.Request.URL.Path).To(Equal("/crops"))
				Expect(body).To(ContainSubstring("Kale was added."))
				Expect(body).To(ContainSubstring(`class="toast toast-success"`))
				Expect(sim.State().Crops()).To(HaveLen(before + 1))
			})

			It("should warn about a missing name", func() {
				login()

				resp, body := post("/crops/add", cropForm(""))
				Expect(resp.Request.URL.Path).To(Equal("/crops/add"))
				Expect(body).To(ContainSubstring(`class="toast toast-warning"`))
				Expect(body).To(ContainSubstring("crop name cannot be empty"))
			})

			DescribeTable("should reject values that are not finite numbers",
				func(value string) {
					login()
					form := cropForm("Kale")
					form.Set("maxTemperature", value)

					resp, body := post("/crops/add", form)
					Expect(resp.Request.URL.Path).To(Equal("/crops/add"))
					Expect(body).To(ContainSubstring("maxTemperature must be a number"))
				},
				Entry("text", "warm"),
				Entry("NaN", "NaN"),
				Entry("infinity", "Inf"),
				Entry("negative infinity", "-Inf"),
			)
		})

		It("should reject thresholds that are not finite", func() {
			login()
			post("/crops/3/select", nil)

			form := url.Values{
				"customMinTemperature": {"NaN"}, "customMaxTemperature": {"28"},
				"customMinHumidity": {"50"}, "customMaxHumidity": {"+Inf"},
				"customMinSoilMoisture": {"35"}, "customMaxSoilMoisture": {"55"},
			}
			_, body := post("/control-panel/3/thresholds", form)
			Expect(body).To(ContainSubstring("Thresholds must be numbers."))
			Expect(body).To(ContainSubstring(`class="toast toast-warning"`))
		})

		It("should show the analysis on the control panel", func() {
			login()
			post("/crops/3/select", nil)

			resp, body := post("/control-panel/3/analyze", nil)
			Expect(resp.Request.URL.Path).To(Equal("/control-panel/3"))
			Expect(body).To(ContainSubstring(`id="analysis"`))
			Expect(body).To(ContainSubstring("Tomato"))
		})

		Describe("notifications", func() {
			It("should list notifications and refresh on the notifications cadence", func() {
				sim.State().AddNotification(irrigation.Notification{UserID: 1, Message: "Soil is dry"}, time.Now())
				login()

				resp, body := get("/notifications")
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(resp.Header.Get("Refresh")).To(Equal("30"))
				Expect(body).To(ContainSubstring("Soil is dry"))
				Expect(body).To(ContainSubstring(`class="unread"`))
			})

			It("should mark a notification read", func() {
				n := sim.State().AddNotification(irrigation.Notification{UserID: 1, Message: "Soil is dry"}, time.Now())
				login()

				resp, body := post(fmt.Sprintf("/notifications/%d/read", n.ID), nil)
				Expect(resp.Request.URL.Path).To(Equal("/notifications"))
				Expect(body).NotTo(ContainSubstring(`class="unread"`))
				Expect(sim.State().Notifications(1)[0].Read).To(BeTrue())
			})

			It("should report an unknown notification", func() {
				login()

				resp, body := post("/notifications/999/read", nil)
				Expect(resp.Request.URL.Path).To(Equal("/notifications"))
				Expect(body).To(ContainSubstring(`class="toast toast-error"`))
				Expect(body).To(ContainSubstring("notification not found"))
			})
		})

		Describe("profile", func() {
			It("should show the profile and its edit form", func() {
				login()

				_, body := get("/profile")
				Expect(body).To(ContainSubstring("Demo Farmer"))
				Expect(body).To(ContainSubstring("demo@example.com"))
				Expect(body).NotTo(ContainSubstring(`action="/profile"`))

				_, body = get("/profile?edit=1")
				Expect(body).To(ContainSubstring(`action="/profile"`))
			})

			It("should warn about an invalid email", func() {
				login()

				resp, body := post("/profile", url.Values{"username": {"demo"}, "email": {"not-an-email"}})
				Expect(resp.Request.URL.Path).To(Equal("/profile"))
				Expect(resp.Request.URL.Query().Get("edit")).To(Equal("1"))
				Expect(body).To(ContainSubstring("Enter a username and a valid email."))
			})

			It("should write a new username back to the session", func() {
				login()

				resp, body := post("/profile", url.Values{"username": {"grower"}, "email": {"grower@example.com"}})
				Expect(resp.Request.URL.Path).To(Equal("/profile"))
				Expect(body).To(ContainSubstring("Profile updated."))
				Expect(body).To(ContainSubstring("grower@example.com"))

				id, err := currentSession().Identity(context.Background())
				Expect(err).NotTo(HaveOccurred())
				Expect(id.Username).To(Equal("grower"))
			})
		})

		Describe("live stream", func() {
			openStream := func(ctx context.Context) *bufio.Reader {
				req, err := http.NewRequestWithContext(ctx, http.MethodGet, dash.URL+"/live/stream?cropId=3", nil)
				Expect(err).NotTo(HaveOccurred())
				streamer := &http.Client{Jar: browser.Jar}
				resp, err := streamer.Do(req)
				Expect(err).NotTo(HaveOccurred())
				DeferCleanup(resp.Body.Close)
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(resp.Header.Get("Content-Type")).To(Equal("text/event-stream"))
				return bufio.NewReader(resp.Body)
			}

			waitFor := func(r *bufio.Reader, event string) string {
				for {
					line, err := r.ReadString('\n')
					Expect(err).NotTo(HaveOccurred())
					if strings.TrimSpace(line) == "event: "+event {
						data, err := r.ReadString('\n')
						Expect(err).NotTo(HaveOccurred())
						return strings.TrimPrefix(strings.TrimSpace(data), "data: ")
					}
				}
			}

			It("should push sensor snapshots", func() {
				login()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				DeferCleanup(cancel)

				done := make(chan struct{})
				DeferCleanup(func() { close(done) })
				go func() {
					ticker := time.NewTicker(20 * time.Millisecond)
					defer ticker.Stop()
					for {
						select {
						case <-done:
							return
						case <-ticker.C:
							sim.Tick(time.Now())
						}
					}
				}()

				stream := openStream(ctx)
				data := waitFor(stream, "snapshot")
				for !strings.Contains(data, "SoilMoisture") {
					data = waitFor(stream, "snapshot")
				}
				Expect(data).To(ContainSubstring(`"timestamp"`))
			})

			It("should tell the page when the session is cleared", func() {
				login()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				DeferCleanup(cancel)

				stream := openStream(ctx)
				post("/logout", nil)

				Expect(waitFor(stream, "logout")).To(Equal("{}"))
			})
		})
	})
})

func mustToken(sess *session.Session) string {
	id, err := sess.Identity(context.Background())
	Expect(err).NotTo(HaveOccurred())
	return id.Token
}
