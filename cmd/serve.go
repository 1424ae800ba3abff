package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"procodus.dev/irrigation-dashboard/internal/alerts"
	"procodus.dev/irrigation-dashboard/internal/api"
	"procodus.dev/irrigation-dashboard/internal/dashboard"
	"procodus.dev/irrigation-dashboard/internal/feed"
	"procodus.dev/irrigation-dashboard/internal/poll"
	"procodus.dev/irrigation-dashboard/internal/session"
	"procodus.dev/irrigation-dashboard/pkg/logger"
	"procodus.dev/irrigation-dashboard/pkg/metrics"
	"procodus.dev/irrigation-dashboard/pkg/mq"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the dashboard web server",
	Long: `Run the dashboard web server that:
- Serves the login, crop, control panel, graph and notification pages
- Calls the irrigation backend REST API with the user's token
- Streams live sensor values from the backend WebSocket to the browser
- Raises threshold notifications and optionally publishes them to RabbitMQ`,
	PreRunE: bindFlags(serveFlags),
	RunE:    runServe,
}

// serveFlags maps viper keys to serve flags.
var serveFlags = map[string]string{
	"dashboard.http.port":     "http-port",
	"api.base_url":            "api-url",
	"api.timeout":             "api-timeout",
	"feed.url":                "feed-url",
	"feed.interval":           "feed-interval",
	"feed.jitter":             "feed-jitter",
	"feed.max_backoff":        "feed-max-backoff",
	"feed.handshake_delay":    "handshake-delay",
	"alerts.interval":         "alert-interval",
	"alerts.dedupe_window":    "dedupe-window",
	"alerts.rabbitmq.url":     "rabbitmq-url",
	"alerts.rabbitmq.queue":   "alert-queue",
	"alerts.rabbitmq.confirm": "alert-confirm",
	"notifications.interval":  "notifications-interval",
	"session.driver":          "session-driver",
	"session.dsn":             "session-dsn",
	"session.redis.addr":      "redis-addr",
	"session.redis.password":  "redis-password",
	"session.ttl":             "session-ttl",
	"session.cookie_secure":   "cookie-secure",
	"metrics.enabled":         "metrics",
}

func init() {
	rootCmd.AddCommand(serveCmd)

	// Dashboard-specific flags
	serveCmd.Flags().Int("http-port", 3000, "HTTP server port")
	serveCmd.Flags().String("api-url", "http://localhost:8080/api", "Backend REST API base URL")
	serveCmd.Flags().Duration("api-timeout", 10*time.Second, "Timeout for each backend API call")
	serveCmd.Flags().String("feed-url", "ws://localhost:8080/ws", "Backend sensor WebSocket URL")
	serveCmd.Flags().Duration("feed-interval", poll.FeedInterval, "Live feed reconnect interval")
	serveCmd.Flags().Duration("feed-jitter", 0, "Random delay added to each feed reconnect")
	serveCmd.Flags().Duration("feed-max-backoff", 0, "Upper bound for feed reconnect backoff")
	serveCmd.Flags().Duration("handshake-delay", feed.DefaultHandshakeDelay, "Delay before repeating the feed data request")
	serveCmd.Flags().Duration("alert-interval", poll.AlertInterval, "Threshold check interval")
	serveCmd.Flags().Duration("dedupe-window", alerts.DefaultDedupeWindow, "Minimum time between notifications per user")
	serveCmd.Flags().String("rabbitmq-url", "", "RabbitMQ URL for alert events (disabled when empty)")
	serveCmd.Flags().String("alert-queue", mq.DefaultQueue, "RabbitMQ queue for alert events")
	serveCmd.Flags().Bool("alert-confirm", true, "Wait for broker confirms when publishing alert events")
	serveCmd.Flags().Duration("notifications-interval", poll.NotificationsInterval, "Notifications page refresh interval")
	serveCmd.Flags().String("session-driver", session.DriverMemory, "Session store (memory, sqlite, postgres, redis)")
	serveCmd.Flags().String("session-dsn", "sessions.db", "Session database DSN for sqlite and postgres")
	serveCmd.Flags().String("redis-addr", "localhost:6379", "Redis address(es) for the redis session store")
	serveCmd.Flags().String("redis-password", "", "Redis password")
	serveCmd.Flags().Duration("session-ttl", 24*time.Hour, "Session lifetime in the redis store and the cookie")
	serveCmd.Flags().Bool("cookie-secure", false, "Mark the session cookie Secure")
	serveCmd.Flags().Bool("metrics", true, "Expose Prometheus metrics on /metrics")
}

func runServe(cmd *cobra.Command, _ []string) error {
	log := GetLogger()
	log.Info("starting dashboard service")
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var (
		dashMetrics  *metrics.DashboardMetrics
		feedMetrics  *metrics.FeedMetrics
		alertMetrics *metrics.AlertMetrics
		mqMetrics    *metrics.MQMetrics
	)
	if viper.GetBool("metrics.enabled") {
		dashMetrics = metrics.NewDashboardMetrics(metrics.Namespace)
		feedMetrics = metrics.NewFeedMetrics(metrics.Namespace)
		alertMetrics = metrics.NewAlertMetrics(metrics.Namespace)
		mqMetrics = metrics.NewMQMetrics(metrics.Namespace)
	}

	client, err := api.NewClient(&api.ClientConfig{
		Logger:  logger.Component(log, "api"),
		BaseURL: viper.GetString("api.base_url"),
		Timeout: viper.GetDuration("api.timeout"),
		Metrics: dashMetrics,
	})
	if err != nil {
		log.Error("failed to create API client", "error", err)
		return err
	}

	ttl := viper.GetDuration("session.ttl")
	store, err := session.Open(ctx, &session.Config{
		Logger:        logger.Component(log, "session"),
		Driver:        viper.GetString("session.driver"),
		DSN:           viper.GetString("session.dsn"),
		RedisAddr:     viper.GetString("session.redis.addr"),
		RedisPassword: viper.GetString("session.redis.password"),
		TTL:           ttl,
	})
	if err != nil {
		log.Error("failed to open session store", "error", err)
		return err
	}

	sessions, err := session.NewManager(&session.ManagerConfig{
		Store:        store,
		Logger:       logger.Component(log, "session"),
		CookieSecure: viper.GetBool("session.cookie_secure"),
		MaxAge:       ttl,
	})
	if err != nil {
		_ = store.Close()
		log.Error("failed to create session manager", "error", err)
		return err
	}

	var publisher alerts.Publisher
	if url := viper.GetString("alerts.rabbitmq.url"); url != "" {
		mqClient, err := mq.New(&mq.Config{
			Logger:  logger.Component(log, "mq"),
			URL:     url,
			Queue:   viper.GetString("alerts.rabbitmq.queue"),
			Durable: true,
			Metrics: mqMetrics,
		})
		if err != nil {
			_ = sessions.Close()
			log.Error("failed to create alert publisher", "error", err)
			return err
		}
		defer func() {
			if err := mqClient.Close(); err != nil {
				log.Warn("failed to close alert publisher", "error", err)
			}
		}()
		publisher = mqClient
		if !viper.GetBool("alerts.rabbitmq.confirm") {
			publisher = alerts.PublishFunc(mqClient.UnsafePush)
		}
	}

	config := &dashboard.ServerConfig{
		Logger:              logger.Component(log, "dashboard"),
		HTTPPort:            viper.GetInt("dashboard.http.port"),
		API:                 client,
		Sessions:            sessions,
		FeedURL:             viper.GetString("feed.url"),
		FeedPolicy:          policy("feed"),
		HandshakeDelay:      viper.GetDuration("feed.handshake_delay"),
		AlertPolicy:         poll.Every(viper.GetDuration("alerts.interval")),
		DedupeWindow:        viper.GetDuration("alerts.dedupe_window"),
		NotificationsPolicy: poll.Every(viper.GetDuration("notifications.interval")),
		Publisher:           publisher,
		Metrics:             dashMetrics,
		FeedMetrics:         feedMetrics,
		AlertMetrics:        alertMetrics,
		ExposeMetrics:       dashMetrics != nil,
	}

	// Create and run server
	server, err := dashboard.NewServer(config)
	if err != nil {
		_ = sessions.Close()
		log.Error("failed to create dashboard server", "error", err)
		return err
	}

	log.Info("dashboard server configuration",
		"http_port", config.HTTPPort,
		"api_url", client.BaseURL(),
		"feed_url", config.FeedURL,
		"session_driver", viper.GetString("session.driver"),
		"alert_publisher", publisher != nil,
	)

	if err := server.Run(ctx); err != nil {
		log.Error("dashboard server error", "error", err)
		return err
	}

	log.Info("dashboard server stopped")
	return nil
}
