// Package dashboard serves the irrigation web dashboard: server-rendered pages
// over the backend API, per-browser sessions, and a server-sent event stream
// carrying live sensor values and threshold alerts.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"procodus.dev/irrigation-dashboard/internal/alerts"
	"procodus.dev/irrigation-dashboard/internal/api"
	"procodus.dev/irrigation-dashboard/internal/feed"
	"procodus.dev/irrigation-dashboard/internal/poll"
	"procodus.dev/irrigation-dashboard/internal/session"
	"procodus.dev/irrigation-dashboard/pkg/metrics"
)

// Server represents the dashboard HTTP server.
type Server struct {
	logger     *slog.Logger
	config     *ServerConfig
	api        *api.Client
	sessions   *session.Manager
	deduper    *alerts.Deduper
	metrics    *metrics.DashboardMetrics
	handler    http.Handler
	httpServer *http.Server
}

// ServerConfig holds the configuration for the Server.
type ServerConfig struct {
	Logger *slog.Logger

	// HTTP server configuration
	HTTPPort int

	// API is the anonymous backend client; requests add the session token.
	API *api.Client

	// Sessions stores per-browser state.
	Sessions *session.Manager

	// FeedURL is the sensor WebSocket endpoint.
	FeedURL string
	// FeedPolicy is the socket reconnect cadence. Zero means poll.FeedInterval.
	FeedPolicy poll.Policy
	// HandshakeDelay is passed to every feed. Zero means feed.DefaultHandshakeDelay.
	HandshakeDelay time.Duration
	// FeedDialer overrides the WebSocket dialer.
	FeedDialer feed.Dialer

	// AlertPolicy is the threshold check cadence. Zero means poll.AlertInterval.
	AlertPolicy poll.Policy
	// DedupeWindow bounds notifications per user. Zero means alerts.DefaultDedupeWindow.
	DedupeWindow time.Duration
	// Publisher receives every alert event; optional.
	Publisher alerts.Publisher

	// LiveGraphPolicy refreshes day graphs; HistoryGraphPolicy the others.
	LiveGraphPolicy    poll.Policy
	HistoryGraphPolicy poll.Policy
	// NotificationsPolicy refreshes the notification list. Zero means
	// poll.NotificationsInterval.
	NotificationsPolicy poll.Policy

	// Metrics collectors are optional. ExposeMetrics serves /metrics.
	Metrics       *metrics.DashboardMetrics
	FeedMetrics   *metrics.FeedMetrics
	AlertMetrics  *metrics.AlertMetrics
	ExposeMetrics bool
}

// NewServer creates a new dashboard Server instance.
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("server config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.HTTPPort <= 0 {
		return nil, errors.New("HTTP port must be positive")
	}

	if cfg.API == nil {
		return nil, errors.New("API client cannot be nil")
	}

	if cfg.Sessions == nil {
		return nil, errors.New("session manager cannot be nil")
	}

	if cfg.FeedURL == "" {
		return nil, errors.New("feed URL cannot be empty")
	}

	if cfg.FeedPolicy.Interval == 0 {
		cfg.FeedPolicy.Interval = poll.FeedInterval
	}
	if cfg.AlertPolicy.Interval == 0 {
		cfg.AlertPolicy.Interval = poll.AlertInterval
	}
	if cfg.LiveGraphPolicy.Interval == 0 {
		cfg.LiveGraphPolicy.Interval = poll.LiveGraphInterval
	}
	if cfg.HistoryGraphPolicy.Interval == 0 {
		cfg.HistoryGraphPolicy.Interval = poll.HistoryGraphInterval
	}
	if cfg.NotificationsPolicy.Interval == 0 {
		cfg.NotificationsPolicy.Interval = poll.NotificationsInterval
	}
	for _, p := range []poll.Policy{cfg.FeedPolicy, cfg.AlertPolicy, cfg.LiveGraphPolicy, cfg.HistoryGraphPolicy, cfg.NotificationsPolicy} {
		if err := p.Validate(); err != nil {
			return nil, err
		}
	}

	window := cfg.DedupeWindow
	if window <= 0 {
		window = alerts.DefaultDedupeWindow
	}

	s := &Server{
		logger:   cfg.Logger,
		config:   cfg,
		api:      cfg.API,
		sessions: cfg.Sessions,
		deduper:  alerts.NewDeduper(window),
		metrics:  cfg.Metrics,
	}
	s.handler = s.instrument(s.setupRoutes())
	return s, nil
}

// Handler returns the routed and instrumented HTTP handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Run starts the dashboard server and blocks until shutdown.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting dashboard server")

	// Create context with cancellation
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Set up signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigChan)

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.HTTPPort),
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// No WriteTimeout: /live/stream responses stay open.
		IdleTimeout: 120 * time.Second,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	s.logger.Info("starting HTTP server",
		"address", s.httpServer.Addr,
		"backend", s.api.BaseURL(),
		"feed", s.config.FeedURL,
	)

	httpErr := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErr <- fmt.Errorf("HTTP server error: %w", err)
		}
		close(httpErr)
	}()

	s.logger.Info("dashboard server started successfully")

	// Wait for shutdown signal or HTTP error
	select {
	case sig := <-sigChan:
		s.logger.Info("received shutdown signal", "signal", sig.String())
		cancel()
	case <-ctx.Done():
		s.logger.Info("context canceled")
	case err := <-httpErr:
		if err != nil {
			s.logger.Error("HTTP server error", "error", err)
			return err
		}
	}

	return s.Shutdown()
}

// Shutdown gracefully shuts down the server and closes the session store.
func (s *Server) Shutdown() error {
	s.logger.Info("shutting down dashboard server")

	var shutdownErr error

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Error("failed to shutdown HTTP server", "error", err)
			shutdownErr = fmt.Errorf("HTTP server shutdown error: %w", err)
		}
		s.logger.Info("HTTP server stopped")
	}

	if err := s.sessions.Close(); err != nil {
		s.logger.Error("failed to close session store", "error", err)
		shutdownErr = errors.Join(shutdownErr, fmt.Errorf("session store close error: %w", err))
	}

	if shutdownErr != nil {
		s.logger.Error("dashboard server shutdown completed with errors", "error", shutdownErr)
		return shutdownErr
	}

	s.logger.Info("dashboard server shutdown completed successfully")
	return nil
}

// setupRoutes configures the HTTP routes.
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("GET /health", s.handleHealth)
	if s.config.ExposeMetrics {
		mux.Handle("GET /metrics", metrics.Handler())
	}

	// Authentication
	mux.HandleFunc("GET /login", s.public(s.handleLoginPage))
	mux.HandleFunc("POST /login", s.public(s.handleLogin))
	mux.HandleFunc("GET /register", s.public(s.handleRegisterPage))
	mux.HandleFunc("POST /register", s.public(s.handleRegister))
	mux.HandleFunc("GET /forgot-password", s.public(s.handleForgotPage))
	mux.HandleFunc("POST /forgot-password", s.public(s.handleForgot))
	mux.HandleFunc("GET /verify-otp", s.public(s.handleVerifyPage))
	mux.HandleFunc("POST /verify-otp", s.public(s.handleVerify))
	mux.HandleFunc("GET /reset-password", s.public(s.handleResetPage))
	mux.HandleFunc("POST /reset-password", s.public(s.handleReset))
	mux.HandleFunc("POST /logout", s.private(s.handleLogout))

	// Crops
	mux.HandleFunc("GET /home", s.private(s.handleHome))
	mux.HandleFunc("GET /crops", s.private(s.handleCrops))
	mux.HandleFunc("GET /crops/add", s.private(s.handleAddCropPage))
	mux.HandleFunc("POST /crops/add", s.private(s.handleAddCrop))
	mux.HandleFunc("GET /crops/{id}", s.private(s.handleCropDetails))
	mux.HandleFunc("POST /crops/{id}/select", s.private(s.handleSelectCrop))
	mux.HandleFunc("POST /crops/deselect", s.private(s.handleDeselectCrop))

	// Control panel
	mux.HandleFunc("GET /control-panel/{cropId}", s.private(s.handleControlPanel))
	mux.HandleFunc("POST /control-panel/{cropId}/thresholds", s.private(s.handleThresholds))
	mux.HandleFunc("POST /control-panel/{cropId}/irrigation-time", s.private(s.handleIrrigationTime))
	mux.HandleFunc("POST /control-panel/{cropId}/manual", s.private(s.handleManualControl))
	mux.HandleFunc("POST /control-panel/{cropId}/analyze", s.private(s.handleAnalyze))

	// Graphs
	mux.HandleFunc("GET /graph/{sensorType}", s.private(s.handleGraph))
	mux.HandleFunc("GET /multi-sensor-graph", s.private(s.handleMultiSensorGraph))

	// Notifications and profile
	mux.HandleFunc("GET /notifications", s.private(s.handleNotifications))
	mux.HandleFunc("POST /notifications/{id}/read", s.private(s.handleMarkRead))
	mux.HandleFunc("GET /profile", s.private(s.handleProfile))
	mux.HandleFunc("POST /profile", s.private(s.handleUpdateProfile))

	// Live data
	mux.HandleFunc("GET /live/stream", s.private(s.handleLiveStream))

	// Index page (catch-all, must be last)
	mux.HandleFunc("GET /{$}", s.public(s.handleIndex))

	return mux
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush keeps server-sent events streaming through the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// instrument records request counts, latency and in-flight requests.
func (s *Server) instrument(next *http.ServeMux) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.metrics == nil {
			next.ServeHTTP(w, r)
			return
		}

		s.metrics.HTTPRequestsInFlight.Inc()
		defer s.metrics.HTTPRequestsInFlight.Dec()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		timer := prometheus.NewTimer(prometheus.ObserverFunc(func(v float64) {
			route := r.Pattern
			if route == "" {
				route = "unmatched"
			}
			s.metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(v)
			s.metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, fmt.Sprint(rec.status)).Inc()
		}))
		defer timer.ObserveDuration()

		next.ServeHTTP(rec, r)
	})
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
