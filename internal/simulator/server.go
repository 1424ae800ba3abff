// Package simulator is an in-memory stand-in for the irrigation backend. It
// serves the REST contract under /api and pushes synthetic sensor frames over
// a WebSocket at /ws, so the dashboard can be developed and tested without
// the real service.
package simulator

import (
	"bufio"
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

	"procodus.dev/irrigation-dashboard/pkg/generator"
	"procodus.dev/irrigation-dashboard/pkg/irrigation"
	"procodus.dev/irrigation-dashboard/pkg/metrics"
)

// DefaultInterval is how often the simulated field is sampled.
const DefaultInterval = 2 * time.Second

// ServerConfig holds the configuration for the simulator.
type ServerConfig struct {
	Logger *slog.Logger

	// HTTPPort is the listen port used by Run.
	HTTPPort int
	// Interval is the time between generated readings.
	Interval time.Duration
	// Backfill seeds a month of hourly history on start.
	Backfill bool
	// DemoUser, when set, is registered on start so the dashboard can log in.
	DemoUser *generator.Profile
	// ExtraCrops adds that many invented crops after the built-in catalogue.
	ExtraCrops int
	// Metrics is the optional Prometheus metrics collector.
	Metrics *metrics.SimulatorMetrics
}

// Server serves the simulated backend.
type Server struct {
	logger     *slog.Logger
	config     *ServerConfig
	state      *State
	hub        *hub
	metrics    *metrics.SimulatorMetrics
	handler    http.Handler
	httpServer *http.Server
}

// NewServer creates a simulator with a fresh State.
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("server config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.Interval < 0 {
		return nil, errors.New("interval must be positive")
	}
	if cfg.Interval == 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.ExtraCrops < 0 {
		return nil, errors.New("extra crops cannot be negative")
	}

	s := &Server{
		logger:  cfg.Logger,
		config:  cfg,
		state:   NewState(),
		metrics: cfg.Metrics,
	}
	s.hub = newHub(s.logger, s.metrics)

	for range cfg.ExtraCrops {
		if _, err := s.state.AddCrop(generator.RandomCrop()); err != nil {
			return nil, fmt.Errorf("failed to add generated crop: %w", err)
		}
	}
	if cfg.Backfill {
		s.state.Backfill(time.Now())
	}
	if p := cfg.DemoUser; p != nil {
		if _, err := s.state.Register(p.Name, p.Email, p.Username, p.Password); err != nil {
			return nil, fmt.Errorf("failed to register demo user: %w", err)
		}
		s.logger.Info("registered demo user", "username", p.Username)
	}

	s.handler = s.instrument(s.setupRoutes())
	return s, nil
}

// State exposes the simulated data, mainly for tests.
func (s *Server) State() *State { return s.state }

// Handler returns the HTTP handler serving /api, /ws and /health.
func (s *Server) Handler() http.Handler { return s.handler }

// Tick samples the field once and pushes the frames to subscribed sockets.
func (s *Server) Tick(now time.Time) irrigation.Snapshot {
	snap := s.state.Tick(now)
	if s.metrics != nil {
		for _, t := range irrigation.SensorTypes {
			if _, ok := snap.Value(t); ok {
				s.metrics.ReadingsGenerated.WithLabelValues(string(t)).Inc()
			}
		}
	}
	s.hub.broadcast(generator.Split(snap))
	return snap
}

// Generate ticks every Interval until ctx is done.
func (s *Server) Generate(ctx context.Context) {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.Tick(time.Now())
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.Tick(now)
		}
	}
}

// Run serves HTTP and generates readings until a signal or ctx cancellation.
func (s *Server) Run(ctx context.Context) error {
	if s.config.HTTPPort <= 0 {
		return errors.New("HTTP port must be positive")
	}
	s.logger.Info("starting backend simulator")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigChan)

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.HTTPPort),
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	httpErr := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErr <- fmt.Errorf("HTTP server error: %w", err)
		}
		close(httpErr)
	}()

	go s.Generate(ctx)

	s.logger.Info("backend simulator started",
		"address", s.httpServer.Addr,
		"interval", s.config.Interval,
	)

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

// Shutdown stops the HTTP server and disconnects every socket.
func (s *Server) Shutdown() error {
	s.logger.Info("shutting down backend simulator")
	s.hub.closeAll()

	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("failed to shutdown HTTP server", "error", err)
		return fmt.Errorf("HTTP server shutdown error: %w", err)
	}
	s.logger.Info("backend simulator stopped")
	return nil
}

func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ws", s.handleSocket)
	if s.metrics != nil {
		mux.Handle("GET /metrics", metrics.Handler())
	}

	mux.HandleFunc("POST /api/auth/login", s.handleLogin)
	mux.HandleFunc("POST /api/auth/register", s.handleRegister)
	mux.HandleFunc("POST /api/auth/forgot-password", s.handleForgotPassword)
	mux.HandleFunc("POST /api/auth/verify-otp", s.handleVerifyOTP)
	mux.HandleFunc("POST /api/auth/reset-password", s.handleResetPassword)

	mux.HandleFunc("GET /api/crops/all", s.handleCrops)
	mux.HandleFunc("GET /api/crops/{id}", s.handleCrop)
	mux.HandleFunc("POST /api/crops/add", s.handleAddCrop)

	mux.HandleFunc("GET /api/usercrops/user/{userId}", s.authenticated(s.handleUserCrops))
	mux.HandleFunc("POST /api/usercrops/select", s.authenticated(s.handleSelect))
	mux.HandleFunc("DELETE /api/usercrops/deselect", s.authenticated(s.handleDeselect))
	mux.HandleFunc("PUT /api/usercrops/update/{mappingId}", s.authenticated(s.handleUpdateMapping))

	mux.HandleFunc("GET /api/sensor/latest", s.handleLatest)
	mux.HandleFunc("GET /api/sensor/{type}", s.handleSeries)

	mux.HandleFunc("POST /api/irrigation/manual-control", s.authenticated(s.handleManualControl))
	mux.HandleFunc("POST /api/irrigation/analyze/{cropId}", s.authenticated(s.handleAnalyze))

	mux.HandleFunc("GET /api/notifications", s.authenticated(s.handleNotifications))
	mux.HandleFunc("POST /api/notifications", s.authenticated(s.handleCreateNotification))
	mux.HandleFunc("PATCH /api/notifications/{id}/read", s.authenticated(s.handleMarkRead))

	mux.HandleFunc("GET /api/user/{username}", s.authenticated(s.handleUser))
	mux.HandleFunc("PUT /api/user/update", s.authenticated(s.handleUpdateUser))

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

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// Hijack lets the WebSocket upgrader take over the connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// instrument logs and counts every request by its route pattern.
func (s *Server) instrument(next *http.ServeMux) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		s.logger.Debug("request served", "method", r.Method, "path", r.URL.Path, "status", rec.status)
		if s.metrics != nil {
			s.metrics.RequestsTotal.WithLabelValues(route, fmt.Sprint(rec.status)).Inc()
		}
	})
}
