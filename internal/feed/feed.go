// Package feed keeps a live sensor snapshot fresh from the sensor WebSocket.
//
// Each cycle dials the socket, asks for data, and merges every frame into the
// last known snapshot field by field. At the next policy tick the connection
// is closed unconditionally and a new one is opened.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"procodus.dev/irrigation-dashboard/internal/poll"
	"procodus.dev/irrigation-dashboard/pkg/irrigation"
	"procodus.dev/irrigation-dashboard/pkg/metrics"
)

// RequestMessage asks the sensor gateway to push its current readings.
const RequestMessage = "Request data"

// DefaultHandshakeDelay is the pause before the second data request.
const DefaultHandshakeDelay = time.Second

// Config holds the configuration for a Feed.
type Config struct {
	Logger *slog.Logger

	// URL is the sensor WebSocket endpoint (ws:// or wss://).
	URL string

	// Policy drives the reconnect cycle. Zero means poll.FeedInterval.
	Policy poll.Policy

	// HandshakeDelay is how long after connecting the data request is repeated.
	HandshakeDelay time.Duration

	// Dialer overrides DefaultDialer.
	Dialer Dialer

	// Metrics is optional.
	Metrics *metrics.FeedMetrics

	// OnUpdate is called from the reader goroutine with the merged snapshot
	// after every accepted frame. It must not block for long.
	OnUpdate func(irrigation.Snapshot)
}

// Feed is one subscription to the sensor socket.
type Feed struct {
	logger   *slog.Logger
	url      string
	policy   poll.Policy
	delay    time.Duration
	dialer   Dialer
	metrics  *metrics.FeedMetrics
	onUpdate func(irrigation.Snapshot)

	mu       sync.RWMutex
	snapshot irrigation.Snapshot
	current  *cycle
	running  atomic.Bool
}

// New validates the config and creates a Feed. Nothing is dialed until Run.
func New(cfg *Config) (*Feed, error) {
	if cfg == nil {
		return nil, errors.New("feed config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.URL == "" {
		return nil, errors.New("feed URL cannot be empty")
	}
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid feed URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("invalid feed URL %q: scheme must be ws or wss", cfg.URL)
	}

	policy := cfg.Policy
	if policy.Interval == 0 {
		policy.Interval = poll.FeedInterval
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	delay := cfg.HandshakeDelay
	if delay == 0 {
		delay = DefaultHandshakeDelay
	}
	if delay < 0 {
		return nil, errors.New("handshake delay cannot be negative")
	}

	dialer := cfg.Dialer
	if dialer == nil {
		dialer = DefaultDialer
	}

	return &Feed{
		logger:   cfg.Logger,
		url:      cfg.URL,
		policy:   policy,
		delay:    delay,
		dialer:   dialer,
		metrics:  cfg.Metrics,
		onUpdate: cfg.OnUpdate,
	}, nil
}

// Snapshot returns the latest known value of every sensor.
func (f *Feed) Snapshot() irrigation.Snapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.snapshot
}

// Run cycles connections until ctx is done, then closes the open socket and
// waits for its reader. No frame is applied after Run returns.
func (f *Feed) Run(ctx context.Context) error {
	if !f.running.CompareAndSwap(false, true) {
		return errors.New("feed is already running")
	}
	defer f.running.Store(false)
	defer f.teardown()

	f.logger.Info("starting live feed", "url", f.url, "interval", f.policy.Interval)

	err := poll.Run(ctx, f.policy, f.reconnect, func(err error) {
		f.logger.Warn("live feed connection failed", "url", f.url, "error", err)
	})

	f.logger.Info("live feed stopped")
	return err
}

// reconnect closes the previous cycle and starts a new one.
func (f *Feed) reconnect(ctx context.Context) error {
	f.teardown()

	conn, err := f.dialer.Dial(ctx, f.url)
	if err != nil {
		f.countConnect("error")
		return fmt.Errorf("failed to dial %s: %w", f.url, err)
	}
	f.countConnect("ok")

	c := &cycle{conn: conn, done: make(chan struct{}), started: time.Now()}
	if f.metrics != nil {
		f.metrics.ConnectionStatus.Inc()
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(RequestMessage)); err != nil {
		f.countFrameError("write")
		f.logger.Debug("failed to request data", "error", err)
	}

	go f.read(c)

	c.handshake = time.AfterFunc(f.delay, func() {
		if c.closing.Load() {
			return
		}
		if err := conn.WriteMessage(websocket.TextMessage, []byte(RequestMessage)); err != nil {
			f.countFrameError("write")
			f.logger.Debug("failed to repeat data request", "error", err)
		}
	})

	f.mu.Lock()
	f.current = c
	f.mu.Unlock()
	return nil
}

// read is the only goroutine that applies frames from c.
func (f *Feed) read(c *cycle) {
	defer close(c.done)

	for {
		_, data, err := c.conn.ReadMessage()
		if c.closing.Load() {
			return
		}
		if err != nil {
			f.countFrameError("read")
			f.logger.Debug("live feed socket closed", "error", err)
			return
		}

		var frame irrigation.Snapshot
		if err := json.Unmarshal(data, &frame); err != nil {
			f.countFrameError("parse")
			f.logger.Warn("dropping malformed sensor frame", "error", err)
			continue
		}

		f.mu.Lock()
		if c.closing.Load() {
			f.mu.Unlock()
			return
		}
		f.snapshot = f.snapshot.Merge(frame)
		snap := f.snapshot
		f.mu.Unlock()

		if f.metrics != nil {
			f.metrics.FramesReceived.Inc()
		}
		if f.onUpdate != nil {
			f.onUpdate(snap)
		}
	}
}

// teardown releases the current cycle, if any. Safe to call repeatedly.
func (f *Feed) teardown() {
	f.mu.Lock()
	c := f.current
	f.current = nil
	if c != nil {
		c.closing.Store(true)
	}
	f.mu.Unlock()

	if c == nil {
		return
	}
	c.close()

	if f.metrics != nil {
		f.metrics.ConnectionStatus.Dec()
		f.metrics.CycleDuration.Observe(time.Since(c.started).Seconds())
	}
}

func (f *Feed) countConnect(outcome string) {
	if f.metrics != nil {
		f.metrics.Connects.WithLabelValues(outcome).Inc()
	}
}

func (f *Feed) countFrameError(reason string) {
	if f.metrics != nil {
		f.metrics.FrameErrors.WithLabelValues(reason).Inc()
	}
}

// cycle is one connection's lifetime.
type cycle struct {
	conn      Conn
	handshake *time.Timer
	done      chan struct{}
	started   time.Time
	closing   atomic.Bool
	once      sync.Once
}

func (c *cycle) close() {
	c.once.Do(func() {
		if c.handshake != nil {
			c.handshake.Stop()
		}
		if c.conn != nil {
			_ = c.conn.Close()
		}
		<-c.done
	})
}
