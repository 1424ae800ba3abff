package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"procodus.dev/irrigation-dashboard/internal/poll"
	"procodus.dev/irrigation-dashboard/pkg/irrigation"
	"procodus.dev/irrigation-dashboard/pkg/metrics"
)

// ErrNoMapping means the user has no active crop mapping to check against.
var ErrNoMapping = errors.New("no crop mapping selected")

// API is the slice of the backend the monitor needs.
type API interface {
	LatestReading(ctx context.Context) (irrigation.Snapshot, error)
	UserCrops(ctx context.Context, userID int64) ([]irrigation.UserCropMapping, error)
	CreateNotification(ctx context.Context, n irrigation.Notification) (*irrigation.Notification, error)
}

// Publisher fans notifications out to other consumers.
type Publisher interface {
	Push(ctx context.Context, data []byte) error
}

// PublishFunc adapts a function to Publisher, for example mq.Client's
// UnsafePush when broker confirms are not wanted.
type PublishFunc func(ctx context.Context, data []byte) error

// Push calls f.
func (f PublishFunc) Push(ctx context.Context, data []byte) error { return f(ctx, data) }

// Event is the JSON document published for every notification.
type Event struct {
	CreatedAt time.Time `json:"createdAt"`
	CropName  string    `json:"cropName"`
	Message   string    `json:"message"`
	Breaches  []Breach  `json:"breaches"`
	UserID    int64     `json:"userId"`
	CropID    int64     `json:"cropId"`
}

// MonitorConfig holds the configuration for a Monitor.
type MonitorConfig struct {
	Logger *slog.Logger
	API    API

	// UserID is required.
	UserID int64

	// CropID narrows the check to one mapping; zero uses the first mapping.
	CropID int64

	// Policy is the check cadence. Zero means poll.AlertInterval.
	Policy poll.Policy

	// Deduper is shared between monitors; nil creates a private one with
	// DefaultDedupeWindow.
	Deduper *Deduper

	// Publisher is optional.
	Publisher Publisher

	// Metrics is optional.
	Metrics *metrics.AlertMetrics

	// OnNotify receives every notification raised.
	OnNotify func(irrigation.Notification)
}

// Monitor periodically checks one user's latest readings.
type Monitor struct {
	logger    *slog.Logger
	api       API
	userID    int64
	cropID    int64
	policy    poll.Policy
	deduper   *Deduper
	publisher Publisher
	metrics   *metrics.AlertMetrics
	onNotify  func(irrigation.Notification)
}

// NewMonitor creates a new Monitor.
func NewMonitor(cfg *MonitorConfig) (*Monitor, error) {
	if cfg == nil {
		return nil, errors.New("monitor config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.API == nil {
		return nil, errors.New("API cannot be nil")
	}

	if cfg.UserID == 0 {
		return nil, errors.New("user id cannot be empty")
	}

	policy := cfg.Policy
	if policy.Interval == 0 {
		policy.Interval = poll.AlertInterval
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	deduper := cfg.Deduper
	if deduper == nil {
		deduper = NewDeduper(DefaultDedupeWindow)
	}

	return &Monitor{
		logger:    cfg.Logger,
		api:       cfg.API,
		userID:    cfg.UserID,
		cropID:    cfg.CropID,
		policy:    policy,
		deduper:   deduper,
		publisher: cfg.Publisher,
		metrics:   cfg.Metrics,
		onNotify:  cfg.OnNotify,
	}, nil
}

// Run checks on every policy tick until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.Debug("starting threshold monitor", "user_id", m.userID, "interval", m.policy.Interval)
	return poll.Run(ctx, m.policy, func(ctx context.Context) error {
		_, err := m.Check(ctx)
		if errors.Is(err, ErrNoMapping) {
			return nil
		}
		return err
	}, func(err error) {
		m.logger.Warn("threshold check failed", "user_id", m.userID, "error", err)
	})
}

// Check runs one comparison. It returns the notification raised, or nil when
// everything is in range or the user was notified within the window.
func (m *Monitor) Check(ctx context.Context) (*irrigation.Notification, error) {
	mapping, err := m.mapping(ctx)
	if err != nil {
		m.count("skipped")
		return nil, err
	}

	snap, err := m.api.LatestReading(ctx)
	if err != nil {
		m.count("error")
		return nil, fmt.Errorf("failed to fetch latest reading: %w", err)
	}

	breaches := Evaluate(snap, *mapping)
	if len(breaches) == 0 {
		m.count("ok")
		return nil, nil
	}
	m.count("breach")
	if m.metrics != nil {
		for _, b := range breaches {
			m.metrics.BreachesTotal.WithLabelValues(string(b.Sensor)).Inc()
		}
	}

	if !m.deduper.Allow(m.userID) {
		if m.metrics != nil {
			m.metrics.NotificationsSuppressed.Inc()
		}
		m.logger.Debug("notification suppressed by de-duplication window", "user_id", m.userID)
		return nil, nil
	}

	msg := Message(mapping.Crop.Name, breaches)
	created, err := m.api.CreateNotification(ctx, irrigation.Notification{
		UserID:    m.userID,
		Message:   msg,
		CreatedAt: irrigation.At(time.Now().UTC()),
	})
	if err != nil {
		m.deduper.Forget(m.userID)
		return nil, fmt.Errorf("failed to store notification: %w", err)
	}

	if m.metrics != nil {
		m.metrics.NotificationsSent.Inc()
	}
	m.logger.Info("threshold notification raised",
		"user_id", m.userID,
		"crop_id", mapping.Crop.ID,
		"breaches", len(breaches),
	)

	m.publish(ctx, mapping, breaches, *created)

	if m.onNotify != nil {
		m.onNotify(*created)
	}
	return created, nil
}

func (m *Monitor) mapping(ctx context.Context) (*irrigation.UserCropMapping, error) {
	mappings, err := m.api.UserCrops(ctx, m.userID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch crop mappings: %w", err)
	}
	for i := range mappings {
		if m.cropID == 0 || mappings[i].Crop.ID == m.cropID {
			return &mappings[i], nil
		}
	}
	return nil, ErrNoMapping
}

func (m *Monitor) publish(ctx context.Context, mapping *irrigation.UserCropMapping, breaches []Breach, n irrigation.Notification) {
	if m.publisher == nil {
		return
	}

	data, err := json.Marshal(Event{
		CreatedAt: n.CreatedAt.Time,
		CropName:  mapping.Crop.Name,
		Message:   n.Message,
		Breaches:  breaches,
		UserID:    m.userID,
		CropID:    mapping.Crop.ID,
	})
	if err != nil {
		m.logger.Error("failed to encode alert event", "error", err)
		return
	}

	if err := m.publisher.Push(ctx, data); err != nil {
		if m.metrics != nil {
			m.metrics.PublishFailures.Inc()
		}
		m.logger.Warn("failed to publish alert event", "error", err)
	}
}

func (m *Monitor) count(outcome string) {
	if m.metrics != nil {
		m.metrics.ChecksTotal.WithLabelValues(outcome).Inc()
	}
}
