package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// FeedMetrics contains Prometheus metrics for the live sensor feed.
type FeedMetrics struct {
	Connects         *prometheus.CounterVec
	FramesReceived   prometheus.Counter
	FrameErrors      *prometheus.CounterVec
	ConnectionStatus prometheus.Gauge
	CycleDuration    prometheus.Histogram
}

// NewFeedMetrics creates and registers feed metrics.
func NewFeedMetrics(namespace string) *FeedMetrics {
	m := &FeedMetrics{
		Connects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "feed",
				Name:      "connects_total",
				Help:      "Total number of live feed connection attempts",
			},
			[]string{"outcome"}, // outcome: ok, error
		),
		FramesReceived: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "feed",
				Name:      "frames_received_total",
				Help:      "Total number of sensor frames merged into the snapshot",
			},
		),
		FrameErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "feed",
				Name:      "frame_errors_total",
				Help:      "Total number of dropped frames and socket errors",
			},
			[]string{"reason"}, // reason: parse, read, write
		),
		ConnectionStatus: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "feed",
				Name:      "connections_open",
				Help:      "Number of live feed sockets currently open",
			},
		),
		CycleDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "feed",
				Name:      "cycle_duration_seconds",
				Help:      "Lifetime of a single feed connection before it is recycled",
				Buckets:   prometheus.ExponentialBuckets(0.5, 2, 8),
			},
		),
	}

	MustRegister(
		m.Connects,
		m.FramesReceived,
		m.FrameErrors,
		m.ConnectionStatus,
		m.CycleDuration,
	)

	return m
}
