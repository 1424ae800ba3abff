package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// AlertMetrics contains Prometheus metrics for threshold monitoring.
type AlertMetrics struct {
	ChecksTotal             *prometheus.CounterVec
	BreachesTotal           *prometheus.CounterVec
	NotificationsSent       prometheus.Counter
	NotificationsSuppressed prometheus.Counter
	PublishFailures         prometheus.Counter
}

// NewAlertMetrics creates and registers alert metrics.
func NewAlertMetrics(namespace string) *AlertMetrics {
	m := &AlertMetrics{
		ChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "alerts",
				Name:      "checks_total",
				Help:      "Total number of threshold checks",
			},
			[]string{"outcome"}, // outcome: ok, breach, skipped, error
		),
		BreachesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "alerts",
				Name:      "breaches_total",
				Help:      "Total number of out-of-range sensor values observed",
			},
			[]string{"sensor"},
		),
		NotificationsSent: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "alerts",
				Name:      "notifications_sent_total",
				Help:      "Total number of notifications emitted",
			},
		),
		NotificationsSuppressed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "alerts",
				Name:      "notifications_suppressed_total",
				Help:      "Total number of notifications suppressed by the de-duplication window",
			},
		),
		PublishFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "alerts",
				Name:      "publish_failures_total",
				Help:      "Total number of notifications that could not be published to the queue",
			},
		),
	}

	MustRegister(
		m.ChecksTotal,
		m.BreachesTotal,
		m.NotificationsSent,
		m.NotificationsSuppressed,
		m.PublishFailures,
	)

	return m
}
