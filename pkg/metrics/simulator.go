package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// SimulatorMetrics contains Prometheus metrics for the backend simulator.
type SimulatorMetrics struct {
	ReadingsGenerated *prometheus.CounterVec
	SocketClients     prometheus.Gauge
	FramesSent        prometheus.Counter
	RequestsTotal     *prometheus.CounterVec
}

// NewSimulatorMetrics creates and registers simulator metrics.
func NewSimulatorMetrics(namespace string) *SimulatorMetrics {
	m := &SimulatorMetrics{
		ReadingsGenerated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "simulator",
				Name:      "readings_generated_total",
				Help:      "Total number of synthetic sensor readings generated",
			},
			[]string{"sensor"},
		),
		SocketClients: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "simulator",
				Name:      "socket_clients",
				Help:      "Number of connected WebSocket clients",
			},
		),
		FramesSent: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "simulator",
				Name:      "frames_sent_total",
				Help:      "Total number of frames pushed to WebSocket clients",
			},
		),
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "simulator",
				Name:      "requests_total",
				Help:      "Total number of REST requests served",
			},
			[]string{"route", "status_code"},
		),
	}

	MustRegister(
		m.ReadingsGenerated,
		m.SocketClients,
		m.FramesSent,
		m.RequestsTotal,
	)

	return m
}
