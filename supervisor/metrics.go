package supervisor

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const (
	// MetricsSubsystem is a subsystem shared by all metrics exposed by this
	// package.
	MetricsSubsystem = "exporter"
)

// Metrics contains metrics exposed by this package.
type Metrics struct {
	// Current State of the supervisor, as its numeric value.
	ConnectionState metrics.Gauge

	// Reconnection attempts after a failure.
	Reconnects metrics.Counter

	// Failed connections, including connections lost while running.
	ConnectionFailures metrics.Counter

	// Delay before the next reconnection attempt.
	BackoffSeconds metrics.Gauge
}

// PrometheusMetrics returns Metrics build using Prometheus client library.
// Optionally, labels can be provided along with their values ("foo",
// "fooValue").
func PrometheusMetrics(namespace string, labelsAndValues ...string) *Metrics {
	labels := []string{}
	for i := 0; i < len(labelsAndValues); i += 2 {
		labels = append(labels, labelsAndValues[i])
	}
	return &Metrics{
		ConnectionState: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "connection_state",
			Help:      "Supervisor state: 0 idle, 1 connecting, 2 running, 3 backoff, 4 shutting down, 5 terminated.",
		}, labels).With(labelsAndValues...),
		Reconnects: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "reconnects_total",
			Help:      "Reconnection attempts after a failure.",
		}, labels).With(labelsAndValues...),
		ConnectionFailures: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "connection_failures_total",
			Help:      "Failed or lost connections to the node.",
		}, labels).With(labelsAndValues...),
		BackoffSeconds: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "backoff_seconds",
			Help:      "Delay before the next reconnection attempt.",
		}, labels).With(labelsAndValues...),
	}
}

// NopMetrics returns no-op Metrics.
func NopMetrics() *Metrics {
	return &Metrics{
		ConnectionState:    discard.NewGauge(),
		Reconnects:         discard.NewCounter(),
		ConnectionFailures: discard.NewCounter(),
		BackoffSeconds:     discard.NewGauge(),
	}
}
