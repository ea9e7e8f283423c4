package chain

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const (
	// MetricsSubsystem is a subsystem shared by all metrics exposed by this
	// package.
	MetricsSubsystem = "chain_client"
)

// Metrics contains metrics exposed by this package. They outlive a single
// Client: the same Metrics are handed to every reconnected client.
type Metrics struct {
	// Number of RPC requests sent, by method.
	Requests metrics.Counter

	// Number of RPC requests that failed, by method.
	RequestFailures metrics.Counter

	// Time taken by RPC requests, by method.
	RequestDuration metrics.Histogram

	// Head notifications dropped because the subscription buffer was full.
	DroppedNotifications metrics.Counter

	// Blocks fetched by number to fill a gap in the head subscription.
	BackfilledBlocks metrics.Counter

	// Headers skipped because they were not above the last delivered block.
	SkippedHeaders metrics.Counter

	// Number of metadata reloads after a runtime upgrade.
	MetadataReloads metrics.Counter

	// Mean websocket ping/pong round trip in seconds.
	PingLatency metrics.Gauge
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
		Requests: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "requests_total",
			Help:      "Number of RPC requests sent to the node.",
		}, append(labels, "method")).With(labelsAndValues...),

		RequestFailures: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "request_failures_total",
			Help:      "Number of RPC requests that failed.",
		}, append(labels, "method")).With(labelsAndValues...),

		RequestDuration: prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "request_duration_seconds",
			Help:      "Time taken by RPC requests.",
			Buckets:   stdprometheus.ExponentialBuckets(0.001, 4, 8),
		}, append(labels, "method")).With(labelsAndValues...),

		DroppedNotifications: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "dropped_notifications_total",
			Help:      "Head notifications dropped because the subscriber fell behind.",
		}, labels).With(labelsAndValues...),

		BackfilledBlocks: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "backfilled_blocks_total",
			Help:      "Blocks fetched by number to fill gaps in the head subscription.",
		}, labels).With(labelsAndValues...),

		SkippedHeaders: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "skipped_headers_total",
			Help:      "Headers skipped as duplicates or re-orgs.",
		}, labels).With(labelsAndValues...),

		MetadataReloads: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "metadata_reloads_total",
			Help:      "Number of metadata reloads after a runtime upgrade.",
		}, labels).With(labelsAndValues...),

		PingLatency: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "ping_latency_seconds",
			Help:      "Mean websocket ping/pong round trip.",
		}, labels).With(labelsAndValues...),
	}
}

// NopMetrics returns no-op Metrics.
func NopMetrics() *Metrics {
	return &Metrics{
		Requests:             discard.NewCounter(),
		RequestFailures:      discard.NewCounter(),
		RequestDuration:      discard.NewHistogram(),
		DroppedNotifications: discard.NewCounter(),
		BackfilledBlocks:     discard.NewCounter(),
		SkippedHeaders:       discard.NewCounter(),
		MetadataReloads:      discard.NewCounter(),
		PingLatency:          discard.NewGauge(),
	}
}
