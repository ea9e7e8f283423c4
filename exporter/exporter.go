// Package exporter wires the chain client, collector, supervisor and scrape
// server of one exporter process.
package exporter

import (
	"context"
	"net"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/chainmon/substrate-exporter/chain"
	"github.com/chainmon/substrate-exporter/collector"
	"github.com/chainmon/substrate-exporter/config"
	"github.com/chainmon/substrate-exporter/libs/log"
	"github.com/chainmon/substrate-exporter/libs/service"
	"github.com/chainmon/substrate-exporter/registry"
	"github.com/chainmon/substrate-exporter/scrape"
	"github.com/chainmon/substrate-exporter/supervisor"
)

// MetricsProvider returns the metrics of the chain client and the
// supervisor. They are created once per process and shared by every
// reconnected client.
type MetricsProvider func() (*chain.Metrics, *supervisor.Metrics)

// DefaultMetricsProvider returns Metrics build using Prometheus client
// library if Prometheus is enabled. Otherwise, it returns no-op Metrics.
func DefaultMetricsProvider(cfg *config.InstrumentationConfig) MetricsProvider {
	return func() (*chain.Metrics, *supervisor.Metrics) {
		if cfg.Prometheus {
			return chain.PrometheusMetrics(cfg.Namespace), supervisor.PrometheusMetrics(cfg.Namespace)
		}
		return chain.NopMetrics(), supervisor.NopMetrics()
	}
}

// Exporter is the process-scoped state: one registry, one collector, one
// supervisor owning the connection and one scrape server.
type Exporter struct {
	service.BaseService

	config     *config.Config
	registry   *registry.Registry
	collector  *collector.Collector
	supervisor *supervisor.Supervisor
	scrape     *scrape.Server
}

// Option sets an optional parameter on the Exporter.
type Option func(*options)

type options struct {
	metricsProvider MetricsProvider
}

// WithMetricsProvider overrides DefaultMetricsProvider.
func WithMetricsProvider(p MetricsProvider) Option {
	return func(o *options) { o.metricsProvider = p }
}

// NewExporter builds an exporter from cfg. Nothing is started; a metric
// declaration clash is returned here.
func NewExporter(cfg *config.Config, logger log.Logger, opts ...Option) (*Exporter, error) {
	o := options{metricsProvider: DefaultMetricsProvider(cfg.Instrumentation)}
	for _, opt := range opts {
		opt(&o)
	}
	chainMetrics, supervisorMetrics := o.metricsProvider()

	reg := registry.New()
	col, err := collector.New(cfg.Collector, reg, collector.WithLogger(logger.With("module", "collector")))
	if err != nil {
		return nil, err
	}

	chainLogger := logger.With("module", "chain")
	dial := func(ctx context.Context) (supervisor.Client, error) {
		c, err := chain.Dial(ctx, cfg.Chain, chain.WithLogger(chainLogger), chain.WithMetrics(chainMetrics))
		if err != nil {
			return nil, err
		}
		return c, nil
	}
	sup := supervisor.New(cfg.Retry, dial, col, reg, supervisor.WithMetrics(supervisorMetrics))
	sup.SetLogger(logger.With("module", "supervisor"))

	scrapeOpts := []scrape.Option{scrape.WithHealth(sup.Running)}
	if cfg.Instrumentation.Prometheus {
		scrapeOpts = append(scrapeOpts,
			scrape.WithGatherer(prometheus.DefaultGatherer),
			scrape.WithInstrumentation(prometheus.DefaultRegisterer, cfg.Instrumentation.Namespace),
		)
	}
	srv := scrape.NewServer(cfg.Scrape, reg, scrapeOpts...)
	srv.SetLogger(logger.With("module", "scrape"))

	e := &Exporter{
		config:     cfg,
		registry:   reg,
		collector:  col,
		supervisor: sup,
		scrape:     srv,
	}
	e.BaseService = *service.NewBaseService(logger, "Exporter", e)
	return e, nil
}

// OnStart starts the scrape server, which answers 503 until the first
// block, and then the supervisor.
func (e *Exporter) OnStart() error {
	if err := e.scrape.Start(); err != nil {
		return err
	}
	if err := e.supervisor.Start(); err != nil {
		if serr := e.scrape.Stop(); serr != nil {
			e.Logger.Error("Error stopping scrape server", "err", serr)
		}
		return err
	}
	return nil
}

// OnStop tears down in reverse order: the supervisor cancels the collector
// and closes the connection, then the scrape server drains in-flight
// requests.
func (e *Exporter) OnStop() {
	e.Logger.Info("Stopping exporter")
	if err := e.supervisor.Stop(); err != nil {
		e.Logger.Error("Error stopping supervisor", "err", err)
	}
	if err := e.scrape.Stop(); err != nil {
		e.Logger.Error("Error stopping scrape server", "err", err)
	}
}

// Fatal is closed when the supervisor terminated on its own. Err then
// returns the reason.
func (e *Exporter) Fatal() <-chan struct{} {
	return e.supervisor.Done()
}

// Err returns the contract violation that terminated the exporter, if any.
func (e *Exporter) Err() error {
	return e.supervisor.Err()
}

// Registry returns the metric registry.
func (e *Exporter) Registry() *registry.Registry {
	return e.registry
}

// Supervisor returns the connection supervisor.
func (e *Exporter) Supervisor() *supervisor.Supervisor {
	return e.supervisor
}

// ScrapeAddr returns the address the scrape server listens on.
func (e *Exporter) ScrapeAddr() net.Addr {
	return e.scrape.Addr()
}

// Config returns the exporter's configuration.
func (e *Exporter) Config() *config.Config {
	return e.config
}
