// Package scrape serves the metric registry over HTTP in the Prometheus
// exposition format.
package scrape

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/chainmon/substrate-exporter/config"
	"github.com/chainmon/substrate-exporter/libs/log"
	"github.com/chainmon/substrate-exporter/libs/service"
	"github.com/chainmon/substrate-exporter/registry"
)

// HealthPath reports whether the exporter is connected to its node.
const HealthPath = "/health"

// Server is the scrape endpoint. Until the registry is marked ready the
// metrics path answers 503 so scrapers can tell "not ready" from "no data".
// Afterwards it keeps serving the last values, also while the node is
// unreachable.
type Server struct {
	service.BaseService

	cfg        *config.ScrapeConfig
	reg        *registry.Registry
	gatherer   prometheus.Gatherer
	healthy    func() bool
	registerer prometheus.Registerer
	namespace  string

	listener net.Listener
	srv      *http.Server
	done     chan struct{}
}

// Option sets an optional parameter on the Server.
type Option func(*Server)

// WithGatherer serves the families of g next to the registry, e.g. the Go
// runtime and process metrics of prometheus.DefaultGatherer.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithHealth sets the function answering HealthPath. Without it the server
// always reports healthy.
func WithHealth(healthy func() bool) Option {
	return func(s *Server) { s.healthy = healthy }
}

// WithInstrumentation registers request metrics of the metrics path with r.
func WithInstrumentation(r prometheus.Registerer, namespace string) Option {
	return func(s *Server) {
		s.registerer = r
		s.namespace = namespace
	}
}

// NewServer returns a server exposing reg. It does not listen until Start.
func NewServer(cfg *config.ScrapeConfig, reg *registry.Registry, options ...Option) *Server {
	s := &Server{
		cfg:     cfg,
		reg:     reg,
		healthy: func() bool { return true },
	}
	s.BaseService = *service.NewBaseService(nil, "Scrape", s)
	for _, option := range options {
		option(s)
	}
	return s
}

// OnStart implements service.Service.
func (s *Server) OnStart() error {
	handler, err := s.Handler()
	if err != nil {
		return err
	}
	listener, err := Listen(s.cfg.ListenAddress, s.cfg.MaxOpenConnections)
	if err != nil {
		return err
	}
	s.listener = listener
	s.srv = &http.Server{
		Handler:           RecoverAndLogHandler(handler, s.Logger),
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
	}
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		s.Logger.Info("Serving metrics", "addr", listener.Addr(), "path", s.cfg.Path)
		if err := s.srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.Logger.Error("Scrape server stopped", "err", err)
		}
	}()
	return nil
}

// OnStop stops accepting connections and waits up to the shutdown timeout
// for in-flight scrapes to finish.
func (s *Server) OnStop() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(ctx); err != nil {
		s.Logger.Error("Failed to drain scrape requests", "err", err)
		_ = s.srv.Close()
	}
	<-s.done
}

// Addr returns the address the server listens on. Only valid after Start.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Handler returns the routes of the server without the listener.
func (s *Server) Handler() (http.Handler, error) {
	metrics := s.metricsHandler()
	if s.registerer != nil {
		var err error
		if metrics, err = instrument(metrics, s.registerer, s.namespace); err != nil {
			return nil, err
		}
	}
	mux := http.NewServeMux()
	mux.Handle(s.cfg.Path, metrics)
	mux.HandleFunc(HealthPath, s.serveHealth)

	var h http.Handler = mux
	if s.cfg.IsCorsEnabled() {
		h = cors.New(cors.Options{
			AllowedOrigins: s.cfg.CORSAllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodHead},
		}).Handler(h)
	}
	return h, nil
}

func (s *Server) metricsHandler() http.Handler {
	gatherers := prometheus.Gatherers{prometheus.GathererFunc(s.reg.Gather)}
	if s.gatherer != nil {
		gatherers = append(gatherers, s.gatherer)
	}
	exposition := promhttp.HandlerFor(gatherers, promhttp.HandlerOpts{
		ErrorLog:      errorLogger{s.Logger},
		ErrorHandling: promhttp.ContinueOnError,
	})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if err := s.reg.Err(); err != nil {
			http.Error(w, fmt.Sprintf("metrics unavailable: %v", err), http.StatusInternalServerError)
			return
		}
		if !s.reg.Ready() {
			http.Error(w, "metrics not ready: no block processed yet", http.StatusServiceUnavailable)
			return
		}
		exposition.ServeHTTP(w, r)
	})
}

func (s *Server) serveHealth(w http.ResponseWriter, _ *http.Request) {
	if !s.healthy() {
		http.Error(w, "not connected", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, "ok\n")
}

// instrument counts and times requests to h.
func instrument(h http.Handler, r prometheus.Registerer, namespace string) (http.Handler, error) {
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scrape",
		Name:      "requests_total",
		Help:      "Scrape requests by status code.",
	}, []string{"code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "scrape",
		Name:      "request_duration_seconds",
		Help:      "Time to serve a scrape request.",
		Buckets:   []float64{.005, .01, .05, .1, .5, 1, 5},
	}, []string{"code"})
	for _, c := range []prometheus.Collector{requests, duration} {
		if err := r.Register(c); err != nil {
			return nil, err
		}
	}
	return promhttp.InstrumentHandlerCounter(requests, promhttp.InstrumentHandlerDuration(duration, h)), nil
}

// errorLogger adapts log.Logger to promhttp.Logger.
type errorLogger struct {
	log.Logger
}

func (l errorLogger) Println(v ...interface{}) {
	l.Error("Failed to gather metrics", "err", fmt.Sprint(v...))
}
