// Package supervisor keeps the exporter connected to its node: it dials,
// runs the collector until the connection is lost and reconnects with
// backoff.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chainmon/substrate-exporter/collector"
	"github.com/chainmon/substrate-exporter/config"
	"github.com/chainmon/substrate-exporter/libs/service"
	sxsync "github.com/chainmon/substrate-exporter/libs/sync"
	"github.com/chainmon/substrate-exporter/registry"
)

// Client is a connection to the node.
type Client interface {
	collector.Client
	Close() error
}

// DialFunc opens a new connection to the node.
type DialFunc func(ctx context.Context) (Client, error)

// Runner consumes a connection until it fails or ctx is done.
type Runner interface {
	Run(ctx context.Context, client collector.Client) error
}

// ErrFatal wraps the contract violation that terminated the supervisor.
type ErrFatal struct {
	Source error
}

func (e ErrFatal) Error() string {
	return fmt.Sprintf("fatal: %v", e.Source)
}

func (e ErrFatal) Unwrap() error {
	return e.Source
}

// Supervisor drives the connection lifecycle:
//
//	Idle -> Connecting -> Running -> Backoff -> Connecting -> ...
//
// Any state moves to ShuttingDown and then Terminated on Stop. A registry
// contract violation terminates the supervisor with ErrFatal; everything
// else is retried forever.
type Supervisor struct {
	service.BaseService

	dial    DialFunc
	runner  Runner
	reg     *registry.Registry
	retry   *RetryState
	metrics *Metrics

	mtx   sxsync.RWMutex
	state State
	err   error

	cancel context.CancelFunc
	done   chan struct{}
}

// Option sets an optional parameter on the Supervisor.
type Option func(*Supervisor)

// WithMetrics sets the metrics.
func WithMetrics(metrics *Metrics) Option {
	return func(s *Supervisor) { s.metrics = metrics }
}

// New returns a supervisor in state Idle.
func New(cfg *config.RetryConfig, dial DialFunc, runner Runner, reg *registry.Registry, options ...Option) *Supervisor {
	s := &Supervisor{
		dial:    dial,
		runner:  runner,
		reg:     reg,
		retry:   NewRetryState(cfg),
		metrics: NopMetrics(),
		done:    make(chan struct{}),
	}
	s.BaseService = *service.NewBaseService(nil, "Supervisor", s)
	for _, option := range options {
		option(s)
	}
	s.metrics.ConnectionState.Set(float64(Idle))
	return s
}

// OnStart implements service.Service.
func (s *Supervisor) OnStart() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.loop(ctx)
	return nil
}

// OnStop cancels the running connection and waits for it to be torn down.
func (s *Supervisor) OnStop() {
	s.setState(ShuttingDown)
	s.cancel()
	<-s.done
}

// Done is closed when the supervisor has terminated, after Stop or a fatal
// error.
func (s *Supervisor) Done() <-chan struct{} {
	return s.done
}

// Err returns the ErrFatal that terminated the supervisor, if any.
func (s *Supervisor) Err() error {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	return s.err
}

// State returns the current state.
func (s *Supervisor) State() State {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	return s.state
}

// Running reports whether a connection is established and collected from.
func (s *Supervisor) Running() bool {
	return s.State() == Running
}

func (s *Supervisor) loop(ctx context.Context) {
	defer close(s.done)
	defer s.setState(Terminated)

	for {
		s.setState(Connecting)
		err := s.connect(ctx)
		if ctx.Err() != nil {
			return
		}
		if fatal := s.fatal(err); fatal != nil {
			s.Logger.Error("Stopping on contract violation", "err", fatal)
			s.mtx.Lock()
			s.err = ErrFatal{Source: fatal}
			s.mtx.Unlock()
			return
		}

		s.metrics.ConnectionFailures.Add(1)
		delay := s.retry.Next(time.Now())
		s.metrics.BackoffSeconds.Set(delay.Seconds())
		s.setState(Backoff)
		s.Logger.Error("Connection failed, retrying", "err", err, "attempt", s.retry.Attempts, "in", delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		s.metrics.Reconnects.Add(1)
	}
}

// connect dials and runs one connection. It returns why the connection
// ended; nil only if ctx was cancelled.
func (s *Supervisor) connect(ctx context.Context) error {
	client, err := s.dial(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := client.Close(); err != nil {
			s.Logger.Debug("Failed to close client", "err", err)
		}
	}()

	s.retry.Reset()
	s.metrics.BackoffSeconds.Set(0)
	s.setState(Running)
	s.Logger.Info("Connected", "endpoint", client.Connection().Endpoint)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.reg.Fatal():
			cancel()
		case <-runCtx.Done():
		}
	}()
	err = s.runner.Run(runCtx, client)
	if latched := s.reg.Err(); latched != nil {
		return latched
	}
	if err == nil {
		err = errors.New("collector stopped")
	}
	return err
}

// fatal returns the contract violation in err or latched in the registry.
func (s *Supervisor) fatal(err error) error {
	if latched := s.reg.Err(); latched != nil {
		return latched
	}
	if registry.IsContractViolation(err) {
		return err
	}
	return nil
}

func (s *Supervisor) setState(state State) {
	s.mtx.Lock()
	prev := s.state
	if prev == Terminated || (prev == ShuttingDown && state != Terminated) {
		s.mtx.Unlock()
		return
	}
	s.state = state
	s.mtx.Unlock()
	if prev != state {
		s.metrics.ConnectionState.Set(float64(state))
		s.Logger.Debug("Supervisor state", "from", prev, "to", state)
	}
}
