package supervisor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainmon/substrate-exporter/chain"
	"github.com/chainmon/substrate-exporter/collector"
	"github.com/chainmon/substrate-exporter/config"
	"github.com/chainmon/substrate-exporter/libs/log"
	"github.com/chainmon/substrate-exporter/registry"
)

type fakeClient struct {
	collector.Client
	closed atomic.Bool
}

func (c *fakeClient) Connection() chain.Connection {
	return chain.Connection{Endpoint: "ws://fake", State: chain.Connected}
}

func (c *fakeClient) Close() error {
	c.closed.Store(true)
	return nil
}

type runFunc func(ctx context.Context, client collector.Client) error

func (f runFunc) Run(ctx context.Context, client collector.Client) error { return f(ctx, client) }

func blockUntilDone(ctx context.Context, _ collector.Client) error {
	<-ctx.Done()
	return ctx.Err()
}

var errLost = chain.ErrConnectionLost{Endpoint: "ws://fake", Source: errors.New("connection refused")}

// dialer fails the attempts for which fail returns true.
type dialer struct {
	mtx     sync.Mutex
	times   []time.Time
	clients []*fakeClient
	fail    func(attempt int) bool
}

func (d *dialer) dial(context.Context) (Client, error) {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	d.times = append(d.times, time.Now())
	if d.fail(len(d.times)) {
		return nil, errLost
	}
	c := &fakeClient{}
	d.clients = append(d.clients, c)
	return c, nil
}

func (d *dialer) attempts() int {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	return len(d.times)
}

// gaugeRecorder remembers every value set.
type gaugeRecorder struct {
	mtx    sync.Mutex
	values []float64
}

func (g *gaugeRecorder) With(...string) metrics.Gauge { return g }
func (g *gaugeRecorder) Add(float64) {}
func (g *gaugeRecorder) Set(v float64) {
	g.mtx.Lock()
	g.values = append(g.values, v)
	g.mtx.Unlock()
}

func (g *gaugeRecorder) nonZero() []float64 {
	g.mtx.Lock()
	defer g.mtx.Unlock()
	var out []float64
	for _, v := range g.values {
		if v != 0 {
			out = append(out, v)
		}
	}
	return out
}

func newSupervisor(t *testing.T, cfg *config.RetryConfig, d *dialer, run runFunc, reg *registry.Registry, options ...Option) *Supervisor {
	t.Helper()
	s := New(cfg, d.dial, run, reg, options...)
	s.SetLogger(log.TestingLogger())
	return s
}

func TestRetryStateBackoff(t *testing.T) {
	r := NewRetryState(config.TestRetryConfig())
	now := time.Now()
	want := []time.Duration{10, 20, 40, 80, 80}
	for i, w := range want {
		assert.Equal(t, w*time.Millisecond, r.Next(now), "attempt %d", i+1)
	}
	assert.Equal(t, 5, r.Attempts)
	assert.Equal(t, now.Add(80*time.Millisecond), r.NextRetry)

	r.Reset()
	assert.Equal(t, 0, r.Attempts)
	assert.Equal(t, 10*time.Millisecond, r.Next(now))
}

func TestRetryStateJitter(t *testing.T) {
	cfg := config.TestRetryConfig()
	cfg.Jitter = 0.5
	for i := 0; i < 100; i++ {
		r := NewRetryState(cfg)
		d := r.Next(time.Now())
		assert.GreaterOrEqual(t, d, 5*time.Millisecond)
		assert.LessOrEqual(t, d, 15*time.Millisecond)
	}
}

func TestRetryStateJitterNeverExceedsCap(t *testing.T) {
	cfg := config.DefaultRetryConfig()
	r := NewRetryState(cfg)
	now := time.Now()
	for i := 0; i < 200; i++ {
		d := r.Next(now)
		assert.LessOrEqual(t, d, cfg.MaxInterval, "attempt %d", i+1)
		if i >= 10 {
			// at the cap jitter only shortens the delay
			assert.GreaterOrEqual(t, d, time.Duration(float64(cfg.MaxInterval)*(1-cfg.Jitter)), "attempt %d", i+1)
		}
	}
}

func TestReconnectsWithIncreasingBackoff(t *testing.T) {
	defer leaktest.CheckTimeout(t, 5*time.Second)()

	d := &dialer{fail: func(attempt int) bool { return attempt <= 3 }}
	s := newSupervisor(t, config.TestRetryConfig(), d, blockUntilDone, registry.New())
	require.NoError(t, s.Start())

	require.Eventually(t, s.Running, 5*time.Second, 5*time.Millisecond)
	require.Equal(t, 4, d.attempts())
	for i, want := range []time.Duration{10, 20, 40} {
		gap := d.times[i+1].Sub(d.times[i])
		assert.GreaterOrEqual(t, gap, want*time.Millisecond, "gap before attempt %d", i+2)
	}

	require.NoError(t, s.Stop())
	assert.Equal(t, Terminated, s.State())
	assert.True(t, d.clients[0].closed.Load())
	assert.NoError(t, s.Err())
}

func TestBackoffResetsAfterSuccess(t *testing.T) {
	defer leaktest.CheckTimeout(t, 5*time.Second)()

	backoff := &gaugeRecorder{}
	m := NopMetrics()
	m.BackoffSeconds = backoff

	// fail, fail, connect and lose the connection, fail, then stay connected
	d := &dialer{fail: func(attempt int) bool { return attempt == 1 || attempt == 2 || attempt == 4 }}
	var runs atomic.Int32
	run := func(ctx context.Context, c collector.Client) error {
		if runs.Add(1) == 1 {
			return errLost
		}
		return blockUntilDone(ctx, c)
	}
	s := newSupervisor(t, config.TestRetryConfig(), d, run, registry.New(), WithMetrics(m))
	require.NoError(t, s.Start())
	defer s.Stop() //nolint:errcheck

	require.Eventually(t, func() bool { return runs.Load() == 2 && s.Running() }, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, []float64{0.01, 0.02, 0.01, 0.02}, backoff.nonZero())
}

func TestFatalOnContractViolation(t *testing.T) {
	defer leaktest.CheckTimeout(t, 5*time.Second)()

	dup := registry.ErrDuplicateMetric{Name: "block_height", Existing: registry.Gauge, Declared: registry.Counter}
	d := &dialer{fail: func(int) bool { return false }}
	run := func(context.Context, collector.Client) error { return dup }
	s := newSupervisor(t, config.TestRetryConfig(), d, run, registry.New())
	require.NoError(t, s.Start())

	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not terminate")
	}
	var fatal ErrFatal
	require.ErrorAs(t, s.Err(), &fatal)
	assert.ErrorIs(t, s.Err(), dup)
	assert.Equal(t, Terminated, s.State())
	assert.Equal(t, 1, d.attempts())
	require.NoError(t, s.Stop())
}

func TestFatalOnLatchedRegistryError(t *testing.T) {
	defer leaktest.CheckTimeout(t, 5*time.Second)()

	reg := registry.New()
	d := &dialer{fail: func(int) bool { return false }}
	s := newSupervisor(t, config.TestRetryConfig(), d, blockUntilDone, reg)
	require.NoError(t, s.Start())
	require.Eventually(t, s.Running, 5*time.Second, 5*time.Millisecond)

	reg.Fail(registry.ErrNegativeDelta{Name: "extrinsics_total", Delta: -1})
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not terminate")
	}
	var neg registry.ErrNegativeDelta
	assert.ErrorAs(t, s.Err(), &neg)
	assert.True(t, d.clients[0].closed.Load())
	require.NoError(t, s.Stop())
}

func TestStopDuringBackoff(t *testing.T) {
	defer leaktest.CheckTimeout(t, 5*time.Second)()

	cfg := config.TestRetryConfig()
	cfg.InitialInterval = time.Hour
	cfg.MaxInterval = time.Hour
	d := &dialer{fail: func(int) bool { return true }}
	s := newSupervisor(t, cfg, d, blockUntilDone, registry.New())
	require.NoError(t, s.Start())
	require.Eventually(t, func() bool { return s.State() == Backoff }, 5*time.Second, 5*time.Millisecond)

	start := time.Now()
	require.NoError(t, s.Stop())
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, Terminated, s.State())
	assert.Equal(t, 1, d.attempts())
}

func TestStateMetric(t *testing.T) {
	state := &gaugeRecorder{}
	m := &Metrics{
		ConnectionState:    state,
		Reconnects:         discard.NewCounter(),
		ConnectionFailures: discard.NewCounter(),
		BackoffSeconds:     discard.NewGauge(),
	}
	d := &dialer{fail: func(attempt int) bool { return attempt == 1 }}
	s := newSupervisor(t, config.TestRetryConfig(), d, blockUntilDone, registry.New(), WithMetrics(m))
	require.NoError(t, s.Start())
	require.Eventually(t, s.Running, 5*time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop())

	state.mtx.Lock()
	defer state.mtx.Unlock()
	assert.Equal(t, []float64{
		float64(Idle), float64(Connecting), float64(Backoff), float64(Connecting), float64(Running),
		float64(ShuttingDown), float64(Terminated),
	}, state.values)
}
