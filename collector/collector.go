package collector

import (
	"context"
	"errors"
	"math/big"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/chainmon/substrate-exporter/chain"
	"github.com/chainmon/substrate-exporter/config"
	"github.com/chainmon/substrate-exporter/libs/log"
	"github.com/chainmon/substrate-exporter/registry"
	"github.com/chainmon/substrate-exporter/scale"
)

// Client is the part of chain.Client the collector uses.
type Client interface {
	SubscribeBlocks(ctx context.Context) (*chain.BlockSubscription, error)
	Call(ctx context.Context, result any, method string, params ...any) error
	QueryStorage(ctx context.Context, req chain.StorageRequest, at chain.Hash) (scale.Value, bool, error)
	QueryStorageMap(ctx context.Context, req chain.StorageRequest, at chain.Hash) ([]chain.StorageEntry, error)
	RuntimeVersion() chain.RuntimeVersion
	Connection() chain.Connection
	Address(accountID []byte) string
	Tokens(amount *big.Int) float64
}

var _ Client = (*chain.Client)(nil)

// Collector turns blocks and periodic storage reads into metrics. A
// Collector lives as long as the process; Run is called once per
// connection.
type Collector struct {
	cfg     *config.CollectorConfig
	reg     *registry.Registry
	metrics *Metrics
	names   gaugeNames
	logger  log.Logger
	now     func() time.Time

	queries    []*query
	identities *identityCache

	mtx        sync.Mutex
	prevTotals map[string]float64
}

// query is a periodic query. running guards against overlapping runs.
type query struct {
	name    string
	run     func(ctx context.Context, client Client) error
	running atomic.Bool
}

// Option sets an optional parameter on the Collector.
type Option func(*Collector)

// WithLogger sets the logger.
func WithLogger(l log.Logger) Option {
	return func(c *Collector) { c.logger = l }
}

// New declares the collector's metrics in reg. A declaration clash is a
// contract violation and returned as is.
func New(cfg *config.CollectorConfig, reg *registry.Registry, options ...Option) (*Collector, error) {
	m, names, err := declareMetrics(reg, cfg.Namespace)
	if err != nil {
		return nil, err
	}
	c := &Collector{
		cfg:        cfg,
		reg:        reg,
		metrics:    m,
		names:      names,
		logger:     log.NewNopLogger(),
		now:        time.Now,
		identities: newIdentityCache(cfg.IdentityCacheSize, cfg.IdentityCacheTTL),
		prevTotals: make(map[string]float64),
	}
	for _, option := range options {
		option(c)
	}
	all := map[string]func(context.Context, Client) error{
		config.QueryNodeHealth:       c.queryNodeHealth,
		config.QueryNodeInfo:         c.queryNodeInfo,
		config.QueryFinalizedHead:    c.queryFinalizedHead,
		config.QueryRuntimeVersion:   c.queryRuntimeVersion,
		config.QueryActiveValidators: c.queryActiveValidators,
		config.QueryTotalIssuance:    c.queryTotalIssuance,
		config.QueryStaking:          c.queryStaking,
	}
	for _, name := range config.KnownQueries {
		if cfg.QueryEnabled(name) {
			c.queries = append(c.queries, &query{name: name, run: all[name]})
		}
	}
	return c, nil
}

// Run subscribes to blocks and runs the block loop and the periodic query
// loop until ctx is done or one of them fails. ErrConnectionLost and
// registry contract violations are returned; per-block and per-query
// failures are only counted.
func (c *Collector) Run(ctx context.Context, client Client) error {
	sub, err := client.SubscribeBlocks(ctx)
	if err != nil {
		return err
	}
	defer sub.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.blockLoop(gctx, sub) })
	g.Go(func() error { return c.queryLoop(gctx, client) })
	return g.Wait()
}

func (c *Collector) blockLoop(ctx context.Context, sub *chain.BlockSubscription) error {
	for {
		ev, err := sub.Next(ctx)
		switch {
		case err == nil:
			c.ProcessBlock(ev)
			if err := c.reg.Err(); err != nil {
				return err
			}
		case ctx.Err() != nil:
			return ctx.Err()
		case chain.IsConnectionLost(err), errors.Is(err, chain.ErrSubscriptionClosed):
			return err
		default:
			reason := failureReason(err)
			c.metrics.BlockFailures.With("reason", reason).Add(1)
			c.logger.Error("Failed to process block", "reason", reason, "err", err)
		}
	}
}

// ProcessBlock writes the per-block metrics. Its cost is linear in the
// number of extrinsics and events of the block.
func (c *Collector) ProcessBlock(ev chain.BlockEvent) {
	m := c.metrics
	now := c.now()
	m.BlockHeight.Set(float64(ev.Number))
	m.BlockProcessedTimestamp.Set(unixSeconds(now))
	if !ev.Timestamp.IsZero() {
		m.BlockTimestamp.Set(unixSeconds(ev.Timestamp))
		m.BlockTimeDrift.Set(now.Sub(ev.Timestamp).Seconds())
	}

	ok, failed := ev.CountOutcomes()
	m.Extrinsics.With("outcome", "success").Add(float64(ok))
	m.Extrinsics.With("outcome", "failure").Add(float64(failed))
	m.BlockExtrinsics.Set(float64(len(ev.Extrinsics)))
	for _, x := range ev.Extrinsics {
		m.PalletCalls.With("pallet", x.Pallet).Add(1)
	}

	pallets := make([]string, 0, len(ev.PalletEvents))
	for p := range ev.PalletEvents {
		pallets = append(pallets, p)
	}
	sort.Strings(pallets)
	for _, p := range pallets {
		m.PalletEvents.With("pallet", p).Add(float64(ev.PalletEvents[p]))
	}
	if ev.RuntimeUpgraded {
		m.RuntimeUpgrades.Add(1)
	}
	m.BlocksProcessed.Add(1)
	c.reg.MarkReady()
	c.logger.Debug("Processed block", "height", ev.Number, "hash", ev.Hash, "extrinsics", len(ev.Extrinsics))
}

// queryLoop starts the enabled queries now and on every tick. A query whose
// previous run is still outstanding is skipped for that tick.
func (c *Collector) queryLoop(ctx context.Context, client Client) error {
	if len(c.queries) == 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	var (
		wg   sync.WaitGroup
		errc = make(chan error, 1)
	)
	defer wg.Wait()

	ticker := time.NewTicker(c.cfg.QueryInterval)
	defer ticker.Stop()
	for {
		for _, q := range c.queries {
			if !q.running.CompareAndSwap(false, true) {
				c.metrics.QuerySkipped.With("query", q.name).Add(1)
				c.logger.Info("Skipping query, previous run outstanding", "query", q.name)
				continue
			}
			wg.Add(1)
			go func(q *query) {
				defer wg.Done()
				defer q.running.Store(false)
				if err := c.runQuery(ctx, client, q); err != nil {
					select {
					case errc <- err:
					default:
					}
				}
			}(q)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errc:
			return err
		case <-ticker.C:
		}
	}
}

// RunQueries runs every enabled query once, one after another. Failures
// are counted like in Run; only connection loss and contract violations
// are returned.
func (c *Collector) RunQueries(ctx context.Context, client Client) error {
	for _, q := range c.queries {
		if err := c.runQuery(ctx, client, q); err != nil {
			return err
		}
	}
	return nil
}

// runQuery runs q with the query timeout. Only errors that must stop the
// collector are returned.
func (c *Collector) runQuery(ctx context.Context, client Client, q *query) error {
	qctx, cancel := context.WithTimeout(ctx, c.cfg.QueryTimeout)
	defer cancel()
	start := time.Now()
	err := q.run(qctx, client)
	switch {
	case err == nil:
		c.metrics.QueryDuration.With("query", q.name).Set(time.Since(start).Seconds())
		return nil
	case ctx.Err() != nil:
		return nil
	case chain.IsConnectionLost(err), registry.IsContractViolation(err):
		return err
	default:
		c.metrics.QueryFailures.With("query", q.name).Add(1)
		c.logger.Error("Query failed", "query", q.name, "err", err)
		return nil
	}
}

func failureReason(err error) string {
	var (
		perr chain.ProtocolError
		qerr chain.QueryError
	)
	switch {
	case errors.As(err, &perr):
		return "protocol"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.As(err, &qerr):
		return "query"
	default:
		return "other"
	}
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
