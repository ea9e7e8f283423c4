package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/chainmon/substrate-exporter/config"
	"github.com/chainmon/substrate-exporter/libs/log"
	sxsync "github.com/chainmon/substrate-exporter/libs/sync"
	rpcclient "github.com/chainmon/substrate-exporter/rpc/jsonrpc/client"
	types "github.com/chainmon/substrate-exporter/rpc/jsonrpc/types"
	"github.com/chainmon/substrate-exporter/scale"
)

const (
	defaultSS58Prefix    = 42
	defaultTokenDecimals = 18
)

// Client is a connection to a single Substrate node. It is not restartable:
// once the transport fails every operation returns ErrConnectionLost and the
// caller dials a new Client.
type Client struct {
	cfg     *config.ChainConfig
	logger  log.Logger
	metrics *Metrics
	ws      *rpcclient.WSClient

	mtx      sxsync.RWMutex
	md       *scale.Metadata
	runtime  RuntimeVersion
	props    Properties
	conn     Connection
	sub      *BlockSubscription
	ss58     uint16
	decimals int
}

// Option sets an optional parameter on the Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(l log.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithMetrics sets the metrics.
func WithMetrics(m *Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// Dial connects to cfg.Endpoint and loads the runtime metadata, version
// and chain properties. It fails with ErrConnectionLost when the node
// cannot be reached and with ProtocolError when the metadata is malformed.
func Dial(ctx context.Context, cfg *config.ChainConfig, options ...Option) (*Client, error) {
	c := &Client{
		cfg:     cfg,
		logger:  log.NewNopLogger(),
		metrics: NopMetrics(),
		conn:    Connection{Endpoint: cfg.Endpoint, State: Connecting},
	}
	for _, option := range options {
		option(c)
	}

	ws, err := rpcclient.NewWS(cfg.Endpoint,
		rpcclient.PingPeriod(cfg.PingInterval),
		rpcclient.ReadWait(cfg.ReadTimeout),
		rpcclient.WriteWait(cfg.DialTimeout),
		rpcclient.MaxMessageSize(cfg.MaxMessageSize),
	)
	if err != nil {
		return nil, err
	}
	ws.SetLogger(c.logger.With("module", "rpc"))
	c.ws = ws

	dialCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	if err := ws.Dial(dialCtx); err != nil {
		c.setDisconnected(err)
		return nil, ErrConnectionLost{Endpoint: cfg.Endpoint, Source: err}
	}

	if err := c.loadRuntime(dialCtx, Hash{}); err != nil {
		c.Close()
		return nil, err
	}
	var props Properties
	if err := c.Call(dialCtx, &props, "system_properties"); err != nil {
		c.Close()
		return nil, err
	}
	c.props = props
	c.ss58 = c.resolveSS58(props)
	c.decimals = c.resolveDecimals(props)

	c.mtx.Lock()
	c.conn.State = Connected
	c.mtx.Unlock()
	c.logger.Info("Connected to node", "endpoint", cfg.Endpoint,
		"spec", c.runtime.SpecName, "spec_version", c.runtime.SpecVersion,
		"metadata", c.md.Version, "ss58", c.ss58, "decimals", c.decimals)
	return c, nil
}

// loadRuntime fetches the metadata and runtime version at the given block.
func (c *Client) loadRuntime(ctx context.Context, at Hash) error {
	var raw HexBytes
	if err := c.Call(ctx, &raw, "state_getMetadata", atParams(at)...); err != nil {
		return err
	}
	md, err := scale.DecodeMetadata(raw)
	if err != nil {
		return ProtocolError{Op: "state_getMetadata", Source: err}
	}
	var rv RuntimeVersion
	if err := c.Call(ctx, &rv, "state_getRuntimeVersion", atParams(at)...); err != nil {
		return err
	}
	c.mtx.Lock()
	c.md = md
	c.runtime = rv
	c.mtx.Unlock()
	return nil
}

func (c *Client) resolveSS58(props Properties) uint16 {
	if c.cfg.SS58Prefix >= 0 {
		return uint16(c.cfg.SS58Prefix)
	}
	if props.SS58Format != nil {
		return uint16(*props.SS58Format)
	}
	if v, err := c.Metadata().Constant("System", "SS58Prefix"); err == nil {
		if n, err := v.Uint64(); err == nil {
			return uint16(n)
		}
	}
	return defaultSS58Prefix
}

func (c *Client) resolveDecimals(props Properties) int {
	if c.cfg.TokenDecimals >= 0 {
		return c.cfg.TokenDecimals
	}
	if props.TokenDecimals != nil {
		return *props.TokenDecimals
	}
	return defaultTokenDecimals
}

// Close unsubscribes and closes the connection. It is safe to call more
// than once.
func (c *Client) Close() error {
	c.mtx.RLock()
	sub := c.sub
	c.mtx.RUnlock()
	if sub != nil {
		sub.Close()
	}
	if c.ws.IsRunning() {
		if err := c.ws.Stop(); err != nil {
			return err
		}
	}
	c.setDisconnected(rpcclient.ErrClientStopped)
	return nil
}

// Done is closed when the transport has failed or the client was closed.
func (c *Client) Done() <-chan struct{} {
	return c.ws.Done()
}

// Metadata returns the current runtime metadata.
func (c *Client) Metadata() *scale.Metadata {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	return c.md
}

// RuntimeVersion returns the version of the current runtime.
func (c *Client) RuntimeVersion() RuntimeVersion {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	return c.runtime
}

// Properties returns the chain properties read at connection time.
func (c *Client) Properties() Properties {
	return c.props
}

// Connection returns a copy of the connection state.
func (c *Client) Connection() Connection {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	return c.conn
}

// SS58Prefix is the network prefix used to render addresses.
func (c *Client) SS58Prefix() uint16 {
	return c.ss58
}

// TokenDecimals is the number of decimals of the native token.
func (c *Client) TokenDecimals() int {
	return c.decimals
}

// Address renders an account id as an SS58 address.
func (c *Client) Address(accountID []byte) string {
	return scale.SS58Encode(accountID, c.ss58)
}

// Tokens converts an amount in planck to whole tokens.
func (c *Client) Tokens(amount *big.Int) float64 {
	if amount == nil {
		return 0
	}
	f := new(big.Float).SetInt(amount)
	div := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(c.decimals)), nil))
	out, _ := f.Quo(f, div).Float64()
	return out
}

// Constant decodes a pallet constant from the current metadata.
func (c *Client) Constant(pallet, name string) (scale.Value, error) {
	v, err := c.Metadata().Constant(pallet, name)
	if err != nil {
		return scale.Value{}, QueryError{Query: pallet + "." + name, Source: err}
	}
	return v, nil
}

// Call issues a raw RPC and decodes the result into result. The call is
// bounded by the request timeout unless ctx expires earlier.
func (c *Client) Call(ctx context.Context, result any, method string, params ...any) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	start := time.Now()
	c.metrics.Requests.With("method", method).Add(1)
	err := c.ws.Call(ctx, method, params, result)
	c.metrics.RequestDuration.With("method", method).Observe(time.Since(start).Seconds())
	if err == nil {
		c.setHealthy()
		return nil
	}
	c.metrics.RequestFailures.With("method", method).Add(1)
	return c.classify(method, err)
}

// classify maps transport errors onto the chain error taxonomy.
func (c *Client) classify(method string, err error) error {
	var (
		closed    rpcclient.ErrConnectionClosed
		rpcErr    *types.RPCError
		unmarshal rpcclient.ErrUnmarshalResponse
	)
	switch {
	case errors.As(err, &closed):
		c.setDisconnected(err)
		return ErrConnectionLost{Endpoint: c.cfg.Endpoint, Source: err}
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		if werr := c.ws.Err(); werr != nil {
			c.setDisconnected(werr)
			return ErrConnectionLost{Endpoint: c.cfg.Endpoint, Source: werr}
		}
		if errors.Is(err, context.DeadlineExceeded) {
			c.setDegraded(err)
		}
		return QueryError{Query: method, Source: err}
	case errors.As(err, &rpcErr):
		return QueryError{Query: method, Source: err}
	case errors.As(err, &unmarshal):
		return ProtocolError{Op: method, Source: err}
	default:
		return QueryError{Query: method, Source: err}
	}
}

func (c *Client) setHealthy() {
	c.metrics.PingLatency.Set(c.ws.PingPongLatencyTimer.Mean() / float64(time.Second))
	c.mtx.Lock()
	if c.conn.State == Degraded {
		c.conn.State = Connected
	}
	c.mtx.Unlock()
}

func (c *Client) setDegraded(err error) {
	c.mtx.Lock()
	if c.conn.State == Connected {
		c.conn.State = Degraded
	}
	c.conn.LastError = err
	c.mtx.Unlock()
}

func (c *Client) setDisconnected(err error) {
	c.mtx.Lock()
	c.conn.State = Disconnected
	if c.conn.LastError == nil || !errors.Is(err, rpcclient.ErrClientStopped) {
		c.conn.LastError = err
	}
	c.mtx.Unlock()
}

func (c *Client) setLastBlock(n uint64) {
	c.mtx.Lock()
	if n > c.conn.LastBlock {
		c.conn.LastBlock = n
	}
	c.mtx.Unlock()
}

// lost returns the ErrConnectionLost for a failed transport.
func (c *Client) lost() error {
	err := c.ws.Err()
	if err == nil {
		err = rpcclient.ErrClientStopped
	}
	c.setDisconnected(err)
	return ErrConnectionLost{Endpoint: c.cfg.Endpoint, Source: err}
}

func atParams(at Hash, params ...any) []any {
	if at.IsZero() {
		return params
	}
	return append(params, at)
}

func (c *Client) String() string {
	return fmt.Sprintf("chain.Client{%s}", c.cfg.Endpoint)
}
