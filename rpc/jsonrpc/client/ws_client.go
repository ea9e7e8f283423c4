package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	metrics "github.com/rcrowley/go-metrics"

	"github.com/chainmon/substrate-exporter/libs/service"
	sxsync "github.com/chainmon/substrate-exporter/libs/sync"
	types "github.com/chainmon/substrate-exporter/rpc/jsonrpc/types"
)

const (
	defaultWriteWait      = 10 * time.Second
	defaultReadWait       = 30 * time.Second
	defaultPingPeriod     = 10 * time.Second
	defaultMaxMessageSize = 64 << 20
	defaultSendQueue      = 64
)

// WSClient is a JSON-RPC client speaking to a node over a single websocket
// connection. It supports concurrent calls and server-pushed subscriptions.
//
// The client does not reconnect: once the transport fails every pending and
// future call returns ErrConnectionClosed and Done is closed. Callers create
// a new client to reconnect.
type WSClient struct {
	service.BaseService

	Address string // ws://host:port/path

	conn *websocket.Conn

	// Time allowed to write a message to the server.
	writeWait time.Duration
	// Time allowed to read the next message (including pongs) from the server.
	readWait time.Duration
	// Send pings to server with this period. Must be less than readWait.
	pingPeriod     time.Duration
	maxMessageSize int64
	headers        http.Header

	send   chan []byte
	nextID atomic.Int64

	mtx     sxsync.Mutex
	pending map[types.JSONRPCIntID]*pendingCall
	subs    map[string]*Subscription

	failOnce sync.Once
	err      error
	dead     chan struct{}
	wg       sync.WaitGroup

	// Time between sending a ping and receiving a pong.
	PingPongLatencyTimer metrics.Timer
	pingMtx              sxsync.Mutex
	sentLastPingAt       time.Time
}

type pendingCall struct {
	ch  chan types.RPCResponse
	sub *Subscription
}

// NewWS returns a new client. remoteAddr must use the ws or wss scheme.
// The client is started with Dial.
func NewWS(remoteAddr string, options ...func(*WSClient)) (*WSClient, error) {
	u, err := url.Parse(remoteAddr)
	if err != nil {
		return nil, ErrInvalidAddress{Addr: remoteAddr, Source: err}
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, ErrInvalidAddress{Addr: remoteAddr, Source: fmt.Errorf("unsupported scheme %q", u.Scheme)}
	}
	c := &WSClient{
		Address:              remoteAddr,
		writeWait:            defaultWriteWait,
		readWait:             defaultReadWait,
		pingPeriod:           defaultPingPeriod,
		maxMessageSize:       defaultMaxMessageSize,
		send:                 make(chan []byte, defaultSendQueue),
		pending:              make(map[types.JSONRPCIntID]*pendingCall),
		subs:                 make(map[string]*Subscription),
		dead:                 make(chan struct{}),
		PingPongLatencyTimer: metrics.NewTimer(),
	}
	c.BaseService = *service.NewBaseService(nil, "WSClient", c)
	for _, option := range options {
		option(c)
	}
	return c, nil
}

// WriteWait sets the amount of time to wait before a websocket write times out.
// It should only be used in the constructor and is not Goroutine-safe.
func WriteWait(writeWait time.Duration) func(*WSClient) {
	return func(c *WSClient) {
		c.writeWait = writeWait
	}
}

// ReadWait sets the amount of time to wait before a websocket read times out.
// It should only be used in the constructor and is not Goroutine-safe.
func ReadWait(readWait time.Duration) func(*WSClient) {
	return func(c *WSClient) {
		c.readWait = readWait
	}
}

// PingPeriod sets the duration for sending websocket pings.
// It should only be used in the constructor - not Goroutine-safe.
func PingPeriod(pingPeriod time.Duration) func(*WSClient) {
	return func(c *WSClient) {
		c.pingPeriod = pingPeriod
	}
}

// MaxMessageSize sets the read limit for a single message.
func MaxMessageSize(n int64) func(*WSClient) {
	return func(c *WSClient) {
		c.maxMessageSize = n
	}
}

// Headers sets extra HTTP headers sent with the handshake.
func Headers(h http.Header) func(*WSClient) {
	return func(c *WSClient) {
		c.headers = h
	}
}

// String returns WS client full address.
func (c *WSClient) String() string {
	return fmt.Sprintf("WSClient{%s}", c.Address)
}

// Dial performs the websocket handshake and starts the read and write
// routines. ctx bounds the handshake only.
func (c *WSClient) Dial(ctx context.Context) error {
	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: c.writeWait,
	}
	conn, resp, err := dialer.DialContext(ctx, c.Address, c.headers)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return ErrDial{Addr: c.Address, Source: err}
	}
	conn.SetReadLimit(c.maxMessageSize)
	c.conn = conn
	return c.Start()
}

// OnStart implements service.Service by starting the read and write routines.
func (c *WSClient) OnStart() error {
	if c.conn == nil {
		return errors.New("websocket is not connected, use Dial")
	}
	c.wg.Add(2)
	go c.readRoutine()
	go c.writeRoutine()
	return nil
}

// OnStop implements service.Service by closing the connection and waiting
// for the routines to exit.
func (c *WSClient) OnStop() {
	c.fail(ErrClientStopped)
	c.wg.Wait()
}

// Done is closed once the transport has failed or the client was stopped.
func (c *WSClient) Done() <-chan struct{} {
	return c.dead
}

// Err returns the reason the transport was closed, nil while it is alive.
func (c *WSClient) Err() error {
	select {
	case <-c.dead:
		return c.err
	default:
		return nil
	}
}

// Call sends a request with positional params and decodes the result into
// result (which may be nil). A JSON-RPC error from the node is returned as
// *types.RPCError.
func (c *WSClient) Call(ctx context.Context, method string, params []any, result any) error {
	resp, err := c.roundTrip(ctx, method, params, nil)
	if err != nil {
		return err
	}
	if result == nil || len(resp.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Result, result); err != nil {
		return ErrUnmarshalResponse{Source: err, Description: method}
	}
	return nil
}

// Subscribe calls method and registers a subscription for the id the node
// returns. Notifications are buffered up to buffer entries; once the buffer
// is full further notifications are dropped and counted, so a slow consumer
// never stalls the read routine.
func (c *WSClient) Subscribe(ctx context.Context, method, unsubscribeMethod string, params []any, buffer int) (*Subscription, error) {
	sub := &Subscription{
		Method:      method,
		unsubscribe: unsubscribeMethod,
		client:      c,
		ch:          make(chan json.RawMessage, buffer),
	}
	if _, err := c.roundTrip(ctx, method, params, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

func (c *WSClient) roundTrip(ctx context.Context, method string, params []any, sub *Subscription) (types.RPCResponse, error) {
	id := types.JSONRPCIntID(c.nextID.Add(1))
	req, err := types.ArrayToRequest(id, method, params)
	if err != nil {
		return types.RPCResponse{}, ErrEncodingParams{Source: err}
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return types.RPCResponse{}, ErrMarshalRequest{Source: err}
	}

	call := &pendingCall{ch: make(chan types.RPCResponse, 1), sub: sub}
	c.mtx.Lock()
	select {
	case <-c.dead:
		c.mtx.Unlock()
		return types.RPCResponse{}, ErrConnectionClosed{Source: c.err}
	default:
	}
	c.pending[id] = call
	c.mtx.Unlock()
	defer func() {
		c.mtx.Lock()
		delete(c.pending, id)
		c.mtx.Unlock()
	}()

	select {
	case c.send <- payload:
	case <-ctx.Done():
		return types.RPCResponse{}, ctx.Err()
	case <-c.dead:
		return types.RPCResponse{}, ErrConnectionClosed{Source: c.err}
	}

	select {
	case resp := <-call.ch:
		if resp.Error != nil {
			return resp, resp.Error
		}
		return resp, nil
	case <-ctx.Done():
		return types.RPCResponse{}, ctx.Err()
	case <-c.dead:
		return types.RPCResponse{}, ErrConnectionClosed{Source: c.err}
	}
}

// fail closes the transport with reason err. Only the first call has effect.
func (c *WSClient) fail(err error) {
	c.failOnce.Do(func() {
		c.mtx.Lock()
		c.err = err
		close(c.dead)
		for id, s := range c.subs {
			delete(c.subs, id)
			close(s.ch)
		}
		c.mtx.Unlock()
		if c.conn != nil {
			// unblocks the read routine
			c.conn.Close()
		}
	})
}

// The client ensures that there is at most one writer to a connection by
// executing all writes from this goroutine.
func (c *WSClient) writeRoutine() {
	ticker := time.NewTicker(c.pingPeriod)
	defer func() {
		ticker.Stop()
		c.wg.Done()
	}()

	for {
		select {
		case payload := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeWait)); err != nil {
				c.Logger.Error("Failed to set write deadline", "err", err)
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.Logger.Error("failed to send request", "err", err)
				c.fail(err)
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeWait)); err != nil {
				c.Logger.Error("Failed to set write deadline", "err", err)
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, []byte{}); err != nil {
				c.Logger.Error("failed to write ping", "err", err)
				c.fail(err)
				return
			}
			c.pingMtx.Lock()
			c.sentLastPingAt = time.Now()
			c.pingMtx.Unlock()
			c.Logger.Debug("sent ping")
		case <-c.dead:
			return
		}
	}
}

// The client ensures that there is at most one reader to a connection by
// executing all reads from this goroutine.
func (c *WSClient) readRoutine() {
	defer c.wg.Done()

	c.conn.SetPongHandler(func(string) error {
		// gather latency stats
		c.pingMtx.Lock()
		t := c.sentLastPingAt
		c.pingMtx.Unlock()
		if !t.IsZero() {
			c.PingPongLatencyTimer.UpdateSince(t)
		}
		c.Logger.Debug("got pong")
		return c.conn.SetReadDeadline(time.Now().Add(c.readWait))
	})

	for {
		// reset deadline for every message type (control or data)
		if err := c.conn.SetReadDeadline(time.Now().Add(c.readWait)); err != nil {
			c.Logger.Error("failed to set read deadline", "err", err)
		}
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				err = fmt.Errorf("%w: %v", ErrPongTimeout, err)
			}
			select {
			case <-c.dead:
				// closed locally
			default:
				c.Logger.Error("failed to read response", "err", err)
			}
			c.fail(err)
			return
		}
		c.dispatch(data)
	}
}

func (c *WSClient) dispatch(data []byte) {
	resp, notification, err := types.ParseMessage(data)
	if err != nil {
		c.Logger.Error("failed to parse message", "err", err, "data", truncate(data))
		return
	}
	if notification != nil {
		c.deliver(notification)
		return
	}

	id, ok := resp.ID.(types.JSONRPCIntID)
	if !ok {
		c.Logger.Error("response with unexpected id", "id", resp.ID)
		return
	}
	c.mtx.Lock()
	call, ok := c.pending[id]
	if ok && call.sub != nil && resp.Error == nil {
		// Register before any later message is read so that no
		// notification for this subscription can be missed.
		call.sub.ID = types.SubscriptionID(resp.Result)
		c.subs[call.sub.ID] = call.sub
	}
	c.mtx.Unlock()
	if !ok {
		c.Logger.Debug("response for unknown request", "id", id)
		return
	}
	call.ch <- *resp
}

func (c *WSClient) deliver(n *types.RPCNotification) {
	id := n.Params.SubscriptionID()
	c.mtx.Lock()
	defer c.mtx.Unlock()
	sub, ok := c.subs[id]
	if !ok {
		c.Logger.Debug("notification for unknown subscription", "method", n.Method, "subscription", id)
		return
	}
	select {
	case sub.ch <- n.Params.Result:
	default:
		sub.dropped.Add(1)
		c.Logger.Debug("dropped notification, subscriber is behind", "method", n.Method, "subscription", id)
	}
}

func truncate(b []byte) string {
	const maxLen = 256
	if len(b) > maxLen {
		return string(b[:maxLen]) + "..."
	}
	return string(b)
}

// Subscription is a server-side subscription registered on a WSClient.
type Subscription struct {
	ID     string
	Method string

	unsubscribe string
	client      *WSClient
	ch          chan json.RawMessage
	dropped     atomic.Uint64
}

// Notifications yields the result payload of each notification. The channel
// is closed when the subscription ends or the transport fails.
func (s *Subscription) Notifications() <-chan json.RawMessage {
	return s.ch
}

// Dropped returns the number of notifications discarded because the buffer was full.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Unsubscribe removes the subscription locally and asks the node to cancel it.
func (s *Subscription) Unsubscribe(ctx context.Context) error {
	c := s.client
	c.mtx.Lock()
	_, ok := c.subs[s.ID]
	if ok {
		delete(c.subs, s.ID)
		close(s.ch)
	}
	c.mtx.Unlock()
	if !ok {
		return nil
	}
	if s.unsubscribe == "" {
		return nil
	}
	var result bool
	return c.Call(ctx, s.unsubscribe, []any{s.ID}, &result)
}

func (s *Subscription) String() string {
	return strings.Join([]string{s.Method, s.ID}, "/")
}
