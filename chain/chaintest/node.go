// Package chaintest provides an in-process Substrate node speaking JSON-RPC
// over websocket, backed by the synthetic runtime of scaletest.
package chaintest

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chainmon/substrate-exporter/chain"
	types "github.com/chainmon/substrate-exporter/rpc/jsonrpc/types"
	"github.com/chainmon/substrate-exporter/scale"
	"github.com/chainmon/substrate-exporter/scale/scaletest"
)

// Block is a block known to the node.
type Block struct {
	Header     chain.Header
	Hash       chain.Hash
	Extrinsics []chain.HexBytes
	// Raw value of System.Events at this block.
	Events []byte
}

// Node is a mock node. The zero value is not usable; use NewNode.
type Node struct {
	Runtime *scaletest.Runtime

	server   *httptest.Server
	upgrader websocket.Upgrader

	mtx            sync.Mutex
	blocks         map[uint64]*Block
	byHash         map[chain.Hash]*Block
	storage        map[string][]byte
	best           uint64
	finalized      uint64
	delays         map[string]time.Duration
	errs           map[string]*types.RPCError
	calls          map[string]int
	conns          map[*conn]struct{}
	nextSub        int
	silent         bool
	runtimeVersion chain.RuntimeVersion
	properties     map[string]any
	health         chain.Health
	version        string
}

type conn struct {
	ws   *websocket.Conn
	mtx  sync.Mutex
	subs map[string]string // id -> subscribe method
}

func (c *conn) write(v any) error {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.ws.WriteJSON(v)
}

// NewNode starts a node that is stopped when the test ends.
func NewNode(t testing.TB) *Node {
	t.Helper()
	n := &Node{
		Runtime: scaletest.NewRuntime(),
		blocks:  make(map[uint64]*Block),
		byHash:  make(map[chain.Hash]*Block),
		storage: make(map[string][]byte),
		delays:  make(map[string]time.Duration),
		errs:    make(map[string]*types.RPCError),
		calls:   make(map[string]int),
		conns:   make(map[*conn]struct{}),
		runtimeVersion: chain.RuntimeVersion{
			SpecName:           "node-test",
			ImplName:           "substrate-node",
			SpecVersion:        100,
			ImplVersion:        1,
			TransactionVersion: 1,
		},
		properties: map[string]any{"ss58Format": 42, "tokenDecimals": 12, "tokenSymbol": "UNIT"},
		health:     chain.Health{Peers: 3, ShouldHavePeers: true},
		version:    "1.2.3-abcdef",
	}
	n.server = httptest.NewServer(http.HandlerFunc(n.serveWS))
	t.Cleanup(n.Close)
	return n
}

// URL returns the websocket endpoint.
func (n *Node) URL() string {
	return "ws" + strings.TrimPrefix(n.server.URL, "http")
}

// Close drops all connections and stops the server.
func (n *Node) Close() {
	n.DropConnections()
	n.server.Close()
}

// DropConnections closes every open websocket, as a node restart would.
func (n *Node) DropConnections() {
	n.mtx.Lock()
	conns := make([]*conn, 0, len(n.conns))
	for c := range n.conns {
		conns = append(conns, c)
	}
	n.mtx.Unlock()
	for _, c := range conns {
		c.ws.Close()
	}
}

// SilencePings makes new connections ignore pings.
func (n *Node) SilencePings() {
	n.mtx.Lock()
	n.silent = true
	n.mtx.Unlock()
}

// SetDelay delays every response to method by d.
func (n *Node) SetDelay(method string, d time.Duration) {
	n.mtx.Lock()
	n.delays[method] = d
	n.mtx.Unlock()
}

// SetError makes method fail with the given error. A zero code clears it.
func (n *Node) SetError(method string, code int, msg string) {
	n.mtx.Lock()
	defer n.mtx.Unlock()
	if code == 0 {
		delete(n.errs, method)
		return
	}
	n.errs[method] = &types.RPCError{Code: code, Message: msg}
}

// Calls returns the number of requests received for method.
func (n *Node) Calls(method string) int {
	n.mtx.Lock()
	defer n.mtx.Unlock()
	return n.calls[method]
}

// SetHealth sets the system_health response.
func (n *Node) SetHealth(h chain.Health) {
	n.mtx.Lock()
	n.health = h
	n.mtx.Unlock()
}

// SetVersion sets the system_version response.
func (n *Node) SetVersion(v string) {
	n.mtx.Lock()
	n.version = v
	n.mtx.Unlock()
}

// SetSpecVersion sets the spec version reported by state_getRuntimeVersion.
func (n *Node) SetSpecVersion(v uint32) {
	n.mtx.Lock()
	n.runtimeVersion.SpecVersion = v
	n.mtx.Unlock()
}

// SetStorage sets the value under key; nil removes it.
func (n *Node) SetStorage(key, value []byte) {
	n.mtx.Lock()
	defer n.mtx.Unlock()
	if value == nil {
		delete(n.storage, string(key))
		return
	}
	n.storage[string(key)] = value
}

// Set encodes v as the value of pallet.item with the given map keys.
func (n *Node) Set(pallet, item string, v scale.Value, keys ...[]byte) {
	n.SetStorage(n.Runtime.StorageKey(pallet, item, keys...), n.Runtime.Storage(pallet, item, v))
}

// AddBlock adds a block with the given extrinsics and raw events and makes
// it the best block if it is the highest.
func (n *Node) AddBlock(number uint64, extrinsics [][]byte, events []byte) *Block {
	n.mtx.Lock()
	defer n.mtx.Unlock()
	b := &Block{
		Header: chain.Header{
			Number: chain.BlockNumber(number),
			Digest: chain.Digest{Logs: []chain.HexBytes{}},
		},
		Events: events,
	}
	if parent, ok := n.blocks[number-1]; ok && number > 0 {
		b.Header.ParentHash = parent.Hash
	}
	copy(b.Header.StateRoot[:], scale.Blake2b256(scale.EncodeUint64(number)))
	for _, x := range extrinsics {
		b.Extrinsics = append(b.Extrinsics, x)
	}
	if b.Extrinsics == nil {
		b.Extrinsics = []chain.HexBytes{}
	}
	b.Hash = b.Header.Hash()
	n.blocks[number] = b
	n.byHash[b.Hash] = b
	if number > n.best {
		n.best = number
	}
	return b
}

// AddRemarkBlock adds a block with a timestamp inherent and the given
// number of successful and failed signed remarks.
func (n *Node) AddRemarkBlock(number, timestampMs uint64, ok, failed int) *Block {
	rt := n.Runtime
	xts := [][]byte{rt.TimestampSet(timestampMs)}
	evs := []scaletest.Event{scaletest.Success(0)}
	for i := 0; i < ok+failed; i++ {
		xts = append(xts, rt.Remark())
		if i < ok {
			evs = append(evs, scaletest.Success(i+1))
		} else {
			evs = append(evs, scaletest.Failed(i+1))
		}
	}
	return n.AddBlock(number, xts, rt.Events(evs...))
}

// Block returns the block at number.
func (n *Node) Block(number uint64) *Block {
	n.mtx.Lock()
	defer n.mtx.Unlock()
	return n.blocks[number]
}

// NewHead announces block number to new-head subscribers.
func (n *Node) NewHead(number uint64) {
	n.notify("chain_subscribeNewHeads", "chain_newHead", number)
}

// Finalize marks block number finalized and announces it.
func (n *Node) Finalize(number uint64) {
	n.mtx.Lock()
	n.finalized = number
	n.mtx.Unlock()
	n.notify("chain_subscribeFinalizedHeads", "chain_finalizedHead", number)
}

func (n *Node) notify(subscribeMethod, method string, number uint64) {
	n.mtx.Lock()
	b, ok := n.blocks[number]
	type target struct {
		c  *conn
		id string
	}
	var targets []target
	for c := range n.conns {
		c.mtx.Lock()
		for id, m := range c.subs {
			if m == subscribeMethod {
				targets = append(targets, target{c, id})
			}
		}
		c.mtx.Unlock()
	}
	n.mtx.Unlock()
	if !ok {
		panic(fmt.Sprintf("chaintest: no block %d", number))
	}
	for _, t := range targets {
		_ = t.c.write(map[string]any{
			"jsonrpc": "2.0",
			"method":  method,
			"params":  map[string]any{"subscription": t.id, "result": b.Header},
		})
	}
}

func (n *Node) serveWS(w http.ResponseWriter, r *http.Request) {
	ws, err := n.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &conn{ws: ws, subs: make(map[string]string)}
	n.mtx.Lock()
	n.conns[c] = struct{}{}
	silent := n.silent
	n.mtx.Unlock()
	defer func() {
		n.mtx.Lock()
		delete(n.conns, c)
		n.mtx.Unlock()
		ws.Close()
	}()
	if silent {
		ws.SetPingHandler(func(string) error { return nil })
	}
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var req types.RPCRequest
		if err := json.Unmarshal(data, &req); err != nil {
			_ = c.write(types.RPCParseError(err))
			continue
		}
		go n.handle(c, req)
	}
}

func (n *Node) handle(c *conn, req types.RPCRequest) {
	n.mtx.Lock()
	n.calls[req.Method]++
	delay := n.delays[req.Method]
	rpcErr := n.errs[req.Method]
	n.mtx.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	if rpcErr != nil {
		_ = c.write(types.NewRPCErrorResponse(req.ID, rpcErr.Code, rpcErr.Message, ""))
		return
	}
	var params []json.RawMessage
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			_ = c.write(types.RPCInvalidParamsError(req.ID, err))
			return
		}
	}
	result, err := n.dispatch(c, req.Method, params)
	if err != nil {
		_ = c.write(types.RPCInvalidParamsError(req.ID, err))
		return
	}
	_ = c.write(types.NewRPCSuccessResponse(req.ID, result))
}

func (n *Node) dispatch(c *conn, method string, params []json.RawMessage) (any, error) {
	n.mtx.Lock()
	defer n.mtx.Unlock()
	switch method {
	case "state_getMetadata":
		return chain.HexBytes(n.Runtime.Raw), nil
	case "state_getRuntimeVersion":
		return n.runtimeVersion, nil
	case "system_properties":
		return n.properties, nil
	case "system_health":
		return n.health, nil
	case "system_version":
		return n.version, nil
	case "system_name":
		return "substrate-node", nil
	case "system_chain":
		return "Development", nil
	case "chain_subscribeNewHeads", "chain_subscribeFinalizedHeads":
		n.nextSub++
		id := fmt.Sprintf("sub-%d", n.nextSub)
		c.mtx.Lock()
		c.subs[id] = method
		c.mtx.Unlock()
		return id, nil
	case "chain_unsubscribeNewHeads", "chain_unsubscribeFinalizedHeads":
		var id string
		if err := param(params, 0, &id); err != nil {
			return nil, err
		}
		c.mtx.Lock()
		_, ok := c.subs[id]
		delete(c.subs, id)
		c.mtx.Unlock()
		return ok, nil
	case "chain_getBlockHash":
		number := n.best
		if len(params) > 0 {
			if err := param(params, 0, &number); err != nil {
				return nil, err
			}
		}
		if b, ok := n.blocks[number]; ok {
			return b.Hash, nil
		}
		return (*chain.Hash)(nil), nil
	case "chain_getFinalizedHead":
		if b, ok := n.blocks[n.finalized]; ok {
			return b.Hash, nil
		}
		return chain.Hash{}, nil
	case "chain_getHeader":
		b, err := n.blockAt(params, 0)
		if err != nil || b == nil {
			return nil, err
		}
		return b.Header, nil
	case "chain_getBlock":
		b, err := n.blockAt(params, 0)
		if err != nil || b == nil {
			return nil, err
		}
		return map[string]any{
			"block":          map[string]any{"header": b.Header, "extrinsics": b.Extrinsics},
			"justifications": nil,
		}, nil
	case "state_getStorage":
		var key chain.HexBytes
		if err := param(params, 0, &key); err != nil {
			return nil, err
		}
		b, err := n.blockAt(params, 1)
		if err != nil {
			return nil, err
		}
		return n.get(key, b), nil
	case "state_getKeysPaged":
		var (
			prefix chain.HexBytes
			count  int
			start  *chain.HexBytes
		)
		if err := param(params, 0, &prefix); err != nil {
			return nil, err
		}
		if err := param(params, 1, &count); err != nil {
			return nil, err
		}
		if len(params) > 2 {
			if err := json.Unmarshal(params[2], &start); err != nil {
				return nil, err
			}
		}
		keys := make([]string, 0)
		for k := range n.storage {
			if strings.HasPrefix(k, string(prefix)) && (start == nil || k > string(*start)) {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		if len(keys) > count {
			keys = keys[:count]
		}
		out := make([]chain.HexBytes, len(keys))
		for i, k := range keys {
			out[i] = chain.HexBytes(k)
		}
		return out, nil
	case "state_queryStorageAt":
		var keys []chain.HexBytes
		if err := param(params, 0, &keys); err != nil {
			return nil, err
		}
		b, err := n.blockAt(params, 1)
		if err != nil {
			return nil, err
		}
		changes := make([][]any, 0, len(keys))
		for _, k := range keys {
			changes = append(changes, []any{k, n.get(k, b)})
		}
		var at chain.Hash
		if b != nil {
			at = b.Hash
		} else if best, ok := n.blocks[n.best]; ok {
			at = best.Hash
		}
		return []any{map[string]any{"block": at, "changes": changes}}, nil
	}
	return nil, fmt.Errorf("method %s not found", method)
}

// get reads storage; System.Events is served per block.
func (n *Node) get(key []byte, at *Block) *chain.HexBytes {
	if bytes.Equal(key, scale.StoragePrefix("System", "Events")) {
		if at == nil {
			at = n.blocks[n.best]
		}
		if at == nil || at.Events == nil {
			return nil
		}
		v := chain.HexBytes(at.Events)
		return &v
	}
	v, ok := n.storage[string(key)]
	if !ok {
		return nil
	}
	out := chain.HexBytes(v)
	return &out
}

// blockAt resolves an optional block hash parameter. A missing or null
// hash means the best block and yields nil.
func (n *Node) blockAt(params []json.RawMessage, i int) (*Block, error) {
	if len(params) <= i || string(params[i]) == "null" {
		if i == 0 {
			return n.blocks[n.best], nil
		}
		return nil, nil
	}
	var h chain.Hash
	if err := json.Unmarshal(params[i], &h); err != nil {
		return nil, err
	}
	b, ok := n.byHash[h]
	if !ok {
		return nil, fmt.Errorf("unknown block %s", hex.EncodeToString(h[:]))
	}
	return b, nil
}

func param(params []json.RawMessage, i int, v any) error {
	if len(params) <= i {
		return fmt.Errorf("missing param %d", i)
	}
	return json.Unmarshal(params[i], v)
}
