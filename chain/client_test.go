package chain_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainmon/substrate-exporter/chain"
	"github.com/chainmon/substrate-exporter/chain/chaintest"
	"github.com/chainmon/substrate-exporter/config"
	"github.com/chainmon/substrate-exporter/libs/log"
	types "github.com/chainmon/substrate-exporter/rpc/jsonrpc/types"
	"github.com/chainmon/substrate-exporter/scale"
	. "github.com/chainmon/substrate-exporter/scale/scaletest"
)

func dial(t *testing.T, node *chaintest.Node, mutate ...func(*config.ChainConfig)) *chain.Client {
	t.Helper()
	cfg := config.TestChainConfig()
	cfg.Endpoint = node.URL()
	for _, m := range mutate {
		m(cfg)
	}
	c, err := chain.Dial(context.Background(), cfg, chain.WithLogger(log.TestingLogger()))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func next(t *testing.T, sub *chain.BlockSubscription) chain.BlockEvent {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ev, err := sub.Next(ctx)
	require.NoError(t, err)
	return ev
}

func TestDialLoadsRuntime(t *testing.T) {
	node := chaintest.NewNode(t)
	c := dial(t, node)

	require.NotNil(t, c.Metadata())
	assert.EqualValues(t, 15, c.Metadata().Version)
	assert.EqualValues(t, 100, c.RuntimeVersion().SpecVersion)
	assert.EqualValues(t, 42, c.SS58Prefix())
	assert.Equal(t, 12, c.TokenDecimals())
	assert.Equal(t, "UNIT", c.Properties().TokenSymbol)

	conn := c.Connection()
	assert.Equal(t, chain.Connected, conn.State)
	assert.Equal(t, node.URL(), conn.Endpoint)
}

func TestDialConfigOverrides(t *testing.T) {
	node := chaintest.NewNode(t)
	c := dial(t, node, func(cfg *config.ChainConfig) {
		cfg.SS58Prefix = 0
		cfg.TokenDecimals = 10
	})
	assert.EqualValues(t, 0, c.SS58Prefix())
	assert.Equal(t, 10, c.TokenDecimals())
	assert.InDelta(t, 1.5, c.Tokens(scale.Uint(15_000_000_000).Int), 1e-9)
	pub, network, err := scale.SS58Decode(c.Address(Account(7)))
	require.NoError(t, err)
	assert.EqualValues(t, 0, network)
	assert.Equal(t, Account(7), pub)
}

func TestDialUnreachable(t *testing.T) {
	node := chaintest.NewNode(t)
	url := node.URL()
	node.Close()

	cfg := config.TestChainConfig()
	cfg.Endpoint = url
	_, err := chain.Dial(context.Background(), cfg)
	require.Error(t, err)
	assert.True(t, chain.IsConnectionLost(err), "got %v", err)
}

func TestQueryStorage(t *testing.T) {
	node := chaintest.NewNode(t)
	c := dial(t, node)
	ctx := context.Background()

	node.Set("Session", "Validators", Seq(Bytes(Account(1)), Bytes(Account(2)), Bytes(Account(3))))
	v, found, err := c.QueryStorage(ctx, chain.StorageRequest{Pallet: "Session", Item: "Validators"}, chain.Hash{})
	require.NoError(t, err)
	assert.True(t, found)
	list, err := v.List()
	require.NoError(t, err)
	require.Len(t, list, 3)
	b, err := list[1].AsBytes()
	require.NoError(t, err)
	assert.Equal(t, Account(2), b)

	// default value for an absent default item
	v, found, err = c.QueryStorage(ctx, chain.StorageRequest{Pallet: "Balances", Item: "TotalIssuance"}, chain.Hash{})
	require.NoError(t, err)
	assert.True(t, found)
	n, err := v.Uint64()
	require.NoError(t, err)
	assert.Zero(t, n)

	// absent optional item
	_, found, err = c.QueryStorage(ctx, chain.StorageRequest{Pallet: "Staking", Item: "ActiveEra"}, chain.Hash{})
	require.NoError(t, err)
	assert.False(t, found)
}

func TestQueryStorageErrors(t *testing.T) {
	node := chaintest.NewNode(t)
	c := dial(t, node)
	ctx := context.Background()

	_, _, err := c.QueryStorage(ctx, chain.StorageRequest{Pallet: "Staking", Item: "Nope"}, chain.Hash{})
	var qerr chain.QueryError
	require.ErrorAs(t, err, &qerr)
	assert.ErrorIs(t, err, scale.ErrUnknownItem)

	_, _, err = c.QueryStorage(ctx, chain.StorageRequest{Pallet: "Staking", Item: "Validators"}, chain.Hash{})
	require.ErrorAs(t, err, &qerr, "map item without keys")

	// bytes that do not decode as the value type
	node.SetStorage(node.Runtime.StorageKey("Staking", "CurrentEra"), []byte{1})
	_, _, err = c.QueryStorage(ctx, chain.StorageRequest{Pallet: "Staking", Item: "CurrentEra"}, chain.Hash{})
	var perr chain.ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, chain.Connected, c.Connection().State)
}

func TestQueryStorageMap(t *testing.T) {
	node := chaintest.NewNode(t)
	c := dial(t, node)
	ctx := context.Background()

	prefs := Composite(Field("commission", U(50_000_000)), Field("blocked", Bool(false)))
	for i := byte(1); i <= 3; i++ {
		node.Set("Staking", "Validators", prefs, Account(i))
	}
	for i := byte(1); i <= 2; i++ {
		exposure := Composite(Field("total", U(uint64(i)*100)), Field("own", U(uint64(i)*10)), Field("others", Seq()))
		node.Set("Staking", "ErasStakers", exposure, scale.EncodeUint32(7), Account(i))
	}
	node.Set("Staking", "ErasStakers", Composite(Field("total", U(1)), Field("own", U(1)), Field("others", Seq())),
		scale.EncodeUint32(8), Account(1))

	entries, err := c.QueryStorageMap(ctx, chain.StorageRequest{Pallet: "Staking", Item: "Validators"}, chain.Hash{})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	seen := map[string]bool{}
	for _, e := range entries {
		require.Len(t, e.Args, 1)
		id, err := e.Args[0].AsBytes()
		require.NoError(t, err)
		seen[string(id)] = true
		commission, ok := e.Value.Field("commission")
		require.True(t, ok)
		n, err := commission.Uint64()
		require.NoError(t, err)
		assert.EqualValues(t, 50_000_000, n)
	}
	assert.Len(t, seen, 3)

	entries, err = c.QueryStorageMap(ctx, chain.StorageRequest{
		Pallet: "Staking", Item: "ErasStakers", Keys: [][]byte{scale.EncodeUint32(7)},
	}, chain.Hash{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, e := range entries {
		require.Len(t, e.Args, 2)
		era, err := e.Args[0].Uint64()
		require.NoError(t, err)
		assert.EqualValues(t, 7, era)
	}

	entries, err = c.QueryStorageMap(ctx, chain.StorageRequest{Pallet: "Identity", Item: "IdentityOf"}, chain.Hash{})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCallTimeoutDegradesConnection(t *testing.T) {
	node := chaintest.NewNode(t)
	c := dial(t, node, func(cfg *config.ChainConfig) { cfg.RequestTimeout = 50 * time.Millisecond })

	node.SetDelay("system_health", 300*time.Millisecond)
	var h chain.Health
	err := c.Call(context.Background(), &h, "system_health")
	var qerr chain.QueryError
	require.ErrorAs(t, err, &qerr)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, chain.IsConnectionLost(err))
	assert.Equal(t, chain.Degraded, c.Connection().State)

	node.SetDelay("system_health", 0)
	require.NoError(t, c.Call(context.Background(), &h, "system_health"))
	assert.Equal(t, 3, h.Peers)
	assert.Equal(t, chain.Connected, c.Connection().State)
}

func TestCallNodeError(t *testing.T) {
	node := chaintest.NewNode(t)
	c := dial(t, node)

	node.SetError("system_version", -32000, "boom")
	var v string
	err := c.Call(context.Background(), &v, "system_version")
	var qerr chain.QueryError
	require.ErrorAs(t, err, &qerr)
	var rpcErr *types.RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, -32000, rpcErr.Code)
}

func TestCallAfterConnectionDrop(t *testing.T) {
	node := chaintest.NewNode(t)
	c := dial(t, node)

	node.DropConnections()
	select {
	case <-c.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("client did not notice the dropped connection")
	}
	var v string
	err := c.Call(context.Background(), &v, "system_version")
	assert.True(t, chain.IsConnectionLost(err), "got %v", err)
	assert.Equal(t, chain.Disconnected, c.Connection().State)
	assert.Error(t, c.Connection().LastError)
}

func TestConstant(t *testing.T) {
	node := chaintest.NewNode(t)
	c := dial(t, node)

	v, err := c.Constant("Balances", "ExistentialDeposit")
	require.NoError(t, err)
	n, err := v.Uint64()
	require.NoError(t, err)
	assert.EqualValues(t, 1_000_000_000_000_000, n)

	_, err = c.Constant("Balances", "Nope")
	var qerr chain.QueryError
	assert.True(t, errors.As(err, &qerr))
}
