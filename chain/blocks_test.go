package chain_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainmon/substrate-exporter/chain"
	"github.com/chainmon/substrate-exporter/chain/chaintest"
	"github.com/chainmon/substrate-exporter/config"
	. "github.com/chainmon/substrate-exporter/scale/scaletest"
)

func subscribe(t *testing.T, c *chain.Client) *chain.BlockSubscription {
	t.Helper()
	sub, err := c.SubscribeBlocks(context.Background())
	require.NoError(t, err)
	t.Cleanup(sub.Close)
	return sub
}

func TestSubscribeBlocksInOrder(t *testing.T) {
	node := chaintest.NewNode(t)
	c := dial(t, node)
	const ts = 1_700_000_000_000
	node.AddRemarkBlock(100, ts, 3, 0)
	node.AddRemarkBlock(101, ts+6000, 0, 0)
	node.AddRemarkBlock(102, ts+12000, 4, 1)

	sub := subscribe(t, c)
	node.NewHead(100)
	node.NewHead(101)
	node.NewHead(102)

	ev := next(t, sub)
	assert.EqualValues(t, 100, ev.Number)
	assert.Equal(t, node.Block(100).Hash, ev.Hash)
	assert.Equal(t, time.UnixMilli(ts).UTC(), ev.Timestamp)
	assert.False(t, ev.Finalized)
	require.Len(t, ev.Extrinsics, 4)
	assert.Equal(t, chain.Extrinsic{Index: 0, Pallet: "Timestamp", Call: "set", Success: true}, ev.Extrinsics[0])
	assert.Equal(t, chain.Extrinsic{Index: 1, Pallet: "System", Call: "remark", Signed: true, Success: true}, ev.Extrinsics[1])
	ok, failed := ev.CountOutcomes()
	assert.Equal(t, 4, ok)
	assert.Equal(t, 0, failed)
	assert.Equal(t, 4, ev.PalletEvents["System"])

	ev = next(t, sub)
	assert.EqualValues(t, 101, ev.Number)
	assert.Equal(t, node.Block(100).Hash, ev.ParentHash)

	ev = next(t, sub)
	assert.EqualValues(t, 102, ev.Number)
	ok, failed = ev.CountOutcomes()
	assert.Equal(t, 5, ok)
	assert.Equal(t, 1, failed)

	assert.EqualValues(t, 102, c.Connection().LastBlock)
}

func TestSubscribeBlocksBackfillsGaps(t *testing.T) {
	node := chaintest.NewNode(t)
	c := dial(t, node)
	for n := uint64(1); n <= 5; n++ {
		node.AddRemarkBlock(n, n*6000, int(n), 0)
	}

	sub := subscribe(t, c)
	node.NewHead(1)
	node.NewHead(4)

	for want := uint64(1); want <= 4; want++ {
		ev := next(t, sub)
		assert.Equal(t, want, ev.Number)
		require.Len(t, ev.Extrinsics, int(want)+1)
	}
	assert.GreaterOrEqual(t, node.Calls("chain_getBlockHash"), 2)
}

func TestSubscribeBlocksBackfillLimit(t *testing.T) {
	node := chaintest.NewNode(t)
	c := dial(t, node, func(cfg *config.ChainConfig) { cfg.MaxBackfill = 2 })
	for n := uint64(1); n <= 10; n++ {
		node.AddRemarkBlock(n, n*6000, 0, 0)
	}

	sub := subscribe(t, c)
	node.NewHead(1)
	node.NewHead(10)

	var got []uint64
	for i := 0; i < 4; i++ {
		got = append(got, next(t, sub).Number)
	}
	assert.Equal(t, []uint64{1, 8, 9, 10}, got)
}

func TestSubscribeBlocksSkipsStaleHeaders(t *testing.T) {
	node := chaintest.NewNode(t)
	c := dial(t, node)
	for n := uint64(1); n <= 3; n++ {
		node.AddRemarkBlock(n, n*6000, 0, 0)
	}

	sub := subscribe(t, c)
	node.NewHead(2)
	node.NewHead(2)
	node.NewHead(1)
	node.NewHead(3)

	assert.EqualValues(t, 2, next(t, sub).Number)
	assert.EqualValues(t, 3, next(t, sub).Number)
}

func TestSubscribeFinalized(t *testing.T) {
	node := chaintest.NewNode(t)
	c := dial(t, node, func(cfg *config.ChainConfig) { cfg.Follow = config.FollowFinalized })
	node.AddRemarkBlock(1, 6000, 1, 0)
	node.AddRemarkBlock(2, 12000, 1, 0)

	sub := subscribe(t, c)
	node.NewHead(1)
	node.NewHead(2)
	node.Finalize(1)

	ev := next(t, sub)
	assert.EqualValues(t, 1, ev.Number)
	assert.True(t, ev.Finalized)
	assert.Equal(t, 1, node.Calls("chain_subscribeFinalizedHeads"))
}

func TestSubscribeBlocksOnlyOnce(t *testing.T) {
	node := chaintest.NewNode(t)
	c := dial(t, node)

	sub, err := c.SubscribeBlocks(context.Background())
	require.NoError(t, err)
	_, err = c.SubscribeBlocks(context.Background())
	assert.ErrorIs(t, err, chain.ErrSubscriptionActive)

	sub.Close()
	_, err = sub.Next(context.Background())
	assert.ErrorIs(t, err, chain.ErrSubscriptionClosed)

	sub2 := subscribe(t, c)
	assert.NotNil(t, sub2)
}

func TestNextConnectionLost(t *testing.T) {
	node := chaintest.NewNode(t)
	c := dial(t, node)
	sub := subscribe(t, c)

	node.DropConnections()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := sub.Next(ctx)
	require.Error(t, err)
	assert.True(t, chain.IsConnectionLost(err), "got %v", err)

	// the sequence stays terminated
	_, err = sub.Next(ctx)
	assert.True(t, chain.IsConnectionLost(err), "got %v", err)
	assert.Equal(t, chain.Disconnected, c.Connection().State)
}

func TestNextHonoursContext(t *testing.T) {
	node := chaintest.NewNode(t)
	c := dial(t, node)
	sub := subscribe(t, c)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := sub.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNextProtocolErrorKeepsSubscription(t *testing.T) {
	node := chaintest.NewNode(t)
	c := dial(t, node)
	node.AddBlock(1, [][]byte{{0x08, 0xff, 0xff}}, nil)
	node.AddRemarkBlock(2, 12000, 1, 0)

	sub := subscribe(t, c)
	node.NewHead(1)
	node.NewHead(2)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := sub.Next(ctx)
	var perr chain.ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.EqualValues(t, 1, perr.Block)

	assert.EqualValues(t, 2, next(t, sub).Number)
}

func TestRuntimeUpgradeReloadsMetadata(t *testing.T) {
	node := chaintest.NewNode(t)
	c := dial(t, node)
	rt := node.Runtime
	node.AddBlock(1, [][]byte{rt.TimestampSet(6000)}, rt.Events(Success(0), CodeUpdated()))

	sub := subscribe(t, c)
	node.SetSpecVersion(101)
	node.NewHead(1)

	ev := next(t, sub)
	assert.True(t, ev.RuntimeUpgraded)
	assert.EqualValues(t, 101, c.RuntimeVersion().SpecVersion)
	assert.Equal(t, 2, node.Calls("state_getMetadata"))
}
