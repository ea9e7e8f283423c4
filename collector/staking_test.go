package collector

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainmon/substrate-exporter/chain"
	"github.com/chainmon/substrate-exporter/chain/chaintest"
	"github.com/chainmon/substrate-exporter/config"
	"github.com/chainmon/substrate-exporter/libs/log"
	"github.com/chainmon/substrate-exporter/registry"
	"github.com/chainmon/substrate-exporter/scale"
	. "github.com/chainmon/substrate-exporter/scale/scaletest"
)

const unit = 1_000_000_000_000

func exposureValue(total, own uint64, nominators ...byte) scale.Value {
	others := make([]scale.Value, len(nominators))
	for i, n := range nominators {
		others[i] = Composite(Field("who", Bytes(Account(n))), Field("value", U(unit)))
	}
	return Composite(Field("total", U(total*unit)), Field("own", U(own*unit)), Field("others", Seq(others...)))
}

func identityValue(display string) scale.Value {
	return Composite(
		Field("deposit", U(0)),
		Field("info", Composite(Field("display", RawData(display)), Field("legal", None()), Field("web", None()))),
	)
}

func newStakingCollector(t *testing.T) (*Collector, *chain.Client, *chaintest.Node, *registry.Registry) {
	t.Helper()
	node := chaintest.NewNode(t)
	ccfg := config.TestChainConfig()
	ccfg.Endpoint = node.URL()
	client, err := chain.Dial(context.Background(), ccfg, chain.WithLogger(log.TestingLogger()))
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	reg := registry.New()
	c, err := New(config.TestCollectorConfig(), reg, WithLogger(log.TestingLogger()))
	require.NoError(t, err)
	return c, client, node, reg
}

func TestQueryStaking(t *testing.T) {
	c, client, node, reg := newStakingCollector(t)
	era := scale.EncodeUint32(5)
	prev := scale.EncodeUint32(4)
	prefs := Composite(Field("commission", U(0)), Field("blocked", Bool(false)))

	node.Set("Staking", "ActiveEra", Composite(Field("index", U(5)), Field("start", None())))
	for i := byte(1); i <= 3; i++ {
		node.Set("Staking", "Validators", prefs, Account(i))
	}
	node.Set("Session", "Validators", Seq(Bytes(Account(1)), Bytes(Account(2))))
	node.Set("Staking", "ErasStakers", exposureValue(300, 100, 10, 11), era, Account(1))
	node.Set("Staking", "ErasStakers", exposureValue(100, 100), era, Account(2))
	node.Set("Staking", "ErasRewardPoints", Composite(
		Field("total", U(30)),
		Field("individual", Seq(
			Tuple(Bytes(Account(1)), U(20)),
			Tuple(Bytes(Account(2)), U(10)),
		)),
	), prev)
	node.Set("Staking", "ErasValidatorReward", U(90*unit), prev)
	node.Set("Identity", "IdentityOf", identityValue("alice"), Account(1))
	node.Set("Identity", "SuperOf", Tuple(Bytes(Account(4)), RawData("node2")), Account(2))
	node.Set("Identity", "IdentityOf", identityValue("bob"), Account(4))

	ctx := context.Background()
	require.NoError(t, c.queryStaking(ctx, client))

	addr1, addr2, addr3 := client.Address(Account(1)), client.Address(Account(2)), client.Address(Account(3))
	v1 := registry.Labels{"validator": addr1, "name": "alice", "status": "active"}
	v2 := registry.Labels{"validator": addr2, "name": "bob/node2", "status": "active"}
	v3 := registry.Labels{"validator": addr3, "name": addr3[:20], "status": "waiting"}
	value := func(name string, labels registry.Labels) float64 {
		t.Helper()
		v, ok := reg.Value(name, labels)
		require.True(t, ok, "%s %v", name, labels)
		return v
	}

	assert.Equal(t, 5.0, value("active_era", nil))
	assert.Equal(t, 3.0, value("validators", nil))

	assert.Equal(t, 100.0, value("validator_self_stake", v1))
	assert.Equal(t, 300.0, value("validator_total_stake", v1))
	assert.Equal(t, 200.0, value("validator_nominations", v1))
	assert.Equal(t, 2.0, value("validator_nominator_count", v1))

	assert.Equal(t, 100.0, value("validator_total_stake", v2))
	assert.Equal(t, 0.0, value("validator_nominations", v2))
	assert.Equal(t, 0.0, value("validator_total_stake", v3))

	assert.InDelta(t, 60.0, value("validator_rewards", registry.Labels{"validator": addr1, "name": "alice", "era": "4"}), 1e-9)
	assert.InDelta(t, 30.0, value("validator_rewards", registry.Labels{"validator": addr2, "name": "bob/node2", "era": "4"}), 1e-9)
	_, ok := reg.Value("validator_rewards", registry.Labels{"validator": addr3, "name": addr3[:20], "era": "4"})
	assert.False(t, ok, "no reward series without points")

	assert.Equal(t, 200.0, value("validator_stake_mean", nil))
	assert.InDelta(t, 141.421356, value("validator_stake_stddev", nil), 1e-6)
	assert.Equal(t, 1.0, value("staking_nakamoto_coefficient", nil))

	// No stake movements on the first run.
	for _, s := range reg.Snapshot() {
		assert.NotContains(t, []string{"validator_caps_in", "validator_caps_out"}, s.Name)
	}

	reads := node.Calls("state_getStorage")
	node.Set("Staking", "ErasStakers", exposureValue(350, 100, 10, 11), era, Account(1))
	node.Set("Staking", "ErasStakers", exposureValue(80, 80), era, Account(2))
	require.NoError(t, c.queryStaking(ctx, client))

	assert.Equal(t, 50.0, value("validator_caps_in", registry.Labels{"validator": addr1, "name": "alice", "type": "nomination"}))
	assert.Equal(t, 20.0, value("validator_caps_out", registry.Labels{"validator": addr2, "name": "bob/node2", "type": "unstake"}))
	_, ok = reg.Value("validator_caps_in", registry.Labels{"validator": addr3, "name": addr3[:20], "type": "nomination"})
	assert.False(t, ok)

	// ActiveEra, Session.Validators, ErasValidatorReward and
	// ErasRewardPoints; identities come from the cache.
	assert.Equal(t, 4, node.Calls("state_getStorage")-reads)
}

func TestQueryStakingWithoutActiveEra(t *testing.T) {
	c, client, _, _ := newStakingCollector(t)
	err := c.queryStaking(context.Background(), client)
	var qerr chain.QueryError
	require.ErrorAs(t, err, &qerr)
	assert.Equal(t, "query", failureReason(err))
}

func TestNakamotoCoefficient(t *testing.T) {
	testCases := []struct {
		stakes []float64
		want   int
	}{
		{nil, 0},
		{[]float64{0, 0}, 0},
		{[]float64{10}, 1},
		{[]float64{10, 10, 10}, 2},
		{[]float64{1, 1, 1, 1, 1, 1, 1, 1, 1, 91}, 1},
		{[]float64{10, 20, 30, 40}, 1},
		{[]float64{25, 25, 25, 25}, 2},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.want, nakamotoCoefficient(tc.stakes), "%v", tc.stakes)
	}
}

func TestVersionAtLeast(t *testing.T) {
	testCases := []struct {
		version, minimum string
		want             bool
	}{
		{"1.2.3-abcdef", "1.2.0", true},
		{"1.2.3-abcdef", "1.2.3", true},
		{"1.1.9-abcdef", "1.2.0", false},
		{"4.0.0-dev-8a1b2c3", "3.0.0", true},
	}
	for _, tc := range testCases {
		got, err := versionAtLeast(tc.version, tc.minimum)
		require.NoError(t, err, tc.version)
		assert.Equal(t, tc.want, got, "%s >= %s", tc.version, tc.minimum)
	}
	_, err := versionAtLeast("not a version", "1.0.0")
	assert.Error(t, err)
}

func TestProcessBlock(t *testing.T) {
	reg := registry.New()
	c, err := New(config.TestCollectorConfig(), reg)
	require.NoError(t, err)
	now := time.Unix(1_700_000_010, 0)
	c.now = func() time.Time { return now }

	c.ProcessBlock(chain.BlockEvent{
		Number:    42,
		Timestamp: time.Unix(1_700_000_004, 0),
		Extrinsics: []chain.Extrinsic{
			{Index: 0, Pallet: "Timestamp", Call: "set", Success: true},
			{Index: 1, Pallet: "Balances", Call: "transfer_keep_alive", Signed: true, Success: true},
			{Index: 2, Pallet: "Balances", Call: "transfer_keep_alive", Signed: true},
		},
		PalletEvents:    map[string]int{"System": 3, "Balances": 1},
		RuntimeUpgraded: true,
	})

	value := func(name string, labels registry.Labels) float64 {
		v, _ := reg.Value(name, labels)
		return v
	}
	assert.Equal(t, 42.0, value("block_height", nil))
	assert.Equal(t, 1_700_000_010.0, value("block_processed_timestamp_seconds", nil))
	assert.Equal(t, 1_700_000_004.0, value("block_timestamp_seconds", nil))
	assert.Equal(t, 6.0, value("block_time_drift_seconds", nil))
	assert.Equal(t, 2.0, value("extrinsics_total", registry.Labels{"outcome": "success"}))
	assert.Equal(t, 1.0, value("extrinsics_total", registry.Labels{"outcome": "failure"}))
	assert.Equal(t, 2.0, value("pallet_calls_total", registry.Labels{"pallet": "Balances"}))
	assert.Equal(t, 3.0, value("pallet_events_total", registry.Labels{"pallet": "System"}))
	assert.Equal(t, 1.0, value("runtime_upgrades_total", nil))
	assert.True(t, reg.Ready())
}

func TestIdentityDataInvalidUTF8(t *testing.T) {
	assert.Equal(t, "caf\uFFFD", identityData(RawData("caf\xc3")))
	assert.Equal(t, "node 1", identityData(RawData("  node 1 ")))
	assert.Equal(t, "", identityData(None()))

	// the sanitised name is accepted by the exposition
	reg := registry.New()
	require.NoError(t, reg.Declare("validator_total_stake", registry.Gauge, "", "validator", "name"))
	require.NoError(t, reg.SetGauge("validator_total_stake",
		registry.Labels{"validator": "a", "name": identityData(RawData("caf\xc3"))}, 1))
	require.NoError(t, reg.SetGauge("validator_total_stake", registry.Labels{"validator": "b", "name": "ok"}, 2))
	families, err := prometheus.Gatherers{prometheus.GathererFunc(reg.Gather)}.Gather()
	require.NoError(t, err)
	require.Len(t, families, 1)
	assert.Len(t, families[0].GetMetric(), 2)
}
