package collector

import (
	"github.com/go-kit/kit/metrics"

	"github.com/chainmon/substrate-exporter/registry"
)

const (
	// MetricsSubsystem prefixes the exporter's own metrics.
	MetricsSubsystem = "exporter"
)

// Metrics are the metrics written by the collector. Chain metrics are
// published under the configured namespace, the collector's own health
// metrics additionally under MetricsSubsystem.
type Metrics struct {
	// Number of the last processed block.
	BlockHeight metrics.Gauge
	// Wall clock time the last block was processed at.
	BlockProcessedTimestamp metrics.Gauge
	// On-chain timestamp of the last processed block.
	BlockTimestamp metrics.Gauge
	// Wall clock time minus on-chain timestamp of the last block.
	BlockTimeDrift metrics.Gauge
	// Extrinsics by outcome.
	Extrinsics metrics.Counter
	// Extrinsics in the last processed block.
	BlockExtrinsics metrics.Gauge
	// Extrinsics by pallet.
	PalletCalls metrics.Counter
	// Events by pallet.
	PalletEvents metrics.Counter
	// Runtime upgrades observed.
	RuntimeUpgrades metrics.Counter

	NodePeers            metrics.Gauge
	NodeSyncing          metrics.Gauge
	NodeVersionSupported metrics.Gauge
	FinalizedHeight      metrics.Gauge
	FinalityLag          metrics.Gauge
	RuntimeSpecVersion   metrics.Gauge
	ActiveValidators     metrics.Gauge
	TotalIssuance        metrics.Gauge

	ActiveEra           metrics.Gauge
	Validators          metrics.Gauge
	NakamotoCoefficient metrics.Gauge
	StakeMean           metrics.Gauge
	StakeStdDev         metrics.Gauge
	StakeMedian         metrics.Gauge

	// Blocks processed since start.
	BlocksProcessed metrics.Counter
	// Blocks that could not be processed, by reason.
	BlockFailures metrics.Counter
	// Periodic query failures, by query.
	QueryFailures metrics.Counter
	// Periodic query ticks skipped because the previous run was outstanding.
	QuerySkipped metrics.Counter
	// Duration of the last successful run, by query.
	QueryDuration metrics.Gauge
}

// Names of the metrics with dynamic label-sets, written with
// Registry.ReplaceGauge.
type gaugeNames struct {
	nodeInfo       string
	selfStake      string
	totalStake     string
	nominations    string
	nominatorCount string
	rewards        string
	capsIn         string
	capsOut        string
}

type declaration struct {
	name   string
	typ    registry.Type
	help   string
	labels []string
}

func metricName(namespace, name string) string {
	if namespace == "" {
		return name
	}
	return namespace + "_" + name
}

// declareMetrics declares the collector's metrics in reg and returns
// adapters writing to them. It fails if a name clashes with an earlier
// declaration.
func declareMetrics(reg *registry.Registry, namespace string) (*Metrics, gaugeNames, error) {
	n := func(name string) string { return metricName(namespace, name) }
	self := func(name string) string { return metricName(namespace, MetricsSubsystem+"_"+name) }
	names := gaugeNames{
		nodeInfo:       n("node_info"),
		selfStake:      n("validator_self_stake"),
		totalStake:     n("validator_total_stake"),
		nominations:    n("validator_nominations"),
		nominatorCount: n("validator_nominator_count"),
		rewards:        n("validator_rewards"),
		capsIn:         n("validator_caps_in"),
		capsOut:        n("validator_caps_out"),
	}
	validatorLabels := []string{"validator", "name", "status"}
	decls := []declaration{
		{n("block_height"), registry.Gauge, "Number of the last processed block.", nil},
		{n("block_processed_timestamp_seconds"), registry.Gauge, "Unix time the last block was processed at.", nil},
		{n("block_timestamp_seconds"), registry.Gauge, "On-chain timestamp of the last processed block.", nil},
		{n("block_time_drift_seconds"), registry.Gauge, "Processing time minus on-chain timestamp of the last block.", nil},
		{n("extrinsics_total"), registry.Counter, "Extrinsics in processed blocks by outcome.", []string{"outcome"}},
		{n("block_extrinsics"), registry.Gauge, "Extrinsics in the last processed block.", nil},
		{n("pallet_calls_total"), registry.Counter, "Extrinsics in processed blocks by pallet.", []string{"pallet"}},
		{n("pallet_events_total"), registry.Counter, "Events in processed blocks by pallet.", []string{"pallet"}},
		{n("runtime_upgrades_total"), registry.Counter, "Runtime upgrades observed.", nil},

		{n("node_peers"), registry.Gauge, "Peers connected to the node.", nil},
		{n("node_syncing"), registry.Gauge, "1 if the node is syncing.", nil},
		{names.nodeInfo, registry.Gauge, "Chain, name and version of the node.", []string{"chain", "name", "version"}},
		{n("node_version_supported"), registry.Gauge, "1 if the node version is at least the configured minimum.", nil},
		{n("finalized_height"), registry.Gauge, "Number of the last finalized block.", nil},
		{n("finality_lag_blocks"), registry.Gauge, "Best block number minus finalized block number.", nil},
		{n("runtime_spec_version"), registry.Gauge, "Spec version of the runtime.", nil},
		{n("active_validators"), registry.Gauge, "Validators in the current session.", nil},
		{n("total_issuance"), registry.Gauge, "Total issuance in tokens.", nil},

		{n("active_era"), registry.Gauge, "Index of the active era.", nil},
		{n("validators"), registry.Gauge, "Validator candidates, active and waiting.", nil},
		{n("staking_nakamoto_coefficient"), registry.Gauge, "Smallest number of active validators holding more than a third of the active stake.", nil},
		{n("validator_stake_mean"), registry.Gauge, "Mean total stake of active validators in tokens.", nil},
		{n("validator_stake_stddev"), registry.Gauge, "Standard deviation of the total stake of active validators in tokens.", nil},
		{n("validator_stake_median"), registry.Gauge, "Median total stake of active validators in tokens.", nil},
		{names.selfStake, registry.Gauge, "Validator self stake in tokens.", validatorLabels},
		{names.totalStake, registry.Gauge, "Validator total stake in tokens.", validatorLabels},
		{names.nominations, registry.Gauge, "Stake nominated to the validator in tokens.", validatorLabels},
		{names.nominatorCount, registry.Gauge, "Number of nominators backing the validator.", validatorLabels},
		{names.rewards, registry.Gauge, "Validator rewards of the last completed era in tokens.", []string{"validator", "name", "era"}},
		{names.capsIn, registry.Gauge, "Stake added to the validator since the previous run in tokens.", []string{"validator", "name", "type"}},
		{names.capsOut, registry.Gauge, "Stake removed from the validator since the previous run in tokens.", []string{"validator", "name", "type"}},

		{self("blocks_processed_total"), registry.Counter, "Blocks processed.", nil},
		{self("block_failures_total"), registry.Counter, "Blocks that could not be processed.", []string{"reason"}},
		{self("query_failures_total"), registry.Counter, "Failed periodic query runs.", []string{"query"}},
		{self("query_skipped_total"), registry.Counter, "Periodic query ticks skipped while the previous run was outstanding.", []string{"query"}},
		{self("query_duration_seconds"), registry.Gauge, "Duration of the last successful periodic query run.", []string{"query"}},
	}
	for _, d := range decls {
		if err := reg.Declare(d.name, d.typ, d.help, d.labels...); err != nil {
			return nil, names, err
		}
	}

	gauge := func(name string) metrics.Gauge { return registry.NewGauge(reg, name) }
	counter := func(name string) metrics.Counter { return registry.NewCounter(reg, name) }
	return &Metrics{
		BlockHeight:             gauge(n("block_height")),
		BlockProcessedTimestamp: gauge(n("block_processed_timestamp_seconds")),
		BlockTimestamp:          gauge(n("block_timestamp_seconds")),
		BlockTimeDrift:          gauge(n("block_time_drift_seconds")),
		Extrinsics:              counter(n("extrinsics_total")),
		BlockExtrinsics:         gauge(n("block_extrinsics")),
		PalletCalls:             counter(n("pallet_calls_total")),
		PalletEvents:            counter(n("pallet_events_total")),
		RuntimeUpgrades:         counter(n("runtime_upgrades_total")),

		NodePeers:            gauge(n("node_peers")),
		NodeSyncing:          gauge(n("node_syncing")),
		NodeVersionSupported: gauge(n("node_version_supported")),
		FinalizedHeight:      gauge(n("finalized_height")),
		FinalityLag:          gauge(n("finality_lag_blocks")),
		RuntimeSpecVersion:   gauge(n("runtime_spec_version")),
		ActiveValidators:     gauge(n("active_validators")),
		TotalIssuance:        gauge(n("total_issuance")),

		ActiveEra:           gauge(n("active_era")),
		Validators:          gauge(n("validators")),
		NakamotoCoefficient: gauge(n("staking_nakamoto_coefficient")),
		StakeMean:           gauge(n("validator_stake_mean")),
		StakeStdDev:         gauge(n("validator_stake_stddev")),
		StakeMedian:         gauge(n("validator_stake_median")),

		BlocksProcessed: counter(self("blocks_processed_total")),
		BlockFailures:   counter(self("block_failures_total")),
		QueryFailures:   counter(self("query_failures_total")),
		QuerySkipped:    counter(self("query_skipped_total")),
		QueryDuration:   gauge(self("query_duration_seconds")),
	}, names, nil
}
