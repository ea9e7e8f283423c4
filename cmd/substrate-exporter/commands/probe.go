package commands

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/chainmon/substrate-exporter/chain"
	"github.com/chainmon/substrate-exporter/collector"
	"github.com/chainmon/substrate-exporter/registry"
	rpcclient "github.com/chainmon/substrate-exporter/rpc/jsonrpc/client"
)

var (
	probeTimeout time.Duration
	probeHTTP    bool
	probeBlocks  int
)

// ProbeCmd connects to the node once and prints the metrics the exporter
// would serve.
var ProbeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Collect once from the node and print the metrics",
	Long: `Probe dials the configured node, runs the enabled periodic queries once,
waits for the next blocks and prints the resulting exposition. With --http only
the node's HTTP JSON-RPC endpoint is checked.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
		defer cancel()
		if probeHTTP {
			return probeOverHTTP(ctx, cmd.OutOrStdout(), config.Chain.Endpoint)
		}
		return probe(ctx, cmd.OutOrStdout())
	},
}

func init() {
	ProbeCmd.Flags().DurationVar(&probeTimeout, "timeout", 30*time.Second, "deadline of the whole probe")
	ProbeCmd.Flags().BoolVar(&probeHTTP, "http", false, "only check the HTTP JSON-RPC endpoint")
	ProbeCmd.Flags().IntVar(&probeBlocks, "blocks", 1, "number of blocks to wait for")
	AddExporterFlags(ProbeCmd)
}

func probe(ctx context.Context, out io.Writer) error {
	client, err := chain.Dial(ctx, config.Chain, chain.WithLogger(logger.With("module", "chain")))
	if err != nil {
		return err
	}
	defer client.Close()

	rv := client.RuntimeVersion()
	logger.Info("Connected",
		"endpoint", config.Chain.Endpoint,
		"spec", rv.SpecName,
		"spec_version", rv.SpecVersion,
		"ss58_prefix", client.SS58Prefix(),
		"decimals", client.TokenDecimals(),
	)

	reg := registry.New()
	col, err := collector.New(config.Collector, reg, collector.WithLogger(logger.With("module", "collector")))
	if err != nil {
		return err
	}
	if err := col.RunQueries(ctx, client); err != nil {
		return err
	}

	if probeBlocks > 0 {
		sub, err := client.SubscribeBlocks(ctx)
		if err != nil {
			return err
		}
		for i := 0; i < probeBlocks; i++ {
			ev, err := sub.Next(ctx)
			if err != nil {
				sub.Close()
				return fmt.Errorf("waiting for block: %w", err)
			}
			col.ProcessBlock(ev)
		}
		sub.Close()
	}
	if err := reg.Err(); err != nil {
		return fatalError{err: err}
	}
	return reg.WriteText(out)
}

// probeOverHTTP asks the node for its identity and health over plain
// HTTP JSON-RPC.
func probeOverHTTP(ctx context.Context, out io.Writer, endpoint string) error {
	c, err := rpcclient.NewHTTP(endpoint)
	if err != nil {
		return err
	}
	var (
		name, ver, chainName string
		health               chain.Health
	)
	for _, call := range []struct {
		method string
		result any
	}{
		{"system_name", &name},
		{"system_version", &ver},
		{"system_chain", &chainName},
		{"system_health", &health},
	} {
		if err := c.Call(ctx, call.method, []any{}, call.result); err != nil {
			return fmt.Errorf("%s: %w", call.method, err)
		}
	}
	_, err = fmt.Fprintf(out, "chain=%q name=%q version=%q peers=%d syncing=%t\n",
		chainName, name, ver, health.Peers, health.IsSyncing)
	return err
}
