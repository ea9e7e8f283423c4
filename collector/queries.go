package collector

import (
	"context"
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/chainmon/substrate-exporter/chain"
	"github.com/chainmon/substrate-exporter/registry"
)

func (c *Collector) queryNodeHealth(ctx context.Context, client Client) error {
	var h chain.Health
	if err := client.Call(ctx, &h, "system_health"); err != nil {
		return err
	}
	c.metrics.NodePeers.Set(float64(h.Peers))
	c.metrics.NodeSyncing.Set(boolToFloat(h.IsSyncing))
	return nil
}

func (c *Collector) queryNodeInfo(ctx context.Context, client Client) error {
	var chainName, name, version string
	for _, r := range []struct {
		method string
		dst    *string
	}{
		{"system_chain", &chainName},
		{"system_name", &name},
		{"system_version", &version},
	} {
		if err := client.Call(ctx, r.dst, r.method); err != nil {
			return err
		}
	}
	err := c.reg.ReplaceGauge(c.names.nodeInfo, []registry.GaugeValue{{
		Labels: registry.Labels{"chain": chainName, "name": name, "version": version},
		Value:  1,
	}})
	if err != nil {
		return err
	}
	if c.cfg.MinNodeVersion == "" {
		return nil
	}
	supported, err := versionAtLeast(version, c.cfg.MinNodeVersion)
	if err != nil {
		return err
	}
	c.metrics.NodeVersionSupported.Set(boolToFloat(supported))
	return nil
}

// versionAtLeast compares a node version such as "1.2.3-a1b2c3d" with minimum.
// Substrate nodes append the commit hash as if it were a pre-release, so
// it is dropped before comparing.
func versionAtLeast(version, minimum string) (bool, error) {
	v, err := semver.NewVersion(strings.TrimSpace(version))
	if err != nil {
		return false, fmt.Errorf("node version %q: %w", version, err)
	}
	release, err := v.SetPrerelease("")
	if err != nil {
		return false, err
	}
	m, err := semver.NewVersion(minimum)
	if err != nil {
		return false, err
	}
	return !release.LessThan(m), nil
}

func (c *Collector) queryFinalizedHead(ctx context.Context, client Client) error {
	var hash chain.Hash
	if err := client.Call(ctx, &hash, "chain_getFinalizedHead"); err != nil {
		return err
	}
	var finalized, best chain.Header
	if err := client.Call(ctx, &finalized, "chain_getHeader", hash); err != nil {
		return err
	}
	if err := client.Call(ctx, &best, "chain_getHeader"); err != nil {
		return err
	}
	c.metrics.FinalizedHeight.Set(float64(finalized.Number))
	lag := float64(0)
	if best.Number > finalized.Number {
		lag = float64(best.Number - finalized.Number)
	}
	c.metrics.FinalityLag.Set(lag)
	return nil
}

func (c *Collector) queryRuntimeVersion(ctx context.Context, client Client) error {
	var rv chain.RuntimeVersion
	if err := client.Call(ctx, &rv, "state_getRuntimeVersion"); err != nil {
		return err
	}
	c.metrics.RuntimeSpecVersion.Set(float64(rv.SpecVersion))
	return nil
}

func (c *Collector) queryActiveValidators(ctx context.Context, client Client) error {
	v, _, err := client.QueryStorage(ctx, chain.StorageRequest{Pallet: "Session", Item: "Validators"}, chain.Hash{})
	if err != nil {
		return err
	}
	list, err := v.List()
	if err != nil {
		return chain.ProtocolError{Op: "Session.Validators", Source: err}
	}
	c.metrics.ActiveValidators.Set(float64(len(list)))
	return nil
}

func (c *Collector) queryTotalIssuance(ctx context.Context, client Client) error {
	v, _, err := client.QueryStorage(ctx, chain.StorageRequest{Pallet: "Balances", Item: "TotalIssuance"}, chain.Hash{})
	if err != nil {
		return err
	}
	n, err := v.BigInt()
	if err != nil {
		return chain.ProtocolError{Op: "Balances.TotalIssuance", Source: err}
	}
	c.metrics.TotalIssuance.Set(client.Tokens(n))
	return nil
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
