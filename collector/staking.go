package collector

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strconv"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/chainmon/substrate-exporter/chain"
	"github.com/chainmon/substrate-exporter/registry"
	"github.com/chainmon/substrate-exporter/scale"
)

// exposure is the stake behind a validator in an era.
type exposure struct {
	total      *big.Int
	own        *big.Int
	nominators int
}

type validatorInfo struct {
	account    []byte
	address    string
	name       string
	status     string
	total      float64
	own        float64
	nominators int
	reward     float64
}

// queryStaking reads the validator set of the active era with the stake
// behind each validator and the rewards of the last completed era.
func (c *Collector) queryStaking(ctx context.Context, client Client) error {
	activeEra, found, err := client.QueryStorage(ctx, chain.StorageRequest{Pallet: "Staking", Item: "ActiveEra"}, chain.Hash{})
	if err != nil {
		return err
	}
	if !found {
		return chain.QueryError{Query: "Staking.ActiveEra", Source: errors.New("no active era")}
	}
	index, ok := activeEra.Field("index")
	if !ok {
		return chain.ProtocolError{Op: "Staking.ActiveEra", Source: errors.New("missing index")}
	}
	era64, err := index.Uint64()
	if err != nil {
		return chain.ProtocolError{Op: "Staking.ActiveEra", Source: err}
	}
	era := uint32(era64)

	candidates, err := client.QueryStorageMap(ctx, chain.StorageRequest{Pallet: "Staking", Item: "Validators"}, chain.Hash{})
	if err != nil {
		return err
	}
	session, _, err := client.QueryStorage(ctx, chain.StorageRequest{Pallet: "Session", Item: "Validators"}, chain.Hash{})
	if err != nil {
		return err
	}
	active, err := accountSet(session)
	if err != nil {
		return chain.ProtocolError{Op: "Session.Validators", Source: err}
	}
	exposures, err := c.exposures(ctx, client, era)
	if err != nil {
		return err
	}
	var rewards map[string]float64
	if era > 0 {
		if rewards, err = c.eraRewards(ctx, client, era-1); err != nil {
			return err
		}
	}

	validators := make([]*validatorInfo, 0, len(candidates))
	for _, e := range candidates {
		account, err := e.Args[0].AsBytes()
		if err != nil {
			return chain.ProtocolError{Op: "Staking.Validators", Source: err}
		}
		v := &validatorInfo{account: account, address: client.Address(account), status: "waiting"}
		if active[string(account)] {
			v.status = "active"
		}
		if x, ok := exposures[string(account)]; ok {
			v.total = client.Tokens(x.total)
			v.own = client.Tokens(x.own)
			v.nominators = x.nominators
		}
		v.reward = rewards[string(account)]
		validators = append(validators, v)
	}
	if err := c.resolveNames(ctx, client, validators); err != nil {
		return err
	}

	c.metrics.ActiveEra.Set(float64(era))
	c.metrics.Validators.Set(float64(len(validators)))
	if err := c.writeValidatorGauges(validators, era); err != nil {
		return err
	}
	c.writeStakeStats(validators)
	return nil
}

// exposures returns the exposure of every validator in era keyed by
// account. Runtimes with paged exposures keep the totals in
// ErasStakersOverview; older ones in ErasStakers.
func (c *Collector) exposures(ctx context.Context, client Client, era uint32) (map[string]exposure, error) {
	eraKey := [][]byte{scale.EncodeUint32(era)}
	out := make(map[string]exposure)

	entries, err := client.QueryStorageMap(ctx, chain.StorageRequest{Pallet: "Staking", Item: "ErasStakersOverview", Keys: eraKey}, chain.Hash{})
	switch {
	case errors.Is(err, scale.ErrUnknownItem):
	case err != nil:
		return nil, err
	case len(entries) > 0:
		for _, e := range entries {
			account, x, err := parseExposure(e, "nominator_count")
			if err != nil {
				return nil, chain.ProtocolError{Op: "Staking.ErasStakersOverview", Source: err}
			}
			out[string(account)] = x
		}
		return out, nil
	}

	entries, err = client.QueryStorageMap(ctx, chain.StorageRequest{Pallet: "Staking", Item: "ErasStakers", Keys: eraKey}, chain.Hash{})
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		account, x, err := parseExposure(e, "others")
		if err != nil {
			return nil, chain.ProtocolError{Op: "Staking.ErasStakers", Source: err}
		}
		out[string(account)] = x
	}
	return out, nil
}

// parseExposure reads an exposure keyed by (era, account). nominatorsField
// is either a count or the list of individual exposures.
func parseExposure(e chain.StorageEntry, nominatorsField string) ([]byte, exposure, error) {
	if len(e.Args) != 2 {
		return nil, exposure{}, fmt.Errorf("want 2 key args, have %d", len(e.Args))
	}
	account, err := e.Args[1].AsBytes()
	if err != nil {
		return nil, exposure{}, err
	}
	var x exposure
	for _, f := range []struct {
		name string
		dst  **big.Int
	}{{"total", &x.total}, {"own", &x.own}} {
		v, ok := e.Value.Field(f.name)
		if !ok {
			return nil, exposure{}, fmt.Errorf("missing %s", f.name)
		}
		if *f.dst, err = v.BigInt(); err != nil {
			return nil, exposure{}, err
		}
	}
	nominators, ok := e.Value.Field(nominatorsField)
	if !ok {
		return nil, exposure{}, fmt.Errorf("missing %s", nominatorsField)
	}
	if nominators.Kind == scale.KindSequence {
		x.nominators = len(nominators.Items)
	} else {
		n, err := nominators.Uint64()
		if err != nil {
			return nil, exposure{}, err
		}
		x.nominators = int(n)
	}
	return account, x, nil
}

// eraRewards splits the validator reward of era by reward points.
func (c *Collector) eraRewards(ctx context.Context, client Client, era uint32) (map[string]float64, error) {
	key := [][]byte{scale.EncodeUint32(era)}
	reward, found, err := client.QueryStorage(ctx, chain.StorageRequest{Pallet: "Staking", Item: "ErasValidatorReward", Keys: key}, chain.Hash{})
	if err != nil || !found {
		return nil, err
	}
	amount, err := reward.BigInt()
	if err != nil {
		return nil, chain.ProtocolError{Op: "Staking.ErasValidatorReward", Source: err}
	}
	points, _, err := client.QueryStorage(ctx, chain.StorageRequest{Pallet: "Staking", Item: "ErasRewardPoints", Keys: key}, chain.Hash{})
	if err != nil {
		return nil, err
	}
	individual, err := rewardPoints(points)
	if err != nil {
		return nil, chain.ProtocolError{Op: "Staking.ErasRewardPoints", Source: err}
	}
	var total float64
	for _, p := range individual {
		total += p
	}
	if total == 0 {
		return nil, nil
	}
	tokens := client.Tokens(amount)
	out := make(map[string]float64, len(individual))
	for account, p := range individual {
		out[account] = p / total * tokens
	}
	return out, nil
}

func rewardPoints(v scale.Value) (map[string]float64, error) {
	individual, ok := v.Field("individual")
	if !ok {
		return nil, errors.New("missing individual")
	}
	items, err := individual.List()
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(items))
	for _, it := range items {
		pair, err := it.List()
		if err != nil || len(pair) != 2 {
			return nil, errors.New("malformed reward points entry")
		}
		account, err := pair[0].AsBytes()
		if err != nil {
			return nil, err
		}
		p, err := pair[1].Float64()
		if err != nil {
			return nil, err
		}
		out[string(account)] = p
	}
	return out, nil
}

// resolveNames looks up display names with bounded concurrency. Accounts
// without identity are named by a prefix of their address.
func (c *Collector) resolveNames(ctx context.Context, client Client, validators []*validatorInfo) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.StakingConcurrency)
	for _, v := range validators {
		v := v
		g.Go(func() error {
			name, err := c.displayName(gctx, client, v.account)
			if err != nil {
				if chain.IsConnectionLost(err) || gctx.Err() != nil {
					return err
				}
				c.logger.Debug("Failed to resolve identity", "validator", v.address, "err", err)
			}
			if name == "" {
				name = v.address[:min(20, len(v.address))]
			}
			v.name = name
			return nil
		})
	}
	return g.Wait()
}

func (c *Collector) writeValidatorGauges(validators []*validatorInfo, era uint32) error {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	var self, total, nominations, count, rewards, capsIn, capsOut []registry.GaugeValue
	next := make(map[string]float64, len(validators))
	for _, v := range validators {
		labels := registry.Labels{"validator": v.address, "name": v.name, "status": v.status}
		self = append(self, registry.GaugeValue{Labels: labels, Value: v.own})
		total = append(total, registry.GaugeValue{Labels: labels, Value: v.total})
		nominations = append(nominations, registry.GaugeValue{Labels: labels, Value: v.total - v.own})
		count = append(count, registry.GaugeValue{Labels: labels, Value: float64(v.nominators)})
		if v.reward > 0 {
			rewards = append(rewards, registry.GaugeValue{
				Labels: registry.Labels{"validator": v.address, "name": v.name, "era": strconv.FormatUint(uint64(era-1), 10)},
				Value:  v.reward,
			})
		}
		if prev, ok := c.prevTotals[v.address]; ok {
			switch delta := v.total - prev; {
			case delta > 0:
				capsIn = append(capsIn, registry.GaugeValue{
					Labels: registry.Labels{"validator": v.address, "name": v.name, "type": "nomination"},
					Value:  delta,
				})
			case delta < 0:
				capsOut = append(capsOut, registry.GaugeValue{
					Labels: registry.Labels{"validator": v.address, "name": v.name, "type": "unstake"},
					Value:  -delta,
				})
			}
		}
		next[v.address] = v.total
	}
	c.prevTotals = next

	for _, w := range []struct {
		name   string
		values []registry.GaugeValue
	}{
		{c.names.selfStake, self},
		{c.names.totalStake, total},
		{c.names.nominations, nominations},
		{c.names.nominatorCount, count},
		{c.names.rewards, rewards},
		{c.names.capsIn, capsIn},
		{c.names.capsOut, capsOut},
	} {
		if err := c.reg.ReplaceGauge(w.name, w.values); err != nil {
			return err
		}
	}
	return nil
}

// writeStakeStats summarises the total stake of the active validators.
func (c *Collector) writeStakeStats(validators []*validatorInfo) {
	var totals []float64
	for _, v := range validators {
		if v.status == "active" {
			totals = append(totals, v.total)
		}
	}
	m := c.metrics
	if len(totals) == 0 {
		m.StakeMean.Set(0)
		m.StakeStdDev.Set(0)
		m.StakeMedian.Set(0)
		m.NakamotoCoefficient.Set(0)
		return
	}
	sort.Float64s(totals)
	m.StakeMean.Set(stat.Mean(totals, nil))
	if len(totals) > 1 {
		m.StakeStdDev.Set(stat.StdDev(totals, nil))
	} else {
		m.StakeStdDev.Set(0)
	}
	m.StakeMedian.Set(stat.Quantile(0.5, stat.Empirical, totals, nil))
	m.NakamotoCoefficient.Set(float64(nakamotoCoefficient(totals)))
}

// nakamotoCoefficient returns the smallest number of validators whose
// combined stake exceeds a third of the total. stakes must be sorted in
// increasing order.
func nakamotoCoefficient(stakes []float64) int {
	sum := floats.Sum(stakes)
	if sum <= 0 {
		return 0
	}
	var acc float64
	n := 0
	for i := len(stakes) - 1; i >= 0; i-- {
		acc += stakes[i]
		n++
		if acc > sum/3 {
			break
		}
	}
	return n
}

// accountSet turns a list of account ids into a set.
func accountSet(v scale.Value) (map[string]bool, error) {
	list, err := v.List()
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(list))
	for _, it := range list {
		b, err := it.AsBytes()
		if err != nil {
			return nil, err
		}
		out[string(b)] = true
	}
	return out, nil
}
