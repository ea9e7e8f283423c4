package collector

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/chainmon/substrate-exporter/chain"
	"github.com/chainmon/substrate-exporter/scale"
)

// identityCache caches display names of accounts. Names change rarely and
// resolving one takes up to three storage reads.
type identityCache struct {
	names *expirable.LRU[string, string]
}

func newIdentityCache(size int, ttl time.Duration) *identityCache {
	return &identityCache{names: expirable.NewLRU[string, string](size, nil, ttl)}
}

// displayName resolves the on-chain identity of account. A sub-identity is
// rendered as "parent/sub". The empty string means no identity is set.
func (c *Collector) displayName(ctx context.Context, client Client, account []byte) (string, error) {
	key := string(account)
	if name, ok := c.identities.names.Get(key); ok {
		return name, nil
	}

	var name string
	super, found, err := client.QueryStorage(ctx, chain.StorageRequest{
		Pallet: "Identity", Item: "SuperOf", Keys: [][]byte{account},
	}, chain.Hash{})
	switch {
	case errors.Is(err, scale.ErrUnknownPallet):
		// runtime without identities
		c.identities.names.Add(key, "")
		return "", nil
	case err != nil:
		return "", err
	case found:
		parent, sub, err := superOf(super)
		if err != nil {
			return "", chain.ProtocolError{Op: "Identity.SuperOf", Source: err}
		}
		display, err := c.identityDisplay(ctx, client, parent)
		if err != nil {
			return "", err
		}
		name = sub
		if display != "" {
			name = display + "/" + sub
		}
	default:
		if name, err = c.identityDisplay(ctx, client, account); err != nil {
			return "", err
		}
	}
	c.identities.names.Add(key, name)
	return name, nil
}

func (c *Collector) identityDisplay(ctx context.Context, client Client, account []byte) (string, error) {
	v, found, err := client.QueryStorage(ctx, chain.StorageRequest{
		Pallet: "Identity", Item: "IdentityOf", Keys: [][]byte{account},
	}, chain.Hash{})
	if err != nil || !found {
		return "", err
	}
	// Newer runtimes store (Registration, Option<Username>).
	if v.Kind == scale.KindSequence && len(v.Items) > 0 {
		v = v.Items[0]
	}
	display, ok := v.Path("info", "display")
	if !ok {
		return "", chain.ProtocolError{Op: "Identity.IdentityOf", Source: errors.New("registration without info.display")}
	}
	return identityData(display), nil
}

// superOf splits an Identity.SuperOf value into parent account and sub name.
func superOf(v scale.Value) ([]byte, string, error) {
	items, err := v.List()
	if err != nil {
		return nil, "", err
	}
	if len(items) != 2 {
		return nil, "", errors.New("SuperOf is not a pair")
	}
	parent, err := items[0].AsBytes()
	if err != nil {
		return nil, "", err
	}
	return parent, identityData(items[1]), nil
}

// identityData renders pallet_identity Data. Only the RawN variants carry
// readable text; hashes and None render empty.
func identityData(v scale.Value) string {
	if v.Kind != scale.KindVariant || !strings.HasPrefix(v.Variant, "Raw") {
		return ""
	}
	if len(v.Fields) == 0 {
		return ""
	}
	b, err := v.Fields[0].Value.AsBytes()
	if err != nil {
		return ""
	}
	// label values must be valid UTF-8 or the whole series is dropped on scrape
	return strings.TrimSpace(strings.ToValidUTF8(string(b), "\uFFFD"))
}
