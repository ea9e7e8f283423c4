package chain

import (
	"context"
	"fmt"

	"github.com/chainmon/substrate-exporter/scale"
)

// storagePageSize is the number of keys requested per state_getKeysPaged call.
const storagePageSize = 256

// StorageRequest addresses a storage item. Keys holds the SCALE-encoded map
// keys; QueryStorageMap accepts a prefix of them.
type StorageRequest struct {
	Pallet string
	Item   string
	Keys   [][]byte
}

func (r StorageRequest) String() string {
	return r.Pallet + "." + r.Item
}

// StorageEntry is one entry of a storage map.
type StorageEntry struct {
	Key HexBytes
	// Key arguments, for the hashers that allow recovering them.
	Args  []scale.Value
	Value scale.Value
}

// QueryStorage reads a single storage value at block at, or at the best
// block when at is zero. found is false for an absent optional value.
func (c *Client) QueryStorage(ctx context.Context, req StorageRequest, at Hash) (v scale.Value, found bool, err error) {
	md := c.Metadata()
	item, err := md.StorageItem(req.Pallet, req.Item)
	if err != nil {
		return scale.Value{}, false, QueryError{Query: req.String(), Source: err}
	}
	if len(req.Keys) != len(item.Hashers) {
		return scale.Value{}, false, QueryError{
			Query:  req.String(),
			Source: fmt.Errorf("takes %d keys, got %d", len(item.Hashers), len(req.Keys)),
		}
	}
	key, err := scale.StorageKey(item, req.Keys...)
	if err != nil {
		return scale.Value{}, false, QueryError{Query: req.String(), Source: err}
	}
	var raw *HexBytes
	if err := c.Call(ctx, &raw, "state_getStorage", atParams(at, HexBytes(key))...); err != nil {
		return scale.Value{}, false, err
	}
	var data []byte
	if raw != nil {
		data = *raw
	}
	v, found, err = md.DecodeStorage(item, data, raw != nil)
	if err != nil {
		return scale.Value{}, false, ProtocolError{Op: req.String(), Source: err}
	}
	return v, found, nil
}

// QueryStorageMap reads every entry of a storage map under the given key
// prefix, at block at or at the best block when at is zero. Entries are
// returned in the order the node lists the keys.
func (c *Client) QueryStorageMap(ctx context.Context, req StorageRequest, at Hash) ([]StorageEntry, error) {
	md := c.Metadata()
	item, err := md.StorageItem(req.Pallet, req.Item)
	if err != nil {
		return nil, QueryError{Query: req.String(), Source: err}
	}
	if !item.IsMap {
		return nil, QueryError{Query: req.String(), Source: fmt.Errorf("not a map")}
	}
	prefix, err := scale.StorageKey(item, req.Keys...)
	if err != nil {
		return nil, QueryError{Query: req.String(), Source: err}
	}

	// state_getKeysPaged takes the block hash after the start key, so the
	// start key is sent as null on the first page.
	var (
		keys  []HexBytes
		start *HexBytes
	)
	for {
		params := []any{HexBytes(prefix), storagePageSize, start}
		var page []HexBytes
		if err := c.Call(ctx, &page, "state_getKeysPaged", atParams(at, params...)...); err != nil {
			return nil, err
		}
		keys = append(keys, page...)
		if len(page) < storagePageSize {
			break
		}
		last := page[len(page)-1]
		start = &last
	}
	if len(keys) == 0 {
		return nil, nil
	}

	values := make(map[string][]byte, len(keys))
	for off := 0; off < len(keys); off += storagePageSize {
		chunk := keys[off:min(off+storagePageSize, len(keys))]
		var sets []struct {
			Block   Hash          `json:"block"`
			Changes [][]*HexBytes `json:"changes"`
		}
		if err := c.Call(ctx, &sets, "state_queryStorageAt", atParams(at, chunk)...); err != nil {
			return nil, err
		}
		for _, set := range sets {
			for _, change := range set.Changes {
				if len(change) != 2 || change[0] == nil {
					return nil, ProtocolError{Op: req.String(), Source: fmt.Errorf("malformed change set entry")}
				}
				if change[1] != nil {
					values[string(*change[0])] = *change[1]
				}
			}
		}
	}

	entries := make([]StorageEntry, 0, len(keys))
	for _, key := range keys {
		raw, ok := values[string(key)]
		if !ok {
			// removed between listing and reading
			continue
		}
		args, err := md.StorageKeyArgs(item, key)
		if err != nil {
			return nil, ProtocolError{Op: req.String(), Source: err}
		}
		v, _, err := md.DecodeStorage(item, raw, true)
		if err != nil {
			return nil, ProtocolError{Op: req.String(), Source: err}
		}
		entries = append(entries, StorageEntry{Key: key, Args: args, Value: v})
	}
	return entries, nil
}
