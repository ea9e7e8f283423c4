package scale

import (
	"bytes"

	"github.com/pkg/errors"
)

// StorageKey builds the storage key for item. keys are the SCALE-encoded map
// key arguments; fewer keys than hashers yield an iteration prefix.
func StorageKey(item *StorageItem, keys ...[]byte) ([]byte, error) {
	if len(keys) > len(item.Hashers) {
		return nil, errors.Errorf("storage %s.%s takes %d keys, got %d", item.Prefix, item.Name, len(item.Hashers), len(keys))
	}
	key := StoragePrefix(item.Prefix, item.Name)
	for i, k := range keys {
		key = append(key, item.Hashers[i].Hash(k)...)
	}
	return key, nil
}

// DecodeStorage decodes a raw storage value. An absent value yields the
// default for StorageDefault items and found=false otherwise.
func (m *Metadata) DecodeStorage(item *StorageItem, raw []byte, present bool) (v Value, found bool, err error) {
	if !present {
		if item.Modifier != StorageDefault {
			return Value{}, false, nil
		}
		raw = item.Default
	}
	v, err = m.Types.DecodeBytes(raw, item.ValueType)
	if err != nil {
		return Value{}, false, errors.Wrapf(err, "decode %s.%s", item.Prefix, item.Name)
	}
	return v, true, nil
}

// StorageKeyArgs recovers the key arguments from a full storage key of a map
// item. Arguments hashed by non-reversible hashers are returned as invalid values.
func (m *Metadata) StorageKeyArgs(item *StorageItem, key []byte) ([]Value, error) {
	prefix := StoragePrefix(item.Prefix, item.Name)
	if !bytes.HasPrefix(key, prefix) {
		return nil, errors.Errorf("key 0x%x is not under %s.%s", key, item.Prefix, item.Name)
	}
	keyTypes, err := m.keyTypes(item)
	if err != nil {
		return nil, err
	}
	d := NewDecoder(key[len(prefix):])
	args := make([]Value, 0, len(item.Hashers))
	for i, h := range item.Hashers {
		n, reversible := h.DigestLen()
		if _, err := d.ReadBytes(n); err != nil {
			return nil, errors.Wrapf(err, "key %d digest", i)
		}
		if !reversible {
			// The raw key cannot be recovered and its length is unknown, so
			// nothing after it can be decoded either.
			args = append(args, Value{})
			for j := i + 1; j < len(item.Hashers); j++ {
				args = append(args, Value{})
			}
			return args, nil
		}
		v, err := m.Types.Decode(d, keyTypes[i])
		if err != nil {
			return nil, errors.Wrapf(err, "key %d", i)
		}
		args = append(args, v)
	}
	return args, nil
}

func (m *Metadata) keyTypes(item *StorageItem) ([]TypeID, error) {
	if len(item.Hashers) == 1 {
		return []TypeID{item.KeyType}, nil
	}
	t, err := m.Types.Type(item.KeyType)
	if err != nil {
		return nil, err
	}
	if t.Def.Kind != DefTuple || len(t.Def.Tuple) != len(item.Hashers) {
		return nil, errors.Errorf("storage %s.%s: key type does not match %d hashers", item.Prefix, item.Name, len(item.Hashers))
	}
	return t.Def.Tuple, nil
}
