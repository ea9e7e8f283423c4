package scale

import (
	"sort"
)

// EncodeMetadata encodes m in the V15 wire format, as served by state_getMetadata.
func EncodeMetadata(m *Metadata) []byte {
	buf := EncodeUint32(metadataMagic)
	buf = append(buf, 15)
	buf = encodeRegistry(buf, m.Types)
	buf = append(buf, EncodeCompact(uint64(len(m.Pallets)))...)
	for _, p := range m.Pallets {
		buf = encodePallet(buf, p)
	}
	x := m.Extrinsic
	buf = append(buf, x.Version)
	for _, id := range []TypeID{x.AddressType, x.CallType, x.SignatureType, x.ExtraType} {
		buf = append(buf, EncodeCompact(uint64(id))...)
	}
	buf = append(buf, EncodeCompact(uint64(len(x.SignedExtensions)))...)
	for _, e := range x.SignedExtensions {
		buf = append(buf, EncodeString(e.Identifier)...)
		buf = append(buf, EncodeCompact(uint64(e.Type))...)
		buf = append(buf, EncodeCompact(uint64(e.AdditionalSigned))...)
	}
	// runtime type, runtime apis, outer enums, custom map
	buf = append(buf, EncodeCompact(0)...)
	buf = append(buf, EncodeCompact(0)...)
	buf = append(buf, EncodeCompact(0)...)
	buf = append(buf, EncodeCompact(0)...)
	buf = append(buf, EncodeCompact(0)...)
	buf = append(buf, EncodeCompact(0)...)
	return buf
}

func encodeRegistry(buf []byte, r *Registry) []byte {
	ids := make([]TypeID, 0, len(r.types))
	for id := range r.types {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	buf = append(buf, EncodeCompact(uint64(len(ids)))...)
	for _, id := range ids {
		t := r.types[id]
		buf = append(buf, EncodeCompact(uint64(t.ID))...)
		buf = encodeStrings(buf, t.Path)
		buf = append(buf, EncodeCompact(uint64(len(t.Params)))...)
		for _, p := range t.Params {
			buf = append(buf, EncodeString(p.Name)...)
			buf = encodeOptionTypeID(buf, p.Type)
		}
		buf = encodeTypeDef(buf, &t.Def)
		buf = append(buf, EncodeCompact(0)...) // docs
	}
	return buf
}

func encodeTypeDef(buf []byte, def *TypeDef) []byte {
	buf = append(buf, byte(def.Kind))
	switch def.Kind {
	case DefComposite:
		buf = encodeFields(buf, def.Fields)
	case DefVariant:
		buf = append(buf, EncodeCompact(uint64(len(def.Variants)))...)
		for _, v := range def.Variants {
			buf = append(buf, EncodeString(v.Name)...)
			buf = encodeFields(buf, v.Fields)
			buf = append(buf, v.Index)
			buf = append(buf, EncodeCompact(0)...)
		}
	case DefSequence, DefCompact:
		buf = append(buf, EncodeCompact(uint64(def.Elem))...)
	case DefArray:
		buf = append(buf, EncodeUint32(def.Len)...)
		buf = append(buf, EncodeCompact(uint64(def.Elem))...)
	case DefTuple:
		buf = append(buf, EncodeCompact(uint64(len(def.Tuple)))...)
		for _, id := range def.Tuple {
			buf = append(buf, EncodeCompact(uint64(id))...)
		}
	case DefPrimitive:
		buf = append(buf, byte(def.Primitive))
	case DefBitSequence:
		buf = append(buf, EncodeCompact(uint64(def.BitStore))...)
		buf = append(buf, EncodeCompact(uint64(def.BitOrder))...)
	}
	return buf
}

func encodeFields(buf []byte, fields []TypeField) []byte {
	buf = append(buf, EncodeCompact(uint64(len(fields)))...)
	for _, f := range fields {
		buf = encodeOptionString(buf, f.Name)
		buf = append(buf, EncodeCompact(uint64(f.Type))...)
		buf = encodeOptionString(buf, f.TypeName)
		buf = append(buf, EncodeCompact(0)...)
	}
	return buf
}

func encodePallet(buf []byte, p *Pallet) []byte {
	buf = append(buf, EncodeString(p.Name)...)
	if p.StoragePrefix == "" && len(p.Storage) == 0 {
		buf = append(buf, 0)
	} else {
		buf = append(buf, 1)
		buf = append(buf, EncodeString(p.StoragePrefix)...)
		buf = append(buf, EncodeCompact(uint64(len(p.Storage)))...)
		for _, s := range p.Storage {
			buf = append(buf, EncodeString(s.Name)...)
			buf = append(buf, byte(s.Modifier))
			if s.IsMap {
				buf = append(buf, 1)
				buf = append(buf, EncodeCompact(uint64(len(s.Hashers)))...)
				for _, h := range s.Hashers {
					buf = append(buf, byte(h))
				}
				buf = append(buf, EncodeCompact(uint64(s.KeyType))...)
			} else {
				buf = append(buf, 0)
			}
			buf = append(buf, EncodeCompact(uint64(s.ValueType))...)
			buf = append(buf, EncodeByteVec(s.Default)...)
			buf = append(buf, EncodeCompact(0)...)
		}
	}
	buf = encodeOptionTypeID(buf, p.CallType)
	buf = encodeOptionTypeID(buf, p.EventType)
	buf = append(buf, EncodeCompact(uint64(len(p.Constants)))...)
	for _, c := range p.Constants {
		buf = append(buf, EncodeString(c.Name)...)
		buf = append(buf, EncodeCompact(uint64(c.Type))...)
		buf = append(buf, EncodeByteVec(c.Value)...)
		buf = append(buf, EncodeCompact(0)...)
	}
	buf = encodeOptionTypeID(buf, p.ErrorType)
	buf = append(buf, p.Index)
	return append(buf, EncodeCompact(0)...) // docs
}

func encodeStrings(buf []byte, ss []string) []byte {
	buf = append(buf, EncodeCompact(uint64(len(ss)))...)
	for _, s := range ss {
		buf = append(buf, EncodeString(s)...)
	}
	return buf
}

func encodeOptionString(buf []byte, s string) []byte {
	if s == "" {
		return append(buf, 0)
	}
	return append(append(buf, 1), EncodeString(s)...)
}

func encodeOptionTypeID(buf []byte, id *TypeID) []byte {
	if id == nil {
		return append(buf, 0)
	}
	return append(append(buf, 1), EncodeCompact(uint64(*id))...)
}
