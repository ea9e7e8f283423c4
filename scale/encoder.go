package scale

import (
	"encoding/binary"
	"math/big"
)

// EncodeCompact encodes v as a compact unsigned integer.
func EncodeCompact(v uint64) []byte {
	switch {
	case v < 1<<6:
		return []byte{byte(v << 2)}
	case v < 1<<14:
		b := make([]byte, 2)
		binary.LittleEndian.PutUint16(b, uint16(v<<2|0b01))
		return b
	case v < 1<<30:
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, uint32(v<<2|0b10))
		return b
	default:
		return EncodeCompactBig(new(big.Int).SetUint64(v))
	}
}

// EncodeCompactBig encodes an arbitrary non-negative integer in compact form.
func EncodeCompactBig(v *big.Int) []byte {
	if v.IsUint64() && v.Uint64() < 1<<30 {
		return EncodeCompact(v.Uint64())
	}
	le := reverse(v.Bytes())
	for len(le) < 4 {
		le = append(le, 0)
	}
	return append([]byte{byte((len(le)-4)<<2 | 0b11)}, le...)
}

// EncodeUint32 encodes v as a little-endian u32.
func EncodeUint32(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

// EncodeUint64 encodes v as a little-endian u64.
func EncodeUint64(v uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return b
}

// EncodeByteVec encodes b with its compact length prefix.
func EncodeByteVec(b []byte) []byte {
	return append(EncodeCompact(uint64(len(b))), b...)
}

// EncodeString encodes s as a length-prefixed byte vector.
func EncodeString(s string) []byte {
	return EncodeByteVec([]byte(s))
}
