package scale

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/crypto/blake2b"
)

// Hasher identifies a storage map key hasher, numbered as in runtime metadata.
type Hasher uint8

const (
	Blake2_128 Hasher = iota
	Blake2_256
	Blake2_128Concat
	Twox128
	Twox256
	Twox64Concat
	Identity
)

var hasherNames = [...]string{
	"Blake2_128", "Blake2_256", "Blake2_128Concat", "Twox128", "Twox256", "Twox64Concat", "Identity",
}

func (h Hasher) String() string {
	if int(h) < len(hasherNames) {
		return hasherNames[h]
	}
	return fmt.Sprintf("Hasher(%d)", uint8(h))
}

// Hash applies the hasher to data. Concat hashers append data to the digest.
func (h Hasher) Hash(data []byte) []byte {
	switch h {
	case Blake2_128:
		return Blake2b128(data)
	case Blake2_256:
		return Blake2b256(data)
	case Blake2_128Concat:
		return append(Blake2b128(data), data...)
	case Twox128:
		return XX128(data)
	case Twox256:
		return XX256(data)
	case Twox64Concat:
		return append(XX64(data), data...)
	case Identity:
		return append([]byte(nil), data...)
	default:
		panic(fmt.Sprintf("scale: unknown hasher %d", h))
	}
}

// DigestLen returns the length of the opaque digest preceding the raw key.
// Reversible reports whether the raw key follows the digest.
func (h Hasher) DigestLen() (n int, reversible bool) {
	switch h {
	case Blake2_128:
		return 16, false
	case Blake2_256, Twox256:
		return 32, false
	case Twox128:
		return 16, false
	case Blake2_128Concat:
		return 16, true
	case Twox64Concat:
		return 8, true
	case Identity:
		return 0, true
	default:
		return 0, false
	}
}

// XX64 is the 64 bit xxHash with seed 0, little-endian.
func XX64(data []byte) []byte { return xxhashN(data, 1) }

// XX128 concatenates xxHash64 with seeds 0 and 1.
func XX128(data []byte) []byte { return xxhashN(data, 2) }

// XX256 concatenates xxHash64 with seeds 0 through 3.
func XX256(data []byte) []byte { return xxhashN(data, 4) }

func xxhashN(data []byte, rounds int) []byte {
	out := make([]byte, 0, rounds*8)
	for seed := 0; seed < rounds; seed++ {
		d := xxhash.NewWithSeed(uint64(seed))
		_, _ = d.Write(data)
		out = binary.LittleEndian.AppendUint64(out, d.Sum64())
	}
	return out
}

func Blake2b128(data []byte) []byte {
	h, err := blake2b.New(16, nil)
	if err != nil {
		panic(err)
	}
	_, _ = h.Write(data)
	return h.Sum(nil)
}

func Blake2b256(data []byte) []byte {
	sum := blake2b.Sum256(data)
	return sum[:]
}

// StoragePrefix returns twox128(pallet) ++ twox128(item).
func StoragePrefix(pallet, item string) []byte {
	return append(XX128([]byte(pallet)), XX128([]byte(item))...)
}
