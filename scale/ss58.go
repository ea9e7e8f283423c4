package scale

import (
	"bytes"

	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2b"
)

var ss58Prefix = []byte("SS58PRE")

// ErrInvalidAddress is returned by SS58Decode for malformed addresses.
var ErrInvalidAddress = errors.New("scale: invalid ss58 address")

const ss58ChecksumLen = 2

// SS58Encode encodes a 32 byte account id under the given network prefix.
func SS58Encode(pub []byte, network uint16) string {
	var raw []byte
	if network < 64 {
		raw = []byte{byte(network)}
	} else {
		first := byte((network&0b0000_0000_1111_1100)>>2) | 0b0100_0000
		second := byte(network>>8) | byte(network&0b11)<<6
		raw = []byte{first, second}
	}
	raw = append(raw, pub...)
	sum := ss58Checksum(raw)
	return base58.Encode(append(raw, sum[:ss58ChecksumLen]...))
}

// SS58Decode returns the account id and network prefix encoded in addr.
func SS58Decode(addr string) ([]byte, uint16, error) {
	raw := base58.Decode(addr)
	if len(raw) < 1+32+ss58ChecksumLen {
		return nil, 0, errors.Wrapf(ErrInvalidAddress, "%q: too short", addr)
	}
	var (
		network   uint16
		prefixLen int
	)
	switch {
	case raw[0] < 64:
		network, prefixLen = uint16(raw[0]), 1
	case raw[0] < 128:
		lower := (raw[0]<<2)&0b1111_1100 | raw[1]>>6
		upper := raw[1] & 0b0011_1111
		network, prefixLen = uint16(lower)|uint16(upper)<<8, 2
	default:
		return nil, 0, errors.Wrapf(ErrInvalidAddress, "%q: reserved prefix byte", addr)
	}
	body := raw[:len(raw)-ss58ChecksumLen]
	sum := ss58Checksum(body)
	if !bytes.Equal(sum[:ss58ChecksumLen], raw[len(raw)-ss58ChecksumLen:]) {
		return nil, 0, errors.Wrapf(ErrInvalidAddress, "%q: checksum mismatch", addr)
	}
	return body[prefixLen:], network, nil
}

func ss58Checksum(data []byte) [64]byte {
	return blake2b.Sum512(append(append([]byte(nil), ss58Prefix...), data...))
}
