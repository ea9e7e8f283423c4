package scale

import (
	"encoding/binary"
	"math/big"

	"github.com/pkg/errors"
)

// ErrUnexpectedEOF is returned when the input ends before a value is complete.
var ErrUnexpectedEOF = errors.New("scale: unexpected end of input")

// maxLength bounds length prefixes so a corrupt prefix cannot trigger a huge
// allocation.
const maxLength = 1 << 26

// Decoder reads SCALE-encoded values from a byte slice.
type Decoder struct {
	buf []byte
	off int
}

// NewDecoder returns a Decoder reading from b.
func NewDecoder(b []byte) *Decoder {
	return &Decoder{buf: b}
}

// Offset returns the number of bytes consumed so far.
func (d *Decoder) Offset() int { return d.off }

// Len returns the number of unread bytes.
func (d *Decoder) Len() int { return len(d.buf) - d.off }

// Remaining returns the unread bytes without consuming them.
func (d *Decoder) Remaining() []byte { return d.buf[d.off:] }

// ReadByte reads a single byte.
func (d *Decoder) ReadByte() (byte, error) {
	if d.Len() < 1 {
		return 0, errors.Wrapf(ErrUnexpectedEOF, "reading byte at offset %d", d.off)
	}
	b := d.buf[d.off]
	d.off++
	return b, nil
}

// ReadBytes reads exactly n bytes. The returned slice aliases the input.
func (d *Decoder) ReadBytes(n int) ([]byte, error) {
	if n < 0 || d.Len() < n {
		return nil, errors.Wrapf(ErrUnexpectedEOF, "reading %d bytes at offset %d (%d left)", n, d.off, d.Len())
	}
	b := d.buf[d.off : d.off+n]
	d.off += n
	return b, nil
}

// ReadBool reads a boolean encoded as a single 0x00/0x01 byte.
func (d *Decoder) ReadBool() (bool, error) {
	b, err := d.ReadByte()
	if err != nil {
		return false, err
	}
	switch b {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, errors.Errorf("scale: invalid bool byte 0x%02x at offset %d", b, d.off-1)
	}
}

// ReadOption reads the one byte tag of an Option and reports whether a value
// follows.
func (d *Decoder) ReadOption() (bool, error) {
	b, err := d.ReadByte()
	if err != nil {
		return false, err
	}
	switch b {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, errors.Errorf("scale: invalid option tag 0x%02x at offset %d", b, d.off-1)
	}
}

func (d *Decoder) ReadUint16() (uint16, error) {
	b, err := d.ReadBytes(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (d *Decoder) ReadUint32() (uint32, error) {
	b, err := d.ReadBytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (d *Decoder) ReadUint64() (uint64, error) {
	b, err := d.ReadBytes(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// ReadUint reads an unsigned little-endian integer of size bytes.
func (d *Decoder) ReadUint(size int) (*big.Int, error) {
	b, err := d.ReadBytes(size)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(reverse(b)), nil
}

// ReadInt reads a two's complement little-endian integer of size bytes.
func (d *Decoder) ReadInt(size int) (*big.Int, error) {
	v, err := d.ReadUint(size)
	if err != nil {
		return nil, err
	}
	if size > 0 && v.Bit(size*8-1) == 1 {
		v.Sub(v, new(big.Int).Lsh(big.NewInt(1), uint(size*8)))
	}
	return v, nil
}

// ReadCompact reads a compact (variable width) unsigned integer.
func (d *Decoder) ReadCompact() (*big.Int, error) {
	start := d.off
	b0, err := d.ReadByte()
	if err != nil {
		return nil, err
	}
	switch b0 & 0b11 {
	case 0b00:
		return big.NewInt(int64(b0 >> 2)), nil
	case 0b01:
		b1, err := d.ReadByte()
		if err != nil {
			return nil, err
		}
		v := (uint64(b0) | uint64(b1)<<8) >> 2
		return new(big.Int).SetUint64(v), nil
	case 0b10:
		rest, err := d.ReadBytes(3)
		if err != nil {
			return nil, err
		}
		v := (uint64(b0) | uint64(rest[0])<<8 | uint64(rest[1])<<16 | uint64(rest[2])<<24) >> 2
		return new(big.Int).SetUint64(v), nil
	default:
		n := int(b0>>2) + 4
		b, err := d.ReadBytes(n)
		if err != nil {
			return nil, errors.Wrapf(err, "compact big integer at offset %d", start)
		}
		return new(big.Int).SetBytes(reverse(b)), nil
	}
}

// ReadCompactUint64 reads a compact integer that must fit into 64 bits.
func (d *Decoder) ReadCompactUint64() (uint64, error) {
	start := d.off
	v, err := d.ReadCompact()
	if err != nil {
		return 0, err
	}
	if !v.IsUint64() {
		return 0, errors.Errorf("scale: compact at offset %d overflows uint64", start)
	}
	return v.Uint64(), nil
}

// ReadLength reads a compact length prefix.
func (d *Decoder) ReadLength() (int, error) {
	start := d.off
	n, err := d.ReadCompactUint64()
	if err != nil {
		return 0, err
	}
	if n > maxLength {
		return 0, errors.Errorf("scale: length %d at offset %d exceeds limit", n, start)
	}
	return int(n), nil
}

// ReadByteVec reads a length-prefixed byte vector.
func (d *Decoder) ReadByteVec() ([]byte, error) {
	n, err := d.ReadLength()
	if err != nil {
		return nil, err
	}
	return d.ReadBytes(n)
}

// ReadString reads a length-prefixed UTF-8 string.
func (d *Decoder) ReadString() (string, error) {
	b, err := d.ReadByteVec()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ReadStringVec reads a Vec<String>.
func (d *Decoder) ReadStringVec() ([]string, error) {
	n, err := d.ReadLength()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, minInt(n, d.Len()))
	for i := 0; i < n; i++ {
		s, err := d.ReadString()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func reverse(b []byte) []byte {
	out := make([]byte, len(b))
	for i := range b {
		out[len(b)-1-i] = b[i]
	}
	return out
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
