package scale

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/pkg/errors"
)

// Kind is the dynamic kind of a decoded Value.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindBool
	KindString
	KindUint
	KindInt
	KindBytes
	KindSequence
	KindComposite
	KindVariant
	KindBitSequence
)

var kindNames = [...]string{"invalid", "bool", "string", "uint", "int", "bytes", "sequence", "composite", "variant", "bitsequence"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// ErrKind is returned by Value accessors called on a value of the wrong kind.
var ErrKind = errors.New("scale: unexpected value kind")

// Value is a dynamically decoded SCALE value. Tuples and arrays decode to
// KindSequence; sequences and arrays of u8 decode to KindBytes.
type Value struct {
	Kind         Kind
	Bool         bool
	Str          string
	Int          *big.Int
	Bytes        []byte
	Items        []Value
	Fields       []NamedValue
	Variant      string
	VariantIndex uint8
}

// NamedValue is a field of a composite or variant. Name is empty for tuple-like fields.
type NamedValue struct {
	Name  string
	Value Value
}

// Unwrap strips composites and variants holding exactly one field,
// e.g. AccountId32([u8; 32]) or Compact<Perbill>.
func (v Value) Unwrap() Value {
	for v.Kind == KindComposite && len(v.Fields) == 1 {
		v = v.Fields[0].Value
	}
	return v
}

// Field returns the named field, looking through single-field wrappers.
func (v Value) Field(name string) (Value, bool) {
	for {
		for _, f := range v.Fields {
			if f.Name == name {
				return f.Value, true
			}
		}
		if v.Kind == KindComposite && len(v.Fields) == 1 {
			v = v.Fields[0].Value
			continue
		}
		return Value{}, false
	}
}

// Path follows a chain of field names.
func (v Value) Path(names ...string) (Value, bool) {
	cur := v
	for _, n := range names {
		next, ok := cur.Field(n)
		if !ok {
			return Value{}, false
		}
		cur = next
	}
	return cur, true
}

// BigInt returns the integer held by v.
func (v Value) BigInt() (*big.Int, error) {
	u := v.Unwrap()
	if (u.Kind == KindUint || u.Kind == KindInt) && u.Int != nil {
		return new(big.Int).Set(u.Int), nil
	}
	return nil, errors.Wrapf(ErrKind, "want integer, have %s", u.Kind)
}

// Uint64 returns the integer held by v if it fits into 64 bits.
func (v Value) Uint64() (uint64, error) {
	i, err := v.BigInt()
	if err != nil {
		return 0, err
	}
	if !i.IsUint64() {
		return 0, errors.Errorf("scale: %s does not fit into uint64", i)
	}
	return i.Uint64(), nil
}

// Float64 returns the integer held by v as a float64, rounding large values.
func (v Value) Float64() (float64, error) {
	i, err := v.BigInt()
	if err != nil {
		return 0, err
	}
	f, _ := new(big.Float).SetInt(i).Float64()
	return f, nil
}

// AsBytes returns the bytes held by v. Sequences of small integers are
// accepted as well.
func (v Value) AsBytes() ([]byte, error) {
	u := v.Unwrap()
	switch u.Kind {
	case KindBytes, KindBitSequence:
		return u.Bytes, nil
	case KindString:
		return []byte(u.Str), nil
	case KindSequence:
		out := make([]byte, 0, len(u.Items))
		for _, it := range u.Items {
			n, err := it.Uint64()
			if err != nil || n > 0xff {
				return nil, errors.Wrap(ErrKind, "sequence is not a byte string")
			}
			out = append(out, byte(n))
		}
		return out, nil
	}
	return nil, errors.Wrapf(ErrKind, "want bytes, have %s", u.Kind)
}

// AsString returns a string value, or the UTF-8 interpretation of bytes.
func (v Value) AsString() (string, error) {
	u := v.Unwrap()
	if u.Kind == KindString {
		return u.Str, nil
	}
	b, err := u.AsBytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// List returns the elements of a sequence. Bytes are expanded to uint values.
func (v Value) List() ([]Value, error) {
	u := v.Unwrap()
	switch u.Kind {
	case KindSequence:
		return u.Items, nil
	case KindBytes:
		out := make([]Value, len(u.Bytes))
		for i, b := range u.Bytes {
			out[i] = Uint(uint64(b))
		}
		return out, nil
	}
	return nil, errors.Wrapf(ErrKind, "want sequence, have %s", u.Kind)
}

// Is reports whether v is the named enum variant.
func (v Value) Is(variant string) bool {
	return v.Kind == KindVariant && v.Variant == variant
}

// Option interprets v as Option<T>: Some(x) returns x, true.
func (v Value) Option() (Value, bool) {
	if v.Kind != KindVariant || v.Variant != "Some" || len(v.Fields) != 1 {
		return Value{}, false
	}
	return v.Fields[0].Value, true
}

// Uint returns an unsigned integer value.
func Uint(n uint64) Value {
	return Value{Kind: KindUint, Int: new(big.Int).SetUint64(n)}
}

func (v Value) String() string {
	var sb strings.Builder
	v.format(&sb)
	return sb.String()
}

func (v Value) format(sb *strings.Builder) {
	switch v.Kind {
	case KindBool:
		fmt.Fprintf(sb, "%t", v.Bool)
	case KindString:
		fmt.Fprintf(sb, "%q", v.Str)
	case KindUint, KindInt:
		if v.Int == nil {
			sb.WriteString("0")
		} else {
			sb.WriteString(v.Int.String())
		}
	case KindBytes, KindBitSequence:
		sb.WriteString("0x")
		sb.WriteString(hex.EncodeToString(v.Bytes))
	case KindSequence:
		sb.WriteByte('[')
		for i, it := range v.Items {
			if i > 0 {
				sb.WriteString(", ")
			}
			it.format(sb)
		}
		sb.WriteByte(']')
	case KindComposite, KindVariant:
		if v.Kind == KindVariant {
			sb.WriteString(v.Variant)
		}
		sb.WriteByte('{')
		for i, f := range v.Fields {
			if i > 0 {
				sb.WriteString(", ")
			}
			if f.Name != "" {
				sb.WriteString(f.Name)
				sb.WriteString(": ")
			}
			f.Value.format(sb)
		}
		sb.WriteByte('}')
	default:
		sb.WriteString("<invalid>")
	}
}
