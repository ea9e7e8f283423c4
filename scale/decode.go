package scale

import (
	"math/big"
	"unicode/utf8"

	"github.com/pkg/errors"
)

// maxDepth bounds type recursion during dynamic decoding.
const maxDepth = 128

// ErrTooDeep is returned when a value nests deeper than the decoder allows.
var ErrTooDeep = errors.New("scale: value nested too deeply")

// Decode reads one value of type id from d.
func (r *Registry) Decode(d *Decoder, id TypeID) (Value, error) {
	return r.decode(d, id, 0)
}

// DecodeBytes decodes b as a single value of type id. Trailing bytes are an error.
func (r *Registry) DecodeBytes(b []byte, id TypeID) (Value, error) {
	d := NewDecoder(b)
	v, err := r.Decode(d, id)
	if err != nil {
		return Value{}, err
	}
	if d.Len() != 0 {
		return Value{}, errors.Errorf("scale: %d trailing bytes after type %d", d.Len(), id)
	}
	return v, nil
}

func (r *Registry) decode(d *Decoder, id TypeID, depth int) (Value, error) {
	if depth > maxDepth {
		return Value{}, errors.Wrapf(ErrTooDeep, "type %d at offset %d", id, d.Offset())
	}
	t, err := r.Type(id)
	if err != nil {
		return Value{}, err
	}
	def := &t.Def
	switch def.Kind {
	case DefComposite:
		fields, err := r.decodeFields(d, def.Fields, depth)
		if err != nil {
			return Value{}, errors.Wrapf(err, "%s", t.PathString())
		}
		return Value{Kind: KindComposite, Fields: fields}, nil

	case DefVariant:
		start := d.Offset()
		idx, err := d.ReadByte()
		if err != nil {
			return Value{}, err
		}
		variant, ok := def.Variant(idx)
		if !ok {
			return Value{}, errors.Errorf("scale: type %d (%s) has no variant %d at offset %d", id, t.PathString(), idx, start)
		}
		fields, err := r.decodeFields(d, variant.Fields, depth)
		if err != nil {
			return Value{}, errors.Wrapf(err, "%s::%s", t.PathString(), variant.Name)
		}
		return Value{Kind: KindVariant, Variant: variant.Name, VariantIndex: idx, Fields: fields}, nil

	case DefSequence:
		n, err := d.ReadLength()
		if err != nil {
			return Value{}, err
		}
		return r.decodeElems(d, def.Elem, n, depth)

	case DefArray:
		return r.decodeElems(d, def.Elem, int(def.Len), depth)

	case DefTuple:
		items := make([]Value, 0, len(def.Tuple))
		for _, el := range def.Tuple {
			v, err := r.decode(d, el, depth+1)
			if err != nil {
				return Value{}, err
			}
			items = append(items, v)
		}
		return Value{Kind: KindSequence, Items: items}, nil

	case DefPrimitive:
		return decodePrimitive(d, def.Primitive)

	case DefCompact:
		return r.decodeCompact(d, def.Elem, depth)

	case DefBitSequence:
		return r.decodeBitSequence(d, def.BitStore)
	}
	return Value{}, errors.Errorf("scale: type %d has unsupported kind %s", id, def.Kind)
}

func (r *Registry) decodeFields(d *Decoder, fields []TypeField, depth int) ([]NamedValue, error) {
	out := make([]NamedValue, 0, len(fields))
	for _, f := range fields {
		v, err := r.decode(d, f.Type, depth+1)
		if err != nil {
			if f.Name != "" {
				return nil, errors.Wrapf(err, "field %s", f.Name)
			}
			return nil, err
		}
		out = append(out, NamedValue{Name: f.Name, Value: v})
	}
	return out, nil
}

func (r *Registry) decodeElems(d *Decoder, elem TypeID, n int, depth int) (Value, error) {
	if r.isU8(elem) {
		b, err := d.ReadBytes(n)
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: KindBytes, Bytes: append([]byte(nil), b...)}, nil
	}
	items := make([]Value, 0, minInt(n, d.Len()))
	for i := 0; i < n; i++ {
		v, err := r.decode(d, elem, depth+1)
		if err != nil {
			return Value{}, errors.Wrapf(err, "element %d", i)
		}
		items = append(items, v)
	}
	return Value{Kind: KindSequence, Items: items}, nil
}

func (r *Registry) decodeCompact(d *Decoder, inner TypeID, depth int) (Value, error) {
	for i := 0; i <= maxDepth; i++ {
		t, err := r.Type(inner)
		if err != nil {
			return Value{}, err
		}
		switch {
		case t.Def.Kind == DefPrimitive && t.Def.Primitive.Size() > 0 && !t.Def.Primitive.Signed():
			n, err := d.ReadCompact()
			if err != nil {
				return Value{}, err
			}
			return Value{Kind: KindUint, Int: n}, nil
		case t.Def.Kind == DefComposite && len(t.Def.Fields) == 1:
			inner = t.Def.Fields[0].Type
		case t.Def.Kind == DefComposite && len(t.Def.Fields) == 0:
			return Value{Kind: KindComposite}, nil
		default:
			return Value{}, errors.Errorf("scale: compact of unsupported type %d (%s)", inner, t.Def.Kind)
		}
	}
	return Value{}, ErrTooDeep
}

func (r *Registry) decodeBitSequence(d *Decoder, store TypeID) (Value, error) {
	st, err := r.Type(store)
	if err != nil {
		return Value{}, err
	}
	width := 1
	if st.Def.Kind == DefPrimitive && st.Def.Primitive.Size() > 0 {
		width = st.Def.Primitive.Size()
	}
	bits, err := d.ReadCompactUint64()
	if err != nil {
		return Value{}, err
	}
	storeBits := uint64(width * 8)
	words := (bits + storeBits - 1) / storeBits
	if words*uint64(width) > uint64(d.Len()) {
		return Value{}, errors.Wrapf(ErrUnexpectedEOF, "bit sequence of %d bits at offset %d", bits, d.Offset())
	}
	b, err := d.ReadBytes(int(words) * width)
	if err != nil {
		return Value{}, err
	}
	return Value{Kind: KindBitSequence, Bytes: append([]byte(nil), b...)}, nil
}

func (r *Registry) isU8(id TypeID) bool {
	t, err := r.Type(id)
	return err == nil && t.Def.Kind == DefPrimitive && t.Def.Primitive == PrimU8
}

func decodePrimitive(d *Decoder, p Primitive) (Value, error) {
	switch p {
	case PrimBool:
		b, err := d.ReadBool()
		return Value{Kind: KindBool, Bool: b}, err
	case PrimStr:
		s, err := d.ReadString()
		return Value{Kind: KindString, Str: s}, err
	case PrimChar:
		c, err := d.ReadUint32()
		if err != nil {
			return Value{}, err
		}
		if !utf8.ValidRune(rune(c)) {
			return Value{}, errors.Errorf("scale: invalid char 0x%x at offset %d", c, d.Offset()-4)
		}
		return Value{Kind: KindString, Str: string(rune(c))}, nil
	}
	size := p.Size()
	if size == 0 {
		return Value{}, errors.Errorf("scale: unsupported primitive %d", p)
	}
	var (
		n   *big.Int
		err error
	)
	if p.Signed() {
		n, err = d.ReadInt(size)
		return Value{Kind: KindInt, Int: n}, err
	}
	n, err = d.ReadUint(size)
	return Value{Kind: KindUint, Int: n}, err
}
