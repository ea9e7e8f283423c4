package scale

import (
	"math/big"

	"github.com/pkg/errors"
)

// Encode encodes v as a value of type id. Composites and variants match
// fields by position.
func (r *Registry) Encode(id TypeID, v Value) ([]byte, error) {
	return r.encode(nil, id, v, 0)
}

func (r *Registry) encode(buf []byte, id TypeID, v Value, depth int) ([]byte, error) {
	if depth > maxDepth {
		return nil, ErrTooDeep
	}
	t, err := r.Type(id)
	if err != nil {
		return nil, err
	}
	def := &t.Def
	switch def.Kind {
	case DefComposite:
		if v.Kind != KindComposite && len(def.Fields) == 1 {
			return r.encode(buf, def.Fields[0].Type, v, depth+1)
		}
		if len(v.Fields) != len(def.Fields) {
			return nil, errors.Errorf("scale: %s wants %d fields, have %d", t.PathString(), len(def.Fields), len(v.Fields))
		}
		for i, f := range def.Fields {
			if buf, err = r.encode(buf, f.Type, v.Fields[i].Value, depth+1); err != nil {
				return nil, err
			}
		}
		return buf, nil

	case DefVariant:
		variant, ok := def.VariantByName(v.Variant)
		if !ok {
			return nil, errors.Errorf("scale: %s has no variant %q", t.PathString(), v.Variant)
		}
		if len(v.Fields) != len(variant.Fields) {
			return nil, errors.Errorf("scale: %s::%s wants %d fields, have %d", t.PathString(), variant.Name, len(variant.Fields), len(v.Fields))
		}
		buf = append(buf, variant.Index)
		for i, f := range variant.Fields {
			if buf, err = r.encode(buf, f.Type, v.Fields[i].Value, depth+1); err != nil {
				return nil, err
			}
		}
		return buf, nil

	case DefSequence, DefArray:
		if r.isU8(def.Elem) && v.Kind != KindSequence {
			b, err := v.AsBytes()
			if err != nil {
				return nil, err
			}
			if def.Kind == DefSequence {
				buf = append(buf, EncodeCompact(uint64(len(b)))...)
			} else if uint32(len(b)) != def.Len {
				return nil, errors.Errorf("scale: array wants %d bytes, have %d", def.Len, len(b))
			}
			return append(buf, b...), nil
		}
		items, err := v.List()
		if err != nil {
			return nil, err
		}
		if def.Kind == DefSequence {
			buf = append(buf, EncodeCompact(uint64(len(items)))...)
		} else if uint32(len(items)) != def.Len {
			return nil, errors.Errorf("scale: array wants %d items, have %d", def.Len, len(items))
		}
		for _, it := range items {
			if buf, err = r.encode(buf, def.Elem, it, depth+1); err != nil {
				return nil, err
			}
		}
		return buf, nil

	case DefTuple:
		if len(v.Items) != len(def.Tuple) {
			return nil, errors.Errorf("scale: tuple wants %d items, have %d", len(def.Tuple), len(v.Items))
		}
		for i, el := range def.Tuple {
			if buf, err = r.encode(buf, el, v.Items[i], depth+1); err != nil {
				return nil, err
			}
		}
		return buf, nil

	case DefPrimitive:
		return encodePrimitive(buf, def.Primitive, v)

	case DefCompact:
		n, err := v.BigInt()
		if err != nil {
			if v.Unwrap().Kind == KindComposite {
				return buf, nil
			}
			return nil, err
		}
		if n.Sign() < 0 {
			return nil, errors.New("scale: negative compact")
		}
		return append(buf, EncodeCompactBig(n)...), nil

	case DefBitSequence:
		buf = append(buf, EncodeCompact(uint64(len(v.Bytes)*8))...)
		return append(buf, v.Bytes...), nil
	}
	return nil, errors.Errorf("scale: cannot encode kind %s", def.Kind)
}

func encodePrimitive(buf []byte, p Primitive, v Value) ([]byte, error) {
	u := v.Unwrap()
	switch p {
	case PrimBool:
		if u.Kind != KindBool {
			return nil, errors.Wrapf(ErrKind, "want bool, have %s", u.Kind)
		}
		if u.Bool {
			return append(buf, 1), nil
		}
		return append(buf, 0), nil
	case PrimStr:
		s, err := u.AsString()
		if err != nil {
			return nil, err
		}
		return append(buf, EncodeString(s)...), nil
	case PrimChar:
		s, err := u.AsString()
		if err != nil || len([]rune(s)) != 1 {
			return nil, errors.Wrap(ErrKind, "want single char")
		}
		return append(buf, EncodeUint32(uint32([]rune(s)[0]))...), nil
	}
	size := p.Size()
	n, err := u.BigInt()
	if err != nil {
		return nil, err
	}
	if n.Sign() < 0 {
		if !p.Signed() {
			return nil, errors.Errorf("scale: negative value for unsigned primitive")
		}
		n = new(big.Int).Add(n, new(big.Int).Lsh(big.NewInt(1), uint(size*8)))
	}
	be := n.Bytes()
	if len(be) > size {
		return nil, errors.Errorf("scale: %s overflows %d bytes", u.Int, size)
	}
	le := make([]byte, size)
	for i, b := range be {
		le[len(be)-1-i] = b
	}
	return append(buf, le...), nil
}
