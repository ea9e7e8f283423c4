package scale

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// TypeID indexes a type in the portable type registry.
type TypeID uint32

// DefKind is the shape of a type definition.
type DefKind uint8

const (
	DefComposite DefKind = iota
	DefVariant
	DefSequence
	DefArray
	DefTuple
	DefPrimitive
	DefCompact
	DefBitSequence
)

// Primitive enumerates the primitive types, numbered as in metadata.
type Primitive uint8

const (
	PrimBool Primitive = iota
	PrimChar
	PrimStr
	PrimU8
	PrimU16
	PrimU32
	PrimU64
	PrimU128
	PrimU256
	PrimI8
	PrimI16
	PrimI32
	PrimI64
	PrimI128
	PrimI256
)

// Size returns the encoded width of fixed-size integer primitives, 0 otherwise.
func (p Primitive) Size() int {
	switch p {
	case PrimU8, PrimI8:
		return 1
	case PrimU16, PrimI16:
		return 2
	case PrimU32, PrimI32, PrimChar:
		return 4
	case PrimU64, PrimI64:
		return 8
	case PrimU128, PrimI128:
		return 16
	case PrimU256, PrimI256:
		return 32
	default:
		return 0
	}
}

// Signed reports whether p is a signed integer.
func (p Primitive) Signed() bool {
	return p >= PrimI8 && p <= PrimI256
}

// TypeField is a field of a composite type or enum variant.
type TypeField struct {
	Name     string
	Type     TypeID
	TypeName string
}

// TypeVariant is one variant of an enum type.
type TypeVariant struct {
	Name   string
	Index  uint8
	Fields []TypeField
}

// TypeParam is a generic parameter of a type. Type is nil for erased params.
type TypeParam struct {
	Name string
	Type *TypeID
}

// TypeDef describes the shape of a type. Only the fields relevant to Kind are set.
type TypeDef struct {
	Kind      DefKind
	Fields    []TypeField
	Variants  []TypeVariant
	Elem      TypeID
	Len       uint32
	Tuple     []TypeID
	Primitive Primitive
	BitStore  TypeID
	BitOrder  TypeID
}

// Variant returns the variant with the given index.
func (d *TypeDef) Variant(index uint8) (*TypeVariant, bool) {
	for i := range d.Variants {
		if d.Variants[i].Index == index {
			return &d.Variants[i], true
		}
	}
	return nil, false
}

// VariantByName returns the variant with the given name.
func (d *TypeDef) VariantByName(name string) (*TypeVariant, bool) {
	for i := range d.Variants {
		if d.Variants[i].Name == name {
			return &d.Variants[i], true
		}
	}
	return nil, false
}

// Type is a registry entry.
type Type struct {
	ID     TypeID
	Path   []string
	Params []TypeParam
	Def    TypeDef
}

// PathString joins the path segments with "::".
func (t *Type) PathString() string {
	return strings.Join(t.Path, "::")
}

// Param returns the type bound to the named generic parameter.
func (t *Type) Param(name string) (TypeID, bool) {
	for _, p := range t.Params {
		if p.Name == name && p.Type != nil {
			return *p.Type, true
		}
	}
	return 0, false
}

// Registry is the portable type registry carried in runtime metadata.
type Registry struct {
	types map[TypeID]*Type
}

// NewRegistry builds a registry from types. Used to construct registries
// in code; metadata decoding builds its own.
func NewRegistry(types ...*Type) *Registry {
	r := &Registry{types: make(map[TypeID]*Type, len(types))}
	for _, t := range types {
		r.types[t.ID] = t
	}
	return r
}

// Len returns the number of types.
func (r *Registry) Len() int { return len(r.types) }

// Type looks up a type by id.
func (r *Registry) Type(id TypeID) (*Type, error) {
	t, ok := r.types[id]
	if !ok {
		return nil, errors.Errorf("scale: unknown type id %d", id)
	}
	return t, nil
}

// FindByPath returns the first type whose path equals path.
func (r *Registry) FindByPath(path ...string) (*Type, bool) {
	want := strings.Join(path, "::")
	var found *Type
	for _, t := range r.types {
		if t.PathString() == want && (found == nil || t.ID < found.ID) {
			found = t
		}
	}
	return found, found != nil
}

func decodeRegistry(d *Decoder) (*Registry, error) {
	n, err := d.ReadLength()
	if err != nil {
		return nil, errors.Wrap(err, "type count")
	}
	r := &Registry{types: make(map[TypeID]*Type, n)}
	for i := 0; i < n; i++ {
		t, err := decodeType(d)
		if err != nil {
			return nil, errors.Wrapf(err, "type #%d", i)
		}
		r.types[t.ID] = t
	}
	return r, nil
}

func decodeType(d *Decoder) (*Type, error) {
	id, err := d.ReadCompactUint64()
	if err != nil {
		return nil, err
	}
	t := &Type{ID: TypeID(id)}
	if t.Path, err = d.ReadStringVec(); err != nil {
		return nil, errors.Wrap(err, "path")
	}
	np, err := d.ReadLength()
	if err != nil {
		return nil, err
	}
	for i := 0; i < np; i++ {
		name, err := d.ReadString()
		if err != nil {
			return nil, err
		}
		p := TypeParam{Name: name}
		some, err := d.ReadOption()
		if err != nil {
			return nil, err
		}
		if some {
			pid, err := readTypeID(d)
			if err != nil {
				return nil, err
			}
			p.Type = &pid
		}
		t.Params = append(t.Params, p)
	}
	if t.Def, err = decodeTypeDef(d); err != nil {
		return nil, errors.Wrapf(err, "definition of type %d", t.ID)
	}
	if _, err = d.ReadStringVec(); err != nil { // docs
		return nil, err
	}
	return t, nil
}

func decodeTypeDef(d *Decoder) (TypeDef, error) {
	tag, err := d.ReadByte()
	if err != nil {
		return TypeDef{}, err
	}
	def := TypeDef{Kind: DefKind(tag)}
	switch def.Kind {
	case DefComposite:
		def.Fields, err = decodeFields(d)
	case DefVariant:
		var n int
		if n, err = d.ReadLength(); err != nil {
			return def, err
		}
		for i := 0; i < n; i++ {
			var v TypeVariant
			if v.Name, err = d.ReadString(); err != nil {
				return def, err
			}
			if v.Fields, err = decodeFields(d); err != nil {
				return def, err
			}
			if v.Index, err = d.ReadByte(); err != nil {
				return def, err
			}
			if _, err = d.ReadStringVec(); err != nil {
				return def, err
			}
			def.Variants = append(def.Variants, v)
		}
	case DefSequence, DefCompact:
		def.Elem, err = readTypeID(d)
	case DefArray:
		if def.Len, err = d.ReadUint32(); err != nil {
			return def, err
		}
		def.Elem, err = readTypeID(d)
	case DefTuple:
		var n int
		if n, err = d.ReadLength(); err != nil {
			return def, err
		}
		for i := 0; i < n; i++ {
			var id TypeID
			if id, err = readTypeID(d); err != nil {
				return def, err
			}
			def.Tuple = append(def.Tuple, id)
		}
	case DefPrimitive:
		var p byte
		p, err = d.ReadByte()
		if p > byte(PrimI256) {
			return def, errors.Errorf("scale: unknown primitive %d at offset %d", p, d.Offset()-1)
		}
		def.Primitive = Primitive(p)
	case DefBitSequence:
		if def.BitStore, err = readTypeID(d); err != nil {
			return def, err
		}
		def.BitOrder, err = readTypeID(d)
	default:
		return def, errors.Errorf("scale: unknown type definition tag %d at offset %d", tag, d.Offset()-1)
	}
	return def, err
}

func decodeFields(d *Decoder) ([]TypeField, error) {
	n, err := d.ReadLength()
	if err != nil {
		return nil, err
	}
	fields := make([]TypeField, 0, minInt(n, d.Len()))
	for i := 0; i < n; i++ {
		var f TypeField
		if f.Name, err = readOptionString(d); err != nil {
			return nil, err
		}
		if f.Type, err = readTypeID(d); err != nil {
			return nil, err
		}
		if f.TypeName, err = readOptionString(d); err != nil {
			return nil, err
		}
		if _, err = d.ReadStringVec(); err != nil {
			return nil, err
		}
		fields = append(fields, f)
	}
	return fields, nil
}

func readTypeID(d *Decoder) (TypeID, error) {
	v, err := d.ReadCompactUint64()
	if err != nil {
		return 0, err
	}
	if v > 1<<32-1 {
		return 0, errors.Errorf("scale: type id %d out of range", v)
	}
	return TypeID(v), nil
}

func readOptionString(d *Decoder) (string, error) {
	some, err := d.ReadOption()
	if err != nil || !some {
		return "", err
	}
	return d.ReadString()
}

func (k DefKind) String() string {
	switch k {
	case DefComposite:
		return "composite"
	case DefVariant:
		return "variant"
	case DefSequence:
		return "sequence"
	case DefArray:
		return "array"
	case DefTuple:
		return "tuple"
	case DefPrimitive:
		return "primitive"
	case DefCompact:
		return "compact"
	case DefBitSequence:
		return "bitsequence"
	default:
		return fmt.Sprintf("DefKind(%d)", uint8(k))
	}
}
