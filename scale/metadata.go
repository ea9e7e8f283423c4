package scale

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// metadataMagic is "meta" read as a little-endian u32.
const metadataMagic = 0x6174656d

var (
	// ErrUnsupportedMetadata is returned for metadata versions other than 14 and 15.
	ErrUnsupportedMetadata = errors.New("scale: unsupported metadata version")
	// ErrUnknownPallet is returned when a pallet is not part of the runtime.
	ErrUnknownPallet = errors.New("unknown pallet")
	// ErrUnknownItem is returned when a storage item or constant does not exist.
	ErrUnknownItem = errors.New("unknown item")
)

// StorageModifier tells how an absent storage value is reported.
type StorageModifier uint8

const (
	// StorageOptional entries read as absent when no value is stored.
	StorageOptional StorageModifier = iota
	// StorageDefault entries read as their metadata default when no value is stored.
	StorageDefault
)

// StorageItem describes a storage entry of a pallet.
type StorageItem struct {
	Prefix    string
	Name      string
	Modifier  StorageModifier
	IsMap     bool
	Hashers   []Hasher
	KeyType   TypeID
	ValueType TypeID
	Default   []byte
}

// Constant is a pallet constant with its encoded value.
type Constant struct {
	Name  string
	Type  TypeID
	Value []byte
}

// Pallet is a runtime module as described by metadata.
type Pallet struct {
	Name          string
	Index         uint8
	StoragePrefix string
	Storage       []*StorageItem
	CallType      *TypeID
	EventType     *TypeID
	ErrorType     *TypeID
	Constants     []Constant
}

// StorageItem returns the named storage entry.
func (p *Pallet) StorageItem(name string) (*StorageItem, bool) {
	for _, s := range p.Storage {
		if s.Name == name {
			return s, true
		}
	}
	return nil, false
}

// SignedExtension is an extension carried in the extra data of signed extrinsics.
type SignedExtension struct {
	Identifier       string
	Type             TypeID
	AdditionalSigned TypeID
}

// ExtrinsicFormat describes how extrinsics are encoded.
type ExtrinsicFormat struct {
	Version          uint8
	AddressType      TypeID
	CallType         TypeID
	SignatureType    TypeID
	ExtraType        TypeID
	SignedExtensions []SignedExtension
}

// Metadata is decoded runtime metadata.
type Metadata struct {
	Version   uint8
	Types     *Registry
	Pallets   []*Pallet
	Extrinsic ExtrinsicFormat

	byName  map[string]*Pallet
	byIndex map[uint8]*Pallet
}

// DecodeMetadata parses the bytes returned by state_getMetadata.
func DecodeMetadata(b []byte) (*Metadata, error) {
	d := NewDecoder(b)
	magic, err := d.ReadUint32()
	if err != nil {
		return nil, errors.Wrap(err, "metadata magic")
	}
	if magic != metadataMagic {
		// Some endpoints prefix the blob with its compact length.
		return decodePrefixedMetadata(b)
	}
	version, err := d.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != 14 && version != 15 {
		return nil, errors.Wrapf(ErrUnsupportedMetadata, "v%d", version)
	}
	m := &Metadata{Version: version}
	if m.Types, err = decodeRegistry(d); err != nil {
		return nil, errors.Wrap(err, "type registry")
	}
	n, err := d.ReadLength()
	if err != nil {
		return nil, errors.Wrap(err, "pallet count")
	}
	for i := 0; i < n; i++ {
		p, err := decodePallet(d, version)
		if err != nil {
			return nil, errors.Wrapf(err, "pallet #%d", i)
		}
		m.Pallets = append(m.Pallets, p)
	}
	if version == 14 {
		err = m.decodeExtrinsicV14(d)
	} else {
		err = m.decodeExtrinsicV15(d)
	}
	if err != nil {
		return nil, errors.Wrap(err, "extrinsic metadata")
	}
	// Remaining sections (runtime type, runtime APIs, outer enums) are not needed.
	m.index()
	return m, nil
}

func decodePrefixedMetadata(b []byte) (*Metadata, error) {
	d := NewDecoder(b)
	n, err := d.ReadLength()
	if err != nil || n != d.Len() || d.Len() < 4 || binary.LittleEndian.Uint32(d.Remaining()) != metadataMagic {
		return nil, errors.New("scale: metadata does not start with magic bytes")
	}
	return DecodeMetadata(d.Remaining())
}

func (m *Metadata) index() {
	m.byName = make(map[string]*Pallet, len(m.Pallets))
	m.byIndex = make(map[uint8]*Pallet, len(m.Pallets))
	for _, p := range m.Pallets {
		m.byName[p.Name] = p
		m.byIndex[p.Index] = p
	}
}

// NewMetadata assembles metadata from parts, for runtimes described in code.
func NewMetadata(types *Registry, ext ExtrinsicFormat, pallets ...*Pallet) *Metadata {
	m := &Metadata{Version: 15, Types: types, Pallets: pallets, Extrinsic: ext}
	m.index()
	return m
}

// Pallet returns the pallet with the given name.
func (m *Metadata) Pallet(name string) (*Pallet, bool) {
	p, ok := m.byName[name]
	return p, ok
}

// PalletByIndex returns the pallet with the given call/event index.
func (m *Metadata) PalletByIndex(index uint8) (*Pallet, bool) {
	p, ok := m.byIndex[index]
	return p, ok
}

// StorageItem returns a storage entry by pallet and item name.
func (m *Metadata) StorageItem(pallet, item string) (*StorageItem, error) {
	p, ok := m.byName[pallet]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownPallet, "%s", pallet)
	}
	s, ok := p.StorageItem(item)
	if !ok {
		return nil, errors.Wrapf(ErrUnknownItem, "storage %s.%s", pallet, item)
	}
	return s, nil
}

// Constant decodes a pallet constant.
func (m *Metadata) Constant(pallet, name string) (Value, error) {
	p, ok := m.byName[pallet]
	if !ok {
		return Value{}, errors.Wrapf(ErrUnknownPallet, "%s", pallet)
	}
	for _, c := range p.Constants {
		if c.Name == name {
			return m.Types.DecodeBytes(c.Value, c.Type)
		}
	}
	return Value{}, errors.Wrapf(ErrUnknownItem, "constant %s.%s", pallet, name)
}

func decodePallet(d *Decoder, version uint8) (*Pallet, error) {
	var (
		p   = new(Pallet)
		err error
	)
	if p.Name, err = d.ReadString(); err != nil {
		return nil, err
	}
	some, err := d.ReadOption()
	if err != nil {
		return nil, err
	}
	if some {
		if p.StoragePrefix, err = d.ReadString(); err != nil {
			return nil, err
		}
		n, err := d.ReadLength()
		if err != nil {
			return nil, err
		}
		for i := 0; i < n; i++ {
			s, err := decodeStorageItem(d, p.StoragePrefix)
			if err != nil {
				return nil, errors.Wrapf(err, "%s storage #%d", p.Name, i)
			}
			p.Storage = append(p.Storage, s)
		}
	}
	if p.CallType, err = readOptionTypeID(d); err != nil {
		return nil, err
	}
	if p.EventType, err = readOptionTypeID(d); err != nil {
		return nil, err
	}
	n, err := d.ReadLength()
	if err != nil {
		return nil, err
	}
	for i := 0; i < n; i++ {
		var c Constant
		if c.Name, err = d.ReadString(); err != nil {
			return nil, err
		}
		if c.Type, err = readTypeID(d); err != nil {
			return nil, err
		}
		if c.Value, err = d.ReadByteVec(); err != nil {
			return nil, err
		}
		if _, err = d.ReadStringVec(); err != nil {
			return nil, err
		}
		p.Constants = append(p.Constants, c)
	}
	if p.ErrorType, err = readOptionTypeID(d); err != nil {
		return nil, err
	}
	if p.Index, err = d.ReadByte(); err != nil {
		return nil, err
	}
	if version >= 15 {
		if _, err = d.ReadStringVec(); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func decodeStorageItem(d *Decoder, prefix string) (*StorageItem, error) {
	s := &StorageItem{Prefix: prefix}
	var err error
	if s.Name, err = d.ReadString(); err != nil {
		return nil, err
	}
	mod, err := d.ReadByte()
	if err != nil {
		return nil, err
	}
	if mod > byte(StorageDefault) {
		return nil, errors.Errorf("scale: invalid storage modifier %d at offset %d", mod, d.Offset()-1)
	}
	s.Modifier = StorageModifier(mod)
	kind, err := d.ReadByte()
	if err != nil {
		return nil, err
	}
	switch kind {
	case 0:
		if s.ValueType, err = readTypeID(d); err != nil {
			return nil, err
		}
	case 1:
		s.IsMap = true
		n, err := d.ReadLength()
		if err != nil {
			return nil, err
		}
		for i := 0; i < n; i++ {
			h, err := d.ReadByte()
			if err != nil {
				return nil, err
			}
			if h > byte(Identity) {
				return nil, errors.Errorf("scale: unknown hasher %d at offset %d", h, d.Offset()-1)
			}
			s.Hashers = append(s.Hashers, Hasher(h))
		}
		if s.KeyType, err = readTypeID(d); err != nil {
			return nil, err
		}
		if s.ValueType, err = readTypeID(d); err != nil {
			return nil, err
		}
	default:
		return nil, errors.Errorf("scale: invalid storage entry kind %d at offset %d", kind, d.Offset()-1)
	}
	if s.Default, err = d.ReadByteVec(); err != nil {
		return nil, err
	}
	if _, err = d.ReadStringVec(); err != nil {
		return nil, err
	}
	return s, nil
}

func (m *Metadata) decodeExtrinsicV14(d *Decoder) error {
	ty, err := readTypeID(d)
	if err != nil {
		return err
	}
	if m.Extrinsic.Version, err = d.ReadByte(); err != nil {
		return err
	}
	if m.Extrinsic.SignedExtensions, err = decodeSignedExtensions(d); err != nil {
		return err
	}
	t, err := m.Types.Type(ty)
	if err != nil {
		return err
	}
	params := []struct {
		name string
		dst  *TypeID
	}{
		{"Address", &m.Extrinsic.AddressType},
		{"Call", &m.Extrinsic.CallType},
		{"Signature", &m.Extrinsic.SignatureType},
		{"Extra", &m.Extrinsic.ExtraType},
	}
	for _, p := range params {
		id, ok := t.Param(p.name)
		if !ok {
			return errors.Errorf("scale: extrinsic type %s has no %s parameter", t.PathString(), p.name)
		}
		*p.dst = id
	}
	return nil
}

func (m *Metadata) decodeExtrinsicV15(d *Decoder) error {
	var err error
	x := &m.Extrinsic
	if x.Version, err = d.ReadByte(); err != nil {
		return err
	}
	for _, dst := range []*TypeID{&x.AddressType, &x.CallType, &x.SignatureType, &x.ExtraType} {
		if *dst, err = readTypeID(d); err != nil {
			return err
		}
	}
	x.SignedExtensions, err = decodeSignedExtensions(d)
	return err
}

func decodeSignedExtensions(d *Decoder) ([]SignedExtension, error) {
	n, err := d.ReadLength()
	if err != nil {
		return nil, err
	}
	out := make([]SignedExtension, 0, minInt(n, d.Len()))
	for i := 0; i < n; i++ {
		var e SignedExtension
		if e.Identifier, err = d.ReadString(); err != nil {
			return nil, err
		}
		if e.Type, err = readTypeID(d); err != nil {
			return nil, err
		}
		if e.AdditionalSigned, err = readTypeID(d); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func readOptionTypeID(d *Decoder) (*TypeID, error) {
	some, err := d.ReadOption()
	if err != nil || !some {
		return nil, err
	}
	id, err := readTypeID(d)
	if err != nil {
		return nil, err
	}
	return &id, nil
}
