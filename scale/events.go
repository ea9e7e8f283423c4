package scale

import (
	"github.com/pkg/errors"
)

// Phase is the block execution phase an event was emitted in.
type Phase uint8

const (
	PhaseApplyExtrinsic Phase = iota
	PhaseFinalization
	PhaseInitialization
)

// EventRecord is one entry of System.Events.
type EventRecord struct {
	Phase          Phase
	ExtrinsicIndex uint32
	Pallet         string
	Name           string
	Fields         []NamedValue
}

// Extrinsic is a decoded extrinsic of a block body.
type Extrinsic struct {
	Signed bool
	Pallet string
	Call   string
	Args   Value
}

const (
	extrinsicSignedBit   = 0x80
	extrinsicVersionMask = 0x7f
)

// DecodeEvents decodes the raw value of System.Events.
func (m *Metadata) DecodeEvents(raw []byte) ([]EventRecord, error) {
	item, err := m.StorageItem("System", "Events")
	if err != nil {
		return nil, err
	}
	v, _, err := m.DecodeStorage(item, raw, true)
	if err != nil {
		return nil, err
	}
	list, err := v.List()
	if err != nil {
		return nil, errors.Wrap(err, "System.Events")
	}
	out := make([]EventRecord, 0, len(list))
	for i, rec := range list {
		phase, ok := rec.Field("phase")
		if !ok || phase.Kind != KindVariant {
			return nil, errors.Errorf("event %d: missing phase", i)
		}
		ev, ok := rec.Field("event")
		if !ok || ev.Kind != KindVariant || len(ev.Fields) != 1 || ev.Fields[0].Value.Kind != KindVariant {
			return nil, errors.Errorf("event %d: malformed event", i)
		}
		inner := ev.Fields[0].Value
		r := EventRecord{Pallet: ev.Variant, Name: inner.Variant, Fields: inner.Fields}
		switch phase.Variant {
		case "ApplyExtrinsic":
			r.Phase = PhaseApplyExtrinsic
			if len(phase.Fields) != 1 {
				return nil, errors.Errorf("event %d: ApplyExtrinsic without index", i)
			}
			idx, err := phase.Fields[0].Value.Uint64()
			if err != nil {
				return nil, errors.Wrapf(err, "event %d phase", i)
			}
			r.ExtrinsicIndex = uint32(idx)
		case "Finalization":
			r.Phase = PhaseFinalization
		case "Initialization":
			r.Phase = PhaseInitialization
		default:
			return nil, errors.Errorf("event %d: unknown phase %q", i, phase.Variant)
		}
		out = append(out, r)
	}
	return out, nil
}

// DecodeExtrinsic decodes one length-prefixed extrinsic as found in a block body.
func (m *Metadata) DecodeExtrinsic(raw []byte) (Extrinsic, error) {
	d := NewDecoder(raw)
	body, err := d.ReadByteVec()
	if err != nil {
		return Extrinsic{}, errors.Wrap(err, "extrinsic length")
	}
	if d.Len() != 0 {
		return Extrinsic{}, errors.Errorf("scale: %d trailing bytes after extrinsic", d.Len())
	}
	d = NewDecoder(body)
	vb, err := d.ReadByte()
	if err != nil {
		return Extrinsic{}, err
	}
	if version := vb & extrinsicVersionMask; version != m.Extrinsic.Version && m.Extrinsic.Version != 0 {
		return Extrinsic{}, errors.Errorf("scale: unsupported extrinsic version %d", version)
	}
	x := Extrinsic{Signed: vb&extrinsicSignedBit != 0}
	if x.Signed {
		for _, part := range []struct {
			name string
			id   TypeID
		}{
			{"address", m.Extrinsic.AddressType},
			{"signature", m.Extrinsic.SignatureType},
			{"extra", m.Extrinsic.ExtraType},
		} {
			if _, err := m.Types.Decode(d, part.id); err != nil {
				return Extrinsic{}, errors.Wrapf(err, "extrinsic %s", part.name)
			}
		}
	}
	call, err := m.Types.Decode(d, m.Extrinsic.CallType)
	if err != nil {
		return Extrinsic{}, errors.Wrap(err, "extrinsic call")
	}
	if d.Len() != 0 {
		return Extrinsic{}, errors.Errorf("scale: %d trailing bytes after call", d.Len())
	}
	if call.Kind != KindVariant || len(call.Fields) != 1 || call.Fields[0].Value.Kind != KindVariant {
		return Extrinsic{}, errors.New("scale: call is not a pallet call variant")
	}
	x.Pallet = call.Variant
	x.Call = call.Fields[0].Value.Variant
	x.Args = call.Fields[0].Value
	return x, nil
}
