package scaletest

import (
	"github.com/chainmon/substrate-exporter/scale"
)

// Event describes an entry of System.Events. Extrinsic < 0 means the
// Finalization phase.
type Event struct {
	Extrinsic int
	Pallet    string
	Name      string
	Fields    []scale.NamedValue
}

func dispatchInfo() scale.Value {
	return Composite(Field("weight", U(1000)), Field("class", U(0)), Field("pays_fee", U(0)))
}

// Success is System.ExtrinsicSuccess for extrinsic i.
func Success(i int) Event {
	return Event{Extrinsic: i, Pallet: "System", Name: "ExtrinsicSuccess", Fields: []scale.NamedValue{
		Field("dispatch_info", dispatchInfo()),
	}}
}

// Failed is System.ExtrinsicFailed for extrinsic i.
func Failed(i int) Event {
	return Event{Extrinsic: i, Pallet: "System", Name: "ExtrinsicFailed", Fields: []scale.NamedValue{
		Field("dispatch_error", Variant("BadOrigin")),
		Field("dispatch_info", dispatchInfo()),
	}}
}

// CodeUpdated is System.CodeUpdated emitted during finalization.
func CodeUpdated() Event {
	return Event{Extrinsic: -1, Pallet: "System", Name: "CodeUpdated"}
}

// Transfer is Balances.Transfer within extrinsic i.
func Transfer(i int, amount uint64) Event {
	return Event{Extrinsic: i, Pallet: "Balances", Name: "Transfer", Fields: []scale.NamedValue{
		Field("from", Bytes(Account(1))),
		Field("to", Bytes(Account(2))),
		Field("amount", U(amount)),
	}}
}

// Events encodes the given records as the raw value of System.Events.
func (rt *Runtime) Events(events ...Event) []byte {
	items := make([]scale.Value, 0, len(events))
	for _, e := range events {
		phase := Variant("Finalization")
		if e.Extrinsic >= 0 {
			phase = Variant("ApplyExtrinsic", Field("", U(uint64(e.Extrinsic))))
		}
		items = append(items, Composite(
			Field("phase", phase),
			Field("event", Variant(e.Pallet, Field("", Variant(e.Name, e.Fields...)))),
			Field("topics", Seq()),
		))
	}
	return rt.must(rt.EventRecords, Seq(items...))
}

// Extrinsic encodes a length-prefixed extrinsic calling pallet.call.
func (rt *Runtime) Extrinsic(signed bool, pallet, call string, args ...scale.NamedValue) []byte {
	md := rt.Metadata
	callValue := Variant(pallet, Field("", Variant(call, args...)))
	body := []byte{4}
	if signed {
		body[0] |= 0x80
		body = append(body, rt.must(md.Extrinsic.AddressType, Variant("Id", Field("", Bytes(Account(9)))))...)
		body = append(body, rt.must(md.Extrinsic.SignatureType, Variant("Sr25519", Field("", Bytes(make([]byte, 64)))))...)
		body = append(body, rt.must(md.Extrinsic.ExtraType, Tuple(U(1), U(0)))...)
	}
	body = append(body, rt.must(md.Extrinsic.CallType, callValue)...)
	return scale.EncodeByteVec(body)
}

// TimestampSet encodes the Timestamp.set inherent.
func (rt *Runtime) TimestampSet(ms uint64) []byte {
	return rt.Extrinsic(false, "Timestamp", "set", Field("now", U(ms)))
}

// Remark encodes a signed System.remark extrinsic.
func (rt *Runtime) Remark() []byte {
	return rt.Extrinsic(true, "System", "remark", Field("remark", Bytes([]byte("hi"))))
}

// TransferCall encodes a signed Balances.transfer_keep_alive extrinsic.
func (rt *Runtime) TransferCall(amount uint64) []byte {
	return rt.Extrinsic(true, "Balances", "transfer_keep_alive",
		Field("dest", Variant("Id", Field("", Bytes(Account(2))))),
		Field("value", U(amount)),
	)
}

// Storage encodes v as the value of pallet.item.
func (rt *Runtime) Storage(pallet, item string, v scale.Value) []byte {
	s, err := rt.Metadata.StorageItem(pallet, item)
	if err != nil {
		panic(err)
	}
	return rt.must(s.ValueType, v)
}

// StorageKey returns the storage key of pallet.item for the encoded keys.
func (rt *Runtime) StorageKey(pallet, item string, keys ...[]byte) []byte {
	s, err := rt.Metadata.StorageItem(pallet, item)
	if err != nil {
		panic(err)
	}
	k, err := scale.StorageKey(s, keys...)
	if err != nil {
		panic(err)
	}
	return k
}

func (rt *Runtime) must(id scale.TypeID, v scale.Value) []byte {
	b, err := rt.Metadata.Types.Encode(id, v)
	if err != nil {
		panic(err)
	}
	return b
}
