// Package scaletest provides a small synthetic Substrate runtime for tests:
// metadata plus helpers to encode extrinsics, events and storage values.
package scaletest

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/chainmon/substrate-exporter/scale"
)

// Pallet indices of the synthetic runtime.
const (
	SystemIndex    = 0
	TimestampIndex = 2
	BalancesIndex  = 5
	SessionIndex   = 6
	StakingIndex   = 7
	IdentityIndex  = 8
)

// SS58Prefix is the network prefix exposed through System.SS58Prefix.
const SS58Prefix = 42

// Runtime is the synthetic runtime.
type Runtime struct {
	Metadata *scale.Metadata
	// Raw is the encoded metadata as returned by state_getMetadata.
	Raw []byte

	AccountID    scale.TypeID
	EventRecords scale.TypeID
	Data         scale.TypeID
}

type builder struct {
	types []*scale.Type
}

func (b *builder) add(path string, def scale.TypeDef, params ...scale.TypeParam) scale.TypeID {
	id := scale.TypeID(len(b.types))
	var p []string
	if path != "" {
		p = strings.Split(path, "::")
	}
	b.types = append(b.types, &scale.Type{ID: id, Path: p, Params: params, Def: def})
	return id
}

func prim(p scale.Primitive) scale.TypeDef {
	return scale.TypeDef{Kind: scale.DefPrimitive, Primitive: p}
}

func composite(fields ...scale.TypeField) scale.TypeDef {
	return scale.TypeDef{Kind: scale.DefComposite, Fields: fields}
}

func variants(vs ...scale.TypeVariant) scale.TypeDef {
	return scale.TypeDef{Kind: scale.DefVariant, Variants: vs}
}

func seq(elem scale.TypeID) scale.TypeDef {
	return scale.TypeDef{Kind: scale.DefSequence, Elem: elem}
}

func array(n uint32, elem scale.TypeID) scale.TypeDef {
	return scale.TypeDef{Kind: scale.DefArray, Len: n, Elem: elem}
}

func tuple(ids ...scale.TypeID) scale.TypeDef {
	return scale.TypeDef{Kind: scale.DefTuple, Tuple: ids}
}

func compact(elem scale.TypeID) scale.TypeDef {
	return scale.TypeDef{Kind: scale.DefCompact, Elem: elem}
}

func f(name string, ty scale.TypeID) scale.TypeField {
	return scale.TypeField{Name: name, Type: ty}
}

func v(name string, index uint8, fields ...scale.TypeField) scale.TypeVariant {
	return scale.TypeVariant{Name: name, Index: index, Fields: fields}
}

func param(name string, ty scale.TypeID) scale.TypeParam {
	return scale.TypeParam{Name: name, Type: &ty}
}

func ptr(id scale.TypeID) *scale.TypeID { return &id }

// NewRuntime builds the synthetic runtime.
func NewRuntime() *Runtime {
	b := new(builder)

	u8 := b.add("", prim(scale.PrimU8))
	u16 := b.add("", prim(scale.PrimU16))
	u32 := b.add("", prim(scale.PrimU32))
	u64 := b.add("", prim(scale.PrimU64))
	u128 := b.add("", prim(scale.PrimU128))
	boolT := b.add("", prim(scale.PrimBool))

	bytes32 := b.add("", array(32, u8))
	bytes64 := b.add("", array(64, u8))
	accountID := b.add("sp_core::crypto::AccountId32", composite(f("", bytes32)))
	h256 := b.add("primitive_types::H256", composite(f("", bytes32)))
	vecU8 := b.add("", seq(u8))
	vecAccount := b.add("", seq(accountID))
	vecH256 := b.add("", seq(h256))
	compactU32 := b.add("", compact(u32))
	compactU64 := b.add("", compact(u64))
	compactU128 := b.add("", compact(u128))
	perbill := b.add("sp_arithmetic::per_things::Perbill", composite(f("", u32)))
	compactPerbill := b.add("", compact(perbill))

	multiAddress := b.add("sp_runtime::multiaddress::MultiAddress", variants(
		v("Id", 0, f("", accountID)),
		v("Index", 1, f("", compactU32)),
		v("Raw", 2, f("", vecU8)),
	))
	multiSignature := b.add("sp_runtime::MultiSignature", variants(
		v("Ed25519", 0, f("", bytes64)),
		v("Sr25519", 1, f("", bytes64)),
	))
	extra := b.add("", tuple(compactU64, compactU128))

	systemCall := b.add("frame_system::pallet::Call", variants(
		v("remark", 0, f("remark", vecU8)),
	))
	timestampCall := b.add("pallet_timestamp::pallet::Call", variants(
		v("set", 0, f("now", compactU64)),
	))
	balancesCall := b.add("pallet_balances::pallet::Call", variants(
		v("transfer_keep_alive", 3, f("dest", multiAddress), f("value", compactU128)),
	))
	stakingCall := b.add("pallet_staking::pallet::pallet::Call", variants(
		v("chill", 6),
	))
	runtimeCall := b.add("node_runtime::RuntimeCall", variants(
		v("System", SystemIndex, f("", systemCall)),
		v("Timestamp", TimestampIndex, f("", timestampCall)),
		v("Balances", BalancesIndex, f("", balancesCall)),
		v("Staking", StakingIndex, f("", stakingCall)),
	))
	b.add("sp_runtime::generic::unchecked_extrinsic::UncheckedExtrinsic",
		composite(f("", vecU8)),
		param("Address", multiAddress), param("Call", runtimeCall),
		param("Signature", multiSignature), param("Extra", extra),
	)

	dispatchInfo := b.add("frame_support::dispatch::DispatchInfo", composite(
		f("weight", u64), f("class", u8), f("pays_fee", u8),
	))
	dispatchError := b.add("sp_runtime::DispatchError", variants(
		v("Other", 0), v("CannotLookup", 1), v("BadOrigin", 2),
	))
	systemEvent := b.add("frame_system::pallet::Event", variants(
		v("ExtrinsicSuccess", 0, f("dispatch_info", dispatchInfo)),
		v("ExtrinsicFailed", 1, f("dispatch_error", dispatchError), f("dispatch_info", dispatchInfo)),
		v("CodeUpdated", 2),
		v("NewAccount", 3, f("account", accountID)),
	))
	balancesEvent := b.add("pallet_balances::pallet::Event", variants(
		v("Transfer", 2, f("from", accountID), f("to", accountID), f("amount", u128)),
	))
	stakingEvent := b.add("pallet_staking::pallet::pallet::Event", variants(
		v("Rewarded", 1, f("stash", accountID), f("amount", u128)),
	))
	runtimeEvent := b.add("node_runtime::RuntimeEvent", variants(
		v("System", SystemIndex, f("", systemEvent)),
		v("Balances", BalancesIndex, f("", balancesEvent)),
		v("Staking", StakingIndex, f("", stakingEvent)),
	))
	phase := b.add("frame_system::Phase", variants(
		v("ApplyExtrinsic", 0, f("", u32)),
		v("Finalization", 1),
		v("Initialization", 2),
	))
	eventRecord := b.add("frame_system::EventRecord", composite(
		f("phase", phase), f("event", runtimeEvent), f("topics", vecH256),
	))
	eventRecords := b.add("", seq(eventRecord))

	optionU64 := b.add("Option", variants(v("None", 0), v("Some", 1, f("", u64))))
	activeEraInfo := b.add("pallet_staking::ActiveEraInfo", composite(f("index", u32), f("start", optionU64)))
	individualExposure := b.add("sp_staking::IndividualExposure", composite(f("who", accountID), f("value", compactU128)))
	vecIndividual := b.add("", seq(individualExposure))
	exposure := b.add("sp_staking::Exposure", composite(
		f("total", compactU128), f("own", compactU128), f("others", vecIndividual),
	))
	validatorPrefs := b.add("pallet_staking::ValidatorPrefs", composite(f("commission", compactPerbill), f("blocked", boolT)))
	nominations := b.add("pallet_staking::Nominations", composite(
		f("targets", vecAccount), f("submitted_in", u32), f("suppressed", boolT),
	))
	accPoints := b.add("", tuple(accountID, u32))
	vecAccPoints := b.add("", seq(accPoints))
	eraRewardPoints := b.add("pallet_staking::EraRewardPoints", composite(f("total", u32), f("individual", vecAccPoints)))
	eraAccount := b.add("", tuple(u32, accountID))

	dataVariants := []scale.TypeVariant{v("None", 0)}
	for n := uint32(0); n <= 32; n++ {
		raw := b.add("", array(n, u8))
		dataVariants = append(dataVariants, v(fmt.Sprintf("Raw%d", n), uint8(n+1), f("", raw)))
	}
	dataVariants = append(dataVariants, v("BlakeTwo256", 34, f("", bytes32)), v("Sha256", 35, f("", bytes32)))
	data := b.add("pallet_identity::types::Data", variants(dataVariants...))
	identityInfo := b.add("pallet_identity::types::IdentityInfo", composite(
		f("display", data), f("legal", data), f("web", data),
	))
	registration := b.add("pallet_identity::types::Registration", composite(f("deposit", u128), f("info", identityInfo)))
	superOf := b.add("", tuple(accountID, data))

	reg := scale.NewRegistry(b.types...)

	plain := func(name string, mod scale.StorageModifier, ty scale.TypeID, def []byte) *scale.StorageItem {
		return &scale.StorageItem{Name: name, Modifier: mod, ValueType: ty, Default: def}
	}
	mapped := func(name string, mod scale.StorageModifier, key, ty scale.TypeID, def []byte, hashers ...scale.Hasher) *scale.StorageItem {
		return &scale.StorageItem{Name: name, Modifier: mod, IsMap: true, Hashers: hashers, KeyType: key, ValueType: ty, Default: def}
	}
	pallets := []*scale.Pallet{
		{
			Name: "System", Index: SystemIndex, StoragePrefix: "System",
			Storage: []*scale.StorageItem{
				plain("Number", scale.StorageDefault, u32, make([]byte, 4)),
				plain("Events", scale.StorageDefault, eventRecords, []byte{0}),
			},
			CallType: ptr(systemCall), EventType: ptr(systemEvent),
			Constants: []scale.Constant{{Name: "SS58Prefix", Type: u16, Value: []byte{SS58Prefix, 0}}},
		},
		{
			Name: "Timestamp", Index: TimestampIndex, StoragePrefix: "Timestamp",
			Storage:  []*scale.StorageItem{plain("Now", scale.StorageDefault, u64, make([]byte, 8))},
			CallType: ptr(timestampCall),
		},
		{
			Name: "Balances", Index: BalancesIndex, StoragePrefix: "Balances",
			Storage:  []*scale.StorageItem{plain("TotalIssuance", scale.StorageDefault, u128, make([]byte, 16))},
			CallType: ptr(balancesCall), EventType: ptr(balancesEvent),
			Constants: []scale.Constant{{Name: "ExistentialDeposit", Type: u128, Value: append(scale.EncodeUint64(1_000_000_000_000_000), make([]byte, 8)...)}},
		},
		{
			Name: "Session", Index: SessionIndex, StoragePrefix: "Session",
			Storage: []*scale.StorageItem{plain("Validators", scale.StorageDefault, vecAccount, []byte{0})},
		},
		{
			Name: "Staking", Index: StakingIndex, StoragePrefix: "Staking",
			Storage: []*scale.StorageItem{
				plain("ActiveEra", scale.StorageOptional, activeEraInfo, nil),
				plain("CurrentEra", scale.StorageOptional, u32, nil),
				mapped("Validators", scale.StorageDefault, accountID, validatorPrefs, []byte{0, 0}, scale.Twox64Concat),
				mapped("Nominators", scale.StorageOptional, accountID, nominations, nil, scale.Twox64Concat),
				mapped("ErasStakers", scale.StorageDefault, eraAccount, exposure, []byte{0, 0, 0}, scale.Twox64Concat, scale.Twox64Concat),
				mapped("ErasValidatorReward", scale.StorageOptional, u32, u128, nil, scale.Twox64Concat),
				mapped("ErasRewardPoints", scale.StorageDefault, u32, eraRewardPoints, []byte{0, 0, 0, 0, 0}, scale.Twox64Concat),
			},
			CallType: ptr(stakingCall), EventType: ptr(stakingEvent),
		},
		{
			Name: "Identity", Index: IdentityIndex, StoragePrefix: "Identity",
			Storage: []*scale.StorageItem{
				mapped("IdentityOf", scale.StorageOptional, accountID, registration, nil, scale.Twox64Concat),
				mapped("SuperOf", scale.StorageOptional, accountID, superOf, nil, scale.Blake2_128Concat),
			},
		},
	}
	for _, p := range pallets {
		for _, s := range p.Storage {
			s.Prefix = p.StoragePrefix
		}
	}
	md := scale.NewMetadata(reg, scale.ExtrinsicFormat{
		Version:       4,
		AddressType:   multiAddress,
		CallType:      runtimeCall,
		SignatureType: multiSignature,
		ExtraType:     extra,
	}, pallets...)
	return &Runtime{
		Metadata:     md,
		Raw:          scale.EncodeMetadata(md),
		AccountID:    accountID,
		EventRecords: eventRecords,
		Data:         data,
	}
}

// Account returns a 32 byte account id filled with b.
func Account(b byte) []byte {
	out := make([]byte, 32)
	for i := range out {
		out[i] = b
	}
	return out
}

// Value constructors.

func U(n uint64) scale.Value { return scale.Uint(n) }

func Big(n *big.Int) scale.Value { return scale.Value{Kind: scale.KindUint, Int: n} }

func Bool(b bool) scale.Value { return scale.Value{Kind: scale.KindBool, Bool: b} }

func Bytes(b []byte) scale.Value { return scale.Value{Kind: scale.KindBytes, Bytes: b} }

func Seq(items ...scale.Value) scale.Value { return scale.Value{Kind: scale.KindSequence, Items: items} }

func Tuple(items ...scale.Value) scale.Value { return Seq(items...) }

func Field(name string, v scale.Value) scale.NamedValue { return scale.NamedValue{Name: name, Value: v} }

func Composite(fields ...scale.NamedValue) scale.Value {
	return scale.Value{Kind: scale.KindComposite, Fields: fields}
}

func Variant(name string, fields ...scale.NamedValue) scale.Value {
	return scale.Value{Kind: scale.KindVariant, Variant: name, Fields: fields}
}

// Some wraps v into Option::Some.
func Some(v scale.Value) scale.Value { return Variant("Some", Field("", v)) }

// None is Option::None.
func None() scale.Value { return Variant("None") }

// RawData encodes s as identity Data::RawN.
func RawData(s string) scale.Value {
	return Variant(fmt.Sprintf("Raw%d", len(s)), Field("", Bytes([]byte(s))))
}
