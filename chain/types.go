package chain

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/chainmon/substrate-exporter/scale"
)

// Hash is a 32 byte block or state hash.
type Hash [32]byte

// IsZero reports whether h is the zero hash, used to mean "best block".
func (h Hash) IsZero() bool { return h == Hash{} }

func (h Hash) String() string { return "0x" + hex.EncodeToString(h[:]) }

func (h Hash) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.String())
}

func (h *Hash) UnmarshalJSON(data []byte) error {
	var b HexBytes
	if err := json.Unmarshal(data, &b); err != nil {
		return err
	}
	if len(b) != len(h) {
		return fmt.Errorf("hash has %d bytes, want %d", len(b), len(h))
	}
	copy(h[:], b)
	return nil
}

// HexBytes is a byte string encoded as 0x-prefixed hex in JSON.
type HexBytes []byte

func (b HexBytes) MarshalJSON() ([]byte, error) {
	return json.Marshal("0x" + hex.EncodeToString(b))
}

func (b *HexBytes) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	out, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return err
	}
	*b = out
	return nil
}

// BlockNumber is a block number, hex encoded in JSON.
type BlockNumber uint64

func (n BlockNumber) MarshalJSON() ([]byte, error) {
	return json.Marshal("0x" + strconv.FormatUint(uint64(n), 16))
}

// UnmarshalJSON accepts hex strings as well as plain numbers.
func (n *BlockNumber) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		var u uint64
		if err2 := json.Unmarshal(data, &u); err2 != nil {
			return err
		}
		*n = BlockNumber(u)
		return nil
	}
	u, err := strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, 64)
	if err != nil {
		return err
	}
	*n = BlockNumber(u)
	return nil
}

// Header is a block header as returned by chain_getHeader and head subscriptions.
type Header struct {
	ParentHash     Hash        `json:"parentHash"`
	Number         BlockNumber `json:"number"`
	StateRoot      Hash        `json:"stateRoot"`
	ExtrinsicsRoot Hash        `json:"extrinsicsRoot"`
	Digest         Digest      `json:"digest"`
}

// Digest holds the SCALE-encoded digest items of a header.
type Digest struct {
	Logs []HexBytes `json:"logs"`
}

// Hash computes the block hash: blake2b-256 of the SCALE-encoded header.
func (h *Header) Hash() Hash {
	buf := make([]byte, 0, 32*3+8+16)
	buf = append(buf, h.ParentHash[:]...)
	buf = append(buf, scale.EncodeCompact(uint64(h.Number))...)
	buf = append(buf, h.StateRoot[:]...)
	buf = append(buf, h.ExtrinsicsRoot[:]...)
	buf = append(buf, scale.EncodeCompact(uint64(len(h.Digest.Logs)))...)
	for _, l := range h.Digest.Logs {
		buf = append(buf, l...)
	}
	var out Hash
	copy(out[:], scale.Blake2b256(buf))
	return out
}

// Block is the body returned by chain_getBlock.
type Block struct {
	Header     Header     `json:"header"`
	Extrinsics []HexBytes `json:"extrinsics"`
}

// SignedBlock wraps Block as chain_getBlock does.
type SignedBlock struct {
	Block Block `json:"block"`
}

// Extrinsic is an extrinsic of a processed block.
type Extrinsic struct {
	Index   int
	Pallet  string
	Call    string
	Signed  bool
	Success bool
}

// BlockEvent is a fully assembled block delivered by a BlockSubscription.
type BlockEvent struct {
	Number     uint64
	Hash       Hash
	ParentHash Hash
	// On-chain timestamp from the Timestamp.set inherent. Zero if absent.
	Timestamp time.Time
	Finalized bool

	Extrinsics []Extrinsic
	// Number of events per pallet, in any phase.
	PalletEvents map[string]int
	// A System.CodeUpdated event was emitted in this block.
	RuntimeUpgraded bool
}

// CountOutcomes returns the number of successful and failed extrinsics.
func (b *BlockEvent) CountOutcomes() (success, failure int) {
	for _, x := range b.Extrinsics {
		if x.Success {
			success++
		} else {
			failure++
		}
	}
	return success, failure
}

// RuntimeVersion is returned by state_getRuntimeVersion.
type RuntimeVersion struct {
	SpecName           string `json:"specName"`
	ImplName           string `json:"implName"`
	SpecVersion        uint32 `json:"specVersion"`
	ImplVersion        uint32 `json:"implVersion"`
	TransactionVersion uint32 `json:"transactionVersion"`
}

// Health is returned by system_health.
type Health struct {
	Peers           int  `json:"peers"`
	IsSyncing       bool `json:"isSyncing"`
	ShouldHavePeers bool `json:"shouldHavePeers"`
}

// Properties is returned by system_properties. Multi-token chains report
// lists; the first entry is the native token.
type Properties struct {
	SS58Format    *int
	TokenDecimals *int
	TokenSymbol   string
}

func (p *Properties) UnmarshalJSON(data []byte) error {
	raw := struct {
		SS58Format    *int            `json:"ss58Format"`
		TokenDecimals json.RawMessage `json:"tokenDecimals"`
		TokenSymbol   json.RawMessage `json:"tokenSymbol"`
	}{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	p.SS58Format = raw.SS58Format
	if len(raw.TokenDecimals) > 0 {
		var one int
		var many []int
		switch {
		case json.Unmarshal(raw.TokenDecimals, &one) == nil:
			p.TokenDecimals = &one
		case json.Unmarshal(raw.TokenDecimals, &many) == nil && len(many) > 0:
			p.TokenDecimals = &many[0]
		}
	}
	if len(raw.TokenSymbol) > 0 {
		var many []string
		if json.Unmarshal(raw.TokenSymbol, &p.TokenSymbol) != nil &&
			json.Unmarshal(raw.TokenSymbol, &many) == nil && len(many) > 0 {
			p.TokenSymbol = many[0]
		}
	}
	return nil
}

// State is the state of the connection to the node.
type State uint8

const (
	Disconnected State = iota
	Connecting
	Connected
	// Degraded means connected, but the last call timed out.
	Degraded
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Degraded:
		return "degraded"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// Connection is a snapshot of the client's connection.
type Connection struct {
	Endpoint  string
	State     State
	LastBlock uint64
	LastError error
}
