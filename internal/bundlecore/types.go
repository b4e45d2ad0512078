package bundlecore

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
)

// AssetKind tells how a sweep moves an asset out of the holder account.
type AssetKind int

const (
	Fungible AssetKind = iota
	NonFungible
	Claimable
)

func (k AssetKind) String() string {
	switch k {
	case Fungible:
		return "erc20"
	case NonFungible:
		return "erc721"
	case Claimable:
		return "airdrop"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// HumanAmount is a token quantity with its display units.
type HumanAmount struct {
	Value    *big.Int
	Decimals uint8
	Symbol   string
}

func (h *HumanAmount) String() string {
	if h == nil {
		return ""
	}
	s := FormatUnits(h.Value, int(h.Decimals))
	if h.Symbol != "" {
		s += " " + h.Symbol
	}
	return s
}

// AssetTransfer is one discovered, already encoded sweep call.
// Immutable once discovered: use WithGas to derive an estimated copy.
type AssetTransfer struct {
	Kind              AssetKind
	SourceContract    common.Address
	Payload           []byte
	EstimatedGasUnits uint64
	HumanAmount       *HumanAmount
	TokenID           *big.Int
}

// WithGas returns a copy of t carrying the given gas estimate.
func (t AssetTransfer) WithGas(units uint64) AssetTransfer {
	t.Payload = common.CopyBytes(t.Payload)
	t.EstimatedGasUnits = units
	return t
}

func (t AssetTransfer) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", t.Kind, t.SourceContract.Hex())
	if t.TokenID != nil {
		fmt.Fprintf(&b, " #%s", t.TokenID.String())
	}
	if t.HumanAmount != nil {
		fmt.Fprintf(&b, " %s", t.HumanAmount.String())
	}
	if t.EstimatedGasUnits > 0 {
		fmt.Fprintf(&b, " gas=%d", t.EstimatedGasUnits)
	}
	return b.String()
}

// FeeLevel is the per-gas-unit fee authorization shared by every tx of a round.
type FeeLevel struct {
	MaxFeePerUnit         *big.Int
	MaxPriorityFeePerUnit *big.Int
}

func (f FeeLevel) valid() bool {
	return f.MaxFeePerUnit != nil && f.MaxPriorityFeePerUnit != nil &&
		f.MaxFeePerUnit.Sign() > 0 && f.MaxPriorityFeePerUnit.Sign() >= 0 &&
		f.MaxFeePerUnit.Cmp(f.MaxPriorityFeePerUnit) >= 0
}

// Copy returns a deep copy.
func (f FeeLevel) Copy() FeeLevel {
	return FeeLevel{MaxFeePerUnit: cloneBig(f.MaxFeePerUnit), MaxPriorityFeePerUnit: cloneBig(f.MaxPriorityFeePerUnit)}
}

// Max returns the element-wise maximum of f and o. Nil fields lose.
func (f FeeLevel) Max(o FeeLevel) FeeLevel {
	return FeeLevel{
		MaxFeePerUnit:         maxBig(f.MaxFeePerUnit, o.MaxFeePerUnit),
		MaxPriorityFeePerUnit: maxBig(f.MaxPriorityFeePerUnit, o.MaxPriorityFeePerUnit),
	}
}

func (f FeeLevel) String() string {
	return fmt.Sprintf("maxFee=%s gwei tip=%s gwei", FormatGwei(f.MaxFeePerUnit), FormatGwei(f.MaxPriorityFeePerUnit))
}

// FundingRequirement is derived per round and never stored.
type FundingRequirement struct {
	Recipient common.Address
	Amount    *big.Int
}

type TxKind int

const (
	TxFunding TxKind = iota
	TxSweep
)

func (k TxKind) String() string {
	if k == TxFunding {
		return "funding"
	}
	return "sweep"
}

// UnsignedTx is built fresh each round because nonce and fee change.
type UnsignedTx struct {
	ChainID  *big.Int
	To       common.Address
	Data     []byte
	Value    *big.Int
	GasLimit uint64
	Fee      FeeLevel
	Nonce    uint64
	Kind     TxKind
}

// UnsignedBundle is the Bundle Builder output: funding first, then sweeps.
type UnsignedBundle struct {
	Txs     []UnsignedTx
	Funding FundingRequirement
}

// Bundle is an ordered list of signed transactions relayed as a unit.
type Bundle struct {
	Txs []*types.Transaction
}

// Hashes returns the tx hashes in bundle order.
func (b *Bundle) Hashes() []common.Hash {
	out := make([]common.Hash, 0, len(b.Txs))
	for _, tx := range b.Txs {
		out = append(out, tx.Hash())
	}
	return out
}

// RawHex returns 0x-prefixed canonical encodings in bundle order.
func (b *Bundle) RawHex() []string {
	out := make([]string, 0, len(b.Txs))
	for _, tx := range b.Txs {
		out = append(out, txAsHex(tx))
	}
	return out
}

// ID is a content-derived identifier: identical bundles share it.
func (b *Bundle) ID() uuid.UUID {
	var payload []byte
	for _, h := range b.Hashes() {
		payload = append(payload, h[:]...)
	}
	return uuid.NewSHA1(uuid.Nil, payload)
}

// Resolution is the verdict on one submitted bundle.
type Resolution int

const (
	Pending Resolution = iota
	Included
	NotIncluded
	RelayError
)

func (r Resolution) String() string {
	switch r {
	case Pending:
		return "pending"
	case Included:
		return "included"
	case NotIncluded:
		return "not-included"
	case RelayError:
		return "relay-error"
	}
	return fmt.Sprintf("resolution(%d)", int(r))
}

// Attempt is one bundle submitted for one target block.
type Attempt struct {
	ID          uint64
	Round       int
	TargetBlock uint64
	Fee         FeeLevel
	Bundle      *Bundle
	Outcome     Resolution
	Err         error
}

// RaceStatus follows the scheduler state machine.
type RaceStatus int32

const (
	StatusIdle RaceStatus = iota
	StatusArmed
	StatusDispatching
	StatusAwaitingResolution
	StatusSuccess
	StatusExhausted
)

func (s RaceStatus) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusArmed:
		return "armed"
	case StatusDispatching:
		return "dispatching"
	case StatusAwaitingResolution:
		return "awaiting-resolution"
	case StatusSuccess:
		return "success"
	case StatusExhausted:
		return "exhausted"
	}
	return fmt.Sprintf("status(%d)", int32(s))
}

// Terminal reports whether s ends the race.
func (s RaceStatus) Terminal() bool { return s == StatusSuccess || s == StatusExhausted }

// RaceResult is handed to the Reporter exactly once per race.
type RaceResult struct {
	Success       bool
	IncludedBlock uint64 // zero unless Success
	Transfers     []AssetTransfer

	Status   RaceStatus
	RaceID   string
	Rounds   int
	Attempts int
	Fee      FeeLevel
}
