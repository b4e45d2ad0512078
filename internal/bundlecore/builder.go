package bundlecore

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// FundingGasLimit is the gas of the plain native transfer at position 0.
const FundingGasLimit = 21_000

// TotalGasUnits sums the per-transfer estimates without overflow.
func TotalGasUnits(transfers []AssetTransfer) *big.Int {
	total := new(big.Int)
	for _, t := range transfers {
		total.Add(total, new(big.Int).SetUint64(t.EstimatedGasUnits))
	}
	return total
}

// FundingFor computes the worst-case gas money the sweep account needs:
// every unit priced at the full fee cap, not the effective fee.
func FundingFor(transfers []AssetTransfer, recipient common.Address, fee FeeLevel) FundingRequirement {
	amount := new(big.Int).Mul(TotalGasUnits(transfers), fee.MaxFeePerUnit)
	return FundingRequirement{Recipient: recipient, Amount: amount}
}

// Build assembles funding + sweep transactions for one round.
// Pure: no RPC, no keys. Gas limits are taken as estimated, with no margin.
func Build(transfers []AssetTransfer, chainID *big.Int, funding, sweep common.Address, fee FeeLevel, fundingNonce, sweepBaseNonce uint64) (UnsignedBundle, error) {
	if len(transfers) == 0 {
		return UnsignedBundle{}, ErrInsufficientAssets
	}
	if chainID == nil || chainID.Sign() <= 0 {
		return UnsignedBundle{}, errors.New("chain id is not set")
	}
	if funding == sweep {
		return UnsignedBundle{}, errors.New("funding and sweep accounts must differ")
	}
	if !fee.valid() {
		return UnsignedBundle{}, fmt.Errorf("invalid fee level: %s", fee)
	}
	for i, t := range transfers {
		if t.EstimatedGasUnits == 0 {
			return UnsignedBundle{}, fmt.Errorf("transfer %d (%s): %w: no gas estimate", i, t.SourceContract.Hex(), ErrEstimation)
		}
	}

	req := FundingFor(transfers, sweep, fee)
	txs := make([]UnsignedTx, 0, len(transfers)+1)
	txs = append(txs, UnsignedTx{
		ChainID:  new(big.Int).Set(chainID),
		To:       sweep,
		Value:    new(big.Int).Set(req.Amount),
		GasLimit: FundingGasLimit,
		Fee:      fee.Copy(),
		Nonce:    fundingNonce,
		Kind:     TxFunding,
	})
	for i, t := range transfers {
		txs = append(txs, UnsignedTx{
			ChainID:  new(big.Int).Set(chainID),
			To:       t.SourceContract,
			Data:     common.CopyBytes(t.Payload),
			Value:    new(big.Int),
			GasLimit: t.EstimatedGasUnits,
			Fee:      fee.Copy(),
			Nonce:    sweepBaseNonce + uint64(i),
			Kind:     TxSweep,
		})
	}
	return UnsignedBundle{Txs: txs, Funding: req}, nil
}
