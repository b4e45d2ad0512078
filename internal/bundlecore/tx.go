package bundlecore

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Build EIP-1559 transaction.
func buildDynamicTx(chain *big.Int, nonce uint64, to *common.Address, value *big.Int, gasLimit uint64, tip, feeCap *big.Int, data []byte) *types.Transaction {
	df := &types.DynamicFeeTx{
		ChainID:   chain,
		Nonce:     nonce,
		Gas:       gasLimit,
		GasTipCap: new(big.Int).Set(tip),
		GasFeeCap: new(big.Int).Set(feeCap),
		To:        to,
		Value:     new(big.Int).Set(value),
		Data:      data,
	}
	return types.NewTx(df)
}

// Sign transaction with latest signer for given chain ID.
func signTx(tx *types.Transaction, chain *big.Int, prv *ecdsa.PrivateKey) (*types.Transaction, error) {
	signer := types.LatestSignerForChainID(chain)
	return types.SignTx(tx, signer, prv)
}

// Hex-encode transaction.
func txAsHex(tx *types.Transaction) string {
	b, _ := tx.MarshalBinary()
	return "0x" + hex.EncodeToString(b)
}

// Wallets holds the two signing keys of a race: the funding (sponsor)
// account and the gas-less sweep account. Keys never leave this type.
type Wallets struct {
	funding     *ecdsa.PrivateKey
	sweep       *ecdsa.PrivateKey
	fundingAddr common.Address
	sweepAddr   common.Address
}

// NewWallets parses both keys from hex.
func NewWallets(fundingHex, sweepHex string) (*Wallets, error) {
	f, err := ParsePrivateKey(fundingHex)
	if err != nil {
		return nil, fmt.Errorf("funding key: %w", err)
	}
	s, err := ParsePrivateKey(sweepHex)
	if err != nil {
		return nil, fmt.Errorf("sweep key: %w", err)
	}
	return NewWalletsFromKeys(f, s), nil
}

func NewWalletsFromKeys(funding, sweep *ecdsa.PrivateKey) *Wallets {
	return &Wallets{
		funding:     funding,
		sweep:       sweep,
		fundingAddr: gethcrypto.PubkeyToAddress(funding.PublicKey),
		sweepAddr:   gethcrypto.PubkeyToAddress(sweep.PublicKey),
	}
}

func (w *Wallets) Funding() common.Address { return w.fundingAddr }
func (w *Wallets) Sweep() common.Address   { return w.sweepAddr }

// String keeps key material out of log lines and %v.
func (w *Wallets) String() string {
	return fmt.Sprintf("wallets{funding=%s sweep=%s}", w.fundingAddr.Hex(), w.sweepAddr.Hex())
}

func (w *Wallets) GoString() string { return w.String() }

// Sign signs every tx of ub with the key matching its kind.
// A bundle that does not start with its funding tx is refused.
func (w *Wallets) Sign(ub UnsignedBundle) (*Bundle, error) {
	if len(ub.Txs) == 0 {
		return nil, ErrInsufficientAssets
	}
	if ub.Txs[0].Kind != TxFunding {
		return nil, ErrBundleOrder
	}
	out := &Bundle{Txs: make([]*types.Transaction, 0, len(ub.Txs))}
	for i, u := range ub.Txs {
		key := w.sweep
		if u.Kind == TxFunding {
			if i != 0 {
				return nil, ErrBundleOrder
			}
			key = w.funding
		}
		to := u.To
		value := u.Value
		if value == nil {
			value = new(big.Int)
		}
		tx := buildDynamicTx(u.ChainID, u.Nonce, &to, value, u.GasLimit, u.Fee.MaxPriorityFeePerUnit, u.Fee.MaxFeePerUnit, u.Data)
		signed, err := signTx(tx, u.ChainID, key)
		if err != nil {
			return nil, fmt.Errorf("sign %s tx %d: %w", u.Kind, i, err)
		}
		out.Txs = append(out.Txs, signed)
	}
	return out, nil
}
