package bundlecore

import (
	"fmt"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWalletsSignOrder(t *testing.T) {
	w := testWallets(t)
	chainID := big.NewInt(11155111)
	ub, err := Build(sampleTransfers(), chainID, w.Funding(), w.Sweep(), testFee(30, 2), 3, 9)
	require.NoError(t, err)

	b, err := w.Sign(ub)
	require.NoError(t, err)
	require.Len(t, b.Txs, 3)

	signer := types.LatestSignerForChainID(chainID)
	from0, err := types.Sender(signer, b.Txs[0])
	require.NoError(t, err)
	assert.Equal(t, w.Funding(), from0)
	assert.Equal(t, 0, b.Txs[0].Value().Cmp(ub.Funding.Amount))
	for _, tx := range b.Txs[1:] {
		from, err := types.Sender(signer, tx)
		require.NoError(t, err)
		assert.Equal(t, w.Sweep(), from)
		assert.Equal(t, uint8(types.DynamicFeeTxType), tx.Type())
	}
	assert.Equal(t, uint64(10), b.Txs[2].Nonce())

	hexes := b.RawHex()
	require.Len(t, hexes, 3)
	assert.True(t, strings.HasPrefix(hexes[0], "0x02"))
	assert.Equal(t, b.ID(), b.ID())
}

func TestBundleID(t *testing.T) {
	w := testWallets(t)
	sign := func(nonce uint64) *Bundle {
		ub, err := Build(sampleTransfers(), big.NewInt(11155111), w.Funding(), w.Sweep(), testFee(30, 2), 3, nonce)
		require.NoError(t, err)
		b, err := w.Sign(ub)
		require.NoError(t, err)
		return b
	}
	a, again, other := sign(9), sign(9), sign(10)

	assert.Equal(t, uuid.Version(5), a.ID().Version())
	assert.Equal(t, uuid.RFC4122, a.ID().Variant())
	assert.Equal(t, a.ID(), again.ID())
	assert.NotEqual(t, a.ID(), other.ID())
}

func TestWalletsRefuseMisorderedBundle(t *testing.T) {
	w := testWallets(t)
	ub, err := Build(sampleTransfers(), big.NewInt(1), w.Funding(), w.Sweep(), testFee(30, 2), 0, 0)
	require.NoError(t, err)

	ub.Txs[0], ub.Txs[1] = ub.Txs[1], ub.Txs[0]
	_, err = w.Sign(ub)
	require.ErrorIs(t, err, ErrBundleOrder)

	_, err = w.Sign(UnsignedBundle{})
	require.ErrorIs(t, err, ErrInsufficientAssets)
}

func TestWalletsRedacted(t *testing.T) {
	w := testWallets(t)
	for _, s := range []string{fmt.Sprint(w), fmt.Sprintf("%v", w), fmt.Sprintf("%+v", w), fmt.Sprintf("%#v", w)} {
		assert.NotContains(t, s, "4c0883a6")
		assert.NotContains(t, s, "8da4ef21")
		assert.Contains(t, s, w.Funding().Hex())
	}
}

func TestNewWalletsErrors(t *testing.T) {
	_, err := NewWallets("", "0x01")
	require.Error(t, err)
	_, err = NewWallets("0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318", "zz")
	require.Error(t, err)
}
