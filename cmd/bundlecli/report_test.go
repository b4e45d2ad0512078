package main

import (
	"bytes"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"

	core "github.com/ligun0805/bundle-sweeper/internal/bundlecore"
)

var (
	safe   = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	holder = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	nft    = common.HexToAddress("0x000000000000000000000000000000000000c001")
)

func TestReportSuccess(t *testing.T) {
	var out bytes.Buffer
	r := newConsoleReporter(&out, "https://sepolia.etherscan.io/address/", safe, holder)
	r.observe(core.Attempt{Outcome: core.NotIncluded})
	r.observe(core.Attempt{Outcome: core.NotIncluded})
	r.observe(core.Attempt{Outcome: core.Included})

	r.Report(core.RaceResult{
		Success:       true,
		IncludedBlock: 5_123_456,
		Status:        core.StatusSuccess,
		RaceID:        "race-1",
		Rounds:        2,
		Attempts:      3,
		Fee:           core.FeeLevel{MaxFeePerUnit: core.GweiToWei(30), MaxPriorityFeePerUnit: core.GweiToWei(4)},
		Transfers: []core.AssetTransfer{{
			Kind:           core.NonFungible,
			SourceContract: nft,
			TokenID:        big.NewInt(42),
		}},
	})

	s := out.String()
	assert.Contains(t, s, "included in block 5123456")
	assert.Contains(t, s, "included=1 not-included=2 relay-error=0")
	assert.Contains(t, s, "erc721 "+nft.Hex()+" #42")
	assert.Contains(t, s, "https://sepolia.etherscan.io/address/"+safe.Hex())
}

func TestReportExhausted(t *testing.T) {
	var out bytes.Buffer
	r := newConsoleReporter(&out, "", safe, holder)
	r.observe(core.Attempt{Outcome: core.RelayError})

	r.Report(core.RaceResult{Status: core.StatusExhausted, Rounds: 30, Attempts: 30})

	s := out.String()
	assert.Contains(t, s, "exhausted, no bundle was included")
	assert.Contains(t, s, "Assets remain at "+holder.Hex())
	assert.NotContains(t, s, "Explorer")
	assert.NotContains(t, s, "Last fee")
}
