package main

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"

	"github.com/ligun0805/bundle-sweeper/internal/assets"
	"github.com/ligun0805/bundle-sweeper/internal/config"
)

// parseAddresses parses "0xA, 0xB" into addresses, rejecting duplicates.
func parseAddresses(s string) ([]common.Address, error) {
	var out []common.Address
	seen := map[common.Address]bool{}
	for _, p := range config.SplitCSV(s) {
		if !common.IsHexAddress(p) {
			return nil, fmt.Errorf("invalid address %q", p)
		}
		a := common.HexToAddress(p)
		if seen[a] {
			continue
		}
		seen[a] = true
		out = append(out, a)
	}
	return out, nil
}

// parseNFTContracts parses "0xNFT:1|2|0x1f, 0xOther". Contracts without
// ids are enumerated at discovery time. Repeated ids are kept once.
func parseNFTContracts(s string) ([]assets.NFTContract, error) {
	var out []assets.NFTContract
	for _, p := range config.SplitCSV(s) {
		addr, ids, hasIDs := strings.Cut(p, ":")
		addr = strings.TrimSpace(addr)
		if !common.IsHexAddress(addr) {
			return nil, fmt.Errorf("invalid NFT contract %q", addr)
		}
		c := assets.NFTContract{Address: common.HexToAddress(addr)}
		seen := map[string]bool{}
		if hasIDs {
			for _, raw := range strings.Split(ids, "|") {
				raw = strings.TrimSpace(raw)
				if raw == "" {
					continue
				}
				id, err := parseTokenID(raw)
				if err != nil {
					return nil, fmt.Errorf("contract %s: %w", addr, err)
				}
				if seen[id.String()] {
					continue
				}
				seen[id.String()] = true
				c.TokenIDs = append(c.TokenIDs, id)
			}
		}
		out = append(out, c)
	}
	return out, nil
}

// parseTokenID accepts decimal or 0x-prefixed hex within uint256.
func parseTokenID(s string) (*big.Int, error) {
	v, ok := math.ParseBig256(s)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("invalid token id %q", s)
	}
	return v, nil
}
