package assets

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Pause getters seen in the wild. "Enabled" getters report the inverse.
var pausedGetters = []string{
	"paused()", "isPaused()", "transfersPaused()", "tradingPaused()", "isTradingPaused()",
	"globalPaused()", "transferEnabled()", "isTransferEnabled()", "tradingEnabled()", "isTradingEnabled()",
}

var (
	blacklistAddrViewSigs = []string{
		"isBlacklisted(address)", "isBlackListed(address)", "blacklisted(address)", "isInBlacklist(address)",
	}
	whitelistAddrViewSigs = []string{
		"isWhitelisted(address)", "whitelisted(address)",
	}
	onlyWhitelistGlobalSigs = []string{
		"onlyWhitelisted()", "whitelistEnabled()",
	}
	transferDisabledGlobalSigs = []string{
		"transferDisabled()", "isTransferDisabled()",
	}
)

func sel(sig string) []byte {
	return gethcrypto.Keccak256([]byte(sig))[:4]
}

func boolOf(b []byte) bool {
	return len(b) > 0 && b[len(b)-1] == 1
}

// TokenRestrictions is what the probes could learn about a token.
type TokenRestrictions struct {
	Paused           bool
	TransferDisabled bool
	OnlyWhitelisted  bool
	FromWhitelisted  *bool
	ToWhitelisted    *bool
	BlacklistedFrom  bool
	BlacklistedTo    bool
}

// Blocked reports whether a transfer from -> to is known to fail.
func (tr TokenRestrictions) Blocked() bool {
	if tr.Paused || tr.TransferDisabled || tr.BlacklistedFrom || tr.BlacklistedTo {
		return true
	}
	if tr.OnlyWhitelisted {
		if tr.FromWhitelisted != nil && !*tr.FromWhitelisted {
			return true
		}
		if tr.ToWhitelisted != nil && !*tr.ToWhitelisted {
			return true
		}
	}
	return false
}

func (tr TokenRestrictions) Summary() string {
	parts := []string{}
	if tr.Paused {
		parts = append(parts, "paused")
	}
	if tr.TransferDisabled {
		parts = append(parts, "transferDisabled")
	}
	if tr.BlacklistedFrom {
		parts = append(parts, "from:blacklisted")
	}
	if tr.BlacklistedTo {
		parts = append(parts, "to:blacklisted")
	}
	if tr.OnlyWhitelisted {
		parts = append(parts, fmt.Sprintf("whitelist:on (from=%s,to=%s)", triState(tr.FromWhitelisted), triState(tr.ToWhitelisted)))
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, ", ")
}

func triState(b *bool) string {
	switch {
	case b == nil:
		return "unknown"
	case *b:
		return "yes"
	}
	return "no"
}

// CheckPaused tries the known pause getters; known is false when none answered.
func CheckPaused(ctx context.Context, c Caller, token common.Address) (known, paused bool) {
	for _, getter := range pausedGetters {
		res, err := c.CallContract(ctx, ethereum.CallMsg{To: &token, Data: sel(getter)}, nil)
		if err != nil || len(res) == 0 {
			continue
		}
		v := boolOf(res)
		if strings.Contains(getter, "Enabled") {
			return true, !v
		}
		return true, v
	}
	return false, false
}

// CheckRestrictions probes pause, transfer switch, whitelist and blacklist
// getters. Probes that revert or are missing are treated as "not restricted".
func CheckRestrictions(ctx context.Context, c Caller, token, from, to common.Address) TokenRestrictions {
	var out TokenRestrictions

	if known, paused := CheckPaused(ctx, c, token); known && paused {
		out.Paused = true
		return out
	}

	call := func(data []byte) ([]byte, bool) {
		res, err := c.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
		if err != nil || len(res) == 0 {
			return nil, false
		}
		return res, true
	}
	withAddr := func(sig string, addr common.Address) []byte {
		return append(sel(sig), common.LeftPadBytes(addr.Bytes(), 32)...)
	}

	for _, s := range transferDisabledGlobalSigs {
		if ret, ok := call(sel(s)); ok && boolOf(ret) {
			out.TransferDisabled = true
			return out
		}
	}
	for _, s := range onlyWhitelistGlobalSigs {
		if ret, ok := call(sel(s)); ok && boolOf(ret) {
			out.OnlyWhitelisted = true
			break
		}
	}
	whitelisted := func(addr common.Address) *bool {
		for _, s := range whitelistAddrViewSigs {
			if ret, ok := call(withAddr(s, addr)); ok {
				v := boolOf(ret)
				return &v
			}
		}
		return nil
	}
	if out.OnlyWhitelisted {
		out.FromWhitelisted = whitelisted(from)
		out.ToWhitelisted = whitelisted(to)
	}

	blacklisted := func(addr common.Address) bool {
		for _, s := range blacklistAddrViewSigs {
			if ret, ok := call(withAddr(s, addr)); ok && boolOf(ret) {
				return true
			}
		}
		return false
	}
	out.BlacklistedFrom = blacklisted(from)
	out.BlacklistedTo = blacklisted(to)
	return out
}
