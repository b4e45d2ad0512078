package bundlecore

import (
	"crypto/ecdsa"
	"errors"
	"math/big"
	"strings"

	gethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// ParsePrivateKey parses a hex ECDSA private key (with / without 0x).
func ParsePrivateKey(s string) (*ecdsa.PrivateKey, error) {
	h := strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if len(h) == 0 {
		return nil, errors.New("empty private key")
	}
	return gethcrypto.HexToECDSA(h)
}

// GweiToWei converts whole gwei to wei.
func GweiToWei(g int64) *big.Int {
	x := new(big.Int).SetInt64(g)
	return x.Mul(x, big.NewInt(1_000_000_000))
}

func cloneBig(x *big.Int) *big.Int {
	if x == nil {
		return nil
	}
	return new(big.Int).Set(x)
}

func maxBig(a, b *big.Int) *big.Int {
	switch {
	case a == nil:
		return cloneBig(b)
	case b == nil:
		return cloneBig(a)
	case a.Cmp(b) >= 0:
		return cloneBig(a)
	}
	return cloneBig(b)
}

func addBig(a, b *big.Int) *big.Int {
	if a == nil {
		return cloneBig(b)
	}
	if b == nil {
		return cloneBig(a)
	}
	return new(big.Int).Add(a, b)
}

// Human-readable helpers (ETH/gwei).
func FormatETH(x *big.Int) string {
	if x == nil {
		return "0"
	}
	r := new(big.Rat).SetFrac(new(big.Int).Set(x), big.NewInt(1_000_000_000_000_000_000))
	return r.FloatString(6)
}

func FormatGwei(x *big.Int) string {
	if x == nil {
		return "0"
	}
	r := new(big.Rat).SetFrac(new(big.Int).Set(x), big.NewInt(1_000_000_000))
	return r.FloatString(2)
}

// FormatUnits renders v with the given decimals, trimming trailing zeros.
func FormatUnits(v *big.Int, decimals int) string {
	if v == nil {
		return "0"
	}
	if decimals <= 0 {
		return v.String()
	}
	s := new(big.Int).Abs(v).String()
	neg := v.Sign() < 0
	if len(s) <= decimals {
		s = strings.Repeat("0", decimals-len(s)+1) + s
	}
	intPart := s[:len(s)-decimals]
	frac := strings.TrimRight(s[len(s)-decimals:], "0")
	out := intPart
	if frac != "" {
		out = intPart + "." + frac
	}
	if neg {
		return "-" + out
	}
	return out
}
