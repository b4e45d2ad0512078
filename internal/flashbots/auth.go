package flashbots

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// AuthKey parses the X-Flashbots-Signature key. An empty value yields a
// fresh throwaway identity.
func AuthKey(hexKey string) (*ecdsa.PrivateKey, error) {
	h := strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if h == "" {
		return crypto.GenerateKey()
	}
	key, err := crypto.HexToECDSA(h)
	if err != nil {
		return nil, fmt.Errorf("auth key: %w", err)
	}
	return key, nil
}

// signPayload builds the X-Flashbots-Signature header value for body.
func signPayload(body []byte, key *ecdsa.PrivateKey) (string, error) {
	hashed := crypto.Keccak256Hash(body).Hex()
	sig, err := crypto.Sign(accounts.TextHash([]byte(hashed)), key)
	if err != nil {
		return "", err
	}
	return crypto.PubkeyToAddress(key.PublicKey).Hex() + ":" + hexutil.Encode(sig), nil
}
