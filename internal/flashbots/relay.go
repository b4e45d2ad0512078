// Package flashbots submits bundles to private relays.
package flashbots

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	fb "github.com/lmittmann/flashbots"
	w3 "github.com/lmittmann/w3"

	core "github.com/ligun0805/bundle-sweeper/internal/bundlecore"
)

// Sender is one relay endpoint.
type Sender interface {
	URL() string
	Send(ctx context.Context, b *core.Bundle, target uint64) (string, error)
	Simulate(ctx context.Context, b *core.Bundle, target uint64) (core.SimResult, error)
}

// Classic talks to a Flashbots-compatible relay through lmittmann/flashbots.
type Classic struct {
	url string
	c   *w3.Client
}

func NewClassic(rawurl string, auth *ecdsa.PrivateKey) (*Classic, error) {
	c, err := fb.Dial(rawurl, auth)
	if err != nil {
		return nil, err
	}
	return &Classic{url: rawurl, c: c}, nil
}

func (r *Classic) URL() string { return r.url }

func (r *Classic) Send(ctx context.Context, b *core.Bundle, target uint64) (string, error) {
	var bundleHash common.Hash
	err := r.c.CallCtx(ctx,
		fb.SendBundle(&fb.SendBundleRequest{
			Transactions: b.Txs,
			BlockNumber:  new(big.Int).SetUint64(target),
		}).Returns(&bundleHash),
	)
	if err != nil {
		return "", err
	}
	return bundleHash.Hex(), nil
}

func (r *Classic) Simulate(ctx context.Context, b *core.Bundle, target uint64) (core.SimResult, error) {
	var resp *fb.CallBundleResponse
	err := r.c.CallCtx(ctx,
		fb.CallBundle(&fb.CallBundleRequest{
			Transactions: b.Txs,
			BlockNumber:  new(big.Int).SetUint64(target),
		}).Returns(&resp),
	)
	if err != nil {
		if isUnsupported(err) {
			return core.SimResult{}, ErrSimulationUnsupported
		}
		return core.SimResult{}, err
	}
	if resp == nil {
		return core.SimResult{}, nil
	}
	for i, res := range resp.Results {
		if res.Error != nil {
			return core.SimResult{Reverted: true, RevertReason: fmt.Sprintf("tx %d: %v", i, res.Error)}, nil
		}
		if len(res.Revert) > 0 {
			return core.SimResult{Reverted: true, RevertReason: fmt.Sprintf("tx %d: %s", i, res.Revert)}, nil
		}
	}
	return core.SimResult{}, nil
}

// Matchmaker speaks raw signed JSON-RPC: eth_sendBundle first and
// mev_sendBundle when the endpoint does not know that method.
type Matchmaker struct {
	url  string
	auth *ecdsa.PrivateKey
	http *http.Client
}

func NewMatchmaker(url string, auth *ecdsa.PrivateKey) *Matchmaker {
	return &Matchmaker{url: url, auth: auth, http: &http.Client{Timeout: 12 * time.Second}}
}

func (m *Matchmaker) URL() string { return m.url }

func (m *Matchmaker) Send(ctx context.Context, b *core.Bundle, target uint64) (string, error) {
	res, err := m.call(ctx, "eth_sendBundle", sendBundleArgs{Txs: b.RawHex(), BlockNumber: hexutil.EncodeUint64(target)})
	if err == nil {
		return string(res), nil
	}
	if !isMethodMissing(err) {
		return "", err
	}
	res, err = m.call(ctx, "mev_sendBundle", mevArgs(b, target))
	if err != nil {
		return "", err
	}
	return string(res), nil
}

func (m *Matchmaker) Simulate(ctx context.Context, b *core.Bundle, target uint64) (core.SimResult, error) {
	raw, err := m.call(ctx, "mev_simBundle", mevArgs(b, target))
	if err != nil {
		if isUnsupported(err) {
			return core.SimResult{}, ErrSimulationUnsupported
		}
		return core.SimResult{}, err
	}
	var out mevSimResult
	if err := json.Unmarshal(raw, &out); err != nil {
		return core.SimResult{}, fmt.Errorf("decode mev_simBundle: %w", err)
	}
	if !out.Success {
		return core.SimResult{Reverted: true, RevertReason: out.Error}, nil
	}
	return core.SimResult{}, nil
}

func mevArgs(b *core.Bundle, target uint64) mevBundleArgs {
	body := make([]mevBundleBody, 0, len(b.Txs))
	for _, h := range b.RawHex() {
		body = append(body, mevBundleBody{Tx: h})
	}
	return mevBundleArgs{
		Version:   "v0.1",
		Inclusion: mevInclusion{Block: hexutil.EncodeUint64(target)},
		Body:      body,
	}
}

func (m *Matchmaker) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	body, err := json.Marshal(rpcReq{Jsonrpc: "2.0", Method: method, Params: []any{params}, ID: 1})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "bundle-sweeper/1.0")
	if m.auth != nil {
		sig, err := signPayload(body, m.auth)
		if err != nil {
			return nil, err
		}
		req.Header.Set("X-Flashbots-Signature", sig)
	}
	resp, err := m.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	rb, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var out rpcResp
	if err := json.Unmarshal(rb, &out); err != nil {
		if resp.StatusCode == http.StatusNotFound {
			return nil, errors.New("method not found")
		}
		return nil, fmt.Errorf("%s: %w", resp.Status, err)
	}
	if out.Error != nil {
		return nil, out.Error
	}
	return out.Result, nil
}

// RelayKind selects the wire protocol of one relay.
type RelayKind int

const (
	KindClassic RelayKind = iota
	KindMatchmaker
)

var relayPrefixes = []struct {
	prefix string
	kind   RelayKind
}{
	{"mev:", KindMatchmaker},
	{"mm:", KindMatchmaker},
	{"classic:", KindClassic},
}

// ParseRelay strips the protocol prefix and checks the endpoint URL.
// Classic relays accept http(s) and ws(s); matchmakers are http(s) only.
func ParseRelay(raw string) (RelayKind, string, error) {
	u := strings.TrimSpace(raw)
	kind := KindClassic
	low := strings.ToLower(u)
	for _, p := range relayPrefixes {
		if strings.HasPrefix(low, p.prefix) {
			kind = p.kind
			u = strings.TrimSpace(u[len(p.prefix):])
			break
		}
	}
	parsed, err := url.Parse(u)
	if err != nil {
		return kind, "", fmt.Errorf("relay %q: %w", u, err)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "http", "https":
	case "ws", "wss":
		if kind == KindMatchmaker {
			return kind, "", fmt.Errorf("relay %q: matchmaker relays need http or https", u)
		}
	case "":
		return kind, "", fmt.Errorf("relay %q: missing scheme", u)
	default:
		return kind, "", fmt.Errorf("relay %q: unsupported scheme %q", u, parsed.Scheme)
	}
	if parsed.Host == "" {
		return kind, "", fmt.Errorf("relay %q: missing host", u)
	}
	return kind, u, nil
}

// Classify turns relay URLs into senders. "mev:" and "mm:" prefixes select
// the matchmaker path, "classic:" or no prefix the Flashbots client.
func Classify(relays []string, auth *ecdsa.PrivateKey) ([]Sender, error) {
	var out []Sender
	for _, r := range relays {
		if strings.TrimSpace(r) == "" {
			continue
		}
		kind, u, err := ParseRelay(r)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", core.ErrFatalConfiguration, err)
		}
		if kind == KindMatchmaker {
			out = append(out, NewMatchmaker(u, auth))
			continue
		}
		c, err := NewClassic(u, auth)
		if err != nil {
			return nil, fmt.Errorf("%w: relay %q: %w", core.ErrFatalConfiguration, u, err)
		}
		out = append(out, c)
	}
	return out, nil
}
