package flashbots

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	core "github.com/ligun0805/bundle-sweeper/internal/bundlecore"
)

func testBundle(t *testing.T) *core.Bundle {
	t.Helper()
	w, err := core.NewWallets(
		"0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318",
		"0x8da4ef21b864d2cc526dbdb2a120bd2874c36c9d0a1fb7f8c63d7f7a8b41de8f",
	)
	require.NoError(t, err)
	transfers := []core.AssetTransfer{{
		Kind:              core.Fungible,
		SourceContract:    common.HexToAddress("0x1000000000000000000000000000000000000001"),
		Payload:           []byte{0xa9, 0x05, 0x9c, 0xbb},
		EstimatedGasUnits: 60_000,
	}}
	fee := core.FeeLevel{MaxFeePerUnit: core.GweiToWei(30), MaxPriorityFeePerUnit: core.GweiToWei(3)}
	ub, err := core.Build(transfers, big.NewInt(1), w.Funding(), w.Sweep(), fee, 0, 0)
	require.NoError(t, err)
	b, err := w.Sign(ub)
	require.NoError(t, err)
	return b
}

type seenRequest struct {
	Method string
	Params []json.RawMessage
	Sig    string
	Body   []byte
}

// rpcServer answers per method; unknown methods get "method not found".
func rpcServer(t *testing.T, handlers map[string]func(params []json.RawMessage) (any, *rpcError)) (*httptest.Server, func() []seenRequest) {
	t.Helper()
	var (
		mu   sync.Mutex
		seen []seenRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req struct {
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
		}
		if err := json.Unmarshal(body, &req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		mu.Lock()
		seen = append(seen, seenRequest{Method: req.Method, Params: req.Params, Sig: r.Header.Get("X-Flashbots-Signature"), Body: body})
		mu.Unlock()

		resp := map[string]any{"jsonrpc": "2.0", "id": 1}
		h, ok := handlers[req.Method]
		if !ok {
			resp["error"] = rpcError{Code: -32601, Message: "the method " + req.Method + " does not exist/is not available"}
		} else if res, rerr := h(req.Params); rerr != nil {
			resp["error"] = rerr
		} else {
			resp["result"] = res
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []seenRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]seenRequest(nil), seen...)
	}
}

func TestMatchmakerSendSigned(t *testing.T) {
	srv, seen := rpcServer(t, map[string]func([]json.RawMessage) (any, *rpcError){
		"eth_sendBundle": func([]json.RawMessage) (any, *rpcError) {
			return map[string]string{"bundleHash": "0xabc"}, nil
		},
	})
	auth, err := crypto.GenerateKey()
	require.NoError(t, err)
	b := testBundle(t)

	res, err := NewMatchmaker(srv.URL, auth).Send(context.Background(), b, 0x10)
	require.NoError(t, err)
	assert.Contains(t, res, "0xabc")

	reqs := seen()
	require.Len(t, reqs, 1)
	var args sendBundleArgs
	require.NoError(t, json.Unmarshal(reqs[0].Params[0], &args))
	assert.Equal(t, "0x10", args.BlockNumber)
	assert.Equal(t, b.RawHex(), args.Txs)

	parts := strings.SplitN(reqs[0].Sig, ":", 2)
	require.Len(t, parts, 2)
	sig, err := hexutil.Decode(parts[1])
	require.NoError(t, err)
	digest := accounts.TextHash([]byte(crypto.Keccak256Hash(reqs[0].Body).Hex()))
	pub, err := crypto.SigToPub(digest, sig)
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(auth.PublicKey).Hex(), parts[0])
	assert.Equal(t, crypto.PubkeyToAddress(auth.PublicKey), crypto.PubkeyToAddress(*pub))
}

func TestMatchmakerFallsBackToMevSendBundle(t *testing.T) {
	srv, seen := rpcServer(t, map[string]func([]json.RawMessage) (any, *rpcError){
		"mev_sendBundle": func(params []json.RawMessage) (any, *rpcError) {
			return map[string]string{"bundleHash": "0xdef"}, nil
		},
	})
	b := testBundle(t)
	_, err := NewMatchmaker(srv.URL, nil).Send(context.Background(), b, 7)
	require.NoError(t, err)

	reqs := seen()
	require.Len(t, reqs, 2)
	assert.Equal(t, "eth_sendBundle", reqs[0].Method)
	assert.Equal(t, "mev_sendBundle", reqs[1].Method)
	assert.Empty(t, reqs[1].Sig)

	var args mevBundleArgs
	require.NoError(t, json.Unmarshal(reqs[1].Params[0], &args))
	assert.Equal(t, "v0.1", args.Version)
	assert.Equal(t, "0x7", args.Inclusion.Block)
	require.Len(t, args.Body, len(b.Txs))
	assert.Equal(t, b.RawHex()[0], args.Body[0].Tx)
}

func TestMatchmakerRejection(t *testing.T) {
	srv, seen := rpcServer(t, map[string]func([]json.RawMessage) (any, *rpcError){
		"eth_sendBundle": func([]json.RawMessage) (any, *rpcError) {
			return nil, &rpcError{Code: -32000, Message: "bundle rate limited"}
		},
	})
	_, err := NewMatchmaker(srv.URL, nil).Send(context.Background(), testBundle(t), 7)
	require.EqualError(t, err, "bundle rate limited")
	assert.Len(t, seen(), 1)
}

func TestMatchmakerSimulate(t *testing.T) {
	srv, _ := rpcServer(t, map[string]func([]json.RawMessage) (any, *rpcError){
		"mev_simBundle": func([]json.RawMessage) (any, *rpcError) {
			return mevSimResult{Success: false, Error: "execution reverted"}, nil
		},
	})
	res, err := NewMatchmaker(srv.URL, nil).Simulate(context.Background(), testBundle(t), 9)
	require.NoError(t, err)
	assert.True(t, res.Reverted)
	assert.Equal(t, "execution reverted", res.RevertReason)

	bare, _ := rpcServer(t, nil)
	_, err = NewMatchmaker(bare.URL, nil).Simulate(context.Background(), testBundle(t), 9)
	require.ErrorIs(t, err, ErrSimulationUnsupported)
}

func TestClassify(t *testing.T) {
	auth, err := crypto.GenerateKey()
	require.NoError(t, err)
	senders, err := Classify([]string{" mev:https://mm.example ", "", "https://relay.example", "classic:https://c.example", "mm:https://other.example"}, auth)
	require.NoError(t, err)
	require.Len(t, senders, 4)

	assert.IsType(t, &Matchmaker{}, senders[0])
	assert.Equal(t, "https://mm.example", senders[0].URL())
	assert.IsType(t, &Classic{}, senders[1])
	assert.Equal(t, "https://relay.example", senders[1].URL())
	assert.IsType(t, &Classic{}, senders[2])
	assert.Equal(t, "https://c.example", senders[2].URL())
	assert.Equal(t, "https://other.example", senders[3].URL())
}

func TestClassifyRejectsBadRelayURLs(t *testing.T) {
	auth, err := crypto.GenerateKey()
	require.NoError(t, err)
	for _, bad := range []string{
		"relay.flashbots.net",
		"ftp://relay.example",
		"mev:wss://mm.example",
		"classic:https://",
		"mm:",
	} {
		_, err := Classify([]string{"https://relay.example", bad}, auth)
		require.ErrorIs(t, err, core.ErrFatalConfiguration, bad)
	}

	kind, u, err := ParseRelay(" MEV:https://mm.example/rpc ")
	require.NoError(t, err)
	assert.Equal(t, KindMatchmaker, kind)
	assert.Equal(t, "https://mm.example/rpc", u)

	kind, _, err = ParseRelay("wss://relay.example")
	require.NoError(t, err)
	assert.Equal(t, KindClassic, kind)
}

func TestAuthKey(t *testing.T) {
	k1, err := AuthKey("")
	require.NoError(t, err)
	k2, err := AuthKey("  ")
	require.NoError(t, err)
	assert.NotEqual(t, crypto.PubkeyToAddress(k1.PublicKey), crypto.PubkeyToAddress(k2.PublicKey))

	k3, err := AuthKey("0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	require.NoError(t, err)
	assert.Equal(t, "0x2c7536E3605D9C16a7a3D7b1898e529396a65c23", crypto.PubkeyToAddress(k3.PublicKey).Hex())

	_, err = AuthKey("nothex")
	require.Error(t, err)
}

func TestFriendlyError(t *testing.T) {
	assert.Equal(t, "simulation not supported by relay", FriendlyError(errors.New("Method not found")))
	assert.Equal(t, "network/DNS error", FriendlyError(errors.New("dial tcp 1.2.3.4:443: i/o timeout")))
	assert.Equal(t, "non-JSON/HTML response (proxy/cf?)", FriendlyError(errors.New("invalid character '<' looking for beginning of value")))
	assert.Equal(t, "bundle rate limited", FriendlyError(errors.New("bundle rate limited")))
	assert.Empty(t, FriendlyError(nil))
}

type fakeSender struct {
	url     string
	sendErr error
	sim     *core.SimResult
	simErr  error
	sent    atomic.Int64
}

func (f *fakeSender) URL() string { return f.url }

func (f *fakeSender) Send(context.Context, *core.Bundle, uint64) (string, error) {
	f.sent.Add(1)
	if f.sendErr != nil {
		return "", f.sendErr
	}
	return "0x01", nil
}

func (f *fakeSender) Simulate(context.Context, *core.Bundle, uint64) (core.SimResult, error) {
	if f.simErr != nil {
		return core.SimResult{}, f.simErr
	}
	return *f.sim, nil
}

type fakeWatcher struct {
	got    []common.Hash
	target uint64
}

func (w *fakeWatcher) WaitInclusion(_ context.Context, hashes []common.Hash, target uint64) (core.Resolution, error) {
	w.got, w.target = hashes, target
	return core.Included, nil
}

func quietLog() *logrus.Entry {
	l, _ := test.NewNullLogger()
	return logrus.NewEntry(l)
}

func TestMultiSubmit(t *testing.T) {
	bad := &fakeSender{url: "bad", sendErr: errors.New("503")}
	good := &fakeSender{url: "good"}
	watch := &fakeWatcher{}
	m, err := NewMulti([]Sender{bad, good}, watch, quietLog())
	require.NoError(t, err)

	b := testBundle(t)
	h, err := m.Submit(context.Background(), b, 42)
	require.NoError(t, err)
	assert.Equal(t, int64(1), bad.sent.Load())
	assert.Equal(t, int64(1), good.sent.Load())

	res, err := h.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, core.Included, res)
	assert.Equal(t, uint64(42), watch.target)
	assert.Equal(t, b.Hashes(), watch.got)
}

func TestMultiSubmitAllRejected(t *testing.T) {
	m, err := NewMulti([]Sender{
		&fakeSender{url: "a", sendErr: errors.New("503")},
		&fakeSender{url: "b", sendErr: errors.New("rate limited")},
	}, &fakeWatcher{}, quietLog())
	require.NoError(t, err)
	_, err = m.Submit(context.Background(), testBundle(t), 1)
	require.ErrorIs(t, err, core.ErrRelay)
	assert.Contains(t, err.Error(), "rate limited")
}

func TestMultiSimulate(t *testing.T) {
	unsupported := &fakeSender{url: "a", simErr: ErrSimulationUnsupported}
	reverting := &fakeSender{url: "b", sim: &core.SimResult{Reverted: true, RevertReason: "nope"}}
	m, err := NewMulti([]Sender{unsupported, reverting}, &fakeWatcher{}, quietLog())
	require.NoError(t, err)
	res, err := m.Simulate(context.Background(), testBundle(t), 1)
	require.NoError(t, err)
	assert.True(t, res.Reverted)

	m, err = NewMulti([]Sender{unsupported}, &fakeWatcher{}, quietLog())
	require.NoError(t, err)
	_, err = m.Simulate(context.Background(), testBundle(t), 1)
	require.ErrorIs(t, err, ErrSimulationUnsupported)

	_, err = NewMulti(nil, &fakeWatcher{}, nil)
	require.ErrorIs(t, err, core.ErrFatalConfiguration)
}
