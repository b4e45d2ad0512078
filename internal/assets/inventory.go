// Package assets discovers what the compromised account still holds and
// encodes one sweep call per asset.
package assets

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	core "github.com/ligun0805/bundle-sweeper/internal/bundlecore"
)

const (
	defaultParallel = 8
	// maxEnumerated bounds tokenOfOwnerByIndex walks per collection.
	maxEnumerated = 500
)

// NFTContract is an ERC-721 collection, optionally narrowed to token ids.
type NFTContract struct {
	Address  common.Address
	TokenIDs []*big.Int
}

// Request lists the contracts the operator named.
type Request struct {
	Fungible    []common.Address
	NonFungible []NFTContract
	Claimable   []common.Address
}

func (r Request) Empty() bool {
	return len(r.Fungible) == 0 && len(r.NonFungible) == 0 && len(r.Claimable) == 0
}

type Inventory struct {
	c           Caller
	owner       common.Address
	destination common.Address
	log         *logrus.Entry

	parallel       int
	skipRestricted bool
}

type Option func(*Inventory)

func WithLogger(l *logrus.Entry) Option {
	return func(inv *Inventory) {
		if l != nil {
			inv.log = l
		}
	}
}

// WithParallel bounds concurrent RPC probes.
func WithParallel(n int) Option {
	return func(inv *Inventory) {
		if n > 0 {
			inv.parallel = n
		}
	}
}

// WithRestrictionProbes skips fungible tokens that look paused or blacklisted.
func WithRestrictionProbes(on bool) Option {
	return func(inv *Inventory) { inv.skipRestricted = on }
}

func NewInventory(c Caller, owner, destination common.Address, opts ...Option) *Inventory {
	inv := &Inventory{
		c:              c,
		owner:          owner,
		destination:    destination,
		log:            logrus.NewEntry(logrus.StandardLogger()),
		parallel:       defaultParallel,
		skipRestricted: true,
	}
	for _, o := range opts {
		o(inv)
	}
	return inv
}

// Discover returns the transfers in request order: fungible, non-fungible,
// then claimable. Estimated gas is left at zero.
func (inv *Inventory) Discover(ctx context.Context, req Request) ([]core.AssetTransfer, error) {
	total := len(req.Fungible) + len(req.NonFungible) + len(req.Claimable)
	slots := make([][]core.AssetTransfer, total)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(inv.parallel)
	i := 0
	for _, addr := range req.Fungible {
		slot, addr := i, addr
		g.Go(func() error {
			t, err := inv.fungible(gctx, addr)
			if err != nil {
				return err
			}
			slots[slot] = t
			return nil
		})
		i++
	}
	for _, nft := range req.NonFungible {
		slot, nft := i, nft
		g.Go(func() error {
			t, err := inv.nonFungible(gctx, nft)
			if err != nil {
				return err
			}
			slots[slot] = t
			return nil
		})
		i++
	}
	for _, addr := range req.Claimable {
		slot, addr := i, addr
		g.Go(func() error {
			slots[slot] = inv.claimable(gctx, addr)
			return nil
		})
		i++
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return dedupe(slots, inv.log), nil
}

// dedupe flattens slots keeping the first transfer per (kind, contract, token id).
// A repeated transfer of the same asset would revert and sink the whole bundle.
func dedupe(slots [][]core.AssetTransfer, log *logrus.Entry) []core.AssetTransfer {
	type assetKey struct {
		kind     core.AssetKind
		contract common.Address
		tokenID  string
	}
	seen := map[assetKey]bool{}
	var out []core.AssetTransfer
	for _, s := range slots {
		for _, t := range s {
			k := assetKey{kind: t.Kind, contract: t.SourceContract}
			if t.TokenID != nil {
				k.tokenID = t.TokenID.String()
			}
			if seen[k] {
				log.WithField("asset", t.String()).Warn("duplicate asset dropped")
				continue
			}
			seen[k] = true
			out = append(out, t)
		}
	}
	return out
}

func discoveryErr(addr common.Address, what string, err error) error {
	if err == nil {
		return fmt.Errorf("%w: %s: %s", core.ErrDiscovery, addr.Hex(), what)
	}
	return fmt.Errorf("%w: %s: %s: %v", core.ErrDiscovery, addr.Hex(), what, err)
}

func (inv *Inventory) requireCode(ctx context.Context, addr common.Address) error {
	code, err := withRetry(ctx, func() ([]byte, error) { return inv.c.CodeAt(ctx, addr, nil) })
	if err != nil {
		return discoveryErr(addr, "code lookup", err)
	}
	if len(code) == 0 {
		return discoveryErr(addr, "no contract code", nil)
	}
	return nil
}

func (inv *Inventory) call(ctx context.Context, addr common.Address, data []byte) ([]byte, error) {
	return callWithRetry(ctx, inv.c, ethereum.CallMsg{To: &addr, Data: data})
}

func (inv *Inventory) balanceOf(ctx context.Context, token common.Address) (*big.Int, error) {
	data, err := funcBalanceOf.EncodeArgs(inv.owner)
	if err != nil {
		return nil, err
	}
	ret, err := inv.call(ctx, token, data)
	if err != nil {
		return nil, err
	}
	var bal *big.Int
	if err := funcBalanceOf.DecodeReturns(ret, &bal); err != nil {
		return nil, err
	}
	return bal, nil
}

func (inv *Inventory) fungible(ctx context.Context, token common.Address) ([]core.AssetTransfer, error) {
	log := inv.log.WithFields(logrus.Fields{"kind": core.Fungible.String(), "contract": token.Hex()})
	if err := inv.requireCode(ctx, token); err != nil {
		return nil, err
	}
	bal, err := inv.balanceOf(ctx, token)
	if err != nil {
		return nil, discoveryErr(token, "balanceOf", err)
	}
	if bal.Sign() == 0 {
		log.Info("zero balance, skipped")
		return nil, nil
	}
	if inv.skipRestricted {
		if r := CheckRestrictions(ctx, inv.c, token, inv.owner, inv.destination); r.Blocked() {
			log.WithField("restrictions", r.Summary()).Warn("token restricted, skipped")
			return nil, nil
		}
	}

	amount := &core.HumanAmount{Value: bal, Decimals: 18}
	if data, err := funcSymbol.EncodeArgs(); err == nil {
		if ret, err := inv.call(ctx, token, data); err == nil {
			var sym string
			if funcSymbol.DecodeReturns(ret, &sym) == nil {
				amount.Symbol = sym
			}
		}
	}
	if data, err := funcDecimals.EncodeArgs(); err == nil {
		if ret, err := inv.call(ctx, token, data); err == nil {
			var dec uint8
			if funcDecimals.DecodeReturns(ret, &dec) == nil {
				amount.Decimals = dec
			}
		} else {
			log.WithError(err).Warn("decimals() unavailable, assuming 18")
		}
	}

	payload, err := EncodeERC20Transfer(inv.destination, bal)
	if err != nil {
		return nil, err
	}
	log.WithField("amount", amount.String()).Info("found fungible balance")
	return []core.AssetTransfer{{
		Kind:           core.Fungible,
		SourceContract: token,
		Payload:        payload,
		HumanAmount:    amount,
	}}, nil
}

func (inv *Inventory) nonFungible(ctx context.Context, nft NFTContract) ([]core.AssetTransfer, error) {
	log := inv.log.WithFields(logrus.Fields{"kind": core.NonFungible.String(), "contract": nft.Address.Hex()})
	if err := inv.requireCode(ctx, nft.Address); err != nil {
		return nil, err
	}

	var ids []*big.Int
	if len(nft.TokenIDs) > 0 {
		for _, id := range nft.TokenIDs {
			owned, err := inv.owns(ctx, nft.Address, id)
			if err != nil {
				log.WithError(err).WithField("tokenId", id.String()).Warn("ownerOf failed, skipped")
				continue
			}
			if !owned {
				log.WithField("tokenId", id.String()).Warn("token not owned, skipped")
				continue
			}
			ids = append(ids, id)
		}
	} else {
		var err error
		if ids, err = inv.enumerate(ctx, nft.Address, log); err != nil {
			return nil, err
		}
	}

	out := make([]core.AssetTransfer, 0, len(ids))
	for _, id := range ids {
		payload, err := EncodeERC721TransferFrom(inv.owner, inv.destination, id)
		if err != nil {
			return nil, err
		}
		log.WithField("tokenId", id.String()).Info("found token")
		out = append(out, core.AssetTransfer{
			Kind:           core.NonFungible,
			SourceContract: nft.Address,
			Payload:        payload,
			TokenID:        new(big.Int).Set(id),
		})
	}
	return out, nil
}

func (inv *Inventory) owns(ctx context.Context, collection common.Address, id *big.Int) (bool, error) {
	data, err := funcOwnerOf.EncodeArgs(id)
	if err != nil {
		return false, err
	}
	ret, err := inv.call(ctx, collection, data)
	if err != nil {
		return false, err
	}
	var owner common.Address
	if err := funcOwnerOf.DecodeReturns(ret, &owner); err != nil {
		return false, err
	}
	return owner == inv.owner, nil
}

// enumerate walks tokenOfOwnerByIndex; indexes that fail are skipped.
func (inv *Inventory) enumerate(ctx context.Context, collection common.Address, log *logrus.Entry) ([]*big.Int, error) {
	bal, err := inv.balanceOf(ctx, collection)
	if err != nil {
		return nil, discoveryErr(collection, "balanceOf", err)
	}
	if bal.Sign() == 0 {
		log.Info("no tokens owned, skipped")
		return nil, nil
	}
	n := maxEnumerated
	if bal.IsInt64() && bal.Int64() < int64(n) {
		n = int(bal.Int64())
	} else {
		log.WithField("balance", bal.String()).Warnf("large collection, enumerating first %d", n)
	}

	found := make([]*big.Int, n)
	var mu sync.Mutex
	skipped := 0
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(inv.parallel)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			data, err := funcTokenOfOwnerByIndex.EncodeArgs(inv.owner, big.NewInt(int64(i)))
			if err != nil {
				return err
			}
			ret, err := inv.call(gctx, collection, data)
			var id *big.Int
			if err == nil {
				err = funcTokenOfOwnerByIndex.DecodeReturns(ret, &id)
			}
			if err != nil {
				mu.Lock()
				skipped++
				mu.Unlock()
				return nil
			}
			found[i] = id
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if skipped > 0 {
		log.WithField("skipped", skipped).Warn("some token indexes could not be enumerated")
	}
	ids := make([]*big.Int, 0, n)
	for _, id := range found {
		if id != nil {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// claimable never fails discovery: an airdrop that cannot be checked is skipped.
func (inv *Inventory) claimable(ctx context.Context, drop common.Address) []core.AssetTransfer {
	log := inv.log.WithFields(logrus.Fields{"kind": core.Claimable.String(), "contract": drop.Hex()})
	data, err := funcClaimableTokens.EncodeArgs(inv.owner)
	if err != nil {
		log.WithError(err).Warn("could not encode claimableTokens")
		return nil
	}
	ret, err := inv.call(ctx, drop, data)
	var amount *big.Int
	if err == nil {
		err = funcClaimableTokens.DecodeReturns(ret, &amount)
	}
	if err != nil {
		log.WithError(err).Warn("could not check airdrop")
		return nil
	}
	if amount.Sign() == 0 {
		log.Info("nothing claimable, skipped")
		return nil
	}
	payload, err := EncodeClaim()
	if err != nil {
		log.WithError(err).Warn("could not encode claim")
		return nil
	}
	h := &core.HumanAmount{Value: amount, Decimals: 18}
	log.WithField("amount", h.String()).Info("found claimable airdrop")
	return []core.AssetTransfer{{
		Kind:           core.Claimable,
		SourceContract: drop,
		Payload:        payload,
		HumanAmount:    h,
	}}
}

// Estimate fills in gas for every transfer, sent from the holder account.
// Transfers whose estimate fails are dropped; order is preserved.
func (inv *Inventory) Estimate(ctx context.Context, transfers []core.AssetTransfer) []core.AssetTransfer {
	est := make([]uint64, len(transfers))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(inv.parallel)
	for i, t := range transfers {
		i, t := i, t
		g.Go(func() error {
			to := t.SourceContract
			msg := ethereum.CallMsg{From: inv.owner, To: &to, Value: new(big.Int), Data: t.Payload}
			gas, err := estimateGasWithRetry(gctx, inv.c, msg)
			if err == nil && t.Kind == core.Fungible {
				err = inv.preflightTransfer(gctx, msg)
			}
			if err != nil {
				inv.log.WithError(fmt.Errorf("%w: %s", core.ErrEstimation, revertReason(err))).
					WithField("transfer", t.String()).Warn("dropping transfer")
				return nil
			}
			est[i] = gas
			return nil
		})
	}
	_ = g.Wait()

	out := make([]core.AssetTransfer, 0, len(transfers))
	for i, t := range transfers {
		if est[i] > 0 {
			out = append(out, t.WithGas(est[i]))
		}
	}
	return out
}

// preflightTransfer rejects tokens whose transfer() returns false instead
// of reverting. Tokens that return nothing pass.
func (inv *Inventory) preflightTransfer(ctx context.Context, msg ethereum.CallMsg) error {
	ret, err := callWithRetry(ctx, inv.c, msg)
	if err != nil {
		return err
	}
	if len(ret) > 0 && !boolOf(ret) {
		return errors.New("transfer() returned false")
	}
	return nil
}

// Refresher re-runs discovery and estimation for req between race rounds.
func (inv *Inventory) Refresher(req Request) core.RefreshFunc {
	return func(ctx context.Context, _ []core.AssetTransfer) ([]core.AssetTransfer, error) {
		found, err := inv.Discover(ctx, req)
		if err != nil {
			return nil, err
		}
		return inv.Estimate(ctx, found), nil
	}
}
