// Package chain is the node-facing side of a race: fee oracle, nonces,
// gas estimates, head notifications and the inclusion watcher.
package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/sirupsen/logrus"

	core "github.com/ligun0805/bundle-sweeper/internal/bundlecore"
)

const (
	defaultPollInterval = 2 * time.Second
	defaultBaseFeeMul   = 2
	callTimeout         = 10 * time.Second
)

// DefaultTip is used when the node cannot suggest a priority fee.
var DefaultTip = core.GweiToWei(2)

type Client struct {
	rc  *rpc.Client
	ec  *ethclient.Client
	log *logrus.Entry

	baseFeeMul   int64
	pollInterval time.Duration
}

type Option func(*Client)

// WithBaseFeeMul sets the base fee multiplier of the fee cap (default 2).
func WithBaseFeeMul(m int64) Option {
	return func(c *Client) {
		if m > 0 {
			c.baseFeeMul = m
		}
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

func WithLogger(l *logrus.Entry) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// Dial connects over http(s) or ws(s).
func Dial(ctx context.Context, url string, opts ...Option) (*Client, error) {
	rc, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return NewClient(rc, opts...), nil
}

func NewClient(rc *rpc.Client, opts ...Option) *Client {
	c := &Client{
		rc:           rc,
		ec:           ethclient.NewClient(rc),
		log:          logrus.NewEntry(logrus.StandardLogger()),
		baseFeeMul:   defaultBaseFeeMul,
		pollInterval: defaultPollInterval,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Eth exposes the underlying ethclient for contract calls.
func (c *Client) Eth() *ethclient.Client { return c.ec }

func (c *Client) Close() { c.rc.Close() }

func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	return c.ec.ChainID(ctx)
}

// NextBaseFee reads eth_feeHistory(1, "pending") and falls back to the
// latest header's base fee.
func (c *Client) NextBaseFee(ctx context.Context) (*big.Int, error) {
	fh, err := c.ec.FeeHistory(ctx, 1, big.NewInt(int64(rpc.PendingBlockNumber)), nil)
	if err == nil && fh != nil && len(fh.BaseFee) > 0 {
		if bf := fh.BaseFee[len(fh.BaseFee)-1]; bf != nil && bf.Sign() > 0 {
			return new(big.Int).Set(bf), nil
		}
	}
	if err != nil {
		c.log.WithError(err).Debug("feeHistory unavailable, using latest header")
	}
	h, err := c.ec.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, err
	}
	if h.BaseFee == nil {
		return nil, errors.New("no baseFee (pre-1559?)")
	}
	return new(big.Int).Set(h.BaseFee), nil
}

// SuggestTip returns eth_maxPriorityFeePerGas or DefaultTip.
func (c *Client) SuggestTip(ctx context.Context) *big.Int {
	tip, err := c.ec.SuggestGasTipCap(ctx)
	if err != nil || tip == nil || tip.Sign() <= 0 {
		return new(big.Int).Set(DefaultTip)
	}
	return tip
}

// FeeEstimate is the fee oracle: maxFee = baseFee*mul + tip.
func (c *Client) FeeEstimate(ctx context.Context) (core.FeeLevel, error) {
	base, err := c.NextBaseFee(ctx)
	if err != nil {
		return core.FeeLevel{}, fmt.Errorf("base fee: %w", err)
	}
	tip := c.SuggestTip(ctx)
	maxFee := new(big.Int).Mul(base, big.NewInt(c.baseFeeMul))
	maxFee.Add(maxFee, tip)
	return core.FeeLevel{MaxFeePerUnit: maxFee, MaxPriorityFeePerUnit: tip}, nil
}

func (c *Client) PendingNonce(ctx context.Context, account common.Address) (uint64, error) {
	return c.ec.PendingNonceAt(ctx, account)
}

func (c *Client) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return c.ec.EstimateGas(ctx, msg)
}

// SubscribeBlocks forwards strictly increasing head numbers to ch.
// Without notification support it polls eth_blockNumber instead.
func (c *Client) SubscribeBlocks(ctx context.Context, ch chan<- uint64) (ethereum.Subscription, error) {
	heads := make(chan *types.Header, 16)
	sub, err := c.ec.SubscribeNewHead(ctx, heads)
	if err != nil {
		if !errors.Is(err, rpc.ErrNotificationsUnsupported) {
			c.log.WithError(err).Debug("newHeads subscription failed, polling instead")
		}
		return c.pollBlocks(ctx, ch)
	}
	return event.NewSubscription(func(quit <-chan struct{}) error {
		defer sub.Unsubscribe()
		var last uint64
		for {
			select {
			case <-quit:
				return nil
			case err := <-sub.Err():
				return err
			case h := <-heads:
				if h == nil || h.Number == nil {
					continue
				}
				n := h.Number.Uint64()
				if n <= last {
					continue
				}
				last = n
				select {
				case ch <- n:
				case <-quit:
					return nil
				}
			}
		}
	}), nil
}

func (c *Client) pollBlocks(ctx context.Context, ch chan<- uint64) (ethereum.Subscription, error) {
	last, err := c.ec.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("block number: %w", err)
	}
	return event.NewSubscription(func(quit <-chan struct{}) error {
		t := time.NewTicker(c.pollInterval)
		defer t.Stop()
		for {
			select {
			case <-quit:
				return nil
			case <-t.C:
			}
			cctx, cancel := context.WithTimeout(context.Background(), callTimeout)
			n, err := c.ec.BlockNumber(cctx)
			cancel()
			if err != nil {
				c.log.WithError(err).Debug("poll head")
				continue
			}
			if n <= last {
				continue
			}
			last = n
			select {
			case ch <- n:
			case <-quit:
				return nil
			}
		}
	}), nil
}

// WaitInclusion waits for the chain to reach target, then checks that every
// hash has a successful receipt in exactly that block.
func (c *Client) WaitInclusion(ctx context.Context, hashes []common.Hash, target uint64) (core.Resolution, error) {
	if len(hashes) == 0 {
		return core.NotIncluded, errors.New("empty bundle")
	}
	t := time.NewTicker(c.pollInterval)
	defer t.Stop()
	for {
		n, err := c.ec.BlockNumber(ctx)
		if err == nil && n >= target {
			break
		}
		select {
		case <-ctx.Done():
			return core.Pending, ctx.Err()
		case <-t.C:
		}
	}
	for i, h := range hashes {
		rcpt, err := c.ec.TransactionReceipt(ctx, h)
		if errors.Is(err, ethereum.NotFound) {
			return core.NotIncluded, nil
		}
		if err != nil {
			return core.Pending, fmt.Errorf("receipt %s: %w", h.Hex(), err)
		}
		if rcpt.BlockNumber == nil || rcpt.BlockNumber.Uint64() != target {
			return core.NotIncluded, nil
		}
		if rcpt.Status != types.ReceiptStatusSuccessful {
			return core.NotIncluded, fmt.Errorf("tx %d (%s) reverted in block %d", i, h.Hex(), target)
		}
	}
	return core.Included, nil
}

// RewardStats aggregates min/avg/max for one reward percentile.
type RewardStats struct {
	Min *big.Int
	Avg *big.Int
	Max *big.Int
}

// FeeHistoryStats returns min/avg/max priority rewards over the last
// blocks for the given percentiles.
func (c *Client) FeeHistoryStats(ctx context.Context, blocks int, percentiles []int) (map[int]RewardStats, error) {
	if blocks <= 0 {
		blocks = 20
	}
	if len(percentiles) == 0 {
		percentiles = []int{50, 95, 99}
	}
	pf := make([]float64, len(percentiles))
	for i, p := range percentiles {
		pf[i] = float64(p)
	}
	fh, err := c.ec.FeeHistory(ctx, uint64(blocks), big.NewInt(int64(rpc.PendingBlockNumber)), pf)
	if err != nil {
		return nil, err
	}
	if len(fh.Reward) == 0 {
		return nil, errors.New("feeHistory: empty reward")
	}
	res := make(map[int]RewardStats, len(percentiles))
	for _, p := range percentiles {
		res[p] = RewardStats{Avg: new(big.Int), Max: new(big.Int)}
	}
	for _, row := range fh.Reward {
		for j := 0; j < len(percentiles) && j < len(row); j++ {
			v := row[j]
			if v == nil {
				continue
			}
			st := res[percentiles[j]]
			if st.Min == nil || v.Cmp(st.Min) < 0 {
				st.Min = new(big.Int).Set(v)
			}
			if v.Cmp(st.Max) > 0 {
				st.Max = new(big.Int).Set(v)
			}
			st.Avg.Add(st.Avg, v)
			res[percentiles[j]] = st
		}
	}
	rows := big.NewInt(int64(len(fh.Reward)))
	for p, st := range res {
		st.Avg.Div(st.Avg, rows)
		if st.Min == nil {
			st.Min = new(big.Int)
		}
		res[p] = st
	}
	return res, nil
}
