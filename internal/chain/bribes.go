package chain

import (
	"bytes"
	"context"
	"math"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"golang.org/x/sync/errgroup"
)

// BribeSummary holds simple stats for coinbase bribes.
type BribeSummary struct {
	Count int
	Sum   *big.Int
	Max   *big.Int
	P50   *big.Int
	P95   *big.Int
	P99   *big.Int
}

// coinbaseBribes picks direct payments to the block builder:
// creations whose init code does COINBASE; SELFDESTRUCT, and plain transfers to coinbase.
func coinbaseBribes(coinbase common.Address, txs []*types.Transaction) []*big.Int {
	var out []*big.Int
	for _, tx := range txs {
		v := tx.Value()
		if v == nil || v.Sign() <= 0 {
			continue
		}
		switch to := tx.To(); {
		case to == nil && bytes.Contains(tx.Data(), []byte{0x41, 0xff}):
			out = append(out, new(big.Int).Set(v))
		case to != nil && *to == coinbase:
			out = append(out, new(big.Int).Set(v))
		}
	}
	return out
}

// ScanCoinbaseBribes fetches the last blocks concurrently and collects the
// builder payments found in them. Blocks that fail to load are skipped.
func (c *Client) ScanCoinbaseBribes(ctx context.Context, blocks int) ([]*big.Int, error) {
	if blocks <= 0 {
		blocks = 20
	}
	head, err := c.ec.BlockNumber(ctx)
	if err != nil {
		return nil, err
	}
	if uint64(blocks) > head {
		blocks = int(head)
	}
	perBlock := make([][]*big.Int, blocks)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i := 0; i < blocks; i++ {
		i := i
		g.Go(func() error {
			b, err := c.ec.BlockByNumber(gctx, new(big.Int).SetUint64(head-uint64(i)))
			if err != nil || b == nil {
				c.log.WithError(err).WithField("block", head-uint64(i)).Debug("bribe scan: block skipped")
				return nil
			}
			perBlock[i] = coinbaseBribes(b.Coinbase(), b.Transactions())
			return nil
		})
	}
	_ = g.Wait()
	var out []*big.Int
	for _, vs := range perBlock {
		out = append(out, vs...)
	}
	return out, ctx.Err()
}

func bribeQuantile(sorted []*big.Int, q float64) *big.Int {
	if len(sorted) == 0 {
		return new(big.Int)
	}
	idx := int(math.Ceil(q*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return new(big.Int).Set(sorted[idx])
}

// SummarizeBribes aggregates stats over bribe values.
func SummarizeBribes(vals []*big.Int) BribeSummary {
	s := BribeSummary{Count: len(vals), Sum: new(big.Int), Max: new(big.Int), P50: new(big.Int), P95: new(big.Int), P99: new(big.Int)}
	if len(vals) == 0 {
		return s
	}
	sorted := make([]*big.Int, len(vals))
	for i, v := range vals {
		sorted[i] = new(big.Int).Set(v)
		s.Sum.Add(s.Sum, v)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Cmp(sorted[j]) < 0 })
	s.Max.Set(sorted[len(sorted)-1])
	s.P50 = bribeQuantile(sorted, 0.50)
	s.P95 = bribeQuantile(sorted, 0.95)
	s.P99 = bribeQuantile(sorted, 0.99)
	return s
}
