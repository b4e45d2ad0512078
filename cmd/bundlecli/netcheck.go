package main

import (
	"context"
	"fmt"
	"io"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	core "github.com/ligun0805/bundle-sweeper/internal/bundlecore"
	"github.com/ligun0805/bundle-sweeper/internal/chain"
	"github.com/ligun0805/bundle-sweeper/internal/config"
)

// printNetworkState prints the fee snapshot and what funding the race may cost.
func printNetworkState(ctx context.Context, w io.Writer, c *chain.Client, st config.Settings, transfers []core.AssetTransfer, sweep common.Address) {
	if baseFee, err := c.NextBaseFee(ctx); err != nil {
		fmt.Fprintln(w, "[net] base fee error:", err)
	} else {
		fmt.Fprintf(w, "[net] baseFee(next): %s gwei\n", core.FormatGwei(baseFee))
	}

	stats, err := c.FeeHistoryStats(ctx, st.NetcheckBlocks, st.NetcheckPcts)
	if err != nil {
		fmt.Fprintln(w, "[net] feeHistory error:", err)
	} else {
		printRewardStats(w, st.NetcheckBlocks, st.NetcheckPcts, stats)
	}

	if bribes, err := c.ScanCoinbaseBribes(ctx, st.NetcheckBlocks); err != nil {
		fmt.Fprintln(w, "[net] bribe scan error:", err)
	} else {
		b := chain.SummarizeBribes(bribes)
		fmt.Fprintf(w, "[net] coinbase bribes in last %d blocks: count=%d, sum=%s ETH, max=%s ETH\n", st.NetcheckBlocks, b.Count, core.FormatETH(b.Sum), core.FormatETH(b.Max))
		if b.Count > 0 {
			fmt.Fprintf(w, "      quantiles: p50=%s ETH, p95=%s ETH, p99=%s ETH\n", core.FormatETH(b.P50), core.FormatETH(b.P95), core.FormatETH(b.P99))
		}
	}

	est, err := c.FeeEstimate(ctx)
	if err != nil {
		fmt.Fprintln(w, "[net] fee estimate error:", err)
		return
	}
	policy := st.Policy()
	first := policy.FeeLevelForRound(est, 0)
	last := policy.FeeLevelForRound(est, st.MaxAttempts-1)
	fmt.Fprintf(w, "[net] gas(bundle sweeps≈%s) funding: round 1=%s ETH (%s), round %d=%s ETH (%s)\n",
		core.TotalGasUnits(transfers).String(),
		core.FormatETH(core.FundingFor(transfers, sweep, first).Amount), first,
		st.MaxAttempts,
		core.FormatETH(core.FundingFor(transfers, sweep, last).Amount), last)
}

func printRewardStats(w io.Writer, blocks int, pcts []int, stats map[int]chain.RewardStats) {
	fmt.Fprintf(w, "[net] reward stats last %d blocks:\n", blocks)
	for _, p := range pcts {
		s, ok := stats[p]
		if !ok {
			continue
		}
		fmt.Fprintf(w, "  p%-2d min/avg/max: %s / %s / %s gwei\n", p, gwei(s.Min), gwei(s.Avg), gwei(s.Max))
	}
}

func gwei(v *big.Int) string {
	if v == nil {
		return "-"
	}
	return core.FormatGwei(v)
}
