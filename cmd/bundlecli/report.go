package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	core "github.com/ligun0805/bundle-sweeper/internal/bundlecore"
)

// consoleReporter prints the race outcome and tallies attempt verdicts.
type consoleReporter struct {
	out      io.Writer
	explorer string
	dest     common.Address
	holder   common.Address

	mu       sync.Mutex
	outcomes map[core.Resolution]int
}

func newConsoleReporter(out io.Writer, explorer string, dest, holder common.Address) *consoleReporter {
	return &consoleReporter{out: out, explorer: explorer, dest: dest, holder: holder, outcomes: map[core.Resolution]int{}}
}

// observe is wired as the racer's resolution hook.
func (r *consoleReporter) observe(a core.Attempt) {
	r.mu.Lock()
	r.outcomes[a.Outcome]++
	r.mu.Unlock()
}

func (r *consoleReporter) Report(res core.RaceResult) {
	r.mu.Lock()
	tally := fmt.Sprintf("included=%d not-included=%d relay-error=%d",
		r.outcomes[core.Included], r.outcomes[core.NotIncluded], r.outcomes[core.RelayError])
	r.mu.Unlock()

	fmt.Fprintln(r.out, "=== RESULT ===")
	fmt.Fprintf(r.out, "Race     : %s\n", res.RaceID)
	fmt.Fprintf(r.out, "Rounds   : %d (%d attempts: %s)\n", res.Rounds, res.Attempts, tally)
	if !res.Success {
		fmt.Fprintf(r.out, "Status   : %s, no bundle was included\n", res.Status)
		if res.Fee.MaxFeePerUnit != nil {
			fmt.Fprintf(r.out, "Last fee : %s\n", res.Fee)
		}
		fmt.Fprintf(r.out, "Assets remain at %s\n", r.holder.Hex())
		return
	}
	fmt.Fprintf(r.out, "Status   : included in block %d\n", res.IncludedBlock)
	fmt.Fprintf(r.out, "Fee      : %s\n", res.Fee)
	fmt.Fprintf(r.out, "Swept to : %s\n", r.dest.Hex())
	for _, t := range res.Transfers {
		fmt.Fprintf(r.out, "  - %s\n", t)
	}
	if r.explorer != "" {
		fmt.Fprintf(r.out, "Explorer : %s%s\n", r.explorer, r.dest.Hex())
	}
}
