package bundlecore

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Chain is what the racer needs from the node.
type Chain interface {
	// FeeEstimate returns the oracle's base fee level for the next block.
	FeeEstimate(ctx context.Context) (FeeLevel, error)
	PendingNonce(ctx context.Context, account common.Address) (uint64, error)
	// SubscribeBlocks delivers new head numbers to ch until unsubscribed.
	SubscribeBlocks(ctx context.Context, ch chan<- uint64) (ethereum.Subscription, error)
}

// Handle resolves one submitted bundle.
type Handle interface {
	Wait(ctx context.Context) (Resolution, error)
}

type SimResult struct {
	Reverted     bool
	RevertReason string
}

// Relay submits bundles privately for a single target block.
type Relay interface {
	Submit(ctx context.Context, b *Bundle, target uint64) (Handle, error)
	Simulate(ctx context.Context, b *Bundle, target uint64) (SimResult, error)
}

// Reporter receives the terminal outcome, once.
type Reporter interface {
	Report(RaceResult)
}

// RefreshFunc re-reads the transfer list between rounds.
type RefreshFunc func(ctx context.Context, current []AssetTransfer) ([]AssetTransfer, error)

type Options struct {
	ChainID *big.Int
	// MaxAttempts is the round budget. A round is one block notification.
	MaxAttempts int
	// ParallelBundles is K: targets head+1 .. head+K per round.
	ParallelBundles int
	Policy          EscalationPolicy

	SimulateEachRound bool
	ResolutionTimeout time.Duration
	DrainTimeout      time.Duration
	// RefreshTimeout bounds one Refresh call inside the block loop.
	RefreshTimeout time.Duration

	Refresh      RefreshFunc
	OnResolution func(Attempt)
	Logger       *logrus.Entry
}

const (
	defaultResolutionTimeout = 60 * time.Second
	defaultDrainTimeout      = 30 * time.Second
	defaultRefreshTimeout    = 5 * time.Second
)

// Racer drives one bundle race per Run call.
type Racer struct {
	chain    Chain
	relay    Relay
	wallets  *Wallets
	reporter Reporter
	opts     Options
	log      *logrus.Entry
}

func NewRacer(chain Chain, relay Relay, wallets *Wallets, reporter Reporter, opts Options) *Racer {
	if opts.ParallelBundles <= 0 {
		opts.ParallelBundles = 1
	}
	if opts.ResolutionTimeout <= 0 {
		opts.ResolutionTimeout = defaultResolutionTimeout
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = defaultDrainTimeout
	}
	if opts.RefreshTimeout <= 0 {
		opts.RefreshTimeout = defaultRefreshTimeout
	}
	log := opts.Logger
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Racer{chain: chain, relay: relay, wallets: wallets, reporter: reporter, opts: opts, log: log}
}

// raceState lives for a single Run.
type raceState struct {
	id        string
	log       *logrus.Entry
	transfers []AssetTransfer

	// loop goroutine only
	round    int
	lastHead uint64
	floor    FeeLevel

	status      atomic.Int32
	terminal    atomic.Bool
	penalty     atomic.Int64
	needRefresh atomic.Bool
	attempts    atomic.Int64
	nextID      atomic.Uint64

	winner Attempt
	done   chan struct{}

	inflight    sync.WaitGroup
	waitCtx     context.Context
	cancelWaits context.CancelFunc
}

func (st *raceState) setStatus(s RaceStatus) { st.status.Store(int32(s)) }
func (st *raceState) getStatus() RaceStatus  { return RaceStatus(st.status.Load()) }

// Run races transfers until one bundle lands or the round budget is spent.
// The reporter is called exactly once whenever racing actually started.
func (r *Racer) Run(ctx context.Context, transfers []AssetTransfer) (RaceResult, error) {
	if len(transfers) == 0 {
		return RaceResult{Status: StatusIdle}, ErrInsufficientAssets
	}
	if r.wallets == nil || r.chain == nil || r.relay == nil {
		return RaceResult{Status: StatusIdle}, fmt.Errorf("%w: racer is missing chain, relay or wallets", ErrFatalConfiguration)
	}
	if r.opts.ChainID == nil || r.opts.ChainID.Sign() <= 0 {
		return RaceResult{Status: StatusIdle}, fmt.Errorf("%w: chain id is not set", ErrFatalConfiguration)
	}
	if r.opts.MaxAttempts <= 0 {
		return RaceResult{Status: StatusIdle}, fmt.Errorf("%w: max attempts must be > 0", ErrFatalConfiguration)
	}

	st := &raceState{
		id:        uuid.NewString(),
		transfers: append([]AssetTransfer(nil), transfers...),
		done:      make(chan struct{}),
	}
	st.log = r.log.WithField("race", st.id)
	st.waitCtx, st.cancelWaits = context.WithCancel(context.WithoutCancel(ctx))
	defer st.cancelWaits()

	heads := make(chan uint64, 16)
	sub, err := r.chain.SubscribeBlocks(ctx, heads)
	if err != nil {
		return RaceResult{RaceID: st.id, Status: StatusIdle}, fmt.Errorf("subscribe blocks: %w", err)
	}
	var unsubOnce sync.Once
	unsubscribe := func() { unsubOnce.Do(sub.Unsubscribe) }
	defer unsubscribe()

	st.setStatus(StatusArmed)
	st.log.WithFields(logrus.Fields{
		"transfers":   len(st.transfers),
		"maxAttempts": r.opts.MaxAttempts,
		"parallel":    r.opts.ParallelBundles,
		"funding":     r.wallets.Funding().Hex(),
		"sweep":       r.wallets.Sweep().Hex(),
	}).Info("race armed, waiting for blocks")

	var runErr error
loop:
	for {
		select {
		case <-st.done:
			break loop
		case <-ctx.Done():
			unsubscribe()
			runErr = ctx.Err()
			r.drain(st)
			break loop
		case err := <-sub.Err():
			unsubscribe()
			if err == nil {
				err = errors.New("block subscription closed")
			}
			runErr = fmt.Errorf("block subscription: %w", err)
			r.drain(st)
			break loop
		case head := <-heads:
			if r.onBlock(ctx, st, head, heads) {
				unsubscribe()
				st.log.WithField("rounds", st.round).Warn("attempt budget exhausted, draining in-flight attempts")
				runErr = ErrAttemptBudgetExhausted
				r.drain(st)
				break loop
			}
		}
	}
	unsubscribe()

	if st.terminal.CompareAndSwap(false, true) {
		st.setStatus(StatusExhausted)
	} else {
		<-st.done
		st.setStatus(StatusSuccess)
		runErr = nil
	}
	st.cancelWaits()

	res := r.result(st)
	if res.Success {
		st.log.WithFields(logrus.Fields{"block": res.IncludedBlock, "round": st.winner.Round}).Info("bundle included")
	} else {
		st.log.WithError(runErr).Warn("race ended without inclusion")
	}
	if r.reporter != nil {
		r.reporter.Report(res)
	}
	return res, runErr
}

func (r *Racer) result(st *raceState) RaceResult {
	res := RaceResult{
		Transfers: st.transfers,
		Status:    st.getStatus(),
		RaceID:    st.id,
		Rounds:    st.round,
		Attempts:  int(st.attempts.Load()),
		Fee:       st.floor.Copy(),
	}
	if res.Status == StatusSuccess {
		res.Success = true
		res.IncludedBlock = st.winner.TargetBlock
		res.Fee = st.winner.Fee.Copy()
	}
	return res
}

// drain waits for attempts already submitted, bounded by DrainTimeout,
// so that a late inclusion of the last round is still credited.
func (r *Racer) drain(st *raceState) {
	idle := make(chan struct{})
	go func() {
		st.inflight.Wait()
		close(idle)
	}()
	t := time.NewTimer(r.opts.DrainTimeout)
	defer t.Stop()
	select {
	case <-idle:
	case <-st.done:
	case <-t.C:
		st.log.Warn("drain timeout, abandoning in-flight attempts")
	}
}

// onBlock handles one head. It reports true once the budget is spent.
func (r *Racer) onBlock(ctx context.Context, st *raceState, head uint64, heads <-chan uint64) bool {
	if st.terminal.Load() {
		return false
	}
	if head <= st.lastHead {
		st.log.WithField("head", head).Debug("stale or duplicate head ignored")
		return false
	}
	st.lastHead = head
	if st.round+1 > r.opts.MaxAttempts {
		return true
	}
	st.round++

	if st.needRefresh.Swap(false) && r.opts.Refresh != nil {
		rctx, cancel := context.WithTimeout(ctx, r.opts.RefreshTimeout)
		fresh, err := r.opts.Refresh(rctx, st.transfers)
		cancel()
		switch {
		case err != nil:
			st.log.WithError(err).Warn("transfer refresh failed, keeping previous list")
		case len(fresh) == 0:
			st.log.Warn("transfer refresh returned nothing, keeping previous list")
		default:
			st.transfers = fresh
		}
		// Heads that arrived during the refresh are already past; target the newest.
		if latest := latestHead(heads, head); latest > head {
			st.log.WithFields(logrus.Fields{"head": head, "latest": latest}).Debug("skipping heads queued during refresh")
			head = latest
			st.lastHead = head
		}
	}

	if err := r.dispatchRound(ctx, st, head); err != nil {
		p := st.penalty.Add(1)
		st.log.WithError(err).WithFields(logrus.Fields{"round": st.round, "penalty": p}).Warn("round failed, escalating on next block")
	}
	return false
}

// latestHead drains queued notifications without blocking and returns the newest.
func latestHead(heads <-chan uint64, head uint64) uint64 {
	for {
		select {
		case h := <-heads:
			if h > head {
				head = h
			}
		default:
			return head
		}
	}
}

func (r *Racer) dispatchRound(ctx context.Context, st *raceState, head uint64) error {
	st.setStatus(StatusDispatching)
	defer st.setStatus(StatusAwaitingResolution)

	base, err := r.chain.FeeEstimate(ctx)
	if err != nil {
		return fmt.Errorf("fee estimate: %w", err)
	}
	idx := st.round - 1 + int(st.penalty.Load())
	fee := r.opts.Policy.FeeLevelForRound(base, idx)
	if st.floor.MaxFeePerUnit != nil {
		fee = fee.Max(st.floor)
	}
	st.floor = fee.Copy()

	rlog := st.log.WithFields(logrus.Fields{"round": st.round, "head": head})
	rlog.WithField("fee", fee.String()).Infof("round %d/%d: targets %d..%d", st.round, r.opts.MaxAttempts, head+1, head+uint64(r.opts.ParallelBundles))

	type prepared struct {
		target uint64
		bundle *Bundle
	}
	batch := make([]prepared, 0, r.opts.ParallelBundles)
	for k := 0; k < r.opts.ParallelBundles; k++ {
		if st.terminal.Load() {
			return nil
		}
		target := head + 1 + uint64(k)
		b, err := r.prepare(ctx, st.transfers, fee)
		if err != nil {
			return fmt.Errorf("target %d: %w", target, err)
		}
		batch = append(batch, prepared{target: target, bundle: b})
	}

	if r.opts.SimulateEachRound && len(batch) > 0 {
		sim, err := r.relay.Simulate(ctx, batch[0].bundle, batch[0].target)
		switch {
		case err != nil:
			rlog.WithError(err).Warn("simulation unavailable, submitting anyway")
		case sim.Reverted:
			st.needRefresh.Store(true)
			return fmt.Errorf("%w: %s", ErrSimulationRevert, sim.RevertReason)
		}
	}

	for _, p := range batch {
		if st.terminal.Load() {
			return nil
		}
		a := Attempt{
			ID:          st.nextID.Add(1),
			Round:       st.round,
			TargetBlock: p.target,
			Fee:         fee.Copy(),
			Bundle:      p.bundle,
			Outcome:     Pending,
		}
		st.attempts.Add(1)
		st.inflight.Add(1)
		go r.submitTarget(ctx, st, a)
	}
	return nil
}

// prepare reads both pending nonces, then builds and signs one variant.
func (r *Racer) prepare(ctx context.Context, transfers []AssetTransfer, fee FeeLevel) (*Bundle, error) {
	fundingNonce, err := r.chain.PendingNonce(ctx, r.wallets.Funding())
	if err != nil {
		return nil, fmt.Errorf("funding nonce: %w", err)
	}
	sweepNonce, err := r.chain.PendingNonce(ctx, r.wallets.Sweep())
	if err != nil {
		return nil, fmt.Errorf("sweep nonce: %w", err)
	}
	ub, err := Build(transfers, r.opts.ChainID, r.wallets.Funding(), r.wallets.Sweep(), fee, fundingNonce, sweepNonce)
	if err != nil {
		return nil, err
	}
	return r.wallets.Sign(ub)
}

// Preflight simulates the first-round bundle against head+1 without
// submitting it. A revert comes back as ErrSimulationRevert.
func (r *Racer) Preflight(ctx context.Context, transfers []AssetTransfer, head uint64) (SimResult, error) {
	if len(transfers) == 0 {
		return SimResult{}, ErrInsufficientAssets
	}
	if r.wallets == nil || r.chain == nil || r.relay == nil || r.opts.ChainID == nil {
		return SimResult{}, fmt.Errorf("%w: racer is missing chain, relay, wallets or chain id", ErrFatalConfiguration)
	}
	base, err := r.chain.FeeEstimate(ctx)
	if err != nil {
		return SimResult{}, fmt.Errorf("fee estimate: %w", err)
	}
	b, err := r.prepare(ctx, transfers, r.opts.Policy.FeeLevelForRound(base, 0))
	if err != nil {
		return SimResult{}, err
	}
	sim, err := r.relay.Simulate(ctx, b, head+1)
	if err != nil {
		return sim, err
	}
	if sim.Reverted {
		return sim, fmt.Errorf("%w: %s", ErrSimulationRevert, sim.RevertReason)
	}
	return sim, nil
}

func (r *Racer) submitTarget(ctx context.Context, st *raceState, a Attempt) {
	defer st.inflight.Done()
	alog := st.log.WithFields(logrus.Fields{"round": a.Round, "target": a.TargetBlock, "attempt": a.ID})

	// Submission outlives the block loop; only its result can be discarded.
	h, err := r.relay.Submit(context.WithoutCancel(ctx), a.Bundle, a.TargetBlock)
	if err != nil {
		r.resolve(st, a, RelayError, err, alog)
		return
	}
	alog.WithField("bundle", a.Bundle.ID().String()).Debug("bundle submitted")

	wctx, cancel := context.WithTimeout(st.waitCtx, r.opts.ResolutionTimeout)
	defer cancel()
	res, err := h.Wait(wctx)
	if err != nil && res == Pending {
		res = NotIncluded
	}
	r.resolve(st, a, res, err, alog)
}

func (r *Racer) resolve(st *raceState, a Attempt, outcome Resolution, err error, alog *logrus.Entry) {
	if st.terminal.Load() {
		alog.WithField("outcome", outcome.String()).Debug("late resolution ignored")
		return
	}
	a.Outcome = outcome
	a.Err = err
	switch outcome {
	case Included:
		if !st.terminal.CompareAndSwap(false, true) {
			alog.Debug("inclusion after terminal state ignored")
			return
		}
		st.winner = a
		close(st.done)
		alog.Info("attempt included")
	case RelayError:
		st.needRefresh.Store(true)
		alog.WithError(err).Warn("relay error")
	default:
		if err != nil {
			alog.WithError(err).Info("attempt not included")
		} else {
			alog.Info("attempt not included")
		}
	}
	if r.opts.OnResolution != nil {
		r.opts.OnResolution(a)
	}
}
