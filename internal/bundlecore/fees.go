package bundlecore

import "math/big"

// StepFunc maps a round index to an extra per-unit boost in wei.
// It must be non-decreasing in round.
type StepFunc func(round int) *big.Int

// LinearStep escalates by increment every round.
func LinearStep(increment *big.Int) StepFunc {
	inc := nonNegative(increment)
	return func(round int) *big.Int {
		if round < 0 {
			round = 0
		}
		return new(big.Int).Mul(big.NewInt(int64(round)), inc)
	}
}

// HalvingStep escalates by increment every second round.
func HalvingStep(increment *big.Int) StepFunc {
	inc := nonNegative(increment)
	return func(round int) *big.Int {
		if round < 0 {
			round = 0
		}
		return new(big.Int).Mul(big.NewInt(int64(round/2)), inc)
	}
}

func nonNegative(x *big.Int) *big.Int {
	if x == nil || x.Sign() < 0 {
		return new(big.Int)
	}
	return new(big.Int).Set(x)
}

// EscalationPolicy is the pure, per-round fee boost schedule.
type EscalationPolicy struct {
	InitialBoost *big.Int
	Step         StepFunc
	// MaxBoost caps InitialBoost+Step(round). Nil means uncapped.
	MaxBoost *big.Int
}

// Boost returns the capped boost for round.
func (p EscalationPolicy) Boost(round int) *big.Int {
	boost := nonNegative(p.InitialBoost)
	if p.Step != nil {
		if s := p.Step(round); s != nil && s.Sign() > 0 {
			boost.Add(boost, s)
		}
	}
	if p.MaxBoost != nil && boost.Cmp(p.MaxBoost) > 0 {
		boost.Set(nonNegative(p.MaxBoost))
	}
	return boost
}

// FeeLevelForRound adds the round boost to both the tip and the fee cap.
// The cap never falls below the tip.
func (p EscalationPolicy) FeeLevelForRound(base FeeLevel, round int) FeeLevel {
	boost := p.Boost(round)
	tip := addBig(nonNegative(base.MaxPriorityFeePerUnit), boost)
	feeCap := addBig(nonNegative(base.MaxFeePerUnit), boost)
	if feeCap.Cmp(tip) < 0 {
		feeCap.Set(tip)
	}
	return FeeLevel{MaxFeePerUnit: feeCap, MaxPriorityFeePerUnit: tip}
}
