package bundlecore

import (
	"math/big"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStepFunctions(t *testing.T) {
	lin := LinearStep(GweiToWei(2))
	half := HalvingStep(GweiToWei(1))

	assert.Equal(t, GweiToWei(0), lin(0))
	assert.Equal(t, GweiToWei(6), lin(3))
	assert.Equal(t, GweiToWei(0), half(1))
	assert.Equal(t, GweiToWei(1), half(2))
	assert.Equal(t, GweiToWei(2), half(5))
	assert.Equal(t, GweiToWei(0), lin(-4))
}

func TestEscalationIsMonotonic(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	policies := []EscalationPolicy{
		{InitialBoost: GweiToWei(3), Step: HalvingStep(GweiToWei(1))},
		{InitialBoost: GweiToWei(0), Step: LinearStep(GweiToWei(2))},
		{InitialBoost: GweiToWei(1), Step: LinearStep(GweiToWei(1)), MaxBoost: GweiToWei(10)},
	}
	base := FeeLevel{MaxFeePerUnit: GweiToWei(40), MaxPriorityFeePerUnit: GweiToWei(2)}
	for _, p := range policies {
		for i := 0; i < 100; i++ {
			r1 := rng.Intn(60)
			r2 := r1 + 1 + rng.Intn(60)
			f1 := p.FeeLevelForRound(base, r1)
			f2 := p.FeeLevelForRound(base, r2)
			assert.LessOrEqual(t, f1.MaxFeePerUnit.Cmp(f2.MaxFeePerUnit), 0)
			assert.LessOrEqual(t, f1.MaxPriorityFeePerUnit.Cmp(f2.MaxPriorityFeePerUnit), 0)
			assert.True(t, f2.valid())
		}
	}
}

func TestEscalationCap(t *testing.T) {
	p := EscalationPolicy{InitialBoost: GweiToWei(3), Step: LinearStep(GweiToWei(2)), MaxBoost: GweiToWei(8)}
	assert.Equal(t, GweiToWei(5), p.Boost(1))
	assert.Equal(t, GweiToWei(8), p.Boost(3))
	assert.Equal(t, GweiToWei(8), p.Boost(300))
}

func TestFeeCapNeverBelowTip(t *testing.T) {
	p := EscalationPolicy{InitialBoost: GweiToWei(1)}
	f := p.FeeLevelForRound(FeeLevel{MaxFeePerUnit: big.NewInt(5), MaxPriorityFeePerUnit: GweiToWei(4)}, 0)
	assert.Equal(t, GweiToWei(5), f.MaxPriorityFeePerUnit)
	assert.Equal(t, 0, f.MaxFeePerUnit.Cmp(f.MaxPriorityFeePerUnit))
}

func TestFeeLevelMax(t *testing.T) {
	a := FeeLevel{MaxFeePerUnit: GweiToWei(10), MaxPriorityFeePerUnit: GweiToWei(3)}
	b := FeeLevel{MaxFeePerUnit: GweiToWei(8), MaxPriorityFeePerUnit: GweiToWei(4)}
	m := a.Max(b)
	assert.Equal(t, GweiToWei(10), m.MaxFeePerUnit)
	assert.Equal(t, GweiToWei(4), m.MaxPriorityFeePerUnit)
}
