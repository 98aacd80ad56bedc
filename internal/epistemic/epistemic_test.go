package epistemic

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		text       string
		tags       []string
		confidence float64
		want       Layer
	}{
		{"axiom marker high confidence", "axiom: parallel lines never meet", nil, 0.95, LayerHardKernel},
		{"law tag", "energy is conserved", []string{"law"}, 0.9, LayerHardKernel},
		{"axiom marker low confidence stays out of kernel", "axiom of choice applies here", nil, 0.5, LayerSoftBelief},
		{"hypothesis marker", "hypothesis: dark matter is axionic", nil, 0.9, LayerSpeculative},
		{"hedge word", "this might explain the anomaly", nil, 0.7, LayerSpeculative},
		{"low confidence", "water boils at 100C", nil, 0.1, LayerSpeculative},
		{"plain belief", "water boils at 100C at sea level", nil, 0.7, LayerSoftBelief},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.text, tt.tags, tt.confidence))
		})
	}
}

func TestDecay(t *testing.T) {
	// Hard kernel never decays.
	assert.Equal(t, 0.9, Decay(0.9, LayerHardKernel, 24*time.Hour))

	// Soft belief: 0.01/min over 10 minutes ~ e^-0.1.
	soft := Decay(1.0, LayerSoftBelief, 10*time.Minute)
	assert.InDelta(t, 0.9048, soft, 0.001)

	// Speculative decays fastest.
	spec := Decay(1.0, LayerSpeculative, 10*time.Minute)
	assert.Less(t, spec, soft)

	// No time, no decay.
	assert.Equal(t, 0.5, Decay(0.5, LayerSpeculative, 0))
}

func TestContradicts(t *testing.T) {
	assert.True(t, Contradicts(
		"light speed is constant in vacuum",
		"light speed is not constant in vacuum"))

	// Both negated: no delta.
	assert.False(t, Contradicts("this is not true", "that is not true"))

	// Negation but no subject overlap.
	assert.False(t, Contradicts(
		"birds migrate south every winter",
		"quantum tunneling is not classical"))
}

func TestCheckPromotionHardKernelIntolerance(t *testing.T) {
	k := NewKernel()
	k.Admit("hk-1", "axiom: light speed is constant in vacuum", nil, 0.97)
	require.Equal(t, 1, k.HardKernelSize())

	// Contradicting claim is blocked regardless of its own confidence.
	check := k.CheckPromotion("light speed is not constant in vacuum", nil, 0.99)
	assert.False(t, check.Allowed)
	assert.Equal(t, []string{"hk-1"}, check.ContradictsWith)

	// Unrelated claim at threshold passes.
	check = k.CheckPromotion("entropy increases in closed systems", nil, 0.7)
	assert.True(t, check.Allowed)
	assert.Equal(t, LayerSoftBelief, check.Layer)
}

func TestCheckPromotionBelowThreshold(t *testing.T) {
	k := NewKernel()
	check := k.CheckPromotion("entropy increases in closed systems", nil, 0.4)
	assert.False(t, check.Allowed)
	assert.Equal(t, 0.6, check.Threshold)
}

func TestCurrentConfidenceDecays(t *testing.T) {
	k := NewKernel()
	base := time.Unix(50000, 0)
	k.SetClock(func() time.Time { return base })
	k.Admit("b-1", "the cache hit rate is stable", nil, 1.0)

	k.SetClock(func() time.Time { return base.Add(10 * time.Minute) })
	conf, ok := k.CurrentConfidence("b-1")
	require.True(t, ok)
	assert.InDelta(t, 0.9048, conf, 0.001)

	_, ok = k.CurrentConfidence("missing")
	assert.False(t, ok)
}

func TestValidUnit(t *testing.T) {
	assert.True(t, ValidUnit("kg"))
	assert.True(t, ValidUnit("m/s^2"))
	assert.True(t, ValidUnit("custom:widgets"))
	assert.False(t, ValidUnit("custom:"))
	assert.False(t, ValidUnit("furlongs"))
	assert.False(t, ValidUnit(""))
}

func TestRealityCheckDimensions(t *testing.T) {
	// Add with matching units passes.
	res := RealityCheck(RealityInput{Operations: []Operation{
		{Op: "add", Operands: []Quantity{{1, "m"}, {2, "m"}}},
	}})
	assert.True(t, res.Valid)
	assert.Equal(t, []string{"m"}, res.ResultUnits)

	// Add with mismatched units fails and blocks promotion.
	res = RealityCheck(RealityInput{Operations: []Operation{
		{Op: "add", Operands: []Quantity{{1, "m"}, {2, "s"}}},
	}})
	assert.False(t, res.Valid)
	assert.True(t, res.BlockPromotion)
	assert.False(t, res.AutoOpenDispute)

	// Multiply and divide combine symbolically.
	res = RealityCheck(RealityInput{Operations: []Operation{
		{Op: "multiply", Operands: []Quantity{{1, "kg"}, {2, "m"}}},
		{Op: "divide", Operands: []Quantity{{1, "m"}, {2, "s"}}},
	}})
	assert.True(t, res.Valid)
	assert.Equal(t, []string{"kg*m", "m/s"}, res.ResultUnits)
}

func TestRealityCheckBounds(t *testing.T) {
	res := RealityCheck(RealityInput{Bounds: []Bound{
		{Variable: "x", Relation: ">", Value: 5},
		{Variable: "x", Relation: "<", Value: 3},
	}})
	assert.False(t, res.Valid)
	require.Len(t, res.Violations, 1)
	assert.Contains(t, res.Violations[0], "contradictory bounds")

	// Compatible bounds pass.
	res = RealityCheck(RealityInput{Bounds: []Bound{
		{Variable: "x", Relation: ">=", Value: 0},
		{Variable: "x", Relation: "<=", Value: 1},
	}})
	assert.True(t, res.Valid)

	// Conflicting equalities collapse.
	res = RealityCheck(RealityInput{Bounds: []Bound{
		{Variable: "c", Relation: "=", Value: 299792458},
		{Variable: "c", Relation: "=", Value: 300000000},
	}})
	assert.False(t, res.Valid)
}

func TestRealityCheckHardContradictionOpensDispute(t *testing.T) {
	res := RealityCheck(RealityInput{HardContradiction: true})
	assert.True(t, res.Valid) // no unit/bound violations
	assert.True(t, res.BlockPromotion)
	assert.True(t, res.AutoOpenDispute)
}
