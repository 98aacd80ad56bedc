package stability

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectMonoculture(t *testing.T) {
	assert.False(t, DetectMonoculture(nil).Detected)

	balanced := map[string]int{"physics": 3, "history": 3, "biology": 4}
	assert.False(t, DetectMonoculture(balanced).Detected)

	skewed := map[string]int{"physics": 8, "history": 1, "biology": 1}
	d := DetectMonoculture(skewed)
	assert.True(t, d.Detected)
	assert.InDelta(t, 0.8, d.Score, 1e-9)
	assert.Equal(t, TypeMonoculture, d.Type)
	assert.Contains(t, d.Detail, "physics")
}

func TestDetectTransferOveruse(t *testing.T) {
	assert.False(t, DetectTransferOveruse(0, 0).Detected)
	assert.False(t, DetectTransferOveruse(5, 10).Detected)
	d := DetectTransferOveruse(6, 10)
	assert.True(t, d.Detected)
	assert.InDelta(t, 0.6, d.Score, 1e-9)
}

func TestDetectEconomicBias(t *testing.T) {
	assert.False(t, DetectEconomicBias(4, 10).Detected)
	d := DetectEconomicBias(5, 10)
	assert.True(t, d.Detected)
	assert.Equal(t, TypeEconomicBias, d.Type)
}

func TestDetectAttentionCollapse(t *testing.T) {
	assert.False(t, DetectAttentionCollapse(nil).Detected)

	spread := map[string]float64{"a": 1, "b": 1, "c": 1, "d": 1, "e": 1}
	assert.False(t, DetectAttentionCollapse(spread).Detected)

	collapsed := map[string]float64{"a": 90, "b": 3, "c": 3, "d": 2, "e": 2}
	d := DetectAttentionCollapse(collapsed)
	assert.True(t, d.Detected)
	assert.GreaterOrEqual(t, d.Score, 0.8)
}

func TestMonitorAccumulatesAndAlerts(t *testing.T) {
	m := NewMonitor(nil)
	for i := 0; i < 9; i++ {
		m.RecordKnowledge("physics")
	}
	m.RecordKnowledge("history")
	for i := 0; i < 10; i++ {
		m.RecordLearning(i < 7) // 70% transfer
		m.RecordDecision(i < 2) // 20% economic
	}

	detections := m.DetectAll()
	require.Len(t, detections, 4)

	byType := map[string]Detection{}
	for _, d := range detections {
		byType[d.Type] = d
	}
	assert.True(t, byType[TypeMonoculture].Detected)
	assert.True(t, byType[TypeTransferOveruse].Detected)
	assert.False(t, byType[TypeEconomicBias].Detected)
	assert.False(t, byType[TypeAttentionCollapse].Detected)

	// Only positive detections land in the alert ring.
	assert.Len(t, m.Alerts(), 2)
}

func TestGenerateFromFailure(t *testing.T) {
	m := NewMonitor(nil)
	gen := m.GenerateFromFailure(Failure{
		Source:   "atlas",
		Kind:     "verified_uncited_fact",
		Detail:   "a VERIFIED DTU carried an unsourced FACT claim",
		Observed: "dtu with unsourced fact at VERIFIED",
		Expected: "gate rejects promotion",
	})

	assert.Contains(t, gen.Test.Name, "atlas")
	assert.Equal(t, "must", gen.Constraint.Severity)
	assert.Equal(t, "block_and_alert", gen.Guardrail.Action)

	assert.Len(t, m.Tests(), 1)
	assert.Len(t, m.Constraints(), 1)
	assert.Len(t, m.Guardrails(), 1)
}

func TestRingsCapped(t *testing.T) {
	m := NewMonitor(nil)
	for i := 0; i < ringCap+50; i++ {
		m.GenerateFromFailure(Failure{Source: "s", Kind: fmt.Sprintf("k%d", i)})
	}
	assert.Len(t, m.Tests(), ringCap)
	assert.Len(t, m.Constraints(), ringCap)
	assert.Len(t, m.Guardrails(), ringCap)

	// Oldest entries were evicted.
	assert.Contains(t, m.Tests()[0].Name, "k50")
}
