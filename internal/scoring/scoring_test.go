package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oriphim/watcher/internal/constraint"
)

func TestConfidenceTiers(t *testing.T) {
	cases := []struct {
		name       string
		divergence float64
		violations int
		score      float64
		level      RiskLevel
		text       string
	}{
		{"clean", 0, 0, 1, RiskGreen, "High confidence. Safe to execute."},
		{"green boundary", 0.2, 0, 0.8, RiskGreen, "High confidence. Safe to execute."},
		{"yellow", 0.1, 1, 0.75, RiskYellow, "Moderate confidence. Manual review recommended."},
		{"yellow boundary", 0.5, 0, 0.5, RiskYellow, "Moderate confidence. Manual review recommended."},
		{"red", 0.6, 0, 0.4, RiskRed, "Low confidence. DO NOT EXECUTE."},
		{"floored", 0.9, 3, 0, RiskRed, "Low confidence. DO NOT EXECUTE."},
		{"rounded", 0.12345, 0, 0.877, RiskGreen, "High confidence. Safe to execute."},
		{"rounds up to green but tiers yellow", 0.0504, 1, 0.8, RiskYellow, "Moderate confidence. Manual review recommended."},
		{"rounds up to yellow but tiers red", 0.5004, 0, 0.5, RiskRed, "Low confidence. DO NOT EXECUTE."},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Confidence(tc.divergence, tc.violations)
			assert.InDelta(t, tc.score, got.Score, 1e-9)
			assert.Equal(t, tc.level, got.RiskLevel)
			assert.Equal(t, tc.text, got.Explanation)
		})
	}
}

func TestConfidenceIsNonIncreasing(t *testing.T) {
	prev := Confidence(0, 0).Score
	for d := 0.0; d <= 1.0; d += 0.01 {
		s := Confidence(d, 0).Score
		require.LessOrEqual(t, s, prev)
		require.GreaterOrEqual(t, s, 0.0)
		prev = s
	}
	prev = Confidence(0.1, 0).Score
	for n := 1; n < 10; n++ {
		s := Confidence(0.1, n).Score
		require.LessOrEqual(t, s, prev)
		require.GreaterOrEqual(t, s, 0.0)
		prev = s
	}
}

func TestSeverityWeights(t *testing.T) {
	cases := []struct {
		name   string
		rule   string
		actual float64
		pct    float64
		weight float64
		desc   string
	}{
		{"leverage minor", constraint.RuleLeverage, 12, 20, WeightMinor,
			"Minor violation: 20.0% over limit (actual=12.0, limit=10.0)"},
		{"leverage medium", constraint.RuleLeverage, 15, 50, WeightMedium,
			"Medium violation: 50.0% over limit (actual=15.0, limit=10.0)"},
		{"leverage critical", constraint.RuleLeverage, 50, 400, WeightCritical,
			"Critical violation: 400.0% over limit (actual=50.0, limit=10.0)"},
		{"loss at double", constraint.RuleProposedLoss, -20000, 100, WeightCritical,
			"Critical violation: 100.0% over limit (actual=-20000.0, limit=-10000.0)"},
		{"zero limit small magnitude", constraint.RuleTemperature, -0.1, 10, WeightMinor,
			"Minor violation: 10.0% over limit (actual=-0.1, limit=0.0)"},
		{"zero limit energy excess", constraint.RuleEnergy, 50, 5000, WeightCritical,
			"Critical violation: 5000.0% over limit (actual=50.0, limit=0.0)"},
		{"unknown rule uses zero", "mystery", 0, 0, WeightMinor,
			"Minor violation: 0.0% over limit (actual=0.0, limit=0.0)"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Severity("label", tc.rule, tc.actual, nil)
			assert.InDelta(t, tc.pct, got.SeverityPct, 1e-9)
			assert.Equal(t, tc.weight, got.Weight)
			assert.Equal(t, tc.desc, got.ImpactDescription)
			assert.Equal(t, "label", got.Violation)
		})
	}
}

func TestSeverityExplicitLimit(t *testing.T) {
	limit := 100.0
	got := Severity("custom", constraint.RuleLeverage, 110, &limit)
	assert.InDelta(t, 10, got.SeverityPct, 1e-9)
	assert.Equal(t, WeightMinor, got.Weight)
}

func TestFindingSeverity(t *testing.T) {
	d := FindingSeverity(constraint.Finding{
		Violation: constraint.LeverageExceeded,
		Rule:      constraint.RuleLeverage,
		Actual:    50,
	})
	assert.Equal(t, string(constraint.LeverageExceeded), d.Violation)
	assert.Equal(t, WeightCritical, d.Weight)
}

func TestOverallSeverity(t *testing.T) {
	assert.Equal(t, 0.0, OverallSeverity(nil))
	assert.Equal(t, 4.0, OverallSeverity([]SeverityDetail{{Weight: 4}}))
	assert.InDelta(t, 7.0/3.0, OverallSeverity([]SeverityDetail{{Weight: 1}, {Weight: 2}, {Weight: 4}}), 1e-12)
}
