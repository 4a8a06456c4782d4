package compliance

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/oriphim/watcher/internal/constraint"
)

func TestMapArticles(t *testing.T) {
	cases := []struct {
		name string
		in   []constraint.Violation
		want []string
	}{
		{"none falls back", nil, []string{"CA-SB243-Transparency", "EU-AIA-12-RecordKeeping"}},
		{"unknown falls back", []constraint.Violation{"Something odd"}, []string{"CA-SB243-Transparency", "EU-AIA-12-RecordKeeping"}},
		{"physics", []constraint.Violation{constraint.ConservationOfEnergy, constraint.TemperatureBelowZero}, []string{"EU-AIA-12-RecordKeeping"}},
		{"financial", []constraint.Violation{constraint.LeverageExceeded}, []string{"CA-SB243-FinancialSafety", "EU-AIA-14-HumanOversight"}},
		{
			"mixed with duplicates",
			[]constraint.Violation{constraint.VaRLossExceeded, constraint.NegativePressure, constraint.VaRLossExceeded},
			[]string{"CA-SB243-FinancialSafety", "EU-AIA-12-RecordKeeping", "EU-AIA-14-HumanOversight"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, MapArticles(tc.in))
		})
	}
}

func TestDefaultArticlesIsACopy(t *testing.T) {
	a := DefaultArticles()
	a[0] = "mutated"
	assert.Equal(t, EURecordKeeping, DefaultArticles()[0])
}

func TestBlockMessage(t *testing.T) {
	got := BlockMessage([]constraint.Violation{constraint.ConservationOfEnergy, constraint.LeverageExceeded})
	assert.Equal(t, "Execution blocked due to constraint violation: Conservation of Energy violated; Leverage ratio exceeds hard limit. Context reset required.", got)
}
