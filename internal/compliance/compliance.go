// Package compliance maps violation labels to regulatory article identifiers.
package compliance

import (
	"sort"

	"github.com/oriphim/watcher/internal/constraint"
)

const (
	EURecordKeeping     = "EU-AIA-12-RecordKeeping"
	EUHumanOversight    = "EU-AIA-14-HumanOversight"
	CAFinancialSafety   = "CA-SB243-FinancialSafety"
	CATransparency      = "CA-SB243-Transparency"
	EventBlocked        = "EXECUTION_BLOCKED"
	blockMessagePrefix  = "Execution blocked due to constraint violation: "
	blockMessageTrailer = ". Context reset required."
)

var euAIAct = map[constraint.Violation]string{
	constraint.ConservationOfEnergy: EURecordKeeping,
	constraint.TemperatureBelowZero: EURecordKeeping,
	constraint.NegativePressure:     EURecordKeeping,
	constraint.LeverageExceeded:     EUHumanOversight,
	constraint.VaRLossExceeded:      EUHumanOversight,
}

var caSB243 = map[constraint.Violation]string{
	constraint.LeverageExceeded: CAFinancialSafety,
	constraint.VaRLossExceeded:  CAFinancialSafety,
}

// DefaultArticles is used when no violation maps to a known article.
func DefaultArticles() []string {
	return []string{EURecordKeeping, CATransparency}
}

// MapArticles returns the sorted, deduplicated articles for violations.
func MapArticles(violations []constraint.Violation) []string {
	seen := make(map[string]struct{})
	for _, v := range violations {
		if a, ok := euAIAct[v]; ok {
			seen[a] = struct{}{}
		}
		if a, ok := caSB243[v]; ok {
			seen[a] = struct{}{}
		}
	}
	if len(seen) == 0 {
		for _, a := range DefaultArticles() {
			seen[a] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for a := range seen {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// BlockMessage renders the audit message for a blocked execution.
func BlockMessage(violations []constraint.Violation) string {
	msg := blockMessagePrefix
	for i, v := range violations {
		if i > 0 {
			msg += "; "
		}
		msg += string(v)
	}
	return msg + blockMessageTrailer
}
