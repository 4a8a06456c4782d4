// Package scoring turns divergence and constraint findings into a confidence
// tier and per-violation severity weights.
package scoring

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/oriphim/watcher/internal/constraint"
)

type RiskLevel string

const (
	RiskGreen  RiskLevel = "GREEN"
	RiskYellow RiskLevel = "YELLOW"
	RiskRed    RiskLevel = "RED"
)

const violationPenalty = 0.15

// ConfidenceScore is a bounded trust estimate for one request.
type ConfidenceScore struct {
	Score       float64   `json:"score"`
	RiskLevel   RiskLevel `json:"risk_level"`
	Explanation string    `json:"explanation"`
}

// Confidence computes max(0, (1-divergence) - 0.15*violations) rounded to 3 decimals.
func Confidence(divergence float64, violations int) ConfidenceScore {
	raw := (1 - divergence) - violationPenalty*float64(violations)
	if raw < 0 {
		raw = 0
	}
	// The tier follows the unrounded value; only the reported score is rounded.
	score, _ := decimal.NewFromFloat(raw).Round(3).Float64()

	switch {
	case raw >= 0.8:
		return ConfidenceScore{Score: score, RiskLevel: RiskGreen, Explanation: "High confidence. Safe to execute."}
	case raw >= 0.5:
		return ConfidenceScore{Score: score, RiskLevel: RiskYellow, Explanation: "Moderate confidence. Manual review recommended."}
	default:
		return ConfidenceScore{Score: score, RiskLevel: RiskRed, Explanation: "Low confidence. DO NOT EXECUTE."}
	}
}

// Limits holds the hard limit per rule key. Rules with a zero limit are scored
// on the raw magnitude of the measured value.
var Limits = map[string]float64{
	constraint.RuleLeverage:     10,
	constraint.RuleProposedLoss: -10000,
	constraint.RuleVaR:          -10000,
	constraint.RuleTemperature:  0,
	constraint.RulePressure:     0,
	constraint.RuleEnergy:       0,
}

const (
	WeightMinor    = 1.0
	WeightMedium   = 2.0
	WeightCritical = 4.0
)

// SeverityDetail rates how far one violation exceeds its limit.
type SeverityDetail struct {
	Violation         string  `json:"name"`
	SeverityPct       float64 `json:"severity_pct"`
	Weight            float64 `json:"weight"`
	ImpactDescription string  `json:"impact_description"`
}

// Severity scores a violation. A nil limit is resolved from Limits by rule,
// falling back to zero for unknown rules.
func Severity(violation, rule string, actual float64, limit *float64) SeverityDetail {
	var lim float64
	if limit != nil {
		lim = *limit
	} else {
		lim = Limits[rule]
	}

	var pct float64
	if lim == 0 {
		pct = math.Abs(actual) * 100
	} else {
		pct = math.Abs(actual-lim) / math.Abs(lim) * 100
	}

	weight, impact := WeightCritical, "Critical"
	switch {
	case pct < 25:
		weight, impact = WeightMinor, "Minor"
	case pct < 100:
		weight, impact = WeightMedium, "Medium"
	}

	return SeverityDetail{
		Violation:   violation,
		SeverityPct: pct,
		Weight:      weight,
		ImpactDescription: fmt.Sprintf("%s violation: %.1f%% over limit (actual=%s, limit=%s)",
			impact, pct, formatNumber(actual), formatNumber(lim)),
	}
}

// FindingSeverity scores a constraint finding against the static limit table.
func FindingSeverity(f constraint.Finding) SeverityDetail {
	return Severity(string(f.Violation), f.Rule, f.Actual, nil)
}

// OverallSeverity is the mean weight, 0 when there are no details.
func OverallSeverity(details []SeverityDetail) float64 {
	if len(details) == 0 {
		return 0
	}
	var sum float64
	for _, d := range details {
		sum += d.Weight
	}
	return sum / float64(len(details))
}

// formatNumber prints integral values with a trailing ".0" so descriptions read
// "actual=50.0" rather than "actual=50".
func formatNumber(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if math.IsInf(v, 0) || math.IsNaN(v) || strings.ContainsAny(s, ".e") {
		return s
	}
	return s + ".0"
}
