package constraint

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
)

// Violation is a label from the fixed rule catalogue.
type Violation string

const (
	ConservationOfEnergy Violation = "Conservation of Energy violated"
	VaRLossExceeded      Violation = "VaR loss threshold exceeded"
	TemperatureBelowZero Violation = "Temperature below absolute zero"
	NegativePressure     Violation = "Negative pressure is invalid for this model"
	LeverageExceeded     Violation = "Leverage ratio exceeds hard limit"
)

// Rule keys, shared with the severity limit table.
const (
	RuleEnergy       = "energy_in_vs_out"
	RuleProposedLoss = "proposed_loss"
	RuleTemperature  = "temperature"
	RulePressure     = "pressure"
	RuleLeverage     = "leverage_ratio"
	RuleVaR          = "var"
)

const (
	varLossLimit  = -10000.0
	leverageLimit = 10.0
)

var ErrInvalidPayload = errors.New("invalid payload")

// PhysicsPayload carries energy balance inputs.
type PhysicsPayload struct {
	EnergyIn  float64 `json:"energy_in" yaml:"energy_in"`
	EnergyOut float64 `json:"energy_out" yaml:"energy_out"`
}

// FinancialPayload carries a proposed signed loss.
type FinancialPayload struct {
	ProposedLoss float64 `json:"proposed_loss" yaml:"proposed_loss"`
}

// Payload is the structured domain input evaluated against the rule catalogue.
type Payload struct {
	Physics   *PhysicsPayload    `json:"physics,omitempty"`
	Financial *FinancialPayload  `json:"financial,omitempty"`
	Metrics   map[string]float64 `json:"metrics,omitempty"`
}

// Finding is a violation together with the rule that raised it and the measured value.
type Finding struct {
	Violation Violation `json:"violation"`
	Rule      string    `json:"rule"`
	Actual    float64   `json:"actual"`
}

// Validate rejects payloads the rules cannot be evaluated against.
func (p Payload) Validate() error {
	if p.Physics != nil {
		if !finite(p.Physics.EnergyIn) || !finite(p.Physics.EnergyOut) {
			return fmt.Errorf("%w: physics values must be finite", ErrInvalidPayload)
		}
		if p.Physics.EnergyIn < 0 {
			return fmt.Errorf("%w: energy_in must be >= 0", ErrInvalidPayload)
		}
		if p.Physics.EnergyOut < 0 {
			return fmt.Errorf("%w: energy_out must be >= 0", ErrInvalidPayload)
		}
	}
	if p.Financial != nil && !finite(p.Financial.ProposedLoss) {
		return fmt.Errorf("%w: proposed_loss must be finite", ErrInvalidPayload)
	}
	for k, v := range p.Metrics {
		if !finite(v) {
			return fmt.Errorf("%w: metric %q must be finite", ErrInvalidPayload, k)
		}
	}
	return nil
}

var aliases = map[string]string{
	"temp":           RuleTemperature,
	"kelvin":         RuleTemperature,
	"pascal":         RulePressure,
	"pa":             RulePressure,
	"leverage":       RuleLeverage,
	"debt_to_equity": RuleLeverage,
	"value_at_risk":  RuleVaR,
	"proposed_loss":  RuleVaR,
}

// CanonicalMetric trims, lowers and resolves synonyms of a metric name.
func CanonicalMetric(name string) string {
	key := strings.ToLower(strings.TrimSpace(name))
	if canon, ok := aliases[key]; ok {
		return canon
	}
	return key
}

type metricRule struct {
	violated  func(float64) bool
	violation Violation
}

var metricRules = map[string]metricRule{
	RuleTemperature: {violated: func(v float64) bool { return v < 0 }, violation: TemperatureBelowZero},
	RulePressure:    {violated: func(v float64) bool { return v < 0 }, violation: NegativePressure},
	RuleLeverage:    {violated: func(v float64) bool { return v > leverageLimit }, violation: LeverageExceeded},
	RuleVaR:         {violated: func(v float64) bool { return v < varLossLimit }, violation: VaRLossExceeded},
}

// Check runs every rule against the payload and returns findings in discovery order.
// A VaR breach reported through both the financial payload and the metric map
// appears twice.
func Check(p Payload) []Finding {
	var out []Finding

	if p.Physics != nil && p.Physics.EnergyOut > p.Physics.EnergyIn {
		out = append(out, Finding{
			Violation: ConservationOfEnergy,
			Rule:      RuleEnergy,
			Actual:    p.Physics.EnergyOut - p.Physics.EnergyIn,
		})
	}

	if p.Financial != nil && p.Financial.ProposedLoss < varLossLimit {
		out = append(out, Finding{
			Violation: VaRLossExceeded,
			Rule:      RuleProposedLoss,
			Actual:    p.Financial.ProposedLoss,
		})
	}

	for _, m := range sortedMetrics(p.Metrics) {
		rule, ok := metricRules[m.canonical]
		if !ok || !rule.violated(m.value) {
			continue
		}
		out = append(out, Finding{
			Violation: rule.violation,
			Rule:      m.canonical,
			Actual:    m.value,
		})
	}

	return out
}

// Violations projects findings onto their labels, keeping order and duplicates.
func Violations(findings []Finding) []Violation {
	if len(findings) == 0 {
		return []Violation{}
	}
	out := make([]Violation, len(findings))
	for i, f := range findings {
		out[i] = f.Violation
	}
	return out
}

// Strings converts violations to plain strings.
func Strings(vs []Violation) []string {
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = string(v)
	}
	return out
}

type metric struct {
	raw       string
	canonical string
	value     float64
}

// sortedMetrics orders metrics by canonical then raw name so Check is stable
// regardless of map iteration order.
func sortedMetrics(in map[string]float64) []metric {
	if len(in) == 0 {
		return nil
	}
	out := make([]metric, 0, len(in))
	for k, v := range in {
		out = append(out, metric{raw: k, canonical: CanonicalMetric(k), value: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].canonical != out[j].canonical {
			return out[i].canonical < out[j].canonical
		}
		return out[i].raw < out[j].raw
	})
	return out
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
