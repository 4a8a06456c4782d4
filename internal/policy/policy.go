// Package policy fuses validation signals into a single action.
package policy

import (
	"net/http"
	"time"
)

// Action is the verdict handed back to the calling agent.
type Action string

const (
	ActionAllow   Action = "ALLOW"
	ActionReview  Action = "REVIEW"
	ActionBlock   Action = "BLOCK"
	ActionCaution Action = "CAUTION"
)

const (
	RecommendAllow        = "Safe to execute"
	RecommendCaution      = "Latency guard triggered; caution flagged for downstream review."
	RecommendCriticalNone = "Critical violation detected"
	recommendReviewPrefix = "Manual review recommended. Confidence: "
)

// Thresholds tune the decision. Zero values fall back to the defaults.
type Thresholds struct {
	LatencyGuard        time.Duration
	DivergenceThreshold float64
	BlockSeverity       float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		LatencyGuard:        200 * time.Millisecond,
		DivergenceThreshold: 0.4,
		BlockSeverity:       3.0,
	}
}

func (t Thresholds) withDefaults() Thresholds {
	d := DefaultThresholds()
	if t.LatencyGuard <= 0 {
		t.LatencyGuard = d.LatencyGuard
	}
	if t.DivergenceThreshold <= 0 {
		t.DivergenceThreshold = d.DivergenceThreshold
	}
	if t.BlockSeverity <= 0 {
		t.BlockSeverity = d.BlockSeverity
	}
	return t
}

// Signals are the computed inputs of one request.
type Signals struct {
	Elapsed         time.Duration
	Divergence      float64
	Violations      int
	OverallSeverity float64
	// FirstImpact is the impact description of the first severity detail, if any.
	FirstImpact string
	RiskLevel   string
}

// Decision is the outcome of Decide.
type Decision struct {
	Action         Action
	StatusCode     int
	Recommendation string
	ContextReset   bool
}

// Decide applies, in strict priority order: the latency guard, then the
// violation/divergence gate split by severity, then allow.
func Decide(th Thresholds, s Signals) Decision {
	th = th.withDefaults()

	if s.Elapsed > th.LatencyGuard {
		return Decision{
			Action:         ActionCaution,
			StatusCode:     http.StatusAccepted,
			Recommendation: RecommendCaution,
		}
	}

	if s.Violations > 0 || s.Divergence > th.DivergenceThreshold {
		if s.OverallSeverity >= th.BlockSeverity {
			rec := s.FirstImpact
			if rec == "" {
				rec = RecommendCriticalNone
			}
			return Decision{
				Action:         ActionBlock,
				StatusCode:     http.StatusFailedDependency,
				Recommendation: rec,
				ContextReset:   true,
			}
		}
		return Decision{
			Action:         ActionReview,
			StatusCode:     http.StatusBadRequest,
			Recommendation: recommendReviewPrefix + s.RiskLevel,
		}
	}

	return Decision{
		Action:         ActionAllow,
		StatusCode:     http.StatusOK,
		Recommendation: RecommendAllow,
	}
}
