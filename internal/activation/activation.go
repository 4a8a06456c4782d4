package activation

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/oriphim/watcher/internal/redact"
	"github.com/oriphim/watcher/internal/verdict"
)

const EventVersion = "1"

// Preview levels, from logging.activation_level.
const (
	LevelMetadata = "metadata"
	LevelRedacted = "redacted"
	LevelFull     = "full"
)

const previewLimit = 500

// Meta identifies who asked and how the verdict was computed.
type Meta struct {
	Tenant   string `json:"tenant,omitempty"`
	AgentID  string `json:"agent_id,omitempty"`
	Strategy string `json:"divergence_strategy,omitempty"`
	Mode     string `json:"mode"`
}

type Summary struct {
	Action       string   `json:"action"`
	StatusCode   int      `json:"status_code"`
	Blocked      bool     `json:"blocked"`
	ContextReset bool     `json:"context_reset"`
	Violations   []string `json:"violations"`
	Articles     []string `json:"regulatory_articles,omitempty"`
	Degraded     bool     `json:"degraded,omitempty"`
}

type Scores struct {
	Divergence      float64 `json:"divergence"`
	Confidence      float64 `json:"confidence"`
	RiskLevel       string  `json:"risk_level"`
	OverallSeverity float64 `json:"overall_severity"`
	DriftDetected   bool    `json:"drift_detected"`
	DriftZScore     float64 `json:"drift_z_score"`
}

// Preview carries request text, empty at the metadata level.
type Preview struct {
	Intent  string   `json:"intent,omitempty"`
	Samples []string `json:"samples,omitempty"`
}

type TimingMs struct {
	Total float64 `json:"total"`
}

// Event is the canonical verdict activation payload.
type Event struct {
	Version        string    `json:"version"`
	Timestamp      time.Time `json:"timestamp"`
	RequestID      string    `json:"request_id"`
	Meta           Meta      `json:"meta"`
	Summary        Summary   `json:"summary"`
	Scores         Scores    `json:"scores"`
	Recommendation string    `json:"recommendation"`
	Preview        Preview   `json:"preview"`
	TimingMs       TimingMs  `json:"timing_ms"`
}

// Modes.
const (
	ModeSync  = "sync"
	ModeAsync = "async"
	ModeCLI   = "cli"
)

// BuildParams collects inputs needed to assemble an activation event.
type BuildParams struct {
	Verdict      *verdict.Verdict
	Request      *verdict.Request
	Tenant       string
	Mode         string
	LoggingLevel string
	Degraded     bool
}

// BuildEvent creates an activation event from a verdict and its request.
func BuildEvent(p BuildParams) *Event {
	if p.Verdict == nil {
		return nil
	}
	v := p.Verdict

	mode := strings.TrimSpace(strings.ToLower(p.Mode))
	if mode == "" {
		mode = ModeSync
	}

	violations := make([]string, 0, len(v.Violations))
	for _, vi := range v.Violations {
		violations = append(violations, string(vi))
	}

	ts := v.CreatedAt
	if ts.IsZero() {
		ts = time.Now()
	}

	return &Event{
		Version:   EventVersion,
		Timestamp: ts.UTC(),
		RequestID: v.RequestID,
		Meta: Meta{
			Tenant:   p.Tenant,
			AgentID:  v.AgentID,
			Strategy: v.Strategy,
			Mode:     mode,
		},
		Summary: Summary{
			Action:       string(v.Action),
			StatusCode:   v.StatusCode,
			Blocked:      v.StatusCode == 424,
			ContextReset: v.ContextReset,
			Violations:   violations,
			Articles:     cloneStrings(v.Articles),
			Degraded:     p.Degraded,
		},
		Scores: Scores{
			Divergence:      v.Divergence,
			Confidence:      v.Confidence.Score,
			RiskLevel:       string(v.Confidence.RiskLevel),
			OverallSeverity: v.Severity.Overall,
			DriftDetected:   v.Drift.Detected,
			DriftZScore:     v.Drift.ZScore,
		},
		Recommendation: v.Recommendation,
		Preview:        buildPreview(p.LoggingLevel, p.Request),
		TimingMs:       TimingMs{Total: v.LatencyMs},
	}
}

func buildPreview(level string, req *verdict.Request) Preview {
	if req == nil {
		return Preview{}
	}
	var scrub func(string) string
	switch strings.ToLower(strings.TrimSpace(level)) {
	case LevelFull:
		scrub = redact.String
	case LevelRedacted:
		scrub = redact.PII
	default:
		return Preview{}
	}

	out := Preview{Intent: scrub(truncate(req.Intent, previewLimit))}
	if len(req.Samples) > 0 {
		out.Samples = make([]string, len(req.Samples))
		for i, s := range req.Samples {
			out.Samples[i] = scrub(truncate(s, previewLimit))
		}
	}
	return out
}

func cloneStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}
