// Package verdict holds the request and result types shared by the engine,
// storage, transport and export layers.
package verdict

import (
	"time"

	"github.com/oriphim/watcher/internal/constraint"
	"github.com/oriphim/watcher/internal/drift"
	"github.com/oriphim/watcher/internal/policy"
	"github.com/oriphim/watcher/internal/scoring"
)

// Snapshot is a known-good agent configuration that can be rewound to.
type Snapshot struct {
	SystemPrompt string         `json:"system_prompt" validate:"max=65536"`
	Context      map[string]any `json:"context,omitempty"`
	Variables    map[string]any `json:"variables,omitempty"`
}

// Request is one agent intent submitted for validation.
type Request struct {
	AgentID      string   `json:"agent_id,omitempty" validate:"required_with=StateSnapshot,max=128,agentid"`
	Intent       string   `json:"intent,omitempty" validate:"omitempty,max=4096"`
	DesiredState string   `json:"desired_state,omitempty" validate:"omitempty,max=4096"`
	Samples      []string `json:"samples" validate:"required,len=3,dive,max=65536"`

	constraint.Payload

	StateSnapshot *Snapshot `json:"state_snapshot,omitempty"`
}

// Severity groups per-violation details with their mean weight.
type Severity struct {
	Details []scoring.SeverityDetail `json:"details"`
	Overall float64                  `json:"overall"`
}

// Verdict is the immutable result of one validation.
type Verdict struct {
	RequestID      string                  `json:"request_id"`
	AgentID        string                  `json:"agent_id,omitempty"`
	Action         policy.Action           `json:"action"`
	StatusCode     int                     `json:"status_code"`
	Divergence     float64                 `json:"divergence_score"`
	Strategy       string                  `json:"divergence_strategy,omitempty"`
	Violations     []constraint.Violation  `json:"violations"`
	Confidence     scoring.ConfidenceScore `json:"confidence"`
	Severity       Severity                `json:"severity"`
	Drift          drift.Alert             `json:"drift"`
	Recommendation string                  `json:"recommendation"`
	ContextReset   bool                    `json:"context_reset"`
	LatencyMs      float64                 `json:"latency_ms"`
	Articles       []string                `json:"regulatory_articles,omitempty"`
	CreatedAt      time.Time               `json:"created_at"`
}

// AuditEvent is one append-only ledger entry.
type AuditEvent struct {
	ID         int64                  `json:"audit_id"`
	RequestID  string                 `json:"request_id"`
	AgentID    string                 `json:"agent_id,omitempty"`
	EventType  string                 `json:"event_type"`
	Violations []constraint.Violation `json:"violations"`
	Articles   []string               `json:"regulatory_articles"`
	Message    string                 `json:"message"`
	CreatedAt  time.Time              `json:"created_at"`
}

// SnapshotRecord is a stored Snapshot.
type SnapshotRecord struct {
	ID        int64  `json:"snapshot_id"`
	AgentID   string `json:"agent_id"`
	RequestID string `json:"request_id"`
	Snapshot
	Valid     bool      `json:"valid"`
	CreatedAt time.Time `json:"created_at"`
}
