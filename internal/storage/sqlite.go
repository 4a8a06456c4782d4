package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/oriphim/watcher/internal/constraint"
	"github.com/oriphim/watcher/internal/drift"
	"github.com/oriphim/watcher/internal/policy"
	"github.com/oriphim/watcher/internal/scoring"
	"github.com/oriphim/watcher/internal/verdict"
)

const schema = `
CREATE TABLE IF NOT EXISTS requests (
	request_id     TEXT PRIMARY KEY,
	agent_id       TEXT,
	intent         TEXT,
	desired_state  TEXT,
	samples_json   TEXT,
	payload_json   TEXT,
	created_at     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS validation_results (
	request_id        TEXT PRIMARY KEY,
	agent_id          TEXT,
	status_code       INTEGER NOT NULL,
	action            TEXT NOT NULL,
	divergence_score  REAL NOT NULL,
	strategy          TEXT,
	violations_json   TEXT NOT NULL,
	confidence_json   TEXT NOT NULL,
	severity_json     TEXT NOT NULL,
	drift_json        TEXT NOT NULL,
	articles_json     TEXT,
	recommendation    TEXT NOT NULL,
	context_reset     INTEGER NOT NULL,
	latency_ms        REAL NOT NULL,
	created_at        TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS audit_log (
	audit_id                  INTEGER PRIMARY KEY AUTOINCREMENT,
	request_id                TEXT,
	agent_id                  TEXT,
	event_type                TEXT NOT NULL,
	violations_json           TEXT NOT NULL,
	regulatory_articles_json  TEXT NOT NULL,
	message                   TEXT NOT NULL,
	created_at                TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS state_snapshots (
	snapshot_id     INTEGER PRIMARY KEY AUTOINCREMENT,
	agent_id        TEXT NOT NULL,
	request_id      TEXT,
	system_prompt   TEXT,
	context_json    TEXT,
	variables_json  TEXT,
	valid           INTEGER NOT NULL,
	created_at      TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_agent ON audit_log(agent_id, audit_id);
CREATE INDEX IF NOT EXISTS idx_snapshots_agent ON state_snapshots(agent_id, valid, snapshot_id);
`

// SQLiteStore implements Store on a single SQLite file.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (creating if needed) the database at path and migrates it.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("sqlite path is empty")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// A single connection serializes writers and keeps :memory: databases shared.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma busy_timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) PersistRequest(ctx context.Context, requestID string, req *verdict.Request) error {
	if req == nil {
		return errors.New("request is nil")
	}
	samplesJSON, err := json.Marshal(req.Samples)
	if err != nil {
		return fmt.Errorf("marshal samples: %w", err)
	}
	payloadJSON, err := json.Marshal(req.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO requests
		 (request_id, agent_id, intent, desired_state, samples_json, payload_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		requestID, nullIfEmpty(req.AgentID), nullIfEmpty(req.Intent), nullIfEmpty(req.DesiredState),
		string(samplesJSON), string(payloadJSON), s.timestamp(),
	)
	if err != nil {
		return fmt.Errorf("insert request: %w", err)
	}
	return nil
}

func (s *SQLiteStore) PersistVerdict(ctx context.Context, v *verdict.Verdict) error {
	if v == nil {
		return errors.New("verdict is nil")
	}
	cols, err := marshalVerdict(v)
	if err != nil {
		return err
	}
	created := v.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	reset := 0
	if v.ContextReset {
		reset = 1
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO validation_results
		 (request_id, agent_id, status_code, action, divergence_score, strategy, violations_json,
		  confidence_json, severity_json, drift_json, articles_json, recommendation, context_reset,
		  latency_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.RequestID, nullIfEmpty(v.AgentID), v.StatusCode, string(v.Action), v.Divergence, nullIfEmpty(v.Strategy),
		cols.violations, cols.confidence, cols.severity, cols.drift, cols.articles, v.Recommendation, reset,
		v.LatencyMs, created.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert verdict: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetVerdict(ctx context.Context, requestID string) (*verdict.Verdict, error) {
	var (
		v                                                    verdict.Verdict
		agentID, strategy, articlesJSON                      sql.NullString
		action, violationsJSON, confJSON, sevJSON, driftJSON string
		createdStr                                           string
		reset                                                int
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT request_id, agent_id, status_code, action, divergence_score, strategy, violations_json,
		        confidence_json, severity_json, drift_json, articles_json, recommendation, context_reset,
		        latency_ms, created_at
		 FROM validation_results WHERE request_id = ?`, requestID,
	).Scan(&v.RequestID, &agentID, &v.StatusCode, &action, &v.Divergence, &strategy, &violationsJSON,
		&confJSON, &sevJSON, &driftJSON, &articlesJSON, &v.Recommendation, &reset,
		&v.LatencyMs, &createdStr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get verdict: %w", err)
	}

	v.AgentID = agentID.String
	v.Strategy = strategy.String
	v.Action = policy.Action(action)
	v.ContextReset = reset != 0
	v.CreatedAt = parseTime(createdStr)

	var (
		conf scoring.ConfidenceScore
		sev  verdict.Severity
		dr   drift.Alert
	)
	if err := json.Unmarshal([]byte(violationsJSON), &v.Violations); err != nil {
		return nil, fmt.Errorf("unmarshal violations: %w", err)
	}
	if err := json.Unmarshal([]byte(confJSON), &conf); err != nil {
		return nil, fmt.Errorf("unmarshal confidence: %w", err)
	}
	if err := json.Unmarshal([]byte(sevJSON), &sev); err != nil {
		return nil, fmt.Errorf("unmarshal severity: %w", err)
	}
	if err := json.Unmarshal([]byte(driftJSON), &dr); err != nil {
		return nil, fmt.Errorf("unmarshal drift: %w", err)
	}
	if articlesJSON.Valid && articlesJSON.String != "" {
		if err := json.Unmarshal([]byte(articlesJSON.String), &v.Articles); err != nil {
			return nil, fmt.Errorf("unmarshal articles: %w", err)
		}
	}
	v.Confidence, v.Severity, v.Drift = conf, sev, dr
	return &v, nil
}

func (s *SQLiteStore) AppendAuditEvent(ctx context.Context, ev verdict.AuditEvent) (int64, error) {
	violations := ev.Violations
	if violations == nil {
		violations = []constraint.Violation{}
	}
	articles := ev.Articles
	if articles == nil {
		articles = []string{}
	}
	violationsJSON, err := json.Marshal(violations)
	if err != nil {
		return 0, fmt.Errorf("marshal violations: %w", err)
	}
	articlesJSON, err := json.Marshal(articles)
	if err != nil {
		return 0, fmt.Errorf("marshal articles: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log
		 (request_id, agent_id, event_type, violations_json, regulatory_articles_json, message, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		nullIfEmpty(ev.RequestID), nullIfEmpty(ev.AgentID), ev.EventType,
		string(violationsJSON), string(articlesJSON), ev.Message, s.timestamp(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert audit event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("audit event id: %w", err)
	}
	return id, nil
}

func (s *SQLiteStore) ListAuditEvents(ctx context.Context, agentID string) ([]verdict.AuditEvent, error) {
	query := `SELECT audit_id, request_id, agent_id, event_type, violations_json,
	                 regulatory_articles_json, message, created_at
	          FROM audit_log`
	var args []any
	if agentID != "" {
		query += ` WHERE agent_id = ?`
		args = append(args, agentID)
	}
	query += ` ORDER BY audit_id DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	out := []verdict.AuditEvent{}
	for rows.Next() {
		var (
			ev                   verdict.AuditEvent
			reqID, agent         sql.NullString
			violations, articles string
			createdStr           string
		)
		if err := rows.Scan(&ev.ID, &reqID, &agent, &ev.EventType, &violations, &articles, &ev.Message, &createdStr); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		ev.RequestID = reqID.String
		ev.AgentID = agent.String
		ev.CreatedAt = parseTime(createdStr)
		if err := json.Unmarshal([]byte(violations), &ev.Violations); err != nil {
			return nil, fmt.Errorf("unmarshal violations: %w", err)
		}
		if err := json.Unmarshal([]byte(articles), &ev.Articles); err != nil {
			return nil, fmt.Errorf("unmarshal articles: %w", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) PersistSnapshot(ctx context.Context, agentID, requestID string, snap verdict.Snapshot, valid bool) (int64, error) {
	if agentID == "" {
		return 0, errors.New("snapshot agent id is empty")
	}
	ctxJSON, err := json.Marshal(emptyIfNil(snap.Context))
	if err != nil {
		return 0, fmt.Errorf("marshal context: %w", err)
	}
	varsJSON, err := json.Marshal(emptyIfNil(snap.Variables))
	if err != nil {
		return 0, fmt.Errorf("marshal variables: %w", err)
	}
	validInt := 0
	if valid {
		validInt = 1
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO state_snapshots
		 (agent_id, request_id, system_prompt, context_json, variables_json, valid, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		agentID, nullIfEmpty(requestID), snap.SystemPrompt, string(ctxJSON), string(varsJSON), validInt, s.timestamp(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert snapshot: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("snapshot id: %w", err)
	}
	return id, nil
}

func (s *SQLiteStore) GetLatestValidSnapshot(ctx context.Context, agentID string) (*verdict.SnapshotRecord, error) {
	var (
		rec               verdict.SnapshotRecord
		reqID, prompt     sql.NullString
		ctxJSON, varsJSON sql.NullString
		createdStr        string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT snapshot_id, agent_id, request_id, system_prompt, context_json, variables_json, created_at
		 FROM state_snapshots
		 WHERE agent_id = ? AND valid = 1
		 ORDER BY snapshot_id DESC LIMIT 1`, agentID,
	).Scan(&rec.ID, &rec.AgentID, &reqID, &prompt, &ctxJSON, &varsJSON, &createdStr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshot: %w", err)
	}
	rec.RequestID = reqID.String
	rec.SystemPrompt = prompt.String
	rec.Valid = true
	rec.CreatedAt = parseTime(createdStr)
	if ctxJSON.Valid && ctxJSON.String != "" {
		if err := json.Unmarshal([]byte(ctxJSON.String), &rec.Context); err != nil {
			return nil, fmt.Errorf("unmarshal context: %w", err)
		}
	}
	if varsJSON.Valid && varsJSON.String != "" {
		if err := json.Unmarshal([]byte(varsJSON.String), &rec.Variables); err != nil {
			return nil, fmt.Errorf("unmarshal variables: %w", err)
		}
	}
	return &rec, nil
}

type verdictColumns struct {
	violations, confidence, severity, drift string
	articles                                any
}

func marshalVerdict(v *verdict.Verdict) (verdictColumns, error) {
	var cols verdictColumns
	violations := v.Violations
	if violations == nil {
		violations = []constraint.Violation{}
	}
	b, err := json.Marshal(violations)
	if err != nil {
		return cols, fmt.Errorf("marshal violations: %w", err)
	}
	cols.violations = string(b)
	if b, err = json.Marshal(v.Confidence); err != nil {
		return cols, fmt.Errorf("marshal confidence: %w", err)
	}
	cols.confidence = string(b)
	if b, err = json.Marshal(v.Severity); err != nil {
		return cols, fmt.Errorf("marshal severity: %w", err)
	}
	cols.severity = string(b)
	if b, err = json.Marshal(v.Drift); err != nil {
		return cols, fmt.Errorf("marshal drift: %w", err)
	}
	cols.drift = string(b)
	if v.Articles != nil {
		if b, err = json.Marshal(v.Articles); err != nil {
			return cols, fmt.Errorf("marshal articles: %w", err)
		}
		cols.articles = string(b)
	}
	return cols, nil
}

func (s *SQLiteStore) timestamp() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}

func parseTime(v string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func emptyIfNil(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
