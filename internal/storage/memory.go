package storage

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/oriphim/watcher/internal/constraint"
	"github.com/oriphim/watcher/internal/verdict"
)

// MemoryStore keeps everything in process memory. It is used by tests and by
// deployments that do not need durability.
type MemoryStore struct {
	mu        sync.RWMutex
	requests  map[string]verdict.Request
	verdicts  map[string]verdict.Verdict
	audit     []verdict.AuditEvent
	snapshots []verdict.SnapshotRecord
	now       func() time.Time
}

func NewMemory() *MemoryStore {
	return &MemoryStore{
		requests: make(map[string]verdict.Request),
		verdicts: make(map[string]verdict.Verdict),
		now:      time.Now,
	}
}

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) PersistRequest(ctx context.Context, requestID string, req *verdict.Request) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if req == nil {
		return errors.New("request is nil")
	}
	m.mu.Lock()
	m.requests[requestID] = *req
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) PersistVerdict(ctx context.Context, v *verdict.Verdict) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if v == nil {
		return errors.New("verdict is nil")
	}
	cp := cloneVerdict(*v)
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = m.now().UTC()
	}
	m.mu.Lock()
	m.verdicts[v.RequestID] = cp
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) GetVerdict(ctx context.Context, requestID string) (*verdict.Verdict, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	v, ok := m.verdicts[requestID]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	v = cloneVerdict(v)
	return &v, nil
}

func (m *MemoryStore) AppendAuditEvent(ctx context.Context, ev verdict.AuditEvent) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ev.ID = int64(len(m.audit) + 1)
	ev.CreatedAt = m.now().UTC()
	ev.Violations = append([]constraint.Violation{}, ev.Violations...)
	ev.Articles = append([]string{}, ev.Articles...)
	m.audit = append(m.audit, ev)
	return ev.ID, nil
}

func (m *MemoryStore) ListAuditEvents(ctx context.Context, agentID string) ([]verdict.AuditEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []verdict.AuditEvent{}
	for i := len(m.audit) - 1; i >= 0; i-- {
		if agentID != "" && m.audit[i].AgentID != agentID {
			continue
		}
		ev := m.audit[i]
		ev.Violations = slices.Clone(ev.Violations)
		ev.Articles = slices.Clone(ev.Articles)
		out = append(out, ev)
	}
	return out, nil
}

func (m *MemoryStore) PersistSnapshot(ctx context.Context, agentID, requestID string, snap verdict.Snapshot, valid bool) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if agentID == "" {
		return 0, errors.New("snapshot agent id is empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := verdict.SnapshotRecord{
		ID:        int64(len(m.snapshots) + 1),
		AgentID:   agentID,
		RequestID: requestID,
		Snapshot:  snap,
		Valid:     valid,
		CreatedAt: m.now().UTC(),
	}
	m.snapshots = append(m.snapshots, rec)
	return rec.ID, nil
}

func (m *MemoryStore) GetLatestValidSnapshot(ctx context.Context, agentID string) (*verdict.SnapshotRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := len(m.snapshots) - 1; i >= 0; i-- {
		rec := m.snapshots[i]
		if rec.AgentID == agentID && rec.Valid {
			return &rec, nil
		}
	}
	return nil, ErrNotFound
}

// cloneVerdict detaches v from caller-owned slices. nil slices stay nil.
func cloneVerdict(v verdict.Verdict) verdict.Verdict {
	v.Violations = slices.Clone(v.Violations)
	v.Articles = slices.Clone(v.Articles)
	v.Severity.Details = slices.Clone(v.Severity.Details)
	return v
}
