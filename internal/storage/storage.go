// Package storage persists requests, verdicts, the audit ledger and agent
// snapshots.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/oriphim/watcher/internal/verdict"
)

var ErrNotFound = errors.New("not found")

// Store is the persistence contract of the validation engine.
type Store interface {
	PersistRequest(ctx context.Context, requestID string, req *verdict.Request) error
	PersistVerdict(ctx context.Context, v *verdict.Verdict) error
	GetVerdict(ctx context.Context, requestID string) (*verdict.Verdict, error)

	// AppendAuditEvent ignores ev.ID and ev.CreatedAt and returns the new id.
	AppendAuditEvent(ctx context.Context, ev verdict.AuditEvent) (int64, error)
	// ListAuditEvents returns the newest events first. An empty agentID lists all agents.
	ListAuditEvents(ctx context.Context, agentID string) ([]verdict.AuditEvent, error)

	PersistSnapshot(ctx context.Context, agentID, requestID string, snap verdict.Snapshot, valid bool) (int64, error)
	GetLatestValidSnapshot(ctx context.Context, agentID string) (*verdict.SnapshotRecord, error)

	Close() error
}

const (
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

// Open returns the store for driver. path is only used by sqlite.
func Open(driver, path string) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", DriverSQLite:
		return OpenSQLite(path)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}
