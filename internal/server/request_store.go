package server

import (
	"sync"
	"time"

	"github.com/oriphim/watcher/internal/verdict"
)

const (
	statusPending   = "pending"
	statusCompleted = "completed"
	statusFailed    = "failed"
)

// requestStore keeps async validation results pollable for a TTL. Expired
// entries are swept lazily, at most once per sweepEvery.
type requestStore struct {
	mu        sync.Mutex
	ttl       time.Duration
	now       func() time.Time
	lastSweep time.Time
	entries   map[string]requestEntry
}

type requestEntry struct {
	tenant       string
	status       string
	verdict      *verdict.Verdict
	storageError string
	failure      *errorDetail
	expiresAt    time.Time
}

const sweepEvery = 30 * time.Second

func newRequestStore(ttl time.Duration) *requestStore {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &requestStore{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]requestEntry),
	}
}

// Start registers a pending run owned by tenant.
func (s *requestStore) Start(requestID, tenant string) {
	s.put(requestID, requestEntry{tenant: tenant, status: statusPending}, false)
}

// Complete records a verdict. storageErr is non-empty when persistence was
// degraded.
func (s *requestStore) Complete(requestID string, v *verdict.Verdict, storageErr string) {
	s.put(requestID, requestEntry{
		status:       statusCompleted,
		verdict:      v,
		storageError: storageErr,
	}, true)
}

// Fail records a run that produced no verdict.
func (s *requestStore) Fail(requestID string, detail errorDetail) {
	s.put(requestID, requestEntry{status: statusFailed, failure: &detail}, true)
}

// put stores e and restarts its TTL. With keepTenant the owner recorded at
// Start is preserved.
func (s *requestStore) put(requestID string, e requestEntry, keepTenant bool) {
	if s == nil || requestID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.sweepLocked(now)
	if prev, ok := s.entries[requestID]; ok && keepTenant {
		e.tenant = prev.tenant
	}
	e.expiresAt = now.Add(s.ttl)
	s.entries[requestID] = e
}

func (s *requestStore) Get(requestID string) (requestEntry, bool) {
	if s == nil || requestID == "" {
		return requestEntry{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.sweepLocked(now)
	e, ok := s.entries[requestID]
	if !ok || e.expired(now) {
		return requestEntry{}, false
	}
	return e, true
}

func (s *requestStore) Delete(requestID string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	delete(s.entries, requestID)
	s.mu.Unlock()
}

func (s *requestStore) sweepLocked(now time.Time) {
	if now.Sub(s.lastSweep) < sweepEvery {
		return
	}
	s.lastSweep = now
	for id, e := range s.entries {
		if e.expired(now) {
			delete(s.entries, id)
		}
	}
}

// expired reports whether a finished entry outlived its TTL. Pending entries
// stay until their run completes so the owning tenant is never lost.
func (e requestEntry) expired(now time.Time) bool {
	return e.status != statusPending && now.After(e.expiresAt)
}
