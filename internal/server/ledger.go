package server

import (
	"bytes"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/oriphim/watcher/internal/export"
	"github.com/oriphim/watcher/internal/redact"
	"github.com/oriphim/watcher/internal/storage"
	"github.com/oriphim/watcher/internal/verdict"
)

type auditList struct {
	AgentID string               `json:"agent_id,omitempty"`
	Events  []verdict.AuditEvent `json:"events"`
}

// handleRewind serves GET /v1/agents/{id}/rewind.
func (s *Server) handleRewind(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/v1/agents/")
	agentID, ok := strings.CutSuffix(rest, "/rewind")
	if !ok || agentID == "" || strings.Contains(agentID, "/") {
		http.NotFound(w, r)
		return
	}
	if _, ok := s.authenticate(w, r); !ok {
		return
	}

	rec, err := s.store.GetLatestValidSnapshot(r.Context(), agentID)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no valid snapshot for agent "+strconv.Quote(agentID), "not_found")
		return
	}
	if err != nil {
		s.storageFailure(w, r, "get_latest_snapshot", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleAudit lists ledger entries, newest first.
func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if _, ok := s.authenticate(w, r); !ok {
		return
	}
	agentID := strings.TrimSpace(r.URL.Query().Get("agent_id"))

	events, err := s.store.ListAuditEvents(r.Context(), agentID)
	if err != nil {
		s.storageFailure(w, r, "list_audit_events", err)
		return
	}
	writeJSON(w, http.StatusOK, auditList{AgentID: agentID, Events: events})
}

func (s *Server) handleAuditExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if _, ok := s.authenticate(w, r); !ok {
		return
	}
	q := r.URL.Query()
	agentID := strings.TrimSpace(q.Get("agent_id"))

	events, err := s.store.ListAuditEvents(r.Context(), agentID)
	if err != nil {
		s.storageFailure(w, r, "list_audit_events", err)
		return
	}

	var buf bytes.Buffer
	if err := export.AuditPDF(&buf, q.Get("title"), events, time.Now()); err != nil {
		s.logger.Error("render audit pdf", redact.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to render report", "server_error")
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="watcher-audit.pdf"`)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Health())
}

func (s *Server) storageFailure(w http.ResponseWriter, r *http.Request, op string, err error) {
	s.tel.RecordStorageError(r.Context(), op)
	s.logger.Error("storage read failed", zap.String("op", op), redact.Error(err))
	writeError(w, http.StatusInternalServerError, "storage unavailable", "storage_error")
}
