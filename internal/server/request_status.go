package server

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/oriphim/watcher/internal/redact"
	"github.com/oriphim/watcher/internal/storage"
	"github.com/oriphim/watcher/internal/verdict"
)

type requestStatus struct {
	RequestID    string           `json:"request_id"`
	Status       string           `json:"status"`
	Verdict      *verdict.Verdict `json:"verdict"`
	Degraded     bool             `json:"degraded,omitempty"`
	StorageError string           `json:"storage_error,omitempty"`
	Error        *errorDetail     `json:"error,omitempty"`
}

func (s *Server) handleRequestStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	requestID := strings.TrimPrefix(r.URL.Path, "/v1/validate/")
	requestID = strings.TrimSpace(requestID)
	if requestID == "" || strings.Contains(requestID, "/") {
		http.NotFound(w, r)
		return
	}

	tenant, ok := s.authenticate(w, r)
	if !ok {
		return
	}

	if entry, ok := s.requestStore.Get(requestID); ok {
		if entry.tenant != tenant {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, http.StatusOK, requestStatus{
			RequestID:    requestID,
			Status:       entry.status,
			Verdict:      entry.verdict,
			Degraded:     entry.storageError != "",
			StorageError: entry.storageError,
			Error:        entry.failure,
		})
		return
	}

	// Persisted verdicts carry no tenant, so they are only served when the
	// transport is unauthenticated.
	if s.auth.Enabled() {
		http.NotFound(w, r)
		return
	}
	v, err := s.store.GetVerdict(r.Context(), requestID)
	if errors.Is(err, storage.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		s.tel.RecordStorageError(r.Context(), "get_verdict")
		s.logger.Error("load verdict failed", zap.String("request_id", requestID), redact.Error(err))
		writeError(w, http.StatusInternalServerError, "storage unavailable", "storage_error")
		return
	}
	writeJSON(w, http.StatusOK, requestStatus{RequestID: requestID, Status: statusCompleted, Verdict: v})
}
