package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/oriphim/watcher/internal/activation"
	"github.com/oriphim/watcher/internal/constraint"
	"github.com/oriphim/watcher/internal/redact"
	"github.com/oriphim/watcher/internal/validation"
	"github.com/oriphim/watcher/internal/verdict"
)

const degradedHeader = "X-Watcher-Degraded"

// validateResponse is a verdict plus transport-level degradation flags.
type validateResponse struct {
	*verdict.Verdict
	Degraded     bool   `json:"degraded,omitempty"`
	StorageError string `json:"storage_error,omitempty"`
}

type asyncAccepted struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	tenant, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	req, ok := s.readRequest(w, r)
	if !ok {
		return
	}

	v, err := s.engine.Evaluate(r.Context(), "", req,
		validation.WithTenant(tenant),
		validation.WithMode(activation.ModeSync))
	s.writeVerdict(w, v, err)
}

func (s *Server) handleValidateAsync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	tenant, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	req, ok := s.readRequest(w, r)
	if !ok {
		return
	}

	requestID := uuid.NewString()
	s.requestStore.Start(requestID, tenant)
	s.tel.AddAsyncPending(1)

	accepted := s.pool.Submit(func(ctx context.Context) {
		defer s.tel.AddAsyncPending(-1)
		v, err := s.engine.Evaluate(ctx, requestID, req,
			validation.WithTenant(tenant),
			validation.WithMode(activation.ModeAsync))
		s.finishAsync(requestID, v, err)
	})
	if !accepted {
		s.tel.AddAsyncPending(-1)
		s.requestStore.Delete(requestID)
		s.logger.Warn("async queue full", zap.String("tenant", tenant))
		writeError(w, http.StatusServiceUnavailable, "async validation queue is full", "overloaded")
		return
	}

	writeJSON(w, http.StatusAccepted, asyncAccepted{RequestID: requestID, Status: statusPending})
}

func (s *Server) finishAsync(requestID string, v *verdict.Verdict, err error) {
	var se *validation.StorageError
	switch {
	case err == nil:
		s.requestStore.Complete(requestID, v, "")
	case errors.As(err, &se) && v != nil:
		s.requestStore.Complete(requestID, v, se.Error())
	default:
		_, detail := classify(err)
		s.requestStore.Fail(requestID, detail)
		s.logger.Warn("async validation failed", zap.String("request_id", requestID), redact.Error(err))
	}
}

// readRequest decodes the body and writes the 4xx response on failure.
func (s *Server) readRequest(w http.ResponseWriter, r *http.Request) (verdict.Request, bool) {
	req, err := s.decodeRequest(w, r)
	if err == nil {
		return req, true
	}
	if errors.Is(err, errBodyTooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, err.Error(), "invalid_request_error")
		return req, false
	}
	writeError(w, http.StatusBadRequest, err.Error(), "invalid_request_error")
	return req, false
}

// writeVerdict maps an engine result onto HTTP. The verdict status code is the
// response status; storage failures still return the verdict, marked degraded.
func (s *Server) writeVerdict(w http.ResponseWriter, v *verdict.Verdict, err error) {
	var se *validation.StorageError
	if err != nil && !(errors.As(err, &se) && v != nil) {
		status, detail := classify(err)
		if status >= http.StatusInternalServerError {
			s.logger.Error("validation failed", redact.Error(err))
		}
		writeErrorBody(w, status, detail)
		return
	}

	resp := validateResponse{Verdict: v}
	if se != nil {
		resp.Degraded = true
		resp.StorageError = se.Error()
		w.Header().Set(degradedHeader, "1")
	}
	writeJSON(w, v.StatusCode, resp)
}

func classify(err error) (int, errorDetail) {
	var (
		ie *validation.InputError
		ce *validation.ComputationError
	)
	switch {
	case errors.As(err, &ie):
		return http.StatusBadRequest, errorDetail{Message: ie.Error(), Type: "invalid_request_error"}
	case errors.As(err, &ce):
		return http.StatusInternalServerError, errorDetail{
			Message:    redact.String(ce.Error()),
			Type:       "computation_error",
			Violations: constraint.Strings(ce.Violations),
		}
	default:
		return http.StatusInternalServerError, errorDetail{Message: "internal error", Type: "server_error"}
	}
}
