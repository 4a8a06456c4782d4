package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/oriphim/watcher/internal/auth"
	"github.com/oriphim/watcher/internal/config"
	"github.com/oriphim/watcher/internal/logging"
	"github.com/oriphim/watcher/internal/storage"
	"github.com/oriphim/watcher/internal/telemetry"
	"github.com/oriphim/watcher/internal/validation"
)

// Server wraps the HTTP transport for the validation engine.
type Server struct {
	mux          *http.ServeMux
	cfg          *config.Config
	auth         *auth.Auth
	engine       *validation.Engine
	store        storage.Store
	tel          *telemetry.Provider
	logger       *zap.Logger
	validate     *validator.Validate
	requestStore *requestStore
	pool         *workerPool
	httpServer   *http.Server
}

// Deps are the collaborators a Server routes requests to.
type Deps struct {
	Engine    *validation.Engine
	Store     storage.Store
	Telemetry *telemetry.Provider
	Logger    *zap.Logger
}

// New creates a new Server with routes registered and async workers started.
func New(cfg *config.Config, authz *auth.Auth, deps Deps) *Server {
	s := &Server{
		mux:          http.NewServeMux(),
		cfg:          cfg,
		auth:         authz,
		engine:       deps.Engine,
		store:        deps.Store,
		tel:          deps.Telemetry,
		logger:       logging.OrNop(deps.Logger).Named("server"),
		validate:     newValidator(),
		requestStore: newRequestStore(cfg.Server.RequestTTL),
		pool:         newWorkerPool(cfg.Server.AsyncWorkers, cfg.Server.AsyncQueueSize),
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealthz)
	s.mux.HandleFunc("/v1/validate", s.handleValidate)
	s.mux.HandleFunc("/v1/validate/async", s.handleValidateAsync)
	s.mux.HandleFunc("/v1/validate/", s.handleRequestStatus)
	s.mux.HandleFunc("/v1/agents/", s.handleRewind)
	s.mux.HandleFunc("/v1/audit", s.handleAudit)
	s.mux.HandleFunc("/v1/audit/export", s.handleAuditExport)
	s.mux.HandleFunc("/v1/health", s.handleHealth)
	s.mux.Handle("/metrics", s.tel.MetricsHandler())
}

// Handler exposes the routed mux.
func (s *Server) Handler() http.Handler { return s.mux }

// Start listens on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}
	s.logger.Info("watcher listening", zap.String("addr", addr))
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting connections and waits for queued async
// validations to finish or ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}
	if err := s.pool.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("async drain: %w", err))
	}
	return errors.Join(errs...)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	fmt.Fprintln(w, "ok")
}

// authenticate resolves the caller's tenant. Without configured keys every
// caller is anonymous.
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) (string, bool) {
	if !s.auth.Enabled() {
		return "", true
	}
	apiKey, ok := parseBearerToken(r.Header.Get("Authorization"))
	if !ok || apiKey == "" {
		writeError(w, http.StatusUnauthorized, "Invalid or missing API key", "authentication_error")
		return "", false
	}
	tenant, ok := s.auth.Lookup(apiKey)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Invalid API key", "authentication_error")
		return "", false
	}
	return tenant.ID, true
}

func parseBearerToken(h string) (string, bool) {
	if h == "" {
		return "", false
	}
	parts := strings.Fields(h)
	if len(parts) != 2 {
		return "", false
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	return parts[1], true
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Message    string   `json:"message"`
	Type       string   `json:"type"`
	Violations []string `json:"violations,omitempty"`
}

// writeError writes a JSON error envelope.
func writeError(w http.ResponseWriter, status int, message, typ string) {
	writeErrorBody(w, status, errorDetail{Message: message, Type: typ})
}

func writeErrorBody(w http.ResponseWriter, status int, detail errorDetail) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: detail})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
