// Package validation runs the decision pipeline: divergence and constraint
// checks, scoring, drift, policy and the persistence side effects.
package validation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/oriphim/watcher/internal/activation"
	"github.com/oriphim/watcher/internal/compliance"
	"github.com/oriphim/watcher/internal/constraint"
	"github.com/oriphim/watcher/internal/divergence"
	"github.com/oriphim/watcher/internal/drift"
	"github.com/oriphim/watcher/internal/policy"
	"github.com/oriphim/watcher/internal/redact"
	"github.com/oriphim/watcher/internal/scoring"
	"github.com/oriphim/watcher/internal/storage"
	"github.com/oriphim/watcher/internal/telemetry"
	"github.com/oriphim/watcher/internal/verdict"
)

var ErrSnapshotAgent = errors.New("state_snapshot requires agent_id")

// Options wires an Engine. Estimator and Store are required.
type Options struct {
	Estimator  divergence.Estimator
	Store      storage.Store
	History    *drift.History
	Thresholds policy.Thresholds
	Clock      func() time.Time

	Emitter         *activation.Emitter
	ActivationLevel string
	Telemetry       *telemetry.Provider
	Logger          *zap.Logger
}

// Engine is safe for concurrent use. The drift history is its only shared
// mutable state besides the health counters.
type Engine struct {
	estimator  divergence.Estimator
	store      storage.Store
	history    *drift.History
	thresholds policy.Thresholds
	clock      func() time.Time

	emitter         *activation.Emitter
	activationLevel string
	tel             *telemetry.Provider
	logger          *zap.Logger

	mu           sync.Mutex
	requests     int64
	lastBlockSeq int64
	lastCritical string
}

func New(opts Options) (*Engine, error) {
	if opts.Estimator == nil {
		return nil, errors.New("validation: estimator is required")
	}
	if opts.Store == nil {
		return nil, errors.New("validation: store is required")
	}
	if opts.History == nil {
		opts.History = drift.NewHistory(drift.Options{})
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Engine{
		estimator:       opts.Estimator,
		store:           opts.Store,
		history:         opts.History,
		thresholds:      opts.Thresholds,
		clock:           opts.Clock,
		emitter:         opts.Emitter,
		activationLevel: opts.ActivationLevel,
		tel:             opts.Telemetry,
		logger:          opts.Logger.Named("validation"),
	}, nil
}

// Strategy names the divergence estimator in use.
func (e *Engine) Strategy() string { return e.estimator.Name() }

type evalMeta struct {
	tenant string
	mode   string
}

// EvalOption annotates one evaluation for events and metrics.
type EvalOption func(*evalMeta)

func WithTenant(tenant string) EvalOption { return func(m *evalMeta) { m.tenant = tenant } }
func WithMode(mode string) EvalOption     { return func(m *evalMeta) { m.mode = mode } }

// Evaluate validates one request and returns its verdict. A *StorageError is
// returned together with a non-nil verdict; any other error means no verdict.
func (e *Engine) Evaluate(ctx context.Context, requestID string, req verdict.Request, opts ...EvalOption) (*verdict.Verdict, error) {
	meta := evalMeta{mode: activation.ModeSync}
	for _, o := range opts {
		o(&meta)
	}
	if requestID == "" {
		requestID = uuid.NewString()
	}

	if err := checkInput(req); err != nil {
		return nil, err
	}

	ctx, span := e.tel.Tracer().Start(ctx, "watcher.validate",
		trace.WithAttributes(
			attribute.String("watcher.request_id", requestID),
			attribute.String("watcher.strategy", e.estimator.Name()),
		))
	defer span.End()

	start := e.clock()

	var (
		g        errgroup.Group
		score    float64
		findings []constraint.Finding
	)
	g.Go(func() error {
		s, err := e.estimator.Estimate(ctx, req.Samples)
		if err != nil {
			return err
		}
		score = s
		return nil
	})
	g.Go(func() error {
		findings = constraint.Check(req.Payload)
		return nil
	})
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "divergence failed")
		e.logger.Error("divergence estimation failed", zap.String("request_id", requestID), redact.Error(err))
		return nil, &ComputationError{
			Stage:      "divergence",
			Err:        err,
			Violations: constraint.Violations(findings),
		}
	}

	violations := constraint.Violations(findings)
	confidence := scoring.Confidence(score, len(violations))
	details := make([]scoring.SeverityDetail, 0, len(findings))
	for _, f := range findings {
		details = append(details, scoring.FindingSeverity(f))
	}
	overall := scoring.OverallSeverity(details)

	alert := e.history.Observe(score, len(violations))

	end := e.clock()
	elapsed := end.Sub(start)

	firstImpact := ""
	if len(details) > 0 {
		firstImpact = details[0].ImpactDescription
	}
	decision := policy.Decide(e.thresholds, policy.Signals{
		Elapsed:         elapsed,
		Divergence:      score,
		Violations:      len(violations),
		OverallSeverity: overall,
		FirstImpact:     firstImpact,
		RiskLevel:       string(confidence.RiskLevel),
	})

	v := &verdict.Verdict{
		RequestID:      requestID,
		AgentID:        req.AgentID,
		Action:         decision.Action,
		StatusCode:     decision.StatusCode,
		Divergence:     score,
		Strategy:       e.estimator.Name(),
		Violations:     violations,
		Confidence:     confidence,
		Severity:       verdict.Severity{Details: details, Overall: overall},
		Drift:          alert,
		Recommendation: decision.Recommendation,
		ContextReset:   decision.ContextReset,
		LatencyMs:      float64(elapsed) / float64(time.Millisecond),
		CreatedAt:      end.UTC(),
	}
	if v.StatusCode == 424 {
		v.Articles = compliance.MapArticles(violations)
	}

	span.SetAttributes(
		attribute.String("watcher.action", string(v.Action)),
		attribute.Float64("watcher.divergence", score),
		attribute.Int("watcher.violations", len(violations)),
	)

	storeErr := e.persist(ctx, &req, v)
	if storeErr != nil {
		span.SetStatus(codes.Error, "storage degraded")
	}

	e.observe(v)
	e.publish(ctx, &req, v, meta, storeErr != nil)

	e.logger.Debug("validated",
		zap.String("request_id", requestID),
		zap.String("action", string(v.Action)),
		zap.Float64("divergence", score),
		zap.Int("violations", len(violations)),
		zap.Float64("latency_ms", v.LatencyMs))

	if storeErr != nil {
		return v, storeErr
	}
	return v, nil
}

func checkInput(req verdict.Request) error {
	if len(req.Samples) != divergence.CandidateCount {
		return &InputError{Err: fmt.Errorf("%w, got %d", divergence.ErrCandidateCount, len(req.Samples))}
	}
	if err := req.Payload.Validate(); err != nil {
		return &InputError{Err: err}
	}
	if req.StateSnapshot != nil && req.AgentID == "" {
		return &InputError{Err: ErrSnapshotAgent}
	}
	return nil
}

func (e *Engine) persist(ctx context.Context, req *verdict.Request, v *verdict.Verdict) *StorageError {
	se := &StorageError{}
	fail := func(op string, err error) {
		se.add(op, err)
		e.tel.RecordStorageError(ctx, op)
		e.logger.Warn("persistence failed",
			zap.String("op", op),
			zap.String("request_id", v.RequestID),
			redact.Error(err))
	}

	if err := e.store.PersistRequest(ctx, v.RequestID, req); err != nil {
		fail("persist_request", err)
	}
	if err := e.store.PersistVerdict(ctx, v); err != nil {
		fail("persist_verdict", err)
	}
	if v.Action == policy.ActionAllow && req.StateSnapshot != nil {
		if _, err := e.store.PersistSnapshot(ctx, req.AgentID, v.RequestID, *req.StateSnapshot, true); err != nil {
			fail("persist_snapshot", err)
		}
	}
	if v.StatusCode == 424 {
		_, err := e.store.AppendAuditEvent(ctx, verdict.AuditEvent{
			RequestID:  v.RequestID,
			AgentID:    v.AgentID,
			EventType:  compliance.EventBlocked,
			Violations: v.Violations,
			Articles:   v.Articles,
			Message:    compliance.BlockMessage(v.Violations),
		})
		if err != nil {
			fail("append_audit_event", err)
		}
	}

	if len(se.Errs) == 0 {
		return nil
	}
	return se
}

func (e *Engine) observe(v *verdict.Verdict) {
	e.mu.Lock()
	e.requests++
	if v.Action == policy.ActionBlock {
		e.lastBlockSeq = e.requests
		e.lastCritical = v.Recommendation
	}
	e.mu.Unlock()
}

func (e *Engine) publish(ctx context.Context, req *verdict.Request, v *verdict.Verdict, meta evalMeta, degraded bool) {
	if e.tel != nil {
		st := e.history.Stats()
		e.tel.SetHistory(st.Samples, st.MeanDivergence, st.ViolationRate)
		e.tel.RecordVerdict(ctx, telemetry.VerdictMetrics{
			Action:        string(v.Action),
			Strategy:      v.Strategy,
			Tenant:        meta.tenant,
			DurationMs:    v.LatencyMs,
			Divergence:    v.Divergence,
			Violations:    constraint.Strings(v.Violations),
			DriftDetected: v.Drift.Detected,
		})
	}
	if e.emitter != nil {
		e.emitter.Emit(ctx, activation.BuildEvent(activation.BuildParams{
			Verdict:      v,
			Request:      req,
			Tenant:       meta.tenant,
			Mode:         meta.mode,
			LoggingLevel: e.activationLevel,
			Degraded:     degraded,
		}))
	}
}
