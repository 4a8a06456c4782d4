package activation

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/oriphim/watcher/internal/config"
	"github.com/oriphim/watcher/internal/constraint"
	"github.com/oriphim/watcher/internal/policy"
	"github.com/oriphim/watcher/internal/scoring"
	"github.com/oriphim/watcher/internal/verdict"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
	)
}

func TestFileSinkWritesJSONL(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "nested", "events.jsonl")

	sink, err := NewFileSink(path)
	if err != nil {
		t.Fatalf("file sink: %v", err)
	}

	ev1 := &Event{Version: EventVersion, Timestamp: time.Now(), RequestID: "req-1", Meta: Meta{Tenant: "t1", AgentID: "agent-1", Mode: ModeSync}}
	ev2 := &Event{Version: EventVersion, Timestamp: time.Now(), RequestID: "req-2", Meta: Meta{Tenant: "t1", AgentID: "agent-1", Mode: ModeSync}}

	if err := sink.Deliver(context.Background(), ev1); err != nil {
		t.Fatalf("deliver 1: %v", err)
	}
	if err := sink.Deliver(context.Background(), ev2); err != nil {
		t.Fatalf("deliver 2: %v", err)
	}
	if err := sink.Close(context.Background()); err != nil {
		t.Fatalf("close sink: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}

	var decoded Event
	if err := json.Unmarshal([]byte(lines[0]), &decoded); err != nil {
		t.Fatalf("unmarshal jsonl line: %v", err)
	}
	if decoded.RequestID != "req-1" {
		t.Fatalf("expected request_id req-1, got %s", decoded.RequestID)
	}
}

func TestWebhookSinkHandlesNon2xx(t *testing.T) {
	srv := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("fail"))
	}))

	sink, err := NewWebhookSink(srv.URL, map[string]string{"X-Test": "1"}, 200*time.Millisecond)
	if err != nil {
		t.Fatalf("webhook sink: %v", err)
	}
	ev := &Event{Version: EventVersion, Timestamp: time.Now(), RequestID: "req-1", Meta: Meta{Mode: ModeSync}}
	if err := sink.Deliver(context.Background(), ev); err == nil {
		t.Fatalf("expected non-2xx to return error")
	} else if !strings.Contains(err.Error(), "status") {
		t.Fatalf("error should mention status, got %v", err)
	}
}

func TestEmitterDropsWhenQueueFull(t *testing.T) {
	wait := make(chan struct{})
	sink := &blockingSink{wait: wait}
	em := NewEmitter(EmitterConfig{QueueSize: 1, Workers: 1, ShutdownTimeout: time.Second}, []Sink{sink})

	ev := &Event{Version: EventVersion, Timestamp: time.Now(), RequestID: "r1", Meta: Meta{Mode: ModeSync}}
	em.Emit(context.Background(), ev)
	em.Emit(context.Background(), ev)
	em.Emit(context.Background(), ev)

	metrics := em.MetricsSnapshot()
	if metrics.Dropped() == 0 {
		t.Fatalf("expected dropped events when queue is full")
	}

	close(wait)
	em.Close(context.Background())
}

func TestEmitterWebhookIntegration(t *testing.T) {
	var (
		mu        sync.Mutex
		received  []Event
		requestCT int
	)
	srv := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		requestCT++
		var ev Event
		if err := json.NewDecoder(r.Body).Decode(&ev); err == nil {
			mu.Lock()
			received = append(received, ev)
			mu.Unlock()
		}
		w.WriteHeader(http.StatusOK)
	}))

	sink, err := NewWebhookSink(srv.URL, nil, time.Second)
	if err != nil {
		t.Fatalf("webhook sink: %v", err)
	}
	em := NewEmitter(EmitterConfig{QueueSize: 8, Workers: 1, ShutdownTimeout: time.Second}, []Sink{sink})

	ev := &Event{Version: EventVersion, Timestamp: time.Now(), RequestID: "integration", Meta: Meta{Tenant: "t", Mode: ModeAsync}}
	for i := 0; i < 5; i++ {
		em.Emit(context.Background(), ev)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		if len(received) >= 5 {
			mu.Unlock()
			break
		}
		mu.Unlock()
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for webhook events, got %d", len(received))
		}
		time.Sleep(20 * time.Millisecond)
	}

	em.Close(context.Background())
	metrics := em.MetricsSnapshot()
	if metrics.SinkSuccess(sink.Name()) != 5 {
		t.Fatalf("expected sink success counter to increase")
	}
	if metrics.Dropped() != 0 {
		t.Fatalf("did not expect dropped events, got %d", metrics.Dropped())
	}
}

func blockedVerdict() *verdict.Verdict {
	return &verdict.Verdict{
		RequestID:      "req-9",
		AgentID:        "agent-7",
		Action:         policy.ActionBlock,
		StatusCode:     424,
		Divergence:     0.1,
		Strategy:       "lexical",
		Violations:     []constraint.Violation{constraint.LeverageExceeded},
		Confidence:     scoring.Confidence(0.1, 1),
		Severity:       verdict.Severity{Overall: 4},
		Recommendation: "Critical violation",
		ContextReset:   true,
		LatencyMs:      1.25,
		Articles:       []string{"CA-SB243-FinancialSafety"},
	}
}

func TestBuildEventSummary(t *testing.T) {
	req := &verdict.Request{
		Intent:  "rebalance portfolio for ops@example.com",
		Samples: []string{"a", "b", "c"},
	}
	ev := BuildEvent(BuildParams{Verdict: blockedVerdict(), Request: req, Tenant: "acme"})
	if ev == nil {
		t.Fatal("expected event")
	}
	if ev.Meta.Mode != ModeSync || ev.Meta.Tenant != "acme" || ev.Meta.AgentID != "agent-7" {
		t.Fatalf("unexpected meta: %+v", ev.Meta)
	}
	if !ev.Summary.Blocked || !ev.Summary.ContextReset || ev.Summary.Action != "BLOCK" {
		t.Fatalf("unexpected summary: %+v", ev.Summary)
	}
	if len(ev.Summary.Violations) != 1 || ev.Summary.Violations[0] != string(constraint.LeverageExceeded) {
		t.Fatalf("violations not carried: %+v", ev.Summary.Violations)
	}
	if ev.Preview.Intent != "" || ev.Preview.Samples != nil {
		t.Fatalf("metadata level must not carry previews: %+v", ev.Preview)
	}
	if ev.Timestamp.IsZero() {
		t.Fatal("timestamp must be set")
	}

	if BuildEvent(BuildParams{}) != nil {
		t.Fatal("nil verdict must produce nil event")
	}
}

func TestBuildEventPreviewLevels(t *testing.T) {
	req := &verdict.Request{
		Intent:  "notify ops@example.com",
		Samples: []string{strings.Repeat("x", 600), "b", "c"},
	}

	redacted := BuildEvent(BuildParams{Verdict: blockedVerdict(), Request: req, LoggingLevel: LevelRedacted})
	if strings.Contains(redacted.Preview.Intent, "ops@example.com") {
		t.Fatalf("redacted level leaked email: %q", redacted.Preview.Intent)
	}
	if len(redacted.Preview.Samples) != 3 {
		t.Fatalf("expected 3 sample previews, got %d", len(redacted.Preview.Samples))
	}

	full := BuildEvent(BuildParams{Verdict: blockedVerdict(), Request: req, LoggingLevel: LevelFull})
	if !strings.Contains(full.Preview.Intent, "ops@example.com") {
		t.Fatalf("full level should keep the intent: %q", full.Preview.Intent)
	}
	if !strings.HasSuffix(full.Preview.Samples[0], "…") || len(full.Preview.Samples[0]) > previewLimit+len("…") {
		t.Fatalf("sample preview not truncated: len=%d", len(full.Preview.Samples[0]))
	}
}

func TestStdoutSinkWritesLines(t *testing.T) {
	var buf bytes.Buffer
	sink := NewStdoutSink(&buf)
	ev := BuildEvent(BuildParams{Verdict: blockedVerdict()})
	if err := sink.Deliver(context.Background(), ev); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	var decoded Event
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.RequestID != "req-9" || decoded.Scores.RiskLevel == "" {
		t.Fatalf("unexpected event: %+v", decoded)
	}
}

func TestNewFromConfig(t *testing.T) {
	em, err := NewFromConfig(config.ActivationConfig{}, nil)
	if err != nil || em != nil {
		t.Fatalf("no sinks should give nil emitter, got %v %v", em, err)
	}

	_, err = NewFromConfig(config.ActivationConfig{Sinks: []config.SinkConfig{{Type: "webhook"}}}, nil)
	if err == nil {
		t.Fatal("expected webhook without url to fail")
	}

	path := filepath.Join(t.TempDir(), "events.jsonl")
	em, err = NewFromConfig(config.ActivationConfig{Sinks: []config.SinkConfig{
		{Type: "stdout"},
		{Type: "file_jsonl", Path: path},
	}}, nil)
	if err != nil {
		t.Fatalf("build emitter: %v", err)
	}
	em.Emit(context.Background(), BuildEvent(BuildParams{Verdict: blockedVerdict()}))
	em.Close(context.Background())

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	if !strings.Contains(string(data), "req-9") {
		t.Fatalf("file sink missing event: %s", data)
	}
}

type blockingSink struct {
	wait chan struct{}
}

func (s *blockingSink) Name() string { return "blocking" }

func (s *blockingSink) Deliver(context.Context, *Event) error {
	<-s.wait
	return nil
}

func (s *blockingSink) Close(context.Context) error {
	if s.wait != nil {
		select {
		case <-s.wait:
		default:
			close(s.wait)
		}
	}
	return nil
}

func newTestServer(t *testing.T, h http.Handler) *httptest.Server {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("skipping: cannot open listener: %v", err)
	}
	srv := httptest.NewUnstartedServer(h)
	srv.Listener = ln
	srv.Start()
	t.Cleanup(srv.Close)
	return srv
}

func TestWebhookSinkRetriesServerErrors(t *testing.T) {
	var (
		mu       sync.Mutex
		attempts int
		headers  http.Header
	)
	srv := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		headers = r.Header.Clone()
		if attempts == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	sink, err := NewWebhookSink(srv.URL, map[string]string{"X-Test": "1"}, time.Second)
	if err != nil {
		t.Fatalf("webhook sink: %v", err)
	}
	ev := &Event{Version: EventVersion, RequestID: "retry-1", Meta: Meta{Mode: ModeSync}}
	if err := sink.Deliver(context.Background(), ev); err != nil {
		t.Fatalf("deliver: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
	if headers.Get(HeaderRequestID) != "retry-1" || headers.Get(HeaderEventVersion) != EventVersion || headers.Get("X-Test") != "1" {
		t.Fatalf("unexpected headers: %v", headers)
	}
}

func TestWebhookSinkDoesNotRetryClientErrors(t *testing.T) {
	var (
		mu       sync.Mutex
		attempts int
	)
	srv := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		mu.Unlock()
		w.WriteHeader(http.StatusBadRequest)
	}))

	sink, err := NewWebhookSink(srv.URL, nil, time.Second)
	if err != nil {
		t.Fatalf("webhook sink: %v", err)
	}
	if err := sink.Deliver(context.Background(), &Event{RequestID: "r"}); err == nil {
		t.Fatalf("expected error for 400")
	}
	mu.Lock()
	defer mu.Unlock()
	if attempts != 1 {
		t.Fatalf("expected a single attempt, got %d", attempts)
	}
}

func TestFileSinkRejectsAfterClose(t *testing.T) {
	sink, err := NewFileSink(filepath.Join(t.TempDir(), "events.jsonl"))
	if err != nil {
		t.Fatalf("file sink: %v", err)
	}
	if err := sink.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := sink.Close(context.Background()); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if err := sink.Deliver(context.Background(), &Event{RequestID: "late"}); err == nil {
		t.Fatalf("expected deliver after close to fail")
	}
}
