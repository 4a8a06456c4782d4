package telemetry

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, p *Provider) string {
	t.Helper()
	rec := httptest.NewRecorder()
	p.MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestDisabledProviderStillServesGauges(t *testing.T) {
	p, err := NewProvider(context.Background(), Config{})
	require.NoError(t, err)
	defer p.Shutdown(context.Background())

	assert.False(t, p.Enabled)
	p.RecordVerdict(context.Background(), VerdictMetrics{Action: "ALLOW", Strategy: "lexical"})
	p.SetHistory(7, 0.25, 0.5)
	p.AddAsyncPending(2)

	body := scrape(t, p)
	assert.Contains(t, body, "watcher_history_samples 7")
	assert.Contains(t, body, "watcher_history_violation_rate 0.5")
	assert.Contains(t, body, "watcher_async_pending 2")
	assert.NotContains(t, body, "watcher_validations_total")
}

func TestPrometheusExporterExposesInstruments(t *testing.T) {
	p, err := NewProvider(context.Background(), Config{Enabled: true, Prometheus: true})
	require.NoError(t, err)
	defer p.Shutdown(context.Background())

	p.RecordVerdict(context.Background(), VerdictMetrics{
		Action:        "BLOCK",
		Strategy:      "lexical",
		DurationMs:    3,
		Divergence:    0.2,
		Violations:    []string{"Leverage ratio exceeds hard limit"},
		DriftDetected: true,
	})
	p.RecordStorageError(context.Background(), "persist_verdict")

	body := scrape(t, p)
	assert.True(t, strings.Contains(body, "watcher_validations_total"), body)
	assert.Contains(t, body, "watcher_violations_total")
	assert.Contains(t, body, "watcher_storage_errors_total")
}

func TestNilProviderIsSafe(t *testing.T) {
	var p *Provider
	p.RecordVerdict(context.Background(), VerdictMetrics{})
	p.RecordStorageError(context.Background(), "x")
	p.SetHistory(1, 0, 0)
	p.AddAsyncPending(1)
	p.Shutdown(context.Background())
	assert.NotNil(t, p.Tracer())
	assert.NotNil(t, p.Meter())
}
