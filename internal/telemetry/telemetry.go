package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

// Config controls telemetry setup.
type Config struct {
	Enabled    bool
	Endpoint   string
	Protocol   string // grpc | http
	Service    string
	Version    string
	Prometheus bool
	Logger     *zap.Logger
}

// Provider wires tracer/meter providers and exposes helpers. The Prometheus
// registry always exists so /metrics can serve the health gauges even when
// OpenTelemetry export is off.
type Provider struct {
	Enabled bool
	tracer  trace.Tracer
	meter   metric.Meter

	registry *prometheus.Registry

	validationsCounter metric.Int64Counter
	validationDuration metric.Float64Histogram
	divergenceHist     metric.Float64Histogram
	violationsCounter  metric.Int64Counter
	driftCounter       metric.Int64Counter
	storageErrors      metric.Int64Counter

	historySamples    prometheus.Gauge
	historyDivergence prometheus.Gauge
	historyViolations prometheus.Gauge
	asyncPending      prometheus.Gauge

	shutdownTraceProvider func(context.Context) error
	shutdownMeterProvider func(context.Context) error
}

// NewProvider configures OTEL exporters + providers. When disabled, returns no-op providers.
func NewProvider(ctx context.Context, cfg Config) (*Provider, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	service := cfg.Service
	if service == "" {
		service = "watcher"
	}

	p := &Provider{registry: prometheus.NewRegistry()}
	p.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	p.initGauges()

	if !cfg.Enabled {
		p.tracer = tracenoop.NewTracerProvider().Tracer("")
		p.meter = noop.NewMeterProvider().Meter("")
		p.initInstruments()
		return p, nil
	}

	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithAttributes(
			attribute.String("service.name", service),
			attribute.String("service.version", cfg.Version),
		),
	)
	if err != nil {
		return nil, err
	}

	protocol := strings.ToLower(strings.TrimSpace(cfg.Protocol))
	var readers []sdkmetric.Option
	tp := sdktrace.NewTracerProvider(sdktrace.WithResource(res))

	if cfg.Endpoint != "" {
		logger.Info("telemetry enabled; periodic upload warnings are expected if no collector is listening",
			zap.String("protocol", protocol), zap.String("endpoint", cfg.Endpoint))

		var spanExp sdktrace.SpanExporter
		switch protocol {
		case "", "grpc":
			spanExp, err = otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(cfg.Endpoint), otlptracegrpc.WithInsecure())
		case "http":
			spanExp, err = otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(cfg.Endpoint), otlptracehttp.WithInsecure())
		default:
			return nil, fmt.Errorf("unknown telemetry protocol %q", cfg.Protocol)
		}
		if err != nil {
			return nil, err
		}
		tp = sdktrace.NewTracerProvider(
			sdktrace.WithSampler(sdktrace.AlwaysSample()),
			sdktrace.WithBatcher(spanExp),
			sdktrace.WithResource(res),
		)

		var metricExp sdkmetric.Exporter
		switch protocol {
		case "", "grpc":
			metricExp, err = otlpmetricgrpc.New(ctx, otlpmetricgrpc.WithEndpoint(cfg.Endpoint), otlpmetricgrpc.WithInsecure())
		case "http":
			metricExp, err = otlpmetrichttp.New(ctx, otlpmetrichttp.WithEndpoint(cfg.Endpoint), otlpmetrichttp.WithInsecure())
		}
		if err != nil {
			_ = tp.Shutdown(ctx)
			return nil, err
		}
		readers = append(readers, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp)))
	}

	if cfg.Prometheus {
		exp, err := promexporter.New(promexporter.WithRegisterer(p.registry))
		if err != nil {
			_ = tp.Shutdown(ctx)
			return nil, fmt.Errorf("create prometheus exporter: %w", err)
		}
		readers = append(readers, sdkmetric.WithReader(exp))
	}

	otel.SetTracerProvider(tp)
	mp := sdkmetric.NewMeterProvider(append([]sdkmetric.Option{sdkmetric.WithResource(res)}, readers...)...)
	otel.SetMeterProvider(mp)

	p.Enabled = true
	p.tracer = tp.Tracer("watcher")
	p.meter = mp.Meter("watcher")
	p.shutdownTraceProvider = tp.Shutdown
	p.shutdownMeterProvider = mp.Shutdown
	p.initInstruments()
	return p, nil
}

func (p *Provider) initInstruments() {
	if p == nil {
		return
	}
	// Use meter to create instruments; ignore errors to keep telemetry best-effort.
	p.validationsCounter, _ = p.meter.Int64Counter("watcher_validations_total")
	p.validationDuration, _ = p.meter.Float64Histogram("watcher_validation_duration_ms")
	p.divergenceHist, _ = p.meter.Float64Histogram("watcher_divergence_score")
	p.violationsCounter, _ = p.meter.Int64Counter("watcher_violations_total")
	p.driftCounter, _ = p.meter.Int64Counter("watcher_drift_alerts_total")
	p.storageErrors, _ = p.meter.Int64Counter("watcher_storage_errors_total")
}

func (p *Provider) initGauges() {
	f := promauto.With(p.registry)
	p.historySamples = f.NewGauge(prometheus.GaugeOpts{
		Name: "watcher_history_samples",
		Help: "Samples currently held in the drift history window.",
	})
	p.historyDivergence = f.NewGauge(prometheus.GaugeOpts{
		Name: "watcher_history_mean_divergence",
		Help: "Mean divergence over the drift history window.",
	})
	p.historyViolations = f.NewGauge(prometheus.GaugeOpts{
		Name: "watcher_history_violation_rate",
		Help: "Share of windowed requests with at least one violation.",
	})
	p.asyncPending = f.NewGauge(prometheus.GaugeOpts{
		Name: "watcher_async_pending",
		Help: "Async validations queued or running.",
	})
}

// Tracer returns the tracer.
func (p *Provider) Tracer() trace.Tracer {
	if p == nil {
		return tracenoop.NewTracerProvider().Tracer("")
	}
	return p.tracer
}

// Meter returns the meter.
func (p *Provider) Meter() metric.Meter {
	if p == nil {
		return noop.NewMeterProvider().Meter("")
	}
	return p.meter
}

// MetricsHandler serves the Prometheus registry.
func (p *Provider) MetricsHandler() http.Handler {
	if p == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Shutdown flushes providers.
func (p *Provider) Shutdown(ctx context.Context) {
	if p == nil {
		return
	}
	if p.shutdownTraceProvider != nil {
		_ = p.shutdownTraceProvider(ctx)
	}
	if p.shutdownMeterProvider != nil {
		_ = p.shutdownMeterProvider(ctx)
	}
}

// VerdictMetrics is the label-safe summary of one validation.
type VerdictMetrics struct {
	Action        string
	Strategy      string
	Tenant        string
	DurationMs    float64
	Divergence    float64
	Violations    []string
	DriftDetected bool
}

// RecordVerdict emits counters/histograms with safe labels.
func (p *Provider) RecordVerdict(ctx context.Context, m VerdictMetrics) {
	if p == nil || p.validationsCounter == nil {
		return
	}
	labels := metric.WithAttributes(SafeAttributes(map[string]any{
		"watcher.action":   m.Action,
		"watcher.strategy": m.Strategy,
		"watcher.tenant":   m.Tenant,
	})...)
	p.validationsCounter.Add(ctx, 1, labels)
	p.validationDuration.Record(ctx, m.DurationMs, labels)
	p.divergenceHist.Record(ctx, m.Divergence, labels)
	for _, v := range m.Violations {
		p.violationsCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("watcher.violation", v)))
	}
	if m.DriftDetected {
		p.driftCounter.Add(ctx, 1, labels)
	}
}

// RecordStorageError counts a failed persistence side effect.
func (p *Provider) RecordStorageError(ctx context.Context, op string) {
	if p == nil || p.storageErrors == nil {
		return
	}
	p.storageErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("watcher.op", op)))
}

// SetHistory publishes the drift window summary.
func (p *Provider) SetHistory(samples int, meanDivergence, violationRate float64) {
	if p == nil || p.historySamples == nil {
		return
	}
	p.historySamples.Set(float64(samples))
	p.historyDivergence.Set(meanDivergence)
	p.historyViolations.Set(violationRate)
}

// AddAsyncPending moves the async pending gauge by delta.
func (p *Provider) AddAsyncPending(delta float64) {
	if p == nil || p.asyncPending == nil {
		return
	}
	p.asyncPending.Add(delta)
}
