package telemetry

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// ExporterType names which backend a Tracer or Metrics instance ships data
// to; the zero value via DefaultConfig/DefaultMetricsConfig is ExporterNone.
type ExporterType string

const (
	ExporterNone     ExporterType = "none"
	ExporterStdout   ExporterType = "stdout"
	ExporterOTLPGRPC ExporterType = "otlp-grpc"
	ExporterOTLPHTTP ExporterType = "otlp-http"
)

// Config holds configuration for the engine's OpenTelemetry tracer.
type Config struct {
	Enabled bool

	ServiceName    string
	ServiceVersion string

	ExporterType ExporterType

	OTLPEndpoint string
	OTLPInsecure bool

	SampleRate float64

	Attributes map[string]string
}

// DefaultConfig returns a default configuration with tracing disabled.
func DefaultConfig() *Config {
	return &Config{
		Enabled:      false,
		ServiceName:  "healthengine",
		ExporterType: ExporterNone,
		SampleRate:   1.0,
	}
}

// Tracer wraps OpenTelemetry tracing with helpers for starting the spans a
// dual-path check needs.
type Tracer struct {
	config         *Config
	tracerProvider trace.TracerProvider
	tracer         trace.Tracer
	propagator     propagation.TextMapPropagator
	shutdown       func(context.Context) error
	mu             sync.RWMutex
}

var (
	globalTracer *Tracer
	globalMu     sync.RWMutex
)

// NewTracer builds a Tracer from cfg. With tracing disabled (the default)
// it returns a Tracer backed by the OTel no-op provider, so callers never
// need to branch on whether tracing is turned on.
func NewTracer(ctx context.Context, cfg *Config) (*Tracer, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	t := &Tracer{
		config:     cfg,
		propagator: compositePropagator(),
	}

	if !cfg.Enabled || cfg.ExporterType == ExporterNone {
		t.becomeNoop()
		return t, nil
	}

	provider, shutdown, err := newTracerProvider(ctx, cfg)
	if err != nil {
		return nil, err
	}

	t.tracerProvider = provider
	t.tracer = provider.Tracer(cfg.ServiceName)
	t.shutdown = shutdown
	otel.SetTextMapPropagator(t.propagator)

	return t, nil
}

// becomeNoop points t at the no-op tracer provider. Used both when tracing
// is configured off and by NoopTracer.
func (t *Tracer) becomeNoop() {
	tp := noop.NewTracerProvider()
	t.tracerProvider = tp
	t.tracer = tp.Tracer(t.config.ServiceName)
	t.shutdown = func(context.Context) error { return nil }
}

// newTracerProvider assembles a live sdktrace.TracerProvider: exporter,
// resource and sampler, then wraps it in a batcher.
func newTracerProvider(ctx context.Context, cfg *Config) (*sdktrace.TracerProvider, func(context.Context) error, error) {
	exp, err := traceExporter(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("telemetry: trace exporter %s: %w", cfg.ExporterType, err)
	}

	res, err := (resourceAttrs{
		serviceName:    cfg.ServiceName,
		serviceVersion: cfg.ServiceVersion,
		extra:          cfg.Attributes,
	}).build()
	if err != nil {
		return nil, nil, fmt.Errorf("telemetry: trace resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(traceSampler(cfg.SampleRate)),
	)
	return tp, tp.Shutdown, nil
}

func traceSampler(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1.0:
		return sdktrace.AlwaysSample()
	case rate <= 0.0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.TraceIDRatioBased(rate)
	}
}

func traceExporter(ctx context.Context, cfg *Config) (sdktrace.SpanExporter, error) {
	switch cfg.ExporterType {
	case ExporterStdout:
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	case ExporterOTLPGRPC:
		return otlptracegrpc.New(ctx, otlpGRPCTraceOptions(cfg)...)
	case ExporterOTLPHTTP:
		return otlptracehttp.New(ctx, otlpHTTPTraceOptions(cfg)...)
	default:
		return nil, fmt.Errorf("unsupported exporter type %q", cfg.ExporterType)
	}
}

func otlpGRPCTraceOptions(cfg *Config) []otlptracegrpc.Option {
	var opts []otlptracegrpc.Option
	if cfg.OTLPEndpoint != "" {
		opts = append(opts, otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint))
	}
	if cfg.OTLPInsecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	return opts
}

func otlpHTTPTraceOptions(cfg *Config) []otlptracehttp.Option {
	var opts []otlptracehttp.Option
	if cfg.OTLPEndpoint != "" {
		opts = append(opts, otlptracehttp.WithEndpoint(cfg.OTLPEndpoint))
	}
	if cfg.OTLPInsecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	return opts
}

func compositePropagator() propagation.TextMapPropagator {
	return propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{})
}

// Shutdown flushes any pending spans and releases exporter resources.
func (t *Tracer) Shutdown(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.shutdown != nil {
		return t.shutdown(ctx)
	}
	return nil
}

// Enabled returns whether tracing is enabled.
func (t *Tracer) Enabled() bool {
	return t.config.Enabled && t.config.ExporterType != ExporterNone
}

// ProbeSpanOptions contains the attributes attached to a probe span.
type ProbeSpanOptions struct {
	Server string
	Path   string
}

// StartProbeSpan starts a span for one probe attempt with standard
// attributes.
func (t *Tracer) StartProbeSpan(ctx context.Context, opts ProbeSpanOptions) (context.Context, trace.Span) {
	spanName := fmt.Sprintf("probe.%s", opts.Path)
	return t.tracer.Start(ctx, spanName,
		trace.WithAttributes(
			attribute.String("healthengine.server", opts.Server),
			attribute.String("healthengine.path", opts.Path),
		),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// StartCheckSpan starts a span covering one full dual-path check cycle.
func (t *Tracer) StartCheckSpan(ctx context.Context, server string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "health.check",
		trace.WithAttributes(attribute.String("healthengine.server", server)),
	)
}

// RecordError records an error on the span along with its classification.
func RecordError(span trace.Span, err error, errorCategory string, retryable bool) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetAttributes(
		attribute.String("error.category", errorCategory),
		attribute.Bool("error.retryable", retryable),
	)
}

// GetTraceInfo extracts the trace ID and span ID carried by ctx's span.
func GetTraceInfo(ctx context.Context) (traceID, spanID string) {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if sc.HasTraceID() {
		traceID = sc.TraceID().String()
	}
	if sc.HasSpanID() {
		spanID = sc.SpanID().String()
	}
	return traceID, spanID
}

// SetGlobalTracer installs t as the process-wide tracer and, if tracing is
// enabled, registers its provider with the otel package too.
func SetGlobalTracer(t *Tracer) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalTracer = t

	if t != nil && t.Enabled() {
		otel.SetTracerProvider(t.tracerProvider)
	}
}

// GetGlobalTracer returns the process-wide tracer, falling back to a no-op
// tracer before SetGlobalTracer is first called.
func GetGlobalTracer() *Tracer {
	globalMu.RLock()
	defer globalMu.RUnlock()
	if globalTracer == nil {
		return NoopTracer()
	}
	return globalTracer
}

// NoopTracer returns a Tracer that discards every span.
func NoopTracer() *Tracer {
	t := &Tracer{config: DefaultConfig(), propagator: compositePropagator()}
	t.becomeNoop()
	return t
}
