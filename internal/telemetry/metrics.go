// Package telemetry provides optional OpenTelemetry metrics and tracing
// for the health check engine. Disabled by default.
package telemetry

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// MetricsConfig holds configuration for the engine's OpenTelemetry metrics.
type MetricsConfig struct {
	// Enabled controls whether metrics collection is active. Default: false (no-op).
	Enabled bool

	ServiceName    string
	ServiceVersion string

	ExporterType ExporterType

	OTLPEndpoint string
	OTLPInsecure bool

	Attributes map[string]string
}

// DefaultMetricsConfig returns a default configuration with metrics disabled.
func DefaultMetricsConfig() *MetricsConfig {
	return &MetricsConfig{
		Enabled:      false,
		ServiceName:  "healthengine",
		ExporterType: ExporterNone,
	}
}

// Metrics wraps OpenTelemetry metrics with the engine's own instruments:
// probe duration, error counts by category, a gauge of servers whose
// overall circuit is OPEN, and a checks-completed counter.
type Metrics struct {
	config        *MetricsConfig
	meterProvider *sdkmetric.MeterProvider
	meter         metric.Meter
	shutdown      func(context.Context) error
	mu            sync.RWMutex

	probeDuration  metric.Float64Histogram
	errorCounter   metric.Int64Counter
	checksTotal    metric.Int64Counter
	circuitOpens   metric.Int64Counter
	suppressedCtr  metric.Int64Counter
	schedulerDrops metric.Int64Counter
	openCircuits   atomic.Int64
	openGauge      metric.Int64ObservableGauge
	openGaugeReg   metric.Registration
}

var (
	globalMetrics   *Metrics
	globalMetricsMu sync.RWMutex
)

// NewMetrics builds a Metrics from cfg. With metrics disabled (the
// default) every Record* call becomes a no-op against an unregistered
// meter, so callers never need to branch on whether metrics are turned on.
func NewMetrics(ctx context.Context, cfg *MetricsConfig) (*Metrics, error) {
	if cfg == nil {
		cfg = DefaultMetricsConfig()
	}

	m := &Metrics{config: cfg}

	if !cfg.Enabled || cfg.ExporterType == ExporterNone {
		m.meterProvider = sdkmetric.NewMeterProvider()
		m.meter = m.meterProvider.Meter(cfg.ServiceName)
		m.shutdown = func(context.Context) error { return nil }
		return m, nil
	}

	reader, err := metricReader(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("telemetry: metric exporter %s: %w", cfg.ExporterType, err)
	}

	res, err := (resourceAttrs{
		serviceName:    cfg.ServiceName,
		serviceVersion: cfg.ServiceVersion,
		extra:          cfg.Attributes,
	}).build()
	if err != nil {
		return nil, fmt.Errorf("telemetry: metric resource: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(reader),
		sdkmetric.WithResource(res),
	)

	m.meterProvider = mp
	m.meter = mp.Meter(cfg.ServiceName)
	m.shutdown = mp.Shutdown

	if err := m.registerInstruments(); err != nil {
		return nil, err
	}

	return m, nil
}

func metricReader(ctx context.Context, cfg *MetricsConfig) (sdkmetric.Reader, error) {
	exp, err := metricExporter(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return sdkmetric.NewPeriodicReader(exp), nil
}

func metricExporter(ctx context.Context, cfg *MetricsConfig) (sdkmetric.Exporter, error) {
	switch cfg.ExporterType {
	case ExporterStdout:
		return stdoutmetric.New()
	case ExporterOTLPGRPC:
		return otlpmetricgrpc.New(ctx, otlpGRPCMetricOptions(cfg)...)
	case ExporterOTLPHTTP:
		return otlpmetrichttp.New(ctx, otlpHTTPMetricOptions(cfg)...)
	default:
		return nil, fmt.Errorf("unsupported exporter type %q", cfg.ExporterType)
	}
}

func otlpGRPCMetricOptions(cfg *MetricsConfig) []otlpmetricgrpc.Option {
	var opts []otlpmetricgrpc.Option
	if cfg.OTLPEndpoint != "" {
		opts = append(opts, otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint))
	}
	if cfg.OTLPInsecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	return opts
}

func otlpHTTPMetricOptions(cfg *MetricsConfig) []otlpmetrichttp.Option {
	var opts []otlpmetrichttp.Option
	if cfg.OTLPEndpoint != "" {
		opts = append(opts, otlpmetrichttp.WithEndpoint(cfg.OTLPEndpoint))
	}
	if cfg.OTLPInsecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}
	return opts
}

// instrumentSpec names and describes one counter, so registerInstruments
// can declare the five plain counters as data instead of repeating the
// create-then-wrap-the-error block for each.
type instrumentSpec struct {
	name string
	desc string
}

func (m *Metrics) newCounter(spec instrumentSpec) (metric.Int64Counter, error) {
	c, err := m.meter.Int64Counter(spec.name, metric.WithDescription(spec.desc))
	if err != nil {
		return nil, fmt.Errorf("telemetry: instrument %s: %w", spec.name, err)
	}
	return c, nil
}

func (m *Metrics) registerInstruments() error {
	var err error

	if m.probeDuration, err = m.meter.Float64Histogram(
		"healthengine.probe.duration",
		metric.WithDescription("Duration of a single probe attempt"),
		metric.WithUnit("ms"),
	); err != nil {
		return fmt.Errorf("telemetry: instrument healthengine.probe.duration: %w", err)
	}

	if m.errorCounter, err = m.newCounter(instrumentSpec{
		"healthengine.probe.errors", "Count of probe failures by error category",
	}); err != nil {
		return err
	}

	if m.checksTotal, err = m.newCounter(instrumentSpec{
		"healthengine.checks", "Count of completed dual-path checks by overall status",
	}); err != nil {
		return err
	}

	if m.circuitOpens, err = m.newCounter(instrumentSpec{
		"healthengine.circuit.transitions", "Count of circuit breaker sub-state transitions",
	}); err != nil {
		return err
	}

	if m.suppressedCtr, err = m.newCounter(instrumentSpec{
		"healthengine.probe.suppressed", "Count of probes suppressed by an open circuit",
	}); err != nil {
		return err
	}

	if m.schedulerDrops, err = m.newCounter(instrumentSpec{
		"healthengine.scheduler.drops", "Count of scheduled checks dropped because the work queue was full",
	}); err != nil {
		return err
	}

	return m.registerOpenCircuitGauge()
}

func (m *Metrics) registerOpenCircuitGauge() error {
	gauge, err := m.meter.Int64ObservableGauge(
		"healthengine.circuit.open_count",
		metric.WithDescription("Number of servers currently with an open overall circuit"),
	)
	if err != nil {
		return fmt.Errorf("telemetry: instrument healthengine.circuit.open_count: %w", err)
	}

	reg, err := m.meter.RegisterCallback(
		func(_ context.Context, o metric.Observer) error {
			o.ObserveInt64(gauge, m.openCircuits.Load())
			return nil
		},
		gauge,
	)
	if err != nil {
		return fmt.Errorf("telemetry: open-circuit gauge callback: %w", err)
	}

	m.openGauge = gauge
	m.openGaugeReg = reg
	return nil
}

// RecordProbeDuration records one probe attempt's duration and outcome.
func (m *Metrics) RecordProbeDuration(ctx context.Context, server, path string, durationMs float64, success bool) {
	if m.probeDuration == nil {
		return
	}
	m.probeDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String("server", server),
		attribute.String("path", path),
		attribute.Bool("success", success),
	))
}

// RecordError records a probe failure with its error category.
func (m *Metrics) RecordError(ctx context.Context, server, path, category string) {
	if m.errorCounter == nil {
		return
	}
	m.errorCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("server", server),
		attribute.String("path", path),
		attribute.String("category", category),
	))
}

// RecordCheck records one completed dual-path check's overall status.
func (m *Metrics) RecordCheck(ctx context.Context, server, overallStatus string) {
	if m.checksTotal == nil {
		return
	}
	m.checksTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("server", server),
		attribute.String("overall_status", overallStatus),
	))
}

// RecordCircuitTransition records a sub-state transition.
func (m *Metrics) RecordCircuitTransition(ctx context.Context, server, path, toState string) {
	if m.circuitOpens == nil {
		return
	}
	m.circuitOpens.Add(ctx, 1, metric.WithAttributes(
		attribute.String("server", server),
		attribute.String("path", path),
		attribute.String("to_state", toState),
	))
}

// RecordSuppressed records a breaker-suppressed probe.
func (m *Metrics) RecordSuppressed(ctx context.Context, server, path string) {
	if m.suppressedCtr == nil {
		return
	}
	m.suppressedCtr.Add(ctx, 1, metric.WithAttributes(
		attribute.String("server", server),
		attribute.String("path", path),
	))
}

// RecordSchedulerDrop records one dropped scheduling tick.
func (m *Metrics) RecordSchedulerDrop(ctx context.Context, server string) {
	if m.schedulerDrops == nil {
		return
	}
	m.schedulerDrops.Add(ctx, 1, metric.WithAttributes(
		attribute.String("server", server),
	))
}

// SetOpenCircuitCount sets the current number of servers with an open
// overall circuit, read by the observable gauge callback.
func (m *Metrics) SetOpenCircuitCount(n int) {
	m.openCircuits.Store(int64(n))
}

// Shutdown gracefully shuts down the metrics provider.
func (m *Metrics) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.openGaugeReg != nil {
		if err := m.openGaugeReg.Unregister(); err != nil {
			return fmt.Errorf("telemetry: unregister open-circuit gauge: %w", err)
		}
	}
	if m.shutdown != nil {
		return m.shutdown(ctx)
	}
	return nil
}

// Enabled returns whether metrics collection is enabled.
func (m *Metrics) Enabled() bool {
	return m.config.Enabled && m.config.ExporterType != ExporterNone
}

// MeterProvider returns the underlying meter provider.
func (m *Metrics) MeterProvider() *sdkmetric.MeterProvider {
	return m.meterProvider
}

// SetGlobalMetrics installs m as the process-wide metrics instance and, if
// metrics are enabled, registers its provider with the otel package too.
func SetGlobalMetrics(m *Metrics) {
	globalMetricsMu.Lock()
	defer globalMetricsMu.Unlock()
	globalMetrics = m

	if m != nil && m.Enabled() {
		otel.SetMeterProvider(m.meterProvider)
	}
}

// GetGlobalMetrics returns the process-wide metrics instance, falling back
// to a no-op instance before SetGlobalMetrics is first called.
func GetGlobalMetrics() *Metrics {
	globalMetricsMu.RLock()
	defer globalMetricsMu.RUnlock()

	if globalMetrics == nil {
		return NoopMetrics()
	}
	return globalMetrics
}

// NoopMetrics returns a metrics instance that records nothing.
func NoopMetrics() *Metrics {
	cfg := DefaultMetricsConfig()
	mp := sdkmetric.NewMeterProvider()
	return &Metrics{
		config:        cfg,
		meterProvider: mp,
		meter:         mp.Meter(cfg.ServiceName),
		shutdown:      func(context.Context) error { return nil },
	}
}
