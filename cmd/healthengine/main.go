package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dualpath/healthengine/internal/config"
	"github.com/dualpath/healthengine/internal/engine"
	"github.com/dualpath/healthengine/internal/events"
	"github.com/dualpath/healthengine/internal/telemetry"
)

func main() {
	addr := flag.String("addr", ":8090", "Read API listen address")
	configPath := flag.String("config", "", "Path to the JSON server configuration document (required)")
	instanceID := flag.String("instance-id", "healthengine", "Instance identifier attached to every structured log event")
	otelEnabled := flag.Bool("otel-enabled", false, "Enable OpenTelemetry metrics and tracing export")
	otelExporter := flag.String("otel-exporter", "stdout", "OpenTelemetry exporter: stdout, otlp-grpc, otlp-http")
	otelEndpoint := flag.String("otel-endpoint", "", "OTLP endpoint (for otlp-grpc/otlp-http exporters)")
	flag.Parse()

	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "Error: --config is required")
		os.Exit(1)
	}

	events.SetGlobalEventLogger(events.NewEventLogger(*instanceID))

	ctx := context.Background()

	metricsCfg := &telemetry.MetricsConfig{
		Enabled:      *otelEnabled,
		ServiceName:  *instanceID,
		ExporterType: telemetry.ExporterType(*otelExporter),
		OTLPEndpoint: *otelEndpoint,
		OTLPInsecure: true,
	}
	metrics, err := telemetry.NewMetrics(ctx, metricsCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing metrics: %v\n", err)
		os.Exit(1)
	}
	telemetry.SetGlobalMetrics(metrics)

	tracerCfg := &telemetry.Config{
		Enabled:      *otelEnabled,
		ServiceName:  *instanceID,
		ExporterType: telemetry.ExporterType(*otelExporter),
		OTLPEndpoint: *otelEndpoint,
		OTLPInsecure: true,
		SampleRate:   1.0,
	}
	tracer, err := telemetry.NewTracer(ctx, tracerCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing tracer: %v\n", err)
		os.Exit(1)
	}
	telemetry.SetGlobalTracer(tracer)

	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	opts := engine.DefaultOptions()
	opts.ListenAddr = *addr
	opts.InstanceID = *instanceID

	eng := engine.New(cfg, opts)
	if err := eng.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Error starting engine: %v\n", err)
		os.Exit(1)
	}

	slog.Info("healthengine listening", "addr", eng.API.Addr(), "servers", len(cfg.Servers))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := eng.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "Error during shutdown: %v\n", err)
	}
	if err := metrics.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "Error shutting down metrics: %v\n", err)
	}
	if err := tracer.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "Error shutting down tracer: %v\n", err)
	}
	slog.Info("healthengine stopped")
}
