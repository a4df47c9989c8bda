package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"

	"RedChat/internal/config"
)

const (
	serviceName    = "redchat"
	metricInterval = 10 * time.Second
)

// ParseLevel maps a config level name to a slog level
func ParseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func rotatingFile(dir, name string) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   filepath.Join(dir, name),
		MaxSize:    10, // 10 MB
		MaxBackups: 3,
		MaxAge:     28,
		Compress:   true,
	}
}

// InitLogger initializes structured logging with rotation. The returned
// closer flushes and closes the log file.
func InitLogger(cfg config.LoggingConfig) (*slog.Logger, io.Closer, error) {
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, nil, fmt.Errorf("failed to create logs directory: %w", err)
	}

	logFile := rotatingFile(cfg.Dir, "redchat.log")

	var out io.Writer = logFile
	if cfg.Stdout {
		out = io.MultiWriter(os.Stdout, logFile)
	}

	handler := slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: ParseLevel(cfg.Level),
	})

	logger := slog.New(handler)
	slog.SetDefault(logger)

	return logger, logFile, nil
}

// Telemetry owns the tracer and meter providers and the files they export to
type Telemetry struct {
	Tracer trace.Tracer
	Meter  metric.Meter

	tp    *sdktrace.TracerProvider
	mp    *sdkmetric.MeterProvider
	files []io.Closer
}

// newResource tags every span and metric with the serving backend and store
func newResource(ctx context.Context, cfg *config.Config, version string) (*resource.Resource, error) {
	return resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(version),
			attribute.String("redchat.llm.backend", cfg.LLM.Backend),
			attribute.String("redchat.llm.model", cfg.LLM.Model),
			attribute.String("redchat.store.driver", cfg.Store.Driver),
			attribute.Bool("redchat.async_titles", cfg.AsyncTitles),
		),
	)
}

// InitTelemetry installs global OpenTelemetry providers. Spans are written
// to <logging.dir>/redchat_traces.log and metrics to redchat_metrics.log
// every ten seconds.
func InitTelemetry(ctx context.Context, cfg *config.Config, version string) (*Telemetry, error) {
	res, err := newResource(ctx, cfg, version)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	dir := cfg.Logging.Dir
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create logs directory: %w", err)
	}

	t := &Telemetry{}

	traceFile := rotatingFile(dir, "redchat_traces.log")
	t.files = append(t.files, traceFile)
	traceExporter, err := stdouttrace.New(stdouttrace.WithWriter(traceFile))
	if err != nil {
		t.closeFiles()
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}
	t.tp = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
	)

	metricsFile := rotatingFile(dir, "redchat_metrics.log")
	t.files = append(t.files, metricsFile)
	metricExporter, err := stdoutmetric.New(stdoutmetric.WithWriter(metricsFile))
	if err != nil {
		_ = t.tp.Shutdown(ctx)
		t.closeFiles()
		return nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}
	t.mp = sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter, sdkmetric.WithInterval(metricInterval))),
		sdkmetric.WithResource(res),
	)

	otel.SetTracerProvider(t.tp)
	otel.SetMeterProvider(t.mp)

	t.Tracer = t.tp.Tracer(serviceName)
	t.Meter = t.mp.Meter(serviceName)
	return t, nil
}

// Shutdown flushes pending spans and metrics and closes the export files
func (t *Telemetry) Shutdown(ctx context.Context) error {
	err := errors.Join(
		t.tp.Shutdown(ctx),
		t.mp.Shutdown(ctx),
	)
	return errors.Join(err, t.closeFiles())
}

func (t *Telemetry) closeFiles() error {
	var errs []error
	for _, f := range t.files {
		errs = append(errs, f.Close())
	}
	return errors.Join(errs...)
}
