// Package observability configures the process-wide structured logger.
//
// Logs go through slog. With an OTLP endpoint configured in the standard
// OTEL_EXPORTER_OTLP_* environment, slog is bridged to the OpenTelemetry
// log pipeline; otherwise records are written to stderr in the configured
// text or json format.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/contrib/processors/minsev"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// ShutdownFunc flushes and stops the logging pipeline.
type ShutdownFunc func(context.Context) error

// Instrument installs the process-wide default logger and returns a
// shutdown hook for the export pipeline (a no-op for plain stderr logging).
func Instrument(level slog.Level, format string) (ShutdownFunc, error) {
	if os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") == "" && os.Getenv("OTEL_LOGS_EXPORTER") == "" {
		slog.SetDefault(slog.New(stderrHandler(level, format)))
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := newExporter(context.Background())
	if err != nil {
		return nil, fmt.Errorf("create log exporter: %w", err)
	}

	provider := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(
			minsev.NewLogProcessor(sdklog.NewBatchProcessor(exporter), severityFor(level)),
		),
	)

	slog.SetDefault(otelslog.NewLogger("anthrogate", otelslog.WithLoggerProvider(provider)))
	return provider.Shutdown, nil
}

// newExporter picks the exporter from the standard OTel environment:
// OTEL_LOGS_EXPORTER=console for stdout debugging, otherwise OTLP over
// the configured protocol (http/protobuf unless grpc is requested).
func newExporter(ctx context.Context) (sdklog.Exporter, error) {
	if os.Getenv("OTEL_LOGS_EXPORTER") == "console" {
		return stdoutlog.New()
	}

	if os.Getenv("OTEL_EXPORTER_OTLP_PROTOCOL") == "grpc" {
		return otlploggrpc.New(ctx)
	}
	return otlploghttp.New(ctx)
}

func stderrHandler(level slog.Level, format string) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.NewTextHandler(os.Stderr, opts)
}

// severityFor maps slog levels onto the minimum-severity filter.
func severityFor(level slog.Level) minsev.Severity {
	switch {
	case level <= slog.LevelDebug:
		return minsev.SeverityDebug
	case level <= slog.LevelInfo:
		return minsev.SeverityInfo
	case level <= slog.LevelWarn:
		return minsev.SeverityWarn
	default:
		return minsev.SeverityError
	}
}
