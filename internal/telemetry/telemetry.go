// Package telemetry installs the process-wide OpenTelemetry tracer provider.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/book-expert/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/book-expert/llm-gateway/internal/config"
)

// OutputStdout writes spans to standard output.
const OutputStdout = "stdout"

const (
	fileMode = 0o600
	dirMode  = 0o750
)

// Shutdown flushes pending spans and releases the exporter.
type Shutdown func(ctx context.Context) error

func noopShutdown(context.Context) error { return nil }

// Setup installs a tracer provider exporting spans as JSON lines to
// cfg.Output. When tracing is disabled the global no-op provider stays in
// place and the returned Shutdown does nothing.
func Setup(cfg config.TelemetryConfig, environment string, log *logger.Logger) (Shutdown, error) {
	if !cfg.Enabled {
		return noopShutdown, nil
	}

	writer, closeWriter, err := openOutput(cfg.Output)
	if err != nil {
		return nil, err
	}

	exporter, err := stdouttrace.New(stdouttrace.WithWriter(writer))
	if err != nil {
		return nil, errors.Join(fmt.Errorf("failed to create span exporter: %w", err), closeWriter())
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("deployment.environment", environment),
	))
	if err != nil {
		return nil, errors.Join(fmt.Errorf("failed to build telemetry resource: %w", err), closeWriter())
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)

	log.Info("Tracing enabled: service=%s output=%s", cfg.ServiceName, cfg.Output)

	return func(ctx context.Context) error {
		return errors.Join(provider.Shutdown(ctx), closeWriter())
	}, nil
}

func openOutput(output string) (io.Writer, func() error, error) {
	if output == "" || output == OutputStdout {
		return os.Stdout, func() error { return nil }, nil
	}

	err := os.MkdirAll(filepath.Dir(output), dirMode)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create trace directory: %w", err)
	}

	file, err := os.OpenFile(output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, fileMode)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open trace file %s: %w", output, err)
	}

	return file, file.Close, nil
}
