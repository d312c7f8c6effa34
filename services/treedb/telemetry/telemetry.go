// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry configures OpenTelemetry tracing for the treedb server.
//
// Spans come from the otelgin middleware installed by the service; this
// package only decides where they are exported.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// ErrUnknownExporter is returned for an unsupported exporter name.
var ErrUnknownExporter = errors.New("unknown trace exporter")

// Exporter names accepted by Config.Exporter.
const (
	ExporterNone   = "none"
	ExporterOTLP   = "otlp"
	ExporterStdout = "stdout"
)

// Config controls trace export.
type Config struct {
	// ServiceName identifies this process in traces. Default: "treedb".
	ServiceName string

	// ServiceVersion is reported as service.version.
	ServiceVersion string

	// Exporter is "none", "otlp" or "stdout". Default: "none".
	Exporter string

	// OTLPEndpoint is the collector's gRPC endpoint, e.g. "localhost:4317".
	OTLPEndpoint string

	// Output receives stdout-exporter spans. Default: os.Stdout.
	Output io.Writer

	// ShutdownTimeout bounds the final flush. Default: 5s.
	ShutdownTimeout time.Duration
}

// ShutdownFunc flushes and stops the tracer provider.
type ShutdownFunc func(context.Context) error

func noopShutdown(context.Context) error { return nil }

// Init installs a global tracer provider and propagator for cfg.
//
// # Description
//
// With Exporter "none" nothing is installed and the returned shutdown is
// a no-op. Otherwise spans are batched to the chosen exporter and the W3C
// trace-context and baggage propagators are registered.
//
// # Outputs
//
//   - ShutdownFunc: Must be called on exit to flush pending spans.
//   - error: ErrUnknownExporter, or an exporter construction error.
//
// # Thread Safety
//
// Call once at startup.
func Init(ctx context.Context, cfg Config) (ShutdownFunc, error) {
	cfg = applyDefaults(cfg)
	if cfg.Exporter == ExporterNone {
		return noopShutdown, nil
	}

	exporter, closeConn, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(cfg.ServiceVersion),
		))
	if err != nil {
		_ = closeConn()
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter))

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
		defer cancel()
		return errors.Join(tp.Shutdown(ctx), closeConn())
	}, nil
}

func applyDefaults(cfg Config) Config {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "treedb"
	}
	if cfg.Exporter == "" {
		cfg.Exporter = ExporterNone
	}
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}
	return cfg
}

// newExporter builds the span exporter and a closer for any connection it
// owns.
func newExporter(ctx context.Context, cfg Config) (sdktrace.SpanExporter, func() error, error) {
	nothing := func() error { return nil }

	switch cfg.Exporter {
	case ExporterOTLP:
		if cfg.OTLPEndpoint == "" {
			return nil, nil, fmt.Errorf("otlp exporter requires an endpoint")
		}
		conn, err := grpc.NewClient(cfg.OTLPEndpoint,
			grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create gRPC connection: %w", err)
		}
		exp, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
		if err != nil {
			_ = conn.Close()
			return nil, nil, fmt.Errorf("failed to create trace exporter: %w", err)
		}
		return exp, conn.Close, nil

	case ExporterStdout:
		exp, err := stdouttrace.New(stdouttrace.WithWriter(cfg.Output))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create stdout exporter: %w", err)
		}
		return exp, nothing, nil

	default:
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownExporter, cfg.Exporter)
	}
}
