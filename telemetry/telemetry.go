// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package telemetry initializes the OpenTelemetry SDK for the fileserver.
//
// Traces, metrics and logs are all exported as JSON to a single writer,
// stdout by default. The providers are registered globally so packages only
// ever reach for otel.Tracer and otel.Meter.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	otelbridge "go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// Config
type Config struct {
	Enabled     bool   `config:"enabled"`
	ServiceName string `config:"service_name"`
}

// Option
type Option func(*Providers)

// Writer sets where the exporters write to. The default is [os.Stdout].
func Writer(w io.Writer) Option {
	return func(p *Providers) {
		p.w = w
	}
}

// Providers holds the SDK providers created by [Init].
// The zero value represents disabled telemetry.
type Providers struct {
	w           io.Writer
	serviceName string

	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	loggerProvider *sdklog.LoggerProvider
}

// InitError is returned when one of the telemetry signals could not be set up.
type InitError struct {
	Signal string
	Cause  error
}

// Error implements the [builtin.error] interface.
func (e InitError) Error() string {
	return fmt.Sprintf("failed to initialize %s telemetry: %s", e.Signal, e.Cause)
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e InitError) Unwrap() error {
	return e.Cause
}

// Init creates the tracer, meter and logger providers and registers them
// globally. If telemetry is disabled nothing is registered and the returned
// [Providers] are inert.
func Init(ctx context.Context, cfg Config, opts ...Option) (*Providers, error) {
	p := &Providers{
		w:           os.Stdout,
		serviceName: cfg.ServiceName,
	}
	for _, opt := range opts {
		opt(p)
	}
	if !cfg.Enabled {
		return p, nil
	}
	if p.serviceName == "" {
		p.serviceName = "fileserver"
	}

	res, err := resource.New(
		ctx,
		resource.WithAttributes(semconv.ServiceName(p.serviceName)),
	)
	if err != nil {
		return nil, InitError{Signal: "resource", Cause: err}
	}

	err = p.initTracing(res)
	if err != nil {
		return nil, err
	}

	err = p.initMetrics(res)
	if err != nil {
		return nil, errors.Join(err, p.Shutdown(ctx))
	}

	err = p.initLogging(res)
	if err != nil {
		return nil, errors.Join(err, p.Shutdown(ctx))
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	otel.SetTracerProvider(p.tracerProvider)
	otel.SetMeterProvider(p.meterProvider)
	global.SetLoggerProvider(p.loggerProvider)
	return p, nil
}

func (p *Providers) initTracing(res *resource.Resource) error {
	exp, err := stdouttrace.New(stdouttrace.WithWriter(p.w))
	if err != nil {
		return InitError{Signal: "trace", Cause: err}
	}

	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exp),
	)
	return nil
}

func (p *Providers) initMetrics(res *resource.Resource) error {
	exp, err := stdoutmetric.New(stdoutmetric.WithWriter(p.w))
	if err != nil {
		return InitError{Signal: "metric", Cause: err}
	}

	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp)),
	)
	return nil
}

func (p *Providers) initLogging(res *resource.Resource) error {
	exp, err := stdoutlog.New(stdoutlog.WithWriter(p.w))
	if err != nil {
		return InitError{Signal: "log", Cause: err}
	}

	p.loggerProvider = sdklog.NewLoggerProvider(
		sdklog.WithResource(res),
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exp)),
	)
	return nil
}

// Enabled reports whether [Init] actually created providers.
func (p *Providers) Enabled() bool {
	return p.tracerProvider != nil
}

// LogHandler returns a [slog.Handler] which forwards records to the
// OpenTelemetry log SDK, or nil if telemetry is disabled.
func (p *Providers) LogHandler() slog.Handler {
	if p.loggerProvider == nil {
		return nil
	}
	return otelbridge.NewHandler(
		p.serviceName,
		otelbridge.WithLoggerProvider(p.loggerProvider),
	)
}

// Shutdown flushes and stops every provider. It is safe to call on
// disabled [Providers].
func (p *Providers) Shutdown(ctx context.Context) error {
	var errs []error
	if p.tracerProvider != nil {
		errs = append(errs, p.tracerProvider.Shutdown(ctx))
	}
	if p.meterProvider != nil {
		errs = append(errs, p.meterProvider.Shutdown(ctx))
	}
	if p.loggerProvider != nil {
		errs = append(errs, p.loggerProvider.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
