// Package telemetry exposes capture metrics through an OpenTelemetry meter
// provider backed by a Prometheus exporter, and optionally exports session
// traces to a file or an OTLP collector.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.30.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const serviceName = "earshot"

// Trace exporters accepted in Options.Traces.
const (
	TracesOff  = ""
	TracesFile = "file"
	TracesOTLP = "otlp"
)

// Options configures a Provider.
type Options struct {
	Version string
	// Traces selects the span exporter; TracesOff disables tracing.
	Traces string
	// TraceFile receives JSON spans when Traces is TracesFile.
	TraceFile    string
	OTLPEndpoint string
	OTLPInsecure bool
	Logger       *slog.Logger
}

// Provider owns the meter and tracer providers and the registry behind /metrics.
type Provider struct {
	meters  *sdkmetric.MeterProvider
	handler http.Handler

	traces    *sdktrace.TracerProvider
	traceFile *os.File
}

// New builds a provider whose metrics are scraped from Handler.
func New(ctx context.Context, opts Options) (*Provider, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(opts.Version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("build telemetry resource: %w", err)
	}

	registry := prometheus.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("create prometheus exporter: %w", err)
	}

	p := &Provider{
		meters: sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(exporter),
			sdkmetric.WithResource(res),
		),
		handler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	}
	if err := p.initTracer(ctx, opts, res, logger); err != nil {
		_ = p.meters.Shutdown(ctx)
		return nil, err
	}
	return p, nil
}

func (p *Provider) initTracer(ctx context.Context, opts Options, res *resource.Resource, logger *slog.Logger) error {
	var exporter sdktrace.SpanExporter
	switch strings.TrimSpace(opts.Traces) {
	case TracesOff:
		return nil
	case TracesFile:
		path := strings.TrimSpace(opts.TraceFile)
		if path == "" {
			return errors.New("trace file path is empty")
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return fmt.Errorf("create trace dir: %w", err)
		}
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
		if err != nil {
			return fmt.Errorf("open trace file: %w", err)
		}
		exp, err := stdouttrace.New(stdouttrace.WithWriter(f))
		if err != nil {
			_ = f.Close()
			return fmt.Errorf("create file trace exporter: %w", err)
		}
		p.traceFile = f
		exporter = exp
		logger.Info("tracing enabled", "exporter", TracesFile, "path", path)
	case TracesOTLP:
		endpoint := strings.TrimSpace(opts.OTLPEndpoint)
		if endpoint == "" {
			return errors.New("otlp endpoint is empty")
		}
		clientOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint)}
		if opts.OTLPInsecure {
			clientOpts = append(clientOpts, otlptracegrpc.WithInsecure())
		}
		exp, err := otlptracegrpc.New(ctx, clientOpts...)
		if err != nil {
			return fmt.Errorf("create otlp trace exporter: %w", err)
		}
		exporter = exp
		logger.Info("tracing enabled", "exporter", TracesOTLP, "endpoint", endpoint)
	default:
		return fmt.Errorf("unknown trace exporter %q", opts.Traces)
	}

	p.traces = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	return nil
}

// Meter returns a named meter from this provider.
func (p *Provider) Meter(name string) metric.Meter {
	return p.meters.Meter(name)
}

// Tracer returns a named tracer, or a no-op tracer when tracing is off.
func (p *Provider) Tracer(name string) trace.Tracer {
	if p.traces == nil {
		return noop.NewTracerProvider().Tracer(name)
	}
	return p.traces.Tracer(name)
}

// Install makes p the global meter and tracer provider.
func (p *Provider) Install() {
	otel.SetMeterProvider(p.meters)
	if p.traces != nil {
		otel.SetTracerProvider(p.traces)
	}
}

// Handler serves the Prometheus text exposition.
func (p *Provider) Handler() http.Handler {
	return p.handler
}

// Shutdown flushes pending spans and stops both providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	errs := []error{p.meters.Shutdown(ctx)}
	if p.traces != nil {
		errs = append(errs, p.traces.Shutdown(ctx))
	}
	if p.traceFile != nil {
		errs = append(errs, p.traceFile.Close())
	}
	return errors.Join(errs...)
}

// Serve exposes /metrics on listener until ctx ends.
func (p *Provider) Serve(ctx context.Context, listener net.Listener, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", p.handler)

	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	})
	defer stop()

	logger.Info("metrics endpoint listening", "addr", listener.Addr().String())
	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve metrics: %w", err)
	}
	return nil
}
