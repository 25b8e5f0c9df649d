package observability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	noopmetric "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
)

const (
	envSampler    = "OTEL_TRACES_SAMPLER"
	envSamplerArg = "OTEL_TRACES_SAMPLER_ARG"

	attrRunIDResource = "geoval.run_id"
)

// Providers are the telemetry handles of one process.
type Providers struct {
	Tracer trace.Tracer
	Meter  metric.Meter
	Logger *slog.Logger

	// MetricsHandler is nil unless Export.Prometheus is set.
	MetricsHandler http.Handler

	// Shutdown flushes exporters; call it once before exit.
	Shutdown func(ctx context.Context) error
}

type stopFunc func(ctx context.Context) error

func stopNothing(context.Context) error { return nil }

// Init sets the global OpenTelemetry providers for cfg and builds a logger
// writing to logOut. Without any export configured the providers are no-ops.
func Init(cfg Config, logOut io.Writer) (Providers, error) {
	if logOut == nil {
		logOut = os.Stderr
	}

	ctx := context.Background()

	res, err := resource.New(ctx, resource.WithAttributes(resourceAttrs(cfg)...))
	if err != nil {
		return Providers{}, fmt.Errorf("otel resource: %w", err)
	}

	tp, stopTraces, err := tracerProvider(ctx, cfg.Export, res)
	if err != nil {
		return Providers{}, fmt.Errorf("tracer provider: %w", err)
	}

	mp, handler, stopMetrics, err := meterProvider(ctx, cfg.Export, res)
	if err != nil {
		return Providers{}, errors.Join(fmt.Errorf("meter provider: %w", err), stopTraces(ctx))
	}

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	timeout := cfg.shutdownTimeout()

	return Providers{
		Tracer:         tp.Tracer(serviceName),
		Meter:          mp.Meter(serviceName),
		Logger:         NewLogger(cfg, logOut),
		MetricsHandler: handler,
		Shutdown: func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			return errors.Join(stopTraces(ctx), stopMetrics(ctx))
		},
	}, nil
}

func resourceAttrs(cfg Config) []attribute.KeyValue {
	attrs := []attribute.KeyValue{semconv.ServiceName(serviceName)}

	if cfg.Version != "" {
		attrs = append(attrs, semconv.ServiceVersion(cfg.Version))
	}

	if cfg.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironment(cfg.Environment))
	}

	if cfg.RunID != "" {
		attrs = append(attrs, attribute.String(attrRunIDResource, cfg.RunID))
	}

	return attrs
}

func tracerProvider(ctx context.Context, e Export, res *resource.Resource) (trace.TracerProvider, stopFunc, error) {
	if !e.otlp() {
		return nooptrace.NewTracerProvider(), stopNothing, nil
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(e.Endpoint), otlptracegrpc.WithHeaders(e.Headers)}
	if e.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("otlp trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(Sampler(e.SampleRatio, os.Getenv(envSampler), os.Getenv(envSamplerArg))),
	)

	return tp, tp.Shutdown, nil
}

// Sampler picks the trace sampler. A sampler named by env (the
// OTEL_TRACES_SAMPLER value) wins over ratio.
func Sampler(ratio float64, env, envArg string) sdktrace.Sampler {
	switch env {
	case "":
	case "always_on":
		return sdktrace.AlwaysSample()
	case "always_off":
		return sdktrace.NeverSample()
	case "traceidratio":
		r, err := strconv.ParseFloat(envArg, 64)
		if err != nil {
			r = 1
		}

		return sdktrace.TraceIDRatioBased(r)
	}

	if ratio > 0 && ratio < 1 {
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
	}

	return sdktrace.ParentBased(sdktrace.AlwaysSample())
}

func meterProvider(
	ctx context.Context, e Export, res *resource.Resource,
) (metric.MeterProvider, http.Handler, stopFunc, error) {
	if !e.otlp() && !e.Prometheus {
		return noopmetric.NewMeterProvider(), nil, stopNothing, nil
	}

	opts := []sdkmetric.Option{sdkmetric.WithResource(res)}

	if e.otlp() {
		exportOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(e.Endpoint), otlpmetricgrpc.WithHeaders(e.Headers)}
		if e.Insecure {
			exportOpts = append(exportOpts, otlpmetricgrpc.WithInsecure())
		}

		exporter, err := otlpmetricgrpc.New(ctx, exportOpts...)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("otlp metric exporter: %w", err)
		}

		opts = append(opts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)))
	}

	var handler http.Handler

	if e.Prometheus {
		// A private registry keeps repeated Init calls from colliding.
		registry := prometheus.NewRegistry()

		reader, err := promexporter.New(promexporter.WithRegisterer(registry))
		if err != nil {
			return nil, nil, nil, fmt.Errorf("prometheus exporter: %w", err)
		}

		opts = append(opts, sdkmetric.WithReader(reader))
		handler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	}

	mp := sdkmetric.NewMeterProvider(opts...)

	return mp, handler, mp.Shutdown, nil
}

// ParseHeaders reads "key=value,key=value" into a map. Pairs without "="
// are ignored; nil is returned when nothing is left.
func ParseHeaders(raw string) map[string]string {
	var out map[string]string

	for pair := range strings.SplitSeq(raw, ",") {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}

		if out == nil {
			out = make(map[string]string)
		}

		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}

	return out
}
