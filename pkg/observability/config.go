// Package observability wires OpenTelemetry traces and metrics, the
// Prometheus scrape handler and the slog logger used by geoval runs.
package observability

import (
	"log/slog"
	"time"
)

const (
	serviceName            = "geoval"
	defaultShutdownTimeout = 5 * time.Second
)

// Export selects where telemetry goes. The zero value exports nothing.
type Export struct {
	// Endpoint is an OTLP gRPC collector, e.g. "localhost:4317".
	Endpoint string
	Headers  map[string]string
	Insecure bool

	// Prometheus adds a pull reader exposed as Providers.MetricsHandler.
	Prometheus bool

	// SampleRatio in (0, 1] samples root traces; zero keeps all of them.
	// OTEL_TRACES_SAMPLER overrides it.
	SampleRatio float64
}

func (e Export) otlp() bool { return e.Endpoint != "" }

// Logging shapes the run logger.
type Logging struct {
	Level slog.Level
	JSON  bool
}

// Config describes one process's telemetry.
type Config struct {
	Version     string
	Environment string

	// RunID is attached to every log record and to the resource.
	RunID string

	Export  Export
	Logging Logging

	// ShutdownTimeout bounds the final flush. Zero means five seconds.
	ShutdownTimeout time.Duration
}

func (c Config) shutdownTimeout() time.Duration {
	if c.ShutdownTimeout <= 0 {
		return defaultShutdownTimeout
	}

	return c.ShutdownTimeout
}
