package observability

import (
	"context"
	"io"
	"log/slog"

	"go.opentelemetry.io/otel/trace"
)

type jobKey struct{}

// WithJob tags ctx with a job's grid point. Records logged with that context
// through a ContextHandler carry a gpi attribute.
func WithJob(ctx context.Context, gpi int64) context.Context {
	return context.WithValue(ctx, jobKey{}, gpi)
}

// JobFrom returns the grid point stored by WithJob.
func JobFrom(ctx context.Context) (int64, bool) {
	gpi, ok := ctx.Value(jobKey{}).(int64)

	return gpi, ok
}

// NewLogger returns the run logger: text or JSON per cfg.Logging, carrying
// service, env and run_id, with context attributes added by ContextHandler.
func NewLogger(cfg Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.Logging.Level}

	var base slog.Handler = slog.NewTextHandler(w, opts)
	if cfg.Logging.JSON {
		base = slog.NewJSONHandler(w, opts)
	}

	attrs := []slog.Attr{slog.String("service", serviceName)}
	if cfg.Environment != "" {
		attrs = append(attrs, slog.String("env", cfg.Environment))
	}

	if cfg.RunID != "" {
		attrs = append(attrs, slog.String("run_id", cfg.RunID))
	}

	return slog.New(NewContextHandler(base.WithAttrs(attrs)))
}

// ContextHandler adds the active span ids and the job set by WithJob to
// every record before passing it on.
type ContextHandler struct {
	next slog.Handler
}

// NewContextHandler wraps next.
func NewContextHandler(next slog.Handler) *ContextHandler {
	return &ContextHandler{next: next}
}

// Enabled reports whether next handles level.
func (h *ContextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

// Handle implements slog.Handler.
func (h *ContextHandler) Handle(ctx context.Context, record slog.Record) error {
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		record.AddAttrs(slog.String("trace_id", sc.TraceID().String()), slog.String("span_id", sc.SpanID().String()))
	}

	if gpi, ok := JobFrom(ctx); ok {
		record.AddAttrs(slog.Int64("gpi", gpi))
	}

	return h.next.Handle(ctx, record)
}

// WithAttrs implements slog.Handler.
func (h *ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ContextHandler{next: h.next.WithAttrs(attrs)}
}

// WithGroup implements slog.Handler.
func (h *ContextHandler) WithGroup(name string) slog.Handler {
	return &ContextHandler{next: h.next.WithGroup(name)}
}
