// Package logging wraps log/slog with OpenTelemetry trace/span
// correlation, directly adapted from the teacher's
// engine/telemetry/logging.Logger — the only difference is the
// correlation source: the teacher extracts IDs from its own in-process
// tracer, this station extracts them from a real
// go.opentelemetry.io/otel span in the context.
package logging

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/trace"
)

// Logger is the minimal correlated-logging contract every component
// programs against.
type Logger interface {
	InfoCtx(ctx context.Context, msg string, attrs ...any)
	WarnCtx(ctx context.Context, msg string, attrs ...any)
	ErrorCtx(ctx context.Context, msg string, attrs ...any)
}

type correlatedLogger struct{ base *slog.Logger }

// New wraps base (slog.Default() if nil) with trace correlation.
func New(base *slog.Logger) Logger {
	if base == nil {
		base = slog.Default()
	}
	return &correlatedLogger{base: base}
}

func (l *correlatedLogger) InfoCtx(ctx context.Context, msg string, attrs ...any) {
	l.base.InfoContext(ctx, msg, withTraceIDs(ctx, attrs)...)
}

func (l *correlatedLogger) WarnCtx(ctx context.Context, msg string, attrs ...any) {
	l.base.WarnContext(ctx, msg, withTraceIDs(ctx, attrs)...)
}

func (l *correlatedLogger) ErrorCtx(ctx context.Context, msg string, attrs ...any) {
	l.base.ErrorContext(ctx, msg, withTraceIDs(ctx, attrs)...)
}

func withTraceIDs(ctx context.Context, attrs []any) []any {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return attrs
	}
	return append(attrs, slog.String("trace_id", sc.TraceID().String()), slog.String("span_id", sc.SpanID().String()))
}
