package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace"
)

func TestInfoCtxWithoutSpanOmitsTraceFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(slog.New(slog.NewJSONHandler(&buf, nil)))

	l.InfoCtx(context.Background(), "boot", slog.String("component", "sensor"))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "sensor", entry["component"])
	require.NotContains(t, entry, "trace_id")
}

func TestInfoCtxWithSpanAddsTraceFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(slog.New(slog.NewJSONHandler(&buf, nil)))

	tp := trace.NewTracerProvider()
	tracer := tp.Tracer("test")
	ctx, span := tracer.Start(context.Background(), "calibrate")
	defer span.End()

	l.InfoCtx(ctx, "calibration started")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.NotEmpty(t, entry["trace_id"])
	require.NotEmpty(t, entry["span_id"])
}

func TestErrorCtxAndWarnCtxUseCorrectLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(slog.New(slog.NewJSONHandler(&buf, nil)))

	l.ErrorCtx(context.Background(), "drift critical")
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "ERROR", entry["level"])

	buf.Reset()
	l.WarnCtx(context.Background(), "drift warning")
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "WARN", entry["level"])
}
