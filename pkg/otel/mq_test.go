package otel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestHeadersRoundTripTraceContext(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})

	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	headers := map[string]any{"x-trace-id": "abc"}
	InjectHeaders(ctx, headers)
	assert.Equal(t, "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01", headers["traceparent"])

	got := trace.SpanContextFromContext(ExtractHeaders(context.Background(), headers))
	assert.Equal(t, traceID, got.TraceID())
	assert.True(t, got.IsRemote())
}

func TestExtractWithoutHeaders(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, ctx, ExtractHeaders(ctx, nil))
}
