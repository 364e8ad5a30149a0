package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func useRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	setTracer(nil, tp.Tracer("test"))
	t.Cleanup(func() { setTracer(nil, nil) })
	return rec
}

func TestStartSpan_RecordsAttributesAndError(t *testing.T) {
	rec := useRecorder(t)

	_, span := StartSpan(context.Background(), "tool.execute", Attr("tool", "list_todos"), Attr("count", 3))
	EndSpan(span, errors.New("boom"))

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "tool.execute", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Len(t, spans[0].Events(), 1)

	attrs := map[string]string{}
	for _, kv := range spans[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, "list_todos", attrs["tool"])
	assert.Equal(t, "3", attrs["count"])
}

func TestStartSpan_NestsUnderParent(t *testing.T) {
	rec := useRecorder(t)

	ctx, parent := StartSpan(context.Background(), "chat.turn")
	_, child := StartSpan(ctx, "llm.complete")
	EndSpan(child, nil)
	EndSpan(parent, nil)

	spans := rec.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, spans[1].SpanContext().SpanID(), spans[0].Parent().SpanID())
	assert.Equal(t, codes.Ok, spans[0].Status().Code)
}

func TestInit_Disabled(t *testing.T) {
	require.NoError(t, Init(context.Background(), Config{Enabled: false}, nil))
	require.NoError(t, Shutdown(context.Background()))

	_, span := StartSpan(context.Background(), "noop")
	EndSpan(span, nil)
}

func TestInit_UnknownExporter(t *testing.T) {
	err := Init(context.Background(), Config{Enabled: true, Exporter: "carrier-pigeon"}, nil)
	assert.Error(t, err)
}

func TestAttr(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  string
	}{
		{"string", "x", "x"},
		{"int", 42, "42"},
		{"bool", true, "true"},
		{"float", 1.5, "1.5"},
		{"duration as ms", 1500 * time.Millisecond, "1500"},
		{"fallback", []string{"a"}, "[a]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Attr("k", tt.value).Value.Emit())
		})
	}
}

func TestParseHeaders(t *testing.T) {
	assert.Nil(t, ParseHeaders(""))
	assert.Equal(t,
		map[string]string{"Authorization": "Basic abc=", "x-team": "todo"},
		ParseHeaders("Authorization=Basic abc=, x-team=todo,broken"),
	)
}
