package server_test

import (
	"os"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

// spans records every server span of the package's tests.
var spans = tracetest.NewInMemoryExporter()

func TestMain(m *testing.M) {
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(spans))
	otel.SetTracerProvider(tp)
	os.Exit(m.Run())
}

// spanFor returns the name of the recorded span in the trace identified by
// correlationID, or "".
func spanFor(correlationID string) string {
	for _, s := range spans.GetSpans() {
		if s.SpanContext.TraceID().String() == correlationID && s.SpanKind == trace.SpanKindServer {
			return s.Name
		}
	}
	return ""
}
