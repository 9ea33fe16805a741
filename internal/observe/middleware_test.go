package observe

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// harness routes requests through Middleware with in-memory metrics, spans
// and logs. It swaps process globals, so its tests do not run in parallel.
type harness struct {
	handler http.Handler
	reader  *sdkmetric.ManualReader
	spans   *tracetest.InMemoryExporter
	logs    *bytes.Buffer
}

func newHarness(t *testing.T, mux *http.ServeMux) *harness {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	prevTP := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prevTP) })

	logs := &bytes.Buffer{}
	prevLog := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(prevLog) })

	return &harness{handler: Middleware(m)(mux), reader: reader, spans: exp, logs: logs}
}

func (h *harness) do(method, target string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func (h *harness) durations(t *testing.T) metricdata.Histogram[float64] {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := h.reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	met := findMetric(rm, "speakwell.http.request.duration")
	if met == nil {
		t.Fatal("request duration metric not recorded")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("duration metric is %T, want histogram", met.Data)
	}
	return hist
}

func coachMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/analyze", func(w http.ResponseWriter, r *http.Request) {
		Logger(r.Context()).Info("analysing")
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /v1/exercises/{level}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	return mux
}

func TestMiddleware_CorrelationHeader(t *testing.T) {
	h := newHarness(t, coachMux())

	fresh := h.do("POST", "/v1/analyze", nil)
	if cid := fresh.Header().Get("X-Correlation-ID"); len(cid) != 32 {
		t.Errorf("new trace: X-Correlation-ID = %q, want 32 hex chars", cid)
	}

	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"
	continued := h.do("POST", "/v1/analyze", http.Header{
		"Traceparent": {"00-" + traceID + "-00f067aa0ba902b7-01"},
	})
	if got := continued.Header().Get("X-Correlation-ID"); got != traceID {
		t.Errorf("continued trace: X-Correlation-ID = %q, want %q", got, traceID)
	}
	if !strings.Contains(continued.Header().Get("Traceparent"), traceID) {
		t.Errorf("traceparent not injected into response: %q", continued.Header().Get("Traceparent"))
	}
}

func TestMiddleware_SpanNamedAfterRoute(t *testing.T) {
	h := newHarness(t, coachMux())

	h.do("GET", "/v1/exercises/B2", nil)
	h.do("GET", "/missing", nil)

	spans := h.spans.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("spans = %d, want 2", len(spans))
	}
	if spans[0].Name != "GET /v1/exercises/{level}" {
		t.Errorf("routed span name = %q", spans[0].Name)
	}
	if spans[1].Name != "GET /missing" {
		t.Errorf("unrouted span name = %q", spans[1].Name)
	}

	var status int64
	for _, a := range spans[1].Attributes {
		if a.Key == "http.response.status_code" {
			status = a.Value.AsInt64()
		}
	}
	if status != http.StatusNotFound {
		t.Errorf("status attribute = %d, want 404", status)
	}
}

func TestMiddleware_DurationsGroupedByRoute(t *testing.T) {
	h := newHarness(t, coachMux())

	for _, level := range []string{"A1", "B1", "C2"} {
		h.do("GET", "/v1/exercises/"+level, nil)
	}
	h.do("POST", "/v1/analyze", nil)

	counts := map[string]uint64{}
	for _, dp := range h.durations(t).DataPoints {
		path, _ := dp.Attributes.Value("path")
		counts[path.AsString()] = dp.Count
	}
	if counts["GET /v1/exercises/{level}"] != 3 {
		t.Errorf("exercise requests = %d, want 3 (%v)", counts["GET /v1/exercises/{level}"], counts)
	}
	if counts["POST /v1/analyze"] != 1 {
		t.Errorf("analyze requests = %d, want 1 (%v)", counts["POST /v1/analyze"], counts)
	}
}

func TestMiddleware_SessionHeader(t *testing.T) {
	h := newHarness(t, coachMux())

	h.do("POST", "/v1/analyze", http.Header{SessionHeader: {"3f6c1b2e-live"}})

	if !strings.Contains(h.logs.String(), "session_id=3f6c1b2e-live") {
		t.Errorf("handler log missing session_id:\n%s", h.logs.String())
	}
	spans := h.spans.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	var found bool
	for _, a := range spans[0].Attributes {
		if a.Key == "session.id" && a.Value.AsString() == "3f6c1b2e-live" {
			found = true
		}
	}
	if !found {
		t.Error("span missing session.id attribute")
	}
}

func TestMiddleware_OversizedSessionHeaderIgnored(t *testing.T) {
	h := newHarness(t, coachMux())

	h.do("POST", "/v1/analyze", http.Header{SessionHeader: {strings.Repeat("x", maxSessionHeader+1)}})

	if strings.Contains(h.logs.String(), "session_id=") {
		t.Errorf("oversized session header was attached:\n%s", h.logs.String())
	}
}

func TestMiddleware_LogLevels(t *testing.T) {
	h := newHarness(t, coachMux())

	h.do("GET", "/readyz", nil)
	h.do("POST", "/v1/analyze", nil)

	levels := map[string]string{}
	for _, line := range strings.Split(h.logs.String(), "\n") {
		if !strings.Contains(line, `msg="request completed"`) {
			continue
		}
		for _, path := range []string{"/readyz", "/v1/analyze"} {
			if strings.Contains(line, "path="+path+" ") {
				_, rest, _ := strings.Cut(line, "level=")
				levels[path], _, _ = strings.Cut(rest, " ")
			}
		}
	}
	if levels["/readyz"] != "ERROR" {
		t.Errorf("failing probe logged at %q, want ERROR", levels["/readyz"])
	}
	if levels["/v1/analyze"] != "INFO" {
		t.Errorf("analysis logged at %q, want INFO", levels["/v1/analyze"])
	}
}

func TestLogLevel(t *testing.T) {
	tests := []struct {
		path   string
		status int
		want   slog.Level
	}{
		{"/v1/analyze", 200, slog.LevelInfo},
		{"/v1/analyze", 400, slog.LevelWarn},
		{"/v1/analyze", 500, slog.LevelError},
		{"/healthz", 200, slog.LevelDebug},
		{"/metrics", 200, slog.LevelDebug},
		{"/readyz", 503, slog.LevelError},
	}
	for _, tc := range tests {
		if got := logLevel(tc.path, tc.status); got != tc.want {
			t.Errorf("logLevel(%q, %d) = %v, want %v", tc.path, tc.status, got, tc.want)
		}
	}
}

func TestStatusRecorder_HijackUnsupported(t *testing.T) {
	rec := &statusRecorder{ResponseWriter: httptest.NewRecorder(), statusCode: http.StatusOK}
	if _, _, err := rec.Hijack(); err == nil {
		t.Error("expected error hijacking a recorder")
	}
	if rec.Unwrap() == nil {
		t.Error("Unwrap returned nil")
	}
}
