package observability

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestTraceMiddlewarePreservesIncomingTraceID(t *testing.T) {
	h := TraceMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := TraceIDFromContext(r.Context()); got != "trace-1" {
			t.Fatalf("TraceIDFromContext() = %q", got)
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	req.Header.Set(traceHeader, "trace-1")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if got := rr.Header().Get(traceHeader); got != "trace-1" {
		t.Fatalf("trace header = %q", got)
	}
}

func TestTraceMiddlewareGeneratesTraceID(t *testing.T) {
	h := TraceMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if TraceIDFromContext(r.Context()) == "" {
			t.Fatal("expected generated trace id")
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/health", nil))

	if rr.Header().Get(traceHeader) == "" {
		t.Fatal("expected X-Trace-ID header")
	}
}

func TestTraceIDContextHelpers(t *testing.T) {
	ctx := ContextWithTraceID(context.Background(), "abc123")
	if got := TraceIDFromContext(ctx); got != "abc123" {
		t.Fatalf("TraceIDFromContext() = %q", got)
	}
}

func TestLoggingMiddlewareDoesNotPanic(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	h := LoggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil))
}

func TestRouteLabelUsesMuxPattern(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/v1/connections/warehouse/files", nil)
	if got := routeLabel(req); got != "/v1/connections/warehouse/files" {
		t.Fatalf("routeLabel() = %q", got)
	}
	req.Pattern = "GET /v1/connections/{name}/files"
	if got := routeLabel(req); got != "/v1/connections/{name}/files" {
		t.Fatalf("routeLabel() = %q", got)
	}
}

func TestMetricsMiddlewareLabelsByRoutePattern(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/connections/{name}/files", func(w http.ResponseWriter, r *http.Request) {
		if got := gaugeValue(t, "querygrid_http_requests_in_flight"); got < 1 {
			t.Errorf("in flight = %v during request", got)
		}
		w.WriteHeader(http.StatusOK)
	})
	labels := map[string]string{"method": "GET", "route": "/v1/connections/{name}/files", "status": "200"}
	before := sampleValue(t, "querygrid_http_requests_total", labels)

	h := MetricsMiddleware(mux)
	for _, name := range []string{"warehouse", "lake"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/connections/"+name+"/files", nil))
	}

	if got := sampleValue(t, "querygrid_http_requests_total", labels) - before; got != 2 {
		t.Fatalf("requests = %v, want 2", got)
	}
}

func TestDomainMetricsCarryConnectionKind(t *testing.T) {
	labels := map[string]string{"kind": "sql_files", "dialect": "duckdb", "outcome": "backend_query"}
	before := sampleValue(t, "querygrid_queries_total", labels)

	ObserveQuery("sql_files", "duckdb", "backend_query", 0, 20*time.Millisecond)

	if got := sampleValue(t, "querygrid_queries_total", labels) - before; got != 1 {
		t.Fatalf("queries = %v, want 1", got)
	}
}

// sampleValue reads a counter from the default registry. Labels not named
// in labels are ignored.
func sampleValue(t *testing.T, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			matched := 0
			for _, pair := range metric.GetLabel() {
				if want, ok := labels[pair.GetName()]; ok && want == pair.GetValue() {
					matched++
				}
			}
			if matched == len(labels) {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func gaugeValue(t *testing.T, name string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, family := range families {
		if family.GetName() == name && len(family.GetMetric()) > 0 {
			return family.GetMetric()[0].GetGauge().GetValue()
		}
	}
	return 0
}
