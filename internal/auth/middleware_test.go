package auth

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestStaticAPIKeyValidatorParsing(t *testing.T) {
	validator, err := NewStaticAPIKeyValidator("k1:warehouse|logs:query_reader|files_reader, k2:*:query_reader")
	if err != nil {
		t.Fatalf("NewStaticAPIKeyValidator() error = %v", err)
	}
	identity, ok := validator.Validate(context.Background(), "k1")
	if !ok {
		t.Fatal("expected key to be valid")
	}
	if !identity.CanAccess("warehouse") || !identity.CanAccess("logs") {
		t.Fatalf("Connections = %v", identity.Connections)
	}
	if identity.CanAccess("lake") {
		t.Fatal("k1 should not access lake")
	}
	if !identity.HasRole(RoleFilesReader) {
		t.Fatal("expected files_reader role")
	}

	wildcard, ok := validator.Validate(context.Background(), "k2")
	if !ok {
		t.Fatal("expected k2 to be valid")
	}
	if !wildcard.CanAccess("anything") {
		t.Fatal("wildcard identity should access every connection")
	}
	if wildcard.HasRole(RoleFilesReader) {
		t.Fatal("k2 should not hold files_reader")
	}
	if _, ok := validator.Validate(context.Background(), "k3"); ok {
		t.Fatal("unknown key should be rejected")
	}
}

func TestStaticAPIKeyValidatorRejectsBadSpec(t *testing.T) {
	specs := []string{
		"invalid",
		":warehouse:query_reader",
		"k1::query_reader",
		"k1:warehouse:",
		"k1:warehouse:admin",
		"k1:warehouse:query_reader,k1:logs:query_reader",
	}
	for _, spec := range specs {
		if _, err := NewStaticAPIKeyValidator(spec); err == nil {
			t.Fatalf("expected parse error for %q", spec)
		}
	}
}

func TestMiddlewareRequiresKey(t *testing.T) {
	validator, err := NewStaticAPIKeyValidator("k1:warehouse:query_reader")
	if err != nil {
		t.Fatalf("validator setup: %v", err)
	}

	mw := Middleware(slog.New(slog.NewJSONHandler(io.Discard, nil)), validator)
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/connections", nil))

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusUnauthorized)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["error_code"] != "UNAUTHORIZED" || body["retryable"] != false {
		t.Fatalf("body = %v", body)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/connections", nil)
	req.Header.Set("X-API-Key", "wrong")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusUnauthorized)
	}
}

func TestMiddlewareInjectsIdentity(t *testing.T) {
	validator, err := NewStaticAPIKeyValidator("k1:warehouse:query_reader")
	if err != nil {
		t.Fatalf("validator setup: %v", err)
	}

	mw := Middleware(nil, validator)
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := IdentityFromContext(r.Context())
		if !ok {
			t.Fatal("expected identity in context")
		}
		if !identity.CanAccess("warehouse") {
			t.Fatalf("Connections = %v", identity.Connections)
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/connections", nil)
	req.Header.Set("Authorization", "Bearer k1")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestExtractAPIKey(t *testing.T) {
	tests := []struct {
		name          string
		header        string
		authorization string
		wantKey       string
		wantSource    string
	}{
		{name: "header", header: " k1 ", wantKey: "k1", wantSource: keySourceHeader},
		{name: "bearer", authorization: "Bearer k2", wantKey: "k2", wantSource: keySourceBearer},
		{name: "lowercase scheme", authorization: "bearer k3", wantKey: "k3", wantSource: keySourceBearer},
		{name: "header wins", header: "k1", authorization: "Bearer k2", wantKey: "k1", wantSource: keySourceHeader},
		{name: "basic", authorization: "Basic dXNlcjpwYXNz"},
		{name: "empty bearer", authorization: "Bearer   "},
		{name: "none"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/connections", nil)
			if tt.header != "" {
				req.Header.Set("X-API-Key", tt.header)
			}
			if tt.authorization != "" {
				req.Header.Set("Authorization", tt.authorization)
			}
			key, source := extractAPIKey(req)
			if key != tt.wantKey || source != tt.wantSource {
				t.Fatalf("extractAPIKey() = %q, %q, want %q, %q", key, source, tt.wantKey, tt.wantSource)
			}
		})
	}
}

func TestMiddlewareCountsAndLogsRejections(t *testing.T) {
	validator, err := NewStaticAPIKeyValidator("k1:warehouse:query_reader")
	if err != nil {
		t.Fatalf("validator setup: %v", err)
	}
	var logs strings.Builder
	handler := Middleware(slog.New(slog.NewJSONHandler(&logs, nil)), validator)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	missingBefore := authFailures(t, "missing_key")
	invalidBefore := authFailures(t, "invalid_key")

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/connections", nil))
	req := httptest.NewRequest(http.MethodGet, "/v1/connections", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if got := authFailures(t, "missing_key") - missingBefore; got != 1 {
		t.Fatalf("missing_key failures = %v, want 1", got)
	}
	if got := authFailures(t, "invalid_key") - invalidBefore; got != 1 {
		t.Fatalf("invalid_key failures = %v, want 1", got)
	}
	if !strings.Contains(logs.String(), `"key_source":"bearer"`) || strings.Contains(logs.String(), "wrong") {
		t.Fatalf("logs = %s", logs.String())
	}
}

func authFailures(t *testing.T, reason string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, family := range families {
		if family.GetName() != "querygrid_auth_failures_total" {
			continue
		}
		for _, metric := range family.GetMetric() {
			for _, pair := range metric.GetLabel() {
				if pair.GetName() == "reason" && pair.GetValue() == reason {
					return metric.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}
