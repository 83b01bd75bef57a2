package server

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"brightcart/internal/observability/logging"
)

func TestRequestIDMiddlewareGeneratesWhenMissing(t *testing.T) {
	var captured string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured, _ = logging.RequestIDFromContext(r.Context())
	})
	middleware := requestIDMiddlewareWithGenerator(slog.Default(), func() string { return "generated-id" }, inner)

	rec := httptest.NewRecorder()
	middleware.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/products", nil))

	if captured != "generated-id" {
		t.Fatalf("expected generated id on context, got %q", captured)
	}
	if got := rec.Header().Get("X-Request-Id"); got != "generated-id" {
		t.Fatalf("expected generated id header, got %q", got)
	}
}

func TestRequestIDMiddlewarePreservesInbound(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	middleware := requestIDMiddleware(slog.Default(), inner)

	req := httptest.NewRequest(http.MethodGet, "/api/products", nil)
	req.Header.Set("X-Request-Id", "  req-inbound-7  ")
	rec := httptest.NewRecorder()
	middleware.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-Id"); got != "req-inbound-7" {
		t.Fatalf("expected trimmed inbound id, got %q", got)
	}
}

func TestNewRequestIDIsUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 64; i++ {
		id := newRequestID()
		if len(id) != 32 {
			t.Fatalf("expected 32 hex characters, got %q", id)
		}
		if seen[id] {
			t.Fatalf("duplicate request id %q", id)
		}
		seen[id] = true
	}
}

func TestLoggingIncludesRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	chain := requestIDMiddlewareWithGenerator(logger, func() string { return "req-log-1" }, loggingMiddleware(logger, inner))

	rec := httptest.NewRecorder()
	chain.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/products", nil))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log entry: %v (%s)", err, buf.String())
	}
	if entry["request_id"] != "req-log-1" {
		t.Fatalf("expected request_id in access log, got %v", entry)
	}
	if entry["status"] != float64(http.StatusNoContent) {
		t.Fatalf("expected status in access log, got %v", entry)
	}
}
