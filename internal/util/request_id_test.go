package util

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWithRequestIDAdoptsCallerID(t *testing.T) {
	const incoming = "dashboard-trace-42"
	handler := WithRequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := RequestIDFromRequest(r); got != incoming {
			t.Fatalf("request id in context = %q, want %q", got, incoming)
		}
		if lg := LoggerFromContext(r.Context()); lg == nil {
			t.Fatal("expected request-scoped logger in context")
		}
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/breach/status", nil)
	req.Header.Set(RequestIDHeader, incoming)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get(RequestIDHeader); got != incoming {
		t.Fatalf("response request id = %q, want %q", got, incoming)
	}
}

func TestWithRequestIDMintsWhenAbsent(t *testing.T) {
	var seen string
	handler := WithRequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromRequest(r)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/reports", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if seen == "" {
		t.Fatal("expected minted request id in context")
	}
	if got := rec.Header().Get(RequestIDHeader); got != seen {
		t.Fatalf("response header %q does not match context id %q", got, seen)
	}
}
