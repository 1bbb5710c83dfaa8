package main

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRequestLoggingMiddleware_PassesThroughStatusAndBody(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte("ok"))
	})

	req := httptest.NewRequest(http.MethodGet, "/foo", nil)
	rec := httptest.NewRecorder()

	RequestLoggingMiddleware(inner).ServeHTTP(rec, req)

	if rec.Code != http.StatusTeapot {
		t.Fatalf("expected status %d, got %d", http.StatusTeapot, rec.Code)
	}
	if rec.Body.String() != "ok" {
		t.Fatalf("expected body %q, got %q", "ok", rec.Body.String())
	}
}

func TestIsPublicRoute_MetricsIsPublic(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	if !isPublicRoute(req) {
		t.Fatal("expected /metrics to be a public route")
	}
}
