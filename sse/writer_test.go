package sse

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// nonFlushingWriter wraps an http.ResponseWriter without exposing Flush, so
// NewWriter's http.Flusher type assertion fails.
type nonFlushingWriter struct {
	http.ResponseWriter
}

func TestWriter_SendEventAndComment(t *testing.T) {
	rec := httptest.NewRecorder()
	w := NewWriter(rec)
	if w == nil {
		t.Fatal("expected a non-nil writer for an httptest.ResponseRecorder")
	}

	if err := w.SendEvent("done", map[string]any{"thread_id": "t1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := w.SendComment("keep-alive"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	body := rec.Body.String()
	if !strings.Contains(body, "event: done") {
		t.Fatalf("expected an event line, got %q", body)
	}
	if !strings.Contains(body, ": keep-alive") {
		t.Fatalf("expected a keep-alive comment, got %q", body)
	}
}

func TestNewWriter_NilForNonFlusher(t *testing.T) {
	w := NewWriter(nonFlushingWriter{httptest.NewRecorder()})
	if w != nil {
		t.Fatal("expected nil writer for a ResponseWriter without Flush")
	}
}
