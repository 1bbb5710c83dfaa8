package agent

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestHTTPTool_Execute_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":"42"}`))
	}))
	defer srv.Close()

	tool := NewHTTPTool("calc", "adds numbers", nil, srv.URL)
	out, err := tool.Execute(context.Background(), map[string]any{"a": 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "42" {
		t.Fatalf("expected result %q, got %q", "42", out)
	}
}

func TestHTTPTool_Execute_RetriesOnceOnConnectionFailure(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&attempts, 1)
		if n == 1 {
			// Simulate a sidecar restarting mid-request by closing the
			// connection without a response.
			hj, _ := w.(http.Hijacker)
			conn, _, _ := hj.Hijack()
			conn.Close()
			return
		}
		w.Write([]byte(`{"result":"ok"}`))
	}))
	defer srv.Close()

	tool := NewHTTPTool("flaky", "", nil, srv.URL)
	out, err := tool.Execute(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "ok" {
		t.Fatalf("expected result %q, got %q", "ok", out)
	}
	if atomic.LoadInt32(&attempts) != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}

func TestHTTPTool_Execute_ToolErrorPropagates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":"bad args"}`))
	}))
	defer srv.Close()

	tool := NewHTTPTool("calc", "", nil, srv.URL)
	if _, err := tool.Execute(context.Background(), nil); err == nil {
		t.Fatal("expected an error when the remote tool reports one")
	}
}
