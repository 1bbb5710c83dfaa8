package llm

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"loom/metrics"
)

func TestDoRequestWithRetry_SucceedsAfterTransient5xx(t *testing.T) {
	metrics.LLMRetriesTotal.Reset()

	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("try again"))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	client := &http.Client{}
	data, err := doRequestWithRetry(context.Background(), "openai", func() (int, []byte, error) {
		resp, err := client.Get(server.URL)
		if err != nil {
			return 0, nil, err
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, body, nil
	})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if string(data) != "ok" {
		t.Fatalf("expected body %q, got %q", "ok", data)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
	if got := testutil.ToFloat64(metrics.LLMRetriesTotal.WithLabelValues("openai")); got != 2 {
		t.Fatalf("expected 2 recorded retries, got %v", got)
	}
}

func TestDoRequestWithRetry_NonRetryableStatusFailsImmediately(t *testing.T) {
	metrics.LLMRetriesTotal.Reset()

	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte("bad key"))
	}))
	defer server.Close()

	client := &http.Client{}
	_, err := doRequestWithRetry(context.Background(), "anthropic", func() (int, []byte, error) {
		resp, err := client.Get(server.URL)
		if err != nil {
			return 0, nil, err
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, body, nil
	})
	if err == nil {
		t.Fatal("expected an error for a 401 response")
	}
	if calls != 1 {
		t.Fatalf("expected a single attempt for a non-retryable status, got %d", calls)
	}
	if got := testutil.ToFloat64(metrics.LLMRetriesTotal.WithLabelValues("anthropic")); got != 0 {
		t.Fatalf("expected no retries recorded, got %v", got)
	}
}
