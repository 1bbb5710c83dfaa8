package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestTurnsTotal_IncrementsByLabel(t *testing.T) {
	TurnsTotal.Reset()
	TurnsTotal.WithLabelValues("agent-1", "done").Inc()
	TurnsTotal.WithLabelValues("agent-1", "done").Inc()
	TurnsTotal.WithLabelValues("agent-1", "error").Inc()

	if got := testutil.ToFloat64(TurnsTotal.WithLabelValues("agent-1", "done")); got != 2 {
		t.Fatalf("expected 2 done turns, got %v", got)
	}
	if got := testutil.ToFloat64(TurnsTotal.WithLabelValues("agent-1", "error")); got != 1 {
		t.Fatalf("expected 1 error turn, got %v", got)
	}
}

func TestToolCallsTotal_OkAndError(t *testing.T) {
	ToolCallsTotal.Reset()
	ToolCallsTotal.WithLabelValues("read_file", "ok").Inc()
	ToolCallsTotal.WithLabelValues("read_file", "error").Inc()
	ToolCallsTotal.WithLabelValues("read_file", "error").Inc()

	if got := testutil.ToFloat64(ToolCallsTotal.WithLabelValues("read_file", "error")); got != 2 {
		t.Fatalf("expected 2 errored tool calls, got %v", got)
	}
}

func TestDownstreamConnected_Gauge(t *testing.T) {
	DownstreamConnected.Reset()
	DownstreamConnected.WithLabelValues("files-server").Set(1)
	if got := testutil.ToFloat64(DownstreamConnected.WithLabelValues("files-server")); got != 1 {
		t.Fatalf("expected gauge value 1, got %v", got)
	}
	DownstreamConnected.WithLabelValues("files-server").Set(0)
	if got := testutil.ToFloat64(DownstreamConnected.WithLabelValues("files-server")); got != 0 {
		t.Fatalf("expected gauge value 0, got %v", got)
	}
}

func TestLLMRetriesTotal_Counter(t *testing.T) {
	LLMRetriesTotal.Reset()
	LLMRetriesTotal.WithLabelValues("openai").Inc()
	LLMRetriesTotal.WithLabelValues("openai").Inc()
	if got := testutil.ToFloat64(LLMRetriesTotal.WithLabelValues("openai")); got != 2 {
		t.Fatalf("expected 2 retries, got %v", got)
	}
}

func TestTracesStored_Gauge(t *testing.T) {
	TracesStored.Set(0)
	TracesStored.Set(3)
	if got := testutil.ToFloat64(TracesStored); got != 3 {
		t.Fatalf("expected gauge value 3, got %v", got)
	}
}

func TestHandler_NotNil(t *testing.T) {
	if Handler() == nil {
		t.Fatal("expected a non-nil scrape handler")
	}
}
