package handlers

import (
	"testing"

	"loom/backend"
	"loom/metrics"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestBackendStore_SetGetRemove(t *testing.T) {
	bs := NewBackendStore()
	b := backend.NewLocalBackend("", 5, 1024, "alice")

	if got := bs.Get("agent-1", "alice"); got != nil {
		t.Fatal("expected no backend before Set")
	}

	bs.Set("agent-1", "alice", b)
	if got := bs.Get("agent-1", "alice"); got != b {
		t.Fatal("expected the stored backend back from Get")
	}
	if bs.Count() != 1 {
		t.Fatalf("expected count 1, got %d", bs.Count())
	}
	if got := testutil.ToFloat64(metrics.BackendsActive.WithLabelValues("agent-1")); got != 1 {
		t.Fatalf("expected gauge 1, got %v", got)
	}

	bs.Remove("agent-1", "alice")
	if got := bs.Get("agent-1", "alice"); got != nil {
		t.Fatal("expected no backend after Remove")
	}
	if bs.Count() != 0 {
		t.Fatalf("expected count 0 after remove, got %d", bs.Count())
	}
	if got := testutil.ToFloat64(metrics.BackendsActive.WithLabelValues("agent-1")); got != 0 {
		t.Fatalf("expected gauge 0 after remove, got %v", got)
	}
}
