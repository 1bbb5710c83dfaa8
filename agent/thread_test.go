package agent

import "testing"

func TestThreadStore_LoadOrCreate(t *testing.T) {
	ts := NewThreadStore()
	defer ts.Stop()

	state := ts.LoadOrCreate("thread-1")
	if state.ThreadID != "thread-1" {
		t.Fatalf("expected thread-1, got %q", state.ThreadID)
	}

	again := ts.LoadOrCreate("thread-1")
	if again != state {
		t.Fatal("expected the same state instance on repeat LoadOrCreate")
	}
}

func TestThreadStore_TryAcquireRelease(t *testing.T) {
	ts := NewThreadStore()
	defer ts.Stop()

	if !ts.TryAcquire("thread-1") {
		t.Fatal("expected first TryAcquire to succeed")
	}
	if ts.TryAcquire("thread-1") {
		t.Fatal("expected second TryAcquire on the same thread to fail while in-turn")
	}

	ts.Release("thread-1")

	if !ts.TryAcquire("thread-1") {
		t.Fatal("expected TryAcquire to succeed again after Release")
	}
}

func TestThreadStore_TryAcquireIndependentThreads(t *testing.T) {
	ts := NewThreadStore()
	defer ts.Stop()

	if !ts.TryAcquire("thread-a") {
		t.Fatal("expected TryAcquire on thread-a to succeed")
	}
	if !ts.TryAcquire("thread-b") {
		t.Fatal("expected TryAcquire on a different thread to succeed independently")
	}
}

func TestThreadStore_SaveAndGet(t *testing.T) {
	ts := NewThreadStore()
	defer ts.Stop()

	state := &AgentState{ThreadID: "thread-1", Messages: []Message{{Role: "user", Content: "hi"}}}
	ts.Save("thread-1", state)

	got := ts.Get("thread-1")
	if got == nil || len(got.Messages) != 1 {
		t.Fatalf("expected saved state to be retrievable, got %+v", got)
	}
}

func TestThreadStore_Delete(t *testing.T) {
	ts := NewThreadStore()
	defer ts.Stop()

	ts.LoadOrCreate("thread-1")
	ts.Delete("thread-1")

	if ts.Get("thread-1") != nil {
		t.Fatal("expected thread to be gone after Delete")
	}
}
