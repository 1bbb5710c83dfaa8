package agent

import (
	"context"
	"sync"
	"testing"

	"loom/llm"
)

// scriptedLLM returns a fixed sequence of responses, one per Stream call,
// repeating the last entry once exhausted.
type scriptedLLM struct {
	mu        sync.Mutex
	responses []llm.Response
	calls     int
}

func (s *scriptedLLM) Call(ctx context.Context, req llm.Request) (*llm.Response, error) {
	return nil, nil
}

func (s *scriptedLLM) Stream(ctx context.Context, req llm.Request, ch chan<- llm.StreamChunk) error {
	defer close(ch)

	s.mu.Lock()
	idx := s.calls
	if idx >= len(s.responses) {
		idx = len(s.responses) - 1
	}
	resp := s.responses[idx]
	s.calls++
	s.mu.Unlock()

	if resp.Content != "" {
		ch <- llm.StreamChunk{Delta: resp.Content}
	}
	for _, tc := range resp.ToolCalls {
		t := tc
		ch <- llm.StreamChunk{ToolCall: &t}
	}
	return nil
}

// orderTrackingTool records the order in which tool calls land, to verify
// sequential (non-parallel) execution within one iteration.
type orderTrackingTool struct {
	name  string
	order *[]string
	mu    *sync.Mutex
}

func (t *orderTrackingTool) Name() string               { return t.name }
func (t *orderTrackingTool) Description() string        { return "" }
func (t *orderTrackingTool) Parameters() map[string]any { return nil }
func (t *orderTrackingTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	t.mu.Lock()
	*t.order = append(*t.order, t.name)
	t.mu.Unlock()
	return "done:" + t.name, nil
}

func newTestAgent(t *testing.T, cfg *AgentConfig, llmClient llm.Client, tools []Tool) *Agent {
	t.Helper()
	a := NewAgent("test-agent", cfg, llmClient, tools, nil)
	a.threadStore = NewThreadStore()
	t.Cleanup(func() { a.threadStore.Stop() })
	return a
}

func TestRunLoop_SequentialToolExecution(t *testing.T) {
	var order []string
	var mu sync.Mutex

	tools := []Tool{
		&orderTrackingTool{name: "a", order: &order, mu: &mu},
		&orderTrackingTool{name: "b", order: &order, mu: &mu},
	}

	llmClient := &scriptedLLM{responses: []llm.Response{
		{ToolCalls: []llm.ToolCallResult{{ID: "1", Name: "a"}, {ID: "2", Name: "b"}}},
		{Content: "done"},
	}}

	a := newTestAgent(t, &AgentConfig{Name: "test"}, llmClient, tools)

	_, err := a.Run(context.Background(), []Message{{Role: "user", Content: "go"}}, "thread-seq")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Fatalf("expected sequential execution [a b], got %v", order)
	}
}

func TestRunLoop_ChainStartEndEvents(t *testing.T) {
	llmClient := &scriptedLLM{responses: []llm.Response{{Content: "hello"}}}
	a := newTestAgent(t, &AgentConfig{Name: "test"}, llmClient, nil)

	ch := make(chan StreamEvent, 256)
	var events []StreamEvent
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for e := range ch {
			events = append(events, e)
		}
	}()

	a.RunStream(context.Background(), []Message{{Role: "user", Content: "hi"}}, "thread-events", ch)
	wg.Wait()

	if len(events) == 0 || events[0].Event != "on_chain_start" {
		t.Fatalf("expected first event to be on_chain_start, got %+v", events)
	}
	foundEnd := false
	for _, e := range events {
		if e.Event == "on_chain_end" {
			foundEnd = true
		}
	}
	if !foundEnd {
		t.Fatal("expected an on_chain_end event before done")
	}
	if events[len(events)-1].Event != "done" {
		t.Fatalf("expected last event to be done, got %+v", events[len(events)-1])
	}
}

func TestRunLoop_RunIDCorrelation(t *testing.T) {
	llmClient := &scriptedLLM{responses: []llm.Response{{Content: "hello"}}}
	a := newTestAgent(t, &AgentConfig{Name: "test"}, llmClient, nil)

	ch := make(chan StreamEvent, 256)
	var events []StreamEvent
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for e := range ch {
			events = append(events, e)
		}
	}()

	a.RunStream(context.Background(), []Message{{Role: "user", Content: "hi"}}, "thread-runid", ch)
	wg.Wait()

	var startRunID string
	for _, e := range events {
		if e.Event == "on_chat_model_start" {
			startRunID = e.RunID
			if startRunID == "" {
				t.Fatal("expected on_chat_model_start to carry a run_id")
			}
		}
		if e.Event == "on_chat_model_end" && e.RunID != startRunID {
			t.Fatalf("expected on_chat_model_end run_id %q to match start %q", e.RunID, startRunID)
		}
	}
}

func TestRunLoop_CancellationEmitsDone(t *testing.T) {
	// The model always requests a tool call, so without cancellation the
	// loop would keep going; canceling mid-turn must stop it cleanly.
	llmClient := &scriptedLLM{responses: []llm.Response{
		{ToolCalls: []llm.ToolCallResult{{ID: "1", Name: "loop"}}},
	}}
	var order []string
	var mu sync.Mutex
	tools := []Tool{&orderTrackingTool{name: "loop", order: &order, mu: &mu}}

	a := newTestAgent(t, &AgentConfig{Name: "test"}, llmClient, tools)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // cancel before the loop ever runs an iteration

	ch := make(chan StreamEvent, 256)
	var events []StreamEvent
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for e := range ch {
			events = append(events, e)
		}
	}()

	a.RunStream(ctx, []Message{{Role: "user", Content: "go"}}, "thread-cancel", ch)
	wg.Wait()

	last := events[len(events)-1]
	if last.Event != "done" {
		t.Fatalf("expected cancellation to report done, got %+v", last)
	}
	data, ok := last.Data.(map[string]any)
	if !ok {
		t.Fatalf("expected done data to be a map, got %+v", last.Data)
	}
	if data["thread_id"] != "thread-cancel" {
		t.Fatalf("expected thread_id in done data, got %+v", data)
	}
	if _, ok := data["total_duration_ms"]; !ok {
		t.Fatalf("expected total_duration_ms in done data, got %+v", data)
	}

	// The canceled turn's state must have been checkpointed, not dropped.
	state := a.threadStore.LoadOrCreate("thread-cancel")
	if len(state.Messages) == 0 {
		t.Fatal("expected cancellation to checkpoint partial thread state")
	}
}

func TestRunLoop_MaxIterationsExceeded(t *testing.T) {
	// The model always requests a tool call, so the loop never naturally stops.
	llmClient := &scriptedLLM{responses: []llm.Response{
		{ToolCalls: []llm.ToolCallResult{{ID: "1", Name: "loop"}}},
	}}
	var order []string
	var mu sync.Mutex
	tools := []Tool{&orderTrackingTool{name: "loop", order: &order, mu: &mu}}

	a := newTestAgent(t, &AgentConfig{Name: "test", MaxIterations: 3}, llmClient, tools)

	ch := make(chan StreamEvent, 256)
	var events []StreamEvent
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for e := range ch {
			events = append(events, e)
		}
	}()

	a.RunStream(context.Background(), []Message{{Role: "user", Content: "go"}}, "thread-maxiter", ch)
	wg.Wait()

	last := events[len(events)-1]
	if last.Event != "error" {
		t.Fatalf("expected final event to be error, got %+v", last)
	}
	data, ok := last.Data.(map[string]string)
	if !ok || data["error"] != "max_iterations_exceeded" {
		t.Fatalf("expected max_iterations_exceeded error, got %+v", last.Data)
	}
	if len(order) != 3 {
		t.Fatalf("expected exactly MaxIterations (3) tool executions, got %d", len(order))
	}
}
