package agent

import "testing"

func TestAgentState_TrackFile(t *testing.T) {
	var s AgentState
	s.TrackFile("/workdir/notes.md", "hello")
	if got := s.Files["/workdir/notes.md"]; got != "hello" {
		t.Fatalf("expected tracked content %q, got %q", "hello", got)
	}

	s.TrackFile("/workdir/notes.md", "updated")
	if got := s.Files["/workdir/notes.md"]; got != "updated" {
		t.Fatalf("expected overwritten content %q, got %q", "updated", got)
	}
}

func TestAgentState_ToolNames(t *testing.T) {
	s := &AgentState{}
	if names := s.ToolNames(); len(names) != 0 {
		t.Fatalf("expected no tool names on an empty state, got %v", names)
	}

	RegisterToolOnState(s, echoTool(nil))
	names := s.ToolNames()
	if len(names) != 1 || names[0] != "echo" {
		t.Fatalf("expected [echo], got %v", names)
	}
}
