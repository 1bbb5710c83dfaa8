package agent

// AgentState holds the full conversation state for a thread.
type AgentState struct {
	ThreadID string    `json:"thread_id"`
	Messages []Message `json:"messages"`
	Todos    []Todo    `json:"todos,omitempty"`
	Files    map[string]string `json:"files,omitempty"` // path → content (tracked writes)

	// toolRegistry holds tools registered at runtime by hooks (e.g. FilesystemHook).
	// Not serialized — rebuilt on each agent run.
	toolRegistry map[string]Tool `json:"-"`
}

// Todo represents a task tracked by the TodoList hook.
type Todo struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Status string `json:"status"` // "pending", "in_progress", "done"
}

// TrackFile records the current content of a written or edited path for UI
// rendering, initializing Files on first use.
func (s *AgentState) TrackFile(path, content string) {
	if s.Files == nil {
		s.Files = make(map[string]string)
	}
	s.Files[path] = content
}

// ToolNames returns the names of tools registered at runtime on this state,
// for introspection (e.g. reporting active per-thread tools to a client).
func (s *AgentState) ToolNames() []string {
	names := make([]string, 0, len(s.toolRegistry))
	for name := range s.toolRegistry {
		names = append(names, name)
	}
	return names
}
