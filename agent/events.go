package agent

// Event names emitted on a turn's StreamEvent channel, in the order a
// successful turn produces them: one ChainStart/ChainEnd pair bracketing one
// ChatModelStart/ChatModelStream*/ChatModelEnd group per iteration, with a
// ToolStart/ToolEnd pair per tool call in between, and exactly one of
// EventDone or EventError at the very end.
const (
	EventChainStart     = "on_chain_start"
	EventChainEnd       = "on_chain_end"
	EventChatModelStart = "on_chat_model_start"
	EventChatModelDelta = "on_chat_model_stream"
	EventChatModelEnd   = "on_chat_model_end"
	EventToolStart      = "on_tool_start"
	EventToolEnd        = "on_tool_end"
	EventDone           = "done"
	EventError          = "error"
)

// StreamEvent is sent from the agent loop to the SSE handler.
type StreamEvent struct {
	Event    string `json:"event"` // one of the Event* constants above
	Name     string `json:"name,omitempty"`     // tool name or model name
	RunID    string `json:"run_id,omitempty"`
	Data     any    `json:"data,omitempty"`
	ThreadID string `json:"thread_id,omitempty"` // set on EventDone
}
