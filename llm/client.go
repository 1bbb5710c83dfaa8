package llm

import (
	"context"
	"fmt"
	"net/http"

	"github.com/cenkalti/backoff/v5"

	"loom/metrics"
)

// Client is the interface for LLM providers.
type Client interface {
	// Call makes a synchronous LLM call and returns the full response.
	Call(ctx context.Context, req Request) (*Response, error)

	// Stream makes an LLM call and sends chunks to the channel.
	// The channel is closed when streaming is complete.
	Stream(ctx context.Context, req Request, ch chan<- StreamChunk) error
}

// Message represents a chat message for the LLM.
type Message struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Name       string         `json:"name,omitempty"`
	ToolCalls  []ToolCallInfo `json:"tool_calls,omitempty"`
}

// ToolCallInfo is a tool call attached to an assistant message.
type ToolCallInfo struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"arguments"`
}

// ToolSchema describes a tool for the LLM.
type ToolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Request is the input to an LLM call.
type Request struct {
	Model        string       `json:"model"`
	Messages     []Message    `json:"messages"`
	Tools        []ToolSchema `json:"tools,omitempty"`
	SystemPrompt string       `json:"system_prompt,omitempty"`
	MaxTokens    int          `json:"max_tokens,omitempty"`
	Temperature  *float64     `json:"temperature,omitempty"`
}

// Response is the full result of an LLM call.
type Response struct {
	Content   string           `json:"content"`
	ToolCalls []ToolCallResult `json:"tool_calls,omitempty"`
}

// ToolCallResult is a parsed tool call from the LLM response.
type ToolCallResult struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"arguments"`
}

// StreamChunk is a single chunk from a streaming LLM call.
type StreamChunk struct {
	Delta    string          `json:"delta,omitempty"`
	ToolCall *ToolCallResult `json:"tool_call,omitempty"`
	Done     bool            `json:"done,omitempty"`
	Error    error           `json:"-"`
}

// doRequestWithRetry runs a single non-streaming provider round trip,
// retrying on 429 and 5xx responses with exponential backoff. doFn performs
// the actual HTTP call and reports the raw status/body; a transport error
// (doFn's err) or a non-retryable status is returned immediately.
//
// Streaming calls aren't retried here — once a stream has started emitting
// chunks to the caller's channel, replaying it would duplicate output, so
// only the synchronous Call path uses this.
func doRequestWithRetry(ctx context.Context, provider string, doFn func() (status int, body []byte, err error)) ([]byte, error) {
	op := func() ([]byte, error) {
		status, body, err := doFn()
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		if status == http.StatusTooManyRequests || status >= 500 {
			metrics.LLMRetriesTotal.WithLabelValues(provider).Inc()
			return nil, fmt.Errorf("%s API error %d: %s", provider, status, string(body))
		}
		if status != http.StatusOK {
			return nil, backoff.Permanent(fmt.Errorf("%s API error %d: %s", provider, status, string(body)))
		}
		return body, nil
	}
	return backoff.Retry(ctx, op, backoff.WithMaxTries(3))
}
