package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPTool implements Tool by forwarding execution to a remote HTTP callback.
// Used for external tools registered by Python (or other) processes.
type HTTPTool struct {
	ToolName    string
	ToolDesc    string
	ToolParams  map[string]any
	CallbackURL string // base URL, e.g. "http://127.0.0.1:9100"
	Client      *http.Client
}

// NewHTTPTool creates a new HTTP-backed tool.
func NewHTTPTool(name, desc string, params map[string]any, callbackURL string) *HTTPTool {
	return &HTTPTool{
		ToolName:    name,
		ToolDesc:    desc,
		ToolParams:  params,
		CallbackURL: callbackURL,
		Client: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

func (t *HTTPTool) Name() string              { return t.ToolName }
func (t *HTTPTool) Description() string       { return t.ToolDesc }
func (t *HTTPTool) Parameters() map[string]any { return t.ToolParams }

// Execute calls the remote tool over HTTP, retrying once when the request
// fails (a connection error, an unreadable body, or a non-200 status) — an
// external tool process (e.g. a Python sidecar) restarting mid-turn
// shouldn't fail the whole tool call if a retry would succeed. An error
// reported in a 200 response body is not retried.
func (t *HTTPTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	payload, err := json.Marshal(map[string]any{
		"name": t.ToolName,
		"args": args,
	})
	if err != nil {
		return "", fmt.Errorf("http_tool: marshal args: %w", err)
	}

	url := fmt.Sprintf("%s/tools/%s", t.CallbackURL, t.ToolName)

	var body []byte
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		body, lastErr = t.doCall(ctx, url, payload)
		if lastErr == nil {
			break
		}
	}
	if lastErr != nil {
		return "", lastErr
	}

	var result struct {
		Result string `json:"result"`
		Error  string `json:"error"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("http_tool: parse response: %w", err)
	}

	if result.Error != "" {
		return "", fmt.Errorf("http_tool: %s: %s", t.ToolName, result.Error)
	}

	return result.Result, nil
}

func (t *HTTPTool) doCall(ctx context.Context, url string, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("http_tool: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http_tool: call %s: %w", t.ToolName, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("http_tool: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http_tool: %s returned %d: %s", t.ToolName, resp.StatusCode, string(body))
	}

	return body, nil
}
