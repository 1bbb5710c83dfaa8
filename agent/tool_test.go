package agent

import (
	"context"
	"testing"
)

func echoTool(params map[string]any) *FuncTool {
	return &FuncTool{
		ToolName:   "echo",
		ToolDesc:   "echoes its input",
		ToolParams: params,
		Fn: func(ctx context.Context, args map[string]any) (string, error) {
			return "ok", nil
		},
	}
}

func TestValidateArgs_NoSchema(t *testing.T) {
	tool := echoTool(nil)
	if err := ValidateArgs(tool, map[string]any{"anything": 1}); err != nil {
		t.Fatalf("expected no error for schema-less tool, got %v", err)
	}
}

func TestValidateArgs_RequiredField(t *testing.T) {
	tool := echoTool(map[string]any{
		"type":     "object",
		"required": []any{"message"},
		"properties": map[string]any{
			"message": map[string]any{"type": "string"},
		},
	})

	if err := ValidateArgs(tool, map[string]any{"message": "hi"}); err != nil {
		t.Fatalf("expected valid args to pass, got %v", err)
	}

	if err := ValidateArgs(tool, map[string]any{}); err == nil {
		t.Fatal("expected error for missing required field")
	}
}

func TestValidateArgs_WrongType(t *testing.T) {
	tool := echoTool(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"count": map[string]any{"type": "integer"},
		},
	})

	if err := ValidateArgs(tool, map[string]any{"count": "not a number"}); err == nil {
		t.Fatal("expected error for wrong argument type")
	}
}

func TestToolRegistry_RegisterAndGet(t *testing.T) {
	reg := NewToolRegistry()
	tool := echoTool(nil)
	reg.Register(tool)

	if got := reg.Get("echo"); got != tool {
		t.Fatalf("expected to get back the registered tool")
	}
	if reg.Get("missing") != nil {
		t.Fatal("expected nil for unregistered tool")
	}
	if len(reg.List()) != 1 {
		t.Fatalf("expected 1 tool name, got %d", len(reg.List()))
	}
}
