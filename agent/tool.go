package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Tool defines the interface for agent tools.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]any // JSON Schema
	Execute(ctx context.Context, args map[string]any) (string, error)
}

// FuncTool wraps a plain function as a Tool.
type FuncTool struct {
	ToolName   string
	ToolDesc   string
	ToolParams map[string]any
	Fn         func(ctx context.Context, args map[string]any) (string, error)
}

func (f *FuncTool) Name() string              { return f.ToolName }
func (f *FuncTool) Description() string       { return f.ToolDesc }
func (f *FuncTool) Parameters() map[string]any { return f.ToolParams }
func (f *FuncTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	return f.Fn(ctx, args)
}

// ToolRegistry is a registry of named tools. Its methods take no lock, so
// it is not safe for concurrent use while tools are being registered.
type ToolRegistry struct {
	tools map[string]Tool
}

// NewToolRegistry creates a new tool registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]Tool)}
}

// Register adds a tool to the registry.
func (r *ToolRegistry) Register(tool Tool) {
	r.tools[tool.Name()] = tool
}

// Get returns a tool by name or nil.
func (r *ToolRegistry) Get(name string) Tool {
	return r.tools[name]
}

// List returns all tool names.
func (r *ToolRegistry) List() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	return names
}

// All returns a copy of all tools.
func (r *ToolRegistry) All() map[string]Tool {
	out := make(map[string]Tool, len(r.tools))
	for k, v := range r.tools {
		out[k] = v
	}
	return out
}

// ValidateArgs checks a tool call's arguments against the tool's declared
// JSON Schema parameters. Validation happens once, at the registry
// boundary, so individual tools never re-check the shape of required
// fields themselves. A tool with no parameters schema accepts anything.
func ValidateArgs(tool Tool, args map[string]any) error {
	schema := tool.Parameters()
	if len(schema) == 0 {
		return nil
	}

	raw, err := json.Marshal(schema)
	if err != nil {
		return fmt.Errorf("tool %q has an invalid parameter schema: %w", tool.Name(), err)
	}

	url := "mem://tools/" + tool.Name() + ".json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, bytes.NewReader(raw)); err != nil {
		return fmt.Errorf("tool %q has an invalid parameter schema: %w", tool.Name(), err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return fmt.Errorf("tool %q has an invalid parameter schema: %w", tool.Name(), err)
	}

	// Validate wants json-decoded values (map[string]interface{}, float64
	// for numbers, etc). Round-trip through encoding/json to normalize args
	// built programmatically rather than decoded off the wire.
	argsRaw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("invalid arguments for %q: %w", tool.Name(), err)
	}
	var normalized any
	if err := json.Unmarshal(argsRaw, &normalized); err != nil {
		return fmt.Errorf("invalid arguments for %q: %w", tool.Name(), err)
	}

	if err := compiled.Validate(normalized); err != nil {
		return fmt.Errorf("invalid arguments for %q: %w", tool.Name(), err)
	}
	return nil
}

// RegisterToolOnState adds a tool to an AgentState's per-session tool registry.
// Used by hooks like FilesystemHook to register tools at runtime.
func RegisterToolOnState(state *AgentState, tool Tool) {
	if state.toolRegistry == nil {
		state.toolRegistry = make(map[string]Tool)
	}
	state.toolRegistry[tool.Name()] = tool
}
