package llmprovider

import (
	"errors"
	"fmt"
)

// Tool type constants for the built-in tools
const (
	ToolTypeSearch     = "search"
	ToolTypeTextEditor = "text_editor"
	ToolTypeBash       = "bash"
)

// ToolOption customizes a tool definition at construction.
type ToolOption func(*ToolDefinition)

// WithApproval requires an approval response before every execution.
func WithApproval() ToolOption {
	return func(d *ToolDefinition) { d.NeedsApproval = true }
}

// WithExecutionSide overrides where the tool runs.
func WithExecutionSide(side ExecutionSide) ToolOption {
	return func(d *ToolDefinition) { d.ExecutionSide = side }
}

// WithOutputSchema documents the result shape.
func WithOutputSchema(schema map[string]any) ToolOption {
	return func(d *ToolDefinition) { d.OutputSchema = schema }
}

// NewSearchTool creates a web search tool executed by the agent loop.
func NewSearchTool(search ToolExecuteFunc, opts ...ToolOption) (*ToolDefinition, error) {
	def := &ToolDefinition{
		Name:          ToolTypeSearch,
		Description:   "Search the web for current information",
		ExecutionSide: ExecutionSideServer,
		Execute:       search,
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "The search query",
				},
			},
			"required": []any{"query"},
		},
	}
	return finishTool(def, opts, "search tool")
}

// NewTextEditorTool creates a text editor tool. It has no implementation:
// the caller edits files and reports back with a tool result.
func NewTextEditorTool(opts ...ToolOption) (*ToolDefinition, error) {
	def := &ToolDefinition{
		Name:          ToolTypeTextEditor,
		Description:   "Edit text files (client-side execution)",
		ExecutionSide: ExecutionSideClient,
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{
					"type":        "string",
					"description": "Path to the file to edit",
				},
				"command": map[string]any{
					"type":        "string",
					"description": "Editor command to execute",
				},
			},
			"required": []any{"path", "command"},
		},
	}
	return finishTool(def, opts, "text editor tool")
}

// NewBashTool creates a shell command tool executed on the client side.
func NewBashTool(opts ...ToolOption) (*ToolDefinition, error) {
	def := &ToolDefinition{
		Name:          ToolTypeBash,
		Description:   "Execute bash commands (client-side execution)",
		ExecutionSide: ExecutionSideClient,
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"command": map[string]any{
					"type":        "string",
					"description": "The bash command to execute",
				},
			},
			"required": []any{"command"},
		},
	}
	return finishTool(def, opts, "bash tool")
}

// NewCustomTool creates a function tool.
//
// Parameters:
//   - name: Function name (required)
//   - description: What the function does (required)
//   - parameters: JSON Schema object defining function parameters (required)
//   - execute: implementation, or nil for a client tool
//
// Example parameters:
//
//	map[string]any{
//	  "type": "object",
//	  "properties": map[string]any{
//	    "item": map[string]any{"type": "string"},
//	    "quantity": map[string]any{"type": "integer", "minimum": 1},
//	  },
//	  "required": []any{"item"},
//	}
func NewCustomTool(name, description string, parameters map[string]any, execute ToolExecuteFunc, opts ...ToolOption) (*ToolDefinition, error) {
	if name == "" {
		return nil, errors.New("tool name is required")
	}

	if description == "" {
		return nil, errors.New("tool description is required")
	}

	if parameters == nil {
		return nil, errors.New("parameters are required")
	}

	side := ExecutionSideServer
	if execute == nil {
		side = ExecutionSideClient
	}

	def := &ToolDefinition{
		Name:          name,
		Description:   description,
		InputSchema:   parameters,
		ExecutionSide: side,
		Execute:       execute,
	}
	return finishTool(def, opts, "custom tool")
}

// MapToolByName creates a client-side built-in tool from a user-friendly name.
//
// Supported names:
//   - "text_editor", "file_edit" → Text editor tool
//   - "bash", "code_exec" → Bash tool
//
// Search needs an implementation and is built with NewSearchTool.
func MapToolByName(name string) (*ToolDefinition, error) {
	switch name {
	case "text_editor", "file_edit":
		return NewTextEditorTool()
	case "bash", "code_exec":
		return NewBashTool()
	default:
		return nil, fmt.Errorf("unknown built-in tool: %s", name)
	}
}

func finishTool(def *ToolDefinition, opts []ToolOption, kind string) (*ToolDefinition, error) {
	for _, opt := range opts {
		opt(def)
	}
	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", kind, err)
	}
	return def, nil
}
