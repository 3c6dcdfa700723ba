package llmprovider

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ExecutionSide indicates where tool execution happens
type ExecutionSide string

const (
	ExecutionSideServer ExecutionSide = "server" // Agent loop executes the tool
	ExecutionSideClient ExecutionSide = "client" // Caller's process executes the tool
	ExecutionSideEither ExecutionSide = "either" // Whichever side has an implementation
)

// ToolChoiceMode controls tool selection behavior
type ToolChoiceMode string

const (
	ToolChoiceModeAuto     ToolChoiceMode = "auto"     // Model decides whether to use tools
	ToolChoiceModeRequired ToolChoiceMode = "required" // Model must use a tool
	ToolChoiceModeNone     ToolChoiceMode = "none"     // Model cannot use tools
	ToolChoiceModeSpecific ToolChoiceMode = "specific" // Model must use specific tool
)

// FunctionDetails represents the function definition within a tool (OpenAI format).
// This matches the universal standard used by OpenAI, OpenRouter, and easily converts to Anthropic.
type FunctionDetails struct {
	Name        string         `json:"name"`                  // Function name (required)
	Description string         `json:"description,omitempty"` // What the function does
	Parameters  map[string]any `json:"parameters"`            // JSON Schema for parameters
}

// Tool is the wire description of a function tool (OpenAI universal format).
// Adapters convert it to their vendor's shape:
//   - OpenRouter: Use directly (native format)
//   - Anthropic: Flatten and rename (parameters → input_schema)
type Tool struct {
	Type     string          `json:"type"`     // Always "function" for function tools
	Function FunctionDetails `json:"function"` // Function definition
}

// Validate checks if the Tool is properly configured
func (t *Tool) Validate() error {
	if t.Type == "" {
		return errors.New("tool type is required")
	}

	if t.Type != "function" {
		return fmt.Errorf("unsupported tool type: %s (only 'function' is supported)", t.Type)
	}

	if t.Function.Name == "" {
		return errors.New("function name is required")
	}

	if t.Function.Parameters == nil {
		return errors.New("function parameters are required")
	}

	if schemaType, ok := t.Function.Parameters["type"].(string); !ok || schemaType != "object" {
		return errors.New("function parameters must be a JSON schema with type 'object'")
	}

	return nil
}

// ToolChoice specifies tool selection behavior
type ToolChoice struct {
	Mode     ToolChoiceMode `json:"mode"`
	ToolName *string        `json:"tool_name,omitempty"` // Required when Mode is ToolChoiceModeSpecific
}

// Validate checks if the ToolChoice is properly configured
func (tc *ToolChoice) Validate() error {
	if tc.Mode == ToolChoiceModeSpecific && tc.ToolName == nil {
		return errors.New("tool_name is required when mode is 'specific'")
	}

	if tc.Mode == ToolChoiceModeSpecific && *tc.ToolName == "" {
		return errors.New("tool_name cannot be empty when mode is 'specific'")
	}

	switch tc.Mode {
	case ToolChoiceModeAuto, ToolChoiceModeRequired, ToolChoiceModeNone, ToolChoiceModeSpecific:
	default:
		return fmt.Errorf("invalid tool choice mode: %s", tc.Mode)
	}

	return nil
}

// ForcesTool reports whether the choice obliges the model to call a tool.
func (tc *ToolChoice) ForcesTool() bool {
	return tc != nil && (tc.Mode == ToolChoiceModeRequired || tc.Mode == ToolChoiceModeSpecific)
}

// NewToolChoice creates a new ToolChoice with the specified mode
func NewToolChoice(mode ToolChoiceMode) (*ToolChoice, error) {
	tc := &ToolChoice{
		Mode: mode,
	}

	if err := tc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid tool choice: %w", err)
	}

	return tc, nil
}

// NewSpecificToolChoice creates a ToolChoice for a specific tool
func NewSpecificToolChoice(toolName string) (*ToolChoice, error) {
	tc := &ToolChoice{
		Mode:     ToolChoiceModeSpecific,
		ToolName: &toolName,
	}

	if err := tc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid specific tool choice: %w", err)
	}

	return tc, nil
}

// ToolExecuteFunc runs a tool with its parsed input. A non-string return
// value is JSON-encoded before it is handed to the model.
type ToolExecuteFunc func(ctx context.Context, input map[string]any) (any, error)

// ToolDefinition describes a tool the model may call.
// Definitions are immutable once registered and always handled by pointer.
type ToolDefinition struct {
	Name        string
	Description string

	// InputSchema is a JSON Schema object (type "object") for the arguments.
	InputSchema map[string]any

	// OutputSchema optionally documents the result shape.
	OutputSchema map[string]any

	// NeedsApproval gates every call behind an explicit approval response.
	NeedsApproval bool

	ExecutionSide ExecutionSide

	// Execute is nil for client tools whose results arrive out-of-band.
	Execute ToolExecuteFunc

	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
}

// Tool renders the definition in the wire format sent to providers.
func (d *ToolDefinition) Tool() Tool {
	return Tool{
		Type: "function",
		Function: FunctionDetails{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  d.InputSchema,
		},
	}
}

// Validate checks that the definition can be registered.
func (d *ToolDefinition) Validate() error {
	if d.Name == "" {
		return errors.New("tool name is required")
	}
	switch d.ExecutionSide {
	case "", ExecutionSideServer, ExecutionSideClient, ExecutionSideEither:
	default:
		return fmt.Errorf("invalid execution side %q", d.ExecutionSide)
	}
	if d.ExecutionSide == ExecutionSideServer && d.Execute == nil {
		return errors.New("server tools require an execute function")
	}
	t := d.Tool()
	return t.Validate()
}

// IsClientSide reports whether results for this tool must come from the
// caller rather than the agent loop.
func (d *ToolDefinition) IsClientSide() bool {
	return d.Execute == nil && d.ExecutionSide != ExecutionSideServer
}
