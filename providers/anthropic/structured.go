package anthropic

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"

	llmprovider "github.com/haowjy/meridian-agent-go"
)

const defaultSchemaName = "structured_output"

// GenerateStructured gets schema-shaped JSON by forcing a call to a single
// tool whose input schema is the requested schema. The call's input is the
// result.
func (p *Provider) GenerateStructured(ctx context.Context, req *llmprovider.StructuredOutputRequest) (*llmprovider.StructuredOutputResponse, error) {
	if err := p.checkModel(req.Model); err != nil {
		return nil, err
	}
	if req.Schema == nil {
		return nil, &llmprovider.ValidationError{Field: "schema", Reason: "schema is required", Err: llmprovider.ErrInvalidRequest}
	}

	apiParams, name, err := buildStructuredParams(req)
	if err != nil {
		return nil, err
	}

	msg, err := p.messages.New(ctx, apiParams)
	if err != nil {
		return nil, fmt.Errorf("anthropic structured output: %w", mapError(err))
	}
	return structuredResponse(msg, name)
}

func buildStructuredParams(req *llmprovider.StructuredOutputRequest) (anthropic.MessageNewParams, string, error) {
	name := req.SchemaName
	if name == "" {
		name = defaultSchemaName
	}

	params := req.Params.Clone()
	// Forced tool use is incompatible with extended thinking.
	params.ThinkingEnabled = nil
	params.Tools = []llmprovider.Tool{{
		Type: "function",
		Function: llmprovider.FunctionDetails{
			Name:        name,
			Description: "Respond with the requested structured output.",
			Parameters:  req.Schema,
		},
	}}
	choice, err := llmprovider.NewSpecificToolChoice(name)
	if err != nil {
		return anthropic.MessageNewParams{}, "", err
	}
	params.ToolChoice = choice

	apiParams, err := buildMessageParams(&llmprovider.GenerateRequest{
		Messages: req.Messages,
		Model:    req.Model,
		Params:   params,
	})
	return apiParams, name, err
}

func structuredResponse(msg *anthropic.Message, name string) (*llmprovider.StructuredOutputResponse, error) {
	for _, content := range msg.Content {
		if content.Type != "tool_use" || content.Name != name {
			continue
		}
		data := json.RawMessage(content.Input)
		if !json.Valid(data) {
			return nil, fmt.Errorf("anthropic structured output: tool input is not valid JSON")
		}

		metadata := map[string]any{"stop_reason": string(msg.StopReason)}
		if msg.ID != "" {
			metadata["id"] = msg.ID
		}
		return &llmprovider.StructuredOutputResponse{
			Data:  data,
			Model: string(msg.Model),
			Usage: llmprovider.Usage{
				InputTokens:      int(msg.Usage.InputTokens),
				OutputTokens:     int(msg.Usage.OutputTokens),
				CacheReadTokens:  int(msg.Usage.CacheReadInputTokens),
				CacheWriteTokens: int(msg.Usage.CacheCreationInputTokens),
			},
			ResponseMetadata: metadata,
		}, nil
	}
	return nil, &llmprovider.StreamError{
		Message: fmt.Sprintf("model did not call %s (stop reason %s)", name, msg.StopReason),
		Code:    "no_structured_output",
	}
}
