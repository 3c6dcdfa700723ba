package openrouter

import (
	"context"
	"encoding/json"
	"fmt"

	llmprovider "github.com/haowjy/meridian-agent-go"
)

const defaultSchemaName = "structured_output"

// GenerateStructured requests a strict json_schema response format and
// returns the message content as the result.
func (p *Provider) GenerateStructured(ctx context.Context, req *llmprovider.StructuredOutputRequest) (*llmprovider.StructuredOutputResponse, error) {
	if err := p.checkModel(req.Model); err != nil {
		return nil, err
	}
	if req.Schema == nil {
		return nil, &llmprovider.ValidationError{Field: "schema", Reason: "schema is required", Err: llmprovider.ErrInvalidRequest}
	}

	params := req.Params.Clone()
	params.ResponseFormat = nil
	params.Tools = nil
	params.ToolChoice = nil

	apiParams, err := buildChatParams(&llmprovider.GenerateRequest{
		Messages: req.Messages,
		Model:    req.Model,
		Params:   params,
	})
	if err != nil {
		return nil, err
	}
	apiParams.ResponseFormat = jsonSchemaFormat(req.SchemaName, req.Schema)

	completion, err := p.completions.New(ctx, apiParams)
	if err != nil {
		return nil, fmt.Errorf("openrouter structured output: %w", mapError(req.Model, err))
	}
	if len(completion.Choices) == 0 {
		return nil, &llmprovider.StreamError{Message: "response has no choices", Code: "no_structured_output"}
	}

	choice := completion.Choices[0]
	data := json.RawMessage(choice.Message.Content)
	if !json.Valid(data) {
		return nil, &llmprovider.StreamError{
			Message: fmt.Sprintf("response is not valid JSON (finish reason %s)", choice.FinishReason),
			Code:    "no_structured_output",
		}
	}

	metadata := map[string]any{"finish_reason": choice.FinishReason}
	if completion.ID != "" {
		metadata["id"] = completion.ID
	}
	return &llmprovider.StructuredOutputResponse{
		Data:  data,
		Model: completion.Model,
		Usage: llmprovider.Usage{
			InputTokens:     int(completion.Usage.PromptTokens),
			OutputTokens:    int(completion.Usage.CompletionTokens),
			CacheReadTokens: int(completion.Usage.PromptTokensDetails.CachedTokens),
		},
		ResponseMetadata: metadata,
	}, nil
}
