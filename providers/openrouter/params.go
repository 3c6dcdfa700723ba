package openrouter

import (
	"encoding/json"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/shared"

	llmprovider "github.com/haowjy/meridian-agent-go"
)

// buildChatParams constructs the chat completion request for a GenerateRequest.
// Options OpenRouter accepts beyond the OpenAI schema (top_k, reasoning,
// provider routing, fallback models) are sent as extra fields.
func buildChatParams(req *llmprovider.GenerateRequest) (openai.ChatCompletionNewParams, error) {
	params := req.Params
	if params == nil {
		params = &llmprovider.RequestParams{}
	}

	messages, err := convertMessages(req.Messages)
	if err != nil {
		return openai.ChatCompletionNewParams{}, fmt.Errorf("failed to convert messages: %w", err)
	}
	if params.System != nil && *params.System != "" {
		messages = append([]openai.ChatCompletionMessageParamUnion{openai.SystemMessage(*params.System)}, messages...)
	}

	apiParams := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(req.Model),
		Messages: messages,
	}

	if params.MaxTokens != nil {
		apiParams.MaxTokens = openai.Int(int64(*params.MaxTokens))
	}
	if params.Temperature != nil {
		apiParams.Temperature = openai.Float(*params.Temperature)
	}
	if params.TopP != nil {
		apiParams.TopP = openai.Float(*params.TopP)
	}
	if params.Seed != nil {
		apiParams.Seed = openai.Int(int64(*params.Seed))
	}
	if params.FrequencyPenalty != nil {
		apiParams.FrequencyPenalty = openai.Float(*params.FrequencyPenalty)
	}
	if params.PresencePenalty != nil {
		apiParams.PresencePenalty = openai.Float(*params.PresencePenalty)
	}
	if len(params.Stop) > 0 {
		apiParams.Stop = openai.ChatCompletionNewParamsStopUnion{OfStringArray: params.Stop}
	}
	if params.ParallelToolCalls != nil {
		apiParams.ParallelToolCalls = openai.Bool(*params.ParallelToolCalls)
	}

	if len(params.Tools) > 0 {
		tools, err := convertTools(params.Tools)
		if err != nil {
			return openai.ChatCompletionNewParams{}, fmt.Errorf("failed to convert tools: %w", err)
		}
		apiParams.Tools = tools
	}
	if params.ToolChoice != nil {
		choice, err := convertToolChoice(params.ToolChoice)
		if err != nil {
			return openai.ChatCompletionNewParams{}, fmt.Errorf("failed to convert tool choice: %w", err)
		}
		apiParams.ToolChoice = choice
	}

	if params.ResponseFormat != nil {
		format, err := convertResponseFormat(params.ResponseFormat)
		if err != nil {
			return openai.ChatCompletionNewParams{}, err
		}
		apiParams.ResponseFormat = format
	}

	if extra := extraFields(params); len(extra) > 0 {
		apiParams.SetExtraFields(extra)
	}
	return apiParams, nil
}

func extraFields(params *llmprovider.RequestParams) map[string]any {
	extra := map[string]any{}
	if params.TopK != nil {
		extra["top_k"] = *params.TopK
	}
	if params.IsThinkingEnabled() {
		if budget := params.GetThinkingBudgetTokens(); budget > 0 {
			extra["reasoning"] = map[string]any{"max_tokens": budget}
		} else {
			extra["reasoning"] = map[string]any{"enabled": true}
		}
	}
	if params.Provider != nil && *params.Provider != "" {
		extra["provider"] = map[string]any{
			"order":           []string{*params.Provider},
			"allow_fallbacks": false,
		}
	}
	if len(params.FallbackModels) > 0 {
		extra["models"] = params.FallbackModels
	}
	return extra
}

func convertResponseFormat(format *llmprovider.ResponseFormat) (openai.ChatCompletionNewParamsResponseFormatUnion, error) {
	switch format.Type {
	case "", "text":
		text := shared.NewResponseFormatTextParam()
		return openai.ChatCompletionNewParamsResponseFormatUnion{OfText: &text}, nil
	case "json_object":
		obj := shared.NewResponseFormatJSONObjectParam()
		return openai.ChatCompletionNewParamsResponseFormatUnion{OfJSONObject: &obj}, nil
	case "json_schema":
		if format.JSONSchema == nil {
			return openai.ChatCompletionNewParamsResponseFormatUnion{}, &llmprovider.ValidationError{
				Field:  "response_format.json_schema",
				Reason: "json_schema format requires a schema",
				Err:    llmprovider.ErrInvalidRequest,
			}
		}
		return jsonSchemaFormat(format.Name, format.JSONSchema), nil
	default:
		return openai.ChatCompletionNewParamsResponseFormatUnion{}, &llmprovider.ValidationError{
			Field:  "response_format.type",
			Value:  format.Type,
			Reason: "must be 'text', 'json_object', or 'json_schema'",
			Err:    llmprovider.ErrInvalidRequest,
		}
	}
}

func jsonSchemaFormat(name string, schema map[string]any) openai.ChatCompletionNewParamsResponseFormatUnion {
	if name == "" {
		name = defaultSchemaName
	}
	return openai.ChatCompletionNewParamsResponseFormatUnion{
		OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
			JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
				Name:   name,
				Strict: openai.Bool(true),
				Schema: schema,
			},
		},
	}
}

// BuildChatParamsDebug returns the JSON body that would be sent to OpenRouter
// for req, for inspection by debug endpoints.
func BuildChatParamsDebug(req *llmprovider.GenerateRequest) (map[string]any, error) {
	apiParams, err := buildChatParams(req)
	if err != nil {
		return nil, err
	}

	raw, err := json.Marshal(apiParams)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal openrouter request: %w", err)
	}
	var result map[string]any
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal openrouter request: %w", err)
	}
	return result, nil
}
