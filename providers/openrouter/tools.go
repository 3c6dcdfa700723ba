package openrouter

import (
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/shared"

	llmprovider "github.com/haowjy/meridian-agent-go"
)

// convertTools converts library tools to OpenAI function tools.
func convertTools(tools []llmprovider.Tool) ([]openai.ChatCompletionToolParam, error) {
	result := make([]openai.ChatCompletionToolParam, 0, len(tools))
	for i := range tools {
		tool := &tools[i]
		if err := tool.Validate(); err != nil {
			return nil, fmt.Errorf("tool %d (%s): %w", i, tool.Function.Name, err)
		}

		fn := shared.FunctionDefinitionParam{
			Name:       tool.Function.Name,
			Parameters: shared.FunctionParameters(tool.Function.Parameters),
		}
		if fn.Parameters == nil {
			fn.Parameters = shared.FunctionParameters{"type": "object", "properties": map[string]any{}}
		}
		if tool.Function.Description != "" {
			fn.Description = openai.String(tool.Function.Description)
		}
		result = append(result, openai.ChatCompletionToolParam{Function: fn})
	}
	return result, nil
}

// convertToolChoice converts library tool choice to the OpenAI union.
func convertToolChoice(choice *llmprovider.ToolChoice) (openai.ChatCompletionToolChoiceOptionUnionParam, error) {
	switch choice.Mode {
	case llmprovider.ToolChoiceModeAuto, "":
		return openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: openai.String("auto")}, nil
	case llmprovider.ToolChoiceModeRequired:
		return openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: openai.String("required")}, nil
	case llmprovider.ToolChoiceModeNone:
		return openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: openai.String("none")}, nil
	case llmprovider.ToolChoiceModeSpecific:
		if choice.ToolName == nil || *choice.ToolName == "" {
			return openai.ChatCompletionToolChoiceOptionUnionParam{}, fmt.Errorf("specific tool choice requires tool_name")
		}
		return openai.ChatCompletionToolChoiceOptionUnionParam{
			OfChatCompletionNamedToolChoice: &openai.ChatCompletionNamedToolChoiceParam{
				Function: openai.ChatCompletionNamedToolChoiceFunctionParam{Name: *choice.ToolName},
			},
		}, nil
	default:
		return openai.ChatCompletionToolChoiceOptionUnionParam{}, fmt.Errorf("unknown tool choice mode %q", choice.Mode)
	}
}
