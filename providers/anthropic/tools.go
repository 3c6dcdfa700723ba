package anthropic

import (
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"

	llmprovider "github.com/haowjy/meridian-agent-go"
)

// convertTools converts wire tools to Anthropic custom tools. Every tool runs
// on our side, so none map to Anthropic's server tools.
func convertTools(tools []llmprovider.Tool) ([]anthropic.ToolUnionParam, error) {
	if len(tools) == 0 {
		return nil, nil
	}

	result := make([]anthropic.ToolUnionParam, 0, len(tools))
	for i := range tools {
		if err := tools[i].Validate(); err != nil {
			return nil, fmt.Errorf("tool %d (%s): %w", i, tools[i].Function.Name, err)
		}
		result = append(result, convertCustomTool(&tools[i]))
	}
	return result, nil
}

// convertCustomTool flattens the OpenAI-style function into Anthropic's
// shape: parameters become input_schema.
func convertCustomTool(tool *llmprovider.Tool) anthropic.ToolUnionParam {
	param := anthropic.ToolUnionParamOfTool(inputSchema(tool.Function.Parameters), tool.Function.Name)
	if tool.Function.Description != "" && param.OfTool != nil {
		param.OfTool.Description = anthropic.String(tool.Function.Description)
	}
	return param
}

// inputSchema splits a JSON schema object into the SDK's typed fields
// (properties, required) and everything else.
func inputSchema(schema map[string]any) anthropic.ToolInputSchemaParam {
	param := anthropic.ToolInputSchemaParam{
		Properties:  schema["properties"],
		ExtraFields: make(map[string]any),
	}

	switch required := schema["required"].(type) {
	case []string:
		param.Required = append([]string(nil), required...)
	case []any:
		for _, v := range required {
			if s, ok := v.(string); ok {
				param.Required = append(param.Required, s)
			}
		}
	}

	for key, value := range schema {
		if key != "type" && key != "properties" && key != "required" {
			param.ExtraFields[key] = value
		}
	}
	return param
}

// convertToolChoice converts library ToolChoice to Anthropic format.
// Returns nil if no tool choice specified (lets provider decide).
func convertToolChoice(choice *llmprovider.ToolChoice) (*anthropic.ToolChoiceUnionParam, error) {
	if choice == nil {
		return nil, nil
	}
	if err := choice.Validate(); err != nil {
		return nil, fmt.Errorf("invalid tool choice: %w", err)
	}

	switch choice.Mode {
	case llmprovider.ToolChoiceModeAuto:
		return &anthropic.ToolChoiceUnionParam{OfAuto: &anthropic.ToolChoiceAutoParam{}}, nil

	case llmprovider.ToolChoiceModeRequired:
		// Anthropic calls this "any"
		return &anthropic.ToolChoiceUnionParam{OfAny: &anthropic.ToolChoiceAnyParam{}}, nil

	case llmprovider.ToolChoiceModeNone:
		none := anthropic.NewToolChoiceNoneParam()
		return &anthropic.ToolChoiceUnionParam{OfNone: &none}, nil

	case llmprovider.ToolChoiceModeSpecific:
		union := anthropic.ToolChoiceParamOfTool(*choice.ToolName)
		return &union, nil

	default:
		return nil, fmt.Errorf("unsupported tool choice mode: %s", choice.Mode)
	}
}
