package openrouter

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/openai/openai-go"

	llmprovider "github.com/haowjy/meridian-agent-go"
)

// convertMessages converts library messages to chat completion messages.
// Tool results are split out into one tool message per call, placed ahead of
// any user content that shared their message.
func convertMessages(messages []llmprovider.Message) ([]openai.ChatCompletionMessageParamUnion, error) {
	messages = llmprovider.FillMissingToolResults(llmprovider.Reconcile(messages))

	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for i := range messages {
		msg := &messages[i]
		var (
			converted []openai.ChatCompletionMessageParamUnion
			err       error
		)
		switch msg.Role {
		case llmprovider.RoleSystem:
			if text := msg.Text(); text != "" {
				converted = append(converted, openai.SystemMessage(text))
			}
		case llmprovider.RoleAssistant:
			converted, err = convertAssistant(msg)
		case llmprovider.RoleUser, llmprovider.RoleTool:
			converted, err = convertUser(msg)
		default:
			err = fmt.Errorf("unsupported role %q", msg.Role)
		}
		if err != nil {
			return nil, fmt.Errorf("message %d: %w", i, err)
		}
		out = append(out, converted...)
	}
	return out, nil
}

func convertUser(msg *llmprovider.Message) ([]openai.ChatCompletionMessageParamUnion, error) {
	var (
		out   []openai.ChatCompletionMessageParamUnion
		parts []openai.ChatCompletionContentPartUnionParam
	)
	for j, part := range msg.Parts {
		switch p := part.(type) {
		case *llmprovider.ToolResultPart:
			if p.ToolCallID == "" {
				return nil, fmt.Errorf("part %d: tool result missing tool_call_id", j)
			}
			content := p.Content
			if content == "" {
				content = "{}"
			}
			out = append(out, openai.ToolMessage(content, p.ToolCallID))
		case *llmprovider.TextPart:
			if p.Content != "" {
				parts = append(parts, openai.TextContentPart(p.Content))
			}
		case *llmprovider.ImagePart:
			url, err := imageURL(p.Source)
			if err != nil {
				return nil, fmt.Errorf("part %d: %w", j, err)
			}
			parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: url}))
		default:
			return nil, fmt.Errorf("part %d: %T not allowed in a %s message", j, part, msg.Role)
		}
	}

	switch {
	case len(parts) == 0:
	case len(parts) == 1 && parts[0].OfText != nil:
		out = append(out, openai.UserMessage(parts[0].OfText.Text))
	default:
		out = append(out, openai.UserMessage(parts))
	}
	return out, nil
}

func convertAssistant(msg *llmprovider.Message) ([]openai.ChatCompletionMessageParamUnion, error) {
	var (
		text      strings.Builder
		reasoning strings.Builder
		calls     []openai.ChatCompletionMessageToolCallParam
	)
	for j, part := range msg.Parts {
		switch p := part.(type) {
		case *llmprovider.TextPart:
			text.WriteString(p.Content)
		case *llmprovider.ThinkingPart:
			reasoning.WriteString(p.Content)
		case *llmprovider.ToolCallPart:
			if p.ID == "" || p.Name == "" {
				return nil, fmt.Errorf("part %d: tool call requires id and name", j)
			}
			args, err := callArguments(p)
			if err != nil {
				return nil, fmt.Errorf("part %d: %w", j, err)
			}
			calls = append(calls, openai.ChatCompletionMessageToolCallParam{
				ID: p.ID,
				Function: openai.ChatCompletionMessageToolCallFunctionParam{
					Name:      p.Name,
					Arguments: args,
				},
			})
		default:
			return nil, fmt.Errorf("part %d: %T not allowed in an assistant message", j, part)
		}
	}

	if text.Len() == 0 && len(calls) == 0 {
		return nil, nil
	}

	assistant := openai.ChatCompletionAssistantMessageParam{ToolCalls: calls}
	if text.Len() > 0 {
		assistant.Content = openai.ChatCompletionAssistantMessageParamContentUnion{OfString: openai.String(text.String())}
	}
	if reasoning.Len() > 0 {
		assistant.SetExtraFields(map[string]any{"reasoning": reasoning.String()})
	}
	return []openai.ChatCompletionMessageParamUnion{{OfAssistant: &assistant}}, nil
}

// callArguments prefers the raw streamed arguments and falls back to the
// parsed input.
func callArguments(call *llmprovider.ToolCallPart) (string, error) {
	if call.Arguments != "" && json.Valid([]byte(call.Arguments)) {
		return call.Arguments, nil
	}
	if call.Input == nil {
		return "{}", nil
	}
	raw, err := json.Marshal(call.Input)
	if err != nil {
		return "", fmt.Errorf("marshal tool input: %w", err)
	}
	return string(raw), nil
}

func imageURL(src llmprovider.ImageSource) (string, error) {
	switch {
	case src.Data != "":
		if src.MediaType == "" {
			return "", fmt.Errorf("inline image requires a media type")
		}
		return "data:" + src.MediaType + ";base64," + src.Data, nil
	case src.URL != "":
		return src.URL, nil
	default:
		return "", fmt.Errorf("image requires a url or inline data")
	}
}

// finishReason maps an OpenAI-style finish_reason to the library value.
func finishReason(reason string) llmprovider.FinishReason {
	switch reason {
	case "length":
		return llmprovider.FinishReasonLength
	case "tool_calls", "function_call":
		return llmprovider.FinishReasonToolCalls
	case "content_filter":
		return llmprovider.FinishReasonContentFilter
	case "error":
		return llmprovider.FinishReasonError
	default:
		return llmprovider.FinishReasonStop
	}
}

// reasoningText extracts readable reasoning from OpenRouter's reasoning
// extensions: a plain "reasoning" string or a "reasoning_details" array.
// Encrypted details are skipped.
func reasoningText(extra map[string]string) string {
	if raw, ok := extra["reasoning"]; ok && raw != "" && raw != "null" {
		var s string
		if err := json.Unmarshal([]byte(raw), &s); err == nil && s != "" {
			return s
		}
	}

	raw, ok := extra["reasoning_details"]
	if !ok || raw == "" || raw == "null" {
		return ""
	}
	var details []struct {
		Type    string `json:"type"`
		Text    string `json:"text"`
		Summary string `json:"summary"`
	}
	if err := json.Unmarshal([]byte(raw), &details); err != nil {
		return ""
	}
	var b strings.Builder
	for _, d := range details {
		switch d.Type {
		case "reasoning.text":
			b.WriteString(d.Text)
		case "reasoning.summary":
			b.WriteString(d.Summary)
		}
	}
	return b.String()
}
