package anthropic

import (
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"

	llmprovider "github.com/haowjy/meridian-agent-go"
)

// convertMessages converts the history to Anthropic messages plus system
// blocks. Tool messages become user messages carrying tool_result blocks, and
// calls that never got a result (denied, unanswered) get a synthetic error
// result so every tool_use is answered.
func convertMessages(messages []llmprovider.Message) ([]anthropic.MessageParam, []anthropic.TextBlockParam, error) {
	history := llmprovider.FillMissingToolResults(llmprovider.Reconcile(messages))

	result := make([]anthropic.MessageParam, 0, len(history))
	var system []anthropic.TextBlockParam

	for i := range history {
		msg := &history[i]

		if msg.Role == llmprovider.RoleSystem {
			if text := msg.Text(); text != "" {
				system = append(system, anthropic.TextBlockParam{Text: text})
			}
			continue
		}

		blocks := make([]anthropic.ContentBlockParamUnion, 0, len(msg.Parts))
		for j, part := range msg.Parts {
			block, ok, err := convertPart(part)
			if err != nil {
				return nil, nil, fmt.Errorf("message %d, part %d: %w", i, j, err)
			}
			if ok {
				blocks = append(blocks, block)
			}
		}
		if len(blocks) == 0 {
			continue
		}

		switch msg.Role {
		case llmprovider.RoleUser, llmprovider.RoleTool:
			result = appendMessage(result, anthropic.MessageParamRoleUser, blocks)
		case llmprovider.RoleAssistant:
			result = appendMessage(result, anthropic.MessageParamRoleAssistant, blocks)
		default:
			return nil, nil, fmt.Errorf("message %d: unsupported role '%s'", i, msg.Role)
		}
	}

	return result, system, nil
}

// appendMessage adds blocks as a new message, or to the previous one when it
// has the same role. Removing system messages can make two user turns
// adjacent.
func appendMessage(result []anthropic.MessageParam, role anthropic.MessageParamRole, blocks []anthropic.ContentBlockParamUnion) []anthropic.MessageParam {
	if n := len(result); n > 0 && result[n-1].Role == role {
		result[n-1].Content = append(result[n-1].Content, blocks...)
		return result
	}
	return append(result, anthropic.MessageParam{Role: role, Content: blocks})
}

// convertPart maps one part to a content block. ok is false for parts that
// have no Anthropic form: empty text and thinking without a signature, which
// the API would reject on replay.
func convertPart(part llmprovider.Part) (anthropic.ContentBlockParamUnion, bool, error) {
	switch p := part.(type) {
	case *llmprovider.TextPart:
		if p.Content == "" {
			return anthropic.ContentBlockParamUnion{}, false, nil
		}
		return anthropic.NewTextBlock(p.Content), true, nil

	case *llmprovider.ThinkingPart:
		if p.Signature == "" {
			return anthropic.ContentBlockParamUnion{}, false, nil
		}
		return anthropic.NewThinkingBlock(p.Signature, p.Content), true, nil

	case *llmprovider.ImagePart:
		return convertImage(p.Source)

	case *llmprovider.ToolCallPart:
		if p.ID == "" || p.Name == "" {
			return anthropic.ContentBlockParamUnion{}, false, fmt.Errorf("tool call missing id or name")
		}
		input := p.Input
		if input == nil {
			input = map[string]any{}
		}
		return anthropic.NewToolUseBlock(p.ID, input, p.Name), true, nil

	case *llmprovider.ToolResultPart:
		if p.ToolCallID == "" {
			return anthropic.ContentBlockParamUnion{}, false, fmt.Errorf("tool result missing tool_call_id")
		}
		return anthropic.NewToolResultBlock(p.ToolCallID, p.Content, p.IsError), true, nil
	}
	return anthropic.ContentBlockParamUnion{}, false, fmt.Errorf("unsupported part type %T", part)
}

func convertImage(src llmprovider.ImageSource) (anthropic.ContentBlockParamUnion, bool, error) {
	switch {
	case src.Data != "":
		if src.MediaType == "" {
			return anthropic.ContentBlockParamUnion{}, false, fmt.Errorf("inline image missing media_type")
		}
		return anthropic.NewImageBlockBase64(src.MediaType, src.Data), true, nil
	case src.URL != "":
		return anthropic.ContentBlockParamUnion{
			OfImage: &anthropic.ImageBlockParam{
				Source: anthropic.ImageBlockParamSourceUnion{
					OfURL: &anthropic.URLImageSourceParam{URL: src.URL},
				},
			},
		}, true, nil
	}
	return anthropic.ContentBlockParamUnion{}, false, fmt.Errorf("image has neither url nor data")
}

// stopReasonToFinish maps Anthropic stop reasons to canonical finish reasons.
func stopReasonToFinish(reason anthropic.StopReason) llmprovider.FinishReason {
	switch reason {
	case anthropic.StopReasonMaxTokens:
		return llmprovider.FinishReasonLength
	case anthropic.StopReasonToolUse:
		return llmprovider.FinishReasonToolCalls
	case anthropic.StopReasonRefusal:
		return llmprovider.FinishReasonContentFilter
	default:
		return llmprovider.FinishReasonStop
	}
}
