package anthropic

import (
	"encoding/json"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	llmprovider "github.com/haowjy/meridian-agent-go"
)

// toJSON renders SDK params the way they go over the wire.
func toJSON(t *testing.T, v any) map[string]any {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }
func boolPtr(b bool) *bool    { return &b }

func TestConvertMessages(t *testing.T) {
	denied := false
	messages := []llmprovider.Message{
		llmprovider.NewSystemMessage("Be brief."),
		llmprovider.NewUserMessage("Weather in Paris, then delete my notes."),
		llmprovider.NewMessage(llmprovider.RoleAssistant,
			&llmprovider.ThinkingPart{Content: "Two tools.", Signature: "sig_1"},
			&llmprovider.ThinkingPart{Content: "unsigned"},
			&llmprovider.TextPart{Content: "On it."},
			&llmprovider.ToolCallPart{ID: "toolu_1", Name: "get_weather", Input: map[string]any{"city": "Paris"}, State: llmprovider.ToolStateOutputAvailable},
			&llmprovider.ToolCallPart{ID: "toolu_2", Name: "delete_notes", State: llmprovider.ToolStateApprovalResponded,
				Approval: &llmprovider.Approval{ID: "ap_1", NeedsApproval: true, Approved: &denied}},
		),
		llmprovider.NewMessage(llmprovider.RoleTool, &llmprovider.ToolResultPart{ToolCallID: "toolu_1", Content: "18C"}),
	}

	out, system, err := convertMessages(messages)
	require.NoError(t, err)

	require.Len(t, system, 1)
	assert.Equal(t, "Be brief.", system[0].Text)

	require.Len(t, out, 3)
	assert.Equal(t, anthropic.MessageParamRoleUser, out[0].Role)
	assert.Equal(t, anthropic.MessageParamRoleAssistant, out[1].Role)
	assert.Equal(t, anthropic.MessageParamRoleUser, out[2].Role)

	assistant := toJSON(t, out[1])["content"].([]any)
	require.Len(t, assistant, 4, "unsigned thinking is dropped")
	assert.Equal(t, "thinking", assistant[0].(map[string]any)["type"])
	assert.Equal(t, "sig_1", assistant[0].(map[string]any)["signature"])
	assert.Equal(t, "text", assistant[1].(map[string]any)["type"])
	toolUse := assistant[2].(map[string]any)
	assert.Equal(t, "tool_use", toolUse["type"])
	assert.Equal(t, map[string]any{"city": "Paris"}, toolUse["input"])
	assert.Equal(t, map[string]any{}, assistant[3].(map[string]any)["input"])

	results := toJSON(t, out[2])["content"].([]any)
	require.Len(t, results, 2)
	ids := map[string]bool{}
	for _, r := range results {
		block := r.(map[string]any)
		assert.Equal(t, "tool_result", block["type"])
		ids[block["tool_use_id"].(string)] = true
		if block["tool_use_id"] == "toolu_2" {
			assert.Equal(t, true, block["is_error"])
		}
	}
	assert.Equal(t, map[string]bool{"toolu_1": true, "toolu_2": true}, ids)
}

func TestConvertMessages_Errors(t *testing.T) {
	tests := []struct {
		name string
		part llmprovider.Part
	}{
		{"tool call without id", &llmprovider.ToolCallPart{Name: "x"}},
		{"image without source", &llmprovider.ImagePart{}},
		{"inline image without media type", &llmprovider.ImagePart{Source: llmprovider.ImageSource{Data: "aGk="}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := convertMessages([]llmprovider.Message{
				llmprovider.NewMessage(llmprovider.RoleUser, &llmprovider.TextPart{Content: "hi"}, tt.part),
			})
			assert.Error(t, err)
		})
	}
}

func TestConvertImage(t *testing.T) {
	block, ok, err := convertImage(llmprovider.ImageSource{URL: "https://example.com/cat.png"})
	require.NoError(t, err)
	require.True(t, ok)
	source := toJSON(t, block)["source"].(map[string]any)
	assert.Equal(t, "url", source["type"])
	assert.Equal(t, "https://example.com/cat.png", source["url"])

	block, ok, err = convertImage(llmprovider.ImageSource{MediaType: "image/png", Data: "aGk="})
	require.NoError(t, err)
	require.True(t, ok)
	source = toJSON(t, block)["source"].(map[string]any)
	assert.Equal(t, "base64", source["type"])
	assert.Equal(t, "image/png", source["media_type"])
}

func TestBuildMessageParams(t *testing.T) {
	weather, err := llmprovider.NewCustomTool("get_weather", "Current weather", map[string]any{
		"type": "object",
		"properties": map[string]any{
			"city": map[string]any{"type": "string"},
		},
		"required":             []any{"city"},
		"additionalProperties": false,
	}, nil)
	require.NoError(t, err)

	req := &llmprovider.GenerateRequest{
		Model:    "claude-sonnet-4-5",
		Messages: []llmprovider.Message{llmprovider.NewSystemMessage("From history."), llmprovider.NewUserMessage("hi")},
		Params: &llmprovider.RequestParams{
			MaxTokens:       intPtr(1000),
			System:          strPtr("From params."),
			ThinkingEnabled: boolPtr(true),
			ThinkingLevel:   strPtr("low"),
			Stop:            []string{"END"},
			Tools:           []llmprovider.Tool{weather.Tool()},
		},
	}

	params, err := buildMessageParams(req)
	require.NoError(t, err)
	body := toJSON(t, params)

	assert.Equal(t, "claude-sonnet-4-5", body["model"])
	assert.EqualValues(t, 2000+defaultMaxTokens, body["max_tokens"], "max_tokens must exceed the thinking budget")
	assert.Equal(t, map[string]any{"type": "enabled", "budget_tokens": float64(2000)}, body["thinking"])
	assert.Equal(t, []any{"END"}, body["stop_sequences"])

	system := body["system"].([]any)
	require.Len(t, system, 2)
	assert.Equal(t, "From params.", system[0].(map[string]any)["text"])
	assert.Equal(t, "From history.", system[1].(map[string]any)["text"])

	tools := body["tools"].([]any)
	require.Len(t, tools, 1)
	tool := tools[0].(map[string]any)
	assert.Equal(t, "get_weather", tool["name"])
	assert.Equal(t, "Current weather", tool["description"])
	schema := tool["input_schema"].(map[string]any)
	assert.Equal(t, "object", schema["type"])
	assert.Equal(t, []any{"city"}, schema["required"])
	assert.Equal(t, false, schema["additionalProperties"])
}

func TestBuildMessageParams_Defaults(t *testing.T) {
	params, err := buildMessageParams(&llmprovider.GenerateRequest{
		Model:    "claude-haiku-4-5",
		Messages: []llmprovider.Message{llmprovider.NewUserMessage("hi")},
	})
	require.NoError(t, err)
	body := toJSON(t, params)

	assert.EqualValues(t, defaultMaxTokens, body["max_tokens"])
	assert.NotContains(t, body, "thinking")
	assert.NotContains(t, body, "tools")
	assert.NotContains(t, body, "system")
}

func TestConvertToolChoice(t *testing.T) {
	tests := []struct {
		name   string
		choice *llmprovider.ToolChoice
		want   map[string]any
	}{
		{"auto", &llmprovider.ToolChoice{Mode: llmprovider.ToolChoiceModeAuto}, map[string]any{"type": "auto"}},
		{"required", &llmprovider.ToolChoice{Mode: llmprovider.ToolChoiceModeRequired}, map[string]any{"type": "any"}},
		{"none", &llmprovider.ToolChoice{Mode: llmprovider.ToolChoiceModeNone}, map[string]any{"type": "none"}},
		{"specific", &llmprovider.ToolChoice{Mode: llmprovider.ToolChoiceModeSpecific, ToolName: strPtr("get_weather")},
			map[string]any{"type": "tool", "name": "get_weather"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := convertToolChoice(tt.choice)
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, tt.want, toJSON(t, got))
		})
	}

	got, err := convertToolChoice(nil)
	assert.NoError(t, err)
	assert.Nil(t, got)

	_, err = convertToolChoice(&llmprovider.ToolChoice{Mode: llmprovider.ToolChoiceModeSpecific})
	assert.Error(t, err)
}

func TestStopReasonToFinish(t *testing.T) {
	tests := []struct {
		reason anthropic.StopReason
		want   llmprovider.FinishReason
	}{
		{anthropic.StopReasonEndTurn, llmprovider.FinishReasonStop},
		{anthropic.StopReasonStopSequence, llmprovider.FinishReasonStop},
		{anthropic.StopReasonMaxTokens, llmprovider.FinishReasonLength},
		{anthropic.StopReasonToolUse, llmprovider.FinishReasonToolCalls},
		{anthropic.StopReasonRefusal, llmprovider.FinishReasonContentFilter},
	}
	for _, tt := range tests {
		t.Run(string(tt.reason), func(t *testing.T) {
			assert.Equal(t, tt.want, stopReasonToFinish(tt.reason))
		})
	}
}
