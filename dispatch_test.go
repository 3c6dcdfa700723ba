package llmprovider

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var cartSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"item":     map[string]any{"type": "string"},
		"quantity": map[string]any{"type": "integer", "minimum": 1},
	},
	"required": []any{"item"},
}

func TestDispatch_Outcomes(t *testing.T) {
	echo, err := NewCustomTool("echo", "Echo input", cartSchema, func(ctx context.Context, input map[string]any) (any, error) {
		return input, nil
	})
	require.NoError(t, err)
	text, err := NewCustomTool("text", "Return text", map[string]any{"type": "object"}, func(ctx context.Context, input map[string]any) (any, error) {
		return "plain", nil
	})
	require.NoError(t, err)
	failing, err := NewCustomTool("db", "Query", map[string]any{"type": "object"}, func(ctx context.Context, input map[string]any) (any, error) {
		return nil, errors.New("db error")
	})
	require.NoError(t, err)
	panicking, err := NewCustomTool("boom", "Panics", map[string]any{"type": "object"}, func(ctx context.Context, input map[string]any) (any, error) {
		panic("kaboom")
	})
	require.NoError(t, err)
	client, err := NewTextEditorTool()
	require.NoError(t, err)

	registry := MustToolRegistry(echo, text, failing, panicking, client)

	tests := []struct {
		name       string
		call       *ToolCallPart
		wantKind   OutcomeKind
		wantOutput string
		wantError  string
	}{
		{
			name:      "unknown tool",
			call:      &ToolCallPart{ID: "1", Name: "nope", State: ToolStateInputComplete},
			wantKind:  OutcomeOutputError,
			wantError: "Unknown tool: nope",
		},
		{
			name:       "structured output is JSON encoded",
			call:       &ToolCallPart{ID: "2", Name: "echo", Arguments: `{"item":"hammer"}`, State: ToolStateInputComplete},
			wantKind:   OutcomeOutputAvailable,
			wantOutput: `{"item":"hammer"}`,
		},
		{
			name:       "string output is passed through",
			call:       &ToolCallPart{ID: "3", Name: "text", State: ToolStateInputComplete},
			wantKind:   OutcomeOutputAvailable,
			wantOutput: "plain",
		},
		{
			name:      "execute error",
			call:      &ToolCallPart{ID: "4", Name: "db", State: ToolStateInputComplete},
			wantKind:  OutcomeOutputError,
			wantError: "db error",
		},
		{
			name:      "panic is recovered",
			call:      &ToolCallPart{ID: "5", Name: "boom", State: ToolStateInputComplete},
			wantKind:  OutcomeOutputError,
			wantError: "tool boom panicked: kaboom",
		},
		{
			name:     "client tool awaits input",
			call:     &ToolCallPart{ID: "6", Name: ToolTypeTextEditor, Arguments: `{"path":"a","command":"view"}`, State: ToolStateInputComplete},
			wantKind: OutcomeAwaitingClientInput,
		},
		{
			name:     "schema violation",
			call:     &ToolCallPart{ID: "7", Name: "echo", Arguments: `{"quantity":0}`, State: ToolStateInputComplete},
			wantKind: OutcomeOutputError,
		},
		{
			name:     "unparsable arguments",
			call:     &ToolCallPart{ID: "8", Name: "echo", Arguments: `{"item":`, State: ToolStateInputComplete},
			wantKind: OutcomeOutputError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snapshot := tt.call.Clone()
			out := Dispatch(context.Background(), tt.call, registry)

			assert.Equal(t, tt.wantKind, out.Kind)
			assert.Equal(t, tt.call.ID, out.ToolCallID)
			if tt.wantOutput != "" {
				assert.JSONEq(t, jsonOrString(tt.wantOutput), jsonOrString(out.Output))
			}
			if tt.wantError != "" {
				assert.Contains(t, out.ErrorText, tt.wantError)
			}
			if tt.wantKind == OutcomeOutputError {
				assert.NotEmpty(t, out.ErrorText)
			}
			assert.Equal(t, snapshot, Part(tt.call), "dispatch must not mutate the call")
		})
	}
}

func TestDispatch_ApprovalGate(t *testing.T) {
	var executions atomic.Int32
	addToCart, err := NewCustomTool("addToCart", "Add an item", cartSchema, func(ctx context.Context, input map[string]any) (any, error) {
		executions.Add(1)
		return map[string]any{"added": input["item"]}, nil
	}, WithApproval())
	require.NoError(t, err)
	registry := MustToolRegistry(addToCart)

	call := &ToolCallPart{ID: "c1", Name: "addToCart", Arguments: `{"item":"hammer"}`, State: ToolStateInputComplete}
	messages := []Message{
		NewUserMessage("add a hammer to the cart"),
		NewMessage(RoleAssistant, call),
	}

	out := Dispatch(context.Background(), call, registry)
	require.Equal(t, OutcomeAwaitingApproval, out.Kind)
	require.NotEmpty(t, out.ApprovalID)
	assert.True(t, out.Halts())
	assert.Zero(t, executions.Load())

	messages, err = ApplyToolOutcomes(messages, []ToolOutcome{out})
	require.NoError(t, err)
	require.Len(t, messages, 2, "approval request produces no result message")
	assert.Equal(t, ToolStateApprovalRequested, call.State)

	// Still pending: dispatching again keeps the approval ID and does not execute.
	again := Dispatch(context.Background(), call, registry)
	assert.Equal(t, OutcomeAwaitingApproval, again.Kind)
	assert.Equal(t, out.ApprovalID, again.ApprovalID)
	assert.Zero(t, executions.Load())

	responded, err := RespondToApproval(messages, out.ApprovalID, true)
	require.NoError(t, err)
	assert.Same(t, call, responded)
	assert.Equal(t, []*ToolCallPart{call}, ReadyToolCalls(&messages[1]))

	_, err = RespondToApproval(messages, out.ApprovalID, false)
	assert.ErrorIs(t, err, ErrApprovalNotFound, "an approval can only be answered once")

	out = Dispatch(context.Background(), call, registry)
	require.Equal(t, OutcomeOutputAvailable, out.Kind)
	assert.EqualValues(t, 1, executions.Load())

	messages, err = ApplyToolOutcomes(messages, []ToolOutcome{out})
	require.NoError(t, err)
	require.Len(t, messages, 3)
	assert.Equal(t, ToolStateOutputAvailable, call.State)
	assert.Equal(t, RoleTool, messages[2].Role)
	assert.JSONEq(t, `{"added":"hammer"}`, messages[2].ToolResults()[0].Content)
}

func TestDispatch_Denied(t *testing.T) {
	executed := false
	tool, err := NewCustomTool("deleteAll", "Delete everything", map[string]any{"type": "object"}, func(ctx context.Context, input map[string]any) (any, error) {
		executed = true
		return "gone", nil
	}, WithApproval())
	require.NoError(t, err)
	registry := MustToolRegistry(tool)

	call := &ToolCallPart{ID: "c1", Name: "deleteAll", State: ToolStateInputComplete}
	messages := []Message{NewUserMessage("clean up"), NewMessage(RoleAssistant, call)}
	require.NoError(t, call.RequestApproval("a1"))

	_, err = RespondToApproval(messages, "a1", false)
	require.NoError(t, err)
	assert.Empty(t, ReadyToolCalls(&messages[1]))

	out := Dispatch(context.Background(), call, registry)
	assert.Equal(t, OutcomeDenied, out.Kind)
	assert.False(t, out.Halts())
	assert.False(t, out.HasResult())
	assert.False(t, executed)

	messages, err = ApplyToolOutcomes(messages, []ToolOutcome{out})
	require.NoError(t, err)
	assert.Len(t, messages, 2, "denied calls get no result part")
	assert.True(t, call.IsResolved())
	assert.True(t, ToolCallsSettled(messages))
}

func TestApplyToolOutcomes_ErrorContent(t *testing.T) {
	call := &ToolCallPart{ID: "c1", Name: "db", State: ToolStateInputComplete}
	messages := []Message{NewUserMessage("query"), NewMessage(RoleAssistant, call)}

	messages, err := ApplyToolOutcomes(messages, []ToolOutcome{
		{ToolCallID: "c1", ToolName: "db", Kind: OutcomeOutputError, ErrorText: "db error", Executed: true},
	})
	require.NoError(t, err)

	assert.Equal(t, ToolStateOutputError, call.State)
	result := messages[2].ToolResults()[0]
	assert.True(t, result.IsError)

	var content map[string]string
	require.NoError(t, json.Unmarshal([]byte(result.Content), &content))
	assert.Equal(t, "db error", content["error"])
}

func TestApplyToolOutcomes_BatchIsOneMessage(t *testing.T) {
	a := &ToolCallPart{ID: "a", Name: "x", State: ToolStateInputComplete}
	b := &ToolCallPart{ID: "b", Name: "x", State: ToolStateInputComplete}
	messages := []Message{NewUserMessage("go"), NewMessage(RoleAssistant, a, b)}

	messages, err := ApplyToolOutcomes(messages, []ToolOutcome{
		{ToolCallID: "b", Kind: OutcomeOutputAvailable, Output: "B", Executed: true},
		{ToolCallID: "a", Kind: OutcomeOutputAvailable, Output: "A", Executed: true},
		{ToolCallID: "missing", Kind: OutcomeOutputAvailable, Output: "?"},
	})
	assert.ErrorIs(t, err, ErrToolCallNotFound)
	require.Len(t, messages, 3)
	assert.Len(t, messages[2].ToolResults(), 2)
	assert.Equal(t, "A", *a.Output)
	assert.Equal(t, "B", *b.Output)
}

func TestAddToolResult(t *testing.T) {
	call := &ToolCallPart{ID: "c1", Name: "bash", State: ToolStateInputComplete}
	messages := []Message{NewUserMessage("run"), NewMessage(RoleAssistant, call)}
	assert.False(t, ToolCallsSettled(messages))

	messages, err := AddToolResult(messages, ToolResult{ToolCallID: "c1", Output: map[string]int{"exit": 0}})
	require.NoError(t, err)
	assert.Equal(t, ToolStateOutputAvailable, call.State)
	assert.JSONEq(t, `{"exit":0}`, *call.Output)
	assert.True(t, ToolCallsSettled(messages))

	_, err = AddToolResult(messages, ToolResult{ToolCallID: "c1", Output: "again"})
	assert.Error(t, err)

	_, err = AddToolResult(messages, ToolResult{ToolCallID: "nope", Output: "x"})
	assert.ErrorIs(t, err, ErrToolCallNotFound)
}

func TestAddToolResult_AfterUserMovedOn(t *testing.T) {
	call := &ToolCallPart{ID: "c1", Name: "pick_color", State: ToolStateInputComplete}
	messages := []Message{
		NewUserMessage("pick a color"),
		NewMessage(RoleAssistant, call),
		NewUserMessage("never mind, tell me a joke"),
	}

	messages, err := AddToolResult(messages, ToolResult{ToolCallID: "c1", Output: "red"})
	require.NoError(t, err)

	roles := make([]Role, len(messages))
	for i, m := range messages {
		roles[i] = m.Role
	}
	assert.Equal(t, []Role{RoleUser, RoleAssistant, RoleTool, RoleUser}, roles)

	outbound := FillMissingToolResults(Reconcile(messages))
	require.Len(t, outbound, 3)
	results := outbound[2].ToolResults()
	require.Len(t, results, 1, "the late result is the only result for the call")
	assert.Equal(t, "c1", results[0].ToolCallID)
	assert.Equal(t, "red", results[0].Content)
	assert.False(t, results[0].IsError)
	assert.Equal(t, "never mind, tell me a joke", outbound[2].Text())
}

func TestApplyToolOutcomes_JoinsExistingToolMessages(t *testing.T) {
	a := &ToolCallPart{ID: "a", Name: "x", State: ToolStateInputComplete}
	b := &ToolCallPart{ID: "b", Name: "x", State: ToolStateInputComplete}
	messages := []Message{NewUserMessage("go"), NewMessage(RoleAssistant, a, b)}

	messages, err := ApplyToolOutcomes(messages, []ToolOutcome{{ToolCallID: "a", Kind: OutcomeOutputAvailable, Output: "A"}})
	require.NoError(t, err)
	messages = append(messages, NewUserMessage("and?"))

	messages, err = ApplyToolOutcomes(messages, []ToolOutcome{{ToolCallID: "b", Kind: OutcomeOutputError, ErrorText: "boom"}})
	require.NoError(t, err)
	require.Len(t, messages, 5)
	assert.Equal(t, "a", messages[2].ToolResults()[0].ToolCallID)
	assert.Equal(t, "b", messages[3].ToolResults()[0].ToolCallID)
	assert.Equal(t, RoleUser, messages[4].Role)
}

func TestToolRegistry(t *testing.T) {
	search, err := NewSearchTool(func(ctx context.Context, input map[string]any) (any, error) {
		return "results", nil
	})
	require.NoError(t, err)
	bash, err := NewBashTool()
	require.NoError(t, err)

	registry, err := NewToolRegistry(search, bash)
	require.NoError(t, err)

	assert.Equal(t, 2, registry.Len())
	assert.Equal(t, []string{ToolTypeBash, ToolTypeSearch}, registry.List())
	assert.Equal(t, ToolTypeSearch, registry.Tools()[0].Function.Name, "tools keep registration order")

	assert.Error(t, registry.Register(search), "duplicate names are rejected")
	assert.Error(t, registry.Register(&ToolDefinition{Name: "srv", ExecutionSide: ExecutionSideServer}), "server tools need execute")

	_, err = registry.Get("missing")
	assert.ErrorIs(t, err, ErrUnknownTool)

	var nilRegistry *ToolRegistry
	_, ok := nilRegistry.Lookup("search")
	assert.False(t, ok)
}

func jsonOrString(s string) string {
	if json.Valid([]byte(s)) {
		return s
	}
	raw, _ := json.Marshal(s)
	return string(raw)
}
