package processor

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	llmprovider "github.com/haowjy/meridian-agent-go"
)

func applyAll(t *testing.T, p *Processor, events ...llmprovider.StreamEvent) {
	t.Helper()
	for _, ev := range events {
		require.NoError(t, p.Apply(ev), "applying %s", ev.EventType())
	}
}

func TestProcessor_Text(t *testing.T) {
	p := New(nil)
	applyAll(t, p,
		llmprovider.RunStartedEvent{RunID: "run-1", Model: "m"},
		llmprovider.ThinkingStartEvent{MessageID: "th"},
		llmprovider.ThinkingDeltaEvent{MessageID: "th", Delta: "let me see"},
		llmprovider.ThinkingEndEvent{MessageID: "th", Signature: "sig"},
		llmprovider.TextStartEvent{MessageID: "t1"},
		llmprovider.TextDeltaEvent{MessageID: "t1", Delta: "Hel"},
		llmprovider.TextDeltaEvent{MessageID: "t1", Accumulated: "Hello"},
		llmprovider.TextDeltaEvent{MessageID: "t1", Delta: ", world", Accumulated: "Hello, world"},
		llmprovider.TextEndEvent{MessageID: "t1"},
		llmprovider.RunFinishedEvent{FinishReason: llmprovider.FinishReasonStop, Usage: &llmprovider.Usage{InputTokens: 3, OutputTokens: 4}},
	)

	res := p.Result()
	assert.True(t, res.Finished)
	assert.Equal(t, "run-1", res.RunID)
	assert.Equal(t, "run-1", res.Message.ID, "run ID names the assistant message")
	assert.Equal(t, llmprovider.RoleAssistant, res.Message.Role)
	assert.Equal(t, llmprovider.FinishReasonStop, res.FinishReason)
	assert.Equal(t, 7, res.Usage.TotalTokens())
	assert.Equal(t, "Hello, world", res.Message.Text())

	require.Len(t, res.Message.Parts, 2)
	thinking := res.Message.Parts[0].(*llmprovider.ThinkingPart)
	assert.Equal(t, "let me see", thinking.Content)
	assert.Equal(t, "sig", thinking.Signature)
}

func TestProcessor_ToolCalls(t *testing.T) {
	result := "cached"
	p := New(nil)
	applyAll(t, p,
		llmprovider.RunStartedEvent{RunID: "run-1"},
		llmprovider.ToolCallStartEvent{ToolCallID: "a", ToolName: "search"},
		llmprovider.ToolCallArgsDeltaEvent{ToolCallID: "a", Delta: `{"query":`},
		llmprovider.ToolCallArgsDeltaEvent{ToolCallID: "a", Delta: `"go"}`},
		llmprovider.ToolCallEndEvent{ToolCallID: "a", ToolName: "search"},

		llmprovider.ToolCallStartEvent{ToolCallID: "b", ToolName: "noargs"},
		llmprovider.ToolCallEndEvent{ToolCallID: "b"},

		llmprovider.ToolCallStartEvent{ToolCallID: "c", ToolName: "parsed"},
		llmprovider.ToolCallArgsDeltaEvent{ToolCallID: "c", Delta: `{"ignored":true}`},
		llmprovider.ToolCallEndEvent{ToolCallID: "c", Input: map[string]any{"x": 1.0}},

		llmprovider.ToolCallStartEvent{ToolCallID: "d", ToolName: "broken"},
		llmprovider.ToolCallArgsDeltaEvent{ToolCallID: "d", Delta: `{"x":`},
		llmprovider.ToolCallEndEvent{ToolCallID: "d"},

		llmprovider.ToolCallStartEvent{ToolCallID: "e", ToolName: "replayed"},
		llmprovider.ToolCallEndEvent{ToolCallID: "e", Result: &result},

		llmprovider.ToolCallStartEvent{ToolCallID: "f", ToolName: "cut"},
		llmprovider.ToolCallArgsDeltaEvent{ToolCallID: "f", Delta: `{"x"`},

		llmprovider.RunFinishedEvent{FinishReason: llmprovider.FinishReasonToolCalls},
	)

	msg := p.Message()
	a, b, c, d, e, f := msg.ToolCall("a"), msg.ToolCall("b"), msg.ToolCall("c"), msg.ToolCall("d"), msg.ToolCall("e"), msg.ToolCall("f")

	assert.Equal(t, llmprovider.ToolStateInputComplete, a.State)
	assert.Equal(t, map[string]any{"query": "go"}, a.Input)

	assert.Equal(t, llmprovider.ToolStateInputComplete, b.State)
	assert.Equal(t, map[string]any{}, b.Input, "empty arguments parse to an empty object")

	assert.Equal(t, map[string]any{"x": 1.0}, c.Input, "parsed input wins over raw arguments")

	assert.Equal(t, llmprovider.ToolStateOutputError, d.State)
	assert.Contains(t, d.ErrorText, "invalid tool arguments")

	assert.Equal(t, llmprovider.ToolStateOutputAvailable, e.State)
	assert.Equal(t, "cached", *e.Output)

	assert.Equal(t, llmprovider.ToolStateOutputError, f.State, "calls still streaming at run end fail")
	assert.True(t, f.HasResult())
}

func TestProcessor_ApprovalRequested(t *testing.T) {
	p := New(nil)
	applyAll(t, p,
		llmprovider.RunStartedEvent{RunID: "run-1"},
		llmprovider.ToolCallStartEvent{ToolCallID: "a", ToolName: "addToCart"},
		llmprovider.ToolCallEndEvent{ToolCallID: "a", Input: map[string]any{"item": "hammer"}},
		llmprovider.CustomEvent{Name: llmprovider.CustomApprovalRequested, Payload: llmprovider.ApprovalRequest{ApprovalID: "ap-1", ToolCallID: "a"}},
		llmprovider.RunFinishedEvent{FinishReason: llmprovider.FinishReasonToolCalls},
	)

	call := p.Message().ToolCall("a")
	assert.Equal(t, llmprovider.ToolStateApprovalRequested, call.State)
	require.NotNil(t, call.Approval)
	assert.Equal(t, "ap-1", call.Approval.ID)
	assert.True(t, call.Approval.IsPending())
	assert.Len(t, p.Result().Custom, 1)
}

func TestProcessor_ErrorEvent(t *testing.T) {
	p := New(nil)
	applyAll(t, p,
		llmprovider.RunStartedEvent{RunID: "run-1"},
		llmprovider.TextStartEvent{MessageID: "t"},
		llmprovider.TextDeltaEvent{MessageID: "t", Delta: "partial"},
		llmprovider.ErrorEvent{Message: "overloaded", Code: "provider_unavailable"},
	)

	res := p.Result()
	assert.True(t, res.Finished)
	assert.Equal(t, llmprovider.FinishReasonError, res.FinishReason)
	var streamErr *llmprovider.StreamError
	require.ErrorAs(t, res.Err, &streamErr)
	assert.Equal(t, "provider_unavailable", streamErr.Code)
	assert.Equal(t, "partial", res.Message.Text(), "error keeps what was folded")

	err := p.Apply(llmprovider.TextDeltaEvent{MessageID: "t", Delta: "more"})
	assert.ErrorIs(t, err, llmprovider.ErrProtocol)
}

func TestProcessor_ProtocolErrors(t *testing.T) {
	started := llmprovider.RunStartedEvent{RunID: "run-1"}

	tests := []struct {
		name   string
		prefix []llmprovider.StreamEvent
		bad    llmprovider.StreamEvent
	}{
		{"text delta before start", []llmprovider.StreamEvent{started}, llmprovider.TextDeltaEvent{MessageID: "t", Delta: "x"}},
		{"text delta after end", []llmprovider.StreamEvent{started, llmprovider.TextStartEvent{MessageID: "t"}, llmprovider.TextEndEvent{MessageID: "t"}}, llmprovider.TextDeltaEvent{MessageID: "t", Delta: "x"}},
		{"duplicate text start", []llmprovider.StreamEvent{started, llmprovider.TextStartEvent{MessageID: "t"}}, llmprovider.TextStartEvent{MessageID: "t"}},
		{"text end before start", []llmprovider.StreamEvent{started}, llmprovider.TextEndEvent{MessageID: "t"}},
		{"args delta before start", []llmprovider.StreamEvent{started}, llmprovider.ToolCallArgsDeltaEvent{ToolCallID: "a", Delta: "{"}},
		{"tool end twice", []llmprovider.StreamEvent{started, llmprovider.ToolCallStartEvent{ToolCallID: "a", ToolName: "x"}, llmprovider.ToolCallEndEvent{ToolCallID: "a"}}, llmprovider.ToolCallEndEvent{ToolCallID: "a"}},
		{"second run start", []llmprovider.StreamEvent{started}, llmprovider.RunStartedEvent{RunID: "run-2"}},
		{"event after finish", []llmprovider.StreamEvent{started, llmprovider.RunFinishedEvent{FinishReason: llmprovider.FinishReasonStop}}, llmprovider.TextStartEvent{MessageID: "t"}},
		{"second finish", []llmprovider.StreamEvent{started, llmprovider.RunFinishedEvent{FinishReason: llmprovider.FinishReasonStop}}, llmprovider.RunFinishedEvent{FinishReason: llmprovider.FinishReasonStop}},
		{"approval for unknown call", []llmprovider.StreamEvent{started}, llmprovider.CustomEvent{Name: llmprovider.CustomApprovalRequested, Payload: llmprovider.ApprovalRequest{ApprovalID: "x", ToolCallID: "nope"}}},
		{"accumulated rewrites history", []llmprovider.StreamEvent{started, llmprovider.TextStartEvent{MessageID: "t"}, llmprovider.TextDeltaEvent{MessageID: "t", Delta: "abc"}}, llmprovider.TextDeltaEvent{MessageID: "t", Accumulated: "xyz!"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(nil)
			applyAll(t, p, tt.prefix...)
			before := p.Message().Clone()

			err := p.Apply(tt.bad)
			require.Error(t, err)
			assert.ErrorIs(t, err, llmprovider.ErrProtocol)
			var perr *llmprovider.ProtocolError
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, tt.bad.EventType(), perr.Event)
			assert.Equal(t, before, p.Message().Clone(), "rejected events leave the message unchanged")
		})
	}
}

func TestProcessor_PrefixGrowth(t *testing.T) {
	rng := rand.New(rand.NewSource(11))

	for i := 0; i < 200; i++ {
		p := New(nil)
		require.NoError(t, p.Apply(llmprovider.RunStartedEvent{RunID: "run"}))

		// Interleave several text parts and tool calls, each following
		// Start, Delta*, End.
		type stream struct {
			id    string
			tool  bool
			steps int
			state int
			acc   string
		}
		var open []*stream
		for j := 0; j < 1+rng.Intn(4); j++ {
			open = append(open, &stream{id: fmt.Sprintf("s%d", j), tool: rng.Intn(2) == 0, steps: rng.Intn(5)})
		}

		for len(open) > 0 {
			k := rng.Intn(len(open))
			s := open[k]
			switch {
			case s.state == 0 && s.tool:
				require.NoError(t, p.Apply(llmprovider.ToolCallStartEvent{ToolCallID: s.id, ToolName: "x"}))
				s.state = 1
			case s.state == 0:
				require.NoError(t, p.Apply(llmprovider.TextStartEvent{MessageID: s.id}))
				s.state = 1
			case s.steps > 0:
				delta := fmt.Sprintf("d%d", rng.Intn(100))
				s.acc += delta
				s.steps--
				if s.tool {
					call := p.Message().ToolCall(s.id)
					before := call.Arguments
					require.NoError(t, p.Apply(llmprovider.ToolCallArgsDeltaEvent{ToolCallID: s.id, Delta: delta, AccumulatedArgs: s.acc}))
					require.Equal(t, before+delta, call.Arguments)
				} else {
					part := p.text[s.id]
					before := part.Content
					ev := llmprovider.TextDeltaEvent{MessageID: s.id, Delta: delta, Accumulated: s.acc}
					if rng.Intn(2) == 0 {
						ev.Delta = ""
					}
					require.NoError(t, p.Apply(ev))
					require.Equal(t, before+delta, part.Content)
				}
			default:
				if s.tool {
					require.NoError(t, p.Apply(llmprovider.ToolCallEndEvent{ToolCallID: s.id, Input: map[string]any{}}))
				} else {
					require.NoError(t, p.Apply(llmprovider.TextEndEvent{MessageID: s.id}))
				}
				open = append(open[:k], open[k+1:]...)
			}
		}
		require.NoError(t, p.Apply(llmprovider.RunFinishedEvent{FinishReason: llmprovider.FinishReasonStop}))
	}
}

func TestFold(t *testing.T) {
	t.Run("complete turn", func(t *testing.T) {
		events := make(chan llmprovider.StreamEvent, 4)
		events <- llmprovider.RunStartedEvent{RunID: "r"}
		events <- llmprovider.RunFinishedEvent{FinishReason: llmprovider.FinishReasonStop}
		close(events)

		res, err := Fold(context.Background(), nil, events)
		require.NoError(t, err)
		assert.True(t, res.Finished)
	})

	t.Run("closed without terminal event", func(t *testing.T) {
		events := make(chan llmprovider.StreamEvent, 4)
		events <- llmprovider.RunStartedEvent{RunID: "r"}
		close(events)

		_, err := Fold(context.Background(), nil, events)
		assert.ErrorIs(t, err, llmprovider.ErrProtocol)
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		events := make(chan llmprovider.StreamEvent)

		_, err := Fold(ctx, nil, events)
		assert.ErrorIs(t, err, context.Canceled)
		assert.True(t, llmprovider.IsCancellation(err))
	})
}

func TestProcessor_Abort(t *testing.T) {
	p := New(nil)
	applyAll(t, p,
		llmprovider.RunStartedEvent{RunID: "run-1"},
		llmprovider.TextStartEvent{MessageID: "t"},
		llmprovider.TextDeltaEvent{MessageID: "t", Delta: "half"},
		llmprovider.ToolCallStartEvent{ToolCallID: "call_1", ToolName: "search"},
		llmprovider.ToolCallArgsDeltaEvent{ToolCallID: "call_1", Delta: `{"q":`},
	)

	p.Abort("interrupted")

	assert.False(t, p.Done())
	assert.Equal(t, "half", p.Message().Text())
	call := p.Message().ToolCall("call_1")
	require.NotNil(t, call)
	assert.Equal(t, llmprovider.ToolStateOutputError, call.State)
	assert.Equal(t, "interrupted", call.ErrorText)

	err := p.Apply(llmprovider.TextDeltaEvent{MessageID: "t", Delta: "more"})
	assert.ErrorIs(t, err, llmprovider.ErrProtocol)
	assert.Equal(t, "half", p.Message().Text())

	// Abort after a finished turn leaves it alone.
	done := New(nil)
	applyAll(t, done,
		llmprovider.RunStartedEvent{RunID: "run-2"},
		llmprovider.RunFinishedEvent{FinishReason: llmprovider.FinishReasonStop},
	)
	done.Abort("late")
	assert.True(t, done.Done())
	assert.NoError(t, done.Close(context.Background()))
}
