package openrouter

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	llmprovider "github.com/haowjy/meridian-agent-go"
	"github.com/haowjy/meridian-agent-go/processor"
)

// fakeDecoder replays a fixed list of server-sent events.
type fakeDecoder struct {
	events []ssestream.Event
	i      int
}

func (d *fakeDecoder) Event() ssestream.Event { return d.events[d.i-1] }
func (d *fakeDecoder) Close() error           { return nil }
func (d *fakeDecoder) Err() error             { return nil }

func (d *fakeDecoder) Next() bool {
	if d.i >= len(d.events) {
		return false
	}
	d.i++
	return true
}

func chunks(payloads ...string) []ssestream.Event {
	events := make([]ssestream.Event, 0, len(payloads)+1)
	for _, p := range payloads {
		events = append(events, ssestream.Event{Data: []byte(p)})
	}
	return append(events, ssestream.Event{Data: []byte("[DONE]")})
}

type stubCompletions struct {
	params    openai.ChatCompletionNewParams
	events    []ssestream.Event
	streamErr error

	completion *openai.ChatCompletion
	err        error
}

func (s *stubCompletions) New(_ context.Context, body openai.ChatCompletionNewParams, _ ...option.RequestOption) (*openai.ChatCompletion, error) {
	s.params = body
	return s.completion, s.err
}

func (s *stubCompletions) NewStreaming(_ context.Context, body openai.ChatCompletionNewParams, _ ...option.RequestOption) *ssestream.Stream[openai.ChatCompletionChunk] {
	s.params = body
	return ssestream.NewStream[openai.ChatCompletionChunk](&fakeDecoder{events: s.events}, s.streamErr)
}

func drain(t *testing.T, ch <-chan llmprovider.StreamEvent) []llmprovider.StreamEvent {
	t.Helper()
	var events []llmprovider.StreamEvent
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatal("stream did not close")
			return nil
		}
	}
}

func fold(t *testing.T, events []llmprovider.StreamEvent) *processor.Result {
	t.Helper()
	proc := processor.New(nil)
	for _, ev := range events {
		require.NoError(t, proc.Apply(ev))
	}
	return proc.Result()
}

const model = "anthropic/claude-sonnet-4.5"

func TestNew_RequiresClient(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)

	_, err = NewProvider("", nil)
	assert.ErrorIs(t, err, llmprovider.ErrInvalidAPIKey)
}

func TestSupportsModel(t *testing.T) {
	p, err := New(&stubCompletions{})
	require.NoError(t, err)

	assert.True(t, p.SupportsModel("anthropic/claude-sonnet-4.5"))
	assert.True(t, p.SupportsModel("openrouter/auto"))
	assert.False(t, p.SupportsModel("gpt-4o"))
}

func TestStreamResponse_TranslatesChunks(t *testing.T) {
	stub := &stubCompletions{events: chunks(
		`{"id":"gen-1","object":"chat.completion.chunk","created":1,"model":"anthropic/claude-sonnet-4.5","choices":[{"index":0,"delta":{"role":"assistant","content":"","reasoning":"Need "},"finish_reason":null}]}`,
		`{"id":"gen-1","object":"chat.completion.chunk","created":1,"model":"anthropic/claude-sonnet-4.5","choices":[{"index":0,"delta":{"content":"","reasoning":"weather."},"finish_reason":null}]}`,
		`{"id":"gen-1","object":"chat.completion.chunk","created":1,"model":"anthropic/claude-sonnet-4.5","choices":[{"index":0,"delta":{"content":"Checking "},"finish_reason":null}]}`,
		`{"id":"gen-1","object":"chat.completion.chunk","created":1,"model":"anthropic/claude-sonnet-4.5","choices":[{"index":0,"delta":{"content":"now."},"finish_reason":null}]}`,
		`{"id":"gen-1","object":"chat.completion.chunk","created":1,"model":"anthropic/claude-sonnet-4.5","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"get_weather","arguments":""}}]},"finish_reason":null}]}`,
		`{"id":"gen-1","object":"chat.completion.chunk","created":1,"model":"anthropic/claude-sonnet-4.5","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"city\":"}}]},"finish_reason":null}]}`,
		`{"id":"gen-1","object":"chat.completion.chunk","created":1,"model":"anthropic/claude-sonnet-4.5","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"Paris\"}"}}]},"finish_reason":"tool_calls"}]}`,
		`{"id":"gen-1","object":"chat.completion.chunk","created":1,"model":"anthropic/claude-sonnet-4.5","choices":[],"usage":{"prompt_tokens":12,"completion_tokens":42,"total_tokens":54,"prompt_tokens_details":{"cached_tokens":4}}}`,
	)}
	p, err := New(stub)
	require.NoError(t, err)

	ch, err := p.StreamResponse(context.Background(), &llmprovider.GenerateRequest{
		Model:    model,
		Messages: []llmprovider.Message{llmprovider.NewUserMessage("weather in Paris?")},
	})
	require.NoError(t, err)
	events := drain(t, ch)

	assert.Equal(t, true, toJSON(t, stub.params)["stream_options"].(map[string]any)["include_usage"])

	started, ok := events[0].(llmprovider.RunStartedEvent)
	require.True(t, ok)
	assert.Equal(t, "gen-1", started.RunID)
	assert.Equal(t, model, started.Model)

	finished, ok := events[len(events)-1].(llmprovider.RunFinishedEvent)
	require.True(t, ok)
	assert.Equal(t, llmprovider.FinishReasonToolCalls, finished.FinishReason)
	assert.Equal(t, &llmprovider.Usage{InputTokens: 12, OutputTokens: 42, CacheReadTokens: 4}, finished.Usage)

	result := fold(t, events)
	require.True(t, result.Finished)
	msg := result.Message
	require.Len(t, msg.Parts, 3)
	assert.Equal(t, "Need weather.", msg.Parts[0].(*llmprovider.ThinkingPart).Content)
	assert.Equal(t, "Checking now.", msg.Text())

	calls := msg.ToolCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "call_1", calls[0].ID)
	assert.Equal(t, "get_weather", calls[0].Name)
	assert.Equal(t, map[string]any{"city": "Paris"}, calls[0].Input)
	assert.Equal(t, llmprovider.ToolStateInputComplete, calls[0].State)
}

func TestStreamResponse_ReopenedTextSpans(t *testing.T) {
	stub := &stubCompletions{events: chunks(
		`{"id":"gen-2","object":"chat.completion.chunk","created":1,"model":"deepseek/deepseek-r1","choices":[{"index":0,"delta":{"content":"A"},"finish_reason":null}]}`,
		`{"id":"gen-2","object":"chat.completion.chunk","created":1,"model":"deepseek/deepseek-r1","choices":[{"index":0,"delta":{"content":"","reasoning":"hmm"},"finish_reason":null}]}`,
		`{"id":"gen-2","object":"chat.completion.chunk","created":1,"model":"deepseek/deepseek-r1","choices":[{"index":0,"delta":{"content":"B"},"finish_reason":"stop"}]}`,
	)}
	p, err := New(stub)
	require.NoError(t, err)

	ch, err := p.StreamResponse(context.Background(), &llmprovider.GenerateRequest{
		Model:    "deepseek/deepseek-r1",
		Messages: []llmprovider.Message{llmprovider.NewUserMessage("hi")},
	})
	require.NoError(t, err)

	result := fold(t, drain(t, ch))
	assert.Equal(t, llmprovider.FinishReasonStop, result.FinishReason)
	require.Len(t, result.Message.Parts, 3)
	assert.Equal(t, "AB", result.Message.Text())
	assert.Nil(t, result.Usage)
}

func TestStreamResponse_StreamError(t *testing.T) {
	stub := &stubCompletions{events: chunks(
		`{"id":"gen-3","object":"chat.completion.chunk","created":1,"model":"openai/gpt-4o","choices":[{"index":0,"delta":{"content":"par"},"finish_reason":null}]}`,
		`{"error":{"code":502,"message":"Upstream overloaded"}}`,
	)}
	p, err := New(stub)
	require.NoError(t, err)

	ch, err := p.StreamResponse(context.Background(), &llmprovider.GenerateRequest{
		Model:    "openai/gpt-4o",
		Messages: []llmprovider.Message{llmprovider.NewUserMessage("hi")},
	})
	require.NoError(t, err)
	events := drain(t, ch)

	errEv, ok := events[len(events)-1].(llmprovider.ErrorEvent)
	require.True(t, ok)
	assert.Contains(t, errEv.Message, "Upstream overloaded")

	result := fold(t, events)
	assert.Equal(t, llmprovider.FinishReasonError, result.FinishReason)
	assert.Equal(t, "par", result.Message.Text())
}

func TestStreamResponse_ErrorFinishReason(t *testing.T) {
	stub := &stubCompletions{events: chunks(
		`{"id":"gen-4","object":"chat.completion.chunk","created":1,"model":"openai/gpt-4o","choices":[{"index":0,"delta":{"content":""},"finish_reason":"error"}]}`,
	)}
	p, err := New(stub)
	require.NoError(t, err)

	ch, err := p.StreamResponse(context.Background(), &llmprovider.GenerateRequest{
		Model:    "openai/gpt-4o",
		Messages: []llmprovider.Message{llmprovider.NewUserMessage("hi")},
	})
	require.NoError(t, err)
	events := drain(t, ch)

	require.Len(t, events, 2)
	assert.True(t, llmprovider.IsTerminalEvent(events[1]))
	_, ok := events[1].(llmprovider.ErrorEvent)
	assert.True(t, ok)
}

func TestStreamResponse_StartErrors(t *testing.T) {
	p, err := New(&stubCompletions{streamErr: errors.New("connection refused")})
	require.NoError(t, err)

	_, err = p.StreamResponse(context.Background(), &llmprovider.GenerateRequest{
		Model:    "openai/gpt-4o",
		Messages: []llmprovider.Message{llmprovider.NewUserMessage("hi")},
	})
	assert.ErrorContains(t, err, "connection refused")

	_, err = p.StreamResponse(context.Background(), &llmprovider.GenerateRequest{
		Model:    "gpt-4o",
		Messages: []llmprovider.Message{llmprovider.NewUserMessage("hi")},
	})
	assert.ErrorIs(t, err, llmprovider.ErrInvalidModel)
}

func apiError(status int, message string) *openai.Error {
	return &openai.Error{
		StatusCode: status,
		Message:    message,
		Request:    httptest.NewRequest(http.MethodPost, BaseURL+"chat/completions", nil),
		Response:   &http.Response{StatusCode: status},
	}
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name   string
		status int
		target error
		code   string
	}{
		{"rate limited", http.StatusTooManyRequests, llmprovider.ErrRateLimited, "rate_limited"},
		{"unauthorized", http.StatusUnauthorized, llmprovider.ErrInvalidAPIKey, "unauthorized"},
		{"credits", http.StatusPaymentRequired, llmprovider.ErrProviderUnavailable, "invalid_request"},
		{"upstream", http.StatusBadGateway, llmprovider.ErrProviderUnavailable, "provider_unavailable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := mapError(model, apiError(tt.status, "nope"))
			assert.ErrorIs(t, err, tt.target)
			pe, ok := llmprovider.AsProviderError(err)
			require.True(t, ok)
			assert.Equal(t, tt.code, pe.Code())
		})
	}

	err := mapError(model, apiError(http.StatusNotFound, "no such model"))
	var modelErr *llmprovider.ModelError
	require.ErrorAs(t, err, &modelErr)
	assert.Equal(t, model, modelErr.Model)

	plain := errors.New("boom")
	assert.Same(t, plain, mapError(model, plain))
}

func TestGenerateStructured(t *testing.T) {
	var completion openai.ChatCompletion
	require.NoError(t, json.Unmarshal([]byte(`{
		"id": "gen-9",
		"object": "chat.completion",
		"created": 1,
		"model": "openai/gpt-4o",
		"choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "{\"title\":\"Dune\"}"}}],
		"usage": {"prompt_tokens": 30, "completion_tokens": 12, "total_tokens": 42}
	}`), &completion))
	stub := &stubCompletions{completion: &completion}
	p, err := New(stub)
	require.NoError(t, err)

	resp, err := p.GenerateStructured(context.Background(), &llmprovider.StructuredOutputRequest{
		Model:      "openai/gpt-4o",
		Messages:   []llmprovider.Message{llmprovider.NewUserMessage("a classic")},
		SchemaName: "book",
		Schema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"title": map[string]any{"type": "string"}},
			"required":   []any{"title"},
		},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"title":"Dune"}`, string(resp.Data))
	assert.Equal(t, llmprovider.Usage{InputTokens: 30, OutputTokens: 12}, resp.Usage)
	assert.Equal(t, "gen-9", resp.ResponseMetadata["id"])

	format := toJSON(t, stub.params)["response_format"].(map[string]any)
	assert.Equal(t, "json_schema", format["type"])
	assert.Equal(t, "book", format["json_schema"].(map[string]any)["name"])
}

func TestGenerateStructured_Errors(t *testing.T) {
	var completion openai.ChatCompletion
	require.NoError(t, json.Unmarshal([]byte(`{
		"id": "gen-10",
		"object": "chat.completion",
		"created": 1,
		"model": "openai/gpt-4o",
		"choices": [{"index": 0, "finish_reason": "length", "message": {"role": "assistant", "content": "{\"title\":"}}]
	}`), &completion))
	p, err := New(&stubCompletions{completion: &completion})
	require.NoError(t, err)

	_, err = p.GenerateStructured(context.Background(), &llmprovider.StructuredOutputRequest{Model: "openai/gpt-4o"})
	assert.ErrorIs(t, err, llmprovider.ErrInvalidRequest)

	_, err = p.GenerateStructured(context.Background(), &llmprovider.StructuredOutputRequest{
		Model:    "openai/gpt-4o",
		Messages: []llmprovider.Message{llmprovider.NewUserMessage("a classic")},
		Schema:   map[string]any{"type": "object"},
	})
	var streamErr *llmprovider.StreamError
	require.ErrorAs(t, err, &streamErr)
	assert.Equal(t, "no_structured_output", streamErr.Code)
}
