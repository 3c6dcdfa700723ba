package openrouter

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/packages/ssestream"

	llmprovider "github.com/haowjy/meridian-agent-go"
)

// StreamResponse streams a chat completion as canonical events.
func (p *Provider) StreamResponse(ctx context.Context, req *llmprovider.GenerateRequest) (<-chan llmprovider.StreamEvent, error) {
	if err := p.checkModel(req.Model); err != nil {
		return nil, err
	}

	apiParams, err := buildChatParams(req)
	if err != nil {
		return nil, err
	}
	apiParams.StreamOptions = openai.ChatCompletionStreamOptionsParam{IncludeUsage: openai.Bool(true)}

	stream := p.completions.NewStreaming(ctx, apiParams)
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("openrouter stream: %w", mapError(req.Model, err))
	}

	p.logger.Debug("stream started", "model", req.Model, "messages", len(apiParams.Messages), "tools", len(apiParams.Tools))

	out := make(chan llmprovider.StreamEvent, 10)
	go p.pump(ctx, req.Model, stream, out)
	return out, nil
}

// pump reads chunks until the stream ends. A cancelled context closes the
// channel without a terminal event.
func (p *Provider) pump(ctx context.Context, model string, stream *ssestream.Stream[openai.ChatCompletionChunk], out chan<- llmprovider.StreamEvent) {
	defer close(out)
	defer func() { _ = stream.Close() }()

	emit := func(ev llmprovider.StreamEvent) error {
		select {
		case out <- ev:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	tr := newTranslator(emit, model)

	for stream.Next() {
		if err := tr.handle(stream.Current()); err != nil {
			return
		}
		if tr.failed {
			return
		}
	}

	if ctx.Err() != nil {
		return
	}
	if err := stream.Err(); err != nil {
		p.logger.Debug("stream failed", "error", err)
		_ = emit(llmprovider.NewErrorEvent(mapError(model, err)))
		return
	}
	_ = tr.finish()
}

type toolCall struct {
	id   string
	name string
	args strings.Builder
}

// translator turns chat completion chunks into canonical events. Chunks
// carry no block boundaries, so spans are opened on the first delta of a
// kind and closed when a different kind arrives.
type translator struct {
	emit  func(llmprovider.StreamEvent) error
	model string

	started  bool
	runID    string
	spanID   string
	spans    int
	thinking bool
	text     bool
	textBuf  strings.Builder
	calls    map[int64]*toolCall
	order    []int64
	usage    *llmprovider.Usage
	reason   llmprovider.FinishReason
	failed   bool
}

func newTranslator(emit func(llmprovider.StreamEvent) error, model string) *translator {
	return &translator{
		emit:   emit,
		model:  model,
		calls:  make(map[int64]*toolCall),
		reason: llmprovider.FinishReasonStop,
	}
}

func (t *translator) handle(chunk openai.ChatCompletionChunk) error {
	if err := t.start(chunk.ID, chunk.Model); err != nil {
		return err
	}

	if chunk.Usage.PromptTokens > 0 || chunk.Usage.CompletionTokens > 0 {
		t.usage = &llmprovider.Usage{
			InputTokens:     int(chunk.Usage.PromptTokens),
			OutputTokens:    int(chunk.Usage.CompletionTokens),
			CacheReadTokens: int(chunk.Usage.PromptTokensDetails.CachedTokens),
		}
	}

	for _, choice := range chunk.Choices {
		if choice.Index != 0 {
			continue
		}
		if err := t.delta(choice.Delta); err != nil {
			return err
		}
		if choice.FinishReason != "" {
			t.reason = finishReason(choice.FinishReason)
			if t.reason == llmprovider.FinishReasonError {
				t.failed = true
				return t.emit(llmprovider.ErrorEvent{Message: "upstream provider ended the stream with an error", Code: "provider_error"})
			}
		}
	}
	return nil
}

func (t *translator) start(id, model string) error {
	if t.started {
		return nil
	}
	t.started = true
	if id == "" {
		id = "gen-" + uuid.NewString()
	}
	t.runID = id
	if model == "" {
		model = t.model
	}
	return t.emit(llmprovider.RunStartedEvent{RunID: id, Model: model})
}

// nextSpan names a new thinking or text span. Spans of the same kind can
// reopen within one run, so each gets its own ID.
func (t *translator) nextSpan() string {
	t.spanID = fmt.Sprintf("%s_%d", t.runID, t.spans)
	t.spans++
	return t.spanID
}

func (t *translator) delta(d openai.ChatCompletionChunkChoiceDelta) error {
	extra := make(map[string]string, len(d.JSON.ExtraFields))
	for k, f := range d.JSON.ExtraFields {
		extra[k] = f.Raw()
	}

	if reasoning := reasoningText(extra); reasoning != "" {
		if err := t.closeText(); err != nil {
			return err
		}
		if !t.thinking {
			t.thinking = true
			if err := t.emit(llmprovider.ThinkingStartEvent{MessageID: t.nextSpan()}); err != nil {
				return err
			}
		}
		if err := t.emit(llmprovider.ThinkingDeltaEvent{MessageID: t.spanID, Delta: reasoning}); err != nil {
			return err
		}
	}

	if d.Content != "" {
		if err := t.closeThinking(); err != nil {
			return err
		}
		if !t.text {
			t.text = true
			if err := t.emit(llmprovider.TextStartEvent{MessageID: t.nextSpan()}); err != nil {
				return err
			}
		}
		t.textBuf.WriteString(d.Content)
		if err := t.emit(llmprovider.TextDeltaEvent{MessageID: t.spanID, Delta: d.Content, Accumulated: t.textBuf.String()}); err != nil {
			return err
		}
	}

	for _, tc := range d.ToolCalls {
		if err := t.toolDelta(tc); err != nil {
			return err
		}
	}
	return nil
}

func (t *translator) toolDelta(tc openai.ChatCompletionChunkChoiceDeltaToolCall) error {
	call, ok := t.calls[tc.Index]
	if !ok {
		if err := t.closeThinking(); err != nil {
			return err
		}
		if err := t.closeText(); err != nil {
			return err
		}
		id := tc.ID
		if id == "" {
			id = fmt.Sprintf("%s_call_%d", t.runID, tc.Index)
		}
		call = &toolCall{id: id, name: tc.Function.Name}
		t.calls[tc.Index] = call
		t.order = append(t.order, tc.Index)
		if err := t.emit(llmprovider.ToolCallStartEvent{ToolCallID: call.id, ToolName: call.name}); err != nil {
			return err
		}
	}

	if tc.Function.Arguments == "" {
		return nil
	}
	call.args.WriteString(tc.Function.Arguments)
	return t.emit(llmprovider.ToolCallArgsDeltaEvent{
		ToolCallID:      call.id,
		Delta:           tc.Function.Arguments,
		AccumulatedArgs: call.args.String(),
	})
}

func (t *translator) closeThinking() error {
	if !t.thinking {
		return nil
	}
	t.thinking = false
	return t.emit(llmprovider.ThinkingEndEvent{MessageID: t.spanID})
}

func (t *translator) closeText() error {
	if !t.text {
		return nil
	}
	t.text = false
	t.textBuf.Reset()
	return t.emit(llmprovider.TextEndEvent{MessageID: t.spanID})
}

// finish closes open spans and ends the run.
func (t *translator) finish() error {
	if err := t.start("", ""); err != nil {
		return err
	}
	if err := t.closeThinking(); err != nil {
		return err
	}
	if err := t.closeText(); err != nil {
		return err
	}
	for _, idx := range t.order {
		call := t.calls[idx]
		if err := t.emit(llmprovider.ToolCallEndEvent{ToolCallID: call.id, ToolName: call.name}); err != nil {
			return err
		}
	}
	return t.emit(llmprovider.RunFinishedEvent{FinishReason: t.reason, Usage: t.usage})
}
