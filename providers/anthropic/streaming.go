package anthropic

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	llmprovider "github.com/haowjy/meridian-agent-go"
)

// StreamResponse streams a response from Claude as canonical events.
func (p *Provider) StreamResponse(ctx context.Context, req *llmprovider.GenerateRequest) (<-chan llmprovider.StreamEvent, error) {
	if err := p.checkModel(req.Model); err != nil {
		return nil, err
	}

	apiParams, err := buildMessageParams(req)
	if err != nil {
		return nil, err
	}

	stream := p.messages.NewStreaming(ctx, apiParams)
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("anthropic stream: %w", mapError(err))
	}

	p.logger.Debug("stream started", "model", req.Model, "messages", len(apiParams.Messages), "tools", len(apiParams.Tools))

	out := make(chan llmprovider.StreamEvent, 10)
	go p.pump(ctx, stream, out)
	return out, nil
}

// pump reads SDK events until the stream ends. A cancelled context closes the
// channel without a terminal event.
func (p *Provider) pump(ctx context.Context, stream *ssestream.Stream[anthropic.MessageStreamEventUnion], out chan<- llmprovider.StreamEvent) {
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
	tr := newTranslator(emit)

	for stream.Next() {
		if err := tr.handle(stream.Current()); err != nil {
			return
		}
		if tr.done {
			return
		}
	}

	if ctx.Err() != nil {
		return
	}
	if err := stream.Err(); err != nil {
		p.logger.Debug("stream failed", "error", err)
		_ = emit(llmprovider.NewErrorEvent(mapError(err)))
	}
}

// block is an open content block, keyed by its index in the message.
type block struct {
	kind      string
	id        string
	name      string
	text      strings.Builder
	signature string
}

// translator turns Anthropic stream events into canonical events.
type translator struct {
	emit   func(llmprovider.StreamEvent) error
	runID  string
	blocks map[int64]*block
	usage  llmprovider.Usage
	finish llmprovider.FinishReason
	done   bool
}

func newTranslator(emit func(llmprovider.StreamEvent) error) *translator {
	return &translator{
		emit:   emit,
		blocks: make(map[int64]*block),
		finish: llmprovider.FinishReasonStop,
	}
}

func (t *translator) handle(event anthropic.MessageStreamEventUnion) error {
	switch ev := event.AsAny().(type) {
	case anthropic.MessageStartEvent:
		t.runID = ev.Message.ID
		t.usage.InputTokens = int(ev.Message.Usage.InputTokens)
		t.usage.OutputTokens = int(ev.Message.Usage.OutputTokens)
		t.usage.CacheReadTokens = int(ev.Message.Usage.CacheReadInputTokens)
		t.usage.CacheWriteTokens = int(ev.Message.Usage.CacheCreationInputTokens)
		return t.emit(llmprovider.RunStartedEvent{RunID: ev.Message.ID, Model: string(ev.Message.Model)})

	case anthropic.ContentBlockStartEvent:
		return t.start(ev.Index, ev.ContentBlock)

	case anthropic.ContentBlockDeltaEvent:
		return t.delta(ev.Index, ev.Delta)

	case anthropic.ContentBlockStopEvent:
		return t.stop(ev.Index)

	case anthropic.MessageDeltaEvent:
		if ev.Delta.StopReason != "" {
			t.finish = stopReasonToFinish(ev.Delta.StopReason)
		}
		// Delta usage is cumulative.
		if ev.Usage.OutputTokens > 0 {
			t.usage.OutputTokens = int(ev.Usage.OutputTokens)
		}
		if ev.Usage.InputTokens > 0 {
			t.usage.InputTokens = int(ev.Usage.InputTokens)
		}
		if ev.Usage.CacheReadInputTokens > 0 {
			t.usage.CacheReadTokens = int(ev.Usage.CacheReadInputTokens)
		}
		if ev.Usage.CacheCreationInputTokens > 0 {
			t.usage.CacheWriteTokens = int(ev.Usage.CacheCreationInputTokens)
		}
		return nil

	case anthropic.MessageStopEvent:
		t.done = true
		usage := t.usage
		return t.emit(llmprovider.RunFinishedEvent{FinishReason: t.finish, Usage: &usage})
	}
	return nil
}

func (t *translator) start(index int64, cb anthropic.ContentBlockStartEventContentBlockUnion) error {
	b := &block{kind: cb.Type, id: fmt.Sprintf("%s_%d", t.runID, index)}

	switch cb.Type {
	case "text":
		t.blocks[index] = b
		if err := t.emit(llmprovider.TextStartEvent{MessageID: b.id}); err != nil {
			return err
		}
		if cb.Text != "" {
			b.text.WriteString(cb.Text)
			return t.emit(llmprovider.TextDeltaEvent{MessageID: b.id, Delta: cb.Text, Accumulated: cb.Text})
		}
		return nil

	case "thinking":
		t.blocks[index] = b
		return t.emit(llmprovider.ThinkingStartEvent{MessageID: b.id})

	case "tool_use":
		b.id, b.name = cb.ID, cb.Name
		t.blocks[index] = b
		return t.emit(llmprovider.ToolCallStartEvent{ToolCallID: cb.ID, ToolName: cb.Name})
	}

	// redacted_thinking and server tool blocks have no canonical form.
	return nil
}

func (t *translator) delta(index int64, d anthropic.RawContentBlockDeltaUnion) error {
	b := t.blocks[index]
	if b == nil {
		return nil
	}

	switch d.Type {
	case "text_delta":
		if d.Text == "" {
			return nil
		}
		b.text.WriteString(d.Text)
		return t.emit(llmprovider.TextDeltaEvent{MessageID: b.id, Delta: d.Text, Accumulated: b.text.String()})

	case "thinking_delta":
		if d.Thinking == "" {
			return nil
		}
		return t.emit(llmprovider.ThinkingDeltaEvent{MessageID: b.id, Delta: d.Thinking})

	case "signature_delta":
		b.signature += d.Signature
		return nil

	case "input_json_delta":
		if d.PartialJSON == "" {
			return nil
		}
		b.text.WriteString(d.PartialJSON)
		return t.emit(llmprovider.ToolCallArgsDeltaEvent{
			ToolCallID:      b.id,
			Delta:           d.PartialJSON,
			AccumulatedArgs: b.text.String(),
		})
	}
	return nil
}

func (t *translator) stop(index int64) error {
	b := t.blocks[index]
	if b == nil {
		return nil
	}
	delete(t.blocks, index)

	switch b.kind {
	case "text":
		return t.emit(llmprovider.TextEndEvent{MessageID: b.id})
	case "thinking":
		return t.emit(llmprovider.ThinkingEndEvent{MessageID: b.id, Signature: b.signature})
	case "tool_use":
		return t.emit(llmprovider.ToolCallEndEvent{ToolCallID: b.id, ToolName: b.name})
	}
	return nil
}
