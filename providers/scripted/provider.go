// Package scripted provides a deterministic provider that replays scripted
// turns and records every request it receives.
package scripted

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	llmprovider "github.com/haowjy/meridian-agent-go"
)

// Turn configures one model turn in a scripted sequence.
type Turn struct {
	// Events are emitted in order.
	Events []llmprovider.StreamEvent

	// Respond, when set, builds the events from the request instead.
	Respond func(req *llmprovider.GenerateRequest) []llmprovider.StreamEvent

	// Err is returned from StreamResponse before any event.
	Err error

	// Gate delays the first event until it is closed or the context ends.
	Gate <-chan struct{}

	// Hang keeps the stream open after the events until the context ends,
	// without a terminal event.
	Hang bool
}

// Provider replays Turns. It is safe for concurrent use.
type Provider struct {
	mu       sync.Mutex
	turns    []Turn
	index    int
	fallback func(req *llmprovider.GenerateRequest) Turn
	requests []*llmprovider.GenerateRequest
}

// Option configures a Provider.
type Option func(*Provider)

// WithFallback supplies turns once the script is exhausted.
func WithFallback(fn func(req *llmprovider.GenerateRequest) Turn) Option {
	return func(p *Provider) { p.fallback = fn }
}

// New creates a provider replaying turns in order.
func New(turns []Turn, opts ...Option) *Provider {
	p := &Provider{turns: append([]Turn(nil), turns...)}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

var _ llmprovider.Provider = (*Provider)(nil)

// Name returns the provider identifier.
func (p *Provider) Name() llmprovider.ProviderID {
	return llmprovider.ProviderScripted
}

// SupportsModel accepts every model.
func (p *Provider) SupportsModel(model string) bool {
	return true
}

// StreamResponse records req and replays the next turn.
func (p *Provider) StreamResponse(ctx context.Context, req *llmprovider.GenerateRequest) (<-chan llmprovider.StreamEvent, error) {
	turn, err := p.next(req)
	if err != nil {
		return nil, err
	}
	if turn.Err != nil {
		return nil, turn.Err
	}

	events := turn.Events
	if turn.Respond != nil {
		events = turn.Respond(req)
	}

	ch := make(chan llmprovider.StreamEvent, 10)
	go func() {
		defer close(ch)

		if turn.Gate != nil {
			select {
			case <-turn.Gate:
			case <-ctx.Done():
				return
			}
		}

		for _, ev := range events {
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}

		if turn.Hang {
			<-ctx.Done()
		}
	}()
	return ch, nil
}

func (p *Provider) next(req *llmprovider.GenerateRequest) (Turn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	recorded := *req
	recorded.Messages = llmprovider.CloneMessages(req.Messages)
	recorded.Params = req.Params.Clone()
	p.requests = append(p.requests, &recorded)

	if p.index < len(p.turns) {
		turn := p.turns[p.index]
		p.index++
		return turn, nil
	}
	if p.fallback != nil {
		p.index++
		return p.fallback(req), nil
	}
	return Turn{}, fmt.Errorf("script exhausted at turn %d", p.index+1)
}

// Requests returns copies of every request received so far.
func (p *Provider) Requests() []*llmprovider.GenerateRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*llmprovider.GenerateRequest(nil), p.requests...)
}

// Calls returns the number of StreamResponse calls.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

// Call describes one scripted tool call.
type Call struct {
	ID        string
	Name      string
	Arguments string
}

// Text returns a turn that answers with text and stops.
func Text(text string) Turn {
	id := uuid.NewString()
	return Turn{Events: []llmprovider.StreamEvent{
		llmprovider.RunStartedEvent{RunID: id},
		llmprovider.TextStartEvent{MessageID: id + "-text"},
		llmprovider.TextDeltaEvent{MessageID: id + "-text", Delta: text, Accumulated: text},
		llmprovider.TextEndEvent{MessageID: id + "-text"},
		llmprovider.RunFinishedEvent{
			FinishReason: llmprovider.FinishReasonStop,
			Usage:        &llmprovider.Usage{InputTokens: 10, OutputTokens: len(text)},
		},
	}}
}

// ToolCalls returns a turn that requests the given calls.
func ToolCalls(calls ...Call) Turn {
	return Turn{Events: ToolCallEvents(calls...)}
}

// ToolCallEvents renders calls as a complete turn. Arguments are streamed in
// two fragments.
func ToolCallEvents(calls ...Call) []llmprovider.StreamEvent {
	events := []llmprovider.StreamEvent{llmprovider.RunStartedEvent{RunID: uuid.NewString()}}
	for _, c := range calls {
		id := c.ID
		if id == "" {
			id = "call_" + uuid.NewString()
		}
		events = append(events, llmprovider.ToolCallStartEvent{ToolCallID: id, ToolName: c.Name})
		half := len(c.Arguments) / 2
		if half > 0 {
			events = append(events, llmprovider.ToolCallArgsDeltaEvent{ToolCallID: id, Delta: c.Arguments[:half], AccumulatedArgs: c.Arguments[:half]})
		}
		if rest := c.Arguments[half:]; rest != "" {
			events = append(events, llmprovider.ToolCallArgsDeltaEvent{ToolCallID: id, Delta: rest, AccumulatedArgs: c.Arguments})
		}
		events = append(events, llmprovider.ToolCallEndEvent{ToolCallID: id, ToolName: c.Name})
	}
	return append(events, llmprovider.RunFinishedEvent{
		FinishReason: llmprovider.FinishReasonToolCalls,
		Usage:        &llmprovider.Usage{InputTokens: 10, OutputTokens: 5},
	})
}
