// Package processor folds a stream of canonical events into an assistant
// message.
//
// A Processor owns exactly one message for one model turn. Events are applied
// strictly in arrival order and each event is fully applied before the next
// one is read, so parts never change out of order. The processor performs no
// I/O; feeding it is the caller's job (see Fold).
package processor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	llmprovider "github.com/haowjy/meridian-agent-go"
)

// Result is the outcome of one folded turn.
type Result struct {
	// Message is the assistant message built by the turn.
	Message *llmprovider.Message

	RunID string
	Model string

	// FinishReason is empty when the turn ended without RunFinished.
	FinishReason llmprovider.FinishReason

	Usage *llmprovider.Usage

	// Err holds the *llmprovider.StreamError reported by an ErrorEvent.
	Err error

	// Finished is true once a terminal event (RunFinished or Error) was applied.
	Finished bool

	// Custom lists the side-channel events seen during the turn, in order.
	Custom []llmprovider.CustomEvent
}

// Option configures a Processor.
type Option func(*Processor)

// WithLogger sets the logger used for debug output.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Processor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

type spanState int

const (
	spanOpen spanState = iota + 1
	spanClosed
)

// Processor applies canonical events to one assistant message.
type Processor struct {
	msg    *llmprovider.Message
	logger *slog.Logger

	text     map[string]*llmprovider.TextPart
	thinking map[string]*llmprovider.ThinkingPart
	spans    map[string]spanState // keyed by event family + ID
	calls    map[string]*llmprovider.ToolCallPart

	result  Result
	aborted bool
}

// New creates a processor folding into msg. A nil msg starts a fresh
// assistant message whose ID is taken from RunStarted.
func New(msg *llmprovider.Message, opts ...Option) *Processor {
	if msg == nil {
		msg = &llmprovider.Message{Role: llmprovider.RoleAssistant, CreatedAt: time.Now()}
	}
	p := &Processor{
		msg:      msg,
		logger:   slog.Default(),
		text:     make(map[string]*llmprovider.TextPart),
		thinking: make(map[string]*llmprovider.ThinkingPart),
		spans:    make(map[string]spanState),
		calls:    make(map[string]*llmprovider.ToolCallPart),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "processor")
	p.result.Message = msg
	return p
}

// Message returns the message being built.
func (p *Processor) Message() *llmprovider.Message {
	return p.msg
}

// Result returns the state of the turn so far.
func (p *Processor) Result() *Result {
	r := p.result
	r.Custom = append([]llmprovider.CustomEvent(nil), p.result.Custom...)
	return &r
}

// Done reports whether a terminal event has been applied.
func (p *Processor) Done() bool {
	return p.result.Finished
}

// Apply folds one event. Grammar violations return a *llmprovider.ProtocolError
// and leave the message unchanged.
func (p *Processor) Apply(ev llmprovider.StreamEvent) error {
	if p.result.Finished {
		return protocolErr(ev, "", "event after the end of the run")
	}
	if p.aborted {
		return protocolErr(ev, "", "event after the turn was aborted")
	}

	switch e := ev.(type) {
	case llmprovider.RunStartedEvent:
		return p.runStarted(e)

	case llmprovider.TextStartEvent:
		if err := p.open("text", e.MessageID, ev); err != nil {
			return err
		}
		part := &llmprovider.TextPart{}
		p.text[e.MessageID] = part
		p.msg.Parts = append(p.msg.Parts, part)

	case llmprovider.TextDeltaEvent:
		if err := p.requireOpen("text", e.MessageID, ev); err != nil {
			return err
		}
		part := p.text[e.MessageID]
		delta, err := resolveDelta(part.Content, e.Delta, e.Accumulated)
		if err != nil {
			return protocolErr(ev, e.MessageID, err.Error())
		}
		part.Content += delta

	case llmprovider.TextEndEvent:
		if err := p.close("text", e.MessageID, ev); err != nil {
			return err
		}

	case llmprovider.ThinkingStartEvent:
		if err := p.open("thinking", e.MessageID, ev); err != nil {
			return err
		}
		part := &llmprovider.ThinkingPart{}
		p.thinking[e.MessageID] = part
		p.msg.Parts = append(p.msg.Parts, part)

	case llmprovider.ThinkingDeltaEvent:
		if err := p.requireOpen("thinking", e.MessageID, ev); err != nil {
			return err
		}
		p.thinking[e.MessageID].Content += e.Delta

	case llmprovider.ThinkingEndEvent:
		if err := p.close("thinking", e.MessageID, ev); err != nil {
			return err
		}
		if e.Signature != "" {
			p.thinking[e.MessageID].Signature = e.Signature
		}

	case llmprovider.ToolCallStartEvent:
		return p.toolCallStart(e)

	case llmprovider.ToolCallArgsDeltaEvent:
		if err := p.requireOpen("tool", e.ToolCallID, ev); err != nil {
			return err
		}
		call := p.calls[e.ToolCallID]
		delta, err := resolveDelta(call.Arguments, e.Delta, e.AccumulatedArgs)
		if err != nil {
			return protocolErr(ev, e.ToolCallID, err.Error())
		}
		call.Arguments += delta

	case llmprovider.ToolCallEndEvent:
		return p.toolCallEnd(e)

	case llmprovider.CustomEvent:
		return p.custom(e)

	case llmprovider.RunFinishedEvent:
		p.finish()
		p.result.FinishReason = e.FinishReason
		if e.Usage != nil {
			u := *e.Usage
			p.result.Usage = &u
		}
		p.logger.Debug("run finished",
			"run_id", p.result.RunID,
			"finish_reason", e.FinishReason,
			"parts", len(p.msg.Parts),
		)

	case llmprovider.ErrorEvent:
		p.finish()
		p.result.FinishReason = llmprovider.FinishReasonError
		p.result.Err = &llmprovider.StreamError{Message: e.Message, Code: e.Code, Err: e.Err}
		p.logger.Debug("run failed", "run_id", p.result.RunID, "error", e.Message)

	default:
		return protocolErr(ev, "", fmt.Sprintf("unknown event %T", ev))
	}
	return nil
}

func (p *Processor) runStarted(e llmprovider.RunStartedEvent) error {
	if p.result.RunID != "" {
		return protocolErr(e, e.RunID, "run already started")
	}
	if e.RunID == "" {
		return protocolErr(e, "", "missing run ID")
	}
	p.result.RunID = e.RunID
	p.result.Model = e.Model
	if p.msg.ID == "" {
		p.msg.ID = e.RunID
	}
	return nil
}

func (p *Processor) toolCallStart(e llmprovider.ToolCallStartEvent) error {
	if e.ToolCallID == "" {
		return protocolErr(e, "", "missing tool call ID")
	}
	if err := p.open("tool", e.ToolCallID, e); err != nil {
		return err
	}
	call := &llmprovider.ToolCallPart{
		ID:    e.ToolCallID,
		Name:  e.ToolName,
		State: llmprovider.ToolStateInputStreaming,
	}
	p.calls[e.ToolCallID] = call
	p.msg.Parts = append(p.msg.Parts, call)
	return nil
}

func (p *Processor) toolCallEnd(e llmprovider.ToolCallEndEvent) error {
	if err := p.close("tool", e.ToolCallID, e); err != nil {
		return err
	}
	call := p.calls[e.ToolCallID]
	if call.Name == "" {
		call.Name = e.ToolName
	}

	input := e.Input
	if input == nil {
		parsed, err := llmprovider.ParseArguments(call.Arguments)
		if err != nil {
			p.logger.Debug("unparsable tool arguments", "tool_call_id", call.ID, "tool", call.Name, "error", err)
			call.ErrorText = fmt.Sprintf("invalid tool arguments: %v", err)
			return call.Transition(llmprovider.ToolStateOutputError)
		}
		input = parsed
	} else {
		input = llmprovider.CloneInput(input)
	}
	call.Input = input

	if err := call.Transition(llmprovider.ToolStateInputComplete); err != nil {
		return err
	}
	if e.Result != nil {
		output := *e.Result
		call.Output = &output
		return call.Transition(llmprovider.ToolStateOutputAvailable)
	}
	return nil
}

func (p *Processor) custom(e llmprovider.CustomEvent) error {
	if e.Name == llmprovider.CustomApprovalRequested {
		req, ok := approvalPayload(e.Payload)
		if !ok {
			return protocolErr(e, "", fmt.Sprintf("approval-requested payload has type %T", e.Payload))
		}
		call, ok := p.calls[req.ToolCallID]
		if !ok {
			return protocolErr(e, req.ToolCallID, "approval requested for unknown tool call")
		}
		if err := call.RequestApproval(req.ApprovalID); err != nil {
			return err
		}
	}
	p.result.Custom = append(p.result.Custom, e)
	return nil
}

// finish closes the turn: open spans are frozen and calls whose arguments
// never completed fail.
func (p *Processor) finish() {
	p.result.Finished = true
	p.freeze("tool call arguments were not completed")
}

// Abort ends a turn that will not receive a terminal event, such as a
// cancelled or malformed stream. Open parts are frozen and calls still
// receiving arguments fail with reason. Abort is a no-op once the turn has
// finished.
func (p *Processor) Abort(reason string) {
	if p.result.Finished || p.aborted {
		return
	}
	p.aborted = true
	p.freeze(reason)
}

func (p *Processor) freeze(reason string) {
	for key, state := range p.spans {
		if state == spanOpen {
			p.spans[key] = spanClosed
		}
	}
	for _, call := range p.msg.ToolCalls() {
		if call.State != llmprovider.ToolStateInputStreaming {
			continue
		}
		call.ErrorText = reason
		// input-streaming -> output-error is always allowed.
		_ = call.Transition(llmprovider.ToolStateOutputError)
	}
}

func (p *Processor) open(family, id string, ev llmprovider.StreamEvent) error {
	key := family + ":" + id
	if _, seen := p.spans[key]; seen {
		return protocolErr(ev, id, "duplicate start")
	}
	p.spans[key] = spanOpen
	return nil
}

func (p *Processor) requireOpen(family, id string, ev llmprovider.StreamEvent) error {
	switch p.spans[family+":"+id] {
	case spanOpen:
		return nil
	case spanClosed:
		return protocolErr(ev, id, "delta after end")
	default:
		return protocolErr(ev, id, "delta before start")
	}
}

func (p *Processor) close(family, id string, ev llmprovider.StreamEvent) error {
	key := family + ":" + id
	switch p.spans[key] {
	case spanOpen:
		p.spans[key] = spanClosed
		return nil
	case spanClosed:
		return protocolErr(ev, id, "duplicate end")
	default:
		return protocolErr(ev, id, "end before start")
	}
}

// resolveDelta returns the text to append. An explicit delta wins; otherwise
// the delta is derived from accumulated, which must extend current.
func resolveDelta(current, delta, accumulated string) (string, error) {
	if delta != "" || accumulated == "" {
		return delta, nil
	}
	if !strings.HasPrefix(accumulated, current) {
		return "", fmt.Errorf("accumulated content does not extend the current content")
	}
	return accumulated[len(current):], nil
}

func approvalPayload(payload any) (llmprovider.ApprovalRequest, bool) {
	switch v := payload.(type) {
	case llmprovider.ApprovalRequest:
		return v, true
	case *llmprovider.ApprovalRequest:
		if v != nil {
			return *v, true
		}
	}
	return llmprovider.ApprovalRequest{}, false
}

func protocolErr(ev llmprovider.StreamEvent, id, reason string) error {
	return &llmprovider.ProtocolError{Event: ev.EventType(), ID: id, Reason: reason}
}

// Fold drains events into a new processor over msg and returns the result.
// The turn must end with RunFinished or Error; a channel closed early is a
// protocol error unless ctx was cancelled, in which case ctx.Err() is
// returned. A StreamError reported by the provider is returned in Result.Err,
// not as the error.
func Fold(ctx context.Context, msg *llmprovider.Message, events <-chan llmprovider.StreamEvent, opts ...Option) (*Result, error) {
	p := New(msg, opts...)
	for {
		select {
		case <-ctx.Done():
			return p.Result(), ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return p.Result(), p.Close(ctx)
			}
			if err := p.Apply(ev); err != nil {
				return p.Result(), err
			}
		}
	}
}

// Close reports how the event channel ended: nil after a terminal event,
// ctx.Err() when the turn was cancelled, a protocol error otherwise.
func (p *Processor) Close(ctx context.Context) error {
	if p.result.Finished {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return &llmprovider.ProtocolError{Event: "close", Reason: "stream ended without run-finished"}
}
