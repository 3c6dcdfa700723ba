package llmprovider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// OutcomeKind classifies the result of dispatching one tool call.
type OutcomeKind string

const (
	OutcomeOutputAvailable     OutcomeKind = "output-available"
	OutcomeOutputError         OutcomeKind = "output-error"
	OutcomeAwaitingApproval    OutcomeKind = "awaiting-approval"
	OutcomeDenied              OutcomeKind = "denied"
	OutcomeAwaitingClientInput OutcomeKind = "awaiting-client-input"
)

// ToolOutcome is what Dispatch decided for a call. It is applied to the
// message list later, together with the rest of its batch.
type ToolOutcome struct {
	ToolCallID string
	ToolName   string
	Kind       OutcomeKind

	// Output is the stringified return value (output-available).
	Output string

	// ErrorText is the failure message (output-error).
	ErrorText string

	// ApprovalID identifies the approval request (awaiting-approval).
	ApprovalID string

	// Input is the parsed arguments the decision was made on.
	Input map[string]any

	// Executed is true when the tool's Execute ran.
	Executed bool
}

// Halts reports whether the loop must stop and wait for external input.
func (o ToolOutcome) Halts() bool {
	return o.Kind == OutcomeAwaitingApproval || o.Kind == OutcomeAwaitingClientInput
}

// HasResult reports whether the outcome produces a tool result for the model.
func (o ToolOutcome) HasResult() bool {
	return o.Kind == OutcomeOutputAvailable || o.Kind == OutcomeOutputError
}

// Dispatch decides what happens to one tool call and, when the call is
// executable, runs it. call is a snapshot: Dispatch never mutates shared
// message state, so calls from one turn can be dispatched concurrently.
//
// Resolution order:
//  1. unknown tool: output-error "Unknown tool: <name>"
//  2. approval required and not yet answered: awaiting-approval
//  3. approval denied: denied
//  4. client tool without Execute: awaiting-client-input
//  5. otherwise validate input and execute; errors become output-error
func Dispatch(ctx context.Context, call *ToolCallPart, registry *ToolRegistry) ToolOutcome {
	out := ToolOutcome{ToolCallID: call.ID, ToolName: call.Name}

	def, ok := registry.Lookup(call.Name)
	if !ok {
		out.Kind = OutcomeOutputError
		out.ErrorText = fmt.Sprintf("Unknown tool: %s", call.Name)
		return out
	}

	input := call.Input
	if input == nil {
		parsed, err := ParseArguments(call.Arguments)
		if err != nil {
			out.Kind = OutcomeOutputError
			out.ErrorText = fmt.Sprintf("invalid tool arguments: %v", err)
			return out
		}
		input = parsed
	}
	out.Input = input

	if def.NeedsApproval {
		switch {
		case call.Approval == nil || call.Approval.Approved == nil:
			out.Kind = OutcomeAwaitingApproval
			out.ApprovalID = uuid.NewString()
			if call.Approval != nil && call.Approval.ID != "" {
				out.ApprovalID = call.Approval.ID
			}
			return out
		case !*call.Approval.Approved:
			out.Kind = OutcomeDenied
			return out
		}
	}

	if def.Execute == nil {
		out.Kind = OutcomeAwaitingClientInput
		return out
	}

	if err := def.ValidateInput(input); err != nil {
		out.Kind = OutcomeOutputError
		out.ErrorText = err.Error()
		return out
	}

	result, err := execute(ctx, def, input)
	out.Executed = true
	if err != nil {
		out.Kind = OutcomeOutputError
		out.ErrorText = err.Error()
		return out
	}
	out.Kind = OutcomeOutputAvailable
	out.Output = result
	return out
}

func execute(ctx context.Context, def *ToolDefinition, input map[string]any) (output string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool %s panicked: %v", def.Name, r)
		}
	}()

	value, err := def.Execute(ctx, input)
	if err != nil {
		return "", err
	}
	return StringifyToolOutput(value)
}

// StringifyToolOutput returns strings unchanged and JSON-encodes anything else.
func StringifyToolOutput(value any) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case nil:
		return "null", nil
	case json.RawMessage:
		return string(v), nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("encode tool output: %w", err)
	}
	return string(raw), nil
}

// ToolErrorContent renders an error message as the JSON object sent to the
// model in place of a result.
func ToolErrorContent(errorText string) string {
	raw, _ := json.Marshal(map[string]string{"error": errorText})
	return string(raw)
}

// ApplyToolOutcomes commits a batch of outcomes to the history: each call's
// state and output are updated, and the produced results are written as one
// tool message per assistant message, placed after that message and any tool
// messages already following it. For calls on the last assistant message this
// appends. The returned slice may share backing storage with messages.
func ApplyToolOutcomes(messages []Message, outcomes []ToolOutcome) ([]Message, error) {
	results := make(map[int][]Part)
	var errs []error

	for _, o := range outcomes {
		call, idx := FindToolCall(messages, o.ToolCallID)
		if call == nil {
			errs = append(errs, fmt.Errorf("%w: %s", ErrToolCallNotFound, o.ToolCallID))
			continue
		}

		switch o.Kind {
		case OutcomeOutputAvailable, OutcomeOutputError:
			// A call resolved while streaming keeps its recorded result.
			if !call.HasResult() {
				if err := call.complete(o); err != nil {
					errs = append(errs, err)
					continue
				}
			}
			results[idx] = append(results[idx], call.ResultPart())

		case OutcomeAwaitingApproval:
			if err := call.RequestApproval(o.ApprovalID); err != nil {
				errs = append(errs, err)
			}

		case OutcomeDenied, OutcomeAwaitingClientInput:
			// No state change: a denied call is already approval-responded,
			// a client call stays input-complete until its result arrives.
		}
	}

	// Latest call message first so earlier insertion points stay valid.
	owners := make([]int, 0, len(results))
	for idx := range results {
		owners = append(owners, idx)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(owners)))
	for _, idx := range owners {
		messages = insertToolResults(messages, idx, results[idx])
	}
	return messages, errors.Join(errs...)
}

// insertToolResults adds a tool message carrying parts after the assistant
// message at idx and the tool messages that already answer it. A result that
// arrives after the user moved on therefore still directly follows its call.
func insertToolResults(messages []Message, idx int, parts []Part) []Message {
	at := idx + 1
	for at < len(messages) && messages[at].Role == RoleTool {
		at++
	}
	msg := NewMessage(RoleTool, parts...)
	if at == len(messages) {
		return append(messages, msg)
	}
	out := make([]Message, 0, len(messages)+1)
	out = append(out, messages[:at]...)
	out = append(out, msg)
	return append(out, messages[at:]...)
}

// complete records a result on the call, passing through executing when the
// tool actually ran.
func (p *ToolCallPart) complete(o ToolOutcome) error {
	to := ToolStateOutputAvailable
	if o.Kind == OutcomeOutputError {
		to = ToolStateOutputError
	}

	if o.Executed || !CanTransition(p.State, to) {
		if p.State != ToolStateExecuting {
			if err := p.Transition(ToolStateExecuting); err != nil {
				return err
			}
		}
	}
	if err := p.Transition(to); err != nil {
		return err
	}

	if o.Kind == OutcomeOutputAvailable {
		output := o.Output
		p.Output = &output
		p.ErrorText = ""
	} else {
		p.ErrorText = o.ErrorText
	}
	if o.Input != nil && p.Input == nil {
		p.Input = o.Input
	}
	return nil
}

// ResultPart renders the call's recorded result as a ToolResultPart.
func (p *ToolCallPart) ResultPart() *ToolResultPart {
	if p.State == ToolStateOutputError {
		return &ToolResultPart{
			ToolCallID: p.ID,
			ToolName:   p.Name,
			Content:    ToolErrorContent(p.ErrorText),
			IsError:    true,
		}
	}
	var content string
	if p.Output != nil {
		content = *p.Output
	}
	return &ToolResultPart{ToolCallID: p.ID, ToolName: p.Name, Content: content}
}

// RequestApproval moves the call into approval-requested. Repeating the
// request with the same approval ID is a no-op.
func (p *ToolCallPart) RequestApproval(approvalID string) error {
	if p.State == ToolStateApprovalRequested && p.Approval != nil && p.Approval.ID == approvalID {
		return nil
	}
	if err := p.Transition(ToolStateApprovalRequested); err != nil {
		return err
	}
	p.Approval = &Approval{ID: approvalID, NeedsApproval: true}
	return nil
}

// RespondToApproval records an approval decision on the call holding
// approvalID and returns it.
func RespondToApproval(messages []Message, approvalID string, approved bool) (*ToolCallPart, error) {
	for i := len(messages) - 1; i >= 0; i-- {
		for _, call := range messages[i].ToolCalls() {
			if call.Approval == nil || call.Approval.ID != approvalID {
				continue
			}
			if call.State != ToolStateApprovalRequested {
				return nil, fmt.Errorf("%w: approval %s already answered", ErrApprovalNotFound, approvalID)
			}
			if err := call.Transition(ToolStateApprovalResponded); err != nil {
				return nil, err
			}
			call.Approval.Approved = &approved
			return call, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrApprovalNotFound, approvalID)
}

// OutcomeOf describes a call that already carries a result, such as an
// inline replay result or arguments that never parsed.
func OutcomeOf(call *ToolCallPart) ToolOutcome {
	o := ToolOutcome{ToolCallID: call.ID, ToolName: call.Name, Input: call.Input}
	switch call.State {
	case ToolStateOutputAvailable:
		o.Kind = OutcomeOutputAvailable
		if call.Output != nil {
			o.Output = *call.Output
		}
	case ToolStateOutputError:
		o.Kind = OutcomeOutputError
		o.ErrorText = call.ErrorText
	}
	return o
}

// ToolResult is a result supplied out-of-band for a client tool.
// Exactly one of Output and ErrorText is meaningful; a non-empty ErrorText
// marks the call as failed.
type ToolResult struct {
	ToolCallID string
	Output     any
	ErrorText  string
}

// AddToolResult records a client-supplied result and appends it as a tool
// message.
func AddToolResult(messages []Message, result ToolResult) ([]Message, error) {
	call, _ := FindToolCall(messages, result.ToolCallID)
	if call == nil {
		return messages, fmt.Errorf("%w: %s", ErrToolCallNotFound, result.ToolCallID)
	}
	if call.HasResult() {
		return messages, fmt.Errorf("tool call %s already has a result", result.ToolCallID)
	}

	o := ToolOutcome{ToolCallID: call.ID, ToolName: call.Name, Kind: OutcomeOutputAvailable}
	if result.ErrorText != "" {
		o.Kind = OutcomeOutputError
		o.ErrorText = result.ErrorText
	} else {
		output, err := StringifyToolOutput(result.Output)
		if err != nil {
			return messages, err
		}
		o.Output = output
	}
	return ApplyToolOutcomes(messages, []ToolOutcome{o})
}

// ReadyToolCalls returns the calls on msg that the dispatcher should look at:
// input-complete calls and approved calls that have not produced a result.
func ReadyToolCalls(msg *Message) []*ToolCallPart {
	var ready []*ToolCallPart
	for _, call := range msg.ToolCalls() {
		switch call.State {
		case ToolStateInputComplete:
			ready = append(ready, call)
		case ToolStateApprovalResponded:
			if !call.Approval.IsDenied() {
				ready = append(ready, call)
			}
		}
	}
	return ready
}

// ToolCallsSettled reports whether the last assistant message carries tool
// calls and none of them is still waiting on the caller. Answered approvals
// count as settled: approved calls run at the start of the next run, denied
// calls are resolved without a result.
func ToolCallsSettled(messages []Message) bool {
	idx := LastAssistantMessage(messages)
	if idx < 0 {
		return false
	}
	calls := messages[idx].ToolCalls()
	if len(calls) == 0 {
		return false
	}
	for _, call := range calls {
		if call.IsResolved() || call.State == ToolStateApprovalResponded {
			continue
		}
		return false
	}
	return true
}
