package llmprovider

// ToolCallState is the lifecycle position of a tool call.
//
//	input-streaming -> input-complete -> [approval-requested -> approval-responded] -> executing -> output-available | output-error
//
// Calls without an approval gate go from input-complete straight to
// execution. A call whose definition has no Execute stays in input-complete
// until the caller supplies a result.
type ToolCallState string

const (
	ToolStateInputStreaming    ToolCallState = "input-streaming"
	ToolStateInputComplete     ToolCallState = "input-complete"
	ToolStateApprovalRequested ToolCallState = "approval-requested"
	ToolStateApprovalResponded ToolCallState = "approval-responded"
	ToolStateExecuting         ToolCallState = "executing"
	ToolStateOutputAvailable   ToolCallState = "output-available"
	ToolStateOutputError       ToolCallState = "output-error"
)

var toolStateTransitions = map[ToolCallState][]ToolCallState{
	ToolStateInputStreaming: {ToolStateInputComplete, ToolStateOutputError},
	ToolStateInputComplete: {
		ToolStateApprovalRequested,
		ToolStateExecuting,
		ToolStateOutputAvailable,
		ToolStateOutputError,
	},
	ToolStateApprovalRequested: {ToolStateApprovalResponded},
	ToolStateApprovalResponded: {ToolStateExecuting, ToolStateOutputAvailable, ToolStateOutputError},
	ToolStateExecuting:         {ToolStateOutputAvailable, ToolStateOutputError},
}

// CanTransition reports whether from -> to is an allowed edge.
func CanTransition(from, to ToolCallState) bool {
	for _, s := range toolStateTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition moves the call to a new state. States are never revisited; a
// denied call cannot proceed to execution or output.
func (p *ToolCallPart) Transition(to ToolCallState) error {
	if !CanTransition(p.State, to) {
		return &TransitionError{ToolCallID: p.ID, From: p.State, To: to, Err: ErrInvalidTransition}
	}
	if p.State == ToolStateApprovalResponded && p.Approval.IsDenied() {
		return &TransitionError{ToolCallID: p.ID, From: p.State, To: to, Err: ErrInvalidTransition}
	}
	p.State = to
	return nil
}

// IsTerminal reports whether the call can no longer change state.
func (p *ToolCallPart) IsTerminal() bool {
	switch p.State {
	case ToolStateOutputAvailable, ToolStateOutputError:
		return true
	case ToolStateApprovalResponded:
		return p.Approval.IsDenied()
	}
	return false
}
