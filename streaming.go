package llmprovider

// StreamEvent is one unit of canonical model output.
//
// Every provider adapter emits these and every consumer understands them.
// For a given MessageID or ToolCallID events arrive as Start, zero or more
// Deltas, then End. RunFinishedEvent is terminal and appears at most once per
// run; ErrorEvent may appear at any point and is terminal too.
//
// The set of implementations is closed; switch on the concrete type:
//
//	for ev := range events {
//	  switch e := ev.(type) {
//	  case llmprovider.TextDeltaEvent:
//	    fmt.Print(e.Delta)
//	  case llmprovider.RunFinishedEvent:
//	    ...
//	  }
//	}
type StreamEvent interface {
	// EventType returns the wire name of the event.
	EventType() string

	isStreamEvent()
}

// Event type names
const (
	EventRunStarted        = "run-started"
	EventTextStart         = "text-start"
	EventTextDelta         = "text-delta"
	EventTextEnd           = "text-end"
	EventThinkingStart     = "thinking-start"
	EventThinkingDelta     = "thinking-delta"
	EventThinkingEnd       = "thinking-end"
	EventToolCallStart     = "tool-call-start"
	EventToolCallArgsDelta = "tool-call-args-delta"
	EventToolCallEnd       = "tool-call-end"
	EventCustom            = "custom"
	EventRunFinished       = "run-finished"
	EventError             = "error"
)

// Custom event names
const (
	CustomApprovalRequested  = "approval-requested"
	CustomToolInputAvailable = "tool-input-available"
	CustomToolResults        = "tool-results"
)

// RunStartedEvent opens a model turn. RunID doubles as the ID of the
// assistant message the turn produces.
type RunStartedEvent struct {
	RunID string
	Model string
}

type TextStartEvent struct {
	MessageID string
}

// TextDeltaEvent appends Delta to the open text part. Accumulated, when set,
// is the full text so far.
type TextDeltaEvent struct {
	MessageID   string
	Delta       string
	Accumulated string
}

type TextEndEvent struct {
	MessageID string
}

type ThinkingStartEvent struct {
	MessageID string
}

type ThinkingDeltaEvent struct {
	MessageID string
	Delta     string
}

// ThinkingEndEvent closes the reasoning part. Signature is only sent by
// providers that sign their reasoning.
type ThinkingEndEvent struct {
	MessageID string
	Signature string
}

type ToolCallStartEvent struct {
	ToolCallID string
	ToolName   string
}

// ToolCallArgsDeltaEvent carries a raw fragment of the argument JSON.
type ToolCallArgsDeltaEvent struct {
	ToolCallID      string
	Delta           string
	AccumulatedArgs string
}

// ToolCallEndEvent completes a tool call. Input, when non-nil, is the
// already-parsed argument object and takes precedence over the accumulated
// raw text. Result is set when the outcome is already known (replay).
type ToolCallEndEvent struct {
	ToolCallID string
	ToolName   string
	Input      map[string]any
	Result     *string
}

// CustomEvent carries side-channel signals outside the streaming grammar.
type CustomEvent struct {
	Name    string
	Payload any
}

// RunFinishedEvent closes the turn.
type RunFinishedEvent struct {
	FinishReason FinishReason
	Usage        *Usage
}

// ErrorEvent terminates the turn. Err holds the underlying error when the
// producer has one.
type ErrorEvent struct {
	Message string
	Code    string
	Err     error
}

func (RunStartedEvent) EventType() string        { return EventRunStarted }
func (TextStartEvent) EventType() string         { return EventTextStart }
func (TextDeltaEvent) EventType() string         { return EventTextDelta }
func (TextEndEvent) EventType() string           { return EventTextEnd }
func (ThinkingStartEvent) EventType() string     { return EventThinkingStart }
func (ThinkingDeltaEvent) EventType() string     { return EventThinkingDelta }
func (ThinkingEndEvent) EventType() string       { return EventThinkingEnd }
func (ToolCallStartEvent) EventType() string     { return EventToolCallStart }
func (ToolCallArgsDeltaEvent) EventType() string { return EventToolCallArgsDelta }
func (ToolCallEndEvent) EventType() string       { return EventToolCallEnd }
func (CustomEvent) EventType() string            { return EventCustom }
func (RunFinishedEvent) EventType() string       { return EventRunFinished }
func (ErrorEvent) EventType() string             { return EventError }

func (RunStartedEvent) isStreamEvent()        {}
func (TextStartEvent) isStreamEvent()         {}
func (TextDeltaEvent) isStreamEvent()         {}
func (TextEndEvent) isStreamEvent()           {}
func (ThinkingStartEvent) isStreamEvent()     {}
func (ThinkingDeltaEvent) isStreamEvent()     {}
func (ThinkingEndEvent) isStreamEvent()       {}
func (ToolCallStartEvent) isStreamEvent()     {}
func (ToolCallArgsDeltaEvent) isStreamEvent() {}
func (ToolCallEndEvent) isStreamEvent()       {}
func (CustomEvent) isStreamEvent()            {}
func (RunFinishedEvent) isStreamEvent()       {}
func (ErrorEvent) isStreamEvent()             {}

// NewErrorEvent wraps err in an ErrorEvent.
func NewErrorEvent(err error) ErrorEvent {
	ev := ErrorEvent{Message: err.Error(), Err: err}
	if pe, ok := AsProviderError(err); ok && pe.StatusCode > 0 {
		ev.Code = pe.Code()
	}
	return ev
}

// IsTerminalEvent reports whether ev ends a run.
func IsTerminalEvent(ev StreamEvent) bool {
	switch ev.(type) {
	case RunFinishedEvent, ErrorEvent:
		return true
	}
	return false
}

// FinishReason says why a model turn stopped.
type FinishReason string

const (
	FinishReasonStop          FinishReason = "stop"
	FinishReasonLength        FinishReason = "length"
	FinishReasonToolCalls     FinishReason = "tool_calls"
	FinishReasonContentFilter FinishReason = "content_filter"
	FinishReasonError         FinishReason = "error"
	FinishReasonCancelled     FinishReason = "cancelled"
)

// IsTerminal reports whether the reason is a natural end of the turn (as
// opposed to a hand-off to tool execution).
func (r FinishReason) IsTerminal() bool {
	return r == FinishReasonStop || r == FinishReasonLength
}

// ApprovalRequest is the payload of an approval-requested custom event.
type ApprovalRequest struct {
	ApprovalID string
	ToolCallID string
	ToolName   string
	Input      map[string]any
}

// ToolInputAvailable is the payload of a tool-input-available custom event:
// a client tool is ready and the caller must supply its result.
type ToolInputAvailable struct {
	ToolCallID string
	ToolName   string
	Input      map[string]any
}

// ToolResultsBatch is the payload of a tool-results custom event, emitted
// once per committed batch of dispatch outcomes.
type ToolResultsBatch struct {
	Outcomes []ToolOutcome
}
