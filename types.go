package llmprovider

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool" // Synthesized batch of tool results
)

// Part type constants
const (
	PartTypeText       = "text"
	PartTypeThinking   = "thinking" // Extended thinking / reasoning
	PartTypeImage      = "image"
	PartTypeToolCall   = "tool_call"
	PartTypeToolResult = "tool_result" // Result of a tool call, sent back to the model
)

// Message is one entry of the conversation history.
//
// Assistant messages are built by folding canonical stream events; user,
// system and tool messages are appended by the caller or synthesized by the
// dispatcher when it commits a batch of tool results.
type Message struct {
	ID        string         `json:"id"`
	Role      Role           `json:"role"`
	Parts     []Part         `json:"parts"`
	CreatedAt time.Time      `json:"created_at"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Part is one content element of a message.
//
// The set of implementations is closed: *TextPart, *ThinkingPart, *ImagePart,
// *ToolCallPart and *ToolResultPart.
type Part interface {
	// Type returns one of the PartType constants.
	Type() string

	// Clone returns a deep copy of the part.
	Clone() Part

	isPart()
}

// TextPart holds plain assistant or user text.
type TextPart struct {
	Content string `json:"content"`
}

// ThinkingPart holds reasoning text emitted before the visible answer.
// Signature is the provider's verification token, when it sends one.
type ThinkingPart struct {
	Content   string `json:"content"`
	Signature string `json:"signature,omitempty"`
}

// ImageSource locates image data either by URL or inline base64.
type ImageSource struct {
	URL       string `json:"url,omitempty"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"` // base64
}

// ImagePart is a user-supplied image.
type ImagePart struct {
	Source ImageSource `json:"source"`
}

// Approval records the human gate on a tool call. Approved is nil while the
// request is pending.
type Approval struct {
	ID            string `json:"id"`
	NeedsApproval bool   `json:"needs_approval"`
	Approved      *bool  `json:"approved,omitempty"`
}

// IsPending reports whether the approval has not been answered yet.
func (a *Approval) IsPending() bool {
	return a != nil && a.Approved == nil
}

// IsDenied reports whether the approval was explicitly refused.
func (a *Approval) IsDenied() bool {
	return a != nil && a.Approved != nil && !*a.Approved
}

// ToolCallPart is a model-issued request to invoke a tool.
//
// Arguments accumulates the raw JSON text while the call streams in and is
// never assumed valid until the call reaches input-complete, at which point
// Input holds the parsed value.
type ToolCallPart struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Arguments     string         `json:"arguments"`
	Input         map[string]any `json:"input,omitempty"`
	State         ToolCallState  `json:"state"`
	Output        *string        `json:"output,omitempty"`
	ErrorText     string         `json:"error_text,omitempty"`
	Approval      *Approval      `json:"approval,omitempty"`
	ExecutionSide ExecutionSide  `json:"execution_side,omitempty"`
}

// ToolResultPart carries the outcome of a tool call back to the model.
// For failed calls Content is a JSON object of the form {"error": "..."}.
type ToolResultPart struct {
	ToolCallID string `json:"tool_call_id"`
	ToolName   string `json:"tool_name,omitempty"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

func (*TextPart) Type() string       { return PartTypeText }
func (*ThinkingPart) Type() string   { return PartTypeThinking }
func (*ImagePart) Type() string      { return PartTypeImage }
func (*ToolCallPart) Type() string   { return PartTypeToolCall }
func (*ToolResultPart) Type() string { return PartTypeToolResult }

func (*TextPart) isPart()       {}
func (*ThinkingPart) isPart()   {}
func (*ImagePart) isPart()      {}
func (*ToolCallPart) isPart()   {}
func (*ToolResultPart) isPart() {}

func (p *TextPart) Clone() Part {
	c := *p
	return &c
}

func (p *ThinkingPart) Clone() Part {
	c := *p
	return &c
}

func (p *ImagePart) Clone() Part {
	c := *p
	return &c
}

func (p *ToolResultPart) Clone() Part {
	c := *p
	return &c
}

func (p *ToolCallPart) Clone() Part {
	c := *p
	if p.Input != nil {
		c.Input = cloneMap(p.Input)
	}
	if p.Output != nil {
		out := *p.Output
		c.Output = &out
	}
	if p.Approval != nil {
		a := *p.Approval
		if p.Approval.Approved != nil {
			approved := *p.Approval.Approved
			a.Approved = &approved
		}
		c.Approval = &a
	}
	return &c
}

// HasResult reports whether the call already carries an output or an error.
func (p *ToolCallPart) HasResult() bool {
	return p.State == ToolStateOutputAvailable || p.State == ToolStateOutputError
}

// IsResolved reports whether nothing more is expected for this call: it has a
// result, or its approval was answered with a denial.
func (p *ToolCallPart) IsResolved() bool {
	return p.HasResult() || (p.State == ToolStateApprovalResponded && p.Approval.IsDenied())
}

// ParseArguments decodes the raw argument text. Empty arguments decode to an
// empty object.
func ParseArguments(raw string) (map[string]any, error) {
	if raw == "" {
		return map[string]any{}, nil
	}
	var input map[string]any
	if err := json.Unmarshal([]byte(raw), &input); err != nil {
		return nil, err
	}
	if input == nil {
		input = map[string]any{}
	}
	return input, nil
}

// NewMessage creates a message with a fresh ID.
func NewMessage(role Role, parts ...Part) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Parts:     parts,
		CreatedAt: time.Now(),
	}
}

// NewUserMessage creates a user message holding a single text part.
func NewUserMessage(text string) Message {
	return NewMessage(RoleUser, &TextPart{Content: text})
}

// NewSystemMessage creates a system message holding a single text part.
func NewSystemMessage(text string) Message {
	return NewMessage(RoleSystem, &TextPart{Content: text})
}

// Clone returns a deep copy of the message.
func (m Message) Clone() Message {
	c := m
	if m.Parts != nil {
		c.Parts = make([]Part, len(m.Parts))
		for i, p := range m.Parts {
			c.Parts[i] = p.Clone()
		}
	}
	if m.Metadata != nil {
		c.Metadata = cloneMap(m.Metadata)
	}
	return c
}

// CloneMessages deep-copies a message list.
func CloneMessages(messages []Message) []Message {
	if messages == nil {
		return nil
	}
	out := make([]Message, len(messages))
	for i, m := range messages {
		out[i] = m.Clone()
	}
	return out
}

// Text returns the concatenated content of all text parts.
func (m *Message) Text() string {
	var s string
	for _, p := range m.Parts {
		if t, ok := p.(*TextPart); ok {
			s += t.Content
		}
	}
	return s
}

// HasText reports whether any text part carries non-empty content.
func (m *Message) HasText() bool {
	for _, p := range m.Parts {
		if t, ok := p.(*TextPart); ok && t.Content != "" {
			return true
		}
	}
	return false
}

// ToolCalls returns the tool call parts of the message in order.
func (m *Message) ToolCalls() []*ToolCallPart {
	var calls []*ToolCallPart
	for _, p := range m.Parts {
		if tc, ok := p.(*ToolCallPart); ok {
			calls = append(calls, tc)
		}
	}
	return calls
}

// ToolCall returns the tool call with the given ID, or nil.
func (m *Message) ToolCall(id string) *ToolCallPart {
	for _, p := range m.Parts {
		if tc, ok := p.(*ToolCallPart); ok && tc.ID == id {
			return tc
		}
	}
	return nil
}

// ToolResults returns the tool result parts of the message in order.
func (m *Message) ToolResults() []*ToolResultPart {
	var results []*ToolResultPart
	for _, p := range m.Parts {
		if tr, ok := p.(*ToolResultPart); ok {
			results = append(results, tr)
		}
	}
	return results
}

// IsEmpty reports whether the message has no meaningful content.
// Empty text and thinking parts do not count as content.
func (m *Message) IsEmpty() bool {
	for _, p := range m.Parts {
		switch v := p.(type) {
		case *TextPart:
			if v.Content != "" {
				return false
			}
		case *ThinkingPart:
			if v.Content != "" {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// LastAssistantMessage returns the index of the last assistant message, or -1.
func LastAssistantMessage(messages []Message) int {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleAssistant {
			return i
		}
	}
	return -1
}

// FindToolCall locates a tool call anywhere in the history, searching from the
// most recent message backwards.
func FindToolCall(messages []Message, toolCallID string) (*ToolCallPart, int) {
	for i := len(messages) - 1; i >= 0; i-- {
		if tc := messages[i].ToolCall(toolCallID); tc != nil {
			return tc, i
		}
	}
	return nil, -1
}

// CloneInput deep-copies a parsed tool input.
func CloneInput(input map[string]any) map[string]any {
	if input == nil {
		return nil
	}
	return cloneMap(input)
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		s := make([]any, len(t))
		for i, e := range t {
			s[i] = cloneValue(e)
		}
		return s
	default:
		return v
	}
}
